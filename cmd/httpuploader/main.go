package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/illmade-knight/httpuploader/pkg/bridge"
	"github.com/illmade-knight/httpuploader/pkg/config"
	"github.com/illmade-knight/httpuploader/pkg/httpsink"
	"github.com/illmade-knight/httpuploader/pkg/messagebus"
	"github.com/illmade-knight/httpuploader/pkg/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	configFile := flag.String("c", "", "Optional YAML configuration file; environment variables override it.")
	mqttConfigFile := flag.String("mqtt-config", "", "Optional JSON file with MQTT client settings; overrides the MQTT section of the configuration.")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	zerolog.SetGlobalLevel(cfg.Level())
	if *mqttConfigFile != "" {
		if err := cfg.ApplyMQTTFile(*mqttConfigFile); err != nil {
			log.Fatal().Err(err).Msg("Failed to load MQTT configuration file")
		}
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("bus", cfg.BusKind).
		Str("topic", cfg.TelemetryTopic).
		Str("webhook", cfg.Webhook.URL).
		Bool("debug", cfg.Debug).
		Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus, err := cfg.NewBus(log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create message bus client")
	}
	defer bus.Disconnect()

	sink := httpsink.New(log.Logger)
	b, err := bridge.New(cfg.BridgeConfig(), bus, sink, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create bridge")
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr, b.Started, log.Logger)
		g.Go(func() error { return srv.Serve(gctx) })
	}

	if err := b.Start(gctx); err != nil {
		var connectErr *messagebus.ConnectError
		if errors.As(err, &connectErr) {
			log.Error().Err(err).Str("broker", connectErr.Broker).Msg("Could not connect to message broker")
		} else if !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Bridge failed to start")
		}
		stop()
		_ = g.Wait()
		bus.Disconnect()
		os.Exit(1)
	}

	g.Go(func() error { return b.Run(gctx) })

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Service exited with error")
		bus.Disconnect()
		os.Exit(1)
	}
	log.Info().Msg("Shutdown complete.")
}
