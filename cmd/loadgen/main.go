package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/illmade-knight/httpuploader/pkg/config"
	"github.com/illmade-knight/httpuploader/pkg/helpers/loadgen"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	configFile := flag.String("c", "", "Optional YAML configuration file; environment variables override it.")
	numDevices := flag.Int("devices", 5, "Number of simulated devices.")
	rate := flag.Float64("rate", 1, "Messages per second per device.")
	duration := flag.Duration("duration", time.Minute, "How long to publish for.")
	topic := flag.String("topic", "", "Topic to publish to; defaults to the configured telemetry topic. A '+' is replaced by the device ID.")
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

	if *topic == "" {
		*topic = cfg.TelemetryTopic
	}
	if *topic == "" {
		log.Fatal().Msg("No topic: pass -topic or set TELEMETRY_TOPIC")
	}

	bus, err := cfg.NewBus(log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create message bus client")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	devices := loadgen.NewDevices(*numDevices, *rate, loadgen.NewTelemetryGenerator())
	lg := loadgen.NewLoadGenerator(bus, *topic, devices, log.Logger)

	count, err := lg.Run(ctx, *duration)
	if err != nil {
		log.Fatal().Err(err).Msg("Load generator failed")
	}
	log.Info().Int("published", count).Msg("Load generation complete")
}
