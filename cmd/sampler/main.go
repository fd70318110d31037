package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/illmade-knight/httpuploader/pkg/config"
	"github.com/illmade-knight/httpuploader/pkg/sampler"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	numMessages := flag.Int("n", 10, "Number of messages to capture before exiting.")
	outputFile := flag.String("o", "samples.json", "Output file to save the captured messages.")
	configFile := flag.String("c", "", "Optional YAML configuration file; environment variables override it.")
	topic := flag.String("topic", "", "Topic to sample; defaults to the configured telemetry topic.")
	mqttConfigFile := flag.String("mqtt-config", "", "Optional JSON file with MQTT client settings; overrides the MQTT section of the configuration.")
	flag.Parse()

	if *numMessages < 1 {
		log.Fatal().Int("n", *numMessages).Msg("The number of messages to capture must be at least 1")
	}

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

	bus, err := cfg.NewBus(log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create message bus client")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := sampler.NewSampler(bus, *topic, *numMessages, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create sampler")
	}
	if err := s.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Sampler execution failed")
	}

	messages := s.Messages()
	if len(messages) == 0 {
		log.Warn().Msg("No messages were captured. The output file will not be created.")
		return
	}

	file, err := os.Create(*outputFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", *outputFile).Msg("Could not create output file")
	}
	defer file.Close()
	if err := sampler.WriteJSON(file, messages); err != nil {
		log.Error().Err(err).Str("file", *outputFile).Msg("Failed to write messages to file")
		return
	}
	log.Info().Str("file", *outputFile).Int("message_count", len(messages)).Msg("Successfully saved captured messages.")
}
