package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/caravel-hq/caravel/pkg/channels/gochannel"
	"github.com/caravel-hq/caravel/pkg/channels/kafka"
	"github.com/caravel-hq/caravel/pkg/eventbus"
)

// NewEventBus creates an event bus for the given provider. "kafka" publishes
// over the brokers in KAFKA_BROKERS; "memory" (the default) is an in-process
// channel for single-binary deployments.
func NewEventBus(provider string, logger *slog.Logger) eventbus.EventBus {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, "caravel")
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	case "memory", "":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			panic(fmt.Errorf("failed to create in-memory pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	default:
		panic("Unsupported event bus provider: " + provider)
	}
}
