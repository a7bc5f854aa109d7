package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/caravel-hq/caravel/pkg/persistence"
	"github.com/caravel-hq/caravel/pkg/persistence/file"
	"github.com/caravel-hq/caravel/pkg/persistence/postgres"
	"github.com/caravel-hq/caravel/pkg/persistence/redis"
)

// NewPersistence creates a store from a database URL. The scheme selects the
// backend: postgres://, redis:// or file:// (a bare path is treated as a
// file root).
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		persist, err := postgres.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create postgres persistence: %w", err))
		}

		return persist
	case strings.HasPrefix(databaseURL, "redis://"):
		persist, err := redis.NewPersistence(ctx, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create redis persistence: %w", err))
		}

		return persist
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://"))
	}
}
