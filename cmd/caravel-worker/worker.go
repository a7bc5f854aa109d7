package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caravel-hq/caravel/pkg/conditions"
	"github.com/caravel-hq/caravel/pkg/engine"
	"github.com/caravel-hq/caravel/pkg/eventbus"
	"github.com/caravel-hq/caravel/pkg/events"
	"github.com/caravel-hq/caravel/pkg/persistence"
	"github.com/caravel-hq/caravel/pkg/registry"
	"github.com/caravel-hq/caravel/pkg/scheduler"
)

const defaultReloadInterval = time.Minute

// Worker runs the cron scheduler against the workflow store and records
// every execution lifecycle event it sees on the bus.
type Worker struct {
	workerID       string
	persistence    persistence.Persistence
	registry       *registry.Registry
	eventBus       eventbus.EventBus
	logger         *slog.Logger
	reloadInterval time.Duration
}

func NewWorker(
	workerID string,
	persist persistence.Persistence,
	reg *registry.Registry,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
	reloadInterval time.Duration,
) *Worker {
	if reloadInterval <= 0 {
		reloadInterval = defaultReloadInterval
	}

	return &Worker{
		workerID:       workerID,
		persistence:    persist,
		registry:       reg,
		eventBus:       eventBus,
		logger:         logger,
		reloadInterval: reloadInterval,
	}
}

// Run starts the scheduler and the event audit trail, then blocks until the
// context is cancelled or a termination signal arrives.
func (w *Worker) Run(ctx context.Context) error {
	eng := engine.New(w.persistence, w.registry, conditions.NewEvaluator(), w.logger,
		engine.WithEventBus(w.eventBus))

	if err := w.registerAuditHandlers(); err != nil {
		return fmt.Errorf("failed to register event handlers: %w", err)
	}

	subscribeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := w.eventBus.Subscribe(subscribeCtx); err != nil {
			w.logger.ErrorContext(subscribeCtx, "Event subscription ended", "error", err)
		}
	}()

	sched := scheduler.New(w.persistence.WorkflowRepository(), eng, w.logger)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	w.logger.InfoContext(ctx, "Caravel Worker started", "reload_interval", w.reloadInterval)

	ticker := time.NewTicker(w.reloadInterval)
	defer ticker.Stop()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	for {
		select {
		case <-ticker.C:
			count, err := sched.Reload(ctx)
			if err != nil {
				w.logger.ErrorContext(ctx, "Schedule reload failed", "error", err)

				continue
			}

			w.logger.DebugContext(ctx, "Schedules reconciled", "scheduled", count)
		case sig := <-signals:
			w.logger.InfoContext(ctx, "Shutting down", "signal", sig.String())

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer stopCancel()

			return sched.Stop(stopCtx)
		case <-ctx.Done():
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer stopCancel()

			return sched.Stop(stopCtx)
		}
	}
}

// registerAuditHandlers logs every lifecycle event published on the bus,
// giving operators one trail across all API and worker instances.
func (w *Worker) registerAuditHandlers() error {
	for _, eventType := range []events.EventType{
		events.ExecutionStartedEvent,
		events.ExecutionPausedEvent,
		events.ExecutionResumedEvent,
		events.ExecutionCompletedEvent,
		events.ExecutionFailedEvent,
		events.ExecutionCancelledEvent,
		events.NodeFinishedEvent,
		events.NodeFailedEvent,
	} {
		registered := eventType

		err := w.eventBus.Handle(registered, func(ctx context.Context, event any) error {
			w.logger.InfoContext(ctx, "Execution event",
				"event_type", registered,
				"event", event,
			)

			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}
