// Package cmd provides common initialization functions for the binaries.
package cmd

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/caravel-hq/caravel/pkg/handlers/ai"
	"github.com/caravel-hq/caravel/pkg/handlers/automation"
	"github.com/caravel-hq/caravel/pkg/handlers/document"
	"github.com/caravel-hq/caravel/pkg/handlers/notification"
	"github.com/caravel-hq/caravel/pkg/handlers/webhook"
	"github.com/caravel-hq/caravel/pkg/notify"
	"github.com/caravel-hq/caravel/pkg/protocol"
	"github.com/caravel-hq/caravel/pkg/registry"
)

const handlerHTTPTimeout = 30 * time.Second

// NewRegistry creates a registry with the native node handlers. The AI task
// handler is registered only when a decider is configured; without one,
// executions reaching a task_ai node fail at dispatch with a node type not
// registered error.
func NewRegistry(logger *slog.Logger, decider protocol.TaskDecider) *registry.Registry {
	reg := registry.NewRegistry(logger)

	client := &http.Client{Timeout: handlerHTTPTimeout}

	reg.Register(automation.NewFactory(client))
	reg.Register(webhook.NewFactory(client))
	reg.Register(document.NewFactory())
	reg.Register(notification.NewFactory(notify.NewSlogChannel(logger)))

	if decider != nil {
		reg.Register(ai.NewFactory(decider))
	}

	return reg
}
