// Package notification provides the notification node handler. Delivery is
// fire-and-forget: a failed send is logged and the node still completes,
// unless the node is explicitly marked required.
package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/caravel-hq/caravel/pkg/models"
	"github.com/caravel-hq/caravel/pkg/protocol"
)

// Handler executes one notification node.
type Handler struct {
	payload models.NotificationPayload
	channel protocol.NotificationChannel
}

// NewHandler creates a handler from a parsed notification payload.
func NewHandler(payload models.NotificationPayload, channel protocol.NotificationChannel) *Handler {
	return &Handler{payload: payload, channel: channel}
}

// Execute sends the message over the configured channel.
func (h *Handler) Execute(ctx context.Context, nodeCtx protocol.NodeContext, logger *slog.Logger) (*protocol.HandlerResult, error) {
	if h.channel == nil {
		if h.payload.Required {
			return nil, fmt.Errorf("no notification channel configured for required node %s", nodeCtx.Node.ID)
		}

		logger.WarnContext(ctx, "No notification channel configured, skipping send",
			"node_id", nodeCtx.Node.ID, "channel", h.payload.Channel)

		return &protocol.HandlerResult{
			Output:  map[string]any{"delivered": false},
			Message: "notification skipped: no channel configured",
		}, nil
	}

	err := h.channel.Send(ctx, h.payload.Channel, h.payload.Message, nodeCtx.Input)
	if err != nil {
		if h.payload.Required {
			return nil, fmt.Errorf("required notification failed: %w", err)
		}

		logger.ErrorContext(ctx, "Notification delivery failed",
			"node_id", nodeCtx.Node.ID, "channel", h.payload.Channel, "error", err)

		return &protocol.HandlerResult{
			Output:  map[string]any{"delivered": false},
			Message: fmt.Sprintf("notification failed: %v", err),
		}, nil
	}

	return &protocol.HandlerResult{
		Output:  map[string]any{"delivered": true},
		Message: fmt.Sprintf("notification sent to %s", h.payload.Channel),
	}, nil
}
