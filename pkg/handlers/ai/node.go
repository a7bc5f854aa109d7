// Package ai provides the task_ai node handler: it runs the node's prompt
// through the configured TaskDecider synchronously and merges the structured
// answer into the branch output.
package ai

import (
	"context"
	"errors"
	"log/slog"

	"github.com/caravel-hq/caravel/pkg/models"
	"github.com/caravel-hq/caravel/pkg/protocol"
)

// ErrNoDecider is returned when no TaskDecider was configured for the worker.
var ErrNoDecider = errors.New("no task decider configured")

// Handler executes one task_ai node.
type Handler struct {
	payload models.AITaskPayload
	decider protocol.TaskDecider
}

// NewHandler creates a handler from a parsed AI task payload.
func NewHandler(payload models.AITaskPayload, decider protocol.TaskDecider) *Handler {
	return &Handler{payload: payload, decider: decider}
}

// Execute runs the prompt against the decider with the branch input as
// context. The call is synchronous: the node completes when the answer
// arrives.
func (h *Handler) Execute(ctx context.Context, nodeCtx protocol.NodeContext, logger *slog.Logger) (*protocol.HandlerResult, error) {
	if h.decider == nil {
		return nil, ErrNoDecider
	}

	logger.InfoContext(ctx, "Running AI task",
		"node_id", nodeCtx.Node.ID, "model", h.payload.Model)

	output, err := h.decider.Complete(ctx, h.payload.Prompt, nodeCtx.Input)
	if err != nil {
		return nil, err
	}

	return &protocol.HandlerResult{
		Output:  output,
		Message: "ai task completed",
	}, nil
}
