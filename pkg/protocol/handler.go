// Package protocol defines the interfaces and contracts for pluggable node
// handlers and the external services the engine calls out to.
package protocol

import (
	"context"
	"log/slog"

	"github.com/caravel-hq/caravel/pkg/models"
)

// NodeContext carries everything a handler needs to run one node attempt.
// Input is the branch-local data accumulated along the path that reached the
// node; handlers must treat it as read-only.
type NodeContext struct {
	ExecutionID string
	WorkflowID  string
	Node        *models.Node
	Input       map[string]any
}

// HandlerResult is the successful outcome of one node attempt. Output is
// merged into the branch data carried to downstream nodes.
type HandlerResult struct {
	Output  map[string]any
	Message string
}

// Handler executes one node type. Implementations are stateless; per-node
// configuration arrives parsed inside the NodeContext's node payload.
type Handler interface {
	Execute(ctx context.Context, nodeCtx NodeContext, logger *slog.Logger) (*HandlerResult, error)
}

// HandlerFactory creates handler instances for one node type and provides
// the metadata the registry needs to validate node payloads.
type HandlerFactory interface {
	// Create creates a handler for the given node, parsing and checking its
	// payload. A payload error here fails validation, not execution.
	Create(ctx context.Context, node *models.Node) (Handler, error)

	// ID returns the node type this factory serves.
	ID() string

	// Schema returns the JSON schema for the node's data payload.
	Schema() map[string]any
}
