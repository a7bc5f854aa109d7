// Package document provides the document node handler: it records a document
// artifact on the branch output for downstream nodes and the audit log. The
// actual rendering lives with the collaborating document service; the
// workflow core only tracks the artifact's identity and metadata.
package document

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/caravel-hq/caravel/pkg/models"
	"github.com/caravel-hq/caravel/pkg/protocol"
)

const defaultFormat = "markdown"

// Handler executes one document node.
type Handler struct {
	payload models.DocumentPayload
	now     func() time.Time
}

// NewHandler creates a handler from a parsed document payload.
func NewHandler(payload models.DocumentPayload) *Handler {
	if payload.Format == "" {
		payload.Format = defaultFormat
	}

	return &Handler{payload: payload, now: time.Now}
}

// Execute emits the document artifact metadata.
func (h *Handler) Execute(ctx context.Context, nodeCtx protocol.NodeContext, logger *slog.Logger) (*protocol.HandlerResult, error) {
	documentID := "doc-" + uuid.New().String()[:8]

	logger.InfoContext(ctx, "Produced document artifact",
		"document_id", documentID, "title", h.payload.Title, "node_id", nodeCtx.Node.ID)

	return &protocol.HandlerResult{
		Output: map[string]any{
			"document": map[string]any{
				"id":           documentID,
				"title":        h.payload.Title,
				"format":       h.payload.Format,
				"generated_at": h.now().UTC().Format(time.RFC3339),
				"source_node":  nodeCtx.Node.ID,
			},
		},
		Message: fmt.Sprintf("document %q produced", h.payload.Title),
	}, nil
}
