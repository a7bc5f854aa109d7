package document

import (
	"context"

	"github.com/caravel-hq/caravel/pkg/models"
	"github.com/caravel-hq/caravel/pkg/protocol"
)

// Factory creates document handlers.
type Factory struct{}

// NewFactory creates a document handler factory.
func NewFactory() *Factory {
	return &Factory{}
}

// Create parses the node's document payload and returns a handler for it.
func (f *Factory) Create(_ context.Context, node *models.Node) (protocol.Handler, error) {
	payload, err := models.ParseNodePayload(node)
	if err != nil {
		return nil, err
	}

	return NewHandler(payload.(models.DocumentPayload)), nil
}

// ID returns the node type this factory serves.
func (f *Factory) ID() string {
	return string(models.NodeTypeDocument)
}

// Schema returns the JSON schema for document node data.
func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{
				"type":        "string",
				"description": "Document title. Defaults to the node label.",
			},
			"format": map[string]any{
				"type": "string",
				"enum": []string{"markdown", "pdf", "html"},
			},
		},
	}
}
