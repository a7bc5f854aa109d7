package ai

import (
	"context"

	"github.com/caravel-hq/caravel/pkg/models"
	"github.com/caravel-hq/caravel/pkg/protocol"
)

// Factory creates AI task handlers bound to one TaskDecider.
type Factory struct {
	decider protocol.TaskDecider
}

// NewFactory creates an AI handler factory.
func NewFactory(decider protocol.TaskDecider) *Factory {
	return &Factory{decider: decider}
}

// Create parses the node's AI payload and returns a handler for it.
func (f *Factory) Create(_ context.Context, node *models.Node) (protocol.Handler, error) {
	payload, err := models.ParseNodePayload(node)
	if err != nil {
		return nil, err
	}

	return NewHandler(payload.(models.AITaskPayload), f.decider), nil
}

// ID returns the node type this factory serves.
func (f *Factory) ID() string {
	return string(models.NodeTypeTaskAI)
}

// Schema returns the JSON schema for task_ai node data.
func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt": map[string]any{
				"type":        "string",
				"description": "Prompt to run against the AI service.",
			},
			"model": map[string]any{
				"type": "string",
			},
			"max_tokens": map[string]any{
				"type":    "integer",
				"minimum": 1,
			},
		},
		"required": []string{"prompt"},
	}
}
