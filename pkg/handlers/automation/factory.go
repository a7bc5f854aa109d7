package automation

import (
	"context"
	"net/http"

	"github.com/caravel-hq/caravel/pkg/models"
	"github.com/caravel-hq/caravel/pkg/protocol"
)

// Factory creates automation handlers.
type Factory struct {
	client *http.Client
}

// NewFactory creates an automation handler factory. A nil client falls back
// to a default with a 30s timeout.
func NewFactory(client *http.Client) *Factory {
	return &Factory{client: client}
}

// Create parses the node's automation payload and returns a handler for it.
func (f *Factory) Create(_ context.Context, node *models.Node) (protocol.Handler, error) {
	payload, err := models.ParseNodePayload(node)
	if err != nil {
		return nil, err
	}

	return NewHandler(payload.(models.AutomationPayload), f.client), nil
}

// ID returns the node type this factory serves.
func (f *Factory) ID() string {
	return string(models.NodeTypeTaskAutomation)
}

// Schema returns the JSON schema for task_automation node data.
func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"target": map[string]any{
				"type":        "string",
				"description": "URL of the automation endpoint to invoke.",
			},
			"mode": map[string]any{
				"type": "string",
				"enum": []string{string(models.AutomationModeFireAndWait), string(models.AutomationModeFireAndForget)},
			},
			"parameters": map[string]any{
				"type":        "object",
				"description": "Static parameters forwarded to the target.",
			},
		},
		"required": []string{"target"},
	}
}
