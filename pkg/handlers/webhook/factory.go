package webhook

import (
	"context"
	"net/http"

	"github.com/caravel-hq/caravel/pkg/models"
	"github.com/caravel-hq/caravel/pkg/protocol"
)

// Factory creates webhook handlers.
type Factory struct {
	client *http.Client
}

// NewFactory creates a webhook handler factory. A nil client falls back to a
// default with a 30s timeout.
func NewFactory(client *http.Client) *Factory {
	return &Factory{client: client}
}

// Create parses the node's webhook payload and returns a handler for it.
func (f *Factory) Create(_ context.Context, node *models.Node) (protocol.Handler, error) {
	payload, err := models.ParseNodePayload(node)
	if err != nil {
		return nil, err
	}

	return NewHandler(payload.(models.WebhookPayload), f.client), nil
}

// ID returns the node type this factory serves.
func (f *Factory) ID() string {
	return string(models.NodeTypeWebhook)
}

// Schema returns the JSON schema for webhook node data.
func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"target": map[string]any{
				"type":        "string",
				"description": "URL to call.",
			},
			"method": map[string]any{
				"type": "string",
				"enum": []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"},
			},
			"headers": map[string]any{
				"type": "object",
			},
			"body": map[string]any{
				"type":        "object",
				"description": "Static body fields merged under the branch input.",
			},
		},
		"required": []string{"target", "method"},
	}
}
