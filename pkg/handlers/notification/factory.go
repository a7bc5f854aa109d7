package notification

import (
	"context"

	"github.com/caravel-hq/caravel/pkg/models"
	"github.com/caravel-hq/caravel/pkg/protocol"
)

// Factory creates notification handlers bound to one delivery channel.
type Factory struct {
	channel protocol.NotificationChannel
}

// NewFactory creates a notification handler factory. A nil channel is
// accepted; sends are then skipped unless the node is marked required.
func NewFactory(channel protocol.NotificationChannel) *Factory {
	return &Factory{channel: channel}
}

// Create parses the node's notification payload and returns a handler.
func (f *Factory) Create(_ context.Context, node *models.Node) (protocol.Handler, error) {
	payload, err := models.ParseNodePayload(node)
	if err != nil {
		return nil, err
	}

	return NewHandler(payload.(models.NotificationPayload), f.channel), nil
}

// ID returns the node type this factory serves.
func (f *Factory) ID() string {
	return string(models.NodeTypeNotification)
}

// Schema returns the JSON schema for notification node data.
func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"channel": map[string]any{
				"type":        "string",
				"description": "Delivery channel name.",
			},
			"message": map[string]any{
				"type": "string",
			},
			"required": map[string]any{
				"type":        "boolean",
				"description": "Fail the node when delivery fails.",
			},
		},
		"required": []string{"channel", "message"},
	}
}
