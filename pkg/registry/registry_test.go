package registry_test

import (
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caravel-hq/caravel/pkg/handlers/automation"
	"github.com/caravel-hq/caravel/pkg/handlers/document"
	"github.com/caravel-hq/caravel/pkg/handlers/webhook"
	"github.com/caravel-hq/caravel/pkg/models"
	"github.com/caravel-hq/caravel/pkg/registry"
)

func newTestRegistry() *registry.Registry {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := registry.NewRegistry(logger)
	reg.Register(automation.NewFactory(http.DefaultClient))
	reg.Register(webhook.NewFactory(http.DefaultClient))
	reg.Register(document.NewFactory())

	return reg
}

func TestCreateHandlerForRegisteredType(t *testing.T) {
	reg := newTestRegistry()

	node := &models.Node{
		ID:    "run",
		Label: "Run",
		Type:  models.NodeTypeTaskAutomation,
		Data:  map[string]any{"target": "https://internal/run"},
	}

	handler, err := reg.CreateHandler(t.Context(), node)
	require.NoError(t, err)
	assert.NotNil(t, handler)
}

func TestCreateHandlerUnregisteredType(t *testing.T) {
	reg := newTestRegistry()

	node := &models.Node{ID: "n1", Label: "N1", Type: models.NodeTypeNotification}

	_, err := reg.CreateHandler(t.Context(), node)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestIsRegisteredAndAvailableTypes(t *testing.T) {
	reg := newTestRegistry()

	assert.True(t, reg.IsRegistered(models.NodeTypeTaskAutomation))
	assert.False(t, reg.IsRegistered(models.NodeTypeTaskAI))

	assert.Equal(t, []string{"document", "task_automation", "webhook"}, reg.AvailableTypes())
}

func TestValidateNodeData(t *testing.T) {
	reg := newTestRegistry()

	valid := &models.Node{
		ID:   "hook",
		Type: models.NodeTypeWebhook,
		Data: map[string]any{"target": "https://internal/hook", "method": "POST"},
	}
	require.NoError(t, reg.ValidateNodeData(valid))

	missing := &models.Node{
		ID:   "hook",
		Type: models.NodeTypeWebhook,
		Data: map[string]any{"target": "https://internal/hook"},
	}
	err := reg.ValidateNodeData(missing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node hook data invalid")
}

func TestValidateNodeDataUnregisteredTypeAccepted(t *testing.T) {
	reg := newTestRegistry()

	node := &models.Node{ID: "begin", Type: models.NodeTypeStart}
	require.NoError(t, reg.ValidateNodeData(node))
}
