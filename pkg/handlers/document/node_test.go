package document

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caravel-hq/caravel/pkg/models"
	"github.com/caravel-hq/caravel/pkg/protocol"
)

func TestHandler_Execute(t *testing.T) {
	factory := NewFactory()

	node := &models.Node{
		ID:   "doc-node",
		Type: models.NodeTypeDocument,
		Data: map[string]any{"title": "Approval Record", "format": "pdf"},
	}

	handler, err := factory.Create(t.Context(), node)
	require.NoError(t, err)

	result, err := handler.Execute(t.Context(), protocol.NodeContext{Node: node}, slog.Default())
	require.NoError(t, err)

	doc, ok := result.Output["document"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Approval Record", doc["title"])
	assert.Equal(t, "pdf", doc["format"])
	assert.Equal(t, "doc-node", doc["source_node"])
	assert.NotEmpty(t, doc["id"])
}

func TestHandler_Execute_TitleFallsBackToLabel(t *testing.T) {
	factory := NewFactory()

	node := &models.Node{
		ID:    "doc-node",
		Type:  models.NodeTypeDocument,
		Label: "Purchase Summary",
	}

	handler, err := factory.Create(t.Context(), node)
	require.NoError(t, err)

	result, err := handler.Execute(t.Context(), protocol.NodeContext{Node: node}, slog.Default())
	require.NoError(t, err)

	doc := result.Output["document"].(map[string]any)
	assert.Equal(t, "Purchase Summary", doc["title"])
	assert.Equal(t, "markdown", doc["format"])
}
