package automation

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caravel-hq/caravel/pkg/models"
	"github.com/caravel-hq/caravel/pkg/protocol"
)

func automationNode(data map[string]any) *models.Node {
	return &models.Node{ID: "task-1", Type: models.NodeTypeTaskAutomation, Data: data}
}

func TestFactory_Create(t *testing.T) {
	factory := NewFactory(nil)

	handler, err := factory.Create(t.Context(), automationNode(map[string]any{"target": "http://automation.local/run"}))
	require.NoError(t, err)
	assert.NotNil(t, handler)
}

func TestFactory_Create_MissingTarget(t *testing.T) {
	factory := NewFactory(nil)

	_, err := factory.Create(t.Context(), automationNode(map[string]any{}))
	require.Error(t, err)

	var missing *models.MissingFieldError

	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "target", missing.Field)
}

func TestHandler_Execute_FireAndWait(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any

		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "exec-1", req["execution_id"])
		assert.Equal(t, "task-1", req["node_id"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ticket": "T-100"}`))
	}))
	defer server.Close()

	factory := NewFactory(server.Client())
	handler, err := factory.Create(t.Context(), automationNode(map[string]any{"target": server.URL}))
	require.NoError(t, err)

	result, err := handler.Execute(t.Context(), protocol.NodeContext{
		ExecutionID: "exec-1",
		Node:        automationNode(nil),
		Input:       map[string]any{"amount": 100},
	}, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, "T-100", result.Output["ticket"])
}

func TestHandler_Execute_FireAndForget(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	factory := NewFactory(server.Client())
	handler, err := factory.Create(t.Context(), automationNode(map[string]any{
		"target": server.URL,
		"mode":   "fire_and_forget",
	}))
	require.NoError(t, err)

	result, err := handler.Execute(t.Context(), protocol.NodeContext{
		ExecutionID: "exec-1",
		Node:        automationNode(nil),
	}, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, true, result.Output["dispatched"])
}

func TestHandler_Execute_TargetFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	factory := NewFactory(server.Client())
	handler, err := factory.Create(t.Context(), automationNode(map[string]any{"target": server.URL}))
	require.NoError(t, err)

	_, err = handler.Execute(t.Context(), protocol.NodeContext{
		ExecutionID: "exec-1",
		Node:        automationNode(nil),
	}, slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}
