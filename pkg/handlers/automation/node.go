// Package automation provides the task_automation node handler: it fires a
// request at the configured automation target and, in fire_and_wait mode,
// folds the target's response into the branch output.
package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/caravel-hq/caravel/pkg/models"
	"github.com/caravel-hq/caravel/pkg/protocol"
)

const defaultTimeout = 30 * time.Second

// Handler executes one task_automation node.
type Handler struct {
	payload models.AutomationPayload
	client  *http.Client
}

// NewHandler creates a handler from a parsed automation payload.
func NewHandler(payload models.AutomationPayload, client *http.Client) *Handler {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	return &Handler{payload: payload, client: client}
}

// Execute posts the node input and configured parameters to the automation
// target. In fire_and_forget mode the response body is discarded and the
// handler returns as soon as the target accepted the request.
func (h *Handler) Execute(ctx context.Context, nodeCtx protocol.NodeContext, logger *slog.Logger) (*protocol.HandlerResult, error) {
	body, err := json.Marshal(map[string]any{
		"execution_id": nodeCtx.ExecutionID,
		"node_id":      nodeCtx.Node.ID,
		"parameters":   h.payload.Parameters,
		"input":        nodeCtx.Input,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal automation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.payload.Target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build automation request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	logger.InfoContext(ctx, "Dispatching automation",
		"target", h.payload.Target, "mode", h.payload.Mode, "node_id", nodeCtx.Node.ID)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("automation target unreachable: %w", err)
	}

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("automation target returned status %d", resp.StatusCode)
	}

	if h.payload.Mode == models.AutomationModeFireAndForget {
		return &protocol.HandlerResult{
			Output:  map[string]any{"dispatched": true},
			Message: "automation dispatched",
		}, nil
	}

	output := map[string]any{}

	if err := json.NewDecoder(resp.Body).Decode(&output); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode automation response: %w", err)
	}

	return &protocol.HandlerResult{
		Output:  output,
		Message: "automation completed",
	}, nil
}
