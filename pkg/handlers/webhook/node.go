// Package webhook provides the webhook node handler: one HTTP call to the
// configured endpoint with the branch input, surfacing the status code and
// decoded body as node output.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/caravel-hq/caravel/pkg/models"
	"github.com/caravel-hq/caravel/pkg/protocol"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 1024 * 1024 // 1MB max response body
)

// Handler executes one webhook node.
type Handler struct {
	payload models.WebhookPayload
	client  *http.Client
}

// NewHandler creates a handler from a parsed webhook payload.
func NewHandler(payload models.WebhookPayload, client *http.Client) *Handler {
	payload.Method = strings.ToUpper(payload.Method)

	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	return &Handler{payload: payload, client: client}
}

// Execute performs the HTTP call. GET and HEAD send no body; other methods
// send the configured body merged with the branch input as JSON. Non-2xx
// responses fail the node.
func (h *Handler) Execute(ctx context.Context, nodeCtx protocol.NodeContext, logger *slog.Logger) (*protocol.HandlerResult, error) {
	var requestBody io.Reader

	if h.payload.Method != http.MethodGet && h.payload.Method != http.MethodHead {
		merged := make(map[string]any, len(h.payload.Body)+len(nodeCtx.Input))
		for k, v := range h.payload.Body {
			merged[k] = v
		}

		for k, v := range nodeCtx.Input {
			merged[k] = v
		}

		encoded, err := json.Marshal(merged)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal webhook body: %w", err)
		}

		requestBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, h.payload.Method, h.payload.Target, requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook request: %w", err)
	}

	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for key, value := range h.payload.Headers {
		req.Header.Set(key, value)
	}

	logger.InfoContext(ctx, "Calling webhook",
		"method", h.payload.Method, "target", h.payload.Target, "node_id", nodeCtx.Node.ID)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook endpoint unreachable: %w", err)
	}

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	output := map[string]any{"status_code": resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook response: %w", err)
	}

	if len(raw) > 0 {
		var decoded map[string]any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			output["body"] = decoded
		} else {
			output["body"] = string(raw)
		}
	}

	return &protocol.HandlerResult{
		Output:  output,
		Message: fmt.Sprintf("webhook returned %d", resp.StatusCode),
	}, nil
}
