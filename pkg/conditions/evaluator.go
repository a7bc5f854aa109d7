// Package conditions evaluates edge conditions against execution data. The
// simple and expression kinds run through expr-lang with a compiled program
// cache; ai_decision delegates to the configured TaskDecider; external_api
// asks an HTTP endpoint.
package conditions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/caravel-hq/caravel/pkg/models"
	"github.com/caravel-hq/caravel/pkg/protocol"
)

// ErrNoDecider is returned for ai_decision conditions when no TaskDecider is
// configured.
var ErrNoDecider = errors.New("no task decider configured")

// EvaluationError wraps a condition failure with the edge it belongs to.
type EvaluationError struct {
	EdgeID    string
	Condition string
	Err       error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("condition on edge %s (%q): %v", e.EdgeID, e.Condition, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// Evaluator evaluates edge conditions. Compiled expressions are cached by
// source text; the cache is safe for concurrent use.
type Evaluator struct {
	cache   map[string]*vm.Program
	mu      sync.RWMutex
	decider protocol.TaskDecider
	client  *http.Client
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithDecider sets the TaskDecider used for ai_decision conditions.
func WithDecider(decider protocol.TaskDecider) Option {
	return func(e *Evaluator) {
		e.decider = decider
	}
}

// WithHTTPClient sets the client used for external_api conditions.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Evaluator) {
		e.client = client
	}
}

// NewEvaluator creates an Evaluator with an initialized program cache.
func NewEvaluator(opts ...Option) *Evaluator {
	evaluator := &Evaluator{
		cache:  make(map[string]*vm.Program),
		client: &http.Client{Timeout: 10 * time.Second},
	}

	for _, opt := range opts {
		opt(evaluator)
	}

	return evaluator
}

// EvaluateEdge reports whether the edge's condition holds against the given
// branch data. Edges without a condition are always true. Catch-all ("else")
// edges are the caller's concern: they are matched only after every
// conditioned sibling evaluated false, so this method never sees them.
func (e *Evaluator) EvaluateEdge(ctx context.Context, edge *models.Edge, data map[string]any) (bool, error) {
	if !edge.HasCondition() {
		return true, nil
	}

	result, err := e.evaluate(ctx, edge, data)
	if err != nil {
		return false, &EvaluationError{EdgeID: edge.ID, Condition: edge.Condition, Err: err}
	}

	return result, nil
}

func (e *Evaluator) evaluate(ctx context.Context, edge *models.Edge, data map[string]any) (bool, error) {
	switch edge.ConditionKind {
	case models.ConditionKindAIDecision:
		return e.evaluateAIDecision(ctx, edge.Condition, data)
	case models.ConditionKindExternalAPI:
		return e.evaluateExternalAPI(ctx, edge.Condition, data)
	case models.ConditionKindSimple, models.ConditionKindExpression, "":
		return e.evaluateExpression(edge.Condition, data)
	default:
		return false, fmt.Errorf("unknown condition kind %q", edge.ConditionKind)
	}
}

// evaluateExpression runs the condition through expr-lang. The expression
// must evaluate to a boolean.
func (e *Evaluator) evaluateExpression(expression string, data map[string]any) (bool, error) {
	if data == nil {
		data = map[string]any{}
	}

	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()

	if !ok {
		e.mu.Lock()
		if program, ok = e.cache[expression]; !ok {
			var err error

			program, err = expr.Compile(expression, expr.Env(data), expr.AsBool())
			if err != nil {
				e.mu.Unlock()

				return false, err
			}

			e.cache[expression] = program
		}
		e.mu.Unlock()
	}

	result, err := expr.Run(program, data)
	if err != nil {
		return false, err
	}

	boolResult, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not evaluate to a boolean, got %T", expression, result)
	}

	return boolResult, nil
}

func (e *Evaluator) evaluateAIDecision(ctx context.Context, question string, data map[string]any) (bool, error) {
	if e.decider == nil {
		return false, ErrNoDecider
	}

	decision, err := e.decider.Decide(ctx, question, data)
	if err != nil {
		return false, err
	}

	return decision.Result, nil
}

// evaluateExternalAPI POSTs the branch data to the URL in the condition and
// expects {"result": bool} back.
func (e *Evaluator) evaluateExternalAPI(ctx context.Context, url string, data map[string]any) (bool, error) {
	body, err := json.Marshal(map[string]any{"data": data})
	if err != nil {
		return false, fmt.Errorf("failed to marshal condition request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to build condition request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("condition endpoint unreachable: %w", err)
	}

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("condition endpoint returned status %d", resp.StatusCode)
	}

	var payload struct {
		Result bool `json:"result"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, fmt.Errorf("failed to decode condition response: %w", err)
	}

	return payload.Result, nil
}
