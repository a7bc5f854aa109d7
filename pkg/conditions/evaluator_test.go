package conditions

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caravel-hq/caravel/pkg/models"
	"github.com/caravel-hq/caravel/pkg/protocol"
)

type stubDecider struct {
	decision *protocol.Decision
	err      error
	question string
}

func (d *stubDecider) Decide(_ context.Context, question string, _ map[string]any) (*protocol.Decision, error) {
	d.question = question

	return d.decision, d.err
}

func (d *stubDecider) Complete(_ context.Context, _ string, _ map[string]any) (map[string]any, error) {
	return nil, errors.New("not implemented")
}

func TestEvaluateEdge_NoCondition(t *testing.T) {
	evaluator := NewEvaluator()

	result, err := evaluator.EvaluateEdge(t.Context(), &models.Edge{ID: "e1"}, nil)
	require.NoError(t, err)
	assert.True(t, result)
}

func TestEvaluateEdge_Expression(t *testing.T) {
	evaluator := NewEvaluator()

	tests := []struct {
		name      string
		condition string
		data      map[string]any
		want      bool
	}{
		{"greater than true", "a > 5", map[string]any{"a": 10}, true},
		{"greater than false", "a > 5", map[string]any{"a": 3}, false},
		{"string equality", `status == "approved"`, map[string]any{"status": "approved"}, true},
		{"boolean and", "a > 5 && b < 2", map[string]any{"a": 10, "b": 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			edge := &models.Edge{ID: "e1", Condition: tt.condition, ConditionKind: models.ConditionKindExpression}

			result, err := evaluator.EvaluateEdge(t.Context(), edge, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, result)
		})
	}
}

func TestEvaluateEdge_SimpleKind(t *testing.T) {
	evaluator := NewEvaluator()

	edge := &models.Edge{ID: "e1", Condition: "amount >= 1000", ConditionKind: models.ConditionKindSimple}

	result, err := evaluator.EvaluateEdge(t.Context(), edge, map[string]any{"amount": 2500})
	require.NoError(t, err)
	assert.True(t, result)
}

func TestEvaluateEdge_ExpressionError(t *testing.T) {
	evaluator := NewEvaluator()

	edge := &models.Edge{ID: "e1", Condition: "a +", ConditionKind: models.ConditionKindExpression}

	_, err := evaluator.EvaluateEdge(t.Context(), edge, map[string]any{"a": 1})
	require.Error(t, err)

	var evalErr *EvaluationError

	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, "e1", evalErr.EdgeID)
	assert.Equal(t, "a +", evalErr.Condition)
}

func TestEvaluateEdge_CacheReuse(t *testing.T) {
	evaluator := NewEvaluator()

	edge := &models.Edge{ID: "e1", Condition: "a > 5", ConditionKind: models.ConditionKindExpression}

	result, err := evaluator.EvaluateEdge(t.Context(), edge, map[string]any{"a": 10})
	require.NoError(t, err)
	assert.True(t, result)

	// Same expression, different data: must hit the cache and still evaluate
	// against the fresh data.
	result, err = evaluator.EvaluateEdge(t.Context(), edge, map[string]any{"a": 1})
	require.NoError(t, err)
	assert.False(t, result)

	evaluator.mu.RLock()
	defer evaluator.mu.RUnlock()
	assert.Len(t, evaluator.cache, 1)
}

func TestEvaluateEdge_AIDecision(t *testing.T) {
	decider := &stubDecider{decision: &protocol.Decision{Result: true, Rationale: "low risk"}}
	evaluator := NewEvaluator(WithDecider(decider))

	edge := &models.Edge{
		ID:            "e1",
		Condition:     "is this purchase within policy?",
		ConditionKind: models.ConditionKindAIDecision,
	}

	result, err := evaluator.EvaluateEdge(t.Context(), edge, map[string]any{"amount": 100})
	require.NoError(t, err)
	assert.True(t, result)
	assert.Equal(t, "is this purchase within policy?", decider.question)
}

func TestEvaluateEdge_AIDecision_NoDecider(t *testing.T) {
	evaluator := NewEvaluator()

	edge := &models.Edge{ID: "e1", Condition: "any question", ConditionKind: models.ConditionKindAIDecision}

	_, err := evaluator.EvaluateEdge(t.Context(), edge, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoDecider)
}

func TestEvaluateEdge_ExternalAPI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result": true}`))
	}))
	defer server.Close()

	evaluator := NewEvaluator(WithHTTPClient(server.Client()))

	edge := &models.Edge{ID: "e1", Condition: server.URL, ConditionKind: models.ConditionKindExternalAPI}

	result, err := evaluator.EvaluateEdge(t.Context(), edge, map[string]any{"amount": 100})
	require.NoError(t, err)
	assert.True(t, result)
}

func TestEvaluateEdge_ExternalAPI_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	evaluator := NewEvaluator(WithHTTPClient(server.Client()))

	edge := &models.Edge{ID: "e1", Condition: server.URL, ConditionKind: models.ConditionKindExternalAPI}

	_, err := evaluator.EvaluateEdge(t.Context(), edge, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}
