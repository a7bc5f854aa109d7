package models

// ConditionKind identifies how an edge condition is evaluated.
type ConditionKind string

const (
	ConditionKindSimple      ConditionKind = "simple"       // Basic comparison, e.g. "a > 5"
	ConditionKindExpression  ConditionKind = "expression"   // Full expression language
	ConditionKindAIDecision  ConditionKind = "ai_decision"  // Delegated to an AI decision service
	ConditionKindExternalAPI ConditionKind = "external_api" // Delegated to an external endpoint
)

// CatchAllCondition is the reserved condition marking an "else" edge out of a
// gateway. Exactly one outgoing gateway edge may carry it.
const CatchAllCondition = "else"

// Edge represents a directed connection between two nodes of the same
// workflow. An empty condition means "always true".
type Edge struct {
	ID            string        `json:"id"        validate:"required"`
	SourceID      string        `json:"source_id" validate:"required"`
	TargetID      string        `json:"target_id" validate:"required"`
	Label         string        `json:"label,omitempty"`
	Condition     string        `json:"condition,omitempty"`
	ConditionKind ConditionKind `json:"condition_kind,omitempty"`
}

// HasCondition reports whether the edge carries an explicit condition.
func (e *Edge) HasCondition() bool {
	return e.Condition != ""
}

// IsCatchAll reports whether the edge is the gateway "else" branch.
func (e *Edge) IsCatchAll() bool {
	return e.Condition == CatchAllCondition
}
