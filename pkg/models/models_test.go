package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorkflow_CanStartExecution(t *testing.T) {
	cases := []struct {
		status WorkflowStatus
		want   bool
	}{
		{WorkflowStatusDraft, false},
		{WorkflowStatusActive, true},
		{WorkflowStatusPaused, false},
		{WorkflowStatusArchived, false},
		{WorkflowStatusDeprecated, false},
	}

	for _, tc := range cases {
		w := &Workflow{Status: tc.status}
		assert.Equal(t, tc.want, w.CanStartExecution(), "status %s", tc.status)
	}
}

func TestExecutionStatus_IsTerminal(t *testing.T) {
	assert.True(t, ExecutionStatusCompleted.IsTerminal())
	assert.True(t, ExecutionStatusFailed.IsTerminal())
	assert.True(t, ExecutionStatusCancelled.IsTerminal())
	assert.False(t, ExecutionStatusPending.IsTerminal())
	assert.False(t, ExecutionStatusRunning.IsTerminal())
	assert.False(t, ExecutionStatusPaused.IsTerminal())
}

func TestGraphSnapshot_Lookups(t *testing.T) {
	snapshot := &GraphSnapshot{
		Nodes: []*Node{
			{ID: "start", Type: NodeTypeStart},
			{ID: "work", Type: NodeTypeTaskAutomation},
			{ID: "done", Type: NodeTypeEnd},
		},
		Edges: []*Edge{
			{ID: "e1", SourceID: "start", TargetID: "work"},
			{ID: "e2", SourceID: "work", TargetID: "done"},
		},
	}

	assert.Equal(t, NodeTypeStart, snapshot.StartNode().Type)
	assert.Nil(t, snapshot.NodeByID("missing"))

	out := snapshot.OutgoingEdges("work")
	assert.Len(t, out, 1)
	assert.Equal(t, "done", out[0].TargetID)

	in := snapshot.IncomingEdges("work")
	assert.Len(t, in, 1)
	assert.Equal(t, "start", in[0].SourceID)
}

func TestWorkflowExecution_Positions(t *testing.T) {
	exec := &WorkflowExecution{
		Positions: []*Position{
			{NodeID: "a", State: PositionStateReady, EnteredAt: time.Now().UTC()},
			{NodeID: "b", State: PositionStateWaitingHuman, EnteredAt: time.Now().UTC()},
		},
	}

	assert.Equal(t, []string{"a", "b"}, exec.CurrentNodeIDs())
	assert.NotNil(t, exec.PositionAt("b"))
	assert.Nil(t, exec.PositionAt("c"))

	exec.RemovePosition("a")
	assert.Equal(t, []string{"b"}, exec.CurrentNodeIDs())
}

func TestEdge_IsCatchAll(t *testing.T) {
	assert.True(t, (&Edge{Condition: CatchAllCondition}).IsCatchAll())
	assert.False(t, (&Edge{Condition: "a > 5"}).IsCatchAll())
	assert.False(t, (&Edge{}).HasCondition())
}

func TestIsKnownNodeType(t *testing.T) {
	for _, nodeType := range KnownNodeTypes {
		assert.True(t, IsKnownNodeType(nodeType))
	}

	assert.False(t, IsKnownNodeType("teleport"))
}
