package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNodePayload_HumanTask(t *testing.T) {
	node := &Node{
		ID:    "approve-request",
		Label: "Approve request",
		Type:  NodeTypeTaskHuman,
		Data: map[string]any{
			"assignee":           "analyst@acme.test",
			"priority":           "high",
			"estimated_duration": "2h",
			"instructions":       "Check the attached PDD",
		},
	}

	payload, err := ParseNodePayload(node)
	require.NoError(t, err)

	human, ok := payload.(HumanTaskPayload)
	require.True(t, ok)
	assert.Equal(t, "analyst@acme.test", human.Assignee)
	assert.Equal(t, "high", human.Priority)
	assert.Equal(t, 2*time.Hour, human.EstimatedDuration)
	assert.Equal(t, "Check the attached PDD", human.Instructions)
}

func TestParseNodePayload_HumanTaskMissingAssignee(t *testing.T) {
	node := &Node{
		ID:   "approve-request",
		Type: NodeTypeTaskHuman,
		Data: map[string]any{"priority": "high"},
	}

	_, err := ParseNodePayload(node)
	require.Error(t, err)

	var missing *MissingFieldError

	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "approve-request", missing.NodeID)
	assert.Equal(t, "assignee", missing.Field)
}

func TestParseNodePayload_WebhookRequiresTargetAndMethod(t *testing.T) {
	node := &Node{
		ID:   "notify-crm",
		Type: NodeTypeWebhook,
		Data: map[string]any{"target": "https://crm.acme.test/hooks/1"},
	}

	_, err := ParseNodePayload(node)
	require.Error(t, err)

	var missing *MissingFieldError

	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "method", missing.Field)
}

func TestParseNodePayload_AutomationDefaultsMode(t *testing.T) {
	node := &Node{
		ID:   "sync-erp",
		Type: NodeTypeTaskAutomation,
		Data: map[string]any{"target": "erp-sync"},
	}

	payload, err := ParseNodePayload(node)
	require.NoError(t, err)

	automation, ok := payload.(AutomationPayload)
	require.True(t, ok)
	assert.Equal(t, AutomationModeFireAndWait, automation.Mode)
}

func TestParseNodePayload_AutomationRejectsUnknownMode(t *testing.T) {
	node := &Node{
		ID:   "sync-erp",
		Type: NodeTypeTaskAutomation,
		Data: map[string]any{"target": "erp-sync", "mode": "maybe"},
	}

	_, err := ParseNodePayload(node)
	require.Error(t, err)

	var payloadErr *PayloadError

	require.ErrorAs(t, err, &payloadErr)
	assert.Equal(t, "mode", payloadErr.Field)
}

func TestParseNodePayload_DelayAcceptsSecondsAndDurations(t *testing.T) {
	byString := &Node{ID: "wait", Type: NodeTypeDelay, Data: map[string]any{"duration": "90s"}}
	bySeconds := &Node{ID: "wait", Type: NodeTypeDelay, Data: map[string]any{"duration": float64(90)}}

	p1, err := ParseNodePayload(byString)
	require.NoError(t, err)

	p2, err := ParseNodePayload(bySeconds)
	require.NoError(t, err)

	assert.Equal(t, p1.(DelayPayload).Duration, p2.(DelayPayload).Duration)
	assert.Equal(t, 90*time.Second, p1.(DelayPayload).Duration)
}

func TestParseNodePayload_DelayRejectsNonPositive(t *testing.T) {
	node := &Node{ID: "wait", Type: NodeTypeDelay, Data: map[string]any{"duration": float64(0)}}

	_, err := ParseNodePayload(node)
	require.Error(t, err)
}

func TestParseNodePayload_StartAndEndHaveNoPayload(t *testing.T) {
	for _, nodeType := range []NodeType{NodeTypeStart, NodeTypeEnd} {
		payload, err := ParseNodePayload(&Node{ID: "n", Type: nodeType})
		require.NoError(t, err)
		assert.Nil(t, payload)
	}
}

func TestParseNodePayload_DocumentFallsBackToLabel(t *testing.T) {
	node := &Node{ID: "doc", Label: "Final report", Type: NodeTypeDocument}

	payload, err := ParseNodePayload(node)
	require.NoError(t, err)
	assert.Equal(t, "Final report", payload.(DocumentPayload).Title)
}

func TestParseNodePayload_UnknownType(t *testing.T) {
	_, err := ParseNodePayload(&Node{ID: "n", Type: "teleport"})
	require.Error(t, err)
}

func TestParseNodePayload_NotificationRequiredFlag(t *testing.T) {
	node := &Node{
		ID:   "announce",
		Type: NodeTypeNotification,
		Data: map[string]any{"channel": "teams", "message": "done", "required": true},
	}

	payload, err := ParseNodePayload(node)
	require.NoError(t, err)
	assert.True(t, payload.(NotificationPayload).Required)
}
