package models

import (
	"fmt"
	"time"
)

// MissingFieldError reports a required payload key absent from a node's data,
// naming both the node and the key. Raised at payload construction so that
// handlers never see a half-formed payload.
type MissingFieldError struct {
	NodeID string
	Field  string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("node %s: missing required field %q", e.NodeID, e.Field)
}

// PayloadError reports node data that is present but cannot be interpreted.
type PayloadError struct {
	NodeID string
	Field  string
	Reason string
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("node %s: invalid field %q: %s", e.NodeID, e.Field, e.Reason)
}

// NodePayload is the tagged union over per-type node data. Each node type has
// a narrowly-typed payload so handlers receive exactly the fields their type
// requires, and missing-field errors surface at construction, not dispatch.
type NodePayload interface {
	nodePayload()
}

// AutomationMode selects fire-and-wait or fire-and-forget for automation
// targets.
type AutomationMode string

const (
	AutomationModeFireAndWait   AutomationMode = "fire_and_wait"
	AutomationModeFireAndForget AutomationMode = "fire_and_forget"
)

// HumanTaskPayload carries the data of a task_human node.
type HumanTaskPayload struct {
	Assignee          string
	Priority          string
	EstimatedDuration time.Duration
	Instructions      string
}

// AutomationPayload carries the data of a task_automation node.
type AutomationPayload struct {
	Target     string
	Mode       AutomationMode
	Parameters map[string]any
}

// AITaskPayload carries the data of a task_ai node.
type AITaskPayload struct {
	Prompt    string
	Model     string
	MaxTokens int
}

// GatewayPayload carries the data of a gateway node. The decision rule is a
// free-text annotation for the editing surface; routing is driven entirely by
// edge conditions.
type GatewayPayload struct {
	DecisionRule string
}

// WebhookPayload carries the data of a webhook node.
type WebhookPayload struct {
	Target  string
	Method  string
	Headers map[string]string
	Body    map[string]any
}

// DocumentPayload carries the data of a document node.
type DocumentPayload struct {
	Title  string
	Format string
}

// SubprocessPayload carries the data of a subprocess node.
type SubprocessPayload struct {
	WorkflowID string
}

// DelayPayload carries the data of a delay node.
type DelayPayload struct {
	Duration time.Duration
}

// NotificationPayload carries the data of a notification node. Required marks
// the rare notification whose delivery failure must fail the node.
type NotificationPayload struct {
	Channel  string
	Message  string
	Required bool
}

func (HumanTaskPayload) nodePayload()    {}
func (AutomationPayload) nodePayload()   {}
func (AITaskPayload) nodePayload()       {}
func (GatewayPayload) nodePayload()      {}
func (WebhookPayload) nodePayload()      {}
func (DocumentPayload) nodePayload()     {}
func (SubprocessPayload) nodePayload()   {}
func (DelayPayload) nodePayload()        {}
func (NotificationPayload) nodePayload() {}

// ParseNodePayload interprets node.Data according to node.Type. Start and end
// nodes carry no payload and return nil. Unknown node types are rejected.
func ParseNodePayload(node *Node) (NodePayload, error) {
	data := node.Data
	if data == nil {
		data = map[string]any{}
	}

	switch node.Type {
	case NodeTypeStart, NodeTypeEnd:
		return nil, nil

	case NodeTypeTaskHuman:
		assignee, err := requiredString(node.ID, data, "assignee")
		if err != nil {
			return nil, err
		}

		priority, err := requiredString(node.ID, data, "priority")
		if err != nil {
			return nil, err
		}

		estimated, err := optionalDuration(node.ID, data, "estimated_duration")
		if err != nil {
			return nil, err
		}

		return HumanTaskPayload{
			Assignee:          assignee,
			Priority:          priority,
			EstimatedDuration: estimated,
			Instructions:      optionalString(data, "instructions"),
		}, nil

	case NodeTypeTaskAutomation:
		target, err := requiredString(node.ID, data, "target")
		if err != nil {
			return nil, err
		}

		mode := AutomationMode(optionalString(data, "mode"))
		if mode == "" {
			mode = AutomationModeFireAndWait
		}

		if mode != AutomationModeFireAndWait && mode != AutomationModeFireAndForget {
			return nil, &PayloadError{NodeID: node.ID, Field: "mode", Reason: "must be fire_and_wait or fire_and_forget"}
		}

		return AutomationPayload{
			Target:     target,
			Mode:       mode,
			Parameters: optionalMap(data, "parameters"),
		}, nil

	case NodeTypeTaskAI:
		prompt, err := requiredString(node.ID, data, "prompt")
		if err != nil {
			return nil, err
		}

		return AITaskPayload{
			Prompt:    prompt,
			Model:     optionalString(data, "model"),
			MaxTokens: optionalInt(data, "max_tokens"),
		}, nil

	case NodeTypeGateway:
		return GatewayPayload{DecisionRule: optionalString(data, "decision_rule")}, nil

	case NodeTypeWebhook:
		target, err := requiredString(node.ID, data, "target")
		if err != nil {
			return nil, err
		}

		method, err := requiredString(node.ID, data, "method")
		if err != nil {
			return nil, err
		}

		return WebhookPayload{
			Target:  target,
			Method:  method,
			Headers: optionalStringMap(data, "headers"),
			Body:    optionalMap(data, "body"),
		}, nil

	case NodeTypeDocument:
		title := optionalString(data, "title")
		if title == "" {
			title = node.Label
		}

		return DocumentPayload{
			Title:  title,
			Format: optionalString(data, "format"),
		}, nil

	case NodeTypeSubprocess:
		workflowID, err := requiredString(node.ID, data, "workflow_id")
		if err != nil {
			return nil, err
		}

		return SubprocessPayload{WorkflowID: workflowID}, nil

	case NodeTypeDelay:
		duration, err := requiredDuration(node.ID, data, "duration")
		if err != nil {
			return nil, err
		}

		return DelayPayload{Duration: duration}, nil

	case NodeTypeNotification:
		channel, err := requiredString(node.ID, data, "channel")
		if err != nil {
			return nil, err
		}

		message, err := requiredString(node.ID, data, "message")
		if err != nil {
			return nil, err
		}

		required, _ := data["required"].(bool)

		return NotificationPayload{
			Channel:  channel,
			Message:  message,
			Required: required,
		}, nil

	default:
		return nil, &PayloadError{NodeID: node.ID, Field: "type", Reason: fmt.Sprintf("unknown node type %q", node.Type)}
	}
}

func requiredString(nodeID string, data map[string]any, key string) (string, error) {
	value, ok := data[key]
	if !ok {
		return "", &MissingFieldError{NodeID: nodeID, Field: key}
	}

	s, ok := value.(string)
	if !ok || s == "" {
		return "", &MissingFieldError{NodeID: nodeID, Field: key}
	}

	return s, nil
}

func optionalString(data map[string]any, key string) string {
	s, _ := data[key].(string)

	return s
}

func optionalInt(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func optionalMap(data map[string]any, key string) map[string]any {
	m, _ := data[key].(map[string]any)

	return m
}

func optionalStringMap(data map[string]any, key string) map[string]string {
	raw, ok := data[key].(map[string]any)
	if !ok {
		return nil
	}

	out := make(map[string]string, len(raw))

	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}

	return out
}

func requiredDuration(nodeID string, data map[string]any, key string) (time.Duration, error) {
	value, ok := data[key]
	if !ok {
		return 0, &MissingFieldError{NodeID: nodeID, Field: key}
	}

	d, err := parseDuration(nodeID, key, value)
	if err != nil {
		return 0, err
	}

	if d <= 0 {
		return 0, &PayloadError{NodeID: nodeID, Field: key, Reason: "must be positive"}
	}

	return d, nil
}

func optionalDuration(nodeID string, data map[string]any, key string) (time.Duration, error) {
	value, ok := data[key]
	if !ok {
		return 0, nil
	}

	return parseDuration(nodeID, key, value)
}

// parseDuration accepts either a Go duration string ("30s", "5m") or a number
// of seconds, the two shapes the editing surface is known to submit.
func parseDuration(nodeID, key string, value any) (time.Duration, error) {
	switch v := value.(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, &PayloadError{NodeID: nodeID, Field: key, Reason: err.Error()}
		}

		return d, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	default:
		return 0, &PayloadError{NodeID: nodeID, Field: key, Reason: fmt.Sprintf("unsupported duration type %T", value)}
	}
}
