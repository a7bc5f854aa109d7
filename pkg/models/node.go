package models

// NodeType identifies the semantic role of a node in the workflow graph. The
// set is closed: the validator rejects unknown types.
type NodeType string

const (
	NodeTypeStart          NodeType = "start"           // Entry point, no incoming edges
	NodeTypeEnd            NodeType = "end"             // Terminal outcome, no outgoing edges
	NodeTypeTaskHuman      NodeType = "task_human"      // Blocks until an external actor completes it
	NodeTypeTaskAutomation NodeType = "task_automation" // Invokes an external automation target
	NodeTypeTaskAI         NodeType = "task_ai"         // Invokes an AI service synchronously
	NodeTypeGateway        NodeType = "gateway"         // Decision point with conditional outgoing edges
	NodeTypeWebhook        NodeType = "webhook"         // Invokes an HTTP endpoint
	NodeTypeDocument       NodeType = "document"        // Produces or attaches a document artifact
	NodeTypeSubprocess     NodeType = "subprocess"      // Recursively executes another workflow
	NodeTypeDelay          NodeType = "delay"           // Suspends progress for a duration
	NodeTypeNotification   NodeType = "notification"    // Fire-and-forget message to a channel
)

// KnownNodeTypes enumerates the closed node type set.
var KnownNodeTypes = []NodeType{
	NodeTypeStart,
	NodeTypeEnd,
	NodeTypeTaskHuman,
	NodeTypeTaskAutomation,
	NodeTypeTaskAI,
	NodeTypeGateway,
	NodeTypeWebhook,
	NodeTypeDocument,
	NodeTypeSubprocess,
	NodeTypeDelay,
	NodeTypeNotification,
}

// IsKnownNodeType reports whether t belongs to the closed node type set.
func IsKnownNodeType(t NodeType) bool {
	for _, known := range KnownNodeTypes {
		if t == known {
			return true
		}
	}

	return false
}

// Node represents one step in a workflow graph. The ID is stable and unique
// within the workflow; edges reference it. PositionX/PositionY carry the
// editor layout only and are never semantically load bearing.
type Node struct {
	ID             string         `json:"id"    validate:"required"`
	Label          string         `json:"label" validate:"required,min=1"`
	Type           NodeType       `json:"type"  validate:"required"`
	PositionX      float64        `json:"position_x"`
	PositionY      float64        `json:"position_y"`
	Data           map[string]any `json:"data,omitempty"`
	ExecutionOrder *int           `json:"execution_order,omitempty"`
	IsValid        bool           `json:"is_valid"`
}

// IsTask reports whether the node dispatches work to an external collaborator
// (human, automation, AI, HTTP endpoint).
func (n *Node) IsTask() bool {
	switch n.Type {
	case NodeTypeTaskHuman, NodeTypeTaskAutomation, NodeTypeTaskAI, NodeTypeWebhook:
		return true
	default:
		return false
	}
}
