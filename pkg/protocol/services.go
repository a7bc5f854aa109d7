package protocol

import (
	"context"

	"github.com/caravel-hq/caravel/pkg/models"
)

// Decision is the outcome of an AI decision request.
type Decision struct {
	Result    bool
	Rationale string
}

// TaskDecider answers AI requests made during execution: edge conditions of
// kind ai_decision and task_ai node prompts.
type TaskDecider interface {
	// Decide evaluates a yes/no question against the current branch data.
	Decide(ctx context.Context, question string, data map[string]any) (*Decision, error)

	// Complete runs a free-form prompt and returns structured output.
	Complete(ctx context.Context, prompt string, data map[string]any) (map[string]any, error)
}

// DraftService turns a natural-language description into a draft workflow
// graph. Drafts always come back in draft status and must pass validation
// before activation like any other workflow.
type DraftService interface {
	GenerateWorkflow(ctx context.Context, description string) (*models.Workflow, error)
}

// NotificationChannel delivers notification node messages. Implementations
// decide what the channel name maps to (chat room, mail alias, pager).
type NotificationChannel interface {
	Send(ctx context.Context, channel, message string, data map[string]any) error
}
