// Package notify holds NotificationChannel implementations. The slog channel
// writes messages to the process log; deployments wire a real channel
// (chat, mail, pager) in its place.
package notify

import (
	"context"
	"log/slog"
)

// SlogChannel delivers notification messages to the process log.
type SlogChannel struct {
	logger *slog.Logger
}

// NewSlogChannel creates a log-backed notification channel.
func NewSlogChannel(logger *slog.Logger) *SlogChannel {
	return &SlogChannel{logger: logger.With("module", "notify")}
}

// Send logs the message with its channel name and branch data.
func (c *SlogChannel) Send(ctx context.Context, channel, message string, data map[string]any) error {
	c.logger.InfoContext(ctx, "Notification",
		"channel", channel,
		"message", message,
		"data", data,
	)

	return nil
}
