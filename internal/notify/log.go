package notify

import (
	"context"

	"bloodbank-auth/internal/observability"
)

// LogChannel writes messages to the logger instead of delivering them. It is
// used in development when no transport is configured.
type LogChannel struct {
	name   string
	logger *observability.Logger
}

func NewLogChannel(name string, logger *observability.Logger) *LogChannel {
	return &LogChannel{name: name, logger: logger}
}

func (c *LogChannel) Send(_ context.Context, msg Message) error {
	c.logger.Info("notification_logged", map[string]any{
		"channel": c.name,
		"to":      msg.To,
		"subject": msg.Subject,
		"body":    msg.Body,
	})
	return nil
}
