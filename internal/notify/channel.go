// Package notify delivers short text messages to people outside the system:
// OTP codes by email and emergency alerts over WhatsApp.
package notify

import "context"

type Message struct {
	To      string
	Subject string
	Body    string
}

// Channel sends a message to a single recipient.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}
