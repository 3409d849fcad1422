// Package emergency sends SOS alerts to an account's emergency contacts.
package emergency

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bloodbank-auth/internal/apperr"
	"bloodbank-auth/internal/auth"
	"bloodbank-auth/internal/notify"
	"bloodbank-auth/internal/observability"
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"

	defaultSendDelay = 500 * time.Millisecond
)

type Alert struct {
	Type        string `json:"type"`
	Urgency     string `json:"urgency"`
	PatientName string `json:"patientName"`
	Location    string `json:"location"`
	BloodType   string `json:"bloodType,omitempty"`
	OrganType   string `json:"organType,omitempty"`
}

type ContactResult struct {
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type Service struct {
	channel notify.Channel
	logger  *observability.Logger
	delay   time.Duration
}

// NewService sends through channel, pausing delay between contacts.
func NewService(channel notify.Channel, logger *observability.Logger, delay time.Duration) *Service {
	if delay < 0 {
		delay = defaultSendDelay
	}
	return &Service{channel: channel, logger: logger, delay: delay}
}

// Send delivers alert to every emergency contact of sender. A failed contact
// does not stop the others; each gets its own result.
func (s *Service) Send(ctx context.Context, sender auth.Account, alert Alert) ([]ContactResult, error) {
	if strings.TrimSpace(alert.Type) == "" {
		return nil, apperr.Validation("Emergency type is required")
	}
	contacts := sender.PersonalInfo.EmergencyContacts
	if len(contacts) == 0 {
		return nil, apperr.Validation("No emergency contacts available for this user")
	}

	body := composeAlert(sender, alert)
	results := make([]ContactResult, 0, len(contacts))
	for i, contact := range contacts {
		result := ContactResult{Name: contact.Name, Phone: contact.Phone, Status: StatusSent}

		if err := s.channel.Send(ctx, notify.Message{To: contact.Phone, Body: body}); err != nil {
			result.Status = StatusFailed
			result.Error = err.Error()
			s.logger.Warn("emergency_alert_failed", map[string]any{
				"account_id": sender.ID,
				"phone":      contact.Phone,
				"error":      err.Error(),
			})
		}
		results = append(results, result)

		if i < len(contacts)-1 {
			if err := wait(ctx, s.delay); err != nil {
				for _, rest := range contacts[i+1:] {
					results = append(results, ContactResult{Name: rest.Name, Phone: rest.Phone, Status: StatusFailed, Error: err.Error()})
				}
				break
			}
		}
	}

	s.logger.Info("emergency_alert_sent", map[string]any{
		"account_id": sender.ID,
		"contacts":   len(results),
		"type":       alert.Type,
	})

	return results, nil
}

func composeAlert(sender auth.Account, alert Alert) string {
	required := alert.BloodType
	if required == "" {
		required = alert.OrganType
	}
	if required == "" {
		required = "N/A"
	}
	name := sender.FullName
	if name == "" {
		name = sender.Username
	}

	var b strings.Builder
	b.WriteString("🚨 *Emergency SOS Alert* 🚨\n")
	fmt.Fprintf(&b, "Type: %s\n", alert.Type)
	fmt.Fprintf(&b, "Urgency: %s\n", alert.Urgency)
	fmt.Fprintf(&b, "Patient: %s\n", alert.PatientName)
	fmt.Fprintf(&b, "Location: %s\n", alert.Location)
	fmt.Fprintf(&b, "Required: %s\n\n", required)
	fmt.Fprintf(&b, "Sent by: %s", name)
	return b.String()
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
