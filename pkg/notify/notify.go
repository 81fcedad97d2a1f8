// Package notify announces accepted applications to downstream consumers
// such as the confirmation-email worker.
package notify

import (
	"context"
	"time"

	"aluastro/pkg/domain"
)

// EventApplicationSubmitted is the event type and AMQP routing key.
const EventApplicationSubmitted = "application.submitted"

// Notifier publishes application events.
type Notifier interface {
	ApplicationSubmitted(ctx context.Context, app domain.Application) error
}

// SubmittedEvent is the message body for EventApplicationSubmitted.
type SubmittedEvent struct {
	Type          string    `json:"type"`
	ApplicationID string    `json:"applicationId"`
	FullName      string    `json:"fullName"`
	Email         string    `json:"email"`
	HasCV         bool      `json:"hasCv"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// NewSubmittedEvent builds the event for a persisted application.
func NewSubmittedEvent(app domain.Application) SubmittedEvent {
	return SubmittedEvent{
		Type:          EventApplicationSubmitted,
		ApplicationID: app.ID,
		FullName:      app.FullName,
		Email:         app.Email,
		HasCV:         app.CVPath != nil,
		SubmittedAt:   app.CreatedAt,
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) ApplicationSubmitted(context.Context, domain.Application) error { return nil }
