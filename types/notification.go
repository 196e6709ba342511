package types

import (
	"time"

	"github.com/google/uuid"
)

// NotificationKind identifies the event behind a notification.
type NotificationKind string

const (
	NotificationUserCreated     NotificationKind = "user.created"
	NotificationPasswordChanged NotificationKind = "user.password_changed"
)

// Notification is published on the message queue and turned into an email
// by the worker.
type Notification struct {
	// Kind selects the mail template.
	Kind NotificationKind `json:"kind"`

	// UserID identifies the account the event is about.
	UserID uuid.UUID `json:"user_id"`

	// Email is the recipient address.
	Email string `json:"email"`

	// Name is used to greet the recipient.
	Name string `json:"name"`

	// OccurredAt is when the event happened.
	OccurredAt time.Time `json:"occurred_at"`
}
