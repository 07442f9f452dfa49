// Package queue defines message payloads exchanged over the message broker.
package queue

// EventType distinguishes account notifications.
type EventType string

const (
	EventRegistration EventType = "registration"
	EventApproved     EventType = "approved"
	EventRejected     EventType = "rejected"
)

// UserNotificationEvent is published when an account is registered or an
// admin decides on it. It carries everything the consumer needs to render
// the email without querying the primary database.
type UserNotificationEvent struct {
	Type       EventType `json:"type"`
	To         string    `json:"to"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt string    `json:"occurred_at"`
}
