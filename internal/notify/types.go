// Package notify routes reconciler and connection events to the UI layer.
package notify

import (
	"context"
	"time"
)

// Event represents a user-facing notification about the core's state.
type Event struct {
	// Type is the event type (webhook.created, reconcile.failed, etc.)
	Type string

	// Connection is the connection id the event belongs to
	Connection string

	// Team is the team id, empty for connection-wide events
	Team string

	// Webhook is the remote webhook id (if applicable)
	Webhook string

	// Events is the subscribed event set after the change (if applicable)
	Events []string

	// Timestamp is when the event occurred
	Timestamp time.Time

	// Success indicates if the operation succeeded
	Success bool

	// Error contains a displayable message if the operation failed
	Error string
}

// Sender is the interface for notification senders.
type Sender interface {
	// Send delivers a notification for the given event.
	Send(ctx context.Context, event *Event) error

	// Name returns the sender's name for logging purposes.
	Name() string
}

// Event types published by the core.
const (
	EventWebhookCreated     = "webhook.created"
	EventWebhookUpdated     = "webhook.updated"
	EventWebhookDeleted     = "webhook.deleted"
	EventReconcileFailed    = "reconcile.failed"
	EventPermissionRequired = "permission.required"
	EventConnectionAdded    = "connection.added"
	EventConnectionRemoved  = "connection.removed"
	EventConnectionEvicted  = "connection.evicted"
)

// NewEvent creates a new event with the given type and sets the timestamp.
func NewEvent(eventType string) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Success:   true,
	}
}

// WithPair sets the connection and team on the event.
func (e *Event) WithPair(connection, team string) *Event {
	e.Connection = connection
	e.Team = team

	return e
}

// WithConnection sets the connection on the event.
func (e *Event) WithConnection(connection string) *Event {
	e.Connection = connection
	return e
}

// WithWebhook sets the webhook id and event set on the event.
func (e *Event) WithWebhook(id string, events []string) *Event {
	e.Webhook = id
	e.Events = append([]string(nil), events...)

	return e
}

// WithError sets the error on the event and marks it as failed.
func (e *Event) WithError(err string) *Event {
	e.Error = err
	e.Success = false

	return e
}
