package model

import (
	"slices"
	"sort"
)

// Events the provider can route to a push destination.
const (
	EventDeploymentCreated   = "deployment.created"
	EventDeploymentSucceeded = "deployment.succeeded"
	EventDeploymentError     = "deployment.error"
	EventDeploymentCanceled  = "deployment.canceled"
	EventProjectCreated      = "project.created"
	EventProjectRemoved      = "project.removed"
)

// KnownEvents returns the event names accepted by the reconciler
func KnownEvents() []string {
	return []string{
		EventDeploymentCreated,
		EventDeploymentSucceeded,
		EventDeploymentError,
		EventDeploymentCanceled,
		EventProjectCreated,
		EventProjectRemoved,
	}
}

// IsKnownEvent reports whether name is a supported event.
func IsKnownEvent(name string) bool {
	return slices.Contains(KnownEvents(), name)
}

// Webhook is a remote subscription tying a team and a push token to a set of events
type Webhook struct {
	ID     string   `json:"id"`
	Events []string `json:"events"`
	TeamID string   `json:"teamId"`

	// ConnectionID is annotated locally after fetch
	ConnectionID string `json:"-"`
}

// NormalizeEvents returns a sorted copy of events with duplicates removed.
func NormalizeEvents(events []string) []string {
	out := make([]string, 0, len(events))

	for _, e := range events {
		if e == "" {
			continue
		}

		out = append(out, e)
	}

	sort.Strings(out)

	return slices.Compact(out)
}

// SameEvents reports whether a and b hold the same events regardless of order.
func SameEvents(a, b []string) bool {
	return slices.Equal(NormalizeEvents(a), NormalizeEvents(b))
}
