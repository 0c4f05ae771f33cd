package reconcile

import (
	"github.com/inovacc/deploywatch/internal/model"
)

// Status is the reconciler's view of a pair's remote webhook.
type Status int

const (
	// StatusUnknown means the remote state was not fetched yet
	StatusUnknown Status = iota

	// StatusAbsent means no remote webhook exists
	StatusAbsent

	// StatusPresent means a remote webhook exists with the confirmed events
	StatusPresent

	// StatusReconciling means a fetch, create, update or delete call is in flight
	StatusReconciling
)

func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "UNKNOWN"
	case StatusAbsent:
		return "ABSENT"
	case StatusPresent:
		return "PRESENT"
	case StatusReconciling:
		return "RECONCILING"
	}

	return "INVALID"
}

// PairState is a snapshot of one (connection, team) pair.
type PairState struct {
	Key    model.PairKey
	Status Status

	// WebhookID and Events describe the last confirmed remote webhook
	WebhookID string
	Events    []string

	// Desired is the event set the user asked for
	Desired []string

	// Pending is true while a coalescing timer is armed
	Pending bool

	// LastError is the failure of the most recent call, cleared on success
	LastError error
}

// Subscribed reports whether the pair has a live webhook.
func (s PairState) Subscribed() bool {
	return s.Status == StatusPresent || (s.Status == StatusReconciling && s.WebhookID != "")
}

type actionKind int

const (
	actNone actionKind = iota
	actFetch
	actCreate
	actUpdate
	actDelete
	actDeleteDuplicate
)

func (k actionKind) String() string {
	switch k {
	case actFetch:
		return "fetch"
	case actCreate:
		return "create"
	case actUpdate:
		return "update"
	case actDelete, actDeleteDuplicate:
		return "delete"
	}

	return "none"
}

// action is one planned network call.
type action struct {
	kind      actionKind
	teamID    string
	webhookID string
	token     string
	events    []string

	// desiredVersion is the desired-set version the action was planned from
	desiredVersion uint64

	// rotate is set when the delete makes room for a webhook on a new token
	rotate bool
}

// pair is the reconciler's record of one (connection, team) pair. Guarded by
// the reconciler's mutex.
type pair struct {
	key  model.PairKey
	conn model.Connection

	status    Status
	webhookID string
	events    []string
	hookToken string

	// duplicates are extra webhooks found for the same pair and token
	duplicates []string

	desired        []string
	desiredSet     bool
	desiredVersion uint64

	timer *coalescer

	inflight  bool
	executing bool
	dirty     bool
	removed   bool
	rejected  bool
	lastErr   error

	// stalled is set when a teardown delete failed while pushes were off;
	// cleared by the next push state change or connection removal
	stalled bool

	idle chan struct{}
}

func (p *pair) busy() bool {
	return p.inflight || p.timer.Pending()
}

func (p *pair) markBusy() {
	if p.idle == nil {
		p.idle = make(chan struct{})
	}
}

func (p *pair) markIdleIfDone() {
	if !p.busy() && p.idle != nil {
		close(p.idle)
		p.idle = nil
	}
}

func (p *pair) setDesired(events []string) {
	p.desired = model.NormalizeEvents(events)
	p.desiredSet = true
	p.desiredVersion++
}

func (p *pair) snapshot() PairState {
	st := PairState{
		Key:       p.key,
		Status:    p.status,
		WebhookID: p.webhookID,
		Events:    append([]string(nil), p.events...),
		Desired:   append([]string(nil), p.desired...),
		Pending:   p.timer.Pending(),
		LastError: p.lastErr,
	}

	if p.executing {
		st.Status = StatusReconciling
	}

	return st
}
