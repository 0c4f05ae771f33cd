// Package reconcile drives the remote push webhooks of every eligible
// (connection, team) pair toward the state the user asked for.
//
// Each pair moves between UNKNOWN, ABSENT, PRESENT and RECONCILING. Event
// toggles are coalesced per pair behind a quiet period and sent as the full
// desired set. Losing push permission or removing a connection cancels any
// pending toggle and deletes the pair's webhook. Only one call per pair is in
// flight at a time; changes arriving meanwhile are folded into the next call.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/inovacc/deploywatch/internal/api"
	"github.com/inovacc/deploywatch/internal/model"
	"github.com/inovacc/deploywatch/internal/notify"
	"github.com/inovacc/deploywatch/internal/push"
)

// DefaultDebounce is the quiet period before toggled events are sent.
const DefaultDebounce = time.Second

var (
	// ErrNotEligible is returned for teams whose plan has no push notifications
	ErrNotEligible = errors.New("team plan does not include push notifications")

	// ErrPermissionDenied is returned when a toggle needs push permission the user did not grant
	ErrPermissionDenied = push.ErrPermissionDenied

	// ErrUnknownEvent is returned when toggling an event the provider does not route
	ErrUnknownEvent = errors.New("unknown event")
)

// Failure is the recoverable error recorded when a remote call fails.
type Failure struct {
	Key model.PairKey
	Op  string
	Err error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("failed to %s webhook for %s: %v", f.Op, f.Key, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Gateway is the subset of the API client the reconciler calls.
type Gateway interface {
	ListWebhooks(ctx context.Context, conn model.Connection, teamID, pushToken string) ([]model.Webhook, error)
	CreateWebhook(ctx context.Context, conn model.Connection, teamID, pushToken string, events []string) (*model.Webhook, error)
	UpdateWebhook(ctx context.Context, conn model.Connection, teamID, id string, events []string) (*model.Webhook, error)
	DeleteWebhook(ctx context.Context, conn model.Connection, teamID, id string) error
}

// PermissionRequester runs the push permission request flow and returns the
// resulting push state.
type PermissionRequester interface {
	RequestPermission(ctx context.Context) (model.PushState, error)
}

// PermissionRequesterFunc adapts a function to PermissionRequester.
type PermissionRequesterFunc func(ctx context.Context) (model.PushState, error)

func (f PermissionRequesterFunc) RequestPermission(ctx context.Context) (model.PushState, error) {
	return f(ctx)
}

// Options configures the reconciler
type Options struct {
	// Debounce is the coalescing quiet period, DefaultDebounce when zero
	Debounce time.Duration

	// Requester is asked for permission when a toggle arrives without it
	Requester PermissionRequester

	Publisher notify.Publisher
	Metrics   *Metrics

	// OnSettled is called after every pass with the pair's resulting state
	OnSettled func(PairState)

	Logger *slog.Logger
}

// Reconciler owns the per-pair state machines.
type Reconciler struct {
	gw        Gateway
	debounce  time.Duration
	requester PermissionRequester
	publisher notify.Publisher
	metrics   *Metrics
	onSettled func(PairState)
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	push   model.PushState
	pairs  map[model.PairKey]*pair
	closed bool
}

// New creates a reconciler calling gw.
func New(gw Gateway, opts Options) *Reconciler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Reconciler{
		gw:        gw,
		debounce:  debounce,
		requester: opts.Requester,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		onSettled: opts.OnSettled,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		pairs:     make(map[model.PairKey]*pair),
	}
}

// Push returns the push state the reconciler currently acts on.
func (r *Reconciler) Push() model.PushState {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.push
}

// SetPush records a freshly derived push state. When pushes can no longer be
// delivered every pending toggle is dropped and every live webhook is deleted,
// including webhooks whose create is still in flight.
func (r *Reconciler) SetPush(state model.PushState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := r.push != state
	if changed {
		r.logger.Debug("push state changed",
			slog.Bool("granted", state.Granted),
			slog.Bool("token", state.Token != ""),
		)
	}

	r.push = state

	for _, p := range r.pairs {
		if changed {
			p.stalled = false
		}

		if !state.Deliverable() {
			p.timer.Cancel()

			if changed && p.desiredSet && len(p.desired) > 0 {
				p.setDesired(nil)
			}
		}

		r.kickLocked(p)
	}
}

// Sync registers the pair for conn and team and fetches its remote webhook
// when the state is still unknown. saved seeds the desired events; nil means
// nothing was saved and the remote events are adopted. A pair already in its
// desired state makes no calls.
//
// Sync only blocks while it fetches an unknown pair. For a known pair, or one
// with a coalescing window open, it returns the current snapshot at once so
// pending toggles keep coalescing.
func (r *Reconciler) Sync(ctx context.Context, conn model.Connection, team model.Team, saved []string) (PairState, error) {
	if !team.PushEligible() {
		return PairState{}, ErrNotEligible
	}

	key := model.NewPairKey(conn.ID, team.ID)

	r.mu.Lock()

	p := r.ensureLocked(conn, key)
	if p.removed {
		r.mu.Unlock()
		return PairState{Key: key}, nil
	}

	if saved != nil && !p.desiredSet {
		p.setDesired(saved)
	}

	fetching := p.status == StatusUnknown && !p.timer.Pending()

	r.kickLocked(p)

	if !fetching {
		st := p.snapshot()
		r.mu.Unlock()

		return st, st.LastError
	}

	r.mu.Unlock()

	if err := r.Wait(ctx, key); err != nil {
		return PairState{}, err
	}

	st, _ := r.State(key)

	return st, st.LastError
}

// Toggle enables or disables one event for the pair. The change is sent after
// the quiet period together with every other change made in the meantime.
func (r *Reconciler) Toggle(ctx context.Context, conn model.Connection, team model.Team, event string, enabled bool) (PairState, error) {
	if !model.IsKnownEvent(event) {
		return PairState{}, fmt.Errorf("%w: %s", ErrUnknownEvent, event)
	}

	return r.change(ctx, conn, team, func(current []string) []string {
		next := slices.DeleteFunc(slices.Clone(current), func(e string) bool { return e == event })
		if enabled {
			next = append(next, event)
		}

		return next
	})
}

// SetEvents replaces the whole desired event set of the pair.
func (r *Reconciler) SetEvents(ctx context.Context, conn model.Connection, team model.Team, events []string) (PairState, error) {
	for _, e := range events {
		if !model.IsKnownEvent(e) {
			return PairState{}, fmt.Errorf("%w: %s", ErrUnknownEvent, e)
		}
	}

	return r.change(ctx, conn, team, func([]string) []string {
		return slices.Clone(events)
	})
}

func (r *Reconciler) change(ctx context.Context, conn model.Connection, team model.Team, mutate func([]string) []string) (PairState, error) {
	if !team.PushEligible() {
		return PairState{}, ErrNotEligible
	}

	key := model.NewPairKey(conn.ID, team.ID)

	if err := r.ensurePermission(ctx, key); err != nil {
		return PairState{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.ensureLocked(conn, key)
	if p.removed {
		return PairState{Key: key}, nil
	}

	next := model.NormalizeEvents(mutate(p.desired))

	if p.desiredSet && slices.Equal(next, p.desired) {
		if !p.timer.Pending() {
			r.kickLocked(p)
		}

		return p.snapshot(), nil
	}

	if p.timer.Pending() {
		r.metrics.recordCoalesced()
	}

	p.setDesired(next)
	p.markBusy()
	p.timer.Reset(func(gen uint64) { r.fire(key, gen) })

	return p.snapshot(), nil
}

// ensurePermission runs the permission flow when pushes cannot be delivered.
func (r *Reconciler) ensurePermission(ctx context.Context, key model.PairKey) error {
	r.mu.Lock()
	deliverable := r.push.Deliverable()
	r.mu.Unlock()

	if deliverable {
		return nil
	}

	r.publish(ctx, notify.NewEvent(notify.EventPermissionRequired).WithPair(key.ConnectionID, key.TeamID))

	if r.requester == nil {
		return ErrPermissionDenied
	}

	state, err := r.requester.RequestPermission(ctx)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			return ErrPermissionDenied
		}

		return fmt.Errorf("failed to request push permission: %w", err)
	}

	if !state.Deliverable() {
		return ErrPermissionDenied
	}

	r.SetPush(state)

	return nil
}

// RemoveConnection tears down every pair of the connection: pending toggles
// are dropped and live webhooks deleted with the connection's last credential.
// Other connections are untouched. Unknown ids are a no-op.
func (r *Reconciler) RemoveConnection(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.pairs {
		if p.key.ConnectionID != id || p.removed {
			continue
		}

		p.removed = true
		p.stalled = false
		p.timer.Cancel()
		r.kickLocked(p)
	}
}

// State returns a snapshot of one pair.
func (r *Reconciler) State(key model.PairKey) (PairState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pairs[key]
	if !ok {
		return PairState{Key: key}, false
	}

	return p.snapshot(), true
}

// States returns snapshots of all pairs ordered by key.
func (r *Reconciler) States() []PairState {
	r.mu.Lock()

	out := make([]PairState, 0, len(r.pairs))
	for _, p := range r.pairs {
		if p.removed {
			continue
		}

		out = append(out, p.snapshot())
	}

	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})

	return out
}

// Wait blocks until the pair has no pending toggle and no call in flight.
func (r *Reconciler) Wait(ctx context.Context, key model.PairKey) error {
	for {
		r.mu.Lock()

		p, ok := r.pairs[key]
		if !ok || !p.busy() {
			r.mu.Unlock()
			return nil
		}

		idle := p.idle
		r.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WaitAll blocks until every pair is idle.
func (r *Reconciler) WaitAll(ctx context.Context) error {
	r.mu.Lock()

	keys := make([]model.PairKey, 0, len(r.pairs))
	for k := range r.pairs {
		keys = append(keys, k)
	}

	r.mu.Unlock()

	for _, k := range keys {
		if err := r.Wait(ctx, k); err != nil {
			return err
		}
	}

	return nil
}

// Close drops pending toggles and waits for in-flight calls to finish.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.closed = true

	for _, p := range r.pairs {
		p.timer.Cancel()
		p.markIdleIfDone()
	}

	r.mu.Unlock()

	r.wg.Wait()
	r.cancel()
}

func (r *Reconciler) ensureLocked(conn model.Connection, key model.PairKey) *pair {
	p, ok := r.pairs[key]
	if !ok {
		p = &pair{
			key:    key,
			status: StatusUnknown,
			timer:  newCoalescer(r.debounce),
		}
		r.pairs[key] = p
	}

	if !p.removed {
		p.conn = conn
	}

	return p
}

// fire runs when a pair's coalescing timer expires.
func (r *Reconciler) fire(key model.PairKey, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pairs[key]
	if !ok || !p.timer.Claim(gen) {
		return
	}

	r.kickLocked(p)
}

// kickLocked starts a pass when the pair needs one, or queues the change when
// a pass is already running.
func (r *Reconciler) kickLocked(p *pair) {
	if p.inflight {
		p.dirty = true
		return
	}

	// An armed timer starts the pass once the quiet period ends
	if p.timer.Pending() {
		return
	}

	if r.closed || r.planLocked(p).kind == actNone {
		if p.removed {
			r.dropLocked(p)
			return
		}

		p.markIdleIfDone()

		return
	}

	p.inflight = true
	p.markBusy()

	r.wg.Add(1)

	go r.run(p)
}

func (r *Reconciler) dropLocked(p *pair) {
	p.timer.Cancel()

	if cur, ok := r.pairs[p.key]; ok && cur == p {
		delete(r.pairs, p.key)
	}

	if p.idle != nil {
		close(p.idle)
		p.idle = nil
	}
}

// planLocked decides the next call for p from its confirmed and desired state.
func (r *Reconciler) planLocked(p *pair) action {
	if p.rejected || p.stalled {
		return action{}
	}

	act := action{teamID: p.key.TeamID, desiredVersion: p.desiredVersion}
	deliverable := r.push.Deliverable() && !p.removed

	if len(p.duplicates) > 0 {
		act.kind = actDeleteDuplicate
		act.webhookID = p.duplicates[0]

		return act
	}

	switch p.status {
	case StatusUnknown:
		if deliverable {
			act.kind = actFetch
			act.token = r.push.Token
		}
	case StatusAbsent:
		if deliverable && len(p.desired) > 0 {
			act.kind = actCreate
			act.token = r.push.Token
			act.events = slices.Clone(p.desired)
		}
	case StatusPresent:
		switch {
		case !deliverable || len(p.desired) == 0:
			act.kind = actDelete
			act.webhookID = p.webhookID
		case p.hookToken != r.push.Token:
			act.kind = actDelete
			act.webhookID = p.webhookID
			act.rotate = true
		case !model.SameEvents(p.desired, p.events):
			act.kind = actUpdate
			act.webhookID = p.webhookID
			act.events = slices.Clone(p.desired)
		}
	}

	return act
}

// run executes calls for p until it reaches its desired state, a call fails,
// or nothing new arrived while the last call was in flight.
func (r *Reconciler) run(p *pair) {
	defer r.wg.Done()

	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		// Planning waits while a coalescing timer is armed
		if act := r.planLocked(p); act.kind != actNone && !p.timer.Pending() {
			p.dirty = false
			p.executing = true
			conn := p.conn
			r.mu.Unlock()

			hook, hooks, err := r.execute(conn, act)

			r.mu.Lock()
			p.executing = false

			// Listeners run unlocked; changes made meanwhile mark the pair dirty
			if ev := r.applyLocked(p, act, hook, hooks, err); ev != nil {
				r.mu.Unlock()
				r.publish(r.ctx, ev)
				r.mu.Lock()
			}

			if p.dirty {
				continue
			}
		}

		if r.onSettled != nil && !p.removed {
			state := p.snapshot()
			p.dirty = false
			r.mu.Unlock()
			r.onSettled(state)
			r.mu.Lock()

			if p.dirty {
				continue
			}
		}

		break
	}

	p.inflight = false

	if p.removed {
		r.dropLocked(p)
		return
	}

	p.markIdleIfDone()
}

func (r *Reconciler) execute(conn model.Connection, act action) (*model.Webhook, []model.Webhook, error) {
	var (
		hook  *model.Webhook
		hooks []model.Webhook
		err   error
		start = time.Now()
	)

	switch act.kind {
	case actFetch:
		hooks, err = r.gw.ListWebhooks(r.ctx, conn, act.teamID, act.token)
	case actCreate:
		hook, err = r.gw.CreateWebhook(r.ctx, conn, act.teamID, act.token, act.events)
	case actUpdate:
		hook, err = r.gw.UpdateWebhook(r.ctx, conn, act.teamID, act.webhookID, act.events)
	case actDelete, actDeleteDuplicate:
		err = r.gw.DeleteWebhook(r.ctx, conn, act.teamID, act.webhookID)
		if api.IsNotFound(err) {
			r.logger.Debug("webhook already gone", slog.String("webhook", act.webhookID))
			err = nil
		}
	}

	r.metrics.recordCall(act.kind.String(), err, time.Since(start))

	return hook, hooks, err
}

// applyLocked folds the outcome of act into p and returns the event to publish.
func (r *Reconciler) applyLocked(p *pair, act action, hook *model.Webhook, hooks []model.Webhook, err error) *notify.Event {
	key := p.key

	if err != nil {
		p.lastErr = &Failure{Key: key, Op: act.kind.String(), Err: err}

		if api.IsInvalidCredential(err) {
			p.rejected = true
		}

		// A failed teardown waits for the next push change instead of
		// being retried on every pass
		if act.kind == actDelete && !act.rotate && !r.push.Deliverable() {
			p.stalled = true
		}

		// The toggle that caused the call appears to revert
		if act.kind != actFetch && p.desiredVersion == act.desiredVersion {
			if p.status == StatusPresent {
				p.desired = slices.Clone(p.events)
			} else {
				p.desired = nil
			}
		}

		r.logger.Warn("webhook reconciliation failed",
			slog.String("connection", key.ConnectionID),
			slog.String("team", key.TeamID),
			slog.String("op", act.kind.String()),
			slog.String("error", err.Error()),
		)

		return notify.NewEvent(notify.EventReconcileFailed).
			WithPair(key.ConnectionID, key.TeamID).
			WithError(p.lastErr.Error())
	}

	p.lastErr = nil

	switch act.kind {
	case actFetch:
		p.duplicates = nil
		p.hookToken = act.token

		if len(hooks) == 0 {
			p.status = StatusAbsent
			p.webhookID = ""
			p.events = nil
		} else {
			p.status = StatusPresent
			p.webhookID = hooks[0].ID
			p.events = model.NormalizeEvents(hooks[0].Events)

			for _, extra := range hooks[1:] {
				p.duplicates = append(p.duplicates, extra.ID)
			}
		}

		if !p.desiredSet {
			p.desired = slices.Clone(p.events)
			p.desiredSet = true
		}

		p.dirty = true

		return nil

	case actCreate:
		p.status = StatusPresent
		p.webhookID = ""

		if hook != nil {
			p.webhookID = hook.ID
		}

		p.events = act.events
		p.hookToken = act.token

		return notify.NewEvent(notify.EventWebhookCreated).
			WithPair(key.ConnectionID, key.TeamID).
			WithWebhook(p.webhookID, p.events)

	case actUpdate:
		p.events = act.events
		if hook != nil && hook.ID != "" {
			p.webhookID = hook.ID
		}

		return notify.NewEvent(notify.EventWebhookUpdated).
			WithPair(key.ConnectionID, key.TeamID).
			WithWebhook(p.webhookID, p.events)

	case actDelete:
		p.status = StatusAbsent
		p.webhookID = ""
		p.events = nil
		p.hookToken = ""

		if act.rotate {
			p.dirty = true
		}

		return notify.NewEvent(notify.EventWebhookDeleted).
			WithPair(key.ConnectionID, key.TeamID).
			WithWebhook(act.webhookID, nil)

	case actDeleteDuplicate:
		p.duplicates = slices.DeleteFunc(p.duplicates, func(id string) bool { return id == act.webhookID })
		p.dirty = true

		return notify.NewEvent(notify.EventWebhookDeleted).
			WithPair(key.ConnectionID, key.TeamID).
			WithWebhook(act.webhookID, nil)
	}

	return nil
}

func (r *Reconciler) publish(ctx context.Context, event *notify.Event) {
	if r.publisher != nil {
		r.publisher.Dispatch(ctx, event)
	}
}
