// Package service wires the connection store, the API gateway, the webhook
// reconciler, preferences, push registration and the widget mirror into the
// operations the CLI exposes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/inovacc/deploywatch/internal/api"
	"github.com/inovacc/deploywatch/internal/connection"
	"github.com/inovacc/deploywatch/internal/model"
	"github.com/inovacc/deploywatch/internal/notify"
	"github.com/inovacc/deploywatch/internal/preferences"
	"github.com/inovacc/deploywatch/internal/push"
	"github.com/inovacc/deploywatch/internal/reconcile"
	"github.com/inovacc/deploywatch/internal/widget"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoConnection is returned when no connection is given and none is current
	ErrNoConnection = errors.New("no connection selected")

	// ErrConnectionNotFound is returned for an unknown connection id
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrTeamNotFound is returned when the team is not visible to the connection
	ErrTeamNotFound = errors.New("team not found")

	// ErrNoTeam is returned when no team is given and the connection has none selected
	ErrNoTeam = errors.New("no team selected")
)

// syncConcurrency bounds how many connections are discovered at once.
const syncConcurrency = 4

// Gateway is the API surface the manager uses.
type Gateway interface {
	reconcile.Gateway

	GetUser(ctx context.Context, conn *model.Connection) (*api.User, error)
	ListTeams(ctx context.Context, conn *model.Connection) ([]model.Team, error)
	OnInvalidCredential(fn api.InvalidCredentialFunc)
}

// Options configures the manager
type Options struct {
	Gateway     Gateway
	Connections *connection.Store
	Preferences *preferences.Store
	Registrar   push.Registrar

	// Mirror is optional
	Mirror *widget.Mirror

	Publisher notify.Publisher
	Metrics   *reconcile.Metrics
	Debounce  time.Duration
	Logger    *slog.Logger
}

// Manager is the client core used by the CLI.
type Manager struct {
	gw        Gateway
	conns     *connection.Store
	prefs     *preferences.Store
	registrar push.Registrar
	mirror    *widget.Mirror
	rec       *reconcile.Reconciler
	logger    *slog.Logger

	mu    sync.RWMutex
	teams map[string][]model.Team
}

// New creates a manager and subscribes it to store and gateway events.
func New(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	prefs := opts.Preferences
	if prefs == nil {
		prefs = preferences.New(nil)
	}

	m := &Manager{
		gw:        opts.Gateway,
		conns:     opts.Connections,
		prefs:     prefs,
		registrar: opts.Registrar,
		mirror:    opts.Mirror,
		logger:    logger,
		teams:     make(map[string][]model.Team),
	}

	m.rec = reconcile.New(opts.Gateway, reconcile.Options{
		Debounce:  opts.Debounce,
		Publisher: opts.Publisher,
		Metrics:   opts.Metrics,
		Logger:    logger,
		OnSettled: m.settled,
		Requester: reconcile.PermissionRequesterFunc(func(ctx context.Context) (model.PushState, error) {
			return push.Request(ctx, m.registrar)
		}),
	})

	m.gw.OnInvalidCredential(func(ctx context.Context, id string) {
		m.conns.Evict(ctx, id)
	})

	m.conns.OnRemove(func(_ context.Context, conn model.Connection, evicted bool) {
		m.logger.Debug("tearing down connection",
			slog.String("connection", conn.ID),
			slog.Bool("evicted", evicted),
		)

		m.rec.RemoveConnection(conn.ID)

		m.mu.Lock()
		delete(m.teams, conn.ID)
		m.mu.Unlock()

		// Removed pairs never settle again
		m.refreshSubscribed()
	})

	m.conns.OnChange(func(conns []model.Connection) {
		if m.mirror != nil {
			m.mirror.SetConnections(conns)
		}
	})

	if m.mirror != nil {
		m.mirror.SetConnections(m.conns.List())
	}

	return m
}

// Reconciler returns the underlying reconciler.
func (m *Manager) Reconciler() *reconcile.Reconciler {
	return m.rec
}

// Connections returns the connection store.
func (m *Manager) Connections() *connection.Store {
	return m.conns
}

// Close drops pending toggles and waits for in-flight calls.
func (m *Manager) Close() {
	m.rec.Close()
}

// Flush waits until every pending toggle was sent and every call resolved.
func (m *Manager) Flush(ctx context.Context) error {
	return m.rec.WaitAll(ctx)
}

// States returns the state of every known pair.
func (m *Manager) States() []reconcile.PairState {
	return m.rec.States()
}

// Login verifies token, registers the account it belongs to and selects its
// first team.
func (m *Manager) Login(ctx context.Context, token string) (model.Connection, error) {
	user, err := m.gw.GetUser(ctx, &model.Connection{APIToken: token})
	if err != nil {
		return model.Connection{}, fmt.Errorf("failed to verify token: %w", err)
	}

	conn := model.Connection{
		ID:        user.ID,
		APIToken:  token,
		Username:  user.Username,
		CreatedAt: time.Now(),
	}

	if err := m.conns.Add(ctx, conn); err != nil {
		return model.Connection{}, err
	}

	teams, err := m.discover(ctx, conn)
	if err != nil {
		m.logger.Warn("failed to list teams after login",
			slog.String("connection", conn.ID),
			slog.String("error", err.Error()),
		)
	} else if len(teams) > 0 {
		m.conns.SetTeam(conn.ID, teams[0].ID)
	}

	if stored, ok := m.conns.Get(conn.ID); ok {
		conn = stored
	}

	return conn, nil
}

// Logout removes the connection and waits until its webhooks are torn down.
// Unknown ids report false.
func (m *Manager) Logout(ctx context.Context, id string) (bool, error) {
	removed, err := m.conns.Remove(ctx, id)
	if err != nil || !removed {
		return removed, err
	}

	return true, m.rec.WaitAll(ctx)
}

// Teams returns the teams of a connection, fetching them once per session.
func (m *Manager) Teams(ctx context.Context, connID string) ([]model.Team, error) {
	conn, err := m.connection(connID)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	teams, ok := m.teams[conn.ID]
	m.mu.RUnlock()

	if ok {
		return teams, nil
	}

	return m.discover(ctx, conn)
}

func (m *Manager) discover(ctx context.Context, conn model.Connection) ([]model.Team, error) {
	teams, err := m.gw.ListTeams(ctx, &conn)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.teams[conn.ID] = teams
	m.mu.Unlock()

	return teams, nil
}

// RefreshPush re-derives the push state and hands it to the reconciler.
func (m *Manager) RefreshPush(ctx context.Context) (model.PushState, error) {
	state, err := push.Derive(ctx, m.registrar)
	if err != nil {
		return model.PushState{}, fmt.Errorf("failed to read push state: %w", err)
	}

	m.rec.SetPush(state)

	return state, nil
}

// SyncAll discovers the teams of every connection and syncs every eligible
// pair. Failures are logged per pair; the first connection-level failure is
// returned after all connections were tried.
func (m *Manager) SyncAll(ctx context.Context) ([]reconcile.PairState, error) {
	var g errgroup.Group
	g.SetLimit(syncConcurrency)

	for _, conn := range m.conns.List() {
		if !conn.HasToken() {
			continue
		}

		g.Go(func() error {
			teams, err := m.discover(ctx, conn)
			if err != nil {
				if api.IsInvalidCredential(err) {
					return nil
				}

				return fmt.Errorf("failed to list teams for %s: %w", conn.ID, err)
			}

			for _, team := range teams {
				if !team.PushEligible() {
					continue
				}

				if err := m.sync(ctx, conn, team); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}

					m.logger.Warn("sync failed",
						slog.String("connection", conn.ID),
						slog.String("team", team.ID),
						slog.String("error", err.Error()),
					)
				}
			}

			return nil
		})
	}

	err := g.Wait()

	return m.rec.States(), err
}

func (m *Manager) sync(ctx context.Context, conn model.Connection, team model.Team) error {
	key := model.NewPairKey(conn.ID, team.ID)

	saved, err := m.prefs.EnabledEvents(key)
	if err != nil {
		return err
	}

	_, err = m.rec.Sync(ctx, conn, team, saved)

	return err
}

// Toggle enables or disables one event on a pair. Empty ids select the
// current connection and its current team.
func (m *Manager) Toggle(ctx context.Context, connID, teamID, event string, enabled bool) (reconcile.PairState, error) {
	conn, team, err := m.prepare(ctx, connID, teamID)
	if err != nil {
		return reconcile.PairState{}, err
	}

	return m.rec.Toggle(ctx, conn, team, event, enabled)
}

// SetEvents replaces the enabled events of a pair.
func (m *Manager) SetEvents(ctx context.Context, connID, teamID string, events []string) (reconcile.PairState, error) {
	conn, team, err := m.prepare(ctx, connID, teamID)
	if err != nil {
		return reconcile.PairState{}, err
	}

	return m.rec.SetEvents(ctx, conn, team, events)
}

// prepare resolves the pair and syncs it so the toggle applies on top of the
// remote state.
func (m *Manager) prepare(ctx context.Context, connID, teamID string) (model.Connection, model.Team, error) {
	conn, team, err := m.resolve(ctx, connID, teamID)
	if err != nil {
		return model.Connection{}, model.Team{}, err
	}

	if !team.PushEligible() {
		return model.Connection{}, model.Team{}, reconcile.ErrNotEligible
	}

	if err := m.sync(ctx, conn, team); err != nil {
		if ctx.Err() != nil {
			return model.Connection{}, model.Team{}, ctx.Err()
		}

		// The toggle itself is the retry
		m.logger.Debug("sync before toggle failed", slog.String("error", err.Error()))
	}

	return conn, team, nil
}

func (m *Manager) connection(id string) (model.Connection, error) {
	if id == "" {
		conn, ok := m.conns.Current()
		if !ok {
			return model.Connection{}, ErrNoConnection
		}

		return conn, nil
	}

	conn, ok := m.conns.Get(id)
	if !ok {
		return model.Connection{}, fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
	}

	return conn, nil
}

func (m *Manager) resolve(ctx context.Context, connID, teamID string) (model.Connection, model.Team, error) {
	conn, err := m.connection(connID)
	if err != nil {
		return model.Connection{}, model.Team{}, err
	}

	if teamID == "" {
		teamID = conn.CurrentTeamID
	}

	if teamID == "" {
		return model.Connection{}, model.Team{}, ErrNoTeam
	}

	teams, err := m.Teams(ctx, conn.ID)
	if err != nil {
		return model.Connection{}, model.Team{}, fmt.Errorf("failed to list teams: %w", err)
	}

	for _, t := range teams {
		if t.ID == teamID || t.Slug == teamID {
			return conn, t, nil
		}
	}

	return model.Connection{}, model.Team{}, fmt.Errorf("%w: %s", ErrTeamNotFound, teamID)
}

// settled persists the desired events of a pair once its remote state is
// known and refreshes the widget's subscribed flag.
func (m *Manager) settled(st reconcile.PairState) {
	if st.Status != reconcile.StatusUnknown {
		if err := m.prefs.SaveEnabledEvents(st.Key, st.Desired); err != nil {
			m.logger.Warn("failed to save preferences",
				slog.String("pair", st.Key.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	m.refreshSubscribed()
}

// refreshSubscribed mirrors whether any live pair holds a webhook.
func (m *Manager) refreshSubscribed() {
	if m.mirror == nil {
		return
	}

	subscribed := false

	for _, s := range m.rec.States() {
		if s.Subscribed() {
			subscribed = true
			break
		}
	}

	m.mirror.SetSubscribed(subscribed)
}
