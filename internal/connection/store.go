// Package connection holds the locally registered accounts and decides which
// one is current. It is the single writer of connection credentials.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/inovacc/deploywatch/internal/database"
	"github.com/inovacc/deploywatch/internal/model"
	"github.com/inovacc/deploywatch/internal/notify"
)

var (
	// ErrConnectionExists is returned when adding a connection whose id is already stored
	ErrConnectionExists = errors.New("connection already exists")

	// ErrInvalidConnection is returned when adding a connection without id
	ErrInvalidConnection = errors.New("connection id is required")
)

// RemoveFunc is called after a connection left the store. evicted is true when
// the removal was caused by a rejected credential.
type RemoveFunc func(ctx context.Context, conn model.Connection, evicted bool)

// ChangeFunc is called with the full connection list after every mutation.
type ChangeFunc func(conns []model.Connection)

// Options configures the store
type Options struct {
	Logger    *slog.Logger
	Publisher notify.Publisher
}

// Store is the connection store. A nil database keeps everything in memory.
type Store struct {
	db        database.Store
	logger    *slog.Logger
	publisher notify.Publisher

	mu        sync.RWMutex
	byID      map[string]model.Connection
	order     []string
	currentID string

	listenerMu sync.RWMutex
	onRemove   []RemoveFunc
	onChange   []ChangeFunc
}

// Open loads the persisted connections from db.
func Open(db database.Store, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		db:        db,
		logger:    logger,
		publisher: opts.Publisher,
		byID:      make(map[string]model.Connection),
	}

	if db == nil {
		return s, nil
	}

	conns, err := db.ListConnections()
	if err != nil {
		return nil, fmt.Errorf("failed to load connections: %w", err)
	}

	for _, c := range conns {
		s.byID[c.ID] = c
		s.order = append(s.order, c.ID)
	}

	current, err := db.GetCurrentConnection()
	if err != nil {
		return nil, fmt.Errorf("failed to load current connection: %w", err)
	}

	if _, ok := s.byID[current]; ok {
		s.currentID = current
	} else if len(s.order) > 0 {
		s.currentID = s.order[0]
	}

	return s, nil
}

// OnRemove registers fn to run after every removal or eviction.
func (s *Store) OnRemove(fn RemoveFunc) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	s.onRemove = append(s.onRemove, fn)
}

// OnChange registers fn to run after every mutation.
func (s *Store) OnChange(fn ChangeFunc) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	s.onChange = append(s.onChange, fn)
}

// Add inserts conn. The first connection becomes current.
func (s *Store) Add(ctx context.Context, conn model.Connection) error {
	if conn.ID == "" {
		return ErrInvalidConnection
	}

	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = time.Now()
	}

	s.mu.Lock()

	if _, exists := s.byID[conn.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrConnectionExists, conn.ID)
	}

	if s.db != nil {
		if err := s.db.SaveConnection(&conn); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("failed to save connection: %w", err)
		}
	}

	s.byID[conn.ID] = conn
	s.order = append(s.order, conn.ID)

	if s.currentID == "" {
		s.currentID = conn.ID
		s.persistCurrentLocked()
	}

	s.mu.Unlock()

	s.logger.Info("connection added", slog.String("connection", conn.ID))
	s.publish(ctx, notify.NewEvent(notify.EventConnectionAdded).WithConnection(conn.ID))
	s.changed()

	return nil
}

// Remove deletes the connection with id. Unknown ids are a no-op and report false.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	return s.remove(ctx, id, false)
}

// Evict removes a connection whose credential was rejected by the API.
func (s *Store) Evict(ctx context.Context, id string) {
	removed, err := s.remove(ctx, id, true)
	if err != nil {
		s.logger.Warn("failed to evict connection",
			slog.String("connection", id),
			slog.String("error", err.Error()),
		)

		return
	}

	if removed {
		s.logger.Warn("connection evicted: credential rejected", slog.String("connection", id))
	}
}

func (s *Store) remove(ctx context.Context, id string, evicted bool) (bool, error) {
	s.mu.Lock()

	conn, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}

	if s.db != nil {
		if err := s.db.DeleteConnection(id); err != nil {
			s.mu.Unlock()
			return false, fmt.Errorf("failed to delete connection: %w", err)
		}
	}

	delete(s.byID, id)
	s.order = slices.DeleteFunc(s.order, func(o string) bool { return o == id })

	if s.currentID == id {
		s.currentID = ""
		if len(s.order) > 0 {
			s.currentID = s.order[0]
		}

		s.persistCurrentLocked()
	}

	s.mu.Unlock()

	eventType := notify.EventConnectionRemoved
	if evicted {
		eventType = notify.EventConnectionEvicted
	}

	s.publish(ctx, notify.NewEvent(eventType).WithConnection(id))

	s.listenerMu.RLock()
	listeners := slices.Clone(s.onRemove)
	s.listenerMu.RUnlock()

	for _, fn := range listeners {
		fn(ctx, conn, evicted)
	}

	s.changed()

	return true, nil
}

// Switch makes id current and, when teamID is not empty, selects that team.
// It reports false without changing anything when id is unknown.
func (s *Store) Switch(id, teamID string) bool {
	s.mu.Lock()

	conn, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		s.logger.Debug("switch to unknown connection ignored", slog.String("connection", id))

		return false
	}

	s.currentID = id
	s.persistCurrentLocked()

	if teamID != "" && conn.CurrentTeamID != teamID {
		conn.CurrentTeamID = teamID
		s.byID[id] = conn
		s.persistConnLocked(conn)
	}

	s.mu.Unlock()
	s.changed()

	return true
}

// SetTeam selects the current team of a connection without changing the
// current connection. It reports false when id is unknown.
func (s *Store) SetTeam(id, teamID string) bool {
	s.mu.Lock()

	conn, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return false
	}

	conn.CurrentTeamID = teamID
	s.byID[id] = conn
	s.persistConnLocked(conn)
	s.mu.Unlock()

	s.changed()

	return true
}

// Current returns the current connection.
func (s *Store) Current() (model.Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, ok := s.byID[s.currentID]

	return conn, ok
}

// Get returns the connection with id.
func (s *Store) Get(id string) (model.Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, ok := s.byID[id]

	return conn, ok
}

// List returns all connections in insertion order.
func (s *Store) List() []model.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listLocked()
}

// Len returns the number of stored connections.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.order)
}

func (s *Store) listLocked() []model.Connection {
	out := make([]model.Connection, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}

	return out
}

func (s *Store) persistCurrentLocked() {
	if s.db == nil {
		return
	}

	if err := s.db.SetCurrentConnection(s.currentID); err != nil {
		s.logger.Warn("failed to persist current connection", slog.String("error", err.Error()))
	}
}

func (s *Store) persistConnLocked(conn model.Connection) {
	if s.db == nil {
		return
	}

	if err := s.db.SaveConnection(&conn); err != nil {
		s.logger.Warn("failed to persist connection",
			slog.String("connection", conn.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Store) publish(ctx context.Context, event *notify.Event) {
	if s.publisher != nil {
		s.publisher.Dispatch(ctx, event)
	}
}

func (s *Store) changed() {
	s.listenerMu.RLock()
	listeners := slices.Clone(s.onChange)
	s.listenerMu.RUnlock()

	if len(listeners) == 0 {
		return
	}

	conns := s.List()
	for _, fn := range listeners {
		fn(conns)
	}
}
