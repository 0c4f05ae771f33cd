// Package preferences keeps the small user choices that survive restarts:
// the enabled notification events of each (connection, team) pair and
// one-shot acknowledgment flags.
package preferences

import (
	"fmt"
	"sync"

	"github.com/inovacc/deploywatch/internal/database"
	"github.com/inovacc/deploywatch/internal/model"
)

// Acknowledgment flags.
const (
	FlagNotificationsIntro = "notifications-intro"
	FlagFreeTierNotice     = "free-tier-notice"
)

// Store reads and writes preferences. A nil database keeps them in memory.
type Store struct {
	db database.Store

	mu     sync.Mutex
	events map[model.PairKey][]string
	flags  map[string]bool
}

// New creates a preference store on db.
func New(db database.Store) *Store {
	return &Store{
		db:     db,
		events: make(map[model.PairKey][]string),
		flags:  make(map[string]bool),
	}
}

// EnabledEvents returns the saved events of the pair, nil when nothing was saved.
func (s *Store) EnabledEvents(key model.PairKey) ([]string, error) {
	if s.db == nil {
		s.mu.Lock()
		defer s.mu.Unlock()

		if events, ok := s.events[key]; ok {
			return append([]string{}, events...), nil
		}

		return nil, nil
	}

	events, err := s.db.GetEnabledEvents(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read enabled events for %s: %w", key, err)
	}

	return events, nil
}

// SaveEnabledEvents records the events of the pair. An empty set is stored as
// "nothing saved", which adopts the remote state on the next sync.
func (s *Store) SaveEnabledEvents(key model.PairKey, events []string) error {
	events = model.NormalizeEvents(events)

	if s.db == nil {
		s.mu.Lock()
		defer s.mu.Unlock()

		if len(events) == 0 {
			delete(s.events, key)
			return nil
		}

		s.events[key] = events

		return nil
	}

	if err := s.db.SaveEnabledEvents(key, events); err != nil {
		return fmt.Errorf("failed to save enabled events for %s: %w", key, err)
	}

	return nil
}

// Acknowledged reports whether the flag was acknowledged.
func (s *Store) Acknowledged(flag string) (bool, error) {
	if s.db == nil {
		s.mu.Lock()
		defer s.mu.Unlock()

		return s.flags[flag], nil
	}

	return s.db.GetFlag(flag)
}

// Acknowledge sets the flag.
func (s *Store) Acknowledge(flag string) error {
	return s.set(flag, true)
}

// Reset clears the flag.
func (s *Store) Reset(flag string) error {
	return s.set(flag, false)
}

func (s *Store) set(flag string, value bool) error {
	if s.db == nil {
		s.mu.Lock()
		defer s.mu.Unlock()

		if value {
			s.flags[flag] = true
		} else {
			delete(s.flags, flag)
		}

		return nil
	}

	if err := s.db.SetFlag(flag, value); err != nil {
		return fmt.Errorf("failed to update flag %s: %w", flag, err)
	}

	return nil
}
