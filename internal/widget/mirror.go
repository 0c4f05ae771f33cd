// Package widget mirrors a minimal projection of the connection store to the
// shared storage area read by home-screen widgets. The mirror is write-only:
// nothing is ever read back, and failures are logged, never returned.
package widget

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/inovacc/deploywatch/internal/model"
)

// FileName is the mirror document inside the shared directory.
const FileName = "widget.json"

// Entry is the per-connection projection the widgets need.
type Entry struct {
	ID       string `json:"id"`
	APIToken string `json:"apiToken"`
}

// Snapshot is the document written to the shared storage.
type Snapshot struct {
	Connections []Entry `json:"connections"`
	Subscribed  bool    `json:"subscribed"`
}

// Mirror writes snapshots to dir.
type Mirror struct {
	dir    string
	logger *slog.Logger

	mu          sync.Mutex
	connections []Entry
	subscribed  bool
}

// NewMirror creates a widget mirror writing into dir.
func NewMirror(dir string, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}

	return &Mirror{dir: dir, logger: logger}
}

// SetConnections replaces the mirrored connections and flushes.
func (m *Mirror) SetConnections(conns []model.Connection) {
	entries := make([]Entry, 0, len(conns))
	for _, c := range conns {
		entries = append(entries, Entry{ID: c.ID, APIToken: c.APIToken})
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.connections = entries
	m.writeLocked()
}

// SetSubscribed updates the subscription status and flushes.
func (m *Mirror) SetSubscribed(subscribed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subscribed = subscribed
	m.writeLocked()
}

func (m *Mirror) writeLocked() {
	if m.dir == "" {
		return
	}

	snap := Snapshot{Connections: m.connections, Subscribed: m.subscribed}

	data, err := json.Marshal(snap)
	if err != nil {
		m.logger.Warn("widget: failed to encode snapshot", slog.String("error", err.Error()))
		return
	}

	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		m.logger.Warn("widget: failed to create shared dir", slog.String("error", err.Error()))
		return
	}

	tmp, err := os.CreateTemp(m.dir, FileName+".*")
	if err != nil {
		m.logger.Warn("widget: failed to create temp file", slog.String("error", err.Error()))
		return
	}

	_, werr := tmp.Write(data)
	cerr := tmp.Close()

	if werr != nil || cerr != nil {
		_ = os.Remove(tmp.Name())
		m.logger.Warn("widget: failed to write snapshot")

		return
	}

	if err := os.Rename(tmp.Name(), filepath.Join(m.dir, FileName)); err != nil {
		_ = os.Remove(tmp.Name())
		m.logger.Warn("widget: failed to publish snapshot", slog.String("error", err.Error()))
	}
}
