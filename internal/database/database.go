package database

import (
	"errors"

	"github.com/inovacc/deploywatch/internal/model"
)

// FileName is the database file inside the application directory.
const FileName = "deploywatch.bolt"

var (
	// ErrSchemaTooNew is returned when the file was written by a newer release
	ErrSchemaTooNew = errors.New("database schema is newer than this release")

	// ErrInvalidConnection is returned when a connection without id is saved
	ErrInvalidConnection = errors.New("connection id is required")
)

// Store defines the persistence operations used by the app.
type Store interface {
	Ping() error
	Close() error
	SchemaVersion() (int, error)

	// Connection operations
	SaveConnection(conn *model.Connection) error
	DeleteConnection(id string) error
	ListConnections() ([]model.Connection, error)
	GetCurrentConnection() (string, error)
	SetCurrentConnection(id string) error

	// Preference operations
	GetEnabledEvents(key model.PairKey) ([]string, error)
	SaveEnabledEvents(key model.PairKey, events []string) error
	GetFlag(name string) (bool, error)
	SetFlag(name string, value bool) error
}
