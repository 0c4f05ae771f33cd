package database

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/inovacc/deploywatch/internal/application"
	"github.com/inovacc/deploywatch/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func setupTestDB(t *testing.T) (*Bolt, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.bolt")

	db, err := NewBolt(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("failed to close database: %v", err)
		}
	})

	return db, dbPath
}

func TestBolt_Ping(t *testing.T) {
	db, _ := setupTestDB(t)

	if err := db.Ping(); err != nil {
		t.Errorf("Ping() error = %v, want nil", err)
	}
}

func TestBolt_SchemaVersion(t *testing.T) {
	db, _ := setupTestDB(t)

	version, err := db.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, application.SchemaVersion, version)
}

func TestBolt_SchemaTooNew(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "future.bolt")

	db, err := NewBolt(dbPath)
	require.NoError(t, err)

	require.NoError(t, db.db.Update(func(tx *bbolt.Tx) error {
		return bucket(tx, boltBucketMeta).Put([]byte(metaKeySchemaVersion), []byte("99"))
	}))
	require.NoError(t, db.Close())

	_, err = NewBolt(dbPath)
	require.ErrorIs(t, err, ErrSchemaTooNew)
}

func TestBolt_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.bolt")

	db, err := NewBolt(dbPath)
	require.NoError(t, err)
	require.NoError(t, db.SaveConnection(&model.Connection{ID: "c1", APIToken: "tok"}))
	require.NoError(t, db.SetCurrentConnection("c1"))
	require.NoError(t, db.Close())

	db, err = NewBolt(dbPath)
	require.NoError(t, err)

	defer func() { _ = db.Close() }()

	conns, err := db.ListConnections()
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, "tok", conns[0].APIToken)

	current, err := db.GetCurrentConnection()
	require.NoError(t, err)
	assert.Equal(t, "c1", current)
}

func TestBolt_SaveConnection(t *testing.T) {
	db, _ := setupTestDB(t)

	tests := []struct {
		name    string
		conn    *model.Connection
		wantErr bool
	}{
		{name: "valid connection", conn: &model.Connection{ID: "c1", APIToken: "tok-1"}},
		{name: "second connection", conn: &model.Connection{ID: "c2", APIToken: "tok-2"}},
		{name: "missing id", conn: &model.Connection{APIToken: "tok"}, wantErr: true},
		{name: "nil connection", conn: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := db.SaveConnection(tt.conn)
			if (err != nil) != tt.wantErr {
				t.Errorf("SaveConnection() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBolt_ListConnectionsKeepsOrder(t *testing.T) {
	db, _ := setupTestDB(t)

	for _, id := range []string{"c3", "c1", "c2"} {
		require.NoError(t, db.SaveConnection(&model.Connection{ID: id, APIToken: "tok-" + id}))
	}

	// Updating an existing connection must not move it
	require.NoError(t, db.SaveConnection(&model.Connection{ID: "c3", APIToken: "tok-3", CurrentTeamID: "t1"}))

	conns, err := db.ListConnections()
	require.NoError(t, err)
	require.Len(t, conns, 3)
	assert.Equal(t, "c3", conns[0].ID)
	assert.Equal(t, "t1", conns[0].CurrentTeamID)
	assert.Equal(t, "c1", conns[1].ID)
	assert.Equal(t, "c2", conns[2].ID)
}

func TestBolt_DeleteConnection(t *testing.T) {
	db, _ := setupTestDB(t)

	require.NoError(t, db.SaveConnection(&model.Connection{ID: "c1", APIToken: "tok-1"}))
	require.NoError(t, db.SaveConnection(&model.Connection{ID: "c2", APIToken: "tok-2"}))
	require.NoError(t, db.SetCurrentConnection("c1"))
	require.NoError(t, db.SaveEnabledEvents(model.NewPairKey("c1", "t1"), []string{model.EventDeploymentError}))
	require.NoError(t, db.SaveEnabledEvents(model.NewPairKey("c2", "t1"), []string{model.EventDeploymentError}))

	require.NoError(t, db.DeleteConnection("c1"))

	conns, err := db.ListConnections()
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, "c2", conns[0].ID)

	current, err := db.GetCurrentConnection()
	require.NoError(t, err)
	assert.Empty(t, current)

	events, err := db.GetEnabledEvents(model.NewPairKey("c1", "t1"))
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = db.GetEnabledEvents(model.NewPairKey("c2", "t1"))
	require.NoError(t, err)
	assert.Equal(t, []string{model.EventDeploymentError}, events)

	// Deleting an unknown connection is a no-op
	require.NoError(t, db.DeleteConnection("missing"))
}

func TestBolt_EnabledEvents(t *testing.T) {
	db, _ := setupTestDB(t)
	key := model.NewPairKey("c1", "t1")

	events, err := db.GetEnabledEvents(key)
	require.NoError(t, err)
	assert.Empty(t, events)

	require.NoError(t, db.SaveEnabledEvents(key, []string{model.EventDeploymentSucceeded, model.EventDeploymentError}))

	events, err = db.GetEnabledEvents(key)
	require.NoError(t, err)
	assert.Equal(t, []string{model.EventDeploymentError, model.EventDeploymentSucceeded}, events)

	require.NoError(t, db.SaveEnabledEvents(key, nil))

	events, err = db.GetEnabledEvents(key)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestBolt_Flags(t *testing.T) {
	db, _ := setupTestDB(t)

	set, err := db.GetFlag("notifications-intro")
	require.NoError(t, err)
	assert.False(t, set)

	require.NoError(t, db.SetFlag("notifications-intro", true))

	set, err = db.GetFlag("notifications-intro")
	require.NoError(t, err)
	assert.True(t, set)

	require.NoError(t, db.SetFlag("notifications-intro", false))

	set, err = db.GetFlag("notifications-intro")
	require.NoError(t, err)
	assert.False(t, set)
}

func rawConnection(t *testing.T, db *Bolt, id string) model.Connection {
	t.Helper()

	var c model.Connection

	require.NoError(t, db.db.View(func(tx *bbolt.Tx) error {
		return json.Unmarshal(bucket(tx, boltBucketConnections).Get([]byte(id)), &c)
	}))

	return c
}

func TestBolt_TokensSealedAtRest(t *testing.T) {
	db, dbPath := setupTestDB(t)

	require.NoError(t, db.SaveConnection(&model.Connection{ID: "c1", APIToken: "secret-token"}))

	raw := rawConnection(t, db, "c1")
	assert.True(t, strings.HasPrefix(raw.APIToken, sealedPrefix))
	assert.NotContains(t, raw.APIToken, "secret-token")

	conns, err := db.ListConnections()
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, "secret-token", conns[0].APIToken)

	info, err := os.Stat(filepath.Join(filepath.Dir(dbPath), KeyFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestBolt_SealedTokenBoundToConnection(t *testing.T) {
	db, _ := setupTestDB(t)

	require.NoError(t, db.SaveConnection(&model.Connection{ID: "c1", APIToken: "tok-1"}))
	raw := rawConnection(t, db, "c1")

	// Copying the ciphertext onto another record must not decrypt
	moved, err := json.Marshal(model.Connection{ID: "c2", APIToken: raw.APIToken})
	require.NoError(t, err)
	require.NoError(t, db.db.Update(func(tx *bbolt.Tx) error {
		if err := bucket(tx, boltBucketConnections).Put([]byte("c2"), moved); err != nil {
			return err
		}

		return writeOrder(bucket(tx, boltBucketMeta), []string{"c1", "c2"})
	}))

	_, err = db.ListConnections()
	require.ErrorIs(t, err, ErrTokenCorrupt)
}

func TestBolt_WrongKeyCannotOpenTokens(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "keyed.bolt")

	db, err := NewBolt(dbPath)
	require.NoError(t, err)
	require.NoError(t, db.SaveConnection(&model.Connection{ID: "c1", APIToken: "tok"}))
	require.NoError(t, db.Close())

	require.NoError(t, os.WriteFile(filepath.Join(dir, KeyFileName), make([]byte, masterKeySize), 0o600))

	db, err = NewBolt(dbPath)
	require.NoError(t, err)

	defer func() { _ = db.Close() }()

	_, err = db.ListConnections()
	require.ErrorIs(t, err, ErrTokenCorrupt)
}

func TestBolt_MigrationSealsPlaintextTokens(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "legacy.bolt")

	db, err := NewBolt(dbPath)
	require.NoError(t, err)

	// Rewind to a version 1 file holding a plaintext token
	plain, err := json.Marshal(model.Connection{ID: "c1", APIToken: "legacy-token"})
	require.NoError(t, err)
	require.NoError(t, db.db.Update(func(tx *bbolt.Tx) error {
		if err := bucket(tx, boltBucketConnections).Put([]byte("c1"), plain); err != nil {
			return err
		}

		if err := writeOrder(bucket(tx, boltBucketMeta), []string{"c1"}); err != nil {
			return err
		}

		return bucket(tx, boltBucketMeta).Put([]byte(metaKeySchemaVersion), []byte("1"))
	}))
	require.NoError(t, db.Close())

	db, err = NewBolt(dbPath)
	require.NoError(t, err)

	defer func() { _ = db.Close() }()

	version, err := db.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, application.SchemaVersion, version)

	assert.True(t, strings.HasPrefix(rawConnection(t, db, "c1").APIToken, sealedPrefix))

	conns, err := db.ListConnections()
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, "legacy-token", conns[0].APIToken)
}

func TestBolt_KeyFileWrongSize(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, KeyFileName), []byte("short"), 0o600))

	_, err := NewBolt(filepath.Join(dir, "bad.bolt"))
	require.Error(t, err)
}
