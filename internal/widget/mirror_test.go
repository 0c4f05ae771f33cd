package widget

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/inovacc/deploywatch/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readSnapshot(t *testing.T, dir string) Snapshot {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))

	return snap
}

func TestMirror_Writes(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "shared")
	m := NewMirror(dir, nil)

	m.SetConnections([]model.Connection{
		{ID: "c1", APIToken: "tok-1", CurrentTeamID: "t1"},
		{ID: "c2", APIToken: "tok-2"},
	})

	snap := readSnapshot(t, dir)
	require.Len(t, snap.Connections, 2)
	assert.Equal(t, Entry{ID: "c1", APIToken: "tok-1"}, snap.Connections[0])
	assert.False(t, snap.Subscribed)

	m.SetSubscribed(true)

	snap = readSnapshot(t, dir)
	assert.True(t, snap.Subscribed)
	assert.Len(t, snap.Connections, 2)

	m.SetConnections(nil)

	snap = readSnapshot(t, dir)
	assert.Empty(t, snap.Connections)

	// No temp files are left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMirror_FailureIsSilent(t *testing.T) {
	parent := t.TempDir()
	blocker := filepath.Join(parent, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	m := NewMirror(filepath.Join(blocker, "shared"), nil)

	assert.NotPanics(t, func() {
		m.SetConnections([]model.Connection{{ID: "c1", APIToken: "tok"}})
		m.SetSubscribed(true)
	})
}
