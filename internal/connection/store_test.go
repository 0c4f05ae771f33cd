package connection

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/inovacc/deploywatch/internal/database"
	"github.com/inovacc/deploywatch/internal/model"
	"github.com/inovacc/deploywatch/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *database.Bolt {
	t.Helper()

	db, err := database.NewBolt(filepath.Join(t.TempDir(), "store.bolt"))
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestStore_AddRejectsDuplicates(t *testing.T) {
	ctx := context.Background()

	s, err := Open(nil, Options{})
	require.NoError(t, err)

	require.NoError(t, s.Add(ctx, model.Connection{ID: "c1", APIToken: "tok-1"}))

	err = s.Add(ctx, model.Connection{ID: "c1", APIToken: "tok-other"})
	require.ErrorIs(t, err, ErrConnectionExists)

	conn, ok := s.Get("c1")
	require.True(t, ok)
	assert.Equal(t, "tok-1", conn.APIToken)
	assert.Equal(t, 1, s.Len())

	require.ErrorIs(t, s.Add(ctx, model.Connection{APIToken: "tok"}), ErrInvalidConnection)
}

func TestStore_FirstConnectionIsCurrent(t *testing.T) {
	ctx := context.Background()

	s, err := Open(nil, Options{})
	require.NoError(t, err)

	_, ok := s.Current()
	assert.False(t, ok)

	require.NoError(t, s.Add(ctx, model.Connection{ID: "c1", APIToken: "tok-1"}))
	require.NoError(t, s.Add(ctx, model.Connection{ID: "c2", APIToken: "tok-2"}))

	current, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "c1", current.ID)
}

func TestStore_RemoveCurrentFallsBackToFirst(t *testing.T) {
	ctx := context.Background()

	s, err := Open(nil, Options{})
	require.NoError(t, err)

	for _, id := range []string{"c1", "c2", "c3"} {
		require.NoError(t, s.Add(ctx, model.Connection{ID: id, APIToken: "tok-" + id}))
	}

	require.True(t, s.Switch("c2", ""))

	removed, err := s.Remove(ctx, "c2")
	require.NoError(t, err)
	assert.True(t, removed)

	current, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "c1", current.ID)

	// Removing a non-current connection leaves current alone
	removed, err = s.Remove(ctx, "c3")
	require.NoError(t, err)
	assert.True(t, removed)

	current, _ = s.Current()
	assert.Equal(t, "c1", current.ID)

	removed, err = s.Remove(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, removed)

	_, ok = s.Current()
	assert.False(t, ok)

	// Stale reference
	removed, err = s.Remove(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestStore_Switch(t *testing.T) {
	ctx := context.Background()

	s, err := Open(nil, Options{})
	require.NoError(t, err)

	require.NoError(t, s.Add(ctx, model.Connection{ID: "c1", APIToken: "tok-1"}))
	require.NoError(t, s.Add(ctx, model.Connection{ID: "c2", APIToken: "tok-2"}))

	assert.True(t, s.Switch("c2", "team-b"))

	current, _ := s.Current()
	assert.Equal(t, "c2", current.ID)
	assert.Equal(t, "team-b", current.CurrentTeamID)

	// Switching without a team keeps the selected one
	assert.True(t, s.Switch("c2", ""))

	current, _ = s.Current()
	assert.Equal(t, "team-b", current.CurrentTeamID)

	// Unknown ids are ignored
	assert.False(t, s.Switch("gone", "team-x"))

	current, _ = s.Current()
	assert.Equal(t, "c2", current.ID)
}

func TestStore_RemoveListeners(t *testing.T) {
	ctx := context.Background()
	rec := &notify.Recorder{}
	d := notify.NewDispatcher(false, nil)
	d.Register(rec)

	s, err := Open(nil, Options{Publisher: d})
	require.NoError(t, err)

	var (
		mu       sync.Mutex
		removed  []string
		evicted  []bool
		snapshot [][]model.Connection
	)

	s.OnRemove(func(_ context.Context, conn model.Connection, wasEvicted bool) {
		mu.Lock()
		defer mu.Unlock()

		removed = append(removed, conn.ID+":"+conn.APIToken)
		evicted = append(evicted, wasEvicted)
	})
	s.OnChange(func(conns []model.Connection) {
		mu.Lock()
		defer mu.Unlock()

		snapshot = append(snapshot, conns)
	})

	require.NoError(t, s.Add(ctx, model.Connection{ID: "c1", APIToken: "tok-1"}))
	require.NoError(t, s.Add(ctx, model.Connection{ID: "c2", APIToken: "tok-2"}))

	_, err = s.Remove(ctx, "c1")
	require.NoError(t, err)

	s.Evict(ctx, "c2")
	s.Evict(ctx, "c2")

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []string{"c1:tok-1", "c2:tok-2"}, removed)
	assert.Equal(t, []bool{false, true}, evicted)
	require.Len(t, snapshot, 4)
	assert.Empty(t, snapshot[3])

	assert.Equal(t, []string{
		notify.EventConnectionAdded,
		notify.EventConnectionAdded,
		notify.EventConnectionRemoved,
		notify.EventConnectionEvicted,
	}, rec.Types())
}

func TestStore_Persistence(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	s, err := Open(db, Options{})
	require.NoError(t, err)

	require.NoError(t, s.Add(ctx, model.Connection{ID: "c1", APIToken: "tok-1"}))
	require.NoError(t, s.Add(ctx, model.Connection{ID: "c2", APIToken: "tok-2"}))
	require.True(t, s.Switch("c2", "t9"))
	require.True(t, s.SetTeam("c1", "t1"))

	reloaded, err := Open(db, Options{})
	require.NoError(t, err)

	conns := reloaded.List()
	require.Len(t, conns, 2)
	assert.Equal(t, "c1", conns[0].ID)
	assert.Equal(t, "t1", conns[0].CurrentTeamID)

	current, ok := reloaded.Current()
	require.True(t, ok)
	assert.Equal(t, "c2", current.ID)
	assert.Equal(t, "t9", current.CurrentTeamID)

	_, err = reloaded.Remove(ctx, "c2")
	require.NoError(t, err)

	again, err := Open(db, Options{})
	require.NoError(t, err)

	current, ok = again.Current()
	require.True(t, ok)
	assert.Equal(t, "c1", current.ID)
}
