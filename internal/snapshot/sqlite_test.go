package snapshot

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"moodlist/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "snapshots.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreSaveAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	state := core.NewWorkflowState("sess-1", "alice", "upbeat summer drive")
	require.NoError(t, state.SetStatus(core.StatusGatheringSeeds))
	state.SeedTracks = []string{"t1", "t2"}
	state.Recommendations = []core.TrackRecommendation{
		{TrackID: "t1", TrackName: "Track One", Source: core.SourceAnchorTrack},
	}

	require.NoError(t, store.Save(ctx, state))

	loaded, err := store.Load(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "sess-1", loaded.SessionID)
	assert.Equal(t, "upbeat summer drive", loaded.MoodPrompt)
	assert.Equal(t, core.StatusGatheringSeeds, loaded.Status)
	assert.Equal(t, []string{"t1", "t2"}, loaded.SeedTracks)
	require.Len(t, loaded.Recommendations, 1)
	assert.Equal(t, "Track One", loaded.Recommendations[0].TrackName)
}

func TestStoreLoadMissingSession(t *testing.T) {
	store := newTestStore(t)

	loaded, err := store.Load(context.Background(), "no-such-session")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestStoreIgnoresStaleWrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	fresh := core.NewWorkflowState("sess-1", "", "prompt")
	fresh.CurrentStep = "fresh"
	fresh.UpdatedAt = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, fresh))

	stale := core.NewWorkflowState("sess-1", "", "prompt")
	stale.CurrentStep = "stale"
	stale.UpdatedAt = time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, stale))

	loaded, err := store.Load(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "fresh", loaded.CurrentStep, "an older snapshot must not overwrite a newer one")
}

func TestStoreSessionsOrderedByRecency(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"sess-a", "sess-b", "sess-c"} {
		state := core.NewWorkflowState(id, "", "prompt")
		state.UpdatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Save(ctx, state))
	}

	sessions, err := store.Sessions(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"sess-c", "sess-b"}, sessions)
}
