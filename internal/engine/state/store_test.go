package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvest-downloader/harvest/internal/engine/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state", "harvest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_UpsertAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entry := types.DownloadEntry{
		ID:        "a",
		URL:       "http://h/a.txt",
		Filename:  "a.txt",
		Status:    types.StatusQueued,
		TotalSize: -1,
		StartedAt: 1000,
	}
	require.NoError(t, s.Upsert(ctx, entry))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, entry, *got)

	entry.Status = types.StatusCompleted
	entry.Downloaded = 42
	entry.TotalSize = 42
	entry.Mime = "text/plain"
	entry.CompletedAt = 2000
	require.NoError(t, s.Upsert(ctx, entry))

	got, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, entry, *got)
}

func TestStore_GetMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListSince(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.UnixMilli(1_700_000_000_000)
	for i, id := range []string{"old", "edge", "new"} {
		require.NoError(t, s.Upsert(ctx, types.DownloadEntry{
			ID:        id,
			URL:       "http://h/" + id,
			Status:    types.StatusDownloading,
			StartedAt: base.Add(time.Duration(i-1) * time.Second).UnixMilli(),
		}))
	}

	got, err := s.ListSince(ctx, base)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "edge", got[0].ID, "rows starting exactly at the bound are included")
	assert.Equal(t, "new", got[1].ID)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "old", all[0].ID)
}

func TestStore_UpdateStatusAndRemove(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, types.DownloadEntry{ID: "x", URL: "u", Status: types.StatusDownloading}))
	require.NoError(t, s.UpdateStatus(ctx, "x", types.StatusError, "boom"))

	got, err := s.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, got.Status)
	assert.Equal(t, "boom", got.Error)
	assert.NotZero(t, got.StartedAt, "missing start time is filled in")

	assert.ErrorIs(t, s.UpdateStatus(ctx, "missing", types.StatusError, ""), ErrNotFound)

	require.NoError(t, s.Remove(ctx, "x"))
	assert.ErrorIs(t, s.Remove(ctx, "x"), ErrNotFound)
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvest.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, types.DownloadEntry{ID: "keep", URL: "u", Status: types.StatusPaused, StartedAt: 5}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	got, err := s.Get(ctx, "keep")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPaused, got.Status)
}

func TestStore_UpsertRequiresID(t *testing.T) {
	s := openTestStore(t)
	assert.Error(t, s.Upsert(context.Background(), types.DownloadEntry{URL: "u"}))
}
