package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/apphub_installer/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *InstrumentedArtifactRepository {
	t.Helper()

	db, err := InitDB(filepath.Join(t.TempDir(), "state", "apphub.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewInstrumentedArtifactRepository(db, nil)
}

func TestArtifactRepository_TrackAndList(t *testing.T) {
	ctx := context.Background()
	repo := newTestDB(t)

	old := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.TrackArtifact(ctx, storage.ArtifactRecord{AppID: "editor", Version: "1.0", Path: "/d/Editor-1.0.dmg", Size: 10, DownloadedAt: old}))
	require.NoError(t, repo.TrackArtifact(ctx, storage.ArtifactRecord{AppID: "viewer", Version: "2.0", Path: "/d/Viewer-2.0.dmg", Size: 20, DownloadedAt: recent}))

	all, err := repo.GetArtifacts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "editor", all[0].AppID)
	assert.Equal(t, old, all[0].DownloadedAt)

	expired, err := repo.GetArtifactsBefore(ctx, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "/d/Editor-1.0.dmg", expired[0].Path)
}

func TestArtifactRepository_TrackSamePathReplaces(t *testing.T) {
	ctx := context.Background()
	repo := newTestDB(t)

	require.NoError(t, repo.TrackArtifact(ctx, storage.ArtifactRecord{AppID: "editor", Version: "1.0", Path: "/d/a.dmg", Size: 1}))
	require.NoError(t, repo.TrackArtifact(ctx, storage.ArtifactRecord{AppID: "editor", Version: "1.0", Path: "/d/a.dmg", Size: 2}))

	all, err := repo.GetArtifacts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, int64(2), all[0].Size)
}

func TestArtifactRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := newTestDB(t)

	require.NoError(t, repo.TrackArtifact(ctx, storage.ArtifactRecord{AppID: "editor", Path: "/d/a.dmg"}))
	require.NoError(t, repo.DeleteArtifact(ctx, "/d/a.dmg"))
	assert.ErrorIs(t, repo.DeleteArtifact(ctx, "/d/a.dmg"), storage.ErrNotFound)
}

func TestCatalogCache_RoundTrip(t *testing.T) {
	ctx := context.Background()

	db, err := InitDB(filepath.Join(t.TempDir(), "apphub.db"))
	require.NoError(t, err)
	defer db.Close()

	cache := NewInstrumentedCatalogCache(db, nil)

	data, fetchedAt, err := cache.LoadCatalog(ctx)
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.True(t, fetchedAt.IsZero())

	first := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, cache.SaveCatalog(ctx, []byte(`{"apps":[]}`), first))

	second := first.Add(time.Hour)
	require.NoError(t, cache.SaveCatalog(ctx, []byte(`{"apps":[{"id":"x"}]}`), second))

	data, fetchedAt, err = cache.LoadCatalog(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"apps":[{"id":"x"}]}`, string(data))
	assert.Equal(t, second, fetchedAt)
}
