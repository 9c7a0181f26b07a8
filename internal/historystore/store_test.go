package historystore

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/hlsrec/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "history.db")
	store, err := Open(config.DatabaseConfig{
		DSN:          dsn,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		LogLevel:     "silent",
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	rec := &Recording{
		RecorderID:  "hls_live",
		ResolvedURL: "https://example.com/media.m3u8",
		RecDir:      "/recordings/abc",
	}
	require.NoError(t, store.Create(ctx, rec))
	assert.NotEqual(t, uuid.Nil, rec.ID)

	fetched, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, rec.RecorderID, fetched.RecorderID)
	assert.Nil(t, fetched.EndedAt)
}

func TestGetMissingReturnsNilNoError(t *testing.T) {
	store := newTestStore(t)
	fetched, err := store.Get(t.Context(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, fetched)
}

func TestCompleteSetsTerminalFields(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	rec := &Recording{RecorderID: "hls_basic", ResolvedURL: "https://example.com/vod.m3u8", RecDir: "/recordings/def"}
	require.NoError(t, store.Create(ctx, rec))

	require.NoError(t, store.Complete(ctx, rec.ID, "complete", "", 3, 42, 123456))

	fetched, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	require.NotNil(t, fetched.EndedAt)
	require.NotNil(t, fetched.StopReason)
	assert.Equal(t, "complete", *fetched.StopReason)
	assert.Nil(t, fetched.StopErrorID)
	assert.Equal(t, 3, fetched.SectionsWritten)
	assert.Equal(t, 42, fetched.SegmentsWritten)
	assert.EqualValues(t, 123456, fetched.BytesWritten)
}

func TestCompleteUnknownIDErrors(t *testing.T) {
	store := newTestStore(t)
	err := store.Complete(t.Context(), uuid.New(), "error", "failure", 0, 0, 0)
	assert.Error(t, err)
}

func TestListOrdersMostRecentFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	first := &Recording{RecorderID: "hls_live", ResolvedURL: "https://example.com/a.m3u8", RecDir: "/recordings/a"}
	require.NoError(t, store.Create(ctx, first))
	second := &Recording{RecorderID: "hls_live", ResolvedURL: "https://example.com/b.m3u8", RecDir: "/recordings/b", StartedAt: first.StartedAt.Add(1)}
	require.NoError(t, store.Create(ctx, second))

	recs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, second.ID, recs[0].ID)
	assert.Equal(t, first.ID, recs[1].ID)
}
