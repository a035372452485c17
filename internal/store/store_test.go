package store

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/butterflysync/bdp/internal/ids"
	"github.com/butterflysync/bdp/internal/model"
	"github.com/butterflysync/bdp/internal/vectorclock"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(testingWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testingWriter struct{ t *testing.T }

func (w testingWriter) Write(p []byte) (int, error) { return len(p), nil }

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(":memory:", testLogger(t))
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestFileIndexPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	pairID := ids.NewPairID()
	deviceID := ids.NewDeviceID()

	entry := model.FileEntry{
		PairID:      pairID,
		Path:        "a/b/c.txt",
		Size:        5,
		MtimeMS:     1000,
		Hash:        "deadbeef",
		ChunkHashes: []string{"deadbeef"},
		VectorClock: vectorclock.Clock{deviceID.String(): 1},
		DeviceID:    deviceID,
		Seq:         1,
	}

	require.NoError(t, s.PutEntry(ctx, entry))

	got, err := s.GetEntry(ctx, pairID, "a/b/c.txt")
	require.NoError(t, err)
	require.Equal(t, entry.Hash, got.Hash)
	require.Equal(t, entry.ChunkHashes, got.ChunkHashes)
	require.Equal(t, uint64(1), got.VectorClock[deviceID.String()])
}

func TestEntriesSinceOrdersBySeq(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	pairID := ids.NewPairID()
	deviceID := ids.NewDeviceID()

	for i, p := range []string{"a.txt", "b.txt", "c.txt"} {
		require.NoError(t, s.PutEntry(ctx, model.FileEntry{
			PairID: pairID, Path: p, DeviceID: deviceID,
			VectorClock: vectorclock.Clock{},
			Seq:         uint64(i + 1),
		}))
	}

	entries, err := s.EntriesSince(ctx, pairID, 1)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "b.txt", entries[0].Path)
	require.Equal(t, "c.txt", entries[1].Path)
}

func TestLiveEntriesExcludesTombstones(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	pairID := ids.NewPairID()
	deviceID := ids.NewDeviceID()

	require.NoError(t, s.PutEntry(ctx, model.FileEntry{
		PairID: pairID, Path: "live.txt", DeviceID: deviceID,
		VectorClock: vectorclock.Clock{}, Seq: 1,
	}))
	require.NoError(t, s.PutEntry(ctx, model.FileEntry{
		PairID: pairID, Path: "gone.txt", DeviceID: deviceID,
		Tombstone: true, VectorClock: vectorclock.Clock{}, Seq: 2,
	}))

	live, err := s.LiveEntries(ctx, pairID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	require.Equal(t, "live.txt", live[0].Path)
}

func TestChunkMetaRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	chunk := model.CASChunk{
		Hash: "abc123", OriginalSize: 100, StoredSize: 40,
		StoredCompressed: true, RefCount: 1, CreatedAt: 10, LastAccessedAt: 10,
	}
	require.NoError(t, s.PutChunkMeta(ctx, chunk))

	got, err := s.GetChunkMeta(ctx, "abc123")
	require.NoError(t, err)
	require.Equal(t, chunk.StoredSize, got.StoredSize)
	require.True(t, got.StoredCompressed)

	require.NoError(t, s.PutChunkMeta(ctx, model.CASChunk{
		Hash: "abc123", OriginalSize: 100, StoredSize: 40, RefCount: 0, CreatedAt: 10, LastAccessedAt: 11,
	}))

	zeros, err := s.ZeroRefChunks(ctx)
	require.NoError(t, err)
	require.Contains(t, zeros, "abc123")
}

func TestConflictListUnresolved(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	pairID := ids.NewPairID()

	require.NoError(t, s.PutConflict(ctx, model.Conflict{
		PairID: pairID, Path: "x.txt", DetectedAt: 1,
		AutoResolution: model.ResolutionNone,
	}))

	resolvedAt := int64(2)
	require.NoError(t, s.PutConflict(ctx, model.Conflict{
		PairID: pairID, Path: "y.txt", DetectedAt: 1,
		ResolvedAt: &resolvedAt, AppliedResolution: model.ResolutionKeepLocal,
	}))

	unresolved, err := s.ListConflicts(ctx, pairID, true)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	require.Equal(t, "x.txt", unresolved[0].Path)

	all, err := s.ListConflicts(ctx, pairID, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
}
