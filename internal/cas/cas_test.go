package cas

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/butterflysync/bdp/internal/bdperr"
	"github.com/butterflysync/bdp/internal/store"
)

func newTestCAS(t *testing.T) (*Store, *store.Store) {
	t.Helper()

	st, err := store.Open(":memory:", slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	c, err := New(t.TempDir(), st)
	require.NoError(t, err)

	return c, st
}

func sha(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func TestPutGetRoundTripSmallChunk(t *testing.T) {
	c, _ := newTestCAS(t)
	ctx := context.Background()

	data := []byte("hello world")
	h := sha(data)

	require.NoError(t, c.Put(ctx, h, data, false))

	got, err := c.Get(h)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestPutGetRoundTripCompressibleChunk(t *testing.T) {
	c, _ := newTestCAS(t)
	ctx := context.Background()

	data := bytes.Repeat([]byte("a"), CompressionThreshold*2)
	h := sha(data)

	require.NoError(t, c.Put(ctx, h, data, false))

	meta, err := c.meta.GetChunkMeta(ctx, h)
	require.NoError(t, err)
	require.True(t, meta.StoredCompressed, "highly repetitive data should compress below 90%%")

	got, err := c.Get(h)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestPutIsNoOpForExistingHash(t *testing.T) {
	c, _ := newTestCAS(t)
	ctx := context.Background()

	data := []byte("dedup me")
	h := sha(data)

	require.NoError(t, c.Put(ctx, h, data, false))
	require.NoError(t, c.Put(ctx, h, data, false))

	meta, err := c.meta.GetChunkMeta(ctx, h)
	require.NoError(t, err)
	require.Equal(t, int64(1), meta.RefCount, "second Put must not bump refcount")
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	c, _ := newTestCAS(t)

	_, err := c.Get("0000000000000000000000000000000000000000000000000000000000000")
	require.ErrorIs(t, err, bdperr.ErrNotFound)
}

func TestDedupAndReclaim(t *testing.T) {
	c, _ := newTestCAS(t)
	ctx := context.Background()

	data := []byte("shared content")
	h := sha(data)

	require.NoError(t, c.Put(ctx, h, data, false))
	require.NoError(t, c.IncRef(ctx, h, int64(len(data)), int64(len(data))+1, false))

	meta, err := c.meta.GetChunkMeta(ctx, h)
	require.NoError(t, err)
	require.Equal(t, int64(2), meta.RefCount)

	require.NoError(t, c.DecRef(ctx, h))
	require.NoError(t, c.DecRef(ctx, h))

	require.True(t, c.Has(h), "blob must survive until reclaim runs")

	n, err := c.Reclaim(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.False(t, c.Has(h))
}
