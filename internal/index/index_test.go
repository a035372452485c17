package index

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/butterflysync/bdp/internal/folder"
	"github.com/butterflysync/bdp/internal/ids"
	"github.com/butterflysync/bdp/internal/model"
	"github.com/butterflysync/bdp/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func newPairID(t *testing.T) ids.PairID {
	t.Helper()

	return ids.NewPairID()
}

func newDeviceID(t *testing.T) ids.DeviceID {
	t.Helper()

	return ids.NewDeviceID()
}

type fakeSource struct {
	content map[string][]byte
}

func (f *fakeSource) Scan(ctx context.Context) ([]folder.ScanEntry, error) { return nil, nil }

func (f *fakeSource) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.content[path])), nil
}

func TestPutEntryStampsSeq(t *testing.T) {
	s := newTestStore(t)
	ix := New(s)
	ctx := context.Background()
	pairID := newPairID(t)
	deviceID := newDeviceID(t)

	e1, err := ix.PutEntry(ctx, model.FileEntry{PairID: pairID, Path: "a.txt", Hash: "h1", DeviceID: deviceID})
	require.NoError(t, err)
	require.Equal(t, uint64(1), e1.Seq)

	e2, err := ix.PutEntry(ctx, model.FileEntry{PairID: pairID, Path: "b.txt", Hash: "h2", DeviceID: deviceID})
	require.NoError(t, err)
	require.Equal(t, uint64(2), e2.Seq)
}

func TestDetectChangesAddedModifiedDeleted(t *testing.T) {
	s := newTestStore(t)
	ix := New(s)
	ctx := context.Background()
	pairID := newPairID(t)
	deviceID := newDeviceID(t)

	_, err := ix.PutEntry(ctx, model.FileEntry{
		PairID: pairID, Path: "unchanged.txt", Size: 5, MtimeMS: 100, Hash: "stable", DeviceID: deviceID,
	})
	require.NoError(t, err)

	_, err = ix.PutEntry(ctx, model.FileEntry{
		PairID: pairID, Path: "changed.txt", Size: 5, MtimeMS: 100, Hash: "oldhash", DeviceID: deviceID,
	})
	require.NoError(t, err)

	_, err = ix.PutEntry(ctx, model.FileEntry{
		PairID: pairID, Path: "removed.txt", Size: 5, MtimeMS: 100, Hash: "gone", DeviceID: deviceID,
	})
	require.NoError(t, err)

	src := &fakeSource{content: map[string][]byte{
		"changed.txt": []byte("new content entirely"),
		"new.txt":     []byte("brand new"),
	}}

	scan := []folder.ScanEntry{
		{Path: "unchanged.txt", Size: 5, MtimeMS: 100},
		{Path: "changed.txt", Size: 21, MtimeMS: 200},
		{Path: "new.txt", Size: 9, MtimeMS: 300},
	}

	cs, err := ix.DetectChanges(ctx, pairID, scan, src)
	require.NoError(t, err)

	require.Len(t, cs.Added, 1)
	require.Equal(t, "new.txt", cs.Added[0].Path)

	require.Len(t, cs.Modified, 1)
	require.Equal(t, "changed.txt", cs.Modified[0].Path)

	require.Len(t, cs.Deleted, 1)
	require.Equal(t, "removed.txt", cs.Deleted[0])
}

func TestDetectChangesTombstonedTreatedAsAdded(t *testing.T) {
	s := newTestStore(t)
	ix := New(s)
	ctx := context.Background()
	pairID := newPairID(t)
	deviceID := newDeviceID(t)

	_, err := ix.PutEntry(ctx, model.FileEntry{
		PairID: pairID, Path: "revived.txt", Tombstone: true, DeviceID: deviceID,
	})
	require.NoError(t, err)

	src := &fakeSource{content: map[string][]byte{"revived.txt": []byte("back again")}}

	scan := []folder.ScanEntry{{Path: "revived.txt", Size: 10, MtimeMS: 500}}

	cs, err := ix.DetectChanges(ctx, pairID, scan, src)
	require.NoError(t, err)
	require.Len(t, cs.Added, 1)
	require.Empty(t, cs.Modified)
	require.Empty(t, cs.Deleted)
}

func TestDetectChangesSizeSameMtimeSameSkipsHash(t *testing.T) {
	s := newTestStore(t)
	ix := New(s)
	ctx := context.Background()
	pairID := newPairID(t)
	deviceID := newDeviceID(t)

	_, err := ix.PutEntry(ctx, model.FileEntry{
		PairID: pairID, Path: "same.txt", Size: 3, MtimeMS: 42, Hash: "unverified", DeviceID: deviceID,
	})
	require.NoError(t, err)

	src := &fakeSource{} // no content; a rehash would read empty input and report "same.txt" as modified

	scan := []folder.ScanEntry{{Path: "same.txt", Size: 3, MtimeMS: 42}}

	cs, err := ix.DetectChanges(ctx, pairID, scan, src)
	require.NoError(t, err)
	require.Empty(t, cs.Added)
	require.Empty(t, cs.Modified)
	require.Empty(t, cs.Deleted)
}
