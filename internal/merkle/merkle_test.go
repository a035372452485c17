package merkle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

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

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestLeafHashLiveUsesEntryHash(t *testing.T) {
	e := model.FileEntry{Hash: "abc123"}
	require.Equal(t, "abc123", LeafHash(e))
}

func TestLeafHashTombstoneUsesSentinel(t *testing.T) {
	e := model.FileEntry{Path: "a/b.txt", Tombstone: true}
	want := sha256Hex(model.TombstoneSentinelPrefix + "a/b.txt")
	require.Equal(t, want, LeafHash(e))
}

func TestNodeHashOrderIndependent(t *testing.T) {
	h1 := NodeHash(map[string]string{"b": "hashB", "a": "hashA"})
	h2 := NodeHash(map[string]string{"a": "hashA", "b": "hashB"})
	require.Equal(t, h1, h2)
}

func TestUpdateSingleTopLevelFile(t *testing.T) {
	s := newTestStore(t)
	tree := New(s)
	ctx := context.Background()
	pairID := ids.NewPairID()

	e := model.FileEntry{PairID: pairID, Path: "a.txt", Hash: "hashA", Seq: 1}
	require.NoError(t, tree.Update(ctx, pairID, e))

	root, err := s.GetNode(ctx, pairID, "")
	require.NoError(t, err)
	require.Equal(t, NodeHash(map[string]string{"a.txt": "hashA"}), root.Hash)

	summary, err := s.GetIndexRoot(ctx, pairID)
	require.NoError(t, err)
	require.Equal(t, root.Hash, summary.RootHash)
}

func TestUpdateNestedPathCascadesToRoot(t *testing.T) {
	s := newTestStore(t)
	tree := New(s)
	ctx := context.Background()
	pairID := ids.NewPairID()

	e := model.FileEntry{PairID: pairID, Path: "dir/sub/file.txt", Hash: "leafhash", Seq: 1}
	require.NoError(t, tree.Update(ctx, pairID, e))

	leafParent, err := s.GetNode(ctx, pairID, "dir/sub")
	require.NoError(t, err)
	require.Equal(t, "leafhash", leafParent.ChildHashes["file.txt"])

	mid, err := s.GetNode(ctx, pairID, "dir")
	require.NoError(t, err)
	require.Equal(t, leafParent.Hash, mid.ChildHashes["sub"])

	root, err := s.GetNode(ctx, pairID, "")
	require.NoError(t, err)
	require.Equal(t, mid.Hash, root.ChildHashes["dir"])
}

func TestRemoveCascadesWhenParentBecomesEmpty(t *testing.T) {
	s := newTestStore(t)
	tree := New(s)
	ctx := context.Background()
	pairID := ids.NewPairID()

	require.NoError(t, tree.Update(ctx, pairID, model.FileEntry{
		PairID: pairID, Path: "dir/only.txt", Hash: "h1", Seq: 1,
	}))

	require.NoError(t, tree.Remove(ctx, pairID, "dir/only.txt"))

	_, err := s.GetNode(ctx, pairID, "dir")
	require.Error(t, err)

	root, err := s.GetNode(ctx, pairID, "")
	require.NoError(t, err)
	require.Empty(t, root.ChildHashes)
}

func TestRemoveStopsAtNonEmptyAncestor(t *testing.T) {
	s := newTestStore(t)
	tree := New(s)
	ctx := context.Background()
	pairID := ids.NewPairID()

	require.NoError(t, tree.Update(ctx, pairID, model.FileEntry{
		PairID: pairID, Path: "dir/a.txt", Hash: "ha", Seq: 1,
	}))
	require.NoError(t, tree.Update(ctx, pairID, model.FileEntry{
		PairID: pairID, Path: "dir/b.txt", Hash: "hb", Seq: 2,
	}))

	require.NoError(t, tree.Remove(ctx, pairID, "dir/a.txt"))

	dir, err := s.GetNode(ctx, pairID, "dir")
	require.NoError(t, err)
	require.Len(t, dir.ChildHashes, 1)
	require.Equal(t, "hb", dir.ChildHashes["b.txt"])
}

func TestComputeRootRebuildsFromScratch(t *testing.T) {
	s := newTestStore(t)
	tree := New(s)
	ctx := context.Background()
	pairID := ids.NewPairID()
	deviceID := ids.NewDeviceID()

	for i, e := range []model.FileEntry{
		{PairID: pairID, Path: "a.txt", Hash: "h1"},
		{PairID: pairID, Path: "dir/b.txt", Hash: "h2"},
		{PairID: pairID, Path: "dir/sub/c.txt", Hash: "h3"},
	} {
		e.Seq = uint64(i + 1)
		require.NoError(t, s.PutEntry(ctx, e))
	}

	root, err := tree.ComputeRoot(ctx, pairID, deviceID)
	require.NoError(t, err)
	require.Equal(t, 3, root.EntryCount)
	require.NotEmpty(t, root.RootHash)
	require.NotEmpty(t, root.IndexID)

	rootNode, err := s.GetNode(ctx, pairID, "")
	require.NoError(t, err)
	require.Len(t, rootNode.ChildHashes, 2) // "a.txt" leaf, "dir" subtree
}

func TestComputeRootGeneratesFreshIndexIDEachRebuild(t *testing.T) {
	s := newTestStore(t)
	tree := New(s)
	ctx := context.Background()
	pairID := ids.NewPairID()
	deviceID := ids.NewDeviceID()

	require.NoError(t, s.PutEntry(ctx, model.FileEntry{PairID: pairID, Path: "a.txt", Hash: "h1", Seq: 1}))

	r1, err := tree.ComputeRoot(ctx, pairID, deviceID)
	require.NoError(t, err)

	r2, err := tree.ComputeRoot(ctx, pairID, deviceID)
	require.NoError(t, err)

	require.NotEqual(t, r1.IndexID, r2.IndexID)
}

func TestWalkDiffDetectsChangedLocalOnlyAndRemoteOnly(t *testing.T) {
	s := newTestStore(t)
	tree := New(s)
	ctx := context.Background()
	pairID := ids.NewPairID()

	require.NoError(t, tree.Update(ctx, pairID, model.FileEntry{PairID: pairID, Path: "same.txt", Hash: "same", Seq: 1}))
	require.NoError(t, tree.Update(ctx, pairID, model.FileEntry{PairID: pairID, Path: "changed.txt", Hash: "localhash", Seq: 2}))
	require.NoError(t, tree.Update(ctx, pairID, model.FileEntry{PairID: pairID, Path: "local_only.txt", Hash: "lo", Seq: 3}))

	remoteChildren := map[string]string{
		"same.txt":        "same",
		"changed.txt":      "remotehash",
		"remote_only.txt":  "ro",
	}

	diffs, err := tree.WalkDiff(ctx, pairID, "", remoteChildren)
	require.NoError(t, err)

	byPath := map[string]DiffItem{}
	for _, d := range diffs {
		byPath[d.Path] = d
	}

	require.NotContains(t, byPath, "same.txt")
	require.Equal(t, DiffChanged, byPath["changed.txt"].Kind)
	require.Equal(t, DiffLocalOnly, byPath["local_only.txt"].Kind)
	require.Equal(t, DiffRemoteOnly, byPath["remote_only.txt"].Kind)
}
