package session_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/butterflysync/bdp/internal/cas"
	"github.com/butterflysync/bdp/internal/folder"
	"github.com/butterflysync/bdp/internal/ids"
	"github.com/butterflysync/bdp/internal/index"
	"github.com/butterflysync/bdp/internal/localscan"
	"github.com/butterflysync/bdp/internal/merkle"
	"github.com/butterflysync/bdp/internal/model"
	"github.com/butterflysync/bdp/internal/session"
	"github.com/butterflysync/bdp/internal/store"
	"github.com/butterflysync/bdp/internal/transport"
)

// peer bundles one side of a two-device sync pair: its own store, CAS, and
// managed folder, wired into a Session over one end of a PipeTransport.
type peer struct {
	deviceID ids.DeviceID
	store    *store.Store
	idx      *index.Index
	tree     *merkle.Tree
	blobs    *cas.Store
	root     string // managed folder (LocalSource root)
	vault    string // materialized sink root
	session  *session.Session
}

func newPeer(t *testing.T, pairID ids.PairID, conn transport.Transport, pair model.SyncPair) *peer {
	t.Helper()

	st, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	blobs, err := cas.New(t.TempDir(), st)
	require.NoError(t, err)

	root := t.TempDir()
	vault := t.TempDir()

	p := &peer{
		deviceID: ids.NewDeviceID(),
		store:    st,
		idx:      index.New(st),
		tree:     merkle.New(st),
		blobs:    blobs,
		root:     root,
		vault:    vault,
	}

	sess, err := session.New(session.Config{
		PairID:     pairID,
		DeviceID:   p.deviceID,
		DeviceName: "test-device",
		Transport:  conn,
		Store:      st,
		CAS:        blobs,
		Source:     folder.NewLocalSource(root),
		Sink:       folder.NewLocalSink(vault),
		Pair:       pair,
		OnStopped:  func(error) {},
	})
	require.NoError(t, err)

	p.session = sess

	return p
}

func (p *peer) seedLocal(t *testing.T, pairID ids.PairID) {
	t.Helper()

	_, err := localscan.Refresh(context.Background(), p.idx, p.tree, p.blobs, folder.NewLocalSource(p.root), pairID, p.deviceID)
	require.NoError(t, err)
}

// computeRoot performs a full Merkle rebuild, as a prior sync round would
// have before this test's exchange begins.
func (p *peer) computeRoot(t *testing.T, pairID ids.PairID) {
	t.Helper()

	_, err := p.tree.ComputeRoot(context.Background(), pairID, p.deviceID)
	require.NoError(t, err)
}

func (p *peer) merkleRoot(t *testing.T, pairID ids.PairID) string {
	t.Helper()

	root, err := p.store.GetIndexRoot(context.Background(), pairID)
	require.NoError(t, err)

	return root.RootHash
}

func writeFile(t *testing.T, root, path, content string) {
	t.Helper()

	full := filepath.Join(root, path)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

// runBoth starts both sessions concurrently and waits for both Run calls to
// return, failing the test if either errors or the deadline is exceeded.
func runBoth(t *testing.T, a, b *peer) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 2)

	go func() { errCh <- a.session.Run(ctx) }()
	go func() { errCh <- b.session.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case err := <-errCh:
			require.NoError(t, err)
		case <-ctx.Done():
			t.Fatal("session run did not complete before deadline")
		}
	}
}

func newTestPair(pairID ids.PairID, devices []ids.DeviceID) model.SyncPair {
	return model.SyncPair{
		PairID:           pairID,
		Devices:          devices,
		Direction:        model.DirectionBidirectional,
		ConflictStrategy: model.StrategyLastWriteWins,
		MaxFileSizeBytes: model.DefaultMaxFileSizeBytes,
	}
}

// TestSessionSingleFileDownload exercises spec.md §8 S1: B has a single
// file, A is empty; after sync A must materialize it byte-for-byte, both
// sides converge on the same Merkle root, and the counters reflect one
// download and zero uploads/conflicts.
func TestSessionSingleFileDownload(t *testing.T) {
	pairID := ids.NewPairID()
	connA, connB := transport.NewPipe()

	pair := newTestPair(pairID, nil)

	a := newPeer(t, pairID, connA, pair)
	b := newPeer(t, pairID, connB, pair)

	writeFile(t, b.root, "a.txt", "hello")
	b.seedLocal(t, pairID)

	runBoth(t, a, b)

	content, err := os.ReadFile(filepath.Join(a.vault, pairID.String(), "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(content))

	require.Equal(t, b.merkleRoot(t, pairID), a.merkleRoot(t, pairID))

	require.Equal(t, 1, a.session.Stats().FilesDownloaded)
	require.Equal(t, 0, a.session.Stats().FilesUploaded)
	require.Equal(t, 0, a.session.Stats().ConflictsRaised)
	require.Equal(t, session.StateIdle, a.session.State())
	require.Equal(t, session.StateIdle, b.session.State())
}

// TestSessionIdenticalRootsSkipsIndexExchange exercises spec.md §8 S2: both
// peers already carry the same empty index (and therefore the same Merkle
// root), so the session should go straight from greeting to finalize with
// no uploads or downloads.
func TestSessionIdenticalRootsSkipsIndexExchange(t *testing.T) {
	pairID := ids.NewPairID()
	connA, connB := transport.NewPipe()

	pair := newTestPair(pairID, nil)

	a := newPeer(t, pairID, connA, pair)
	b := newPeer(t, pairID, connB, pair)

	// Both sides seed against an empty managed folder and compute their
	// root up front, the state a pair would be in after any prior sync, so
	// greeting sees matching non-empty merkleRoots and takes the fast path
	// without ever sending an INDEX_REQUEST.
	a.seedLocal(t, pairID)
	b.seedLocal(t, pairID)
	a.computeRoot(t, pairID)
	b.computeRoot(t, pairID)

	rootBefore := a.merkleRoot(t, pairID)
	require.NotEmpty(t, rootBefore)
	require.Equal(t, rootBefore, b.merkleRoot(t, pairID))

	runBoth(t, a, b)

	require.Equal(t, rootBefore, a.merkleRoot(t, pairID))
	require.Equal(t, b.merkleRoot(t, pairID), a.merkleRoot(t, pairID))
	require.Equal(t, 0, a.session.Stats().FilesUploaded)
	require.Equal(t, 0, a.session.Stats().FilesDownloaded)
	require.Equal(t, 0, b.session.Stats().FilesUploaded)
	require.Equal(t, 0, b.session.Stats().FilesDownloaded)
	require.Equal(t, session.StateIdle, a.session.State())
	require.Equal(t, session.StateIdle, b.session.State())
}
