// Package localscan implements the "observe local, refresh index" step
// that runs before a session starts: scan the managed folder, detect
// changes against the persisted index (C4), content-address their bytes
// into the CAS (C2), and advance the incremental Merkle tree (C5).
// Grounded on the teacher's Engine.observeLocal (internal/sync/engine.go),
// which plays the same role — scan, diff against a baseline, hand the
// result to the rest of the pipeline — generalized from OneDrive's
// ChangeEvent log to BDP's persisted FileEntry rows.
package localscan

import (
	"context"
	"fmt"
	"io"

	"github.com/butterflysync/bdp/internal/cas"
	"github.com/butterflysync/bdp/internal/chunk"
	"github.com/butterflysync/bdp/internal/folder"
	"github.com/butterflysync/bdp/internal/ids"
	"github.com/butterflysync/bdp/internal/index"
	"github.com/butterflysync/bdp/internal/merkle"
	"github.com/butterflysync/bdp/internal/model"
	"github.com/butterflysync/bdp/internal/vectorclock"
)

// Refresh scans source, applies index.DetectChanges, and persists the
// result: added/modified files are hashed, their chunks stored in blobs,
// and their FileEntry/MerkleNode rows updated; deleted files are
// tombstoned. Returns the change set that was applied.
func Refresh(
	ctx context.Context,
	idx *index.Index,
	tree *merkle.Tree,
	blobs *cas.Store,
	source folder.Source,
	pairID ids.PairID,
	deviceID ids.DeviceID,
) (index.ChangeSet, error) {
	scan, err := source.Scan(ctx)
	if err != nil {
		return index.ChangeSet{}, fmt.Errorf("localscan: scan: %w", err)
	}

	changes, err := idx.DetectChanges(ctx, pairID, scan, source)
	if err != nil {
		return index.ChangeSet{}, fmt.Errorf("localscan: detect changes: %w", err)
	}

	for _, se := range append(append([]folder.ScanEntry{}, changes.Added...), changes.Modified...) {
		if err := applyLiveEntry(ctx, idx, tree, blobs, source, pairID, deviceID, se); err != nil {
			return changes, fmt.Errorf("localscan: %s: %w", se.Path, err)
		}
	}

	for _, path := range changes.Deleted {
		if err := applyTombstone(ctx, idx, tree, pairID, deviceID, path); err != nil {
			return changes, fmt.Errorf("localscan: tombstone %s: %w", path, err)
		}
	}

	return changes, nil
}

func applyLiveEntry(
	ctx context.Context,
	idx *index.Index,
	tree *merkle.Tree,
	blobs *cas.Store,
	source folder.Source,
	pairID ids.PairID,
	deviceID ids.DeviceID,
	se folder.ScanEntry,
) error {
	hashReader, err := source.Open(ctx, se.Path)
	if err != nil {
		return err
	}

	result, err := chunk.Hash(hashReader)
	hashReader.Close()

	if err != nil {
		return err
	}

	contentReader, err := source.Open(ctx, se.Path)
	if err != nil {
		return err
	}
	defer contentReader.Close()

	if err := storeChunks(ctx, blobs, contentReader, result.ChunkHashes); err != nil {
		return err
	}

	clock := nextClock(ctx, idx, pairID, se.Path, deviceID)

	entry := model.FileEntry{
		PairID: pairID, Path: se.Path, Size: se.Size, MtimeMS: se.MtimeMS,
		Hash: result.WholeHash, ChunkHashes: result.ChunkHashes,
		VectorClock: clock, DeviceID: deviceID,
	}

	stamped, err := idx.PutEntry(ctx, entry)
	if err != nil {
		return err
	}

	return tree.Update(ctx, pairID, stamped)
}

func applyTombstone(ctx context.Context, idx *index.Index, tree *merkle.Tree, pairID ids.PairID, deviceID ids.DeviceID, path string) error {
	clock := nextClock(ctx, idx, pairID, path, deviceID)

	entry := model.FileEntry{
		PairID: pairID, Path: path, Tombstone: true, VectorClock: clock, DeviceID: deviceID,
	}

	stamped, err := idx.PutEntry(ctx, entry)
	if err != nil {
		return err
	}

	return tree.Update(ctx, pairID, stamped)
}

func nextClock(ctx context.Context, idx *index.Index, pairID ids.PairID, path string, deviceID ids.DeviceID) vectorclock.Clock {
	existing, err := idx.GetEntry(ctx, pairID, path)
	if err != nil {
		return vectorclock.Clock{}.Increment(deviceID.String())
	}

	return existing.VectorClock.Increment(deviceID.String())
}

// storeChunks re-reads content in chunk.Size windows (matching the order
// chunk.Hash produced hashes in) and writes each into the CAS.
func storeChunks(ctx context.Context, blobs *cas.Store, r io.Reader, hashes []string) error {
	buf := make([]byte, chunk.Size)

	for _, h := range hashes {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if err := blobs.Put(ctx, h, buf[:n], false); err != nil {
				return err
			}
		}

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}

		if err != nil {
			return err
		}
	}

	return nil
}
