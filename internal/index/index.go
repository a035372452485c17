// Package index implements C4, the per-pair file index and its change
// detection against a folder.Source (spec.md §4.3). It layers seq
// assignment and the added/modified/deleted decision table on top of
// store.Store's raw persistence, the way the teacher's internal/sync
// package layers change detection (scanner.go) on top of its SQLite
// store (internal/driveops/session_store.go).
package index

import (
	"context"
	"fmt"

	"github.com/butterflysync/bdp/internal/chunk"
	"github.com/butterflysync/bdp/internal/folder"
	"github.com/butterflysync/bdp/internal/ids"
	"github.com/butterflysync/bdp/internal/model"
)

// Store is the subset of store.Store that Index depends on.
type Store interface {
	MaxSeq(ctx context.Context, pairID ids.PairID) (uint64, error)
	PutEntry(ctx context.Context, e model.FileEntry) error
	GetEntry(ctx context.Context, pairID ids.PairID, path string) (*model.FileEntry, error)
	DeleteEntry(ctx context.Context, pairID ids.PairID, path string) error
	EntriesSince(ctx context.Context, pairID ids.PairID, sinceSeq uint64) ([]model.FileEntry, error)
	AllEntries(ctx context.Context, pairID ids.PairID) ([]model.FileEntry, error)
	LiveEntries(ctx context.Context, pairID ids.PairID) ([]model.FileEntry, error)
}

// Index wraps a Store with the seq-stamping and change-detection logic
// from spec.md §4.3.
type Index struct {
	store Store
}

// New returns an Index backed by s.
func New(s Store) *Index {
	return &Index{store: s}
}

// PutEntry stamps e.Seq to maxSeq(pair)+1 and persists it (spec.md §4.3
// "Seq assignment").
func (ix *Index) PutEntry(ctx context.Context, e model.FileEntry) (model.FileEntry, error) {
	maxSeq, err := ix.store.MaxSeq(ctx, e.PairID)
	if err != nil {
		return model.FileEntry{}, fmt.Errorf("index: put entry: %w", err)
	}

	e.Seq = maxSeq + 1

	if err := ix.store.PutEntry(ctx, e); err != nil {
		return model.FileEntry{}, err
	}

	return e, nil
}

// GetEntry returns the entry for (pairID, path).
func (ix *Index) GetEntry(ctx context.Context, pairID ids.PairID, path string) (*model.FileEntry, error) {
	return ix.store.GetEntry(ctx, pairID, path)
}

// DeleteEntry hard-deletes the row for (pairID, path) — pair teardown, not
// logical delete (see model.FileEntry tombstone).
func (ix *Index) DeleteEntry(ctx context.Context, pairID ids.PairID, path string) error {
	return ix.store.DeleteEntry(ctx, pairID, path)
}

// EntriesSince returns entries with seq > sinceSeq.
func (ix *Index) EntriesSince(ctx context.Context, pairID ids.PairID, sinceSeq uint64) ([]model.FileEntry, error) {
	return ix.store.EntriesSince(ctx, pairID, sinceSeq)
}

// AllEntries returns every entry, tombstoned or not.
func (ix *Index) AllEntries(ctx context.Context, pairID ids.PairID) ([]model.FileEntry, error) {
	return ix.store.AllEntries(ctx, pairID)
}

// LiveEntries returns every non-tombstoned entry.
func (ix *Index) LiveEntries(ctx context.Context, pairID ids.PairID) ([]model.FileEntry, error) {
	return ix.store.LiveEntries(ctx, pairID)
}

// ChangeSet is the result of detectChanges (spec.md §6 "detectChanges").
type ChangeSet struct {
	Added    []folder.ScanEntry
	Modified []folder.ScanEntry
	Deleted  []string
}

// DetectChanges compares a fresh folder.Source scan against the index for
// pairID, applying the decision table in spec.md §4.3. It never hashes a
// file whose size and mtime are unchanged from the indexed entry.
func (ix *Index) DetectChanges(ctx context.Context, pairID ids.PairID, scan []folder.ScanEntry, src folder.Source) (ChangeSet, error) {
	existing, err := ix.store.AllEntries(ctx, pairID)
	if err != nil {
		return ChangeSet{}, fmt.Errorf("index: detect changes: %w", err)
	}

	byPath := make(map[string]model.FileEntry, len(existing))
	for _, e := range existing {
		byPath[e.Path] = e
	}

	seen := make(map[string]bool, len(scan))
	var cs ChangeSet

	for _, se := range scan {
		seen[se.Path] = true

		prev, ok := byPath[se.Path]

		if !ok || prev.Tombstone {
			cs.Added = append(cs.Added, se)
			continue
		}

		if prev.Size == se.Size && prev.MtimeMS == se.MtimeMS {
			continue
		}

		changed, err := contentChanged(ctx, src, se.Path, prev.Hash)
		if err != nil {
			return ChangeSet{}, err
		}

		if changed {
			cs.Modified = append(cs.Modified, se)
		}
	}

	for path, prev := range byPath {
		if prev.Tombstone || seen[path] {
			continue
		}

		cs.Deleted = append(cs.Deleted, path)
	}

	return cs, nil
}

// contentChanged hashes the current content at path and compares it
// against storedHash.
func contentChanged(ctx context.Context, src folder.Source, path, storedHash string) (bool, error) {
	r, err := src.Open(ctx, path)
	if err != nil {
		return false, fmt.Errorf("index: open %s for rehash: %w", path, err)
	}
	defer r.Close()

	res, err := chunk.Hash(r)
	if err != nil {
		return false, fmt.Errorf("index: hash %s: %w", path, err)
	}

	return res.WholeHash != storedHash, nil
}
