// Package merkle implements C5, the incremental Merkle tree over a pair's
// file index (spec.md §4.5). Node persistence is grounded on the
// teacher's internal/sync store layer (internal/driveops/session_store.go),
// generalized from a flat session-state table to the tree's recursive
// parent/child node shape.
package merkle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/butterflysync/bdp/internal/bdperr"
	"github.com/butterflysync/bdp/internal/ids"
	"github.com/butterflysync/bdp/internal/model"
)

// Store is the subset of store.Store that Tree depends on.
type Store interface {
	PutNode(ctx context.Context, n model.MerkleNode) error
	GetNode(ctx context.Context, pairID ids.PairID, nodePath string) (*model.MerkleNode, error)
	DeleteNode(ctx context.Context, pairID ids.PairID, nodePath string) error
	AllNodes(ctx context.Context, pairID ids.PairID) ([]model.MerkleNode, error)
	DeleteAllNodes(ctx context.Context, pairID ids.PairID) error
	GetIndexRoot(ctx context.Context, pairID ids.PairID) (*model.IndexRoot, error)
	PutIndexRoot(ctx context.Context, r model.IndexRoot) error
	AllEntries(ctx context.Context, pairID ids.PairID) ([]model.FileEntry, error)
	MaxSeq(ctx context.Context, pairID ids.PairID) (uint64, error)
}

// Tree drives incremental and full-rebuild Merkle tree maintenance over a
// Store.
type Tree struct {
	store Store
	now   func() time.Time
}

// New returns a Tree backed by s.
func New(s Store) *Tree {
	return &Tree{store: s, now: time.Now}
}

// LeafHash computes a FileEntry's contribution to its parent node's
// childHashes (spec.md §4.5 "Leaf hash rule").
func LeafHash(e model.FileEntry) string {
	if e.Tombstone {
		sum := sha256.Sum256([]byte(model.TombstoneSentinelPrefix + e.Path))
		return hex.EncodeToString(sum[:])
	}

	return e.Hash
}

// NodeHash computes a directory node's hash from its children (spec.md
// §4.5 "Node hash rule"): sort by segment name, concatenate the hex
// hashes, SHA-256 the result.
func NodeHash(childHashes map[string]string) string {
	segments := make([]string, 0, len(childHashes))
	for seg := range childHashes {
		segments = append(segments, seg)
	}

	sort.Strings(segments)

	var sb strings.Builder
	for _, seg := range segments {
		sb.WriteString(childHashes[seg])
	}

	sum := sha256.Sum256([]byte(sb.String()))

	return hex.EncodeToString(sum[:])
}

// Update performs the incremental update sequence for a just-persisted
// FileEntry (spec.md §4.5 "Incremental update", steps 2-5; step 1,
// persisting the entry, is the caller's responsibility via index.Index).
func (t *Tree) Update(ctx context.Context, pairID ids.PairID, e model.FileEntry) error {
	if err := t.propagateUp(ctx, pairID, e.Path, LeafHash(e)); err != nil {
		return err
	}

	return t.recomputeSummary(ctx, pairID)
}

// Remove performs the delete cascade for a hard-removed entry (spec.md
// §4.5 "Delete cascade"): removes the leaf from its parent, and if the
// parent becomes empty, removes it from its parent in turn, recursing
// until a non-empty ancestor or the root is reached.
func (t *Tree) Remove(ctx context.Context, pairID ids.PairID, path string) error {
	current := path

	for {
		parentPath, segment := splitPath(current)

		node, err := t.getNodeOrEmpty(ctx, pairID, parentPath)
		if err != nil {
			return err
		}

		if _, ok := node.ChildHashes[segment]; !ok {
			return t.recomputeSummary(ctx, pairID)
		}

		delete(node.ChildHashes, segment)
		node.ChildCount = len(node.ChildHashes)

		if node.ChildCount == 0 && parentPath != "" {
			if err := t.store.DeleteNode(ctx, pairID, parentPath); err != nil {
				return fmt.Errorf("merkle: remove %s: %w", path, err)
			}

			current = parentPath
			continue
		}

		node.Hash = NodeHash(node.ChildHashes)

		if err := t.store.PutNode(ctx, node); err != nil {
			return fmt.Errorf("merkle: remove %s: %w", path, err)
		}

		if parentPath == "" {
			return t.recomputeSummary(ctx, pairID)
		}

		if err := t.propagateUp(ctx, pairID, parentPath, node.Hash); err != nil {
			return err
		}

		return t.recomputeSummary(ctx, pairID)
	}
}

// propagateUp walks from path's parent up to the root, setting each
// ancestor's entry for the just-updated subtree to hash and recomputing,
// the shared tail of both Update and Remove's cascades.
func (t *Tree) propagateUp(ctx context.Context, pairID ids.PairID, path, hash string) error {
	for {
		parent, segment := splitPath(path)

		node, err := t.getNodeOrEmpty(ctx, pairID, parent)
		if err != nil {
			return err
		}

		node.ChildHashes[segment] = hash
		node.ChildCount = len(node.ChildHashes)
		node.Hash = NodeHash(node.ChildHashes)

		if err := t.store.PutNode(ctx, node); err != nil {
			return fmt.Errorf("merkle: propagate %s: %w", path, err)
		}

		if parent == "" {
			return nil
		}

		hash = node.Hash
		path = parent
	}
}

func (t *Tree) getNodeOrEmpty(ctx context.Context, pairID ids.PairID, nodePath string) (model.MerkleNode, error) {
	n, err := t.store.GetNode(ctx, pairID, nodePath)
	if err != nil {
		if errors.Is(err, bdperr.ErrNotFound) {
			return model.MerkleNode{PairID: pairID, NodePath: nodePath, ChildHashes: map[string]string{}}, nil
		}

		return model.MerkleNode{}, fmt.Errorf("merkle: get node %s: %w", nodePath, err)
	}

	if n.ChildHashes == nil {
		n.ChildHashes = map[string]string{}
	}

	return *n, nil
}

// recomputeSummary refreshes the pair's IndexRoot rootHash/maxSeq after an
// incremental update, without regenerating indexId (spec.md §3: indexId
// "changes only when the entire tree is rebuilt from scratch").
func (t *Tree) recomputeSummary(ctx context.Context, pairID ids.PairID) error {
	root, err := t.getNodeOrEmpty(ctx, pairID, "")
	if err != nil {
		return err
	}

	entries, err := t.store.AllEntries(ctx, pairID)
	if err != nil {
		return fmt.Errorf("merkle: recompute summary: %w", err)
	}

	maxSeq, err := t.store.MaxSeq(ctx, pairID)
	if err != nil {
		return fmt.Errorf("merkle: recompute summary: %w", err)
	}

	existing, err := t.store.GetIndexRoot(ctx, pairID)
	indexID := ""

	if err != nil {
		if !errors.Is(err, bdperr.ErrNotFound) {
			return fmt.Errorf("merkle: recompute summary: %w", err)
		}
	} else {
		indexID = existing.IndexID
	}

	if indexID == "" {
		indexID = uuid.New().String()
	}

	summary := model.IndexRoot{
		PairID:     pairID,
		RootHash:   root.Hash,
		EntryCount: len(entries),
		MaxSeq:     maxSeq,
		IndexID:    indexID,
		ComputedAt: t.now().UnixMilli(),
	}

	if existing != nil {
		summary.DeviceID = existing.DeviceID
	}

	return t.store.PutIndexRoot(ctx, summary)
}

// ComputeRoot performs a full rebuild (spec.md §4.5 "Full rebuild"):
// discards every existing node, buckets entries by parent path, and walks
// paths in depth-descending order computing each node's hash bottom-up. A
// fresh indexId is generated, severing delta-sync lineage with any peer.
func (t *Tree) ComputeRoot(ctx context.Context, pairID ids.PairID, deviceID ids.DeviceID) (model.IndexRoot, error) {
	entries, err := t.store.AllEntries(ctx, pairID)
	if err != nil {
		return model.IndexRoot{}, fmt.Errorf("merkle: compute root: %w", err)
	}

	if err := t.store.DeleteAllNodes(ctx, pairID); err != nil {
		return model.IndexRoot{}, fmt.Errorf("merkle: compute root: %w", err)
	}

	children := map[string]map[string]string{"": {}}
	allPaths := map[string]bool{"": true}

	for _, e := range entries {
		parent, seg := splitPath(e.Path)
		ensureChildren(children, parent)[seg] = LeafHash(e)

		for p := parent; ; {
			allPaths[p] = true

			if p == "" {
				break
			}

			p, _ = splitPath(p)
		}
	}

	ordered := make([]string, 0, len(allPaths))
	for p := range allPaths {
		ordered = append(ordered, p)
	}

	sort.Slice(ordered, func(i, j int) bool { return depth(ordered[i]) > depth(ordered[j]) })

	var rootHash string

	for _, p := range ordered {
		m := ensureChildren(children, p)
		hash := NodeHash(m)

		if len(m) > 0 {
			if err := t.store.PutNode(ctx, model.MerkleNode{
				PairID: pairID, NodePath: p, Hash: hash, ChildHashes: m, ChildCount: len(m),
			}); err != nil {
				return model.IndexRoot{}, fmt.Errorf("merkle: compute root: %w", err)
			}
		}

		if p == "" {
			rootHash = hash
			continue
		}

		parent, seg := splitPath(p)
		ensureChildren(children, parent)[seg] = hash
	}

	maxSeq, err := t.store.MaxSeq(ctx, pairID)
	if err != nil {
		return model.IndexRoot{}, fmt.Errorf("merkle: compute root: %w", err)
	}

	root := model.IndexRoot{
		PairID:     pairID,
		RootHash:   rootHash,
		EntryCount: len(entries),
		MaxSeq:     maxSeq,
		IndexID:    uuid.New().String(),
		ComputedAt: t.now().UnixMilli(),
		DeviceID:   deviceID,
	}

	if err := t.store.PutIndexRoot(ctx, root); err != nil {
		return model.IndexRoot{}, fmt.Errorf("merkle: compute root: %w", err)
	}

	return root, nil
}

func ensureChildren(children map[string]map[string]string, path string) map[string]string {
	m, ok := children[path]
	if !ok {
		m = map[string]string{}
		children[path] = m
	}

	return m
}

// DiffKind classifies one divergent path surfaced by WalkDiff.
type DiffKind string

// DiffKind values (spec.md §4.5 "Fast equality / diff walk").
const (
	DiffChanged    DiffKind = "changed"
	DiffLocalOnly  DiffKind = "local_only"
	DiffRemoteOnly DiffKind = "remote_only"
)

// DiffItem is one path surfaced by WalkDiff.
type DiffItem struct {
	Path  string
	IsDir bool
	Kind  DiffKind
}

// WalkDiff compares nodePath's local children against a remote peer's
// childHashes for the same node, returning diverged items per spec.md
// §4.5. Directory-level mismatches are returned as a single DiffChanged
// item (IsDir=true) for the caller to recurse into with another WalkDiff
// round-trip once it has the remote's childHashes for that subtree.
func (t *Tree) WalkDiff(ctx context.Context, pairID ids.PairID, nodePath string, remoteChildHashes map[string]string) ([]DiffItem, error) {
	node, err := t.store.GetNode(ctx, pairID, nodePath)

	localChildren := map[string]string{}

	if err != nil {
		if !errors.Is(err, bdperr.ErrNotFound) {
			return nil, fmt.Errorf("merkle: walk diff %s: %w", nodePath, err)
		}
	} else {
		localChildren = node.ChildHashes
	}

	var out []DiffItem

	for seg, localHash := range localChildren {
		childPath := joinPath(nodePath, seg)

		remoteHash, present := remoteChildHashes[seg]
		if present && remoteHash == localHash {
			continue
		}

		isDir, err := t.isDirNode(ctx, pairID, childPath)
		if err != nil {
			return nil, err
		}

		if !present {
			leaves, err := t.expandSubtree(ctx, pairID, childPath, isDir, DiffLocalOnly)
			if err != nil {
				return nil, err
			}

			out = append(out, leaves...)
			continue
		}

		out = append(out, DiffItem{Path: childPath, IsDir: isDir, Kind: DiffChanged})
	}

	for seg := range remoteChildHashes {
		if _, ok := localChildren[seg]; ok {
			continue
		}

		out = append(out, DiffItem{Path: joinPath(nodePath, seg), Kind: DiffRemoteOnly})
	}

	return out, nil
}

func (t *Tree) isDirNode(ctx context.Context, pairID ids.PairID, path string) (bool, error) {
	_, err := t.store.GetNode(ctx, pairID, path)
	if err != nil {
		if errors.Is(err, bdperr.ErrNotFound) {
			return false, nil
		}

		return false, fmt.Errorf("merkle: is dir %s: %w", path, err)
	}

	return true, nil
}

func (t *Tree) expandSubtree(ctx context.Context, pairID ids.PairID, path string, isDir bool, kind DiffKind) ([]DiffItem, error) {
	if !isDir {
		return []DiffItem{{Path: path, Kind: kind}}, nil
	}

	node, err := t.store.GetNode(ctx, pairID, path)
	if err != nil {
		return nil, fmt.Errorf("merkle: expand subtree %s: %w", path, err)
	}

	var out []DiffItem

	for seg := range node.ChildHashes {
		childPath := joinPath(path, seg)

		childIsDir, err := t.isDirNode(ctx, pairID, childPath)
		if err != nil {
			return nil, err
		}

		leaves, err := t.expandSubtree(ctx, pairID, childPath, childIsDir, kind)
		if err != nil {
			return nil, err
		}

		out = append(out, leaves...)
	}

	return out, nil
}

// splitPath splits a file or node path into its parent node path and the
// final segment. The root's parent is itself represented by "".
func splitPath(path string) (parent, segment string) {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", path
	}

	return path[:idx], path[idx+1:]
}

func joinPath(parent, segment string) string {
	if parent == "" {
		return segment
	}

	return parent + "/" + segment
}

func depth(path string) int {
	if path == "" {
		return 0
	}

	return strings.Count(path, "/") + 1
}
