// Package cas implements C2, the content-addressable store: sharded blob
// storage on disk with transparent per-chunk deflate compression and
// reference-counted lifetime tracked in the C1 store. Grounded on the
// teacher's driveops.SessionStore (internal/driveops/session_store.go) for
// the "small files under a sharded directory, guarded by a mutex" shape,
// generalized from session JSON files to content-addressed chunk blobs.
package cas

import (
	"bytes"
	"compress/flate"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/butterflysync/bdp/internal/bdperr"
	"github.com/butterflysync/bdp/internal/model"
)

// Compression prefix bytes (spec.md §4.2).
const (
	prefixRaw        byte = 0x00
	prefixCompressed byte = 0x01
)

// CompressionThreshold is the minimum chunk size eligible for compression
// (spec.md §4.2, §6).
const CompressionThreshold = 4 * 1024

// compressionSavingsFactor: compress only if result is strictly smaller
// than 90% of original (spec.md §4.2).
const compressionSavingsFactor = 0.90

// shardPrefixLen is the number of lowercase hex characters used to shard
// the blob directory (spec.md §4.2: "two-character prefix").
const shardPrefixLen = 2

// MetaStore is the subset of store.Store the CAS needs for chunk metadata
// persistence (C1). Defined at the consumer per "accept interfaces, return
// structs" — mirrors the teacher's graph.TokenSource placement convention.
type MetaStore interface {
	GetChunkMeta(ctx context.Context, hash string) (*model.CASChunk, error)
	PutChunkMeta(ctx context.Context, c model.CASChunk) error
	DeleteChunkMeta(ctx context.Context, hash string) error
	ZeroRefChunks(ctx context.Context) ([]string, error)
}

// Store is the content-addressable blob store (C2).
type Store struct {
	root string // filesystem root for blob storage, e.g. ".../cas"
	meta MetaStore

	// writeMu is the process-wide "cas-write" named lock from spec.md §4.2:
	// all write operations (put/incRef/decRef/delete/reclaim) serialize on
	// it to avoid two writers racing on the same shard directory. Reads do
	// not take it.
	writeMu sync.Mutex

	now func() time.Time
}

// New creates a CAS rooted at root (created if absent), backed by meta for
// chunk bookkeeping.
func New(root string, meta MetaStore) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("cas: creating root %s: %w", root, err)
	}

	return &Store{root: root, meta: meta, now: time.Now}, nil
}

func (s *Store) shardPath(hash string) string {
	if len(hash) < shardPrefixLen {
		return filepath.Join(s.root, hash)
	}

	return filepath.Join(s.root, hash[:shardPrefixLen], hash[shardPrefixLen:])
}

// Has reports whether hash is present in blob storage.
func (s *Store) Has(hash string) bool {
	_, err := os.Stat(s.shardPath(hash))
	return err == nil
}

// Get returns the original raw bytes for hash, decompressing transparently
// if storage chose to compress it (spec.md §4.2 contract). Returns
// bdperr.ErrNotFound if the hash is absent.
func (s *Store) Get(hash string) ([]byte, error) {
	raw, err := os.ReadFile(s.shardPath(hash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("cas: get %s: %w", hash, bdperr.ErrNotFound)
		}

		return nil, fmt.Errorf("cas: reading %s: %w", hash, err)
	}

	if len(raw) == 0 {
		return nil, fmt.Errorf("cas: corrupt blob %s: empty file", hash)
	}

	prefix, body := raw[0], raw[1:]

	switch prefix {
	case prefixRaw:
		return body, nil
	case prefixCompressed:
		r := flate.NewReader(bytes.NewReader(body))
		defer r.Close()

		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("cas: inflating %s: %w", hash, err)
		}

		return out, nil
	default:
		return nil, fmt.Errorf("cas: corrupt blob %s: unknown prefix 0x%02x", hash, prefix)
	}
}

// Put stores bytes under hash. A no-op if the hash is already present
// (content-addressing: identical content yields identical key, spec.md
// §4.2). When alreadyCompressed is true, the caller guarantees the bytes
// are not separately compressible and they are stored raw as-is (the
// chunk-receipt path from spec.md §4.8 streams already-negotiated bytes,
// so re-compressing here would be wasted work).
func (s *Store) Put(ctx context.Context, hash string, raw []byte, alreadyCompressed bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.Has(hash) {
		return nil
	}

	stored, compressed := s.encode(raw, alreadyCompressed)

	dir := filepath.Dir(s.shardPath(hash))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cas: creating shard dir: %w", bdperr.ErrWriteError)
	}

	if err := writeAtomic(s.shardPath(hash), stored); err != nil {
		return fmt.Errorf("cas: writing blob %s: %w", hash, bdperr.ErrWriteError)
	}

	return s.incRefLocked(ctx, hash, int64(len(raw)), int64(len(stored)), compressed)
}

// encode applies the compression decision from spec.md §4.2: compress only
// when the chunk is at least CompressionThreshold, the caller didn't
// already compress it, and the compressed form is strictly under 90% of
// the original size. Otherwise the raw bytes are stored.
func (s *Store) encode(raw []byte, alreadyCompressed bool) (stored []byte, compressed bool) {
	if !alreadyCompressed && len(raw) >= CompressionThreshold {
		var buf bytes.Buffer
		buf.WriteByte(prefixCompressed)

		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err == nil {
			if _, err := w.Write(raw); err == nil {
				if err := w.Close(); err == nil {
					if float64(buf.Len()-1) < float64(len(raw))*compressionSavingsFactor {
						return buf.Bytes(), true
					}
				}
			}
		}
	}

	out := make([]byte, 0, len(raw)+1)
	out = append(out, prefixRaw)
	out = append(out, raw...)

	return out, false
}

// Delete removes a chunk's blob bytes. Callers should only do this once
// refCount has dropped to zero (reclaim handles that path); exposed
// directly for corruption-recovery tooling.
func (s *Store) Delete(hash string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := os.Remove(s.shardPath(hash)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("cas: deleting blob %s: %w", hash, bdperr.ErrWriteError)
	}

	return nil
}

// IncRef records that a new FileEntry references hash, creating the CAS
// metadata row on first reference. origSize/storedSize/storedCompressed
// describe the chunk exactly as Put already encoded it; callers that did
// not just Put (e.g. merging a remote index entry whose chunks are already
// local) pass the already-known sizes.
func (s *Store) IncRef(ctx context.Context, hash string, origSize, storedSize int64, storedCompressed bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.incRefLocked(ctx, hash, origSize, storedSize, storedCompressed)
}

func (s *Store) incRefLocked(ctx context.Context, hash string, origSize, storedSize int64, storedCompressed bool) error {
	now := s.now().UnixMilli()

	existing, err := s.meta.GetChunkMeta(ctx, hash)
	if err != nil && !errors.Is(err, bdperr.ErrNotFound) {
		return err
	}

	meta := model.CASChunk{
		Hash: hash, OriginalSize: origSize, StoredSize: storedSize,
		StoredCompressed: storedCompressed, CreatedAt: now, LastAccessedAt: now,
	}

	if existing != nil {
		meta.CreatedAt = existing.CreatedAt
		meta.RefCount = existing.RefCount + 1
	} else {
		meta.RefCount = 1
	}

	return s.meta.PutChunkMeta(ctx, meta)
}

// DecRef drops one reference to hash. Never deletes the blob itself —
// deletion is deferred to reclaim() per spec.md §4.2/§9 ("batch, not
// interactive").
func (s *Store) DecRef(ctx context.Context, hash string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	existing, err := s.meta.GetChunkMeta(ctx, hash)
	if err != nil {
		return err
	}

	if existing.RefCount > 0 {
		existing.RefCount--
	}

	existing.LastAccessedAt = s.now().UnixMilli()

	return s.meta.PutChunkMeta(ctx, *existing)
}

// Reclaim deletes every chunk with refCount=0 from both blob storage and
// the metadata store, returning the count removed.
func (s *Store) Reclaim(ctx context.Context) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	hashes, err := s.meta.ZeroRefChunks(ctx)
	if err != nil {
		return 0, err
	}

	n := 0

	for _, h := range hashes {
		if err := os.Remove(s.shardPath(h)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return n, fmt.Errorf("cas: reclaim removing %s: %w", h, err)
		}

		if err := s.meta.DeleteChunkMeta(ctx, h); err != nil {
			return n, err
		}

		n++
	}

	return n, nil
}

// writeAtomic writes data to path via a temp file + rename, so a crash
// mid-write never leaves a partially-written blob visible under its
// final name.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}
