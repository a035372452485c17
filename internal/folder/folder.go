// Package folder declares the FolderSource/FolderSink boundary (spec.md §6)
// and a concrete local-filesystem implementation (SPEC_FULL.md A3). BDP's
// core never touches the filesystem directly — every component reads
// folder contents through these interfaces so the core stays portable to
// non-OS-filesystem backends (e.g. a browser's OPFS, as the original
// source targets).
package folder

import (
	"context"
	"io"
)

// ScanEntry describes one file observed by a FolderSource.Scan or
// FolderSink.List call (spec.md §6: "{ path, content, mtime }" / "{ path,
// size, mtime }").
type ScanEntry struct {
	Path    string
	Size    int64
	MtimeMS int64
}

// Source enumerates and hashes local file content (spec.md §6
// FolderSource). Reading file bytes is always mediated through Open so
// large files are streamed rather than loaded whole.
type Source interface {
	// Scan enumerates every file currently present under the managed
	// folder, in no particular order. May fail with bdperr.ErrCancelled
	// if the caller's context is cancelled mid-scan.
	Scan(ctx context.Context) ([]ScanEntry, error)

	// Open returns a reader over path's current content. The caller must
	// Close it.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// Sink materializes received files into the managed folder (spec.md §6
// FolderSink).
type Sink interface {
	// Write materializes path from the ordered chunk byte slices (already
	// concatenated in chunkIndex order by the caller). Returns
	// bdperr.ErrWriteError (wrapped) on failure.
	Write(ctx context.Context, pairID, path string, content io.Reader) error

	// Delete removes path from the managed folder. A missing file is not
	// an error (idempotent).
	Delete(ctx context.Context, pairID, path string) error

	// List enumerates every materialized file for pairID.
	List(ctx context.Context, pairID string) ([]ScanEntry, error)
}
