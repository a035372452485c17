package folder

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/text/unicode/norm"

	"github.com/butterflysync/bdp/internal/bdperr"
	"github.com/butterflysync/bdp/internal/ids"
)

// nosyncFileName mirrors the teacher's .nosync guard (internal/sync/
// scanner.go): its presence at the managed root aborts a scan rather than
// risk treating an unmounted/empty volume as "everything was deleted".
const nosyncFileName = ".nosync"

// LocalSource is a Source backed by the OS filesystem rooted at Root.
type LocalSource struct {
	Root string
}

// NewLocalSource creates a LocalSource rooted at root.
func NewLocalSource(root string) *LocalSource {
	return &LocalSource{Root: root}
}

// Scan walks Root and returns every regular file found, with paths
// NFC-normalized (spec.md §3 path rules; grounded on the teacher's
// norm.NFC use in scanner.go to reconcile macOS's NFD filesystem paths
// with the stored NFC form).
func (s *LocalSource) Scan(ctx context.Context) ([]ScanEntry, error) {
	if _, err := os.Stat(filepath.Join(s.Root, nosyncFileName)); err == nil {
		return nil, fmt.Errorf("folder: %s guard file present, refusing to scan", nosyncFileName)
	}

	var out []ScanEntry

	walkErr := filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if ctx.Err() != nil {
			return fmt.Errorf("folder scan: %w", bdperr.ErrCancelled)
		}

		if d.IsDir() {
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(s.Root, path)
		if err != nil {
			return err
		}

		rel = norm.NFC.String(filepath.ToSlash(rel))

		info, err := d.Info()
		if err != nil {
			return err
		}

		out = append(out, ScanEntry{
			Path:    rel,
			Size:    info.Size(),
			MtimeMS: info.ModTime().UnixMilli(),
		})

		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("folder: scan %s: %w", s.Root, walkErr)
	}

	return out, nil
}

// Open returns a reader over the file at path, relative to Root.
func (s *LocalSource) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ids.ValidatePath(path); err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(s.Root, filepath.FromSlash(path)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("folder: open %s: %w", path, bdperr.ErrNotFound)
		}

		return nil, fmt.Errorf("folder: open %s: %w", path, err)
	}

	return f, nil
}

// LocalSink is a Sink backed by the OS filesystem, materializing files
// under Root/<pairID>/<path> (spec.md §6 "vault/<pairId>/<path>").
type LocalSink struct {
	Root string
}

// NewLocalSink creates a LocalSink rooted at root.
func NewLocalSink(root string) *LocalSink {
	return &LocalSink{Root: root}
}

func (s *LocalSink) vaultPath(pairID, path string) string {
	return filepath.Join(s.Root, pairID, filepath.FromSlash(path))
}

// Write materializes path by streaming content to a temp file in the same
// directory and renaming it into place, so a crash mid-write never leaves
// a partial file visible under its final name.
func (s *LocalSink) Write(ctx context.Context, pairID, path string, content io.Reader) error {
	if err := ids.ValidatePath(path); err != nil {
		return err
	}

	dest := s.vaultPath(pairID, path)

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("folder: write %s: %w", path, bdperr.ErrWriteError)
	}

	tmp := dest + ".bdp-tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("folder: write %s: %w", path, bdperr.ErrWriteError)
	}

	if _, err := io.Copy(f, content); err != nil {
		f.Close()
		os.Remove(tmp)

		return fmt.Errorf("folder: write %s: %w", path, bdperr.ErrWriteError)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("folder: write %s: %w", path, bdperr.ErrWriteError)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("folder: write %s: %w", path, bdperr.ErrWriteError)
	}

	return nil
}

// Delete removes path from the vault. Missing files are not an error.
func (s *LocalSink) Delete(ctx context.Context, pairID, path string) error {
	if err := os.Remove(s.vaultPath(pairID, path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("folder: delete %s: %w", path, bdperr.ErrWriteError)
	}

	return nil
}

// List enumerates every materialized file for pairID.
func (s *LocalSink) List(ctx context.Context, pairID string) ([]ScanEntry, error) {
	root := filepath.Join(s.Root, pairID)

	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}

	var out []ScanEntry

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		out = append(out, ScanEntry{
			Path:    norm.NFC.String(filepath.ToSlash(rel)),
			Size:    info.Size(),
			MtimeMS: info.ModTime().UnixMilli(),
		})

		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("folder: list %s: %w", pairID, walkErr)
	}

	return out, nil
}

var (
	_ Source = (*LocalSource)(nil)
	_ Sink   = (*LocalSink)(nil)
)
