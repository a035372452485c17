package folder

import (
	"io/fs"
	"os"
	"path/filepath"
)

// fsWalkDirs calls fn for root and every directory beneath it. Used by
// Watcher to register fsnotify watches recursively (fsnotify does not
// natively support recursive watches).
func fsWalkDirs(root string, fn func(dir string) error) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return nil
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		return fn(path)
	})
}
