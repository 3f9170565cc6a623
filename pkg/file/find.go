package file

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Entry is a path found by a walk, with the metadata captured at walk time.
type Entry struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// SkipFunc receives paths that could not be read during a walk.
type SkipFunc func(path string, err error)

// FindOlderThan returns regular files under dir whose modification time is
// before cutoff. Entries that vanish during the walk are ignored; other
// unreadable entries go to skip and the walk continues.
func FindOlderThan(dir string, cutoff time.Time, skip SkipFunc) ([]Entry, error) {
	var stale []Entry

	err := walk(dir, skip, func(path string, d fs.DirEntry, info fs.FileInfo) {
		if d.Type().IsRegular() && info.ModTime().Before(cutoff) {
			stale = append(stale, Entry{Path: path, Size: info.Size(), ModTime: info.ModTime()})
		}
	})
	return stale, err
}

// Dirs returns every directory below dir, excluding dir itself, parents
// before children.
func Dirs(dir string, skip SkipFunc) ([]Entry, error) {
	var dirs []Entry

	err := walk(dir, skip, func(path string, d fs.DirEntry, info fs.FileInfo) {
		if d.IsDir() && path != dir {
			dirs = append(dirs, Entry{Path: path, ModTime: info.ModTime()})
		}
	})
	return dirs, err
}

// IsEmptyDir reports whether dir has no entries.
func IsEmptyDir(dir string) (bool, error) {
	f, err := os.Open(dir)
	if err != nil {
		return false, err
	}
	defer f.Close()

	names, err := f.Readdirnames(1)
	if len(names) > 0 {
		return false, nil
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return true, nil
}

func walk(dir string, skip SkipFunc, visit func(path string, d fs.DirEntry, info fs.FileInfo)) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}

	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			if path == dir {
				return err
			}
			if skip != nil {
				skip(path, err)
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if !os.IsNotExist(err) && skip != nil {
				skip(path, err)
			}
			return nil
		}
		visit(path, d, info)
		return nil
	})
}
