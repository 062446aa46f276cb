package watch

import (
	"io/fs"
	"path/filepath"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// dirTracker remembers which paths under the root are directories, so that
// remove and rename notifications (whose target is already gone) can still
// be told apart from file events.
type dirTracker struct {
	dirs mapset.Set[string]
}

func newDirTracker() *dirTracker {
	return &dirTracker{dirs: mapset.NewSet[string]()}
}

// AddTree records root and every directory below it.
func (d *dirTracker) AddTree(root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			// unreadable subtrees are skipped, not fatal
			if entry != nil && entry.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			d.dirs.Add(filepath.Clean(path))
		}
		return nil
	})
}

func (d *dirTracker) Contains(path string) bool {
	return d.dirs.Contains(path)
}

// Remove forgets path and everything below it. It reports whether path
// was a known directory.
func (d *dirTracker) Remove(path string) bool {
	if !d.dirs.Contains(path) {
		return false
	}
	prefix := path + string(filepath.Separator)
	var stale []string
	d.dirs.Each(func(p string) bool {
		if p == path || strings.HasPrefix(p, prefix) {
			stale = append(stale, p)
		}
		return false
	})
	d.dirs.RemoveAll(stale...)
	return true
}

func (d *dirTracker) Len() int {
	return d.dirs.Cardinality()
}
