// Package watch turns recursive filesystem notifications into index events
// and runs them through the synchronizer on a pool of workers.
package watch

import (
	"cmp"
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/openmined/fsindex/internal/indexer"
	"github.com/rjeczalik/notify"
)

const (
	DefaultDebounceTimeout = 50 * time.Millisecond
	DefaultMoveWindow      = 100 * time.Millisecond
	eventBufferSize        = 64
)

const watchedEvents = notify.Create | notify.Remove | notify.Write | notify.Rename

// pendingWrite is a create/write burst waiting for its debounce timer.
type pendingWrite struct {
	kind indexer.EventKind
	seq  uint64
	// timer is stopped when the burst is superseded or cancelled
	timer *time.Timer
}

// pendingRename is a source path waiting for the matching destination.
type pendingRename struct {
	path  string
	isDir bool
	seq   uint64
	timer *time.Timer
}

type expiry struct {
	path   string
	seq    uint64
	rename bool
}

// FileWatcher observes a directory tree and emits indexer events on the
// channel returned by Events. Moves are paired from rename/create
// notifications, and create/write bursts on one path are coalesced.
//
// Every notification accepted before Stop reaches the events channel;
// Stop flushes pending state and then closes it.
type FileWatcher struct {
	watchDir        string
	logger          *slog.Logger
	debounceTimeout time.Duration
	moveWindow      time.Duration

	rawEvents chan notify.EventInfo
	events    chan indexer.Event
	expired   chan expiry
	done      chan struct{}
	wg        sync.WaitGroup
	watching  bool
	stopOnce  sync.Once

	dirs *dirTracker

	// owned by the run goroutine
	seq     uint64
	pending map[string]*pendingWrite
	renames []*pendingRename
}

func NewFileWatcher(watchDir string, logger *slog.Logger) *FileWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileWatcher{
		watchDir:        filepath.Clean(watchDir),
		logger:          logger.With("component", "watcher"),
		debounceTimeout: DefaultDebounceTimeout,
		moveWindow:      DefaultMoveWindow,
		done:            make(chan struct{}),
		dirs:            newDirTracker(),
		pending:         make(map[string]*pendingWrite),
	}
}

// SetDebounceTimeout sets how long a path must stay quiet before its
// create/write burst is emitted.
func (fw *FileWatcher) SetDebounceTimeout(timeout time.Duration) {
	fw.debounceTimeout = timeout
}

// SetMoveWindow sets how long a rename waits for its destination before it
// is reported as a deletion.
func (fw *FileWatcher) SetMoveWindow(window time.Duration) {
	fw.moveWindow = window
}

// Start begins recursive monitoring of the watch directory.
func (fw *FileWatcher) Start(ctx context.Context) error {
	fw.logger.Info("file watcher start", "dir", fw.watchDir)

	if err := fw.dirs.AddTree(fw.watchDir); err != nil {
		return err
	}
	fw.init()

	recursivePath := filepath.Join(fw.watchDir, "...")
	if err := notify.Watch(recursivePath, fw.rawEvents, watchedEvents); err != nil {
		return err
	}
	fw.watching = true

	fw.wg.Add(1)
	go fw.run(ctx)

	return nil
}

func (fw *FileWatcher) init() {
	fw.rawEvents = make(chan notify.EventInfo, eventBufferSize)
	fw.events = make(chan indexer.Event, eventBufferSize)
	fw.expired = make(chan expiry)
}

// Stop stops watching, flushes everything still pending and closes the
// events channel once the flush is consumed. The caller must keep reading
// Events until it is closed.
func (fw *FileWatcher) Stop() {
	fw.stopOnce.Do(func() {
		fw.logger.Info("file watcher stopping")
		if fw.watching {
			notify.Stop(fw.rawEvents)
		}
		close(fw.done)
		fw.wg.Wait()
		fw.logger.Info("file watcher stopped")
	})
}

func (fw *FileWatcher) Events() <-chan indexer.Event {
	return fw.events
}

func (fw *FileWatcher) run(ctx context.Context) {
	defer fw.wg.Done()
	defer close(fw.events)

	for {
		select {
		case <-ctx.Done():
			fw.drain()
			return
		case <-fw.done:
			fw.drain()
			return
		case ei := <-fw.rawEvents:
			fw.handleRaw(ei)
		case exp := <-fw.expired:
			fw.handleExpiry(exp)
		}
	}
}

// drain handles raw notifications already queued, then flushes pending
// renames as deletions and pending bursts as they stand.
func (fw *FileWatcher) drain() {
	for drained := false; !drained; {
		select {
		case ei := <-fw.rawEvents:
			fw.handleRaw(ei)
		default:
			drained = true
		}
	}

	for _, r := range fw.renames {
		r.timer.Stop()
		fw.emit(indexer.Event{Kind: indexer.Deleted, Path: r.path, IsDir: r.isDir})
	}
	fw.renames = nil

	paths := make([]string, 0, len(fw.pending))
	for path, p := range fw.pending {
		p.timer.Stop()
		paths = append(paths, path)
	}
	slices.SortFunc(paths, func(a, b string) int {
		return cmp.Compare(fw.pending[a].seq, fw.pending[b].seq)
	})
	for _, path := range paths {
		fw.emit(indexer.Event{Kind: fw.pending[path].kind, Path: path})
	}
	clear(fw.pending)

	fw.logger.Debug("file watcher drained", "flushed", len(paths))
}

func (fw *FileWatcher) handleRaw(ei notify.EventInfo) {
	path := filepath.Clean(ei.Path())
	if path == fw.watchDir {
		return
	}
	fw.logger.Debug("file watcher raw", "event", ei.Event(), "path", path)

	switch ei.Event() {
	case notify.Create:
		fw.onCreate(path)
	case notify.Write:
		if !fw.dirs.Contains(path) {
			fw.debounce(path, indexer.Modified)
		}
	case notify.Remove:
		fw.cancelPending(path)
		isDir := fw.dirs.Remove(path)
		if isDir {
			fw.cancelPendingTree(path)
		}
		fw.emit(indexer.Event{Kind: indexer.Deleted, Path: path, IsDir: isDir})
	case notify.Rename:
		// some backends report both ends of a move as renames; the end that
		// still exists is the destination
		if _, err := os.Lstat(path); err == nil {
			fw.onCreate(path)
			return
		}
		fw.cancelPending(path)
		isDir := fw.dirs.Remove(path)
		if isDir {
			// files below are re-emitted from the destination
			fw.cancelPendingTree(path)
		}
		fw.trackRename(path, isDir)
	}
}

func (fw *FileWatcher) onCreate(path string) {
	info, err := os.Lstat(path)
	isDir := err == nil && info.IsDir()
	if isDir {
		if err := fw.dirs.AddTree(path); err != nil {
			fw.logger.Warn("file watcher track dir", "path", path, "error", err)
		}
	}

	if src := fw.takeRename(path, isDir); src != nil {
		fw.emit(indexer.Event{Kind: indexer.Moved, Path: src.path, Dest: path, IsDir: isDir})
		if isDir {
			// the backend reports only the directory; move its files one by one
			fw.walkFiles(path, func(file, rel string) {
				fw.emit(indexer.Event{Kind: indexer.Moved, Path: filepath.Join(src.path, rel), Dest: file})
			})
		}
		return
	}

	if isDir {
		fw.emit(indexer.Event{Kind: indexer.Created, Path: path, IsDir: true})
		// a directory moved in from outside arrives with its content
		fw.walkFiles(path, func(file, _ string) {
			fw.debounce(file, indexer.Created)
		})
		return
	}
	fw.debounce(path, indexer.Created)
}

// walkFiles calls fn for every regular file below dir with its path
// relative to dir. Unreadable entries are skipped.
func (fw *FileWatcher) walkFiles(dir string, fn func(path, rel string)) {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			fw.logger.Warn("file watcher walk", "path", path, "error", err)
			if d != nil && d.IsDir() && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		fn(path, rel)
		return nil
	})
	if err != nil {
		fw.logger.Warn("file watcher walk", "dir", dir, "error", err)
	}
}

// debounce holds a create/write burst until the path has been quiet for
// the debounce timeout. A burst that began with a create stays a create.
func (fw *FileWatcher) debounce(path string, kind indexer.EventKind) {
	if p, ok := fw.pending[path]; ok {
		p.timer.Stop()
		if p.kind == indexer.Created {
			kind = indexer.Created
		}
	}

	fw.seq++
	p := &pendingWrite{kind: kind, seq: fw.seq}
	p.timer = fw.afterFunc(fw.debounceTimeout, expiry{path: path, seq: p.seq})
	fw.pending[path] = p
}

func (fw *FileWatcher) cancelPending(path string) {
	if p, ok := fw.pending[path]; ok {
		p.timer.Stop()
		delete(fw.pending, path)
	}
}

// cancelPendingTree drops pending bursts for every path below dir.
func (fw *FileWatcher) cancelPendingTree(dir string) {
	prefix := dir + string(filepath.Separator)
	for path, p := range fw.pending {
		if strings.HasPrefix(path, prefix) {
			p.timer.Stop()
			delete(fw.pending, path)
		}
	}
}

func (fw *FileWatcher) trackRename(path string, isDir bool) {
	fw.seq++
	r := &pendingRename{path: path, isDir: isDir, seq: fw.seq}
	r.timer = fw.afterFunc(fw.moveWindow, expiry{path: path, seq: r.seq, rename: true})
	fw.renames = append(fw.renames, r)
}

// takeRename pairs a destination with a pending rename of the same kind,
// preferring one with the same base name, else the oldest.
func (fw *FileWatcher) takeRename(dest string, isDir bool) *pendingRename {
	match := -1
	for i, r := range fw.renames {
		if r.isDir != isDir {
			continue
		}
		if filepath.Base(r.path) == filepath.Base(dest) {
			match = i
			break
		}
		if match < 0 {
			match = i
		}
	}
	if match < 0 {
		return nil
	}

	r := fw.renames[match]
	r.timer.Stop()
	fw.renames = slices.Delete(fw.renames, match, match+1)
	return r
}

func (fw *FileWatcher) handleExpiry(exp expiry) {
	if exp.rename {
		for i, r := range fw.renames {
			if r.seq == exp.seq {
				fw.renames = slices.Delete(fw.renames, i, i+1)
				fw.emit(indexer.Event{Kind: indexer.Deleted, Path: r.path, IsDir: r.isDir})
				return
			}
		}
		return
	}

	p, ok := fw.pending[exp.path]
	if !ok || p.seq != exp.seq {
		// superseded by a newer burst
		return
	}
	delete(fw.pending, exp.path)
	fw.emit(indexer.Event{Kind: p.kind, Path: exp.path})
}

func (fw *FileWatcher) afterFunc(d time.Duration, exp expiry) *time.Timer {
	return time.AfterFunc(d, func() {
		select {
		case fw.expired <- exp:
		case <-fw.done:
		}
	})
}

func (fw *FileWatcher) emit(ev indexer.Event) {
	fw.logger.Debug("file watcher", "event", ev.Kind, "path", ev.Path, "dest", ev.Dest, "dir", ev.IsDir)
	fw.events <- ev
}
