// Package ifacelocal implements the filesystem-watcher interface: it
// observes the synchronization root directly with fsnotify, translates
// each event into a Change recorded against the shared Projection, and
// keeps the in-memory File Tree consistent with what is actually on
// disk. Grounded on qb-daemon/src/watcher.rs (the select loop over
// watcher events / periodic sync tick / suppression-window expiry) using
// github.com/fsnotify/fsnotify as the recursive backend, matching the
// shape of the pack's own fsnotify-based sync observers.
package ifacelocal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/nicolagi/quixbyte/internal/changemap"
	"github.com/nicolagi/quixbyte/internal/diffx"
	"github.com/nicolagi/quixbyte/internal/filetree"
	"github.com/nicolagi/quixbyte/internal/fsprojection"
	"github.com/nicolagi/quixbyte/internal/master"
	"github.com/nicolagi/quixbyte/internal/qbhash"
	"github.com/nicolagi/quixbyte/internal/qbpath"
	"github.com/nicolagi/quixbyte/internal/qbtime"
	"github.com/sirupsen/logrus"
)

// SuppressWindow is how long a path stays in the echo-suppression list
// after Suppress is called for it.
const SuppressWindow = time.Second

// Watcher drives a Projection from filesystem events. It implements
// master.Interface so the Master can attach, detach and clean it up like
// any other interface, though unlike a TCP interface it never needs a
// peer on the other end of its channel pair: new local changes are
// appended straight into the Projection's shared ChangeMap, which the
// Master's own periodic Sync already reads from directly.
type Watcher struct {
	proj     *fsprojection.Projection
	recorder *qbtime.Recorder
	log      *logrus.Entry

	mu      sync.Mutex
	skipped map[string]time.Time
}

// New returns a Watcher over proj, stamping new Changes with recorder.
func New(proj *fsprojection.Projection, recorder *qbtime.Recorder, log *logrus.Entry) *Watcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Watcher{
		proj:     proj,
		recorder: recorder,
		log:      log,
		skipped:  make(map[string]time.Time),
	}
}

// Suppress marks relPath as expecting a watcher echo for SuppressWindow:
// events for relPath within that window are dropped rather than recorded
// as local changes. cmd/qbd's remote-batch apply path does not call it.
func (w *Watcher) Suppress(relPath string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.skipped[relPath] = time.Now().Add(SuppressWindow)
}

func (w *Watcher) isSuppressed(relPath string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	until, ok := w.skipped[relPath]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(w.skipped, relPath)
		return false
	}
	return true
}

// Run watches the Projection's root until ctx is canceled. outbound is
// drained but otherwise ignored: the filesystem watcher has no transport
// to forward a Master-originated message over.
func (w *Watcher) Run(ctx context.Context, outbound <-chan master.Message, recv chan<- master.Message) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("ifacelocal: creating watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := w.addWatchesRecursive(watcher, w.proj.Root); err != nil {
		return fmt.Errorf("ifacelocal: initial watch: %w", err)
	}

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(watcher, ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("ifacelocal: watcher error")
		case <-outbound:
			// No peer to forward to; the local device's own deltas are
			// picked up by the Master directly from the shared ChangeMap.
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Watcher) addWatchesRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.Walk(dir, func(fspath string, info os.FileInfo, err error) error {
		if err != nil {
			w.log.WithField("path", fspath).WithError(err).Warn("ifacelocal: walk error")
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if err := watcher.Add(fspath); err != nil {
			w.log.WithField("path", fspath).WithError(err).Warn("ifacelocal: failed to add watch")
		}
		return nil
	})
}

func (w *Watcher) handleEvent(watcher *fsnotify.Watcher, ev fsnotify.Event) {
	relPath, err := filepath.Rel(w.proj.Root, ev.Name)
	if err != nil {
		return
	}
	relPath = filepath.ToSlash(relPath)

	path, err := qbpath.New(relPath)
	if err != nil {
		w.log.WithField("path", relPath).WithError(err).Debug("ifacelocal: rejecting path")
		return
	}
	if qbpath.Internal.IsParentOf(path) {
		return
	}
	if w.isSuppressed(relPath) {
		return
	}

	w.proj.Lock()
	defer w.proj.Unlock()

	switch {
	case ev.Op&fsnotify.Create != 0:
		w.handleCreate(watcher, path, ev.Name)
	case ev.Op&fsnotify.Write != 0:
		w.handleWrite(watcher, path, ev.Name)
	case ev.Op&fsnotify.Remove != 0, ev.Op&fsnotify.Rename != 0:
		// fsnotify does not surface a rename cookie on Linux (inotify has
		// none), so a rename is observed here as a plain removal of the old
		// name; the subsequent Create for the new name is recorded as an
		// ordinary Create rather than a paired RenameTo. This loses the
		// "moved, not recreated" distinction a cookie-based backend would
		// preserve, matching the admission in qb-daemon/src/watcher.rs that
		// rename correlation is best-effort.
		w.handleRemove(path)
	}
}

func (w *Watcher) handleCreate(watcher *fsnotify.Watcher, path qbpath.Path, fspath string) {
	info, err := os.Lstat(fspath)
	if err != nil {
		w.log.WithField("path", path.String()).WithError(err).Debug("ifacelocal: lstat failed on create")
		return
	}

	if w.proj.Ignore.Matched(qbpath.NewFile(path)) {
		return
	}

	if info.IsDir() {
		if _, err := w.proj.Tree.CreateDir(path.FSPath()); err != nil {
			w.log.WithField("path", path.String()).WithError(err).Warn("ifacelocal: create dir in tree")
			return
		}
		if err := w.addWatchesRecursive(watcher, fspath); err != nil {
			w.log.WithField("path", path.String()).WithError(err).Warn("ifacelocal: watch new directory")
		}
		w.proj.Changes.Push(qbpath.NewDir(path), true, changemap.Change{
			Timestamp: w.recorder.Record(),
			Kind:      changemap.Create,
		})
		return
	}

	idx, err := w.proj.Tree.CreateFile(path.FSPath())
	if err != nil {
		w.log.WithField("path", path.String()).WithError(err).Warn("ifacelocal: create file in tree")
		return
	}
	content, err := os.ReadFile(fspath)
	if err != nil {
		w.log.WithField("path", path.String()).WithError(err).Warn("ifacelocal: read new file")
		return
	}
	h := qbhash.Compute(content)
	w.proj.Tree.SetHash(idx, h)
	if !diffx.LooksBinary(content) {
		w.proj.Table.InsertHash(h, string(content))
	}
	w.proj.Changes.Push(qbpath.NewFile(path), true, changemap.Change{
		Timestamp: w.recorder.Record(),
		Kind:      changemap.Create,
	})
}

func (w *Watcher) handleWrite(watcher *fsnotify.Watcher, path qbpath.Path, fspath string) {
	idx, ok := w.proj.Tree.Find(path.FSPath())
	if !ok {
		// A write notification for a path the tree does not know about yet
		// (e.g. editors that write via rename-over) is treated as a create.
		w.handleCreate(watcher, path, fspath)
		return
	}
	resource := qbpath.NewFile(path)
	if w.proj.Ignore.Matched(resource) {
		return
	}

	change, err := w.proj.Diff(resource, w.recorder)
	if err != nil {
		w.log.WithField("path", path.String()).WithError(err).Warn("ifacelocal: diff on write")
		return
	}
	if change == nil {
		return
	}

	fspath = filepath.Join(w.proj.Root, filepath.FromSlash(path.FSPath()))
	content, err := os.ReadFile(fspath)
	if err != nil {
		w.log.WithField("path", path.String()).WithError(err).Warn("ifacelocal: reread after diff")
		return
	}
	newHash := qbhash.Compute(content)
	w.proj.Tree.SetHash(idx, newHash)
	if change.Kind == changemap.UpdateText {
		w.proj.Table.InsertHash(newHash, string(content))
	}
	w.proj.Changes.Push(resource, true, *change)
}

func (w *Watcher) handleRemove(path qbpath.Path) {
	idx, ok := w.proj.Tree.Find(path.FSPath())
	if !ok {
		return
	}
	resource := qbpath.NewFile(path)
	if w.proj.Tree.Kind(idx) == filetree.Directory {
		resource = qbpath.NewDir(path)
	}
	w.proj.Tree.Remove(idx)
	w.proj.Changes.Push(resource, true, changemap.Change{
		Timestamp: w.recorder.Record(),
		Kind:      changemap.Delete,
	})
}
