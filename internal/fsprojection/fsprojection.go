// Package fsprojection translates abstract Changes to and from concrete
// filesystem operations. It owns a File Tree, a File Table, an Ignore
// Map, a ChangeMap, and a Device Table for one synchronization root,
// grounded on qb/src/fs.rs's QBFS.
package fsprojection

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/nicolagi/quixbyte/internal/changemap"
	"github.com/nicolagi/quixbyte/internal/devicetable"
	"github.com/nicolagi/quixbyte/internal/diffx"
	"github.com/nicolagi/quixbyte/internal/filetable"
	"github.com/nicolagi/quixbyte/internal/filetree"
	"github.com/nicolagi/quixbyte/internal/ignore"
	"github.com/nicolagi/quixbyte/internal/qbhash"
	"github.com/nicolagi/quixbyte/internal/qbpath"
	"github.com/nicolagi/quixbyte/internal/qbtime"
	"github.com/sirupsen/logrus"
)

// Projection owns every piece of state needed to translate between the
// watched directory and the synchronization engine's abstract view of
// it. Both the local watcher and the Master's remote-batch application
// touch the same Projection from different goroutines, so callers must
// hold Lock/Unlock around any sequence of reads and writes against Tree,
// Table, Ignore or Changes.
type Projection struct {
	Root string

	Tree    *filetree.Tree
	Table   *filetable.Table
	Ignore  *ignore.Map
	Changes *changemap.ChangeMap
	Devices *devicetable.Table

	log *logrus.Entry
	mu  sync.Mutex
}

// Lock acquires the Projection's mutex, held by the local watcher while
// translating one filesystem event and by ApplyBatch while realizing a
// received sync round.
func (p *Projection) Lock() { p.mu.Lock() }

// Unlock releases the mutex acquired by Lock.
func (p *Projection) Unlock() { p.mu.Unlock() }

// New returns a Projection rooted at root.
func New(root string, devices *devicetable.Table, log *logrus.Entry) *Projection {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Projection{
		Root:    root,
		Tree:    filetree.New(),
		Table:   filetable.New(),
		Ignore:  ignore.NewMap(),
		Changes: changemap.New(),
		Devices: devices,
		log:     log,
	}
}

func (p *Projection) fsPath(r qbpath.Resource) string {
	return filepath.Join(p.Root, filepath.FromSlash(r.Path.FSPath()))
}

// contentOf reads the current on-disk content of resource, used by
// PendingPairs.Resolve to carry a file's bytes across a rename or copy
// pair.
func (p *Projection) contentOf(resource qbpath.Resource) ([]byte, bool) {
	content, err := os.ReadFile(p.fsPath(resource))
	if err != nil {
		return nil, false
	}
	return content, true
}

// ApplyChanges realizes changes against the real filesystem and the
// in-memory tree, one resource at a time. Errors on individual entries
// are logged and the batch continues, per the propagation policy: peers
// have already committed the ChangeMap advance, so best-effort projection
// is preferable to losing track of state altogether.
func (p *Projection) ApplyChanges(resource qbpath.Resource, changes []changemap.Change) {
	for _, c := range changes {
		if err := p.applyOne(resource, c); err != nil {
			p.log.WithFields(logrus.Fields{
				"resource": resource.Path.String(),
				"kind":     c.Kind.String(),
			}).WithError(err).Warn("fsprojection: failed to apply change")
		}
	}
}

func (p *Projection) applyOne(resource qbpath.Resource, c changemap.Change) error {
	fspath := p.fsPath(resource)
	switch c.Kind {
	case changemap.Create:
		if _, ok := p.Tree.Find(resource.Path.FSPath()); ok {
			p.log.WithField("resource", resource.Path.String()).Warn("fsprojection: create requested but resource exists")
			return nil
		}
		if resource.IsDir() {
			if _, err := p.Tree.CreateDir(resource.Path.FSPath()); err != nil {
				return err
			}
			return os.MkdirAll(fspath, 0o755)
		}
		if _, err := p.Tree.CreateFile(resource.Path.FSPath()); err != nil {
			return err
		}
		f, err := os.Create(fspath)
		if err != nil {
			return err
		}
		return f.Close()

	case changemap.Delete:
		idx, ok := p.Tree.Find(resource.Path.FSPath())
		if !ok {
			p.log.WithField("resource", resource.Path.String()).Warn("fsprojection: delete requested but resource not found")
			return nil
		}
		p.Tree.Remove(idx)
		if resource.IsDir() {
			return os.RemoveAll(fspath)
		}
		return os.Remove(fspath)

	case changemap.UpdateBinary:
		idx, ok := p.Tree.Find(resource.Path.FSPath())
		if !ok {
			return fmt.Errorf("fsprojection: update requested for unknown resource %s", resource.Path)
		}
		h := qbhash.Compute(c.Content)
		p.Tree.SetHash(idx, h)
		return os.WriteFile(fspath, c.Content, 0o644)

	case changemap.UpdateText:
		idx, ok := p.Tree.Find(resource.Path.FSPath())
		if !ok {
			return fmt.Errorf("fsprojection: update requested for unknown resource %s", resource.Path)
		}
		base := p.Table.Get(p.Tree.Hash(idx))
		next, err := c.Diff.Apply(base)
		if err != nil {
			return err
		}
		h := qbhash.Compute([]byte(next))
		p.Tree.SetHash(idx, h)
		p.Table.InsertHash(h, next)
		return os.WriteFile(fspath, []byte(next), 0o644)

	case changemap.RenameFrom, changemap.RenameTo, changemap.CopyFrom, changemap.CopyTo:
		// These are applied in pairs by the caller once both halves of a
		// batch are available; by the time a single …From/…To reaches here
		// it has already been translated to a Delete/Create/Update by the
		// caller's pairing step (see internal/fsprojection/rename.go).
		return fmt.Errorf("fsprojection: %s requires pairing, got unpaired change", c.Kind)

	default:
		return fmt.Errorf("fsprojection: unknown change kind %v", c.Kind)
	}
}

// ApplyBatch resolves rename/copy pairing across the whole batch via
// pending, then applies every resulting resource's changes in turn,
// holding the Projection's lock for the whole batch so a concurrent
// watcher event cannot interleave with a partially-applied rename pair.
func (p *Projection) ApplyBatch(batch Batch, pending *PendingPairs) {
	p.mu.Lock()
	defer p.mu.Unlock()
	resolved := pending.Resolve(batch, p)
	for resource, changes := range resolved {
		p.ApplyChanges(resource, changes)
	}
}

// Diff compares the file at resource on disk against the hash recorded in
// the tree, returning nil if they agree. It returns a Change of kind
// UpdateBinary if diffx.LooksBinary reports a NUL byte in the content, or
// UpdateText otherwise; UTF-8 validity is not checked. Grounded on
// QBFS::diff.
func (p *Projection) Diff(resource qbpath.Resource, recorder *qbtime.Recorder) (*changemap.Change, error) {
	content, err := os.ReadFile(p.fsPath(resource))
	if err != nil {
		return nil, err
	}
	newHash := qbhash.Compute(content)

	idx, ok := p.Tree.Find(resource.Path.FSPath())
	if !ok {
		return nil, fmt.Errorf("fsprojection: diff: %s not found in tree", resource.Path)
	}
	if p.Tree.Hash(idx) == newHash {
		return nil, nil
	}

	if diffx.LooksBinary(content) {
		c := &changemap.Change{Timestamp: recorder.Record(), Kind: changemap.UpdateBinary, Content: content}
		return c, nil
	}

	old := p.Table.Get(p.Tree.Hash(idx))
	d := diffx.Compute(old, string(content))
	c := &changemap.Change{Timestamp: recorder.Record(), Kind: changemap.UpdateText, Diff: d}
	return c, nil
}
