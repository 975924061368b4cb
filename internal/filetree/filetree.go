// Package filetree mirrors the watched directory as an arena of
// integer-indexed nodes, storing per-file content hashes, grounded on
// qb/src/fs/tree.rs's QBFileTree. Unlike that source (which leaves a
// deleted slot as an inert placeholder forever), this implementation
// reuses deleted slots via a free list, per this specification's explicit
// tombstone requirement.
package filetree

import (
	"fmt"
	"strings"

	"github.com/nicolagi/quixbyte/internal/qbhash"
)

// NodeKind distinguishes a directory slot from a file slot. A slot that
// has been deleted, or never allocated, is Vacant.
type NodeKind uint8

const (
	Vacant NodeKind = iota
	Directory
	File
)

// Index identifies a slot in the tree's arena. The root directory always
// occupies index 0.
type Index int

const rootIndex Index = 0

type node struct {
	kind     NodeKind
	name     string
	parent   Index
	children map[string]Index
	hash     qbhash.Hash // meaningful only for File nodes
}

// Tree is an arena-backed directory tree. The zero value is not usable;
// use New.
type Tree struct {
	arena []node
	free  []Index
}

// New returns a Tree containing only the root directory.
func New() *Tree {
	t := &Tree{}
	t.arena = append(t.arena, node{kind: Directory, children: make(map[string]Index), parent: rootIndex})
	return t
}

// Root returns the root directory's index.
func (t *Tree) Root() Index { return rootIndex }

// Kind reports the kind of the node at idx.
func (t *Tree) Kind(idx Index) NodeKind { return t.arena[idx].kind }

// Hash returns the content hash recorded for the file at idx. It is
// qbhash.Empty for a newly created file that has not yet received
// content.
func (t *Tree) Hash(idx Index) qbhash.Hash { return t.arena[idx].hash }

// SetHash updates the content hash recorded for the file at idx.
func (t *Tree) SetHash(idx Index, h qbhash.Hash) { t.arena[idx].hash = h }

// Lookup walks segs (a slash-separated relative path already split into
// segments) from dir, returning the index found and true, or false if any
// segment is missing or a non-terminal segment is not a directory.
func (t *Tree) Lookup(dir Index, segs []string) (Index, bool) {
	cur := dir
	for _, seg := range segs {
		if seg == "" {
			continue
		}
		n := t.arena[cur]
		if n.kind != Directory {
			return 0, false
		}
		next, ok := n.children[seg]
		if !ok {
			return 0, false
		}
		cur = next
	}
	return cur, true
}

// Find looks up a slash-separated relative path from the root.
func (t *Tree) Find(path string) (Index, bool) {
	return t.Lookup(rootIndex, splitPath(path))
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// alloc returns an Index for a fresh node, reusing a tombstoned slot if
// one is free.
func (t *Tree) alloc(n node) Index {
	if len(t.free) > 0 {
		idx := t.free[len(t.free)-1]
		t.free = t.free[:len(t.free)-1]
		t.arena[idx] = n
		return idx
	}
	t.arena = append(t.arena, n)
	return Index(len(t.arena) - 1)
}

// CreateDir ensures every segment of path exists as a directory,
// allocating any missing ones, and returns the final directory's index.
func (t *Tree) CreateDir(path string) (Index, error) {
	cur := rootIndex
	for _, seg := range splitPath(path) {
		n := &t.arena[cur]
		if n.kind != Directory {
			return 0, fmt.Errorf("filetree: CreateDir %q: %q is not a directory", path, seg)
		}
		next, ok := n.children[seg]
		if !ok {
			next = t.alloc(node{kind: Directory, name: seg, parent: cur, children: make(map[string]Index)})
			t.arena[cur].children[seg] = next
		}
		cur = next
	}
	return cur, nil
}

// CreateFile allocates a new file node at path (whose parent directory
// must already exist, or be created first via CreateDir on its parent),
// with hash qbhash.Empty until SetHash is called.
func (t *Tree) CreateFile(path string) (Index, error) {
	segs := splitPath(path)
	if len(segs) == 0 {
		return 0, fmt.Errorf("filetree: CreateFile: empty path")
	}
	parentSegs, name := segs[:len(segs)-1], segs[len(segs)-1]
	parent, ok := t.Lookup(rootIndex, parentSegs)
	if !ok {
		return 0, fmt.Errorf("filetree: CreateFile %q: parent directory not found", path)
	}
	pn := &t.arena[parent]
	if pn.kind != Directory {
		return 0, fmt.Errorf("filetree: CreateFile %q: parent is not a directory", path)
	}
	if _, exists := pn.children[name]; exists {
		return 0, fmt.Errorf("filetree: CreateFile %q: already exists", path)
	}
	idx := t.alloc(node{kind: File, name: name, parent: parent, hash: qbhash.Empty})
	pn.children[name] = idx
	return idx, nil
}

// Remove tombstones the node at idx: it is detached from its parent's
// children and its slot is pushed onto the free list for reuse by a
// future Create call. Removing a directory removes only that entry -
// callers are expected to have already removed (or to separately remove)
// its children, matching the top-down Delete semantics of FS Projection.
func (t *Tree) Remove(idx Index) {
	if idx == rootIndex {
		return
	}
	n := t.arena[idx]
	parent := &t.arena[n.parent]
	delete(parent.children, n.name)
	t.arena[idx] = node{kind: Vacant}
	t.free = append(t.free, idx)
}

// Children returns the names of idx's children in no particular order.
// It is empty for a File node.
func (t *Tree) Children(idx Index) []string {
	n := t.arena[idx]
	if n.kind != Directory {
		return nil
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	return names
}

// Path reconstructs the slash-separated path of idx from the root.
func (t *Tree) Path(idx Index) string {
	if idx == rootIndex {
		return ""
	}
	var segs []string
	for cur := idx; cur != rootIndex; cur = t.arena[cur].parent {
		segs = append([]string{t.arena[cur].name}, segs...)
	}
	return strings.Join(segs, "/")
}

// Snapshot is the serializable view of a Tree: the arena and free list,
// gob-encoded as-is since node is composed entirely of exported-shape
// fields once wrapped in this exported mirror.
type Snapshot struct {
	Nodes []SnapshotNode
	Free  []Index
}

// SnapshotNode is the persisted form of one arena slot.
type SnapshotNode struct {
	Kind     NodeKind
	Name     string
	Parent   Index
	Children map[string]Index
	Hash     qbhash.Hash
}

// Snapshot copies the tree's arena out for persistence.
func (t *Tree) Snapshot() Snapshot {
	s := Snapshot{Nodes: make([]SnapshotNode, len(t.arena)), Free: append([]Index(nil), t.free...)}
	for i, n := range t.arena {
		children := make(map[string]Index, len(n.children))
		for k, v := range n.children {
			children[k] = v
		}
		s.Nodes[i] = SnapshotNode{Kind: n.kind, Name: n.name, Parent: n.parent, Children: children, Hash: n.hash}
	}
	return s
}

// Restore replaces the tree's arena with a previously taken Snapshot.
func (t *Tree) Restore(s Snapshot) {
	t.arena = make([]node, len(s.Nodes))
	for i, sn := range s.Nodes {
		children := make(map[string]Index, len(sn.Children))
		for k, v := range sn.Children {
			children[k] = v
		}
		t.arena[i] = node{kind: sn.Kind, name: sn.Name, parent: sn.Parent, children: children, hash: sn.Hash}
	}
	t.free = append([]Index(nil), s.Free...)
}
