// Package filetable is a content-addressed cache of prior text blobs,
// keyed by their content hash. It exists because a text diff is always
// defined relative to a specific base hash: applying one requires looking
// up the text that hash was computed from, grounded on
// qb/src/fs/table.rs's QBFileTable.
package filetable

import "github.com/nicolagi/quixbyte/internal/qbhash"

// Table maps content hashes to the text they were computed from.
type Table struct {
	contents map[qbhash.Hash]string
}

// New returns an empty Table.
func New() *Table {
	return &Table{contents: make(map[qbhash.Hash]string)}
}

// Get returns the text previously stored for hash, or "" if none is
// known - callers treat a miss the same as empty content, matching the
// original's fallback behavior.
func (t *Table) Get(hash qbhash.Hash) string {
	return t.contents[hash]
}

// Remove deletes and returns the text stored for hash.
func (t *Table) Remove(hash qbhash.Hash) string {
	s := t.contents[hash]
	delete(t.contents, hash)
	return s
}

// Insert stores content under its own computed hash and returns that
// hash.
func (t *Table) Insert(content string) qbhash.Hash {
	h := qbhash.Compute([]byte(content))
	t.contents[h] = content
	return h
}

// InsertHash stores content under an already-known hash, skipping the
// recomputation (used when the caller already has the hash from a
// received change).
func (t *Table) InsertHash(hash qbhash.Hash, content string) {
	t.contents[hash] = content
}

// Len reports how many blobs are cached, mainly for diagnostics and
// tests.
func (t *Table) Len() int {
	return len(t.contents)
}

// Snapshot is the serializable view of a Table.
type Snapshot map[qbhash.Hash]string

// Snapshot copies the table's contents out for persistence.
func (t *Table) Snapshot() Snapshot {
	s := make(Snapshot, len(t.contents))
	for k, v := range t.contents {
		s[k] = v
	}
	return s
}

// Restore replaces the table's contents with a previously taken Snapshot.
func (t *Table) Restore(s Snapshot) {
	t.contents = make(map[qbhash.Hash]string, len(s))
	for k, v := range s {
		t.contents[k] = v
	}
}
