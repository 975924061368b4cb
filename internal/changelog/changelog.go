// Package changelog implements the older, flat changelog design carried
// in the source project alongside the newer per-resource ChangeMap
// (internal/changemap). It is kept as a fully-working, independent
// component for compatibility with the historical design rather than
// wired into the Master, which uses internal/changemap exclusively.
package changelog

import (
	"fmt"

	"github.com/nicolagi/quixbyte/internal/changemap"
	"github.com/nicolagi/quixbyte/internal/qbhash"
	"github.com/nicolagi/quixbyte/internal/qbtime"
)

// Entry is one flat changelog record: a change, its unique timestamp, and
// a content hash identifying it (so that two devices that recorded the
// same change - for instance by replaying a merge result - end up with an
// equal, deduplicable entry).
type Entry struct {
	Hash      qbhash.Hash
	Timestamp qbtime.Timestamp
	Change    changemap.Change
}

// Base is the sentinel first entry every changelog starts from, the flat
// design's equivalent of ChangeMap's zero Timestamp "no history yet".
var Base = Entry{Hash: qbhash.Empty}

// New returns a changelog containing only Base.
func New() []Entry {
	return []Entry{Base}
}

// IsValid reports whether log is non-empty, begins with Base, and is
// sorted by non-decreasing timestamp.
func IsValid(log []Entry) bool {
	if len(log) == 0 || log[0].Hash != Base.Hash {
		return false
	}
	var current uint64
	for _, e := range log {
		if e.Timestamp.Millis < current {
			return false
		}
		current = e.Timestamp.Millis
	}
	return true
}

// Push appends entry unless its hash already appears in log, returning
// whether it was appended.
func Push(log []Entry, entry Entry) ([]Entry, bool) {
	for _, e := range log {
		if e.Hash == entry.Hash {
			return log, false
		}
	}
	return append(log, entry), true
}

// After returns every entry strictly after the one with the given hash,
// and whether that hash was found at all.
func After(log []Entry, hash qbhash.Hash) ([]Entry, bool) {
	for i, e := range log {
		if e.Hash == hash {
			rest := append([]Entry(nil), log[i+1:]...)
			return rest, true
		}
	}
	return nil, false
}

// Head returns the hash of the last entry. log must be valid (non-empty).
func Head(log []Entry) qbhash.Hash {
	return log[len(log)-1].Hash
}

// Merge interleaves local and remote, which are expected to share a
// common prefix, into a single deduplicated, timestamp-ordered sequence,
// and separately returns the remote-only deltas local must still apply.
// Entries with equal hash are treated as the same entry (consume one from
// each side); entries that differ are ordered by timestamp, with equal
// timestamps from distinct entries being a fatal inconsistency - the
// Unique Timestamp invariant guarantees this cannot happen for
// legitimately originated changes. Ported from QBChangelog::merge.
func Merge(local, remote []Entry) (merged []Entry, remoteDeltas []changemap.Change, err error) {
	li, ri := 0, 0

	for li < len(local) && ri < len(remote) && local[li].Hash == remote[ri].Hash {
		merged = append(merged, local[li])
		li++
		ri++
	}

	seen := make(map[qbhash.Hash]bool, len(local)+len(remote))
	for _, e := range merged {
		seen[e.Hash] = true
	}

	for li < len(local) || ri < len(remote) {
		var entry Entry
		isLocal := false

		switch {
		case li < len(local) && ri >= len(remote):
			entry, isLocal = local[li], true
			li++
		case li >= len(local) && ri < len(remote):
			entry, isLocal = remote[ri], false
			ri++
		case local[li].Hash == remote[ri].Hash:
			entry, isLocal = local[li], true
			li++
			ri++
		default:
			a, b := local[li], remote[ri]
			switch a.Timestamp.Compare(b.Timestamp) {
			case -1:
				entry, isLocal = a, true
				li++
			case 1:
				entry, isLocal = b, false
				ri++
			default:
				return nil, nil, fmt.Errorf("changelog: merge: distinct entries %v and %v share a timestamp", a.Hash, b.Hash)
			}
		}

		if seen[entry.Hash] {
			return nil, nil, fmt.Errorf("changelog: merge: duplicate hash %v", entry.Hash)
		}
		seen[entry.Hash] = true
		merged = append(merged, entry)
		if !isLocal {
			remoteDeltas = append(remoteDeltas, entry.Change)
		}
	}

	return merged, remoteDeltas, nil
}
