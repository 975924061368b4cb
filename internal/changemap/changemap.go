package changemap

import (
	"sort"
	"sync"

	"github.com/nicolagi/quixbyte/internal/qbpath"
	"github.com/nicolagi/quixbyte/internal/qbtime"
)

// ChangeMap accumulates, per resource, the sequence of changes applied to
// it since the last point both sides of a sync agreed on ("common").
// Entries within a resource are always read back time-ordered. Safe for
// concurrent use: the local watcher and the Master both push and read
// entries from their own goroutines.
type ChangeMap struct {
	mu         sync.Mutex
	byResource map[qbpath.Resource][]Entry
}

// New returns an empty ChangeMap.
func New() *ChangeMap {
	return &ChangeMap{byResource: make(map[qbpath.Resource][]Entry)}
}

// Push appends a change for resource, recording whether it was made
// locally (by this device watching its own filesystem) or learned from a
// peer during a merge.
func (m *ChangeMap) Push(resource qbpath.Resource, isLocal bool, change Change) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byResource[resource] = append(m.byResource[resource], Entry{IsLocal: isLocal, Change: change})
}

// Resources returns every resource this map has entries for, in a stable
// order.
func (m *ChangeMap) Resources() []qbpath.Resource {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]qbpath.Resource, 0, len(m.byResource))
	for r := range m.byResource {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path.Less(out[j].Path) })
	return out
}

// Entries returns the time-ordered entries recorded for resource.
func (m *ChangeMap) Entries(resource qbpath.Resource) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]Entry(nil), m.byResource[resource]...)
	sortEntries(out)
	return out
}

// Changes returns every remote-originated change recorded for resource,
// time-ordered: the delta a peer needs to apply locally after a merge,
// matching QBChangeMap::changes in the original source (which filters out
// is_local entries before sorting).
func (m *ChangeMap) Changes(resource qbpath.Resource) []Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.byResource[resource]
	out := make([]Change, 0, len(entries))
	for _, e := range entries {
		if !e.IsLocal {
			out = append(out, e.Change)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Sort orders every resource's entry slice by timestamp.
func (m *ChangeMap) Sort() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for r, entries := range m.byResource {
		sortEntries(entries)
		m.byResource[r] = entries
	}
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Change.Timestamp.Before(entries[j].Change.Timestamp)
	})
}

// Minify sorts then minifies every resource's entries in place, per the
// rules documented on minify().
func (m *ChangeMap) Minify() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for r, entries := range m.byResource {
		sortEntries(entries)
		m.byResource[r] = minify(entries)
	}
}

// Since returns a new ChangeMap holding, per resource, only the entries
// strictly after timestamp. An empty/zero timestamp returns every entry.
func (m *ChangeMap) Since(timestamp qbtime.Timestamp) *ChangeMap {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := New()
	for r, entries := range m.byResource {
		for _, e := range entries {
			if timestamp.IsZero() || timestamp.Before(e.Change.Timestamp) {
				out.byResource[r] = append(out.byResource[r], e)
			}
		}
	}
	return out
}

// Head returns the latest timestamp recorded anywhere in the map, the
// point a device can record as its new "common" with a peer once a sync
// round completes. The zero Timestamp is returned for an empty map.
func (m *ChangeMap) Head() qbtime.Timestamp {
	m.mu.Lock()
	defer m.mu.Unlock()
	var head qbtime.Timestamp
	for _, entries := range m.byResource {
		for _, e := range entries {
			if head.Before(e.Change.Timestamp) {
				head = e.Change.Timestamp
			}
		}
	}
	return head
}

// Append adds every entry of other into m, keeping other's IsLocal
// marking. Used to fold a received remote delta, or a locally completed
// transaction, into the long-lived map.
func (m *ChangeMap) Append(other *ChangeMap) {
	m.mu.Lock()
	defer m.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()
	for r, entries := range other.byResource {
		m.byResource[r] = append(m.byResource[r], entries...)
	}
}

// Merge computes the remote-side deltas this device (local, the receiver)
// must apply to converge with remote: for each resource, the two
// sequences are interleaved in timestamp order by a deterministic
// pairwise merge-sort (entries from different devices never compare
// equal; entries from the same device never appear in both sequences),
// and only the entries that came from remote are returned. A symmetric
// call on the peer, with the arguments swapped, yields the reciprocal
// delta. Grounded on QBChangelog::merge's interleave strategy, adapted to
// operate per-resource rather than over one flat sequence.
func (m *ChangeMap) Merge(remote *ChangeMap) *ChangeMap {
	m.mu.Lock()
	defer m.mu.Unlock()
	remote.mu.Lock()
	defer remote.mu.Unlock()
	out := New()
	seen := make(map[qbpath.Resource]bool, len(m.byResource)+len(remote.byResource))
	for r := range m.byResource {
		seen[r] = true
	}
	for r := range remote.byResource {
		seen[r] = true
	}
	for r := range seen {
		local := m.byResource[r]
		known := make(map[qbtime.Timestamp]bool, len(local))
		for _, e := range local {
			known[e.Change.Timestamp] = true
		}
		theirs := append([]Entry(nil), remote.byResource[r]...)
		sortEntries(theirs)
		for _, e := range theirs {
			if known[e.Change.Timestamp] {
				continue
			}
			out.byResource[r] = append(out.byResource[r], Entry{IsLocal: false, Change: e.Change})
		}
	}
	return out
}

// Snapshot is the serializable view of a ChangeMap.
type Snapshot struct {
	ByResource map[qbpath.Resource][]Entry
}

// Snapshot copies the map's contents out for persistence.
func (m *ChangeMap) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{ByResource: make(map[qbpath.Resource][]Entry, len(m.byResource))}
	for r, entries := range m.byResource {
		s.ByResource[r] = append([]Entry(nil), entries...)
	}
	return s
}

// Restore replaces the map's contents with a previously taken Snapshot.
func (m *ChangeMap) Restore(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byResource = make(map[qbpath.Resource][]Entry, len(s.ByResource))
	for r, entries := range s.ByResource {
		m.byResource[r] = append([]Entry(nil), entries...)
	}
}

// minify drops redundant history from a time-ordered entry slice:
//
//   - Create and the external half of a rename/copy ("…From") reset the
//     "keep from" pointer to just past themselves: nothing before them
//     needs to survive, since a later Delete could discard it all anyway,
//     and an external change pins the point an earlier peer must be able
//     to reconstruct.
//   - Delete discards every entry since the last keep-from point. If the
//     entry immediately preceding the Delete is a Create, the pair
//     collapses entirely (the resource was created and destroyed within
//     the window being minified, so it never needs to be mentioned).
//
// This is a direct port of QBChangeMap::_minify / QBTransaction::_minify
// from the original source.
func minify(entries []Entry) []Entry {
	removeUntil := 0
	i := 0
	for i < len(entries) {
		k := entries[i].Change.Kind
		switch {
		case k.IsExternal():
			removeUntil = i + 1
		case k == Create:
			removeUntil = i + 1
		case k == Delete:
			removed := i - removeUntil
			entries = append(entries[:removeUntil], entries[i:]...)
			i -= removed
			if i != 0 && entries[i-1].Change.Kind == Create {
				entries = append(entries[:i-1], entries[i+1:]...)
				i--
			} else {
				i++
			}
			continue
		}
		i++
	}
	return entries
}
