package changemap_test

import (
	"testing"

	"github.com/nicolagi/quixbyte/internal/changemap"
	"github.com/nicolagi/quixbyte/internal/qbpath"
	"github.com/nicolagi/quixbyte/internal/qbtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(millis, device uint64) qbtime.Timestamp {
	return qbtime.Timestamp{Millis: millis, DeviceID: qbtime.DeviceID(device)}
}

func mustResource(t *testing.T, p string) qbpath.Resource {
	t.Helper()
	path, err := qbpath.New(p)
	require.NoError(t, err)
	return qbpath.NewFile(path)
}

func TestMinifyCollapsesCreateDelete(t *testing.T) {
	r := mustResource(t, "a.txt")
	m := changemap.New()
	m.Push(r, true, changemap.Change{Timestamp: ts(1, 1), Kind: changemap.Create})
	m.Push(r, true, changemap.Change{Timestamp: ts(2, 1), Kind: changemap.Delete})
	m.Minify()
	assert.Empty(t, m.Entries(r))
}

func TestMinifyDropsHistoryBeforeDelete(t *testing.T) {
	r := mustResource(t, "a.txt")
	m := changemap.New()
	m.Push(r, true, changemap.Change{Timestamp: ts(1, 1), Kind: changemap.UpdateBinary, Content: []byte("x")})
	m.Push(r, true, changemap.Change{Timestamp: ts(2, 1), Kind: changemap.UpdateBinary, Content: []byte("y")})
	m.Push(r, true, changemap.Change{Timestamp: ts(3, 1), Kind: changemap.Delete})
	m.Minify()
	entries := m.Entries(r)
	require.Len(t, entries, 1)
	assert.Equal(t, changemap.Delete, entries[0].Change.Kind)
}

func TestMinifyKeepsExternalHalfOfRename(t *testing.T) {
	r := mustResource(t, "a.txt")
	m := changemap.New()
	m.Push(r, true, changemap.Change{Timestamp: ts(1, 1), Kind: changemap.UpdateBinary, Content: []byte("x")})
	m.Push(r, true, changemap.Change{Timestamp: ts(2, 1), Kind: changemap.RenameFrom})
	m.Push(r, true, changemap.Change{Timestamp: ts(3, 1), Kind: changemap.Delete})
	m.Minify()
	entries := m.Entries(r)
	require.Len(t, entries, 3)
	assert.Equal(t, changemap.RenameFrom, entries[1].Change.Kind)
	assert.Equal(t, changemap.Delete, entries[2].Change.Kind)
}

func TestMergeReturnsOnlyNewRemoteEntries(t *testing.T) {
	r := mustResource(t, "a.txt")

	local := changemap.New()
	local.Push(r, true, changemap.Change{Timestamp: ts(5, 1), Kind: changemap.Create})

	remote := changemap.New()
	remote.Push(r, true, changemap.Change{Timestamp: ts(3, 2), Kind: changemap.Create})
	remote.Push(r, true, changemap.Change{Timestamp: ts(5, 1), Kind: changemap.Create}) // already known locally

	delta := local.Merge(remote)
	changes := delta.Changes(r)
	require.Len(t, changes, 1)
	assert.Equal(t, ts(3, 2), changes[0].Timestamp)
}

func TestSinceFiltersByTimestamp(t *testing.T) {
	r := mustResource(t, "a.txt")
	m := changemap.New()
	m.Push(r, true, changemap.Change{Timestamp: ts(1, 1), Kind: changemap.Create})
	m.Push(r, true, changemap.Change{Timestamp: ts(5, 1), Kind: changemap.Delete})

	recent := m.Since(ts(1, 1))
	assert.Len(t, recent.Entries(r), 1)
}

func TestHeadIsLatestTimestamp(t *testing.T) {
	r := mustResource(t, "a.txt")
	m := changemap.New()
	m.Push(r, true, changemap.Change{Timestamp: ts(1, 1), Kind: changemap.Create})
	m.Push(r, true, changemap.Change{Timestamp: ts(9, 1), Kind: changemap.Delete})
	assert.Equal(t, ts(9, 1), m.Head())
}
