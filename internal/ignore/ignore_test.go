package ignore_test

import (
	"testing"

	"github.com/nicolagi/quixbyte/internal/ignore"
	"github.com/nicolagi/quixbyte/internal/qbpath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustPath(t *testing.T, p string) qbpath.Path {
	t.Helper()
	path, err := qbpath.New(p)
	require.NoError(t, err)
	return path
}

func mustFile(t *testing.T, p string) qbpath.Resource {
	t.Helper()
	return qbpath.NewFile(mustPath(t, p))
}

func mustDir(t *testing.T, p string) qbpath.Resource {
	t.Helper()
	return qbpath.NewDir(mustPath(t, p))
}

func TestMapMatchedRespectsNegation(t *testing.T) {
	m := ignore.NewMap()
	m.Set(qbpath.Root, "*.log\n!keep.log\n")

	assert.True(t, m.Matched(mustFile(t, "app.log")))
	assert.False(t, m.Matched(mustFile(t, "keep.log")))
}

func TestMapMatchedAlwaysIgnoresInternal(t *testing.T) {
	m := ignore.NewMap()
	assert.True(t, m.Matched(mustFile(t, ".qb/changemap")))
}

func TestMapSnapshotRestoreRoundTrips(t *testing.T) {
	m := ignore.NewMap()
	m.Set(qbpath.Root, "*.tmp\n")
	m.Set(mustPath(t, "build"), "output/\n")

	snap := m.Snapshot()

	restored := ignore.NewMap()
	restored.Restore(snap)

	assert.True(t, restored.Matched(mustFile(t, "scratch.tmp")))
	assert.True(t, restored.Matched(mustDir(t, "build/output")))
	assert.False(t, restored.Matched(mustFile(t, "build/keep.txt")))
}

func TestMapRemoveForgetsFile(t *testing.T) {
	m := ignore.NewMap()
	m.Set(qbpath.Root, "*.tmp\n")
	m.Remove(qbpath.Root)

	assert.False(t, m.Matched(mustFile(t, "scratch.tmp")))
}
