package filetree_test

import (
	"testing"

	"github.com/nicolagi/quixbyte/internal/filetree"
	"github.com/nicolagi/quixbyte/internal/qbhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateFindRemoveReusesSlot(t *testing.T) {
	tree := filetree.New()

	_, err := tree.CreateDir("a/b")
	require.NoError(t, err)

	idx, err := tree.CreateFile("a/b/c.txt")
	require.NoError(t, err)
	tree.SetHash(idx, qbhash.Compute([]byte("hello")))

	found, ok := tree.Find("a/b/c.txt")
	require.True(t, ok)
	assert.Equal(t, idx, found)
	assert.Equal(t, qbhash.Compute([]byte("hello")), tree.Hash(found))

	tree.Remove(idx)
	_, ok = tree.Find("a/b/c.txt")
	assert.False(t, ok)

	reused, err := tree.CreateFile("a/b/d.txt")
	require.NoError(t, err)
	assert.Equal(t, idx, reused, "deleted slot should be reused")
}

func TestCreateFileRequiresParentDirectory(t *testing.T) {
	tree := filetree.New()
	_, err := tree.CreateFile("missing/file.txt")
	assert.Error(t, err)
}

func TestPathRoundTrips(t *testing.T) {
	tree := filetree.New()
	idx, err := tree.CreateFile("x.txt")
	require.NoError(t, err)
	assert.Equal(t, "x.txt", tree.Path(idx))
}
