package archive_test

import (
	"errors"
	"testing"

	"github.com/nicolagi/quixbyte/internal/archive"
	"github.com/nicolagi/quixbyte/internal/qberrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskStorePutGet(t *testing.T) {
	store := archive.NewDiskStore(t.TempDir())
	key := archive.Key("abcd1234")
	value := []byte("some snapshot bytes")

	require.NoError(t, store.Put(key, value))

	got, err := store.Get(key)
	require.NoError(t, err)
	assert.Equal(t, value, got)
}

func TestDiskStoreGetMissingIsNotFound(t *testing.T) {
	store := archive.NewDiskStore(t.TempDir())
	_, err := store.Get(archive.Key("deadbeef"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, qberrors.ErrNotFound))
}

func TestNullStoreDiscardsPuts(t *testing.T) {
	var store archive.NullStore
	require.NoError(t, store.Put(archive.Key("k"), []byte("v")))
	_, err := store.Get(archive.Key("k"))
	assert.True(t, errors.Is(err, qberrors.ErrNotFound))
}
