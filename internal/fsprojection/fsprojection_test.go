package fsprojection_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nicolagi/quixbyte/internal/changemap"
	"github.com/nicolagi/quixbyte/internal/devicetable"
	"github.com/nicolagi/quixbyte/internal/fsprojection"
	"github.com/nicolagi/quixbyte/internal/qbpath"
	"github.com/nicolagi/quixbyte/internal/qbtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustResource(t *testing.T, p string) qbpath.Resource {
	t.Helper()
	path, err := qbpath.New(p)
	require.NoError(t, err)
	return qbpath.NewFile(path)
}

func TestApplyCreateThenUpdateThenDelete(t *testing.T) {
	dir := t.TempDir()
	proj := fsprojection.New(dir, devicetable.New(1), nil)

	r := mustResource(t, "hello.txt")
	proj.ApplyChanges(r, []changemap.Change{
		{Timestamp: qbtime.Timestamp{Millis: 1, DeviceID: 1}, Kind: changemap.Create},
		{Timestamp: qbtime.Timestamp{Millis: 2, DeviceID: 1}, Kind: changemap.UpdateBinary, Content: []byte("hi")},
	})

	got, err := os.ReadFile(filepath.Join(dir, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(got))

	proj.ApplyChanges(r, []changemap.Change{
		{Timestamp: qbtime.Timestamp{Millis: 3, DeviceID: 1}, Kind: changemap.Delete},
	})
	_, err = os.Stat(filepath.Join(dir, "hello.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestApplyBatchPairsRenameAcrossResources(t *testing.T) {
	dir := t.TempDir()
	proj := fsprojection.New(dir, devicetable.New(1), nil)

	from := mustResource(t, "old.txt")
	to := mustResource(t, "new.txt")

	proj.ApplyChanges(from, []changemap.Change{
		{Timestamp: qbtime.Timestamp{Millis: 1, DeviceID: 1}, Kind: changemap.Create},
		{Timestamp: qbtime.Timestamp{Millis: 2, DeviceID: 1}, Kind: changemap.UpdateBinary, Content: []byte("content")},
	})

	ts := qbtime.Timestamp{Millis: 5, DeviceID: 1}
	batch := fsprojection.Batch{
		from: {{Timestamp: ts, Kind: changemap.RenameFrom}},
		to:   {{Timestamp: ts, Kind: changemap.RenameTo}},
	}

	pending := fsprojection.NewPendingPairs()
	proj.ApplyBatch(batch, pending)

	_, err := os.Stat(filepath.Join(dir, "old.txt"))
	assert.True(t, os.IsNotExist(err))
	got, err := os.ReadFile(filepath.Join(dir, "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "content", string(got))
}
