package ifacelocal_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nicolagi/quixbyte/internal/changemap"
	"github.com/nicolagi/quixbyte/internal/devicetable"
	"github.com/nicolagi/quixbyte/internal/fsprojection"
	"github.com/nicolagi/quixbyte/internal/ifacelocal"
	"github.com/nicolagi/quixbyte/internal/master"
	"github.com/nicolagi/quixbyte/internal/qbpath"
	"github.com/nicolagi/quixbyte/internal/qbtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherRecordsCreate(t *testing.T) {
	root := t.TempDir()
	devices := devicetable.New(1)
	proj := fsprojection.New(root, devices, nil)
	recorder := qbtime.NewRecorder(1)
	w := ifacelocal.New(proj, recorder, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outbound := make(chan master.Message)
	recv := make(chan master.Message)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, outbound, recv) }()

	// Give the watcher a moment to install its initial recursive watch
	// before the event that should trigger on it.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))

	path, err := qbpath.New("a.txt")
	require.NoError(t, err)
	resource := qbpath.NewFile(path)

	require.Eventually(t, func() bool {
		return len(proj.Changes.Entries(resource)) > 0
	}, 2*time.Second, 20*time.Millisecond)

	entries := proj.Changes.Entries(resource)
	assert.Equal(t, changemap.Create, entries[0].Change.Kind)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}

func TestSuppressDropsMatchingEvent(t *testing.T) {
	root := t.TempDir()
	devices := devicetable.New(1)
	proj := fsprojection.New(root, devices, nil)
	recorder := qbtime.NewRecorder(1)
	w := ifacelocal.New(proj, recorder, nil)

	w.Suppress("b.txt")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	outbound := make(chan master.Message)
	recv := make(chan master.Message)
	go func() { _ = w.Run(ctx, outbound, recv) }()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("hello"), 0o644))

	time.Sleep(200 * time.Millisecond)

	path, err := qbpath.New("b.txt")
	require.NoError(t, err)
	resource := qbpath.NewFile(path)
	assert.Empty(t, proj.Changes.Entries(resource))
}
