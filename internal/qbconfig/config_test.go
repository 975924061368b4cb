package qbconfig_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nicolagi/quixbyte/internal/qbconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeThenLoad(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, qbconfig.Initialize(base))

	c, err := qbconfig.Load(base)
	require.NoError(t, err)
	assert.NotZero(t, c.DeviceID)
	assert.Equal(t, filepath.Join(base, "sync"), c.SyncRoot)
	assert.Equal(t, "null", c.Storage)
	assert.NotEmpty(t, c.AuthToken)
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, qbconfig.Initialize(base))

	path := filepath.Join(base, "config")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data = append(data, []byte("bogus-key value\n")...)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	_, err = qbconfig.Load(base)
	assert.Error(t, err)
}
