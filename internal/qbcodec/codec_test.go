package qbcodec_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/nicolagi/quixbyte/internal/qbcodec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string
	Count int
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := payload{Name: "a", Count: 3}
	require.NoError(t, qbcodec.Encode(&buf, in))

	var out payload
	require.NoError(t, qbcodec.Decode(&buf, &out))
	assert.Equal(t, in, out)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBufferString("XXXX")
	var out payload
	assert.Error(t, qbcodec.Decode(buf, &out))
}

func TestLoadOrDefaultMissingFileIsNotError(t *testing.T) {
	var out payload
	err := qbcodec.LoadOrDefault(filepath.Join(t.TempDir(), "missing"), &out)
	require.NoError(t, err)
	assert.Equal(t, payload{}, out)
}

func TestSaveThenLoadOrDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state")
	in := payload{Name: "b", Count: 7}
	require.NoError(t, qbcodec.Save(path, in))

	var out payload
	require.NoError(t, qbcodec.LoadOrDefault(path, &out))
	assert.Equal(t, in, out)
}
