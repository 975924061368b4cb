package wire_test

import (
	"bytes"
	"testing"

	"github.com/nicolagi/quixbyte/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	sent := wire.DefaultHeader()
	require.NoError(t, wire.WriteHeader(&buf, sent))

	got, err := wire.ReadHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, sent.Major, got.Major)
	assert.Equal(t, sent.Minor, got.Minor)
	assert.Equal(t, sent.Fields["accept"], got.Fields["accept"])
}

func TestNegotiatePrefersBinary(t *testing.T) {
	assert.Equal(t, wire.ContentBinary, wire.Negotiate("application/json,application/qb-binary"))
}

func TestNegotiateFallsBackToJSON(t *testing.T) {
	assert.Equal(t, wire.ContentJSON, wire.Negotiate("text/plain"))
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	conn := wire.NewConn(&buf, wire.ContentBinary)
	require.NoError(t, conn.WriteFrame([]byte("hello")))

	got, err := conn.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}
