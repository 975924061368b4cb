package control_test

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/nicolagi/quixbyte/internal/control"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := control.Request{Kind: control.ReqAdd, Name: "laptop", Blob: []byte("local:/home/x")}
	require.NoError(t, control.WriteRequest(&buf, req))

	got, err := control.ReadRequest(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestAttachSpecRoundTrip(t *testing.T) {
	spec := control.AttachSpec{
		Kind:      "tcp-client",
		Network:   "tcp",
		Address:   "peer.example:4444",
		UseTLS:    true,
		AuthToken: "s3cr3t",
	}
	blob, err := control.EncodeAttachSpec(spec)
	require.NoError(t, err)

	got, err := control.DecodeAttachSpec(blob)
	require.NoError(t, err)
	assert.Equal(t, spec, got)
}

func TestResponseListRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	resp := control.Response{
		Kind: control.RespList,
		Entries: []control.Entry{
			{ID: 1, Kind: "local", Attached: true},
			{ID: 2, Kind: "tcp", Attached: false},
		},
	}
	require.NoError(t, control.WriteResponse(&buf, resp))

	got, err := control.ReadResponse(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, resp, got)
}
