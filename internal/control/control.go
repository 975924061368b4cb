// Package control implements the local-socket, length-prefixed protocol
// the CLI uses to talk to the daemon: Add/Remove/Start/Stop/List requests
// and Success/Error/List responses. Grounded on the teacher's framed,
// gob-encoded control-file convention (cmd/musclefs/control.go),
// generalized from a 9P control file to a dedicated socket protocol since
// this service is not a 9P server.
package control

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
)

// RequestKind tags a Request's payload.
type RequestKind uint8

const (
	ReqAdd RequestKind = iota
	ReqRemove
	ReqStart
	ReqStop
	ReqList
)

// Request is one CLI-to-daemon control message.
type Request struct {
	Kind RequestKind

	// Name and Blob are set for Add: a display name and an
	// implementation-defined configuration blob (e.g. the kind of
	// interface to attach and its parameters).
	Name string
	Blob []byte

	// ID is set for Remove/Start/Stop: the 64-bit id, rendered as
	// lowercase hex on the CLI surface but carried here as a plain
	// uint64.
	ID uint64
}

// AttachSpec describes the interface an Add request should attach,
// gob-encoded into Request.Blob so the daemon can decide what kind of
// transport to build without Request itself needing one field per
// interface kind.
type AttachSpec struct {
	// Kind selects the interface implementation. The daemon accepts only
	// "tcp-client", which dials a peer at Network/Address; the local
	// watcher and the tcp-server are attached by qbd at startup and
	// cannot be added through a request.
	Kind string

	Network string
	Address string
	UseTLS  bool

	// AuthToken is sent by a tcp-client right after the handshake, and
	// checked by a tcp-server if it requires one.
	AuthToken string
}

// EncodeAttachSpec gob-encodes spec for use as a Request.Blob.
func EncodeAttachSpec(spec AttachSpec) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(spec); err != nil {
		return nil, fmt.Errorf("control: encode attach spec: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeAttachSpec reverses EncodeAttachSpec.
func DecodeAttachSpec(blob []byte) (AttachSpec, error) {
	var spec AttachSpec
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&spec); err != nil {
		return AttachSpec{}, fmt.Errorf("control: decode attach spec: %w", err)
	}
	return spec, nil
}

// ResponseKind tags a Response's payload.
type ResponseKind uint8

const (
	RespSuccess ResponseKind = iota
	RespError
	RespList
)

// Entry is one row of a RespList response.
type Entry struct {
	ID       uint64
	Kind     string
	Attached bool
}

// Response is one daemon-to-CLI control message.
type Response struct {
	Kind    ResponseKind
	Message string // set for RespError
	Entries []Entry
}

// WriteRequest sends a length-prefixed, gob-encoded Request.
func WriteRequest(w io.Writer, req Request) error {
	return writeFrame(w, req)
}

// ReadRequest reads a length-prefixed, gob-encoded Request.
func ReadRequest(r *bufio.Reader) (Request, error) {
	var req Request
	err := readFrame(r, &req)
	return req, err
}

// WriteResponse sends a length-prefixed, gob-encoded Response.
func WriteResponse(w io.Writer, resp Response) error {
	return writeFrame(w, resp)
}

// ReadResponse reads a length-prefixed, gob-encoded Response.
func ReadResponse(r *bufio.Reader) (Response, error) {
	var resp Response
	err := readFrame(r, &resp)
	return resp, err
}

func writeFrame(w io.Writer, v interface{}) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("control: encode: %w", err)
	}

	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(buf.Len()))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("control: write length: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("control: write body: %w", err)
	}
	return nil
}

func readFrame(r io.Reader, v interface{}) error {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return fmt.Errorf("control: read length: %w", err)
	}
	n := binary.BigEndian.Uint64(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("control: read body: %w", err)
	}
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(v); err != nil {
		return fmt.Errorf("control: decode: %w", err)
	}
	return nil
}
