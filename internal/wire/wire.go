// Package wire implements the QBP framing and content negotiation that
// every TCP/TLS interface connection starts with, grounded on
// qb-proto/src/lib.rs's QBPHeaderPacket/negotiate.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// Magic identifies a quixbyte wire stream, sent as the first three bytes
// of the handshake packet.
var Magic = [3]byte{'Q', 'B', 'P'}

// ContentType names a supported framing payload encoding. Binary is
// preferred; JSON is the fallback for peers (or debugging tools) that
// don't speak the binary codec.
type ContentType string

const (
	ContentBinary ContentType = "application/qb-binary"
	ContentJSON   ContentType = "application/json"
)

// preferenceOrder lists every content type this implementation supports,
// most preferred first, mirroring SUPPORTED_CONTENT_TYPES's ordered map.
var preferenceOrder = []ContentType{ContentBinary, ContentJSON}

// Header is the handshake packet: a protocol version and a set of
// URL-encoded headers, of which "accept" (a comma-separated content type
// list) is the only one negotiate() currently looks at.
type Header struct {
	Major, Minor byte
	Fields       map[string]string
}

// DefaultHeader advertises this implementation's version and accepted
// content types.
func DefaultHeader() Header {
	accept := make([]string, len(preferenceOrder))
	for i, ct := range preferenceOrder {
		accept[i] = string(ct)
	}
	return Header{
		Major: 1, Minor: 0,
		Fields: map[string]string{"accept": strings.Join(accept, ",")},
	}
}

// WriteHeader sends the handshake packet.
func WriteHeader(w io.Writer, h Header) error {
	values := url.Values{}
	for k, v := range h.Fields {
		values.Set(k, v)
	}
	encoded := values.Encode()

	buf := make([]byte, 0, 5+len(encoded))
	buf = append(buf, Magic[:]...)
	buf = append(buf, h.Major, h.Minor)
	buf = append(buf, encoded...)
	return writeFrame(w, buf)
}

// ReadHeader reads and validates a handshake packet.
func ReadHeader(r io.Reader) (Header, error) {
	payload, err := readFrame(r)
	if err != nil {
		return Header{}, err
	}
	if len(payload) < 5 {
		return Header{}, fmt.Errorf("wire: header packet too short: %d bytes", len(payload))
	}
	if string(payload[0:3]) != string(Magic[:]) {
		return Header{}, fmt.Errorf("wire: bad magic bytes %q", payload[0:3])
	}
	values, err := url.ParseQuery(string(payload[5:]))
	if err != nil {
		return Header{}, fmt.Errorf("wire: malformed header fields: %w", err)
	}
	fields := make(map[string]string, len(values))
	for k := range values {
		fields[k] = values.Get(k)
	}
	return Header{Major: payload[3], Minor: payload[4], Fields: fields}, nil
}

// Negotiate picks the most preferred content type both this
// implementation and the peer's advertised "accept" list support. An
// empty peer accept list, or no overlap at all, negotiates JSON since
// every implementation is expected to support it.
func Negotiate(peerAccept string) ContentType {
	supported := make(map[ContentType]bool, len(peerAccept))
	for _, tok := range strings.Split(peerAccept, ",") {
		supported[ContentType(strings.TrimSpace(tok))] = true
	}
	for _, ct := range preferenceOrder {
		if supported[ct] {
			return ct
		}
	}
	return ContentJSON
}

// writeFrame writes a u64-big-endian length prefix followed by payload.
func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write frame payload: %w", err)
	}
	return nil
}

// readFrame reads one u64-big-endian-length-prefixed frame.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("wire: read frame length: %w", err)
	}
	n := binary.BigEndian.Uint64(lenBuf[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: read frame payload: %w", err)
	}
	return payload, nil
}

// Conn wraps a length-prefixed-frame stream with buffered I/O, the unit
// of communication a TCP/TLS interface sends Messages over once
// negotiation has picked a ContentType.
type Conn struct {
	r           *bufio.Reader
	w           io.Writer
	ContentType ContentType
}

// NewConn wraps rw for framed reads and writes.
func NewConn(rw io.ReadWriter, ct ContentType) *Conn {
	return &Conn{r: bufio.NewReader(rw), w: rw, ContentType: ct}
}

// WriteFrame sends one length-prefixed frame.
func (c *Conn) WriteFrame(payload []byte) error {
	return writeFrame(c.w, payload)
}

// ReadFrame reads one length-prefixed frame.
func (c *Conn) ReadFrame() ([]byte, error) {
	return readFrame(c.r)
}

// SupportedContentTypes returns every content type this implementation
// supports, most preferred first, primarily for diagnostics.
func SupportedContentTypes() []ContentType {
	return append([]ContentType(nil), preferenceOrder...)
}
