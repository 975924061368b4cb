// Package qbcodec implements the on-disk encoding for quixbyte's internal
// state files under <root>/.qb/: a leading magic value and version byte,
// followed by an encoded payload, grounded on tree/codec.go's
// multiCodec idea of a leading version byte. Only one version exists, and
// Decode rejects any other.
package qbcodec

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"os"
)

// Magic identifies a quixbyte internal state file.
var Magic = [3]byte{'Q', 'B', '1'}

// Version is the current payload encoding version. Decode returns an
// error for a file whose version byte differs from it.
const Version byte = 1

// Encode writes magic + version + gob(v) to w. The payload uses the
// standard library's gob encoding rather than a hand-rolled binary
// layout: quixbyte's internal state structs are plain Go maps/slices
// with no variant-length bit-packing to optimize, so a hand-written
// per-field encoder would only duplicate what gob already provides.
func Encode(w io.Writer, v interface{}) error {
	if _, err := w.Write(Magic[:]); err != nil {
		return fmt.Errorf("qbcodec: write magic: %w", err)
	}
	if _, err := w.Write([]byte{Version}); err != nil {
		return fmt.Errorf("qbcodec: write version: %w", err)
	}
	if err := gob.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("qbcodec: encode payload: %w", err)
	}
	return nil
}

// Decode reads and validates the magic+version header from r, then
// decodes the gob payload into v.
func Decode(r io.Reader, v interface{}) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return fmt.Errorf("qbcodec: read header: %w", err)
	}
	if !bytes.Equal(header[:3], Magic[:]) {
		return fmt.Errorf("qbcodec: bad magic bytes %x", header[:3])
	}
	if header[3] != Version {
		return fmt.Errorf("qbcodec: unsupported version %d", header[3])
	}
	if err := gob.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("qbcodec: decode payload: %w", err)
	}
	return nil
}

// Save atomically writes v, encoded, to filename: it writes to a
// temporary file in the same directory and renames it into place, so a
// crash mid-write never leaves a half-written state file behind.
func Save(filename string, v interface{}) error {
	tmp := filename + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("qbcodec: Save: %w", err)
	}
	if err := Encode(f, v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("qbcodec: Save: %w", err)
	}
	return os.Rename(tmp, filename)
}

// LoadOrDefault decodes filename into v, leaving v at its zero value
// (the struct's default) if the file does not exist, matching
// wrapper.load_or_default's fallback behavior. Any other read or decode
// error is fatal: a present-but-corrupt state file is a startup error,
// never silently ignored.
func LoadOrDefault(filename string, v interface{}) error {
	f, err := os.Open(filename)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("qbcodec: LoadOrDefault: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Decode(f, v)
}
