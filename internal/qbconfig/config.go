// Package qbconfig loads and persists the daemon's configuration, a flat
// key-value file under its base directory, grounded on the teacher's
// config package (same file format, same load-then-derive-defaults
// shape), adapted to quixbyte's own settings.
package qbconfig

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	mathrand "math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nicolagi/quixbyte/internal/qbtime"
)

// DefaultBaseDirectoryPath is where quixbyte stores its configuration and
// internal state, defaulting to $QUIXBYTE_BASE if set, otherwise
// $HOME/lib/quixbyte, matching the teacher's $MUSCLE_BASE convention.
var DefaultBaseDirectoryPath string

func init() {
	if base := os.Getenv("QUIXBYTE_BASE"); base != "" {
		DefaultBaseDirectoryPath = base
	} else {
		DefaultBaseDirectoryPath = os.ExpandEnv("$HOME/lib/quixbyte")
	}
}

// C holds one device's daemon configuration.
type C struct {
	// DeviceID is generated once at Initialize time and never changes; it
	// is this device's identity in every other device's Device Table.
	DeviceID qbtime.DeviceID

	// DeviceName is a human-readable label shown to peers.
	DeviceName string

	// SyncRoot is the directory watched and kept in sync.
	SyncRoot string

	// ControlNet/ControlAddr name the local socket the CLI talks to the
	// daemon over. Defaults to a unix socket under the base directory.
	ControlNet  string
	ControlAddr string

	// TCPListenNet/TCPListenAddr configure the optional TLS-over-TCP
	// server interface; both empty disables it.
	TCPListenNet  string
	TCPListenAddr string

	// AuthToken is the pre-shared secret a TLS-over-TCP server interface
	// requires from a connecting peer.
	AuthToken string

	// TLSCertFile/TLSKeyFile configure the server interface's certificate.
	TLSCertFile string
	TLSKeyFile  string

	// Storage selects an optional archival backend for historical
	// snapshots: "s3", "disk", or "" (disabled).
	Storage      string
	S3Profile    string
	S3Region     string
	S3Bucket     string
	DiskStoreDir string

	base string
}

// BaseDirectory returns the directory C was loaded from.
func (c *C) BaseDirectory() string { return c.base }

// Load reads the configuration file named "config" under base.
func Load(base string) (*C, error) {
	filename := filepath.Join(base, "config")
	if fi, err := os.Stat(filename); err != nil {
		return nil, fmt.Errorf("qbconfig.Load: %w", err)
	} else if fi.Mode()&0o077 != 0 {
		return nil, fmt.Errorf("qbconfig.Load %q: mode is %#o, want at most %#o",
			filename, fi.Mode()&0o777, fi.Mode()&0o700)
	}
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	c, err := load(f)
	if err != nil {
		return nil, err
	}
	c.base = base

	if c.DiskStoreDir != "" && !filepath.IsAbs(c.DiskStoreDir) {
		c.DiskStoreDir = filepath.Clean(filepath.Join(c.base, c.DiskStoreDir))
	}
	if c.ControlNet == "" && c.ControlAddr == "" {
		c.ControlNet = "unix"
		c.ControlAddr = filepath.Join(base, "control")
	}
	return c, nil
}

func load(f io.Reader) (*C, error) {
	c := C{}
	var deviceIDHex string
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		i := strings.IndexAny(line, " \t")
		if i == -1 {
			return nil, fmt.Errorf("qbconfig: load: no separator in %q", line)
		}
		key, val := line[:i], strings.TrimSpace(line[i:])
		switch key {
		case "device-id":
			deviceIDHex = val
		case "device-name":
			c.DeviceName = val
		case "sync-root":
			c.SyncRoot = val
		case "control-net":
			c.ControlNet = val
		case "control-addr":
			c.ControlAddr = val
		case "tcp-listen-net":
			c.TCPListenNet = val
		case "tcp-listen-addr":
			c.TCPListenAddr = val
		case "auth-token":
			c.AuthToken = val
		case "tls-cert-file":
			c.TLSCertFile = val
		case "tls-key-file":
			c.TLSKeyFile = val
		case "storage":
			c.Storage = val
		case "s3-profile":
			c.S3Profile = val
		case "s3-region":
			c.S3Region = val
		case "s3-bucket":
			c.S3Bucket = val
		case "disk-store-dir":
			c.DiskStoreDir = val
		default:
			return nil, fmt.Errorf("qbconfig: load: unknown key %q", key)
		}
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("qbconfig: load: %w", err)
	}
	if deviceIDHex != "" {
		id, err := strconv.ParseUint(deviceIDHex, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("qbconfig: load: device-id: %w", err)
		}
		c.DeviceID = qbtime.DeviceID(id)
	}
	return &c, nil
}

// Initialize generates a fresh configuration file under base: a random
// device id, a random auth token, and sensible defaults, matching the
// teacher's config.Initialize bootstrap step.
func Initialize(base string) error {
	if err := os.MkdirAll(base, 0o700); err != nil {
		return fmt.Errorf("qbconfig.Initialize: %w", err)
	}

	var idBytes [8]byte
	if _, err := rand.Read(idBytes[:]); err != nil {
		return fmt.Errorf("qbconfig.Initialize: generating device id: %w", err)
	}

	var tokenBytes [32]byte
	if _, err := rand.Read(tokenBytes[:]); err != nil {
		return fmt.Errorf("qbconfig.Initialize: generating auth token: %w", err)
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "device"
	}

	port := 20000 + mathrand.Intn(20000)

	var buf strings.Builder
	fmt.Fprintf(&buf, "device-id %s\n", hex.EncodeToString(idBytes[:]))
	fmt.Fprintf(&buf, "device-name %s\n", hostname)
	fmt.Fprintf(&buf, "sync-root %s\n", filepath.Join(base, "sync"))
	fmt.Fprintf(&buf, "tcp-listen-net tcp\n")
	fmt.Fprintf(&buf, "tcp-listen-addr 127.0.0.1:%d\n", port)
	fmt.Fprintf(&buf, "auth-token %s\n", hex.EncodeToString(tokenBytes[:]))
	fmt.Fprintf(&buf, "storage null\n")

	filename := filepath.Join(base, "config")
	return os.WriteFile(filename, []byte(buf.String()), 0o600)
}
