// Package archive is the optional remote archival store for historical
// component snapshots: every successful state flush can additionally be
// checkpointed, content-addressed by its hash, to a disk- or S3-backed
// store so a device can recover history the live `.qb/` files (which
// only ever hold the latest snapshot) have already overwritten.
// Grounded on storage/store.go's pluggable Store interface and
// storage/disk.go/s3.go's two backends, adapted to this service's own
// qbconfig and keyed by qbhash rather than a random or caller-supplied
// key.
package archive

import (
	"fmt"

	"github.com/nicolagi/quixbyte/internal/qbconfig"
	"github.com/nicolagi/quixbyte/internal/qberrors"
)

// Key identifies one archived blob. cmd/qbd builds it as
// "<component>-<hex qbhash of the contents>".
type Key string

// Store archives and retrieves content-addressed blobs.
type Store interface {
	Get(Key) ([]byte, error)
	Put(Key, []byte) error
}

// NewStore builds the Store selected by cfg.Storage, matching the
// config surface Load/Initialize populate.
func NewStore(cfg *qbconfig.C) (Store, error) {
	switch cfg.Storage {
	case "", "null":
		return NullStore{}, nil
	case "disk":
		return NewDiskStore(cfg.DiskStoreDir), nil
	case "s3":
		return newS3Store(cfg)
	default:
		return nil, fmt.Errorf("archive: %q: %w", cfg.Storage, qberrors.ErrNotFound)
	}
}

// NullStore discards every Put and never has anything to Get, the
// default when no archival backend is configured.
type NullStore struct{}

func (NullStore) Get(Key) ([]byte, error) { return nil, qberrors.ErrNotFound }
func (NullStore) Put(Key, []byte) error   { return nil }
