package archive

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nicolagi/quixbyte/internal/qberrors"
)

const (
	diskStoreDirPerm  = 0o700
	diskStoreFilePerm = 0o600
)

// DiskStore archives blobs as individual files under dir, sharded by the
// first two characters of the key.
type DiskStore struct {
	dir string
}

// NewDiskStore returns a DiskStore rooted at dir.
func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{dir: dir}
}

func (s *DiskStore) Get(k Key) ([]byte, error) {
	b, err := os.ReadFile(s.pathFor(k))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("archive: %q: %w", k, qberrors.ErrNotFound)
	}
	return b, err
}

func (s *DiskStore) Put(k Key, v []byte) error {
	p := s.pathFor(k)
	if err := os.WriteFile(p, v, diskStoreFilePerm); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(p), diskStoreDirPerm); err != nil {
			return err
		}
		return os.WriteFile(p, v, diskStoreFilePerm)
	}
	return nil
}

func (s *DiskStore) pathFor(k Key) string {
	ks := string(k)
	shard := ks
	if len(ks) >= 2 {
		shard = ks[:2]
	}
	return filepath.Join(s.dir, shard, ks)
}
