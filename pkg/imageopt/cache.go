package imageopt

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"assetflow/pkg/faults"
)

// Cache stores optimized images on disk, addressed by a hash of their input
// and the optimizer settings
type Cache struct {
	dir string
}

// NewCache creates a cache rooted at dir. The directory is created lazily.
func NewCache(dir string) *Cache {
	return &Cache{dir: dir}
}

// Dir returns the cache directory
func (c *Cache) Dir() string {
	return c.dir
}

// Key computes the content address for data optimized with settings
func Key(settings string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(settings))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key[:2], key)
}

// Get returns the cached bytes for key
func (c *Cache) Get(key string) ([]byte, bool) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

// Put stores data under key. The entry is written to a temp file and moved
// into place so readers never see a partial entry.
func (c *Cache) Put(key string, data []byte) error {
	target := c.path(key)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return faults.IO("mkdir", filepath.Dir(target), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-"+key[:8]+"-")
	if err != nil {
		return faults.IO("create", target, err)
	}
	defer os.Remove(tmp.Name()) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return faults.IO("write", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return faults.IO("close", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return faults.IO("rename", target, err)
	}
	return nil
}

// Clear removes every cached entry. A missing cache is already clear.
func (c *Cache) Clear() error {
	err := os.RemoveAll(c.dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return faults.IO("remove", c.dir, err)
	}
	return nil
}
