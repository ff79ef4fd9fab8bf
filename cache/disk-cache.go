package cache

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultDir is where DiskCache keeps entries unless told otherwise.
const DefaultDir = "proxy_cache"

// DiskCache stores each entry as a flat file named by its key.
// Keys must be valid file names; sanitized cache keys always are.
// The directory is created by the first Put.
type DiskCache struct {
	dir string
}

func NewDiskCache(dir string) DiskCache {
	if dir == "" {
		dir = DefaultDir
	}
	return DiskCache{dir: dir}
}

func (d DiskCache) Dir() string {
	return d.dir
}

func (d DiskCache) path(key string) string {
	return filepath.Join(d.dir, key)
}

func (d DiskCache) Get(key string) ([]byte, bool, error) {
	bytes, err := os.ReadFile(d.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

// Put writes to a temporary file in the cache directory and renames it over
// the entry, so readers never see a partial file.
func (d DiskCache) Put(key string, storedAt time.Time, bytes []byte) (err error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(d.dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(bytes); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chtimes(tmp.Name(), storedAt, storedAt); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), d.path(key))
}

func (d DiskCache) Has(key string) bool {
	info, err := os.Stat(d.path(key))
	return err == nil && info.Mode().IsRegular()
}

func (d DiskCache) Purge(key string) error {
	err := os.Remove(d.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// AllKeys lists the entries in the cache directory in name order.
// Temporary files of in-progress writes are skipped.
func (d DiskCache) AllKeys(prefix string, cb func(string)) error {
	entries, err := os.ReadDir(d.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") || !strings.HasPrefix(name, prefix) {
			continue
		}
		cb(name)
	}
	return nil
}
