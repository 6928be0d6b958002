package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Cache is a persistent blob store keyed by content hash. It lives
// across export runs: entries are only ever added, never evicted, so a
// media file fetched once is free on every later export.
type Cache struct {
	dir string
}

// OpenCache opens (creating if needed) a cache rooted at dir.
func OpenCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media cache dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

func (c *Cache) keyPath(key string) string {
	return filepath.Join(c.dir, key)
}

// Has reports whether the key is present.
func (c *Cache) Has(key string) bool {
	_, err := os.Stat(c.keyPath(key))
	return err == nil
}

// Get returns the cached blob for key, or (nil, nil) on a miss.
func (c *Cache) Get(key string) ([]byte, error) {
	data, err := os.ReadFile(c.keyPath(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached media %s: %w", key, err)
	}
	return data, nil
}

// Put stores a blob under key. The first writer for a key wins;
// writing an existing key is a no-op. The write goes through a
// temporary file and rename so a crash never leaves a partial entry.
func (c *Cache) Put(key string, data []byte) error {
	if c.Has(key) {
		return nil
	}
	tmp, err := os.CreateTemp(c.dir, key+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to stage cached media %s: %w", key, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write cached media %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close cached media %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), c.keyPath(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to commit cached media %s: %w", key, err)
	}
	return nil
}
