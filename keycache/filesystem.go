package keycache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/keyfold/keyfold-go/envelope"
)

const (
	cacheDirPerm  = 0700
	cacheFilePerm = 0600
	cacheFileExt  = ".json"
)

// FilesystemCache stores one JSON file per entry under a directory. The
// directory is created on first use; eviction ranks entries by file ModTime.
type FilesystemCache struct {
	fs     afero.Fs
	dir    string
	config Config
	now    func() time.Time

	// Serializes read-modify-write cycles within this process. Concurrent
	// processes sharing a directory race benignly; last writer wins.
	mu sync.Mutex

	ready    sync.Once
	readyErr error
}

var _ Cache = (*FilesystemCache)(nil)

func NewFilesystemCache(fs afero.Fs, dir string, config Config) *FilesystemCache {
	return &FilesystemCache{
		fs:     fs,
		dir:    dir,
		config: config,
		now:    config.clock(),
	}
}

func (c *FilesystemCache) GetDecryptedKey(ctx context.Context, id string) (*DecryptedRecord, error) {
	doc, err := c.lookup(id)
	if err != nil || doc == nil {
		return nil, err
	}
	return doc.decryptedRecord(), nil
}

func (c *FilesystemCache) GetEncryptedKey(ctx context.Context, id string) (*EncryptedRecord, error) {
	doc, err := c.lookup(id)
	if err != nil || doc == nil {
		return nil, err
	}
	return doc.encryptedRecord(), nil
}

func (c *FilesystemCache) PersistDecryptedKey(ctx context.Context, id string, key, iv []byte, header envelope.Header) error {
	return c.persist(id, func(doc *document, expiresAt int64) {
		doc.setDecrypted(key, iv, header, expiresAt)
	})
}

func (c *FilesystemCache) PersistEncryptedKey(ctx context.Context, id string, wrappedKey, wrappedIV string) error {
	return c.persist(id, func(doc *document, expiresAt int64) {
		doc.setEncrypted(wrappedKey, wrappedIV, expiresAt)
	})
}

// ensureDir creates the cache directory exactly once; every operation shares
// the first attempt's outcome.
func (c *FilesystemCache) ensureDir() error {
	c.ready.Do(func() {
		if err := c.fs.MkdirAll(c.dir, cacheDirPerm); err != nil {
			c.readyErr = fmt.Errorf("failed to create cache directory: %w", err)
		}
	})
	return c.readyErr
}

// path maps a key id to its file, escaping separators and other unsafe
// characters so ids cannot traverse outside the cache directory.
func (c *FilesystemCache) path(id string) string {
	return filepath.Join(c.dir, url.PathEscape(id)+cacheFileExt)
}

func (c *FilesystemCache) lookup(id string) (*document, error) {
	if id == "" {
		return nil, fmt.Errorf("key id cannot be empty")
	}
	if err := c.ensureDir(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.path(id)
	data, err := afero.ReadFile(c.fs, path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry %q: %w", id, err)
	}

	doc, err := decodeDocument(data)
	if err != nil {
		// Undecodable entries are dropped, not surfaced.
		_ = c.fs.Remove(path)
		return nil, nil
	}

	if doc.prune(c.now()) {
		// Clearing expired slots is opportunistic; a failed rewrite
		// leaves the entry for the next read.
		if doc.empty() {
			_ = c.fs.Remove(path)
		} else {
			_ = c.write(path, doc)
		}
	}

	return doc, nil
}

func (c *FilesystemCache) persist(id string, update func(*document, int64)) error {
	if id == "" {
		return fmt.Errorf("key id cannot be empty")
	}
	if err := c.ensureDir(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	path := c.path(id)

	doc := &document{}
	if data, err := afero.ReadFile(c.fs, path); err == nil {
		if existing, err := decodeDocument(data); err == nil {
			doc = existing
			doc.prune(now)
		}
	}

	update(doc, c.config.expiry(now))

	if err := c.write(path, doc); err != nil {
		return err
	}

	return c.evict()
}

func (c *FilesystemCache) write(path string, doc *document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := afero.WriteFile(c.fs, path, data, cacheFilePerm); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// evict removes the oldest files until the entry bound is met. Callers hold
// the mutex.
func (c *FilesystemCache) evict() error {
	if c.config.MaxEntries <= 0 {
		return nil
	}

	infos, err := afero.ReadDir(c.fs, c.dir)
	if err != nil {
		return fmt.Errorf("failed to list cache directory: %w", err)
	}

	entries := make([]os.FileInfo, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), cacheFileExt) {
			continue
		}
		entries = append(entries, info)
	}
	if len(entries) <= c.config.MaxEntries {
		return nil
	}

	slices.SortFunc(entries, func(a, b os.FileInfo) int {
		return a.ModTime().Compare(b.ModTime())
	})

	for _, doomed := range entries[:len(entries)-c.config.MaxEntries] {
		if err := c.fs.Remove(filepath.Join(c.dir, doomed.Name())); err != nil {
			return fmt.Errorf("failed to evict cache entry %q: %w", doomed.Name(), err)
		}
	}

	return nil
}
