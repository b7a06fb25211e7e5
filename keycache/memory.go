package keycache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/keyfold/keyfold-go/envelope"
)

// MemoryCache keeps entries in process memory. Eviction is by insertion
// order: overwriting an entry does not refresh its position, so the oldest
// inserted entry goes first regardless of how recently it was read or
// rewritten.
type MemoryCache struct {
	mu      sync.Mutex
	config  Config
	now     func() time.Time
	entries map[string]*document
	order   []string
}

var _ Cache = (*MemoryCache)(nil)

func NewMemoryCache(config Config) *MemoryCache {
	return &MemoryCache{
		config:  config,
		now:     config.clock(),
		entries: make(map[string]*document),
	}
}

func (c *MemoryCache) GetDecryptedKey(ctx context.Context, id string) (*DecryptedRecord, error) {
	doc, err := c.lookup(id)
	if err != nil || doc == nil {
		return nil, err
	}
	return doc.decryptedRecord(), nil
}

func (c *MemoryCache) GetEncryptedKey(ctx context.Context, id string) (*EncryptedRecord, error) {
	doc, err := c.lookup(id)
	if err != nil || doc == nil {
		return nil, err
	}
	return doc.encryptedRecord(), nil
}

func (c *MemoryCache) PersistDecryptedKey(ctx context.Context, id string, key, iv []byte, header envelope.Header) error {
	return c.persist(id, func(doc *document, expiresAt int64) {
		doc.setDecrypted(key, iv, header, expiresAt)
	})
}

func (c *MemoryCache) PersistEncryptedKey(ctx context.Context, id string, wrappedKey, wrappedIV string) error {
	return c.persist(id, func(doc *document, expiresAt int64) {
		doc.setEncrypted(wrappedKey, wrappedIV, expiresAt)
	})
}

func (c *MemoryCache) lookup(id string) (*document, error) {
	if id == "" {
		return nil, fmt.Errorf("key id cannot be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	doc, ok := c.entries[id]
	if !ok {
		return nil, nil
	}

	if doc.prune(c.now()) && doc.empty() {
		c.remove(id)
		return nil, nil
	}

	return doc, nil
}

func (c *MemoryCache) persist(id string, update func(*document, int64)) error {
	if id == "" {
		return fmt.Errorf("key id cannot be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	doc, ok := c.entries[id]
	if !ok {
		doc = &document{}
	}
	doc.prune(now)
	update(doc, c.config.expiry(now))

	if !ok {
		c.entries[id] = doc
		c.order = append(c.order, id)
		c.evict()
	}

	return nil
}

// evict drops the oldest inserted entries until the configured bound is met.
// Callers hold the mutex.
func (c *MemoryCache) evict() {
	if c.config.MaxEntries <= 0 {
		return
	}
	for len(c.order) > c.config.MaxEntries {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
}

func (c *MemoryCache) remove(id string) {
	delete(c.entries, id)
	for idx, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:idx], c.order[idx+1:]...)
			return
		}
	}
}
