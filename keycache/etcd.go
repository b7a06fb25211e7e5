package keycache

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/keyfold/keyfold-go/envelope"
)

// DefaultEtcdPrefix is where entries live when no prefix is configured.
const DefaultEtcdPrefix = "/keyfold/key-cache"

// EtcdCache stores one JSON value per entry under a key prefix. Expiry lives
// inside the stored document rather than in etcd leases because the two slots
// of an entry expire independently; eviction ranks entries by the updatedAt
// the document carries.
//
// Operations are unsynchronized read-modify-write: concurrent writers to the
// same id race benignly, last writer wins.
type EtcdCache struct {
	client *clientv3.Client
	prefix string
	config Config
	now    func() time.Time
}

var _ Cache = (*EtcdCache)(nil)

func NewEtcdCache(client *clientv3.Client, prefix string, config Config) *EtcdCache {
	if prefix == "" {
		prefix = DefaultEtcdPrefix
	}
	return &EtcdCache{
		client: client,
		prefix: strings.TrimSuffix(prefix, "/"),
		config: config,
		now:    config.clock(),
	}
}

func (c *EtcdCache) GetDecryptedKey(ctx context.Context, id string) (*DecryptedRecord, error) {
	doc, err := c.lookup(ctx, id)
	if err != nil || doc == nil {
		return nil, err
	}
	return doc.decryptedRecord(), nil
}

func (c *EtcdCache) GetEncryptedKey(ctx context.Context, id string) (*EncryptedRecord, error) {
	doc, err := c.lookup(ctx, id)
	if err != nil || doc == nil {
		return nil, err
	}
	return doc.encryptedRecord(), nil
}

func (c *EtcdCache) PersistDecryptedKey(ctx context.Context, id string, key, iv []byte, header envelope.Header) error {
	return c.persist(ctx, id, func(doc *document, expiresAt int64) {
		doc.setDecrypted(key, iv, header, expiresAt)
	})
}

func (c *EtcdCache) PersistEncryptedKey(ctx context.Context, id string, wrappedKey, wrappedIV string) error {
	return c.persist(ctx, id, func(doc *document, expiresAt int64) {
		doc.setEncrypted(wrappedKey, wrappedIV, expiresAt)
	})
}

func (c *EtcdCache) key(id string) string {
	return c.prefix + "/" + url.PathEscape(id)
}

func (c *EtcdCache) lookup(ctx context.Context, id string) (*document, error) {
	if id == "" {
		return nil, fmt.Errorf("key id cannot be empty")
	}

	key := c.key(id)
	resp, err := c.client.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry %q: %w", id, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}

	doc, err := decodeDocument(resp.Kvs[0].Value)
	if err != nil {
		// Undecodable entries are dropped, not surfaced.
		_, _ = c.client.Delete(ctx, key)
		return nil, nil
	}

	if doc.prune(c.now()) {
		// Clearing expired slots is opportunistic; a failed write
		// leaves the entry for the next read.
		if doc.empty() {
			_, _ = c.client.Delete(ctx, key)
		} else {
			_ = c.put(ctx, key, doc)
		}
	}

	return doc, nil
}

func (c *EtcdCache) persist(ctx context.Context, id string, update func(*document, int64)) error {
	if id == "" {
		return fmt.Errorf("key id cannot be empty")
	}

	now := c.now()
	key := c.key(id)

	doc := &document{}
	resp, err := c.client.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to get cache entry %q: %w", id, err)
	}
	if len(resp.Kvs) > 0 {
		if existing, err := decodeDocument(resp.Kvs[0].Value); err == nil {
			doc = existing
			doc.prune(now)
		}
	}

	update(doc, c.config.expiry(now))
	doc.UpdatedAt = now.UnixMilli()

	if err := c.put(ctx, key, doc); err != nil {
		return err
	}

	return c.evict(ctx)
}

func (c *EtcdCache) put(ctx context.Context, key string, doc *document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if _, err := c.client.Put(ctx, key, string(data)); err != nil {
		return fmt.Errorf("failed to put cache entry %q: %w", key, err)
	}
	return nil
}

// evict removes the entries with the oldest updatedAt until the bound is met.
func (c *EtcdCache) evict(ctx context.Context) error {
	if c.config.MaxEntries <= 0 {
		return nil
	}

	resp, err := c.client.Get(ctx, c.prefix+"/", clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("failed to list cache entries: %w", err)
	}
	if len(resp.Kvs) <= c.config.MaxEntries {
		return nil
	}

	type ranked struct {
		key       string
		updatedAt int64
	}
	entries := make([]ranked, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		entry := ranked{key: string(kv.Key)}
		if doc, err := decodeDocument(kv.Value); err == nil {
			entry.updatedAt = doc.UpdatedAt
		}
		// Undecodable entries keep a zero updatedAt and evict first.
		entries = append(entries, entry)
	}

	slices.SortFunc(entries, func(a, b ranked) int {
		return cmp.Compare(a.updatedAt, b.updatedAt)
	})

	for _, doomed := range entries[:len(entries)-c.config.MaxEntries] {
		if _, err := c.client.Delete(ctx, doomed.key); err != nil {
			return fmt.Errorf("failed to evict cache entry %q: %w", doomed.key, err)
		}
	}

	return nil
}
