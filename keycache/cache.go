// Package keycache persists encryption contexts between sessions so objects
// can be decrypted without contacting the remote store. Every entry has two
// independent slots: the decrypted slot holds raw key material and is only
// written when the caller opts in, the encrypted slot holds the wrapped form
// and is safe to persist anywhere.
//
// Three backends implement the Cache contract: in-memory (NewMemoryCache),
// filesystem (NewFilesystemCache, one JSON file per entry) and etcd
// (NewEtcdCache, one JSON value per entry under a prefix). All backends share
// the same policy: slots expire independently after the configured TTL,
// capacity overflow evicts the oldest entries, and entries that fail to
// decode are dropped and reported as a miss.
package keycache

import (
	"context"
	"time"

	"github.com/keyfold/keyfold-go/envelope"
)

// DecryptedRecord is raw key material read from an entry's decrypted slot,
// together with the wrapped form it was derived from, so a full encryption
// context can be reconstructed without any further lookup.
type DecryptedRecord struct {
	Key    []byte
	IV     []byte
	Header envelope.Header
}

// EncryptedRecord is the wrapped key material read from an entry's encrypted
// slot, as produced by envelope.PublicKey.Wrap.
type EncryptedRecord struct {
	Key string
	IV  string
}

// Cache is the contract the vault layer persists encryption contexts
// through. Lookups return a nil record and nil error on a miss; callers never
// distinguish "absent" from "expired" or "corrupt".
type Cache interface {
	// GetDecryptedKey returns the raw material cached for the key id, or
	// nil on a miss.
	GetDecryptedKey(ctx context.Context, id string) (*DecryptedRecord, error)

	// GetEncryptedKey returns the wrapped material cached for the key id,
	// or nil on a miss.
	GetEncryptedKey(ctx context.Context, id string) (*EncryptedRecord, error)

	// PersistDecryptedKey writes the raw material to the decrypted slot
	// and the header's wrapped form to the encrypted slot, both with a
	// fresh expiry.
	PersistDecryptedKey(ctx context.Context, id string, key, iv []byte, header envelope.Header) error

	// PersistEncryptedKey writes the wrapped material to the encrypted
	// slot, leaving any decrypted slot untouched.
	PersistEncryptedKey(ctx context.Context, id string, wrappedKey, wrappedIV string) error
}

// Config carries the policy shared by all backends.
type Config struct {
	// TTL is how long a written slot stays valid. Zero means slots never
	// expire.
	TTL time.Duration

	// MaxEntries bounds the number of cached entries. After a write pushes
	// the backend past the bound, the oldest entries are evicted until it
	// is met again. Zero means unbounded.
	MaxEntries int

	// Now overrides the wall clock, for tests. Nil means time.Now.
	Now func() time.Time
}

func (c Config) clock() func() time.Time {
	if c.Now != nil {
		return c.Now
	}
	return time.Now
}

// expiry computes the absolute expiry for a slot written now, in epoch
// milliseconds. Zero means the slot never expires.
func (c Config) expiry(now time.Time) int64 {
	if c.TTL <= 0 {
		return 0
	}
	return now.Add(c.TTL).UnixMilli()
}
