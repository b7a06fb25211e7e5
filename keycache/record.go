package keycache

import (
	"encoding/json"
	"time"

	"github.com/keyfold/keyfold-go/envelope"
)

// document is the persisted form of one cache entry. Both persistent backends
// store it as JSON; the memory backend holds it directly. UpdatedAt is only
// maintained by the etcd backend, which has no file ModTime to rank evictions
// by.
type document struct {
	Decrypted *decryptedSlot `json:"decrypted,omitempty"`
	Encrypted *encryptedSlot `json:"encrypted,omitempty"`
	UpdatedAt int64          `json:"updatedAt,omitempty"`
}

type decryptedSlot struct {
	Key       []byte          `json:"key"`
	IV        []byte          `json:"iv"`
	Header    envelope.Header `json:"header"`
	ExpiresAt int64           `json:"expiresAt,omitempty"`
}

type encryptedSlot struct {
	Key       string `json:"key"`
	IV        string `json:"iv"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
}

func decodeDocument(data []byte) (*document, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// prune drops expired slots in place and reports whether anything changed.
// A zero ExpiresAt never expires.
func (d *document) prune(now time.Time) bool {
	nowMillis := now.UnixMilli()
	changed := false
	if d.Decrypted != nil && d.Decrypted.ExpiresAt != 0 && d.Decrypted.ExpiresAt <= nowMillis {
		d.Decrypted = nil
		changed = true
	}
	if d.Encrypted != nil && d.Encrypted.ExpiresAt != 0 && d.Encrypted.ExpiresAt <= nowMillis {
		d.Encrypted = nil
		changed = true
	}
	return changed
}

func (d *document) empty() bool {
	return d.Decrypted == nil && d.Encrypted == nil
}

// setDecrypted fills both slots from raw material and its wrapped header,
// sharing one expiry. The decrypted slot keeps its own copy of the header so
// a later overwrite of the encrypted slot cannot pair it with a foreign wrap.
func (d *document) setDecrypted(key, iv []byte, header envelope.Header, expiresAt int64) {
	d.Decrypted = &decryptedSlot{
		Key:       append([]byte(nil), key...),
		IV:        append([]byte(nil), iv...),
		Header:    header,
		ExpiresAt: expiresAt,
	}
	d.Encrypted = &encryptedSlot{
		Key:       header.Key,
		IV:        header.IV,
		ExpiresAt: expiresAt,
	}
}

func (d *document) setEncrypted(wrappedKey, wrappedIV string, expiresAt int64) {
	d.Encrypted = &encryptedSlot{
		Key:       wrappedKey,
		IV:        wrappedIV,
		ExpiresAt: expiresAt,
	}
}

// decryptedRecord copies the decrypted slot out, or returns nil if the slot
// is unset.
func (d *document) decryptedRecord() *DecryptedRecord {
	if d.Decrypted == nil {
		return nil
	}
	return &DecryptedRecord{
		Key:    append([]byte(nil), d.Decrypted.Key...),
		IV:     append([]byte(nil), d.Decrypted.IV...),
		Header: d.Decrypted.Header,
	}
}

func (d *document) encryptedRecord() *EncryptedRecord {
	if d.Encrypted == nil {
		return nil
	}
	return &EncryptedRecord{
		Key: d.Encrypted.Key,
		IV:  d.Encrypted.IV,
	}
}
