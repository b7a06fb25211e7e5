// Package api defines the wire types exchanged with a Keyfold object store.
// The client package transports them; the vault package gives them meaning.
package api

import (
	"encoding/json"
	"time"
)

// Server describes one trust party in the account's roster. The store only
// ever shares public key material; whether the caller can decrypt on behalf
// of a server depends on which private keys it holds locally.
type Server struct {
	Name      string    `json:"name"`
	PublicKey string    `json:"publicKey"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// Store maps a named object store to its root object and default key.
type Store struct {
	Name         string `json:"name"`
	RootObjectID string `json:"rootObjectId"`
	DefaultKeyID string `json:"defaultKeyId,omitempty"`
}

// Account is the caller's view of its own tenancy: the party it is expected
// to control plus the roster of named stores.
type Account struct {
	Server *Server  `json:"server"`
	Stores []*Store `json:"stores,omitempty"`
}

// Key is a symmetric key record. The key and IV are never transported in the
// clear: both are wrapped under the named server's public key and base64
// encoded. The remote store is authoritative for this record; caches hold
// derived, possibly stale copies.
type Key struct {
	ID         string          `json:"id"`
	ServerName string          `json:"serverName"`
	WrappedKey string          `json:"wrappedKey"`
	WrappedIV  string          `json:"wrappedIv"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"createdAt,omitzero"`
	UpdatedAt  time.Time       `json:"updatedAt,omitzero"`
}

// Object is an encrypted payload. Content carries the AEAD ciphertext body
// and AuthTag its authentication tag, both base64 encoded. KeyID references
// the Key whose unwrapped material decrypts the content. RelatedObjectID
// links the object beneath a parent (a store root or another object).
type Object struct {
	ID              string          `json:"id"`
	KeyID           string          `json:"keyId"`
	RelatedObjectID string          `json:"relatedObjectId,omitempty"`
	Content         string          `json:"content"`
	AuthTag         string          `json:"authTag"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	CreatedAt       time.Time       `json:"createdAt,omitzero"`
	UpdatedAt       time.Time       `json:"updatedAt,omitzero"`
}

// JobStatus is the lifecycle state of a publish job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCanceled  JobStatus = "canceled"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the job has reached a final state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusCanceled, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Job is a unit of downstream work keyed by (type, relatedObjectId). ObjectID
// names the published object the job should act on.
type Job struct {
	Type            string    `json:"type"`
	ObjectID        string    `json:"objectId"`
	RelatedObjectID string    `json:"relatedObjectId"`
	Status          JobStatus `json:"status"`
	CreatedAt       time.Time `json:"createdAt,omitzero"`
	UpdatedAt       time.Time `json:"updatedAt,omitzero"`
}

// CreateKeyRequest submits a freshly wrapped key to the store.
type CreateKeyRequest struct {
	ServerName string          `json:"serverName"`
	WrappedKey string          `json:"wrappedKey"`
	WrappedIV  string          `json:"wrappedIv"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// UpdateKeyRequest mutates a key record in place. Nil fields are left
// untouched by the store; wrapped material is always replaced as a unit
// together with the server name.
type UpdateKeyRequest struct {
	ServerName *string          `json:"serverName,omitempty"`
	WrappedKey *string          `json:"wrappedKey,omitempty"`
	WrappedIV  *string          `json:"wrappedIv,omitempty"`
	Metadata   *json.RawMessage `json:"metadata,omitempty"`
}

// CreateObjectRequest submits a new encrypted object.
type CreateObjectRequest struct {
	KeyID           string          `json:"keyId"`
	RelatedObjectID string          `json:"relatedObjectId,omitempty"`
	Content         string          `json:"content"`
	AuthTag         string          `json:"authTag"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
}

// UpdateObjectRequest mutates an object in place; its id is stable across
// patches. Nil fields are left untouched by the store.
type UpdateObjectRequest struct {
	KeyID           *string          `json:"keyId,omitempty"`
	RelatedObjectID *string          `json:"relatedObjectId,omitempty"`
	Content         *string          `json:"content,omitempty"`
	AuthTag         *string          `json:"authTag,omitempty"`
	Metadata        *json.RawMessage `json:"metadata,omitempty"`
}

// SubmitJobRequest enqueues a publish job for the given object.
type SubmitJobRequest struct {
	Type            string `json:"type"`
	ObjectID        string `json:"objectId"`
	RelatedObjectID string `json:"relatedObjectId"`
}
