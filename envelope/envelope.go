// Package envelope supplies the cryptographic capability the vault layer is
// built over: asymmetric key parsing and wrapping, symmetric AEAD contexts,
// and signed time-bounded assertions. The vault package is polymorphic over
// the Capability interface; NewCapability returns the software implementation
// (RSA-OAEP wrapping with an AES-256-GCM or XChaCha20-Poly1305 suite).
package envelope

import "time"

// Header is the wrapped form of a symmetric context: the key and IV
// ciphertext encrypted under a trust party's public key, base64 encoded for
// transport and storage.
type Header struct {
	Key string `json:"key"`
	IV  string `json:"iv"`
}

// Context is a resolved symmetric encryption context. Key and IV hold the
// raw material; Header carries the wrapped form it was (or will be) stored
// as. A Context only ever exists in memory, or in a key cache's decrypted
// slot when the caller opts into persistence.
type Context struct {
	Header Header
	Key    []byte
	IV     []byte
}

// Sealed is the output of an AEAD encryption: the ciphertext body and its
// authentication tag, kept separate because the store transports them as
// distinct fields.
type Sealed struct {
	Content []byte
	AuthTag []byte
}

// PublicKey can encrypt material for its holder and round-trip its encoded
// form.
type PublicKey interface {
	// Wrap encrypts the given material under this key and returns it
	// base64 encoded.
	Wrap(material []byte) (string, error)
	// Encoded returns the PEM form the key was parsed from or generated as.
	Encoded() string
}

// PrivateKey extends PublicKey with the operations only a key holder can
// perform: unwrapping previously wrapped material and signing assertions.
type PrivateKey interface {
	PublicKey
	// Unwrap decrypts base64-encoded wrapped material.
	Unwrap(encoded string) ([]byte, error)
	// SignAssertion produces a signed JWT carrying the given claims,
	// valid from now for the given ttl.
	SignAssertion(claims map[string]any, ttl time.Duration) (string, error)
}

// Capability bundles the primitives the vault layer depends on. Conforming
// implementations are interchangeable: hardware backed, remote, or the
// software implementation in this package.
type Capability interface {
	ParsePublicKey(encoded string) (PublicKey, error)
	ParsePrivateKey(encoded string) (PrivateKey, error)
	// GenerateContext returns a fresh random symmetric context. The
	// returned context carries no header; wrapping it for a party fills
	// that in.
	GenerateContext() (*Context, error)
	// Encrypt seals plaintext under the context's key and IV.
	Encrypt(ec *Context, plaintext []byte) (*Sealed, error)
	// Decrypt opens a sealed payload, authenticating it in the process.
	Decrypt(ec *Context, sealed *Sealed) ([]byte, error)
}
