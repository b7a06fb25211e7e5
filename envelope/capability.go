package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// Suite names an AEAD construction used for payload encryption.
type Suite string

const (
	// SuiteAESGCM is AES-256-GCM, the default suite.
	SuiteAESGCM Suite = "aes256-gcm"

	// SuiteXChaCha is XChaCha20-Poly1305, for deployments that prefer an
	// extended nonce and no dependency on AES hardware support.
	SuiteXChaCha Suite = "xchacha20-poly1305"

	// Symmetric key size in bytes, shared by both suites.
	keySize = 32

	// GCM nonce size in bytes (96 bits is recommended).
	gcmNonceSize = 12
)

type softwareCapability struct {
	suite Suite
}

// NewCapability returns the software capability for the given suite. An empty
// suite selects AES-256-GCM.
func NewCapability(suite Suite) (Capability, error) {
	switch suite {
	case "":
		suite = SuiteAESGCM
	case SuiteAESGCM, SuiteXChaCha:
	default:
		return nil, fmt.Errorf("unsupported cipher suite: %q", suite)
	}
	return &softwareCapability{suite: suite}, nil
}

func (c *softwareCapability) ParsePublicKey(encoded string) (PublicKey, error) {
	return parsePublicKey(encoded)
}

func (c *softwareCapability) ParsePrivateKey(encoded string) (PrivateKey, error) {
	return parsePrivateKey(encoded)
}

func (c *softwareCapability) GenerateContext() (*Context, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}

	iv := make([]byte, c.ivSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	return &Context{Key: key, IV: iv}, nil
}

func (c *softwareCapability) Encrypt(ec *Context, plaintext []byte) (*Sealed, error) {
	if ec == nil {
		return nil, fmt.Errorf("encryption context cannot be nil")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("plaintext cannot be empty")
	}

	aead, err := c.aead(ec)
	if err != nil {
		return nil, err
	}

	sealed := aead.Seal(nil, ec.IV, plaintext, nil)

	// The AEAD appends its tag to the ciphertext; the store carries the
	// two as separate fields.
	split := len(sealed) - aead.Overhead()
	return &Sealed{Content: sealed[:split], AuthTag: sealed[split:]}, nil
}

func (c *softwareCapability) Decrypt(ec *Context, sealed *Sealed) ([]byte, error) {
	if ec == nil {
		return nil, fmt.Errorf("encryption context cannot be nil")
	}
	if sealed == nil || len(sealed.Content) == 0 {
		return nil, fmt.Errorf("sealed payload cannot be empty")
	}

	aead, err := c.aead(ec)
	if err != nil {
		return nil, err
	}

	if len(sealed.AuthTag) != aead.Overhead() {
		return nil, fmt.Errorf("invalid auth tag size: expected %d bytes, got %d", aead.Overhead(), len(sealed.AuthTag))
	}

	combined := make([]byte, 0, len(sealed.Content)+len(sealed.AuthTag))
	combined = append(combined, sealed.Content...)
	combined = append(combined, sealed.AuthTag...)

	plaintext, err := aead.Open(nil, ec.IV, combined, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed (data may be corrupted or tampered): %w", err)
	}

	return plaintext, nil
}

func (c *softwareCapability) ivSize() int {
	if c.suite == SuiteXChaCha {
		return chacha20poly1305.NonceSizeX
	}
	return gcmNonceSize
}

func (c *softwareCapability) aead(ec *Context) (cipher.AEAD, error) {
	if len(ec.Key) != keySize {
		return nil, fmt.Errorf("invalid key size: expected %d bytes, got %d", keySize, len(ec.Key))
	}

	var aead cipher.AEAD
	if c.suite == SuiteXChaCha {
		var err error
		aead, err = chacha20poly1305.NewX(ec.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to create XChaCha20-Poly1305: %w", err)
		}
	} else {
		block, err := aes.NewCipher(ec.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to create AES cipher: %w", err)
		}
		aead, err = cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCM: %w", err)
		}
	}

	if len(ec.IV) != aead.NonceSize() {
		return nil, fmt.Errorf("invalid IV size: expected %d bytes, got %d", aead.NonceSize(), len(ec.IV))
	}

	return aead, nil
}
