package envelope

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultKeyBits is the RSA modulus size GenerateKeyPair uses when the
	// caller passes zero.
	DefaultKeyBits = 4096

	publicKeyPEMType  = "RSA PUBLIC KEY"
	privateKeyPEMType = "RSA PRIVATE KEY"
)

type rsaPublicKey struct {
	key     *rsa.PublicKey
	encoded string
}

type rsaPrivateKey struct {
	rsaPublicKey
	key *rsa.PrivateKey
}

func parsePublicKey(encoded string) (*rsaPublicKey, error) {
	block, _ := pem.Decode([]byte(encoded))
	if block == nil || block.Type != publicKeyPEMType {
		return nil, fmt.Errorf("failed to decode public key PEM")
	}

	key, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	return &rsaPublicKey{key: key, encoded: encoded}, nil
}

func parsePrivateKey(encoded string) (*rsaPrivateKey, error) {
	block, _ := pem.Decode([]byte(encoded))
	if block == nil || block.Type != privateKeyPEMType {
		return nil, fmt.Errorf("failed to decode private key PEM")
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return &rsaPrivateKey{
		rsaPublicKey: rsaPublicKey{
			key:     &key.PublicKey,
			encoded: encodePublicKey(&key.PublicKey),
		},
		key: key,
	}, nil
}

func encodePublicKey(key *rsa.PublicKey) string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  publicKeyPEMType,
		Bytes: x509.MarshalPKCS1PublicKey(key),
	}))
}

// GenerateKeyPair produces a fresh RSA private key in PEM form. Parse it with
// Capability.ParsePrivateKey; the matching public encoding is available from
// the parsed key's Encoded method. A bits value of zero selects
// DefaultKeyBits.
func GenerateKeyPair(bits int) (string, error) {
	if bits == 0 {
		bits = DefaultKeyBits
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return "", fmt.Errorf("failed to generate RSA keypair: %w", err)
	}

	encoded := pem.EncodeToMemory(&pem.Block{
		Type:  privateKeyPEMType,
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	return string(encoded), nil
}

// Encoded returns the public half of the key in PEM form, whichever half it
// was parsed from.
func (k *rsaPublicKey) Encoded() string {
	return k.encoded
}

func (k *rsaPublicKey) Wrap(material []byte) (string, error) {
	if len(material) == 0 {
		return "", fmt.Errorf("material cannot be empty")
	}

	if max := k.key.Size() - 2*sha256.Size - 2; len(material) > max {
		return "", fmt.Errorf("material too large to wrap: %d bytes (max %d)", len(material), max)
	}

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, k.key, material, nil)
	if err != nil {
		return "", fmt.Errorf("failed to wrap material: %w", err)
	}

	return base64.StdEncoding.EncodeToString(wrapped), nil
}

func (k *rsaPrivateKey) Unwrap(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, fmt.Errorf("wrapped material cannot be empty")
	}

	wrapped, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode wrapped material: %w", err)
	}

	material, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, k.key, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap material: %w", err)
	}

	return material, nil
}

// SignAssertion signs the given claims as an RS256 JWT. The iat and exp
// claims are set from the wall clock and ttl, overriding any caller-supplied
// values so the assertion's validity window cannot be extended.
func (k *rsaPrivateKey) SignAssertion(claims map[string]any, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("assertion ttl must be positive")
	}

	mapClaims := jwt.MapClaims{}
	for name, value := range claims {
		mapClaims[name] = value
	}

	now := time.Now()
	mapClaims["iat"] = now.Unix()
	mapClaims["exp"] = now.Add(ttl).Unix()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, mapClaims).SignedString(k.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign assertion: %w", err)
	}

	return signed, nil
}
