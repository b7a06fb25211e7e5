package envelope_test

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/keyfold/keyfold-go/envelope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyBits = 2048

func TestNewCapability(t *testing.T) {
	t.Run("empty suite defaults to AES-GCM", func(t *testing.T) {
		capability, err := envelope.NewCapability("")
		require.NoError(t, err)

		ec, err := capability.GenerateContext()
		require.NoError(t, err)
		assert.Len(t, ec.Key, 32)
		assert.Len(t, ec.IV, 12)
	})

	t.Run("xchacha uses an extended nonce", func(t *testing.T) {
		capability, err := envelope.NewCapability(envelope.SuiteXChaCha)
		require.NoError(t, err)

		ec, err := capability.GenerateContext()
		require.NoError(t, err)
		assert.Len(t, ec.Key, 32)
		assert.Len(t, ec.IV, 24)
	})

	t.Run("unknown suite is rejected", func(t *testing.T) {
		_, err := envelope.NewCapability("rot13")
		assert.Error(t, err)
	})
}

func TestEncryptDecrypt(t *testing.T) {
	suites := []envelope.Suite{envelope.SuiteAESGCM, envelope.SuiteXChaCha}

	for _, suite := range suites {
		t.Run(string(suite), func(t *testing.T) {
			capability, err := envelope.NewCapability(suite)
			require.NoError(t, err)

			ec, err := capability.GenerateContext()
			require.NoError(t, err)

			plaintext := []byte(`{"title":"quarterly report","body":"draft"}`)
			sealed, err := capability.Encrypt(ec, plaintext)
			require.NoError(t, err)
			assert.NotEqual(t, plaintext, sealed.Content)
			assert.Len(t, sealed.AuthTag, 16)

			decrypted, err := capability.Decrypt(ec, sealed)
			require.NoError(t, err)
			assert.Equal(t, plaintext, decrypted)

			// Flipping a ciphertext bit must fail authentication.
			tampered := &envelope.Sealed{
				Content: append([]byte{sealed.Content[0] ^ 0xff}, sealed.Content[1:]...),
				AuthTag: sealed.AuthTag,
			}
			_, err = capability.Decrypt(ec, tampered)
			assert.Error(t, err)

			// Same for the tag.
			tampered = &envelope.Sealed{
				Content: sealed.Content,
				AuthTag: append([]byte{sealed.AuthTag[0] ^ 0xff}, sealed.AuthTag[1:]...),
			}
			_, err = capability.Decrypt(ec, tampered)
			assert.Error(t, err)

			// Decryption under a different context must fail.
			other, err := capability.GenerateContext()
			require.NoError(t, err)
			_, err = capability.Decrypt(other, sealed)
			assert.Error(t, err)
		})
	}

	t.Run("empty plaintext is rejected", func(t *testing.T) {
		capability, err := envelope.NewCapability(envelope.SuiteAESGCM)
		require.NoError(t, err)

		ec, err := capability.GenerateContext()
		require.NoError(t, err)

		_, err = capability.Encrypt(ec, nil)
		assert.Error(t, err)
	})

	t.Run("context sizes are validated", func(t *testing.T) {
		capability, err := envelope.NewCapability(envelope.SuiteAESGCM)
		require.NoError(t, err)

		_, err = capability.Encrypt(&envelope.Context{Key: []byte("short"), IV: make([]byte, 12)}, []byte("x"))
		assert.ErrorContains(t, err, "invalid key size")

		_, err = capability.Encrypt(&envelope.Context{Key: make([]byte, 32), IV: make([]byte, 7)}, []byte("x"))
		assert.ErrorContains(t, err, "invalid IV size")
	})
}

func TestWrapUnwrap(t *testing.T) {
	capability, err := envelope.NewCapability(envelope.SuiteAESGCM)
	require.NoError(t, err)

	privatePEM, err := envelope.GenerateKeyPair(testKeyBits)
	require.NoError(t, err)

	private, err := capability.ParsePrivateKey(privatePEM)
	require.NoError(t, err)

	t.Run("round trip through the public half", func(t *testing.T) {
		// A remote party only ever holds the public encoding.
		public, err := capability.ParsePublicKey(private.Encoded())
		require.NoError(t, err)

		material := []byte("0123456789abcdef0123456789abcdef")
		wrapped, err := public.Wrap(material)
		require.NoError(t, err)

		unwrapped, err := private.Unwrap(wrapped)
		require.NoError(t, err)
		assert.Equal(t, material, unwrapped)
	})

	t.Run("wrap output differs per call", func(t *testing.T) {
		material := make([]byte, 32)
		first, err := private.Wrap(material)
		require.NoError(t, err)
		second, err := private.Wrap(material)
		require.NoError(t, err)
		assert.NotEqual(t, first, second)
	})

	t.Run("empty material is rejected", func(t *testing.T) {
		_, err := private.Wrap(nil)
		assert.Error(t, err)
	})

	t.Run("oversized material is rejected", func(t *testing.T) {
		// 2048-bit RSA with OAEP-SHA256 caps material at 190 bytes.
		_, err := private.Wrap(make([]byte, 191))
		assert.ErrorContains(t, err, "too large")
	})

	t.Run("garbage input fails to unwrap", func(t *testing.T) {
		_, err := private.Unwrap("")
		assert.Error(t, err)

		_, err = private.Unwrap("not base64!!!")
		assert.Error(t, err)

		_, err = private.Unwrap("aGVsbG8=")
		assert.Error(t, err)
	})

	t.Run("unwrapping under the wrong key fails", func(t *testing.T) {
		otherPEM, err := envelope.GenerateKeyPair(testKeyBits)
		require.NoError(t, err)
		other, err := capability.ParsePrivateKey(otherPEM)
		require.NoError(t, err)

		wrapped, err := private.Wrap([]byte("material"))
		require.NoError(t, err)

		_, err = other.Unwrap(wrapped)
		assert.Error(t, err)
	})
}

func TestParseKeys(t *testing.T) {
	capability, err := envelope.NewCapability(envelope.SuiteAESGCM)
	require.NoError(t, err)

	t.Run("rejects non-PEM input", func(t *testing.T) {
		_, err := capability.ParsePublicKey("not a key")
		assert.Error(t, err)

		_, err = capability.ParsePrivateKey("not a key")
		assert.Error(t, err)
	})

	t.Run("rejects the wrong PEM type", func(t *testing.T) {
		privatePEM, err := envelope.GenerateKeyPair(testKeyBits)
		require.NoError(t, err)

		// A private PEM is not a public key encoding.
		_, err = capability.ParsePublicKey(privatePEM)
		assert.Error(t, err)
	})

	t.Run("private key exposes its public encoding", func(t *testing.T) {
		privatePEM, err := envelope.GenerateKeyPair(testKeyBits)
		require.NoError(t, err)

		private, err := capability.ParsePrivateKey(privatePEM)
		require.NoError(t, err)
		assert.NotEqual(t, privatePEM, private.Encoded())

		public, err := capability.ParsePublicKey(private.Encoded())
		require.NoError(t, err)
		assert.Equal(t, private.Encoded(), public.Encoded())
	})
}

func TestSignAssertion(t *testing.T) {
	capability, err := envelope.NewCapability(envelope.SuiteAESGCM)
	require.NoError(t, err)

	privatePEM, err := envelope.GenerateKeyPair(testKeyBits)
	require.NoError(t, err)

	private, err := capability.ParsePrivateKey(privatePEM)
	require.NoError(t, err)

	verifyKey := func(t *testing.T) *rsa.PublicKey {
		t.Helper()
		block, _ := pem.Decode([]byte(private.Encoded()))
		require.NotNil(t, block)
		key, err := x509.ParsePKCS1PublicKey(block.Bytes)
		require.NoError(t, err)
		return key
	}

	t.Run("signed claims verify against the public key", func(t *testing.T) {
		signed, err := private.SignAssertion(map[string]any{"sub": "alpha", "objectId": "obj-1"}, time.Minute)
		require.NoError(t, err)

		token, err := jwt.Parse(signed, func(*jwt.Token) (any, error) {
			return verifyKey(t), nil
		}, jwt.WithValidMethods([]string{"RS256"}))
		require.NoError(t, err)
		require.True(t, token.Valid)

		claims, ok := token.Claims.(jwt.MapClaims)
		require.True(t, ok)
		assert.Equal(t, "alpha", claims["sub"])
		assert.Equal(t, "obj-1", claims["objectId"])

		expiry, err := claims.GetExpirationTime()
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(time.Minute), expiry.Time, 5*time.Second)
	})

	t.Run("caller cannot extend the validity window", func(t *testing.T) {
		signed, err := private.SignAssertion(map[string]any{"exp": time.Now().Add(time.Hour).Unix()}, time.Minute)
		require.NoError(t, err)

		token, err := jwt.Parse(signed, func(*jwt.Token) (any, error) {
			return verifyKey(t), nil
		}, jwt.WithValidMethods([]string{"RS256"}))
		require.NoError(t, err)

		claims := token.Claims.(jwt.MapClaims)
		expiry, err := claims.GetExpirationTime()
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(time.Minute), expiry.Time, 5*time.Second)
	})

	t.Run("non-positive ttl is rejected", func(t *testing.T) {
		_, err := private.SignAssertion(nil, 0)
		assert.Error(t, err)
	})
}
