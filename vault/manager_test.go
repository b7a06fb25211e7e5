package vault_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/keyfold/keyfold-go/api"
	"github.com/keyfold/keyfold-go/client"
	"github.com/keyfold/keyfold-go/envelope"
	"github.com/keyfold/keyfold-go/internal/utils"
	"github.com/keyfold/keyfold-go/keycache"
	"github.com/keyfold/keyfold-go/vault"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyBits = 2048

// fixture wires a manager to an in-memory store with two trust parties:
// alpha, whose private key the manager holds, and beta, which stays remote
// and doubles as the publish target.
type fixture struct {
	client     *fakeClient
	capability envelope.Capability
	cache      keycache.Cache
	manager    *vault.ObjectManager

	alphaPrivate string
	betaPrivate  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	capability := newCapability(t)
	alphaPrivate := generatePrivateKey(t)
	betaPrivate := generatePrivateKey(t)

	fake := newFakeClient()
	fake.servers = []*api.Server{
		{Name: "alpha", PublicKey: publicEncoding(t, capability, alphaPrivate)},
		{Name: "beta", PublicKey: publicEncoding(t, capability, betaPrivate)},
	}
	fake.account = &api.Account{
		Server: fake.servers[0],
		Stores: []*api.Store{{Name: "main", RootObjectID: "root-main"}},
	}

	cache := keycache.NewMemoryCache(keycache.Config{})

	return &fixture{
		client:       fake,
		capability:   capability,
		cache:        cache,
		manager:      newManager(t, fake, capability, cache, alphaPrivate),
		alphaPrivate: alphaPrivate,
		betaPrivate:  betaPrivate,
	}
}

// newManager builds and starts a manager against the shared fake store. A nil
// cache models a manager with no key cache at all.
func newManager(t *testing.T, fake *fakeClient, capability envelope.Capability, cache keycache.Cache, alphaPrivate string) *vault.ObjectManager {
	t.Helper()

	manager, err := vault.NewObjectManager(vault.ManagerConfig{
		Client:       fake,
		Capability:   capability,
		Cache:        cache,
		Logger:       testLogger(t),
		PrivateKeys:  map[string]string{"alpha": alphaPrivate},
		PublishParty: "beta",
	})
	require.NoError(t, err)
	require.NoError(t, manager.Start(context.Background()))
	return manager
}

func newCapability(t *testing.T) envelope.Capability {
	t.Helper()

	capability, err := envelope.NewCapability("")
	require.NoError(t, err)
	return capability
}

func testLogger(t *testing.T) zerolog.Logger {
	t.Helper()

	if testing.Verbose() {
		return zerolog.New(zerolog.NewTestWriter(t))
	}
	return zerolog.Nop()
}

func generatePrivateKey(t *testing.T) string {
	t.Helper()

	encoded, err := envelope.GenerateKeyPair(testKeyBits)
	require.NoError(t, err)
	return encoded
}

func publicEncoding(t *testing.T, capability envelope.Capability, privatePEM string) string {
	t.Helper()

	key, err := capability.ParsePrivateKey(privatePEM)
	require.NoError(t, err)
	return key.Encoded()
}

// unwrapContext recovers a key record's raw material with a bare private key,
// the way the owning party would outside this process.
func unwrapContext(t *testing.T, capability envelope.Capability, privatePEM string, record *api.Key) *envelope.Context {
	t.Helper()

	private, err := capability.ParsePrivateKey(privatePEM)
	require.NoError(t, err)

	rawKey, err := private.Unwrap(record.WrappedKey)
	require.NoError(t, err)
	rawIV, err := private.Unwrap(record.WrappedIV)
	require.NoError(t, err)

	return &envelope.Context{Key: rawKey, IV: rawIV}
}

func TestNewObjectManager(t *testing.T) {
	capability := newCapability(t)

	t.Run("requires client and capability", func(t *testing.T) {
		_, err := vault.NewObjectManager(vault.ManagerConfig{Capability: capability})
		assert.Error(t, err)

		_, err = vault.NewObjectManager(vault.ManagerConfig{Client: newFakeClient()})
		assert.Error(t, err)
	})

	t.Run("rejects unparseable private keys", func(t *testing.T) {
		_, err := vault.NewObjectManager(vault.ManagerConfig{
			Client:      newFakeClient(),
			Capability:  capability,
			PrivateKeys: map[string]string{"alpha": "not a pem"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "alpha")
	})

	t.Run("rejects a private key that does not match the roster", func(t *testing.T) {
		fake := newFakeClient()
		fake.servers = []*api.Server{
			{Name: "alpha", PublicKey: publicEncoding(t, capability, generatePrivateKey(t))},
		}

		manager, err := vault.NewObjectManager(vault.ManagerConfig{
			Client:      fake,
			Capability:  capability,
			PrivateKeys: map[string]string{"alpha": generatePrivateKey(t)},
		})
		require.NoError(t, err)

		err = manager.RefreshRemotes(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not match")
	})
}

func TestObjectManagerPreconditions(t *testing.T) {
	ctx := context.Background()

	manager, err := vault.NewObjectManager(vault.ManagerConfig{
		Client:     newFakeClient(),
		Capability: newCapability(t),
	})
	require.NoError(t, err)

	t.Run("party lookups before RefreshRemotes", func(t *testing.T) {
		_, err := manager.InsertKey(ctx, "alpha", vault.InsertKeyParams{})
		assert.ErrorIs(t, err, vault.ErrRemotesNotLoaded)

		_, err = manager.Party("alpha")
		assert.ErrorIs(t, err, vault.ErrRemotesNotLoaded)

		_, err = manager.ServerManager("alpha")
		assert.ErrorIs(t, err, vault.ErrRemotesNotLoaded)
	})

	t.Run("store lookups before RefreshRoot", func(t *testing.T) {
		_, err := manager.InsertObject(ctx, vault.InsertObjectParams{Payload: "x", Store: "main"})
		assert.ErrorIs(t, err, vault.ErrRootNotLoaded)
	})

	t.Run("empty patches are rejected up front", func(t *testing.T) {
		_, err := manager.PatchKey(ctx, "key-1", vault.PatchKeyParams{})
		assert.ErrorIs(t, err, vault.ErrNoFieldsToPatch)

		_, err = manager.PatchObject(ctx, "obj-1", vault.PatchObjectParams{})
		assert.ErrorIs(t, err, vault.ErrNoFieldsToPatch)
	})
}

func TestKeyLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("insert wraps for the named party", func(t *testing.T) {
		key, err := f.manager.InsertKey(ctx, "alpha", vault.InsertKeyParams{})
		require.NoError(t, err)

		assert.Equal(t, "alpha", key.ServerName)
		assert.NotEmpty(t, key.WrappedKey)
		assert.NotEmpty(t, key.WrappedIV)

		ec, err := f.manager.DecryptKey(ctx, key.ID)
		require.NoError(t, err)

		// The private key holder recovers the same material.
		recovered := unwrapContext(t, f.capability, f.alphaPrivate, f.client.keyRecord(key.ID))
		assert.Equal(t, recovered.Key, ec.Key)
		assert.Equal(t, recovered.IV, ec.IV)
	})

	t.Run("unknown party is rejected", func(t *testing.T) {
		_, err := f.manager.InsertKey(ctx, "gamma", vault.InsertKeyParams{})
		assert.ErrorIs(t, err, vault.ErrUnknownParty)
	})

	t.Run("cached context is shared across managers without remote contact", func(t *testing.T) {
		key, err := f.manager.InsertKey(ctx, "alpha", vault.InsertKeyParams{})
		require.NoError(t, err)

		other := newManager(t, f.client, f.capability, f.cache, f.alphaPrivate)

		before := f.client.callCount("GetKey")
		ec, err := other.DecryptKey(ctx, key.ID)
		require.NoError(t, err)
		assert.NotEmpty(t, ec.Key)
		assert.Equal(t, before, f.client.callCount("GetKey"))
	})

	t.Run("record memo avoids repeated fetches", func(t *testing.T) {
		key, err := f.manager.InsertKey(ctx, "alpha", vault.InsertKeyParams{})
		require.NoError(t, err)

		other := newManager(t, f.client, f.capability, nil, f.alphaPrivate)

		before := f.client.callCount("GetKey")
		_, err = other.GetKey(ctx, key.ID)
		require.NoError(t, err)
		_, err = other.GetKey(ctx, key.ID)
		require.NoError(t, err)
		assert.Equal(t, before+1, f.client.callCount("GetKey"))
	})

	t.Run("cached wrapped form takes precedence over the fetched one", func(t *testing.T) {
		key, err := f.manager.InsertKey(ctx, "alpha", vault.InsertKeyParams{})
		require.NoError(t, err)

		// Make the store's copy diverge from what the cache holds.
		f.client.mu.Lock()
		f.client.keys[key.ID].WrappedKey = "stale-remote-value"
		f.client.mu.Unlock()

		other := newManager(t, f.client, f.capability, f.cache, f.alphaPrivate)
		fetched, err := other.GetKey(ctx, key.ID)
		require.NoError(t, err)
		assert.Equal(t, key.WrappedKey, fetched.WrappedKey)
	})

	t.Run("keys of remote parties cannot be decrypted", func(t *testing.T) {
		key, err := f.manager.InsertKey(ctx, "beta", vault.InsertKeyParams{})
		require.NoError(t, err)

		// A manager with no cached context has to unwrap, which needs
		// beta's private key.
		other := newManager(t, f.client, f.capability, nil, f.alphaPrivate)
		_, err = other.DecryptKey(ctx, key.ID)
		assert.ErrorIs(t, err, vault.ErrNotCurrentParty)
	})

	t.Run("delete removes the record", func(t *testing.T) {
		key, err := f.manager.InsertKey(ctx, "alpha", vault.InsertKeyParams{})
		require.NoError(t, err)

		require.NoError(t, f.manager.DeleteKey(ctx, key.ID))

		_, err = f.manager.GetKey(ctx, key.ID)
		assert.ErrorIs(t, err, client.ErrNotFound)
	})
}

func TestKeyRotation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	key, err := f.manager.InsertKey(ctx, "alpha", vault.InsertKeyParams{})
	require.NoError(t, err)

	payload := map[string]string{"title": "q3 figures"}
	object, err := f.manager.InsertObject(ctx, vault.InsertObjectParams{
		Payload: payload,
		KeyID:   key.ID,
	})
	require.NoError(t, err)

	original, err := f.manager.DecryptKey(ctx, key.ID)
	require.NoError(t, err)

	t.Run("rotating to a new party re-wraps the same material", func(t *testing.T) {
		rotated, err := f.manager.PatchKey(ctx, key.ID, vault.PatchKeyParams{Server: "beta"})
		require.NoError(t, err)

		assert.Equal(t, key.ID, rotated.ID)
		assert.Equal(t, "beta", rotated.ServerName)
		assert.NotEqual(t, key.WrappedKey, rotated.WrappedKey)

		// Beta's private key now recovers the original material.
		recovered := unwrapContext(t, f.capability, f.betaPrivate, f.client.keyRecord(key.ID))
		assert.Equal(t, original.Key, recovered.Key)
		assert.Equal(t, original.IV, recovered.IV)
	})

	t.Run("re-encryption after rotation preserves content", func(t *testing.T) {
		patched, err := f.manager.PatchObject(ctx, object.ID, vault.PatchObjectParams{KeyID: key.ID})
		require.NoError(t, err)
		assert.Equal(t, key.ID, patched.KeyID)

		decrypted, err := f.manager.DecryptObject(ctx, object.ID)
		require.NoError(t, err)
		assert.JSONEq(t, `{"title":"q3 figures"}`, string(decrypted.Payload))
	})

	t.Run("the rotated-to party now owns decryption", func(t *testing.T) {
		other := newManager(t, f.client, f.capability, nil, f.alphaPrivate)
		_, err := other.DecryptObject(ctx, object.ID)
		assert.ErrorIs(t, err, vault.ErrNotCurrentParty)
	})

	t.Run("metadata-only patches leave wrapped material alone", func(t *testing.T) {
		before := f.client.keyRecord(key.ID)

		metadata := json.RawMessage(`{"rotated":true}`)
		patched, err := f.manager.PatchKey(ctx, key.ID, vault.PatchKeyParams{
			Metadata: utils.PointerTo(metadata),
		})
		require.NoError(t, err)

		assert.Equal(t, before.WrappedKey, patched.WrappedKey)
		assert.Equal(t, before.WrappedIV, patched.WrappedIV)
		assert.JSONEq(t, string(metadata), string(patched.Metadata))
	})
}
