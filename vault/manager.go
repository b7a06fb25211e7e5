// Package vault orchestrates envelope-encrypted object storage. An
// ObjectManager resolves trust parties from the account's server roster,
// wraps and unwraps symmetric key material for them, encrypts objects on the
// way into the remote store and decrypts them on the way out, and layers
// in-memory record caches plus an optional persistent key cache over the
// transport.
//
// The manager holds no global lock: each in-memory cache map is guarded by
// its own mutex, and no lock is held across a remote call. Concurrent
// resolutions of the same key may therefore double-fetch and double-write the
// key cache, which is benign; the last writer wins. The manager never retries
// or imposes timeouts of its own: cancellation comes from the caller's
// context.
package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/keyfold/keyfold-go/api"
	"github.com/keyfold/keyfold-go/client"
	"github.com/keyfold/keyfold-go/envelope"
	"github.com/keyfold/keyfold-go/keycache"
	"github.com/rs/zerolog"
)

// ManagerConfig collects the dependencies of an ObjectManager. Client and
// Capability are required; everything else has a working zero value.
type ManagerConfig struct {
	Client     client.Client
	Capability envelope.Capability

	// Cache persists resolved key material between calls and, depending on
	// the backend, between processes. Nil means every resolution that is not
	// served by the in-memory record cache contacts the store.
	Cache keycache.Cache

	// Logger receives cache persistence warnings and refresh summaries. The
	// zero value discards everything.
	Logger zerolog.Logger

	// PrivateKeys holds PEM-encoded private keys by trust party name. Roster
	// entries with a matching private key become Current parties; all others
	// are Remote.
	PrivateKeys map[string]string

	// PublishParty names the trust party PublishObject wraps new keys for.
	PublishParty string
}

// ObjectManager is the stateful core of the vault. Construct one with
// NewObjectManager, load the rosters with Start (or RefreshRemotes and
// RefreshRoot individually), then use it from any number of goroutines.
type ObjectManager struct {
	client       client.Client
	capability   envelope.Capability
	cache        keycache.Cache
	logger       zerolog.Logger
	privateKeys  map[string]envelope.PrivateKey
	publishParty string

	partiesMu sync.RWMutex
	parties   map[string]Party

	accountMu sync.RWMutex
	account   *accountState

	keysMu sync.RWMutex
	keys   map[string]*api.Key

	objectsMu sync.RWMutex
	objects   map[string]*api.Object

	relationsMu sync.RWMutex
	relations   map[string][]*api.Object
}

type accountState struct {
	serverName string
	stores     map[string]*api.Store
}

// NewObjectManager validates the config and parses the configured private
// keys. It performs no I/O; call Start to load the rosters.
func NewObjectManager(config ManagerConfig) (*ObjectManager, error) {
	if config.Client == nil {
		return nil, errors.New("client is required")
	}
	if config.Capability == nil {
		return nil, errors.New("capability is required")
	}

	privateKeys := make(map[string]envelope.PrivateKey, len(config.PrivateKeys))
	for name, encoded := range config.PrivateKeys {
		key, err := config.Capability.ParsePrivateKey(encoded)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key for party %q: %w", name, err)
		}
		privateKeys[name] = key
	}

	return &ObjectManager{
		client:       config.Client,
		capability:   config.Capability,
		cache:        config.Cache,
		logger:       config.Logger,
		privateKeys:  privateKeys,
		publishParty: config.PublishParty,
		keys:         map[string]*api.Key{},
		objects:      map[string]*api.Object{},
		relations:    map[string][]*api.Object{},
	}, nil
}

// Start loads both rosters. Operations needing roster state before the
// corresponding refresh has succeeded fail with ErrRemotesNotLoaded or
// ErrRootNotLoaded.
func (m *ObjectManager) Start(ctx context.Context) error {
	if err := m.RefreshRemotes(ctx); err != nil {
		return err
	}
	return m.RefreshRoot(ctx)
}

// RefreshRemotes fetches the server roster and rebuilds the party map.
// Entries whose name matches a configured private key become Current parties;
// a private key that does not match its roster entry's public key is a
// configuration error and fails the refresh.
func (m *ObjectManager) RefreshRemotes(ctx context.Context) error {
	servers, err := m.client.GetServers(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch server roster: %w", err)
	}

	parties := make(map[string]Party, len(servers))
	current := 0
	for _, server := range servers {
		party, err := m.newParty(server)
		if err != nil {
			return err
		}
		if party.Current() {
			current++
		}
		parties[server.Name] = party
	}

	m.partiesMu.Lock()
	m.parties = parties
	m.partiesMu.Unlock()

	m.logger.Debug().
		Int("parties", len(parties)).
		Int("current", current).
		Msg("refreshed trust party roster")
	return nil
}

func (m *ObjectManager) newParty(server *api.Server) (Party, error) {
	if private, ok := m.privateKeys[server.Name]; ok {
		if strings.TrimSpace(private.Encoded()) != strings.TrimSpace(server.PublicKey) {
			return nil, fmt.Errorf("private key for party %q does not match its roster public key", server.Name)
		}
		return &currentParty{name: server.Name, key: private}, nil
	}

	public, err := m.capability.ParsePublicKey(server.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key for party %q: %w", server.Name, err)
	}
	return &remoteParty{name: server.Name, key: public}, nil
}

// RefreshRoot fetches the account and rebuilds the store roster plus the
// account's own party name.
func (m *ObjectManager) RefreshRoot(ctx context.Context) error {
	account, err := m.client.GetAccount(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch account: %w", err)
	}
	if account.Server == nil {
		return errors.New("account has no server")
	}

	stores := make(map[string]*api.Store, len(account.Stores))
	for _, store := range account.Stores {
		stores[store.Name] = store
	}

	m.accountMu.Lock()
	m.account = &accountState{serverName: account.Server.Name, stores: stores}
	m.accountMu.Unlock()

	m.logger.Debug().
		Str("server", account.Server.Name).
		Int("stores", len(stores)).
		Msg("refreshed account roster")
	return nil
}

// Party returns the named trust party from the loaded roster.
func (m *ObjectManager) Party(name string) (Party, error) {
	m.partiesMu.RLock()
	defer m.partiesMu.RUnlock()

	if m.parties == nil {
		return nil, ErrRemotesNotLoaded
	}
	party, ok := m.parties[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownParty, name)
	}
	return party, nil
}

func (m *ObjectManager) accountServerName() (string, error) {
	m.accountMu.RLock()
	defer m.accountMu.RUnlock()

	if m.account == nil {
		return "", ErrRootNotLoaded
	}
	return m.account.serverName, nil
}

func (m *ObjectManager) storeByName(name string) (*api.Store, error) {
	m.accountMu.RLock()
	defer m.accountMu.RUnlock()

	if m.account == nil {
		return nil, ErrRootNotLoaded
	}
	store, ok := m.account.stores[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStore, name)
	}
	return store, nil
}

// Key cache access is nil-safe and best-effort: read failures degrade to
// misses and write failures are logged, never escalated into the surrounding
// operation's failure.

func (m *ObjectManager) cachedDecryptedKey(ctx context.Context, id string) *keycache.DecryptedRecord {
	if m.cache == nil {
		return nil
	}
	record, err := m.cache.GetDecryptedKey(ctx, id)
	if err != nil {
		m.logger.Warn().Err(err).Str("key_id", id).Msg("failed to read decrypted key cache slot")
		return nil
	}
	return record
}

func (m *ObjectManager) cachedEncryptedKey(ctx context.Context, id string) *keycache.EncryptedRecord {
	if m.cache == nil {
		return nil
	}
	record, err := m.cache.GetEncryptedKey(ctx, id)
	if err != nil {
		m.logger.Warn().Err(err).Str("key_id", id).Msg("failed to read encrypted key cache slot")
		return nil
	}
	return record
}

func (m *ObjectManager) persistContext(ctx context.Context, id string, ec *envelope.Context) {
	if m.cache == nil {
		return
	}
	if err := m.cache.PersistDecryptedKey(ctx, id, ec.Key, ec.IV, ec.Header); err != nil {
		m.logger.Warn().Err(err).Str("key_id", id).Msg("failed to persist decrypted key cache slot")
	}
}

func (m *ObjectManager) persistWrapped(ctx context.Context, id, wrappedKey, wrappedIV string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.PersistEncryptedKey(ctx, id, wrappedKey, wrappedIV); err != nil {
		m.logger.Warn().Err(err).Str("key_id", id).Msg("failed to persist encrypted key cache slot")
	}
}

func (m *ObjectManager) rememberKey(key *api.Key) {
	m.keysMu.Lock()
	m.keys[key.ID] = key
	m.keysMu.Unlock()
}

func (m *ObjectManager) recallKey(id string) *api.Key {
	m.keysMu.RLock()
	defer m.keysMu.RUnlock()
	return m.keys[id]
}

func (m *ObjectManager) forgetKey(id string) {
	m.keysMu.Lock()
	delete(m.keys, id)
	m.keysMu.Unlock()
}

// rememberObject memoizes the object and, when its parent's listing is
// cached, replaces the stale copy inside it so content-only patches stay
// coherent without invalidating the listing.
func (m *ObjectManager) rememberObject(object *api.Object) {
	m.objectsMu.Lock()
	m.objects[object.ID] = object
	m.objectsMu.Unlock()

	m.relationsMu.Lock()
	for i, child := range m.relations[object.RelatedObjectID] {
		if child.ID == object.ID {
			m.relations[object.RelatedObjectID][i] = object
			break
		}
	}
	m.relationsMu.Unlock()
}

func (m *ObjectManager) recallObject(id string) *api.Object {
	m.objectsMu.RLock()
	defer m.objectsMu.RUnlock()
	return m.objects[id]
}

func (m *ObjectManager) forgetObject(id string) {
	m.objectsMu.Lock()
	delete(m.objects, id)
	m.objectsMu.Unlock()
}

func (m *ObjectManager) recallRelations(parentID string) []*api.Object {
	m.relationsMu.RLock()
	defer m.relationsMu.RUnlock()
	return m.relations[parentID]
}

func (m *ObjectManager) rememberRelations(parentID string, children []*api.Object) {
	if children == nil {
		children = []*api.Object{}
	}

	m.relationsMu.Lock()
	m.relations[parentID] = children
	m.relationsMu.Unlock()

	m.objectsMu.Lock()
	for _, child := range children {
		m.objects[child.ID] = child
	}
	m.objectsMu.Unlock()
}

func (m *ObjectManager) invalidateRelations(parents ...string) {
	m.relationsMu.Lock()
	for _, parent := range parents {
		if parent != "" {
			delete(m.relations, parent)
		}
	}
	m.relationsMu.Unlock()
}
