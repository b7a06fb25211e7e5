package vault

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/keyfold/keyfold-go/api"
	"github.com/keyfold/keyfold-go/envelope"
	"github.com/keyfold/keyfold-go/internal/utils"
)

// GetKey returns the key record for the given id.
//
// The in-memory record cache is consulted first. On a miss the canonical
// record is fetched from the store; a wrapped form held by the key cache
// takes precedence over the fetched one, and a fetched form is persisted back
// to the key cache when the cache had none.
func (m *ObjectManager) GetKey(ctx context.Context, id string) (*api.Key, error) {
	if key := m.recallKey(id); key != nil {
		return key, nil
	}

	cached := m.cachedEncryptedKey(ctx, id)

	key, err := m.client.GetKey(ctx, id)
	if err != nil {
		return nil, err
	}

	if cached != nil {
		key.WrappedKey = cached.Key
		key.WrappedIV = cached.IV
	} else {
		m.persistWrapped(ctx, id, key.WrappedKey, key.WrappedIV)
	}

	m.rememberKey(key)
	return key, nil
}

// DecryptKey resolves the full encryption context for a key id.
//
// A cached decrypted slot short-circuits remote contact entirely. Otherwise
// the record is fetched and unwrapped, which requires holding the owning
// party's private key; keys owned by Remote parties fail with
// ErrNotCurrentParty.
func (m *ObjectManager) DecryptKey(ctx context.Context, id string) (*envelope.Context, error) {
	if ec := m.cachedContext(ctx, id); ec != nil {
		return ec, nil
	}

	key, err := m.GetKey(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.unwrapKeyRecord(ctx, key)
}

// DecryptKeyRecord is DecryptKey for an already-fetched record.
func (m *ObjectManager) DecryptKeyRecord(ctx context.Context, key *api.Key) (*envelope.Context, error) {
	if ec := m.cachedContext(ctx, key.ID); ec != nil {
		return ec, nil
	}
	return m.unwrapKeyRecord(ctx, key)
}

func (m *ObjectManager) cachedContext(ctx context.Context, id string) *envelope.Context {
	record := m.cachedDecryptedKey(ctx, id)
	if record == nil {
		return nil
	}
	return &envelope.Context{Header: record.Header, Key: record.Key, IV: record.IV}
}

func (m *ObjectManager) unwrapKeyRecord(ctx context.Context, key *api.Key) (*envelope.Context, error) {
	party, err := m.Party(key.ServerName)
	if err != nil {
		return nil, err
	}

	current, ok := party.(CurrentParty)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotCurrentParty, key.ServerName)
	}

	ec, err := current.UnwrapHeader(envelope.Header{Key: key.WrappedKey, IV: key.WrappedIV})
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap key %q: %w", key.ID, err)
	}

	m.persistContext(ctx, key.ID, ec)
	return ec, nil
}

// InsertKeyParams control key creation. A nil Context means a fresh random
// one is generated.
type InsertKeyParams struct {
	Metadata json.RawMessage
	Context  *envelope.Context
}

// InsertKey creates a key record wrapped for the named trust party and caches
// both the record and its context.
func (m *ObjectManager) InsertKey(ctx context.Context, server string, params InsertKeyParams) (*api.Key, error) {
	key, _, err := m.insertKey(ctx, server, params)
	return key, err
}

func (m *ObjectManager) insertKey(ctx context.Context, server string, params InsertKeyParams) (*api.Key, *envelope.Context, error) {
	party, err := m.Party(server)
	if err != nil {
		return nil, nil, err
	}

	ec := params.Context
	if ec == nil {
		if ec, err = m.capability.GenerateContext(); err != nil {
			return nil, nil, err
		}
	}

	header, err := party.WrapContext(ec)
	if err != nil {
		return nil, nil, err
	}
	ec.Header = header

	key, err := m.client.CreateKey(ctx, &api.CreateKeyRequest{
		ServerName: party.Name(),
		WrappedKey: header.Key,
		WrappedIV:  header.IV,
		Metadata:   params.Metadata,
	})
	if err != nil {
		return nil, nil, err
	}

	m.rememberKey(key)
	m.persistContext(ctx, key.ID, ec)
	return key, ec, nil
}

// PatchKeyParams are the mutable fields of a key record; at least one must be
// set. Server without Context re-wraps the key's existing raw material for
// the new party, so objects encrypted under the key stay decryptable.
type PatchKeyParams struct {
	Metadata *json.RawMessage
	Context  *envelope.Context
	Server   string
}

func (p PatchKeyParams) empty() bool {
	return p.Metadata == nil && p.Context == nil && p.Server == ""
}

// PatchKey updates a key record in place. When the patch carries a Server or
// Context the wrapped material is replaced as a unit and the cached context
// for the id along with it; a metadata-only patch merely refreshes the cached
// encrypted slot.
func (m *ObjectManager) PatchKey(ctx context.Context, id string, params PatchKeyParams) (*api.Key, error) {
	if params.empty() {
		return nil, ErrNoFieldsToPatch
	}

	req := &api.UpdateKeyRequest{Metadata: params.Metadata}

	var ec *envelope.Context
	if params.Server != "" || params.Context != nil {
		server := params.Server
		if server == "" {
			existing, err := m.GetKey(ctx, id)
			if err != nil {
				return nil, err
			}
			server = existing.ServerName
		}

		party, err := m.Party(server)
		if err != nil {
			return nil, err
		}

		ec = params.Context
		if ec == nil {
			if ec, err = m.DecryptKey(ctx, id); err != nil {
				return nil, err
			}
		}

		header, err := party.WrapContext(ec)
		if err != nil {
			return nil, err
		}
		ec.Header = header

		req.ServerName = utils.PointerTo(party.Name())
		req.WrappedKey = utils.PointerTo(header.Key)
		req.WrappedIV = utils.PointerTo(header.IV)
	}

	key, err := m.client.UpdateKey(ctx, id, req)
	if err != nil {
		return nil, err
	}

	m.rememberKey(key)
	if ec != nil {
		m.persistContext(ctx, key.ID, ec)
	} else {
		m.persistWrapped(ctx, key.ID, key.WrappedKey, key.WrappedIV)
	}
	return key, nil
}

// DeleteKey removes the record from the store and the in-memory record cache.
// Key cache slots are left to expire on their own.
func (m *ObjectManager) DeleteKey(ctx context.Context, id string) error {
	if err := m.client.DeleteKey(ctx, id); err != nil {
		return err
	}
	m.forgetKey(id)
	return nil
}
