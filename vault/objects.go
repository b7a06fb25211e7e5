package vault

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/keyfold/keyfold-go/api"
	"github.com/keyfold/keyfold-go/client"
	"github.com/keyfold/keyfold-go/envelope"
	"github.com/keyfold/keyfold-go/internal/utils"
)

// DecryptedObject pairs an object with its decrypted payload bytes.
type DecryptedObject struct {
	Object  *api.Object
	Payload json.RawMessage
}

// InsertObjectParams control object creation. Payload is required and is
// JSON-serialized before encryption.
//
// Key resolution picks the first applicable of: an explicit Context (paired
// with KeyID when both are given, otherwise registered as a new key), an
// existing KeyID, a fresh key under Server, the Store's default key, and
// finally a fresh key under the account's own party. RelatedObjectID defaults
// to the Store's root object when a Store is named.
type InsertObjectParams struct {
	Payload         any
	Store           string
	KeyID           string
	Server          string
	Context         *envelope.Context
	RelatedObjectID string
	Metadata        json.RawMessage
}

// InsertObject encrypts the payload and stores it as a new object.
func (m *ObjectManager) InsertObject(ctx context.Context, params InsertObjectParams) (*api.Object, error) {
	if params.Payload == nil {
		return nil, errors.New("payload is required")
	}

	var store *api.Store
	if params.Store != "" {
		var err error
		if store, err = m.storeByName(params.Store); err != nil {
			return nil, err
		}
	}

	parent := params.RelatedObjectID
	if parent == "" && store != nil {
		parent = store.RootObjectID
	}

	keyID, ec, err := m.resolveInsertKey(ctx, params, store)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(params.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize payload: %w", err)
	}

	sealed, err := m.capability.Encrypt(ec, payload)
	if err != nil {
		return nil, err
	}

	object, err := m.client.CreateObject(ctx, &api.CreateObjectRequest{
		KeyID:           keyID,
		RelatedObjectID: parent,
		Content:         base64.StdEncoding.EncodeToString(sealed.Content),
		AuthTag:         base64.StdEncoding.EncodeToString(sealed.AuthTag),
		Metadata:        params.Metadata,
	})
	if err != nil {
		return nil, err
	}

	m.rememberObject(object)
	m.invalidateRelations(object.RelatedObjectID)
	return object, nil
}

func (m *ObjectManager) resolveInsertKey(ctx context.Context, params InsertObjectParams, store *api.Store) (string, *envelope.Context, error) {
	switch {
	case params.Context != nil && params.KeyID != "":
		return params.KeyID, params.Context, nil

	case params.Context != nil:
		server := params.Server
		if server == "" {
			var err error
			if server, err = m.accountServerName(); err != nil {
				return "", nil, err
			}
		}
		key, ec, err := m.insertKey(ctx, server, InsertKeyParams{Context: params.Context})
		if err != nil {
			return "", nil, err
		}
		return key.ID, ec, nil

	case params.KeyID != "":
		ec, err := m.DecryptKey(ctx, params.KeyID)
		if err != nil {
			return "", nil, err
		}
		return params.KeyID, ec, nil

	case params.Server != "":
		key, ec, err := m.insertKey(ctx, params.Server, InsertKeyParams{})
		if err != nil {
			return "", nil, err
		}
		return key.ID, ec, nil

	case store != nil && store.DefaultKeyID != "":
		ec, err := m.DecryptKey(ctx, store.DefaultKeyID)
		if err != nil {
			return "", nil, err
		}
		return store.DefaultKeyID, ec, nil

	default:
		server, err := m.accountServerName()
		if err != nil {
			return "", nil, err
		}
		key, ec, err := m.insertKey(ctx, server, InsertKeyParams{})
		if err != nil {
			return "", nil, err
		}
		return key.ID, ec, nil
	}
}

// PatchObjectParams are the mutable fields of an object; at least one of
// Payload, KeyID, Server, Context, Metadata or RelatedObjectID must be set.
//
// Touching any of Payload, KeyID, Server or Context re-encrypts the content.
// With Payload omitted the existing content is decrypted first and
// re-encrypted under the newly resolved context, which is what makes key
// rotation content-preserving. FallbackKeyID only guides party selection for
// a replacement key when no key or server is specified and the object's
// current key record no longer exists.
type PatchObjectParams struct {
	Payload         any
	KeyID           string
	Server          string
	Context         *envelope.Context
	Metadata        *json.RawMessage
	RelatedObjectID *string
	FallbackKeyID   string
}

func (p PatchObjectParams) empty() bool {
	return p.Payload == nil && p.KeyID == "" && p.Server == "" && p.Context == nil &&
		p.Metadata == nil && p.RelatedObjectID == nil
}

func (p PatchObjectParams) touchesContent() bool {
	return p.Payload != nil || p.KeyID != "" || p.Server != "" || p.Context != nil
}

// PatchObject updates an object in place; its id is stable across patches.
func (m *ObjectManager) PatchObject(ctx context.Context, id string, params PatchObjectParams) (*api.Object, error) {
	if params.empty() {
		return nil, ErrNoFieldsToPatch
	}

	existing, err := m.getObject(ctx, id)
	if err != nil {
		return nil, err
	}

	req := &api.UpdateObjectRequest{
		Metadata:        params.Metadata,
		RelatedObjectID: params.RelatedObjectID,
	}

	if params.touchesContent() {
		payload, err := m.patchPayload(ctx, existing, params)
		if err != nil {
			return nil, err
		}

		keyID, ec, err := m.resolvePatchKey(ctx, existing, params)
		if err != nil {
			return nil, err
		}

		sealed, err := m.capability.Encrypt(ec, payload)
		if err != nil {
			return nil, err
		}

		req.KeyID = utils.PointerTo(keyID)
		req.Content = utils.PointerTo(base64.StdEncoding.EncodeToString(sealed.Content))
		req.AuthTag = utils.PointerTo(base64.StdEncoding.EncodeToString(sealed.AuthTag))
	}

	object, err := m.client.UpdateObject(ctx, id, req)
	if err != nil {
		return nil, err
	}

	m.rememberObject(object)
	if params.RelatedObjectID != nil && *params.RelatedObjectID != existing.RelatedObjectID {
		m.invalidateRelations(existing.RelatedObjectID, object.RelatedObjectID)
	}
	return object, nil
}

func (m *ObjectManager) patchPayload(ctx context.Context, existing *api.Object, params PatchObjectParams) ([]byte, error) {
	if params.Payload != nil {
		payload, err := json.Marshal(params.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize payload: %w", err)
		}
		return payload, nil
	}
	return m.decryptObjectPayload(ctx, existing, nil)
}

func (m *ObjectManager) resolvePatchKey(ctx context.Context, existing *api.Object, params PatchObjectParams) (string, *envelope.Context, error) {
	switch {
	case params.Context != nil && params.KeyID != "":
		return params.KeyID, params.Context, nil

	case params.Context != nil:
		server, err := m.accountServerName()
		if err != nil {
			return "", nil, err
		}
		key, ec, err := m.insertKey(ctx, server, InsertKeyParams{Context: params.Context})
		if err != nil {
			return "", nil, err
		}
		return key.ID, ec, nil

	case params.KeyID != "":
		ec, err := m.DecryptKey(ctx, params.KeyID)
		if err != nil {
			return "", nil, err
		}
		return params.KeyID, ec, nil

	case params.Server != "":
		key, ec, err := m.insertKey(ctx, params.Server, InsertKeyParams{})
		if err != nil {
			return "", nil, err
		}
		return key.ID, ec, nil

	default:
		ec, err := m.DecryptKey(ctx, existing.KeyID)
		if err == nil {
			return existing.KeyID, ec, nil
		}
		if params.FallbackKeyID == "" || !errors.Is(err, client.ErrNotFound) {
			return "", nil, err
		}

		// The object's key record is gone; mint a replacement under the
		// same party the fallback key was wrapped for.
		fallback, err := m.GetKey(ctx, params.FallbackKeyID)
		if err != nil {
			return "", nil, err
		}
		key, ec, err := m.insertKey(ctx, fallback.ServerName, InsertKeyParams{})
		if err != nil {
			return "", nil, err
		}
		return key.ID, ec, nil
	}
}

// DeleteObject removes the object from the store, drops it from the record
// cache and invalidates its parent's relation listing.
func (m *ObjectManager) DeleteObject(ctx context.Context, id string) error {
	object, err := m.getObject(ctx, id)
	if err != nil {
		return err
	}

	if err := m.client.DeleteObject(ctx, id); err != nil {
		return err
	}

	m.forgetObject(id)
	m.invalidateRelations(object.RelatedObjectID)
	return nil
}

// GetRelatedObjects returns the objects parented beneath the given id,
// serving a cached listing when one is present.
func (m *ObjectManager) GetRelatedObjects(ctx context.Context, parentID string) ([]*api.Object, error) {
	if children := m.recallRelations(parentID); children != nil {
		return children, nil
	}

	children, err := m.client.ListChildObjects(ctx, parentID)
	if err != nil {
		return nil, err
	}

	m.rememberRelations(parentID, children)
	return children, nil
}

// DecryptObject fetches (or reuses a cached) object and decrypts its content.
func (m *ObjectManager) DecryptObject(ctx context.Context, id string) (*DecryptedObject, error) {
	object, err := m.getObject(ctx, id)
	if err != nil {
		return nil, err
	}

	payload, err := m.decryptObjectPayload(ctx, object, nil)
	if err != nil {
		return nil, err
	}
	return &DecryptedObject{Object: object, Payload: payload}, nil
}

// DecryptRelatedObjects decrypts every object parented beneath the given id.
func (m *ObjectManager) DecryptRelatedObjects(ctx context.Context, parentID string) ([]*DecryptedObject, error) {
	children, err := m.GetRelatedObjects(ctx, parentID)
	if err != nil {
		return nil, err
	}

	decrypted := make([]*DecryptedObject, 0, len(children))
	for _, object := range children {
		payload, err := m.decryptObjectPayload(ctx, object, nil)
		if err != nil {
			return nil, err
		}
		decrypted = append(decrypted, &DecryptedObject{Object: object, Payload: payload})
	}
	return decrypted, nil
}

func (m *ObjectManager) getObject(ctx context.Context, id string) (*api.Object, error) {
	if object := m.recallObject(id); object != nil {
		return object, nil
	}

	object, err := m.client.GetObject(ctx, id)
	if err != nil {
		return nil, err
	}

	m.rememberObject(object)
	return object, nil
}

// decryptObjectPayload opens the object's content under the given context,
// resolving one via DecryptKey when ec is nil.
func (m *ObjectManager) decryptObjectPayload(ctx context.Context, object *api.Object, ec *envelope.Context) ([]byte, error) {
	if ec == nil {
		var err error
		if ec, err = m.DecryptKey(ctx, object.KeyID); err != nil {
			return nil, err
		}
	}

	content, err := base64.StdEncoding.DecodeString(object.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to decode content of object %q: %w", object.ID, err)
	}
	authTag, err := base64.StdEncoding.DecodeString(object.AuthTag)
	if err != nil {
		return nil, fmt.Errorf("failed to decode auth tag of object %q: %w", object.ID, err)
	}

	payload, err := m.capability.Decrypt(ec, &envelope.Sealed{Content: content, AuthTag: authTag})
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt object %q: %w", object.ID, err)
	}
	return payload, nil
}
