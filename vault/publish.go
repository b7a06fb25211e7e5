package vault

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/keyfold/keyfold-go/api"
	"github.com/keyfold/keyfold-go/client"
)

// PublishObject hands a copy of the referenced object to the configured
// publish party.
//
// The source object is decrypted under its current context, re-encrypted
// under a brand-new key wrapped for the publish party, and stored as a new
// object parented beneath the source with the source's metadata. A job keyed
// by (jobType, relatedID) is then submitted for downstream processing.
// Returns the published object and the job.
func (m *ObjectManager) PublishObject(ctx context.Context, jobType, relatedID string) (*api.Object, *api.Job, error) {
	if m.publishParty == "" {
		return nil, nil, ErrNoPublishParty
	}

	source, err := m.DecryptObject(ctx, relatedID)
	if err != nil {
		return nil, nil, err
	}

	key, ec, err := m.insertKey(ctx, m.publishParty, InsertKeyParams{})
	if err != nil {
		return nil, nil, err
	}

	sealed, err := m.capability.Encrypt(ec, source.Payload)
	if err != nil {
		return nil, nil, err
	}

	object, err := m.client.CreateObject(ctx, &api.CreateObjectRequest{
		KeyID:           key.ID,
		RelatedObjectID: relatedID,
		Content:         base64.StdEncoding.EncodeToString(sealed.Content),
		AuthTag:         base64.StdEncoding.EncodeToString(sealed.AuthTag),
		Metadata:        source.Object.Metadata,
	})
	if err != nil {
		return nil, nil, err
	}

	m.rememberObject(object)
	m.invalidateRelations(relatedID)

	job, err := m.client.SubmitJob(ctx, &api.SubmitJobRequest{
		Type:            jobType,
		ObjectID:        object.ID,
		RelatedObjectID: relatedID,
	})
	if err != nil {
		return nil, nil, err
	}

	return object, job, nil
}

// UnpublishObject cancels the in-flight job keyed by (jobType, relatedID).
// Ciphertext already handed to the publish party is not retracted. A missing
// job is not an error; the returned job is nil in that case.
func (m *ObjectManager) UnpublishObject(ctx context.Context, jobType, relatedID string) (*api.Job, error) {
	job, err := m.client.CancelJob(ctx, jobType, relatedID)
	if err != nil {
		if errors.Is(err, client.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}
