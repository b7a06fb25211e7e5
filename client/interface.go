// Package client talks to a Keyfold object store. The Client interface is
// what the vault layer programs against; NewHTTPClient returns the standard
// REST implementation.
//
// The client never retries: transport failures and store errors surface
// immediately, and callers decide what is worth repeating. Cancellation and
// deadlines come from the request context.
package client

import (
	"context"

	"github.com/keyfold/keyfold-go/api"
)

// Client is a connection to an object store.
type Client interface {
	// GetServers returns the roster of trust parties known to the store.
	GetServers(ctx context.Context) ([]*api.Server, error)

	// GetAccount returns the calling account's own server and its stores.
	GetAccount(ctx context.Context) (*api.Account, error)

	GetKey(ctx context.Context, id string) (*api.Key, error)
	CreateKey(ctx context.Context, req *api.CreateKeyRequest) (*api.Key, error)
	UpdateKey(ctx context.Context, id string, req *api.UpdateKeyRequest) (*api.Key, error)
	DeleteKey(ctx context.Context, id string) error

	GetObject(ctx context.Context, id string) (*api.Object, error)
	CreateObject(ctx context.Context, req *api.CreateObjectRequest) (*api.Object, error)
	UpdateObject(ctx context.Context, id string, req *api.UpdateObjectRequest) (*api.Object, error)
	DeleteObject(ctx context.Context, id string) error

	// ListChildObjects returns the objects whose relatedObjectId is the
	// given parent id.
	ListChildObjects(ctx context.Context, parentID string) ([]*api.Object, error)

	// Jobs are keyed by their type and the related object id.
	SubmitJob(ctx context.Context, req *api.SubmitJobRequest) (*api.Job, error)
	GetJob(ctx context.Context, jobType, relatedObjectID string) (*api.Job, error)
	CancelJob(ctx context.Context, jobType, relatedObjectID string) (*api.Job, error)

	// WaitForJob polls until the job reaches a terminal status or the
	// context ends.
	WaitForJob(ctx context.Context, jobType, relatedObjectID string) (*api.Job, error)
}
