package vault_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/keyfold/keyfold-go/api"
	"github.com/keyfold/keyfold-go/client"
)

// fakeClient is an in-memory client.Client. Tests reach into its maps to seed
// and inspect store state, and read call counts to assert which operations
// actually contacted the "remote" store. All methods return copies so manager
// side caches never alias store state.
type fakeClient struct {
	mu      sync.Mutex
	nextID  int
	servers []*api.Server
	account *api.Account
	keys    map[string]*api.Key
	objects map[string]*api.Object
	jobs    map[string]*api.Job
	calls   map[string]int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		keys:    map[string]*api.Key{},
		objects: map[string]*api.Object{},
		jobs:    map[string]*api.Job{},
		calls:   map[string]int{},
	}
}

// count records a call; callers hold f.mu.
func (f *fakeClient) count(method string) {
	f.calls[method]++
}

func (f *fakeClient) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeClient) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeClient) deleteKeyRecord(id string) {
	f.mu.Lock()
	delete(f.keys, id)
	f.mu.Unlock()
}

func (f *fakeClient) keyRecord(id string) *api.Key {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keys[id]
}

func notFound(what string) error {
	return fmt.Errorf("%w: %s", client.ErrNotFound, what)
}

func (f *fakeClient) GetServers(_ context.Context) ([]*api.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("GetServers")
	return f.servers, nil
}

func (f *fakeClient) GetAccount(_ context.Context) (*api.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("GetAccount")
	if f.account == nil {
		return nil, notFound("account")
	}
	return f.account, nil
}

func (f *fakeClient) GetKey(_ context.Context, id string) (*api.Key, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("GetKey")
	key, ok := f.keys[id]
	if !ok {
		return nil, notFound("key " + id)
	}
	copied := *key
	return &copied, nil
}

func (f *fakeClient) CreateKey(_ context.Context, req *api.CreateKeyRequest) (*api.Key, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("CreateKey")
	key := &api.Key{
		ID:         f.id("key"),
		ServerName: req.ServerName,
		WrappedKey: req.WrappedKey,
		WrappedIV:  req.WrappedIV,
		Metadata:   req.Metadata,
	}
	f.keys[key.ID] = key
	copied := *key
	return &copied, nil
}

func (f *fakeClient) UpdateKey(_ context.Context, id string, req *api.UpdateKeyRequest) (*api.Key, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("UpdateKey")
	key, ok := f.keys[id]
	if !ok {
		return nil, notFound("key " + id)
	}
	if req.ServerName != nil {
		key.ServerName = *req.ServerName
	}
	if req.WrappedKey != nil {
		key.WrappedKey = *req.WrappedKey
	}
	if req.WrappedIV != nil {
		key.WrappedIV = *req.WrappedIV
	}
	if req.Metadata != nil {
		key.Metadata = *req.Metadata
	}
	copied := *key
	return &copied, nil
}

func (f *fakeClient) DeleteKey(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("DeleteKey")
	if _, ok := f.keys[id]; !ok {
		return notFound("key " + id)
	}
	delete(f.keys, id)
	return nil
}

func (f *fakeClient) GetObject(_ context.Context, id string) (*api.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("GetObject")
	object, ok := f.objects[id]
	if !ok {
		return nil, notFound("object " + id)
	}
	copied := *object
	return &copied, nil
}

func (f *fakeClient) CreateObject(_ context.Context, req *api.CreateObjectRequest) (*api.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("CreateObject")
	object := &api.Object{
		ID:              f.id("obj"),
		KeyID:           req.KeyID,
		RelatedObjectID: req.RelatedObjectID,
		Content:         req.Content,
		AuthTag:         req.AuthTag,
		Metadata:        req.Metadata,
	}
	f.objects[object.ID] = object
	copied := *object
	return &copied, nil
}

func (f *fakeClient) UpdateObject(_ context.Context, id string, req *api.UpdateObjectRequest) (*api.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("UpdateObject")
	object, ok := f.objects[id]
	if !ok {
		return nil, notFound("object " + id)
	}
	if req.KeyID != nil {
		object.KeyID = *req.KeyID
	}
	if req.RelatedObjectID != nil {
		object.RelatedObjectID = *req.RelatedObjectID
	}
	if req.Content != nil {
		object.Content = *req.Content
	}
	if req.AuthTag != nil {
		object.AuthTag = *req.AuthTag
	}
	if req.Metadata != nil {
		object.Metadata = *req.Metadata
	}
	copied := *object
	return &copied, nil
}

func (f *fakeClient) DeleteObject(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("DeleteObject")
	if _, ok := f.objects[id]; !ok {
		return notFound("object " + id)
	}
	delete(f.objects, id)
	return nil
}

func (f *fakeClient) ListChildObjects(_ context.Context, parentID string) ([]*api.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("ListChildObjects")
	var children []*api.Object
	for _, object := range f.objects {
		if object.RelatedObjectID == parentID {
			copied := *object
			children = append(children, &copied)
		}
	}
	return children, nil
}

func jobRecordKey(jobType, relatedObjectID string) string {
	return jobType + "/" + relatedObjectID
}

func (f *fakeClient) SubmitJob(_ context.Context, req *api.SubmitJobRequest) (*api.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("SubmitJob")
	job := &api.Job{
		Type:            req.Type,
		ObjectID:        req.ObjectID,
		RelatedObjectID: req.RelatedObjectID,
		Status:          api.JobStatusPending,
	}
	f.jobs[jobRecordKey(req.Type, req.RelatedObjectID)] = job
	copied := *job
	return &copied, nil
}

func (f *fakeClient) GetJob(_ context.Context, jobType, relatedObjectID string) (*api.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("GetJob")
	job, ok := f.jobs[jobRecordKey(jobType, relatedObjectID)]
	if !ok {
		return nil, notFound("job " + jobRecordKey(jobType, relatedObjectID))
	}
	copied := *job
	return &copied, nil
}

func (f *fakeClient) CancelJob(_ context.Context, jobType, relatedObjectID string) (*api.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("CancelJob")
	job, ok := f.jobs[jobRecordKey(jobType, relatedObjectID)]
	if !ok {
		return nil, notFound("job " + jobRecordKey(jobType, relatedObjectID))
	}
	job.Status = api.JobStatusCanceled
	copied := *job
	return &copied, nil
}

func (f *fakeClient) WaitForJob(ctx context.Context, jobType, relatedObjectID string) (*api.Job, error) {
	return f.GetJob(ctx, jobType, relatedObjectID)
}
