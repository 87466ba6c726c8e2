package jsonapi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutorWithBroadcaster(t *testing.T) (*Executor, *fakeStorage, *recordingTransport) {
	t.Helper()
	b := NewBuilder()
	b.AddResource(ResourceDefinition{
		Name: "posts",
		Fields: map[string]FieldSpec{
			"title": {Name: "title", Kind: FieldString},
		},
		AuthRules: map[Operation][]string{
			OpPost:   {"public"},
			OpPatch:  {"public"},
			OpPut:    {"public"},
			OpDelete: {"public"},
			OpGet:    {"public"},
			OpQuery:  {"public"},
		},
	})
	reg, err := b.Freeze()
	require.NoError(t, err)

	storage := newFakeStorage()
	transport := &recordingTransport{}
	broadcaster := NewBroadcaster(transport, FixedClock{})
	ex := NewExecutor(reg, storage, &AuthContextBuilder{}, broadcaster)
	return ex, storage, transport
}

// TestExecutor_Post_DeliversExactlyOneNotificationAfterCommit guards against
// buffering the change event after commit has already drained an empty
// buffer, which would silently swallow every post-commit notification
// (spec.md §4.11, §8: "every currently open subscription ... receives
// exactly one notification").
func TestExecutor_Post_DeliversExactlyOneNotificationAfterCommit(t *testing.T) {
	ex, _, transport := newTestExecutorWithBroadcaster(t)
	ex.broadcaster.Subscriptions().Subscribe(Subscription{ID: "sub-1", ConnectionID: "conn-1", Resource: "posts"})

	resp, err := ex.Execute(context.Background(), Request{
		Operation: OpPost,
		Resource:  "posts",
		Body:      []byte(`{"data":{"type":"posts","attributes":{"title":"hi"}}}`),
	})
	require.NoError(t, err)
	require.Equal(t, 201, resp.Status)

	require.Len(t, transport.payloads, 1, "exactly one notification must be delivered after a committed POST")
	assert.Equal(t, "resource.posted", transport.payloads[0]["type"])
}

func TestExecutor_Patch_DeliversPatchedNotification(t *testing.T) {
	ex, storage, transport := newTestExecutorWithBroadcaster(t)
	ex.broadcaster.Subscriptions().Subscribe(Subscription{ID: "sub-1", ConnectionID: "conn-1", Resource: "posts"})

	rec, err := storage.Post(context.Background(), "posts", map[string]any{"title": "one"}, nil)
	require.NoError(t, err)

	resp, err := ex.Execute(context.Background(), Request{
		Operation: OpPatch,
		Resource:  "posts",
		ID:        rec.ID,
		Body:      []byte(`{"data":{"id":"` + rec.ID + `","type":"posts","attributes":{"title":"two"}}}`),
	})
	require.NoError(t, err)
	require.Equal(t, 200, resp.Status)

	require.Len(t, transport.payloads, 1)
	assert.Equal(t, "resource.patched", transport.payloads[0]["type"])
}

func TestExecutor_Delete_DeliversDeletedNotification(t *testing.T) {
	ex, storage, transport := newTestExecutorWithBroadcaster(t)
	ex.broadcaster.Subscriptions().Subscribe(Subscription{ID: "sub-1", ConnectionID: "conn-1", Resource: "posts"})

	rec, err := storage.Post(context.Background(), "posts", map[string]any{"title": "one"}, nil)
	require.NoError(t, err)

	resp, err := ex.Execute(context.Background(), Request{
		Operation: OpDelete,
		Resource:  "posts",
		ID:        rec.ID,
	})
	require.NoError(t, err)
	require.Equal(t, 204, resp.Status)

	require.Len(t, transport.payloads, 1)
	assert.Equal(t, "resource.deleted", transport.payloads[0]["type"])
	assert.Equal(t, map[string]any{"id": rec.ID}, transport.payloads[0]["deletedRecord"])
}
