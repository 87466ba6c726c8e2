package jsonapi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTransport struct {
	sent     []string // connectionID per Send call
	payloads []map[string]any
}

func (r *recordingTransport) Send(ctx context.Context, connectionID string, payload map[string]any) error {
	r.sent = append(r.sent, connectionID)
	r.payloads = append(r.payloads, payload)
	return nil
}

func TestBroadcaster_AtMostOneNotificationPerConnectionPerEvent(t *testing.T) {
	transport := &recordingTransport{}
	b := NewBroadcaster(transport, FixedClock{})

	b.Subscriptions().Subscribe(Subscription{ID: "sub-1", ConnectionID: "conn-1", Resource: "posts"})
	b.Subscriptions().Subscribe(Subscription{ID: "sub-2", ConnectionID: "conn-1", Resource: "posts"})

	tx := "tx-1"
	b.Buffer(tx, ChangeEvent{Resource: "posts", ID: "1", Kind: ChangeCreated, Attributes: map[string]any{"title": "hi"}})
	b.Drain(context.Background(), tx)

	assert.Len(t, transport.sent, 1, "a connection with two matching subscriptions still gets exactly one notification")
}

func TestBroadcaster_DiscardNeverDelivers(t *testing.T) {
	transport := &recordingTransport{}
	b := NewBroadcaster(transport, FixedClock{})
	b.Subscriptions().Subscribe(Subscription{ID: "sub-1", ConnectionID: "conn-1", Resource: "posts"})

	tx := "tx-1"
	b.Buffer(tx, ChangeEvent{Resource: "posts", ID: "1", Kind: ChangeCreated})
	b.Discard(tx)
	b.Drain(context.Background(), tx)

	assert.Empty(t, transport.sent)
}

func TestBroadcaster_FilterPredicateMustMatch(t *testing.T) {
	transport := &recordingTransport{}
	b := NewBroadcaster(transport, FixedClock{})
	b.Subscriptions().Subscribe(Subscription{
		ID: "sub-1", ConnectionID: "conn-1", Resource: "posts",
		Filters: []Filter{{Field: "published", Operator: OpEq, Value: true}},
	})

	tx := "tx-1"
	b.Buffer(tx, ChangeEvent{Resource: "posts", ID: "1", Kind: ChangeCreated, Attributes: map[string]any{"published": false}})
	b.Drain(context.Background(), tx)
	assert.Empty(t, transport.sent)

	b.Buffer(tx, ChangeEvent{Resource: "posts", ID: "2", Kind: ChangeCreated, Attributes: map[string]any{"published": true}})
	b.Drain(context.Background(), tx)
	assert.Equal(t, []string{"conn-1"}, transport.sent)
}

func TestBroadcaster_NotificationTypeIsVerbPastTense(t *testing.T) {
	cases := []struct {
		verb Operation
		want string
	}{
		{OpPost, "resource.posted"},
		{OpPatch, "resource.patched"},
		{OpPut, "resource.putted"},
		{OpDelete, "resource.deleted"},
		{OpPatchRelationships, "resource.patched"},
	}
	for _, c := range cases {
		transport := &recordingTransport{}
		b := NewBroadcaster(transport, FixedClock{})
		b.Subscriptions().Subscribe(Subscription{ID: "sub-1", ConnectionID: "conn-1", Resource: "posts"})

		tx := "tx-1"
		b.Buffer(tx, ChangeEvent{Resource: "posts", ID: "1", Kind: ChangeUpdated, Verb: c.verb})
		b.Drain(context.Background(), tx)

		require.Len(t, transport.payloads, 1)
		assert.Equal(t, c.want, transport.payloads[0]["type"])
	}
}

func TestSubscriptionRegistry_RemoveConnectionTearsDownAllItsSubscriptions(t *testing.T) {
	reg := NewSubscriptionRegistry()
	reg.Subscribe(Subscription{ID: "sub-1", ConnectionID: "conn-1", Resource: "posts"})
	reg.Subscribe(Subscription{ID: "sub-2", ConnectionID: "conn-1", Resource: "comments"})

	reg.RemoveConnection("conn-1")

	assert.Empty(t, reg.MatchingSubscriptions("posts"))
	assert.Empty(t, reg.MatchingSubscriptions("comments"))
}

func TestSubscriptionRegistry_Unsubscribe(t *testing.T) {
	reg := NewSubscriptionRegistry()
	reg.Subscribe(Subscription{ID: "sub-1", ConnectionID: "conn-1", Resource: "posts"})
	reg.Unsubscribe("conn-1", "sub-1")

	require.Empty(t, reg.MatchingSubscriptions("posts"))
}
