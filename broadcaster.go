package jsonapi

import (
	"context"
	"sync"
)

// ChangeEventType discriminates the three write outcomes a subscriber can
// observe (spec.md §4.11).
type ChangeEventType string

const (
	ChangeCreated ChangeEventType = "created"
	ChangeUpdated ChangeEventType = "updated"
	ChangeDeleted ChangeEventType = "deleted"
)

// ChangeEvent is one committed write, ready to be matched against
// subscription filters and delivered (spec.md §4.11). Verb is the write
// operation that produced it (OpPost/OpPatch/OpPut/OpDelete, or
// OpPatchRelationships and friends for a relationship-linkage write); it
// drives the wire "resource.<op>d" notification type, independently of Kind
// which only distinguishes created/updated/deleted for internal logic.
type ChangeEvent struct {
	Resource   string
	ID         string
	Kind       ChangeEventType
	Verb       Operation
	Attributes map[string]any
}

// verbPastTense maps the write operation onto spec.md §4.11's wire event
// name ("resource.<op>d"): post->posted, patch->patched, put->putted,
// delete->deleted. Relationship-linkage writes (post/patch/delete
// relationships) are reported as patched, since they modify the record's
// relationships the same way a PATCH modifies its attributes.
var verbPastTense = map[Operation]string{
	OpPost:                "posted",
	OpPatch:               "patched",
	OpPut:                 "putted",
	OpDelete:              "deleted",
	OpPostRelationships:   "patched",
	OpPatchRelationships:  "patched",
	OpDeleteRelationships: "patched",
}

// Transport delivers one subscription notification to a connection. wsconn/
// provides the gorilla/websocket implementation used by tests and the demo
// binary.
type Transport interface {
	Send(ctx context.Context, connectionID string, payload map[string]any) error
}

// Broadcaster implements spec.md §4.11: per-connection subscriptions,
// transaction-keyed buffering so only committed writes are ever delivered,
// and filter-predicate matching before fan-out.
type Broadcaster struct {
	subs      *SubscriptionRegistry
	transport Transport
	clock     Clock

	mu      sync.Mutex
	buffers map[string][]ChangeEvent // transaction id -> pending events
}

func NewBroadcaster(transport Transport, clock Clock) *Broadcaster {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Broadcaster{
		subs:      NewSubscriptionRegistry(),
		transport: transport,
		clock:     clock,
		buffers:   make(map[string][]ChangeEvent),
	}
}

func (b *Broadcaster) Subscriptions() *SubscriptionRegistry { return b.subs }

// Buffer stages an event under its owning transaction id. Nothing is
// delivered until Drain is called on a successful commit (spec.md §4.11:
// "subscribers never see uncommitted data").
func (b *Broadcaster) Buffer(txID string, ev ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buffers[txID] = append(b.buffers[txID], ev)
}

// Discard drops a transaction's buffered events without delivering them
// (spec.md §4.11: a rolled-back write is never observed by subscribers).
func (b *Broadcaster) Discard(txID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.buffers, txID)
}

// Drain delivers every buffered event for a committed transaction, then
// clears its buffer. Delivery failures for one connection don't block
// delivery to the others.
func (b *Broadcaster) Drain(ctx context.Context, txID string) {
	b.mu.Lock()
	events := b.buffers[txID]
	delete(b.buffers, txID)
	b.mu.Unlock()

	for _, ev := range events {
		b.broadcast(ctx, ev)
	}
}

// broadcast delivers at most one notification per connection: the first of
// its subscriptions met whose filter matches wins; MatchingSubscriptions
// does not return subscriptions in a defined order (spec.md §4.11: "a
// connection receives at most one notification per event").
func (b *Broadcaster) broadcast(ctx context.Context, ev ChangeEvent) {
	notified := map[string]bool{}
	for _, sub := range b.subs.MatchingSubscriptions(ev.Resource) {
		if notified[sub.ConnectionID] {
			continue
		}
		if !matchesFilters(sub.Filters, ev.Attributes) {
			continue
		}
		notified[sub.ConnectionID] = true

		eventType := verbPastTense[ev.Verb]
		if eventType == "" {
			eventType = string(ev.Kind)
		}
		payload := map[string]any{
			"type":           "resource." + eventType,
			"resource":       ev.Resource,
			"id":             ev.ID,
			"subscriptionId": sub.ID,
			"meta":           map[string]any{"timestamp": b.clock.Now()},
		}
		if ev.Kind == ChangeDeleted {
			payload["deletedRecord"] = map[string]any{"id": ev.ID}
		} else if ev.Attributes != nil {
			payload["attributes"] = ev.Attributes
		}
		_ = b.transport.Send(ctx, sub.ConnectionID, payload)
	}
}
