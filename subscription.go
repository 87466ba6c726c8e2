package jsonapi

import "sync"

// Filter is one predicate clause of a subscription, drawn from the same
// Operator vocabulary a resource's searchSchema declares for query filters
// (spec.md §4.11: "the filter predicate language is the searchSchema
// operator vocabulary").
type Filter struct {
	Field    string
	Operator Operator
	Value    any
}

// Subscription is one connection's registered interest in a resource's
// change stream (spec.md §4.11).
type Subscription struct {
	ID           string
	ConnectionID string
	Resource     string
	Filters      []Filter
}

// SubscriptionRegistry indexes subscriptions by connection (for teardown)
// and by resource (for broadcast fan-out), guarded by one RWMutex the way
// the teacher's pubsub registry guards its topic map.
type SubscriptionRegistry struct {
	mu           sync.RWMutex
	byConnection map[string]map[string]Subscription
	byResource   map[string]map[string]Subscription // resource -> subID -> Subscription
}

func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{
		byConnection: make(map[string]map[string]Subscription),
		byResource:   make(map[string]map[string]Subscription),
	}
}

// Subscribe registers sub, indexed under both its connection and its
// resource.
func (r *SubscriptionRegistry) Subscribe(sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byConnection[sub.ConnectionID] == nil {
		r.byConnection[sub.ConnectionID] = make(map[string]Subscription)
	}
	r.byConnection[sub.ConnectionID][sub.ID] = sub

	if r.byResource[sub.Resource] == nil {
		r.byResource[sub.Resource] = make(map[string]Subscription)
	}
	r.byResource[sub.Resource][sub.ID] = sub
}

// Unsubscribe removes a single subscription by id.
func (r *SubscriptionRegistry) Unsubscribe(connectionID, subID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.byConnection[connectionID][subID]
	if !ok {
		return
	}
	delete(r.byConnection[connectionID], subID)
	if len(r.byConnection[connectionID]) == 0 {
		delete(r.byConnection, connectionID)
	}
	delete(r.byResource[sub.Resource], subID)
	if len(r.byResource[sub.Resource]) == 0 {
		delete(r.byResource, sub.Resource)
	}
}

// RemoveConnection drops every subscription owned by a closed connection
// (spec.md §4.11: connection close tears down its subscriptions).
func (r *SubscriptionRegistry) RemoveConnection(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for subID, sub := range r.byConnection[connectionID] {
		delete(r.byResource[sub.Resource], subID)
		if len(r.byResource[sub.Resource]) == 0 {
			delete(r.byResource, sub.Resource)
		}
	}
	delete(r.byConnection, connectionID)
}

// MatchingSubscriptions returns every subscription registered against a
// resource, for the broadcaster to filter-evaluate per event.
func (r *SubscriptionRegistry) MatchingSubscriptions(resource string) []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.byResource[resource]
	out := make([]Subscription, 0, len(subs))
	for _, s := range subs {
		out = append(out, s)
	}
	return out
}

// matchesFilters evaluates a subscription's filter clauses against a
// changed record's attributes, using the same Operator semantics as
// storage-level filtering (spec.md §4.11). All clauses must match (AND).
func matchesFilters(filters []Filter, attrs map[string]any) bool {
	for _, f := range filters {
		if !matchesFilter(f, attrs[f.Field]) {
			return false
		}
	}
	return true
}

func matchesFilter(f Filter, actual any) bool {
	switch f.Operator {
	case OpEq:
		return stringifyScalar(actual) == stringifyScalar(f.Value)
	case OpNE:
		return stringifyScalar(actual) != stringifyScalar(f.Value)
	case OpLike:
		return containsSubstring(stringifyScalar(actual), stringifyScalar(f.Value))
	case OpIn:
		values, ok := f.Value.([]any)
		if !ok {
			return false
		}
		a := stringifyScalar(actual)
		for _, v := range values {
			if stringifyScalar(v) == a {
				return true
			}
		}
		return false
	case OpBetween:
		bounds, ok := f.Value.([]any)
		if !ok || len(bounds) != 2 {
			return false
		}
		an, aok := toFloat(actual)
		lo, lok := toFloat(bounds[0])
		hi, hok := toFloat(bounds[1])
		return aok && lok && hok && an >= lo && an <= hi
	case OpLT, OpLTE, OpGT, OpGTE:
		an, aok := toFloat(actual)
		vn, vok := toFloat(f.Value)
		if !aok || !vok {
			return false
		}
		switch f.Operator {
		case OpLT:
			return an < vn
		case OpLTE:
			return an <= vn
		case OpGT:
			return an > vn
		case OpGTE:
			return an >= vn
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func containsSubstring(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	if len(needle) > len(haystack) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
