// Package registry tracks live subscriptions and answers the fan-out
// question: which subscriptions on a connection care about a symbol.
package registry

import (
	"sync"
)

// Subscription ties a window's stream request to its connection and
// symbol set.
type Subscription struct {
	ID        string
	ClientKey string
	WindowID  string
	Stream    string
	Symbols   []string
	Channels  []string

	symbolSet map[string]struct{}
}

// NewSubscription builds a subscription with its symbol set indexed.
func NewSubscription(id, clientKey, windowID, stream string, symbols, channels []string) *Subscription {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}
	return &Subscription{
		ID:        id,
		ClientKey: clientKey,
		WindowID:  windowID,
		Stream:    stream,
		Symbols:   symbols,
		Channels:  channels,
		symbolSet: set,
	}
}

// Wants reports whether the subscription's symbol set contains symbol.
func (s *Subscription) Wants(symbol string) bool {
	_, ok := s.symbolSet[symbol]
	return ok
}

// Registry is the in-memory subscription table. All state is owned by
// the bridge instance that created it; there are no package-level maps.
type Registry struct {
	mu    sync.RWMutex
	subs  map[string]*Subscription // by subscription ID
	byKey map[string][]*Subscription
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		subs:  make(map[string]*Subscription),
		byKey: make(map[string][]*Subscription),
	}
}

// Add records a subscription.
func (r *Registry) Add(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.ID] = sub
	r.byKey[sub.ClientKey] = append(r.byKey[sub.ClientKey], sub)
}

// Remove deletes a subscription by ID and returns it.
func (r *Registry) Remove(id string) (*Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	if !ok {
		return nil, false
	}
	delete(r.subs, id)

	keyed := r.byKey[sub.ClientKey]
	for i, s := range keyed {
		if s.ID == id {
			r.byKey[sub.ClientKey] = append(keyed[:i], keyed[i+1:]...)
			break
		}
	}
	if len(r.byKey[sub.ClientKey]) == 0 {
		delete(r.byKey, sub.ClientKey)
	}
	return sub, true
}

// Get returns a subscription by ID.
func (r *Registry) Get(id string) (*Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[id]
	return sub, ok
}

// ForKey returns the subscriptions sharing a client key in creation
// order. The slice is a copy.
func (r *Registry) ForKey(clientKey string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keyed := r.byKey[clientKey]
	out := make([]*Subscription, len(keyed))
	copy(out, keyed)
	return out
}

// CountForKey returns how many subscriptions reference a client key.
func (r *Registry) CountForKey(clientKey string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey[clientKey])
}

// Count returns the total number of live subscriptions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Match returns, in creation order, every subscription on clientKey
// whose symbol set intersects symbols. Each subscription appears at
// most once regardless of how many symbols matched.
func (r *Registry) Match(clientKey string, symbols []string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Subscription
	for _, sub := range r.byKey[clientKey] {
		for _, sym := range symbols {
			if sub.Wants(sym) {
				out = append(out, sub)
				break
			}
		}
	}
	return out
}

// Clear removes every subscription and returns the removed set.
func (r *Registry) Clear() []*Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Subscription, 0, len(r.subs))
	for _, keyed := range r.byKey {
		out = append(out, keyed...)
	}
	r.subs = make(map[string]*Subscription)
	r.byKey = make(map[string][]*Subscription)
	return out
}
