package stream

import "sync"

// ChannelType identifies a streaming channel family.
type ChannelType string

const (
	ChannelTicker    ChannelType = "ticker"
	ChannelOrderBook ChannelType = "orderbook"
	ChannelTrades    ChannelType = "trades"
	ChannelKlines    ChannelType = "klines"
	ChannelUserData  ChannelType = "userdata"
)

// Subscription is one active streaming channel for an instrument.
// UserData subscriptions carry an empty symbol.
type Subscription struct {
	Symbol   string
	Channel  ChannelType
	Interval string // candle interval, klines only
	Depth    int    // book depth, orderbook only
}

// Key identifies a subscription for deduplication. Parameters such as
// the candle interval are payload, not identity: resubscribing the same
// (symbol, channel) with a new interval replaces the entry.
type Key struct {
	Symbol  string
	Channel ChannelType
}

func (s Subscription) key() Key { return Key{Symbol: s.Symbol, Channel: s.Channel} }

// Registry tracks the set of active subscriptions for one adapter. It is
// mutated only by subscribe/unsubscribe calls and read during
// reconnection replay.
type Registry struct {
	mu   sync.Mutex
	subs map[Key]Subscription
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[Key]Subscription)}
}

// Add records a subscription. It returns false when an identical
// (symbol, channel) entry was already active, making repeat subscribes
// a no-op for callers.
func (r *Registry) Add(s Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.subs[s.key()]; ok && prev == s {
		return false
	}
	r.subs[s.key()] = s
	return true
}

// Remove drops the subscription for (symbol, channel). It returns the
// removed entry and whether one existed.
func (r *Registry) Remove(symbol string, channel ChannelType) (Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := Key{Symbol: symbol, Channel: channel}
	s, ok := r.subs[k]
	if ok {
		delete(r.subs, k)
	}
	return s, ok
}

// Snapshot returns a copy of every active subscription.
func (r *Registry) Snapshot() []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s)
	}
	return out
}

// Len returns the number of active subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Clear drops every subscription. Called on disconnect.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = make(map[Key]Subscription)
}
