package stream

import (
	"testing"
	"time"
)

func TestRegistryDeduplicates(t *testing.T) {
	r := NewRegistry()

	sub := Subscription{Symbol: "BTC/USDT", Channel: ChannelTicker}
	if !r.Add(sub) {
		t.Fatal("first add must report a new subscription")
	}
	if r.Add(sub) {
		t.Fatal("identical re-add must be a no-op")
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}

	// Same key with changed parameters replaces the entry.
	if !r.Add(Subscription{Symbol: "BTC/USDT", Channel: ChannelTicker, Interval: "5m"}) {
		t.Fatal("changed parameters must count as a new subscription")
	}
	if r.Len() != 1 {
		t.Fatalf("replacement must not grow the registry, Len = %d", r.Len())
	}
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	r.Add(Subscription{Symbol: "ETH/USDT", Channel: ChannelOrderBook, Depth: 20})

	removed, ok := r.Remove("ETH/USDT", ChannelOrderBook)
	if !ok || removed.Depth != 20 {
		t.Fatalf("Remove = %+v, %v", removed, ok)
	}
	if _, ok := r.Remove("ETH/USDT", ChannelOrderBook); ok {
		t.Fatal("second remove must report absence")
	}
}

func TestRegistrySnapshotIsCopy(t *testing.T) {
	r := NewRegistry()
	r.Add(Subscription{Symbol: "BTC/USDT", Channel: ChannelTrades})
	r.Add(Subscription{Channel: ChannelUserData})

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot len = %d, want 2", len(snap))
	}
	r.Clear()
	if r.Len() != 0 {
		t.Fatal("Clear must empty the registry")
	}
	if len(snap) != 2 {
		t.Fatal("snapshot must be unaffected by Clear")
	}
}

func TestBackoffDelayBounds(t *testing.T) {
	p := BackoffPolicy{Base: 100 * time.Millisecond, Max: time.Second}

	for attempt := 0; attempt < 10; attempt++ {
		ceil := p.Base << uint(attempt)
		if ceil > p.Max {
			ceil = p.Max
		}
		for i := 0; i < 50; i++ {
			d := p.Delay(attempt)
			if d <= 0 {
				t.Fatalf("attempt %d: non-positive delay %v", attempt, d)
			}
			if d > ceil+time.Millisecond {
				t.Fatalf("attempt %d: delay %v exceeds ceiling %v", attempt, d, ceil)
			}
		}
	}
}

func TestBackoffExhausted(t *testing.T) {
	unbounded := DefaultBackoff()
	if unbounded.Exhausted(1_000_000) {
		t.Fatal("unbounded policy must never exhaust")
	}
	bounded := BackoffPolicy{Base: time.Second, Max: time.Second, MaxAttempts: 3}
	if bounded.Exhausted(2) {
		t.Fatal("attempt 2 of 3 must not be exhausted")
	}
	if !bounded.Exhausted(3) {
		t.Fatal("attempt 3 of 3 must be exhausted")
	}
}

func TestBusDispatchByType(t *testing.T) {
	bus := NewBus(nil)

	var tickers, orders int
	bus.Subscribe(EventTicker, func(Event) { tickers++ })
	bus.Subscribe(EventOrderUpdate, func(Event) { orders++ })

	bus.Publish(Event{Type: EventTicker, Venue: "binance"})
	bus.Publish(Event{Type: EventTicker, Venue: "bybit"})
	bus.Publish(Event{Type: EventOrderUpdate, Venue: "binance"})
	bus.Publish(Event{Type: EventTrade, Venue: "binance"})

	if tickers != 2 || orders != 1 {
		t.Fatalf("handlers saw tickers=%d orders=%d, want 2 and 1", tickers, orders)
	}
}
