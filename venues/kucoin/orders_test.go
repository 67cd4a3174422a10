package kucoin

import (
	"testing"

	"venueflow/config"
	"venueflow/logger"
	"venueflow/models"
	"venueflow/stream"
)

func testAdapter(t *testing.T) *Adapter {
	t.Helper()
	return New(config.VenueConfig{}, config.StreamConfig{}, logger.GetLogger())
}

func TestOrderStatusFromFlags(t *testing.T) {
	tests := []struct {
		name  string
		order wireOrder
		want  models.OrderStatus
	}{
		{"resting", wireOrder{IsActive: true}, models.OrderStatusNew},
		{"partially dealt", wireOrder{IsActive: true, DealSize: "0.3"}, models.OrderStatusPartiallyFilled},
		{"canceled", wireOrder{CancelExist: true}, models.OrderStatusCanceled},
		{"done", wireOrder{DealSize: "1"}, models.OrderStatusFilled},
	}
	for _, tt := range tests {
		if got := orderStatus(&tt.order); got != tt.want {
			t.Errorf("%s: orderStatus = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestIntervalMapping(t *testing.T) {
	tests := []struct {
		canonical string
		wire      string
	}{
		{"1m", "1min"},
		{"15m", "15min"},
		{"1h", "1hour"},
		{"8h", "8hour"},
		{"1d", "1day"},
		{"1w", "1week"},
	}
	for _, tt := range tests {
		if got := wireInterval(tt.canonical); got != tt.wire {
			t.Errorf("wireInterval(%q) = %q, want %q", tt.canonical, got, tt.wire)
		}
		if got := canonicalInterval(tt.wire); got != tt.canonical {
			t.Errorf("canonicalInterval(%q) = %q, want %q", tt.wire, got, tt.canonical)
		}
	}
	if got := wireInterval(""); got != "1min" {
		t.Errorf("empty interval defaults to %q", got)
	}
}

func TestTopicsForUserData(t *testing.T) {
	a := testAdapter(t)
	topics, err := a.topicsFor(stream.Subscription{Channel: stream.ChannelUserData})
	if err != nil {
		t.Fatalf("topicsFor failed: %v", err)
	}
	if len(topics) != 2 {
		t.Fatalf("got %d topics, want 2", len(topics))
	}
	want := map[string]bool{"/spotMarket/tradeOrders": true, "/account/balance": true}
	for _, topic := range topics {
		if !want[topic.name] {
			t.Errorf("unexpected topic %q", topic.name)
		}
		if !topic.private {
			t.Errorf("topic %q must be private", topic.name)
		}
	}
}

func TestTopicsForDepthClamp(t *testing.T) {
	a := testAdapter(t)
	tests := []struct {
		depth int
		want  string
	}{
		{5, "/spotMarket/level2Depth5:BTC-USDT"},
		{50, "/spotMarket/level2Depth50:BTC-USDT"},
		{20, "/spotMarket/level2Depth50:BTC-USDT"},
		{0, "/spotMarket/level2Depth50:BTC-USDT"},
	}
	for _, tt := range tests {
		topics, err := a.topicsFor(stream.Subscription{
			Symbol:  "BTC/USDT",
			Channel: stream.ChannelOrderBook,
			Depth:   tt.depth,
		})
		if err != nil {
			t.Fatalf("depth %d: %v", tt.depth, err)
		}
		if len(topics) != 1 || topics[0].name != tt.want {
			t.Errorf("depth %d: got %v, want %q", tt.depth, topics, tt.want)
		}
		if topics[0].private {
			t.Errorf("depth %d: market data topic must be public", tt.depth)
		}
	}
}

func TestTopicsForKlines(t *testing.T) {
	a := testAdapter(t)
	topics, err := a.topicsFor(stream.Subscription{
		Symbol:   "ETH/USDT",
		Channel:  stream.ChannelKlines,
		Interval: "4h",
	})
	if err != nil {
		t.Fatalf("topicsFor failed: %v", err)
	}
	if len(topics) != 1 || topics[0].name != "/market/candles:ETH-USDT_4hour" {
		t.Fatalf("got %v", topics)
	}
}
