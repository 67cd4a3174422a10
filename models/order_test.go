package models

import "testing"

func TestOrderStatusTransitions(t *testing.T) {
	tests := []struct {
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{OrderStatusNew, OrderStatusPartiallyFilled, true},
		{OrderStatusNew, OrderStatusFilled, true},
		{OrderStatusNew, OrderStatusCanceled, true},
		{OrderStatusPartiallyFilled, OrderStatusFilled, true},
		{OrderStatusPartiallyFilled, OrderStatusCanceled, true},
		{OrderStatusPartiallyFilled, OrderStatusNew, false},
		{OrderStatusFilled, OrderStatusCanceled, false},
		{OrderStatusCanceled, OrderStatusNew, false},
		{OrderStatusRejected, OrderStatusFilled, false},
		{OrderStatusExpired, OrderStatusNew, false},
		{OrderStatusNew, OrderStatusNew, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestOrderStatusCancelable(t *testing.T) {
	cancelable := []OrderStatus{OrderStatusNew, OrderStatusPartiallyFilled}
	for _, s := range cancelable {
		if !s.IsCancelable() {
			t.Errorf("%s must be cancelable", s)
		}
		if s.IsTerminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
	terminal := []OrderStatus{OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired}
	for _, s := range terminal {
		if s.IsCancelable() {
			t.Errorf("%s must not be cancelable", s)
		}
		if !s.IsTerminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
}

func TestOrderTypeLimitFamily(t *testing.T) {
	limit := []OrderType{OrderTypeLimit, OrderTypeStopLossLimit, OrderTypeTakeProfitLimit}
	for _, ot := range limit {
		if !ot.IsLimitFamily() {
			t.Errorf("%s must be limit family", ot)
		}
	}
	other := []OrderType{OrderTypeMarket, OrderTypeStopLoss, OrderTypeTakeProfit}
	for _, ot := range other {
		if ot.IsLimitFamily() {
			t.Errorf("%s must not be limit family", ot)
		}
	}
}

func TestBalanceValidate(t *testing.T) {
	tests := []struct {
		name    string
		balance Balance
		wantErr bool
	}{
		{"consistent", Balance{Asset: "BTC", Free: 1, Locked: 0.5, Total: 1.5}, false},
		{"zero", Balance{Asset: "XRP"}, false},
		{"negative free", Balance{Asset: "BTC", Free: -1, Total: -1}, true},
		{"mismatched total", Balance{Asset: "ETH", Free: 1, Locked: 1, Total: 3}, true},
	}
	for _, tt := range tests {
		err := tt.balance.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: Validate() = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestPositionNotional(t *testing.T) {
	p := Position{Symbol: "BTC/USDT:USDT", MarkPrice: 50000, Quantity: 0.2}
	if got := p.Notional(); got != 10000 {
		t.Fatalf("Notional() = %v, want 10000", got)
	}
}
