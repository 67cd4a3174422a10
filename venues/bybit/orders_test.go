package bybit

import (
	"testing"

	"venueflow/errs"
	"venueflow/models"
)

func TestStatusFromWire(t *testing.T) {
	tests := []struct {
		wire string
		want models.OrderStatus
	}{
		{"New", models.OrderStatusNew},
		{"Untriggered", models.OrderStatusNew},
		{"Created", models.OrderStatusNew},
		{"PartiallyFilled", models.OrderStatusPartiallyFilled},
		{"Filled", models.OrderStatusFilled},
		{"Cancelled", models.OrderStatusCanceled},
		{"PartiallyFilledCanceled", models.OrderStatusCanceled},
		{"Rejected", models.OrderStatusRejected},
		{"Deactivated", models.OrderStatusExpired},
		{"Expired", models.OrderStatusExpired},
	}
	for _, tt := range tests {
		if got := statusFromWire(tt.wire); got != tt.want {
			t.Errorf("statusFromWire(%q) = %s, want %s", tt.wire, got, tt.want)
		}
	}
}

func TestResolveSide(t *testing.T) {
	tests := []struct {
		action     models.PositionAction
		category   string
		wantSide   string
		wantReduce bool
	}{
		{models.ActionOpenLong, "linear", "Buy", false},
		{models.ActionCloseLong, "linear", "Sell", true},
		{models.ActionOpenShort, "linear", "Sell", false},
		{models.ActionCloseShort, "linear", "Buy", true},
		// Spot has no reduce-only concept.
		{models.ActionCloseLong, "spot", "Sell", false},
		{models.ActionCloseShort, "spot", "Buy", false},
	}
	for _, tt := range tests {
		req := models.OrderRequest{Action: tt.action}
		side, reduce, err := resolveSide(req, tt.category)
		if err != nil {
			t.Fatalf("resolveSide(%s, %s) failed: %v", tt.action, tt.category, err)
		}
		if side != tt.wantSide || reduce != tt.wantReduce {
			t.Errorf("resolveSide(%s, %s) = (%s, %v), want (%s, %v)",
				tt.action, tt.category, side, reduce, tt.wantSide, tt.wantReduce)
		}
	}

	// Explicit side passes through.
	side, reduce, err := resolveSide(models.OrderRequest{Side: models.SideSell}, "spot")
	if err != nil || side != "Sell" || reduce {
		t.Fatalf("explicit side = (%s, %v, %v)", side, reduce, err)
	}

	if _, _, err := resolveSide(models.OrderRequest{}, "spot"); !errs.IsKind(err, errs.KindValidation) {
		t.Fatalf("empty side and action must be a validation error, got %v", err)
	}
	if _, _, err := resolveSide(models.OrderRequest{Action: "hedge"}, "linear"); !errs.IsKind(err, errs.KindValidation) {
		t.Fatalf("unknown action must be a validation error, got %v", err)
	}
}

func TestIntervalMapping(t *testing.T) {
	tests := []struct {
		canonical string
		wire      string
	}{
		{"1m", "1"},
		{"5m", "5"},
		{"1h", "60"},
		{"4h", "240"},
		{"1d", "D"},
		{"1w", "W"},
	}
	for _, tt := range tests {
		if got := wireInterval(tt.canonical); got != tt.wire {
			t.Errorf("wireInterval(%q) = %q, want %q", tt.canonical, got, tt.wire)
		}
		if got := canonicalInterval(tt.wire); got != tt.canonical {
			t.Errorf("canonicalInterval(%q) = %q, want %q", tt.wire, got, tt.canonical)
		}
	}
}

func TestCategoryOf(t *testing.T) {
	cat, err := categoryOf("BTC/USDT")
	if err != nil || cat != "spot" {
		t.Fatalf("categoryOf spot = %q, %v", cat, err)
	}
	cat, err = categoryOf("BTC/USDT:USDT")
	if err != nil || cat != "linear" {
		t.Fatalf("categoryOf linear = %q, %v", cat, err)
	}
	if _, err := categoryOf("BTCUSDT"); err == nil {
		t.Fatal("malformed symbol must fail")
	}
}

func TestOrderFromWire(t *testing.T) {
	wire := &wireOrder{
		OrderID:      "1234",
		OrderLinkID:  "cli-7",
		Side:         "Buy",
		OrderType:    "Limit",
		Qty:          "0.5",
		Price:        "60000",
		OrderStatus:  "PartiallyFilled",
		TimeInForce:  "GTC",
		CumExecQty:   "0.2",
		CumExecValue: "12000",
		CreatedTime:  "1711900800000",
		UpdatedTime:  "1711900900000",
	}
	order := orderFromWire("BTC/USDT", wire)

	if order.ID != "1234" || order.ClientOrderID != "cli-7" {
		t.Fatalf("ids = %q/%q", order.ID, order.ClientOrderID)
	}
	if order.Venue != "bybit" || order.Symbol != "BTC/USDT" {
		t.Fatalf("venue/symbol = %q/%q", order.Venue, order.Symbol)
	}
	if order.Side != models.SideBuy || order.Type != models.OrderTypeLimit {
		t.Fatalf("side/type = %s/%s", order.Side, order.Type)
	}
	if order.Quantity != 0.5 || order.Price != 60000 {
		t.Fatalf("qty/price = %v/%v", order.Quantity, order.Price)
	}
	if order.Status != models.OrderStatusPartiallyFilled {
		t.Fatalf("status = %s", order.Status)
	}
	if order.ExecutedQty != 0.2 || order.CumQuoteQty != 12000 {
		t.Fatalf("fills = %v/%v", order.ExecutedQty, order.CumQuoteQty)
	}
	if order.CreatedAt.UnixMilli() != 1711900800000 {
		t.Fatalf("created = %v", order.CreatedAt)
	}
}
