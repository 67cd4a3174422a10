package binancefutures

import (
	"testing"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"venueflow/config"
	"venueflow/errs"
	"venueflow/logger"
	"venueflow/models"
)

func testAdapter(t *testing.T, dualSide bool) *Adapter {
	t.Helper()
	a := New(config.VenueConfig{}, config.StreamConfig{}, logger.GetLogger())
	a.dualSide = dualSide
	return a
}

func TestResolveRoutingOneWay(t *testing.T) {
	a := testAdapter(t, false)
	tests := []struct {
		action     models.PositionAction
		wantSide   futures.SideType
		wantReduce bool
	}{
		{models.ActionOpenLong, futures.SideTypeBuy, false},
		{models.ActionCloseLong, futures.SideTypeSell, true},
		{models.ActionOpenShort, futures.SideTypeSell, false},
		{models.ActionCloseShort, futures.SideTypeBuy, true},
	}
	for _, tt := range tests {
		r, err := a.resolveRouting(models.OrderRequest{Action: tt.action})
		if err != nil {
			t.Fatalf("resolveRouting(%s): %v", tt.action, err)
		}
		if r.side != tt.wantSide || r.reduceOnly != tt.wantReduce {
			t.Errorf("resolveRouting(%s) = %+v, want side %s reduceOnly %v", tt.action, r, tt.wantSide, tt.wantReduce)
		}
		if r.posSide != "" {
			t.Errorf("resolveRouting(%s): one-way accounts must not tag a position side, got %s", tt.action, r.posSide)
		}
	}
}

func TestResolveRoutingHedgeMode(t *testing.T) {
	a := testAdapter(t, true)
	tests := []struct {
		action   models.PositionAction
		wantSide futures.SideType
		wantPos  futures.PositionSideType
	}{
		{models.ActionOpenLong, futures.SideTypeBuy, futures.PositionSideTypeLong},
		{models.ActionCloseLong, futures.SideTypeSell, futures.PositionSideTypeLong},
		{models.ActionOpenShort, futures.SideTypeSell, futures.PositionSideTypeShort},
		{models.ActionCloseShort, futures.SideTypeBuy, futures.PositionSideTypeShort},
	}
	for _, tt := range tests {
		r, err := a.resolveRouting(models.OrderRequest{Action: tt.action})
		if err != nil {
			t.Fatalf("resolveRouting(%s): %v", tt.action, err)
		}
		if r.side != tt.wantSide || r.posSide != tt.wantPos {
			t.Errorf("resolveRouting(%s) = %+v, want side %s posSide %s", tt.action, r, tt.wantSide, tt.wantPos)
		}
		if r.reduceOnly {
			t.Errorf("resolveRouting(%s): hedge-mode orders must not carry reduce-only", tt.action)
		}
	}
}

func TestResolveRoutingExplicitSide(t *testing.T) {
	a := testAdapter(t, false)

	r, err := a.resolveRouting(models.OrderRequest{
		Side:    models.SideSell,
		Options: models.OrderOptions{ReduceOnly: true},
	})
	if err != nil {
		t.Fatalf("resolveRouting: %v", err)
	}
	if r.side != futures.SideTypeSell || !r.reduceOnly {
		t.Fatalf("explicit side routing = %+v", r)
	}

	if _, err := a.resolveRouting(models.OrderRequest{}); !errs.IsKind(err, errs.KindValidation) {
		t.Fatalf("empty side and action must be a validation error, got %v", err)
	}
	if _, err := a.resolveRouting(models.OrderRequest{Action: "flip"}); !errs.IsKind(err, errs.KindValidation) {
		t.Fatalf("unknown action must be a validation error, got %v", err)
	}
}

func TestStatusFromWire(t *testing.T) {
	tests := []struct {
		wire string
		want models.OrderStatus
	}{
		{"NEW", models.OrderStatusNew},
		{"PARTIALLY_FILLED", models.OrderStatusPartiallyFilled},
		{"FILLED", models.OrderStatusFilled},
		{"CANCELED", models.OrderStatusCanceled},
		{"REJECTED", models.OrderStatusRejected},
		{"EXPIRED", models.OrderStatusExpired},
		{"EXPIRED_IN_MATCH", models.OrderStatusExpired},
	}
	for _, tt := range tests {
		if got := statusFromWire(tt.wire); got != tt.want {
			t.Errorf("statusFromWire(%q) = %s, want %s", tt.wire, got, tt.want)
		}
	}
}

func TestIsNoChangeErr(t *testing.T) {
	if !isNoChangeErr(&common.APIError{Code: -4046, Message: "No need to change margin type."}) {
		t.Error("-4046 must be a no-op")
	}
	if !isNoChangeErr(&common.APIError{Code: -4059, Message: "No need to change position side."}) {
		t.Error("-4059 must be a no-op")
	}
	if isNoChangeErr(&common.APIError{Code: -2019, Message: "Margin is insufficient."}) {
		t.Error("-2019 is a real failure")
	}
}

func TestMapErrTaxonomy(t *testing.T) {
	a := testAdapter(t, false)
	tests := []struct {
		code int64
		msg  string
		want *errs.Kind
	}{
		{-2015, "invalid api key", errs.KindAuth},
		{-1003, "too many requests", errs.KindRateLimit},
		{-2013, "order does not exist", errs.KindNotFound},
		{-2011, "unknown order sent", errs.KindInvalidState},
		{-2018, "balance is insufficient", errs.KindInsufficientBalance},
		{-2019, "margin is insufficient", errs.KindInsufficientBalance},
		{-4061, "order's position side does not match", errs.KindValidation},
	}
	for _, tt := range tests {
		err := a.mapErr("CreateOrder", &common.APIError{Code: tt.code, Message: tt.msg})
		if !errs.IsKind(err, tt.want) {
			t.Errorf("mapErr(%d) = %v, want kind %v", tt.code, err, tt.want)
		}
	}
}

func TestPositionSideFromAmount(t *testing.T) {
	tests := []struct {
		wireSide string
		amount   float64
		want     models.PositionSide
	}{
		{"LONG", 1, models.PositionSideLong},
		{"SHORT", -1, models.PositionSideShort},
		{"BOTH", 2.5, models.PositionSideLong},
		{"BOTH", -2.5, models.PositionSideShort},
	}
	for _, tt := range tests {
		if got := positionSideFromAmount(tt.wireSide, tt.amount); got != tt.want {
			t.Errorf("positionSideFromAmount(%q, %v) = %s, want %s", tt.wireSide, tt.amount, got, tt.want)
		}
	}

	if abs(-3.5) != 3.5 || abs(3.5) != 3.5 {
		t.Error("abs must drop the sign")
	}
}
