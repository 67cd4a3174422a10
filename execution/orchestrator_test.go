package execution

import (
	"context"
	"errors"
	"testing"

	appconfig "venueflow/config"
	"venueflow/errs"
	"venueflow/logger"
	"venueflow/models"
	"venueflow/storage"
	"venueflow/stream"
	"venueflow/venues"
)

// fakeAdapter is a scriptable venue adapter for orchestrator tests.
type fakeAdapter struct {
	name            venues.Name
	sandbox         bool
	supportsSandbox bool

	balances []models.Balance
	ticker   models.Ticker

	createCalls  int
	createErrs   []error
	createResult models.Order
	lastCreate   models.OrderRequest

	cancelCalls  int
	cancelErr    error
	cancelResult models.Order

	getResult models.Order
	getErr    error

	connectCalls int
	lastCreds    models.Credentials
}

func (f *fakeAdapter) Name() venues.Name     { return f.name }
func (f *fakeAdapter) Sandbox() bool         { return f.sandbox }
func (f *fakeAdapter) SupportsSandbox() bool { return f.supportsSandbox }

func (f *fakeAdapter) Connect(_ context.Context, creds models.Credentials) error {
	f.connectCalls++
	f.lastCreds = creds
	f.sandbox = creds.Sandbox
	return nil
}

func (f *fakeAdapter) Disconnect() error   { return nil }
func (f *fakeAdapter) IsConnected() bool   { return true }
func (f *fakeAdapter) Events() *stream.Bus { return stream.NewBus(nil) }

func (f *fakeAdapter) SubscribeTicker(context.Context, string) error         { return nil }
func (f *fakeAdapter) SubscribeOrderBook(context.Context, string, int) error { return nil }
func (f *fakeAdapter) SubscribeTrades(context.Context, string) error         { return nil }
func (f *fakeAdapter) SubscribeKlines(context.Context, string, string) error { return nil }
func (f *fakeAdapter) SubscribeUserData(context.Context) error               { return nil }
func (f *fakeAdapter) Unsubscribe(context.Context, string, stream.ChannelType) error {
	return nil
}

func (f *fakeAdapter) GetTicker(context.Context, string) (models.Ticker, error) {
	return f.ticker, nil
}

func (f *fakeAdapter) GetOrderBook(context.Context, string, int) (models.OrderBook, error) {
	return models.OrderBook{}, nil
}
func (f *fakeAdapter) GetTrades(context.Context, string, int) ([]models.Trade, error) {
	return nil, nil
}
func (f *fakeAdapter) GetKlines(context.Context, string, string, int) ([]models.Kline, error) {
	return nil, nil
}
func (f *fakeAdapter) GetSymbolInfo(context.Context, string) (models.SymbolInfo, error) {
	return models.SymbolInfo{}, nil
}
func (f *fakeAdapter) GetExchangeInfo(context.Context) (models.ExchangeInfo, error) {
	return models.ExchangeInfo{}, nil
}
func (f *fakeAdapter) GetSymbols(context.Context) ([]string, error) { return nil, nil }

func (f *fakeAdapter) GetAccountInfo(context.Context) (models.AccountInfo, error) {
	return models.AccountInfo{Venue: string(f.name), Balances: f.balances}, nil
}
func (f *fakeAdapter) GetBalances(context.Context) ([]models.Balance, error) {
	return f.balances, nil
}
func (f *fakeAdapter) GetPositions(context.Context) ([]models.Position, error) { return nil, nil }
func (f *fakeAdapter) GetOpenOrders(context.Context, string) ([]models.Order, error) {
	return nil, nil
}
func (f *fakeAdapter) GetOrderHistory(context.Context, string, int) ([]models.Order, error) {
	return nil, nil
}

func (f *fakeAdapter) CreateOrder(_ context.Context, req models.OrderRequest) (models.Order, error) {
	call := f.createCalls
	f.createCalls++
	f.lastCreate = req
	if call < len(f.createErrs) && f.createErrs[call] != nil {
		return models.Order{}, f.createErrs[call]
	}
	return f.createResult, nil
}

func (f *fakeAdapter) CancelOrder(context.Context, string, string, string) (models.Order, error) {
	f.cancelCalls++
	if f.cancelErr != nil {
		return models.Order{}, f.cancelErr
	}
	return f.cancelResult, nil
}

func (f *fakeAdapter) GetOrder(context.Context, string, string, string) (models.Order, error) {
	return f.getResult, f.getErr
}

func (f *fakeAdapter) Normalize(symbol string) (string, error) { return symbol, nil }
func (f *fakeAdapter) Denormalize(wire string) (string, error) { return wire, nil }

// fakeRouter adds the funding-to-trade transfer capability.
type fakeRouter struct {
	fakeAdapter
	ensureAsset    string
	ensureRequired float64
	ensureErr      error
}

func (f *fakeRouter) EnsureTradeBalance(_ context.Context, asset string, required float64) error {
	f.ensureAsset = asset
	f.ensureRequired = required
	return f.ensureErr
}

type fakeCredSource struct {
	creds      models.Credentials
	calls      int
	lastName   venues.Name
	sandboxReq bool
	err        error
}

func (s *fakeCredSource) Credentials(name venues.Name, sandbox bool) (models.Credentials, error) {
	s.calls++
	s.lastName = name
	s.sandboxReq = sandbox
	if s.err != nil {
		return models.Credentials{}, s.err
	}
	creds := s.creds
	creds.Sandbox = sandbox
	return creds, nil
}

func newTestOrchestrator(t *testing.T, adapter venues.Adapter, creds CredentialSource, cfg appconfig.ExecutionConfig) (*Orchestrator, *storage.MemoryOrderStore) {
	t.Helper()
	registry := venues.NewRegistry()
	registry.Register(adapter)
	store := storage.NewMemoryOrderStore()
	if creds == nil {
		creds = &fakeCredSource{}
	}
	return NewOrchestrator(registry, store, creds, cfg, logger.GetLogger()), store
}

func limitBuy(venue string) models.OrderRequest {
	return models.OrderRequest{
		Venue:    venue,
		Symbol:   "BTC/USDT",
		Side:     models.SideBuy,
		Type:     models.OrderTypeLimit,
		Quantity: 1,
		Price:    100,
	}
}

func TestExecuteOrderRejectsUnfundableWithoutVenueCall(t *testing.T) {
	adapter := &fakeAdapter{
		name:     venues.Binance,
		balances: []models.Balance{{Asset: "USDT", Free: 50, Total: 50}},
	}
	o, _ := newTestOrchestrator(t, adapter, nil, appconfig.ExecutionConfig{})

	_, err := o.ExecuteOrder(context.Background(), limitBuy("binance"))
	if !errs.IsKind(err, errs.KindInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if adapter.createCalls != 0 {
		t.Fatalf("no order may reach the venue, CreateOrder called %d times", adapter.createCalls)
	}
}

func TestExecuteOrderMarketBuyPricesFromTicker(t *testing.T) {
	adapter := &fakeAdapter{
		name:     venues.Binance,
		balances: []models.Balance{{Asset: "USDT", Free: 400, Total: 400}},
		ticker:   models.Ticker{Last: 500},
	}
	o, _ := newTestOrchestrator(t, adapter, nil, appconfig.ExecutionConfig{})

	req := limitBuy("binance")
	req.Type = models.OrderTypeMarket
	req.Price = 0

	_, err := o.ExecuteOrder(context.Background(), req)
	if !errs.IsKind(err, errs.KindInsufficientBalance) {
		t.Fatalf("market buy priced at 500 must fail on 400 free, got %v", err)
	}
	if adapter.createCalls != 0 {
		t.Fatal("precheck failure must not reach the venue")
	}
}

func TestExecuteOrderSubmitsAndPersists(t *testing.T) {
	adapter := &fakeAdapter{
		name:     venues.Binance,
		balances: []models.Balance{{Asset: "USDT", Free: 1000, Total: 1000}},
		createResult: models.Order{
			ID:     "o-1",
			Venue:  "binance",
			Symbol: "BTC/USDT",
			Status: models.OrderStatusNew,
		},
	}
	o, store := newTestOrchestrator(t, adapter, nil, appconfig.ExecutionConfig{})

	order, err := o.ExecuteOrder(context.Background(), limitBuy("binance"))
	if err != nil {
		t.Fatalf("ExecuteOrder failed: %v", err)
	}
	if order.Status != models.OrderStatusNew {
		t.Fatalf("fresh order status = %s, want NEW", order.Status)
	}
	if _, ok := store.Get(context.Background(), "binance", "o-1"); !ok {
		t.Fatal("order must be persisted after submission")
	}
}

func TestExecuteOrderMapsActionForSpot(t *testing.T) {
	tests := []struct {
		action models.PositionAction
		want   models.Side
	}{
		{models.ActionOpenLong, models.SideBuy},
		{models.ActionCloseShort, models.SideBuy},
		{models.ActionCloseLong, models.SideSell},
		{models.ActionOpenShort, models.SideSell},
	}
	for _, tt := range tests {
		adapter := &fakeAdapter{
			name: venues.Binance,
			balances: []models.Balance{
				{Asset: "USDT", Free: 1000, Total: 1000},
				{Asset: "BTC", Free: 10, Total: 10},
			},
			createResult: models.Order{ID: "o-1", Venue: "binance", Status: models.OrderStatusNew},
		}
		o, _ := newTestOrchestrator(t, adapter, nil, appconfig.ExecutionConfig{})

		req := limitBuy("binance")
		req.Side = ""
		req.Action = tt.action
		if _, err := o.ExecuteOrder(context.Background(), req); err != nil {
			t.Fatalf("action %s: %v", tt.action, err)
		}
		if adapter.lastCreate.Side != tt.want {
			t.Errorf("action %s mapped to %s, want %s", tt.action, adapter.lastCreate.Side, tt.want)
		}
	}
}

func TestExecuteOrderRoutesFundsBeforeSubmission(t *testing.T) {
	adapter := &fakeRouter{fakeAdapter: fakeAdapter{
		name:         venues.Kucoin,
		balances:     []models.Balance{{Asset: "USDT", Free: 1000, Total: 1000}},
		createResult: models.Order{ID: "o-1", Venue: "kucoin", Status: models.OrderStatusNew},
	}}
	o, _ := newTestOrchestrator(t, adapter, nil, appconfig.ExecutionConfig{})

	if _, err := o.ExecuteOrder(context.Background(), limitBuy("kucoin")); err != nil {
		t.Fatalf("ExecuteOrder failed: %v", err)
	}
	if adapter.ensureAsset != "USDT" || adapter.ensureRequired != 100 {
		t.Fatalf("EnsureTradeBalance got (%s, %v), want (USDT, 100)", adapter.ensureAsset, adapter.ensureRequired)
	}
}

func TestExecuteOrderSandboxFallbackRetriesOnce(t *testing.T) {
	authErr := errs.New(errs.KindAuth, "bybit", "bybit.CreateOrder", "invalid api key")
	adapter := &fakeAdapter{
		name:            venues.Bybit,
		supportsSandbox: true,
		balances:        []models.Balance{{Asset: "USDT", Free: 1000, Total: 1000}},
		createErrs:      []error{authErr},
		createResult:    models.Order{ID: "o-sb", Venue: "bybit", Status: models.OrderStatusNew},
	}
	creds := &fakeCredSource{creds: models.Credentials{APIKey: "k", APISecret: "s"}}
	o, _ := newTestOrchestrator(t, adapter, creds, appconfig.ExecutionConfig{SandboxFallback: true})

	order, err := o.ExecuteOrder(context.Background(), limitBuy("bybit"))
	if err != nil {
		t.Fatalf("fallback submission failed: %v", err)
	}
	if order.ID != "o-sb" {
		t.Fatalf("unexpected order %+v", order)
	}
	if adapter.createCalls != 2 {
		t.Fatalf("CreateOrder called %d times, want exactly 2", adapter.createCalls)
	}
	if adapter.connectCalls != 1 || !adapter.lastCreds.Sandbox {
		t.Fatalf("adapter must reconnect once with sandbox credentials, connects=%d sandbox=%v",
			adapter.connectCalls, adapter.lastCreds.Sandbox)
	}
	if !creds.sandboxReq {
		t.Fatal("credential source must be asked for sandbox credentials")
	}
}

func TestExecuteOrderSandboxFallbackIsSingleShot(t *testing.T) {
	authErr := errs.New(errs.KindAuth, "bybit", "bybit.CreateOrder", "invalid api key")
	adapter := &fakeAdapter{
		name:            venues.Bybit,
		supportsSandbox: true,
		balances:        []models.Balance{{Asset: "USDT", Free: 1000, Total: 1000}},
		createErrs:      []error{authErr, authErr},
	}
	creds := &fakeCredSource{}
	o, _ := newTestOrchestrator(t, adapter, creds, appconfig.ExecutionConfig{SandboxFallback: true})

	_, err := o.ExecuteOrder(context.Background(), limitBuy("bybit"))
	if !errs.IsKind(err, errs.KindAuth) {
		t.Fatalf("expected auth error after failed retry, got %v", err)
	}
	if adapter.createCalls != 2 {
		t.Fatalf("CreateOrder called %d times, the fallback retries exactly once", adapter.createCalls)
	}
}

func TestExecuteOrderNoFallbackWhenDisabled(t *testing.T) {
	authErr := errs.New(errs.KindAuth, "bybit", "bybit.CreateOrder", "invalid api key")
	adapter := &fakeAdapter{
		name:            venues.Bybit,
		supportsSandbox: true,
		balances:        []models.Balance{{Asset: "USDT", Free: 1000, Total: 1000}},
		createErrs:      []error{authErr},
	}
	o, _ := newTestOrchestrator(t, adapter, nil, appconfig.ExecutionConfig{SandboxFallback: false})

	_, err := o.ExecuteOrder(context.Background(), limitBuy("bybit"))
	if !errs.IsKind(err, errs.KindAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if adapter.createCalls != 1 || adapter.connectCalls != 0 {
		t.Fatalf("disabled fallback must not retry, creates=%d connects=%d",
			adapter.createCalls, adapter.connectCalls)
	}
}

func TestExecuteOrderValidation(t *testing.T) {
	adapter := &fakeAdapter{name: venues.Binance}
	o, _ := newTestOrchestrator(t, adapter, nil, appconfig.ExecutionConfig{})

	tests := []struct {
		name   string
		mutate func(*models.OrderRequest)
	}{
		{"missing venue", func(r *models.OrderRequest) { r.Venue = "" }},
		{"bad symbol", func(r *models.OrderRequest) { r.Symbol = "BTCUSDT" }},
		{"zero quantity", func(r *models.OrderRequest) { r.Quantity = 0 }},
		{"limit without price", func(r *models.OrderRequest) { r.Price = 0 }},
		{"no side or action", func(r *models.OrderRequest) { r.Side = ""; r.Action = "" }},
		{"unknown type", func(r *models.OrderRequest) { r.Type = "TRAILING" }},
	}
	for _, tt := range tests {
		req := limitBuy("binance")
		tt.mutate(&req)
		_, err := o.ExecuteOrder(context.Background(), req)
		if !errs.IsKind(err, errs.KindValidation) {
			t.Errorf("%s: expected validation error, got %v", tt.name, err)
		}
		if adapter.createCalls != 0 {
			t.Fatalf("%s: invalid request must not reach the venue", tt.name)
		}
	}
}

func TestCancelTerminalOrderIsLocalError(t *testing.T) {
	adapter := &fakeAdapter{name: venues.Binance}
	o, store := newTestOrchestrator(t, adapter, nil, appconfig.ExecutionConfig{})

	store.Put(context.Background(), models.Order{
		ID:     "o-9",
		Venue:  "binance",
		Symbol: "BTC/USDT",
		Status: models.OrderStatusFilled,
	})

	_, err := o.CancelOrder(context.Background(), "binance", "BTC/USDT", "o-9", "")
	if !errs.IsKind(err, errs.KindInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if adapter.cancelCalls != 0 {
		t.Fatal("terminal order cancel must not reach the venue")
	}
}

func TestCancelOrderPersistsResult(t *testing.T) {
	adapter := &fakeAdapter{
		name: venues.Binance,
		cancelResult: models.Order{
			ID:     "o-5",
			Venue:  "binance",
			Status: models.OrderStatusCanceled,
		},
	}
	o, store := newTestOrchestrator(t, adapter, nil, appconfig.ExecutionConfig{})

	order, err := o.CancelOrder(context.Background(), "binance", "BTC/USDT", "o-5", "")
	if err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}
	if order.Status != models.OrderStatusCanceled {
		t.Fatalf("status = %s, want CANCELED", order.Status)
	}
	stored, ok := store.Get(context.Background(), "binance", "o-5")
	if !ok || stored.Status != models.OrderStatusCanceled {
		t.Fatalf("canceled order must be persisted, got %+v ok=%v", stored, ok)
	}
}

func TestModifyOrderRejectsMarketOrders(t *testing.T) {
	adapter := &fakeAdapter{name: venues.Binance}
	o, store := newTestOrchestrator(t, adapter, nil, appconfig.ExecutionConfig{})

	store.Put(context.Background(), models.Order{
		ID:     "o-m",
		Venue:  "binance",
		Type:   models.OrderTypeMarket,
		Status: models.OrderStatusNew,
	})

	_, err := o.ModifyOrder(context.Background(), "binance", "BTC/USDT", "o-m", "", 200, 1)
	if !errs.IsKind(err, errs.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if adapter.cancelCalls != 0 {
		t.Fatal("rejected modify must not cancel anything")
	}
}

func TestModifyOrderReplaceFailureNamesCanceledOrder(t *testing.T) {
	adapter := &fakeAdapter{
		name: venues.Binance,
		cancelResult: models.Order{
			ID:     "o-7",
			Venue:  "binance",
			Status: models.OrderStatusCanceled,
		},
		createErrs: []error{errs.New(errs.KindValidation, "binance", "binance.CreateOrder", "lot size")},
	}
	o, store := newTestOrchestrator(t, adapter, nil, appconfig.ExecutionConfig{})

	store.Put(context.Background(), models.Order{
		ID:       "o-7",
		Venue:    "binance",
		Symbol:   "BTC/USDT",
		Side:     models.SideBuy,
		Type:     models.OrderTypeLimit,
		Quantity: 1,
		Price:    100,
		Status:   models.OrderStatusNew,
	})

	_, err := o.ModifyOrder(context.Background(), "binance", "BTC/USDT", "o-7", "", 120, 1)
	var replaceErr *ReplaceError
	if !errors.As(err, &replaceErr) {
		t.Fatalf("expected *ReplaceError, got %T: %v", err, err)
	}
	if replaceErr.CanceledOrderID != "o-7" {
		t.Fatalf("ReplaceError names %q, want o-7", replaceErr.CanceledOrderID)
	}
	if adapter.cancelCalls != 1 || adapter.createCalls != 1 {
		t.Fatalf("cancel/create calls = %d/%d, want 1/1", adapter.cancelCalls, adapter.createCalls)
	}
}

func TestModifyOrderReplacesWithNewLevels(t *testing.T) {
	adapter := &fakeAdapter{
		name: venues.Binance,
		cancelResult: models.Order{
			ID:     "o-8",
			Venue:  "binance",
			Status: models.OrderStatusCanceled,
		},
		createResult: models.Order{
			ID:     "o-8b",
			Venue:  "binance",
			Status: models.OrderStatusNew,
		},
	}
	o, store := newTestOrchestrator(t, adapter, nil, appconfig.ExecutionConfig{})

	store.Put(context.Background(), models.Order{
		ID:          "o-8",
		Venue:       "binance",
		Symbol:      "BTC/USDT",
		Side:        models.SideSell,
		Type:        models.OrderTypeLimit,
		Quantity:    2,
		ExecutedQty: 0.5,
		Price:       100,
		TimeInForce: models.TimeInForceGTC,
		Status:      models.OrderStatusPartiallyFilled,
	})

	order, err := o.ModifyOrder(context.Background(), "binance", "BTC/USDT", "o-8", "", 110, 0)
	if err != nil {
		t.Fatalf("ModifyOrder failed: %v", err)
	}
	if order.ID != "o-8b" {
		t.Fatalf("replacement order = %+v", order)
	}
	if adapter.lastCreate.Price != 110 {
		t.Errorf("replacement price = %v, want 110", adapter.lastCreate.Price)
	}
	if adapter.lastCreate.Quantity != 1.5 {
		t.Errorf("replacement quantity = %v, want the unfilled remainder 1.5", adapter.lastCreate.Quantity)
	}
	if adapter.lastCreate.Side != models.SideSell || adapter.lastCreate.TimeInForce != models.TimeInForceGTC {
		t.Errorf("replacement must inherit side and time in force, got %+v", adapter.lastCreate)
	}
}
