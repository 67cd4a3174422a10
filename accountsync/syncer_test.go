package accountsync

import (
	"context"
	"testing"
	"time"

	appconfig "venueflow/config"
	"venueflow/errs"
	"venueflow/logger"
	"venueflow/models"
	"venueflow/storage"
	"venueflow/stream"
	"venueflow/venues"
)

// pollAdapter fakes the account surface of a venue adapter. failures is
// the number of GetBalances calls that error before success.
type pollAdapter struct {
	name      venues.Name
	balances  []models.Balance
	positions []models.Position
	failures  int
	calls     int
}

func (f *pollAdapter) Name() venues.Name     { return f.name }
func (f *pollAdapter) Sandbox() bool         { return false }
func (f *pollAdapter) SupportsSandbox() bool { return false }

func (f *pollAdapter) Connect(context.Context, models.Credentials) error { return nil }
func (f *pollAdapter) Disconnect() error                                 { return nil }
func (f *pollAdapter) IsConnected() bool                                 { return true }
func (f *pollAdapter) Events() *stream.Bus                               { return stream.NewBus(nil) }

func (f *pollAdapter) SubscribeTicker(context.Context, string) error         { return nil }
func (f *pollAdapter) SubscribeOrderBook(context.Context, string, int) error { return nil }
func (f *pollAdapter) SubscribeTrades(context.Context, string) error         { return nil }
func (f *pollAdapter) SubscribeKlines(context.Context, string, string) error { return nil }
func (f *pollAdapter) SubscribeUserData(context.Context) error               { return nil }
func (f *pollAdapter) Unsubscribe(context.Context, string, stream.ChannelType) error {
	return nil
}

func (f *pollAdapter) GetTicker(context.Context, string) (models.Ticker, error) {
	return models.Ticker{}, nil
}
func (f *pollAdapter) GetOrderBook(context.Context, string, int) (models.OrderBook, error) {
	return models.OrderBook{}, nil
}
func (f *pollAdapter) GetTrades(context.Context, string, int) ([]models.Trade, error) {
	return nil, nil
}
func (f *pollAdapter) GetKlines(context.Context, string, string, int) ([]models.Kline, error) {
	return nil, nil
}
func (f *pollAdapter) GetSymbolInfo(context.Context, string) (models.SymbolInfo, error) {
	return models.SymbolInfo{}, nil
}
func (f *pollAdapter) GetExchangeInfo(context.Context) (models.ExchangeInfo, error) {
	return models.ExchangeInfo{}, nil
}
func (f *pollAdapter) GetSymbols(context.Context) ([]string, error) { return nil, nil }

func (f *pollAdapter) GetAccountInfo(context.Context) (models.AccountInfo, error) {
	return models.AccountInfo{Venue: string(f.name), Balances: f.balances}, nil
}

func (f *pollAdapter) GetBalances(context.Context) ([]models.Balance, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errs.New(errs.KindConnection, string(f.name), "GetBalances", "venue unreachable")
	}
	return f.balances, nil
}

func (f *pollAdapter) GetPositions(context.Context) ([]models.Position, error) {
	return f.positions, nil
}

func (f *pollAdapter) GetOpenOrders(context.Context, string) ([]models.Order, error) {
	return nil, nil
}
func (f *pollAdapter) GetOrderHistory(context.Context, string, int) ([]models.Order, error) {
	return nil, nil
}
func (f *pollAdapter) CreateOrder(context.Context, models.OrderRequest) (models.Order, error) {
	return models.Order{}, nil
}
func (f *pollAdapter) CancelOrder(context.Context, string, string, string) (models.Order, error) {
	return models.Order{}, nil
}
func (f *pollAdapter) GetOrder(context.Context, string, string, string) (models.Order, error) {
	return models.Order{}, nil
}

func (f *pollAdapter) Normalize(symbol string) (string, error) { return symbol, nil }
func (f *pollAdapter) Denormalize(wire string) (string, error) { return wire, nil }

type recordingArchiver struct {
	snapshots []models.AccountSnapshot
}

func (a *recordingArchiver) Add(snapshot models.AccountSnapshot) {
	a.snapshots = append(a.snapshots, snapshot)
}

func TestTickIsolatesVenueFailures(t *testing.T) {
	registry := venues.NewRegistry()
	registry.Register(&pollAdapter{
		name:     venues.Binance,
		balances: []models.Balance{{Asset: "USDT", Free: 100, Total: 100}},
	})
	registry.Register(&pollAdapter{
		name:     venues.Bybit,
		failures: 100,
	})
	registry.Register(&pollAdapter{
		name:     venues.Kucoin,
		balances: []models.Balance{{Asset: "BTC", Free: 1, Total: 1}},
	})

	store := storage.NewMemorySnapshotStore(8)
	syncer := NewSyncer(registry, store, nil, appconfig.SyncConfig{
		PollingInterval: time.Minute,
		Exchanges:       []string{"binance", "bybit", "kucoin"},
	}, logger.GetLogger())

	results := syncer.Tick(context.Background())
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	byVenue := make(map[string]models.PollingResult)
	for _, r := range results {
		byVenue[r.Venue] = r
	}
	if !byVenue["binance"].Success || !byVenue["kucoin"].Success {
		t.Fatalf("healthy venues must succeed: %+v", byVenue)
	}
	if byVenue["bybit"].Success || byVenue["bybit"].Error == "" {
		t.Fatalf("failing venue must report its error: %+v", byVenue["bybit"])
	}

	if _, ok := store.Latest(context.Background(), "binance"); !ok {
		t.Fatal("successful snapshot must be stored")
	}
	if _, ok := store.Latest(context.Background(), "bybit"); ok {
		t.Fatal("failed venue must not store a snapshot")
	}
}

func TestTickRetriesBeforeGivingUp(t *testing.T) {
	adapter := &pollAdapter{
		name:     venues.Binance,
		failures: 2,
		balances: []models.Balance{{Asset: "USDT", Free: 50, Total: 50}},
	}
	registry := venues.NewRegistry()
	registry.Register(adapter)

	store := storage.NewMemorySnapshotStore(8)
	syncer := NewSyncer(registry, store, nil, appconfig.SyncConfig{
		PollingInterval: time.Minute,
		RetryAttempts:   2,
		RetryDelay:      time.Millisecond,
	}, logger.GetLogger())

	results := syncer.Tick(context.Background())
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("poll must succeed on the final retry: %+v", results)
	}
	if adapter.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", adapter.calls)
	}
}

func TestTickAggregatesTotals(t *testing.T) {
	registry := venues.NewRegistry()
	registry.Register(&pollAdapter{
		name: venues.BinanceFutures,
		balances: []models.Balance{
			{Asset: "USDT", Free: 900, Locked: 100, Total: 1000},
		},
		positions: []models.Position{
			{Symbol: "BTC/USDT:USDT", Side: models.PositionSideLong, Quantity: 0.1, MarkPrice: 50000, UnrealizedPnL: 120},
			{Symbol: "ETH/USDT:USDT", Side: models.PositionSideShort, Quantity: 2, MarkPrice: 3000, UnrealizedPnL: -40},
		},
	})

	store := storage.NewMemorySnapshotStore(8)
	archiver := &recordingArchiver{}
	syncer := NewSyncer(registry, store, archiver, appconfig.SyncConfig{
		PollingInterval:   time.Minute,
		EnablePersistence: true,
	}, logger.GetLogger())

	results := syncer.Tick(context.Background())
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("tick failed: %+v", results)
	}
	snap := results[0].Snapshot
	if snap.TotalBalance != 1000 {
		t.Errorf("TotalBalance = %v, want 1000", snap.TotalBalance)
	}
	if snap.TotalNotional != 5000+6000 {
		t.Errorf("TotalNotional = %v, want 11000", snap.TotalNotional)
	}
	if snap.TotalPnL != 80 {
		t.Errorf("TotalPnL = %v, want 80", snap.TotalPnL)
	}
	if snap.PositionCount != 2 {
		t.Errorf("PositionCount = %d, want 2", snap.PositionCount)
	}
	if len(archiver.snapshots) != 1 {
		t.Errorf("archiver received %d snapshots, want 1", len(archiver.snapshots))
	}
}

func TestStartStopCompletesInFlightTick(t *testing.T) {
	registry := venues.NewRegistry()
	registry.Register(&pollAdapter{
		name:     venues.Binance,
		balances: []models.Balance{{Asset: "USDT", Free: 1, Total: 1}},
	})

	store := storage.NewMemorySnapshotStore(8)
	syncer := NewSyncer(registry, store, nil, appconfig.SyncConfig{
		PollingInterval: 10 * time.Millisecond,
	}, logger.GetLogger())

	if err := syncer.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := syncer.Start(context.Background()); err == nil {
		t.Fatal("second Start must fail while running")
	}

	time.Sleep(30 * time.Millisecond)
	syncer.Stop()

	if _, ok := store.Latest(context.Background(), "binance"); !ok {
		t.Fatal("at least one tick must have completed before Stop returned")
	}

	// Stop is idempotent.
	syncer.Stop()
}
