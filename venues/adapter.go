// Package venues defines the uniform capability surface presented over
// venue-specific wire protocols, and the registry that holds the closed
// set of connected adapters.
package venues

import (
	"context"

	"venueflow/errs"
	"venueflow/models"
	"venueflow/stream"
)

// Name identifies a venue family. The set is closed: adapters are
// selected once at account setup, never by string matching inside
// business logic.
type Name string

const (
	Binance        Name = "binance"
	BinanceFutures Name = "binancefutures"
	Bybit          Name = "bybit"
	Kucoin         Name = "kucoin"
)

// ParseName validates a venue name from configuration or storage.
func ParseName(s string) (Name, error) {
	switch Name(s) {
	case Binance, BinanceFutures, Bybit, Kucoin:
		return Name(s), nil
	}
	return "", errs.New(errs.KindUnsupportedVenue, s, "venues.ParseName", "unknown venue %q", s)
}

// Adapter is the capability set implemented by every venue integration.
// All blocking operations take a context. REST queries translate venue
// responses into the canonical data model; failures carry a kind from
// the errs taxonomy.
type Adapter interface {
	Name() Name
	// Sandbox reports whether the current connection uses the venue's
	// sandbox/demo environment.
	Sandbox() bool
	// SupportsSandbox reports whether the venue has a sandbox
	// environment at all, enabling the credential fallback retry.
	SupportsSandbox() bool

	// Connect establishes the REST session and verifies reachability
	// with a lightweight authenticated probe.
	Connect(ctx context.Context, creds models.Credentials) error
	// Disconnect closes any open streaming session and clears
	// subscription state. Idempotent.
	Disconnect() error
	IsConnected() bool

	// Events exposes the adapter's normalized event stream.
	Events() *stream.Bus

	SubscribeTicker(ctx context.Context, symbol string) error
	SubscribeOrderBook(ctx context.Context, symbol string, depth int) error
	SubscribeTrades(ctx context.Context, symbol string) error
	SubscribeKlines(ctx context.Context, symbol, interval string) error
	SubscribeUserData(ctx context.Context) error
	Unsubscribe(ctx context.Context, symbol string, channel stream.ChannelType) error

	GetTicker(ctx context.Context, symbol string) (models.Ticker, error)
	GetOrderBook(ctx context.Context, symbol string, limit int) (models.OrderBook, error)
	GetTrades(ctx context.Context, symbol string, limit int) ([]models.Trade, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Kline, error)
	GetSymbolInfo(ctx context.Context, symbol string) (models.SymbolInfo, error)
	GetExchangeInfo(ctx context.Context) (models.ExchangeInfo, error)
	GetSymbols(ctx context.Context) ([]string, error)
	GetAccountInfo(ctx context.Context) (models.AccountInfo, error)
	GetBalances(ctx context.Context) ([]models.Balance, error)
	GetPositions(ctx context.Context) ([]models.Position, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error)
	GetOrderHistory(ctx context.Context, symbol string, limit int) ([]models.Order, error)

	CreateOrder(ctx context.Context, req models.OrderRequest) (models.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID, clientOrderID string) (models.Order, error)
	GetOrder(ctx context.Context, symbol, orderID, clientOrderID string) (models.Order, error)

	// Normalize and Denormalize are the venue's symbol mapping, exposed
	// so callers can translate without knowing the venue family.
	Normalize(symbol string) (string, error)
	Denormalize(wire string) (string, error)
}

// FundsRouter is the optional capability of venues with a split between
// a funding wallet and a tradable wallet. EnsureTradeBalance moves funds
// from the funding side when the trade balance alone cannot cover the
// required amount; if the combined balances still fall short it returns
// an insufficient-balance error.
type FundsRouter interface {
	EnsureTradeBalance(ctx context.Context, asset string, required float64) error
}
