package models

import (
	"fmt"
	"time"
)

// Credentials holds decrypted venue API credentials. They live only inside
// an adapter connection setup and are never persisted in plaintext.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
	Sandbox    bool
}

// Balance is one asset entry in a venue account.
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
	Total  float64 `json:"total"`
}

// Validate enforces the balance invariant: non-negative components and
// total == free + locked (within a float tolerance).
func (b Balance) Validate() error {
	if b.Free < 0 || b.Locked < 0 || b.Total < 0 {
		return fmt.Errorf("balance %s has negative component", b.Asset)
	}
	const eps = 1e-9
	if diff := b.Total - (b.Free + b.Locked); diff > eps || diff < -eps {
		return fmt.Errorf("balance %s total %.12f != free %.12f + locked %.12f", b.Asset, b.Total, b.Free, b.Locked)
	}
	return nil
}

// Position is an open derivative position. Zero-quantity positions are
// filtered out by adapters, never emitted.
type Position struct {
	Symbol        string       `json:"symbol"`
	Side          PositionSide `json:"side"`
	Quantity      float64      `json:"quantity"`
	EntryPrice    float64      `json:"entry_price"`
	MarkPrice     float64      `json:"mark_price"`
	UnrealizedPnL float64      `json:"unrealized_pnl"`
	Leverage      int          `json:"leverage"`
	Timestamp     time.Time    `json:"timestamp"`
}

// Notional returns the mark value of the position.
func (p Position) Notional() float64 {
	return p.MarkPrice * p.Quantity
}

// AccountInfo is the canonical account summary for a venue.
type AccountInfo struct {
	Venue      string    `json:"venue"`
	CanTrade   bool      `json:"can_trade"`
	Balances   []Balance `json:"balances"`
	UpdateTime time.Time `json:"update_time"`
}

// AccountSnapshot is one per-venue aggregation produced by a polling tick.
// Snapshots are append-only; they are never mutated after creation.
type AccountSnapshot struct {
	Venue         string     `json:"venue"`
	Balances      []Balance  `json:"balances"`
	Positions     []Position `json:"positions"`
	TotalBalance  float64    `json:"total_balance"`
	TotalNotional float64    `json:"total_notional"`
	TotalPnL      float64    `json:"total_pnl"`
	PositionCount int        `json:"position_count"`
	Timestamp     time.Time  `json:"timestamp"`
}

// PollingResult reports the outcome of polling a single venue in a tick.
type PollingResult struct {
	Venue    string           `json:"venue"`
	Success  bool             `json:"success"`
	Error    string           `json:"error,omitempty"`
	Snapshot *AccountSnapshot `json:"snapshot,omitempty"`
}
