package models

import "time"

// Ticker is a point-in-time market observation. Immutable once emitted.
type Ticker struct {
	Venue     string    `json:"venue"`
	Symbol    string    `json:"symbol"`
	Last      float64   `json:"last"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Volume    float64   `json:"volume"`
	QuoteVol  float64   `json:"quote_volume"`
	Timestamp time.Time `json:"timestamp"`
}

// BookLevel is a single price level of an order book.
type BookLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// OrderBook is a depth snapshot, best levels first.
type OrderBook struct {
	Venue        string      `json:"venue"`
	Symbol       string      `json:"symbol"`
	Bids         []BookLevel `json:"bids"`
	Asks         []BookLevel `json:"asks"`
	LastUpdateID int64       `json:"last_update_id,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
}

// Trade is a single public trade print.
type Trade struct {
	Venue     string    `json:"venue"`
	Symbol    string    `json:"symbol"`
	ID        string    `json:"id"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Side      Side      `json:"side"`
	Timestamp time.Time `json:"timestamp"`
}

// Kline is one candle of a windowed observation.
type Kline struct {
	Venue     string    `json:"venue"`
	Symbol    string    `json:"symbol"`
	Interval  string    `json:"interval"`
	OpenTime  time.Time `json:"open_time"`
	CloseTime time.Time `json:"close_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Closed    bool      `json:"closed"`
}

// SymbolInfo describes a tradable instrument as listed by a venue.
type SymbolInfo struct {
	Venue       string  `json:"venue"`
	Symbol      string  `json:"symbol"`
	BaseAsset   string  `json:"base_asset"`
	QuoteAsset  string  `json:"quote_asset"`
	Active      bool    `json:"active"`
	MinQty      float64 `json:"min_qty,omitempty"`
	QtyStep     float64 `json:"qty_step,omitempty"`
	PriceTick   float64 `json:"price_tick,omitempty"`
	MinNotional float64 `json:"min_notional,omitempty"`
}

// ExchangeInfo is the full listing of a venue.
type ExchangeInfo struct {
	Venue   string       `json:"venue"`
	Symbols []SymbolInfo `json:"symbols"`
}
