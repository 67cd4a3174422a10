package models

import "time"

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType identifies the pricing behaviour of an order.
type OrderType string

const (
	OrderTypeMarket          OrderType = "MARKET"
	OrderTypeLimit           OrderType = "LIMIT"
	OrderTypeStopLoss        OrderType = "STOP_LOSS"
	OrderTypeStopLossLimit   OrderType = "STOP_LOSS_LIMIT"
	OrderTypeTakeProfit      OrderType = "TAKE_PROFIT"
	OrderTypeTakeProfitLimit OrderType = "TAKE_PROFIT_LIMIT"
)

// IsLimitFamily reports whether the order type carries a limit price.
// Only these types can be modified via cancel-and-replace.
func (t OrderType) IsLimitFamily() bool {
	switch t {
	case OrderTypeLimit, OrderTypeStopLossLimit, OrderTypeTakeProfitLimit:
		return true
	}
	return false
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether the status is final. Terminal orders never
// transition again.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// IsCancelable reports whether a cancel request is permitted for the status.
func (s OrderStatus) IsCancelable() bool {
	return s == OrderStatusNew || s == OrderStatusPartiallyFilled
}

// CanTransition reports whether the status may move to next. Transitions are
// monotonic: a terminal state never re-opens.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if s == next {
		return false
	}
	if s == OrderStatusPartiallyFilled && next == OrderStatusNew {
		return false
	}
	return true
}

// TimeInForce controls how long an order stays on the book.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// TradeMode selects margin allocation for leveraged orders.
type TradeMode string

const (
	TradeModeCross    TradeMode = "cross"
	TradeModeIsolated TradeMode = "isolated"
)

// PositionSide is the explicit long/short tag required by venues running
// dual-position accounts.
type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// PositionAction is a venue-agnostic intent that the execution layer maps
// to a concrete side plus routing flags per venue.
type PositionAction string

const (
	ActionOpenLong   PositionAction = "open_long"
	ActionCloseLong  PositionAction = "close_long"
	ActionOpenShort  PositionAction = "open_short"
	ActionCloseShort PositionAction = "close_short"
)

// OrderOptions carries venue-specific routing hints alongside an order.
type OrderOptions struct {
	TradeMode    TradeMode    `json:"trade_mode,omitempty"`
	Leverage     int          `json:"leverage,omitempty"`
	PositionSide PositionSide `json:"position_side,omitempty"`
	ReduceOnly   bool         `json:"reduce_only,omitempty"`
	StopPrice    float64      `json:"stop_price,omitempty"`
}

// Order is the canonical view of a venue order.
type Order struct {
	ID            string      `json:"id"`
	ClientOrderID string      `json:"client_order_id,omitempty"`
	Symbol        string      `json:"symbol"`
	Side          Side        `json:"side"`
	Type          OrderType   `json:"type"`
	Quantity      float64     `json:"quantity"`
	Price         float64     `json:"price,omitempty"`
	StopPrice     float64     `json:"stop_price,omitempty"`
	Status        OrderStatus `json:"status"`
	TimeInForce   TimeInForce `json:"time_in_force,omitempty"`
	ExecutedQty   float64     `json:"executed_qty"`
	CumQuoteQty   float64     `json:"cum_quote_qty"`
	Venue         string      `json:"venue"`
	UserID        string      `json:"user_id,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// OrderRequest is an exchange-agnostic order submission.
type OrderRequest struct {
	Venue         string         `json:"venue"`
	Symbol        string         `json:"symbol"`
	Side          Side           `json:"side,omitempty"`
	Action        PositionAction `json:"action,omitempty"`
	Type          OrderType      `json:"type"`
	Quantity      float64        `json:"quantity"`
	Price         float64        `json:"price,omitempty"`
	TimeInForce   TimeInForce    `json:"time_in_force,omitempty"`
	ClientOrderID string         `json:"client_order_id,omitempty"`
	Options       OrderOptions   `json:"options,omitempty"`
}
