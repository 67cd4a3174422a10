package bybit

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"venueflow/errs"
	"venueflow/models"
	"venueflow/symbols"
)

// wireOrder is the V5 order shape shared by REST queries and the order
// topic on the private stream.
type wireOrder struct {
	OrderID      string `json:"orderId"`
	OrderLinkID  string `json:"orderLinkId"`
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	OrderType    string `json:"orderType"`
	Qty          string `json:"qty"`
	Price        string `json:"price"`
	TriggerPrice string `json:"triggerPrice"`
	OrderStatus  string `json:"orderStatus"`
	TimeInForce  string `json:"timeInForce"`
	CumExecQty   string `json:"cumExecQty"`
	CumExecValue string `json:"cumExecValue"`
	CreatedTime  string `json:"createdTime"`
	UpdatedTime  string `json:"updatedTime"`
	Category     string `json:"category"`
}

func orderFromWire(symbol string, o *wireOrder) models.Order {
	created, _ := strconv.ParseInt(o.CreatedTime, 10, 64)
	updated, _ := strconv.ParseInt(o.UpdatedTime, 10, 64)
	return models.Order{
		ID:            o.OrderID,
		ClientOrderID: o.OrderLinkID,
		Symbol:        symbol,
		Side:          sideFromWire(o.Side),
		Type:          orderTypeFromWire(o.OrderType),
		Quantity:      f(o.Qty),
		Price:         f(o.Price),
		StopPrice:     f(o.TriggerPrice),
		Status:        statusFromWire(o.OrderStatus),
		TimeInForce:   models.TimeInForce(o.TimeInForce),
		ExecutedQty:   f(o.CumExecQty),
		CumQuoteQty:   f(o.CumExecValue),
		Venue:         "bybit",
		CreatedAt:     time.UnixMilli(created),
		UpdatedAt:     time.UnixMilli(updated),
	}
}

func sideToWire(s models.Side) string {
	if s == models.SideSell {
		return "Sell"
	}
	return "Buy"
}

func orderTypeToWire(t models.OrderType) string {
	if t == models.OrderTypeMarket {
		return "Market"
	}
	return "Limit"
}

func orderTypeFromWire(t string) models.OrderType {
	if t == "Market" {
		return models.OrderTypeMarket
	}
	return models.OrderTypeLimit
}

func statusFromWire(s string) models.OrderStatus {
	switch s {
	case "New", "Untriggered", "Triggered", "Created":
		return models.OrderStatusNew
	case "PartiallyFilled":
		return models.OrderStatusPartiallyFilled
	case "Filled":
		return models.OrderStatusFilled
	case "Cancelled", "PartiallyFilledCanceled":
		return models.OrderStatusCanceled
	case "Rejected":
		return models.OrderStatusRejected
	case "Deactivated", "Expired":
		return models.OrderStatusExpired
	}
	return models.OrderStatus(s)
}

// resolveSide maps the canonical position action onto a wire side plus
// the reduce-only flag for linear contracts.
func resolveSide(req models.OrderRequest, category string) (string, bool, error) {
	switch req.Action {
	case models.ActionOpenLong:
		return "Buy", false, nil
	case models.ActionCloseLong:
		return "Sell", category == categoryLinear, nil
	case models.ActionOpenShort:
		return "Sell", false, nil
	case models.ActionCloseShort:
		return "Buy", category == categoryLinear, nil
	case "":
		if req.Side != models.SideBuy && req.Side != models.SideSell {
			return "", false, errs.New(errs.KindValidation, "bybit", "CreateOrder", "order side or position action is required")
		}
		reduce := req.Options.ReduceOnly && category == categoryLinear
		return sideToWire(req.Side), reduce, nil
	}
	return "", false, errs.New(errs.KindValidation, "bybit", "CreateOrder", "unknown position action %q", req.Action)
}

// CreateOrder submits an order, applying the leverage hint first for
// linear contracts.
func (a *Adapter) CreateOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	wire, err := a.Normalize(req.Symbol)
	if err != nil {
		return models.Order{}, err
	}
	category, err := categoryOf(req.Symbol)
	if err != nil {
		return models.Order{}, err
	}
	client, err := a.rest()
	if err != nil {
		return models.Order{}, err
	}
	if req.Quantity <= 0 {
		return models.Order{}, errs.New(errs.KindValidation, "bybit", "CreateOrder", "quantity must be positive")
	}
	side, reduceOnly, err := resolveSide(req, category)
	if err != nil {
		return models.Order{}, err
	}

	if req.Options.Leverage > 0 && category == categoryLinear {
		if err := a.wait(ctx, "CreateOrder"); err != nil {
			return models.Order{}, err
		}
		lev := strconv.Itoa(req.Options.Leverage)
		err := client.post(ctx, "/v5/position/set-leverage", map[string]string{
			"category":     category,
			"symbol":       wire,
			"buyLeverage":  lev,
			"sellLeverage": lev,
		}, nil)
		// Leverage already at the requested value is not a failure.
		if err != nil && !errs.IsKind(err, errs.KindInvalidState) {
			return models.Order{}, err
		}
	}

	body := map[string]interface{}{
		"category":  category,
		"symbol":    wire,
		"side":      side,
		"orderType": orderTypeToWire(req.Type),
		"qty":       dec(req.Quantity),
	}
	if req.Type.IsLimitFamily() {
		tif := req.TimeInForce
		if tif == "" {
			tif = models.TimeInForceGTC
		}
		body["price"] = dec(req.Price)
		body["timeInForce"] = string(tif)
	}
	if req.Options.StopPrice > 0 {
		body["triggerPrice"] = dec(req.Options.StopPrice)
	}
	if req.ClientOrderID != "" {
		body["orderLinkId"] = req.ClientOrderID
	}
	if reduceOnly {
		body["reduceOnly"] = true
	}

	if err := a.wait(ctx, "CreateOrder"); err != nil {
		return models.Order{}, err
	}
	var result struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := client.post(ctx, "/v5/order/create", body, &result); err != nil {
		return models.Order{}, err
	}

	// The create response carries only ids; fetch the resting order for
	// the canonical view.
	order, err := a.GetOrder(ctx, req.Symbol, result.OrderID, "")
	if err == nil {
		return order, nil
	}
	now := time.Now().UTC()
	return models.Order{
		ID:            result.OrderID,
		ClientOrderID: result.OrderLinkID,
		Symbol:        req.Symbol,
		Side:          sideFromWire(side),
		Type:          req.Type,
		Quantity:      req.Quantity,
		Price:         req.Price,
		StopPrice:     req.Options.StopPrice,
		Status:        models.OrderStatusNew,
		TimeInForce:   req.TimeInForce,
		Venue:         "bybit",
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// CancelOrder cancels an open order by venue order id or client id.
func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID, clientOrderID string) (models.Order, error) {
	wire, err := a.Normalize(symbol)
	if err != nil {
		return models.Order{}, err
	}
	category, err := categoryOf(symbol)
	if err != nil {
		return models.Order{}, err
	}
	client, err := a.rest()
	if err != nil {
		return models.Order{}, err
	}
	if orderID == "" && clientOrderID == "" {
		return models.Order{}, errs.New(errs.KindValidation, "bybit", "CancelOrder", "order id or client order id is required")
	}

	body := map[string]string{"category": category, "symbol": wire}
	if orderID != "" {
		body["orderId"] = orderID
	} else {
		body["orderLinkId"] = clientOrderID
	}
	if err := a.wait(ctx, "CancelOrder"); err != nil {
		return models.Order{}, err
	}
	var result struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := client.post(ctx, "/v5/order/cancel", body, &result); err != nil {
		return models.Order{}, err
	}
	return models.Order{
		ID:            result.OrderID,
		ClientOrderID: result.OrderLinkID,
		Symbol:        symbol,
		Status:        models.OrderStatusCanceled,
		Venue:         "bybit",
		UpdatedAt:     time.Now().UTC(),
	}, nil
}

// GetOrder fetches one order, checking the live book first and falling
// back to history for terminal orders.
func (a *Adapter) GetOrder(ctx context.Context, symbol, orderID, clientOrderID string) (models.Order, error) {
	if orderID == "" && clientOrderID == "" {
		return models.Order{}, errs.New(errs.KindValidation, "bybit", "GetOrder", "order id or client order id is required")
	}
	for _, path := range []string{"/v5/order/realtime", "/v5/order/history"} {
		orders, err := a.queryOrders(ctx, path, symbol, orderID, clientOrderID, 1)
		if err != nil {
			return models.Order{}, err
		}
		if len(orders) > 0 {
			return orders[0], nil
		}
	}
	return models.Order{}, errs.New(errs.KindNotFound, "bybit", "GetOrder", "order %s%s not found", orderID, clientOrderID)
}

// GetOpenOrders lists open orders, optionally filtered to one symbol.
// With no symbol both categories are queried.
func (a *Adapter) GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	if symbol != "" {
		return a.queryOrders(ctx, "/v5/order/realtime", symbol, "", "", 0)
	}
	var out []models.Order
	for _, category := range []string{categorySpot, categoryLinear} {
		orders, err := a.queryOrdersByCategory(ctx, "/v5/order/realtime", category, "", "", "", 0)
		if err != nil {
			return nil, err
		}
		out = append(out, orders...)
	}
	return out, nil
}

// GetOrderHistory lists recent orders for a symbol, any status.
func (a *Adapter) GetOrderHistory(ctx context.Context, symbol string, limit int) ([]models.Order, error) {
	return a.queryOrders(ctx, "/v5/order/history", symbol, "", "", limit)
}

func (a *Adapter) queryOrders(ctx context.Context, path, symbol, orderID, clientOrderID string, limit int) ([]models.Order, error) {
	wire, err := a.Normalize(symbol)
	if err != nil {
		return nil, err
	}
	category, err := categoryOf(symbol)
	if err != nil {
		return nil, err
	}
	return a.queryOrdersByCategory(ctx, path, category, wire, orderID, clientOrderID, limit)
}

func (a *Adapter) queryOrdersByCategory(ctx context.Context, path, category, wire, orderID, clientOrderID string, limit int) ([]models.Order, error) {
	client, err := a.rest()
	if err != nil {
		return nil, err
	}
	if err := a.wait(ctx, path); err != nil {
		return nil, err
	}

	q := url.Values{"category": {category}}
	if wire != "" {
		q.Set("symbol", wire)
	} else if category == categoryLinear {
		q.Set("settleCoin", "USDT")
	}
	if orderID != "" {
		q.Set("orderId", orderID)
	}
	if clientOrderID != "" {
		q.Set("orderLinkId", clientOrderID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var result struct {
		List []wireOrder `json:"list"`
	}
	if err := client.get(ctx, path, q, &result); err != nil {
		return nil, err
	}
	out := make([]models.Order, 0, len(result.List))
	for i := range result.List {
		o := &result.List[i]
		canonical, err := symbols.DenormalizeBybit(o.Symbol, category)
		if err != nil {
			continue
		}
		out = append(out, orderFromWire(canonical, o))
	}
	return out, nil
}

func dec(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
