package kucoin

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"venueflow/errs"
	"venueflow/models"
)

// wireOrder is the order shape returned by the order endpoints.
type wireOrder struct {
	ID          string `json:"id"`
	Symbol      string `json:"symbol"`
	Type        string `json:"type"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Size        string `json:"size"`
	DealFunds   string `json:"dealFunds"`
	DealSize    string `json:"dealSize"`
	StopPrice   string `json:"stopPrice"`
	TimeInForce string `json:"timeInForce"`
	ClientOid   string `json:"clientOid"`
	IsActive    bool   `json:"isActive"`
	CancelExist bool   `json:"cancelExist"`
	CreatedAt   int64  `json:"createdAt"`
}

// orderStatus derives the lifecycle state: the venue reports activity
// flags, not a status enum.
func orderStatus(o *wireOrder) models.OrderStatus {
	dealt := f(o.DealSize)
	if o.IsActive {
		if dealt > 0 {
			return models.OrderStatusPartiallyFilled
		}
		return models.OrderStatusNew
	}
	if o.CancelExist {
		return models.OrderStatusCanceled
	}
	return models.OrderStatusFilled
}

func (a *Adapter) orderFromWire(o *wireOrder) (models.Order, error) {
	symbol, err := a.Denormalize(o.Symbol)
	if err != nil {
		return models.Order{}, err
	}
	side := models.SideBuy
	if o.Side == "sell" {
		side = models.SideSell
	}
	return models.Order{
		ID:            o.ID,
		ClientOrderID: o.ClientOid,
		Symbol:        symbol,
		Side:          side,
		Type:          orderTypeFromWire(o.Type),
		Quantity:      f(o.Size),
		Price:         f(o.Price),
		StopPrice:     f(o.StopPrice),
		Status:        orderStatus(o),
		TimeInForce:   models.TimeInForce(o.TimeInForce),
		ExecutedQty:   f(o.DealSize),
		CumQuoteQty:   f(o.DealFunds),
		Venue:         "kucoin",
		CreatedAt:     time.UnixMilli(o.CreatedAt),
		UpdatedAt:     time.UnixMilli(o.CreatedAt),
	}, nil
}

// CreateOrder submits an order. A client order id is mandatory on this
// venue; one is generated when the request does not carry its own.
func (a *Adapter) CreateOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	wire, err := a.Normalize(req.Symbol)
	if err != nil {
		return models.Order{}, err
	}
	client, err := a.rest()
	if err != nil {
		return models.Order{}, err
	}
	if req.Side != models.SideBuy && req.Side != models.SideSell {
		return models.Order{}, errs.New(errs.KindValidation, "kucoin", "CreateOrder", "order side is required")
	}
	if req.Quantity <= 0 {
		return models.Order{}, errs.New(errs.KindValidation, "kucoin", "CreateOrder", "quantity must be positive")
	}

	clientOid := req.ClientOrderID
	if clientOid == "" {
		clientOid = uuid.NewString()
	}
	side := "buy"
	if req.Side == models.SideSell {
		side = "sell"
	}
	orderType := "limit"
	if req.Type == models.OrderTypeMarket {
		orderType = "market"
	}

	body := map[string]interface{}{
		"clientOid": clientOid,
		"symbol":    wire,
		"side":      side,
		"type":      orderType,
		"size":      dec(req.Quantity),
	}
	if orderType == "limit" {
		body["price"] = dec(req.Price)
		if req.TimeInForce != "" {
			body["timeInForce"] = string(req.TimeInForce)
		}
	}
	if req.Options.StopPrice > 0 {
		body["stop"] = "loss"
		body["stopPrice"] = dec(req.Options.StopPrice)
	}

	if err := a.wait(ctx, "CreateOrder"); err != nil {
		return models.Order{}, err
	}
	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := client.post(ctx, "/api/v1/orders", body, &result); err != nil {
		return models.Order{}, err
	}

	order, err := a.GetOrder(ctx, req.Symbol, result.OrderID, "")
	if err == nil {
		return order, nil
	}
	now := time.Now().UTC()
	return models.Order{
		ID:            result.OrderID,
		ClientOrderID: clientOid,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      req.Quantity,
		Price:         req.Price,
		StopPrice:     req.Options.StopPrice,
		Status:        models.OrderStatusNew,
		TimeInForce:   req.TimeInForce,
		Venue:         "kucoin",
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// CancelOrder cancels an open order by venue order id or client id.
func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID, clientOrderID string) (models.Order, error) {
	client, err := a.rest()
	if err != nil {
		return models.Order{}, err
	}
	if err := a.wait(ctx, "CancelOrder"); err != nil {
		return models.Order{}, err
	}

	var canceled []string
	switch {
	case orderID != "":
		var result struct {
			CancelledOrderIds []string `json:"cancelledOrderIds"`
		}
		if err := client.delete(ctx, "/api/v1/orders/"+orderID, &result); err != nil {
			return models.Order{}, err
		}
		canceled = result.CancelledOrderIds
	case clientOrderID != "":
		var result struct {
			CancelledOrderID string `json:"cancelledOrderId"`
		}
		if err := client.delete(ctx, "/api/v1/order/client-order/"+clientOrderID, &result); err != nil {
			return models.Order{}, err
		}
		canceled = []string{result.CancelledOrderID}
	default:
		return models.Order{}, errs.New(errs.KindValidation, "kucoin", "CancelOrder", "order id or client order id is required")
	}

	id := orderID
	if len(canceled) > 0 && canceled[0] != "" {
		id = canceled[0]
	}
	return models.Order{
		ID:            id,
		ClientOrderID: clientOrderID,
		Symbol:        symbol,
		Status:        models.OrderStatusCanceled,
		Venue:         "kucoin",
		UpdatedAt:     time.Now().UTC(),
	}, nil
}

// GetOrder fetches one order by venue order id or client id.
func (a *Adapter) GetOrder(ctx context.Context, symbol, orderID, clientOrderID string) (models.Order, error) {
	client, err := a.rest()
	if err != nil {
		return models.Order{}, err
	}
	if err := a.wait(ctx, "GetOrder"); err != nil {
		return models.Order{}, err
	}

	var path string
	switch {
	case orderID != "":
		path = "/api/v1/orders/" + orderID
	case clientOrderID != "":
		path = "/api/v1/order/client-order/" + clientOrderID
	default:
		return models.Order{}, errs.New(errs.KindValidation, "kucoin", "GetOrder", "order id or client order id is required")
	}

	var o wireOrder
	if err := client.get(ctx, path, nil, &o); err != nil {
		return models.Order{}, err
	}
	if o.ID == "" {
		return models.Order{}, errs.New(errs.KindNotFound, "kucoin", "GetOrder", "order %s%s not found", orderID, clientOrderID)
	}
	return a.orderFromWire(&o)
}

type pagedOrders struct {
	Items []wireOrder `json:"items"`
}

func (a *Adapter) queryOrders(ctx context.Context, symbol, status string, limit int) ([]models.Order, error) {
	client, err := a.rest()
	if err != nil {
		return nil, err
	}
	if err := a.wait(ctx, "GetOpenOrders"); err != nil {
		return nil, err
	}

	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if symbol != "" {
		wire, err := a.Normalize(symbol)
		if err != nil {
			return nil, err
		}
		q.Set("symbol", wire)
	}
	if limit > 0 {
		q.Set("pageSize", strconv.Itoa(limit))
	}

	var page pagedOrders
	if err := client.get(ctx, "/api/v1/orders", q, &page); err != nil {
		return nil, err
	}
	out := make([]models.Order, 0, len(page.Items))
	for i := range page.Items {
		order, err := a.orderFromWire(&page.Items[i])
		if err != nil {
			continue
		}
		out = append(out, order)
	}
	return out, nil
}

// GetOpenOrders lists active orders, optionally filtered to one symbol.
func (a *Adapter) GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	return a.queryOrders(ctx, symbol, "active", 0)
}

// GetOrderHistory lists completed orders for a symbol.
func (a *Adapter) GetOrderHistory(ctx context.Context, symbol string, limit int) ([]models.Order, error) {
	return a.queryOrders(ctx, symbol, "done", limit)
}
