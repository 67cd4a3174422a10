package binance

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"venueflow/errs"
	"venueflow/models"
)

// CreateOrder submits an order. The request carries a canonical symbol
// and an explicit side; position actions are resolved by the execution
// layer before the request reaches an adapter.
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
		return models.Order{}, errs.New(errs.KindValidation, "binance", "CreateOrder", "order side is required")
	}
	if req.Quantity <= 0 {
		return models.Order{}, errs.New(errs.KindValidation, "binance", "CreateOrder", "quantity must be positive")
	}
	if err := a.wait(ctx, "CreateOrder"); err != nil {
		return models.Order{}, err
	}

	svc := client.NewCreateOrderService().
		Symbol(wire).
		Side(gobinance.SideType(req.Side)).
		Type(gobinance.OrderType(req.Type)).
		Quantity(dec(req.Quantity))
	if req.Type.IsLimitFamily() {
		tif := req.TimeInForce
		if tif == "" {
			tif = models.TimeInForceGTC
		}
		svc = svc.TimeInForce(gobinance.TimeInForceType(tif)).Price(dec(req.Price))
	}
	if req.Options.StopPrice > 0 {
		svc = svc.StopPrice(dec(req.Options.StopPrice))
	}
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return models.Order{}, a.mapErr("CreateOrder", err)
	}
	order := models.Order{
		ID:            strconv.FormatInt(res.OrderID, 10),
		ClientOrderID: res.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      f(res.OrigQuantity),
		Price:         f(res.Price),
		StopPrice:     req.Options.StopPrice,
		Status:        statusFromWire(string(res.Status)),
		TimeInForce:   models.TimeInForce(res.TimeInForce),
		ExecutedQty:   f(res.ExecutedQuantity),
		CumQuoteQty:   f(res.CummulativeQuoteQuantity),
		Venue:         "binance",
		CreatedAt:     time.UnixMilli(res.TransactTime),
		UpdatedAt:     time.UnixMilli(res.TransactTime),
	}
	return order, nil
}

// CancelOrder cancels an open order by venue order id or client id.
func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID, clientOrderID string) (models.Order, error) {
	wire, err := a.Normalize(symbol)
	if err != nil {
		return models.Order{}, err
	}
	client, err := a.rest()
	if err != nil {
		return models.Order{}, err
	}
	if err := a.wait(ctx, "CancelOrder"); err != nil {
		return models.Order{}, err
	}

	svc := client.NewCancelOrderService().Symbol(wire)
	if orderID != "" {
		id, err := strconv.ParseInt(orderID, 10, 64)
		if err != nil {
			return models.Order{}, errs.New(errs.KindValidation, "binance", "CancelOrder", "malformed order id %q", orderID)
		}
		svc = svc.OrderID(id)
	} else if clientOrderID != "" {
		svc = svc.OrigClientOrderID(clientOrderID)
	} else {
		return models.Order{}, errs.New(errs.KindValidation, "binance", "CancelOrder", "order id or client order id is required")
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return models.Order{}, a.mapErr("CancelOrder", err)
	}
	return models.Order{
		ID:            strconv.FormatInt(res.OrderID, 10),
		ClientOrderID: res.ClientOrderID,
		Symbol:        symbol,
		Side:          models.Side(res.Side),
		Type:          orderTypeFromWire(string(res.Type)),
		Quantity:      f(res.OrigQuantity),
		Price:         f(res.Price),
		Status:        statusFromWire(string(res.Status)),
		TimeInForce:   models.TimeInForce(res.TimeInForce),
		ExecutedQty:   f(res.ExecutedQuantity),
		CumQuoteQty:   f(res.CummulativeQuoteQuantity),
		Venue:         "binance",
		UpdatedAt:     time.Now().UTC(),
	}, nil
}

// GetOrder fetches one order by venue order id or client id.
func (a *Adapter) GetOrder(ctx context.Context, symbol, orderID, clientOrderID string) (models.Order, error) {
	wire, err := a.Normalize(symbol)
	if err != nil {
		return models.Order{}, err
	}
	client, err := a.rest()
	if err != nil {
		return models.Order{}, err
	}
	if err := a.wait(ctx, "GetOrder"); err != nil {
		return models.Order{}, err
	}

	svc := client.NewGetOrderService().Symbol(wire)
	if orderID != "" {
		id, err := strconv.ParseInt(orderID, 10, 64)
		if err != nil {
			return models.Order{}, errs.New(errs.KindValidation, "binance", "GetOrder", "malformed order id %q", orderID)
		}
		svc = svc.OrderID(id)
	} else if clientOrderID != "" {
		svc = svc.OrigClientOrderID(clientOrderID)
	} else {
		return models.Order{}, errs.New(errs.KindValidation, "binance", "GetOrder", "order id or client order id is required")
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return models.Order{}, a.mapErr("GetOrder", err)
	}
	return a.orderFromWire(symbol, res), nil
}

// GetOpenOrders lists open orders, optionally filtered to one symbol.
func (a *Adapter) GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	client, err := a.rest()
	if err != nil {
		return nil, err
	}
	svc := client.NewListOpenOrdersService()
	if symbol != "" {
		wire, err := a.Normalize(symbol)
		if err != nil {
			return nil, err
		}
		svc = svc.Symbol(wire)
	}
	if err := a.wait(ctx, "GetOpenOrders"); err != nil {
		return nil, err
	}
	rows, err := svc.Do(ctx)
	if err != nil {
		return nil, a.mapErr("GetOpenOrders", err)
	}
	return a.ordersFromWire(rows)
}

// GetOrderHistory lists recent orders for a symbol, any status.
func (a *Adapter) GetOrderHistory(ctx context.Context, symbol string, limit int) ([]models.Order, error) {
	wire, err := a.Normalize(symbol)
	if err != nil {
		return nil, err
	}
	client, err := a.rest()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	if err := a.wait(ctx, "GetOrderHistory"); err != nil {
		return nil, err
	}
	rows, err := client.NewListOrdersService().Symbol(wire).Limit(limit).Do(ctx)
	if err != nil {
		return nil, a.mapErr("GetOrderHistory", err)
	}
	return a.ordersFromWire(rows)
}

func (a *Adapter) ordersFromWire(rows []*gobinance.Order) ([]models.Order, error) {
	out := make([]models.Order, 0, len(rows))
	for _, row := range rows {
		symbol, err := a.Denormalize(row.Symbol)
		if err != nil {
			continue
		}
		out = append(out, a.orderFromWire(symbol, row))
	}
	return out, nil
}

func (a *Adapter) orderFromWire(symbol string, o *gobinance.Order) models.Order {
	return models.Order{
		ID:            strconv.FormatInt(o.OrderID, 10),
		ClientOrderID: o.ClientOrderID,
		Symbol:        symbol,
		Side:          models.Side(o.Side),
		Type:          orderTypeFromWire(string(o.Type)),
		Quantity:      f(o.OrigQuantity),
		Price:         f(o.Price),
		StopPrice:     f(o.StopPrice),
		Status:        statusFromWire(string(o.Status)),
		TimeInForce:   models.TimeInForce(o.TimeInForce),
		ExecutedQty:   f(o.ExecutedQuantity),
		CumQuoteQty:   f(o.CummulativeQuoteQuantity),
		Venue:         "binance",
		CreatedAt:     time.UnixMilli(o.Time),
		UpdatedAt:     time.UnixMilli(o.UpdateTime),
	}
}

// dec renders a quantity or price the way the venue expects: plain
// decimal notation, no exponent.
func dec(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func orderTypeFromWire(t string) models.OrderType {
	return models.OrderType(strings.ToUpper(t))
}

func statusFromWire(s string) models.OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW", "PENDING_NEW":
		return models.OrderStatusNew
	case "PARTIALLY_FILLED":
		return models.OrderStatusPartiallyFilled
	case "FILLED":
		return models.OrderStatusFilled
	case "CANCELED", "PENDING_CANCEL":
		return models.OrderStatusCanceled
	case "REJECTED":
		return models.OrderStatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return models.OrderStatusExpired
	}
	return models.OrderStatus(s)
}

func notFound(op, symbol string) error {
	return errs.New(errs.KindNotFound, "binance", op, "symbol %s not found", symbol)
}

// mapErr translates SDK and transport failures into the error taxonomy.
func (a *Adapter) mapErr(op string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1002, -1022, -2014, -2015:
			return errs.Wrap(errs.KindAuth, "binance", op, err)
		case -1003:
			return errs.Wrap(errs.KindRateLimit, "binance", op, err)
		case -2013:
			return errs.Wrap(errs.KindNotFound, "binance", op, err)
		case -2011:
			return errs.Wrap(errs.KindInvalidState, "binance", op, err)
		case -2010:
			if strings.Contains(strings.ToLower(apiErr.Message), "insufficient") {
				return errs.Wrap(errs.KindInsufficientBalance, "binance", op, err)
			}
			return errs.Wrap(errs.KindValidation, "binance", op, err)
		case -1013, -1021, -1100, -1121:
			return errs.Wrap(errs.KindValidation, "binance", op, err)
		}
		return errs.Wrap(errs.KindValidation, "binance", op, err)
	}
	return errs.Wrap(errs.KindConnection, "binance", op, err)
}
