package binancefutures

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"venueflow/errs"
	"venueflow/models"
)

// routing is the venue-specific rendering of a position action.
type routing struct {
	side       futures.SideType
	posSide    futures.PositionSideType
	reduceOnly bool
}

// resolveRouting maps the canonical action onto side, position side and
// reduce-only. Hedge-mode accounts tag every order with an explicit
// position side and must not send reduce-only; one-way accounts do the
// opposite.
func (a *Adapter) resolveRouting(req models.OrderRequest) (routing, error) {
	a.mu.Lock()
	dual := a.dualSide
	a.mu.Unlock()

	var r routing
	switch req.Action {
	case models.ActionOpenLong:
		r.side = futures.SideTypeBuy
		if dual {
			r.posSide = futures.PositionSideTypeLong
		}
	case models.ActionCloseLong:
		r.side = futures.SideTypeSell
		if dual {
			r.posSide = futures.PositionSideTypeLong
		} else {
			r.reduceOnly = true
		}
	case models.ActionOpenShort:
		r.side = futures.SideTypeSell
		if dual {
			r.posSide = futures.PositionSideTypeShort
		}
	case models.ActionCloseShort:
		r.side = futures.SideTypeBuy
		if dual {
			r.posSide = futures.PositionSideTypeShort
		} else {
			r.reduceOnly = true
		}
	case "":
		if req.Side != models.SideBuy && req.Side != models.SideSell {
			return routing{}, errs.New(errs.KindValidation, "binancefutures", "CreateOrder", "order side or position action is required")
		}
		r.side = futures.SideType(req.Side)
		if dual && req.Options.PositionSide != "" {
			r.posSide = futures.PositionSideType(req.Options.PositionSide)
		}
		if !dual {
			r.reduceOnly = req.Options.ReduceOnly
		}
	default:
		return routing{}, errs.New(errs.KindValidation, "binancefutures", "CreateOrder", "unknown position action %q", req.Action)
	}
	return r, nil
}

// CreateOrder submits a contract order, applying leverage and margin
// mode hints before submission.
func (a *Adapter) CreateOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	wire, err := a.Normalize(req.Symbol)
	if err != nil {
		return models.Order{}, err
	}
	client, err := a.rest()
	if err != nil {
		return models.Order{}, err
	}
	if req.Quantity <= 0 {
		return models.Order{}, errs.New(errs.KindValidation, "binancefutures", "CreateOrder", "quantity must be positive")
	}
	route, err := a.resolveRouting(req)
	if err != nil {
		return models.Order{}, err
	}

	if req.Options.Leverage > 0 {
		if err := a.wait(ctx, "CreateOrder"); err != nil {
			return models.Order{}, err
		}
		if _, err := client.NewChangeLeverageService().Symbol(wire).Leverage(req.Options.Leverage).Do(ctx); err != nil {
			return models.Order{}, a.mapErr("CreateOrder", err)
		}
	}
	if req.Options.TradeMode != "" {
		marginType := futures.MarginTypeCrossed
		if req.Options.TradeMode == models.TradeModeIsolated {
			marginType = futures.MarginTypeIsolated
		}
		if err := a.wait(ctx, "CreateOrder"); err != nil {
			return models.Order{}, err
		}
		if err := client.NewChangeMarginTypeService().Symbol(wire).MarginType(marginType).Do(ctx); err != nil && !isNoChangeErr(err) {
			return models.Order{}, a.mapErr("CreateOrder", err)
		}
	}

	if err := a.wait(ctx, "CreateOrder"); err != nil {
		return models.Order{}, err
	}
	svc := client.NewCreateOrderService().
		Symbol(wire).
		Side(route.side).
		Type(futures.OrderType(req.Type)).
		Quantity(dec(req.Quantity))
	if req.Type.IsLimitFamily() {
		tif := req.TimeInForce
		if tif == "" {
			tif = models.TimeInForceGTC
		}
		svc = svc.TimeInForce(futures.TimeInForceType(tif)).Price(dec(req.Price))
	}
	if route.posSide != "" {
		svc = svc.PositionSide(route.posSide)
	}
	if route.reduceOnly {
		svc = svc.ReduceOnly(true)
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
	return models.Order{
		ID:            strconv.FormatInt(res.OrderID, 10),
		ClientOrderID: res.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          models.Side(res.Side),
		Type:          req.Type,
		Quantity:      f(res.OrigQuantity),
		Price:         f(res.Price),
		StopPrice:     req.Options.StopPrice,
		Status:        statusFromWire(string(res.Status)),
		TimeInForce:   models.TimeInForce(res.TimeInForce),
		ExecutedQty:   f(res.ExecutedQuantity),
		CumQuoteQty:   f(res.CumQuote),
		Venue:         "binancefutures",
		CreatedAt:     time.UnixMilli(res.UpdateTime),
		UpdatedAt:     time.UnixMilli(res.UpdateTime),
	}, nil
}

// CancelOrder cancels an open contract order.
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
			return models.Order{}, errs.New(errs.KindValidation, "binancefutures", "CancelOrder", "malformed order id %q", orderID)
		}
		svc = svc.OrderID(id)
	} else if clientOrderID != "" {
		svc = svc.OrigClientOrderID(clientOrderID)
	} else {
		return models.Order{}, errs.New(errs.KindValidation, "binancefutures", "CancelOrder", "order id or client order id is required")
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
		Type:          models.OrderType(res.Type),
		Quantity:      f(res.OrigQuantity),
		Price:         f(res.Price),
		Status:        statusFromWire(string(res.Status)),
		TimeInForce:   models.TimeInForce(res.TimeInForce),
		ExecutedQty:   f(res.ExecutedQuantity),
		CumQuoteQty:   f(res.CumQuote),
		Venue:         "binancefutures",
		UpdatedAt:     time.Now().UTC(),
	}, nil
}

// GetOrder fetches one contract order.
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
			return models.Order{}, errs.New(errs.KindValidation, "binancefutures", "GetOrder", "malformed order id %q", orderID)
		}
		svc = svc.OrderID(id)
	} else if clientOrderID != "" {
		svc = svc.OrigClientOrderID(clientOrderID)
	} else {
		return models.Order{}, errs.New(errs.KindValidation, "binancefutures", "GetOrder", "order id or client order id is required")
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return models.Order{}, a.mapErr("GetOrder", err)
	}
	return a.orderFromWire(symbol, res), nil
}

// GetOpenOrders lists open contract orders.
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
	return a.ordersFromWire(rows), nil
}

// GetOrderHistory lists recent contract orders for a symbol.
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
	return a.ordersFromWire(rows), nil
}

func (a *Adapter) ordersFromWire(rows []*futures.Order) []models.Order {
	out := make([]models.Order, 0, len(rows))
	for _, row := range rows {
		symbol, err := a.Denormalize(row.Symbol)
		if err != nil {
			continue
		}
		out = append(out, a.orderFromWire(symbol, row))
	}
	return out
}

func (a *Adapter) orderFromWire(symbol string, o *futures.Order) models.Order {
	return models.Order{
		ID:            strconv.FormatInt(o.OrderID, 10),
		ClientOrderID: o.ClientOrderID,
		Symbol:        symbol,
		Side:          models.Side(o.Side),
		Type:          models.OrderType(o.Type),
		Quantity:      f(o.OrigQuantity),
		Price:         f(o.Price),
		StopPrice:     f(o.StopPrice),
		Status:        statusFromWire(string(o.Status)),
		TimeInForce:   models.TimeInForce(o.TimeInForce),
		ExecutedQty:   f(o.ExecutedQuantity),
		CumQuoteQty:   f(o.CumQuote),
		Venue:         "binancefutures",
		CreatedAt:     time.UnixMilli(o.Time),
		UpdatedAt:     time.UnixMilli(o.UpdateTime),
	}
}

func dec(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func statusFromWire(s string) models.OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW":
		return models.OrderStatusNew
	case "PARTIALLY_FILLED":
		return models.OrderStatusPartiallyFilled
	case "FILLED":
		return models.OrderStatusFilled
	case "CANCELED":
		return models.OrderStatusCanceled
	case "REJECTED":
		return models.OrderStatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return models.OrderStatusExpired
	}
	return models.OrderStatus(s)
}

// isNoChangeErr matches the venue responses for setting a margin type
// or position mode that is already in effect.
func isNoChangeErr(err error) bool {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == -4046 || apiErr.Code == -4059
}

// mapErr translates SDK and transport failures into the error taxonomy.
func (a *Adapter) mapErr(op string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1002, -1022, -2014, -2015:
			return errs.Wrap(errs.KindAuth, "binancefutures", op, err)
		case -1003:
			return errs.Wrap(errs.KindRateLimit, "binancefutures", op, err)
		case -2013:
			return errs.Wrap(errs.KindNotFound, "binancefutures", op, err)
		case -2011:
			return errs.Wrap(errs.KindInvalidState, "binancefutures", op, err)
		case -2018, -2019:
			return errs.Wrap(errs.KindInsufficientBalance, "binancefutures", op, err)
		case -2010:
			if strings.Contains(strings.ToLower(apiErr.Message), "insufficient") {
				return errs.Wrap(errs.KindInsufficientBalance, "binancefutures", op, err)
			}
			return errs.Wrap(errs.KindValidation, "binancefutures", op, err)
		case -1013, -1021, -1100, -1121, -4061:
			return errs.Wrap(errs.KindValidation, "binancefutures", op, err)
		}
		return errs.Wrap(errs.KindValidation, "binancefutures", op, err)
	}
	return errs.Wrap(errs.KindConnection, "binancefutures", op, err)
}
