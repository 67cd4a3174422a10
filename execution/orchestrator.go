package execution

import (
	"context"
	"fmt"

	appconfig "venueflow/config"
	"venueflow/errs"
	"venueflow/logger"
	"venueflow/models"
	"venueflow/storage"
	"venueflow/symbols"
	"venueflow/venues"
)

// ReplaceError reports a modify that canceled the original order but
// failed to place its replacement. The caller must know the cancel took
// effect even though the replacement did not.
type ReplaceError struct {
	CanceledOrderID string
	Err             error
}

func (e *ReplaceError) Error() string {
	return fmt.Sprintf("order %s canceled but replacement failed: %v", e.CanceledOrderID, e.Err)
}

func (e *ReplaceError) Unwrap() error { return e.Err }

// Orchestrator routes order submissions to venue adapters with the
// shared pre-trade checks applied in a fixed sequence.
type Orchestrator struct {
	registry *venues.Registry
	store    storage.OrderStore
	creds    CredentialSource
	cfg      appconfig.ExecutionConfig
	log      *logger.Log
}

func NewOrchestrator(registry *venues.Registry, store storage.OrderStore, creds CredentialSource, cfg appconfig.ExecutionConfig, log *logger.Log) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		store:    store,
		creds:    creds,
		cfg:      cfg,
		log:      log,
	}
}

func (o *Orchestrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.RequestTimeout > 0 {
		return context.WithTimeout(ctx, o.cfg.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

// ExecuteOrder validates, prechecks and submits an order, persisting
// the canonical result. The sequence is fixed: request validation,
// adapter resolution, action-to-side mapping, spot balance precheck,
// fund routing, submission with a one-shot sandbox credential fallback.
func (o *Orchestrator) ExecuteOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	pair, err := o.validateRequest(&req)
	if err != nil {
		return models.Order{}, err
	}

	name, err := venues.ParseName(req.Venue)
	if err != nil {
		return models.Order{}, err
	}
	adapter, err := o.registry.Get(name)
	if err != nil {
		return models.Order{}, err
	}

	log := o.log.WithComponent("orchestrator").WithFields(logger.Fields{
		"venue":  req.Venue,
		"symbol": req.Symbol,
		"side":   req.Side,
		"action": req.Action,
		"type":   req.Type,
	})

	// Spot venues have no position concept; fold the action into a side
	// before it reaches the adapter. Derivative adapters route the action
	// themselves.
	if !pair.Perpetual && req.Side == "" {
		req.Side, err = sideFromAction(req.Action)
		if err != nil {
			return models.Order{}, errs.Wrap(errs.KindValidation, req.Venue, "execution.ExecuteOrder", err)
		}
	}

	if !pair.Perpetual {
		if err := o.precheckSpotBalance(ctx, adapter, req, pair); err != nil {
			log.WithError(err).Warn("order rejected by balance precheck")
			return models.Order{}, err
		}
		if router, ok := adapter.(venues.FundsRouter); ok {
			asset, required := requiredFunds(req, pair)
			if err := router.EnsureTradeBalance(ctx, asset, required); err != nil {
				return models.Order{}, err
			}
		}
	}

	order, err := o.submit(ctx, adapter, req)
	if err != nil {
		return models.Order{}, err
	}

	if err := o.store.Put(ctx, order); err != nil {
		log.WithError(err).Error("failed to persist order")
	}
	log.WithFields(logger.Fields{
		"order_id": order.ID,
		"status":   order.Status,
	}).Info("order submitted")
	return order, nil
}

// submit places the order, retrying exactly once against the venue
// sandbox when live credentials are rejected and fallback is enabled.
func (o *Orchestrator) submit(ctx context.Context, adapter venues.Adapter, req models.OrderRequest) (models.Order, error) {
	order, err := adapter.CreateOrder(ctx, req)
	if err == nil {
		return order, nil
	}
	if !errs.IsKind(err, errs.KindAuth) {
		return models.Order{}, err
	}
	if !o.cfg.SandboxFallback || !adapter.SupportsSandbox() || adapter.Sandbox() {
		return models.Order{}, err
	}

	log := o.log.WithComponent("orchestrator").WithFields(logger.Fields{
		"venue": string(adapter.Name()),
	})
	log.WithError(err).Warn("live credentials rejected, retrying against sandbox")

	sandboxCreds, credErr := o.creds.Credentials(adapter.Name(), true)
	if credErr != nil {
		return models.Order{}, errs.Wrap(errs.KindAuth, string(adapter.Name()), "execution.submit",
			fmt.Errorf("sandbox fallback unavailable: %w", credErr))
	}
	if connErr := adapter.Connect(ctx, sandboxCreds); connErr != nil {
		return models.Order{}, connErr
	}

	order, retryErr := adapter.CreateOrder(ctx, req)
	if retryErr != nil {
		return models.Order{}, retryErr
	}
	log.Info("order placed via sandbox fallback")
	return order, nil
}

func (o *Orchestrator) validateRequest(req *models.OrderRequest) (symbols.Pair, error) {
	op := "execution.validateRequest"
	if req.Venue == "" {
		return symbols.Pair{}, errs.New(errs.KindValidation, "", op, "venue is required")
	}
	pair, err := symbols.Parse(req.Symbol)
	if err != nil {
		return symbols.Pair{}, err
	}
	if req.Side == "" && req.Action == "" {
		return symbols.Pair{}, errs.New(errs.KindValidation, req.Venue, op, "either side or action is required")
	}
	if req.Quantity <= 0 {
		return symbols.Pair{}, errs.New(errs.KindValidation, req.Venue, op, "quantity must be positive, got %v", req.Quantity)
	}
	switch req.Type {
	case models.OrderTypeMarket:
	case models.OrderTypeLimit, models.OrderTypeStopLossLimit, models.OrderTypeTakeProfitLimit:
		if req.Price <= 0 {
			return symbols.Pair{}, errs.New(errs.KindValidation, req.Venue, op, "%s order requires a positive price", req.Type)
		}
	case models.OrderTypeStopLoss, models.OrderTypeTakeProfit:
		if req.Options.StopPrice <= 0 {
			return symbols.Pair{}, errs.New(errs.KindValidation, req.Venue, op, "%s order requires a stop price", req.Type)
		}
	default:
		return symbols.Pair{}, errs.New(errs.KindValidation, req.Venue, op, "unsupported order type %q", req.Type)
	}
	return pair, nil
}

func sideFromAction(action models.PositionAction) (models.Side, error) {
	switch action {
	case models.ActionOpenLong, models.ActionCloseShort:
		return models.SideBuy, nil
	case models.ActionCloseLong, models.ActionOpenShort:
		return models.SideSell, nil
	}
	return "", fmt.Errorf("unknown position action %q", action)
}

// requiredFunds names the asset an order spends and how much of it.
// A sell spends the base asset; a buy spends the quote asset, priced at
// the limit price or, for market orders, the last traded price.
func requiredFunds(req models.OrderRequest, pair symbols.Pair) (string, float64) {
	if req.Side == models.SideSell {
		return pair.Base, req.Quantity
	}
	return pair.Quote, req.Quantity * req.Price
}

// precheckSpotBalance rejects orders the account clearly cannot fund
// before any order reaches the venue. Market buys price the required
// quote amount off the current ticker.
func (o *Orchestrator) precheckSpotBalance(ctx context.Context, adapter venues.Adapter, req models.OrderRequest, pair symbols.Pair) error {
	op := "execution.precheckSpotBalance"

	asset, required := requiredFunds(req, pair)
	if req.Side == models.SideBuy && req.Type == models.OrderTypeMarket {
		ticker, err := adapter.GetTicker(ctx, req.Symbol)
		if err != nil {
			return err
		}
		if ticker.Last <= 0 {
			return errs.New(errs.KindValidation, req.Venue, op, "no reference price for market buy on %s", req.Symbol)
		}
		required = req.Quantity * ticker.Last
	}

	balances, err := adapter.GetBalances(ctx)
	if err != nil {
		return err
	}
	var free float64
	for _, b := range balances {
		if b.Asset == asset {
			free = b.Free
			break
		}
	}
	if free < required {
		return errs.New(errs.KindInsufficientBalance, req.Venue, op,
			"need %.8f %s, have %.8f free", required, asset, free)
	}
	return nil
}

// CancelOrder cancels an order previously placed through the
// orchestrator. Orders already in a terminal state are rejected locally
// without touching the venue.
func (o *Orchestrator) CancelOrder(ctx context.Context, venue, symbol, orderID, clientOrderID string) (models.Order, error) {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	name, err := venues.ParseName(venue)
	if err != nil {
		return models.Order{}, err
	}
	adapter, err := o.registry.Get(name)
	if err != nil {
		return models.Order{}, err
	}

	if known, ok := o.lookup(ctx, venue, orderID, clientOrderID); ok {
		if !known.Status.IsCancelable() {
			return models.Order{}, errs.New(errs.KindInvalidState, venue, "execution.CancelOrder",
				"order %s is %s and cannot be canceled", known.ID, known.Status)
		}
	}

	order, err := adapter.CancelOrder(ctx, symbol, orderID, clientOrderID)
	if err != nil {
		return models.Order{}, err
	}
	if err := o.store.Put(ctx, order); err != nil {
		o.log.WithComponent("orchestrator").WithError(err).Error("failed to persist canceled order")
	}
	return order, nil
}

// ModifyOrder replaces the price and/or quantity of a resting limit
// order by cancel-and-recreate. Only limit-family orders can be
// modified. If the replacement fails after the cancel succeeded the
// error is a *ReplaceError naming the canceled order.
func (o *Orchestrator) ModifyOrder(ctx context.Context, venue, symbol, orderID, clientOrderID string, newPrice, newQuantity float64) (models.Order, error) {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()
	op := "execution.ModifyOrder"

	name, err := venues.ParseName(venue)
	if err != nil {
		return models.Order{}, err
	}
	adapter, err := o.registry.Get(name)
	if err != nil {
		return models.Order{}, err
	}

	current, ok := o.lookup(ctx, venue, orderID, clientOrderID)
	if !ok {
		current, err = adapter.GetOrder(ctx, symbol, orderID, clientOrderID)
		if err != nil {
			return models.Order{}, err
		}
	}
	if !current.Type.IsLimitFamily() {
		return models.Order{}, errs.New(errs.KindValidation, venue, op,
			"order type %s cannot be modified, cancel and place a new order", current.Type)
	}
	if !current.Status.IsCancelable() {
		return models.Order{}, errs.New(errs.KindInvalidState, venue, op,
			"order %s is %s and cannot be modified", current.ID, current.Status)
	}

	canceled, err := adapter.CancelOrder(ctx, symbol, orderID, clientOrderID)
	if err != nil {
		return models.Order{}, err
	}
	if err := o.store.Put(ctx, canceled); err != nil {
		o.log.WithComponent("orchestrator").WithError(err).Error("failed to persist canceled order")
	}

	replacement := models.OrderRequest{
		Venue:       venue,
		Symbol:      symbol,
		Side:        current.Side,
		Type:        current.Type,
		Quantity:    newQuantity,
		Price:       newPrice,
		TimeInForce: current.TimeInForce,
	}
	if replacement.Quantity <= 0 {
		replacement.Quantity = current.Quantity - current.ExecutedQty
	}
	if replacement.Price <= 0 {
		replacement.Price = current.Price
	}
	if current.StopPrice > 0 {
		replacement.Options.StopPrice = current.StopPrice
	}

	order, err := adapter.CreateOrder(ctx, replacement)
	if err != nil {
		return models.Order{}, &ReplaceError{CanceledOrderID: canceled.ID, Err: err}
	}
	if err := o.store.Put(ctx, order); err != nil {
		o.log.WithComponent("orchestrator").WithError(err).Error("failed to persist replacement order")
	}
	return order, nil
}

// GetOrder fetches the current venue view of an order and refreshes the
// stored copy.
func (o *Orchestrator) GetOrder(ctx context.Context, venue, symbol, orderID, clientOrderID string) (models.Order, error) {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	name, err := venues.ParseName(venue)
	if err != nil {
		return models.Order{}, err
	}
	adapter, err := o.registry.Get(name)
	if err != nil {
		return models.Order{}, err
	}
	order, err := adapter.GetOrder(ctx, symbol, orderID, clientOrderID)
	if err != nil {
		return models.Order{}, err
	}
	if err := o.store.Put(ctx, order); err != nil {
		o.log.WithComponent("orchestrator").WithError(err).Error("failed to refresh stored order")
	}
	return order, nil
}

func (o *Orchestrator) lookup(ctx context.Context, venue, orderID, clientOrderID string) (models.Order, bool) {
	if orderID != "" {
		if order, ok := o.store.Get(ctx, venue, orderID); ok {
			return order, true
		}
	}
	if clientOrderID != "" {
		if order, ok := o.store.GetByClientID(ctx, venue, clientOrderID); ok {
			return order, true
		}
	}
	return models.Order{}, false
}
