package binance

import (
	"context"
	"strconv"
	"time"

	"venueflow/models"
)

// GetTicker fetches the 24h statistics for one symbol.
func (a *Adapter) GetTicker(ctx context.Context, symbol string) (models.Ticker, error) {
	wire, err := a.Normalize(symbol)
	if err != nil {
		return models.Ticker{}, err
	}
	client, err := a.rest()
	if err != nil {
		return models.Ticker{}, err
	}
	if err := a.wait(ctx, "GetTicker"); err != nil {
		return models.Ticker{}, err
	}
	stats, err := client.NewListPriceChangeStatsService().Symbol(wire).Do(ctx)
	if err != nil {
		return models.Ticker{}, a.mapErr("GetTicker", err)
	}
	if len(stats) == 0 {
		return models.Ticker{}, notFound("GetTicker", symbol)
	}
	s := stats[0]
	return models.Ticker{
		Venue:     "binance",
		Symbol:    symbol,
		Last:      f(s.LastPrice),
		Bid:       f(s.BidPrice),
		Ask:       f(s.AskPrice),
		High:      f(s.HighPrice),
		Low:       f(s.LowPrice),
		Volume:    f(s.Volume),
		QuoteVol:  f(s.QuoteVolume),
		Timestamp: time.UnixMilli(s.CloseTime),
	}, nil
}

// GetOrderBook fetches a depth snapshot.
func (a *Adapter) GetOrderBook(ctx context.Context, symbol string, limit int) (models.OrderBook, error) {
	wire, err := a.Normalize(symbol)
	if err != nil {
		return models.OrderBook{}, err
	}
	client, err := a.rest()
	if err != nil {
		return models.OrderBook{}, err
	}
	if limit <= 0 {
		limit = 20
	}
	if err := a.wait(ctx, "GetOrderBook"); err != nil {
		return models.OrderBook{}, err
	}
	res, err := client.NewDepthService().Symbol(wire).Limit(limit).Do(ctx)
	if err != nil {
		return models.OrderBook{}, a.mapErr("GetOrderBook", err)
	}
	book := models.OrderBook{
		Venue:        "binance",
		Symbol:       symbol,
		LastUpdateID: res.LastUpdateID,
		Timestamp:    time.Now().UTC(),
		Bids:         make([]models.BookLevel, 0, len(res.Bids)),
		Asks:         make([]models.BookLevel, 0, len(res.Asks)),
	}
	for _, b := range res.Bids {
		book.Bids = append(book.Bids, models.BookLevel{Price: f(b.Price), Quantity: f(b.Quantity)})
	}
	for _, ask := range res.Asks {
		book.Asks = append(book.Asks, models.BookLevel{Price: f(ask.Price), Quantity: f(ask.Quantity)})
	}
	return book, nil
}

// GetTrades fetches recent public trades, newest last.
func (a *Adapter) GetTrades(ctx context.Context, symbol string, limit int) ([]models.Trade, error) {
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
	if err := a.wait(ctx, "GetTrades"); err != nil {
		return nil, err
	}
	rows, err := client.NewRecentTradesService().Symbol(wire).Limit(limit).Do(ctx)
	if err != nil {
		return nil, a.mapErr("GetTrades", err)
	}
	out := make([]models.Trade, 0, len(rows))
	for _, t := range rows {
		side := models.SideBuy
		if t.IsBuyerMaker {
			side = models.SideSell
		}
		out = append(out, models.Trade{
			Venue:     "binance",
			Symbol:    symbol,
			ID:        strconv.FormatInt(t.ID, 10),
			Price:     f(t.Price),
			Quantity:  f(t.Quantity),
			Side:      side,
			Timestamp: time.UnixMilli(t.Time),
		})
	}
	return out, nil
}

// GetKlines fetches historical candles.
func (a *Adapter) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Kline, error) {
	wire, err := a.Normalize(symbol)
	if err != nil {
		return nil, err
	}
	client, err := a.rest()
	if err != nil {
		return nil, err
	}
	if interval == "" {
		interval = "1m"
	}
	if limit <= 0 {
		limit = 100
	}
	if err := a.wait(ctx, "GetKlines"); err != nil {
		return nil, err
	}
	rows, err := client.NewKlinesService().Symbol(wire).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, a.mapErr("GetKlines", err)
	}
	out := make([]models.Kline, 0, len(rows))
	for _, k := range rows {
		out = append(out, models.Kline{
			Venue:     "binance",
			Symbol:    symbol,
			Interval:  interval,
			OpenTime:  time.UnixMilli(k.OpenTime),
			CloseTime: time.UnixMilli(k.CloseTime),
			Open:      f(k.Open),
			High:      f(k.High),
			Low:       f(k.Low),
			Close:     f(k.Close),
			Volume:    f(k.Volume),
			Closed:    true,
		})
	}
	return out, nil
}

// GetExchangeInfo fetches the full instrument listing.
func (a *Adapter) GetExchangeInfo(ctx context.Context) (models.ExchangeInfo, error) {
	client, err := a.rest()
	if err != nil {
		return models.ExchangeInfo{}, err
	}
	if err := a.wait(ctx, "GetExchangeInfo"); err != nil {
		return models.ExchangeInfo{}, err
	}
	res, err := client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return models.ExchangeInfo{}, a.mapErr("GetExchangeInfo", err)
	}
	info := models.ExchangeInfo{Venue: "binance", Symbols: make([]models.SymbolInfo, 0, len(res.Symbols))}
	for i := range res.Symbols {
		s := &res.Symbols[i]
		canonical, err := a.Denormalize(s.Symbol)
		if err != nil {
			// Listings with unrecognised quote assets are skipped.
			continue
		}
		si := models.SymbolInfo{
			Venue:      "binance",
			Symbol:     canonical,
			BaseAsset:  s.BaseAsset,
			QuoteAsset: s.QuoteAsset,
			Active:     s.Status == "TRADING",
		}
		if lot := s.LotSizeFilter(); lot != nil {
			si.MinQty = f(lot.MinQuantity)
			si.QtyStep = f(lot.StepSize)
		}
		if pf := s.PriceFilter(); pf != nil {
			si.PriceTick = f(pf.TickSize)
		}
		info.Symbols = append(info.Symbols, si)
	}
	return info, nil
}

// GetSymbolInfo fetches listing details for one symbol.
func (a *Adapter) GetSymbolInfo(ctx context.Context, symbol string) (models.SymbolInfo, error) {
	info, err := a.GetExchangeInfo(ctx)
	if err != nil {
		return models.SymbolInfo{}, err
	}
	for i := range info.Symbols {
		if info.Symbols[i].Symbol == symbol {
			return info.Symbols[i], nil
		}
	}
	return models.SymbolInfo{}, notFound("GetSymbolInfo", symbol)
}

// GetSymbols lists the canonical symbols currently tradable.
func (a *Adapter) GetSymbols(ctx context.Context) ([]string, error) {
	info, err := a.GetExchangeInfo(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Active {
			out = append(out, s.Symbol)
		}
	}
	return out, nil
}

// GetAccountInfo fetches account status and non-zero balances.
func (a *Adapter) GetAccountInfo(ctx context.Context) (models.AccountInfo, error) {
	client, err := a.rest()
	if err != nil {
		return models.AccountInfo{}, err
	}
	if err := a.wait(ctx, "GetAccountInfo"); err != nil {
		return models.AccountInfo{}, err
	}
	acc, err := client.NewGetAccountService().Do(ctx)
	if err != nil {
		return models.AccountInfo{}, a.mapErr("GetAccountInfo", err)
	}
	info := models.AccountInfo{
		Venue:      "binance",
		CanTrade:   acc.CanTrade,
		UpdateTime: time.Now().UTC(),
	}
	for _, b := range acc.Balances {
		free, locked := f(b.Free), f(b.Locked)
		if free == 0 && locked == 0 {
			continue
		}
		info.Balances = append(info.Balances, models.Balance{
			Asset:  b.Asset,
			Free:   free,
			Locked: locked,
			Total:  free + locked,
		})
	}
	return info, nil
}

// GetBalances fetches non-zero balances.
func (a *Adapter) GetBalances(ctx context.Context) ([]models.Balance, error) {
	info, err := a.GetAccountInfo(ctx)
	if err != nil {
		return nil, err
	}
	return info.Balances, nil
}

// GetPositions returns nil for a spot account; the venue carries no
// derivative positions.
func (a *Adapter) GetPositions(ctx context.Context) ([]models.Position, error) {
	return nil, nil
}
