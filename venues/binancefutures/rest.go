package binancefutures

import (
	"context"
	"strconv"
	"time"

	"venueflow/errs"
	"venueflow/models"
)

// GetTicker fetches 24h statistics plus the current best bid/ask.
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
		return models.Ticker{}, errs.New(errs.KindNotFound, "binancefutures", "GetTicker", "symbol %s not found", symbol)
	}
	s := stats[0]
	t := models.Ticker{
		Venue:     "binancefutures",
		Symbol:    symbol,
		Last:      f(s.LastPrice),
		High:      f(s.HighPrice),
		Low:       f(s.LowPrice),
		Volume:    f(s.Volume),
		QuoteVol:  f(s.QuoteVolume),
		Timestamp: time.UnixMilli(s.CloseTime),
	}
	// The stats endpoint omits quotes; the book ticker fills them in.
	books, err := client.NewListBookTickersService().Symbol(wire).Do(ctx)
	if err == nil && len(books) > 0 {
		t.Bid = f(books[0].BidPrice)
		t.Ask = f(books[0].AskPrice)
	}
	return t, nil
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
		Venue:        "binancefutures",
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

// GetTrades fetches recent aggregate trades.
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
	rows, err := client.NewAggTradesService().Symbol(wire).Limit(limit).Do(ctx)
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
			Venue:     "binancefutures",
			Symbol:    symbol,
			ID:        strconv.FormatInt(t.AggTradeID, 10),
			Price:     f(t.Price),
			Quantity:  f(t.Quantity),
			Side:      side,
			Timestamp: time.UnixMilli(t.Timestamp),
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
			Venue:     "binancefutures",
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

// GetExchangeInfo fetches the perpetual contract listing.
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
	info := models.ExchangeInfo{Venue: "binancefutures", Symbols: make([]models.SymbolInfo, 0, len(res.Symbols))}
	for i := range res.Symbols {
		s := &res.Symbols[i]
		if s.ContractType != "PERPETUAL" {
			continue
		}
		canonical, err := a.Denormalize(s.Symbol)
		if err != nil {
			continue
		}
		si := models.SymbolInfo{
			Venue:      "binancefutures",
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

// GetSymbolInfo fetches listing details for one contract.
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
	return models.SymbolInfo{}, errs.New(errs.KindNotFound, "binancefutures", "GetSymbolInfo", "symbol %s not found", symbol)
}

// GetSymbols lists the canonical perpetual symbols currently tradable.
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

// GetAccountInfo fetches margin asset balances.
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
		Venue:      "binancefutures",
		CanTrade:   acc.CanTrade,
		UpdateTime: time.Now().UTC(),
	}
	for _, asset := range acc.Assets {
		wallet := f(asset.WalletBalance)
		avail := f(asset.AvailableBalance)
		if wallet == 0 && avail == 0 {
			continue
		}
		locked := wallet - avail
		if locked < 0 {
			locked = 0
		}
		info.Balances = append(info.Balances, models.Balance{
			Asset:  asset.Asset,
			Free:   wallet - locked,
			Locked: locked,
			Total:  wallet,
		})
	}
	return info, nil
}

// GetBalances fetches non-zero margin balances.
func (a *Adapter) GetBalances(ctx context.Context) ([]models.Balance, error) {
	info, err := a.GetAccountInfo(ctx)
	if err != nil {
		return nil, err
	}
	return info.Balances, nil
}

// GetPositions fetches open positions. Zero-quantity rows, which the
// venue reports for every contract ever touched, are dropped.
func (a *Adapter) GetPositions(ctx context.Context) ([]models.Position, error) {
	client, err := a.rest()
	if err != nil {
		return nil, err
	}
	if err := a.wait(ctx, "GetPositions"); err != nil {
		return nil, err
	}
	rows, err := client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, a.mapErr("GetPositions", err)
	}
	now := time.Now().UTC()
	out := make([]models.Position, 0, 4)
	for _, row := range rows {
		amt := f(row.PositionAmt)
		if amt == 0 {
			continue
		}
		symbol, err := a.Denormalize(row.Symbol)
		if err != nil {
			continue
		}
		lev, _ := strconv.Atoi(row.Leverage)
		out = append(out, models.Position{
			Symbol:        symbol,
			Side:          positionSideFromAmount(row.PositionSide, amt),
			Quantity:      abs(amt),
			EntryPrice:    f(row.EntryPrice),
			MarkPrice:     f(row.MarkPrice),
			UnrealizedPnL: f(row.UnRealizedProfit),
			Leverage:      lev,
			Timestamp:     now,
		})
	}
	return out, nil
}
