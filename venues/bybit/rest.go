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

type tickerRow struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	Bid1Price string `json:"bid1Price"`
	Ask1Price string `json:"ask1Price"`
	High24h   string `json:"highPrice24h"`
	Low24h    string `json:"lowPrice24h"`
	Volume24h string `json:"volume24h"`
	Turnover  string `json:"turnover24h"`
}

// GetTicker fetches the 24h statistics for one symbol.
func (a *Adapter) GetTicker(ctx context.Context, symbol string) (models.Ticker, error) {
	wire, err := a.Normalize(symbol)
	if err != nil {
		return models.Ticker{}, err
	}
	category, err := categoryOf(symbol)
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

	var result struct {
		List []tickerRow `json:"list"`
	}
	q := url.Values{"category": {category}, "symbol": {wire}}
	if err := client.get(ctx, "/v5/market/tickers", q, &result); err != nil {
		return models.Ticker{}, err
	}
	if len(result.List) == 0 {
		return models.Ticker{}, errs.New(errs.KindNotFound, "bybit", "GetTicker", "symbol %s not found", symbol)
	}
	t := result.List[0]
	return models.Ticker{
		Venue:     "bybit",
		Symbol:    symbol,
		Last:      f(t.LastPrice),
		Bid:       f(t.Bid1Price),
		Ask:       f(t.Ask1Price),
		High:      f(t.High24h),
		Low:       f(t.Low24h),
		Volume:    f(t.Volume24h),
		QuoteVol:  f(t.Turnover),
		Timestamp: time.Now().UTC(),
	}, nil
}

// GetOrderBook fetches a depth snapshot.
func (a *Adapter) GetOrderBook(ctx context.Context, symbol string, limit int) (models.OrderBook, error) {
	wire, err := a.Normalize(symbol)
	if err != nil {
		return models.OrderBook{}, err
	}
	category, err := categoryOf(symbol)
	if err != nil {
		return models.OrderBook{}, err
	}
	client, err := a.rest()
	if err != nil {
		return models.OrderBook{}, err
	}
	if limit <= 0 {
		limit = 50
	}
	if err := a.wait(ctx, "GetOrderBook"); err != nil {
		return models.OrderBook{}, err
	}

	var result struct {
		Symbol   string      `json:"s"`
		Bids     [][2]string `json:"b"`
		Asks     [][2]string `json:"a"`
		Ts       int64       `json:"ts"`
		UpdateID int64       `json:"u"`
	}
	q := url.Values{"category": {category}, "symbol": {wire}, "limit": {strconv.Itoa(limit)}}
	if err := client.get(ctx, "/v5/market/orderbook", q, &result); err != nil {
		return models.OrderBook{}, err
	}
	return models.OrderBook{
		Venue:        "bybit",
		Symbol:       symbol,
		Bids:         levels(result.Bids),
		Asks:         levels(result.Asks),
		LastUpdateID: result.UpdateID,
		Timestamp:    time.UnixMilli(result.Ts),
	}, nil
}

// GetTrades fetches recent public trades.
func (a *Adapter) GetTrades(ctx context.Context, symbol string, limit int) ([]models.Trade, error) {
	wire, err := a.Normalize(symbol)
	if err != nil {
		return nil, err
	}
	category, err := categoryOf(symbol)
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

	var result struct {
		List []struct {
			ExecID string `json:"execId"`
			Price  string `json:"price"`
			Size   string `json:"size"`
			Side   string `json:"side"`
			Time   string `json:"time"`
		} `json:"list"`
	}
	q := url.Values{"category": {category}, "symbol": {wire}, "limit": {strconv.Itoa(limit)}}
	if err := client.get(ctx, "/v5/market/recent-trade", q, &result); err != nil {
		return nil, err
	}
	out := make([]models.Trade, 0, len(result.List))
	for _, t := range result.List {
		ms, _ := strconv.ParseInt(t.Time, 10, 64)
		out = append(out, models.Trade{
			Venue:     "bybit",
			Symbol:    symbol,
			ID:        t.ExecID,
			Price:     f(t.Price),
			Quantity:  f(t.Size),
			Side:      sideFromWire(t.Side),
			Timestamp: time.UnixMilli(ms),
		})
	}
	return out, nil
}

// GetKlines fetches historical candles. The venue returns newest first;
// the result is reversed into chronological order.
func (a *Adapter) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Kline, error) {
	wire, err := a.Normalize(symbol)
	if err != nil {
		return nil, err
	}
	category, err := categoryOf(symbol)
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

	var result struct {
		List [][]string `json:"list"`
	}
	q := url.Values{
		"category": {category},
		"symbol":   {wire},
		"interval": {wireInterval(interval)},
		"limit":    {strconv.Itoa(limit)},
	}
	if err := client.get(ctx, "/v5/market/kline", q, &result); err != nil {
		return nil, err
	}
	out := make([]models.Kline, 0, len(result.List))
	for i := len(result.List) - 1; i >= 0; i-- {
		row := result.List[i]
		if len(row) < 6 {
			continue
		}
		start, _ := strconv.ParseInt(row[0], 10, 64)
		out = append(out, models.Kline{
			Venue:    "bybit",
			Symbol:   symbol,
			Interval: interval,
			OpenTime: time.UnixMilli(start),
			Open:     f(row[1]),
			High:     f(row[2]),
			Low:      f(row[3]),
			Close:    f(row[4]),
			Volume:   f(row[5]),
			Closed:   true,
		})
	}
	return out, nil
}

type instrumentRow struct {
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	BaseCoin      string `json:"baseCoin"`
	QuoteCoin     string `json:"quoteCoin"`
	LotSizeFilter struct {
		MinOrderQty string `json:"minOrderQty"`
		QtyStep     string `json:"qtyStep"`
	} `json:"lotSizeFilter"`
	PriceFilter struct {
		TickSize string `json:"tickSize"`
	} `json:"priceFilter"`
}

func (a *Adapter) instruments(ctx context.Context, category string) ([]models.SymbolInfo, error) {
	client, err := a.rest()
	if err != nil {
		return nil, err
	}
	if err := a.wait(ctx, "GetExchangeInfo"); err != nil {
		return nil, err
	}
	var result struct {
		List []instrumentRow `json:"list"`
	}
	q := url.Values{"category": {category}, "limit": {"1000"}}
	if err := client.get(ctx, "/v5/market/instruments-info", q, &result); err != nil {
		return nil, err
	}
	out := make([]models.SymbolInfo, 0, len(result.List))
	for _, row := range result.List {
		canonical, err := symbols.DenormalizeBybit(row.Symbol, category)
		if err != nil {
			continue
		}
		out = append(out, models.SymbolInfo{
			Venue:      "bybit",
			Symbol:     canonical,
			BaseAsset:  row.BaseCoin,
			QuoteAsset: row.QuoteCoin,
			Active:     row.Status == "Trading",
			MinQty:     f(row.LotSizeFilter.MinOrderQty),
			QtyStep:    f(row.LotSizeFilter.QtyStep),
			PriceTick:  f(row.PriceFilter.TickSize),
		})
	}
	return out, nil
}

// GetExchangeInfo fetches the spot and linear listings.
func (a *Adapter) GetExchangeInfo(ctx context.Context) (models.ExchangeInfo, error) {
	spot, err := a.instruments(ctx, categorySpot)
	if err != nil {
		return models.ExchangeInfo{}, err
	}
	linear, err := a.instruments(ctx, categoryLinear)
	if err != nil {
		return models.ExchangeInfo{}, err
	}
	return models.ExchangeInfo{Venue: "bybit", Symbols: append(spot, linear...)}, nil
}

// GetSymbolInfo fetches listing details for one symbol.
func (a *Adapter) GetSymbolInfo(ctx context.Context, symbol string) (models.SymbolInfo, error) {
	category, err := categoryOf(symbol)
	if err != nil {
		return models.SymbolInfo{}, err
	}
	rows, err := a.instruments(ctx, category)
	if err != nil {
		return models.SymbolInfo{}, err
	}
	for i := range rows {
		if rows[i].Symbol == symbol {
			return rows[i], nil
		}
	}
	return models.SymbolInfo{}, errs.New(errs.KindNotFound, "bybit", "GetSymbolInfo", "symbol %s not found", symbol)
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

type walletResult struct {
	List []struct {
		AccountType string `json:"accountType"`
		Coins       []struct {
			Coin   string `json:"coin"`
			Wallet string `json:"walletBalance"`
			Locked string `json:"locked"`
		} `json:"coin"`
	} `json:"list"`
}

func fetchWalletBalance(ctx context.Context, client *restClient) (*walletResult, error) {
	var result walletResult
	q := url.Values{"accountType": {"UNIFIED"}}
	if err := client.get(ctx, "/v5/account/wallet-balance", q, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetAccountInfo fetches the unified account balances.
func (a *Adapter) GetAccountInfo(ctx context.Context) (models.AccountInfo, error) {
	client, err := a.rest()
	if err != nil {
		return models.AccountInfo{}, err
	}
	if err := a.wait(ctx, "GetAccountInfo"); err != nil {
		return models.AccountInfo{}, err
	}
	result, err := fetchWalletBalance(ctx, client)
	if err != nil {
		return models.AccountInfo{}, err
	}
	info := models.AccountInfo{Venue: "bybit", CanTrade: true, UpdateTime: time.Now().UTC()}
	for _, acct := range result.List {
		for _, c := range acct.Coins {
			total := f(c.Wallet)
			if total == 0 {
				continue
			}
			locked := f(c.Locked)
			info.Balances = append(info.Balances, models.Balance{
				Asset:  c.Coin,
				Free:   total - locked,
				Locked: locked,
				Total:  total,
			})
		}
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

// GetPositions fetches open linear positions settled in USDT.
func (a *Adapter) GetPositions(ctx context.Context) ([]models.Position, error) {
	client, err := a.rest()
	if err != nil {
		return nil, err
	}
	if err := a.wait(ctx, "GetPositions"); err != nil {
		return nil, err
	}

	var result struct {
		List []struct {
			Symbol     string `json:"symbol"`
			Side       string `json:"side"`
			Size       string `json:"size"`
			AvgPrice   string `json:"avgPrice"`
			MarkPrice  string `json:"markPrice"`
			Unrealized string `json:"unrealisedPnl"`
			Leverage   string `json:"leverage"`
		} `json:"list"`
	}
	q := url.Values{"category": {categoryLinear}, "settleCoin": {"USDT"}}
	if err := client.get(ctx, "/v5/position/list", q, &result); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	out := make([]models.Position, 0, len(result.List))
	for _, p := range result.List {
		size := f(p.Size)
		if size == 0 {
			continue
		}
		symbol, err := symbols.DenormalizeBybit(p.Symbol, categoryLinear)
		if err != nil {
			continue
		}
		side := models.PositionSideLong
		if p.Side == "Sell" {
			side = models.PositionSideShort
		}
		lev, _ := strconv.Atoi(p.Leverage)
		out = append(out, models.Position{
			Symbol:        symbol,
			Side:          side,
			Quantity:      size,
			EntryPrice:    f(p.AvgPrice),
			MarkPrice:     f(p.MarkPrice),
			UnrealizedPnL: f(p.Unrealized),
			Leverage:      lev,
			Timestamp:     now,
		})
	}
	return out, nil
}
