package kucoin

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"venueflow/errs"
	"venueflow/models"
)

// GetTicker fetches the 24h market stats for one symbol.
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

	var data struct {
		Symbol   string `json:"symbol"`
		Last     string `json:"last"`
		Buy      string `json:"buy"`
		Sell     string `json:"sell"`
		High     string `json:"high"`
		Low      string `json:"low"`
		Vol      string `json:"vol"`
		VolValue string `json:"volValue"`
		Time     int64  `json:"time"`
	}
	q := url.Values{"symbol": {wire}}
	if err := client.get(ctx, "/api/v1/market/stats", q, &data); err != nil {
		return models.Ticker{}, err
	}
	if data.Symbol == "" {
		return models.Ticker{}, errs.New(errs.KindNotFound, "kucoin", "GetTicker", "symbol %s not found", symbol)
	}
	return models.Ticker{
		Venue:     "kucoin",
		Symbol:    symbol,
		Last:      f(data.Last),
		Bid:       f(data.Buy),
		Ask:       f(data.Sell),
		High:      f(data.High),
		Low:       f(data.Low),
		Volume:    f(data.Vol),
		QuoteVol:  f(data.VolValue),
		Timestamp: time.UnixMilli(data.Time),
	}, nil
}

// GetOrderBook fetches a depth snapshot from the public aggregated
// endpoints (top 20 or top 100 levels).
func (a *Adapter) GetOrderBook(ctx context.Context, symbol string, limit int) (models.OrderBook, error) {
	wire, err := a.Normalize(symbol)
	if err != nil {
		return models.OrderBook{}, err
	}
	client, err := a.rest()
	if err != nil {
		return models.OrderBook{}, err
	}
	path := "/api/v1/market/orderbook/level2_100"
	if limit > 0 && limit <= 20 {
		path = "/api/v1/market/orderbook/level2_20"
	}
	if err := a.wait(ctx, "GetOrderBook"); err != nil {
		return models.OrderBook{}, err
	}

	var data struct {
		Sequence string      `json:"sequence"`
		Bids     [][2]string `json:"bids"`
		Asks     [][2]string `json:"asks"`
		Time     int64       `json:"time"`
	}
	q := url.Values{"symbol": {wire}}
	if err := client.get(ctx, path, q, &data); err != nil {
		return models.OrderBook{}, err
	}
	seq, _ := strconv.ParseInt(data.Sequence, 10, 64)
	return models.OrderBook{
		Venue:        "kucoin",
		Symbol:       symbol,
		Bids:         levels(data.Bids),
		Asks:         levels(data.Asks),
		LastUpdateID: seq,
		Timestamp:    time.UnixMilli(data.Time),
	}, nil
}

// GetTrades fetches the most recent public trades.
func (a *Adapter) GetTrades(ctx context.Context, symbol string, limit int) ([]models.Trade, error) {
	wire, err := a.Normalize(symbol)
	if err != nil {
		return nil, err
	}
	client, err := a.rest()
	if err != nil {
		return nil, err
	}
	if err := a.wait(ctx, "GetTrades"); err != nil {
		return nil, err
	}

	var rows []struct {
		Sequence string `json:"sequence"`
		Price    string `json:"price"`
		Size     string `json:"size"`
		Side     string `json:"side"`
		Time     int64  `json:"time"` // nanoseconds
	}
	q := url.Values{"symbol": {wire}}
	if err := client.get(ctx, "/api/v1/market/histories", q, &rows); err != nil {
		return nil, err
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	out := make([]models.Trade, 0, len(rows))
	for _, t := range rows {
		side := models.SideBuy
		if t.Side == "sell" {
			side = models.SideSell
		}
		out = append(out, models.Trade{
			Venue:     "kucoin",
			Symbol:    symbol,
			ID:        t.Sequence,
			Price:     f(t.Price),
			Quantity:  f(t.Size),
			Side:      side,
			Timestamp: time.Unix(0, t.Time),
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
	client, err := a.rest()
	if err != nil {
		return nil, err
	}
	if interval == "" {
		interval = "1m"
	}
	if err := a.wait(ctx, "GetKlines"); err != nil {
		return nil, err
	}

	var rows [][]string
	q := url.Values{"symbol": {wire}, "type": {wireInterval(interval)}}
	if err := client.get(ctx, "/api/v1/market/candles", q, &rows); err != nil {
		return nil, err
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]models.Kline, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if len(row) < 6 {
			continue
		}
		start, _ := strconv.ParseInt(row[0], 10, 64)
		out = append(out, models.Kline{
			Venue:    "kucoin",
			Symbol:   symbol,
			Interval: interval,
			OpenTime: time.Unix(start, 0),
			Open:     f(row[1]),
			Close:    f(row[2]),
			High:     f(row[3]),
			Low:      f(row[4]),
			Volume:   f(row[5]),
			Closed:   true,
		})
	}
	return out, nil
}

type symbolRow struct {
	Symbol         string `json:"symbol"`
	BaseCurrency   string `json:"baseCurrency"`
	QuoteCurrency  string `json:"quoteCurrency"`
	BaseMinSize    string `json:"baseMinSize"`
	BaseIncrement  string `json:"baseIncrement"`
	PriceIncrement string `json:"priceIncrement"`
	MinFunds       string `json:"minFunds"`
	EnableTrading  bool   `json:"enableTrading"`
}

// GetExchangeInfo fetches the instrument listing.
func (a *Adapter) GetExchangeInfo(ctx context.Context) (models.ExchangeInfo, error) {
	client, err := a.rest()
	if err != nil {
		return models.ExchangeInfo{}, err
	}
	if err := a.wait(ctx, "GetExchangeInfo"); err != nil {
		return models.ExchangeInfo{}, err
	}

	var rows []symbolRow
	if err := client.get(ctx, "/api/v2/symbols", nil, &rows); err != nil {
		return models.ExchangeInfo{}, err
	}
	info := models.ExchangeInfo{Venue: "kucoin", Symbols: make([]models.SymbolInfo, 0, len(rows))}
	for _, row := range rows {
		canonical, err := a.Denormalize(row.Symbol)
		if err != nil {
			continue
		}
		info.Symbols = append(info.Symbols, models.SymbolInfo{
			Venue:       "kucoin",
			Symbol:      canonical,
			BaseAsset:   row.BaseCurrency,
			QuoteAsset:  row.QuoteCurrency,
			Active:      row.EnableTrading,
			MinQty:      f(row.BaseMinSize),
			QtyStep:     f(row.BaseIncrement),
			PriceTick:   f(row.PriceIncrement),
			MinNotional: f(row.MinFunds),
		})
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
	return models.SymbolInfo{}, errs.New(errs.KindNotFound, "kucoin", "GetSymbolInfo", "symbol %s not found", symbol)
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

// accountRow is one wallet entry. KuCoin splits balances across account
// types: main (funding), trade, margin.
type accountRow struct {
	ID        string `json:"id"`
	Currency  string `json:"currency"`
	Type      string `json:"type"`
	Balance   string `json:"balance"`
	Available string `json:"available"`
	Holds     string `json:"holds"`
}

func fetchAccounts(ctx context.Context, client *restClient, currency string) ([]accountRow, error) {
	q := url.Values{}
	if currency != "" {
		q.Set("currency", currency)
	}
	var rows []accountRow
	if err := client.get(ctx, "/api/v1/accounts", q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// walletBalances returns the available trade and funding balances for
// one asset.
func walletBalances(ctx context.Context, client *restClient, asset string) (trade, main float64, err error) {
	rows, err := fetchAccounts(ctx, client, asset)
	if err != nil {
		return 0, 0, err
	}
	for _, row := range rows {
		switch row.Type {
		case "trade":
			trade += f(row.Available)
		case "main":
			main += f(row.Available)
		}
	}
	return trade, main, nil
}

// GetAccountInfo fetches balances. Wallet types are merged per asset so
// callers see one funding-plus-trade line per currency.
func (a *Adapter) GetAccountInfo(ctx context.Context) (models.AccountInfo, error) {
	client, err := a.rest()
	if err != nil {
		return models.AccountInfo{}, err
	}
	if err := a.wait(ctx, "GetAccountInfo"); err != nil {
		return models.AccountInfo{}, err
	}
	rows, err := fetchAccounts(ctx, client, "")
	if err != nil {
		return models.AccountInfo{}, err
	}

	merged := make(map[string]*models.Balance)
	order := make([]string, 0, len(rows))
	for _, row := range rows {
		total := f(row.Balance)
		if total == 0 {
			continue
		}
		b, ok := merged[row.Currency]
		if !ok {
			b = &models.Balance{Asset: row.Currency}
			merged[row.Currency] = b
			order = append(order, row.Currency)
		}
		b.Free += f(row.Available)
		b.Locked += f(row.Holds)
		b.Total += total
	}

	info := models.AccountInfo{Venue: "kucoin", CanTrade: true, UpdateTime: time.Now().UTC()}
	for _, cur := range order {
		info.Balances = append(info.Balances, *merged[cur])
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

// GetPositions returns nil for a spot account.
func (a *Adapter) GetPositions(ctx context.Context) ([]models.Position, error) {
	return nil, nil
}

func dec(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
