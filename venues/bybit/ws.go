package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"venueflow/errs"
	"venueflow/logger"
	"venueflow/models"
	"venueflow/stream"
	"venueflow/symbols"
)

// topicName renders the V5 topic for a market-data subscription. User
// data covers several topics and goes through userDataTopics.
func (a *Adapter) topicName(sub stream.Subscription) (string, error) {
	if sub.Channel == stream.ChannelUserData {
		// Replay sends the bundle below as separate args.
		return "", errs.New(errs.KindValidation, "bybit", "subscribe", "user data has no single topic")
	}
	wire, err := a.Normalize(sub.Symbol)
	if err != nil {
		return "", err
	}
	switch sub.Channel {
	case stream.ChannelTicker:
		return "tickers." + wire, nil
	case stream.ChannelOrderBook:
		depth := sub.Depth
		if depth != 1 && depth != 50 && depth != 200 {
			depth = 50
		}
		return fmt.Sprintf("orderbook.%d.%s", depth, wire), nil
	case stream.ChannelTrades:
		return "publicTrade." + wire, nil
	case stream.ChannelKlines:
		return "kline." + wireInterval(sub.Interval) + "." + wire, nil
	}
	return "", errs.New(errs.KindValidation, "bybit", "subscribe", "unsupported channel %q", sub.Channel)
}

func userDataTopics() []string {
	return []string{"order", "wallet", "position"}
}

// wireInterval maps canonical candle intervals onto the V5 vocabulary.
func wireInterval(interval string) string {
	switch interval {
	case "", "1m":
		return "1"
	case "3m":
		return "3"
	case "5m":
		return "5"
	case "15m":
		return "15"
	case "30m":
		return "30"
	case "1h":
		return "60"
	case "2h":
		return "120"
	case "4h":
		return "240"
	case "6h":
		return "360"
	case "12h":
		return "720"
	case "1d":
		return "D"
	case "1w":
		return "W"
	}
	return interval
}

func canonicalInterval(wire string) string {
	switch wire {
	case "1":
		return "1m"
	case "3":
		return "3m"
	case "5":
		return "5m"
	case "15":
		return "15m"
	case "30":
		return "30m"
	case "60":
		return "1h"
	case "120":
		return "2h"
	case "240":
		return "4h"
	case "360":
		return "6h"
	case "720":
		return "12h"
	case "D":
		return "1d"
	case "W":
		return "1w"
	}
	return wire
}

func (a *Adapter) subscribe(ctx context.Context, sub stream.Subscription) error {
	key, err := sessionKey(sub)
	if err != nil {
		return err
	}
	if !a.subs.Add(sub) {
		return nil
	}
	session, err := a.ensureSession(ctx, key)
	if err != nil {
		a.subs.Remove(sub.Symbol, sub.Channel)
		return err
	}

	var args []string
	if sub.Channel == stream.ChannelUserData {
		args = userDataTopics()
	} else {
		topic, err := a.topicName(sub)
		if err != nil {
			a.subs.Remove(sub.Symbol, sub.Channel)
			return err
		}
		args = []string{topic}
	}
	return session.Send(map[string]interface{}{"op": "subscribe", "args": args})
}

func (a *Adapter) SubscribeTicker(ctx context.Context, symbol string) error {
	return a.subscribe(ctx, stream.Subscription{Symbol: symbol, Channel: stream.ChannelTicker})
}

func (a *Adapter) SubscribeOrderBook(ctx context.Context, symbol string, depth int) error {
	return a.subscribe(ctx, stream.Subscription{Symbol: symbol, Channel: stream.ChannelOrderBook, Depth: depth})
}

func (a *Adapter) SubscribeTrades(ctx context.Context, symbol string) error {
	return a.subscribe(ctx, stream.Subscription{Symbol: symbol, Channel: stream.ChannelTrades})
}

func (a *Adapter) SubscribeKlines(ctx context.Context, symbol, interval string) error {
	return a.subscribe(ctx, stream.Subscription{Symbol: symbol, Channel: stream.ChannelKlines, Interval: interval})
}

func (a *Adapter) SubscribeUserData(ctx context.Context) error {
	return a.subscribe(ctx, stream.Subscription{Channel: stream.ChannelUserData})
}

func (a *Adapter) Unsubscribe(ctx context.Context, symbol string, channel stream.ChannelType) error {
	sub, ok := a.subs.Remove(symbol, channel)
	if !ok {
		return nil
	}
	key, err := sessionKey(sub)
	if err != nil {
		return err
	}
	a.mu.Lock()
	session := a.sessions[key]
	a.mu.Unlock()
	if session == nil {
		return nil
	}
	var args []string
	if channel == stream.ChannelUserData {
		args = userDataTopics()
	} else {
		topic, err := a.topicName(sub)
		if err != nil {
			return err
		}
		args = []string{topic}
	}
	return session.Send(map[string]interface{}{"op": "unsubscribe", "args": args})
}

// topicFrame is the push envelope for data topics. Control responses
// (pong, auth, subscribe acks) carry op instead of topic.
type topicFrame struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	Ts    int64           `json:"ts"`
	Data  json.RawMessage `json:"data"`
}

type controlFrame struct {
	Op      string `json:"op"`
	Success *bool  `json:"success"`
	RetMsg  string `json:"ret_msg"`
}

func (a *Adapter) handleMessage(key string, raw []byte) {
	if err := a.dispatch(key, raw); err != nil {
		a.log.WithComponent("bybit").WithError(err).Warn("dropping malformed stream frame")
	}
}

func (a *Adapter) dispatch(key string, raw []byte) error {
	var frame topicFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return err
	}
	if frame.Topic == "" {
		var ctl controlFrame
		if err := json.Unmarshal(raw, &ctl); err == nil && ctl.Success != nil && !*ctl.Success {
			a.log.WithComponent("bybit").WithFields(logger.Fields{
				"op": ctl.Op, "ret_msg": ctl.RetMsg, "session": key,
			}).Warn("stream control request rejected")
		}
		return nil
	}

	category := key
	switch {
	case strings.HasPrefix(frame.Topic, "tickers."):
		return a.handleTicker(category, frame)
	case strings.HasPrefix(frame.Topic, "orderbook."):
		return a.handleOrderBook(category, frame)
	case strings.HasPrefix(frame.Topic, "publicTrade."):
		return a.handleTrades(category, frame)
	case strings.HasPrefix(frame.Topic, "kline."):
		return a.handleKline(category, frame)
	case frame.Topic == "order":
		return a.handleOrderUpdate(frame)
	case frame.Topic == "wallet":
		return a.handleWallet(frame)
	case frame.Topic == "position":
		return a.handlePosition(frame)
	}
	return nil
}

type wsTicker struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	Bid1Price string `json:"bid1Price"`
	Ask1Price string `json:"ask1Price"`
	High24h   string `json:"highPrice24h"`
	Low24h    string `json:"lowPrice24h"`
	Volume24h string `json:"volume24h"`
	Turnover  string `json:"turnover24h"`
}

func (a *Adapter) handleTicker(category string, frame topicFrame) error {
	var msg wsTicker
	if err := json.Unmarshal(frame.Data, &msg); err != nil {
		return err
	}
	symbol, err := symbols.DenormalizeBybit(msg.Symbol, category)
	if err != nil {
		return err
	}
	a.bus.Publish(stream.Event{
		Type:   stream.EventTicker,
		Venue:  "bybit",
		Symbol: symbol,
		Payload: models.Ticker{
			Venue:     "bybit",
			Symbol:    symbol,
			Last:      f(msg.LastPrice),
			Bid:       f(msg.Bid1Price),
			Ask:       f(msg.Ask1Price),
			High:      f(msg.High24h),
			Low:       f(msg.Low24h),
			Volume:    f(msg.Volume24h),
			QuoteVol:  f(msg.Turnover),
			Timestamp: time.UnixMilli(frame.Ts),
		},
	})
	return nil
}

type wsOrderBook struct {
	Symbol   string      `json:"s"`
	Bids     [][2]string `json:"b"`
	Asks     [][2]string `json:"a"`
	UpdateID int64       `json:"u"`
}

func (a *Adapter) handleOrderBook(category string, frame topicFrame) error {
	var msg wsOrderBook
	if err := json.Unmarshal(frame.Data, &msg); err != nil {
		return err
	}
	symbol, err := symbols.DenormalizeBybit(msg.Symbol, category)
	if err != nil {
		return err
	}
	a.bus.Publish(stream.Event{
		Type:   stream.EventOrderBook,
		Venue:  "bybit",
		Symbol: symbol,
		Payload: models.OrderBook{
			Venue:        "bybit",
			Symbol:       symbol,
			Bids:         levels(msg.Bids),
			Asks:         levels(msg.Asks),
			LastUpdateID: msg.UpdateID,
			Timestamp:    time.UnixMilli(frame.Ts),
		},
	})
	return nil
}

type wsTrade struct {
	TradeTime int64  `json:"T"`
	Symbol    string `json:"s"`
	Side      string `json:"S"`
	Size      string `json:"v"`
	Price     string `json:"p"`
	TradeID   string `json:"i"`
}

func (a *Adapter) handleTrades(category string, frame topicFrame) error {
	var rows []wsTrade
	if err := json.Unmarshal(frame.Data, &rows); err != nil {
		return err
	}
	for _, t := range rows {
		symbol, err := symbols.DenormalizeBybit(t.Symbol, category)
		if err != nil {
			continue
		}
		a.bus.Publish(stream.Event{
			Type:   stream.EventTrade,
			Venue:  "bybit",
			Symbol: symbol,
			Payload: models.Trade{
				Venue:     "bybit",
				Symbol:    symbol,
				ID:        t.TradeID,
				Price:     f(t.Price),
				Quantity:  f(t.Size),
				Side:      sideFromWire(t.Side),
				Timestamp: time.UnixMilli(t.TradeTime),
			},
		})
	}
	return nil
}

type wsKline struct {
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
	Interval string `json:"interval"`
	Open     string `json:"open"`
	Close    string `json:"close"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Volume   string `json:"volume"`
	Confirm  bool   `json:"confirm"`
}

func (a *Adapter) handleKline(category string, frame topicFrame) error {
	var rows []wsKline
	if err := json.Unmarshal(frame.Data, &rows); err != nil {
		return err
	}
	// kline.{interval}.{symbol}
	parts := strings.SplitN(frame.Topic, ".", 3)
	if len(parts) != 3 {
		return nil
	}
	symbol, err := symbols.DenormalizeBybit(parts[2], category)
	if err != nil {
		return err
	}
	for _, k := range rows {
		a.bus.Publish(stream.Event{
			Type:   stream.EventKline,
			Venue:  "bybit",
			Symbol: symbol,
			Payload: models.Kline{
				Venue:     "bybit",
				Symbol:    symbol,
				Interval:  canonicalInterval(k.Interval),
				OpenTime:  time.UnixMilli(k.Start),
				CloseTime: time.UnixMilli(k.End),
				Open:      f(k.Open),
				High:      f(k.High),
				Low:       f(k.Low),
				Close:     f(k.Close),
				Volume:    f(k.Volume),
				Closed:    k.Confirm,
			},
		})
	}
	return nil
}

func (a *Adapter) handleOrderUpdate(frame topicFrame) error {
	var rows []wireOrder
	if err := json.Unmarshal(frame.Data, &rows); err != nil {
		return err
	}
	for i := range rows {
		o := &rows[i]
		symbol, err := symbols.DenormalizeBybit(o.Symbol, o.Category)
		if err != nil {
			continue
		}
		order := orderFromWire(symbol, o)
		a.bus.Publish(stream.Event{Type: stream.EventOrderUpdate, Venue: "bybit", Symbol: symbol, Payload: order})
	}
	return nil
}

type wsWallet struct {
	AccountType string `json:"accountType"`
	Coins       []struct {
		Coin    string `json:"coin"`
		Wallet  string `json:"walletBalance"`
		Locked  string `json:"locked"`
	} `json:"coin"`
}

func (a *Adapter) handleWallet(frame topicFrame) error {
	var rows []wsWallet
	if err := json.Unmarshal(frame.Data, &rows); err != nil {
		return err
	}
	for _, w := range rows {
		balances := make([]models.Balance, 0, len(w.Coins))
		for _, c := range w.Coins {
			total := f(c.Wallet)
			locked := f(c.Locked)
			balances = append(balances, models.Balance{
				Asset:  c.Coin,
				Free:   total - locked,
				Locked: locked,
				Total:  total,
			})
		}
		a.bus.Publish(stream.Event{Type: stream.EventAccountUpdate, Venue: "bybit", Payload: balances})
	}
	return nil
}

type wsPosition struct {
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Size       string `json:"size"`
	EntryPrice string `json:"entryPrice"`
	MarkPrice  string `json:"markPrice"`
	Unrealized string `json:"unrealisedPnl"`
	Leverage   string `json:"leverage"`
	Category   string `json:"category"`
}

func (a *Adapter) handlePosition(frame topicFrame) error {
	var rows []wsPosition
	if err := json.Unmarshal(frame.Data, &rows); err != nil {
		return err
	}
	for _, p := range rows {
		category := p.Category
		if category == "" {
			category = categoryLinear
		}
		symbol, err := symbols.DenormalizeBybit(p.Symbol, category)
		if err != nil {
			continue
		}
		lev, _ := strconv.Atoi(p.Leverage)
		side := models.PositionSideLong
		if p.Side == "Sell" {
			side = models.PositionSideShort
		}
		a.bus.Publish(stream.Event{
			Type:   stream.EventPositionUpdate,
			Venue:  "bybit",
			Symbol: symbol,
			Payload: models.Position{
				Symbol:        symbol,
				Side:          side,
				Quantity:      f(p.Size),
				EntryPrice:    f(p.EntryPrice),
				MarkPrice:     f(p.MarkPrice),
				UnrealizedPnL: f(p.Unrealized),
				Leverage:      lev,
				Timestamp:     time.UnixMilli(frame.Ts),
			},
		})
	}
	return nil
}

func levels(rows [][2]string) []models.BookLevel {
	out := make([]models.BookLevel, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.BookLevel{Price: f(r[0]), Quantity: f(r[1])})
	}
	return out
}

func sideFromWire(s string) models.Side {
	if strings.EqualFold(s, "Sell") {
		return models.SideSell
	}
	return models.SideBuy
}

func f(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
