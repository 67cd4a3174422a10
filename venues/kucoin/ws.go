package kucoin

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"venueflow/errs"
	"venueflow/logger"
	"venueflow/models"
	"venueflow/stream"
)

// topicSpec is one wire topic plus its channel visibility.
type topicSpec struct {
	name    string
	private bool
}

// topicsFor renders the wire topics for a subscription. User data spans
// two private topics, orders and balances.
func (a *Adapter) topicsFor(sub stream.Subscription) ([]topicSpec, error) {
	if sub.Channel == stream.ChannelUserData {
		return []topicSpec{
			{name: "/spotMarket/tradeOrders", private: true},
			{name: "/account/balance", private: true},
		}, nil
	}
	wire, err := a.Normalize(sub.Symbol)
	if err != nil {
		return nil, err
	}
	switch sub.Channel {
	case stream.ChannelTicker:
		return []topicSpec{{name: "/market/ticker:" + wire}}, nil
	case stream.ChannelOrderBook:
		depth := sub.Depth
		if depth != 5 && depth != 50 {
			depth = 50
		}
		return []topicSpec{{name: "/spotMarket/level2Depth" + strconv.Itoa(depth) + ":" + wire}}, nil
	case stream.ChannelTrades:
		return []topicSpec{{name: "/market/match:" + wire}}, nil
	case stream.ChannelKlines:
		return []topicSpec{{name: "/market/candles:" + wire + "_" + wireInterval(sub.Interval)}}, nil
	}
	return nil, errs.New(errs.KindValidation, "kucoin", "subscribe", "unsupported channel %q", sub.Channel)
}

// wireInterval maps canonical candle intervals onto KuCoin's vocabulary.
func wireInterval(interval string) string {
	switch interval {
	case "", "1m":
		return "1min"
	case "3m":
		return "3min"
	case "5m":
		return "5min"
	case "15m":
		return "15min"
	case "30m":
		return "30min"
	case "1h":
		return "1hour"
	case "2h":
		return "2hour"
	case "4h":
		return "4hour"
	case "6h":
		return "6hour"
	case "8h":
		return "8hour"
	case "12h":
		return "12hour"
	case "1d":
		return "1day"
	case "1w":
		return "1week"
	}
	return interval
}

func canonicalInterval(wire string) string {
	switch wire {
	case "1min":
		return "1m"
	case "3min":
		return "3m"
	case "5min":
		return "5m"
	case "15min":
		return "15m"
	case "30min":
		return "30m"
	case "1hour":
		return "1h"
	case "2hour":
		return "2h"
	case "4hour":
		return "4h"
	case "6hour":
		return "6h"
	case "8hour":
		return "8h"
	case "12hour":
		return "12h"
	case "1day":
		return "1d"
	case "1week":
		return "1w"
	}
	return wire
}

// wsFrame is the multiplexed message envelope. Control frames (welcome,
// pong, ack, error) carry type; pushes carry topic and type "message".
type wsFrame struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data"`
}

func (a *Adapter) handleMessage(raw []byte) {
	if err := a.dispatch(raw); err != nil {
		a.log.WithComponent("kucoin").WithError(err).Warn("dropping malformed stream frame")
	}
}

func (a *Adapter) dispatch(raw []byte) error {
	var frame wsFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return err
	}
	switch frame.Type {
	case "welcome", "pong", "ack":
		return nil
	case "error":
		a.log.WithComponent("kucoin").WithFields(logger.Fields{"id": frame.ID}).Warn("stream request rejected")
		return nil
	}
	if frame.Topic == "" {
		return nil
	}

	switch {
	case strings.HasPrefix(frame.Topic, "/market/ticker:"):
		return a.handleTicker(frame)
	case strings.HasPrefix(frame.Topic, "/spotMarket/level2Depth"):
		return a.handleOrderBook(frame)
	case strings.HasPrefix(frame.Topic, "/market/match:"):
		return a.handleMatch(frame)
	case strings.HasPrefix(frame.Topic, "/market/candles:"):
		return a.handleCandles(frame)
	case frame.Topic == "/spotMarket/tradeOrders":
		return a.handleOrderEvent(frame)
	case frame.Topic == "/account/balance":
		return a.handleBalanceEvent(frame)
	}
	return nil
}

func (a *Adapter) symbolFromTopic(topic string) (string, error) {
	i := strings.LastIndexByte(topic, ':')
	if i < 0 {
		return "", errs.New(errs.KindValidation, "kucoin", "stream", "topic %q carries no symbol", topic)
	}
	return a.Denormalize(topic[i+1:])
}

func (a *Adapter) handleTicker(frame wsFrame) error {
	var msg struct {
		BestAsk string `json:"bestAsk"`
		BestBid string `json:"bestBid"`
		Price   string `json:"price"`
		Time    int64  `json:"time"`
	}
	if err := json.Unmarshal(frame.Data, &msg); err != nil {
		return err
	}
	symbol, err := a.symbolFromTopic(frame.Topic)
	if err != nil {
		return err
	}
	a.bus.Publish(stream.Event{
		Type:   stream.EventTicker,
		Venue:  "kucoin",
		Symbol: symbol,
		Payload: models.Ticker{
			Venue:     "kucoin",
			Symbol:    symbol,
			Last:      f(msg.Price),
			Bid:       f(msg.BestBid),
			Ask:       f(msg.BestAsk),
			Timestamp: time.UnixMilli(msg.Time),
		},
	})
	return nil
}

func (a *Adapter) handleOrderBook(frame wsFrame) error {
	var msg struct {
		Bids      [][2]string `json:"bids"`
		Asks      [][2]string `json:"asks"`
		Timestamp int64       `json:"timestamp"`
	}
	if err := json.Unmarshal(frame.Data, &msg); err != nil {
		return err
	}
	symbol, err := a.symbolFromTopic(frame.Topic)
	if err != nil {
		return err
	}
	a.bus.Publish(stream.Event{
		Type:   stream.EventOrderBook,
		Venue:  "kucoin",
		Symbol: symbol,
		Payload: models.OrderBook{
			Venue:     "kucoin",
			Symbol:    symbol,
			Bids:      levels(msg.Bids),
			Asks:      levels(msg.Asks),
			Timestamp: time.UnixMilli(msg.Timestamp),
		},
	})
	return nil
}

func (a *Adapter) handleMatch(frame wsFrame) error {
	var msg struct {
		TradeID string `json:"tradeId"`
		Price   string `json:"price"`
		Size    string `json:"size"`
		Side    string `json:"side"`
		Time    string `json:"time"` // nanoseconds
	}
	if err := json.Unmarshal(frame.Data, &msg); err != nil {
		return err
	}
	symbol, err := a.symbolFromTopic(frame.Topic)
	if err != nil {
		return err
	}
	ns, _ := strconv.ParseInt(msg.Time, 10, 64)
	side := models.SideBuy
	if msg.Side == "sell" {
		side = models.SideSell
	}
	a.bus.Publish(stream.Event{
		Type:   stream.EventTrade,
		Venue:  "kucoin",
		Symbol: symbol,
		Payload: models.Trade{
			Venue:     "kucoin",
			Symbol:    symbol,
			ID:        msg.TradeID,
			Price:     f(msg.Price),
			Quantity:  f(msg.Size),
			Side:      side,
			Timestamp: time.Unix(0, ns),
		},
	})
	return nil
}

func (a *Adapter) handleCandles(frame wsFrame) error {
	var msg struct {
		Candles []string `json:"candles"`
		Time    int64    `json:"time"`
	}
	if err := json.Unmarshal(frame.Data, &msg); err != nil {
		return err
	}
	if len(msg.Candles) < 6 {
		return nil
	}
	// /market/candles:BTC-USDT_1min
	rest := strings.TrimPrefix(frame.Topic, "/market/candles:")
	wire, wireIv, ok := strings.Cut(rest, "_")
	if !ok {
		return nil
	}
	symbol, err := a.Denormalize(wire)
	if err != nil {
		return err
	}
	start, _ := strconv.ParseInt(msg.Candles[0], 10, 64)
	a.bus.Publish(stream.Event{
		Type:   stream.EventKline,
		Venue:  "kucoin",
		Symbol: symbol,
		Payload: models.Kline{
			Venue:    "kucoin",
			Symbol:   symbol,
			Interval: canonicalInterval(wireIv),
			OpenTime: time.Unix(start, 0),
			Open:     f(msg.Candles[1]),
			Close:    f(msg.Candles[2]),
			High:     f(msg.Candles[3]),
			Low:      f(msg.Candles[4]),
			Volume:   f(msg.Candles[5]),
		},
	})
	return nil
}

func (a *Adapter) handleOrderEvent(frame wsFrame) error {
	var msg struct {
		OrderID    string `json:"orderId"`
		ClientOid  string `json:"clientOid"`
		Symbol     string `json:"symbol"`
		OrderType  string `json:"orderType"`
		Side       string `json:"side"`
		Price      string `json:"price"`
		Size       string `json:"size"`
		FilledSize string `json:"filledSize"`
		Status     string `json:"status"` // open, match, done
		Type       string `json:"type"`   // open, match, filled, canceled
		OrderTime  int64  `json:"orderTime"`
		Ts         int64  `json:"ts"`
	}
	if err := json.Unmarshal(frame.Data, &msg); err != nil {
		return err
	}
	symbol, err := a.Denormalize(msg.Symbol)
	if err != nil {
		return err
	}

	status := models.OrderStatusNew
	switch msg.Type {
	case "match":
		status = models.OrderStatusPartiallyFilled
	case "filled":
		status = models.OrderStatusFilled
	case "canceled":
		status = models.OrderStatusCanceled
	}

	side := models.SideBuy
	if msg.Side == "sell" {
		side = models.SideSell
	}
	a.bus.Publish(stream.Event{
		Type:   stream.EventOrderUpdate,
		Venue:  "kucoin",
		Symbol: symbol,
		Payload: models.Order{
			ID:            msg.OrderID,
			ClientOrderID: msg.ClientOid,
			Symbol:        symbol,
			Side:          side,
			Type:          orderTypeFromWire(msg.OrderType),
			Quantity:      f(msg.Size),
			Price:         f(msg.Price),
			Status:        status,
			ExecutedQty:   f(msg.FilledSize),
			Venue:         "kucoin",
			CreatedAt:     time.Unix(0, msg.OrderTime),
			UpdatedAt:     time.Unix(0, msg.Ts),
		},
	})
	return nil
}

func (a *Adapter) handleBalanceEvent(frame wsFrame) error {
	var msg struct {
		Currency  string `json:"currency"`
		Total     string `json:"total"`
		Available string `json:"available"`
		Hold      string `json:"hold"`
	}
	if err := json.Unmarshal(frame.Data, &msg); err != nil {
		return err
	}
	a.bus.Publish(stream.Event{
		Type:  stream.EventAccountUpdate,
		Venue: "kucoin",
		Payload: []models.Balance{{
			Asset:  msg.Currency,
			Free:   f(msg.Available),
			Locked: f(msg.Hold),
			Total:  f(msg.Total),
		}},
	})
	return nil
}

func levels(rows [][2]string) []models.BookLevel {
	out := make([]models.BookLevel, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.BookLevel{Price: f(r[0]), Quantity: f(r[1])})
	}
	return out
}

func orderTypeFromWire(t string) models.OrderType {
	if t == "market" {
		return models.OrderTypeMarket
	}
	return models.OrderTypeLimit
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
