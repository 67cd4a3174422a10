package binancefutures

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"venueflow/models"
	"venueflow/stream"
)

type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type wsTicker struct {
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Last      string `json:"c"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Volume    string `json:"v"`
	Quote     string `json:"q"`
}

type wsDepth struct {
	EventTime    int64       `json:"E"`
	Symbol       string      `json:"s"`
	LastUpdateID int64       `json:"u"`
	Bids         [][2]string `json:"b"`
	Asks         [][2]string `json:"a"`
}

type wsAggTrade struct {
	EventTime  int64  `json:"E"`
	Symbol     string `json:"s"`
	TradeID    int64  `json:"a"`
	Price      string `json:"p"`
	Quantity   string `json:"q"`
	TradeTime  int64  `json:"T"`
	BuyerMaker bool   `json:"m"`
}

type wsKline struct {
	Symbol string `json:"s"`
	Kline  struct {
		OpenTime  int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		Close     string `json:"c"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Volume    string `json:"v"`
		Final     bool   `json:"x"`
	} `json:"k"`
}

type wsOrderTradeUpdate struct {
	EventTime int64 `json:"E"`
	Order     struct {
		Symbol        string `json:"s"`
		ClientOrderID string `json:"c"`
		Side          string `json:"S"`
		Type          string `json:"o"`
		TimeInForce   string `json:"f"`
		Quantity      string `json:"q"`
		Price         string `json:"p"`
		StopPrice     string `json:"sp"`
		Status        string `json:"X"`
		OrderID       int64  `json:"i"`
		CumQty        string `json:"z"`
		TradeTime     int64  `json:"T"`
		PositionSide  string `json:"ps"`
	} `json:"o"`
}

type wsAccountUpdate struct {
	EventTime int64 `json:"E"`
	Data      struct {
		Balances []struct {
			Asset   string `json:"a"`
			Wallet  string `json:"wb"`
			CrossWb string `json:"cw"`
		} `json:"B"`
		Positions []struct {
			Symbol     string `json:"s"`
			Amount     string `json:"pa"`
			EntryPrice string `json:"ep"`
			Unrealized string `json:"up"`
			Side       string `json:"ps"`
		} `json:"P"`
	} `json:"a"`
}

func (a *Adapter) handleMessage(raw []byte) {
	if err := a.dispatch(raw); err != nil {
		a.log.WithComponent("binancefutures").WithError(err).Warn("dropping malformed stream frame")
	}
}

func (a *Adapter) dispatch(raw []byte) error {
	var frame combinedFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Stream == "" {
		return nil
	}

	switch {
	case strings.HasSuffix(frame.Stream, "@ticker"):
		return a.handleTicker(frame.Data)
	case strings.Contains(frame.Stream, "@depth"):
		return a.handleDepth(frame.Stream, frame.Data)
	case strings.HasSuffix(frame.Stream, "@aggTrade"):
		return a.handleAggTrade(frame.Data)
	case strings.Contains(frame.Stream, "@kline_"):
		return a.handleKline(frame.Data)
	default:
		return a.handleUserData(frame.Data)
	}
}

func (a *Adapter) handleTicker(data json.RawMessage) error {
	var msg wsTicker
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	symbol, err := a.Denormalize(msg.Symbol)
	if err != nil {
		return err
	}
	a.bus.Publish(stream.Event{
		Type:   stream.EventTicker,
		Venue:  "binancefutures",
		Symbol: symbol,
		Payload: models.Ticker{
			Venue:     "binancefutures",
			Symbol:    symbol,
			Last:      f(msg.Last),
			High:      f(msg.High),
			Low:       f(msg.Low),
			Volume:    f(msg.Volume),
			QuoteVol:  f(msg.Quote),
			Timestamp: time.UnixMilli(msg.EventTime),
		},
	})
	return nil
}

func (a *Adapter) handleDepth(streamName string, data json.RawMessage) error {
	var msg wsDepth
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	wire := msg.Symbol
	if wire == "" {
		wire = strings.ToUpper(strings.SplitN(streamName, "@", 2)[0])
	}
	symbol, err := a.Denormalize(wire)
	if err != nil {
		return err
	}
	a.bus.Publish(stream.Event{
		Type:   stream.EventOrderBook,
		Venue:  "binancefutures",
		Symbol: symbol,
		Payload: models.OrderBook{
			Venue:        "binancefutures",
			Symbol:       symbol,
			Bids:         levels(msg.Bids),
			Asks:         levels(msg.Asks),
			LastUpdateID: msg.LastUpdateID,
			Timestamp:    time.UnixMilli(msg.EventTime),
		},
	})
	return nil
}

func (a *Adapter) handleAggTrade(data json.RawMessage) error {
	var msg wsAggTrade
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	symbol, err := a.Denormalize(msg.Symbol)
	if err != nil {
		return err
	}
	side := models.SideBuy
	if msg.BuyerMaker {
		side = models.SideSell
	}
	a.bus.Publish(stream.Event{
		Type:   stream.EventTrade,
		Venue:  "binancefutures",
		Symbol: symbol,
		Payload: models.Trade{
			Venue:     "binancefutures",
			Symbol:    symbol,
			ID:        strconv.FormatInt(msg.TradeID, 10),
			Price:     f(msg.Price),
			Quantity:  f(msg.Quantity),
			Side:      side,
			Timestamp: time.UnixMilli(msg.TradeTime),
		},
	})
	return nil
}

func (a *Adapter) handleKline(data json.RawMessage) error {
	var msg wsKline
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	symbol, err := a.Denormalize(msg.Symbol)
	if err != nil {
		return err
	}
	a.bus.Publish(stream.Event{
		Type:   stream.EventKline,
		Venue:  "binancefutures",
		Symbol: symbol,
		Payload: models.Kline{
			Venue:     "binancefutures",
			Symbol:    symbol,
			Interval:  msg.Kline.Interval,
			OpenTime:  time.UnixMilli(msg.Kline.OpenTime),
			CloseTime: time.UnixMilli(msg.Kline.CloseTime),
			Open:      f(msg.Kline.Open),
			High:      f(msg.Kline.High),
			Low:       f(msg.Kline.Low),
			Close:     f(msg.Kline.Close),
			Volume:    f(msg.Kline.Volume),
			Closed:    msg.Kline.Final,
		},
	})
	return nil
}

func (a *Adapter) handleUserData(data json.RawMessage) error {
	var head struct {
		Event string `json:"e"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil
	}
	switch head.Event {
	case "ORDER_TRADE_UPDATE":
		var msg wsOrderTradeUpdate
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		o := msg.Order
		symbol, err := a.Denormalize(o.Symbol)
		if err != nil {
			return err
		}
		a.bus.Publish(stream.Event{
			Type:   stream.EventOrderUpdate,
			Venue:  "binancefutures",
			Symbol: symbol,
			Payload: models.Order{
				ID:            strconv.FormatInt(o.OrderID, 10),
				ClientOrderID: o.ClientOrderID,
				Symbol:        symbol,
				Side:          models.Side(o.Side),
				Type:          models.OrderType(o.Type),
				Quantity:      f(o.Quantity),
				Price:         f(o.Price),
				StopPrice:     f(o.StopPrice),
				Status:        statusFromWire(o.Status),
				TimeInForce:   models.TimeInForce(o.TimeInForce),
				ExecutedQty:   f(o.CumQty),
				Venue:         "binancefutures",
				UpdatedAt:     time.UnixMilli(msg.EventTime),
			},
		})
	case "ACCOUNT_UPDATE":
		var msg wsAccountUpdate
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		if len(msg.Data.Balances) > 0 {
			balances := make([]models.Balance, 0, len(msg.Data.Balances))
			for _, b := range msg.Data.Balances {
				wb := f(b.Wallet)
				balances = append(balances, models.Balance{Asset: b.Asset, Free: wb, Total: wb})
			}
			a.bus.Publish(stream.Event{Type: stream.EventAccountUpdate, Venue: "binancefutures", Payload: balances})
		}
		for _, p := range msg.Data.Positions {
			symbol, err := a.Denormalize(p.Symbol)
			if err != nil {
				continue
			}
			amt := f(p.Amount)
			pos := models.Position{
				Symbol:        symbol,
				Side:          positionSideFromAmount(p.Side, amt),
				Quantity:      abs(amt),
				EntryPrice:    f(p.EntryPrice),
				UnrealizedPnL: f(p.Unrealized),
				Timestamp:     time.UnixMilli(msg.EventTime),
			}
			a.bus.Publish(stream.Event{Type: stream.EventPositionUpdate, Venue: "binancefutures", Symbol: symbol, Payload: pos})
		}
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

// positionSideFromAmount resolves the canonical side. One-way accounts
// report "BOTH"; the sign of the amount disambiguates.
func positionSideFromAmount(wireSide string, amount float64) models.PositionSide {
	switch wireSide {
	case "LONG":
		return models.PositionSideLong
	case "SHORT":
		return models.PositionSideShort
	}
	if amount < 0 {
		return models.PositionSideShort
	}
	return models.PositionSideLong
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
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
