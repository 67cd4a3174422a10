package binance

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"venueflow/models"
	"venueflow/stream"
)

// combinedFrame is the envelope of the combined-stream endpoint.
type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type wsTicker struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Last      string `json:"c"`
	Bid       string `json:"b"`
	Ask       string `json:"a"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Volume    string `json:"v"`
	Quote     string `json:"q"`
}

type wsDepth struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

type wsTrade struct {
	Event      string `json:"e"`
	EventTime  int64  `json:"E"`
	Symbol     string `json:"s"`
	TradeID    int64  `json:"t"`
	Price      string `json:"p"`
	Quantity   string `json:"q"`
	TradeTime  int64  `json:"T"`
	BuyerMaker bool   `json:"m"`
}

type wsKline struct {
	Event  string `json:"e"`
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

type wsExecutionReport struct {
	Event         string `json:"e"`
	EventTime     int64  `json:"E"`
	Symbol        string `json:"s"`
	ClientOrderID string `json:"c"`
	Side          string `json:"S"`
	Type          string `json:"o"`
	TimeInForce   string `json:"f"`
	Quantity      string `json:"q"`
	Price         string `json:"p"`
	StopPrice     string `json:"P"`
	Status        string `json:"X"`
	OrderID       int64  `json:"i"`
	CumQty        string `json:"z"`
	CumQuote      string `json:"Z"`
	CreatedAt     int64  `json:"O"`
}

type wsAccountPosition struct {
	Event    string `json:"e"`
	Balances []struct {
		Asset  string `json:"a"`
		Free   string `json:"f"`
		Locked string `json:"l"`
	} `json:"B"`
}

// handleMessage dispatches one combined-stream frame. Dispatch is
// synchronous: events reach subscribers in socket order. Malformed
// frames are logged and dropped.
func (a *Adapter) handleMessage(raw []byte) {
	if err := a.dispatch(raw); err != nil {
		a.log.WithComponent("binance").WithError(err).Warn("dropping malformed stream frame")
	}
}

func (a *Adapter) dispatch(raw []byte) error {
	var frame combinedFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Stream == "" {
		// Subscribe acks and other control responses land here.
		return nil
	}

	switch {
	case strings.HasSuffix(frame.Stream, "@ticker"):
		return a.handleTicker(frame.Data)
	case strings.Contains(frame.Stream, "@depth"):
		return a.handleDepth(frame.Stream, frame.Data)
	case strings.HasSuffix(frame.Stream, "@trade"):
		return a.handleTrade(frame.Data)
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
		Venue:  "binance",
		Symbol: symbol,
		Payload: models.Ticker{
			Venue:     "binance",
			Symbol:    symbol,
			Last:      f(msg.Last),
			Bid:       f(msg.Bid),
			Ask:       f(msg.Ask),
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
	// Partial depth frames carry no symbol; recover it from the stream name.
	wire := strings.ToUpper(strings.SplitN(streamName, "@", 2)[0])
	symbol, err := a.Denormalize(wire)
	if err != nil {
		return err
	}
	book := models.OrderBook{
		Venue:        "binance",
		Symbol:       symbol,
		Bids:         levels(msg.Bids),
		Asks:         levels(msg.Asks),
		LastUpdateID: msg.LastUpdateID,
		Timestamp:    time.Now().UTC(),
	}
	a.bus.Publish(stream.Event{Type: stream.EventOrderBook, Venue: "binance", Symbol: symbol, Payload: book})
	return nil
}

func (a *Adapter) handleTrade(data json.RawMessage) error {
	var msg wsTrade
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
		Venue:  "binance",
		Symbol: symbol,
		Payload: models.Trade{
			Venue:     "binance",
			ID:        strconv.FormatInt(msg.TradeID, 10),
			Symbol:    symbol,
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
		Venue:  "binance",
		Symbol: symbol,
		Payload: models.Kline{
			Venue:     "binance",
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
	case "executionReport":
		var msg wsExecutionReport
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		symbol, err := a.Denormalize(msg.Symbol)
		if err != nil {
			return err
		}
		a.bus.Publish(stream.Event{
			Type:   stream.EventOrderUpdate,
			Venue:  "binance",
			Symbol: symbol,
			Payload: models.Order{
				ID:            strconv.FormatInt(msg.OrderID, 10),
				ClientOrderID: msg.ClientOrderID,
				Symbol:        symbol,
				Side:          models.Side(msg.Side),
				Type:          orderTypeFromWire(msg.Type),
				Quantity:      f(msg.Quantity),
				Price:         f(msg.Price),
				StopPrice:     f(msg.StopPrice),
				Status:        statusFromWire(msg.Status),
				TimeInForce:   models.TimeInForce(msg.TimeInForce),
				ExecutedQty:   f(msg.CumQty),
				CumQuoteQty:   f(msg.CumQuote),
				Venue:         "binance",
				CreatedAt:     time.UnixMilli(msg.CreatedAt),
				UpdatedAt:     time.UnixMilli(msg.EventTime),
			},
		})
	case "outboundAccountPosition":
		var msg wsAccountPosition
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		balances := make([]models.Balance, 0, len(msg.Balances))
		for _, b := range msg.Balances {
			free, locked := f(b.Free), f(b.Locked)
			balances = append(balances, models.Balance{
				Asset:  b.Asset,
				Free:   free,
				Locked: locked,
				Total:  free + locked,
			})
		}
		a.bus.Publish(stream.Event{Type: stream.EventAccountUpdate, Venue: "binance", Payload: balances})
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

// f parses a wire decimal, returning 0 for empty or malformed fields.
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
