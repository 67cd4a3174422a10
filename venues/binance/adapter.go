// Package binance implements the spot venue adapter for Binance on top
// of the official REST SDK and a combined-stream websocket session.
package binance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"golang.org/x/time/rate"

	"venueflow/config"
	"venueflow/errs"
	"venueflow/logger"
	"venueflow/models"
	"venueflow/stream"
	"venueflow/symbols"
	"venueflow/venues"
)

const (
	liveRestURL    = "https://api.binance.com"
	testnetRestURL = "https://testnet.binance.vision"
	liveWsURL      = "wss://stream.binance.com:9443/stream"
	testnetWsURL   = "wss://stream.testnet.binance.vision/stream"

	listenKeyKeepalive = 30 * time.Minute
)

// Adapter is the Binance spot venue adapter. It owns one REST client and
// one combined-stream websocket session; user data joins the combined
// stream through the listen key.
type Adapter struct {
	cfg  config.VenueConfig
	scfg config.StreamConfig
	log  *logger.Log

	mu            sync.Mutex
	client        *gobinance.Client
	connected     bool
	sandbox       bool
	session       *stream.Session
	sessionStop   context.CancelFunc
	listenKey     string
	keepaliveStop chan struct{}
	subID         int

	subs    *stream.Registry
	bus     *stream.Bus
	limiter *rate.Limiter
}

// New creates a disconnected adapter.
func New(cfg config.VenueConfig, scfg config.StreamConfig, log *logger.Log) *Adapter {
	rps := cfg.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return &Adapter{
		cfg:     cfg,
		scfg:    scfg,
		log:     log,
		subs:    stream.NewRegistry(),
		bus:     stream.NewBus(log),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (a *Adapter) Name() venues.Name    { return venues.Binance }
func (a *Adapter) SupportsSandbox() bool { return true }
func (a *Adapter) Events() *stream.Bus  { return a.bus }

func (a *Adapter) Sandbox() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sandbox
}

func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Connect establishes the REST session and verifies it with an
// authenticated account probe.
func (a *Adapter) Connect(ctx context.Context, creds models.Credentials) error {
	client := gobinance.NewClient(creds.APIKey, creds.APISecret)
	client.BaseURL = a.restURL(creds.Sandbox)

	if _, err := client.NewGetAccountService().Do(ctx); err != nil {
		return a.mapErr("Connect", err)
	}

	a.mu.Lock()
	a.client = client
	a.connected = true
	a.sandbox = creds.Sandbox
	a.mu.Unlock()

	a.log.WithComponent("binance").WithFields(logger.Fields{"sandbox": creds.Sandbox}).Info("connected")
	return nil
}

// Disconnect closes the streaming session, stops the listen key
// keepalive and clears subscription state. Safe to call when not
// connected.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	session := a.session
	a.session = nil
	stop := a.sessionStop
	a.sessionStop = nil
	ka := a.keepaliveStop
	a.keepaliveStop = nil
	a.connected = false
	a.client = nil
	a.listenKey = ""
	a.mu.Unlock()

	if ka != nil {
		close(ka)
	}
	if stop != nil {
		stop()
	}
	if session != nil {
		session.Close()
	}
	a.subs.Clear()
	a.log.WithComponent("binance").Info("disconnected")
	return nil
}

func (a *Adapter) restURL(sandbox bool) string {
	if sandbox {
		if a.cfg.SandboxRestURL != "" {
			return a.cfg.SandboxRestURL
		}
		return testnetRestURL
	}
	if a.cfg.RestURL != "" {
		return a.cfg.RestURL
	}
	return liveRestURL
}

func (a *Adapter) wsURL() string {
	a.mu.Lock()
	sandbox := a.sandbox
	a.mu.Unlock()
	if sandbox {
		if a.cfg.SandboxWsURL != "" {
			return a.cfg.SandboxWsURL
		}
		return testnetWsURL
	}
	if a.cfg.WsURL != "" {
		return a.cfg.WsURL
	}
	return liveWsURL
}

// rest returns the REST client or a connection error when the adapter
// has not been connected yet.
func (a *Adapter) rest() (*gobinance.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected || a.client == nil {
		return nil, errs.New(errs.KindConnection, "binance", "rest", "adapter not connected")
	}
	return a.client, nil
}

func (a *Adapter) wait(ctx context.Context, op string) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return errs.Wrap(errs.KindConnection, "binance", op, err)
	}
	return nil
}

// Normalize maps a canonical spot symbol to the Binance wire symbol.
func (a *Adapter) Normalize(symbol string) (string, error) {
	return symbols.NormalizeBinance(symbol)
}

// Denormalize maps a Binance wire symbol back to canonical form.
func (a *Adapter) Denormalize(wire string) (string, error) {
	return symbols.DenormalizeBinance(wire)
}

// ensureSession lazily creates and starts the websocket session on the
// first subscribe call.
func (a *Adapter) ensureSession(ctx context.Context) (*stream.Session, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil, errs.New(errs.KindConnection, "binance", "subscribe", "adapter not connected")
	}
	if a.session != nil {
		s := a.session
		a.mu.Unlock()
		return s, nil
	}
	a.mu.Unlock()

	sctx, cancel := context.WithCancel(context.Background())
	session := stream.NewSession(stream.Config{
		Venue: "binance",
		Label: "combined",
		URL: func(context.Context) (string, error) {
			return a.wsURL(), nil
		},
		OnConnect:    a.replaySubscriptions,
		OnMessage:    a.handleMessage,
		PingInterval: a.scfg.PingInterval,
		WriteTimeout: a.scfg.WriteTimeout,
		Silence:      a.scfg.SilenceTimeout,
		Backoff: stream.BackoffPolicy{
			Base:        a.scfg.BackoffBase,
			Max:         a.scfg.BackoffMax,
			MaxAttempts: a.scfg.MaxReconnects,
		},
		OnFatal: func(err error) {
			a.log.WithComponent("binance").WithError(err).Error("streaming session is fatally unhealthy")
		},
		Log: a.log,
	})
	// Register before Start: the connect hook replays subscriptions
	// through Send and must be able to find the session.
	a.mu.Lock()
	a.session = session
	a.sessionStop = cancel
	a.mu.Unlock()

	if err := session.Start(sctx); err != nil {
		a.mu.Lock()
		a.session = nil
		a.sessionStop = nil
		a.mu.Unlock()
		cancel()
		return nil, err
	}
	return session, nil
}

// replaySubscriptions re-issues every active subscription after a
// (re)connect. User data entries refresh their listen key first, since
// the old key may have expired during the outage.
func (a *Adapter) replaySubscriptions(ctx context.Context) error {
	subs := a.subs.Snapshot()
	if len(subs) == 0 {
		return nil
	}
	params := make([]string, 0, len(subs))
	for _, sub := range subs {
		if sub.Channel == stream.ChannelUserData {
			key, err := a.refreshListenKey(ctx)
			if err != nil {
				return err
			}
			params = append(params, key)
			continue
		}
		name, err := a.streamName(sub)
		if err != nil {
			return err
		}
		params = append(params, name)
	}
	return a.sendSubscribe(params)
}

func (a *Adapter) sendSubscribe(params []string) error {
	a.mu.Lock()
	a.subID++
	id := a.subID
	session := a.session
	a.mu.Unlock()
	if session == nil {
		return errs.New(errs.KindConnection, "binance", "subscribe", "no streaming session")
	}
	return session.Send(map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": params,
		"id":     id,
	})
}

func (a *Adapter) sendUnsubscribe(params []string) error {
	a.mu.Lock()
	a.subID++
	id := a.subID
	session := a.session
	a.mu.Unlock()
	if session == nil {
		return nil
	}
	return session.Send(map[string]interface{}{
		"method": "UNSUBSCRIBE",
		"params": params,
		"id":     id,
	})
}

// streamName renders the wire stream for a subscription.
func (a *Adapter) streamName(sub stream.Subscription) (string, error) {
	wire, err := a.Normalize(sub.Symbol)
	if err != nil {
		return "", err
	}
	lower := strings.ToLower(wire)
	switch sub.Channel {
	case stream.ChannelTicker:
		return lower + "@ticker", nil
	case stream.ChannelOrderBook:
		depth := sub.Depth
		if depth != 5 && depth != 10 && depth != 20 {
			depth = 20
		}
		return fmt.Sprintf("%s@depth%d@100ms", lower, depth), nil
	case stream.ChannelTrades:
		return lower + "@trade", nil
	case stream.ChannelKlines:
		interval := sub.Interval
		if interval == "" {
			interval = "1m"
		}
		return lower + "@kline_" + interval, nil
	}
	return "", errs.New(errs.KindValidation, "binance", "subscribe", "unsupported channel %q", sub.Channel)
}

func (a *Adapter) subscribe(ctx context.Context, sub stream.Subscription) error {
	if _, err := symbols.NormalizeBinance(sub.Symbol); sub.Channel != stream.ChannelUserData && err != nil {
		return err
	}
	if !a.subs.Add(sub) {
		// Already active: a repeat subscribe is a no-op.
		return nil
	}
	if _, err := a.ensureSession(ctx); err != nil {
		a.subs.Remove(sub.Symbol, sub.Channel)
		return err
	}

	if sub.Channel == stream.ChannelUserData {
		key, err := a.refreshListenKey(ctx)
		if err != nil {
			a.subs.Remove(sub.Symbol, sub.Channel)
			return err
		}
		a.startKeepalive()
		return a.sendSubscribe([]string{key})
	}

	name, err := a.streamName(sub)
	if err != nil {
		a.subs.Remove(sub.Symbol, sub.Channel)
		return err
	}
	return a.sendSubscribe([]string{name})
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
	if channel == stream.ChannelUserData {
		a.mu.Lock()
		key := a.listenKey
		a.mu.Unlock()
		if key != "" {
			return a.sendUnsubscribe([]string{key})
		}
		return nil
	}
	name, err := a.streamName(sub)
	if err != nil {
		return err
	}
	return a.sendUnsubscribe([]string{name})
}

// refreshListenKey obtains a fresh user-data listen key.
func (a *Adapter) refreshListenKey(ctx context.Context) (string, error) {
	client, err := a.rest()
	if err != nil {
		return "", err
	}
	key, err := client.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return "", a.mapErr("SubscribeUserData", err)
	}
	a.mu.Lock()
	a.listenKey = key
	a.mu.Unlock()
	return key, nil
}

// startKeepalive pings the listen key on the venue's keepalive schedule.
func (a *Adapter) startKeepalive() {
	a.mu.Lock()
	if a.keepaliveStop != nil {
		a.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	a.keepaliveStop = stop
	a.mu.Unlock()

	go func() {
		ticker := time.NewTicker(listenKeyKeepalive)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				a.mu.Lock()
				client := a.client
				key := a.listenKey
				a.mu.Unlock()
				if client == nil || key == "" {
					continue
				}
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := client.NewKeepaliveUserStreamService().ListenKey(key).Do(ctx); err != nil {
					a.log.WithComponent("binance").WithError(err).Warn("listen key keepalive failed")
				}
				cancel()
			}
		}
	}()
}
