// Package kucoin implements the KuCoin spot venue adapter. KuCoin is a
// passphrase venue: credentials carry a third secret, and streaming
// connections go through a bullet-token handshake that issues a fresh
// endpoint per connect. The account splits funding and trade wallets;
// the adapter implements the funds-routing capability to bridge them.
package kucoin

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"venueflow/config"
	"venueflow/errs"
	"venueflow/logger"
	"venueflow/models"
	"venueflow/stream"
	"venueflow/symbols"
	"venueflow/venues"
)

// Adapter is the KuCoin venue adapter. A single multiplexed websocket
// session carries market and private topics; the private bullet token
// authorizes both.
type Adapter struct {
	cfg  config.VenueConfig
	scfg config.StreamConfig
	log  *logger.Log

	mu          sync.Mutex
	client      *restClient
	connected   bool
	sandbox     bool
	session     *stream.Session
	sessionStop context.CancelFunc
	pingMs      int64

	msgID atomic.Int64

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

func (a *Adapter) Name() venues.Name     { return venues.Kucoin }
func (a *Adapter) SupportsSandbox() bool { return true }
func (a *Adapter) Events() *stream.Bus   { return a.bus }

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

// Connect builds the signed REST client and probes it with an accounts
// query. The passphrase is required; its absence is an auth error, not
// a venue round trip.
func (a *Adapter) Connect(ctx context.Context, creds models.Credentials) error {
	if creds.Passphrase == "" {
		return errs.New(errs.KindAuth, "kucoin", "Connect", "passphrase is required")
	}
	client := newRESTClient(a.restURL(creds.Sandbox), creds.APIKey, creds.APISecret, creds.Passphrase)

	var accounts []accountRow
	if err := client.get(ctx, "/api/v1/accounts", nil, &accounts); err != nil {
		return err
	}

	a.mu.Lock()
	a.client = client
	a.connected = true
	a.sandbox = creds.Sandbox
	a.mu.Unlock()

	a.log.WithComponent("kucoin").WithFields(logger.Fields{"sandbox": creds.Sandbox}).Info("connected")
	return nil
}

// Disconnect closes the streaming session and clears subscription
// state. Safe to call when not connected.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	session := a.session
	a.session = nil
	stop := a.sessionStop
	a.sessionStop = nil
	a.connected = false
	a.client = nil
	a.mu.Unlock()

	if stop != nil {
		stop()
	}
	if session != nil {
		session.Close()
	}
	a.subs.Clear()
	a.log.WithComponent("kucoin").Info("disconnected")
	return nil
}

func (a *Adapter) restURL(sandbox bool) string {
	if sandbox {
		if a.cfg.SandboxRestURL != "" {
			return a.cfg.SandboxRestURL
		}
		return sandboxRestURL
	}
	if a.cfg.RestURL != "" {
		return a.cfg.RestURL
	}
	return liveRestURL
}

func (a *Adapter) rest() (*restClient, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected || a.client == nil {
		return nil, errs.New(errs.KindConnection, "kucoin", "rest", "adapter not connected")
	}
	return a.client, nil
}

func (a *Adapter) wait(ctx context.Context, op string) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return errs.Wrap(errs.KindConnection, "kucoin", op, err)
	}
	return nil
}

// Normalize maps a canonical symbol to the KuCoin wire symbol.
func (a *Adapter) Normalize(symbol string) (string, error) {
	return symbols.NormalizeKucoin(symbol)
}

// Denormalize maps a KuCoin wire symbol back to canonical form.
func (a *Adapter) Denormalize(wire string) (string, error) {
	return symbols.DenormalizeKucoin(wire)
}

type bulletServer struct {
	Endpoint     string `json:"endpoint"`
	PingInterval int64  `json:"pingInterval"`
	PingTimeout  int64  `json:"pingTimeout"`
}

type bulletResponse struct {
	Token           string         `json:"token"`
	InstanceServers []bulletServer `json:"instanceServers"`
}

// bulletURL performs the private bullet handshake and renders the dial
// target. It runs on every (re)connect; bullet tokens are single-use.
func (a *Adapter) bulletURL(ctx context.Context) (string, error) {
	client, err := a.rest()
	if err != nil {
		return "", err
	}
	var res bulletResponse
	if err := client.post(ctx, "/api/v1/bullet-private", nil, &res); err != nil {
		return "", err
	}
	if res.Token == "" || len(res.InstanceServers) == 0 {
		return "", errs.New(errs.KindConnection, "kucoin", "bullet", "empty bullet handshake response")
	}
	srv := res.InstanceServers[0]
	a.mu.Lock()
	a.pingMs = srv.PingInterval
	a.mu.Unlock()
	return fmt.Sprintf("%s?token=%s&connectId=%s", srv.Endpoint, res.Token, uuid.NewString()), nil
}

func (a *Adapter) nextID() string {
	return fmt.Sprintf("%d", a.msgID.Add(1))
}

// ensureSession lazily starts the multiplexed websocket session.
func (a *Adapter) ensureSession(ctx context.Context) (*stream.Session, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil, errs.New(errs.KindConnection, "kucoin", "subscribe", "adapter not connected")
	}
	if a.session != nil {
		s := a.session
		a.mu.Unlock()
		return s, nil
	}
	a.mu.Unlock()

	sctx, cancel := context.WithCancel(context.Background())
	session := stream.NewSession(stream.Config{
		Venue:     "kucoin",
		Label:     "multiplex",
		URL:       a.bulletURL,
		OnConnect: a.replaySubscriptions,
		OnMessage: a.handleMessage,
		PingFrame: func() interface{} {
			return map[string]string{"id": a.nextID(), "type": "ping"}
		},
		PingInterval: a.scfg.PingInterval,
		WriteTimeout: a.scfg.WriteTimeout,
		Silence:      a.scfg.SilenceTimeout,
		Backoff: stream.BackoffPolicy{
			Base:        a.scfg.BackoffBase,
			Max:         a.scfg.BackoffMax,
			MaxAttempts: a.scfg.MaxReconnects,
		},
		OnFatal: func(err error) {
			a.log.WithComponent("kucoin").WithError(err).Error("streaming session is fatally unhealthy")
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

func (a *Adapter) replaySubscriptions(ctx context.Context) error {
	for _, sub := range a.subs.Snapshot() {
		if err := a.sendSubscribe(sub); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) sendSubscribe(sub stream.Subscription) error {
	a.mu.Lock()
	session := a.session
	a.mu.Unlock()
	if session == nil {
		return errs.New(errs.KindConnection, "kucoin", "subscribe", "no streaming session")
	}
	topics, err := a.topicsFor(sub)
	if err != nil {
		return err
	}
	for _, t := range topics {
		err := session.Send(map[string]interface{}{
			"id":             a.nextID(),
			"type":           "subscribe",
			"topic":          t.name,
			"privateChannel": t.private,
			"response":       true,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) subscribe(ctx context.Context, sub stream.Subscription) error {
	if sub.Channel != stream.ChannelUserData {
		if _, err := a.Normalize(sub.Symbol); err != nil {
			return err
		}
	}
	if !a.subs.Add(sub) {
		return nil
	}
	if _, err := a.ensureSession(ctx); err != nil {
		a.subs.Remove(sub.Symbol, sub.Channel)
		return err
	}
	if err := a.sendSubscribe(sub); err != nil {
		a.subs.Remove(sub.Symbol, sub.Channel)
		return err
	}
	return nil
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
	a.mu.Lock()
	session := a.session
	a.mu.Unlock()
	if session == nil {
		return nil
	}
	topics, err := a.topicsFor(sub)
	if err != nil {
		return err
	}
	for _, t := range topics {
		err := session.Send(map[string]interface{}{
			"id":             a.nextID(),
			"type":           "unsubscribe",
			"topic":          t.name,
			"privateChannel": t.private,
			"response":       true,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// EnsureTradeBalance tops up the trade wallet from the funding wallet
// when the tradable balance cannot cover the required amount on its
// own. If funding plus trade still falls short it fails without moving
// anything.
func (a *Adapter) EnsureTradeBalance(ctx context.Context, asset string, required float64) error {
	client, err := a.rest()
	if err != nil {
		return err
	}
	if err := a.wait(ctx, "EnsureTradeBalance"); err != nil {
		return err
	}

	trade, main, err := walletBalances(ctx, client, asset)
	if err != nil {
		return err
	}
	if trade >= required {
		return nil
	}
	shortfall := required - trade
	if main < shortfall {
		return errs.New(errs.KindInsufficientBalance, "kucoin", "EnsureTradeBalance",
			"%s short by %s: trade %s + funding %s < required %s",
			asset, dec(shortfall-main), dec(trade), dec(main), dec(required))
	}

	body := map[string]string{
		"clientOid": uuid.NewString(),
		"currency":  asset,
		"from":      "main",
		"to":        "trade",
		"amount":    dec(shortfall),
	}
	if err := client.post(ctx, "/api/v2/accounts/inner-transfer", body, nil); err != nil {
		return err
	}
	a.log.WithComponent("kucoin").WithFields(logger.Fields{
		"asset":  asset,
		"amount": dec(shortfall),
	}).Info("moved funds from funding to trade wallet")

	// Inner transfers settle asynchronously; give the ledger a moment
	// before the caller re-checks.
	select {
	case <-ctx.Done():
		return errs.Wrap(errs.KindConnection, "kucoin", "EnsureTradeBalance", ctx.Err())
	case <-time.After(200 * time.Millisecond):
	}
	return nil
}
