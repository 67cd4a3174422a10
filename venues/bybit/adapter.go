// Package bybit implements the Bybit V5 venue adapter. One adapter
// serves spot and linear perpetual instruments; the category of each
// request is derived from the canonical symbol.
package bybit

import (
	"context"
	"fmt"
	"sync"
	"time"

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
	livePublicWsURL = "wss://stream.bybit.com/v5/public"
	livePrivateWsURL = "wss://stream.bybit.com/v5/private"
	demoPrivateWsURL = "wss://stream-demo.bybit.com/v5/private"
)

const (
	categorySpot   = "spot"
	categoryLinear = "linear"
)

// Adapter is the Bybit venue adapter. It holds one public websocket
// session per category plus one private session for user data, all
// funnelled into a single event bus.
type Adapter struct {
	cfg  config.VenueConfig
	scfg config.StreamConfig
	log  *logger.Log

	mu        sync.Mutex
	client    *restClient
	connected bool
	sandbox   bool
	creds     models.Credentials
	sessions  map[string]*stream.Session
	stops     map[string]context.CancelFunc

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
		cfg:      cfg,
		scfg:     scfg,
		log:      log,
		sessions: make(map[string]*stream.Session),
		stops:    make(map[string]context.CancelFunc),
		subs:     stream.NewRegistry(),
		bus:      stream.NewBus(log),
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (a *Adapter) Name() venues.Name     { return venues.Bybit }
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

// Connect builds the signed REST client and probes it with a wallet
// balance query. Demo trading serves the sandbox environment.
func (a *Adapter) Connect(ctx context.Context, creds models.Credentials) error {
	base := a.restURL(creds.Sandbox)
	client := newRESTClient(base, creds.APIKey, creds.APISecret, a.cfg.RecvWindowMs)

	if _, err := fetchWalletBalance(ctx, client); err != nil {
		return err
	}

	a.mu.Lock()
	a.client = client
	a.connected = true
	a.sandbox = creds.Sandbox
	a.creds = creds
	a.mu.Unlock()

	a.log.WithComponent("bybit").WithFields(logger.Fields{"sandbox": creds.Sandbox}).Info("connected")
	return nil
}

// Disconnect closes every websocket session and clears subscription
// state. Safe to call when not connected.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	sessions := a.sessions
	stops := a.stops
	a.sessions = make(map[string]*stream.Session)
	a.stops = make(map[string]context.CancelFunc)
	a.connected = false
	a.client = nil
	a.creds = models.Credentials{}
	a.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	for _, s := range sessions {
		s.Close()
	}
	a.subs.Clear()
	a.log.WithComponent("bybit").Info("disconnected")
	return nil
}

func (a *Adapter) restURL(sandbox bool) string {
	if sandbox {
		if a.cfg.SandboxRestURL != "" {
			return a.cfg.SandboxRestURL
		}
		return demoRestURL
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
		return nil, errs.New(errs.KindConnection, "bybit", "rest", "adapter not connected")
	}
	return a.client, nil
}

func (a *Adapter) wait(ctx context.Context, op string) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return errs.Wrap(errs.KindConnection, "bybit", op, err)
	}
	return nil
}

// Normalize maps a canonical symbol to the Bybit wire symbol.
func (a *Adapter) Normalize(symbol string) (string, error) {
	return symbols.NormalizeBybit(symbol)
}

// Denormalize maps a wire symbol back to canonical spot form. Linear
// contract symbols need the category and go through categoryDenormalize.
func (a *Adapter) Denormalize(wire string) (string, error) {
	return symbols.DenormalizeBybit(wire, categorySpot)
}

// categoryOf derives the V5 category from the canonical symbol form.
func categoryOf(symbol string) (string, error) {
	pair, err := symbols.Parse(symbol)
	if err != nil {
		return "", err
	}
	if pair.Perpetual {
		return categoryLinear, nil
	}
	return categorySpot, nil
}

// sessionKey is the socket an event family rides on: one public socket
// per category, one private socket for user data.
func sessionKey(sub stream.Subscription) (string, error) {
	if sub.Channel == stream.ChannelUserData {
		return "private", nil
	}
	return categoryOf(sub.Symbol)
}

func (a *Adapter) publicWsURL(category string) string {
	base := livePublicWsURL
	if a.cfg.WsURL != "" {
		base = a.cfg.WsURL
	}
	return fmt.Sprintf("%s/%s", base, category)
}

func (a *Adapter) privateWsURL() string {
	a.mu.Lock()
	sandbox := a.sandbox
	a.mu.Unlock()
	if sandbox {
		if a.cfg.SandboxWsURL != "" {
			return a.cfg.SandboxWsURL
		}
		return demoPrivateWsURL
	}
	return livePrivateWsURL
}

// ensureSession lazily starts the websocket session identified by key
// ("spot", "linear" or "private").
func (a *Adapter) ensureSession(ctx context.Context, key string) (*stream.Session, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil, errs.New(errs.KindConnection, "bybit", "subscribe", "adapter not connected")
	}
	if s, ok := a.sessions[key]; ok {
		a.mu.Unlock()
		return s, nil
	}
	a.mu.Unlock()

	urlFn := func(context.Context) (string, error) {
		if key == "private" {
			return a.privateWsURL(), nil
		}
		return a.publicWsURL(key), nil
	}

	sctx, cancel := context.WithCancel(context.Background())
	session := stream.NewSession(stream.Config{
		Venue:     "bybit",
		Label:     key,
		URL:       urlFn,
		OnConnect: func(ctx context.Context) error { return a.onSessionConnect(ctx, key) },
		OnMessage: func(data []byte) { a.handleMessage(key, data) },
		PingFrame: func() interface{} {
			return map[string]string{"op": "ping"}
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
			a.log.WithComponent("bybit").WithError(err).Error("streaming session is fatally unhealthy")
		},
		Log: a.log,
	})
	// Register before Start: the connect hook replays subscriptions
	// through the session and must be able to find it.
	a.mu.Lock()
	a.sessions[key] = session
	a.stops[key] = cancel
	a.mu.Unlock()

	if err := session.Start(sctx); err != nil {
		a.mu.Lock()
		delete(a.sessions, key)
		delete(a.stops, key)
		a.mu.Unlock()
		cancel()
		return nil, err
	}
	return session, nil
}

// onSessionConnect authenticates private sessions, then replays every
// subscription belonging to the session.
func (a *Adapter) onSessionConnect(ctx context.Context, key string) error {
	a.mu.Lock()
	session := a.sessions[key]
	creds := a.creds
	a.mu.Unlock()
	if session == nil {
		return errs.New(errs.KindInvalidState, "bybit", "subscribe", "session %s closed during connect", key)
	}

	if key == "private" {
		expires := time.Now().Add(10 * time.Second).UnixMilli()
		if err := session.Send(map[string]interface{}{
			"op":   "auth",
			"args": []interface{}{creds.APIKey, expires, wsAuthSignature(creds.APISecret, expires)},
		}); err != nil {
			return err
		}
	}

	var args []string
	for _, sub := range a.subs.Snapshot() {
		sk, err := sessionKey(sub)
		if err != nil || sk != key {
			continue
		}
		if sub.Channel == stream.ChannelUserData {
			args = append(args, userDataTopics()...)
			continue
		}
		topic, err := a.topicName(sub)
		if err != nil {
			return err
		}
		args = append(args, topic)
	}
	if len(args) == 0 {
		return nil
	}
	return session.Send(map[string]interface{}{"op": "subscribe", "args": args})
}
