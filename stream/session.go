package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"venueflow/errs"
	"venueflow/logger"
)

// Config describes one websocket session owned by a venue adapter.
type Config struct {
	// Venue and Label identify the session in logs and errors, e.g.
	// ("kucoin", "market").
	Venue string
	Label string

	// URL resolves the dial target. It runs on every (re)connect so that
	// venues with token handshakes (KuCoin bullet) get a fresh endpoint.
	URL func(ctx context.Context) (string, error)

	// OnConnect runs after each successful dial, before the session is
	// declared healthy. Adapters use it to authenticate and to replay
	// their subscription registry through Send.
	OnConnect func(ctx context.Context) error

	// OnMessage handles every inbound frame. It is invoked from a single
	// goroutine in arrival order. Malformed payloads must be logged and
	// dropped by the handler, never returned as fatal.
	OnMessage func(data []byte)

	// PingFrame builds an application-level ping payload. When nil the
	// session sends websocket control pings instead.
	PingFrame func() interface{}

	PingInterval time.Duration
	WriteTimeout time.Duration
	// Silence is the watchdog threshold: no inbound frames for this long
	// forces a reconnect. Zero disables the watchdog.
	Silence time.Duration

	Backoff BackoffPolicy

	// OnFatal runs when the backoff policy is exhausted and the session
	// gives up. Optional.
	OnFatal func(err error)

	Log *logger.Log
}

// Session maintains one websocket connection with automatic reconnect.
// Reconnection is coalesced: a trigger while an attempt is in flight is
// absorbed, not queued.
type Session struct {
	cfg Config
	log *logger.Entry

	mu        sync.Mutex
	conn      *websocket.Conn
	writeMu   sync.Mutex
	connected bool
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	reconnecting atomic.Bool
	lastMsgMs    atomic.Int64
}

// NewSession creates a session. It does not dial; call Start.
func NewSession(cfg Config) *Session {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.Backoff.Base == 0 && cfg.Backoff.Max == 0 {
		cfg.Backoff = DefaultBackoff()
	}
	log := cfg.Log.WithComponent("stream").WithFields(logger.Fields{
		"venue":   cfg.Venue,
		"session": cfg.Label,
	})
	return &Session{cfg: cfg, log: log}
}

// Start dials the endpoint and launches the read and ping workers. The
// first dial is synchronous so connection failures surface to the caller.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.conn != nil || s.closed {
		s.mu.Unlock()
		return errs.New(errs.KindInvalidState, s.cfg.Venue, "stream.Start", "session already started or closed")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if err := s.dial(s.ctx); err != nil {
		return err
	}
	return nil
}

// Close tears the session down: it cancels any in-flight reconnect
// attempt, closes the transport and waits for the workers to exit.
// Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.connected = false
	cancel := s.cancel
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	s.wg.Wait()
	s.log.Info("session closed")
}

// IsConnected reports whether the session currently holds a healthy
// connection.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Send writes a JSON message to the connection.
func (s *Session) Send(v interface{}) error {
	s.mu.Lock()
	conn := s.conn
	connected := s.connected
	s.mu.Unlock()
	if !connected || conn == nil {
		return errs.New(errs.KindConnection, s.cfg.Venue, "stream.Send", "session not connected")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := conn.WriteJSON(v); err != nil {
		s.markDown()
		go s.reconnect()
		return errs.Wrap(errs.KindConnection, s.cfg.Venue, "stream.Send", err)
	}
	return nil
}

func (s *Session) dial(ctx context.Context) error {
	url, err := s.cfg.URL(ctx)
	if err != nil {
		return errs.Wrap(errs.KindConnection, s.cfg.Venue, "stream.dial", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return errs.Wrap(errs.KindConnection, s.cfg.Venue, "stream.dial", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return errs.New(errs.KindInvalidState, s.cfg.Venue, "stream.dial", "session closed during dial")
	}
	s.conn = conn
	s.connected = true
	s.mu.Unlock()
	s.lastMsgMs.Store(time.Now().UnixMilli())

	if s.cfg.OnConnect != nil {
		if err := s.cfg.OnConnect(ctx); err != nil {
			s.markDown()
			_ = conn.Close()
			return errs.Wrap(errs.KindConnection, s.cfg.Venue, "stream.dial", err)
		}
	}

	s.wg.Add(2)
	go s.readLoop(conn)
	go s.pingLoop(ctx, conn)

	s.log.Info("session connected")
	return nil
}

func (s *Session) markDown() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
}

func (s *Session) readLoop(conn *websocket.Conn) {
	defer s.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || s.ctx.Err() != nil {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.WithError(err).Warn("read failed, scheduling reconnect")
			}
			s.markDown()
			go s.reconnect()
			return
		}
		s.lastMsgMs.Store(time.Now().UnixMilli())
		if s.cfg.OnMessage != nil {
			s.cfg.OnMessage(data)
		}
	}
}

func (s *Session) pingLoop(ctx context.Context, conn *websocket.Conn) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			stale := s.conn != conn || !s.connected
			s.mu.Unlock()
			if stale {
				return
			}

			if s.cfg.Silence > 0 {
				last := time.UnixMilli(s.lastMsgMs.Load())
				if time.Since(last) > s.cfg.Silence {
					s.log.WithFields(logger.Fields{"silence": time.Since(last).String()}).Warn("watchdog: no messages, forcing reconnect")
					s.markDown()
					_ = conn.Close()
					go s.reconnect()
					return
				}
			}

			var err error
			if s.cfg.PingFrame != nil {
				s.writeMu.Lock()
				_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
				err = conn.WriteJSON(s.cfg.PingFrame())
				s.writeMu.Unlock()
			} else {
				s.writeMu.Lock()
				_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
				err = conn.WriteMessage(websocket.PingMessage, nil)
				s.writeMu.Unlock()
			}
			if err != nil {
				s.log.WithError(err).Warn("ping failed, scheduling reconnect")
				s.markDown()
				go s.reconnect()
				return
			}
		}
	}
}

// reconnect re-establishes the connection under the backoff policy.
// Concurrent triggers are coalesced through the reconnecting flag.
func (s *Session) reconnect() {
	if !s.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer s.reconnecting.Store(false)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if old := s.conn; old != nil {
		_ = old.Close()
		s.conn = nil
	}
	ctx := s.ctx
	s.mu.Unlock()

	for attempt := 0; ; attempt++ {
		if s.cfg.Backoff.Exhausted(attempt) {
			err := errs.New(errs.KindConnection, s.cfg.Venue, "stream.reconnect", "gave up after %d attempts", attempt)
			s.log.WithFields(logger.Fields{"attempts": attempt}).Error("reconnect attempts exhausted")
			if s.cfg.OnFatal != nil {
				s.cfg.OnFatal(err)
			}
			return
		}

		delay := s.cfg.Backoff.Delay(attempt)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}

		s.log.WithFields(logger.Fields{"attempt": attempt + 1, "delay": delay.String()}).Info("reconnecting")
		if err := s.dial(ctx); err != nil {
			s.log.WithError(err).Warn(fmt.Sprintf("reconnect attempt %d failed", attempt+1))
			continue
		}
		s.log.Info("reconnected")
		return
	}
}
