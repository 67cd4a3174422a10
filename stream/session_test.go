package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"venueflow/errs"
	"venueflow/logger"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsServer accepts connections and hands each one to handle on its own
// goroutine.
func wsServer(t *testing.T, handle func(conn *websocket.Conn, connNum int64)) *httptest.Server {
	t.Helper()
	var conns atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handle(conn, conns.Add(1))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testSessionConfig(srv *httptest.Server, onMessage func([]byte)) Config {
	return Config{
		Venue:     "test",
		Label:     "unit",
		URL:       func(context.Context) (string, error) { return wsURL(srv), nil },
		OnMessage: onMessage,
		Backoff:   BackoffPolicy{Base: 5 * time.Millisecond, Max: 20 * time.Millisecond},
		Log:       logger.GetLogger(),
	}
}

func TestSessionDeliversMessages(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn, _ int64) {
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"seq":1}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"seq":2}`))
		time.Sleep(time.Second)
	})

	got := make(chan []byte, 4)
	s := NewSession(testSessionConfig(srv, func(data []byte) { got <- data }))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Close()

	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", i+1)
		}
	}
	if !s.IsConnected() {
		t.Fatal("session must report connected")
	}
}

func TestSessionReconnectsAndRunsConnectHook(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn, connNum int64) {
		if connNum == 1 {
			// Drop the first connection immediately to force a reconnect.
			conn.Close()
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"after":"reconnect"}`))
		time.Sleep(time.Second)
	})

	var connects atomic.Int64
	got := make(chan []byte, 1)

	cfg := testSessionConfig(srv, func(data []byte) { got <- data })
	cfg.OnConnect = func(context.Context) error {
		connects.Add(1)
		return nil
	}

	s := NewSession(cfg)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Close()

	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a message on the reconnected session")
	}
	if n := connects.Load(); n < 2 {
		t.Fatalf("connect hook ran %d times, want at least 2", n)
	}
}

func TestSessionGivesUpAfterBoundedAttempts(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn, _ int64) {
		conn.Close()
	})

	fatal := make(chan error, 1)
	cfg := testSessionConfig(srv, nil)
	cfg.Backoff.MaxAttempts = 2
	cfg.OnFatal = func(err error) { fatal <- err }

	s := NewSession(cfg)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Close()

	// Shut the server down so every redial fails until the attempt cap.
	srv.CloseClientConnections()
	srv.Close()

	select {
	case err := <-fatal:
		if !errs.IsKind(err, errs.KindConnection) {
			t.Fatalf("fatal error kind = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the session to give up")
	}
}

func TestSessionSendRequiresConnection(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn, _ int64) {
		defer conn.Close()
		time.Sleep(time.Second)
	})

	s := NewSession(testSessionConfig(srv, nil))
	if err := s.Send(map[string]string{"op": "ping"}); !errs.IsKind(err, errs.KindConnection) {
		t.Fatalf("Send before Start must be a connection error, got %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Send(map[string]string{"op": "ping"}); err != nil {
		t.Fatalf("Send on live session failed: %v", err)
	}

	s.Close()
	if err := s.Send(map[string]string{"op": "ping"}); !errs.IsKind(err, errs.KindConnection) {
		t.Fatalf("Send after Close must be a connection error, got %v", err)
	}
}

func TestSessionStartTwice(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn, _ int64) {
		defer conn.Close()
		time.Sleep(time.Second)
	})

	s := NewSession(testSessionConfig(srv, nil))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Close()

	if err := s.Start(context.Background()); !errs.IsKind(err, errs.KindInvalidState) {
		t.Fatalf("second Start must be an invalid state error, got %v", err)
	}
}
