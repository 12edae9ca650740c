package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"

	"github.com/tbourn/go-auction-settlement/internal/message"
)

// wsServer accepts websocket connections, records the first frame of each
// and hands the connection to serve.
type wsServer struct {
	*httptest.Server
	hits   atomic.Int32
	conns  atomic.Int32
	reject atomic.Bool

	mu     sync.Mutex
	frames [][]byte
}

func newWSServer(t *testing.T, serve func(ctx context.Context, c *websocket.Conn)) *wsServer {
	t.Helper()
	s := &wsServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		if s.reject.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		s.conns.Add(1)

		_, data, err := c.Read(r.Context())
		if err != nil {
			return
		}
		s.mu.Lock()
		s.frames = append(s.frames, data)
		s.mu.Unlock()

		if serve != nil {
			serve(r.Context(), c)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) wsURL() string { return "ws" + strings.TrimPrefix(s.URL, "http") }

// holdOpen keeps reading until the client goes away.
func holdOpen(ctx context.Context, c *websocket.Conn) {
	for {
		if _, _, err := c.Read(ctx); err != nil {
			return
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func fastConfig(url string) Config {
	return Config{
		URL:                  url,
		MaxReconnectAttempts: 5,
		BaseDelay:            time.Millisecond,
		MaxDelay:             10 * time.Millisecond,
		ForceReconnectDelay:  5 * time.Millisecond,
		DialTimeout:          time.Second,
	}
}

type inbox struct {
	mu   sync.Mutex
	msgs []message.Raw
}

func (b *inbox) handle(raw message.Raw) {
	b.mu.Lock()
	b.msgs = append(b.msgs, raw)
	b.mu.Unlock()
}

func (b *inbox) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.msgs)
}

func TestConnect_SubscribesAndForwardsFrames(t *testing.T) {
	srv := newWSServer(t, func(ctx context.Context, c *websocket.Conn) {
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"PAYMENT_STATUS","paymentId":"p1"}`))
		_ = c.Write(ctx, websocket.MessageText, []byte(`{not json`))
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"BOOKING_CONFIRMED","bookingId":"b1"}`))
		holdOpen(ctx, c)
	})

	conn := New(fastConfig(srv.wsURL()))
	defer conn.Disconnect()

	var in inbox
	if err := conn.Connect(context.Background(), "u1", in.handle); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := conn.Status(); got != StatusConnected {
		t.Fatalf("status = %s, want connected", got)
	}

	waitFor(t, "two frames", func() bool { return in.len() == 2 })

	var sub subscribeFrame
	srv.mu.Lock()
	err := json.Unmarshal(srv.frames[0], &sub)
	srv.mu.Unlock()
	if err != nil {
		t.Fatalf("decode subscribe: %v", err)
	}
	if sub.Type != "SUBSCRIBE" || sub.UserID != "u1" || len(sub.Channels) != 4 {
		t.Fatalf("unexpected subscribe frame %+v", sub)
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if in.msgs[0]["paymentId"] != "p1" || in.msgs[1]["bookingId"] != "b1" {
		t.Fatalf("frames out of order: %v", in.msgs)
	}
}

func TestConnect_RequiresUser(t *testing.T) {
	conn := New(DefaultConfig())
	if err := conn.Connect(context.Background(), "", func(message.Raw) {}); !errors.Is(err, ErrNoUser) {
		t.Fatalf("want ErrNoUser, got %v", err)
	}
}

func TestReconnectsAfterServerClose(t *testing.T) {
	var first atomic.Bool
	first.Store(true)
	srv := newWSServer(t, func(ctx context.Context, c *websocket.Conn) {
		if first.CompareAndSwap(true, false) {
			_ = c.Close(websocket.StatusGoingAway, "restart")
			return
		}
		holdOpen(ctx, c)
	})

	conn := New(fastConfig(srv.wsURL()))
	defer conn.Disconnect()
	if err := conn.Connect(context.Background(), "u1", func(message.Raw) {}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	waitFor(t, "second connection", func() bool { return srv.conns.Load() == 2 })
	waitFor(t, "connected", func() bool { return conn.Status() == StatusConnected })

	conn.mu.Lock()
	attempts := conn.attempts
	conn.mu.Unlock()
	if attempts != 0 {
		t.Fatalf("attempts = %d after reconnect, want 0", attempts)
	}
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	srv := newWSServer(t, nil)
	srv.reject.Store(true)

	cfg := fastConfig(srv.wsURL())
	cfg.MaxReconnectAttempts = 3
	conn := New(cfg)
	defer conn.Disconnect()

	if err := conn.Connect(context.Background(), "u1", func(message.Raw) {}); err == nil {
		t.Fatal("expected dial error")
	}

	waitFor(t, "all attempts", func() bool { return srv.hits.Load() == 4 })
	time.Sleep(50 * time.Millisecond)
	if got := srv.hits.Load(); got != 4 {
		t.Fatalf("hits = %d, want 4 (1 dial + 3 retries)", got)
	}
	if got := conn.Status(); got != StatusDisconnected {
		t.Fatalf("status = %s", got)
	}

	// A network hook gets a fresh chance once the server is back.
	srv.reject.Store(false)
	conn.Online()
	waitFor(t, "connected after online", func() bool { return conn.Status() == StatusConnected })
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	srv := newWSServer(t, nil)
	srv.reject.Store(true)

	cfg := fastConfig(srv.wsURL())
	cfg.BaseDelay = 50 * time.Millisecond
	cfg.MaxDelay = time.Second
	conn := New(cfg)

	_ = conn.Connect(context.Background(), "u1", func(message.Raw) {})
	conn.Disconnect()

	time.Sleep(250 * time.Millisecond)
	if got := srv.hits.Load(); got != 1 {
		t.Fatalf("hits = %d, stale reconnect fired", got)
	}
	if err := conn.Send(context.Background(), map[string]string{"type": "PING"}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("want ErrNotConnected, got %v", err)
	}
}

func TestDisconnectClosesSocket(t *testing.T) {
	srv := newWSServer(t, holdOpen)
	conn := New(fastConfig(srv.wsURL()))

	if err := conn.Connect(context.Background(), "u1", func(message.Raw) {}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn.Disconnect()

	time.Sleep(50 * time.Millisecond)
	if got := srv.conns.Load(); got != 1 {
		t.Fatalf("conns = %d, want no reconnect after Disconnect", got)
	}
	if got := conn.Status(); got != StatusDisconnected {
		t.Fatalf("status = %s", got)
	}
}

func TestForceReconnectKeepsUser(t *testing.T) {
	srv := newWSServer(t, holdOpen)
	conn := New(fastConfig(srv.wsURL()))
	defer conn.Disconnect()

	if err := conn.Connect(context.Background(), "u1", func(message.Raw) {}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn.ForceReconnect()

	waitFor(t, "second connection", func() bool { return srv.conns.Load() == 2 })
	waitFor(t, "connected", func() bool { return conn.Status() == StatusConnected })

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if !strings.Contains(string(srv.frames[1]), `"userId":"u1"`) {
		t.Fatalf("resubscribe frame %s", srv.frames[1])
	}
}

func TestSendWritesJSON(t *testing.T) {
	got := make(chan []byte, 1)
	srv := newWSServer(t, func(ctx context.Context, c *websocket.Conn) {
		_, data, err := c.Read(ctx)
		if err == nil {
			got <- data
		}
		holdOpen(ctx, c)
	})
	conn := New(fastConfig(srv.wsURL()))
	defer conn.Disconnect()

	if err := conn.Connect(context.Background(), "u1", func(message.Raw) {}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := conn.Send(context.Background(), map[string]string{"type": "PING"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case b := <-got:
		if string(b) != `{"type":"PING"}` {
			t.Fatalf("frame = %s", b)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never received frame")
	}
}

func TestEmitLocal(t *testing.T) {
	live := New(DefaultConfig())
	if err := live.EmitLocal(message.BookingConfirmed{BookingID: "b1"}); !errors.Is(err, ErrMockDisabled) {
		t.Fatalf("want ErrMockDisabled, got %v", err)
	}

	mock := New(Config{Mock: true})
	if err := mock.EmitLocal(message.BookingConfirmed{BookingID: "b1"}); !errors.Is(err, ErrNoHandler) {
		t.Fatalf("want ErrNoHandler, got %v", err)
	}

	var in inbox
	if err := mock.Connect(context.Background(), "u1", in.handle); err != nil {
		t.Fatalf("mock connect: %v", err)
	}
	if err := mock.EmitLocal(message.BookingConfirmed{BookingID: "b1", UserID: "u1"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if in.len() != 1 || in.msgs[0]["type"] != "BOOKING_CONFIRMED" || in.msgs[0]["bookingId"] != "b1" {
		t.Fatalf("unexpected delivery %v", in.msgs)
	}
}

func TestVisibilityAndOfflineHooks(t *testing.T) {
	srv := newWSServer(t, holdOpen)
	srv.reject.Store(true)

	cfg := fastConfig(srv.wsURL())
	cfg.MaxReconnectAttempts = 0
	conn := New(cfg)
	defer conn.Disconnect()

	_ = conn.Connect(context.Background(), "u1", func(message.Raw) {})
	srv.reject.Store(false)

	conn.Offline()
	conn.VisibilityChanged(false)
	if got := conn.Status(); got != StatusDisconnected {
		t.Fatalf("status = %s, hooks should not reconnect", got)
	}

	conn.VisibilityChanged(true)
	waitFor(t, "connected", func() bool { return conn.Status() == StatusConnected })
}

func TestBackoffDelays(t *testing.T) {
	conn := New(DefaultConfig())
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second}
	for i, w := range want {
		if got := conn.bo.NextBackOff(); got != w {
			t.Fatalf("attempt %d: delay %v, want %v", i+1, got, w)
		}
	}
}
