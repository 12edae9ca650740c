// Package realtime owns the websocket that delivers settlement messages for
// one user. It subscribes to the settlement channels on open, forwards every
// JSON frame to a handler and reconnects with capped exponential backoff.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-auction-settlement/internal/message"
	"github.com/tbourn/go-auction-settlement/internal/observability"
)

var (
	// ErrNoUser is returned by Connect without a user id.
	ErrNoUser = errors.New("cannot connect without user id")

	// ErrNotConnected is returned by Send when no socket is open.
	ErrNotConnected = errors.New("connection not open")

	// ErrMockDisabled is returned by EmitLocal outside mock mode.
	ErrMockDisabled = errors.New("local emit is only available in mock mode")

	// ErrNoHandler is returned by EmitLocal before a handler is registered.
	ErrNoHandler = errors.New("no message handler registered")
)

// Channels are the subscriptions requested on every open.
var Channels = []string{
	"auction_results",
	"payment_status",
	"second_chance_offers",
	"booking_confirmations",
}

// Status is the observable connection state.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Handler receives each decoded frame.
type Handler func(raw message.Raw)

// Config tunes a Conn.
type Config struct {
	URL                  string
	MaxReconnectAttempts int
	// BaseDelay is doubled per attempt, so attempt n waits BaseDelay*2^n.
	BaseDelay           time.Duration
	MaxDelay            time.Duration
	ForceReconnectDelay time.Duration
	DialTimeout         time.Duration
	// Mock enables EmitLocal. With an empty URL nothing is dialled.
	Mock bool
}

// DefaultConfig returns 5 attempts, 1s base, 30s cap.
func DefaultConfig() Config {
	return Config{
		MaxReconnectAttempts: 5,
		BaseDelay:            time.Second,
		MaxDelay:             30 * time.Second,
		ForceReconnectDelay:  time.Second,
		DialTimeout:          10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxReconnectAttempts < 0 {
		c.MaxReconnectAttempts = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.ForceReconnectDelay <= 0 {
		c.ForceReconnectDelay = def.ForceReconnectDelay
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	return c
}

type subscribeFrame struct {
	Type     string   `json:"type"`
	UserID   string   `json:"userId"`
	Channels []string `json:"channels"`
}

// Conn is a single reconnecting websocket. The zero value is not usable; use
// New.
//
// Every open, close and scheduled reconnect is tagged with a generation.
// Disconnect bumps the generation, so a reconnect timer or read loop from an
// earlier generation can never revive a deliberately closed connection.
type Conn struct {
	cfg Config
	log zerolog.Logger

	mu        sync.Mutex
	userID    string
	onMessage Handler
	ws        *websocket.Conn
	cancel    context.CancelFunc
	status    Status
	gen       uint64
	attempts  int
	timer     *time.Timer
	bo        *backoff.ExponentialBackOff
}

// New returns a disconnected Conn.
func New(cfg Config) *Conn {
	cfg = cfg.withDefaults()
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * cfg.BaseDelay
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = cfg.MaxDelay
	bo.Reset()

	return &Conn{
		cfg:    cfg,
		log:    log.With().Str("component", "realtime").Logger(),
		status: StatusDisconnected,
		bo:     bo,
	}
}

// Connect registers onMessage for userID and opens the socket. A failed dial
// is returned and also schedules a reconnect.
func (c *Conn) Connect(ctx context.Context, userID string, onMessage Handler) error {
	if userID == "" {
		c.log.Warn().Msg("cannot connect without user id")
		return ErrNoUser
	}

	c.mu.Lock()
	c.userID = userID
	c.onMessage = onMessage
	c.mu.Unlock()

	if c.cfg.Mock && c.cfg.URL == "" {
		c.log.Info().Str("user_id", userID).Msg("mock mode, not dialling")
		return nil
	}
	return c.open(ctx)
}

func (c *Conn) open(ctx context.Context) error {
	c.mu.Lock()
	if c.userID == "" {
		c.mu.Unlock()
		return ErrNoUser
	}
	c.gen++
	gen := c.gen
	old, oldCancel := c.ws, c.cancel
	c.ws, c.cancel = nil, nil
	c.status = StatusConnecting
	userID := c.userID
	c.mu.Unlock()

	if old != nil {
		oldCancel()
		_ = old.Close(websocket.StatusNormalClosure, "superseded")
	}

	dctx, dcancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	ws, _, err := websocket.Dial(dctx, c.cfg.URL, nil)
	dcancel()
	if err != nil {
		c.log.Error().Err(err).Str("url", c.cfg.URL).Msg("websocket dial failed")
		c.mu.Lock()
		if c.gen == gen {
			c.status = StatusDisconnected
			c.scheduleLocked(gen)
		}
		c.mu.Unlock()
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	readCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		cancel()
		_ = ws.Close(websocket.StatusNormalClosure, "superseded")
		return nil
	}
	c.ws, c.cancel = ws, cancel
	c.status = StatusConnected
	c.attempts = 0
	c.bo.Reset()
	c.mu.Unlock()

	c.log.Info().Str("user_id", userID).Msg("connected")

	frame, _ := json.Marshal(subscribeFrame{Type: "SUBSCRIBE", UserID: userID, Channels: Channels})
	if err := ws.Write(readCtx, websocket.MessageText, frame); err != nil {
		c.log.Warn().Err(err).Msg("subscribe failed")
	} else {
		c.log.Debug().Strs("channels", Channels).Msg("subscribed")
	}

	go c.readLoop(readCtx, ws, gen)
	return nil
}

func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn, gen uint64) {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			c.closed(gen, err)
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var raw message.Raw
		if err := json.Unmarshal(data, &raw); err != nil {
			c.log.Warn().Err(err).Int("bytes", len(data)).Msg("dropping unparseable frame")
			continue
		}
		c.deliver(raw)
	}
}

func (c *Conn) deliver(raw message.Raw) {
	c.mu.Lock()
	h := c.onMessage
	c.mu.Unlock()
	if h == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Str("panic", fmt.Sprint(r)).Msg("message handler panicked")
		}
	}()
	h(raw)
}

func (c *Conn) closed(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.ws, c.cancel = nil, nil
	c.status = StatusDisconnected

	c.log.Info().
		Err(err).
		Int("close_code", int(websocket.CloseStatus(err))).
		Msg("connection closed")
	c.scheduleLocked(gen)
}

// scheduleLocked arms the next reconnect unless attempts are exhausted.
func (c *Conn) scheduleLocked(gen uint64) {
	if c.userID == "" {
		return
	}
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.log.Error().Int("attempts", c.attempts).Msg("max reconnection attempts reached")
		return
	}
	c.attempts++
	delay := c.bo.NextBackOff()
	observability.ReconnectAttempts.Inc()

	c.log.Info().
		Dur("delay", delay).
		Int("attempt", c.attempts).
		Int("max_attempts", c.cfg.MaxReconnectAttempts).
		Msg("reconnecting")
	c.armLocked(delay, gen)
}

func (c *Conn) armLocked(delay time.Duration, gen uint64) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.gen != gen || c.userID == "" {
			c.mu.Unlock()
			return
		}
		c.timer = nil
		c.mu.Unlock()
		_ = c.open(context.Background())
	})
}

// Disconnect cancels any pending reconnect, closes the socket and forgets the
// user and handler. Counters are reset.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	ws, cancel := c.ws, c.cancel
	c.ws, c.cancel = nil, nil
	c.userID = ""
	c.onMessage = nil
	c.attempts = 0
	c.bo.Reset()
	c.status = StatusDisconnected
	c.mu.Unlock()

	if ws != nil {
		c.log.Info().Msg("disconnecting")
		_ = ws.Close(websocket.StatusNormalClosure, "Client disconnect")
		cancel()
	}
}

// ForceReconnect disconnects and dials again after ForceReconnectDelay with
// the same user and handler. It does nothing before Connect.
func (c *Conn) ForceReconnect() {
	c.mu.Lock()
	userID, h := c.userID, c.onMessage
	c.mu.Unlock()
	if userID == "" || h == nil {
		return
	}

	c.Disconnect()

	c.mu.Lock()
	c.userID, c.onMessage = userID, h
	c.armLocked(c.cfg.ForceReconnectDelay, c.gen)
	c.mu.Unlock()
}

// VisibilityChanged reconnects when the client becomes visible while closed.
func (c *Conn) VisibilityChanged(visible bool) {
	if visible {
		c.reconnectIfClosed()
	}
}

// Online reconnects if the connection is closed.
func (c *Conn) Online() {
	c.log.Info().Msg("network online")
	c.reconnectIfClosed()
}

// Offline only logs; reconnecting while offline would just burn attempts.
func (c *Conn) Offline() {
	c.log.Info().Msg("network offline")
}

func (c *Conn) reconnectIfClosed() {
	c.mu.Lock()
	skip := c.userID == "" || c.onMessage == nil || c.status != StatusDisconnected
	if !skip && c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	if skip {
		return
	}
	_ = c.open(context.Background())
}

// Status reports the connection state.
func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Send writes v as a JSON text frame.
func (c *Conn) Send(ctx context.Context, v any) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		c.log.Warn().Msg("cannot send, connection not open")
		return ErrNotConnected
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return ws.Write(ctx, websocket.MessageText, b)
}

// EmitLocal hands m to the registered handler as if it had arrived on the
// socket. Only available in mock mode.
func (c *Conn) EmitLocal(m message.Message) error {
	if !c.cfg.Mock {
		c.log.Warn().Msg("local emit is only available in mock mode")
		return ErrMockDisabled
	}
	c.mu.Lock()
	registered := c.onMessage != nil
	c.mu.Unlock()
	if !registered {
		return ErrNoHandler
	}

	b, err := message.Encode(m)
	if err != nil {
		return err
	}
	var raw message.Raw
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	c.deliver(raw)
	return nil
}
