// Package session owns the lifecycle of payment sessions: creation under
// per-user and global caps, status transitions, lazy expiry on read, and a
// background sweep that removes expired sessions.
//
// A Manager is the only writer of its Storage. Readers get copies.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-auction-settlement/internal/domain"
	"github.com/tbourn/go-auction-settlement/internal/observability"
	"github.com/tbourn/go-auction-settlement/internal/payerr"
)

// Config tunes a Manager. Zero fields fall back to DefaultConfig.
type Config struct {
	Timeout           time.Duration
	SweepInterval     time.Duration
	MaxActiveSessions int
	MaxActivePerUser  int
}

// DefaultConfig returns a 15m session timeout, a 5m sweep, a global cap of
// 100 sessions and 5 active sessions per user.
func DefaultConfig() Config {
	return Config{
		Timeout:           15 * time.Minute,
		SweepInterval:     5 * time.Minute,
		MaxActiveSessions: 100,
		MaxActivePerUser:  5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.MaxActiveSessions <= 0 {
		c.MaxActiveSessions = d.MaxActiveSessions
	}
	if c.MaxActivePerUser <= 0 {
		c.MaxActivePerUser = d.MaxActivePerUser
	}
	return c
}

// transitions lists the allowed next states for each status.
var transitions = map[domain.PaymentStatus][]domain.PaymentStatus{
	domain.PaymentCreated:   {domain.PaymentPending, domain.PaymentCancelled, domain.PaymentExpired},
	domain.PaymentPending:   {domain.PaymentPaid, domain.PaymentFailed, domain.PaymentCancelled, domain.PaymentExpired},
	domain.PaymentFailed:    {domain.PaymentPending},
	domain.PaymentPaid:      nil,
	domain.PaymentCancelled: nil,
	domain.PaymentExpired:   nil,
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to domain.PaymentStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CreateParams are the inputs to CreateSession.
type CreateParams struct {
	AuctionID  string
	UserID     string
	Amount     int64
	AppTransID string
	OrderURL   string
	// Exclusive refuses the session while the user still holds a CREATED
	// or PENDING session for the same auction.
	Exclusive bool
}

// Manager coordinates session state on top of a Storage.
type Manager struct {
	storage Storage
	cfg     Config
	log     zerolog.Logger

	// Now is the clock. Tests replace it.
	Now func() time.Time

	newID func() string

	// mu serialises read-modify-write sequences so the caps and the
	// transition table hold under concurrent callers.
	mu sync.Mutex

	cronMu sync.Mutex
	cron   *cron.Cron
}

// NewManager returns a Manager over storage. The sweep is not started; call Start.
func NewManager(storage Storage, cfg Config) *Manager {
	return &Manager{
		storage: storage,
		cfg:     cfg.withDefaults(),
		log:     log.With().Str("component", "session_manager").Logger(),
		Now:     time.Now,
		newID:   func() string { return "session_" + uuid.NewString() },
	}
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// CreateSession validates params, enforces the caps and stores a CREATED session
// expiring after the configured timeout.
func (m *Manager) CreateSession(ctx context.Context, p CreateParams) (*domain.PaymentSession, error) {
	ctx, span := otel.Tracer("session/Manager").Start(ctx, "CreateSession",
		trace.WithAttributes(
			attribute.String("auction.id", p.AuctionID),
			attribute.String("user.id", p.UserID),
		),
	)
	defer span.End()

	if p.AuctionID == "" || p.UserID == "" || p.AppTransID == "" {
		return nil, payerr.ErrInvalidSessionData
	}
	if p.Amount <= 0 {
		return nil, payerr.ErrInvalidAmount.WithMessage("Session amount must be greater than 0")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLimits(ctx, p); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	now := m.Now()
	s := domain.PaymentSession{
		ID:         m.newID(),
		AuctionID:  p.AuctionID,
		UserID:     p.UserID,
		Amount:     p.Amount,
		Currency:   domain.Currency,
		Status:     domain.PaymentCreated,
		AppTransID: p.AppTransID,
		OrderURL:   p.OrderURL,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(m.cfg.Timeout),
	}
	if err := m.storage.Set(ctx, s); err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("session.id", s.ID))

	m.log.Debug().
		Str("session_id", s.ID).
		Str("user_id", s.UserID).
		Str("app_trans_id", s.AppTransID).
		Int64("amount", s.Amount).
		Msg("payment session created")
	return &s, nil
}

func (m *Manager) checkLimits(ctx context.Context, p CreateParams) error {
	mine, err := m.GetUserSessions(ctx, p.UserID, false)
	if err != nil {
		return err
	}
	active := 0
	for _, s := range mine {
		if !s.Status.IsActive() {
			continue
		}
		if p.Exclusive && s.AuctionID == p.AuctionID {
			return payerr.ErrPaymentInProgress.Withf(
				"A payment for this auction is already in progress (session %s)", s.ID)
		}
		active++
	}
	if active >= m.cfg.MaxActivePerUser {
		return payerr.ErrTooManyActiveSessions.WithMessage(
			"Too many active payment sessions. Please complete or cancel existing payments.")
	}

	all, err := m.storage.List(ctx, "")
	if err != nil {
		return err
	}
	if len(all) >= m.cfg.MaxActiveSessions {
		return payerr.ErrSessionLimitExceeded.WithMessage(
			"System is at maximum capacity. Please try again later.")
	}
	return nil
}

// GetSession returns the session, or nil when it does not exist or has
// expired. Expired sessions are deleted on the way out.
func (m *Manager) GetSession(ctx context.Context, id string) (*domain.PaymentSession, error) {
	if id == "" {
		return nil, nil
	}
	s, err := m.storage.Get(ctx, id)
	if err != nil || s == nil {
		return nil, err
	}
	if m.IsSessionExpired(*s) {
		if err := m.storage.Delete(ctx, id); err != nil {
			return nil, err
		}
		m.log.Debug().Str("session_id", id).Msg("expired session removed on read")
		return nil, nil
	}
	return s, nil
}

// UpdateSessionStatus moves a session to status. A non-empty orderURL replaces
// the stored one. On any error the stored session is left untouched.
func (m *Manager) UpdateSessionStatus(ctx context.Context, id string, status domain.PaymentStatus, orderURL string) (*domain.PaymentSession, error) {
	ctx, span := otel.Tracer("session/Manager").Start(ctx, "UpdateSessionStatus",
		trace.WithAttributes(
			attribute.String("session.id", id),
			attribute.String("session.status", string(status)),
		),
	)
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(ctx, id, status, orderURL)
}

func (m *Manager) updateLocked(ctx context.Context, id string, status domain.PaymentStatus, orderURL string) (*domain.PaymentSession, error) {
	s, err := m.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, payerr.ErrSessionNotFound
	}
	if !CanTransition(s.Status, status) {
		return nil, payerr.ErrInvalidStatusTransition.Withf("Cannot transition from %s to %s", s.Status, status)
	}

	from := s.Status
	s.Status = status
	s.UpdatedAt = m.Now()
	if orderURL != "" {
		s.OrderURL = orderURL
	}
	if err := m.storage.Set(ctx, *s); err != nil {
		return nil, err
	}

	observability.SessionTransitions.WithLabelValues(string(from), string(status)).Inc()
	m.log.Info().
		Str("session_id", id).
		Str("from", string(from)).
		Str("to", string(status)).
		Msg("payment session transition")
	return s, nil
}

// CancelSession cancels a CREATED or PENDING session.
func (m *Manager) CancelSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if s == nil {
		return payerr.ErrSessionNotFound
	}
	if !s.Status.IsActive() {
		return payerr.ErrInvalidSessionStatus.Withf("Cannot cancel session with status: %s", s.Status)
	}
	_, err = m.updateLocked(ctx, id, domain.PaymentCancelled, "")
	return err
}

// GetUserSessions returns userID's sessions, dropping expired ones unless
// includeExpired is set.
func (m *Manager) GetUserSessions(ctx context.Context, userID string, includeExpired bool) ([]domain.PaymentSession, error) {
	all, err := m.storage.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	if includeExpired {
		return all, nil
	}
	out := all[:0]
	for _, s := range all {
		if !m.IsSessionExpired(s) {
			out = append(out, s)
		}
	}
	return out, nil
}

// GetSessionByAppTransID finds the session created for a gateway transaction.
// It returns nil when none matches or the match has expired, deleting the
// expired session like GetSession does.
func (m *Manager) GetSessionByAppTransID(ctx context.Context, appTransID string) (*domain.PaymentSession, error) {
	all, err := m.storage.List(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].AppTransID != appTransID {
			continue
		}
		if m.IsSessionExpired(all[i]) {
			if err := m.storage.Delete(ctx, all[i].ID); err != nil {
				return nil, err
			}
			m.log.Debug().Str("session_id", all[i].ID).Msg("expired session removed on read")
			return nil, nil
		}
		return &all[i], nil
	}
	return nil, nil
}

// IsSessionExpired reports whether now is past the session's expiry.
func (m *Manager) IsSessionExpired(s domain.PaymentSession) bool {
	return m.Now().After(s.ExpiresAt)
}

// IsSessionValidForPayment reports whether s can still be paid and, if not, why.
func (m *Manager) IsSessionValidForPayment(s domain.PaymentSession) (bool, string) {
	if m.IsSessionExpired(s) {
		return false, "Payment session has expired"
	}
	switch s.Status {
	case domain.PaymentPaid:
		return false, "Payment has already been completed"
	case domain.PaymentCancelled:
		return false, "Payment session has been cancelled"
	case domain.PaymentFailed:
		return false, "Payment session has failed"
	case domain.PaymentExpired:
		return false, "Payment session has expired"
	}
	return true, ""
}

// RemainingTime is the time left before expiry, never negative.
func (m *Manager) RemainingTime(s domain.PaymentSession) time.Duration {
	d := s.ExpiresAt.Sub(m.Now())
	if d < 0 {
		return 0
	}
	return d
}

// FormatRemainingTime renders the remaining time as "m:ss", "Ns" under a
// minute, or "Expired".
func (m *Manager) FormatRemainingTime(s domain.PaymentSession) string {
	d := m.RemainingTime(s)
	if d <= 0 {
		return "Expired"
	}
	minutes := int(d / time.Minute)
	seconds := int(d%time.Minute) / int(time.Second)
	if minutes > 0 {
		return fmt.Sprintf("%d:%02d", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// Progress is the elapsed share of the session lifetime in [0,100].
func (m *Manager) Progress(s domain.PaymentSession) float64 {
	total := s.ExpiresAt.Sub(s.CreatedAt)
	if total <= 0 {
		return 100
	}
	elapsed := total - m.RemainingTime(s)
	p := float64(elapsed) / float64(total) * 100
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// CleanupExpiredSessions removes expired sessions and returns how many went.
func (m *Manager) CleanupExpiredSessions(ctx context.Context) (int, error) {
	n, err := m.storage.Cleanup(ctx, m.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		observability.SessionsSwept.Add(float64(n))
	}
	return n, nil
}

// Stats summarises stored sessions.
type Stats struct {
	Total    int                          `json:"total"`
	Active   int                          `json:"active"`
	Expired  int                          `json:"expired"`
	ByStatus map[domain.PaymentStatus]int `json:"by_status"`
}

// Stats counts sessions by liveness and status.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	all, err := m.storage.List(ctx, "")
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		Total: len(all),
		ByStatus: map[domain.PaymentStatus]int{
			domain.PaymentCreated:   0,
			domain.PaymentPending:   0,
			domain.PaymentPaid:      0,
			domain.PaymentFailed:    0,
			domain.PaymentCancelled: 0,
			domain.PaymentExpired:   0,
		},
	}
	now := m.Now()
	for _, s := range all {
		if s.ExpiresAt.Before(now) {
			st.Expired++
		} else {
			st.Active++
		}
		st.ByStatus[s.Status]++
	}
	return st, nil
}

// Start schedules the expiry sweep. Calling Start twice is a no-op.
func (m *Manager) Start() error {
	m.cronMu.Lock()
	defer m.cronMu.Unlock()
	if m.cron != nil {
		return nil
	}

	c := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(&m.log))))
	spec := fmt.Sprintf("@every %s", m.cfg.SweepInterval)
	if _, err := c.AddFunc(spec, m.sweep); err != nil {
		return fmt.Errorf("schedule session sweep: %w", err)
	}
	c.Start()
	m.cron = c
	m.log.Info().Dur("interval", m.cfg.SweepInterval).Msg("session sweep started")
	return nil
}

// Stop halts the sweep and waits for a running sweep to finish.
func (m *Manager) Stop() {
	m.cronMu.Lock()
	c := m.cron
	m.cron = nil
	m.cronMu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	m.log.Info().Msg("session sweep stopped")
}

func (m *Manager) sweep() {
	n, err := m.CleanupExpiredSessions(context.Background())
	if err != nil {
		m.log.Error().Err(err).Msg("session sweep failed")
		return
	}
	if n > 0 {
		m.log.Debug().Int("removed", n).Msg("expired sessions swept")
	}
}
