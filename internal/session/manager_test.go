package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tbourn/go-auction-settlement/internal/domain"
	"github.com/tbourn/go-auction-settlement/internal/payerr"
)

// ----- helpers -----

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(t *testing.T, cfg Config) (*Manager, *MemoryStorage, *clock) {
	t.Helper()
	st := NewMemoryStorage()
	m := NewManager(st, cfg)
	c := &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	m.Now = c.now
	n := 0
	m.newID = func() string {
		n++
		return fmt.Sprintf("session_%d", n)
	}
	return m, st, c
}

func params(user string) CreateParams {
	return CreateParams{AuctionID: "a1", UserID: user, Amount: 1_500_000, AppTransID: "app_" + user}
}

// ----- tests -----

func TestCreateSession_DefaultsAndExpiry(t *testing.T) {
	m, _, c := newTestManager(t, Config{})
	s, err := m.CreateSession(context.Background(), params("u1"))
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if s.Status != domain.PaymentCreated || s.Currency != "VND" {
		t.Fatalf("unexpected session: %+v", s)
	}
	if want := c.t.Add(15 * time.Minute); !s.ExpiresAt.Equal(want) {
		t.Fatalf("ExpiresAt=%v want %v", s.ExpiresAt, want)
	}
	if !s.ExpiresAt.After(s.CreatedAt) {
		t.Fatalf("expiry must follow creation")
	}
}

func TestCreateSession_Validation(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	ctx := context.Background()

	p := params("u1")
	p.AppTransID = ""
	if _, err := m.CreateSession(ctx, p); !errors.Is(err, payerr.ErrInvalidSessionData) {
		t.Fatalf("want ErrInvalidSessionData, got %v", err)
	}

	p = params("u1")
	p.Amount = 0
	if _, err := m.CreateSession(ctx, p); !errors.Is(err, payerr.ErrInvalidAmount) {
		t.Fatalf("want ErrInvalidAmount, got %v", err)
	}
}

func TestCreateSession_PerUserCap(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := m.CreateSession(ctx, params("u1")); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	if _, err := m.CreateSession(ctx, params("u1")); !errors.Is(err, payerr.ErrTooManyActiveSessions) {
		t.Fatalf("want ErrTooManyActiveSessions, got %v", err)
	}
	// Another user is unaffected.
	if _, err := m.CreateSession(ctx, params("u2")); err != nil {
		t.Fatalf("other user: %v", err)
	}
}

func TestCreateSession_SettledSessionsDoNotCountTowardUserCap(t *testing.T) {
	m, _, _ := newTestManager(t, Config{MaxActivePerUser: 1})
	ctx := context.Background()
	s, _ := m.CreateSession(ctx, params("u1"))
	if err := m.CancelSession(ctx, s.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := m.CreateSession(ctx, params("u1")); err != nil {
		t.Fatalf("create after cancel: %v", err)
	}
}

func TestCreateSession_GlobalCap(t *testing.T) {
	m, _, _ := newTestManager(t, Config{MaxActiveSessions: 2})
	ctx := context.Background()
	_, _ = m.CreateSession(ctx, params("u1"))
	_, _ = m.CreateSession(ctx, params("u2"))
	if _, err := m.CreateSession(ctx, params("u3")); !errors.Is(err, payerr.ErrSessionLimitExceeded) {
		t.Fatalf("want ErrSessionLimitExceeded, got %v", err)
	}
}

func TestGetSession_LazyExpiryDeletes(t *testing.T) {
	m, st, c := newTestManager(t, Config{})
	ctx := context.Background()
	s, _ := m.CreateSession(ctx, params("u1"))

	c.advance(15*time.Minute + time.Second)
	got, err := m.GetSession(ctx, s.ID)
	if err != nil || got != nil {
		t.Fatalf("expired session must not be returned, got %+v err=%v", got, err)
	}
	if st.Len() != 0 {
		t.Fatalf("expired session must be deleted on read")
	}
}

func TestGetSessionByAppTransID_LazyExpiry(t *testing.T) {
	m, st, c := newTestManager(t, Config{})
	ctx := context.Background()
	if _, err := m.CreateSession(ctx, params("u1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	c.advance(time.Hour)
	got, err := m.GetSessionByAppTransID(ctx, "app_u1")
	if err != nil || got != nil {
		t.Fatalf("expired session returned by transaction id: %+v err=%v", got, err)
	}
	if st.Len() != 0 {
		t.Fatalf("expired session must be deleted on read")
	}
}

func TestCreateSession_ExclusivePerAuction(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	ctx := context.Background()
	p := params("u1")
	p.Exclusive = true

	first, err := m.CreateSession(ctx, p)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := m.CreateSession(ctx, p); !errors.Is(err, payerr.ErrPaymentInProgress) {
		t.Fatalf("want ErrPaymentInProgress, got %v", err)
	}
	if _, err := m.UpdateSessionStatus(ctx, first.ID, domain.PaymentPending, ""); err != nil {
		t.Fatalf("pending: %v", err)
	}
	if _, err := m.CreateSession(ctx, p); !errors.Is(err, payerr.ErrPaymentInProgress) {
		t.Fatalf("pending session must still block, got %v", err)
	}

	other := p
	other.AuctionID = "a2"
	if _, err := m.CreateSession(ctx, other); err != nil {
		t.Fatalf("other auction: %v", err)
	}
	if _, err := m.UpdateSessionStatus(ctx, first.ID, domain.PaymentFailed, ""); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if _, err := m.CreateSession(ctx, p); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
}

func TestGetSession_EmptyAndMissing(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	if s, err := m.GetSession(context.Background(), ""); s != nil || err != nil {
		t.Fatalf("empty id: %v %v", s, err)
	}
	if s, err := m.GetSession(context.Background(), "nope"); s != nil || err != nil {
		t.Fatalf("missing id: %v %v", s, err)
	}
}

func TestUpdateSessionStatus_TransitionTable(t *testing.T) {
	all := []domain.PaymentStatus{
		domain.PaymentCreated, domain.PaymentPending, domain.PaymentPaid,
		domain.PaymentFailed, domain.PaymentCancelled, domain.PaymentExpired,
	}
	// path from CREATED to each starting status
	paths := map[domain.PaymentStatus][]domain.PaymentStatus{
		domain.PaymentCreated:   nil,
		domain.PaymentPending:   {domain.PaymentPending},
		domain.PaymentPaid:      {domain.PaymentPending, domain.PaymentPaid},
		domain.PaymentFailed:    {domain.PaymentPending, domain.PaymentFailed},
		domain.PaymentCancelled: {domain.PaymentCancelled},
		domain.PaymentExpired:   {domain.PaymentExpired},
	}

	for _, from := range all {
		for _, to := range all {
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				m, st, _ := newTestManager(t, Config{})
				ctx := context.Background()
				s, _ := m.CreateSession(ctx, params("u1"))
				for _, step := range paths[from] {
					if _, err := m.UpdateSessionStatus(ctx, s.ID, step, ""); err != nil {
						t.Fatalf("setup %s: %v", step, err)
					}
				}
				before, _ := st.Get(ctx, s.ID)

				_, err := m.UpdateSessionStatus(ctx, s.ID, to, "https://order")
				after, _ := st.Get(ctx, s.ID)

				if CanTransition(from, to) {
					if err != nil {
						t.Fatalf("allowed transition failed: %v", err)
					}
					if after.Status != to || after.OrderURL != "https://order" {
						t.Fatalf("not applied: %+v", after)
					}
					return
				}
				if !errors.Is(err, payerr.ErrInvalidStatusTransition) {
					t.Fatalf("want ErrInvalidStatusTransition, got %v", err)
				}
				if *after != *before {
					t.Fatalf("stored session changed on rejected transition")
				}
			})
		}
	}
}

func TestUpdateSessionStatus_NotFound(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	if _, err := m.UpdateSessionStatus(context.Background(), "x", domain.PaymentPending, ""); !errors.Is(err, payerr.ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound, got %v", err)
	}
}

func TestCancelSession(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	ctx := context.Background()
	s, _ := m.CreateSession(ctx, params("u1"))
	_, _ = m.UpdateSessionStatus(ctx, s.ID, domain.PaymentPending, "")
	_, _ = m.UpdateSessionStatus(ctx, s.ID, domain.PaymentPaid, "")

	if err := m.CancelSession(ctx, s.ID); !errors.Is(err, payerr.ErrInvalidSessionStatus) {
		t.Fatalf("want ErrInvalidSessionStatus, got %v", err)
	}
	if err := m.CancelSession(ctx, "missing"); !errors.Is(err, payerr.ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound, got %v", err)
	}
}

func TestLookupsAndStats(t *testing.T) {
	m, _, c := newTestManager(t, Config{})
	ctx := context.Background()
	s1, _ := m.CreateSession(ctx, params("u1"))
	c.advance(10 * time.Minute)
	s2, _ := m.CreateSession(ctx, params("u2"))
	_, _ = m.UpdateSessionStatus(ctx, s2.ID, domain.PaymentPending, "")

	got, _ := m.GetSessionByAppTransID(ctx, "app_u2")
	if got == nil || got.ID != s2.ID {
		t.Fatalf("lookup by app trans id: %+v", got)
	}
	if got, _ := m.GetSessionByAppTransID(ctx, "none"); got != nil {
		t.Fatalf("expected nil for unknown app trans id")
	}

	c.advance(6 * time.Minute) // s1 is now expired, s2 is not
	live, _ := m.GetUserSessions(ctx, "u1", false)
	withExpired, _ := m.GetUserSessions(ctx, "u1", true)
	if len(live) != 0 || len(withExpired) != 1 || withExpired[0].ID != s1.ID {
		t.Fatalf("user sessions: live=%v all=%v", live, withExpired)
	}

	st, _ := m.Stats(ctx)
	if st.Total != 2 || st.Active != 1 || st.Expired != 1 {
		t.Fatalf("stats: %+v", st)
	}
	if st.ByStatus[domain.PaymentCreated] != 1 || st.ByStatus[domain.PaymentPending] != 1 {
		t.Fatalf("by status: %+v", st.ByStatus)
	}

	n, err := m.CleanupExpiredSessions(ctx)
	if err != nil || n != 1 {
		t.Fatalf("cleanup removed %d err=%v", n, err)
	}
}

func TestRemainingTimeFormattingAndProgress(t *testing.T) {
	m, _, c := newTestManager(t, Config{})
	s, _ := m.CreateSession(context.Background(), params("u1"))

	if got := m.FormatRemainingTime(*s); got != "15:00" {
		t.Fatalf("format at start = %q", got)
	}
	if p := m.Progress(*s); p != 0 {
		t.Fatalf("progress at start = %v", p)
	}

	c.advance(14*time.Minute + 15*time.Second)
	if got := m.FormatRemainingTime(*s); got != "45s" {
		t.Fatalf("format under a minute = %q", got)
	}

	c.advance(time.Hour)
	if got := m.FormatRemainingTime(*s); got != "Expired" {
		t.Fatalf("format after expiry = %q", got)
	}
	if m.RemainingTime(*s) != 0 || m.Progress(*s) != 100 {
		t.Fatalf("remaining/progress after expiry wrong")
	}
}

func TestIsSessionValidForPayment(t *testing.T) {
	m, _, c := newTestManager(t, Config{})
	s := domain.PaymentSession{Status: domain.PaymentCreated, ExpiresAt: c.t.Add(time.Minute)}
	if ok, _ := m.IsSessionValidForPayment(s); !ok {
		t.Fatalf("fresh session should be valid")
	}
	for _, st := range []domain.PaymentStatus{domain.PaymentPaid, domain.PaymentCancelled, domain.PaymentFailed, domain.PaymentExpired} {
		s.Status = st
		if ok, reason := m.IsSessionValidForPayment(s); ok || reason == "" {
			t.Fatalf("%s should be invalid", st)
		}
	}
	s.Status = domain.PaymentPending
	c.advance(2 * time.Minute)
	if ok, reason := m.IsSessionValidForPayment(s); ok || reason != "Payment session has expired" {
		t.Fatalf("expired: ok=%v reason=%q", ok, reason)
	}
}

func TestValidators(t *testing.T) {
	if errs := ValidateSessionData(CreateParams{}); len(errs) != 4 {
		t.Fatalf("want 4 errors, got %v", errs)
	}
	now := time.Now()
	s := domain.PaymentSession{UserID: "u1", Status: domain.PaymentPaid, Amount: 1000, AppTransID: "x", ExpiresAt: now.Add(time.Minute)}
	if ok, reason := ValidateForPayment(s, now); ok || reason != "Invalid session status: PAID" {
		t.Fatalf("ValidateForPayment: %v %q", ok, reason)
	}
	if !ValidateOwnership(s, "u1") || ValidateOwnership(s, "u2") {
		t.Fatalf("ValidateOwnership mismatch")
	}
	if StatusDisplayText(domain.PaymentPending) != "Processing payment" {
		t.Fatalf("display text")
	}
}

func TestStartStop(t *testing.T) {
	m, _, _ := newTestManager(t, Config{SweepInterval: time.Hour})
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	m.Stop()
	m.Stop()
}
