// Package handlers implements the settlement HTTP API: the payment gateway
// callback, payment session status and checkout.
package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-auction-settlement/internal/domain"
	"github.com/tbourn/go-auction-settlement/internal/gateway"
	"github.com/tbourn/go-auction-settlement/internal/http/middleware"
	"github.com/tbourn/go-auction-settlement/internal/session"
	"github.com/tbourn/go-auction-settlement/internal/winner"
)

// Sessions is the part of session.Manager the API uses.
type Sessions interface {
	GetSession(ctx context.Context, id string) (*domain.PaymentSession, error)
	GetSessionByAppTransID(ctx context.Context, appTransID string) (*domain.PaymentSession, error)
	GetUserSessions(ctx context.Context, userID string, includeExpired bool) ([]domain.PaymentSession, error)
	UpdateSessionStatus(ctx context.Context, id string, status domain.PaymentStatus, orderURL string) (*domain.PaymentSession, error)
	CancelSession(ctx context.Context, id string) error
	Stats(ctx context.Context) (session.Stats, error)
	FormatRemainingTime(s domain.PaymentSession) string
	Progress(s domain.PaymentSession) float64
	IsSessionValidForPayment(s domain.PaymentSession) (bool, string)
}

// CallbackVerifier checks and decodes gateway callbacks.
type CallbackVerifier interface {
	VerifyCallback(cb gateway.CallbackData) bool
	ParseCallbackData(data string) (gateway.CallbackPayload, error)
}

// ReceiptStore is the callback ledger.
type ReceiptStore interface {
	Record(ctx context.Context, r domain.CallbackReceipt) (*domain.CallbackReceipt, error)
	Release(ctx context.Context, appTransID string) error
	ListBySession(ctx context.Context, sessionID string) ([]domain.CallbackReceipt, error)
	Stats(ctx context.Context, sessionID string) (int64, *time.Time, error)
}

// Winners looks up wins and opens checkouts.
type Winners interface {
	EnhancedWinningBids(ctx context.Context) ([]winner.EnhancedBid, error)
	Checkout(ctx context.Context, req winner.CheckoutRequest) (winner.CheckoutResult, error)
}

// IdempotencyStore remembers completed checkouts per (user, auction, key).
type IdempotencyStore interface {
	Get(ctx context.Context, userID, scope, key string, now time.Time) (*domain.Idempotency, error)
	Create(ctx context.Context, userID, scope, key, resourceID string, status int, ttl time.Duration) (*domain.Idempotency, error)
}

// Deps are the collaborators of Handlers. Winners and Idempotency are
// optional; without Winners the checkout endpoint answers 503.
type Deps struct {
	Sessions    Sessions
	Gateway     CallbackVerifier
	Receipts    ReceiptStore
	Winners     Winners
	Idempotency IdempotencyStore
	// IdempotencyTTL defaults to 24h.
	IdempotencyTTL time.Duration
	// OnPaid runs after a callback marked a session PAID.
	OnPaid func(s domain.PaymentSession, p gateway.CallbackPayload)
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	sessions Sessions
	gw       CallbackVerifier
	receipts ReceiptStore
	winners  Winners
	idem     IdempotencyStore
	idemTTL  time.Duration
	onPaid   func(domain.PaymentSession, gateway.CallbackPayload)

	// Now is the clock for idempotency lookups.
	Now func() time.Time
}

// New returns Handlers over d.
func New(d Deps) *Handlers {
	ttl := d.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Handlers{
		sessions: d.Sessions,
		gw:       d.Gateway,
		receipts: d.Receipts,
		winners:  d.Winners,
		idem:     d.Idempotency,
		idemTTL:  ttl,
		onPaid:   d.OnPaid,
		Now:      time.Now,
	}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
}

func userID(c *gin.Context) string { return middleware.UserID(c) }
