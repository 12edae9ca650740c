// Package handlers – Sessions
//
// This file implements the read and cancel endpoints for payment sessions
// and their callback receipts. Every endpoint is scoped to the calling user.
package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-auction-settlement/internal/domain"
	"github.com/tbourn/go-auction-settlement/internal/payment"
	"github.com/tbourn/go-auction-settlement/internal/session"
	"github.com/tbourn/go-auction-settlement/internal/utils"
)

// SessionView is a session with the fields a payment page renders.
type SessionView struct {
	domain.PaymentSession
	StatusText    string  `json:"status_text"`
	AmountDisplay string  `json:"amount_display"`
	Remaining     string  `json:"remaining"`
	Progress      float64 `json:"progress"`
	Payable       bool    `json:"payable"`
	Reason        string  `json:"reason,omitempty"`
}

// ListSessionsResponse is a page of a user's sessions.
type ListSessionsResponse struct {
	Sessions   []SessionView `json:"sessions"`
	Pagination Pagination    `json:"pagination"`
}

// ReceiptView is a callback receipt as exposed to clients.
type ReceiptView struct {
	AppTransID string    `json:"app_trans_id"`
	ZPTransID  string    `json:"zp_trans_id,omitempty"`
	Amount     int64     `json:"amount"`
	AmountText string    `json:"amount_text"`
	Status     string    `json:"status"`
	ReceivedAt time.Time `json:"received_at"`
}

func (h *Handlers) view(s domain.PaymentSession) SessionView {
	payable, reason := h.sessions.IsSessionValidForPayment(s)
	return SessionView{
		PaymentSession: s,
		StatusText:     session.StatusDisplayText(s.Status),
		AmountDisplay:  payment.FormatAmount(s.Amount),
		Remaining:      h.sessions.FormatRemainingTime(s),
		Progress:       h.sessions.Progress(s),
		Payable:        payable,
		Reason:         reason,
	}
}

// loadOwned fetches :id and enforces that the caller, when identified,
// owns it. It writes the error response itself and returns nil then.
func (h *Handlers) loadOwned(c *gin.Context) *domain.PaymentSession {
	s, err := h.sessions.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return nil
	}
	if s == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "payment session not found")
		return nil
	}
	if uid := userID(c); uid != "" && !session.ValidateOwnership(*s, uid) {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "session belongs to another user")
		return nil
	}
	return s
}

// GetSession handles GET /payment/sessions/:id.
func (h *Handlers) GetSession(c *gin.Context) {
	if s := h.loadOwned(c); s != nil {
		ok(c, http.StatusOK, h.view(*s))
	}
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListSessions handles GET /payment/sessions?user_id=&include_expired=.
// Sessions are newest first. user_id defaults to the caller and may not
// name someone else.
func (h *Handlers) ListSessions(c *gin.Context) {
	uid := strings.TrimSpace(c.Query("user_id"))
	caller := userID(c)
	if uid == "" {
		uid = caller
	}
	if uid == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_id required")
		return
	}
	if caller != "" && caller != uid {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "cannot list another user's sessions")
		return
	}

	all, err := h.sessions.GetUserSessions(c.Request.Context(), uid, c.Query("include_expired") == "true")
	if err != nil {
		failErr(c, err)
		return
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	page := utils.ParsePage(c.Query("page"), c.Query("page_size"), defaultPageSize, maxPageSize)
	total := len(all)
	from, to, totalPages := page.Bounds(total)

	views := make([]SessionView, 0, to-from)
	for _, s := range all[from:to] {
		views = append(views, h.view(s))
	}
	ok(c, http.StatusOK, ListSessionsResponse{
		Sessions: views,
		Pagination: Pagination{
			Page:       page.Number,
			PageSize:   page.Size,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page.Number < totalPages,
		},
	})
}

// CancelSession handles POST /payment/sessions/:id/cancel. The caller must
// be identified and own the session.
func (h *Handlers) CancelSession(c *gin.Context) {
	if userID(c) == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "X-User-ID required")
		return
	}
	s := h.loadOwned(c)
	if s == nil {
		return
	}
	if err := h.sessions.CancelSession(c.Request.Context(), s.ID); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// SessionStats handles GET /payment/stats.
func (h *Handlers) SessionStats(c *gin.Context) {
	st, err := h.sessions.Stats(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}

// ListReceipts handles GET /payment/sessions/:id/receipts with a weak ETag
// built from the receipt count and latest write.
func (h *Handlers) ListReceipts(c *gin.Context) {
	s := h.loadOwned(c)
	if s == nil {
		return
	}
	ctx := c.Request.Context()

	if count, latest, err := h.receipts.Stats(ctx, s.ID); err == nil {
		var ts int64
		if latest != nil {
			ts = latest.UnixNano()
		}
		etag := fmt.Sprintf(`W/"receipts:%s:%d:%d"`, s.ID, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	rs, err := h.receipts.ListBySession(ctx, s.ID)
	if err != nil {
		failErr(c, err)
		return
	}
	out := make([]ReceiptView, 0, len(rs))
	for _, r := range rs {
		out = append(out, ReceiptView{
			AppTransID: r.AppTransID,
			ZPTransID:  r.ZPTransID,
			Amount:     r.Amount,
			AmountText: payment.FormatAmountPlain(r.Amount),
			Status:     r.Status,
			ReceivedAt: r.CreatedAt,
		})
	}
	ok(c, http.StatusOK, gin.H{"receipts": out})
}
