// Package handlers – PaymentCallback
//
// This file implements the gateway callback endpoint. The callback is
// verified with key2, matched against its session and recorded in the
// receipt ledger before the session is moved, so a callback is applied at
// most once no matter how often the gateway redelivers it.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-auction-settlement/internal/domain"
	"github.com/tbourn/go-auction-settlement/internal/gateway"
	"github.com/tbourn/go-auction-settlement/internal/http/middleware"
	"github.com/tbourn/go-auction-settlement/internal/observability"
	"github.com/tbourn/go-auction-settlement/internal/repo"
)

// Callback outcomes, as counted by the gateway callback metric.
const (
	outcomePaid       = "paid"
	outcomeDuplicate  = "duplicate"
	outcomeInvalidMAC = "invalid_mac"
	outcomeRejected   = "rejected"
	outcomeError      = "error"
)

// PaymentCallback handles POST /payment/zalopay/callback/:sessionId and the
// bare /payment/zalopay/callback, which finds the session by app_trans_id.
//
// The gateway always gets 200 with {return_code, return_message}; -1 makes
// it retry. The receipt for app_trans_id is claimed before the session moves
// so concurrent deliveries of one callback apply once. When the session
// cannot be moved the claim is released.
func (h *Handlers) PaymentCallback(c *gin.Context) {
	ctx := c.Request.Context()
	lg := *middleware.LoggerFrom(c)
	if sid := c.Param("sessionId"); sid != "" {
		lg = lg.With().Str("session_id", sid).Logger()
	}

	answer := func(outcome string, success bool, msg string) {
		observability.GatewayCallbacks.WithLabelValues(outcome).Inc()
		c.JSON(http.StatusOK, gateway.CreateCallbackResponse(success, msg))
	}

	var cb gateway.CallbackData
	if err := c.ShouldBindJSON(&cb); err != nil || cb.Data == "" || cb.MAC == "" {
		lg.Warn().Msg("malformed gateway callback")
		answer(outcomeRejected, false, "invalid callback body")
		return
	}
	if !h.gw.VerifyCallback(cb) {
		lg.Warn().Msg("gateway callback mac mismatch")
		answer(outcomeInvalidMAC, false, "mac not equal")
		return
	}
	p, err := h.gw.ParseCallbackData(cb.Data)
	if err != nil {
		lg.Warn().Err(err).Msg("undecodable gateway callback")
		answer(outcomeRejected, false, "invalid callback data")
		return
	}
	lg = lg.With().Str("app_trans_id", p.AppTransID).Logger()

	var s *domain.PaymentSession
	if sid := c.Param("sessionId"); sid != "" {
		s, err = h.sessions.GetSession(ctx, sid)
	} else {
		s, err = h.sessions.GetSessionByAppTransID(ctx, p.AppTransID)
	}
	switch {
	case err != nil:
		lg.Error().Err(err).Msg("session lookup failed")
		answer(outcomeError, false, "session lookup failed")
		return
	case s == nil:
		lg.Warn().Msg("callback for unknown or expired session")
		answer(outcomeRejected, false, "session not found")
		return
	case s.AppTransID != p.AppTransID:
		lg.Warn().Str("expected", s.AppTransID).Msg("callback transaction mismatch")
		answer(outcomeRejected, false, "transaction mismatch")
		return
	case s.Amount != p.Amount:
		lg.Warn().Int64("expected", s.Amount).Int64("amount", p.Amount).Msg("callback amount mismatch")
		answer(outcomeRejected, false, "amount mismatch")
		return
	}

	_, err = h.receipts.Record(ctx, domain.CallbackReceipt{
		AppTransID: p.AppTransID,
		SessionID:  s.ID,
		ZPTransID:  strconv.FormatInt(p.ZPTransID, 10),
		Amount:     p.Amount,
		Status:     string(domain.PaymentPaid),
	})
	if errors.Is(err, repo.ErrDuplicate) {
		lg.Info().Msg("duplicate gateway callback acknowledged")
		answer(outcomeDuplicate, true, "already processed")
		return
	}
	if err != nil {
		lg.Error().Err(err).Msg("recording callback receipt failed")
		answer(outcomeError, false, "temporary failure")
		return
	}

	paid, already, err := h.markPaid(c, *s)
	if err != nil {
		if rerr := h.receipts.Release(ctx, p.AppTransID); rerr != nil {
			lg.Error().Err(rerr).Msg("releasing callback receipt failed")
		}
		lg.Warn().Err(err).Str("status", string(s.Status)).Msg("session cannot be marked paid")
		answer(outcomeRejected, false, "session not payable")
		return
	}
	if already {
		answer(outcomeDuplicate, true, "already processed")
		return
	}

	lg.Info().Int64("amount", p.Amount).Int64("zp_trans_id", p.ZPTransID).Msg("payment settled")
	if h.onPaid != nil {
		h.onPaid(*paid, p)
	}
	answer(outcomePaid, true, "success")
}

// markPaid walks s to PAID, passing through PENDING from CREATED or FAILED.
// already is true when s was PAID before the call.
func (h *Handlers) markPaid(c *gin.Context, s domain.PaymentSession) (paid *domain.PaymentSession, already bool, err error) {
	ctx := c.Request.Context()
	switch s.Status {
	case domain.PaymentPaid:
		return &s, true, nil
	case domain.PaymentCreated, domain.PaymentFailed:
		if _, err := h.sessions.UpdateSessionStatus(ctx, s.ID, domain.PaymentPending, ""); err != nil {
			return nil, false, err
		}
	}
	paid, err = h.sessions.UpdateSessionStatus(ctx, s.ID, domain.PaymentPaid, "")
	return paid, false, err
}
