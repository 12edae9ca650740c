// Package handlers – Checkout
//
// This file implements checkout for a won auction: optional night selection,
// idempotent replays keyed by Idempotency-Key, and the hand-off to the
// winner Manager that opens the payment session.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-auction-settlement/internal/domain"
	"github.com/tbourn/go-auction-settlement/internal/gateway"
	"github.com/tbourn/go-auction-settlement/internal/http/middleware"
	"github.com/tbourn/go-auction-settlement/internal/winner"
)

// CheckoutRequest optionally narrows a partial win to the nights being paid
// for. Empty Nights keeps the selection on record.
type CheckoutRequest struct {
	Nights []string `json:"nights"`
}

// CheckoutResponse is the session opened by a checkout and the gateway page
// to send the user to. Order carries the signed order when it was not
// submitted server-side, so the client can submit it itself.
type CheckoutResponse struct {
	Session  SessionView        `json:"session"`
	OrderURL string             `json:"order_url,omitempty"`
	Order    *gateway.OrderData `json:"order,omitempty"`
}

// Checkout handles POST /auctions/:auctionId/checkout.
//
// With an Idempotency-Key the first success is remembered per (user,
// auction, key) and replays return the same session with
// Idempotency-Replayed: true instead of opening another one.
func (h *Handlers) Checkout(c *gin.Context) {
	if h.winners == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeUpstream, "checkout is not configured")
		return
	}
	ctx := c.Request.Context()
	uid := userID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "X-User-ID required")
		return
	}
	auctionID := c.Param("auctionId")

	var req CheckoutRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid checkout body")
			return
		}
	}

	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" && h.idem != nil && middleware.IsReplay(c) {
		if rec, err := h.idem.Get(ctx, uid, auctionID, idemKey, h.Now().UTC()); err == nil && rec != nil {
			if s, err := h.sessions.GetSession(ctx, rec.ResourceID); err == nil && s != nil {
				c.Header("Idempotency-Replayed", "true")
				ok(c, http.StatusOK, CheckoutResponse{Session: h.view(*s), OrderURL: s.OrderURL})
				return
			}
		}
	}

	bids, err := h.winners.EnhancedWinningBids(ctx)
	if err != nil {
		failErr(c, err)
		return
	}
	var bid *domain.WinningBid
	for i := range bids {
		if bids[i].AuctionID == auctionID {
			bid = &bids[i].WinningBid
			break
		}
	}
	if bid == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "no winning bid for auction")
		return
	}
	if len(req.Nights) > 0 {
		if !selectNights(bid, req.Nights) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "nights must be awarded nights of the bid")
			return
		}
	}

	res, err := h.winners.Checkout(ctx, winner.CheckoutRequest{UserID: uid, Bid: *bid})
	if err != nil {
		failErr(c, err)
		return
	}

	if idemKey != "" && h.idem != nil {
		if _, err := h.idem.Create(ctx, uid, auctionID, idemKey, res.Session.ID, http.StatusCreated, h.idemTTL); err != nil {
			lg := middleware.LoggerFrom(c)
			lg.Warn().Err(err).Str("session_id", res.Session.ID).Msg("storing idempotency key failed")
		}
	}
	resp := CheckoutResponse{Session: h.view(res.Session), OrderURL: res.OrderURL}
	if res.OrderURL == "" && res.Order.MAC != "" {
		resp.Order = &res.Order
	}
	ok(c, http.StatusCreated, resp)
}

// selectNights marks exactly the given dates as selected. It reports false
// when a date was not awarded.
func selectNights(bid *domain.WinningBid, dates []string) bool {
	want := make(map[string]bool, len(dates))
	for _, d := range dates {
		want[d] = true
	}
	nights := make([]domain.AwardedNight, len(bid.AwardedNights))
	matched := 0
	for i, n := range bid.AwardedNights {
		n.IsSelected = want[n.Date]
		if n.IsSelected {
			matched++
		}
		nights[i] = n
	}
	if matched != len(want) {
		return false
	}
	bid.AwardedNights = nights
	return true
}
