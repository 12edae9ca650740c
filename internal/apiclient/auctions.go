// Package apiclient – Auctions
//
// This file holds the auction-winner endpoints: winning bids, partial-win
// offers, second-chance offers and winner status.
package apiclient

import (
	"context"
	"net/http"
	"net/url"

	"github.com/tbourn/go-auction-settlement/internal/domain"
)

// AcceptResponse is returned when the user accepts nights.
type AcceptResponse struct {
	Success          bool   `json:"success"`
	PaymentSessionID string `json:"paymentSessionId,omitempty"`
	TotalAmount      int64  `json:"totalAmount,omitempty"`
}

// DeclineResponse is returned when the user declines nights.
type DeclineResponse struct {
	Success            bool `json:"success"`
	FallbackTriggered  bool `json:"fallbackTriggered"`
	NextBidderNotified bool `json:"nextBidderNotified"`
}

// StatusResponse acknowledges a winner status change.
type StatusResponse struct {
	Success bool `json:"success"`
}

// Decline reason kinds for TrackDeclineReason.
const (
	DeclineFull         = "full"
	DeclinePartial      = "partial"
	DeclineSecondChance = "second_chance"
)

type reasonBody struct {
	Reason string `json:"reason,omitempty"`
}

func winnerPath(auctionID string) string {
	return "/auctions/winners/" + url.PathEscape(auctionID)
}

func offerPath(offerID string) string {
	return "/auctions/offers/" + url.PathEscape(offerID)
}

func secondChancePath(offerID string) string {
	return "/auctions/offers/second-chance/" + url.PathEscape(offerID)
}

// WinningBids lists the caller's winning bids.
func (c *Client) WinningBids(ctx context.Context) ([]domain.WinningBid, error) {
	var out []domain.WinningBid
	err := c.Do(ctx, http.MethodGet, "/auctions/winners/me", nil, &out, true)
	return out, err
}

// WinningBid fetches the caller's win for one auction.
func (c *Client) WinningBid(ctx context.Context, auctionID string) (domain.WinningBid, error) {
	var out domain.WinningBid
	err := c.Do(ctx, http.MethodGet, winnerPath(auctionID), nil, &out, true)
	return out, err
}

// AcceptWinningBid accepts a full win.
func (c *Client) AcceptWinningBid(ctx context.Context, auctionID string) (AcceptResponse, error) {
	var out AcceptResponse
	err := c.Do(ctx, http.MethodPost, winnerPath(auctionID)+"/accept", struct{}{}, &out, true)
	return out, err
}

// DeclineWinningBid declines a full win.
func (c *Client) DeclineWinningBid(ctx context.Context, auctionID, reason string) (DeclineResponse, error) {
	var out DeclineResponse
	err := c.Do(ctx, http.MethodPost, winnerPath(auctionID)+"/decline", reasonBody{reason}, &out, true)
	return out, err
}

// AcceptPartialOffer accepts a subset of partially awarded nights.
func (c *Client) AcceptPartialOffer(ctx context.Context, offerID string, nights []string) (AcceptResponse, error) {
	body := struct {
		SelectedNights []string `json:"selectedNights"`
	}{nights}
	var out AcceptResponse
	err := c.Do(ctx, http.MethodPost, offerPath(offerID)+"/accept", body, &out, true)
	return out, err
}

// DeclinePartialOffer declines a partial win.
func (c *Client) DeclinePartialOffer(ctx context.Context, offerID, reason string) (DeclineResponse, error) {
	var out DeclineResponse
	err := c.Do(ctx, http.MethodPost, offerPath(offerID)+"/decline", reasonBody{reason}, &out, true)
	return out, err
}

// SecondChanceOffers lists the caller's second-chance offers.
func (c *Client) SecondChanceOffers(ctx context.Context) ([]domain.SecondChanceOffer, error) {
	var out []domain.SecondChanceOffer
	err := c.Do(ctx, http.MethodGet, "/auctions/offers/second-chance/me", nil, &out, true)
	return out, err
}

// SecondChanceOffer fetches one second-chance offer.
func (c *Client) SecondChanceOffer(ctx context.Context, offerID string) (domain.SecondChanceOffer, error) {
	var out domain.SecondChanceOffer
	err := c.Do(ctx, http.MethodGet, secondChancePath(offerID), nil, &out, true)
	return out, err
}

// AcceptSecondChanceOffer accepts a second-chance offer.
func (c *Client) AcceptSecondChanceOffer(ctx context.Context, offerID string) (AcceptResponse, error) {
	var out AcceptResponse
	err := c.Do(ctx, http.MethodPost, secondChancePath(offerID)+"/accept", struct{}{}, &out, true)
	return out, err
}

// DeclineSecondChanceOffer declines a second-chance offer.
func (c *Client) DeclineSecondChanceOffer(ctx context.Context, offerID, reason string) (DeclineResponse, error) {
	var out DeclineResponse
	err := c.Do(ctx, http.MethodPost, secondChancePath(offerID)+"/decline", reasonBody{reason}, &out, true)
	return out, err
}

// TrackDeclineReason records why an offer was declined. kind is one of the
// Decline* constants.
func (c *Client) TrackDeclineReason(ctx context.Context, offerID, reason, kind string) error {
	body := map[string]string{"offerId": offerID, "reason": reason, "type": kind}
	return c.Do(ctx, http.MethodPost, "/auctions/analytics/decline", body, nil, true)
}

// WinnerStatistics summarises the caller's auction outcomes.
func (c *Client) WinnerStatistics(ctx context.Context) (domain.WinnerStatistics, error) {
	var out domain.WinnerStatistics
	err := c.Do(ctx, http.MethodGet, "/auctions/winners/statistics", nil, &out, true)
	return out, err
}

// UpdateWinnerStatus sets the backend status of the caller's win.
func (c *Client) UpdateWinnerStatus(ctx context.Context, auctionID string, status domain.WinnerStatus) (StatusResponse, error) {
	body := struct {
		Status domain.WinnerStatus `json:"status"`
	}{status}
	var out StatusResponse
	err := c.Do(ctx, http.MethodPatch, winnerPath(auctionID)+"/status", body, &out, true)
	return out, err
}
