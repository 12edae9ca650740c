// Package winner – Manager
//
// This file implements Manager, the entry point for everything a winner does
// after an auction closes: listing bids with their next action, accepting or
// declining partial wins and second-chance offers, and checkout.
//
// Checkout refuses bids that are paid, expired or already being paid, opens
// an exclusive payment session, signs the gateway order and, when an
// OrderCreator is configured, submits it with retries.
//
// Observability: Checkout runs under an OpenTelemetry span and failures are
// logged according to recovery.ShouldLog.
package winner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-auction-settlement/internal/apiclient"
	"github.com/tbourn/go-auction-settlement/internal/domain"
	"github.com/tbourn/go-auction-settlement/internal/gateway"
	"github.com/tbourn/go-auction-settlement/internal/payerr"
	"github.com/tbourn/go-auction-settlement/internal/recovery"
	"github.com/tbourn/go-auction-settlement/internal/retry"
	"github.com/tbourn/go-auction-settlement/internal/session"
)

// API is the slice of the backend the Manager talks to.
type API interface {
	WinningBids(ctx context.Context) ([]domain.WinningBid, error)
	AcceptPartialOffer(ctx context.Context, offerID string, nights []string) (apiclient.AcceptResponse, error)
	DeclinePartialOffer(ctx context.Context, offerID, reason string) (apiclient.DeclineResponse, error)
	SecondChanceOffers(ctx context.Context) ([]domain.SecondChanceOffer, error)
	AcceptSecondChanceOffer(ctx context.Context, offerID string) (apiclient.AcceptResponse, error)
	DeclineSecondChanceOffer(ctx context.Context, offerID, reason string) (apiclient.DeclineResponse, error)
	WinnerStatistics(ctx context.Context) (domain.WinnerStatistics, error)
	UpdateWinnerStatus(ctx context.Context, auctionID string, status domain.WinnerStatus) (apiclient.StatusResponse, error)
}

// OrderCreator submits signed orders to the payment gateway.
type OrderCreator interface {
	CreateOrder(ctx context.Context, od gateway.OrderData) (gateway.CreateOrderResponse, error)
}

// Deps are the Manager's collaborators. Orders may be nil, in which case
// Checkout prepares the order without submitting it.
type Deps struct {
	API       API
	Sessions  *session.Manager
	Gateway   *gateway.Helper
	Orders    OrderCreator
	Processor *Processor
}

// Manager composes the winner workflow.
type Manager struct {
	api       API
	sessions  *session.Manager
	gw        *gateway.Helper
	orders    OrderCreator
	processor *Processor
	tracker   *Tracker

	// Retry governs order submission during Checkout.
	Retry retry.Options

	log zerolog.Logger
}

// NewManager wires d into a Manager. A nil Processor gets a fresh one.
func NewManager(d Deps) *Manager {
	p := d.Processor
	if p == nil {
		p = NewProcessor()
	}
	return &Manager{
		api:       d.API,
		sessions:  d.Sessions,
		gw:        d.Gateway,
		orders:    d.Orders,
		processor: p,
		tracker:   NewTracker(),
		Retry:     retry.DefaultOptions(),
		log:       log.With().Str("component", "winner_manager").Logger(),
	}
}

// SetClock replaces the clock of the Manager, its tracker and processor.
func (m *Manager) SetClock(now func() time.Time) {
	m.tracker.Now = now
	m.processor.Now = now
}

// Processor returns the notification store.
func (m *Manager) Processor() *Processor { return m.processor }

// Tracker returns the deadline tracker.
func (m *Manager) Tracker() *Tracker { return m.tracker }

// EnhancedBid is a WinningBid with its derived state.
type EnhancedBid struct {
	domain.WinningBid
	TimeRemaining  Remaining    `json:"timeRemaining"`
	NextAction     NextAction   `json:"nextAction"`
	NightRanges    []NightRange `json:"nightRanges"`
	IsExpired      bool         `json:"isExpired"`
	SelectedAmount int64        `json:"selectedAmount"`
	Validation     Validation   `json:"validation"`
}

// Enhance derives the dashboard view of bid.
func (m *Manager) Enhance(bid domain.WinningBid) EnhancedBid {
	return EnhancedBid{
		WinningBid:     bid,
		TimeRemaining:  m.tracker.TimeRemaining(bid.PaymentDeadline),
		NextAction:     m.tracker.NextAction(bid),
		NightRanges:    GroupNightsIntoRanges(bid.AwardedNights),
		IsExpired:      m.tracker.IsPaymentExpired(bid.PaymentDeadline),
		SelectedAmount: CalculateSelectedAmount(bid.AwardedNights),
		Validation:     ValidateWinnerBid(bid),
	}
}

// EnhancedWinningBids fetches the user's wins and derives their state.
func (m *Manager) EnhancedWinningBids(ctx context.Context) ([]EnhancedBid, error) {
	bids, err := m.api.WinningBids(ctx)
	if err != nil {
		return nil, fmt.Errorf("winning bids: %w", err)
	}
	out := make([]EnhancedBid, 0, len(bids))
	for _, b := range bids {
		out = append(out, m.Enhance(b))
	}
	return out, nil
}

// SelectionResult is the outcome of accepting a partial win.
type SelectionResult struct {
	Success          bool                  `json:"success"`
	PaymentSessionID string                `json:"paymentSessionId,omitempty"`
	TotalAmount      int64                 `json:"totalAmount,omitempty"`
	SelectedNights   []domain.AwardedNight `json:"selectedNights,omitempty"`
	Errors           []string              `json:"errors,omitempty"`
}

// ProcessPartialSelection validates the chosen nights and accepts them.
// Validation failures and backend failures are reported in the result.
func (m *Manager) ProcessPartialSelection(ctx context.Context, auctionID string, nights []domain.AwardedNight, minStay int) SelectionResult {
	if v := ValidateNightSelection(nights, minStay); !v.Valid {
		return SelectionResult{Errors: v.Errors}
	}

	dates := make([]string, len(nights))
	for i, n := range nights {
		dates[i] = n.Date
	}
	resp, err := m.api.AcceptPartialOffer(ctx, auctionID, dates)
	if err != nil {
		m.logFailure(err, "partial selection failed", auctionID)
		return SelectionResult{Errors: []string{"Failed to process selection. Please try again."}}
	}
	return SelectionResult{
		Success:          true,
		PaymentSessionID: resp.PaymentSessionID,
		TotalAmount:      resp.TotalAmount,
		SelectedNights:   nights,
	}
}

// DeclineResult is the outcome of declining a partial win.
type DeclineResult struct {
	Success            bool   `json:"success"`
	FallbackTriggered  bool   `json:"fallbackTriggered"`
	NextBidderNotified bool   `json:"nextBidderNotified"`
	Message            string `json:"message"`
}

// DeclinePartialOffer declines a partial win.
func (m *Manager) DeclinePartialOffer(ctx context.Context, auctionID string) DeclineResult {
	resp, err := m.api.DeclinePartialOffer(ctx, auctionID, "")
	if err != nil {
		m.logFailure(err, "partial decline failed", auctionID)
		return DeclineResult{Message: "Failed to decline offer. Please try again."}
	}
	msg := "Offer declined."
	if resp.FallbackTriggered {
		msg = "Offer declined. Next bidder has been notified."
	}
	return DeclineResult{
		Success:            resp.Success,
		FallbackTriggered:  resp.FallbackTriggered,
		NextBidderNotified: resp.NextBidderNotified,
		Message:            msg,
	}
}

// OfferResult is the outcome of answering a second-chance offer.
type OfferResult struct {
	Success            bool               `json:"success"`
	Action             domain.OfferStatus `json:"action"`
	PaymentSessionID   string             `json:"paymentSessionId,omitempty"`
	TotalAmount        int64              `json:"totalAmount,omitempty"`
	NextBidderNotified bool               `json:"nextBidderNotified,omitempty"`
	Message            string             `json:"message"`
}

// HandleSecondChanceOffer accepts or declines an offer. action must be
// ACCEPTED or DECLINED.
func (m *Manager) HandleSecondChanceOffer(ctx context.Context, offerID string, action domain.OfferStatus, reason string) OfferResult {
	switch action {
	case domain.OfferAccepted:
		resp, err := m.api.AcceptSecondChanceOffer(ctx, offerID)
		if err != nil {
			break
		}
		m.processor.MarkAsRead(offerID)
		return OfferResult{
			Success:          resp.Success,
			Action:           action,
			PaymentSessionID: resp.PaymentSessionID,
			TotalAmount:      resp.TotalAmount,
			Message:          "Second chance offer accepted! Proceed to payment.",
		}
	case domain.OfferDeclined:
		resp, err := m.api.DeclineSecondChanceOffer(ctx, offerID, reason)
		if err != nil {
			break
		}
		m.processor.Remove(offerID)
		return OfferResult{
			Success:            resp.Success,
			Action:             action,
			NextBidderNotified: resp.NextBidderNotified,
			Message:            "Second chance offer declined.",
		}
	default:
		return OfferResult{Action: action, Message: "Unsupported offer action: " + string(action)}
	}
	m.log.Warn().Str("offer_id", offerID).Str("action", string(action)).Msg("offer response failed")
	return OfferResult{Action: action, Message: "Failed to process offer response. Please try again."}
}

// Priority orders pending actions.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// Pending action kinds.
const (
	PendingWinningBid   = "WINNING_BID"
	PendingSecondChance = "SECOND_CHANCE"
)

// PendingAction is something the user still has to do.
type PendingAction struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	ActionURL   string    `json:"actionUrl,omitempty"`
	Priority    Priority  `json:"priority"`
	Deadline    time.Time `json:"deadline"`
	Amount      int64     `json:"amount"`
}

// Dashboard is everything the winner overview shows.
type Dashboard struct {
	WinningBids        []EnhancedBid                `json:"winningBids"`
	SecondChanceOffers []domain.SecondChanceOffer   `json:"secondChanceOffers"`
	Statistics         domain.WinnerStatistics      `json:"statistics"`
	Notifications      []domain.PaymentNotification `json:"notifications"`
	UnreadCount        int                          `json:"unreadCount"`
	PendingActions     []PendingAction              `json:"pendingActions"`
}

// DashboardData gathers bids, offers and statistics from the backend along
// with the locally held notifications.
func (m *Manager) DashboardData(ctx context.Context) (Dashboard, error) {
	ctx, span := otel.Tracer("winner/Manager").Start(ctx, "DashboardData")
	defer span.End()

	bids, err := m.EnhancedWinningBids(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Dashboard{}, err
	}
	offers, err := m.api.SecondChanceOffers(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Dashboard{}, fmt.Errorf("second chance offers: %w", err)
	}
	stats, err := m.api.WinnerStatistics(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Dashboard{}, fmt.Errorf("winner statistics: %w", err)
	}

	return Dashboard{
		WinningBids:        bids,
		SecondChanceOffers: offers,
		Statistics:         stats,
		Notifications:      m.processor.Notifications(),
		UnreadCount:        m.processor.UnreadCount(),
		PendingActions:     m.PendingActions(bids, offers),
	}, nil
}

// PendingActions lists open bids and live waiting offers, HIGH priority
// first, then by nearest deadline. A bid is HIGH when under two hours remain.
func (m *Manager) PendingActions(bids []EnhancedBid, offers []domain.SecondChanceOffer) []PendingAction {
	var out []PendingAction
	for _, b := range bids {
		if b.NextAction.Type == ActionCompleted || b.NextAction.Type == ActionExpired {
			continue
		}
		title := "Complete Payment"
		if b.IsPartialWin {
			title = "Select Nights"
		}
		prio := PriorityMedium
		if b.TimeRemaining.Hours < 2 {
			prio = PriorityHigh
		}
		amount := b.SelectedAmount
		if amount == 0 {
			amount = b.BidAmount
		}
		out = append(out, PendingAction{
			ID:          b.ID,
			Type:        PendingWinningBid,
			Title:       title,
			Description: b.NextAction.Message,
			ActionURL:   b.NextAction.ActionURL,
			Priority:    prio,
			Deadline:    b.PaymentDeadline,
			Amount:      amount,
		})
	}
	for _, o := range offers {
		if o.Status != domain.OfferWaiting || m.tracker.IsOfferExpired(o.ResponseDeadline) {
			continue
		}
		out = append(out, PendingAction{
			ID:          o.ID,
			Type:        PendingSecondChance,
			Title:       "Second Chance Offer",
			Description: "Respond to second chance offer",
			ActionURL:   "/dashboard/offers/" + o.ID,
			Priority:    PriorityHigh,
			Deadline:    o.ResponseDeadline,
			Amount:      o.Amount,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority == PriorityHigh
		}
		return out[i].Deadline.Before(out[j].Deadline)
	})
	return out
}

// UpdateWinnerStatus pushes a status change to the backend. When current is
// non-empty the transition is validated first.
func (m *Manager) UpdateWinnerStatus(ctx context.Context, auctionID string, next, current domain.WinnerStatus) error {
	if current != "" {
		if err := ValidateStatusTransition(current, next); err != nil {
			return err
		}
	}
	resp, err := m.api.UpdateWinnerStatus(ctx, auctionID, next)
	if err != nil {
		return fmt.Errorf("update winner status: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("update winner status: backend rejected %s", next)
	}
	return nil
}

// CleanupExpiredData drops notifications whose deadline has passed.
func (m *Manager) CleanupExpiredData() int {
	n := m.processor.RemoveExpired()
	if n > 0 {
		m.log.Debug().Int("removed", n).Msg("expired notifications removed")
	}
	return n
}

// CheckoutRequest describes the bid the user is paying for.
type CheckoutRequest struct {
	UserID string
	Bid    domain.WinningBid
}

// CheckoutResult is a created payment session and its signed order.
type CheckoutResult struct {
	Session  domain.PaymentSession `json:"session"`
	Order    gateway.OrderData     `json:"order"`
	OrderURL string                `json:"orderUrl,omitempty"`
}

// Checkout opens a payment session for the selected nights of a bid, signs
// the gateway order and, when an OrderCreator is configured, submits it
// with retries. The session moves to PENDING once the gateway accepts the
// order and is cancelled if submission fails for good. Paid or expired bids
// are refused, as is a second checkout while one is still live.
func (m *Manager) Checkout(ctx context.Context, req CheckoutRequest) (CheckoutResult, error) {
	ctx, span := otel.Tracer("winner/Manager").Start(ctx, "Checkout",
		trace.WithAttributes(
			attribute.String("auction_id", req.Bid.AuctionID),
			attribute.String("user_id", req.UserID),
		),
	)
	defer span.End()

	res, err := m.checkout(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (m *Manager) checkout(ctx context.Context, req CheckoutRequest) (CheckoutResult, error) {
	bid := req.Bid
	switch next := m.tracker.NextAction(bid); next.Type {
	case ActionPayNow, ActionSelectNights:
	case ActionCompleted:
		return CheckoutResult{}, payerr.ErrPaymentCompleted.WithMessage("This auction has already been paid")
	case ActionExpired:
		return CheckoutResult{}, payerr.ErrPaymentExpired.WithMessage("Payment deadline has passed")
	default:
		return CheckoutResult{}, payerr.ErrInvalidSessionStatus.Withf("Bid in status %s cannot be paid", bid.Status)
	}

	var selected int
	for _, n := range bid.AwardedNights {
		if n.IsSelected {
			selected++
		}
	}
	amount := CalculateSelectedAmount(bid.AwardedNights)
	if selected == 0 {
		// A partial win is priced by the nights the winner keeps.
		if bid.IsPartialWin {
			return CheckoutResult{}, payerr.ErrNoNightsSelected.WithMessage("At least one night must be selected")
		}
		amount = bid.BidAmount
		selected = len(bid.AwardedNights)
	}
	if err := gateway.ValidateAmount(float64(amount)); err != nil {
		return CheckoutResult{}, err
	}

	appTransID := m.gw.NewAppTransID(gateway.DefaultPrefix)
	s, err := m.sessions.CreateSession(ctx, session.CreateParams{
		AuctionID:  bid.AuctionID,
		UserID:     req.UserID,
		Amount:     amount,
		AppTransID: appTransID,
		Exclusive:  true,
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	od, err := m.gw.GenerateOrderData(gateway.OrderParams{
		AppTransID:   appTransID,
		UserID:       req.UserID,
		Amount:       amount,
		Description:  gateway.CreateOrderDescription(bid.Property.Name, bid.CheckIn, bid.CheckOut, selected),
		PropertyName: bid.Property.Name,
		CheckIn:      bid.CheckIn,
		CheckOut:     bid.CheckOut,
	})
	if err != nil {
		m.abandon(ctx, s.ID, err)
		return CheckoutResult{}, err
	}

	res := CheckoutResult{Session: *s, Order: od}
	if m.orders == nil {
		return res, nil
	}

	resp, err := retry.Value(ctx, func(ctx context.Context) (gateway.CreateOrderResponse, error) {
		return m.orders.CreateOrder(ctx, od)
	}, m.Retry)
	if err != nil {
		m.abandon(ctx, s.ID, err)
		return CheckoutResult{}, err
	}

	updated, err := m.sessions.UpdateSessionStatus(ctx, s.ID, domain.PaymentPending, resp.OrderURL)
	if err != nil {
		return CheckoutResult{}, err
	}
	res.Session = *updated
	res.OrderURL = resp.OrderURL

	m.log.Info().
		Str("session_id", s.ID).
		Str("app_trans_id", appTransID).
		Int64("amount", amount).
		Msg("checkout started")
	return res, nil
}

// abandon cancels a session whose order could not be placed.
func (m *Manager) abandon(ctx context.Context, sessionID string, cause error) {
	m.logFailure(cause, "checkout failed", sessionID)
	if err := m.sessions.CancelSession(ctx, sessionID); err != nil {
		m.log.Warn().Err(err).Str("session_id", sessionID).Msg("cancel abandoned session")
	}
}

func (m *Manager) logFailure(err error, msg, id string) {
	if !recovery.ShouldLog(err) {
		return
	}
	ev := m.log.Error().Err(err).Str("id", id)
	for k, v := range recovery.Tags(err) {
		ev = ev.Str(k, v)
	}
	ev.Msg(msg)
}
