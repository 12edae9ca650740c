// Package notify turns discriminated realtime messages into user-facing
// notifications and status updates.
//
// Handler deduplicates and serialises processing: messages are handled one at
// a time, in arrival order, by a single drain goroutine. Router sits in front
// of the Handler, filters messages for the current user and fans them out to
// prioritised routes.
package notify

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-auction-settlement/internal/domain"
	"github.com/tbourn/go-auction-settlement/internal/message"
	"github.com/tbourn/go-auction-settlement/internal/observability"
)

// Status update kinds.
const (
	UpdatePayment = "payment"
	UpdateBooking = "booking"
	UpdateAuction = "auction"
)

// StatusUpdate is a silent state change for an entity.
type StatusUpdate struct {
	Kind   string         `json:"type"`
	ID     string         `json:"id"`
	Status string         `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
}

// Callbacks receive the Handler's output. Either may be nil.
type Callbacks struct {
	OnNotification func(domain.PaymentNotification)
	OnStatusUpdate func(StatusUpdate)
}

// HandlerConfig tunes a Handler. Zero fields take the defaults.
type HandlerConfig struct {
	// DedupWindow is how long an identical event is suppressed. Default 30s.
	DedupWindow time.Duration
	// SweepInterval is how often old dedup entries are evicted. Default 60s.
	SweepInterval time.Duration
	// MaxHistory caps retained dedup entries. Default 1000.
	MaxHistory int
}

func (c HandlerConfig) withDefaults() HandlerConfig {
	if c.DedupWindow <= 0 {
		c.DedupWindow = 30 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = 1000
	}
	return c
}

// HandlerStats describe the dedup history and queue.
type HandlerStats struct {
	ProcessedCount int        `json:"processed_count"`
	QueueLength    int        `json:"queue_length"`
	Oldest         *time.Time `json:"oldest,omitempty"`
	Newest         *time.Time `json:"newest,omitempty"`
}

// Handler deduplicates messages and processes them strictly in order.
type Handler struct {
	cfg HandlerConfig
	cb  Callbacks
	log zerolog.Logger
	// visit turns a message into callbacks.
	visit message.Visitor

	// Now is the clock. Tests replace it.
	Now func() time.Time

	mu       sync.Mutex
	idle     *sync.Cond
	seen     map[string]time.Time
	queue    []message.Message
	draining bool

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewHandler returns a Handler and starts its sweep. Call Close to stop it.
func NewHandler(cfg HandlerConfig, cb Callbacks) *Handler {
	h := &Handler{
		cfg:  cfg.withDefaults(),
		cb:   cb,
		log:  log.With().Str("component", "message_handler").Logger(),
		Now:  time.Now,
		seen: make(map[string]time.Time),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	h.idle = sync.NewCond(&h.mu)
	h.visit = synthesizer{h}
	go h.sweepLoop()
	return h
}

// Process accepts m for handling. It returns false when m duplicates an event
// seen within the dedup window; such messages are dropped.
func (h *Handler) Process(m message.Message) bool {
	key := m.DedupKey()

	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.Now()
	if at, ok := h.seen[key]; ok && now.Sub(at) < h.cfg.DedupWindow {
		observability.DuplicatesDropped.WithLabelValues(string(m.Kind())).Inc()
		h.log.Debug().Str("dedup_key", key).Msg("duplicate message ignored")
		return false
	}
	h.seen[key] = now
	h.queue = append(h.queue, m)

	if !h.draining {
		h.draining = true
		go h.drain()
	}
	return true
}

func (h *Handler) drain() {
	for {
		h.mu.Lock()
		if len(h.queue) == 0 {
			h.draining = false
			h.idle.Broadcast()
			h.mu.Unlock()
			return
		}
		m := h.queue[0]
		h.queue[0] = nil
		h.queue = h.queue[1:]
		h.mu.Unlock()

		h.handle(m)
	}
}

// Flush blocks until every accepted message has been handled.
func (h *Handler) Flush() {
	h.mu.Lock()
	for h.draining {
		h.idle.Wait()
	}
	h.mu.Unlock()
}

func (h *Handler) handle(m message.Message) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().
				Str("message_type", string(m.Kind())).
				Str("panic", fmt.Sprint(r)).
				Msg("message handling panicked")
		}
	}()
	if err := message.Visit(m, h.visit); err != nil {
		h.log.Error().
			Err(err).
			Str("message_type", string(m.Kind())).
			Str("dedup_key", m.DedupKey()).
			Msg("message handling failed")
	}
}

// synthesizer builds the notification and status update for each variant.
type synthesizer struct{ h *Handler }

func (s synthesizer) VisitAuctionResult(m message.AuctionResult) error {
	now := s.h.Now()
	s.h.notify(domain.PaymentNotification{
		ID:             fmt.Sprintf("auction_%s_%d", m.AuctionID, now.UnixMilli()),
		Type:           domain.NotificationWinner,
		Title:          auctionResultTitle(m.Result),
		Message:        auctionResultMessage(m),
		Amount:         m.Amount,
		ActionRequired: true,
		Timestamp:      now,
		AuctionID:      m.AuctionID,
		PropertyName:   m.PropertyName,
		AwardedNights:  m.AwardedNights,
	})
	s.h.update(StatusUpdate{
		Kind:   UpdateAuction,
		ID:     m.AuctionID,
		Status: string(m.Result),
		Data: map[string]any{
			"awardedNights":   m.AwardedNights,
			"amount":          m.Amount,
			"paymentDeadline": m.PaymentDeadline,
		},
	})
	return nil
}

func (s synthesizer) VisitSecondChanceOffer(m message.SecondChanceOffer) error {
	now := s.h.Now()
	n := domain.PaymentNotification{
		ID:             fmt.Sprintf("offer_%s_%d", m.OfferID, now.UnixMilli()),
		Type:           domain.NotificationSecondChance,
		Title:          "Second chance offer available!",
		Message:        fmt.Sprintf("New offer for %s - %d nights available", m.PropertyName, len(m.OfferedNights)),
		Amount:         m.Amount,
		ActionRequired: true,
		Timestamp:      now,
		AuctionID:      m.AuctionID,
		OfferID:        m.OfferID,
		PropertyName:   m.PropertyName,
		OfferedNights:  m.OfferedNights,
	}
	if t, err := domain.ParseTime(m.ResponseDeadline); err == nil {
		n.ExpiresAt = &t
	}
	s.h.notify(n)
	s.h.update(StatusUpdate{
		Kind:   UpdateAuction,
		ID:     m.AuctionID,
		Status: "SECOND_CHANCE_OFFERED",
		Data: map[string]any{
			"offerId":          m.OfferID,
			"offeredNights":    m.OfferedNights,
			"amount":           m.Amount,
			"responseDeadline": m.ResponseDeadline,
		},
	})
	return nil
}

// Intermediate payment states only produce a status update.
func (s synthesizer) VisitPaymentStatus(m message.PaymentStatus) error {
	if m.Status.Terminal() {
		now := s.h.Now()
		s.h.notify(domain.PaymentNotification{
			ID:             fmt.Sprintf("payment_%s_%d", m.PaymentID, now.UnixMilli()),
			Type:           domain.NotificationPaymentStatus,
			Title:          paymentStatusTitle(m.Status),
			Message:        paymentStatusMessage(m.Status, m.TransactionID),
			ActionRequired: m.Status == message.PaymentFailed,
			Timestamp:      now,
			PaymentID:      m.PaymentID,
		})
	}
	s.h.update(StatusUpdate{
		Kind:   UpdatePayment,
		ID:     m.PaymentID,
		Status: string(m.Status),
		Data:   map[string]any{"transactionId": m.TransactionID},
	})
	return nil
}

func (s synthesizer) VisitBookingConfirmed(m message.BookingConfirmed) error {
	now := s.h.Now()
	s.h.notify(domain.PaymentNotification{
		ID:           fmt.Sprintf("booking_%s_%d", m.BookingID, now.UnixMilli()),
		Type:         domain.NotificationBookingConfirmed,
		Title:        "Booking confirmed!",
		Message:      fmt.Sprintf("Your booking for %s from %s to %s is confirmed.", m.PropertyName, m.CheckIn, m.CheckOut),
		Timestamp:    now,
		PropertyName: m.PropertyName,
	})
	s.h.update(StatusUpdate{
		Kind:   UpdateBooking,
		ID:     m.BookingID,
		Status: "CONFIRMED",
		Data: map[string]any{
			"propertyName": m.PropertyName,
			"checkIn":      m.CheckIn,
			"checkOut":     m.CheckOut,
		},
	})
	return nil
}

func (h *Handler) notify(n domain.PaymentNotification) {
	observability.NotificationsEmitted.WithLabelValues(string(n.Type)).Inc()
	if h.cb.OnNotification != nil {
		h.cb.OnNotification(n)
	}
}

func (h *Handler) update(u StatusUpdate) {
	if h.cb.OnStatusUpdate != nil {
		h.cb.OnStatusUpdate(u)
	}
}

func auctionResultTitle(r message.Outcome) string {
	switch r {
	case message.OutcomeFullWin:
		return "Congratulations! You won the auction!"
	case message.OutcomePartialWin:
		return "You won partial nights!"
	case message.OutcomeLost:
		return "Auction ended"
	}
	return "Auction result"
}

func auctionResultMessage(m message.AuctionResult) string {
	base := "Property: " + m.PropertyName
	if m.Result == message.OutcomePartialWin && len(m.AwardedNights) > 0 {
		return fmt.Sprintf("%s. Awarded %d nights.", base, len(m.AwardedNights))
	}
	return base
}

func paymentStatusTitle(s message.PaymentState) string {
	switch s {
	case message.PaymentInitiated:
		return "Payment initiated"
	case message.PaymentProcessing:
		return "Processing payment..."
	case message.PaymentCompleted:
		return "Payment successful!"
	case message.PaymentFailed:
		return "Payment failed"
	}
	return "Payment update"
}

func paymentStatusMessage(s message.PaymentState, txID string) string {
	switch s {
	case message.PaymentInitiated:
		return "Your payment has been initiated. Please complete the payment process."
	case message.PaymentProcessing:
		return "Your payment is being processed. Please wait..."
	case message.PaymentCompleted:
		if txID != "" {
			return "Payment completed successfully. Transaction ID: " + txID
		}
		return "Payment completed successfully."
	case message.PaymentFailed:
		return "Payment failed. Please try again or contact support."
	}
	return "Payment status updated"
}

// Sweep evicts dedup entries older than twice the window, then trims the
// history to MaxHistory by dropping the oldest entries.
func (h *Handler) Sweep() {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.Now()
	maxAge := 2 * h.cfg.DedupWindow
	for k, at := range h.seen {
		if now.Sub(at) > maxAge {
			delete(h.seen, k)
		}
	}

	excess := len(h.seen) - h.cfg.MaxHistory
	if excess <= 0 {
		return
	}
	type entry struct {
		key string
		at  time.Time
	}
	entries := make([]entry, 0, len(h.seen))
	for k, at := range h.seen {
		entries = append(entries, entry{k, at})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })
	for _, e := range entries[:excess] {
		delete(h.seen, e.key)
	}
}

func (h *Handler) sweepLoop() {
	defer close(h.done)
	t := time.NewTicker(h.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-t.C:
			h.Sweep()
		}
	}
}

// Stats returns a snapshot of the dedup history and queue.
func (h *Handler) Stats() HandlerStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := HandlerStats{ProcessedCount: len(h.seen), QueueLength: len(h.queue)}
	for _, at := range h.seen {
		at := at
		if st.Oldest == nil || at.Before(*st.Oldest) {
			st.Oldest = &at
		}
		if st.Newest == nil || at.After(*st.Newest) {
			st.Newest = &at
		}
	}
	return st
}

// Clear forgets the dedup history and drops queued messages.
func (h *Handler) Clear() {
	h.mu.Lock()
	h.seen = make(map[string]time.Time)
	h.queue = nil
	h.mu.Unlock()
}

// Close stops the sweep, drops pending messages and waits for the drain
// goroutine to finish the message it is on.
func (h *Handler) Close() {
	h.closeOnce.Do(func() {
		close(h.stop)
		<-h.done
		h.Clear()
		h.Flush()
	})
}
