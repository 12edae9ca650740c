// Package winner – Processor
//
// This file implements the notification store fed by realtime messages. It
// keeps at most one notification per payment, updating it in place as the
// payment progresses, and tells subscribers about every change. Listener
// panics are contained.
package winner

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-auction-settlement/internal/domain"
	"github.com/tbourn/go-auction-settlement/internal/message"
)

// EventType identifies a Processor event.
type EventType string

const (
	EventAuctionResult       EventType = "AUCTION_RESULT_RECEIVED"
	EventSecondChance        EventType = "SECOND_CHANCE_RECEIVED"
	EventPaymentStatus       EventType = "PAYMENT_STATUS_UPDATED"
	EventBookingConfirmed    EventType = "BOOKING_CONFIRMED"
	EventNotificationRemoved EventType = "NOTIFICATION_REMOVED"
)

const (
	// expiredOfferGrace is how long an expired offer stays visible.
	expiredOfferGrace = 5 * time.Minute
	// expiredNotificationGrace is how long any notification outlives its deadline.
	expiredNotificationGrace = 10 * time.Minute
)

// Event is delivered to Processor listeners. Notification is nil for
// removals and for lost auctions.
type Event struct {
	Type           EventType
	Notification   *domain.PaymentNotification
	NotificationID string
	Message        message.Message
}

// Listener receives Processor events.
type Listener func(Event)

// Processor keeps the user's settlement notifications.
//
// Deadlines are enforced lazily: every call first sweeps against Now, so an
// expired offer is marked as such and later dropped without timers.
type Processor struct {
	// Now is the clock. Tests replace it.
	Now func() time.Time

	log zerolog.Logger

	mu           sync.Mutex
	notes        map[string]domain.PaymentNotification
	offerExpired map[string]time.Time

	lmu       sync.RWMutex
	listeners map[int]Listener
	nextID    int
}

// NewProcessor returns an empty Processor on the wall clock.
func NewProcessor() *Processor {
	return &Processor{
		Now:          time.Now,
		log:          log.With().Str("component", "notification_processor").Logger(),
		notes:        make(map[string]domain.PaymentNotification),
		offerExpired: make(map[string]time.Time),
		listeners:    make(map[int]Listener),
	}
}

// Subscribe registers l and returns a function that removes it.
func (p *Processor) Subscribe(l Listener) (unsubscribe func()) {
	p.lmu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = l
	p.lmu.Unlock()

	return func() {
		p.lmu.Lock()
		delete(p.listeners, id)
		p.lmu.Unlock()
	}
}

// Process stores or updates the notification for m and notifies listeners.
func (p *Processor) Process(m message.Message) {
	p.Sweep()
	_ = message.Visit(m, processorVisitor{p})
}

type processorVisitor struct{ p *Processor }

// Lost auctions produce an event but no stored notification.
func (v processorVisitor) VisitAuctionResult(m message.AuctionResult) error {
	ev := Event{Type: EventAuctionResult, Message: m}
	if m.Result != message.OutcomeLost {
		n := AuctionResultNotification(m, v.p.Now())
		v.p.put(n)
		ev.Notification = &n
	}
	v.p.emit(ev)
	return nil
}

func (v processorVisitor) VisitSecondChanceOffer(m message.SecondChanceOffer) error {
	n := SecondChanceNotification(m, v.p.Now())
	v.p.put(n)
	v.p.emit(Event{Type: EventSecondChance, Notification: &n, Message: m})
	return nil
}

// A payment update rewrites the notification for the same payment in place.
func (v processorVisitor) VisitPaymentStatus(m message.PaymentStatus) error {
	p := v.p
	now := p.Now()

	p.mu.Lock()
	n, ok := p.notes[m.PaymentID]
	if !ok {
		n = domain.PaymentNotification{ID: m.PaymentID, PaymentID: m.PaymentID}
	}
	n.Type = domain.NotificationPaymentStatus
	n.Title = paymentTitle(m.Status)
	n.Message = paymentMessage(m.Status, m.TransactionID)
	n.ActionRequired = m.Status == message.PaymentFailed
	n.Timestamp = now
	p.notes[n.ID] = n
	p.mu.Unlock()

	p.emit(Event{Type: EventPaymentStatus, Notification: &n, Message: m})
	return nil
}

// A confirmed booking clears every notification whose deadline has passed.
func (v processorVisitor) VisitBookingConfirmed(m message.BookingConfirmed) error {
	p := v.p
	n := domain.PaymentNotification{
		ID:           m.BookingID,
		Type:         domain.NotificationPaymentStatus,
		Title:        "Booking Confirmed!",
		Message:      fmt.Sprintf("Your booking for %s is confirmed", m.PropertyName),
		Timestamp:    p.Now(),
		PropertyName: m.PropertyName,
	}
	p.put(n)
	p.RemoveExpired()
	p.emit(Event{Type: EventBookingConfirmed, Notification: &n, Message: m})
	return nil
}

func paymentTitle(s message.PaymentState) string {
	switch s {
	case message.PaymentInitiated:
		return "Payment Initiated"
	case message.PaymentProcessing:
		return "Processing Payment..."
	case message.PaymentCompleted:
		return "Payment Successful!"
	case message.PaymentFailed:
		return "Payment Failed"
	}
	return "Payment Update"
}

func paymentMessage(s message.PaymentState, txID string) string {
	switch s {
	case message.PaymentInitiated:
		return "Your payment has been initiated"
	case message.PaymentProcessing:
		return "Please wait while we process your payment"
	case message.PaymentCompleted:
		if txID != "" {
			return "Payment completed successfully. Transaction ID: " + txID
		}
		return "Payment completed successfully"
	case message.PaymentFailed:
		return "Payment failed. Please try again or contact support"
	}
	return "Payment status updated"
}

func (p *Processor) put(n domain.PaymentNotification) {
	p.mu.Lock()
	p.notes[n.ID] = n
	delete(p.offerExpired, n.ID)
	p.mu.Unlock()
}

func (p *Processor) emit(ev Event) {
	p.lmu.RLock()
	ls := make([]Listener, 0, len(p.listeners))
	for _, l := range p.listeners {
		ls = append(ls, l)
	}
	p.lmu.RUnlock()

	for _, l := range ls {
		p.deliver(l, ev)
	}
}

func (p *Processor) deliver(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().
				Str("event", string(ev.Type)).
				Str("panic", fmt.Sprint(r)).
				Msg("notification listener panicked")
		}
	}()
	l(ev)
}

// Sweep applies deadlines at Now. An offer past its response deadline is
// marked expired and dropped five minutes later. Any notification is dropped
// ten minutes after its deadline.
func (p *Processor) Sweep() {
	now := p.Now()
	var removed []string

	p.mu.Lock()
	for id, n := range p.notes {
		if n.ExpiresAt == nil || !now.After(*n.ExpiresAt) {
			continue
		}
		if n.Type == domain.NotificationSecondChance {
			if _, marked := p.offerExpired[id]; !marked {
				n.Title = "Second Chance Offer Expired"
				n.ActionRequired = false
				p.notes[id] = n
				p.offerExpired[id] = *n.ExpiresAt
			}
			if !now.Before(n.ExpiresAt.Add(expiredOfferGrace)) {
				removed = append(removed, id)
				continue
			}
		}
		if !now.Before(n.ExpiresAt.Add(expiredNotificationGrace)) {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		delete(p.notes, id)
		delete(p.offerExpired, id)
	}
	p.mu.Unlock()

	for _, id := range removed {
		p.emit(Event{Type: EventNotificationRemoved, NotificationID: id})
	}
}

// RemoveExpired drops every notification whose deadline has passed and
// returns how many were dropped.
func (p *Processor) RemoveExpired() int {
	now := p.Now()
	var ids []string

	p.mu.Lock()
	for id, n := range p.notes {
		if n.Expired(now) {
			ids = append(ids, id)
		}
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.Remove(id)
	}
	return len(ids)
}

// Notifications returns every notification, newest first.
func (p *Processor) Notifications() []domain.PaymentNotification {
	p.Sweep()

	p.mu.Lock()
	out := make([]domain.PaymentNotification, 0, len(p.notes))
	for _, n := range p.notes {
		out = append(out, n)
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// NotificationsByType returns the notifications of type t, newest first.
func (p *Processor) NotificationsByType(t domain.NotificationType) []domain.PaymentNotification {
	var out []domain.PaymentNotification
	for _, n := range p.Notifications() {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

// UnreadCount counts notifications that still require action.
func (p *Processor) UnreadCount() int {
	p.Sweep()

	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, n := range p.notes {
		if n.ActionRequired {
			count++
		}
	}
	return count
}

// MarkAsRead clears the action flag of id. It reports whether id exists.
func (p *Processor) MarkAsRead(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.notes[id]
	if !ok {
		return false
	}
	n.ActionRequired = false
	p.notes[id] = n
	return true
}

// Remove drops id and notifies listeners. It reports whether id existed.
func (p *Processor) Remove(id string) bool {
	p.mu.Lock()
	_, ok := p.notes[id]
	delete(p.notes, id)
	delete(p.offerExpired, id)
	p.mu.Unlock()

	if ok {
		p.emit(Event{Type: EventNotificationRemoved, NotificationID: id})
	}
	return ok
}

// Clear drops every notification without emitting events.
func (p *Processor) Clear() {
	p.mu.Lock()
	p.notes = make(map[string]domain.PaymentNotification)
	p.offerExpired = make(map[string]time.Time)
	p.mu.Unlock()
}
