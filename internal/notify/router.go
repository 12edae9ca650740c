// Package notify – Router
//
// This file implements the message router. It filters messages by recipient,
// hands accepted ones to the deduplicating Handler, then runs every matching
// route in priority order. A failing or panicking route is counted and
// reported without stopping the routes after it.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-auction-settlement/internal/message"
	"github.com/tbourn/go-auction-settlement/internal/observability"
)

// RouteFunc handles a message delivered to a route.
type RouteFunc func(ctx context.Context, m message.Message) error

// Route binds a set of message types to a handler. Lower Priority runs first.
type Route struct {
	Name     string
	Types    []message.Type
	Priority int
	Handle   RouteFunc
}

func (r Route) matches(t message.Type) bool {
	for _, rt := range r.Types {
		if rt == t {
			return true
		}
	}
	return false
}

// RouterStats summarise routing activity.
type RouterStats struct {
	TotalMessages  int                  `json:"total_messages"`
	MessagesByType map[message.Type]int `json:"messages_by_type"`
	ErrorCount     int                  `json:"error_count"`
	RouteCount     int                  `json:"route_count"`
	Handler        HandlerStats         `json:"handler"`
}

// Router filters messages for one user, hands them to the Handler and then
// to every matching route in priority order.
type Router struct {
	handler *Handler
	onError func(error)
	log     zerolog.Logger

	mu     sync.RWMutex
	userID string
	routes map[string]Route

	statsMu sync.Mutex
	total   int
	byType  map[message.Type]int
	errors  int
}

// NewRouter returns a Router for userID with the default routes installed.
// onError, when set, receives every route failure.
func NewRouter(userID string, h *Handler, onError func(error)) *Router {
	r := &Router{
		handler: h,
		onError: onError,
		log:     log.With().Str("component", "message_router").Logger(),
		userID:  userID,
		routes:  make(map[string]Route),
		byType:  make(map[message.Type]int),
	}
	for _, rt := range r.defaultRoutes() {
		r.AddRoute(rt)
	}
	return r
}

func (r *Router) defaultRoutes() []Route {
	logRoute := func(ctx context.Context, m message.Message) error {
		r.log.Debug().
			Str("message_type", string(m.Kind())).
			Str("dedup_key", m.DedupKey()).
			Msg("message routed")
		return nil
	}
	return []Route{
		{Name: "auction_results", Types: []message.Type{message.TypeAuctionResult}, Priority: 1, Handle: logRoute},
		{Name: "payment_status", Types: []message.Type{message.TypePaymentStatus}, Priority: 2, Handle: logRoute},
		{Name: "second_chance", Types: []message.Type{message.TypeSecondChanceOffer}, Priority: 1, Handle: logRoute},
		{Name: "booking_confirmation", Types: []message.Type{message.TypeBookingConfirmed}, Priority: 3, Handle: logRoute},
	}
}

// AddRoute installs rt, replacing any route with the same name.
func (r *Router) AddRoute(rt Route) {
	r.mu.Lock()
	r.routes[rt.Name] = rt
	r.mu.Unlock()
}

// RemoveRoute uninstalls the named route.
func (r *Router) RemoveRoute(name string) {
	r.mu.Lock()
	delete(r.routes, name)
	r.mu.Unlock()
}

// SetUser changes the user whose messages are accepted.
func (r *Router) SetUser(userID string) {
	r.mu.Lock()
	r.userID = userID
	r.mu.Unlock()
}

// Route delivers m. Messages for other users are dropped, as are messages no
// route matches. Route failures are counted and reported to onError; they do
// not stop later routes. The returned error joins every route failure.
func (r *Router) Route(ctx context.Context, m message.Message) error {
	kind := m.Kind()

	r.statsMu.Lock()
	r.total++
	r.byType[kind]++
	r.statsMu.Unlock()

	r.mu.RLock()
	userID := r.userID
	var matched []Route
	for _, rt := range r.routes {
		if rt.matches(kind) {
			matched = append(matched, rt)
		}
	}
	r.mu.RUnlock()

	if m.Recipient() != userID {
		r.log.Debug().
			Str("message_type", string(kind)).
			Str("recipient", m.Recipient()).
			Msg("message for another user dropped")
		return nil
	}
	if len(matched) == 0 {
		r.log.Warn().Str("message_type", string(kind)).Msg("no route for message type")
		return nil
	}
	observability.MessagesRouted.WithLabelValues(string(kind)).Inc()

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority < matched[j].Priority
		}
		return matched[i].Name < matched[j].Name
	})

	if r.handler != nil {
		r.handler.Process(m)
	}

	var errs []error
	for _, rt := range matched {
		if err := r.run(ctx, rt, m); err != nil {
			err = fmt.Errorf("route %s: %w", rt.Name, err)
			errs = append(errs, err)

			r.statsMu.Lock()
			r.errors++
			r.statsMu.Unlock()

			r.log.Error().Err(err).Str("route", rt.Name).Msg("route failed")
			if r.onError != nil {
				r.onError(err)
			}
		}
	}
	return errors.Join(errs...)
}

func (r *Router) run(ctx context.Context, rt Route, m message.Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	if rt.Handle == nil {
		return nil
	}
	return rt.Handle(ctx, m)
}

// Stats returns a snapshot of routing counters and the Handler's stats.
func (r *Router) Stats() RouterStats {
	r.statsMu.Lock()
	st := RouterStats{
		TotalMessages:  r.total,
		MessagesByType: make(map[message.Type]int, len(r.byType)),
		ErrorCount:     r.errors,
	}
	for k, v := range r.byType {
		st.MessagesByType[k] = v
	}
	r.statsMu.Unlock()

	r.mu.RLock()
	st.RouteCount = len(r.routes)
	r.mu.RUnlock()

	if r.handler != nil {
		st.Handler = r.handler.Stats()
	}
	return st
}

// ResetStats zeroes the counters and clears the Handler's dedup history.
func (r *Router) ResetStats() {
	r.statsMu.Lock()
	r.total = 0
	r.errors = 0
	r.byType = make(map[message.Type]int)
	r.statsMu.Unlock()

	if r.handler != nil {
		r.handler.Clear()
	}
}

// Close removes every route and closes the Handler.
func (r *Router) Close() {
	r.mu.Lock()
	r.routes = make(map[string]Route)
	r.mu.Unlock()

	if r.handler != nil {
		r.handler.Close()
	}
}
