// Package message – Discriminator
//
// This file implements the schema registry that turns raw realtime frames
// into typed messages. Each schema lists required and optional fields, a
// validator and a transform; unknown types and invalid payloads are counted
// per type so operators can see what the feed is sending.
package message

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tbourn/go-auction-settlement/internal/domain"
	"github.com/tbourn/go-auction-settlement/internal/observability"
)

// Raw is a decoded but unvalidated message object.
type Raw = map[string]any

// Schema describes one message type. Validate and Transform are total: they
// report problems through their return values and never panic on well-formed
// JSON input. Transform runs only after Validate returned nil.
type Schema struct {
	Type      Type
	Required  []string
	Optional  []string
	Validate  func(Raw) error
	Transform func(Raw) Message
}

// Result is the outcome of Discriminate. Message is set only when Valid.
type Result struct {
	Valid   bool
	Type    Type
	Errors  []string
	Message Message
}

// TypeStats are the validity counts of one message type.
type TypeStats struct {
	Valid       int     `json:"valid"`
	Invalid     int     `json:"invalid"`
	SuccessRate float64 `json:"success_rate"`
}

// Stats are the discriminator's running validity counts.
type Stats struct {
	Total       int                `json:"total"`
	Valid       int                `json:"valid"`
	Invalid     int                `json:"invalid"`
	SuccessRate float64            `json:"success_rate"`
	ByType      map[Type]TypeStats `json:"by_type"`
}

// Discriminator validates raw frames against a registry of schemas.
// It is safe for concurrent use.
type Discriminator struct {
	mu      sync.RWMutex
	schemas map[Type]Schema

	statsMu sync.Mutex
	total   int
	valid   int
	invalid int
	byType  map[Type]*TypeStats
}

// NewDiscriminator returns a Discriminator with the four built-in schemas.
func NewDiscriminator() *Discriminator {
	d := &Discriminator{
		schemas: make(map[Type]Schema),
		byType:  make(map[Type]*TypeStats),
	}
	for _, s := range DefaultSchemas() {
		d.schemas[s.Type] = s
	}
	return d
}

// Discriminate decodes a JSON frame and discriminates it.
func (d *Discriminator) Discriminate(frame []byte) Result {
	var v any
	if err := json.Unmarshal(frame, &v); err != nil {
		return d.fail("", "Message must be a valid object")
	}
	return d.DiscriminateValue(v)
}

// DiscriminateValue discriminates an already decoded value.
func (d *Discriminator) DiscriminateValue(v any) Result {
	raw, ok := v.(Raw)
	if !ok || raw == nil {
		return d.fail("", "Message must be a valid object")
	}
	ts, ok := raw["type"].(string)
	if !ok || ts == "" {
		return d.fail("", "Message must have a valid type field")
	}
	t := Type(ts)

	d.mu.RLock()
	schema, ok := d.schemas[t]
	d.mu.RUnlock()
	if !ok {
		return d.fail(t, "Unknown message type: "+ts)
	}

	if missing := missingFields(raw, schema.Required); len(missing) > 0 {
		return d.fail(t, "Missing required fields: "+strings.Join(missing, ", "))
	}
	if schema.Validate != nil {
		if err := schema.Validate(raw); err != nil {
			return d.fail(t, err.Error())
		}
	}
	if schema.Transform == nil {
		return d.fail(t, "No transformer registered for "+ts)
	}

	m := schema.Transform(raw)
	d.record(t, true)
	return Result{Valid: true, Type: t, Errors: []string{}, Message: m}
}

func (d *Discriminator) fail(t Type, reason string) Result {
	d.record(t, false)
	return Result{Valid: false, Type: t, Errors: []string{reason}}
}

func (d *Discriminator) record(t Type, valid bool) {
	outcome := "invalid"
	if valid {
		outcome = "valid"
	}

	d.statsMu.Lock()
	d.total++
	if valid {
		d.valid++
	} else {
		d.invalid++
	}
	label := "unknown"
	if t != "" && d.hasSchema(t) {
		label = string(t)
		ts := d.byType[t]
		if ts == nil {
			ts = &TypeStats{}
			d.byType[t] = ts
		}
		if valid {
			ts.Valid++
		} else {
			ts.Invalid++
		}
	}
	d.statsMu.Unlock()

	observability.MessagesDiscriminated.WithLabelValues(label, outcome).Inc()
}

func (d *Discriminator) hasSchema(t Type) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.schemas[t]
	return ok
}

// Stats returns a snapshot of the validity counts with success rates in percent.
func (d *Discriminator) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()

	st := Stats{
		Total:       d.total,
		Valid:       d.valid,
		Invalid:     d.invalid,
		SuccessRate: rate(d.valid, d.total),
		ByType:      make(map[Type]TypeStats, len(d.byType)),
	}
	for t, ts := range d.byType {
		st.ByType[t] = TypeStats{
			Valid:       ts.Valid,
			Invalid:     ts.Invalid,
			SuccessRate: rate(ts.Valid, ts.Valid+ts.Invalid),
		}
	}
	return st
}

// ResetStats zeroes the validity counts.
func (d *Discriminator) ResetStats() {
	d.statsMu.Lock()
	d.total, d.valid, d.invalid = 0, 0, 0
	d.byType = make(map[Type]*TypeStats)
	d.statsMu.Unlock()
}

// AddSchema registers s, replacing any schema for the same type.
func (d *Discriminator) AddSchema(s Schema) {
	d.mu.Lock()
	d.schemas[s.Type] = s
	d.mu.Unlock()
}

// RemoveSchema unregisters t.
func (d *Discriminator) RemoveSchema(t Type) {
	d.mu.Lock()
	delete(d.schemas, t)
	d.mu.Unlock()
}

// SupportedTypes lists the registered types in lexical order.
func (d *Discriminator) SupportedTypes() []Type {
	d.mu.RLock()
	out := make([]Type, 0, len(d.schemas))
	for t := range d.schemas {
		out = append(out, t)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

func missingFields(raw Raw, required []string) []string {
	var missing []string
	for _, f := range required {
		if v, ok := raw[f]; !ok || v == nil {
			missing = append(missing, f)
		}
	}
	return missing
}

// DefaultSchemas returns the built-in schemas for the four message types.
func DefaultSchemas() []Schema {
	return []Schema{
		{
			Type:      TypeAuctionResult,
			Required:  []string{"type", "auctionId", "userId", "result", "amount", "paymentDeadline", "propertyName"},
			Optional:  []string{"awardedNights"},
			Validate:  validateAuctionResult,
			Transform: transformAuctionResult,
		},
		{
			Type:      TypeSecondChanceOffer,
			Required:  []string{"type", "offerId", "auctionId", "userId", "offeredNights", "amount", "responseDeadline", "propertyName"},
			Validate:  validateSecondChanceOffer,
			Transform: transformSecondChanceOffer,
		},
		{
			Type:      TypePaymentStatus,
			Required:  []string{"type", "paymentId", "userId", "status"},
			Optional:  []string{"transactionId"},
			Validate:  validatePaymentStatus,
			Transform: transformPaymentStatus,
		},
		{
			Type:      TypeBookingConfirmed,
			Required:  []string{"type", "bookingId", "userId", "propertyName", "checkIn", "checkOut"},
			Validate:  validateBookingConfirmed,
			Transform: transformBookingConfirmed,
		},
	}
}

// ----- validators -----

func validateAuctionResult(raw Raw) error {
	switch Outcome(str(raw["result"])) {
	case OutcomeFullWin, OutcomePartialWin, OutcomeLost:
	default:
		return fmt.Errorf("invalid result: %v", raw["result"])
	}
	if err := nonNegativeAmount(raw["amount"]); err != nil {
		return err
	}
	if !isDate(raw["paymentDeadline"]) {
		return errors.New("paymentDeadline is not a valid date")
	}
	if Outcome(str(raw["result"])) == OutcomePartialWin {
		if nights, ok := raw["awardedNights"].([]any); !ok || len(nights) == 0 {
			return errors.New("awardedNights must be a non-empty array for a partial win")
		}
	}
	return nil
}

func validateSecondChanceOffer(raw Raw) error {
	if nights, ok := raw["offeredNights"].([]any); !ok || len(nights) == 0 {
		return errors.New("offeredNights must be a non-empty array")
	}
	if err := nonNegativeAmount(raw["amount"]); err != nil {
		return err
	}
	if !isDate(raw["responseDeadline"]) {
		return errors.New("responseDeadline is not a valid date")
	}
	return nil
}

func validatePaymentStatus(raw Raw) error {
	switch PaymentState(str(raw["status"])) {
	case PaymentInitiated, PaymentProcessing, PaymentCompleted, PaymentFailed:
		return nil
	}
	return fmt.Errorf("invalid status: %v", raw["status"])
}

func validateBookingConfirmed(raw Raw) error {
	in, ok1 := raw["checkIn"].(string)
	out, ok2 := raw["checkOut"].(string)
	if !ok1 || !ok2 {
		return errors.New("checkIn and checkOut must be dates")
	}
	ti, err1 := domain.ParseTime(in)
	to, err2 := domain.ParseTime(out)
	if err1 != nil || err2 != nil {
		return errors.New("checkIn and checkOut must be dates")
	}
	if !ti.Before(to) {
		return errors.New("checkIn must be before checkOut")
	}
	return nil
}

func nonNegativeAmount(v any) error {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) {
		return errors.New("amount must be a number")
	}
	if f < 0 {
		return errors.New("amount must not be negative")
	}
	return nil
}

func isDate(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	_, err := domain.ParseTime(s)
	return err == nil
}

// ----- transformers -----

func transformAuctionResult(raw Raw) Message {
	return AuctionResult{
		AuctionID:       str(raw["auctionId"]),
		UserID:          str(raw["userId"]),
		Result:          Outcome(str(raw["result"])),
		AwardedNights:   strs(raw["awardedNights"]),
		Amount:          num(raw["amount"]),
		PaymentDeadline: str(raw["paymentDeadline"]),
		PropertyName:    str(raw["propertyName"]),
	}
}

func transformSecondChanceOffer(raw Raw) Message {
	return SecondChanceOffer{
		OfferID:          str(raw["offerId"]),
		AuctionID:        str(raw["auctionId"]),
		UserID:           str(raw["userId"]),
		OfferedNights:    strs(raw["offeredNights"]),
		Amount:           num(raw["amount"]),
		ResponseDeadline: str(raw["responseDeadline"]),
		PropertyName:     str(raw["propertyName"]),
	}
}

func transformPaymentStatus(raw Raw) Message {
	return PaymentStatus{
		PaymentID:     str(raw["paymentId"]),
		UserID:        str(raw["userId"]),
		Status:        PaymentState(str(raw["status"])),
		TransactionID: str(raw["transactionId"]),
	}
}

func transformBookingConfirmed(raw Raw) Message {
	return BookingConfirmed{
		BookingID:    str(raw["bookingId"]),
		UserID:       str(raw["userId"]),
		PropertyName: str(raw["propertyName"]),
		CheckIn:      str(raw["checkIn"]),
		CheckOut:     str(raw["checkOut"]),
	}
}

// str coerces scalars to their canonical string form. nil becomes "".
func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	}
	return fmt.Sprint(v)
}

// strs coerces an array to strings. Non-arrays become an empty slice.
func strs(v any) []string {
	arr, _ := v.([]any)
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		out = append(out, str(e))
	}
	return out
}

// num rounds a JSON number to whole VND. Values that do not fit an int64,
// NaN included, read as 0 like any other unusable amount.
func num(v any) int64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		var err error
		if f, err = strconv.ParseFloat(t, 64); err != nil {
			return 0
		}
	default:
		return 0
	}
	f = math.Round(f)
	if math.IsNaN(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0
	}
	return int64(f)
}
