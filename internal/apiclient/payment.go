// Package apiclient – Payments
//
// This file holds the payment and booking endpoints of the backend.
package apiclient

import (
	"context"
	"net/http"
	"net/url"

	"github.com/tbourn/go-auction-settlement/internal/domain"
	"github.com/tbourn/go-auction-settlement/internal/gateway"
)

// CreatePaymentRequest asks the backend to open a gateway order.
type CreatePaymentRequest struct {
	AuctionID      string   `json:"auctionId"`
	SelectedNights []string `json:"selectedNights"`
	Amount         int64    `json:"amount"`
	OrderInfo      string   `json:"orderInfo"`
	RedirectParams string   `json:"redirectParams"`
}

// CreatePaymentResponse carries the gateway order to redirect to.
type CreatePaymentResponse struct {
	OrderURL   string `json:"orderUrl"`
	AppTransID string `json:"appTransId"`
	Amount     int64  `json:"amount"`
}

// PaymentVerification is the backend's view of a gateway transaction.
type PaymentVerification struct {
	Status        domain.PaymentStatus `json:"status"`
	TransactionID string               `json:"transactionId,omitempty"`
	Amount        int64                `json:"amount,omitempty"`
	PaidAt        string               `json:"paidAt,omitempty"`
}

// Booking is a confirmed stay created after payment.
type Booking struct {
	ID              string `json:"id"`
	ReferenceNumber string `json:"referenceNumber"`
	PropertyID      string `json:"propertyId"`
	PropertyName    string `json:"propertyName"`
	HostID          string `json:"hostId"`
	CheckIn         string `json:"checkIn"`
	CheckOut        string `json:"checkOut"`
	GuestCount      int    `json:"guestCount"`
	TotalAmount     int64  `json:"totalAmount"`
	Status          string `json:"status"`
	CreatedAt       string `json:"createdAt"`
}

// ConversationThread identifies a guest/host conversation.
type ConversationThread struct {
	ThreadID string `json:"threadId"`
}

// CreatePayment opens a gateway order for the selected nights.
func (c *Client) CreatePayment(ctx context.Context, req CreatePaymentRequest) (CreatePaymentResponse, error) {
	var out CreatePaymentResponse
	err := c.Do(ctx, http.MethodPost, "/payment/zalopay/create", req, &out, true)
	return out, err
}

// VerifyPayment asks for the current status of appTransID.
func (c *Client) VerifyPayment(ctx context.Context, appTransID string) (PaymentVerification, error) {
	var out PaymentVerification
	err := c.Do(ctx, http.MethodGet, "/payment/zalopay/status/"+url.PathEscape(appTransID), nil, &out, true)
	return out, err
}

// SubmitCallback forwards a gateway callback to the backend.
func (c *Client) SubmitCallback(ctx context.Context, cb gateway.CallbackData) error {
	return c.Do(ctx, http.MethodPost, "/payment/zalopay/callback", cb, nil, true)
}

// PaymentSession fetches a session by id.
func (c *Client) PaymentSession(ctx context.Context, sessionID string) (domain.PaymentSession, error) {
	var out domain.PaymentSession
	err := c.Do(ctx, http.MethodGet, "/payment/sessions/"+url.PathEscape(sessionID), nil, &out, true)
	return out, err
}

// PaymentByTransactionID fetches the session paid by a gateway transaction.
func (c *Client) PaymentByTransactionID(ctx context.Context, txID string) (domain.PaymentSession, error) {
	var out domain.PaymentSession
	err := c.Do(ctx, http.MethodGet, "/payment/transactions/"+url.PathEscape(txID), nil, &out, true)
	return out, err
}

// CreateBooking turns a completed payment into a booking.
func (c *Client) CreateBooking(ctx context.Context, paymentID string) (Booking, error) {
	var out Booking
	err := c.Do(ctx, http.MethodPost, "/payment/"+url.PathEscape(paymentID)+"/booking", struct{}{}, &out, true)
	return out, err
}

// BookingByPaymentID fetches the booking created for a payment.
func (c *Client) BookingByPaymentID(ctx context.Context, paymentID string) (Booking, error) {
	var out Booking
	err := c.Do(ctx, http.MethodGet, "/payment/"+url.PathEscape(paymentID)+"/booking", nil, &out, true)
	return out, err
}

// UpdateCalendarAvailability blocks the booked nights on the host calendar.
func (c *Client) UpdateCalendarAvailability(ctx context.Context, bookingID string) error {
	return c.Do(ctx, http.MethodPost, "/bookings/"+url.PathEscape(bookingID)+"/update-calendar", struct{}{}, nil, true)
}

// CreateConversationThread opens a conversation with the host.
func (c *Client) CreateConversationThread(ctx context.Context, bookingID string) (ConversationThread, error) {
	var out ConversationThread
	err := c.Do(ctx, http.MethodPost, "/bookings/"+url.PathEscape(bookingID)+"/conversation", struct{}{}, &out, true)
	return out, err
}

// SendBookingConfirmationEmail asks the backend to email the guest.
func (c *Client) SendBookingConfirmationEmail(ctx context.Context, bookingID string) error {
	return c.Do(ctx, http.MethodPost, "/bookings/"+url.PathEscape(bookingID)+"/send-confirmation", struct{}{}, nil, true)
}
