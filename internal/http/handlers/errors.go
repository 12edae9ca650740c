// Package handlers – error mapping
//
// This file maps payment errors onto HTTP status codes and the error
// envelope. Errors without a payment code are classified by the recovery
// package so transport failures still get a sensible status and Retry-After.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-auction-settlement/internal/http/middleware"
	"github.com/tbourn/go-auction-settlement/internal/payerr"
	"github.com/tbourn/go-auction-settlement/internal/recovery"
)

// Transport-level codes. Domain failures carry the lower-cased payerr code
// instead (e.g. "session_not_found").
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeUpstream         = "upstream_error"
)

// statusFor maps payment errors onto HTTP statuses.
var statusFor = []struct {
	err    error
	status int
}{
	{payerr.ErrSessionNotFound, http.StatusNotFound},
	{payerr.ErrInvalidStatusTransition, http.StatusConflict},
	{payerr.ErrInvalidSessionStatus, http.StatusConflict},
	{payerr.ErrPaymentCompleted, http.StatusConflict},
	{payerr.ErrPaymentInProgress, http.StatusConflict},
	{payerr.ErrNoNightsSelected, http.StatusBadRequest},
	{payerr.ErrTooManyActiveSessions, http.StatusTooManyRequests},
	{payerr.ErrSessionLimitExceeded, http.StatusServiceUnavailable},
	{payerr.ErrPaymentExpired, http.StatusGone},
	{payerr.ErrInvalidAmount, http.StatusBadRequest},
	{payerr.ErrAmountTooHigh, http.StatusBadRequest},
	{payerr.ErrAmountMustBeWholeNumber, http.StatusBadRequest},
	{payerr.ErrInvalidSessionData, http.StatusBadRequest},
	{payerr.ErrInvalidOrderData, http.StatusBadRequest},
	{payerr.ErrPaymentCreationFailed, http.StatusBadGateway},
	{payerr.ErrAuthFailed, http.StatusBadGateway},
}

// failErr writes the envelope for err. Payment errors keep their message.
// Anything else is classified: upstream and network failures answer 502,
// the rest 500, both with the classified user message and Retry-After when
// the failure is worth retrying.
func failErr(c *gin.Context, err error) {
	if code := payerr.CodeOf(err); code != "" {
		var pe *payerr.Error
		errors.As(err, &pe)
		status := http.StatusInternalServerError
		for _, m := range statusFor {
			if errors.Is(err, m.err) {
				status = m.status
				break
			}
		}
		fail(c, status, strings.ToLower(code), pe.Message)
		return
	}

	ce := recovery.Classify(err)
	if ce.Recovery.CanRetry && ce.Recovery.RetryDelay > 0 {
		c.Header("Retry-After", strconv.Itoa(int(ce.Recovery.RetryDelay/time.Second)))
	}
	lg := middleware.LoggerFrom(c)
	lg.Warn().Err(err).Str("error_type", string(ce.Type)).Msg("request failed")

	switch {
	case payerr.StatusOf(err) != 0, ce.Type == recovery.TypeNetwork, ce.Type == recovery.TypeTimeout:
		fail(c, http.StatusBadGateway, ErrCodeUpstream, ce.Message)
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, ce.Message)
	}
}
