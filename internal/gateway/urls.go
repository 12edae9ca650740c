// Package gateway – amounts and URLs
//
// This file validates amounts against the gateway limits and builds and
// checks the payment, callback and redirect URLs.
package gateway

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tbourn/go-auction-settlement/internal/payerr"
)

// Gateway amount bounds in VND.
const (
	MinAmount = 1_000
	MaxAmount = 50_000_000
)

// URL validation errors.
var (
	// ErrInvalidURL is returned for strings that do not parse as absolute URLs.
	ErrInvalidURL = errors.New("invalid URL format")

	// ErrInvalidDomain is returned for payment URLs outside the gateway domains.
	ErrInvalidDomain = errors.New("invalid ZaloPay domain")

	// ErrInvalidOrderURL is returned for payment URLs without an /order/ path.
	ErrInvalidOrderURL = errors.New("invalid ZaloPay order URL format")

	// ErrInsecureURL is returned for plain http URLs in production.
	ErrInsecureURL = errors.New("URL must use HTTPS in production")

	// ErrInvalidCallbackPath is returned for callback URLs off the callback route.
	ErrInvalidCallbackPath = errors.New("invalid callback URL path")

	// ErrCrossOrigin is returned for redirect URLs on a foreign origin.
	ErrCrossOrigin = errors.New("redirect URL must be same origin")
)

// ValidateAmount checks a gateway amount: positive, within bounds and whole.
func ValidateAmount(amount float64) error {
	switch {
	case math.IsNaN(amount) || math.IsInf(amount, 0):
		return payerr.ErrInvalidAmount.WithMessage("Amount must be a valid number")
	case amount <= 0:
		return payerr.ErrInvalidAmount.WithMessage("Amount must be greater than 0")
	case amount > MaxAmount:
		return payerr.ErrAmountTooHigh.WithMessage("Amount exceeds maximum limit of 50,000,000 VND")
	case amount < MinAmount:
		return payerr.ErrInvalidAmount.WithMessage("Amount must be at least 1,000 VND")
	case amount != math.Round(amount):
		return payerr.ErrAmountMustBeWholeNumber
	}
	return nil
}

// FormatAmount rounds amount to the whole VND the gateway requires.
func FormatAmount(amount float64) (int64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, payerr.ErrInvalidAmount.WithMessage("Amount must be a valid number")
	}
	return int64(math.Round(amount)), nil
}

// Endpoints are the API and hosted-checkout base URLs of one environment.
type Endpoints struct {
	APIURL     string
	GatewayURL string
}

// EnvironmentURLs returns the sandbox or production endpoints.
func EnvironmentURLs(production bool) Endpoints {
	if production {
		return Endpoints{APIURL: "https://openapi.zalopay.vn/v2", GatewayURL: "https://zalopay.vn"}
	}
	return Endpoints{APIURL: "https://sb-openapi.zalopay.vn/v2", GatewayURL: "https://sb-zalopay.vn"}
}

// CreatePaymentURL returns the hosted checkout URL for an order token.
func CreatePaymentURL(orderToken string, production bool) string {
	return EnvironmentURLs(production).GatewayURL + "/order/" + orderToken
}

// ValidatePaymentURL checks that raw is a gateway checkout URL.
func ValidatePaymentURL(raw string) error {
	u, err := parseAbs(raw)
	if err != nil {
		return err
	}
	if !strings.Contains(u.Hostname(), "zalopay.vn") {
		return ErrInvalidDomain
	}
	if !strings.Contains(u.Path, "/order/") {
		return ErrInvalidOrderURL
	}
	return nil
}

// ExtractOrderToken returns the path segment following "order", or "" when
// there is none.
func ExtractOrderToken(raw string) string {
	u, err := parseAbs(raw)
	if err != nil {
		return ""
	}
	parts := strings.Split(u.Path, "/")
	for i, p := range parts {
		if p == "order" && i < len(parts)-1 {
			return parts[i+1]
		}
	}
	return ""
}

// BuildCallbackURL returns the callback endpoint for a session under baseURL.
func BuildCallbackURL(baseURL, sessionID string) string {
	return strings.TrimSuffix(baseURL, "/") + "/api/v1/payment/zalopay/callback/" + url.PathEscape(sessionID)
}

// Redirect statuses.
const (
	RedirectSuccess = "success"
	RedirectCancel  = "cancel"
	RedirectError   = "error"
)

// BuildRedirectURL returns the confirmation page URL for a session.
func BuildRedirectURL(baseURL, sessionID, status string) string {
	if status == "" {
		status = RedirectSuccess
	}
	q := url.Values{}
	q.Set("session", sessionID)
	q.Set("status", status)
	return strings.TrimSuffix(baseURL, "/") + "/dashboard/payment/confirmation?" + q.Encode()
}

// RedirectParams are the query parameters the gateway appends on redirect.
type RedirectParams struct {
	SessionID  string
	Status     string
	AppTransID string
	Error      string
}

// ParseRedirectParams reads RedirectParams from a redirect URL. Unparseable
// URLs yield the zero value.
func ParseRedirectParams(raw string) RedirectParams {
	u, err := url.Parse(raw)
	if err != nil {
		return RedirectParams{}
	}
	q := u.Query()
	return RedirectParams{
		SessionID:  q.Get("session"),
		Status:     q.Get("status"),
		AppTransID: q.Get("apptransid"),
		Error:      q.Get("error"),
	}
}

// ValidateCallbackURL checks the callback route and, in production, https.
func ValidateCallbackURL(raw string, production bool) error {
	u, err := parseAbs(raw)
	if err != nil {
		return err
	}
	if production && u.Scheme != "https" {
		return ErrInsecureURL
	}
	if !strings.Contains(u.Path, "/payment/zalopay/callback") {
		return ErrInvalidCallbackPath
	}
	return nil
}

// ValidateRedirectURL checks https in production and, when origin is set,
// that raw shares it.
func ValidateRedirectURL(raw string, production bool, origin string) error {
	u, err := parseAbs(raw)
	if err != nil {
		return err
	}
	if production && u.Scheme != "https" {
		return ErrInsecureURL
	}
	if origin != "" && u.Scheme+"://"+u.Host != strings.TrimSuffix(origin, "/") {
		return ErrCrossOrigin
	}
	return nil
}

// CallbackResponse is the body the gateway expects from a callback handler.
type CallbackResponse struct {
	ReturnCode    int    `json:"return_code"`
	ReturnMessage string `json:"return_message"`
}

// CreateCallbackResponse returns code 1 on success and -1 otherwise, with a
// default message when msg is empty.
func CreateCallbackResponse(success bool, msg string) CallbackResponse {
	code := -1
	if success {
		code = 1
	}
	if msg == "" {
		msg = "failed"
		if success {
			msg = "success"
		}
	}
	return CallbackResponse{ReturnCode: code, ReturnMessage: msg}
}

// CreateOrderDescription describes a booking payment for the checkout page.
func CreateOrderDescription(propertyName, checkIn, checkOut string, nights int) string {
	return fmt.Sprintf("Booking payment for %s (%s) from %s to %s", propertyName, pluralNights(nights), checkIn, checkOut)
}

// CreateOrderItem returns the item JSON for a multi-night stay.
func CreateOrderItem(propertyName string, nights int, pricePerNight int64) (string, error) {
	b, err := json.Marshal([]OrderItem{{
		Name:     propertyName + " - " + pluralNights(nights),
		Quantity: nights,
		Price:    pricePerNight,
	}})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseEmbedData decodes the embed_data echoed back in a callback.
func ParseEmbedData(raw string) (EmbedData, error) {
	var e EmbedData
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return EmbedData{}, payerr.ErrInvalidEmbedData.WithMessage("Failed to parse embed data from callback")
	}
	return e, nil
}

func pluralNights(n int) string {
	if n > 1 {
		return fmt.Sprintf("%d nights", n)
	}
	return fmt.Sprintf("%d night", n)
}

func parseAbs(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, ErrInvalidURL
	}
	return u, nil
}
