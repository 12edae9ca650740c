// Package apiclient is the REST helper for the payment and auction-winner
// backend. It attaches bearer tokens, refreshes once on 401 and maps error
// bodies onto payerr values so the recovery classifier can act on them.
package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-auction-settlement/internal/payerr"
)

const maxBodyBytes = 4 << 20

// TokenSource supplies bearer tokens. Token returns "" for anonymous callers.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource for a fixed token. It cannot refresh.
type StaticToken string

// Token returns the fixed token.
func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// Refresh always fails, so a 401 with a StaticToken is final.
func (s StaticToken) Refresh(context.Context) (string, error) {
	return "", errors.New("static token cannot be refreshed")
}

// Client calls the backend REST API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Tokens  TokenSource

	// Now is the clock used for token expiry checks.
	Now func() time.Time

	log zerolog.Logger
}

// New returns a Client rooted at baseURL. tokens may be nil for anonymous
// use. A nil httpClient gets a 30s timeout.
func New(baseURL string, tokens TokenSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTP:    httpClient,
		Tokens:  tokens,
		Now:     time.Now,
		log:     log.With().Str("component", "api_client").Logger(),
	}
}

// Do sends a JSON request and decodes the response into out (when non-nil).
//
// A bearer token is attached when one is available; requireAuth makes its
// absence an error. A 401 triggers one token refresh and one retry. If the
// refresh fails or the retry is also 401, Do returns payerr.ErrAuthFailed.
// Other non-2xx responses yield a *payerr.HTTPError, joined with the matching
// payerr code when the body names a known one.
func (c *Client) Do(ctx context.Context, method, path string, body, out any, requireAuth bool) error {
	ctx, span := otel.Tracer("apiclient/Client").Start(ctx, "Do",
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("api.path", path),
		),
	)
	defer span.End()

	err := c.do(ctx, method, path, body, out, requireAuth)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, requireAuth bool) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		payload = b
	}

	token, err := c.token(ctx, requireAuth)
	if err != nil {
		return err
	}

	resp, err := c.send(ctx, method, path, payload, token)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		if c.Tokens == nil {
			return payerr.ErrAuthFailed
		}
		c.log.Debug().Str("path", path).Msg("401 received, refreshing token")
		token, err = c.Tokens.Refresh(ctx)
		if err != nil || token == "" {
			return payerr.ErrAuthFailed.WithMessage("Token refresh failed")
		}
		resp, err = c.send(ctx, method, path, payload, token)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			resp.Body.Close()
			return payerr.ErrAuthFailed
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, errors.Join(payerr.ErrNetwork, err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}

// token returns the bearer token to send. An expired JWT is refreshed before
// it is used.
func (c *Client) token(ctx context.Context, requireAuth bool) (string, error) {
	if c.Tokens == nil {
		if requireAuth {
			return "", payerr.ErrAuthFailed.WithMessage("Authentication required")
		}
		return "", nil
	}
	tok, err := c.Tokens.Token(ctx)
	if err != nil {
		if requireAuth {
			return "", payerr.ErrAuthFailed.WithMessage("Failed to get authentication token")
		}
		return "", nil
	}
	if tok != "" && tokenExpired(tok, c.Now()) {
		if fresh, err := c.Tokens.Refresh(ctx); err == nil && fresh != "" {
			tok = fresh
		}
	}
	if tok == "" && requireAuth {
		return "", payerr.ErrAuthFailed.WithMessage("Authentication required")
	}
	return tok, nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, token string) (*http.Response, error) {
	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, errors.Join(payerr.ErrNetwork, err))
	}
	return resp, nil
}

// tokenExpired reports whether tok is a JWT whose exp has passed. Opaque
// tokens never expire from the client's point of view.
func tokenExpired(tok string, now time.Time) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil {
		return false
	}
	return claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time)
}

type errorBody struct {
	Error *struct {
		Message string         `json:"message"`
		Code    string         `json:"code"`
		Details map[string]any `json:"details"`
	} `json:"error"`
	Message string         `json:"message"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details"`
}

// knownCodes are the backend error codes surfaced as payerr values.
var knownCodes = func() map[string]*payerr.Error {
	m := make(map[string]*payerr.Error)
	for _, e := range []*payerr.Error{
		payerr.ErrPaymentCreationFailed,
		payerr.ErrPaymentVerificationFailed,
		payerr.ErrPaymentCancelled,
		payerr.ErrPaymentExpired,
		payerr.ErrInsufficientFunds,
		payerr.ErrPaymentTimeout,
		payerr.ErrPaymentVerificationTimeout,
		payerr.ErrPaymentCancellationFailed,
		payerr.ErrCallbackProcessingFailed,
		payerr.ErrSessionFetchFailed,
		payerr.ErrSessionsFetchFailed,
		payerr.ErrBookingCreationFailed,
		payerr.ErrCalendarUpdateFailed,
		payerr.ErrEmailSendingFailed,
		payerr.ErrInvalidAmount,
		payerr.ErrSessionNotFound,
	} {
		m[e.Code] = e
	}
	return m
}()

func responseError(status int, data []byte) error {
	he := &payerr.HTTPError{Status: status, Message: fmt.Sprintf("HTTP error! status: %d", status)}

	var eb errorBody
	if err := json.Unmarshal(data, &eb); err != nil {
		return he
	}
	code, msg, details := eb.Code, eb.Message, eb.Details
	if eb.Error != nil {
		if eb.Error.Message != "" {
			msg = eb.Error.Message
		}
		if eb.Error.Code != "" {
			code = eb.Error.Code
		}
		if eb.Error.Details != nil {
			details = eb.Error.Details
		}
	}
	if msg != "" {
		he.Message = msg
	}
	if base, ok := knownCodes[code]; ok {
		return fmt.Errorf("%w: %w", he, base.WithMessage(he.Message).WithDetails(details))
	}
	return he
}
