// Package gateway – Client
//
// This file implements the HTTP client for the gateway's create-order and
// query-status endpoints. Requests are form-encoded and carry the MAC the
// Helper computed.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-auction-settlement/internal/payerr"
)

// maxResponseBytes bounds gateway response bodies.
const maxResponseBytes = 1 << 20

// CreateOrderResponse is the gateway's answer to an order creation.
type CreateOrderResponse struct {
	ReturnCode       int    `json:"return_code"`
	ReturnMessage    string `json:"return_message"`
	SubReturnCode    int    `json:"sub_return_code"`
	SubReturnMessage string `json:"sub_return_message"`
	OrderURL         string `json:"order_url"`
	ZPTransToken     string `json:"zp_trans_token"`
	OrderToken       string `json:"order_token"`
	QRCode           string `json:"qr_code"`
}

// Client talks to the gateway's create and query endpoints.
type Client struct {
	Helper  *Helper
	BaseURL string
	HTTP    *http.Client
}

// NewClient returns a Client for h's environment. A nil httpClient gets a
// 15s timeout.
func NewClient(h *Helper, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		Helper:  h,
		BaseURL: EnvironmentURLs(h.cfg.Production).APIURL,
		HTTP:    httpClient,
	}
}

// CreateOrder submits a signed order. A return code other than 1 is
// reported as ErrPaymentCreationFailed with the gateway message.
func (c *Client) CreateOrder(ctx context.Context, od OrderData) (CreateOrderResponse, error) {
	ctx, span := otel.Tracer("gateway/Client").Start(ctx, "CreateOrder",
		trace.WithAttributes(
			attribute.String("app_trans_id", od.AppTransID),
			attribute.Int64("amount", od.Amount),
		),
	)
	defer span.End()

	form := url.Values{}
	form.Set("app_id", od.AppID)
	form.Set("app_trans_id", od.AppTransID)
	form.Set("app_user", od.AppUser)
	form.Set("app_time", strconv.FormatInt(od.AppTime, 10))
	form.Set("amount", strconv.FormatInt(od.Amount, 10))
	form.Set("item", od.Item)
	form.Set("description", od.Description)
	form.Set("embed_data", od.EmbedData)
	form.Set("bank_code", od.BankCode)
	form.Set("callback_url", od.CallbackURL)
	form.Set("mac", od.MAC)

	var out CreateOrderResponse
	if err := c.post(ctx, "/create", form, &out); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return CreateOrderResponse{}, err
	}
	if out.ReturnCode != ReturnPaid {
		msg := out.ReturnMessage
		if out.SubReturnMessage != "" {
			msg = out.SubReturnMessage
		}
		span.SetStatus(codes.Error, msg)
		return out, payerr.ErrPaymentCreationFailed.WithMessage(msg).
			WithDetails(map[string]any{"return_code": out.ReturnCode, "sub_return_code": out.SubReturnCode})
	}

	log.Info().
		Str("app_trans_id", od.AppTransID).
		Int64("amount", od.Amount).
		Msg("gateway order created")
	return out, nil
}

// QueryStatus asks the gateway for the state of appTransID.
func (c *Client) QueryStatus(ctx context.Context, appTransID string) (StatusResponse, error) {
	ctx, span := otel.Tracer("gateway/Client").Start(ctx, "QueryStatus",
		trace.WithAttributes(attribute.String("app_trans_id", appTransID)),
	)
	defer span.End()

	q := c.Helper.StatusQueryData(appTransID)
	form := url.Values{}
	form.Set("app_id", q.AppID)
	form.Set("app_trans_id", q.AppTransID)
	form.Set("mac", q.MAC)

	var out StatusResponse
	if err := c.post(ctx, "/query", form, &out); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return StatusResponse{}, err
	}
	span.SetAttributes(attribute.Int("return_code", out.ReturnCode))
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(c.BaseURL, "/")+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("gateway %s: %w", path, errors.Join(payerr.ErrNetwork, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("gateway %s: read body: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &payerr.HTTPError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("gateway %s: decode: %w", path, err)
	}
	return nil
}
