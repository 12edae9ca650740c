// Package gateway implements the ZaloPay-style order, callback and status
// protocol: signed order payloads, callback MAC verification, status queries,
// transaction id handling and payment URL utilities.
//
// All MACs are hex-encoded HMAC-SHA256. Orders and status queries are signed
// with Key1; callbacks are verified with Key2.
package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tbourn/go-auction-settlement/internal/payerr"
)

// Config holds merchant credentials and the URLs advertised to the gateway.
type Config struct {
	AppID       string
	Key1        string
	Key2        string
	CallbackURL string
	RedirectURL string
	Production  bool
}

// OrderParams are the inputs to GenerateOrderData.
type OrderParams struct {
	AppTransID   string
	UserID       string
	Amount       int64
	Description  string
	PropertyName string
	CheckIn      string
	CheckOut     string
}

// OrderData is the signed order creation request.
type OrderData struct {
	AppID       string `json:"app_id"`
	AppTransID  string `json:"app_trans_id"`
	AppUser     string `json:"app_user"`
	AppTime     int64  `json:"app_time"`
	Amount      int64  `json:"amount"`
	Item        string `json:"item"`
	Description string `json:"description"`
	EmbedData   string `json:"embed_data"`
	BankCode    string `json:"bank_code"`
	CallbackURL string `json:"callback_url"`
	RedirectURL string `json:"redirect_url"`
	MAC         string `json:"mac"`
}

// EmbedData is the booking context carried through the gateway and echoed
// back in the callback.
type EmbedData struct {
	UserID       string `json:"userId"`
	PropertyName string `json:"propertyName"`
	CheckIn      string `json:"checkIn"`
	CheckOut     string `json:"checkOut"`
	RedirectURL  string `json:"redirectUrl"`
}

// OrderItem is one line of the item JSON array.
type OrderItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

// CallbackData is the raw webhook body: an opaque JSON string and its MAC.
type CallbackData struct {
	Data string `json:"data"`
	MAC  string `json:"mac"`
	Type int    `json:"type,omitempty"`
}

// CallbackPayload is the decoded Data field of a callback.
type CallbackPayload struct {
	AppID          json.Number `json:"app_id"`
	AppTransID     string      `json:"app_trans_id"`
	AppTime        int64       `json:"app_time"`
	AppUser        string      `json:"app_user"`
	Amount         int64       `json:"amount"`
	EmbedData      string      `json:"embed_data"`
	Item           string      `json:"item"`
	ZPTransID      int64       `json:"zp_trans_id"`
	ServerTime     int64       `json:"server_time"`
	Channel        int         `json:"channel"`
	MerchantUserID string      `json:"merchant_user_id"`
	UserFeeAmount  int64       `json:"user_fee_amount"`
	DiscountAmount int64       `json:"discount_amount"`
}

// StatusQuery is the signed status query request.
type StatusQuery struct {
	AppID      string `json:"app_id"`
	AppTransID string `json:"app_trans_id"`
	MAC        string `json:"mac"`
}

// StatusResponse is the gateway's answer to a status query.
type StatusResponse struct {
	ReturnCode       int    `json:"return_code"`
	ReturnMessage    string `json:"return_message"`
	SubReturnCode    int    `json:"sub_return_code"`
	SubReturnMessage string `json:"sub_return_message"`
	IsProcessing     bool   `json:"is_processing"`
	Amount           int64  `json:"amount"`
	ZPTransID        int64  `json:"zp_trans_id"`
}

// Gateway return codes.
const (
	ReturnPaid       = 1
	ReturnProcessing = 2
)

// ResponseCheck is the interpretation of a StatusResponse.
type ResponseCheck struct {
	Valid      bool
	Paid       bool
	Processing bool
	Error      string
}

// Helper signs and verifies gateway payloads for one merchant.
type Helper struct {
	cfg Config

	// Now and RandIntN are replaced in tests.
	Now      func() time.Time
	RandIntN func(n int) int
}

// NewHelper returns a Helper for cfg.
func NewHelper(cfg Config) *Helper {
	return &Helper{cfg: cfg, Now: time.Now, RandIntN: rand.IntN}
}

// Config returns the merchant configuration.
func (h *Helper) Config() Config { return h.cfg }

// GenerateOrderData builds and signs an order for p.
func (h *Helper) GenerateOrderData(p OrderParams) (OrderData, error) {
	if p.AppTransID == "" || p.UserID == "" || p.Amount <= 0 {
		return OrderData{}, payerr.ErrInvalidOrderData.WithMessage("Invalid order data provided")
	}

	embed, err := json.Marshal(EmbedData{
		UserID:       p.UserID,
		PropertyName: p.PropertyName,
		CheckIn:      p.CheckIn,
		CheckOut:     p.CheckOut,
		RedirectURL:  h.cfg.RedirectURL,
	})
	if err != nil {
		return OrderData{}, err
	}
	item, err := json.Marshal([]OrderItem{{Name: p.PropertyName, Quantity: 1, Price: p.Amount}})
	if err != nil {
		return OrderData{}, err
	}

	od := OrderData{
		AppID:       h.cfg.AppID,
		AppTransID:  p.AppTransID,
		AppUser:     p.UserID,
		AppTime:     h.Now().UnixMilli(),
		Amount:      p.Amount,
		Item:        string(item),
		Description: p.Description,
		EmbedData:   string(embed),
		BankCode:    "",
		CallbackURL: h.cfg.CallbackURL,
		RedirectURL: h.cfg.RedirectURL,
	}
	od.MAC = h.OrderMAC(od)
	return od, nil
}

// OrderMAC signs app_id|app_trans_id|app_user|amount|app_time|embed_data|item with Key1.
func (h *Helper) OrderMAC(od OrderData) string {
	data := strings.Join([]string{
		od.AppID,
		od.AppTransID,
		od.AppUser,
		strconv.FormatInt(od.Amount, 10),
		strconv.FormatInt(od.AppTime, 10),
		od.EmbedData,
		od.Item,
	}, "|")
	return sign(h.cfg.Key1, data)
}

// VerifyCallback reports whether cb.MAC is the Key2 signature of cb.Data.
func (h *Helper) VerifyCallback(cb CallbackData) bool {
	got, err := hex.DecodeString(cb.MAC)
	if err != nil {
		return false
	}
	return hmac.Equal(got, mac(h.cfg.Key2, cb.Data))
}

// ParseCallbackData decodes the Data field of a callback.
func (h *Helper) ParseCallbackData(data string) (CallbackPayload, error) {
	var p CallbackPayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return CallbackPayload{}, payerr.ErrInvalidCallbackData.WithMessage("Failed to parse ZaloPay callback data")
	}
	return p, nil
}

// StatusQueryMAC signs app_id|app_trans_id|key1 with Key1.
func (h *Helper) StatusQueryMAC(appTransID string) string {
	return sign(h.cfg.Key1, h.cfg.AppID+"|"+appTransID+"|"+h.cfg.Key1)
}

// StatusQueryData builds a signed status query.
func (h *Helper) StatusQueryData(appTransID string) StatusQuery {
	return StatusQuery{
		AppID:      h.cfg.AppID,
		AppTransID: appTransID,
		MAC:        h.StatusQueryMAC(appTransID),
	}
}

// ValidateResponse interprets a status response: 1 is paid, 2 is processing,
// anything else is an error carrying the gateway's message.
func ValidateResponse(r StatusResponse) ResponseCheck {
	switch r.ReturnCode {
	case ReturnPaid:
		return ResponseCheck{Valid: true, Paid: true}
	case ReturnProcessing:
		return ResponseCheck{Valid: true, Processing: r.IsProcessing}
	}
	msg := r.ReturnMessage
	if msg == "" {
		msg = "Invalid response from ZaloPay"
	}
	return ResponseCheck{Error: msg}
}

// NewAppTransID generates an app_trans_id for this merchant.
func (h *Helper) NewAppTransID(prefix string) string {
	return FormatAppTransID(h.cfg.AppID, prefix, h.Now(), h.RandIntN(1_000_000))
}

func mac(key, data string) []byte {
	m := hmac.New(sha256.New, []byte(key))
	m.Write([]byte(data))
	return m.Sum(nil)
}

func sign(key, data string) string {
	return hex.EncodeToString(mac(key, data))
}
