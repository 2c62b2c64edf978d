package payment

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/linkpulse/linkpulse/internal/domain"
)

// LiqPayName is the provider name used in routes and ledger reasons.
const LiqPayName = "liqpay"

// LiqPayConfig configures the LiqPay provider.
type LiqPayConfig struct {
	PublicKey   string
	PrivateKey  string
	ResultURL   string // where the payer lands after checkout
	ServerURL   string // where LiqPay posts the callback
	CheckoutURL string // default: https://www.liqpay.ua/api/3/checkout
	Sandbox     bool
}

// LiqPay signs a base64 JSON envelope with base64(sha1(key + data + key)).
type LiqPay struct {
	cfg LiqPayConfig
}

// NewLiqPay creates the provider. Both keys are required.
func NewLiqPay(cfg LiqPayConfig) (*LiqPay, error) {
	if cfg.PublicKey == "" || cfg.PrivateKey == "" {
		return nil, fmt.Errorf("%w: liqpay public and private keys are required", domain.ErrConfiguration)
	}
	if cfg.CheckoutURL == "" {
		cfg.CheckoutURL = "https://www.liqpay.ua/api/3/checkout"
	}
	return &LiqPay{cfg: cfg}, nil
}

// Name implements domain.PaymentProvider.
func (l *LiqPay) Name() string { return LiqPayName }

// SignLiqPay returns the signature of a base64 data envelope.
func SignLiqPay(data, privateKey string) string {
	sum := sha1.Sum([]byte(privateKey + data + privateKey))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// VerifyLiqPay checks signature against the still-encoded data envelope.
func VerifyLiqPay(data, signature, privateKey string) bool {
	if data == "" || signature == "" || privateKey == "" {
		return false
	}
	return equalSignature(SignLiqPay(data, privateKey), signature)
}

type liqpayRequest struct {
	Version     int         `json:"version"`
	PublicKey   string      `json:"public_key"`
	Action      string      `json:"action"`
	Amount      json.Number `json:"amount"`
	Currency    string      `json:"currency"`
	Description string      `json:"description"`
	OrderID     string      `json:"order_id"`
	ResultURL   string      `json:"result_url,omitempty"`
	ServerURL   string      `json:"server_url,omitempty"`
	Sandbox     int         `json:"sandbox,omitempty"`
}

// BuildInvoice implements domain.PaymentProvider.
func (l *LiqPay) BuildInvoice(inv domain.Invoice) (domain.Checkout, error) {
	req := liqpayRequest{
		Version:     3,
		PublicKey:   l.cfg.PublicKey,
		Action:      "pay",
		Amount:      json.Number(inv.Amount.String()),
		Currency:    strings.ToUpper(inv.Currency),
		Description: inv.Description,
		OrderID:     inv.OrderID,
		ResultURL:   l.cfg.ResultURL,
		ServerURL:   l.cfg.ServerURL,
	}
	if l.cfg.Sandbox {
		req.Sandbox = 1
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return domain.Checkout{}, fmt.Errorf("encode liqpay request: %w", err)
	}

	data := base64.StdEncoding.EncodeToString(raw)
	sig := SignLiqPay(data, l.cfg.PrivateKey)
	q := url.Values{}
	q.Set("data", data)
	q.Set("signature", sig)

	return domain.Checkout{
		OrderID:     inv.OrderID,
		Payload:     data,
		Signature:   sig,
		CheckoutURL: l.cfg.CheckoutURL + "?" + q.Encode(),
	}, nil
}

// VerifyCallback implements domain.PaymentProvider. The callback is a form
// with "data" and "signature"; data is not decoded here.
func (l *LiqPay) VerifyCallback(req domain.CallbackRequest) (domain.VerifiedCallback, error) {
	form, err := url.ParseQuery(string(req.Body))
	if err != nil {
		return domain.VerifiedCallback{}, domain.ErrAuthentication
	}
	data := form.Get("data")
	if !VerifyLiqPay(data, form.Get("signature"), l.cfg.PrivateKey) {
		return domain.VerifiedCallback{}, domain.ErrAuthentication
	}
	return domain.VerifiedCallback{Provider: LiqPayName, Payload: []byte(data)}, nil
}

type liqpayCallback struct {
	OrderID  string      `json:"order_id"`
	Status   string      `json:"status"`
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
}

// ExtractSettlement implements domain.PaymentProvider.
func (l *LiqPay) ExtractSettlement(cb domain.VerifiedCallback) (domain.Notification, error) {
	raw, err := base64.StdEncoding.DecodeString(string(cb.Payload))
	if err != nil {
		return domain.Notification{}, fmt.Errorf("%w: data is not base64", domain.ErrMalformedNotification)
	}
	var body liqpayCallback
	if err := json.Unmarshal(raw, &body); err != nil {
		return domain.Notification{}, fmt.Errorf("%w: %v", domain.ErrMalformedNotification, err)
	}
	if body.OrderID == "" || body.Status == "" || body.Currency == "" {
		return domain.Notification{}, fmt.Errorf("%w: missing order_id, status or currency", domain.ErrMalformedNotification)
	}
	amount, err := decimal.NewFromString(body.Amount.String())
	if err != nil {
		return domain.Notification{}, fmt.Errorf("%w: bad amount %q", domain.ErrMalformedNotification, body.Amount)
	}

	return domain.Notification{
		Provider:  LiqPayName,
		OrderID:   body.OrderID,
		Amount:    amount,
		Currency:  strings.ToUpper(body.Currency),
		Status:    liqpayStatus(body.Status),
		RawStatus: body.Status,
	}, nil
}

// liqpayStatus maps LiqPay statuses. Sandbox payments count as success so
// test mode exercises the whole flow.
func liqpayStatus(s string) domain.PaymentStatus {
	switch strings.ToLower(s) {
	case "success", "sandbox":
		return domain.PaymentSuccess
	case "failure", "error", "reversed":
		return domain.PaymentFailed
	default:
		return domain.PaymentPending
	}
}

// Acknowledge implements domain.PaymentProvider. LiqPay only needs a 200.
func (l *LiqPay) Acknowledge(domain.Notification, time.Time) domain.Acknowledgement {
	return domain.Acknowledgement{
		ContentType: "application/json",
		Body:        []byte(`{"status":"ok"}`),
	}
}
