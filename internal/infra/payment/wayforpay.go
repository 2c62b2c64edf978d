package payment

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/linkpulse/linkpulse/internal/domain"
)

// WayForPayName is the provider name used in routes and ledger reasons.
const WayForPayName = "wayforpay"

// wayforpayCallbackFields is the signing order for service callbacks.
// The order is part of the protocol.
var wayforpayCallbackFields = []string{
	"merchantAccount",
	"orderReference",
	"amount",
	"currency",
	"authCode",
	"cardPan",
	"transactionStatus",
	"reasonCode",
}

// WayForPayConfig configures the WayForPay provider.
type WayForPayConfig struct {
	MerchantAccount string
	SecretKey       string
	Domain          string // merchantDomainName
	ServiceURL      string // where WayForPay posts the callback
	ReturnURL       string
	CheckoutURL     string // default: https://secure.wayforpay.com/pay
}

// WayForPay signs semicolon-joined field lists with HMAC-MD5.
type WayForPay struct {
	cfg WayForPayConfig
}

// NewWayForPay creates the provider. Merchant account, secret and domain
// are required.
func NewWayForPay(cfg WayForPayConfig) (*WayForPay, error) {
	if cfg.MerchantAccount == "" || cfg.SecretKey == "" || cfg.Domain == "" {
		return nil, fmt.Errorf("%w: wayforpay merchant account, secret key and domain are required", domain.ErrConfiguration)
	}
	if cfg.CheckoutURL == "" {
		cfg.CheckoutURL = "https://secure.wayforpay.com/pay"
	}
	return &WayForPay{cfg: cfg}, nil
}

// Name implements domain.PaymentProvider.
func (w *WayForPay) Name() string { return WayForPayName }

// SignWayForPay returns hex(hmac_md5(secret, join(values, ";"))).
func SignWayForPay(secret string, values ...string) string {
	mac := hmac.New(md5.New, []byte(secret))
	mac.Write([]byte(strings.Join(values, ";")))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWayForPay checks a callback body. Every signed field must be
// present; a missing one fails verification.
func VerifyWayForPay(body []byte, secret string) bool {
	if secret == "" {
		return false
	}
	fields, err := decodeFields(body)
	if err != nil {
		return false
	}
	provided, ok := fields["merchantSignature"]
	if !ok || provided == "" {
		return false
	}
	values := make([]string, 0, len(wayforpayCallbackFields))
	for _, name := range wayforpayCallbackFields {
		v, ok := fields[name]
		if !ok {
			return false
		}
		values = append(values, v)
	}
	return equalSignature(SignWayForPay(secret, values...), provided)
}

// BuildInvoice implements domain.PaymentProvider. The payload is the
// form the payer's browser posts to the checkout URL.
func (w *WayForPay) BuildInvoice(inv domain.Invoice) (domain.Checkout, error) {
	amount := inv.Amount.String()
	orderDate := strconv.FormatInt(inv.CreatedAt.Unix(), 10)
	product := inv.Description
	if product == "" {
		product = "Credits"
	}
	currency := strings.ToUpper(inv.Currency)

	sig := SignWayForPay(w.cfg.SecretKey,
		w.cfg.MerchantAccount, w.cfg.Domain, inv.OrderID, orderDate,
		amount, currency, product, "1", amount)

	form := url.Values{}
	form.Set("merchantAccount", w.cfg.MerchantAccount)
	form.Set("merchantAuthType", "SimpleSignature")
	form.Set("merchantDomainName", w.cfg.Domain)
	form.Set("merchantSignature", sig)
	form.Set("orderReference", inv.OrderID)
	form.Set("orderDate", orderDate)
	form.Set("amount", amount)
	form.Set("currency", currency)
	form.Set("productName[]", product)
	form.Set("productCount[]", "1")
	form.Set("productPrice[]", amount)
	if w.cfg.ServiceURL != "" {
		form.Set("serviceUrl", w.cfg.ServiceURL)
	}
	if w.cfg.ReturnURL != "" {
		form.Set("returnUrl", w.cfg.ReturnURL)
	}

	return domain.Checkout{
		OrderID:     inv.OrderID,
		Payload:     form.Encode(),
		Signature:   sig,
		CheckoutURL: w.cfg.CheckoutURL,
	}, nil
}

// VerifyCallback implements domain.PaymentProvider.
func (w *WayForPay) VerifyCallback(req domain.CallbackRequest) (domain.VerifiedCallback, error) {
	if !VerifyWayForPay(req.Body, w.cfg.SecretKey) {
		return domain.VerifiedCallback{}, domain.ErrAuthentication
	}
	return domain.VerifiedCallback{Provider: WayForPayName, Payload: req.Body}, nil
}

// ExtractSettlement implements domain.PaymentProvider.
func (w *WayForPay) ExtractSettlement(cb domain.VerifiedCallback) (domain.Notification, error) {
	fields, err := decodeFields(cb.Payload)
	if err != nil {
		return domain.Notification{}, fmt.Errorf("%w: %v", domain.ErrMalformedNotification, err)
	}
	if fields["merchantAccount"] != w.cfg.MerchantAccount {
		return domain.Notification{}, fmt.Errorf("%w: foreign merchant account", domain.ErrAuthentication)
	}
	orderID := fields["orderReference"]
	status := fields["transactionStatus"]
	if orderID == "" || status == "" || fields["currency"] == "" {
		return domain.Notification{}, fmt.Errorf("%w: missing orderReference, transactionStatus or currency", domain.ErrMalformedNotification)
	}
	amount, err := decimal.NewFromString(fields["amount"])
	if err != nil {
		return domain.Notification{}, fmt.Errorf("%w: bad amount %q", domain.ErrMalformedNotification, fields["amount"])
	}

	return domain.Notification{
		Provider:  WayForPayName,
		OrderID:   orderID,
		Amount:    amount,
		Currency:  strings.ToUpper(fields["currency"]),
		Status:    wayforpayStatus(status),
		RawStatus: status,
	}, nil
}

func wayforpayStatus(s string) domain.PaymentStatus {
	switch s {
	case "Approved":
		return domain.PaymentSuccess
	case "Declined", "Expired", "Refunded", "Voided", "RefundInProcessing":
		return domain.PaymentFailed
	default:
		return domain.PaymentPending
	}
}

type wayforpayAck struct {
	OrderReference string `json:"orderReference"`
	Status         string `json:"status"`
	Time           int64  `json:"time"`
	Signature      string `json:"signature"`
}

// Acknowledge implements domain.PaymentProvider. WayForPay keeps retrying
// until it receives a signed "accept".
func (w *WayForPay) Acknowledge(n domain.Notification, now time.Time) domain.Acknowledgement {
	ts := now.Unix()
	ack := wayforpayAck{
		OrderReference: n.OrderID,
		Status:         "accept",
		Time:           ts,
		Signature:      SignWayForPay(w.cfg.SecretKey, n.OrderID, "accept", strconv.FormatInt(ts, 10)),
	}
	body, _ := json.Marshal(ack)
	return domain.Acknowledgement{ContentType: "application/json", Body: body}
}

// decodeFields flattens a callback into field → text. Numbers keep their
// literal form, so "amount": 49.00 signs as "49.00". JSON null counts as
// absent.
func decodeFields(body []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case string:
			out[k] = t
		case json.Number:
			out[k] = t.String()
		case bool:
			out[k] = strconv.FormatBool(t)
		}
	}
	return out, nil
}
