// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of clean architecture; it depends on nothing
// but value types.
package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ─── Orders ─────────────────────────────────────────────────────────────────

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending OrderStatus = "pending"
	OrderSettled OrderStatus = "settled"
	OrderFailed  OrderStatus = "failed"
)

// Order is a top-up request. It moves to settled at most once, and that
// transition is the only way a positive topup entry reaches the ledger.
type Order struct {
	ID         string          `json:"id"`
	Subscriber string          `json:"subscriber"`
	Provider   string          `json:"provider"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Status     OrderStatus     `json:"status"`
	Credits    int64           `json:"credits"`
	LastStatus string          `json:"last_status,omitempty"` // raw provider status
	CreatedAt  time.Time       `json:"created_at"`
	SettledAt  *time.Time      `json:"settled_at,omitempty"`
}

// SubscriberFromOrderID extracts the subscriber from an order id of the form
// "<subscriber>-<suffix>".
func SubscriberFromOrderID(orderID string) (string, bool) {
	i := strings.LastIndex(orderID, "-")
	if i <= 0 || i == len(orderID)-1 {
		return "", false
	}
	return orderID[:i], true
}

// ─── Payment Notifications ──────────────────────────────────────────────────

// PaymentStatus is a provider status reduced to what settlement cares about.
type PaymentStatus string

const (
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
	PaymentPending PaymentStatus = "pending"
)

// Notification is the canonical settlement input extracted from a verified
// provider callback.
type Notification struct {
	Provider  string          `json:"provider"`
	OrderID   string          `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Status    PaymentStatus   `json:"status"`
	RawStatus string          `json:"raw_status"`
}

// Invoice is a request to start a payment.
type Invoice struct {
	OrderID     string          `json:"order_id"`
	Subscriber  string          `json:"subscriber_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Checkout is what a client needs to send the payer to the provider.
type Checkout struct {
	OrderID     string `json:"order_id"`
	Payload     string `json:"payload,omitempty"`
	Signature   string `json:"signature,omitempty"`
	CheckoutURL string `json:"checkout_url"`
}

// ─── Watch Jobs ─────────────────────────────────────────────────────────────

// Frequency controls how often a watch job fires.
type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

// ParseFrequency validates a frequency string.
func ParseFrequency(s string) (Frequency, error) {
	switch f := Frequency(strings.ToLower(strings.TrimSpace(s))); f {
	case FrequencyDaily, FrequencyWeekly:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFrequency, s)
	}
}

// WatchJob subscribes one subscriber to periodic backlink checks on a domain.
// Jobs are never merged across subscribers.
type WatchJob struct {
	ID         int64      `json:"id"`
	Subscriber string     `json:"subscriber"`
	Domain     string     `json:"domain"`
	Frequency  Frequency  `json:"frequency"`
	CreatedAt  time.Time  `json:"created_at"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
}

// NormalizeDomain reduces user input like "https://www.Example.com/path" to
// "example.com".
func NormalizeDomain(raw string) (string, error) {
	s := strings.TrimSpace(strings.ToLower(raw))
	if s == "" {
		return "", ErrInvalidDomain
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidDomain, raw)
		}
		s = u.Host
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, "www.")
	s = strings.TrimSuffix(s, ".")

	if !strings.Contains(s, ".") || len(s) > 253 {
		return "", fmt.Errorf("%w: %q", ErrInvalidDomain, raw)
	}
	for _, label := range strings.Split(s, ".") {
		if label == "" || len(label) > 63 || label[0] == '-' || label[len(label)-1] == '-' {
			return "", fmt.Errorf("%w: %q", ErrInvalidDomain, raw)
		}
		for _, r := range label {
			if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-') {
				return "", fmt.Errorf("%w: %q", ErrInvalidDomain, raw)
			}
		}
	}
	return s, nil
}

// ─── Backlinks ──────────────────────────────────────────────────────────────

// Backlink is one external link record reported by the SEO provider.
type Backlink struct {
	SourceURL string    `json:"source_url"`
	FirstSeen time.Time `json:"first_seen"`
	Anchor    string    `json:"anchor"`
}

// NewLink is a backlink seen for the first time on a scan.
type NewLink struct {
	URL       string    `json:"url"`
	FirstSeen time.Time `json:"first_seen"`
	Anchor    string    `json:"anchor"`
}

// LinkSnapshot records that (domain, source url) has been observed.
type LinkSnapshot struct {
	Domain    string    `json:"domain"`
	SourceURL string    `json:"source_url"`
	FirstSeen time.Time `json:"first_seen"`
}

// InsertResult distinguishes a fresh snapshot from a known one.
type InsertResult int

const (
	Inserted InsertResult = iota
	AlreadyExists
)

// String returns a human-readable insert result.
func (r InsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case AlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}
