package payment

import (
	"fmt"
	"net/url"
	"time"

	"github.com/linkpulse/linkpulse/internal/domain"
)

// MonobankName is the provider name used in routes and ledger reasons.
const MonobankName = "monobank"

// Monobank is a static jar link. It has no callback, so payments made
// through it are reconciled by an operator and settled out of band.
type Monobank struct {
	jarURL string
}

// NewMonobank creates the provider for a jar URL.
func NewMonobank(jarURL string) (*Monobank, error) {
	u, err := url.Parse(jarURL)
	if jarURL == "" || err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: monobank jar url is invalid", domain.ErrConfiguration)
	}
	return &Monobank{jarURL: jarURL}, nil
}

// Name implements domain.PaymentProvider.
func (m *Monobank) Name() string { return MonobankName }

// BuildInvoice prefills the amount and puts the order id in the payment
// comment so the operator can match it.
func (m *Monobank) BuildInvoice(inv domain.Invoice) (domain.Checkout, error) {
	u, _ := url.Parse(m.jarURL)
	q := u.Query()
	q.Set("a", inv.Amount.String())
	q.Set("t", inv.OrderID)
	u.RawQuery = q.Encode()
	return domain.Checkout{OrderID: inv.OrderID, CheckoutURL: u.String()}, nil
}

// VerifyCallback always fails: there is nothing to verify.
func (m *Monobank) VerifyCallback(domain.CallbackRequest) (domain.VerifiedCallback, error) {
	return domain.VerifiedCallback{}, domain.ErrUnverifiable
}

// ExtractSettlement always fails for the same reason.
func (m *Monobank) ExtractSettlement(domain.VerifiedCallback) (domain.Notification, error) {
	return domain.Notification{}, domain.ErrUnverifiable
}

// Acknowledge returns an empty body.
func (m *Monobank) Acknowledge(domain.Notification, time.Time) domain.Acknowledgement {
	return domain.Acknowledgement{}
}
