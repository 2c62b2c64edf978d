// Package billing turns verified payment notifications into ledger credits
// and issues invoices.
//
// Settlement is provider-agnostic: each gateway only has to authenticate its
// callback and reduce it to a domain.Notification. The order store makes
// the credit idempotent per order id.
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/linkpulse/linkpulse/internal/domain"
	"github.com/linkpulse/linkpulse/internal/infra/observability"
)

// Providers resolves a payment provider by name.
type Providers interface {
	Get(name string) (domain.PaymentProvider, error)
}

// Service is the payment settlement service.
type Service struct {
	ledger    domain.LedgerStore
	orders    domain.OrderStore
	prices    *domain.PriceTable
	providers Providers
	log       *logrus.Entry
	now       func() time.Time
}

// New creates a billing service.
func New(ledger domain.LedgerStore, orders domain.OrderStore, prices *domain.PriceTable, providers Providers, log logrus.FieldLogger) *Service {
	return &Service{
		ledger:    ledger,
		orders:    orders,
		prices:    prices,
		providers: providers,
		log:       observability.Component(log, "billing"),
		now:       time.Now,
	}
}

// SetClock overrides the clock used for invoices and acknowledgements.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SettleResult reports what one settlement attempt did.
type SettleResult struct {
	OrderID    string               `json:"order_id"`
	Subscriber string               `json:"subscriber_id"`
	Outcome    domain.SettleOutcome `json:"outcome"`
	Status     domain.PaymentStatus `json:"status"`
	Credits    int64                `json:"credits"`
	Balance    int64                `json:"balance"`
}

// ─── Settlement ─────────────────────────────────────────────────────────────

// Settle applies an authenticated notification. A success credits the
// mapped amount exactly once per order; a repeat reports
// OutcomeAlreadyProcessed. Failed and pending statuses never touch the
// ledger. An amount missing from the price table is ErrUnmappedAmount.
func (s *Service) Settle(ctx context.Context, n domain.Notification) (SettleResult, error) {
	if n.OrderID == "" {
		return SettleResult{}, fmt.Errorf("%w: missing order id", domain.ErrMalformedNotification)
	}

	subscriber, stored, err := s.resolveSubscriber(n.OrderID)
	if err != nil {
		return SettleResult{}, err
	}
	res := SettleResult{OrderID: n.OrderID, Subscriber: subscriber, Status: n.Status}
	log := s.log.WithFields(logrus.Fields{
		"provider": n.Provider,
		"order":    n.OrderID,
		"status":   n.RawStatus,
	})

	switch n.Status {
	case domain.PaymentSuccess:
		if stored != nil && stored.Status == domain.OrderSettled {
			res.Outcome = domain.OutcomeAlreadyProcessed
			break
		}
		credits, err := s.prices.Credits(n.Amount, n.Currency)
		if err != nil {
			observability.CallbackRejections.WithLabelValues(n.Provider, "unmapped_amount").Inc()
			log.WithField("amount", n.Amount.String()+" "+n.Currency).Error("paid amount has no credit mapping")
			return res, err
		}
		outcome, err := s.orders.SettleOrder(n, subscriber, credits)
		if err != nil {
			return res, fmt.Errorf("settle order %s: %w", n.OrderID, err)
		}
		res.Outcome = outcome
		if outcome == domain.OutcomeSettled {
			res.Credits = credits
			observability.CreditsIssued.WithLabelValues(n.Provider).Add(float64(credits))
		}

	case domain.PaymentFailed, domain.PaymentPending:
		status, err := s.orders.RecordAttempt(n, subscriber)
		if err != nil {
			return res, fmt.Errorf("record attempt %s: %w", n.OrderID, err)
		}
		switch {
		case status == domain.OrderSettled:
			res.Outcome = domain.OutcomeAlreadyProcessed
		case n.Status == domain.PaymentFailed:
			res.Outcome = domain.OutcomeDeclined
		default:
			res.Outcome = domain.OutcomePending
		}

	default:
		return res, fmt.Errorf("%w: unknown status %q", domain.ErrMalformedNotification, n.Status)
	}

	observability.SettlementsTotal.WithLabelValues(n.Provider, string(res.Outcome)).Inc()
	log.WithFields(logrus.Fields{
		"subscriber": subscriber,
		"outcome":    res.Outcome,
		"credits":    res.Credits,
	}).Info("settlement processed")

	if bal, err := s.ledger.Balance(subscriber); err == nil {
		res.Balance = bal
	}
	return res, nil
}

// resolveSubscriber prefers the stored order and falls back to the
// "<subscriber>-<suffix>" shape of the order id.
func (s *Service) resolveSubscriber(orderID string) (string, *domain.Order, error) {
	o, err := s.orders.GetOrder(orderID)
	if err == nil {
		return o.Subscriber, o, nil
	}
	if !errors.Is(err, domain.ErrOrderNotFound) {
		return "", nil, fmt.Errorf("lookup order %s: %w", orderID, err)
	}
	sub, ok := domain.SubscriberFromOrderID(orderID)
	if !ok {
		return "", nil, fmt.Errorf("%w: order id %q names no subscriber", domain.ErrMalformedNotification, orderID)
	}
	return sub, nil, nil
}

// HandleCallback authenticates a raw provider callback, settles it and
// returns the provider-facing acknowledgement. Authentication failures are
// returned as-is so the caller can answer without detail.
func (s *Service) HandleCallback(ctx context.Context, provider string, req domain.CallbackRequest) (domain.Acknowledgement, SettleResult, error) {
	p, err := s.providers.Get(provider)
	if err != nil {
		return domain.Acknowledgement{}, SettleResult{}, err
	}

	cb, err := p.VerifyCallback(req)
	if err != nil {
		reason := "signature"
		if errors.Is(err, domain.ErrUnverifiable) {
			reason = "unverifiable"
		}
		observability.CallbackRejections.WithLabelValues(provider, reason).Inc()
		s.log.WithField("provider", provider).Warn("callback rejected: " + reason)
		return domain.Acknowledgement{}, SettleResult{}, err
	}

	n, err := p.ExtractSettlement(cb)
	if err != nil {
		observability.CallbackRejections.WithLabelValues(provider, "malformed").Inc()
		s.log.WithField("provider", provider).WithError(err).Warn("callback payload rejected")
		return domain.Acknowledgement{}, SettleResult{}, err
	}

	res, err := s.Settle(ctx, n)
	if err != nil {
		return domain.Acknowledgement{}, res, err
	}
	return p.Acknowledge(n, s.now()), res, nil
}

// Reconcile settles a payment confirmed outside any callback, such as a
// transfer to a static payment link. It runs through the same idempotent
// path as a verified success callback.
func (s *Service) Reconcile(ctx context.Context, provider, orderID string, amount decimal.Decimal, currency string) (SettleResult, error) {
	if _, err := s.providers.Get(provider); err != nil {
		return SettleResult{}, err
	}
	return s.Settle(ctx, domain.Notification{
		Provider:  provider,
		OrderID:   orderID,
		Amount:    amount,
		Currency:  strings.ToUpper(currency),
		Status:    domain.PaymentSuccess,
		RawStatus: "reconciled",
	})
}

// ─── Invoices ───────────────────────────────────────────────────────────────

// InvoiceRequest asks for a checkout with one provider.
type InvoiceRequest struct {
	Provider    string          `json:"provider"`
	Subscriber  string          `json:"subscriber_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
}

// CreateInvoice issues a fresh order id, stores a pending order and returns
// the provider checkout. Only amounts in the price table are accepted.
func (s *Service) CreateInvoice(ctx context.Context, req InvoiceRequest) (domain.Checkout, error) {
	if req.Subscriber == "" {
		return domain.Checkout{}, fmt.Errorf("%w: empty subscriber", domain.ErrAccountNotFound)
	}
	req.Currency = strings.ToUpper(req.Currency)
	if !req.Amount.IsPositive() {
		return domain.Checkout{}, domain.ErrInvalidAmount
	}
	if _, err := s.prices.Credits(req.Amount, req.Currency); err != nil {
		return domain.Checkout{}, err
	}
	p, err := s.providers.Get(req.Provider)
	if err != nil {
		return domain.Checkout{}, err
	}

	now := s.now().UTC()
	inv := domain.Invoice{
		OrderID:     NewOrderID(req.Subscriber),
		Subscriber:  req.Subscriber,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
		CreatedAt:   now,
	}
	checkout, err := p.BuildInvoice(inv)
	if err != nil {
		return domain.Checkout{}, fmt.Errorf("build %s invoice: %w", p.Name(), err)
	}

	if _, err := s.ledger.EnsureAccount(req.Subscriber); err != nil {
		return domain.Checkout{}, fmt.Errorf("ensure account: %w", err)
	}
	if err := s.orders.InsertOrder(domain.Order{
		ID:         inv.OrderID,
		Subscriber: inv.Subscriber,
		Provider:   p.Name(),
		Amount:     inv.Amount,
		Currency:   inv.Currency,
		Status:     domain.OrderPending,
		CreatedAt:  now,
	}); err != nil {
		return domain.Checkout{}, fmt.Errorf("store order: %w", err)
	}

	observability.InvoicesCreated.WithLabelValues(p.Name()).Inc()
	s.log.WithFields(logrus.Fields{
		"provider":   p.Name(),
		"order":      inv.OrderID,
		"subscriber": inv.Subscriber,
	}).Info("invoice created")
	return checkout, nil
}

// NewOrderID returns "<subscriber>-<12 hex chars>".
func NewOrderID(subscriber string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return subscriber + "-" + id[:12]
}
