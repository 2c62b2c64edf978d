package domain

import (
	"context"
	"time"
)

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// LedgerStore owns balances and the append-only entry log. Every mutation
// changes the balance and appends exactly one entry in one transaction.
type LedgerStore interface {
	EnsureAccount(id string) (created bool, err error)
	GetAccount(id string) (*Account, error)
	SetPhone(id, phone string) error
	Balance(id string) (int64, error)
	Credit(id string, amount int64, reason string) error
	// Debit returns false, and changes nothing, when balance < amount.
	Debit(id string, amount int64, reason string) (bool, error)
	Adjust(id string, delta int64, reason string) error
	Entries(id string, limit int) ([]LedgerEntry, error)
}

// SettleOutcome is the terminal result of one settlement attempt.
type SettleOutcome string

const (
	OutcomeSettled          SettleOutcome = "settled"
	OutcomeAlreadyProcessed SettleOutcome = "already_processed"
	OutcomeDeclined         SettleOutcome = "declined"
	OutcomePending          SettleOutcome = "pending"
)

// OrderStore is the durable processed-order set.
type OrderStore interface {
	InsertOrder(o Order) error
	GetOrder(id string) (*Order, error)
	ListOrders(subscriber string) ([]Order, error)
	// SettleOrder marks the order settled and credits the subscriber in one
	// transaction. Returns OutcomeAlreadyProcessed if it was settled before.
	SettleOrder(n Notification, subscriber string, credits int64) (SettleOutcome, error)
	// RecordAttempt stores a non-success status without touching the ledger.
	// A settled order is left as is.
	RecordAttempt(n Notification, subscriber string) (OrderStatus, error)
}

// WatchStore is the watch registry.
type WatchStore interface {
	AddWatch(subscriber, domain string, freq Frequency) (int64, error)
	// ListWatches returns every job when subscriber is empty.
	ListWatches(subscriber string) ([]WatchJob, error)
	MarkWatchRun(id int64, at time.Time) error
}

// SnapshotStore is the durable set of observed (domain, source url) pairs.
type SnapshotStore interface {
	InsertSnapshot(s LinkSnapshot) (InsertResult, error)
	HasSnapshot(domain, sourceURL string) (bool, error)
	SnapshotCount(domain string) (int64, error)
}

// ─── Collaborators ──────────────────────────────────────────────────────────

// BacklinkSource fetches the current external links of a domain.
type BacklinkSource interface {
	Backlinks(ctx context.Context, domain string) ([]Backlink, error)
}

// Notifier delivers a text message to a subscriber.
type Notifier interface {
	Send(ctx context.Context, subscriber, text string) error
}

// CallbackRequest is an inbound provider notification as received.
type CallbackRequest struct {
	ContentType string
	Body        []byte
}

// VerifiedCallback is a callback whose signature checked out. Payload is
// still in the provider's encoding.
type VerifiedCallback struct {
	Provider string
	Payload  []byte
}

// Acknowledgement is the provider-facing response body.
type Acknowledgement struct {
	ContentType string
	Body        []byte
}

// PaymentProvider is one payment gateway.
type PaymentProvider interface {
	Name() string
	BuildInvoice(inv Invoice) (Checkout, error)
	// VerifyCallback authenticates the raw callback before anything decodes
	// it. Returns ErrAuthentication or ErrUnverifiable.
	VerifyCallback(req CallbackRequest) (VerifiedCallback, error)
	ExtractSettlement(cb VerifiedCallback) (Notification, error)
	Acknowledge(n Notification, now time.Time) Acknowledgement
}
