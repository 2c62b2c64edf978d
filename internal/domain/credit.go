package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ─── Credit Types ───────────────────────────────────────────────────────────
// These live in domain because they represent core business rules.
// Balances only move through the ledger store; every move appends one entry.

// Ledger reason tags. Topup and debit reasons carry a suffix.
const (
	ReasonInitialBonus = "initial_bonus"
	ReasonAdminAdjust  = "admin_adjust"
)

// TopupReason is the ledger reason for a settled order.
func TopupReason(provider, orderID string) string {
	return fmt.Sprintf("topup:%s:%s", provider, orderID)
}

// DebitReason is the ledger reason for spending credits on a scope.
func DebitReason(scope string) string {
	return "debit:" + scope
}

// RefundReason is the ledger reason for returning a debit on a scope.
func RefundReason(scope string) string {
	return "refund:" + scope
}

// Account is a subscriber's credit balance.
type Account struct {
	ID        string    `json:"id"`
	Balance   int64     `json:"balance"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizePhone strips spaces, dashes and parentheses and checks the result
// is an E.164-style number.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
		}
	}
	s := b.String()
	digits := len(strings.TrimPrefix(s, "+"))
	if digits < 7 || digits > 15 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
	}
	return s, nil
}

// LedgerEntry is an immutable audit row. The account balance always equals
// the sum of its entries' deltas.
type LedgerEntry struct {
	ID        int64     `json:"id"`
	Account   string    `json:"account"`
	Delta     int64     `json:"delta"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// ─── Price Table ────────────────────────────────────────────────────────────

// PriceTier maps an exact paid amount in a currency to credits.
type PriceTier struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
	Credits  int64           `json:"credits"`
}

// PriceTable is the provider-agnostic amount → credits mapping.
// Amounts outside the table are not credited.
type PriceTable struct {
	tiers []PriceTier
}

// NewPriceTable builds a table and checks that, per currency, credits grow
// strictly with the amount.
func NewPriceTable(tiers []PriceTier) (*PriceTable, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("%w: empty price table", ErrConfiguration)
	}

	sorted := make([]PriceTier, len(tiers))
	copy(sorted, tiers)
	for i := range sorted {
		sorted[i].Currency = strings.ToUpper(strings.TrimSpace(sorted[i].Currency))
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Currency != sorted[j].Currency {
			return sorted[i].Currency < sorted[j].Currency
		}
		return sorted[i].Amount.LessThan(sorted[j].Amount)
	})

	for i, t := range sorted {
		if t.Currency == "" {
			return nil, fmt.Errorf("%w: price tier %d has no currency", ErrConfiguration, i)
		}
		if !t.Amount.IsPositive() || t.Credits <= 0 {
			return nil, fmt.Errorf("%w: price tier %s %s must be positive", ErrConfiguration, t.Amount, t.Currency)
		}
		if i == 0 || sorted[i-1].Currency != t.Currency {
			continue
		}
		prev := sorted[i-1]
		if prev.Amount.Equal(t.Amount) {
			return nil, fmt.Errorf("%w: duplicate price tier %s %s", ErrConfiguration, t.Amount, t.Currency)
		}
		if t.Credits <= prev.Credits {
			return nil, fmt.Errorf("%w: price table not monotonic at %s %s", ErrConfiguration, t.Amount, t.Currency)
		}
	}
	return &PriceTable{tiers: sorted}, nil
}

// Credits returns the credits bought by amount in currency.
// Unmapped amounts return ErrUnmappedAmount.
func (p *PriceTable) Credits(amount decimal.Decimal, currency string) (int64, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	for _, t := range p.tiers {
		if t.Currency == currency && t.Amount.Equal(amount) {
			return t.Credits, nil
		}
	}
	return 0, fmt.Errorf("%w: %s %s", ErrUnmappedAmount, amount.String(), currency)
}

// Tiers returns the table in currency, amount order.
func (p *PriceTable) Tiers() []PriceTier {
	out := make([]PriceTier, len(p.tiers))
	copy(out, p.tiers)
	return out
}
