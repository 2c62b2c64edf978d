package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

// ─── Price Table Tests ──────────────────────────────────────────────────────

func defaultTiers() []PriceTier {
	return []PriceTier{
		{Currency: "UAH", Amount: decimal.NewFromInt(99), Credits: 110},
		{Currency: "uah", Amount: decimal.NewFromInt(49), Credits: 50},
		{Currency: "USD", Amount: decimal.RequireFromString("1.99"), Credits: 60},
	}
}

func TestPriceTable_Credits(t *testing.T) {
	table, err := NewPriceTable(defaultTiers())
	if err != nil {
		t.Fatalf("NewPriceTable() error: %v", err)
	}

	tests := []struct {
		name     string
		amount   string
		currency string
		want     int64
	}{
		{"exact tier", "49", "UAH", 50},
		{"trailing zeros", "49.00", "UAH", 50},
		{"lowercase currency", "99", "uah", 110},
		{"fractional amount", "1.99", "USD", 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := table.Credits(decimal.RequireFromString(tt.amount), tt.currency)
			if err != nil {
				t.Fatalf("Credits() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Credits(%s %s) = %d, want %d", tt.amount, tt.currency, got, tt.want)
			}
		})
	}
}

func TestPriceTable_Unmapped(t *testing.T) {
	table, _ := NewPriceTable(defaultTiers())

	for _, amount := range []string{"50", "0", "48.99"} {
		_, err := table.Credits(decimal.RequireFromString(amount), "UAH")
		if !errors.Is(err, ErrUnmappedAmount) {
			t.Errorf("Credits(%s) error = %v, want ErrUnmappedAmount", amount, err)
		}
		if !errors.Is(err, ErrConfiguration) {
			t.Errorf("Credits(%s) should be a configuration error", amount)
		}
	}

	if _, err := table.Credits(decimal.NewFromInt(49), "EUR"); !errors.Is(err, ErrUnmappedAmount) {
		t.Errorf("unknown currency error = %v, want ErrUnmappedAmount", err)
	}
}

func TestNewPriceTable_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		tiers []PriceTier
	}{
		{"empty", nil},
		{"not monotonic", []PriceTier{
			{Currency: "UAH", Amount: decimal.NewFromInt(49), Credits: 50},
			{Currency: "UAH", Amount: decimal.NewFromInt(99), Credits: 50},
		}},
		{"duplicate amount", []PriceTier{
			{Currency: "UAH", Amount: decimal.NewFromInt(49), Credits: 50},
			{Currency: "UAH", Amount: decimal.RequireFromString("49.0"), Credits: 60},
		}},
		{"zero credits", []PriceTier{
			{Currency: "UAH", Amount: decimal.NewFromInt(49), Credits: 0},
		}},
		{"missing currency", []PriceTier{
			{Amount: decimal.NewFromInt(49), Credits: 50},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPriceTable(tt.tiers); !errors.Is(err, ErrConfiguration) {
				t.Errorf("NewPriceTable() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

// ─── Reason Tags ────────────────────────────────────────────────────────────

func TestReasonTags(t *testing.T) {
	if got := TopupReason("liqpay", "U1-abc123"); got != "topup:liqpay:U1-abc123" {
		t.Errorf("TopupReason() = %q", got)
	}
	if got := DebitReason("backlink_check"); got != "debit:backlink_check" {
		t.Errorf("DebitReason() = %q", got)
	}
	if got := RefundReason("backlink_check"); got != "refund:backlink_check" {
		t.Errorf("RefundReason() = %q", got)
	}
}

// ─── Order Tests ────────────────────────────────────────────────────────────

func TestSubscriberFromOrderID(t *testing.T) {
	tests := []struct {
		id     string
		want   string
		wantOK bool
	}{
		{"U1-abc123", "U1", true},
		{"123456789-9f1c2e4a7b3d", "123456789", true},
		{"user-with-dash-abc", "user-with-dash", true},
		{"nodash", "", false},
		{"-abc", "", false},
		{"U1-", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, ok := SubscriberFromOrderID(tt.id)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("SubscriberFromOrderID(%q) = (%q, %v), want (%q, %v)", tt.id, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

// ─── Watch Tests ────────────────────────────────────────────────────────────

func TestParseFrequency(t *testing.T) {
	if f, err := ParseFrequency(" Weekly "); err != nil || f != FrequencyWeekly {
		t.Errorf("ParseFrequency(Weekly) = (%q, %v)", f, err)
	}
	if f, err := ParseFrequency("daily"); err != nil || f != FrequencyDaily {
		t.Errorf("ParseFrequency(daily) = (%q, %v)", f, err)
	}
	if _, err := ParseFrequency("hourly"); !errors.Is(err, ErrInvalidFrequency) {
		t.Errorf("ParseFrequency(hourly) error = %v, want ErrInvalidFrequency", err)
	}
}

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"example.com", "example.com"},
		{"Example.COM", "example.com"},
		{"https://www.example.com/some/path?q=1", "example.com"},
		{"http://shop.example.com:8080", "shop.example.com"},
		{"www.example.com/", "example.com"},
		{"example.com.", "example.com"},
		{"xn--80ak6aa92e.com", "xn--80ak6aa92e.com"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := NormalizeDomain(tt.input)
			if err != nil {
				t.Fatalf("NormalizeDomain(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeDomain(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeDomain_Invalid(t *testing.T) {
	for _, input := range []string{"", "localhost", "exa mple.com", "-bad.com", "a..com", "bad_.com"} {
		if _, err := NormalizeDomain(input); !errors.Is(err, ErrInvalidDomain) {
			t.Errorf("NormalizeDomain(%q) error = %v, want ErrInvalidDomain", input, err)
		}
	}
}

func TestInsertResult_String(t *testing.T) {
	if Inserted.String() != "inserted" || AlreadyExists.String() != "already_exists" {
		t.Errorf("InsertResult strings = %q, %q", Inserted, AlreadyExists)
	}
	if InsertResult(9).String() != "unknown" {
		t.Error("out-of-range InsertResult should be unknown")
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+380 (67) 123-45-67", "+380671234567"},
		{" 0671234567 ", "0671234567"},
		{"+1234567", "+1234567"},
	}
	for _, tt := range tests {
		got, err := NormalizePhone(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("NormalizePhone(%q) = (%q, %v), want %q", tt.in, got, err, tt.want)
		}
	}

	for _, input := range []string{"", "123456", "+38067+1234567", "call me", "1234567890123456"} {
		if _, err := NormalizePhone(input); !errors.Is(err, ErrInvalidPhone) {
			t.Errorf("NormalizePhone(%q) error = %v, want ErrInvalidPhone", input, err)
		}
	}
}
