package domain

import (
	"errors"
	"fmt"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Payment errors
	ErrAuthentication        = errors.New("payment notification failed authentication")
	ErrUnverifiable          = errors.New("provider has no verifiable callback")
	ErrUnknownProvider       = errors.New("unknown payment provider")
	ErrOrderNotFound         = errors.New("order not found")
	ErrOrderMismatch         = errors.New("notification does not match stored order")
	ErrMalformedNotification = errors.New("malformed payment notification")

	// Configuration errors
	ErrConfiguration  = errors.New("configuration error")
	ErrUnmappedAmount = fmt.Errorf("%w: amount has no credit mapping", ErrConfiguration)

	// Ledger errors
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNegativeBalance   = errors.New("adjustment would make balance negative")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidPhone      = errors.New("phone must be 7 to 15 digits with an optional leading +")

	// Watch errors
	ErrInvalidDomain    = errors.New("invalid domain")
	ErrInvalidFrequency = errors.New("frequency must be daily or weekly")

	// Collaborator errors (SEO provider, payment gateway, notifier)
	ErrCollaboratorUnavailable = errors.New("external service unavailable")
)
