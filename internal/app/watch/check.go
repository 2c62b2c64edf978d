package watch

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/linkpulse/linkpulse/internal/domain"
	"github.com/linkpulse/linkpulse/internal/infra/observability"
)

// checkScope names on-demand checks in ledger reasons.
const checkScope = "backlink_check"

// Checker runs a paid, on-demand scan for a subscriber.
type Checker struct {
	ledger  domain.LedgerStore
	scanner *Scanner
	cost    int64
	log     *logrus.Entry
}

// NewChecker creates a checker that charges cost credits per check.
// A cost of zero makes checks free.
func NewChecker(ledger domain.LedgerStore, scanner *Scanner, cost int64, log logrus.FieldLogger) *Checker {
	return &Checker{
		ledger:  ledger,
		scanner: scanner,
		cost:    cost,
		log:     observability.Component(log, "checker"),
	}
}

// CheckResult is the outcome of one on-demand check.
type CheckResult struct {
	Domain   string           `json:"domain"`
	NewLinks []domain.NewLink `json:"new_links"`
	Recorded int64            `json:"recorded"`
	Charged  int64            `json:"charged"`
	Balance  int64            `json:"balance"`
}

// Check debits the cost, previews the domain and refunds the cost when the
// SEO provider was unavailable. ErrInsufficientFunds is returned without any
// fetch when the balance does not cover the cost. Snapshots are left
// untouched, so watchers of the domain are still notified on their next run.
func (c *Checker) Check(ctx context.Context, subscriber, rawDomain string) (CheckResult, error) {
	name, err := domain.NormalizeDomain(rawDomain)
	if err != nil {
		return CheckResult{}, err
	}
	if subscriber == "" {
		return CheckResult{}, fmt.Errorf("%w: empty subscriber", domain.ErrAccountNotFound)
	}
	if _, err := c.ledger.EnsureAccount(subscriber); err != nil {
		return CheckResult{}, fmt.Errorf("ensure account: %w", err)
	}

	res := CheckResult{Domain: name}
	log := c.log.WithFields(logrus.Fields{"subscriber": subscriber, "domain": name})

	if c.cost > 0 {
		ok, err := c.ledger.Debit(subscriber, c.cost, domain.DebitReason(checkScope))
		if err != nil {
			return res, fmt.Errorf("debit: %w", err)
		}
		if !ok {
			return res, domain.ErrInsufficientFunds
		}
		res.Charged = c.cost
	}

	links, scanErr := c.scanner.Preview(ctx, name)
	res.NewLinks = links
	if scanErr == nil {
		if n, err := c.scanner.Recorded(name); err == nil {
			res.Recorded = n
		}
	}
	if scanErr != nil && errors.Is(scanErr, domain.ErrCollaboratorUnavailable) && res.Charged > 0 {
		if err := c.ledger.Credit(subscriber, res.Charged, domain.RefundReason(checkScope)); err != nil {
			log.WithError(err).Error("refund failed")
		} else {
			res.Charged = 0
		}
	}

	if bal, err := c.ledger.Balance(subscriber); err == nil {
		res.Balance = bal
	}
	if scanErr != nil {
		return res, scanErr
	}
	log.WithField("new", len(links)).Info("on-demand check complete")
	return res, nil
}
