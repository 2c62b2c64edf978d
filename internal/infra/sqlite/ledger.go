// Ledger schema and operations.
// Accounts, the append-only ledger, and the processed-order set. Every
// balance change and its entry are written in the same transaction.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/linkpulse/linkpulse/internal/domain"
)

// ─── Ledger Schema ──────────────────────────────────────────────────────────

// LedgerMigrations returns the ledger schema migration statements.
// Each string is a single SQL statement (SQLite executes one at a time).
func LedgerMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id         TEXT PRIMARY KEY,
			balance    INTEGER NOT NULL DEFAULT 0,
			phone      TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			account    TEXT NOT NULL REFERENCES accounts(id),
			delta      INTEGER NOT NULL,
			reason     TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_account ON ledger_entries(account, id)`,

		// Processed-order set. The primary key is the idempotency guard.
		`CREATE TABLE IF NOT EXISTS orders (
			id          TEXT PRIMARY KEY,
			subscriber  TEXT NOT NULL,
			provider    TEXT NOT NULL,
			amount      TEXT NOT NULL,
			currency    TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'pending'
			            CHECK(status IN ('pending', 'settled', 'failed')),
			credits     INTEGER NOT NULL DEFAULT 0,
			last_status TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL,
			settled_at  TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_subscriber ON orders(subscriber)`,
	}
}

// ─── Account Operations ─────────────────────────────────────────────────────

// EnsureAccount creates the account if it does not exist. Creation is
// idempotent; the initial bonus is granted only by the call that creates it.
func (db *DB) EnsureAccount(id string) (bool, error) {
	var created bool
	err := db.withTx(func(tx *sql.Tx) error {
		var err error
		created, err = db.ensureAccountTx(tx, id)
		return err
	})
	return created, err
}

// SetPhone stores a verified contact number on an existing account.
func (db *DB) SetPhone(id, phone string) error {
	res, err := db.db.Exec(`UPDATE accounts SET phone = ? WHERE id = ?`, phone, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// GetAccount returns an account.
func (db *DB) GetAccount(id string) (*domain.Account, error) {
	var a domain.Account
	var created string
	err := db.db.QueryRow(`
		SELECT id, balance, phone, created_at FROM accounts WHERE id = ?
	`, id).Scan(&a.ID, &a.Balance, &a.Phone, &created)
	if err == sql.ErrNoRows {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	a.CreatedAt = parseTime(created)
	return &a, nil
}

// Balance returns an account's balance.
func (db *DB) Balance(id string) (int64, error) {
	var balance int64
	err := db.db.QueryRow(`SELECT balance FROM accounts WHERE id = ?`, id).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, domain.ErrAccountNotFound
	}
	return balance, err
}

// Credit adds a positive amount, creating the account if needed.
func (db *DB) Credit(id string, amount int64, reason string) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	return db.withTx(func(tx *sql.Tx) error {
		if _, err := db.ensureAccountTx(tx, id); err != nil {
			return err
		}
		return db.applyTx(tx, id, amount, reason)
	})
}

// Debit subtracts amount if the balance covers it. Insufficient funds is a
// normal outcome: it returns false and writes nothing.
func (db *DB) Debit(id string, amount int64, reason string) (bool, error) {
	if amount <= 0 {
		return false, domain.ErrInvalidAmount
	}

	var ok bool
	err := db.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE accounts SET balance = balance - ? WHERE id = ? AND balance >= ?
		`, amount, id, amount)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var exists int
			err := tx.QueryRow(`SELECT COUNT(*) FROM accounts WHERE id = ?`, id).Scan(&exists)
			if err != nil {
				return err
			}
			if exists == 0 {
				return domain.ErrAccountNotFound
			}
			return nil
		}
		ok = true
		return db.insertEntryTx(tx, id, -amount, reason)
	})
	return ok, err
}

// Adjust applies an admin delta. Unless the policy allows it, the result
// may not be negative.
func (db *DB) Adjust(id string, delta int64, reason string) error {
	if delta == 0 {
		return domain.ErrInvalidAmount
	}
	if reason == "" {
		reason = domain.ReasonAdminAdjust
	}
	return db.withTx(func(tx *sql.Tx) error {
		if _, err := db.ensureAccountTx(tx, id); err != nil {
			return err
		}
		var balance int64
		if err := tx.QueryRow(`SELECT balance FROM accounts WHERE id = ?`, id).Scan(&balance); err != nil {
			return err
		}
		if balance+delta < 0 && !db.policy.AllowNegativeAdjust {
			return fmt.Errorf("%w: balance %d, delta %d", domain.ErrNegativeBalance, balance, delta)
		}
		return db.applyTx(tx, id, delta, reason)
	})
}

// Entries returns the most recent ledger entries for an account, newest first.
// limit <= 0 returns all entries.
func (db *DB) Entries(id string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.db.Query(`
		SELECT id, account, delta, reason, created_at
		FROM ledger_entries WHERE account = ?
		ORDER BY id DESC LIMIT ?
	`, id, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var created string
		if err := rows.Scan(&e.ID, &e.Account, &e.Delta, &e.Reason, &created); err != nil {
			return nil, err
		}
		e.Timestamp = parseTime(created)
		result = append(result, e)
	}
	return result, rows.Err()
}

// LedgerMismatch is an account whose balance disagrees with its entries.
type LedgerMismatch struct {
	Account    string `json:"account"`
	Balance    int64  `json:"balance"`
	EntriesSum int64  `json:"entries_sum"`
}

// VerifyLedger returns every account where balance != sum(entries.delta).
// An empty result means the ledger is consistent.
func (db *DB) VerifyLedger() ([]LedgerMismatch, error) {
	rows, err := db.db.Query(`
		SELECT a.id, a.balance, COALESCE(SUM(e.delta), 0) AS total
		FROM accounts a LEFT JOIN ledger_entries e ON e.account = a.id
		GROUP BY a.id, a.balance
		HAVING a.balance != COALESCE(SUM(e.delta), 0)
		ORDER BY a.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []LedgerMismatch
	for rows.Next() {
		var m LedgerMismatch
		if err := rows.Scan(&m.Account, &m.Balance, &m.EntriesSum); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// ─── Order Operations ───────────────────────────────────────────────────────

// InsertOrder records a freshly issued invoice as a pending order.
func (db *DB) InsertOrder(o domain.Order) error {
	created := o.CreatedAt
	if created.IsZero() {
		created = db.now()
	}
	_, err := db.db.Exec(`
		INSERT INTO orders (id, subscriber, provider, amount, currency, status, created_at)
		VALUES (?, ?, ?, ?, ?, 'pending', ?)
	`, o.ID, o.Subscriber, o.Provider, o.Amount.String(), o.Currency, formatTime(created))
	return err
}

// GetOrder returns an order by id.
func (db *DB) GetOrder(id string) (*domain.Order, error) {
	row := db.db.QueryRow(`
		SELECT id, subscriber, provider, amount, currency, status, credits, last_status, created_at, settled_at
		FROM orders WHERE id = ?
	`, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrOrderNotFound
	}
	return o, err
}

// ListOrders returns a subscriber's orders, newest first.
func (db *DB) ListOrders(subscriber string) ([]domain.Order, error) {
	rows, err := db.db.Query(`
		SELECT id, subscriber, provider, amount, currency, status, credits, last_status, created_at, settled_at
		FROM orders WHERE subscriber = ? ORDER BY created_at DESC
	`, subscriber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *o)
	}
	return result, rows.Err()
}

// SettleOrder flips an order to settled and credits its subscriber in one
// transaction. A second call for the same order changes nothing and
// reports OutcomeAlreadyProcessed.
func (db *DB) SettleOrder(n domain.Notification, subscriber string, credits int64) (domain.SettleOutcome, error) {
	if credits <= 0 {
		return "", domain.ErrInvalidAmount
	}

	var outcome domain.SettleOutcome
	err := db.withTx(func(tx *sql.Tx) error {
		stored, found, err := lookupOrderTx(tx, n.OrderID)
		if err != nil {
			return err
		}
		if found && stored.status == domain.OrderSettled {
			outcome = domain.OutcomeAlreadyProcessed
			return nil
		}
		if found {
			if err := stored.check(n, subscriber); err != nil {
				return err
			}
		}

		now := db.stamp()
		if !found {
			_, err = tx.Exec(`
				INSERT INTO orders (id, subscriber, provider, amount, currency, status, credits, last_status, created_at, settled_at)
				VALUES (?, ?, ?, ?, ?, 'settled', ?, ?, ?, ?)
			`, n.OrderID, subscriber, n.Provider, n.Amount.String(), n.Currency, credits, n.RawStatus, now, now)
		} else {
			var res sql.Result
			res, err = tx.Exec(`
				UPDATE orders SET status = 'settled', credits = ?, last_status = ?, settled_at = ?
				WHERE id = ? AND status != 'settled'
			`, credits, n.RawStatus, now, n.OrderID)
			if err == nil {
				if rows, _ := res.RowsAffected(); rows == 0 {
					outcome = domain.OutcomeAlreadyProcessed
					return nil
				}
			}
		}
		if err != nil {
			return err
		}

		if _, err := db.ensureAccountTx(tx, subscriber); err != nil {
			return err
		}
		if err := db.applyTx(tx, subscriber, credits, domain.TopupReason(n.Provider, n.OrderID)); err != nil {
			return err
		}
		outcome = domain.OutcomeSettled
		return nil
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// RecordAttempt stores a failed or pending notification for audit. A settled
// order is never downgraded, and the ledger is never touched.
func (db *DB) RecordAttempt(n domain.Notification, subscriber string) (domain.OrderStatus, error) {
	next := domain.OrderPending
	if n.Status == domain.PaymentFailed {
		next = domain.OrderFailed
	}

	var result domain.OrderStatus
	err := db.withTx(func(tx *sql.Tx) error {
		stored, found, err := lookupOrderTx(tx, n.OrderID)
		if err != nil {
			return err
		}
		if found && stored.status == domain.OrderSettled {
			result = domain.OrderSettled
			return nil
		}
		if found {
			if err := stored.check(n, subscriber); err != nil {
				return err
			}
		}

		if !found {
			_, err = tx.Exec(`
				INSERT INTO orders (id, subscriber, provider, amount, currency, status, last_status, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, n.OrderID, subscriber, n.Provider, n.Amount.String(), n.Currency, string(next), n.RawStatus, db.stamp())
		} else {
			_, err = tx.Exec(`
				UPDATE orders SET status = ?, last_status = ? WHERE id = ?
			`, string(next), n.RawStatus, n.OrderID)
		}
		result = next
		return err
	})
	return result, err
}

// ─── Internal helpers ───────────────────────────────────────────────────────

func (db *DB) ensureAccountTx(tx *sql.Tx, id string) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("%w: empty account id", domain.ErrAccountNotFound)
	}
	res, err := tx.Exec(`
		INSERT OR IGNORE INTO accounts (id, balance, created_at) VALUES (?, 0, ?)
	`, id, db.stamp())
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}
	if db.policy.InitialBonus > 0 {
		if err := db.applyTx(tx, id, db.policy.InitialBonus, domain.ReasonInitialBonus); err != nil {
			return true, err
		}
	}
	return true, nil
}

// applyTx moves the balance and appends the matching entry.
func (db *DB) applyTx(tx *sql.Tx, id string, delta int64, reason string) error {
	if _, err := tx.Exec(`UPDATE accounts SET balance = balance + ? WHERE id = ?`, delta, id); err != nil {
		return err
	}
	return db.insertEntryTx(tx, id, delta, reason)
}

func (db *DB) insertEntryTx(tx *sql.Tx, id string, delta int64, reason string) error {
	_, err := tx.Exec(`
		INSERT INTO ledger_entries (account, delta, reason, created_at) VALUES (?, ?, ?, ?)
	`, id, delta, reason, db.stamp())
	return err
}

type storedOrder struct {
	status     domain.OrderStatus
	subscriber string
	provider   string
}

func lookupOrderTx(tx *sql.Tx, id string) (o storedOrder, found bool, err error) {
	var s string
	err = tx.QueryRow(`SELECT status, subscriber, provider FROM orders WHERE id = ?`, id).Scan(&s, &o.subscriber, &o.provider)
	if errors.Is(err, sql.ErrNoRows) {
		return storedOrder{}, false, nil
	}
	if err != nil {
		return storedOrder{}, false, err
	}
	o.status = domain.OrderStatus(s)
	return o, true, nil
}

// check rejects a notification whose subscriber or provider differs
// from the stored order.
func (o storedOrder) check(n domain.Notification, subscriber string) error {
	if o.subscriber != subscriber {
		return fmt.Errorf("%w: order %s belongs to another subscriber", domain.ErrOrderMismatch, n.OrderID)
	}
	if o.provider != n.Provider {
		return fmt.Errorf("%w: order %s was issued by %s, not %s", domain.ErrOrderMismatch, n.OrderID, o.provider, n.Provider)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(r rowScanner) (*domain.Order, error) {
	var o domain.Order
	var amount, status, created string
	var settled sql.NullString
	if err := r.Scan(&o.ID, &o.Subscriber, &o.Provider, &amount, &o.Currency, &status,
		&o.Credits, &o.LastStatus, &created, &settled); err != nil {
		return nil, err
	}
	o.Amount, _ = decimal.NewFromString(amount)
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = parseTime(created)
	o.SettledAt = parseNullTime(settled)
	return &o, nil
}
