// Watch schema and operations.
// Persistence for watch jobs and the link snapshot set used to decide
// whether a backlink is new.
package sqlite

import (
	"database/sql"
	"time"

	"github.com/linkpulse/linkpulse/internal/domain"
)

// ─── Watch Schema ───────────────────────────────────────────────────────────

// WatchMigrations returns the watch schema migration statements.
func WatchMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS watch_jobs (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			subscriber  TEXT NOT NULL,
			domain      TEXT NOT NULL,
			frequency   TEXT NOT NULL CHECK(frequency IN ('daily', 'weekly')),
			created_at  TEXT NOT NULL,
			last_run_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_watch_subscriber ON watch_jobs(subscriber)`,
		`CREATE INDEX IF NOT EXISTS idx_watch_domain ON watch_jobs(domain)`,

		// Grows without bound; nothing compacts it.
		`CREATE TABLE IF NOT EXISTS link_snapshots (
			domain     TEXT NOT NULL,
			source_url TEXT NOT NULL,
			first_seen TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (domain, source_url)
		)`,
	}
}

// ─── Watch Job Operations ───────────────────────────────────────────────────

// AddWatch registers a watch job and returns its id.
func (db *DB) AddWatch(subscriber, domainName string, freq domain.Frequency) (int64, error) {
	res, err := db.db.Exec(`
		INSERT INTO watch_jobs (subscriber, domain, frequency, created_at)
		VALUES (?, ?, ?, ?)
	`, subscriber, domainName, string(freq), db.stamp())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListWatches returns watch jobs in creation order. An empty subscriber
// returns all jobs; only the scheduler does that.
func (db *DB) ListWatches(subscriber string) ([]domain.WatchJob, error) {
	query := `SELECT id, subscriber, domain, frequency, created_at, last_run_at FROM watch_jobs`
	var args []any
	if subscriber != "" {
		query += ` WHERE subscriber = ?`
		args = append(args, subscriber)
	}
	query += ` ORDER BY id`

	rows, err := db.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.WatchJob
	for rows.Next() {
		var j domain.WatchJob
		var freq, created string
		var lastRun sql.NullString
		if err := rows.Scan(&j.ID, &j.Subscriber, &j.Domain, &freq, &created, &lastRun); err != nil {
			return nil, err
		}
		j.Frequency = domain.Frequency(freq)
		j.CreatedAt = parseTime(created)
		j.LastRunAt = parseNullTime(lastRun)
		result = append(result, j)
	}
	return result, rows.Err()
}

// MarkWatchRun records when a job last fired.
func (db *DB) MarkWatchRun(id int64, at time.Time) error {
	_, err := db.db.Exec(`UPDATE watch_jobs SET last_run_at = ? WHERE id = ?`, formatTime(at), id)
	return err
}

// ─── Link Snapshot Operations ───────────────────────────────────────────────

// InsertSnapshot records (domain, source url). A pair that is already
// present is reported as AlreadyExists, not as an error.
func (db *DB) InsertSnapshot(s domain.LinkSnapshot) (domain.InsertResult, error) {
	firstSeen := s.FirstSeen
	if firstSeen.IsZero() {
		firstSeen = db.now()
	}
	res, err := db.db.Exec(`
		INSERT INTO link_snapshots (domain, source_url, first_seen, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(domain, source_url) DO NOTHING
	`, s.Domain, s.SourceURL, formatTime(firstSeen), db.stamp())
	if err != nil {
		return domain.AlreadyExists, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.AlreadyExists, nil
	}
	return domain.Inserted, nil
}

// HasSnapshot reports whether (domain, source url) was recorded before.
func (db *DB) HasSnapshot(domainName, sourceURL string) (bool, error) {
	var one int
	err := db.db.QueryRow(`
		SELECT 1 FROM link_snapshots WHERE domain = ? AND source_url = ?
	`, domainName, sourceURL).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// SnapshotCount returns how many links are remembered for a domain.
func (db *DB) SnapshotCount(domainName string) (int64, error) {
	var count int64
	err := db.db.QueryRow(`SELECT COUNT(*) FROM link_snapshots WHERE domain = ?`, domainName).Scan(&count)
	return count, err
}
