package watch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/linkpulse/linkpulse/internal/domain"
	"github.com/linkpulse/linkpulse/internal/infra/dsa"
	"github.com/linkpulse/linkpulse/internal/infra/observability"
)

// Config controls the scheduler.
type Config struct {
	Interval time.Duration  // tick period within each hour, at most 1h (default: 1h)
	Hour     int            // hour of day jobs fire (default: 7)
	Weekday  time.Weekday   // weekday weekly jobs fire (default: Monday)
	Location *time.Location // zone for Hour and Weekday (default: UTC)
	Workers  int            // parallel scan workers (default: 4)
	MaxLinks int            // links listed per notification (default: 10)
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Interval: time.Hour,
		Hour:     7,
		Weekday:  time.Monday,
		Location: time.UTC,
		Workers:  4,
		MaxLinks: 10,
	}
}

// Scheduler fires due watch jobs. Jobs are sharded over workers by domain,
// so two jobs on one domain never scan concurrently.
type Scheduler struct {
	cfg      Config
	watches  domain.WatchStore
	scanner  *Scanner
	notifier domain.Notifier
	ring     *dsa.HashRing
	log      *logrus.Entry
	now      func() time.Time

	tickMu sync.Mutex
}

// NewScheduler creates a scheduler.
func NewScheduler(cfg Config, watches domain.WatchStore, scanner *Scanner, notifier domain.Notifier, log logrus.FieldLogger) *Scheduler {
	def := DefaultConfig()
	if cfg.Interval <= 0 || cfg.Interval > time.Hour {
		cfg.Interval = def.Interval
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxLinks <= 0 {
		cfg.MaxLinks = def.MaxLinks
	}
	return &Scheduler{
		cfg:      cfg,
		watches:  watches,
		scanner:  scanner,
		notifier: notifier,
		ring:     dsa.WorkerRing(cfg.Workers),
		log:      observability.Component(log, "scheduler"),
		now:      time.Now,
	}
}

// SetClock overrides the clock used by Start.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// Start ticks until ctx is cancelled. It runs one tick immediately so a
// restart inside the trigger hour does not skip the day, then ticks on
// local wall-clock boundaries: every hour start and each interval after it.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.WithFields(logrus.Fields{
		"interval": s.cfg.Interval,
		"hour":     s.cfg.Hour,
		"weekday":  s.cfg.Weekday,
		"workers":  s.cfg.Workers,
	}).Info("scheduler started")

	s.Tick(ctx, s.now())
	for {
		now := s.now()
		timer := time.NewTimer(s.nextTick(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("scheduler stopped")
			return
		case <-timer.C:
			s.Tick(ctx, s.now())
		}
	}
}

// nextTick returns the first boundary after now. Boundaries restart at every
// local hour, so the trigger hour is always hit whatever the interval.
func (s *Scheduler) nextTick(now time.Time) time.Time {
	local := now.In(s.cfg.Location)
	hourStart := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, s.cfg.Location)
	steps := local.Sub(hourStart)/s.cfg.Interval + 1
	next := hourStart.Add(steps * s.cfg.Interval)
	if hourEnd := hourStart.Add(time.Hour); next.After(hourEnd) {
		next = hourEnd
	}
	return next
}

// Due reports whether job fires at now: the hour must match, weekly jobs
// also need the weekday, and a job already run that day is skipped.
func (s *Scheduler) Due(job domain.WatchJob, now time.Time) bool {
	local := now.In(s.cfg.Location)
	if local.Hour() != s.cfg.Hour {
		return false
	}
	if job.Frequency == domain.FrequencyWeekly && local.Weekday() != s.cfg.Weekday {
		return false
	}
	if job.LastRunAt != nil {
		last := job.LastRunAt.In(s.cfg.Location)
		if last.Year() == local.Year() && last.YearDay() == local.YearDay() {
			return false
		}
	}
	return true
}

// TickReport summarizes one tick.
type TickReport struct {
	Due      int `json:"due"`
	Scanned  int `json:"scanned"`
	NewLinks int `json:"new_links"`
	Notified int `json:"notified"`
	Failed   int `json:"failed"`
}

// Tick runs every job due at now. One job's failure never stops the others.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) TickReport {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	start := time.Now()
	defer func() { observability.TickDuration.Observe(time.Since(start).Seconds()) }()

	jobs, err := s.watches.ListWatches("")
	if err != nil {
		s.log.WithError(err).Error("list watches failed")
		return TickReport{Failed: 1}
	}

	shards := make(map[string][]domain.WatchJob, s.ring.Size())
	due := 0
	for _, job := range jobs {
		if !s.Due(job, now) {
			continue
		}
		due++
		w := s.ring.Lookup(job.Domain)
		shards[w] = append(shards[w], job)
	}
	observability.DueJobs.Set(float64(due))
	if due == 0 {
		return TickReport{}
	}

	var (
		mu     sync.Mutex
		report = TickReport{Due: due}
		wg     sync.WaitGroup
	)
	for _, list := range shards {
		wg.Add(1)
		go func(list []domain.WatchJob) {
			defer wg.Done()
			for _, job := range list {
				if ctx.Err() != nil {
					return
				}
				r := s.runJob(ctx, job, now)
				mu.Lock()
				report.Scanned += r.Scanned
				report.NewLinks += r.NewLinks
				report.Notified += r.Notified
				report.Failed += r.Failed
				mu.Unlock()
			}
		}(list)
	}
	wg.Wait()

	s.log.WithFields(logrus.Fields{
		"due":       report.Due,
		"new_links": report.NewLinks,
		"notified":  report.Notified,
		"failed":    report.Failed,
	}).Info("tick complete")
	return report
}

// runJob is Scanning → Notifying for one job.
func (s *Scheduler) runJob(ctx context.Context, job domain.WatchJob, now time.Time) TickReport {
	var r TickReport
	log := s.log.WithFields(logrus.Fields{"job": job.ID, "domain": job.Domain})

	links, err := s.scanner.Scan(ctx, job.Domain)
	if err != nil {
		r.Failed++
	} else {
		r.Scanned++
	}
	if err := s.watches.MarkWatchRun(job.ID, now); err != nil {
		log.WithError(err).Error("mark run failed")
	}

	r.NewLinks = len(links)
	if len(links) == 0 {
		return r
	}

	text := FormatNotification(job.Domain, links, s.cfg.MaxLinks)
	if err := s.notifier.Send(ctx, job.Subscriber, text); err != nil {
		observability.NotificationsTotal.WithLabelValues("failed").Inc()
		log.WithError(err).Warn("notification failed")
		r.Failed++
		return r
	}
	observability.NotificationsTotal.WithLabelValues("sent").Inc()
	r.Notified++
	return r
}

// FormatNotification lists up to limit links with their first-seen date
// and a trailer counting the rest.
func FormatNotification(domainName string, links []domain.NewLink, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New backlinks for %s:\n", domainName)
	for i, l := range links {
		if limit > 0 && i == limit {
			fmt.Fprintf(&b, "...and %d more\n", len(links)-limit)
			break
		}
		seen := "unknown"
		if !l.FirstSeen.IsZero() {
			seen = l.FirstSeen.Format("2006-01-02")
		}
		fmt.Fprintf(&b, "%d. %s (first seen %s)\n", i+1, l.URL, seen)
	}
	return strings.TrimRight(b.String(), "\n")
}
