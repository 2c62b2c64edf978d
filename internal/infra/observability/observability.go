// Package observability holds the Prometheus metrics and logger setup
// shared by every linkpulse component.
//
// Metrics are registered on the default registry via promauto and served
// at /metrics when [metrics].enabled is set.
package observability

import (
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

// ═══════════════════════════════════════════════════════════════════════════
// Logging
// ═══════════════════════════════════════════════════════════════════════════

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text or json
}

// NewLogger builds a logrus logger writing to w (stderr when nil).
func NewLogger(cfg LogConfig, w io.Writer) *logrus.Logger {
	if w == nil {
		w = os.Stderr
	}
	log := logrus.New()
	log.SetOutput(w)

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// Component returns a logger entry tagged with a component name.
func Component(log logrus.FieldLogger, name string) *logrus.Entry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return log.WithField("component", name)
}

// ═══════════════════════════════════════════════════════════════════════════
// Prometheus Metrics
// ═══════════════════════════════════════════════════════════════════════════

// ─── Billing Metrics ────────────────────────────────────────────────────────

// SettlementsTotal counts settlement outcomes by provider.
var SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "linkpulse",
	Subsystem: "billing",
	Name:      "settlements_total",
	Help:      "Settlement attempts by provider and outcome.",
}, []string{"provider", "outcome"})

// CreditsIssued counts credits added by settled orders.
var CreditsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "linkpulse",
	Subsystem: "billing",
	Name:      "credits_issued_total",
	Help:      "Credits added to balances by settled orders.",
}, []string{"provider"})

// CallbackRejections counts callbacks rejected before settlement.
var CallbackRejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "linkpulse",
	Subsystem: "billing",
	Name:      "callback_rejections_total",
	Help:      "Payment callbacks rejected by provider and reason.",
}, []string{"provider", "reason"})

// InvoicesCreated counts invoices issued by provider.
var InvoicesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "linkpulse",
	Subsystem: "billing",
	Name:      "invoices_created_total",
	Help:      "Invoices issued by provider.",
}, []string{"provider"})

// ─── Watch Metrics ──────────────────────────────────────────────────────────

// ScansTotal counts backlink scans by result (ok, preview, degraded, error).
var ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "linkpulse",
	Subsystem: "watch",
	Name:      "scans_total",
	Help:      "Backlink scans by result.",
}, []string{"result"})

// NewLinksTotal counts backlinks reported as new.
var NewLinksTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "linkpulse",
	Subsystem: "watch",
	Name:      "new_links_total",
	Help:      "Backlinks seen for the first time.",
})

// NotificationsTotal counts notification deliveries by result.
var NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "linkpulse",
	Subsystem: "watch",
	Name:      "notifications_total",
	Help:      "Subscriber notifications by result (sent, failed).",
}, []string{"result"})

// TickDuration tracks how long one scheduler tick takes.
var TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "linkpulse",
	Subsystem: "watch",
	Name:      "tick_duration_seconds",
	Help:      "Wall time of one scheduler tick.",
	Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
})

// DueJobs tracks how many jobs were due on the last tick.
var DueJobs = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "linkpulse",
	Subsystem: "watch",
	Name:      "due_jobs",
	Help:      "Watch jobs due on the most recent tick.",
})

// ─── Collaborator Metrics ───────────────────────────────────────────────────

// CollaboratorLatency tracks outbound call latency by collaborator.
var CollaboratorLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "linkpulse",
	Subsystem: "collaborator",
	Name:      "latency_seconds",
	Help:      "Outbound call latency by collaborator.",
	Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
}, []string{"collaborator"})

// CollaboratorErrors counts failed outbound calls by collaborator.
var CollaboratorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "linkpulse",
	Subsystem: "collaborator",
	Name:      "errors_total",
	Help:      "Failed outbound calls by collaborator.",
}, []string{"collaborator"})
