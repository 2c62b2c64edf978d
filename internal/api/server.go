// Package api provides the HTTP server for linkpulse: payment callbacks,
// invoices, balances, watch registration and on-demand checks.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/linkpulse/linkpulse/internal/domain"
	"github.com/linkpulse/linkpulse/internal/infra/observability"
)

// maxBodyBytes caps request bodies; provider callbacks are a few KB.
const maxBodyBytes = 64 << 10

// Server is the linkpulse HTTP API server.
type Server struct {
	payments       *PaymentsAPI
	watches        *WatchAPI
	metricsEnabled bool
	log            *logrus.Entry
}

// NewServer creates a new API server.
func NewServer(log logrus.FieldLogger) *Server {
	return &Server{log: observability.Component(log, "api")}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetPayments mounts the payment routes.
func (s *Server) SetPayments(p *PaymentsAPI) { s.payments = p }

// SetWatches mounts the watch routes.
func (s *Server) SetWatches(w *WatchAPI) { s.watches = w }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
	})

	r.Route("/api", func(r chi.Router) {
		if s.payments != nil {
			r.Post("/payments/{provider}/callback", s.payments.HandleCallback)
			r.Post("/invoices", s.payments.HandleCreateInvoice)
			r.Get("/accounts/{id}", s.payments.HandleAccount)
			r.Put("/accounts/{id}/phone", s.payments.HandleSetPhone)
			r.Get("/accounts/{id}/balance", s.payments.HandleBalance)
			r.Get("/accounts/{id}/ledger", s.payments.HandleLedger)
		}
		if s.watches != nil {
			r.Post("/watches", s.watches.HandleAddWatch)
			r.Get("/watches", s.watches.HandleListWatches)
			r.Post("/domains/check", s.watches.HandleCheck)
		}
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// requestLogger logs one line per request at debug level, and at warn for
// server errors.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		entry := s.log.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
		})
		if ww.Status() >= 500 {
			entry.Warn("request failed")
		} else {
			entry.Debug("request")
		}
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// writeFailure maps err to a status. Client errors keep their message;
// server errors are logged and answered with generic instead.
func writeFailure(w http.ResponseWriter, log logrus.FieldLogger, err error, generic string) {
	status := statusFor(err)
	if status < http.StatusInternalServerError {
		writeError(w, status, err.Error())
		return
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithError(err).Error("request failed")
	writeError(w, status, generic)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidDomain),
		errors.Is(err, domain.ErrInvalidFrequency),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidPhone),
		errors.Is(err, domain.ErrMalformedNotification):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnmappedAmount):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrAuthentication),
		errors.Is(err, domain.ErrUnverifiable):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrUnknownProvider):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrOrderMismatch):
		return http.StatusConflict
	case errors.Is(err, domain.ErrCollaboratorUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
