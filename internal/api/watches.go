package api

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/linkpulse/linkpulse/internal/app/watch"
	"github.com/linkpulse/linkpulse/internal/domain"
)

// ─── Watch API ──────────────────────────────────────────────────────────────
//
// POST /api/watches                    register a watch job
// GET  /api/watches?subscriber_id=...  a subscriber's watch jobs
// POST /api/domains/check              paid on-demand scan

// WatchAPI holds the services behind the watch routes.
type WatchAPI struct {
	Store   domain.WatchStore
	Checker *watch.Checker
	Log     logrus.FieldLogger
}

type addWatchRequest struct {
	Subscriber string `json:"subscriber_id"`
	Domain     string `json:"domain"`
	Frequency  string `json:"frequency"`
}

// HandleAddWatch registers a watch job.
// POST /api/watches
func (a *WatchAPI) HandleAddWatch(w http.ResponseWriter, r *http.Request) {
	var req addWatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Subscriber == "" {
		writeError(w, http.StatusBadRequest, "subscriber_id is required")
		return
	}
	name, err := domain.NormalizeDomain(req.Domain)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if req.Frequency == "" {
		req.Frequency = string(domain.FrequencyDaily)
	}
	freq, err := domain.ParseFrequency(req.Frequency)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	id, err := a.Store.AddWatch(req.Subscriber, name, freq)
	if err != nil {
		writeFailure(w, a.Log, err, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":            id,
		"subscriber_id": req.Subscriber,
		"domain":        name,
		"frequency":     freq,
	})
}

// HandleListWatches lists one subscriber's jobs. The unfiltered list is
// only for the scheduler, so a subscriber is required here.
// GET /api/watches?subscriber_id=...
func (a *WatchAPI) HandleListWatches(w http.ResponseWriter, r *http.Request) {
	sub := r.URL.Query().Get("subscriber_id")
	if sub == "" {
		writeError(w, http.StatusBadRequest, "subscriber_id is required")
		return
	}
	jobs, err := a.Store.ListWatches(sub)
	if err != nil {
		writeFailure(w, a.Log, err, "internal error")
		return
	}
	if jobs == nil {
		jobs = []domain.WatchJob{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"watches": jobs,
	})
}

type checkRequest struct {
	Subscriber string `json:"subscriber_id"`
	Domain     string `json:"domain"`
}

// HandleCheck charges for and runs one scan now.
// POST /api/domains/check
func (a *WatchAPI) HandleCheck(w http.ResponseWriter, r *http.Request) {
	if a.Checker == nil {
		writeError(w, http.StatusServiceUnavailable, "backlink checks not configured")
		return
	}
	var req checkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Subscriber == "" {
		writeError(w, http.StatusBadRequest, "subscriber_id is required")
		return
	}

	res, err := a.Checker.Check(r.Context(), req.Subscriber, req.Domain)
	if err != nil {
		if errors.Is(err, domain.ErrCollaboratorUnavailable) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"error":   map[string]interface{}{"message": "backlink provider unavailable, not charged", "type": "error"},
				"balance": res.Balance,
			})
			return
		}
		writeFailure(w, a.Log, err, "internal error")
		return
	}
	if res.NewLinks == nil {
		res.NewLinks = []domain.NewLink{}
	}
	writeJSON(w, http.StatusOK, res)
}
