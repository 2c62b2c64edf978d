package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/linkpulse/linkpulse/internal/app/billing"
	"github.com/linkpulse/linkpulse/internal/domain"
)

// ─── Payments API ───────────────────────────────────────────────────────────
//
// POST /api/payments/{provider}/callback  provider notification
// POST /api/invoices                      start a payment
// GET  /api/accounts/{id}                 account with recent orders
// PUT  /api/accounts/{id}/phone           set the contact phone
// GET  /api/accounts/{id}/balance         current balance
// GET  /api/accounts/{id}/ledger          recent ledger entries

// PaymentsAPI holds the services behind the payment routes.
type PaymentsAPI struct {
	Billing *billing.Service
	Ledger  domain.LedgerStore
	Orders  domain.OrderStore
	Log     logrus.FieldLogger
}

// recentOrders caps the orders returned with an account.
const recentOrders = 20

// HandleCallback authenticates and settles a provider notification.
// Failures carry no detail: 403 for authentication, a generic payment
// error otherwise.
// POST /api/payments/{provider}/callback
func (p *PaymentsAPI) HandleCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "payment error")
		return
	}

	ack, res, err := p.Billing.HandleCallback(r.Context(), provider, domain.CallbackRequest{
		ContentType: r.Header.Get("Content-Type"),
		Body:        body,
	})
	if err != nil {
		status := statusFor(err)
		if status == http.StatusForbidden {
			writeError(w, status, "forbidden")
			return
		}
		if status >= 500 || errors.Is(err, domain.ErrOrderMismatch) {
			p.log().WithField("provider", provider).WithError(err).Error("callback settlement failed")
		}
		writeError(w, status, "payment error")
		return
	}

	if len(ack.Body) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"status": string(res.Outcome)})
		return
	}
	w.Header().Set("Content-Type", ack.ContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(ack.Body)
}

// HandleCreateInvoice issues an invoice and returns the checkout.
// POST /api/invoices
func (p *PaymentsAPI) HandleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req billing.InvoiceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Subscriber == "" || req.Provider == "" || req.Currency == "" {
		writeError(w, http.StatusBadRequest, "provider, subscriber_id, amount and currency are required")
		return
	}

	checkout, err := p.Billing.CreateInvoice(r.Context(), req)
	if err != nil {
		writeFailure(w, p.log(), err, "payment error")
		return
	}
	writeJSON(w, http.StatusCreated, checkout)
}

// HandleAccount returns an account with its most recent orders.
// GET /api/accounts/{id}
func (p *PaymentsAPI) HandleAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	acct, err := p.Ledger.GetAccount(id)
	if err != nil {
		writeFailure(w, p.log(), err, "payment error")
		return
	}
	orders, err := p.Orders.ListOrders(id)
	if err != nil {
		writeFailure(w, p.log(), err, "payment error")
		return
	}
	if len(orders) > recentOrders {
		orders = orders[:recentOrders]
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": acct,
		"orders":  orders,
	})
}

type phoneRequest struct {
	Phone string `json:"phone"`
}

// HandleSetPhone stores the contact phone of an existing account.
// PUT /api/accounts/{id}/phone
func (p *PaymentsAPI) HandleSetPhone(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req phoneRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	phone, err := domain.NormalizePhone(req.Phone)
	if err != nil {
		writeFailure(w, p.log(), err, "payment error")
		return
	}
	if err := p.Ledger.SetPhone(id, phone); err != nil {
		writeFailure(w, p.log(), err, "payment error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account": id,
		"phone":   phone,
	})
}

// HandleBalance returns an account balance.
// GET /api/accounts/{id}/balance
func (p *PaymentsAPI) HandleBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	bal, err := p.Ledger.Balance(id)
	if err != nil {
		writeFailure(w, p.log(), err, "payment error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": id,
		"balance": bal,
	})
}

// HandleLedger returns an account's entries, newest first.
// GET /api/accounts/{id}/ledger?limit=50
func (p *PaymentsAPI) HandleLedger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	if _, err := p.Ledger.Balance(id); err != nil {
		writeFailure(w, p.log(), err, "payment error")
		return
	}
	entries, err := p.Ledger.Entries(id, limit)
	if err != nil {
		writeFailure(w, p.log(), err, "payment error")
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": id,
		"entries": entries,
	})
}

func (p *PaymentsAPI) log() logrus.FieldLogger {
	if p.Log == nil {
		return logrus.StandardLogger()
	}
	return p.Log
}
