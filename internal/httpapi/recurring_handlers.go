package httpapi

import (
	"net/http"
	"strings"

	"custodia.org/internal/audit"
	"custodia.org/internal/obs"
)

type createRecurringRequest struct {
	Payer           string `json:"payer"`
	Recipient       string `json:"recipient"`
	Amount          int64  `json:"amount"`
	IntervalSeconds int64  `json:"interval_seconds"`
	TotalPayments   uint64 `json:"total_payments"`
	Description     string `json:"description"`
}

type recurringActionRequest struct {
	Caller string `json:"caller"`
}

func (a *API) handleRecurringCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createRecurring(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleRecurringResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/recurring/")
	id, action, _ := strings.Cut(path, "/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		rec, err := a.recurring.Get(r.Context(), id)
		if err != nil {
			handleEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case "execute":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.executeRecurring(w, r, id)
	case "cancel":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.cancelRecurring(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) createRecurring(w http.ResponseWriter, r *http.Request) {
	var req createRecurringRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	payer, err := a.actor(r, req.Payer)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Recipient) == "" {
		writeError(w, r, http.StatusBadRequest, "recipient is required")
		return
	}
	if req.IntervalSeconds <= 0 {
		writeError(w, r, http.StatusBadRequest, "interval_seconds must be > 0")
		return
	}

	rec, err := a.recurring.Create(r.Context(), payer, strings.TrimSpace(req.Recipient),
		req.Amount, req.IntervalSeconds, req.TotalPayments, req.Description)
	obs.ObserveEngineOp("recurring", "create", err)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "recurring.create", map[string]any{
		"schedule_id":    rec.ID,
		"recipient":      rec.Recipient,
		"amount":         rec.Amount,
		"total_payments": rec.TotalPayments,
	})
	w.Header().Set("Location", "/v1/recurring/"+rec.ID)
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) executeRecurring(w http.ResponseWriter, r *http.Request, id string) {
	var req recurringActionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := a.actor(r, req.Caller)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	tx, err := a.recurring.Execute(r.Context(), id, caller)
	obs.ObserveEngineOp("recurring", "execute", err)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	a.publishTransfer("recurring", "execute", tx)
	_ = audit.LogEvent(r.Context(), "recurring.execute", map[string]any{
		"schedule_id":    id,
		"transaction_id": tx.ID,
	})
	writeJSON(w, http.StatusOK, tx)
}

func (a *API) cancelRecurring(w http.ResponseWriter, r *http.Request, id string) {
	var req recurringActionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := a.actor(r, req.Caller)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	err = a.recurring.Cancel(r.Context(), id, caller)
	obs.ObserveEngineOp("recurring", "cancel", err)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "recurring.cancel", map[string]any{
		"schedule_id": id,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled"})
}
