package httpapi

import (
	"net/http"
	"strings"
	"time"

	"custodia.org/internal/audit"
	"custodia.org/internal/ledger"
	"custodia.org/internal/obs"
)

type createEscrowRequest struct {
	Creator     string    `json:"creator"`
	Recipient   string    `json:"recipient"`
	Amount      int64     `json:"amount"`
	ExpiresAt   time.Time `json:"expires_at"`
	Description string    `json:"description"`
}

type escrowActionRequest struct {
	Caller string `json:"caller"`
}

func (a *API) handleEscrowCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createEscrow(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleEscrowResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/escrows/")
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
		rec, err := a.escrow.Get(r.Context(), id)
		if err != nil {
			handleEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case "fund", "claim", "cancel":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.escrowAction(w, r, id, action)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) createEscrow(w http.ResponseWriter, r *http.Request) {
	var req createEscrowRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	creator, err := a.actor(r, req.Creator)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Recipient) == "" {
		writeError(w, r, http.StatusBadRequest, "recipient is required")
		return
	}
	if req.Amount <= 0 {
		writeError(w, r, http.StatusBadRequest, "amount must be > 0")
		return
	}

	rec, err := a.escrow.Create(r.Context(), creator, req.Amount, strings.TrimSpace(req.Recipient), req.ExpiresAt, req.Description)
	obs.ObserveEngineOp("escrow", "create", err)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "escrow.create", map[string]any{
		"escrow_id": rec.ID,
		"recipient": rec.Recipient,
		"amount":    rec.Amount,
	})
	w.Header().Set("Location", "/v1/escrows/"+rec.ID)
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) escrowAction(w http.ResponseWriter, r *http.Request, id, action string) {
	var req escrowActionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := a.actor(r, req.Caller)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	var tx ledger.Transaction
	switch action {
	case "fund":
		tx, err = a.escrow.Fund(r.Context(), id, caller)
	case "claim":
		tx, err = a.escrow.Claim(r.Context(), id, caller)
	case "cancel":
		tx, err = a.escrow.Cancel(r.Context(), id, caller)
	}
	obs.ObserveEngineOp("escrow", action, err)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	// Cancel of an unfunded escrow moves no money and yields no transaction.
	if tx.ID != "" {
		a.publishTransfer("escrow", action, tx)
	}
	_ = audit.LogEvent(r.Context(), "escrow."+action, map[string]any{
		"escrow_id": id,
	})
	writeJSON(w, http.StatusOK, tx)
}
