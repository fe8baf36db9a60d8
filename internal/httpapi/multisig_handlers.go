package httpapi

import (
	"net/http"
	"strings"

	"custodia.org/internal/audit"
	"custodia.org/internal/obs"
)

type createMultisigRequest struct {
	Creator   string   `json:"creator"`
	Owners    []string `json:"owners"`
	Threshold uint64   `json:"threshold"`
}

type proposeTransactionRequest struct {
	Proposer    string `json:"proposer"`
	Recipient   string `json:"recipient"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

type multisigActionRequest struct {
	Caller string `json:"caller"`
}

func (a *API) handleMultisigCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createMultisig(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleMultisigResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/multisigs/")
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
		rec, err := a.multisig.Get(r.Context(), id)
		if err != nil {
			handleEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case "transactions":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.proposeTransaction(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleMultisigTxResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/multisig-transactions/")
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
		rec, err := a.multisig.GetTransaction(r.Context(), id)
		if err != nil {
			handleEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case "approve", "execute", "reject":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.multisigTxAction(w, r, id, action)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) createMultisig(w http.ResponseWriter, r *http.Request) {
	var req createMultisigRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	creator, err := a.actor(r, req.Creator)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	if len(req.Owners) == 0 {
		writeError(w, r, http.StatusBadRequest, "owners are required")
		return
	}

	rec, err := a.multisig.Create(r.Context(), creator, req.Owners, req.Threshold)
	obs.ObserveEngineOp("multisig", "create", err)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "multisig.create", map[string]any{
		"multisig_id": rec.ID,
		"owners":      rec.Owners,
		"threshold":   rec.Threshold,
	})
	w.Header().Set("Location", "/v1/multisigs/"+rec.ID)
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) proposeTransaction(w http.ResponseWriter, r *http.Request, multisigID string) {
	var req proposeTransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	proposer, err := a.actor(r, req.Proposer)
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

	tx, err := a.multisig.Propose(r.Context(), multisigID, proposer, req.Amount,
		strings.TrimSpace(req.Recipient), req.Description)
	obs.ObserveEngineOp("multisig", "propose", err)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "multisig.propose", map[string]any{
		"multisig_id":    multisigID,
		"transaction_id": tx.ID,
		"amount":         tx.Amount,
	})
	w.Header().Set("Location", "/v1/multisig-transactions/"+tx.ID)
	writeJSON(w, http.StatusCreated, tx)
}

func (a *API) multisigTxAction(w http.ResponseWriter, r *http.Request, txID, action string) {
	var req multisigActionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := a.actor(r, req.Caller)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	fields := map[string]any{"transaction_id": txID}
	var body any
	switch action {
	case "approve":
		rec, aerr := a.multisig.Approve(r.Context(), txID, caller)
		err, body = aerr, rec
	case "execute":
		tx, eerr := a.multisig.Execute(r.Context(), txID, caller)
		err, body = eerr, tx
		if eerr == nil {
			a.publishTransfer("multisig", "execute", tx)
			fields["ledger_transaction_id"] = tx.ID
		}
	case "reject":
		err = a.multisig.Reject(r.Context(), txID, caller)
		body = map[string]any{"status": "rejected"}
	}
	obs.ObserveEngineOp("multisig", action, err)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "multisig."+action, fields)
	writeJSON(w, http.StatusOK, body)
}
