package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"custodia.org/internal/auth"
	"custodia.org/internal/engine"
	"custodia.org/internal/escrow"
	"custodia.org/internal/ledger"
	"custodia.org/internal/multisig"
	"custodia.org/internal/recurring"
	"custodia.org/internal/staking"
)

// handleEngineError maps engine failures onto HTTP codes: 400 for invalid
// input, 403 for callers acting outside their role, 404 for unknown
// records, 409 for state conflicts and 422 for operations attempted at the
// wrong time.
func handleEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidCurrency),
		errors.Is(err, engine.ErrDescriptionTooLong),
		errors.Is(err, escrow.ErrInvalidExpiry),
		errors.Is(err, recurring.ErrInvalidAmount),
		errors.Is(err, recurring.ErrInvalidTotalPayments),
		errors.Is(err, multisig.ErrInvalidThreshold),
		errors.Is(err, multisig.ErrTooManyOwners):
		writeError(w, r, http.StatusBadRequest, err.Error())

	case errors.Is(err, engine.ErrUnauthorized),
		errors.Is(err, multisig.ErrNotAnOwner):
		writeError(w, r, http.StatusForbidden, err.Error())

	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())

	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, engine.ErrOverflow),
		errors.Is(err, escrow.ErrAlreadyFunded),
		errors.Is(err, escrow.ErrNotFunded),
		errors.Is(err, recurring.ErrAllPaymentsCompleted),
		errors.Is(err, multisig.ErrAlreadyApproved),
		errors.Is(err, multisig.ErrAlreadyExecuted),
		errors.Is(err, multisig.ErrInsufficientApprovals),
		errors.Is(err, staking.ErrInsufficientStake),
		errors.Is(err, staking.ErrNoRewardsToClaim):
		writeError(w, r, http.StatusConflict, err.Error())

	case errors.Is(err, escrow.ErrEscrowExpired),
		errors.Is(err, escrow.ErrEscrowNotExpired),
		errors.Is(err, recurring.ErrPaymentNotDue),
		errors.Is(err, staking.ErrStakeStillLocked):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())

	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// actor resolves the account an operation is performed as. With bearer auth
// the token subject wins; a body-declared account must then match it. Without
// auth the body value is taken as-is.
func (a *API) actor(r *http.Request, claimed string) (string, error) {
	claimed = strings.TrimSpace(claimed)
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		if claimed == "" {
			return "", errors.New("acting account is required")
		}
		return claimed, nil
	}
	if claimed != "" && claimed != caller {
		return "", engine.ErrUnauthorized
	}
	return caller, nil
}
