// Package httpapi exposes the ledger and the financial primitives built on
// top of it over HTTP.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"custodia.org/internal/escrow"
	"custodia.org/internal/ledger"
	"custodia.org/internal/multisig"
	"custodia.org/internal/obs"
	"custodia.org/internal/recurring"
	"custodia.org/internal/staking"
	"custodia.org/internal/stream"
)

// ReadyProbe reports readiness, typically by pinging the backing database.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps carries the service dependencies the API routes to.
type Deps struct {
	Ledger    ledger.Service
	Escrow    *escrow.Engine
	Recurring *recurring.Engine
	Multisig  *multisig.Engine
	Staking   *staking.Engine
	Stream    *stream.Stream

	// RequireAuth gates every non-public route behind bearer tokens.
	RequireAuth bool
}

// API is the HTTP layer.
type API struct {
	mux         *http.ServeMux
	readyProbe  ReadyProbe
	version     string
	ledger      ledger.Service
	escrow      *escrow.Engine
	recurring   *recurring.Engine
	multisig    *multisig.Engine
	staking     *staking.Engine
	stream      *stream.Stream
	requireAuth bool
}

func New(rp ReadyProbe, version string, deps Deps) *API {
	a := &API{
		mux:         http.NewServeMux(),
		readyProbe:  rp,
		version:     version,
		ledger:      deps.Ledger,
		escrow:      deps.Escrow,
		recurring:   deps.Recurring,
		multisig:    deps.Multisig,
		staking:     deps.Staking,
		stream:      deps.Stream,
		requireAuth: deps.RequireAuth,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// auth
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	// ledger
	a.mux.HandleFunc("/v1/accounts", a.handleAccountsCollection)
	a.mux.HandleFunc("/v1/accounts/", a.handleAccountResource)
	a.mux.HandleFunc("/v1/transfers", a.handleTransfers)
	a.mux.HandleFunc("/v1/ledger/transactions", a.handleTransactions)

	// escrow
	a.mux.HandleFunc("/v1/escrows", a.handleEscrowCollection)
	a.mux.HandleFunc("/v1/escrows/", a.handleEscrowResource)

	// recurring payments
	a.mux.HandleFunc("/v1/recurring", a.handleRecurringCollection)
	a.mux.HandleFunc("/v1/recurring/", a.handleRecurringResource)

	// multisig wallets and their transactions
	a.mux.HandleFunc("/v1/multisigs", a.handleMultisigCollection)
	a.mux.HandleFunc("/v1/multisigs/", a.handleMultisigResource)
	a.mux.HandleFunc("/v1/multisig-transactions/", a.handleMultisigTxResource)

	// staking
	a.mux.HandleFunc("/v1/staking/pools", a.handleStakingPools)
	a.mux.HandleFunc("/v1/staking/pools/", a.handleStakingPoolResource)

	// SSE transfer feed
	a.mux.HandleFunc("/v1/stream/transfers", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.withAuth(a.mux))
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "custodia-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "custodia-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
