package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"custodia.org/internal/escrow"
	"custodia.org/internal/httpapi"
	"custodia.org/internal/ledger"
	"custodia.org/internal/multisig"
	"custodia.org/internal/obs"
	"custodia.org/internal/recurring"
	"custodia.org/internal/staking"
	pgstore "custodia.org/internal/store/pg"
	"custodia.org/internal/stream"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	addr := os.Getenv("CUSTODIA_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	currency := strings.ToUpper(strings.TrimSpace(os.Getenv("CUSTODIA_CURRENCY")))
	if currency == "" {
		currency = "USDV"
	}

	// Postgres when a DSN is configured, otherwise the in-memory ledger.
	var (
		svc   ledger.Service
		probe httpapi.ReadyProbe
	)
	var store *pgstore.Store
	if dsn := os.Getenv("CUSTODIA_PG_DSN"); dsn != "" {
		var err error
		store, err = pgstore.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		svc = store
		probe = httpapi.ReadyProbe{DB: store.DB()}
	} else {
		svc = ledger.NewInMemory()
	}

	requireAuth := strings.TrimSpace(os.Getenv("CUSTODIA_AUTH_SECRET")) != ""
	if !requireAuth {
		log.Println("CUSTODIA_AUTH_SECRET not set; serving without authentication")
	}

	api := httpapi.New(probe, version, httpapi.Deps{
		Ledger:      svc,
		Escrow:      escrow.NewEngine(svc, currency),
		Recurring:   recurring.NewEngine(svc, currency),
		Multisig:    multisig.NewEngine(svc, currency),
		Staking:     staking.NewEngine(svc, currency),
		Stream:      stream.New(),
		RequireAuth: requireAuth,
	})

	handler := httpapi.RequestID(
		httpapi.Logging(
			httpapi.SecurityHeaders(
				httpapi.CORS(
					httpapi.MaxBodyBytes(
						httpapi.RateLimit(api.Handler(), 50, 25),
						1<<20)))))

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting custodia-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		obs.LogError("server shutdown", err, nil)
	}
	if store != nil {
		if err := store.Close(); err != nil {
			obs.LogError("store close", err, nil)
		}
	}
	log.Println("Stopped")
}
