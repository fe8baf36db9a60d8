package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                   "/",
		"/metrics":                           "/metrics",
		"/v1/accounts/abc":                   "/v1/accounts/:id",
		"/v1/accounts/abc/balance":           "/v1/accounts/:id/balance",
		"/v1/accounts/abc/extra":             "/v1/accounts/abc/extra",
		"/v1/escrows/abc":                    "/v1/escrows/:id",
		"/v1/escrows/abc/fund":               "/v1/escrows/:id/fund",
		"/v1/escrows":                        "/v1/escrows",
		"/v1/recurring/abc/execute":          "/v1/recurring/:id/execute",
		"/v1/multisigs/abc/transactions":     "/v1/multisigs/:id/transactions",
		"/v1/multisig-transactions/abc":      "/v1/multisig-transactions/:id",
		"/v1/multisig-transactions/abc/sign": "/v1/multisig-transactions/abc/sign",
		"/v1/staking/pools/abc":              "/v1/staking/pools/:id",
		"/v1/staking/pools/abc/stake":        "/v1/staking/pools/:id/stake",
		"/v1/staking/pools/abc/positions/u1": "/v1/staking/pools/:id/positions/:owner",
		"/v1/ledger/transactions?limit=10":   "/v1/ledger/transactions",
		"/v1/transfers":                      "/v1/transfers",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestObserveEngineOpOutcomes(t *testing.T) {
	// Label writes must not panic for either outcome.
	ObserveEngineOp("escrow", "fund", nil)
	ObserveEngineOp("escrow", "fund", errTest)
}

var errTest = &labelErr{}

type labelErr struct{}

func (*labelErr) Error() string { return "boom" }
