package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"custodia.org/internal/auth"
	"custodia.org/internal/escrow"
	"custodia.org/internal/ledger"
	"custodia.org/internal/multisig"
	"custodia.org/internal/recurring"
	"custodia.org/internal/staking"
	"custodia.org/internal/stream"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	ledger  *ledger.InMemory
	stream  *stream.Stream
	t       *testing.T
}

func newTestAPI(t *testing.T, requireAuth bool) *apiClient {
	t.Helper()

	t.Setenv("CUSTODIA_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	l := ledger.NewInMemory()
	st := stream.New()
	api := New(ReadyProbe{}, "test", Deps{
		Ledger:      l,
		Escrow:      escrow.NewEngine(l, "USDV"),
		Recurring:   recurring.NewEngine(l, "USDV"),
		Multisig:    multisig.NewEngine(l, "USDV"),
		Staking:     staking.NewEngine(l, "USDV"),
		Stream:      st,
		RequireAuth: requireAuth,
	})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		ledger:  l,
		stream:  st,
		t:       t,
	}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) createAccount(amount int64) string {
	c.t.Helper()
	resp := c.post("/v1/accounts", map[string]any{
		"currency":       "USDV",
		"initial_amount": amount,
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("create account status: %d", resp.StatusCode)
	}
	acc := decode[ledger.Account](c.t, resp)
	return acc.ID
}

func (c *apiClient) balance(id string) int64 {
	c.t.Helper()
	resp := c.get("/v1/accounts/"+id+"/balance", url.Values{"currency": {"USDV"}}, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("balance status: %d", resp.StatusCode)
	}
	m := decode[ledger.Money](c.t, resp)
	return m.Amount
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func errorStatus(t *testing.T, r *http.Response, want int) {
	t.Helper()
	defer r.Body.Close()
	if r.StatusCode != want {
		t.Fatalf("status=%d, want %d", r.StatusCode, want)
	}
}

func TestHealthAndInfo(t *testing.T) {
	c := newTestAPI(t, false)

	resp := c.get("/healthz", nil, nil)
	body := decode[map[string]any](t, resp)
	if body["service"] != "custodia-api" {
		t.Fatalf("service=%v", body["service"])
	}

	resp = c.get("/v1/info", nil, nil)
	body = decode[map[string]any](t, resp)
	if body["version"] != "test" {
		t.Fatalf("version=%v", body["version"])
	}
}

func TestAccountsTransferFlow(t *testing.T) {
	c := newTestAPI(t, false)

	from := c.createAccount(1000)
	to := c.createAccount(0)

	resp := c.post("/v1/transfers", map[string]any{
		"from_id":  from,
		"to_id":    to,
		"currency": "USDV",
		"amount":   400,
	}, map[string]string{"Idempotency-Key": "tr-1"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("transfer status: %d", resp.StatusCode)
	}
	tx := decode[ledger.Transaction](t, resp)
	if tx.Amount != 400 || tx.FromAccountID != from {
		t.Fatalf("got %+v", tx)
	}

	// Same idempotency key replays the original transaction.
	resp = c.post("/v1/transfers", map[string]any{
		"from_id":  from,
		"to_id":    to,
		"currency": "USDV",
		"amount":   400,
	}, map[string]string{"Idempotency-Key": "tr-1"})
	replay := decode[ledger.Transaction](t, resp)
	if replay.ID != tx.ID {
		t.Fatalf("replay id=%s, want %s", replay.ID, tx.ID)
	}

	if got := c.balance(from); got != 600 {
		t.Fatalf("from balance=%d, want 600", got)
	}
	if got := c.balance(to); got != 400 {
		t.Fatalf("to balance=%d, want 400", got)
	}

	resp = c.get("/v1/ledger/transactions", url.Values{"limit": {"10"}}, nil)
	list := decode[listTransactionsResponse](t, resp)
	if len(list.Items) != 1 {
		t.Fatalf("items=%d, want 1", len(list.Items))
	}
}

func TestTransferValidationAndConflicts(t *testing.T) {
	c := newTestAPI(t, false)
	from := c.createAccount(100)
	to := c.createAccount(0)

	errorStatus(t, c.post("/v1/transfers", map[string]any{
		"from_id": from, "to_id": to, "currency": "USDV", "amount": 0,
	}, nil), http.StatusBadRequest)

	errorStatus(t, c.post("/v1/transfers", map[string]any{
		"from_id": from, "to_id": to, "currency": "USDV", "amount": 500,
	}, nil), http.StatusConflict)

	errorStatus(t, c.post("/v1/transfers", map[string]any{
		"from_id": "missing", "to_id": to, "currency": "USDV", "amount": 10,
	}, nil), http.StatusNotFound)
}

func TestAuthRequiredRoutes(t *testing.T) {
	c := newTestAPI(t, true)

	// Public paths stay open.
	errorStatus(t, c.get("/healthz", nil, nil), http.StatusOK)

	// Protected path without a token.
	errorStatus(t, c.post("/v1/accounts", map[string]any{
		"currency": "USDV", "initial_amount": 1,
	}, nil), http.StatusUnauthorized)

	// Issue a token and retry.
	resp := c.post("/v1/auth/token", map[string]any{"account_id": "acct-1"}, nil)
	tok := decode[tokenResponse](t, resp)
	if tok.Token == "" || !tok.ExpiresAt.After(time.Now()) {
		t.Fatalf("token response: %+v", tok)
	}

	errorStatus(t, c.post("/v1/accounts", map[string]any{
		"currency": "USDV", "initial_amount": 1,
	}, map[string]string{"Authorization": "Bearer " + tok.Token}), http.StatusCreated)

	errorStatus(t, c.post("/v1/accounts", map[string]any{
		"currency": "USDV", "initial_amount": 1,
	}, map[string]string{"Authorization": "Bearer garbage"}), http.StatusUnauthorized)
}

func TestTokenSubjectBindsActor(t *testing.T) {
	c := newTestAPI(t, true)

	resp := c.post("/v1/auth/token", map[string]any{"account_id": "acct-1"}, nil)
	tok := decode[tokenResponse](t, resp)
	authz := map[string]string{"Authorization": "Bearer " + tok.Token}

	// A body claiming a different actor than the token subject is rejected.
	errorStatus(t, c.post("/v1/escrows", map[string]any{
		"creator":    "acct-2",
		"recipient":  "acct-3",
		"amount":     100,
		"expires_at": time.Now().Add(time.Hour).UTC(),
	}, authz), http.StatusForbidden)
}

func TestUnknownRouteIs404(t *testing.T) {
	c := newTestAPI(t, false)
	errorStatus(t, c.get("/nope", nil, nil), http.StatusNotFound)
}
