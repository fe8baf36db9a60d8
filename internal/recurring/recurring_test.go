package recurring

import (
	"context"
	"errors"
	"testing"
	"time"

	"custodia.org/internal/engine"
	"custodia.org/internal/ledger"
)

const currency = "USDV"

func newTestEngine(t *testing.T, at time.Time) (*Engine, *ledger.InMemory, string, string) {
	t.Helper()
	l := ledger.NewInMemory()
	l.SetNow(func() time.Time { return at })

	payer, err := l.CreateAccount(context.Background(), ledger.Money{Currency: currency, Amount: 1000})
	if err != nil {
		t.Fatal(err)
	}
	recipient, err := l.CreateAccount(context.Background(), ledger.Money{Currency: currency, Amount: 0})
	if err != nil {
		t.Fatal(err)
	}
	return NewEngine(l, currency), l, payer.ID, recipient.ID
}

func TestCreateValidation(t *testing.T) {
	at := time.Unix(1_700_000_000, 0).UTC()
	e, _, payer, recipient := newTestEngine(t, at)
	ctx := context.Background()

	if _, err := e.Create(ctx, payer, recipient, 0, 60, 3, ""); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: got %v", err)
	}
	if _, err := e.Create(ctx, payer, recipient, 50, 60, 0, ""); !errors.Is(err, ErrInvalidTotalPayments) {
		t.Fatalf("zero total: got %v", err)
	}
}

func TestScheduleRun(t *testing.T) {
	// Scenario: amount=50, interval=86400, total=3.
	at := time.Unix(1_700_000_000, 0).UTC()
	e, l, payer, recipient := newTestEngine(t, at)
	ctx := context.Background()

	rec, err := e.Create(ctx, payer, recipient, 50, 86400, 3, "rent split")
	if err != nil {
		t.Fatal(err)
	}

	// First payment is always due.
	if _, err := e.Execute(ctx, rec.ID, payer); err != nil {
		t.Fatalf("first execute: %v", err)
	}
	got, _ := e.Get(ctx, rec.ID)
	if got.PaymentsMade != 1 || !got.LastPaymentAt.Equal(at) {
		t.Fatalf("after first execute: made=%d last=%v", got.PaymentsMade, got.LastPaymentAt)
	}

	// One hour later the interval has not elapsed.
	l.SetNow(func() time.Time { return at.Add(time.Hour) })
	if _, err := e.Execute(ctx, rec.ID, payer); !errors.Is(err, ErrPaymentNotDue) {
		t.Fatalf("early execute: got %v", err)
	}

	l.SetNow(func() time.Time { return at.Add(86400 * time.Second) })
	if _, err := e.Execute(ctx, rec.ID, payer); err != nil {
		t.Fatalf("second execute: %v", err)
	}

	l.SetNow(func() time.Time { return at.Add(2 * 86400 * time.Second) })
	if _, err := e.Execute(ctx, rec.ID, payer); err != nil {
		t.Fatalf("third execute: %v", err)
	}

	got, _ = e.Get(ctx, rec.ID)
	if got.Active || got.PaymentsMade != 3 {
		t.Fatalf("schedule must deactivate at total: %+v", got)
	}
	if _, err := e.Execute(ctx, rec.ID, payer); !errors.Is(err, ErrAllPaymentsCompleted) {
		t.Fatalf("execute after completion: got %v", err)
	}

	bal, _ := l.GetBalance(ctx, recipient, currency)
	if bal.Amount != 150 {
		t.Fatalf("recipient balance=%d, want 150", bal.Amount)
	}
}

func TestExecuteAuthorization(t *testing.T) {
	at := time.Unix(1_700_000_000, 0).UTC()
	e, _, payer, recipient := newTestEngine(t, at)
	ctx := context.Background()

	rec, err := e.Create(ctx, payer, recipient, 50, 60, 3, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Execute(ctx, rec.ID, recipient); !errors.Is(err, engine.ErrUnauthorized) {
		t.Fatalf("execute by non-payer: got %v", err)
	}
}

func TestCancel(t *testing.T) {
	at := time.Unix(1_700_000_000, 0).UTC()
	e, _, payer, recipient := newTestEngine(t, at)
	ctx := context.Background()

	rec, err := e.Create(ctx, payer, recipient, 50, 60, 3, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Cancel(ctx, rec.ID, recipient); !errors.Is(err, engine.ErrUnauthorized) {
		t.Fatalf("cancel by non-payer: got %v", err)
	}
	if err := e.Cancel(ctx, rec.ID, payer); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Get(ctx, rec.ID); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("record must be closed, got %v", err)
	}
}
