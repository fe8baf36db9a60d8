package multisig

import (
	"context"
	"errors"
	"testing"
	"time"

	"custodia.org/internal/ledger"
)

const currency = "USDV"

type fixture struct {
	engine *Engine
	ledger *ledger.InMemory
	owners []string
	other  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l := ledger.NewInMemory()
	at := time.Unix(1_700_000_000, 0).UTC()
	l.SetNow(func() time.Time { return at })

	var owners []string
	for i := 0; i < 3; i++ {
		acc, err := l.CreateAccount(context.Background(), ledger.Money{Currency: currency, Amount: 0})
		if err != nil {
			t.Fatal(err)
		}
		owners = append(owners, acc.ID)
	}
	other, err := l.CreateAccount(context.Background(), ledger.Money{Currency: currency, Amount: 0})
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{engine: NewEngine(l, currency), ledger: l, owners: owners, other: other.ID}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tooMany := make([]string, MaxOwners+1)
	for i := range tooMany {
		tooMany[i] = f.owners[0]
	}
	if _, err := f.engine.Create(ctx, f.owners[0], tooMany, 1); !errors.Is(err, ErrTooManyOwners) {
		t.Fatalf("got %v, want ErrTooManyOwners", err)
	}
	if _, err := f.engine.Create(ctx, f.owners[0], f.owners, 0); !errors.Is(err, ErrInvalidThreshold) {
		t.Fatalf("zero threshold: got %v", err)
	}
	if _, err := f.engine.Create(ctx, f.owners[0], f.owners, 4); !errors.Is(err, ErrInvalidThreshold) {
		t.Fatalf("threshold above owners: got %v", err)
	}
}

func TestProposeApproveExecute(t *testing.T) {
	// Scenario: owners=[A,B,C], threshold=2; propose by A auto-approves.
	f := newFixture(t)
	ctx := context.Background()

	wallet, err := f.engine.Create(ctx, f.owners[0], f.owners, 2)
	if err != nil {
		t.Fatal(err)
	}
	// Pool the funds the payout will draw from.
	funder, _ := f.ledger.CreateAccount(ctx, ledger.Money{Currency: currency, Amount: 5000})
	if _, err := f.ledger.Transfer(ctx, funder.ID, wallet.HoldingID, ledger.Money{Currency: currency, Amount: 5000}, ""); err != nil {
		t.Fatal(err)
	}

	tx, err := f.engine.Propose(ctx, wallet.ID, f.owners[0], 1200, f.other, "ops payout")
	if err != nil {
		t.Fatal(err)
	}
	if len(tx.Approvals) != 1 || tx.Approvals[0] != f.owners[0] {
		t.Fatalf("proposer must auto-approve: %v", tx.Approvals)
	}
	if tx.Index != 0 {
		t.Fatalf("first index=%d, want 0", tx.Index)
	}

	if _, err := f.engine.Execute(ctx, tx.ID, f.owners[0]); !errors.Is(err, ErrInsufficientApprovals) {
		t.Fatalf("execute below threshold: got %v", err)
	}

	if _, err := f.engine.Approve(ctx, tx.ID, f.owners[0]); !errors.Is(err, ErrAlreadyApproved) {
		t.Fatalf("duplicate approval: got %v", err)
	}
	if _, err := f.engine.Approve(ctx, tx.ID, f.other); !errors.Is(err, ErrNotAnOwner) {
		t.Fatalf("approve by stranger: got %v", err)
	}
	if _, err := f.engine.Approve(ctx, tx.ID, f.owners[1]); err != nil {
		t.Fatal(err)
	}

	if _, err := f.engine.Execute(ctx, tx.ID, f.owners[1]); err != nil {
		t.Fatalf("execute: %v", err)
	}
	bal, _ := f.ledger.GetBalance(ctx, f.other, currency)
	if bal.Amount != 1200 {
		t.Fatalf("recipient balance=%d, want 1200", bal.Amount)
	}

	// Executed transactions are immutable.
	if _, err := f.engine.Approve(ctx, tx.ID, f.owners[2]); !errors.Is(err, ErrAlreadyExecuted) {
		t.Fatalf("approve after execute: got %v", err)
	}
	if _, err := f.engine.Execute(ctx, tx.ID, f.owners[2]); !errors.Is(err, ErrAlreadyExecuted) {
		t.Fatalf("second execute: got %v", err)
	}
}

func TestProposeRequiresOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	wallet, err := f.engine.Create(ctx, f.owners[0], f.owners, 2)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.Propose(ctx, wallet.ID, f.other, 100, f.other, ""); !errors.Is(err, ErrNotAnOwner) {
		t.Fatalf("got %v, want ErrNotAnOwner", err)
	}
}

func TestTransactionIndexNeverReused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	wallet, err := f.engine.Create(ctx, f.owners[0], f.owners, 2)
	if err != nil {
		t.Fatal(err)
	}
	tx0, _ := f.engine.Propose(ctx, wallet.ID, f.owners[0], 1, f.other, "")
	if err := f.engine.Reject(ctx, tx0.ID, f.owners[2]); err != nil {
		t.Fatal(err)
	}
	tx1, _ := f.engine.Propose(ctx, wallet.ID, f.owners[0], 1, f.other, "")
	if tx1.Index != 1 {
		t.Fatalf("index after reject=%d, want 1", tx1.Index)
	}
}

func TestReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	wallet, err := f.engine.Create(ctx, f.owners[0], f.owners, 3)
	if err != nil {
		t.Fatal(err)
	}
	tx, err := f.engine.Propose(ctx, wallet.ID, f.owners[0], 100, f.other, "")
	if err != nil {
		t.Fatal(err)
	}

	if err := f.engine.Reject(ctx, tx.ID, f.other); !errors.Is(err, ErrNotAnOwner) {
		t.Fatalf("reject by stranger: got %v", err)
	}
	// Any owner may veto, not only the proposer.
	if err := f.engine.Reject(ctx, tx.ID, f.owners[2]); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.GetTransaction(ctx, tx.ID); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("rejected record must be closed, got %v", err)
	}
}

func TestDuplicateOwnerEntriesGrantNoExtraVotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	owners := []string{f.owners[0], f.owners[0], f.owners[1]}
	wallet, err := f.engine.Create(ctx, f.owners[0], owners, 2)
	if err != nil {
		t.Fatal(err)
	}
	tx, err := f.engine.Propose(ctx, wallet.ID, f.owners[0], 100, f.other, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.Approve(ctx, tx.ID, f.owners[0]); !errors.Is(err, ErrAlreadyApproved) {
		t.Fatalf("duplicated owner entry must not vote twice: got %v", err)
	}
}
