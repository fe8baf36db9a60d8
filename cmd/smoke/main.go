// Smoke drives the four engines in process against the in-memory ledger and
// verifies money is conserved end to end.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"custodia.org/internal/escrow"
	"custodia.org/internal/ledger"
	"custodia.org/internal/multisig"
	"custodia.org/internal/recurring"
	"custodia.org/internal/staking"
)

const currency = "USDV"

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	svc := ledger.NewInMemory()
	now := time.Now().UTC()
	svc.SetNow(func() time.Time { return now })

	alice := mustAccount(ctx, svc, 100_000_000_000)
	bob := mustAccount(ctx, svc, 0)
	carol := mustAccount(ctx, svc, 0)

	total := func() int64 {
		var sum int64
		for _, id := range []string{alice, bob, carol} {
			bal, err := svc.GetBalance(ctx, id, currency)
			if err != nil {
				log.Fatalf("balance %s: %v", id, err)
			}
			sum += bal.Amount
		}
		return sum
	}
	initial := total()

	// Escrow: fund and claim.
	esc := escrow.NewEngine(svc, currency)
	escRec, err := esc.Create(ctx, alice, 1_000, bob, now.Add(time.Hour), "smoke escrow")
	if err != nil {
		log.Fatalf("escrow create: %v", err)
	}
	if _, err := esc.Fund(ctx, escRec.ID, alice); err != nil {
		log.Fatalf("escrow fund: %v", err)
	}
	if _, err := esc.Claim(ctx, escRec.ID, bob); err != nil {
		log.Fatalf("escrow claim: %v", err)
	}

	// Recurring: two interval payments.
	rec := recurring.NewEngine(svc, currency)
	sched, err := rec.Create(ctx, alice, carol, 500, 60, 2, "smoke schedule")
	if err != nil {
		log.Fatalf("recurring create: %v", err)
	}
	if _, err := rec.Execute(ctx, sched.ID, alice); err != nil {
		log.Fatalf("recurring execute 1: %v", err)
	}
	now = now.Add(time.Minute)
	if _, err := rec.Execute(ctx, sched.ID, alice); err != nil {
		log.Fatalf("recurring execute 2: %v", err)
	}

	// Multisig: propose, approve, execute at threshold 2.
	ms := multisig.NewEngine(svc, currency)
	wallet, err := ms.Create(ctx, alice, []string{alice, bob, carol}, 2)
	if err != nil {
		log.Fatalf("multisig create: %v", err)
	}
	if _, err := svc.Transfer(ctx, alice, wallet.HoldingID, ledger.Money{Currency: currency, Amount: 5_000}, ""); err != nil {
		log.Fatalf("fund wallet: %v", err)
	}
	prop, err := ms.Propose(ctx, wallet.ID, alice, 2_000, carol, "smoke payout")
	if err != nil {
		log.Fatalf("multisig propose: %v", err)
	}
	if _, err := ms.Approve(ctx, prop.ID, bob); err != nil {
		log.Fatalf("multisig approve: %v", err)
	}
	if _, err := ms.Execute(ctx, prop.ID, alice); err != nil {
		log.Fatalf("multisig execute: %v", err)
	}
	// Return the unspent remainder so conservation checks over the
	// three wallets.
	if _, err := svc.Transfer(ctx, wallet.HoldingID, alice, ledger.Money{Currency: currency, Amount: 3_000}, ""); err != nil {
		log.Fatalf("drain wallet: %v", err)
	}

	// Staking: stake, accrue a year, claim, unstake. Rewards come out of
	// a pre-funded budget, so the pool must be drained back afterwards.
	stk := staking.NewEngine(svc, currency)
	pool, err := stk.InitializePool(ctx, alice, 1)
	if err != nil {
		log.Fatalf("staking pool: %v", err)
	}
	budget := int64(10_000_000_000)
	if _, err := svc.Transfer(ctx, alice, pool.HoldingID, ledger.Money{Currency: currency, Amount: budget}, ""); err != nil {
		log.Fatalf("fund pool: %v", err)
	}
	if _, err := stk.Stake(ctx, pool.ID, bob, 1_000, staking.LockNone); err != nil {
		log.Fatalf("stake: %v", err)
	}
	now = now.Add(365 * 24 * time.Hour)
	claimed, err := stk.ClaimRewards(ctx, pool.ID, bob)
	if err != nil {
		log.Fatalf("claim rewards: %v", err)
	}
	if _, err := stk.Unstake(ctx, pool.ID, bob, 1_000); err != nil {
		log.Fatalf("unstake: %v", err)
	}
	if _, err := svc.Transfer(ctx, pool.HoldingID, alice, ledger.Money{Currency: currency, Amount: budget - claimed}, ""); err != nil {
		log.Fatalf("drain pool: %v", err)
	}

	if got := total(); got != initial {
		log.Fatalf("conservation failed: %d != %d", got, initial)
	}

	fmt.Printf("smoke passed: escrow=%s schedule=%s wallet=%s pool=%s claimed=%d\n",
		escRec.ID, sched.ID, wallet.ID, pool.ID, claimed)
}

func mustAccount(ctx context.Context, svc ledger.Service, amount int64) string {
	acc, err := svc.CreateAccount(ctx, ledger.Money{Currency: currency, Amount: amount})
	if err != nil {
		log.Fatalf("create account: %v", err)
	}
	return acc.ID
}
