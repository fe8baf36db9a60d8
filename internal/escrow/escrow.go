// Package escrow implements time-bounded transfers between a creator and a
// fixed recipient. Funds are parked on a per-escrow holding account until
// the recipient claims them before expiry or the creator cancels after it.
package escrow

import (
	"context"
	"errors"
	"sync"
	"time"

	"custodia.org/internal/engine"
	"custodia.org/internal/ids"
	"custodia.org/internal/ledger"
)

var (
	ErrInvalidExpiry    = errors.New("expiry must be in the future")
	ErrAlreadyFunded    = errors.New("escrow already funded")
	ErrNotFunded        = errors.New("escrow not funded")
	ErrEscrowExpired    = errors.New("escrow has expired")
	ErrEscrowNotExpired = errors.New("escrow has not expired yet")
)

// Record is one escrow entity. A record is terminal: it is removed after a
// successful claim or cancel.
type Record struct {
	ID          string    `json:"id"`
	Creator     string    `json:"creator"`
	Recipient   string    `json:"recipient"`
	HoldingID   string    `json:"holding_id"`
	Amount      int64     `json:"amount"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Funded      bool      `json:"funded"`
	Description string    `json:"description"`
}

// Engine owns the escrow records. All operations are serialized; each call
// either completes fully or leaves no partial mutation behind, so every
// ledger transfer is the last fallible step before state is written back.
type Engine struct {
	mu       sync.Mutex
	ledger   ledger.Service
	currency string
	records  map[string]*Record
}

func NewEngine(l ledger.Service, currency string) *Engine {
	return &Engine{
		ledger:   l,
		currency: currency,
		records:  make(map[string]*Record),
	}
}

// Create registers a new unfunded escrow and provisions its holding account.
func (e *Engine) Create(ctx context.Context, creator string, amount int64, recipient string, expiresAt time.Time, description string) (Record, error) {
	if err := engine.CheckDescription(description); err != nil {
		return Record{}, err
	}
	now := e.ledger.Now()
	if !expiresAt.After(now) {
		return Record{}, ErrInvalidExpiry
	}

	holding, err := e.ledger.CreateAccount(ctx, ledger.Money{Currency: e.currency, Amount: 0})
	if err != nil {
		return Record{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec := &Record{
		ID:          ids.New(),
		Creator:     creator,
		Recipient:   recipient,
		HoldingID:   holding.ID,
		Amount:      amount,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
		Description: description,
	}
	e.records[rec.ID] = rec
	return *rec, nil
}

// Fund moves the escrow amount from the creator onto the holding account.
func (e *Engine) Fund(ctx context.Context, id, caller string) (ledger.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[id]
	if !ok {
		return ledger.Transaction{}, ledger.ErrNotFound
	}
	if caller != rec.Creator {
		return ledger.Transaction{}, engine.ErrUnauthorized
	}
	if rec.Funded {
		return ledger.Transaction{}, ErrAlreadyFunded
	}
	if !e.ledger.Now().Before(rec.ExpiresAt) {
		return ledger.Transaction{}, ErrEscrowExpired
	}

	tx, err := e.ledger.Transfer(ctx, rec.Creator, rec.HoldingID,
		ledger.Money{Currency: e.currency, Amount: rec.Amount}, "escrow:fund:"+rec.ID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	rec.Funded = true
	return tx, nil
}

// Claim pays the funded escrow out to the recipient and closes the record.
func (e *Engine) Claim(ctx context.Context, id, caller string) (ledger.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[id]
	if !ok {
		return ledger.Transaction{}, ledger.ErrNotFound
	}
	if !rec.Funded {
		return ledger.Transaction{}, ErrNotFunded
	}
	if caller != rec.Recipient {
		return ledger.Transaction{}, engine.ErrUnauthorized
	}
	if !e.ledger.Now().Before(rec.ExpiresAt) {
		return ledger.Transaction{}, ErrEscrowExpired
	}

	tx, err := e.ledger.Transfer(ctx, rec.HoldingID, rec.Recipient,
		ledger.Money{Currency: e.currency, Amount: rec.Amount}, "escrow:claim:"+rec.ID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	delete(e.records, id)
	return tx, nil
}

// Cancel refunds an expired escrow to its creator and closes the record.
// Unfunded, unexpired escrows cannot be cancelled; they are claimed after
// funding or left to expire.
func (e *Engine) Cancel(ctx context.Context, id, caller string) (ledger.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[id]
	if !ok {
		return ledger.Transaction{}, ledger.ErrNotFound
	}
	if caller != rec.Creator {
		return ledger.Transaction{}, engine.ErrUnauthorized
	}
	if e.ledger.Now().Before(rec.ExpiresAt) {
		return ledger.Transaction{}, ErrEscrowNotExpired
	}

	var tx ledger.Transaction
	if rec.Funded {
		var err error
		tx, err = e.ledger.Transfer(ctx, rec.HoldingID, rec.Creator,
			ledger.Money{Currency: e.currency, Amount: rec.Amount}, "escrow:cancel:"+rec.ID)
		if err != nil {
			return ledger.Transaction{}, err
		}
	}
	delete(e.records, id)
	return tx, nil
}

// Get returns a copy of the record, or ledger.ErrNotFound once it is closed.
func (e *Engine) Get(ctx context.Context, id string) (Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.records[id]
	if !ok {
		return Record{}, ledger.ErrNotFound
	}
	return *rec, nil
}
