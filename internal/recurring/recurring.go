// Package recurring schedules N equal payments from a payer to a recipient
// at a fixed interval. No funds are held in advance; each execution debits
// the payer directly, so cancellation never refunds anything.
package recurring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"custodia.org/internal/engine"
	"custodia.org/internal/ids"
	"custodia.org/internal/ledger"
)

var (
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrInvalidTotalPayments = errors.New("total payments must be greater than zero")
	ErrAllPaymentsCompleted = errors.New("all payments completed")
	ErrPaymentNotDue        = errors.New("payment not due yet")
)

// Record is one payment schedule.
type Record struct {
	ID              string    `json:"id"`
	Payer           string    `json:"payer"`
	Recipient       string    `json:"recipient"`
	Amount          int64     `json:"amount"`
	IntervalSeconds int64     `json:"interval_seconds"`
	TotalPayments   uint64    `json:"total_payments"`
	PaymentsMade    uint64    `json:"payments_made"`
	CreatedAt       time.Time `json:"created_at"`
	LastPaymentAt   time.Time `json:"last_payment_at"` // zero until the first execution
	Active          bool      `json:"active"`
	Description     string    `json:"description"`
}

// Engine owns the recurring payment records.
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

// Create registers an active schedule with zero payments made.
func (e *Engine) Create(ctx context.Context, payer, recipient string, amount int64, intervalSeconds int64, totalPayments uint64, description string) (Record, error) {
	if amount <= 0 {
		return Record{}, ErrInvalidAmount
	}
	if totalPayments == 0 {
		return Record{}, ErrInvalidTotalPayments
	}
	if err := engine.CheckDescription(description); err != nil {
		return Record{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec := &Record{
		ID:              ids.New(),
		Payer:           payer,
		Recipient:       recipient,
		Amount:          amount,
		IntervalSeconds: intervalSeconds,
		TotalPayments:   totalPayments,
		CreatedAt:       e.ledger.Now(),
		Active:          true,
		Description:     description,
	}
	e.records[rec.ID] = rec
	return *rec, nil
}

// Execute performs the next due payment. The first payment is always due;
// subsequent ones require a full interval since the previous execution.
func (e *Engine) Execute(ctx context.Context, id, caller string) (ledger.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[id]
	if !ok {
		return ledger.Transaction{}, ledger.ErrNotFound
	}
	if caller != rec.Payer {
		return ledger.Transaction{}, engine.ErrUnauthorized
	}
	if !rec.Active || rec.PaymentsMade >= rec.TotalPayments {
		return ledger.Transaction{}, ErrAllPaymentsCompleted
	}

	now := e.ledger.Now()
	if rec.PaymentsMade > 0 && now.Sub(rec.LastPaymentAt) < time.Duration(rec.IntervalSeconds)*time.Second {
		return ledger.Transaction{}, ErrPaymentNotDue
	}

	idemKey := fmt.Sprintf("recurring:%s:%d", rec.ID, rec.PaymentsMade+1)
	tx, err := e.ledger.Transfer(ctx, rec.Payer, rec.Recipient,
		ledger.Money{Currency: e.currency, Amount: rec.Amount}, idemKey)
	if err != nil {
		return ledger.Transaction{}, err
	}

	rec.PaymentsMade++
	rec.LastPaymentAt = now
	if rec.PaymentsMade >= rec.TotalPayments {
		rec.Active = false
	}
	return tx, nil
}

// Cancel deactivates the schedule and closes the record.
func (e *Engine) Cancel(ctx context.Context, id, caller string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[id]
	if !ok {
		return ledger.ErrNotFound
	}
	if caller != rec.Payer {
		return engine.ErrUnauthorized
	}
	delete(e.records, id)
	return nil
}

// Get returns a copy of the record.
func (e *Engine) Get(ctx context.Context, id string) (Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.records[id]
	if !ok {
		return Record{}, ledger.ErrNotFound
	}
	return *rec, nil
}
