// Package multisig implements owner-set-governed transfers: any owner may
// propose a payout from the multisig's pooled holding, owners vote, and the
// transfer executes once the approval count reaches the threshold.
package multisig

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"custodia.org/internal/engine"
	"custodia.org/internal/ids"
	"custodia.org/internal/ledger"
)

// MaxOwners bounds the owner list of a single multisig.
const MaxOwners = 10

var (
	ErrTooManyOwners         = errors.New("too many owners")
	ErrInvalidThreshold      = errors.New("invalid threshold")
	ErrNotAnOwner            = errors.New("not an owner")
	ErrAlreadyApproved       = errors.New("owner already approved")
	ErrAlreadyExecuted       = errors.New("transaction already executed")
	ErrInsufficientApprovals = errors.New("insufficient approvals")
)

// Record is one multisig wallet. The owner list is stored as given; the
// approval set is keyed by account id, so duplicate list entries grant no
// extra votes.
type Record struct {
	ID               string    `json:"id"`
	Creator          string    `json:"creator"`
	Owners           []string  `json:"owners"`
	Threshold        uint64    `json:"threshold"`
	TransactionCount uint64    `json:"transaction_count"`
	HoldingID        string    `json:"holding_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// TransactionRecord is one proposed payout. Once executed it is immutable;
// a rejected record is removed.
type TransactionRecord struct {
	ID          string    `json:"id"`
	MultisigID  string    `json:"multisig_id"`
	Recipient   string    `json:"recipient"`
	Amount      int64     `json:"amount"`
	Index       uint64    `json:"index"`
	Approvals   []string  `json:"approvals"`
	Executed    bool      `json:"executed"`
	Proposer    string    `json:"proposer"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description"`
}

// Engine owns multisig wallets and their proposed transactions.
type Engine struct {
	mu       sync.Mutex
	ledger   ledger.Service
	currency string
	wallets  map[string]*Record
	txs      map[string]*TransactionRecord
}

func NewEngine(l ledger.Service, currency string) *Engine {
	return &Engine{
		ledger:   l,
		currency: currency,
		wallets:  make(map[string]*Record),
		txs:      make(map[string]*TransactionRecord),
	}
}

// Create registers a multisig wallet and provisions its pooled holding
// account. The holding is funded by ordinary ledger transfers.
func (e *Engine) Create(ctx context.Context, creator string, owners []string, threshold uint64) (Record, error) {
	if len(owners) > MaxOwners {
		return Record{}, ErrTooManyOwners
	}
	if threshold == 0 || threshold > uint64(len(owners)) {
		return Record{}, ErrInvalidThreshold
	}

	holding, err := e.ledger.CreateAccount(ctx, ledger.Money{Currency: e.currency, Amount: 0})
	if err != nil {
		return Record{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec := &Record{
		ID:        ids.New(),
		Creator:   creator,
		Owners:    slices.Clone(owners),
		Threshold: threshold,
		HoldingID: holding.ID,
		CreatedAt: e.ledger.Now(),
	}
	e.wallets[rec.ID] = rec
	return e.walletCopy(rec), nil
}

// Propose creates a transaction at the wallet's next index. The proposer's
// vote is counted immediately.
func (e *Engine) Propose(ctx context.Context, multisigID, proposer string, amount int64, recipient, description string) (TransactionRecord, error) {
	if err := engine.CheckDescription(description); err != nil {
		return TransactionRecord{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	wallet, ok := e.wallets[multisigID]
	if !ok {
		return TransactionRecord{}, ledger.ErrNotFound
	}
	if !slices.Contains(wallet.Owners, proposer) {
		return TransactionRecord{}, ErrNotAnOwner
	}

	tx := &TransactionRecord{
		ID:          ids.New(),
		MultisigID:  wallet.ID,
		Recipient:   recipient,
		Amount:      amount,
		Index:       wallet.TransactionCount,
		Approvals:   []string{proposer},
		Proposer:    proposer,
		CreatedAt:   e.ledger.Now(),
		Description: description,
	}
	wallet.TransactionCount++
	e.txs[tx.ID] = tx
	return e.txCopy(tx), nil
}

// Approve appends the owner's vote to the transaction.
func (e *Engine) Approve(ctx context.Context, txID, owner string) (TransactionRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, wallet, err := e.lookup(txID)
	if err != nil {
		return TransactionRecord{}, err
	}
	if !slices.Contains(wallet.Owners, owner) {
		return TransactionRecord{}, ErrNotAnOwner
	}
	if tx.Executed {
		return TransactionRecord{}, ErrAlreadyExecuted
	}
	if slices.Contains(tx.Approvals, owner) {
		return TransactionRecord{}, ErrAlreadyApproved
	}
	tx.Approvals = append(tx.Approvals, owner)
	return e.txCopy(tx), nil
}

// Execute pays the transaction out of the pooled holding once the threshold
// is met. The transfer is authorized by the multisig itself, not by any
// individual owner.
func (e *Engine) Execute(ctx context.Context, txID, executor string) (ledger.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, wallet, err := e.lookup(txID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if tx.Executed {
		return ledger.Transaction{}, ErrAlreadyExecuted
	}
	if uint64(len(tx.Approvals)) < wallet.Threshold {
		return ledger.Transaction{}, ErrInsufficientApprovals
	}

	out, err := e.ledger.Transfer(ctx, wallet.HoldingID, tx.Recipient,
		ledger.Money{Currency: e.currency, Amount: tx.Amount}, "multisig:execute:"+tx.ID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	tx.Executed = true
	return out, nil
}

// Reject is a unilateral veto: any single owner may close an unexecuted
// transaction.
func (e *Engine) Reject(ctx context.Context, txID, owner string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, wallet, err := e.lookup(txID)
	if err != nil {
		return err
	}
	if !slices.Contains(wallet.Owners, owner) {
		return ErrNotAnOwner
	}
	if tx.Executed {
		return ErrAlreadyExecuted
	}
	delete(e.txs, txID)
	return nil
}

// Get returns a copy of the wallet record.
func (e *Engine) Get(ctx context.Context, id string) (Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	wallet, ok := e.wallets[id]
	if !ok {
		return Record{}, ledger.ErrNotFound
	}
	return e.walletCopy(wallet), nil
}

// GetTransaction returns a copy of the transaction record.
func (e *Engine) GetTransaction(ctx context.Context, id string) (TransactionRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tx, ok := e.txs[id]
	if !ok {
		return TransactionRecord{}, ledger.ErrNotFound
	}
	return e.txCopy(tx), nil
}

func (e *Engine) lookup(txID string) (*TransactionRecord, *Record, error) {
	tx, ok := e.txs[txID]
	if !ok {
		return nil, nil, ledger.ErrNotFound
	}
	wallet, ok := e.wallets[tx.MultisigID]
	if !ok {
		return nil, nil, ledger.ErrNotFound
	}
	return tx, wallet, nil
}

func (e *Engine) walletCopy(rec *Record) Record {
	out := *rec
	out.Owners = slices.Clone(rec.Owners)
	return out
}

func (e *Engine) txCopy(tx *TransactionRecord) TransactionRecord {
	out := *tx
	out.Approvals = slices.Clone(tx.Approvals)
	return out
}
