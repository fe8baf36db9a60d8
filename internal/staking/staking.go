// Package staking implements pooled staking with tier-based APY, lock-period
// multipliers, linear reward accrual, claiming, unstaking and compounding.
// Stake principal sits on a per-pool holding account; rewards are paid from
// the same holding, which the pool authority tops up with ordinary ledger
// transfers.
package staking

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
	ErrNoRewardsToClaim  = errors.New("no rewards to claim")
	ErrStakeStillLocked  = errors.New("stake is still locked")
	ErrInsufficientStake = errors.New("insufficient staked amount")
)

// Pool aggregates the stake of many positions.
type Pool struct {
	ID                      string    `json:"id"`
	Authority               string    `json:"authority"`
	RewardCurrency          string    `json:"reward_currency"`
	HoldingID               string    `json:"holding_id"`
	TotalStaked             int64     `json:"total_staked"`
	TotalRewardsDistributed int64     `json:"total_rewards_distributed"`
	RewardRate              int64     `json:"reward_rate"`
	CreatedAt               time.Time `json:"created_at"`
	LastUpdate              time.Time `json:"last_update"`
}

// Position is one user's stake in one pool. Tier is always derived from
// AmountStaked, never set directly. A zero LockEndTime means unlocked.
type Position struct {
	Owner            string     `json:"owner"`
	PoolID           string     `json:"pool_id"`
	AmountStaked     int64      `json:"amount_staked"`
	PendingRewards   int64      `json:"pending_rewards"`
	RewardsClaimed   int64      `json:"rewards_claimed"`
	StakeTimestamp   time.Time  `json:"stake_timestamp"`
	LastClaimAt      time.Time  `json:"last_claim_timestamp"`
	LockEndTime      time.Time  `json:"lock_end_time"`
	LockPeriod       LockPeriod `json:"lock_period"`
	Tier             Tier       `json:"tier"`
}

type positionKey struct {
	pool  string
	owner string
}

// Engine owns staking pools and the positions within them.
type Engine struct {
	mu        sync.Mutex
	ledger    ledger.Service
	currency  string
	pools     map[string]*Pool
	positions map[positionKey]*Position
}

func NewEngine(l ledger.Service, currency string) *Engine {
	return &Engine{
		ledger:    l,
		currency:  currency,
		pools:     make(map[string]*Pool),
		positions: make(map[positionKey]*Position),
	}
}

// InitializePool creates a pool with zero totals and its holding account.
func (e *Engine) InitializePool(ctx context.Context, authority string, rewardRate int64) (Pool, error) {
	holding, err := e.ledger.CreateAccount(ctx, ledger.Money{Currency: e.currency, Amount: 0})
	if err != nil {
		return Pool{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.ledger.Now()
	pool := &Pool{
		ID:             ids.New(),
		Authority:      authority,
		RewardCurrency: e.currency,
		HoldingID:      holding.ID,
		RewardRate:     rewardRate,
		CreatedAt:      now,
		LastUpdate:     now,
	}
	e.pools[pool.ID] = pool
	return *pool, nil
}

// Stake adds principal to the caller's position, settling any accrued
// rewards first. Each stake call replaces the lock period and restarts the
// lock window; it never extends the previous one.
func (e *Engine) Stake(ctx context.Context, poolID, user string, amount int64, lock LockPeriod) (Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pool, ok := e.pools[poolID]
	if !ok {
		return Position{}, ledger.ErrNotFound
	}

	now := e.ledger.Now()
	key := positionKey{pool: poolID, owner: user}
	pos, exists := e.positions[key]

	// Compute the post-stake state before touching anything, so a failed
	// transfer leaves no partial mutation behind.
	var pending int64
	var staked int64
	if exists {
		accrued, err := accrue(pos.AmountStaked, pos.Tier, pos.LockPeriod, now.Sub(pos.LastClaimAt))
		if err != nil {
			return Position{}, err
		}
		pending, err = engine.CheckedAdd(pos.PendingRewards, accrued)
		if err != nil {
			return Position{}, err
		}
		staked, err = engine.CheckedAdd(pos.AmountStaked, amount)
		if err != nil {
			return Position{}, err
		}
	} else {
		staked = amount
	}
	poolTotal, err := engine.CheckedAdd(pool.TotalStaked, amount)
	if err != nil {
		return Position{}, err
	}

	if _, err := e.ledger.Transfer(ctx, user, pool.HoldingID,
		ledger.Money{Currency: e.currency, Amount: amount}, ""); err != nil {
		return Position{}, err
	}

	if !exists {
		pos = &Position{
			Owner:          user,
			PoolID:         poolID,
			StakeTimestamp: now,
		}
		e.positions[key] = pos
	}
	pos.AmountStaked = staked
	pos.PendingRewards = pending
	pos.Tier = TierFor(staked)
	pos.LockPeriod = lock
	if d := lock.Duration(); d > 0 {
		pos.LockEndTime = now.Add(d)
	} else {
		pos.LockEndTime = time.Time{}
	}
	pos.LastClaimAt = now

	pool.TotalStaked = poolTotal
	pool.LastUpdate = now
	return *pos, nil
}

// ClaimRewards pays out everything accrued so far.
func (e *Engine) ClaimRewards(ctx context.Context, poolID, user string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pool, pos, err := e.lookup(poolID, user)
	if err != nil {
		return 0, err
	}

	now := e.ledger.Now()
	total, err := e.claimable(pos, now)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, ErrNoRewardsToClaim
	}

	claimed, err := engine.CheckedAdd(pos.RewardsClaimed, total)
	if err != nil {
		return 0, err
	}
	distributed, err := engine.CheckedAdd(pool.TotalRewardsDistributed, total)
	if err != nil {
		return 0, err
	}

	if _, err := e.ledger.Transfer(ctx, pool.HoldingID, user,
		ledger.Money{Currency: e.currency, Amount: total}, ""); err != nil {
		return 0, err
	}

	pos.RewardsClaimed = claimed
	pos.PendingRewards = 0
	pos.LastClaimAt = now
	pool.TotalRewardsDistributed = distributed
	pool.LastUpdate = now
	return total, nil
}

// Unstake withdraws principal after the lock window has passed. Pending
// rewards are left untouched: they stay on the position and keep their
// last settlement point. A position unstaked to zero is closed, and any
// unsettled accrual is forfeited with it.
func (e *Engine) Unstake(ctx context.Context, poolID, user string, amount int64) (Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pool, pos, err := e.lookup(poolID, user)
	if err != nil {
		return Position{}, err
	}

	now := e.ledger.Now()
	if !pos.LockEndTime.IsZero() && now.Before(pos.LockEndTime) {
		return Position{}, ErrStakeStillLocked
	}
	if amount > pos.AmountStaked {
		return Position{}, ErrInsufficientStake
	}

	staked, err := engine.CheckedSub(pos.AmountStaked, amount)
	if err != nil {
		return Position{}, err
	}
	poolTotal, err := engine.CheckedSub(pool.TotalStaked, amount)
	if err != nil {
		return Position{}, err
	}

	if _, err := e.ledger.Transfer(ctx, pool.HoldingID, user,
		ledger.Money{Currency: e.currency, Amount: amount}, ""); err != nil {
		return Position{}, err
	}

	pos.AmountStaked = staked
	pos.Tier = TierFor(staked)
	pool.TotalStaked = poolTotal
	pool.LastUpdate = now

	out := *pos
	if staked == 0 {
		delete(e.positions, positionKey{pool: poolID, owner: user})
	}
	return out, nil
}

// CompoundRewards re-stakes everything accrued so far without a ledger
// transfer. Pool totals track deposited principal only; compounded rewards
// live on the position.
func (e *Engine) CompoundRewards(ctx context.Context, poolID, user string) (Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pool, pos, err := e.lookup(poolID, user)
	if err != nil {
		return Position{}, err
	}

	now := e.ledger.Now()
	total, err := e.claimable(pos, now)
	if err != nil {
		return Position{}, err
	}
	if total == 0 {
		return Position{}, ErrNoRewardsToClaim
	}

	staked, err := engine.CheckedAdd(pos.AmountStaked, total)
	if err != nil {
		return Position{}, err
	}

	pos.AmountStaked = staked
	pos.Tier = TierFor(staked)
	pos.PendingRewards = 0
	pos.LastClaimAt = now
	pool.LastUpdate = now
	return *pos, nil
}

// GetPool returns a copy of the pool record.
func (e *Engine) GetPool(ctx context.Context, id string) (Pool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pool, ok := e.pools[id]
	if !ok {
		return Pool{}, ledger.ErrNotFound
	}
	return *pool, nil
}

// GetPosition returns a copy of the (pool, user) position.
func (e *Engine) GetPosition(ctx context.Context, poolID, user string) (Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[positionKey{pool: poolID, owner: user}]
	if !ok {
		return Position{}, ledger.ErrNotFound
	}
	return *pos, nil
}

func (e *Engine) lookup(poolID, user string) (*Pool, *Position, error) {
	pool, ok := e.pools[poolID]
	if !ok {
		return nil, nil, ledger.ErrNotFound
	}
	pos, ok := e.positions[positionKey{pool: poolID, owner: user}]
	if !ok {
		return nil, nil, ledger.ErrNotFound
	}
	return pool, pos, nil
}

// claimable is pending rewards plus the accrual since the last settlement.
func (e *Engine) claimable(pos *Position, now time.Time) (int64, error) {
	accrued, err := accrue(pos.AmountStaked, pos.Tier, pos.LockPeriod, now.Sub(pos.LastClaimAt))
	if err != nil {
		return 0, err
	}
	return engine.CheckedAdd(pos.PendingRewards, accrued)
}
