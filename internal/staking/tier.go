package staking

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"custodia.org/internal/engine"
)

// Tier thresholds in minor units (6 decimal places).
const (
	tierSilverMin  = 1_000_000_000
	tierGoldMin    = 10_000_000_000
	tierDiamondMin = 50_000_000_000
)

// Base APY per tier, in basis points.
const (
	bronzeAPY  = 800
	silverAPY  = 1500
	goldAPY    = 2500
	diamondAPY = 4000
)

// Lock-period multipliers in basis points, 1000 = 1.0x.
const (
	noLockMultiplier  = 1000
	lock30Multiplier  = 1300
	lock90Multiplier  = 1700
	lock180Multiplier = 2500
)

const secondsPerYear = 365 * 24 * 60 * 60

// Tier is the discrete staking class derived from the staked amount.
type Tier uint8

const (
	TierBronze Tier = iota
	TierSilver
	TierGold
	TierDiamond
)

func (t Tier) String() string {
	switch t {
	case TierSilver:
		return "silver"
	case TierGold:
		return "gold"
	case TierDiamond:
		return "diamond"
	default:
		return "bronze"
	}
}

func (t Tier) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// BaseAPY returns the tier's base APY in basis points.
func (t Tier) BaseAPY() int64 {
	switch t {
	case TierSilver:
		return silverAPY
	case TierGold:
		return goldAPY
	case TierDiamond:
		return diamondAPY
	default:
		return bronzeAPY
	}
}

// TierFor derives the tier from the cumulative staked amount. It is pure and
// monotonically non-decreasing in amount.
func TierFor(amount int64) Tier {
	switch {
	case amount >= tierDiamondMin:
		return TierDiamond
	case amount >= tierGoldMin:
		return TierGold
	case amount >= tierSilverMin:
		return TierSilver
	default:
		return TierBronze
	}
}

// LockPeriod is the caller-chosen withdrawal lock; it also scales the APY.
type LockPeriod uint8

const (
	LockNone LockPeriod = iota
	Lock30Days
	Lock90Days
	Lock180Days
)

var ErrInvalidLockPeriod = errors.New("invalid lock period")

// ParseLockPeriod maps the wire representation to a LockPeriod.
func ParseLockPeriod(s string) (LockPeriod, error) {
	switch s {
	case "", "none":
		return LockNone, nil
	case "30d":
		return Lock30Days, nil
	case "90d":
		return Lock90Days, nil
	case "180d":
		return Lock180Days, nil
	default:
		return LockNone, fmt.Errorf("%w: %q", ErrInvalidLockPeriod, s)
	}
}

func (p LockPeriod) String() string {
	switch p {
	case Lock30Days:
		return "30d"
	case Lock90Days:
		return "90d"
	case Lock180Days:
		return "180d"
	default:
		return "none"
	}
}

func (p LockPeriod) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// Duration returns the lock window length; zero for LockNone.
func (p LockPeriod) Duration() time.Duration {
	switch p {
	case Lock30Days:
		return 30 * 24 * time.Hour
	case Lock90Days:
		return 90 * 24 * time.Hour
	case Lock180Days:
		return 180 * 24 * time.Hour
	default:
		return 0
	}
}

// Multiplier returns the lock multiplier in basis points (1000 = 1.0x).
func (p LockPeriod) Multiplier() int64 {
	switch p {
	case Lock30Days:
		return lock30Multiplier
	case Lock90Days:
		return lock90Multiplier
	case Lock180Days:
		return lock180Multiplier
	default:
		return noLockMultiplier
	}
}

// effectiveAPY combines the tier base APY with the lock multiplier:
// base * multiplier / 1000, in basis points.
func effectiveAPY(tier Tier, lock LockPeriod) int64 {
	return tier.BaseAPY() * lock.Multiplier() / 1000
}

// accrue computes the linear reward for an elapsed interval:
//
//	amount * effectiveAPY * elapsedSeconds / (10000 * secondsPerYear)
//
// using a 128-bit intermediate, truncating to whole reward units. A
// non-positive interval accrues nothing.
func accrue(amount int64, tier Tier, lock LockPeriod, elapsed time.Duration) (int64, error) {
	seconds := int64(elapsed / time.Second)
	if amount <= 0 || seconds <= 0 {
		return 0, nil
	}

	num := new(big.Int).SetInt64(amount)
	num.Mul(num, big.NewInt(effectiveAPY(tier, lock)))
	num.Mul(num, big.NewInt(seconds))
	num.Quo(num, big.NewInt(10_000*secondsPerYear))

	if !num.IsInt64() {
		return 0, engine.ErrOverflow
	}
	return num.Int64(), nil
}
