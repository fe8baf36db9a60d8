// Package engine holds the plumbing shared by the four business-logic
// engines: checked minor-unit arithmetic and the failure modes that are not
// specific to a single entity family.
package engine

import "errors"

// MaxDescriptionLen bounds free-text description fields, in bytes.
const MaxDescriptionLen = 200

var (
	// ErrUnauthorized means the caller is not the party the operation requires.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrOverflow means a checked add/sub/mul would leave the int64 minor-unit range.
	ErrOverflow = errors.New("arithmetic overflow")
	// ErrDescriptionTooLong means a description exceeds MaxDescriptionLen bytes.
	ErrDescriptionTooLong = errors.New("description too long")
)

// CheckDescription validates a free-text description field.
func CheckDescription(s string) error {
	if len(s) > MaxDescriptionLen {
		return ErrDescriptionTooLong
	}
	return nil
}

// CheckedAdd returns a+b or ErrOverflow. Amounts are non-negative minor units.
func CheckedAdd(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, ErrOverflow
	}
	sum := a + b
	if sum < a {
		return 0, ErrOverflow
	}
	return sum, nil
}

// CheckedSub returns a-b or ErrOverflow when the result would go negative.
func CheckedSub(a, b int64) (int64, error) {
	if b < 0 || a < b {
		return 0, ErrOverflow
	}
	return a - b, nil
}
