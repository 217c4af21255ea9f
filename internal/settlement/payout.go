// Package settlement holds the parimutuel arithmetic. Every function works in
// integer base units and multiplies before dividing through a 256-bit
// intermediate, so no product of two pool-sized values can overflow.
package settlement

import (
	"math"

	"github.com/holiman/uint256"

	"github.com/punchamoorthee/parimutuel/internal/domain"
)

// BasisPoints is 100%.
const BasisPoints = 10_000

// EvenOddsBps is quoted when a market has no stake yet.
const EvenOddsBps = BasisPoints / 2

// Payout is floor(total * stake / winningPool).
func Payout(total, stake, winningPool int64) (int64, error) {
	if winningPool == 0 {
		return 0, domain.ErrEmptyWinningPool
	}
	if total < 0 || stake < 0 || winningPool < 0 {
		return 0, domain.ErrOverflow.WithMessage("negative pool value")
	}
	return mulDiv(total, stake, winningPool)
}

// OddsBps is the share of total held by sidePool, in basis points.
func OddsBps(sidePool, total int64) (int64, error) {
	if total == 0 {
		return EvenOddsBps, nil
	}
	return mulDiv(sidePool, BasisPoints, total)
}

// CheckedAdd adds two non-negative amounts and rejects int64 overflow.
func CheckedAdd(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, domain.ErrOverflow.WithMessage("negative operand")
	}
	if a > math.MaxInt64-b {
		return 0, domain.ErrOverflow.WithMessage("pool total exceeds int64")
	}
	return a + b, nil
}

// CheckedSub subtracts b from a and rejects a negative result.
func CheckedSub(a, b int64) (int64, error) {
	if b < 0 || a < b {
		return 0, domain.ErrOverflow.WithMessage("subtraction underflow")
	}
	return a - b, nil
}

func mulDiv(x, y, d int64) (int64, error) {
	product := new(uint256.Int).Mul(uint256.NewInt(uint64(x)), uint256.NewInt(uint64(y)))
	quotient := product.Div(product, uint256.NewInt(uint64(d)))
	if !quotient.IsUint64() || quotient.Uint64() > math.MaxInt64 {
		return 0, domain.ErrOverflow.WithMessage("payout exceeds int64")
	}
	return int64(quotient.Uint64()), nil
}
