package ledger

import (
	"fmt"
	"math"

	"github.com/holiman/uint256"
)

// mulDiv returns floor(x*y/d) using a 256-bit intermediate.
func mulDiv(x, y, d uint64) (uint64, error) {
	if d == 0 {
		return 0, fmt.Errorf("divide by zero: %w", ErrInvalidAmount)
	}
	z, overflow := new(uint256.Int).MulDivOverflow(uint256.NewInt(x), uint256.NewInt(y), uint256.NewInt(d))
	if overflow || !z.IsUint64() {
		return 0, fmt.Errorf("result overflows: %w", ErrInvalidAmount)
	}
	return z.Uint64(), nil
}

func addChecked(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, fmt.Errorf("%d + %d overflows: %w", a, b, ErrInvalidAmount)
	}
	return a + b, nil
}

// FeeRate is a flash loan fee expressed as a fraction of the principal.
type FeeRate struct {
	Numerator   uint64 `json:"numerator"`
	Denominator uint64 `json:"denominator"`
}

// DefaultFeeRate is 0.3%.
var DefaultFeeRate = FeeRate{Numerator: 3, Denominator: 1000}

func (r FeeRate) Validate() error {
	if r.Denominator == 0 || r.Numerator >= r.Denominator {
		return fmt.Errorf("%d/%d: %w", r.Numerator, r.Denominator, ErrInvalidFeeRate)
	}
	return nil
}

// Fee returns floor(amount * numerator / denominator).
func (r FeeRate) Fee(amount uint64) (uint64, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	return mulDiv(amount, r.Numerator, r.Denominator)
}

func (r FeeRate) String() string {
	return fmt.Sprintf("%d/%d", r.Numerator, r.Denominator)
}

// QuoteDeposit returns the shares minted for amount against the given
// counters. Rounding always floors in favour of existing holders.
func QuoteDeposit(reserveBalance, shareSupply, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, ErrInvalidAmount
	}
	if shareSupply == 0 {
		return amount, nil
	}
	if reserveBalance == 0 {
		return 0, fmt.Errorf("shares outstanding against zero reserve: %w", ErrEmptyPool)
	}
	return mulDiv(amount, shareSupply, reserveBalance)
}

// QuoteWithdraw returns the reserve amount released for burning shares.
func QuoteWithdraw(reserveBalance, shareSupply, shares uint64) (uint64, error) {
	if shares == 0 {
		return 0, nil
	}
	if shareSupply == 0 {
		return 0, ErrEmptyPool
	}
	if shares > shareSupply {
		return 0, fmt.Errorf("burn %d of %d: %w", shares, shareSupply, ErrInsufficientShares)
	}
	return mulDiv(shares, reserveBalance, shareSupply)
}
