package ledger

import (
	"errors"
	"math"
	"math/bits"
	"testing"
)

func TestQuoteDepositBootstrap(t *testing.T) {
	shares, err := QuoteDeposit(0, 0, 1000)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if shares != 1000 {
		t.Fatalf("bootstrap should mint 1:1, got %d", shares)
	}
}

func TestQuoteDepositFloorsInFavourOfPool(t *testing.T) {
	cases := []struct {
		reserve, supply, amount uint64
	}{
		{1500, 1000, 7},
		{1003, 1000, 999},
		{3, 1, 2},
		{math.MaxUint64, math.MaxUint64 - 1, math.MaxUint64 / 3},
		{1 << 40, 1 << 50, 12345},
	}
	for _, tc := range cases {
		shares, err := QuoteDeposit(tc.reserve, tc.supply, tc.amount)
		if err != nil {
			t.Fatalf("quote %+v: %v", tc, err)
		}
		// shares * reserve <= amount * supply, compared on 128 bits
		lhsHi, lhsLo := bits.Mul64(shares, tc.reserve)
		rhsHi, rhsLo := bits.Mul64(tc.amount, tc.supply)
		if lhsHi > rhsHi || (lhsHi == rhsHi && lhsLo > rhsLo) {
			t.Fatalf("rounding favoured depositor for %+v: shares=%d", tc, shares)
		}
	}
}

func TestQuoteDepositOverflow(t *testing.T) {
	if _, err := QuoteDeposit(1, math.MaxUint64, 2); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected overflow to be invalid amount, got %v", err)
	}
}

func TestQuoteDepositZero(t *testing.T) {
	if _, err := QuoteDeposit(10, 10, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestQuoteWithdraw(t *testing.T) {
	amount, err := QuoteWithdraw(1500, 1000, 333)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if amount != 499 {
		t.Fatalf("expected floor(333*1500/1000)=499, got %d", amount)
	}

	if amount, err := QuoteWithdraw(0, 0, 0); err != nil || amount != 0 {
		t.Fatalf("zero shares should release zero, got %d %v", amount, err)
	}
	if _, err := QuoteWithdraw(0, 0, 5); !errors.Is(err, ErrEmptyPool) {
		t.Fatalf("expected empty pool, got %v", err)
	}
	if _, err := QuoteWithdraw(10, 10, 11); !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected insufficient shares, got %v", err)
	}
}

func TestFeeRate(t *testing.T) {
	fee, err := DefaultFeeRate.Fee(1000)
	if err != nil {
		t.Fatalf("fee: %v", err)
	}
	if fee != 3 {
		t.Fatalf("expected fee 3, got %d", fee)
	}

	quarter := FeeRate{Numerator: 25, Denominator: 10000}
	if fee, _ := quarter.Fee(999); fee != 2 {
		t.Fatalf("expected floor(999*25/10000)=2, got %d", fee)
	}

	if err := (FeeRate{Numerator: 1, Denominator: 0}).Validate(); !errors.Is(err, ErrInvalidFeeRate) {
		t.Fatalf("expected invalid fee rate, got %v", err)
	}
}
