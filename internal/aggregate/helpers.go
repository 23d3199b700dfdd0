package aggregate

import (
	"math/big"
	"time"
)

const ratioScale = 18

func formatTokenAmount(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	if decimals == 0 {
		return value.String()
	}
	sign := value.Sign()
	abs := new(big.Int).Abs(value)
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	rat := new(big.Rat).SetFrac(abs, denom)
	text := rat.FloatString(int(decimals))
	if sign < 0 {
		return "-" + text
	}
	return text
}

// computeRate returns num/den as a decimal string, or nil when either
// side is zero.
func computeRate(num, den *big.Int) *string {
	if num == nil || num.Sign() == 0 || den == nil || den.Sign() == 0 {
		return nil
	}
	val := new(big.Rat).SetFrac(num, den).FloatString(ratioScale)
	return &val
}

// computeSharePrice is reserve per share; shares carry the reserve decimals
// so the ratio needs no scaling. Empty pools have no price.
func computeSharePrice(reserve, supply uint64) *string {
	if supply == 0 {
		return nil
	}
	val := new(big.Rat).SetFrac(new(big.Int).SetUint64(reserve), new(big.Int).SetUint64(supply)).FloatString(ratioScale)
	return &val
}

func computeAPR(feeRate *string, windowSeconds uint64) *string {
	if windowSeconds == 0 || feeRate == nil {
		return nil
	}
	rat, ok := new(big.Rat).SetString(*feeRate)
	if !ok {
		return nil
	}
	yearSeconds := big.NewRat(int64(365*24*time.Hour/time.Second), 1)
	window := big.NewRat(int64(windowSeconds), 1)
	apr := new(big.Rat).Mul(rat, yearSeconds)
	apr.Quo(apr, window)
	val := apr.FloatString(ratioScale)
	return &val
}
