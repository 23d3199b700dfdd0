package model

import "time"

// PoolWindowMetrics stores aggregated activity for a pool window. Amounts
// are decimal strings scaled by the reserve decimals.
type PoolWindowMetrics struct {
	PoolAddress    string
	WindowSizeSecs int64
	WindowStart    time.Time
	WindowEnd      time.Time
	DepositCount   uint64
	WithdrawCount  uint64
	LoanCount      uint64
	FailedCount    uint64
	DepositVolume  string
	WithdrawVolume string
	LoanVolume     string
	FeeRevenue     string
	ClosingReserve string
	ClosingSupply  string
	SharePrice     *string
	FeeRate        *string
	APR            *string
}
