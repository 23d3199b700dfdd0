package aggregate

import (
	"math/big"

	"flashLedger/internal/instruction"
	"flashLedger/internal/model"
)

// Accumulator holds aggregate values for a pool window.
type Accumulator struct {
	PoolAddress    string
	Reserve        string
	Decimals       uint8
	WindowStart    uint64
	WindowEnd      uint64
	DepositCount   uint64
	WithdrawCount  uint64
	LoanCount      uint64
	FailedCount    uint64
	DepositVolume  *big.Int
	WithdrawVolume *big.Int
	LoanVolume     *big.Int
	FeeRevenue     *big.Int
	ClosingReserve uint64
	ClosingSupply  uint64
	LastSeq        uint64
	FirstSeq       uint64
}

func NewAccumulator(receipt model.Receipt, windowStart, windowEnd uint64) *Accumulator {
	return &Accumulator{
		PoolAddress:    receipt.Pool,
		Reserve:        receipt.Reserve,
		Decimals:       receipt.Decimals,
		WindowStart:    windowStart,
		WindowEnd:      windowEnd,
		DepositVolume:  big.NewInt(0),
		WithdrawVolume: big.NewInt(0),
		LoanVolume:     big.NewInt(0),
		FeeRevenue:     big.NewInt(0),
		ClosingReserve: receipt.ReserveBalance,
		ClosingSupply:  receipt.ShareSupply,
		LastSeq:        receipt.Seq,
		FirstSeq:       receipt.Seq,
	}
}

// AddReceipt folds one receipt into the window. Counters after the
// latest receipt become the closing state.
func (a *Accumulator) AddReceipt(receipt model.Receipt) {
	if receipt.Seq >= a.LastSeq {
		a.LastSeq = receipt.Seq
		a.ClosingReserve = receipt.ReserveBalance
		a.ClosingSupply = receipt.ShareSupply
	}
	if a.FirstSeq == 0 || receipt.Seq < a.FirstSeq {
		a.FirstSeq = receipt.Seq
	}

	if !receipt.OK() {
		a.FailedCount++
		return
	}

	switch receipt.Method {
	case instruction.MethodDeposit:
		a.DepositCount++
		addUint(a.DepositVolume, receipt.Amount)
	case instruction.MethodWithdraw, instruction.MethodWithdrawAll:
		a.WithdrawCount++
		addUint(a.WithdrawVolume, receipt.Amount)
	case instruction.MethodLendAndCall:
		a.LoanCount++
		addUint(a.LoanVolume, receipt.Amount)
		addUint(a.FeeRevenue, receipt.Fee)
	}
}

func addUint(target *big.Int, value uint64) {
	if target == nil || value == 0 {
		return
	}
	target.Add(target, new(big.Int).SetUint64(value))
}
