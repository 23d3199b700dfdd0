package model

import "github.com/ethereum/go-ethereum/common"

type InitializeArgs struct {
	Deployer common.Address `json:"deployer"`
}

type CreatePoolArgs struct {
	Reserve  common.Address `json:"reserve"`
	Decimals uint8          `json:"decimals"`
}

type DepositArgs struct {
	Reserve common.Address `json:"reserve"`
	Amount  uint64         `json:"amount"`
}

type WithdrawArgs struct {
	Reserve common.Address `json:"reserve"`
	Shares  uint64         `json:"shares"`
}

type WithdrawAllArgs struct {
	Reserve common.Address `json:"reserve"`
}

// LendAndCallArgs borrows Amount for the Borrower program.
type LendAndCallArgs struct {
	Reserve  common.Address `json:"reserve"`
	Amount   uint64         `json:"amount"`
	Borrower common.Address `json:"borrower"`
}

type WithdrawFeesArgs struct {
	Reserve   common.Address `json:"reserve"`
	Collector common.Address `json:"collector"`
}
