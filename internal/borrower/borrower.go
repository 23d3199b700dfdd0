// Package borrower holds sample flash loan borrower programs.
package borrower

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"flashLedger/internal/flash"
	"flashLedger/internal/host"
)

var (
	ErrInsufficientFunds = errors.New("borrower: insufficient funds")
	ErrUnknownEntrypoint = errors.New("borrower: unknown entrypoint")
	ErrMissingAccounts   = errors.New("borrower: missing accounts")
)

var seedBorrowerAccount = []byte("borrower_account")

// DefaultProgramID is where the CLI registers a Sample when no borrower
// programs are configured.
var DefaultProgramID = common.HexToAddress("0x00000000000000000000000000000000B0770001")

// AccountCapability signs for the account program keeps asset in.
func AccountCapability(program, asset common.Address) host.Capability {
	return host.DeriveCapability(program, seedBorrowerAccount, asset.Bytes())
}

// Sample repays every loan from its own derived account. Haircut makes it
// underpay and Tip makes it pay back more than required.
type Sample struct {
	ID      common.Address
	Haircut uint64
	Tip     uint64
	Logger  *zap.Logger

	// OnBorrow, if set, runs with the borrowed funds before repayment.
	OnBorrow func(ctx context.Context, h host.Host, call host.Call) error
}

func (s *Sample) Account(asset common.Address) common.Address {
	return AccountCapability(s.ID, asset).Address
}

func (s *Sample) HandleCall(ctx context.Context, h host.Host, call host.Call) error {
	if call.Entrypoint != flash.CallbackEntrypoint {
		return fmt.Errorf("%s: %w", call.Entrypoint, ErrUnknownEntrypoint)
	}
	if len(call.Accounts) <= flash.AccountAsset {
		return ErrMissingAccounts
	}
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	asset := call.Args.Asset
	borrowerAccount := call.Accounts[flash.AccountBorrower]
	lender := call.Accounts[flash.AccountLender]

	capability := AccountCapability(s.ID, asset)
	if capability.Address != borrowerAccount {
		return fmt.Errorf("account %s is not owned by %s: %w", borrowerAccount.Hex(), s.ID.Hex(), host.ErrUnauthorized)
	}
	logger.Debug("borrowed", zap.Uint64("amount", call.Args.Amount), zap.Uint64("fee", call.Args.Fee))

	if s.OnBorrow != nil {
		if err := s.OnBorrow(ctx, h, call); err != nil {
			return err
		}
	}

	repayment := call.Args.Amount + call.Args.Fee + s.Tip
	if s.Haircut > repayment {
		repayment = 0
	} else {
		repayment -= s.Haircut
	}
	if have := h.BalanceOf(asset, borrowerAccount); have < repayment {
		return fmt.Errorf("repay %d with %d: %w", repayment, have, ErrInsufficientFunds)
	}
	return h.Transfer(ctx, asset, borrowerAccount, lender, repayment, capability.Authority())
}
