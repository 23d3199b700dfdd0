package replay

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"flashLedger/internal/borrower"
	"flashLedger/internal/flash"
	"flashLedger/internal/ledger"
	"flashLedger/internal/model"
)

// Executor applies decoded instructions to a pool program and its flash
// loan coordinator, acting as the instruction signer.
type Executor struct {
	svc   *ledger.Service
	coord *flash.Coordinator
	newID func() string
}

func NewExecutor(svc *ledger.Service, coord *flash.Coordinator) *Executor {
	return &Executor{
		svc:   svc,
		coord: coord,
		newID: func() string { return uuid.NewString() },
	}
}

// Apply executes one instruction and returns its receipt. A failed
// instruction yields a receipt with status failed and the error that
// caused it; it never leaves partial state behind.
func (e *Executor) Apply(ctx context.Context, ins *model.DecodedInstruction) (model.Receipt, error) {
	receipt := model.Receipt{
		ID:        e.newID(),
		Seq:       ins.Seq,
		Timestamp: ins.Timestamp,
		Signer:    ins.Signer,
		Method:    ins.Method,
		Status:    model.ReceiptOK,
	}
	signer := ins.SignerAddress()

	var reserve common.Address
	var err error
	switch args := ins.Args.(type) {
	case model.InitializeArgs:
		if args.Deployer != signer {
			err = fmt.Errorf("deployer %s must sign: %w", args.Deployer.Hex(), ledger.ErrUnauthorized)
			break
		}
		err = e.svc.Initialize(ctx, args.Deployer)
	case model.CreatePoolArgs:
		reserve = args.Reserve
		_, err = e.svc.CreatePool(ctx, args.Reserve, args.Decimals)
	case model.DepositArgs:
		reserve = args.Reserve
		receipt.Amount = args.Amount
		receipt.Shares, err = e.svc.Deposit(ctx, signer, args.Reserve, args.Amount)
	case model.WithdrawArgs:
		reserve = args.Reserve
		receipt.Shares = args.Shares
		receipt.Amount, err = e.svc.Withdraw(ctx, signer, args.Reserve, args.Shares)
	case model.WithdrawAllArgs:
		reserve = args.Reserve
		receipt.Shares, receipt.Amount, err = e.svc.WithdrawAll(ctx, signer, args.Reserve)
	case model.LendAndCallArgs:
		reserve = args.Reserve
		receipt.Amount = args.Amount
		var attempt *flash.LoanAttempt
		attempt, err = e.coord.LendAndCall(ctx, flash.Request{
			Reserve:         args.Reserve,
			User:            signer,
			BorrowerProgram: args.Borrower,
			BorrowerAccount: borrower.AccountCapability(args.Borrower, args.Reserve).Address,
			Amount:          args.Amount,
		})
		if attempt != nil {
			receipt.Fee = attempt.Fee
			if err == nil {
				receipt.Surplus = attempt.Surplus
			}
		}
	case model.WithdrawFeesArgs:
		reserve = args.Reserve
		receipt.Amount, err = e.svc.WithdrawFees(ctx, signer, args.Reserve, args.Collector)
	default:
		return receipt, fmt.Errorf("unsupported instruction args %T", ins.Args)
	}

	if reserve != (common.Address{}) {
		receipt.Reserve = reserve.Hex()
		if pool, perr := e.svc.Pool(reserve); perr == nil {
			receipt.Pool = pool.ID.Hex()
			receipt.Decimals = pool.Decimals
			receipt.ReserveBalance = pool.ReserveBalance
			receipt.ShareSupply = pool.ShareSupply
			receipt.FeeBalance = pool.FeeBalance
		}
	}
	if err != nil {
		receipt.Status = model.ReceiptFailed
		receipt.Error = err.Error()
		receipt.Amount, receipt.Shares = requested(ins.Args)
	}
	return receipt, nil
}

// requested returns the amount and shares the instruction asked for, so a
// failed receipt still shows them.
func requested(args interface{}) (amount, shares uint64) {
	switch a := args.(type) {
	case model.DepositArgs:
		return a.Amount, 0
	case model.WithdrawArgs:
		return 0, a.Shares
	case model.LendAndCallArgs:
		return a.Amount, 0
	default:
		return 0, 0
	}
}
