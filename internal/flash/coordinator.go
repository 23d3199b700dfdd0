package flash

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"flashLedger/internal/host"
	"flashLedger/internal/ledger"
)

// CallbackEntrypoint is the borrower entry point invoked with the loan.
const CallbackEntrypoint = "handle_borrow"

// Positions of the fixed accounts handed to the borrower callback. Accounts
// from the request follow them.
const (
	AccountUser = iota
	AccountBorrower
	AccountLender
	AccountAsset
)

type State int

const (
	Idle State = iota
	Funding
	AwaitingCallback
	Verifying
	Settled
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Funding:
		return "funding"
	case AwaitingCallback:
		return "awaiting_callback"
	case Verifying:
		return "verifying"
	case Settled:
		return "settled"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Request describes one lend_and_call.
type Request struct {
	Reserve         common.Address
	User            common.Address
	BorrowerProgram common.Address
	BorrowerAccount common.Address
	Amount          uint64
	Accounts        []common.Address
}

// LoanAttempt is the record of a single flash loan. It is never persisted.
type LoanAttempt struct {
	ID                  uuid.UUID      `json:"id"`
	Pool                common.Address `json:"pool"`
	Reserve             common.Address `json:"reserve"`
	Principal           uint64         `json:"principal"`
	Fee                 uint64         `json:"fee"`
	FeeRate             ledger.FeeRate `json:"fee_rate"`
	RequiredRepayment   uint64         `json:"required_repayment"`
	PreBalance          uint64         `json:"pre_balance"`
	RequiredPostBalance uint64         `json:"required_post_balance"`
	PostBalance         uint64         `json:"post_balance"`
	Surplus             uint64         `json:"surplus"`
	State               State          `json:"state"`
}

// Coordinator runs flash loans against the pools of a ledger.Service.
type Coordinator struct {
	svc    *ledger.Service
	rate   ledger.FeeRate
	logger *zap.Logger
}

func NewCoordinator(svc *ledger.Service, rate ledger.FeeRate) (*Coordinator, error) {
	if err := rate.Validate(); err != nil {
		return nil, err
	}
	return &Coordinator{
		svc:    svc,
		rate:   rate,
		logger: svc.Logger().With(zap.String("component", "flash")),
	}, nil
}

func (c *Coordinator) FeeRate() ledger.FeeRate { return c.rate }

// Quote returns the fee and total repayment for borrowing amount.
func (c *Coordinator) Quote(amount uint64) (fee, repayment uint64, err error) {
	fee, err = c.rate.Fee(amount)
	if err != nil {
		return 0, 0, err
	}
	if fee > math.MaxUint64-amount {
		return 0, 0, fmt.Errorf("repayment of %d overflows: %w", amount, ledger.ErrInvalidAmount)
	}
	return fee, amount + fee, nil
}

func (a *LoanAttempt) transition(logger *zap.Logger, next State) {
	logger.Debug("flash loan state",
		zap.String("loan", a.ID.String()),
		zap.Stringer("from", a.State),
		zap.Stringer("to", next),
	)
	a.State = next
}

// LendAndCall lends req.Amount from the pool to the borrower account, runs
// the borrower callback and requires the principal plus fee back in the
// reserve account before it returns. The pool stays locked for the whole
// sequence; on any failure every transfer and counter change is rolled back
// before the lock is released.
func (c *Coordinator) LendAndCall(ctx context.Context, req Request) (attempt *LoanAttempt, err error) {
	started := time.Now()
	attempt = &LoanAttempt{
		ID:        uuid.New(),
		Reserve:   req.Reserve,
		Principal: req.Amount,
		FeeRate:   c.rate,
		State:     Idle,
	}
	defer func() {
		if err != nil {
			attempt.transition(c.logger, Aborted)
		}
		c.observe(attempt, started, err)
	}()

	lockedCtx, release, err := c.svc.Ledger().Acquire(ctx, req.Reserve)
	if err != nil {
		return attempt, err
	}
	defer c.svc.Ledger().Release(ctx, req.Reserve, release)

	attempt.transition(c.logger, Funding)
	pool, err := c.svc.Pool(req.Reserve)
	if err != nil {
		return attempt, err
	}
	attempt.Pool = pool.ID

	if req.Amount == 0 {
		return attempt, ledger.ErrInvalidAmount
	}
	if pool.Empty() {
		return attempt, fmt.Errorf("lend from pool %s: %w", pool.ID.Hex(), ledger.ErrEmptyPool)
	}
	if req.Amount > pool.ReserveBalance {
		return attempt, fmt.Errorf("lend %d of %d: %w", req.Amount, pool.ReserveBalance, ledger.ErrInsufficientFunds)
	}
	attempt.Fee, attempt.RequiredRepayment, err = c.Quote(req.Amount)
	if err != nil {
		return attempt, err
	}

	// principal leaves before the callback, so nothing after this point may
	// return without either settling or rolling back
	txCtx, journal := host.Begin(lockedCtx)
	if err := c.run(txCtx, attempt, pool, req); err != nil {
		journal.Rollback()
		return attempt, err
	}
	journal.Commit()
	attempt.transition(c.logger, Settled)

	c.logger.Info("flash loan settled",
		zap.String("loan", attempt.ID.String()),
		zap.String("pool", pool.ID.Hex()),
		zap.String("borrower", req.BorrowerProgram.Hex()),
		zap.Uint64("principal", attempt.Principal),
		zap.Uint64("fee", attempt.Fee),
		zap.Uint64("surplus", attempt.Surplus),
	)
	return attempt, nil
}

func (c *Coordinator) run(ctx context.Context, attempt *LoanAttempt, pool ledger.Pool, req Request) error {
	h := c.svc.Host()
	reserveAuth := c.svc.ReserveAuthority(req.Reserve)

	if err := h.Transfer(ctx, req.Reserve, pool.ReserveAccount, req.BorrowerAccount, req.Amount, reserveAuth); err != nil {
		return fmt.Errorf("disburse principal: %w", err)
	}
	attempt.PreBalance = h.BalanceOf(req.Reserve, pool.ReserveAccount)
	if attempt.PreBalance > math.MaxUint64-attempt.RequiredRepayment {
		return fmt.Errorf("required balance overflows: %w", ledger.ErrInvalidAmount)
	}
	attempt.RequiredPostBalance = attempt.PreBalance + attempt.RequiredRepayment

	attempt.transition(c.logger, AwaitingCallback)
	accounts := make([]common.Address, 0, AccountAsset+1+len(req.Accounts))
	accounts = append(accounts, req.User, req.BorrowerAccount, pool.ReserveAccount, req.Reserve)
	accounts = append(accounts, req.Accounts...)
	args := host.CallArgs{Asset: req.Reserve, Amount: req.Amount, Fee: attempt.Fee}
	if err := h.InvokeCallback(ctx, req.BorrowerProgram, CallbackEntrypoint, accounts, args); err != nil {
		return fmt.Errorf("borrower callback: %w", err)
	}

	attempt.transition(c.logger, Verifying)
	attempt.PostBalance = h.BalanceOf(req.Reserve, pool.ReserveAccount)
	if attempt.PostBalance < attempt.RequiredPostBalance {
		var repaid uint64
		if attempt.PostBalance > attempt.PreBalance {
			repaid = attempt.PostBalance - attempt.PreBalance
		}
		return fmt.Errorf("repaid %d of %d: %w", repaid, attempt.RequiredRepayment, ledger.ErrRepaymentShortfall)
	}
	attempt.Surplus = attempt.PostBalance - attempt.RequiredPostBalance

	if attempt.Fee > 0 {
		if err := h.Transfer(ctx, req.Reserve, pool.ReserveAccount, pool.FeeAccount, attempt.Fee, reserveAuth); err != nil {
			return fmt.Errorf("route fee: %w", err)
		}
	}
	return c.svc.Ledger().SettleLoan(ctx, req.Reserve, attempt.Fee, attempt.Surplus)
}

func (c *Coordinator) observe(attempt *LoanAttempt, started time.Time, err error) {
	m := c.svc.Metrics()
	m.ObserveOperation("lend_and_call", err, time.Since(started))
	m.ObserveFlashLoan(attempt.Reserve.Hex(), attempt.State.String(), attempt.Principal, attempt.Fee)
	if err != nil {
		c.logger.Warn("flash loan aborted",
			zap.String("loan", attempt.ID.String()),
			zap.String("reserve", attempt.Reserve.Hex()),
			zap.Uint64("principal", attempt.Principal),
			zap.Error(err),
		)
		return
	}
	if pool, perr := c.svc.Pool(attempt.Reserve); perr == nil {
		m.ObservePool(attempt.Reserve.Hex(), pool.ReserveBalance, pool.ShareSupply, pool.FeeBalance)
	}
}
