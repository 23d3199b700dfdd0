package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"flashLedger/internal/host"
	"flashLedger/internal/metrics"
)

// DefaultProgramID identifies the pool program when none is configured.
var DefaultProgramID = common.HexToAddress("0x000000000000000000000000000000000F1a5401")

// ProgramState is recorded once by Initialize.
type ProgramState struct {
	Deployer      common.Address `json:"deployer"`
	InitializedAt int64          `json:"initialized_at"`
}

// Position is a user's holding in one pool.
type Position struct {
	Shares     uint64 `json:"shares"`
	Redeemable uint64 `json:"redeemable"`
	Reserve    uint64 `json:"reserve"`
}

type Options struct {
	Program common.Address
	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// Service is the pool program. It moves assets through the host and keeps
// the ledger counters in step, rolling both back when any step fails.
type Service struct {
	program common.Address
	ledger  *Ledger
	host    host.Host
	logger  *zap.Logger
	metrics *metrics.Collector

	mu    sync.RWMutex
	state *ProgramState
}

func NewService(h host.Host, l *Ledger, opts Options) *Service {
	if opts.Program == (common.Address{}) {
		opts.Program = DefaultProgramID
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if l == nil {
		l = New()
	}
	return &Service{
		program: opts.Program,
		ledger:  l,
		host:    h,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

func (s *Service) Program() common.Address { return s.program }
func (s *Service) Ledger() *Ledger { return s.ledger }
func (s *Service) Host() host.Host { return s.host }
func (s *Service) Logger() *zap.Logger { return s.logger }
func (s *Service) Metrics() *metrics.Collector { return s.metrics }
func (s *Service) Pool(reserve common.Address) (Pool, error) { return s.ledger.Pool(reserve) }

// State returns the program state, or nil before Initialize.
func (s *Service) State() *ProgramState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return nil
	}
	state := *s.state
	return &state
}

// RestoreState sets the program state loaded from storage.
func (s *Service) RestoreState(state *ProgramState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// ReserveAuthority signs transfers out of the pool's reserve account.
func (s *Service) ReserveAuthority(reserve common.Address) host.Authority {
	return s.host.DeriveCapability(s.program, seedReserveAccount, reserve.Bytes()).Authority()
}

// FeeAuthority signs transfers out of the pool's fee account.
func (s *Service) FeeAuthority(reserve common.Address) host.Authority {
	return s.host.DeriveCapability(s.program, seedFeeAccount, reserve.Bytes()).Authority()
}

func (s *Service) poolAuthority(reserve common.Address) host.Authority {
	return s.host.DeriveCapability(s.program, seedPool, reserve.Bytes()).Authority()
}

// claimAccounts derives every pool-owned account through the host so none
// of them can be moved by a plain signer.
func (s *Service) claimAccounts(reserve common.Address) {
	s.poolAuthority(reserve)
	s.ReserveAuthority(reserve)
	s.FeeAuthority(reserve)
}

// RestorePools loads persisted pools into the ledger and claims their
// accounts on the host.
func (s *Service) RestorePools(pools []Pool) {
	s.ledger.Restore(pools)
	for _, pool := range pools {
		s.claimAccounts(pool.ReserveAsset)
	}
}

// Atomically runs fn under a fresh journal and rolls back every host and
// counter change it made if fn fails.
func Atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	txCtx, journal := host.Begin(ctx)
	if err := fn(txCtx); err != nil {
		journal.Rollback()
		return err
	}
	journal.Commit()
	return nil
}

func (s *Service) observe(op string, reserve common.Address, started time.Time, err error) {
	s.metrics.ObserveOperation(op, err, time.Since(started))
	if err != nil {
		s.logger.Warn(op+" failed", zap.String("pool", reserve.Hex()), zap.Error(err))
		return
	}
	if pool, perr := s.ledger.Pool(reserve); perr == nil {
		s.metrics.ObservePool(reserve.Hex(), pool.ReserveBalance, pool.ShareSupply, pool.FeeBalance)
	}
}

// Initialize records the deployer. It may run once.
func (s *Service) Initialize(ctx context.Context, deployer common.Address) (err error) {
	if deployer == (common.Address{}) {
		return fmt.Errorf("initialize: zero deployer: %w", ErrUnauthorized)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != nil {
		return fmt.Errorf("initialize: %w", ErrAlreadyExists)
	}
	s.state = &ProgramState{Deployer: deployer, InitializedAt: time.Now().Unix()}
	host.Record(ctx, func() {
		s.mu.Lock()
		s.state = nil
		s.mu.Unlock()
	})
	s.logger.Info("program initialized", zap.String("deployer", deployer.Hex()))
	return nil
}

// CreatePool opens a pool for a reserve asset the host already knows and
// registers its share asset.
func (s *Service) CreatePool(ctx context.Context, reserve common.Address, decimals uint8) (pool Pool, err error) {
	started := time.Now()
	defer func() { s.observe("create_pool", reserve, started, err) }()

	state := s.State()
	if state == nil {
		return Pool{}, ErrNotInitialized
	}
	info, ok := s.host.Asset(reserve)
	if !ok {
		return Pool{}, fmt.Errorf("reserve %s unknown: %w", reserve.Hex(), ErrInvalidPool)
	}
	if info.Decimals != decimals {
		return Pool{}, fmt.Errorf("reserve has %d decimals, got %d: %w", info.Decimals, decimals, ErrDecimalsMismatch)
	}

	pool = NewPool(s.program, reserve, state.Deployer, decimals)
	s.claimAccounts(reserve)
	err = Atomically(ctx, func(ctx context.Context) error {
		if err := s.ledger.CreatePool(ctx, pool); err != nil {
			return err
		}
		share := host.AssetInfo{
			Address:       pool.ShareAsset,
			Decimals:      decimals,
			MintAuthority: pool.ID,
			Symbol:        shareSymbol(info.Symbol),
			Name:          shareName(info.Name),
		}
		if err := s.host.RegisterAsset(ctx, share); err != nil {
			return fmt.Errorf("register share asset: %w", err)
		}
		return nil
	})
	if err != nil {
		return Pool{}, err
	}

	s.logger.Info("pool created",
		zap.String("pool", pool.ID.Hex()),
		zap.String("reserve", reserve.Hex()),
		zap.String("share", pool.ShareAsset.Hex()),
		zap.Uint8("decimals", decimals),
	)
	return s.ledger.Pool(reserve)
}

func shareSymbol(reserve string) string {
	if reserve == "" {
		return "SHARE"
	}
	return reserve + "-SHARE"
}

func shareName(reserve string) string {
	if reserve == "" {
		return "Pool Share"
	}
	return reserve + " Pool Share"
}

// Deposit moves amount of the reserve asset from user into the pool and
// mints the proportional shares to user.
func (s *Service) Deposit(ctx context.Context, user, reserve common.Address, amount uint64) (shares uint64, err error) {
	started := time.Now()
	defer func() { s.observe("deposit", reserve, started, err) }()

	if amount == 0 {
		return 0, ErrInvalidAmount
	}
	lockedCtx, release, err := s.ledger.Acquire(ctx, reserve)
	if err != nil {
		return 0, err
	}
	defer s.ledger.Release(ctx, reserve, release)

	pool, err := s.ledger.Pool(reserve)
	if err != nil {
		return 0, err
	}
	shares, err = QuoteDeposit(pool.ReserveBalance, pool.ShareSupply, amount)
	if err != nil {
		return 0, err
	}
	if shares == 0 {
		return 0, fmt.Errorf("deposit of %d mints no shares: %w", amount, ErrInvalidAmount)
	}
	if have := s.host.BalanceOf(reserve, user); have < amount {
		return 0, fmt.Errorf("deposit %d with balance %d: %w", amount, have, ErrInsufficientFunds)
	}

	err = Atomically(lockedCtx, func(ctx context.Context) error {
		if err := s.host.Transfer(ctx, reserve, user, pool.ReserveAccount, amount, host.Signer(user)); err != nil {
			return fmt.Errorf("transfer reserve: %w", err)
		}
		if err := s.host.MintTo(ctx, pool.ShareAsset, user, shares, s.poolAuthority(reserve)); err != nil {
			return fmt.Errorf("mint shares: %w", err)
		}
		minted, err := s.ledger.Deposit(ctx, reserve, amount)
		if err != nil {
			return err
		}
		if minted != shares {
			return fmt.Errorf("minted %d shares, quoted %d: %w", minted, shares, ErrInvalidAmount)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("deposit",
		zap.String("pool", pool.ID.Hex()),
		zap.String("user", user.Hex()),
		zap.Uint64("amount", amount),
		zap.Uint64("shares", shares),
	)
	return shares, nil
}

// Withdraw burns shares from user and releases the proportional reserve.
func (s *Service) Withdraw(ctx context.Context, user, reserve common.Address, shares uint64) (amount uint64, err error) {
	started := time.Now()
	defer func() { s.observe("withdraw", reserve, started, err) }()

	lockedCtx, release, err := s.ledger.Acquire(ctx, reserve)
	if err != nil {
		return 0, err
	}
	defer s.ledger.Release(ctx, reserve, release)
	return s.withdraw(lockedCtx, user, reserve, shares)
}

// WithdrawAll burns the user's whole share balance.
func (s *Service) WithdrawAll(ctx context.Context, user, reserve common.Address) (shares, amount uint64, err error) {
	started := time.Now()
	defer func() { s.observe("withdraw_all", reserve, started, err) }()

	lockedCtx, release, err := s.ledger.Acquire(ctx, reserve)
	if err != nil {
		return 0, 0, err
	}
	defer s.ledger.Release(ctx, reserve, release)

	pool, err := s.ledger.Pool(reserve)
	if err != nil {
		return 0, 0, err
	}
	shares = s.host.BalanceOf(pool.ShareAsset, user)
	amount, err = s.withdraw(lockedCtx, user, reserve, shares)
	if err != nil {
		return 0, 0, err
	}
	return shares, amount, nil
}

// withdraw expects the pool lock to be held through ctx.
func (s *Service) withdraw(ctx context.Context, user, reserve common.Address, shares uint64) (uint64, error) {
	pool, err := s.ledger.Pool(reserve)
	if err != nil {
		return 0, err
	}
	if shares == 0 {
		return 0, nil
	}
	if have := s.host.BalanceOf(pool.ShareAsset, user); have < shares {
		return 0, fmt.Errorf("burn %d with balance %d: %w", shares, have, ErrInsufficientShares)
	}
	amount, err := QuoteWithdraw(pool.ReserveBalance, pool.ShareSupply, shares)
	if err != nil {
		return 0, err
	}

	err = Atomically(ctx, func(ctx context.Context) error {
		if err := s.host.Burn(ctx, pool.ShareAsset, user, shares, host.Signer(user)); err != nil {
			return fmt.Errorf("burn shares: %w", err)
		}
		if err := s.host.Transfer(ctx, reserve, pool.ReserveAccount, user, amount, s.ReserveAuthority(reserve)); err != nil {
			return fmt.Errorf("transfer reserve: %w", err)
		}
		released, err := s.ledger.Withdraw(ctx, reserve, shares)
		if err != nil {
			return err
		}
		if released != amount {
			return fmt.Errorf("released %d, quoted %d: %w", released, amount, ErrInvalidAmount)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("withdraw",
		zap.String("pool", pool.ID.Hex()),
		zap.String("user", user.Hex()),
		zap.Uint64("shares", shares),
		zap.Uint64("amount", amount),
	)
	return amount, nil
}

// WithdrawFees sends the whole fee accumulator to collector. Only the pool
// owner may call it; an empty accumulator transfers zero.
func (s *Service) WithdrawFees(ctx context.Context, admin, reserve, collector common.Address) (amount uint64, err error) {
	started := time.Now()
	defer func() { s.observe("withdraw_fees", reserve, started, err) }()

	lockedCtx, release, err := s.ledger.Acquire(ctx, reserve)
	if err != nil {
		return 0, err
	}
	defer s.ledger.Release(ctx, reserve, release)

	pool, err := s.ledger.Pool(reserve)
	if err != nil {
		return 0, err
	}
	if admin != pool.Owner {
		return 0, fmt.Errorf("%s is not the owner of pool %s: %w", admin.Hex(), pool.ID.Hex(), ErrUnauthorized)
	}

	err = Atomically(lockedCtx, func(ctx context.Context) error {
		drained, err := s.ledger.DrainFees(ctx, reserve)
		if err != nil {
			return err
		}
		if drained > 0 {
			if err := s.host.Transfer(ctx, reserve, pool.FeeAccount, collector, drained, s.FeeAuthority(reserve)); err != nil {
				return fmt.Errorf("transfer fees: %w", err)
			}
		}
		amount = drained
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.metrics.ObserveFeeWithdrawal(reserve.Hex(), amount)
	s.logger.Info("fees withdrawn",
		zap.String("pool", pool.ID.Hex()),
		zap.String("collector", collector.Hex()),
		zap.Uint64("amount", amount),
	)
	return amount, nil
}

// Balance reports user's shares in the pool and what they redeem for.
func (s *Service) Balance(user, reserve common.Address) (Position, error) {
	pool, err := s.ledger.Pool(reserve)
	if err != nil {
		return Position{}, err
	}
	shares := s.host.BalanceOf(pool.ShareAsset, user)
	redeemable, err := QuoteWithdraw(pool.ReserveBalance, pool.ShareSupply, shares)
	if err != nil {
		return Position{}, err
	}
	return Position{
		Shares:     shares,
		Redeemable: redeemable,
		Reserve:    s.host.BalanceOf(reserve, user),
	}, nil
}

func (s *Service) FeesBalance(reserve common.Address) (uint64, error) {
	pool, err := s.ledger.Pool(reserve)
	if err != nil {
		return 0, err
	}
	return pool.FeeBalance, nil
}
