package ledger

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"flashLedger/internal/host"
)

type heldKey struct{}

type heldLock struct {
	reserve common.Address
	parent  *heldLock
}

func holds(ctx context.Context, reserve common.Address) bool {
	held, _ := ctx.Value(heldKey{}).(*heldLock)
	for ; held != nil; held = held.parent {
		if held.reserve == reserve {
			return true
		}
	}
	return false
}

type poolEntry struct {
	sem  chan struct{}
	mu   sync.Mutex
	pool Pool
	// heldBy is the outer journal keeping the lock after a nested call
	// returned.
	heldBy *host.Journal
}

func (e *poolEntry) setHolder(j *host.Journal) {
	e.mu.Lock()
	e.heldBy = j
	e.mu.Unlock()
}

func (e *poolEntry) heldByJournal(j *host.Journal) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return j != nil && e.heldBy == j
}

func (e *poolEntry) snapshot() Pool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool
}

// Ledger keeps the counters of every pool, keyed by reserve asset, and
// admits one writer per pool at a time.
type Ledger struct {
	mu    sync.RWMutex
	pools map[common.Address]*poolEntry
	now   func() time.Time
}

func New() *Ledger {
	return &Ledger{
		pools: make(map[common.Address]*poolEntry),
		now:   time.Now,
	}
}

// CreatePool registers a new pool. A second pool for the same reserve
// asset is rejected.
func (l *Ledger) CreatePool(ctx context.Context, pool Pool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.pools[pool.ReserveAsset]; ok {
		return fmt.Errorf("pool for %s: %w", pool.ReserveAsset.Hex(), ErrAlreadyExists)
	}
	now := l.now().Unix()
	pool.ReserveBalance, pool.ShareSupply, pool.FeeBalance = 0, 0, 0
	pool.CreatedAt, pool.UpdatedAt = now, now
	l.pools[pool.ReserveAsset] = &poolEntry{sem: make(chan struct{}, 1), pool: pool}

	reserve := pool.ReserveAsset
	host.Record(ctx, func() {
		l.mu.Lock()
		delete(l.pools, reserve)
		l.mu.Unlock()
	})
	return nil
}

// Restore loads pools from persisted state, replacing any existing entry.
func (l *Ledger) Restore(pools []Pool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, pool := range pools {
		l.pools[pool.ReserveAsset] = &poolEntry{sem: make(chan struct{}, 1), pool: pool}
	}
}

func (l *Ledger) entry(reserve common.Address) (*poolEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.pools[reserve]
	if !ok {
		return nil, fmt.Errorf("no pool for %s: %w", reserve.Hex(), ErrInvalidPool)
	}
	return entry, nil
}

// Pool returns a copy of the pool for reserve.
func (l *Ledger) Pool(reserve common.Address) (Pool, error) {
	entry, err := l.entry(reserve)
	if err != nil {
		return Pool{}, err
	}
	return entry.snapshot(), nil
}

// Pools returns copies of all pools ordered by reserve asset.
func (l *Ledger) Pools() []Pool {
	l.mu.RLock()
	out := make([]Pool, 0, len(l.pools))
	for _, entry := range l.pools {
		out = append(out, entry.snapshot())
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ReserveAsset.Bytes(), out[j].ReserveAsset.Bytes()) < 0
	})
	return out
}

// Acquire takes the pool's exclusive lock. The returned context marks the
// lock as held; acquiring it again through that context fails with
// ErrReentrant instead of deadlocking.
func (l *Ledger) Acquire(ctx context.Context, reserve common.Address) (context.Context, func(), error) {
	if holds(ctx, reserve) {
		return nil, nil, fmt.Errorf("pool %s: %w", reserve.Hex(), ErrReentrant)
	}
	entry, err := l.entry(reserve)
	if err != nil {
		return nil, nil, err
	}
	if entry.heldByJournal(host.JournalFrom(ctx).Root()) {
		return nil, nil, fmt.Errorf("pool %s held by the enclosing call: %w", reserve.Hex(), ErrReentrant)
	}

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	var once sync.Once
	release := func() {
		once.Do(func() { <-entry.sem })
	}
	parent, _ := ctx.Value(heldKey{}).(*heldLock)
	return context.WithValue(ctx, heldKey{}, &heldLock{reserve: reserve, parent: parent}), release, nil
}

// Release returns a lock taken by Acquire with the same ctx. When ctx runs
// inside an enclosing journal the lock stays held until that journal
// closes, so no other caller sees counters that may still be rolled back.
func (l *Ledger) Release(ctx context.Context, reserve common.Address, release func()) {
	root := host.JournalFrom(ctx).Root()
	entry, err := l.entry(reserve)
	if root == nil || err != nil {
		release()
		return
	}
	entry.setHolder(root)
	unlock := func() {
		entry.setHolder(nil)
		release()
	}
	if !host.OnClose(ctx, unlock) {
		unlock()
	}
}

// mutate applies fn to a copy of the pool and stores it on success. The
// undo returned by fn is recorded in the context's journal.
func (l *Ledger) mutate(ctx context.Context, reserve common.Address, fn func(p *Pool) (func(p *Pool), error)) error {
	if !holds(ctx, reserve) {
		lockedCtx, release, err := l.Acquire(ctx, reserve)
		if err != nil {
			return err
		}
		defer release()
		ctx = lockedCtx
	}
	entry, err := l.entry(reserve)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	next := entry.pool
	undo, err := fn(&next)
	if err != nil {
		entry.mu.Unlock()
		return err
	}
	next.UpdatedAt = l.now().Unix()
	entry.pool = next
	entry.mu.Unlock()

	if undo != nil {
		host.Record(ctx, func() {
			entry.mu.Lock()
			undo(&entry.pool)
			entry.mu.Unlock()
		})
	}
	return nil
}

// QuoteDeposit previews the shares a deposit of amount would mint.
func (l *Ledger) QuoteDeposit(reserve common.Address, amount uint64) (uint64, error) {
	pool, err := l.Pool(reserve)
	if err != nil {
		return 0, err
	}
	return QuoteDeposit(pool.ReserveBalance, pool.ShareSupply, amount)
}

// QuoteWithdraw previews the reserve released for burning shares.
func (l *Ledger) QuoteWithdraw(reserve common.Address, shares uint64) (uint64, error) {
	pool, err := l.Pool(reserve)
	if err != nil {
		return 0, err
	}
	return QuoteWithdraw(pool.ReserveBalance, pool.ShareSupply, shares)
}

// Deposit credits amount to the reserve and mints shares proportionally.
// The caller moves the assets; this only updates counters.
func (l *Ledger) Deposit(ctx context.Context, reserve common.Address, amount uint64) (uint64, error) {
	var minted uint64
	err := l.mutate(ctx, reserve, func(p *Pool) (func(p *Pool), error) {
		shares, err := QuoteDeposit(p.ReserveBalance, p.ShareSupply, amount)
		if err != nil {
			return nil, err
		}
		if shares == 0 {
			return nil, fmt.Errorf("deposit of %d mints no shares: %w", amount, ErrInvalidAmount)
		}
		reserveBalance, err := addChecked(p.ReserveBalance, amount)
		if err != nil {
			return nil, err
		}
		shareSupply, err := addChecked(p.ShareSupply, shares)
		if err != nil {
			return nil, err
		}
		p.ReserveBalance, p.ShareSupply = reserveBalance, shareSupply
		minted = shares
		return func(p *Pool) {
			p.ReserveBalance -= amount
			p.ShareSupply -= shares
		}, nil
	})
	if err != nil {
		return 0, err
	}
	return minted, nil
}

// Withdraw burns shares from the supply and debits the proportional
// reserve. Burning zero shares releases nothing and changes nothing.
func (l *Ledger) Withdraw(ctx context.Context, reserve common.Address, shares uint64) (uint64, error) {
	if shares == 0 {
		if _, err := l.entry(reserve); err != nil {
			return 0, err
		}
		return 0, nil
	}

	var released uint64
	err := l.mutate(ctx, reserve, func(p *Pool) (func(p *Pool), error) {
		amount, err := QuoteWithdraw(p.ReserveBalance, p.ShareSupply, shares)
		if err != nil {
			return nil, err
		}
		if p.ShareSupply-shares > 0 && p.ReserveBalance-amount == 0 {
			return nil, fmt.Errorf("withdraw would strand %d shares: %w", p.ShareSupply-shares, ErrEmptyPool)
		}
		p.ReserveBalance -= amount
		p.ShareSupply -= shares
		released = amount
		return func(p *Pool) {
			p.ReserveBalance += amount
			p.ShareSupply += shares
		}, nil
	})
	if err != nil {
		return 0, err
	}
	return released, nil
}

// SettleLoan books a repaid flash loan: the fee goes to the accumulator
// and any surplus repayment stays in the reserve for share holders.
func (l *Ledger) SettleLoan(ctx context.Context, reserve common.Address, fee, surplus uint64) error {
	return l.mutate(ctx, reserve, func(p *Pool) (func(p *Pool), error) {
		if p.Empty() {
			return nil, ErrEmptyPool
		}
		fees, err := addChecked(p.FeeBalance, fee)
		if err != nil {
			return nil, err
		}
		reserveBalance, err := addChecked(p.ReserveBalance, surplus)
		if err != nil {
			return nil, err
		}
		p.FeeBalance, p.ReserveBalance = fees, reserveBalance
		return func(p *Pool) {
			p.FeeBalance -= fee
			p.ReserveBalance -= surplus
		}, nil
	})
}

// DrainFees zeroes the fee accumulator and returns what it held.
func (l *Ledger) DrainFees(ctx context.Context, reserve common.Address) (uint64, error) {
	var drained uint64
	err := l.mutate(ctx, reserve, func(p *Pool) (func(p *Pool), error) {
		drained = p.FeeBalance
		p.FeeBalance = 0
		amount := drained
		return func(p *Pool) {
			p.FeeBalance += amount
		}, nil
	})
	if err != nil {
		return 0, err
	}
	return drained, nil
}
