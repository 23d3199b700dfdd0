package host

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

type balanceKey struct {
	asset   common.Address
	account common.Address
}

// BalanceEntry is one non-zero balance in a MemoryState.
type BalanceEntry struct {
	Asset   common.Address `json:"asset"`
	Account common.Address `json:"account"`
	Amount  uint64         `json:"amount"`
}

// MemoryState is a serialisable copy of a MemoryHost.
type MemoryState struct {
	Assets   []AssetInfo    `json:"assets"`
	Balances []BalanceEntry `json:"balances"`
}

// MemoryHost is an in-process token program. It does not provide
// whole-operation atomicity; callers roll back through a Journal.
type MemoryHost struct {
	mu       sync.RWMutex
	assets   map[common.Address]*AssetInfo
	balances map[balanceKey]uint64
	programs map[common.Address]Program
	derived  map[common.Address]struct{}
	logger   *zap.Logger
}

func NewMemoryHost(logger *zap.Logger) *MemoryHost {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryHost{
		assets:   make(map[common.Address]*AssetInfo),
		balances: make(map[balanceKey]uint64),
		programs: make(map[common.Address]Program),
		derived:  make(map[common.Address]struct{}),
		logger:   logger,
	}
}

// RegisterProgram makes program callable through InvokeCallback.
func (h *MemoryHost) RegisterProgram(id common.Address, program Program) {
	h.mu.Lock()
	h.programs[id] = program
	h.mu.Unlock()
}

func (h *MemoryHost) RegisterAsset(ctx context.Context, info AssetInfo) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.assets[info.Address]; ok {
		return fmt.Errorf("register %s: %w", info.Address.Hex(), ErrAssetExists)
	}
	info.Supply = 0
	h.assets[info.Address] = &info

	asset := info.Address
	Record(ctx, func() {
		h.mu.Lock()
		delete(h.assets, asset)
		h.mu.Unlock()
	})
	return nil
}

func (h *MemoryHost) Asset(asset common.Address) (AssetInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	info, ok := h.assets[asset]
	if !ok {
		return AssetInfo{}, false
	}
	return *info, true
}

func (h *MemoryHost) BalanceOf(asset, account common.Address) uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.balances[balanceKey{asset: asset, account: account}]
}

func (h *MemoryHost) Transfer(ctx context.Context, asset, from, to common.Address, amount uint64, auth Authority) error {
	fail := func(err error) error {
		return &TransferError{Op: "transfer", Asset: asset, Account: from, Amount: amount, Err: err}
	}
	if err := h.authorize(ctx, auth); err != nil {
		return fail(err)
	}
	if auth.Address() != from {
		return fail(ErrUnauthorized)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.assets[asset]; !ok {
		return fail(ErrUnknownAsset)
	}
	fromKey := balanceKey{asset: asset, account: from}
	toKey := balanceKey{asset: asset, account: to}
	if h.balances[fromKey] < amount {
		return fail(ErrInsufficientBalance)
	}
	if from == to || amount == 0 {
		return nil
	}
	if h.balances[toKey] > math.MaxUint64-amount {
		return fail(ErrSupplyOverflow)
	}

	h.balances[fromKey] -= amount
	h.balances[toKey] += amount
	Record(ctx, func() {
		h.mu.Lock()
		h.balances[toKey] = subFloor(h.balances[toKey], amount)
		h.balances[fromKey] += amount
		h.mu.Unlock()
	})

	h.logger.Debug("transfer",
		zap.String("asset", asset.Hex()),
		zap.String("from", from.Hex()),
		zap.String("to", to.Hex()),
		zap.Uint64("amount", amount),
	)
	return nil
}

func (h *MemoryHost) MintTo(ctx context.Context, asset, to common.Address, amount uint64, auth Authority) error {
	fail := func(err error) error {
		return &TransferError{Op: "mint", Asset: asset, Account: to, Amount: amount, Err: err}
	}
	if err := h.authorize(ctx, auth); err != nil {
		return fail(err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	info, ok := h.assets[asset]
	if !ok {
		return fail(ErrUnknownAsset)
	}
	if info.MintAuthority != auth.Address() {
		return fail(ErrUnauthorized)
	}
	key := balanceKey{asset: asset, account: to}
	if info.Supply > math.MaxUint64-amount || h.balances[key] > math.MaxUint64-amount {
		return fail(ErrSupplyOverflow)
	}
	if amount == 0 {
		return nil
	}

	info.Supply += amount
	h.balances[key] += amount
	Record(ctx, func() {
		h.mu.Lock()
		h.balances[key] = subFloor(h.balances[key], amount)
		if current, ok := h.assets[asset]; ok {
			current.Supply = subFloor(current.Supply, amount)
		}
		h.mu.Unlock()
	})
	return nil
}

func (h *MemoryHost) Burn(ctx context.Context, asset, from common.Address, amount uint64, auth Authority) error {
	fail := func(err error) error {
		return &TransferError{Op: "burn", Asset: asset, Account: from, Amount: amount, Err: err}
	}
	if err := h.authorize(ctx, auth); err != nil {
		return fail(err)
	}
	if auth.Address() != from {
		return fail(ErrUnauthorized)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	info, ok := h.assets[asset]
	if !ok {
		return fail(ErrUnknownAsset)
	}
	key := balanceKey{asset: asset, account: from}
	if h.balances[key] < amount {
		return fail(ErrInsufficientBalance)
	}
	if amount == 0 {
		return nil
	}

	h.balances[key] -= amount
	info.Supply -= amount
	Record(ctx, func() {
		h.mu.Lock()
		h.balances[key] += amount
		if current, ok := h.assets[asset]; ok {
			current.Supply += amount
		}
		h.mu.Unlock()
	})
	return nil
}

// InvokeCallback runs a registered program synchronously. The host lock is
// not held while the program runs.
func (h *MemoryHost) InvokeCallback(ctx context.Context, program common.Address, entrypoint string, accounts []common.Address, args CallArgs) error {
	h.mu.RLock()
	target, ok := h.programs[program]
	h.mu.RUnlock()
	if !ok {
		return &CallbackError{Program: program, Entrypoint: entrypoint, Err: ErrUnknownProgram}
	}

	call := Call{
		Program:    program,
		Entrypoint: entrypoint,
		Accounts:   append([]common.Address(nil), accounts...),
		Args:       args,
	}
	if err := target.HandleCall(withCaller(ctx, program), h, call); err != nil {
		return &CallbackError{Program: program, Entrypoint: entrypoint, Err: err}
	}
	return nil
}

// DeriveCapability derives a capability and remembers its address as
// program-owned, so a plain signer can no longer act for it.
func (h *MemoryHost) DeriveCapability(program common.Address, seeds ...[]byte) Capability {
	capability := DeriveCapability(program, seeds...)
	h.markDerived(capability.Address)
	return capability
}

func (h *MemoryHost) markDerived(addr common.Address) {
	h.mu.Lock()
	h.derived[addr] = struct{}{}
	h.mu.Unlock()
}

// authorize checks auth against the program running in ctx. Inside a
// callback only the callee's own capabilities are accepted. A plain
// signer never acts for a program-owned account.
func (h *MemoryHost) authorize(ctx context.Context, auth Authority) error {
	caller, inCallback := CallerFrom(ctx)
	if capability := auth.capability; capability != nil {
		if !capability.Verify() || capability.Address != auth.signer {
			return ErrInvalidCapability
		}
		if inCallback && capability.Program != caller {
			return ErrUnauthorized
		}
		h.markDerived(capability.Address)
		return nil
	}

	if auth.signer == (common.Address{}) {
		return ErrInvalidCapability
	}
	if inCallback {
		return ErrUnauthorized
	}
	h.mu.RLock()
	_, derived := h.derived[auth.signer]
	h.mu.RUnlock()
	if derived {
		return ErrUnauthorized
	}
	return nil
}

// Export returns a deterministic copy of assets and non-zero balances.
func (h *MemoryHost) Export() MemoryState {
	h.mu.RLock()
	defer h.mu.RUnlock()

	state := MemoryState{
		Assets:   make([]AssetInfo, 0, len(h.assets)),
		Balances: make([]BalanceEntry, 0, len(h.balances)),
	}
	for _, info := range h.assets {
		state.Assets = append(state.Assets, *info)
	}
	for key, amount := range h.balances {
		if amount == 0 {
			continue
		}
		state.Balances = append(state.Balances, BalanceEntry{Asset: key.asset, Account: key.account, Amount: amount})
	}

	sort.Slice(state.Assets, func(i, j int) bool {
		return bytes.Compare(state.Assets[i].Address.Bytes(), state.Assets[j].Address.Bytes()) < 0
	})
	sort.Slice(state.Balances, func(i, j int) bool {
		a, b := state.Balances[i], state.Balances[j]
		if c := bytes.Compare(a.Asset.Bytes(), b.Asset.Bytes()); c != 0 {
			return c < 0
		}
		return bytes.Compare(a.Account.Bytes(), b.Account.Bytes()) < 0
	})
	return state
}

// Import replaces assets and balances with state. Registered programs stay.
func (h *MemoryHost) Import(state MemoryState) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.assets = make(map[common.Address]*AssetInfo, len(state.Assets))
	h.balances = make(map[balanceKey]uint64, len(state.Balances))
	for _, info := range state.Assets {
		copied := info
		h.assets[info.Address] = &copied
	}
	for _, entry := range state.Balances {
		h.balances[balanceKey{asset: entry.Asset, account: entry.Account}] = entry.Amount
	}
}

func subFloor(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
