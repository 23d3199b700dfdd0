package host

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	testAsset   = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	testMinter  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testAlice   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testBob     = common.HexToAddress("0x3333333333333333333333333333333333333333")
	testProgram = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

func newFundedHost(t *testing.T) *MemoryHost {
	t.Helper()
	h := NewMemoryHost(nil)
	ctx := context.Background()
	if err := h.RegisterAsset(ctx, AssetInfo{Address: testAsset, Decimals: 6, MintAuthority: testMinter}); err != nil {
		t.Fatalf("register asset: %v", err)
	}
	if err := h.MintTo(ctx, testAsset, testAlice, 1000, Signer(testMinter)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	return h
}

func TestMemoryHostTransfer(t *testing.T) {
	h := newFundedHost(t)
	ctx := context.Background()

	if err := h.Transfer(ctx, testAsset, testAlice, testBob, 400, Signer(testAlice)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := h.BalanceOf(testAsset, testAlice); got != 600 {
		t.Fatalf("alice balance mismatch: %d", got)
	}
	if got := h.BalanceOf(testAsset, testBob); got != 400 {
		t.Fatalf("bob balance mismatch: %d", got)
	}

	err := h.Transfer(ctx, testAsset, testAlice, testBob, 601, Signer(testAlice))
	var transferErr *TransferError
	if !errors.As(err, &transferErr) || !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance transfer error, got %v", err)
	}

	if err := h.Transfer(ctx, testAsset, testAlice, testBob, 1, Signer(testBob)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestMemoryHostMintAuthority(t *testing.T) {
	h := newFundedHost(t)
	ctx := context.Background()

	if err := h.MintTo(ctx, testAsset, testBob, 5, Signer(testAlice)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized mint, got %v", err)
	}
	info, _ := h.Asset(testAsset)
	if info.Supply != 1000 {
		t.Fatalf("supply mismatch: %d", info.Supply)
	}

	if err := h.Burn(ctx, testAsset, testAlice, 250, Signer(testAlice)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	info, _ = h.Asset(testAsset)
	if info.Supply != 750 || h.BalanceOf(testAsset, testAlice) != 750 {
		t.Fatalf("burn mismatch: supply=%d balance=%d", info.Supply, h.BalanceOf(testAsset, testAlice))
	}
}

func TestCapabilityAuthority(t *testing.T) {
	h := NewMemoryHost(nil)
	ctx := context.Background()

	capability := h.DeriveCapability(testProgram, []byte("pool"), testAsset.Bytes())
	if !capability.Verify() {
		t.Fatalf("derived capability should verify")
	}
	if err := h.RegisterAsset(ctx, AssetInfo{Address: testAsset, MintAuthority: capability.Address}); err != nil {
		t.Fatalf("register asset: %v", err)
	}
	if err := h.MintTo(ctx, testAsset, testAlice, 10, capability.Authority()); err != nil {
		t.Fatalf("mint with capability: %v", err)
	}

	forged := capability
	forged.Seeds = [][]byte{[]byte("pool"), testBob.Bytes()}
	if err := h.MintTo(ctx, testAsset, testAlice, 10, forged.Authority()); !errors.Is(err, ErrInvalidCapability) {
		t.Fatalf("expected invalid capability, got %v", err)
	}

	other := DeriveAddress(testProgram, []byte("po"), append([]byte("ol"), testAsset.Bytes()...))
	if other == capability.Address {
		t.Fatalf("seed boundaries must change the derived address")
	}
}

func TestDerivedAccountRejectsSigner(t *testing.T) {
	h := newFundedHost(t)
	ctx := context.Background()

	vault := h.DeriveCapability(testProgram, []byte("vault"), testAsset.Bytes())
	if err := h.Transfer(ctx, testAsset, testAlice, vault.Address, 100, Signer(testAlice)); err != nil {
		t.Fatalf("fund vault: %v", err)
	}
	if err := h.Transfer(ctx, testAsset, vault.Address, testBob, 10, Signer(vault.Address)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected signer on derived account to be unauthorized, got %v", err)
	}
	if err := h.Transfer(ctx, testAsset, vault.Address, testBob, 10, vault.Authority()); err != nil {
		t.Fatalf("transfer with capability: %v", err)
	}
	if got := h.BalanceOf(testAsset, testBob); got != 10 {
		t.Fatalf("bob balance mismatch: %d", got)
	}
}

type programFunc func(ctx context.Context, h Host, call Call) error

func (f programFunc) HandleCall(ctx context.Context, h Host, call Call) error { return f(ctx, h, call) }

func TestCallbackOnlyActsWithOwnCapabilities(t *testing.T) {
	h := newFundedHost(t)
	ctx := context.Background()

	callee := common.HexToAddress("0x5555555555555555555555555555555555555555")
	vault := h.DeriveCapability(testProgram, []byte("vault"), testAsset.Bytes())
	wallet := h.DeriveCapability(callee, []byte("wallet"), testAsset.Bytes())
	for _, account := range []common.Address{vault.Address, wallet.Address} {
		if err := h.Transfer(ctx, testAsset, testAlice, account, 100, Signer(testAlice)); err != nil {
			t.Fatalf("fund %s: %v", account.Hex(), err)
		}
	}

	var caller common.Address
	var attempts []error
	h.RegisterProgram(callee, programFunc(func(ctx context.Context, h Host, call Call) error {
		caller, _ = CallerFrom(ctx)
		attempts = append(attempts,
			h.Transfer(ctx, testAsset, vault.Address, testBob, 1, vault.Authority()),
			h.Transfer(ctx, testAsset, testAlice, testBob, 1, Signer(testAlice)),
		)
		return h.Transfer(ctx, testAsset, wallet.Address, testBob, 5, wallet.Authority())
	}))

	if err := h.InvokeCallback(ctx, callee, "run", nil, CallArgs{}); err != nil {
		t.Fatalf("callback: %v", err)
	}
	if caller != callee {
		t.Fatalf("callback frame carries %s", caller.Hex())
	}
	for i, err := range attempts {
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("attempt %d: expected unauthorized, got %v", i, err)
		}
	}
	if got := h.BalanceOf(testAsset, testBob); got != 5 {
		t.Fatalf("bob balance mismatch: %d", got)
	}
	if _, ok := CallerFrom(ctx); ok {
		t.Fatalf("top-level context should carry no caller")
	}
}

func TestJournalRollback(t *testing.T) {
	h := newFundedHost(t)

	ctx, journal := Begin(context.Background())
	if err := h.Transfer(ctx, testAsset, testAlice, testBob, 300, Signer(testAlice)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := h.MintTo(ctx, testAsset, testBob, 50, Signer(testMinter)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	journal.Rollback()

	if got := h.BalanceOf(testAsset, testAlice); got != 1000 {
		t.Fatalf("alice balance after rollback: %d", got)
	}
	if got := h.BalanceOf(testAsset, testBob); got != 0 {
		t.Fatalf("bob balance after rollback: %d", got)
	}
	info, _ := h.Asset(testAsset)
	if info.Supply != 1000 {
		t.Fatalf("supply after rollback: %d", info.Supply)
	}
}

func TestJournalCommitMergesIntoParent(t *testing.T) {
	h := newFundedHost(t)

	outerCtx, outer := Begin(context.Background())
	innerCtx, inner := Begin(outerCtx)
	if err := h.Transfer(innerCtx, testAsset, testAlice, testBob, 100, Signer(testAlice)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	inner.Commit()
	if outer.Len() != 1 {
		t.Fatalf("expected inner entry merged into outer, got %d", outer.Len())
	}
	outer.Rollback()

	if got := h.BalanceOf(testAsset, testBob); got != 0 {
		t.Fatalf("outer rollback should undo committed inner work, bob=%d", got)
	}
}

func TestExportImport(t *testing.T) {
	h := newFundedHost(t)
	state := h.Export()

	restored := NewMemoryHost(nil)
	restored.Import(state)
	if got := restored.BalanceOf(testAsset, testAlice); got != 1000 {
		t.Fatalf("restored balance mismatch: %d", got)
	}
	info, ok := restored.Asset(testAsset)
	if !ok || info.Supply != 1000 || info.Decimals != 6 {
		t.Fatalf("restored asset mismatch: %+v", info)
	}
}
