package borrower

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"flashLedger/internal/flash"
	"flashLedger/internal/host"
)

var (
	asset   = common.HexToAddress("0x00000000000000000000000000000000000005e1")
	lender  = common.HexToAddress("0x000000000000000000000000000000000000100d")
	faucet  = common.HexToAddress("0x00000000000000000000000000000000000000fa")
	program = common.HexToAddress("0x000000000000000000000000000000000000b077")
)

func newHost(t *testing.T, funded uint64, sample *Sample) *host.MemoryHost {
	t.Helper()
	ctx := context.Background()
	h := host.NewMemoryHost(nil)
	if err := h.RegisterAsset(ctx, host.AssetInfo{Address: asset, Decimals: 6, MintAuthority: faucet}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := h.MintTo(ctx, asset, sample.Account(asset), funded, host.Signer(faucet)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	return h
}

func borrowCall(sample *Sample, amount, fee uint64) host.Call {
	return host.Call{
		Program:    sample.ID,
		Entrypoint: flash.CallbackEntrypoint,
		Accounts:   []common.Address{{}, sample.Account(asset), lender, asset},
		Args:       host.CallArgs{Asset: asset, Amount: amount, Fee: fee},
	}
}

func TestSampleRepaysPrincipalAndFee(t *testing.T) {
	sample := &Sample{ID: program}
	h := newHost(t, 1003, sample)
	if err := sample.HandleCall(context.Background(), h, borrowCall(sample, 1000, 3)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := h.BalanceOf(asset, lender); got != 1003 {
		t.Fatalf("lender received %d", got)
	}
}

func TestSampleInsufficientFunds(t *testing.T) {
	sample := &Sample{ID: program}
	h := newHost(t, 1000, sample)
	err := sample.HandleCall(context.Background(), h, borrowCall(sample, 1000, 3))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if got := h.BalanceOf(asset, lender); got != 0 {
		t.Fatalf("lender received %d", got)
	}
}

func TestSampleRejectsForeignAccount(t *testing.T) {
	sample := &Sample{ID: program}
	h := newHost(t, 1003, sample)
	call := borrowCall(sample, 1000, 3)
	call.Accounts[flash.AccountBorrower] = lender
	if err := sample.HandleCall(context.Background(), h, call); !errors.Is(err, host.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestSampleUnknownEntrypoint(t *testing.T) {
	sample := &Sample{ID: program}
	h := newHost(t, 0, sample)
	call := borrowCall(sample, 1, 0)
	call.Entrypoint = "create_accounts"
	if err := sample.HandleCall(context.Background(), h, call); !errors.Is(err, ErrUnknownEntrypoint) {
		t.Fatalf("expected unknown entrypoint, got %v", err)
	}
}
