package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"flashLedger/internal/borrower"
	"flashLedger/internal/ledger"
	"flashLedger/internal/storage/leveldb"
)

const (
	deployer  = "0x00000000000000000000000000000000000000d1"
	alice     = "0x00000000000000000000000000000000000000a1"
	collector = "0x00000000000000000000000000000000000000c0"
	reserve   = "0x00000000000000000000000000000000000005e1"
	other     = "0x00000000000000000000000000000000000005e2"
)

func run(t *testing.T, stateDir string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--state-dir", stateDir, "--log-level", "error"))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, stateDir string, args ...string) string {
	t.Helper()
	out, err := run(t, stateDir, args...)
	if err != nil {
		t.Fatalf("%s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func TestCLILifecycle(t *testing.T) {
	dir := t.TempDir()
	borrowerAccount := borrower.AccountCapability(borrower.DefaultProgramID, common.HexToAddress(reserve)).Address.Hex()

	mustRun(t, dir, "init", "--deployer", deployer)
	mustRun(t, dir, "faucet", "--asset", reserve, "--to", alice, "--amount", "10000")
	mustRun(t, dir, "faucet", "--asset", reserve, "--to", borrowerAccount, "--amount", "10")
	mustRun(t, dir, "create", "--reserve", reserve)

	if out := mustRun(t, dir, "deposit", "--user", alice, "--reserve", reserve, "--amount", "1000"); !strings.Contains(out, "minted 1,000") {
		t.Fatalf("unexpected deposit output %q", out)
	}
	if out := mustRun(t, dir, "lend", "--user", alice, "--reserve", reserve, "--amount", "1000"); !strings.Contains(out, "fee 3") {
		t.Fatalf("unexpected lend output %q", out)
	}
	if out := mustRun(t, dir, "fees", "balance", "--reserve", reserve); !strings.Contains(out, "fees 3") {
		t.Fatalf("unexpected fees output %q", out)
	}
	if out := mustRun(t, dir, "balance", "--user", alice, "--reserve", reserve); !strings.Contains(out, "redeemable 1,000") {
		t.Fatalf("unexpected balance output %q", out)
	}
	mustRun(t, dir, "fees", "withdraw", "--admin", deployer, "--reserve", reserve, "--collector", collector)
	mustRun(t, dir, "withdraw", "--user", alice, "--reserve", reserve, "--all")

	store, err := leveldb.Open(dir)
	if err != nil {
		t.Fatalf("open state: %v", err)
	}
	defer store.Close()
	snap, found, err := store.LoadSnapshot(context.Background())
	if err != nil || !found {
		t.Fatalf("load state: found=%v err=%v", found, err)
	}
	if len(snap.Pools) != 1 {
		t.Fatalf("expected one pool, got %d", len(snap.Pools))
	}
	pool := snap.Pools[0]
	if pool.ReserveBalance != 0 || pool.ShareSupply != 0 || pool.FeeBalance != 0 {
		t.Fatalf("unexpected pool %+v", pool)
	}
}

func TestCLIRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "init", "--deployer", deployer)
	mustRun(t, dir, "faucet", "--asset", other, "--to", alice, "--amount", "1", "--decimals", "6")

	if _, err := run(t, dir, "create", "--reserve", other, "--decimals", "8"); !errors.Is(err, ledger.ErrDecimalsMismatch) {
		t.Fatalf("expected decimals mismatch, got %v", err)
	}
	if _, err := run(t, dir, "deposit", "--user", alice, "--amount", "1"); err == nil {
		t.Fatalf("expected error without --reserve")
	}
	if _, err := run(t, dir, "withdraw", "--user", alice, "--reserve", other, "--all", "--shares", "1"); err == nil {
		t.Fatalf("expected error for --all with --shares")
	}
	if _, err := run(t, dir, "init", "--deployer", deployer); !errors.Is(err, ledger.ErrAlreadyExists) {
		t.Fatalf("expected already initialized, got %v", err)
	}
}

func TestFormatAmount(t *testing.T) {
	if got := formatAmount(1234567, 0); got != "1,234,567" {
		t.Fatalf("got %q", got)
	}
	if got := formatAmount(1500000, 6); !strings.HasPrefix(got, "1,500,000 (1.5") {
		t.Fatalf("got %q", got)
	}
}
