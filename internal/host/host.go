package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance = errors.New("host: insufficient balance")
	ErrUnauthorized        = errors.New("host: authority does not own account")
	ErrInvalidCapability   = errors.New("host: capability does not match its seeds")
	ErrUnknownAsset        = errors.New("host: unknown asset")
	ErrAssetExists         = errors.New("host: asset already registered")
	ErrUnknownProgram      = errors.New("host: unknown program")
	ErrSupplyOverflow      = errors.New("host: amount overflows")
)

// AssetInfo describes a fungible asset known to the host.
type AssetInfo struct {
	Address       common.Address `json:"address"`
	Decimals      uint8          `json:"decimals"`
	MintAuthority common.Address `json:"mint_authority"`
	Supply        uint64         `json:"supply"`
	Symbol        string         `json:"symbol,omitempty"`
	Name          string         `json:"name,omitempty"`
}

// CallArgs are the arguments handed to a callback entry point.
type CallArgs struct {
	Asset  common.Address
	Amount uint64
	Fee    uint64
}

// Call is a nested cross-program invocation.
type Call struct {
	Program    common.Address
	Entrypoint string
	Accounts   []common.Address
	Args       CallArgs
}

// Program is a callback target registered with the host.
type Program interface {
	HandleCall(ctx context.Context, h Host, call Call) error
}

// Host is the execution environment the ledger declares against: balances,
// supply changing operations, nested calls and derived signing capabilities.
// Mutations made with a context carrying a Journal are recorded in it.
type Host interface {
	RegisterAsset(ctx context.Context, info AssetInfo) error
	Asset(asset common.Address) (AssetInfo, bool)
	BalanceOf(asset, account common.Address) uint64
	Transfer(ctx context.Context, asset, from, to common.Address, amount uint64, auth Authority) error
	MintTo(ctx context.Context, asset, to common.Address, amount uint64, auth Authority) error
	Burn(ctx context.Context, asset, from common.Address, amount uint64, auth Authority) error
	InvokeCallback(ctx context.Context, program common.Address, entrypoint string, accounts []common.Address, args CallArgs) error
	DeriveCapability(program common.Address, seeds ...[]byte) Capability
}

// TransferError is returned for any failed balance movement.
type TransferError struct {
	Op      string
	Asset   common.Address
	Account common.Address
	Amount  uint64
	Err     error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %d of %s on %s: %v", e.Op, e.Amount, e.Asset.Hex(), e.Account.Hex(), e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// CallbackError is returned when a nested call fails.
type CallbackError struct {
	Program    common.Address
	Entrypoint string
	Err        error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("callback %s.%s: %v", e.Program.Hex(), e.Entrypoint, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }
