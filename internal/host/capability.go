package host

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var capabilityMarker = []byte("DerivedCapability")

// Capability is a signing proof derived from a program id and fixed seeds.
// It holds no secret; the host checks it by deriving the address again.
type Capability struct {
	Program common.Address
	Seeds   [][]byte
	Address common.Address
}

// DeriveCapability derives the capability of program for seeds.
func DeriveCapability(program common.Address, seeds ...[]byte) Capability {
	copied := make([][]byte, 0, len(seeds))
	for _, seed := range seeds {
		copied = append(copied, append([]byte(nil), seed...))
	}
	return Capability{
		Program: program,
		Seeds:   copied,
		Address: DeriveAddress(program, seeds...),
	}
}

// DeriveAddress returns the account address owned by program for seeds.
func DeriveAddress(program common.Address, seeds ...[]byte) common.Address {
	parts := make([][]byte, 0, len(seeds)*2+2)
	for _, seed := range seeds {
		// length prefix keeps ("ab","c") and ("a","bc") apart
		parts = append(parts, []byte{byte(len(seed))}, seed)
	}
	parts = append(parts, program.Bytes(), capabilityMarker)
	return common.BytesToAddress(crypto.Keccak256(parts...))
}

// Verify reports whether the capability re-derives to its address.
func (c Capability) Verify() bool {
	return DeriveAddress(c.Program, c.Seeds...) == c.Address
}

// Authority returns the capability as a transfer authority.
func (c Capability) Authority() Authority {
	capability := c
	return Authority{signer: c.Address, capability: &capability}
}

// Authority proves the right to act for an account: either a transaction
// signer (verified outside the ledger) or a derived capability.
type Authority struct {
	signer     common.Address
	capability *Capability
}

// Signer returns an authority for an externally signed account.
func Signer(addr common.Address) Authority {
	return Authority{signer: addr}
}

// Address is the account the authority acts for.
func (a Authority) Address() common.Address { return a.signer }

type callerKey struct{}

// withCaller marks ctx as running inside program's callback.
func withCaller(ctx context.Context, program common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, program)
}

// CallerFrom returns the program whose callback ctx runs in. ok is false
// at the top level, where the pool program itself is executing.
func CallerFrom(ctx context.Context) (program common.Address, ok bool) {
	if ctx == nil {
		return common.Address{}, false
	}
	program, ok = ctx.Value(callerKey{}).(common.Address)
	return program, ok
}
