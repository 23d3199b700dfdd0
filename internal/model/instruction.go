package model

import "github.com/ethereum/go-ethereum/common"

// Instruction is one signed program call read from a replay journal.
// Data is hex encoded ABI calldata.
type Instruction struct {
	Seq       uint64 `json:"seq"`
	Signer    string `json:"signer"`
	Data      string `json:"data"`
	Timestamp uint64 `json:"timestamp"`
	Note      string `json:"note,omitempty"`
}

// DecodedInstruction is an Instruction with its calldata resolved to a
// method and typed arguments.
type DecodedInstruction struct {
	Seq       uint64      `json:"seq"`
	Signer    string      `json:"signer"`
	Timestamp uint64      `json:"timestamp"`
	Method    string      `json:"method"`
	Args      interface{} `json:"args"`
	Raw       *RawCallRef `json:"raw,omitempty"`
}

// RawCallRef keeps the selector and calldata for traceability.
type RawCallRef struct {
	Selector string `json:"selector"`
	Data     string `json:"data"`
}

// SignerAddress returns the signer as an address.
func (d DecodedInstruction) SignerAddress() common.Address {
	return common.HexToAddress(d.Signer)
}
