package instruction

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const programABIJSON = `[
  {
    "inputs": [{"internalType": "address", "name": "deployer", "type": "address"}],
    "name": "initialize",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "address", "name": "reserve", "type": "address"},
      {"internalType": "uint8", "name": "decimals", "type": "uint8"}
    ],
    "name": "createPool",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "address", "name": "reserve", "type": "address"},
      {"internalType": "uint64", "name": "amount", "type": "uint64"}
    ],
    "name": "deposit",
    "outputs": [{"internalType": "uint64", "name": "shares", "type": "uint64"}],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "address", "name": "reserve", "type": "address"},
      {"internalType": "uint64", "name": "shares", "type": "uint64"}
    ],
    "name": "withdraw",
    "outputs": [{"internalType": "uint64", "name": "amount", "type": "uint64"}],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "address", "name": "reserve", "type": "address"}],
    "name": "withdrawAll",
    "outputs": [{"internalType": "uint64", "name": "amount", "type": "uint64"}],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "address", "name": "reserve", "type": "address"},
      {"internalType": "uint64", "name": "amount", "type": "uint64"},
      {"internalType": "address", "name": "borrower", "type": "address"}
    ],
    "name": "lendAndCall",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "address", "name": "reserve", "type": "address"},
      {"internalType": "address", "name": "collector", "type": "address"}
    ],
    "name": "withdrawFees",
    "outputs": [{"internalType": "uint64", "name": "amount", "type": "uint64"}],
    "stateMutability": "nonpayable",
    "type": "function"
  }
]`

var (
	programABI     abi.ABI
	programABIOnce sync.Once
	programABIErr  error
)

// ProgramABI returns the parsed pool program ABI.
func ProgramABI() (abi.ABI, error) {
	programABIOnce.Do(func() {
		programABI, programABIErr = abi.JSON(strings.NewReader(programABIJSON))
	})
	return programABI, programABIErr
}
