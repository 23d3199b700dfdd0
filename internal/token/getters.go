package token

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// textEncoding selects how a token returns symbol and name. Some older
// tokens, MKR among them, return bytes32 instead of string.
type textEncoding int

const (
	textString textEncoding = iota
	textBytes32
)

func (e textEncoding) solidityType() string {
	if e == textBytes32 {
		return "bytes32"
	}
	return "string"
}

var getters struct {
	once sync.Once
	abis [2]abi.ABI
	err  error
}

// gettersABI returns the decimals, symbol and name view methods for enc.
func gettersABI(enc textEncoding) (abi.ABI, error) {
	getters.once.Do(func() {
		for _, e := range []textEncoding{textString, textBytes32} {
			parsed, err := buildGetters(e)
			if err != nil {
				getters.err = err
				return
			}
			getters.abis[e] = parsed
		}
	})
	return getters.abis[enc], getters.err
}

func buildGetters(enc textEncoding) (abi.ABI, error) {
	decimals, err := abi.NewType("uint8", "", nil)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("uint8 type: %w", err)
	}
	text, err := abi.NewType(enc.solidityType(), "", nil)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("%s type: %w", enc.solidityType(), err)
	}

	view := func(name string, out abi.Type) abi.Method {
		return abi.NewMethod(name, name, abi.Function, "view", true, false, nil, abi.Arguments{{Type: out}})
	}
	return abi.ABI{Methods: map[string]abi.Method{
		"decimals": view("decimals", decimals),
		"symbol":   view("symbol", text),
		"name":     view("name", text),
	}}, nil
}
