package model

// TokenMeta captures ERC20 metadata of a reserve asset.
type TokenMeta struct {
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
}

// Label returns the symbol, or a shortened address when there is none.
func (m TokenMeta) Label() string {
	if m.Symbol != "" {
		return m.Symbol
	}
	if len(m.Address) > 10 {
		return m.Address[:6] + ".." + m.Address[len(m.Address)-4:]
	}
	return m.Address
}
