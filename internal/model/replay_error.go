package model

// ReplayError records an instruction that could not be decoded or applied.
type ReplayError struct {
	Seq      uint64 `json:"seq"`
	Signer   string `json:"signer"`
	Selector string `json:"selector,omitempty"`
	Stage    string `json:"stage"`
	Error    string `json:"error"`
}
