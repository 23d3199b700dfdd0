package model

// Pool is the exported description of a lending pool.
type Pool struct {
	Address      string `json:"address"`
	ReserveAsset string `json:"reserve_asset"`
	ShareAsset   string `json:"share_asset"`
	Owner        string `json:"owner"`
	Decimals     uint8  `json:"decimals"`
	FirstSeenSeq uint64 `json:"first_seen_seq"`
}
