package vault

import (
	"HedgeVault/internal/market"
)

// EpochTotals is the write-once conversion basis recorded when an epoch
// boundary is crossed. Pending deposits and redemptions recorded during
// epoch E settle against the totals written for epoch E+1.
type EpochTotals struct {
	TotalShares int64 `json:"total_shares"`
	NetAssets   int64 `json:"net_assets"`
}

// PairSnapshot freezes one market pair's maker exposure and collateral at
// an epoch boundary. Together with the recorded oracle versions it
// attributes realized profit and loss to the epoch in which it accrued.
type PairSnapshot struct {
	LongMaker       int64 `json:"long_maker"`
	ShortMaker      int64 `json:"short_maker"`
	LongCollateral  int64 `json:"long_collateral"`
	ShortCollateral int64 `json:"short_collateral"`
}

// Checkpoint is the full immutable record written at an epoch boundary.
// Each checkpoint's hash chains over its predecessor so any replayed
// history can be verified checkpoint by checkpoint.
type Checkpoint struct {
	Epoch          Epoch                     `json:"epoch"`
	Totals         EpochTotals               `json:"totals"`
	GrossAssets    int64                     `json:"gross_assets"`
	MintedShares   int64                     `json:"minted_shares"`
	RedeemedAssets int64                     `json:"redeemed_assets"`
	Snapshots      map[string]PairSnapshot   `json:"snapshots"`
	Versions       map[string]market.Version `json:"versions"`
	Timestamp      int64                     `json:"timestamp"` // microseconds, from the newest oracle observation
	StateHash      []byte                    `json:"state_hash"`
	PrevHash       []byte                    `json:"prev_hash"`
}
