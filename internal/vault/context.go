package vault

import (
	fpmath "HedgeVault/internal/math"
)

// Epoch is the vault's discrete settlement cycle counter. It is distinct
// from market oracle versions: epoch N maps to exactly one recorded oracle
// version per pair, kept in the checkpoint table.
type Epoch int64

// EpochContext carries the share/asset conversion basis valid as of one
// epoch boundary. Assets is the net asset valuation at the boundary, Shares
// the economically outstanding share supply (settled supply plus shares
// burned for redemptions that convert at this boundary).
type EpochContext struct {
	Epoch  Epoch
	Assets int64 // quote scale
	Shares int64 // quote scale
}

// AssetsToShares converts an asset amount into shares at this boundary's
// pricing. A zero asset total means the vault is empty: pricing is 1:1.
func (c EpochContext) AssetsToShares(assets int64) int64 {
	if c.Assets == 0 {
		return assets
	}
	return fpmath.MulDiv(assets, c.Shares, c.Assets)
}

// SharesToAssets converts a share amount into assets at this boundary's
// pricing, 1:1 when no shares are outstanding.
func (c EpochContext) SharesToAssets(shares int64) int64 {
	if c.Shares == 0 {
		return shares
	}
	return fpmath.MulDiv(shares, c.Assets, c.Shares)
}
