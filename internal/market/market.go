package market

import (
	"context"

	"github.com/google/uuid"
)

// Side identifies one leg of a long/short market pair.
type Side uint8

const (
	SideLong Side = iota
	SideShort
)

// Sides lists both legs in canonical order.
var Sides = [2]Side{SideLong, SideShort}

func (s Side) String() string {
	switch s {
	case SideLong:
		return "long"
	case SideShort:
		return "short"
	default:
		return "unknown"
	}
}

// Version is a market oracle version. It is deliberately distinct from the
// vault's epoch counter: one epoch maps to exactly one recorded version per
// pair, and the mapping is kept in the vault's checkpoint table.
type Version int64

// OracleSnapshot is one observation of a pair's shared oracle.
type OracleSnapshot struct {
	Version   Version
	Price     int64 // price scale
	Timestamp int64 // unix micros
}

// Pair is the vault's view of one long/short perpetual market pair sharing a
// single oracle. All position and collateral reads are scoped to the vault's
// own account at the pair; the vault never sees other participants' state.
//
// Settle failures propagate and abort the calling operation. Every other
// mutating call is advisory: the rebalancer isolates per-leg failures.
type Pair interface {
	ID() string

	// Settle forces market-level settlement of the vault's account on both
	// legs up to the latest oracle version.
	Settle(ctx context.Context) error

	LatestVersion() OracleSnapshot
	AtVersion(v Version) (OracleSnapshot, bool)

	// Accumulated reports the collateral profit/loss accrued to the vault's
	// maker position on one side between two oracle versions, in quote units.
	Accumulated(side Side, from, to Version) int64

	MakerPosition(side Side) int64    // vault's maker position, quantity scale
	CollateralBalance(side Side) int64 // vault's collateral on the leg, quote scale

	OpenMaker(ctx context.Context, side Side, amount int64) error
	CloseMaker(ctx context.Context, side Side, amount int64) error
	DepositCollateral(ctx context.Context, side Side, amount int64) error
	WithdrawCollateral(ctx context.Context, side Side, amount int64) error

	Closed(side Side) bool
	Liquidating(side Side) bool
	Liquidatable(side Side) bool

	MakerLimit(side Side) int64 // configured maker capacity on the leg
	TotalMaker(side Side) int64 // open maker interest across all makers
	TotalTaker(side Side) int64 // open taker interest across all takers
}

// Treasury is the custody boundary for the vault's underlying collateral
// token. Balance is the idle (undeployed) amount held by the vault itself;
// deployed collateral lives at the pairs.
type Treasury interface {
	Balance() int64
	Pull(ctx context.Context, from uuid.UUID, amount int64) error
	Pay(ctx context.Context, to uuid.UUID, amount int64) error
}
