package vault

import (
	"context"
	"time"

	"HedgeVault/internal/market"
	fpmath "HedgeVault/internal/math"
)

// rebalance drives collateral and maker positions toward their weighted
// targets. It runs after every mutating operation and is strictly best
// effort: a leg that cannot move is logged and counted, never allowed to
// fail the bookkeeping that already happened. claim is an asset amount
// about to leave the vault, excluded from every target so the payout cash
// ends up idle.
func (v *Vault) rebalance(ctx context.Context, claim int64) {
	start := time.Now()
	v.rebalanceCollateral(ctx, claim)
	v.rebalancePositions(ctx, claim)
	v.metrics.RebalanceRuns.Inc()
	v.metrics.RebalanceDuration.Observe(time.Since(start).Seconds())

	v.emit(Output{Event: Event{
		Type:      EventRebalanceCompleted,
		Epoch:     v.ledger.latestEpoch,
		Timestamp: v.oracleNow(),
	}}, false)
}

// deployableCollateral is the capital the vault is willing to post as
// margin. When the smallest weighted slice would fall below the minimum
// useful deployment, everything is recalled instead of dribbling dust
// across markets.
func (v *Vault) deployableCollateral(claim int64) int64 {
	d := v.liveRealAssets() - claim
	if d < 0 {
		return 0
	}
	if fpmath.MulDiv(d, v.minWeight, v.totalWeight) < v.minCollateral {
		return 0
	}
	return d
}

func (v *Vault) legCollateralTarget(deployable, weight int64) int64 {
	return fpmath.MulDiv(deployable, weight, v.totalWeight) / 2
}

func (v *Vault) rebalanceCollateral(ctx context.Context, claim int64) {
	deployable := v.deployableCollateral(claim)

	// Withdrawals run first across all legs so the freed cash can fund
	// the under-target legs in the second sweep.
	for _, m := range v.markets {
		target := v.legCollateralTarget(deployable, m.Weight)
		for _, side := range market.Sides {
			cur := m.Pair.CollateralBalance(side)
			if cur <= target {
				continue
			}
			if err := m.Pair.WithdrawCollateral(ctx, side, cur-target); err != nil {
				v.legFailed(m.Pair.ID(), side, "withdraw", err)
				continue
			}
			v.metrics.RebalanceLegOK.WithLabelValues(m.Pair.ID(), side.String(), "withdraw").Inc()
		}
	}

	for _, m := range v.markets {
		target := v.legCollateralTarget(deployable, m.Weight)
		for _, side := range market.Sides {
			cur := m.Pair.CollateralBalance(side)
			if cur >= target {
				continue
			}
			amount := target - cur
			if idle := v.treasury.Balance(); amount > idle {
				amount = idle
				v.metrics.RebalanceLegCapped.WithLabelValues(m.Pair.ID(), side.String(), "deposit").Inc()
			}
			if amount <= 0 {
				continue
			}
			if err := m.Pair.DepositCollateral(ctx, side, amount); err != nil {
				v.legFailed(m.Pair.ID(), side, "deposit", err)
				continue
			}
			v.metrics.RebalanceLegOK.WithLabelValues(m.Pair.ID(), side.String(), "deposit").Inc()
		}
	}
}

// positionSizing is the asset base that maker exposure should track. It
// shrinks settled assets by the share of supply already burned for
// pending redemptions and adds deposit cash that has not yet bought
// shares, so exposure anticipates the flows the next boundary will settle.
func (v *Vault) positionSizing(claim int64) int64 {
	sizing := v.totalAssetsView() - claim
	if sizing < 0 {
		sizing = 0
	}
	s := v.ledger.totalShares
	if pr := v.ledger.redemption + v.ledger.queuedRedemption; pr > 0 {
		sizing = fpmath.MulDiv(sizing, s, s+pr)
	}
	if v.allPairsAdvanced() {
		sizing += v.ledger.queuedDeposit
	} else {
		sizing += v.ledger.deposit + v.ledger.queuedDeposit
	}
	if fpmath.MulDiv(sizing, v.minWeight, v.totalWeight) < v.minCollateral {
		return 0
	}
	return sizing
}

func (v *Vault) rebalancePositions(ctx context.Context, claim int64) {
	sizing := v.positionSizing(claim)

	for _, m := range v.markets {
		price := m.Pair.LatestVersion().Price
		if price <= 0 {
			continue
		}
		legColl := fpmath.MulDiv(sizing, m.Weight, v.totalWeight) / 2
		target := fpmath.ComputeTargetPosition(legColl, v.targetLeverage, price)
		if m.Pair.Closed(market.SideLong) || m.Pair.Closed(market.SideShort) {
			// A hedged pair with a closed leg cannot stay delta neutral,
			// so both legs unwind.
			target = 0
		}

		for _, side := range market.Sides {
			cur := m.Pair.MakerPosition(side)
			switch {
			case cur > target:
				amount := cur - target
				headroom := m.Pair.TotalMaker(side) - m.Pair.TotalTaker(side)
				if headroom < 0 {
					headroom = 0
				}
				if amount > headroom {
					amount = headroom
					v.metrics.RebalanceLegCapped.WithLabelValues(m.Pair.ID(), side.String(), "close").Inc()
				}
				if amount == 0 {
					continue
				}
				if err := m.Pair.CloseMaker(ctx, side, amount); err != nil {
					v.legFailed(m.Pair.ID(), side, "close", err)
					continue
				}
				v.metrics.RebalanceLegOK.WithLabelValues(m.Pair.ID(), side.String(), "close").Inc()
			case cur < target:
				amount := target - cur
				capacity := m.Pair.MakerLimit(side) - m.Pair.TotalMaker(side)
				if capacity < 0 {
					capacity = 0
				}
				if amount > capacity {
					amount = capacity
					v.metrics.RebalanceLegCapped.WithLabelValues(m.Pair.ID(), side.String(), "open").Inc()
				}
				if amount == 0 {
					continue
				}
				if err := m.Pair.OpenMaker(ctx, side, amount); err != nil {
					v.legFailed(m.Pair.ID(), side, "open", err)
					continue
				}
				v.metrics.RebalanceLegOK.WithLabelValues(m.Pair.ID(), side.String(), "open").Inc()
			}
		}
	}
}

func (v *Vault) legFailed(pairID string, side market.Side, action string, err error) {
	v.metrics.RebalanceLegFailed.WithLabelValues(pairID, side.String(), action).Inc()
	v.log.Warn().
		Err(err).
		Str("pair", pairID).
		Str("side", side.String()).
		Str("action", action).
		Msg("rebalance leg skipped")
}
