package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"HedgeVault/internal/market"
)

// settle is the lazy settlement entrypoint. Every mutating operation runs
// it first: it pushes each pair's own settlement forward, crosses the
// epoch boundary if one has completed, and rolls the given account's
// pending amounts into settled state. The caller holds the write lock.
func (v *Vault) settle(ctx context.Context, account uuid.UUID) error {
	start := time.Now()
	defer func() {
		v.metrics.SettleDuration.Observe(time.Since(start).Seconds())
	}()

	// Pair settlement comes first so collateral and version reads below
	// reflect fully settled markets. Any failure aborts: crossing a
	// boundary against a half-settled pair would bake a wrong valuation
	// into the write-once totals.
	for _, m := range v.markets {
		if err := m.Pair.Settle(ctx); err != nil {
			return fmt.Errorf("settle pair %s: %w", m.Pair.ID(), err)
		}
	}

	if c := v.currentEpoch(); c > v.ledger.latestEpoch {
		v.crossBoundary(c)
	}

	if account != KeeperAccount {
		v.settleAccount(account, 0)
	}
	return nil
}

// crossBoundary finalizes the completed epoch c: it freezes the
// conversion basis, mints the delayed shares for pending deposits,
// converts pending redemptions into claimable assets, and rolls the
// queued accumulators into the new active epoch.
func (v *Vault) crossBoundary(c Epoch) {
	l := v.ledger
	bctx := v.boundaryContext(c)
	minted := bctx.AssetsToShares(l.deposit)
	redeemed := bctx.SharesToAssets(l.redemption)

	cp := &Checkpoint{
		Epoch: c,
		Totals: EpochTotals{
			TotalShares: bctx.Shares,
			NetAssets:   bctx.Assets,
		},
		GrossAssets:    v.liveRealAssets(),
		MintedShares:   minted,
		RedeemedAssets: redeemed,
		Snapshots:      make(map[string]PairSnapshot, len(v.markets)),
		Versions:       make(map[string]market.Version, len(v.markets)),
		Timestamp:      v.oracleNow(),
	}
	for _, m := range v.markets {
		id := m.Pair.ID()
		cp.Snapshots[id] = PairSnapshot{
			LongMaker:       m.Pair.MakerPosition(market.SideLong),
			ShortMaker:      m.Pair.MakerPosition(market.SideShort),
			LongCollateral:  m.Pair.CollateralBalance(market.SideLong),
			ShortCollateral: m.Pair.CollateralBalance(market.SideShort),
		}
		cp.Versions[id] = m.Pair.LatestVersion().Version
	}
	cp.StateHash, cp.PrevHash = v.hasher.advance(c, checkpointDigest(cp))
	l.writeCheckpoint(cp)

	l.totalShares += minted
	l.totalUnclaimed += redeemed
	l.deposit, l.redemption = l.queuedDeposit, l.queuedRedemption
	l.queuedDeposit, l.queuedRedemption = 0, 0
	l.latestEpoch = c

	v.metrics.EpochsSettled.Inc()
	v.metrics.CurrentEpoch.Set(float64(c))
	v.metrics.DelayedSharesMinted.Add(float64(minted))
	v.metrics.TotalShares.Set(float64(l.totalShares))
	v.metrics.TotalUnclaimed.Set(float64(l.totalUnclaimed))
	v.metrics.TotalAssets.Set(float64(v.totalAssetsView()))
	v.log.Info().
		Int64("epoch", int64(c)).
		Int64("net_assets", bctx.Assets).
		Int64("share_basis", bctx.Shares).
		Int64("minted", minted).
		Int64("redeemed", redeemed).
		Msg("epoch boundary settled")

	v.emit(Output{
		Event: Event{
			Type:      EventEpochSettled,
			Epoch:     c,
			Amount:    minted,
			StateHash: cp.StateHash,
			Timestamp: cp.Timestamp,
		},
		Checkpoint: cp,
	}, true)
}

// settleAccount rolls an account forward to the latest settled epoch:
// pending amounts from completed epochs convert at the totals recorded
// for the epoch after the one they were recorded in, then any queued
// amounts whose epoch has arrived are promoted. A promotion can land on
// an epoch that has itself already completed, so promotion recurses
// exactly once to convert it too.
func (v *Vault) settleAccount(account uuid.UUID, depth int) {
	l := v.ledger
	a := l.account(account)

	if a.Epoch < l.latestEpoch {
		if a.hasPending() {
			if ctx, ok := v.contextAt(a.Epoch + 1); ok {
				a.Shares += ctx.AssetsToShares(a.Deposit)
				a.Unclaimed += ctx.SharesToAssets(a.Redemption)
				a.Deposit, a.Redemption = 0, 0
				v.metrics.AccountRollups.Inc()
			}
		}
		a.Epoch = l.latestEpoch
	}

	if a.hasQueued() && a.QueuedEpoch <= l.latestEpoch {
		a.Deposit += a.QueuedDeposit
		a.Redemption += a.QueuedRedemption
		a.Epoch = a.QueuedEpoch
		a.QueuedDeposit, a.QueuedRedemption, a.QueuedEpoch = 0, 0, 0
		if depth == 0 && a.Epoch < l.latestEpoch {
			v.settleAccount(account, depth+1)
		}
	}
}
