package vault

import (
	stdmath "math"

	"github.com/google/uuid"

	"HedgeVault/internal/market"
	fpmath "HedgeVault/internal/math"
)

// currentEpoch derives the epoch the vault is in from live oracle
// versions. The epoch after the latest settled one has arrived only when
// every pair has advanced past the version recorded at the last boundary.
// The epoch counter therefore only ever moves one step at a time, no
// matter how many oracle versions elapsed in between.
func (v *Vault) currentEpoch() Epoch {
	if v.allPairsAdvanced() {
		return v.ledger.latestEpoch + 1
	}
	return v.ledger.latestEpoch
}

func (v *Vault) allPairsAdvanced() bool {
	for _, m := range v.markets {
		recorded, ok := v.ledger.versionAt(v.ledger.latestEpoch, m.Pair.ID())
		if !ok {
			return false
		}
		if m.Pair.LatestVersion().Version <= recorded {
			return false
		}
	}
	return true
}

// currentEpochStale reports the half-advanced state: at least one pair has
// moved past the last boundary but at least one has not. Amounts recorded
// in this window are queued for the epoch after the one in flight.
func (v *Vault) currentEpochStale() bool {
	anyAdvanced := false
	allAdvanced := true
	for _, m := range v.markets {
		recorded, ok := v.ledger.versionAt(v.ledger.latestEpoch, m.Pair.ID())
		if !ok {
			allAdvanced = false
			continue
		}
		if m.Pair.LatestVersion().Version > recorded {
			anyAdvanced = true
		} else {
			allAdvanced = false
		}
	}
	return anyAdvanced && !allAdvanced
}

// liveRealAssets values the vault from live reads: idle treasury cash plus
// every pair's combined leg collateral. A pair whose combined collateral
// has gone negative contributes zero rather than dragging the total down.
func (v *Vault) liveRealAssets() int64 {
	total := v.treasury.Balance()
	for _, m := range v.markets {
		c := m.Pair.CollateralBalance(market.SideLong) + m.Pair.CollateralBalance(market.SideShort)
		if c > 0 {
			total += c
		}
	}
	return total
}

// boundaryContext builds the conversion basis for crossing into epoch e.
// Net assets exclude entitlements already owed and deposit cash that has
// not yet bought shares; the share basis restores the shares burned for
// the redemptions converting at this boundary.
func (v *Vault) boundaryContext(e Epoch) EpochContext {
	gross := v.liveRealAssets()
	net := gross - v.ledger.totalUnclaimed - v.ledger.deposit - v.ledger.queuedDeposit
	if net < 0 {
		net = 0
	}
	return EpochContext{
		Epoch:  e,
		Assets: net,
		Shares: v.ledger.totalShares + v.ledger.redemption,
	}
}

// contextAt returns the conversion basis recorded for epoch e, or the live
// boundary basis when e is the complete-but-unsettled next epoch.
func (v *Vault) contextAt(e Epoch) (EpochContext, bool) {
	if t, ok := v.ledger.totalsAt(e); ok {
		return EpochContext{Epoch: e, Assets: t.NetAssets, Shares: t.TotalShares}, true
	}
	if e == v.ledger.latestEpoch+1 && v.allPairsAdvanced() {
		return v.boundaryContext(e), true
	}
	return EpochContext{}, false
}

// totalSupplyView projects the share supply as of the current epoch:
// settled shares plus the delayed mint for pending deposits whose epoch
// has completed.
func (v *Vault) totalSupplyView() int64 {
	s := v.ledger.totalShares
	if v.ledger.deposit > 0 && v.allPairsAdvanced() {
		s += v.boundaryContext(v.ledger.latestEpoch + 1).AssetsToShares(v.ledger.deposit)
	}
	return s
}

// totalUnclaimedView projects total claimable assets as of the current
// epoch, including redemptions whose conversion boundary has been reached
// but not yet settled.
func (v *Vault) totalUnclaimedView() int64 {
	u := v.ledger.totalUnclaimed
	if v.ledger.redemption > 0 && v.allPairsAdvanced() {
		u += v.boundaryContext(v.ledger.latestEpoch + 1).SharesToAssets(v.ledger.redemption)
	}
	return u
}

// totalAssetsView projects the net assets backing the share supply as of
// the current epoch. Deposit cash counts only once its shares count, so
// the view stays consistent with totalSupplyView.
func (v *Vault) totalAssetsView() int64 {
	gross := v.liveRealAssets()
	unconverted := v.ledger.deposit + v.ledger.queuedDeposit
	unclaimed := v.ledger.totalUnclaimed
	if v.allPairsAdvanced() {
		unconverted = v.ledger.queuedDeposit
		unclaimed = v.totalUnclaimedView()
	}
	net := gross - unclaimed - unconverted
	if net < 0 {
		net = 0
	}
	return net
}

func (v *Vault) conversionContext() EpochContext {
	return EpochContext{
		Epoch:  v.currentEpoch(),
		Assets: v.totalAssetsView(),
		Shares: v.totalSupplyView(),
	}
}

// balanceOfView projects an account's share balance as of the current
// epoch. A pending deposit counts only after the epoch it was recorded in
// has fully completed its settlement cycle.
func (v *Vault) balanceOfView(a *AccountState) int64 {
	if a == nil {
		return 0
	}
	bal := a.Shares
	current := v.currentEpoch()
	if a.Deposit > 0 && a.Epoch < current {
		if ctx, ok := v.contextAt(a.Epoch + 1); ok {
			bal += ctx.AssetsToShares(a.Deposit)
		}
	}
	if a.QueuedDeposit > 0 && a.QueuedEpoch < current {
		if ctx, ok := v.contextAt(a.QueuedEpoch + 1); ok {
			bal += ctx.AssetsToShares(a.QueuedDeposit)
		}
	}
	return bal
}

func (v *Vault) unclaimedView(a *AccountState) int64 {
	if a == nil {
		return 0
	}
	u := a.Unclaimed
	current := v.currentEpoch()
	if a.Redemption > 0 && a.Epoch < current {
		if ctx, ok := v.contextAt(a.Epoch + 1); ok {
			u += ctx.SharesToAssets(a.Redemption)
		}
	}
	if a.QueuedRedemption > 0 && a.QueuedEpoch < current {
		if ctx, ok := v.contextAt(a.QueuedEpoch + 1); ok {
			u += ctx.SharesToAssets(a.QueuedRedemption)
		}
	}
	return u
}

// unhealthy gates deposits and redemptions. Shares with nothing behind
// them, or any leg in or near liquidation, freeze the vault's intake and
// outflow until conditions recover.
func (v *Vault) unhealthy() bool {
	if v.totalSupplyView() > 0 && v.totalAssetsView() == 0 {
		return true
	}
	for _, m := range v.markets {
		for _, side := range market.Sides {
			if m.Pair.Liquidating(side) || m.Pair.Liquidatable(side) {
				return true
			}
		}
	}
	return false
}

// maxDeposit is the remaining capacity under the collateral cap. Cash
// already owed to claimants does not count against capacity.
func (v *Vault) maxDeposit() int64 {
	if v.unhealthy() {
		return 0
	}
	used := v.liveRealAssets() - v.totalUnclaimedView()
	if used < 0 {
		used = 0
	}
	limit := v.maxCollateral - used
	if limit < 0 {
		limit = 0
	}
	return limit
}

// maxRedeem caps a redemption at what the markets can actually unwind.
// Each pair's closeable maker size, bounded by open taker interest on the
// other side, is valued as collateral and scaled from the pair's weight
// back up to the whole vault; the binding pair sets the limit. Idle
// treasury cash is always redeemable on top.
func (v *Vault) maxRedeem(account uuid.UUID) int64 {
	if v.unhealthy() {
		return 0
	}
	bal := v.balanceOfView(v.ledger.accounts[account])
	if bal == 0 {
		return 0
	}

	closeable := int64(stdmath.MaxInt64)
	for _, m := range v.markets {
		price := m.Pair.LatestVersion().Price
		if price <= 0 {
			closeable = 0
			break
		}
		perSide := int64(stdmath.MaxInt64)
		for _, side := range market.Sides {
			headroom := m.Pair.TotalMaker(side) - m.Pair.TotalTaker(side)
			if headroom < 0 {
				headroom = 0
			}
			if own := m.Pair.MakerPosition(side); own < headroom {
				headroom = own
			}
			coll := fpmath.ComputeCollateralForPosition(headroom, v.targetLeverage, price)
			if coll < perSide {
				perSide = coll
			}
		}
		scaled := fpmath.MulDiv(perSide*2, v.totalWeight, m.Weight)
		if scaled < closeable {
			closeable = scaled
		}
	}

	redeemable := v.treasury.Balance() + closeable
	capShares := v.conversionContext().AssetsToShares(redeemable)
	if capShares < bal {
		return capShares
	}
	return bal
}

// --- Exported read views ---

func (v *Vault) CurrentEpoch() Epoch {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.currentEpoch()
}

func (v *Vault) LatestSettledEpoch() Epoch {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.ledger.latestEpoch
}

func (v *Vault) CurrentEpochComplete() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.allPairsAdvanced()
}

func (v *Vault) CurrentEpochStale() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.currentEpochStale()
}

// TotalAssets returns the net assets backing the share supply, valued as
// of the current epoch.
func (v *Vault) TotalAssets() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.totalAssetsView()
}

// TotalSupply returns the share supply as of the current epoch, including
// delayed mints whose boundary has been reached.
func (v *Vault) TotalSupply() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.totalSupplyView()
}

// TotalUnclaimed returns all claimable assets as of the current epoch.
func (v *Vault) TotalUnclaimed() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.totalUnclaimedView()
}

// BalanceOf returns the account's share balance as of the current epoch.
func (v *Vault) BalanceOf(account uuid.UUID) int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.balanceOfView(v.ledger.accounts[account])
}

// Unclaimed returns the account's claimable assets as of the current epoch.
func (v *Vault) Unclaimed(account uuid.UUID) int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.unclaimedView(v.ledger.accounts[account])
}

// ConvertToShares quotes assets in shares at the current epoch's pricing.
func (v *Vault) ConvertToShares(assets int64) int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.conversionContext().AssetsToShares(assets)
}

// ConvertToAssets quotes shares in assets at the current epoch's pricing.
func (v *Vault) ConvertToAssets(shares int64) int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.conversionContext().SharesToAssets(shares)
}

// MaxDeposit returns the largest deposit currently accepted.
func (v *Vault) MaxDeposit() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.maxDeposit()
}

// MaxRedeem returns the largest share amount the account can redeem now.
func (v *Vault) MaxRedeem(account uuid.UUID) int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.maxRedeem(account)
}

// Healthy reports whether deposits and redemptions are currently open.
func (v *Vault) Healthy() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return !v.unhealthy()
}

// StateHash returns the head of the checkpoint hash chain.
func (v *Vault) StateHash() []byte {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.hasher.last()
}

// CheckpointAt returns the immutable checkpoint written for epoch e.
func (v *Vault) CheckpointAt(e Epoch) (*Checkpoint, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.ledger.checkpoint(e)
}

// EpochPnL attributes realized profit and loss per pair to epoch e, using
// the oracle versions frozen at its surrounding checkpoints. It is only
// available once the boundary closing the epoch has been written.
func (v *Vault) EpochPnL(e Epoch) (map[string]int64, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	start, ok := v.ledger.checkpoint(e)
	if !ok {
		return nil, false
	}
	end, ok := v.ledger.checkpoint(e + 1)
	if !ok {
		return nil, false
	}

	out := make(map[string]int64, len(v.markets))
	for _, m := range v.markets {
		id := m.Pair.ID()
		var sum int64
		for _, side := range market.Sides {
			sum += m.Pair.Accumulated(side, start.Versions[id], end.Versions[id])
		}
		out[id] = sum
	}
	return out, true
}

// AccountView is a read-only snapshot of one account's bookkeeping.
type AccountView struct {
	Shares         int64 `json:"shares"`
	Balance        int64 `json:"balance"`
	Unclaimed      int64 `json:"unclaimed"`
	PendingDeposit int64 `json:"pending_deposit"`
	PendingRedeem  int64 `json:"pending_redemption"`
	QueuedDeposit  int64 `json:"queued_deposit"`
	QueuedRedeem   int64 `json:"queued_redemption"`
	Epoch          Epoch `json:"epoch"`
	QueuedEpoch    Epoch `json:"queued_epoch"`
}

// Account returns a snapshot of the account's state. Balance and
// Unclaimed are projected to the current epoch; the raw pending fields are
// reported as recorded.
func (v *Vault) Account(id uuid.UUID) AccountView {
	v.mu.RLock()
	defer v.mu.RUnlock()

	a, ok := v.ledger.accounts[id]
	if !ok {
		return AccountView{Epoch: v.ledger.latestEpoch}
	}
	return AccountView{
		Shares:         a.Shares,
		Balance:        v.balanceOfView(a),
		Unclaimed:      v.unclaimedView(a),
		PendingDeposit: a.Deposit,
		PendingRedeem:  a.Redemption,
		QueuedDeposit:  a.QueuedDeposit,
		QueuedRedeem:   a.QueuedRedemption,
		Epoch:          a.Epoch,
		QueuedEpoch:    a.QueuedEpoch,
	}
}
