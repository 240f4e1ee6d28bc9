package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"HedgeVault/internal/market"
	fpmath "HedgeVault/internal/math"
	"HedgeVault/internal/observability"
)

// KeeperAccount is the sentinel identity used by the keeper loop. Calls
// under this identity drive settlement and rebalancing without touching
// any account record.
var KeeperAccount = uuid.Nil

// MarketConfig binds one hedged market pair to its allocation weight.
// Weights are relative: a pair receives weight/totalWeight of deployable
// capital, split evenly between its long and short legs.
type MarketConfig struct {
	Pair   market.Pair
	Weight int64
}

// Config assembles a Vault.
type Config struct {
	Treasury market.Treasury
	Markets  []MarketConfig

	// TargetLeverage is the maker position leverage target, leverage scale.
	TargetLeverage int64
	// MaxCollateral caps total vault capacity in quote units.
	MaxCollateral int64
	// MinCollateral is the smallest useful per-market deployment. When the
	// smallest weighted allocation falls below it, all capital is recalled.
	MinCollateral int64

	Outputs chan<- Output
	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

// Vault is the accounting core of a pooled two-sided investment vault.
// All state transitions are serialized under a single lock and driven by
// oracle version observations, never by the wall clock, so the same
// sequence of operations always produces the same state.
type Vault struct {
	mu sync.RWMutex

	log     zerolog.Logger
	metrics *observability.Metrics

	treasury    market.Treasury
	markets     []MarketConfig
	totalWeight int64
	minWeight   int64

	targetLeverage int64
	maxCollateral  int64
	minCollateral  int64

	ledger     *ledger
	allowances map[allowanceKey]int64
	hasher     *checkpointHasher
	outputs    chan<- Output
}

// New validates cfg, writes the genesis checkpoint from the pairs' current
// oracle versions, and returns a vault at epoch zero.
func New(cfg Config) (*Vault, error) {
	if cfg.Treasury == nil {
		return nil, fmt.Errorf("treasury is required")
	}
	if len(cfg.Markets) == 0 {
		return nil, fmt.Errorf("at least one market pair is required")
	}
	if cfg.TargetLeverage <= 0 {
		return nil, fmt.Errorf("target leverage must be positive, got %d", cfg.TargetLeverage)
	}
	if cfg.MaxCollateral <= 0 {
		return nil, fmt.Errorf("max collateral must be positive, got %d", cfg.MaxCollateral)
	}
	if cfg.MinCollateral < 0 {
		return nil, fmt.Errorf("min collateral must not be negative, got %d", cfg.MinCollateral)
	}
	if cfg.Metrics == nil {
		return nil, fmt.Errorf("metrics are required")
	}

	seen := make(map[string]bool, len(cfg.Markets))
	var totalWeight, minWeight int64
	for _, m := range cfg.Markets {
		if m.Pair == nil {
			return nil, fmt.Errorf("market pair is nil")
		}
		id := m.Pair.ID()
		if seen[id] {
			return nil, fmt.Errorf("duplicate market pair %q", id)
		}
		seen[id] = true
		if m.Weight <= 0 {
			return nil, fmt.Errorf("market %q weight must be positive, got %d", id, m.Weight)
		}
		totalWeight += m.Weight
		if minWeight == 0 || m.Weight < minWeight {
			minWeight = m.Weight
		}
	}

	v := &Vault{
		log:            cfg.Logger,
		metrics:        cfg.Metrics,
		treasury:       cfg.Treasury,
		markets:        cfg.Markets,
		totalWeight:    totalWeight,
		minWeight:      minWeight,
		targetLeverage: cfg.TargetLeverage,
		maxCollateral:  cfg.MaxCollateral,
		minCollateral:  cfg.MinCollateral,
		ledger:         newLedger(),
		allowances:     make(map[allowanceKey]int64),
		hasher:         newCheckpointHasher(),
		outputs:        cfg.Outputs,
	}

	genesis := &Checkpoint{
		Epoch:     0,
		Snapshots: make(map[string]PairSnapshot, len(cfg.Markets)),
		Versions:  make(map[string]market.Version, len(cfg.Markets)),
		Timestamp: v.oracleNow(),
	}
	for _, m := range v.markets {
		id := m.Pair.ID()
		genesis.Snapshots[id] = PairSnapshot{}
		genesis.Versions[id] = m.Pair.LatestVersion().Version
	}
	genesis.StateHash, genesis.PrevHash = v.hasher.advance(0, checkpointDigest(genesis))
	v.ledger.writeCheckpoint(genesis)

	v.log.Info().
		Int("markets", len(cfg.Markets)).
		Int64("total_weight", totalWeight).
		Int64("target_leverage", cfg.TargetLeverage).
		Msg("vault initialized at epoch 0")
	return v, nil
}

// oracleNow returns the newest oracle timestamp across all pairs. The
// vault never reads the wall clock for accounting.
func (v *Vault) oracleNow() int64 {
	var ts int64
	for _, m := range v.markets {
		if snap := m.Pair.LatestVersion(); snap.Timestamp > ts {
			ts = snap.Timestamp
		}
	}
	return ts
}

// Deposit pulls assets from the account's external balance and records a
// pending deposit that converts to shares at the next epoch boundary.
// Deposits made while the current epoch is stale are queued one epoch out.
func (v *Vault) Deposit(ctx context.Context, account uuid.UUID, assets int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if assets <= 0 {
		return ErrInvalidAmount
	}
	if err := v.settle(ctx, account); err != nil {
		return err
	}

	if limit := v.maxDeposit(); assets > limit {
		v.metrics.OpsRejected.WithLabelValues("deposit", "limit").Inc()
		return fmt.Errorf("%w: %d > %d", ErrDepositLimit, assets, limit)
	}
	if err := v.treasury.Pull(ctx, account, assets); err != nil {
		return fmt.Errorf("pull deposit from treasury: %w", err)
	}

	a := v.ledger.account(account)
	epoch := v.ledger.latestEpoch
	if v.currentEpochStale() {
		epoch = v.currentEpoch() + 1
		a.QueuedDeposit += assets
		a.QueuedEpoch = epoch
		v.ledger.queuedDeposit += assets
	} else {
		a.Deposit += assets
		a.Epoch = epoch
		v.ledger.deposit += assets
	}

	v.metrics.Deposits.Inc()
	v.metrics.DepositVolume.Add(float64(assets))
	v.log.Info().
		Str("account", account.String()).
		Int64("assets", assets).
		Int64("epoch", int64(epoch)).
		Bool("queued", epoch > v.ledger.latestEpoch).
		Msg("deposit recorded")
	v.emit(Output{Event: Event{
		Type:      EventDepositRecorded,
		Epoch:     epoch,
		Account:   account,
		Amount:    assets,
		Timestamp: v.oracleNow(),
	}}, false)

	v.rebalance(ctx, 0)
	return nil
}

// Redeem burns shares from account immediately and records a pending
// redemption that converts to claimable assets at the next epoch boundary.
// A caller other than the owner must hold a sufficient allowance.
func (v *Vault) Redeem(ctx context.Context, caller, account uuid.UUID, shares int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if shares <= 0 {
		return ErrInvalidAmount
	}
	if err := v.settle(ctx, account); err != nil {
		return err
	}
	if limit := v.maxRedeem(account); shares > limit {
		v.metrics.OpsRejected.WithLabelValues("redeem", "limit").Inc()
		return fmt.Errorf("%w: %d > %d", ErrRedemptionLimit, shares, limit)
	}
	a := v.ledger.account(account)
	if shares > a.Shares {
		v.metrics.OpsRejected.WithLabelValues("redeem", "balance").Inc()
		return fmt.Errorf("%w: %d > %d", ErrInsufficientShares, shares, a.Shares)
	}
	if caller != account {
		if err := v.spendAllowance(account, caller, shares); err != nil {
			v.metrics.OpsRejected.WithLabelValues("redeem", "allowance").Inc()
			return err
		}
	}

	// Shares leave the settled supply now; their asset value is fixed at
	// the next boundary.
	a.Shares -= shares
	v.ledger.totalShares -= shares

	epoch := v.ledger.latestEpoch
	if v.currentEpochStale() {
		epoch = v.currentEpoch() + 1
		a.QueuedRedemption += shares
		a.QueuedEpoch = epoch
		v.ledger.queuedRedemption += shares
	} else {
		a.Redemption += shares
		a.Epoch = epoch
		v.ledger.redemption += shares
	}

	v.metrics.Redemptions.Inc()
	v.metrics.RedemptionShares.Add(float64(shares))
	v.log.Info().
		Str("account", account.String()).
		Int64("shares", shares).
		Int64("epoch", int64(epoch)).
		Msg("redemption recorded")
	v.emit(Output{Event: Event{
		Type:      EventRedemptionRecorded,
		Epoch:     epoch,
		Account:   account,
		Amount:    shares,
		Timestamp: v.oracleNow(),
	}}, false)

	v.rebalance(ctx, 0)
	return nil
}

// Claim pays out the account's converted redemption value. When the sum
// of unclaimed entitlements exceeds what the vault actually holds, the
// payout is socialized pro rata and the shortfall is forfeited.
func (v *Vault) Claim(ctx context.Context, account uuid.UUID) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.settle(ctx, account); err != nil {
		return 0, err
	}
	a := v.ledger.account(account)
	entitled := a.Unclaimed
	if entitled == 0 {
		return 0, nil
	}

	payout := entitled
	if real := v.liveRealAssets(); v.ledger.totalUnclaimed > real {
		payout = fpmath.MulDiv(entitled, real, v.ledger.totalUnclaimed)
		v.metrics.ClaimsSocialized.Inc()
		v.log.Warn().
			Str("account", account.String()).
			Int64("entitled", entitled).
			Int64("payout", payout).
			Int64("real_assets", real).
			Int64("total_unclaimed", v.ledger.totalUnclaimed).
			Msg("claim socialized, vault cannot cover full entitlement")
	}

	a.Unclaimed = 0
	v.ledger.totalUnclaimed -= entitled

	// Free idle cash before paying: the rebalancer treats the payout as
	// excluded from deployable capital.
	v.rebalance(ctx, payout)
	if payout > 0 {
		if err := v.treasury.Pay(ctx, account, payout); err != nil {
			// Undo the bookkeeping so the entitlement survives.
			a.Unclaimed = entitled
			v.ledger.totalUnclaimed += entitled
			return 0, fmt.Errorf("pay claim from treasury: %w", err)
		}
	}

	v.metrics.Claims.Inc()
	v.metrics.ClaimVolume.Add(float64(payout))
	v.log.Info().
		Str("account", account.String()).
		Int64("payout", payout).
		Msg("claim paid")
	v.emit(Output{Event: Event{
		Type:      EventClaimPaid,
		Epoch:     v.ledger.latestEpoch,
		Account:   account,
		Amount:    payout,
		Timestamp: v.oracleNow(),
	}}, false)
	return payout, nil
}

// Sync settles any pending epoch boundary and rebalances. It is the
// keeper entrypoint and touches no account state.
func (v *Vault) Sync(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.settle(ctx, KeeperAccount); err != nil {
		return err
	}
	v.rebalance(ctx, 0)
	return nil
}

// SyncAccount settles the vault and rolls the given account's pending
// amounts forward without any deposit, redemption, or claim.
func (v *Vault) SyncAccount(ctx context.Context, account uuid.UUID) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.settle(ctx, account)
}

// Approve lets spender redeem up to shares on behalf of owner. Passing
// UnlimitedAllowance grants an approval that is never decremented.
func (v *Vault) Approve(owner, spender uuid.UUID, shares int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if shares < 0 {
		return ErrInvalidAmount
	}
	v.allowances[allowanceKey{owner: owner, spender: spender}] = shares
	return nil
}

// Allowance reports the remaining approval from owner to spender.
func (v *Vault) Allowance(owner, spender uuid.UUID) int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.allowances[allowanceKey{owner: owner, spender: spender}]
}

func (v *Vault) spendAllowance(owner, spender uuid.UUID, shares int64) error {
	key := allowanceKey{owner: owner, spender: spender}
	current := v.allowances[key]
	if current == UnlimitedAllowance {
		return nil
	}
	if shares > current {
		return fmt.Errorf("%w: %d > %d", ErrInsufficientAllowance, shares, current)
	}
	v.allowances[key] = current - shares
	return nil
}
