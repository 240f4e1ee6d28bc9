package market

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// SimTreasury is an in-memory Treasury used by tests and the local dev
// harness. External balances model depositor wallets. All methods are safe
// for concurrent use.
type SimTreasury struct {
	mu       sync.Mutex
	idle     int64
	external map[uuid.UUID]int64
}

func NewSimTreasury() *SimTreasury {
	return &SimTreasury{external: make(map[uuid.UUID]int64)}
}

// Fund credits an external wallet so it can deposit into the vault.
func (t *SimTreasury) Fund(account uuid.UUID, amount int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.external[account] += amount
}

// ExternalBalance reports an external wallet's balance.
func (t *SimTreasury) ExternalBalance(account uuid.UUID) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.external[account]
}

func (t *SimTreasury) Balance() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.idle
}

func (t *SimTreasury) Pull(_ context.Context, from uuid.UUID, amount int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.external[from] < amount {
		return fmt.Errorf("treasury pull: insufficient balance for %s: have=%d, need=%d",
			from, t.external[from], amount)
	}
	t.external[from] -= amount
	t.idle += amount
	return nil
}

func (t *SimTreasury) Pay(_ context.Context, to uuid.UUID, amount int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.idle < amount {
		return fmt.Errorf("treasury pay: insufficient idle balance: have=%d, need=%d", t.idle, amount)
	}
	t.idle -= amount
	t.external[to] += amount
	return nil
}

// withdrawTo / depositFrom move collateral between the treasury and a pair leg.
func (t *SimTreasury) withdrawTo(amount int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.idle += amount
}

func (t *SimTreasury) depositFrom(amount int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.idle < amount {
		return fmt.Errorf("insufficient idle collateral: have=%d, need=%d", t.idle, amount)
	}
	t.idle -= amount
	return nil
}

// legState is the vault-visible state of one leg of a simulated pair.
type legState struct {
	collateral    int64
	maker         int64 // vault's maker position
	externalMaker int64 // other makers
	taker         int64
	makerLimit    int64
	closed        bool
	liquidating   bool
	liquidatable  bool
}

// SimPair is a deterministic in-memory Pair. Oracle versions advance only
// when the test (or the dev harness ticker) calls AdvanceVersion, which makes
// epoch staleness fully scriptable. A single mutex guards the oracle history
// and the legs: the harness advances versions on its own goroutine while the
// keeper and HTTP readers hold no common lock with it.
type SimPair struct {
	id       string
	treasury *SimTreasury

	mu      sync.Mutex
	version Version
	prices  map[Version]int64
	// cumulative maker PnL per side, indexed by version, so Accumulated is a
	// simple difference of prefix sums
	cumPnL map[Side]map[Version]int64

	legs map[Side]*legState

	// failure injection
	settleErr   error
	depositErr  map[Side]error
	withdrawErr map[Side]error
	openErr     map[Side]error
	closeErr    map[Side]error
}

func NewSimPair(id string, treasury *SimTreasury, initialPrice int64) *SimPair {
	p := &SimPair{
		id:       id,
		treasury: treasury,
		version:  1,
		prices:   map[Version]int64{1: initialPrice},
		cumPnL: map[Side]map[Version]int64{
			SideLong:  {1: 0},
			SideShort: {1: 0},
		},
		legs: map[Side]*legState{
			SideLong:  {makerLimit: 1_000_000_000_000},
			SideShort: {makerLimit: 1_000_000_000_000},
		},
		depositErr:  make(map[Side]error),
		withdrawErr: make(map[Side]error),
		openErr:     make(map[Side]error),
		closeErr:    make(map[Side]error),
	}
	return p
}

// AdvanceVersion publishes a new oracle version. pnlLong/pnlShort are the
// maker PnL accrued to the vault since the previous version; they are applied
// to the legs' collateral so live reads agree with Accumulated.
func (p *SimPair) AdvanceVersion(price, pnlLong, pnlShort int64) Version {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.version
	p.version++
	p.prices[p.version] = price
	p.cumPnL[SideLong][p.version] = p.cumPnL[SideLong][prev] + pnlLong
	p.cumPnL[SideShort][p.version] = p.cumPnL[SideShort][prev] + pnlShort
	p.legs[SideLong].collateral += pnlLong
	p.legs[SideShort].collateral += pnlShort
	return p.version
}

func (p *SimPair) ID() string { return p.id }

func (p *SimPair) Settle(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settleErr
}

func (p *SimPair) LatestVersion() OracleSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return OracleSnapshot{
		Version:   p.version,
		Price:     p.prices[p.version],
		Timestamp: int64(p.version) * 1_000_000,
	}
}

func (p *SimPair) AtVersion(v Version) (OracleSnapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[v]
	if !ok {
		return OracleSnapshot{}, false
	}
	return OracleSnapshot{Version: v, Price: price, Timestamp: int64(v) * 1_000_000}, true
}

func (p *SimPair) Accumulated(side Side, from, to Version) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cumPnL[side][to] - p.cumPnL[side][from]
}

func (p *SimPair) MakerPosition(side Side) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.legs[side].maker
}

func (p *SimPair) CollateralBalance(side Side) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.legs[side].collateral
}

func (p *SimPair) OpenMaker(_ context.Context, side Side, amount int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.openErr[side]; err != nil {
		return err
	}
	leg := p.legs[side]
	if leg.externalMaker+leg.maker+amount > leg.makerLimit {
		return fmt.Errorf("%s/%s: maker limit exceeded", p.id, side)
	}
	leg.maker += amount
	return nil
}

func (p *SimPair) CloseMaker(_ context.Context, side Side, amount int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.closeErr[side]; err != nil {
		return err
	}
	leg := p.legs[side]
	if amount > leg.maker {
		return fmt.Errorf("%s/%s: close exceeds position", p.id, side)
	}
	if leg.externalMaker+leg.maker-amount < leg.taker {
		return fmt.Errorf("%s/%s: close below open taker interest", p.id, side)
	}
	leg.maker -= amount
	return nil
}

func (p *SimPair) DepositCollateral(_ context.Context, side Side, amount int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.depositErr[side]; err != nil {
		return err
	}
	if err := p.treasury.depositFrom(amount); err != nil {
		return err
	}
	p.legs[side].collateral += amount
	return nil
}

func (p *SimPair) WithdrawCollateral(_ context.Context, side Side, amount int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.withdrawErr[side]; err != nil {
		return err
	}
	leg := p.legs[side]
	if amount > leg.collateral {
		return fmt.Errorf("%s/%s: withdraw exceeds collateral", p.id, side)
	}
	leg.collateral -= amount
	p.treasury.withdrawTo(amount)
	return nil
}

func (p *SimPair) Closed(side Side) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.legs[side].closed
}

func (p *SimPair) Liquidating(side Side) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.legs[side].liquidating
}

func (p *SimPair) Liquidatable(side Side) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.legs[side].liquidatable
}

func (p *SimPair) MakerLimit(side Side) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.legs[side].makerLimit
}

func (p *SimPair) TotalMaker(side Side) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.legs[side].maker + p.legs[side].externalMaker
}

func (p *SimPair) TotalTaker(side Side) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.legs[side].taker
}

// --- test/harness knobs ---

func (p *SimPair) SetMakerLimit(side Side, limit int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.legs[side].makerLimit = limit
}

func (p *SimPair) SetExternalMaker(side Side, size int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.legs[side].externalMaker = size
}

func (p *SimPair) SetTakerInterest(side Side, size int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.legs[side].taker = size
}

func (p *SimPair) SetClosed(side Side, closed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.legs[side].closed = closed
}

func (p *SimPair) SetLiquidating(side Side, v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.legs[side].liquidating = v
}

func (p *SimPair) SetLiquidatable(side Side, v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.legs[side].liquidatable = v
}

func (p *SimPair) FailSettle(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settleErr = err
}

func (p *SimPair) FailDeposit(side Side, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.depositErr[side] = err
}

func (p *SimPair) FailWithdraw(side Side, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.withdrawErr[side] = err
}

func (p *SimPair) FailOpen(side Side, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openErr[side] = err
}

func (p *SimPair) FailClose(side Side, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeErr[side] = err
}
