package vault

import (
	"fmt"

	"github.com/google/uuid"

	"HedgeVault/internal/market"
)

// ledger holds all settled and pending vault state. It is a plain data
// container: every mutation goes through the Vault, which serializes
// access and drives the settlement rules.
type ledger struct {
	latestEpoch Epoch

	totalShares    int64
	totalUnclaimed int64

	// Global pending accumulators for the active epoch and the queued
	// (stale-window) epoch. They roll forward at each boundary.
	deposit          int64
	redemption       int64
	queuedDeposit    int64
	queuedRedemption int64

	checkpoints map[Epoch]*Checkpoint
	accounts    map[uuid.UUID]*AccountState
}

func newLedger() *ledger {
	return &ledger{
		checkpoints: make(map[Epoch]*Checkpoint),
		accounts:    make(map[uuid.UUID]*AccountState),
	}
}

// account returns the state record for id, creating it at the latest
// settled epoch if it does not exist yet.
func (l *ledger) account(id uuid.UUID) *AccountState {
	a, ok := l.accounts[id]
	if !ok {
		a = &AccountState{Epoch: l.latestEpoch}
		l.accounts[id] = a
	}
	return a
}

func (l *ledger) checkpoint(e Epoch) (*Checkpoint, bool) {
	cp, ok := l.checkpoints[e]
	return cp, ok
}

// writeCheckpoint records the boundary state for cp.Epoch exactly once.
// A second write for the same epoch is a settlement bug, not a recoverable
// condition.
func (l *ledger) writeCheckpoint(cp *Checkpoint) {
	if _, ok := l.checkpoints[cp.Epoch]; ok {
		panic(fmt.Sprintf("FATAL: duplicate checkpoint write for epoch %d", cp.Epoch))
	}
	l.checkpoints[cp.Epoch] = cp
}

// versionAt returns the oracle version recorded for pair id at epoch e.
func (l *ledger) versionAt(e Epoch, id string) (market.Version, bool) {
	cp, ok := l.checkpoints[e]
	if !ok {
		return 0, false
	}
	v, ok := cp.Versions[id]
	return v, ok
}

func (l *ledger) totalsAt(e Epoch) (EpochTotals, bool) {
	cp, ok := l.checkpoints[e]
	if !ok {
		return EpochTotals{}, false
	}
	return cp.Totals, true
}
