package market_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"HedgeVault/internal/market"
)

// ============================================================================
// Test: Concurrent harness access
// ============================================================================

// The dev harness advances oracle versions on its own goroutine while the
// keeper and the HTTP readers hit the same pair. These tests fail under the
// race detector if the sim drops its internal locking.

func TestSimPair_ConcurrentAdvanceAndReads(t *testing.T) {
	tr := market.NewSimTreasury()
	p := market.NewSimPair("ETH-USD", tr, 2_000_00)

	const rounds = 1000

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			p.AdvanceVersion(2_000_00, 1, -1)
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			snap := p.LatestVersion()
			if _, ok := p.AtVersion(snap.Version); !ok {
				t.Errorf("version %d: latest snapshot not readable", snap.Version)
				return
			}
			p.CollateralBalance(market.SideLong)
			p.Accumulated(market.SideShort, 1, snap.Version)
			p.TotalMaker(market.SideLong)
		}
	}()

	wg.Wait()

	snap := p.LatestVersion()
	if got, want := snap.Version, market.Version(1+rounds); got != want {
		t.Errorf("final version: got %d, want %d", got, want)
	}
	if got, want := p.Accumulated(market.SideLong, 1, snap.Version), int64(rounds); got != want {
		t.Errorf("accumulated long pnl: got %d, want %d", got, want)
	}
	if got, want := p.CollateralBalance(market.SideShort), int64(-rounds); got != want {
		t.Errorf("short collateral after drift: got %d, want %d", got, want)
	}
}

func TestSimTreasury_ConcurrentFundAndReads(t *testing.T) {
	ctx := context.Background()
	tr := market.NewSimTreasury()
	account := uuid.MustParse("11111111-1111-1111-1111-111111111111")

	const rounds = 1000

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			tr.Fund(account, 2)
			if err := tr.Pull(ctx, account, 1); err != nil {
				t.Errorf("pull: %v", err)
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			tr.Balance()
			tr.ExternalBalance(account)
		}
	}()

	wg.Wait()

	if got, want := tr.Balance(), int64(rounds); got != want {
		t.Errorf("idle balance: got %d, want %d", got, want)
	}
	if got, want := tr.ExternalBalance(account), int64(rounds); got != want {
		t.Errorf("external balance: got %d, want %d", got, want)
	}
}
