package vault_test

import (
	"errors"
	"testing"

	"HedgeVault/internal/market"
	fpmath "HedgeVault/internal/math"
	"HedgeVault/internal/vault"
)

// ============================================================================
// Test: Rebalancer
// ============================================================================

func TestRebalance_EmptyVaultStaysFlat(t *testing.T) {
	f := newFixture(t)

	// No deposits: sync settles the epoch but must deploy nothing.
	f.advance()
	f.sync()

	if e := f.vault.LatestSettledEpoch(); e != 1 {
		t.Fatalf("latest epoch: got %d, want 1", e)
	}
	for _, side := range market.Sides {
		if c := f.eth.CollateralBalance(side); c != 0 {
			t.Errorf("eth %s collateral: got %d, want 0", side, c)
		}
		if p := f.eth.MakerPosition(side); p != 0 {
			t.Errorf("eth %s maker: got %d, want 0", side, p)
		}
		if c := f.btc.CollateralBalance(side); c != 0 {
			t.Errorf("btc %s collateral: got %d, want 0", side, c)
		}
		if p := f.btc.MakerPosition(side); p != 0 {
			t.Errorf("btc %s maker: got %d, want 0", side, p)
		}
	}
	if idle := f.treasury.Balance(); idle != 0 {
		t.Errorf("idle cash: got %d, want 0", idle)
	}
}

func TestRebalance_DeploysByWeight(t *testing.T) {
	f := newFixture(t)
	f.deposit(f.alice, 1000*q)

	// 60/40 weights, split evenly between the two legs of each pair.
	if c := f.eth.CollateralBalance(market.SideLong); c != 300*q {
		t.Errorf("eth long collateral: got %d, want %d", c, 300*q)
	}
	if c := f.eth.CollateralBalance(market.SideShort); c != 300*q {
		t.Errorf("eth short collateral: got %d, want %d", c, 300*q)
	}
	if c := f.btc.CollateralBalance(market.SideLong); c != 200*q {
		t.Errorf("btc long collateral: got %d, want %d", c, 200*q)
	}
	if c := f.btc.CollateralBalance(market.SideShort); c != 200*q {
		t.Errorf("btc short collateral: got %d, want %d", c, 200*q)
	}
	if idle := f.treasury.Balance(); idle != 0 {
		t.Errorf("idle cash: got %d, want 0", idle)
	}

	wantEth := fpmath.ComputeTargetPosition(300*q, leverage, ethPrice)
	wantBtc := fpmath.ComputeTargetPosition(200*q, leverage, btcPrice)
	for _, side := range market.Sides {
		if p := f.eth.MakerPosition(side); p != wantEth {
			t.Errorf("eth %s maker: got %d, want %d", side, p, wantEth)
		}
		if p := f.btc.MakerPosition(side); p != wantBtc {
			t.Errorf("btc %s maker: got %d, want %d", side, p, wantBtc)
		}
	}
}

func TestRebalance_RecallsBelowMinimumDeployment(t *testing.T) {
	f := newFixture(t, func(cfg *vault.Config) {
		cfg.MinCollateral = 300 * q
	})

	// The BTC slice of 500 would be 200, under the minimum, so nothing
	// deploys at all.
	f.deposit(f.alice, 500*q)

	if idle := f.treasury.Balance(); idle != 500*q {
		t.Errorf("idle cash: got %d, want %d", idle, 500*q)
	}
	for _, side := range market.Sides {
		if c := f.eth.CollateralBalance(side); c != 0 {
			t.Errorf("eth %s collateral: got %d, want 0", side, c)
		}
		if p := f.eth.MakerPosition(side); p != 0 {
			t.Errorf("eth %s maker: got %d, want 0", side, p)
		}
	}

	// A second deposit lifts every slice over the minimum and capital
	// deploys on the next pass.
	f.deposit(f.alice, 500*q)
	if idle := f.treasury.Balance(); idle != 0 {
		t.Errorf("idle cash after second deposit: got %d, want 0", idle)
	}
	if c := f.btc.CollateralBalance(market.SideLong); c != 200*q {
		t.Errorf("btc long collateral: got %d, want %d", c, 200*q)
	}
}

func TestRebalance_LegFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	f.eth.FailDeposit(market.SideLong, errors.New("margin transfer rejected"))

	f.deposit(f.alice, 1000*q)

	// The failed leg's share stays idle; every other leg still deploys.
	if c := f.eth.CollateralBalance(market.SideLong); c != 0 {
		t.Errorf("eth long collateral: got %d, want 0", c)
	}
	if c := f.eth.CollateralBalance(market.SideShort); c != 300*q {
		t.Errorf("eth short collateral: got %d, want %d", c, 300*q)
	}
	if c := f.btc.CollateralBalance(market.SideLong); c != 200*q {
		t.Errorf("btc long collateral: got %d, want %d", c, 200*q)
	}
	if idle := f.treasury.Balance(); idle != 300*q {
		t.Errorf("idle cash: got %d, want %d", idle, 300*q)
	}
}

func TestRebalance_ClosedMarketUnwindsBothLegs(t *testing.T) {
	f := newFixture(t)
	f.seed(f.alice, 1000*q)

	f.eth.SetClosed(market.SideLong, true)
	f.sync()

	for _, side := range market.Sides {
		if p := f.eth.MakerPosition(side); p != 0 {
			t.Errorf("eth %s maker after close: got %d, want 0", side, p)
		}
	}
	wantBtc := fpmath.ComputeTargetPosition(200*q, leverage, btcPrice)
	for _, side := range market.Sides {
		if p := f.btc.MakerPosition(side); p != wantBtc {
			t.Errorf("btc %s maker: got %d, want %d", side, p, wantBtc)
		}
	}
}

func TestRebalance_CloseCappedByTakerInterest(t *testing.T) {
	f := newFixture(t)
	f.seed(f.alice, 1000*q)

	maker := f.eth.MakerPosition(market.SideLong)
	if maker == 0 {
		t.Fatal("expected a deployed eth long maker position")
	}
	// Open taker interest pins most of the book: only the excess above
	// it can be unwound.
	f.eth.SetTakerInterest(market.SideLong, maker-50_000)
	f.eth.SetClosed(market.SideLong, true)
	f.sync()

	if p := f.eth.MakerPosition(market.SideLong); p != maker-50_000 {
		t.Errorf("eth long maker: got %d, want %d", p, maker-50_000)
	}
	// The short leg has no taker interest and unwinds fully.
	if p := f.eth.MakerPosition(market.SideShort); p != 0 {
		t.Errorf("eth short maker: got %d, want 0", p)
	}
}

func TestRebalance_OpenCappedByMakerLimit(t *testing.T) {
	f := newFixture(t)
	f.eth.SetMakerLimit(market.SideLong, 100_000)

	f.deposit(f.alice, 1000*q)

	if p := f.eth.MakerPosition(market.SideLong); p != 100_000 {
		t.Errorf("eth long maker: got %d, want %d", p, int64(100_000))
	}
	want := fpmath.ComputeTargetPosition(300*q, leverage, ethPrice)
	if p := f.eth.MakerPosition(market.SideShort); p != want {
		t.Errorf("eth short maker: got %d, want %d", p, want)
	}
}

func TestRebalance_ClaimPayoutStaysIdle(t *testing.T) {
	f := newSinglePairFixture(t)
	f.seed(f.alice, 1000*q)

	f.redeem(f.alice, 400*q)
	f.advance()

	payout, err := f.vault.Claim(ctx, f.alice)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if payout != 400*q {
		t.Fatalf("payout: got %d, want %d", payout, 400*q)
	}

	// The remaining 600 stays deployed, split across the two legs.
	for _, side := range market.Sides {
		if c := f.eth.CollateralBalance(side); c != 300*q {
			t.Errorf("%s collateral after claim: got %d, want %d", side, c, 300*q)
		}
	}
	if idle := f.treasury.Balance(); idle != 0 {
		t.Errorf("idle cash after claim: got %d, want 0", idle)
	}
}

func TestRebalance_ExposureShrinksForPendingRedemptions(t *testing.T) {
	f := newSinglePairFixture(t)
	f.seed(f.alice, 1000*q)

	full := f.eth.MakerPosition(market.SideLong)
	f.redeem(f.alice, 500*q)

	// Half the supply is burned and waiting to convert, so exposure
	// halves while collateral stays deployed.
	want := fpmath.ComputeTargetPosition(250*q, leverage, ethPrice)
	if p := f.eth.MakerPosition(market.SideLong); p != want {
		t.Errorf("maker after redeem: got %d, want %d (full was %d)", p, want, full)
	}
	if c := f.eth.CollateralBalance(market.SideLong); c != 500*q {
		t.Errorf("collateral after redeem: got %d, want %d", c, 500*q)
	}
}
