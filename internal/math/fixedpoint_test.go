package math_test

import (
	stdmath "math"
	"testing"

	fpmath "HedgeVault/internal/math"
)

// ============================================================================
// Test: MulDiv
// ============================================================================

func TestMulDiv_TruncatesTowardZero(t *testing.T) {
	cases := []struct {
		a, b, denom, want int64
	}{
		{10, 3, 4, 7},    // 7.5
		{-30, 1, 4, -7},  // -7.5
		{7, -3, 2, -10},  // -10.5
		{-6, -7, 4, 10},  // 10.5
		{0, 123, 7, 0},
		{1, 1, 1, 1},
	}
	for _, c := range cases {
		if got := fpmath.MulDiv(c.a, c.b, c.denom); got != c.want {
			t.Errorf("MulDiv(%d, %d, %d): got %d, want %d", c.a, c.b, c.denom, got, c.want)
		}
	}
}

func TestMulDiv_IntermediateOverflow(t *testing.T) {
	// a*b overflows int64 but the widened result does not.
	got := fpmath.MulDiv(stdmath.MaxInt64, 2, 4)
	want := stdmath.MaxInt64 / 2
	if got != int64(want) {
		t.Errorf("got %d, want %d", got, want)
	}

	got = fpmath.MulDiv(stdmath.MaxInt64, stdmath.MaxInt64, stdmath.MaxInt64)
	if got != stdmath.MaxInt64 {
		t.Errorf("got %d, want MaxInt64", got)
	}
}

func TestDivideInt128_HalfEven(t *testing.T) {
	cases := []struct {
		num, denom, want int64
	}{
		{5, 2, 2}, // 2.5 rounds to even 2
		{7, 2, 4}, // 3.5 rounds to even 4
		{3, 2, 2}, // 1.5 rounds to even 2
		{6, 2, 3}, // exact
	}
	for _, c := range cases {
		product := fpmath.MultiplyInt128(c.num, 1)
		if got := fpmath.DivideInt128(product, c.denom, fpmath.RoundHalfEven); got != c.want {
			t.Errorf("DivideInt128(%d, %d, half-even): got %d, want %d", c.num, c.denom, got, c.want)
		}
	}
}

// ============================================================================
// Test: Position sizing
// ============================================================================

func TestComputeNotional(t *testing.T) {
	// 1.0 quantity at price 2000.00 is 2000 quote units.
	got := fpmath.ComputeNotional(1_000_000, 2_000_00)
	if got != 2_000*1_000_000 {
		t.Errorf("got %d, want %d", got, int64(2_000*1_000_000))
	}
}

func TestComputeTargetPosition(t *testing.T) {
	// 300 quote at 2x and price 2000.00 backs a 0.3 position.
	got := fpmath.ComputeTargetPosition(300*1_000_000, 2_000_000, 2_000_00)
	if got != 300_000 {
		t.Errorf("got %d, want 300000", got)
	}
	if got := fpmath.ComputeTargetPosition(300*1_000_000, 2_000_000, 0); got != 0 {
		t.Errorf("zero price: got %d, want 0", got)
	}
	if got := fpmath.ComputeTargetPosition(300*1_000_000, 2_000_000, -5); got != 0 {
		t.Errorf("negative price: got %d, want 0", got)
	}
}

func TestComputeCollateralForPosition_InvertsExactly(t *testing.T) {
	coll := int64(300 * 1_000_000)
	size := fpmath.ComputeTargetPosition(coll, 2_000_000, 2_000_00)
	back := fpmath.ComputeCollateralForPosition(size, 2_000_000, 2_000_00)
	if back != coll {
		t.Errorf("got %d, want %d", back, coll)
	}
	if got := fpmath.ComputeCollateralForPosition(size, 0, 2_000_00); got != 0 {
		t.Errorf("zero leverage: got %d, want 0", got)
	}
}

func TestComputeCollateralForPosition_RoundTripNeverGains(t *testing.T) {
	// Sizing truncates, so collateral -> position -> collateral can lose
	// a little but must never create value.
	for _, coll := range []int64{1, 999, 200 * 1_000_000, 1_234_567_891} {
		size := fpmath.ComputeTargetPosition(coll, 2_000_000, 60_000_00)
		back := fpmath.ComputeCollateralForPosition(size, 2_000_000, 60_000_00)
		if back > coll {
			t.Errorf("collateral %d: round trip gained, got %d", coll, back)
		}
	}
}
