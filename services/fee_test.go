package services

import (
	"context"
	"errors"
	"math"
	"testing"
)

const (
	testFeeFloor   = int64(100_000)
	testFeeCeiling = int64(1_000_000_000)
)

func newTestCalculator(oracle *fakeOracle, fallbackRate float64) *FeeCalculator {
	return CreateFeeCalculator(oracle, fallbackRate, testFeeFloor, testFeeCeiling)
}

func TestFeeCalculator_ComputeFee(t *testing.T) {
	calc := newTestCalculator(&fakeOracle{}, 100)

	// $2 at $200 per unit is 0.01 units.
	if got := calc.ComputeFee(2, 200); got != 10_000_000 {
		t.Errorf("ComputeFee(2, 200) = %d, want 10000000", got)
	}
}

func TestFeeCalculator_ComputeFee_ClampsToFloor(t *testing.T) {
	calc := newTestCalculator(&fakeOracle{}, 100)

	if got := calc.ComputeFee(0.000001, 200); got != testFeeFloor {
		t.Errorf("ComputeFee() = %d, want floor %d", got, testFeeFloor)
	}
}

func TestFeeCalculator_ComputeFee_ClampsToCeiling(t *testing.T) {
	calc := newTestCalculator(&fakeOracle{}, 100)

	if got := calc.ComputeFee(1_000_000, 200); got != testFeeCeiling {
		t.Errorf("ComputeFee() = %d, want ceiling %d", got, testFeeCeiling)
	}
}

func TestFeeCalculator_ComputeFee_DegenerateRates(t *testing.T) {
	calc := newTestCalculator(&fakeOracle{}, 200)

	// Every degenerate rate falls back to the configured rate of 200.
	rates := []float64{0, -5, math.NaN(), math.Inf(1), math.Inf(-1)}
	for _, rate := range rates {
		if got := calc.ComputeFee(2, rate); got != 10_000_000 {
			t.Errorf("ComputeFee(2, %v) = %d, want 10000000 via fallback", rate, got)
		}
	}
}

func TestFeeCalculator_ComputeFee_UnusableFallbackChargesCeiling(t *testing.T) {
	calc := newTestCalculator(&fakeOracle{}, 0)

	if got := calc.ComputeFee(2, 0); got != testFeeCeiling {
		t.Errorf("ComputeFee() = %d, want ceiling %d when no rate is usable", got, testFeeCeiling)
	}
}

func TestFeeCalculator_PerItemFee_OracleUnavailable(t *testing.T) {
	oracle := &fakeOracle{err: errors.New("feed down")}
	calc := newTestCalculator(oracle, 200)

	if got := calc.PerItemFee(context.Background(), 2); got != 10_000_000 {
		t.Errorf("PerItemFee() = %d, want 10000000 via fallback rate", got)
	}
}

func TestFeeCalculator_PerItemFee_UsesOracleRate(t *testing.T) {
	oracle := &fakeOracle{rate: 100}
	calc := newTestCalculator(oracle, 200)

	// $2 at $100 per unit is 0.02 units.
	if got := calc.PerItemFee(context.Background(), 2); got != 20_000_000 {
		t.Errorf("PerItemFee() = %d, want 20000000", got)
	}
}

func TestComputeTotal(t *testing.T) {
	// 1 unit item price plus a 0.01 unit fee, times two items.
	got := ComputeTotal(1_000_000_000, 2, 10_000_000)
	if got != 2_020_000_000 {
		t.Errorf("ComputeTotal() = %d, want 2020000000", got)
	}
}

func TestComputeTotal_SingleItem(t *testing.T) {
	if got := ComputeTotal(500, 1, 50); got != 550 {
		t.Errorf("ComputeTotal() = %d, want 550", got)
	}
}
