package services

import (
	"context"
	"math"

	"github.com/kilnworks/kiln/providers"
	"github.com/kilnworks/kiln/utils"
)

const lamportsPerUnit = 1_000_000_000

// FeeCalculator converts the fixed USD platform fee into native payment units
// at the current exchange rate, bounded so a feed malfunction can never
// produce a free or unbounded fee.
type FeeCalculator struct {
	oracle       providers.PriceOracle
	fallbackRate float64
	floor        int64
	ceiling      int64
	logger       *utils.Logger
}

func CreateFeeCalculator(oracle providers.PriceOracle, fallbackRate float64, floor, ceiling int64) *FeeCalculator {
	return &FeeCalculator{
		oracle:       oracle,
		fallbackRate: fallbackRate,
		floor:        floor,
		ceiling:      ceiling,
		logger:       utils.NewLogger("fees"),
	}
}

// ComputeFee converts usdTarget at rate (USD per native unit) into lamports,
// clamped to [floor, ceiling]. Degenerate rates (zero, negative, NaN, Inf)
// fall back to the configured rate before clamping; the clamp holds in every
// case.
func (c *FeeCalculator) ComputeFee(usdTarget, rate float64) int64 {
	if !validRate(rate) {
		rate = c.fallbackRate
	}

	var lamports float64
	if validRate(rate) {
		lamports = usdTarget / rate * lamportsPerUnit
	} else {
		// Both the feed and the fallback are unusable. Charge the ceiling
		// rather than hand out free or unbounded mints.
		lamports = float64(c.ceiling)
	}

	return c.clamp(lamports)
}

// PerItemFee resolves the exchange rate and converts usdTarget. Oracle
// unavailability degrades to the fallback rate and is logged, never surfaced
// to the caller.
func (c *FeeCalculator) PerItemFee(ctx context.Context, usdTarget float64) int64 {
	rate, err := c.oracle.GetRate(ctx)
	if err != nil {
		c.logger.Warn(ctx, "exchange rate unavailable, using fallback rate", map[string]interface{}{
			"fallback_rate": c.fallbackRate,
		})
		rate = c.fallbackRate
	}
	return c.ComputeFee(usdTarget, rate)
}

// ComputeTotal is the full payment amount for a batch: item price plus the
// per-item platform fee, each times quantity.
func ComputeTotal(price int64, quantity int, perItemFee int64) int64 {
	q := int64(quantity)
	return price*q + perItemFee*q
}

func (c *FeeCalculator) clamp(lamports float64) int64 {
	if math.IsNaN(lamports) {
		return c.ceiling
	}
	if lamports > float64(c.ceiling) {
		return c.ceiling
	}
	if lamports < float64(c.floor) {
		return c.floor
	}
	return int64(lamports)
}

func validRate(rate float64) bool {
	return rate > 0 && !math.IsNaN(rate) && !math.IsInf(rate, 0)
}
