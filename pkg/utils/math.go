package utils

// math.go - математические утилиты
//
// Назначение:
// Вспомогательные математические функции для торговли.
//
// Функции:
// - RoundToLotSize: округление до lot size биржи
//   * Пример: 0.123456 BTC с lot size 0.001 → 0.123 BTC
// - CalculateSpread: расчет спреда между ценами
//   * Formula: (priceHigh - priceLow) / priceLow * 100
// - CalculateNetSpread: чистый спред с учетом комиссий
//   * spread - 2*(feeA + feeB)*100 (спред в процентах, комиссии в долях)
// - CalculateWeightedAverage: средневзвешенная цена
//   * Используется для расчета цены по стакану ордеров

import "math"

// lotSizeEpsilon absorbs floating-point division noise (e.g. 0.123/0.001
// landing on 122.999999999...) before flooring/ceiling to a lot-size step.
const lotSizeEpsilon = 1e-9

// RoundToLotSize rounds value down to the nearest multiple of lotSize. A
// zero or negative lotSize is treated as "no constraint" and value is
// returned unchanged.
func RoundToLotSize(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	steps := math.Floor(value/lotSize + lotSizeEpsilon)
	return steps * lotSize
}

// RoundToLotSizeUp rounds value up to the nearest multiple of lotSize.
func RoundToLotSizeUp(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	steps := math.Ceil(value/lotSize - lotSizeEpsilon)
	return steps * lotSize
}

// RoundToLotSizeNearest rounds value to the closest multiple of lotSize,
// ties rounding away from zero (Go's math.Round convention).
func RoundToLotSizeNearest(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	steps := math.Round(value / lotSize)
	return steps * lotSize
}

// CalculateSpread returns the spread between two prices in percent:
// (priceHigh - priceLow) / priceLow * 100. Returns 0 for a non-positive
// priceLow, which would otherwise divide by zero or invert the sign.
func CalculateSpread(priceHigh, priceLow float64) float64 {
	if priceLow <= 0 {
		return 0
	}
	return (priceHigh - priceLow) / priceLow * 100
}

// CalculateSpreadFromPrices returns the spread in percent between two
// prices regardless of which one is higher.
func CalculateSpreadFromPrices(priceA, priceB float64) float64 {
	if priceA <= 0 || priceB <= 0 {
		return 0
	}
	high := math.Max(priceA, priceB)
	low := math.Min(priceA, priceB)
	return (high - low) / low * 100
}

// CalculateNetSpread subtracts round-trip taker fees (both legs, both
// directions) from a gross spread, all in percent.
func CalculateNetSpread(spreadPct, feeA, feeB float64) float64 {
	return spreadPct - 2*(feeA+feeB)*100
}

// CalculateNetSpreadDirect computes the net spread directly from prices
// and fees, combining CalculateSpread and CalculateNetSpread.
func CalculateNetSpreadDirect(priceHigh, priceLow, feeA, feeB float64) float64 {
	return CalculateNetSpread(CalculateSpread(priceHigh, priceLow), feeA, feeB)
}

// CalculateWeightedAverage computes a volume-weighted average price (VWAP).
// Negative weights are ignored; mismatched or empty inputs, or a
// non-positive total weight, yield 0.
func CalculateWeightedAverage(values, weights []float64) float64 {
	if len(values) == 0 || len(weights) == 0 || len(values) != len(weights) {
		return 0
	}
	var sum, weightSum float64
	for i, v := range values {
		w := weights[i]
		if w < 0 {
			continue
		}
		sum += v * w
		weightSum += w
	}
	if weightSum <= 0 {
		return 0
	}
	return sum / weightSum
}

// OrderBookLevel is a single price/volume rung of an order book side, used
// by SimulateMarketBuy/SimulateMarketSell to model walking the book.
type OrderBookLevel struct {
	Price  float64
	Volume float64
}

// simulateMarketFill walks levels best-price-first, consuming up to
// targetVolume, and returns the volume-weighted fill price, the volume
// actually filled (capped at available depth), and the slippage in percent
// relative to the best (first) level's price.
func simulateMarketFill(levels []OrderBookLevel, targetVolume float64) (avgPrice, filled, slippagePct float64) {
	if len(levels) == 0 || targetVolume <= 0 {
		return 0, 0, 0
	}
	bestPrice := levels[0].Price
	var cost float64
	for _, lvl := range levels {
		if filled >= targetVolume {
			break
		}
		take := math.Min(targetVolume-filled, lvl.Volume)
		cost += take * lvl.Price
		filled += take
	}
	if filled <= 0 {
		return 0, 0, 0
	}
	avgPrice = cost / filled
	slippagePct = (avgPrice - bestPrice) / bestPrice * 100
	return avgPrice, filled, slippagePct
}

// SimulateMarketBuy walks the ask side of a book to estimate the fill price
// and slippage of a market buy for targetVolume.
func SimulateMarketBuy(asks []OrderBookLevel, targetVolume float64) (avgPrice, filled, slippagePct float64) {
	return simulateMarketFill(asks, targetVolume)
}

// SimulateMarketSell walks the bid side of a book to estimate the fill
// price and slippage of a market sell for targetVolume.
func SimulateMarketSell(bids []OrderBookLevel, targetVolume float64) (avgPrice, filled, slippagePct float64) {
	return simulateMarketFill(bids, targetVolume)
}

// CalculatePNL returns the unrealized PNL of a single leg. side must be
// "long" or "short"; anything else yields 0.
func CalculatePNL(side string, entryPrice, currentPrice, quantity float64) float64 {
	switch side {
	case "long":
		return (currentPrice - entryPrice) * quantity
	case "short":
		return (entryPrice - currentPrice) * quantity
	default:
		return 0
	}
}

// CalculateTotalPNL returns the combined PNL of a delta-neutral long/short
// pair sharing the same quantity.
func CalculateTotalPNL(longEntry, longCurrent, shortEntry, shortCurrent, quantity float64) float64 {
	return CalculatePNL("long", longEntry, longCurrent, quantity) + CalculatePNL("short", shortEntry, shortCurrent, quantity)
}

// SplitVolume divides totalVolume into nParts equal, lot-size-rounded
// chunks (no remainder redistribution). Returns nil for nParts <= 0 or a
// non-positive totalVolume.
func SplitVolume(totalVolume float64, nParts int, lotSize float64) []float64 {
	if nParts <= 0 || totalVolume <= 0 {
		return nil
	}
	part := RoundToLotSize(totalVolume/float64(nParts), lotSize)
	parts := make([]float64, nParts)
	for i := range parts {
		parts[i] = part
	}
	return parts
}

// IsSpreadSufficient reports whether spread meets or exceeds threshold.
func IsSpreadSufficient(spread, threshold float64) bool {
	return spread >= threshold
}

// ShouldExit reports whether spread has compressed to or below the exit
// threshold.
func ShouldExit(spread, exitThreshold float64) bool {
	return spread <= exitThreshold
}

// IsStopLossHit reports whether pnl has breached a stop-loss of stopLoss
// (in loss units, always specified positive). stopLoss <= 0 disables the
// check.
func IsStopLossHit(pnl, stopLoss float64) bool {
	if stopLoss <= 0 {
		return false
	}
	return pnl <= -stopLoss
}

// Clamp restricts value to the [min, max] range.
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
