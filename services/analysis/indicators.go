package analysis

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInsufficientData is returned when a series is shorter than the indicator window
var ErrInsufficientData = errors.New("insufficient data")

var hundred = decimal.NewFromInt(100)

// CalculateSMA calculates the Simple Moving Average of the last period closes.
// closes are ordered oldest first.
func CalculateSMA(closes []decimal.Decimal, period int) (decimal.Decimal, error) {
	if period <= 0 || len(closes) < period {
		return decimal.Zero, fmt.Errorf("SMA%d: %w", period, ErrInsufficientData)
	}

	sum := decimal.Zero
	for _, c := range closes[len(closes)-period:] {
		sum = sum.Add(c)
	}
	return sum.Div(decimal.NewFromInt(int64(period))), nil
}

// CalculateEMA calculates Exponential Moving Average, seeded with the SMA of
// the first period closes
func CalculateEMA(closes []decimal.Decimal, period int) (decimal.Decimal, error) {
	if period <= 0 || len(closes) < period {
		return decimal.Zero, fmt.Errorf("EMA%d: %w", period, ErrInsufficientData)
	}

	ema, _ := CalculateSMA(closes[:period], period)
	multiplier := decimal.NewFromFloat(2.0 / float64(period+1))
	for _, c := range closes[period:] {
		ema = c.Sub(ema).Mul(multiplier).Add(ema)
	}
	return ema, nil
}

// CalculateRSI calculates Relative Strength Index with Wilder smoothing.
// It needs at least period+1 closes, oldest first.
func CalculateRSI(closes []decimal.Decimal, period int) (decimal.Decimal, error) {
	if period <= 0 || len(closes) < period+1 {
		return decimal.Zero, fmt.Errorf("RSI%d: %w", period, ErrInsufficientData)
	}

	p := decimal.NewFromInt(int64(period))
	gains := decimal.Zero
	losses := decimal.Zero
	for i := 1; i <= period; i++ {
		change := closes[i].Sub(closes[i-1])
		if change.IsPositive() {
			gains = gains.Add(change)
		} else {
			losses = losses.Add(change.Abs())
		}
	}
	avgGain := gains.Div(p)
	avgLoss := losses.Div(p)

	prev := p.Sub(decimal.NewFromInt(1))
	for i := period + 1; i < len(closes); i++ {
		change := closes[i].Sub(closes[i-1])
		gain, loss := decimal.Zero, decimal.Zero
		if change.IsPositive() {
			gain = change
		} else {
			loss = change.Abs()
		}
		avgGain = avgGain.Mul(prev).Add(gain).Div(p)
		avgLoss = avgLoss.Mul(prev).Add(loss).Div(p)
	}

	if avgLoss.IsZero() {
		if avgGain.IsZero() {
			return decimal.NewFromInt(50), nil
		}
		return hundred, nil
	}

	rs := avgGain.Div(avgLoss)
	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs))), nil
}

// AverageVolume averages the last window volumes
func AverageVolume(volumes []int64, window int) (decimal.Decimal, error) {
	if window <= 0 || len(volumes) < window {
		return decimal.Zero, fmt.Errorf("average volume over %d: %w", window, ErrInsufficientData)
	}
	var sum int64
	for _, v := range volumes[len(volumes)-window:] {
		sum += v
	}
	return decimal.NewFromInt(sum).Div(decimal.NewFromInt(int64(window))), nil
}

// PercentChange returns (last-prev)/prev*100. A zero prev yields zero.
func PercentChange(prev, last decimal.Decimal) decimal.Decimal {
	if prev.IsZero() {
		return decimal.Zero
	}
	return last.Sub(prev).Div(prev).Mul(hundred)
}
