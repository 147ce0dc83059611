package indicators

import (
	"errors"
	"fmt"
	"math"

	ta "github.com/thrasher-corp/gct-ta/indicators"

	"ma-breach-backtester/internal/models"
)

// Windows lists the moving-average windows carried by every price row.
var Windows = []int{5, 10, 20, 60}

var (
	ErrNotEnoughBars = errors.New("not enough bars to compute every moving average")
	ErrUnorderedBars = errors.New("bars must be in strictly increasing date order")
	ErrInvalidPeriod = errors.New("moving average period must be positive")
)

// MovingAverage returns the simple moving average of values over period.
// The result is aligned to values and holds NaN until the window is complete.
func MovingAverage(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("moving average %w", ErrInvalidPeriod)
	}
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if len(values) < period {
		return out, nil
	}
	sma := ta.SMA(values, period)
	if len(sma) != len(values) {
		return nil, fmt.Errorf("moving average: got %d values for %d inputs", len(sma), len(values))
	}
	copy(out[period-1:], sma[period-1:])
	return out, nil
}

// Build turns daily bars into the indicator table. Rows on which any moving
// average is still undefined are dropped, so the table starts on the first day
// the longest window is complete.
func Build(bars []models.Bar) ([]models.PriceRow, error) {
	for i := 1; i < len(bars); i++ {
		if !bars[i].Date.After(bars[i-1].Date) {
			return nil, fmt.Errorf("%w: %s follows %s", ErrUnorderedBars,
				bars[i].Date.Format("2006-01-02"), bars[i-1].Date.Format("2006-01-02"))
		}
	}

	longest := 0
	for _, w := range Windows {
		if w > longest {
			longest = w
		}
	}
	if len(bars) < longest {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrNotEnoughBars, len(bars), longest)
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	rows := make([]models.PriceRow, len(bars))
	for i, b := range bars {
		rows[i] = models.PriceRow{Date: b.Date, Close: b.Close}
	}
	for _, w := range Windows {
		ma, err := MovingAverage(closes, w)
		if err != nil {
			return nil, err
		}
		for i, v := range ma {
			rows[i].SetMA(w, v)
		}
	}

	out := rows[:0]
	for _, r := range rows {
		if complete(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func complete(r models.PriceRow) bool {
	for _, w := range Windows {
		if v, _ := r.MA(w); math.IsNaN(v) {
			return false
		}
	}
	return true
}
