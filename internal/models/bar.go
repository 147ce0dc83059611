package models

import (
	"math"
	"time"
)

// Bar is one daily OHLCV bar as returned by the price provider.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// PriceRow is one trading day of the indicator table consumed by the backtest engine.
// Moving averages that are not yet defined are NaN.
type PriceRow struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
	MA5   float64   `json:"ma5"`
	MA10  float64   `json:"ma10"`
	MA20  float64   `json:"ma20"`
	MA60  float64   `json:"ma60"`
}

// MA returns the moving average for the given window.
// The second return value is false for windows the table does not carry.
func (r PriceRow) MA(window int) (float64, bool) {
	switch window {
	case 5:
		return r.MA5, true
	case 10:
		return r.MA10, true
	case 20:
		return r.MA20, true
	case 60:
		return r.MA60, true
	default:
		return math.NaN(), false
	}
}

// SetMA stores the moving average for the given window. Unknown windows are ignored.
func (r *PriceRow) SetMA(window int, value float64) {
	switch window {
	case 5:
		r.MA5 = value
	case 10:
		r.MA10 = value
	case 20:
		r.MA20 = value
	case 60:
		r.MA60 = value
	}
}
