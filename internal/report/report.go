package report

import (
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"ma-breach-backtester/internal/backtest"
)

// Summary is the headline outcome of a backtest run.
// Money is rounded to cents and percentages to two decimals.
type Summary struct {
	InitialCapital   decimal.Decimal `json:"initial_capital"`
	FinalCapital     decimal.Decimal `json:"final_capital"`
	Profit           decimal.Decimal `json:"profit"`
	ROI              decimal.Decimal `json:"roi_pct"`
	MaxDrawdown      decimal.Decimal `json:"max_drawdown_pct"`
	Buys             int             `json:"buys"`
	Sells            int             `json:"sells"`
	Liquidations     int             `json:"liquidations"`
	Start            time.Time       `json:"start"`
	End              time.Time       `json:"end"`
	InsufficientData bool            `json:"insufficient_data"`
}

// TradeCount returns the number of entries in the trade log.
func (s Summary) TradeCount() int {
	return s.Buys + s.Sells + s.Liquidations
}

var hundred = decimal.NewFromInt(100)

// Summarize computes the summary of a result.
func Summarize(res *backtest.Result) Summary {
	initial := decimal.NewFromFloat(res.InitialCapital)
	final := decimal.NewFromFloat(res.FinalCapital)
	profit := final.Sub(initial)

	s := Summary{
		InitialCapital:   initial.Round(2),
		FinalCapital:     final.Round(2),
		Profit:           profit.Round(2),
		ROI:              decimal.Zero,
		MaxDrawdown:      MaxDrawdown(res.Daily).Mul(hundred).Round(2),
		InsufficientData: res.InsufficientData,
	}
	if initial.IsPositive() {
		s.ROI = profit.Div(initial).Mul(hundred).Round(2)
	}

	for _, t := range res.Trades {
		switch {
		case t.Action == backtest.ActionFinalLiquidation:
			s.Liquidations++
		case t.SharesDelta > 0:
			s.Buys++
		default:
			s.Sells++
		}
	}
	if len(res.Daily) > 0 {
		s.Start = res.Daily[0].Date
		s.End = res.Daily[len(res.Daily)-1].Date
	}
	return s
}

// MaxDrawdown returns the largest peak-to-trough decline of the portfolio value
// as a fraction of the peak.
func MaxDrawdown(daily []backtest.DailyRecord) decimal.Decimal {
	maxDD := decimal.Zero
	peak := decimal.Zero
	for _, d := range daily {
		v := decimal.NewFromFloat(d.PortfolioValue)
		if v.GreaterThan(peak) {
			peak = v
			continue
		}
		if !peak.IsPositive() {
			continue
		}
		if dd := peak.Sub(v).Div(peak); dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD
}

var moneyPrinter = message.NewPrinter(language.English)

// FormatMoney renders an amount as whole dollars with thousands separators, e.g. $1,234,567.
// Cents are truncated.
func FormatMoney(amount float64) string {
	dollars := decimal.NewFromFloat(amount).Truncate(0).IntPart()
	if dollars < 0 {
		return moneyPrinter.Sprintf("-$%d", -dollars)
	}
	return moneyPrinter.Sprintf("$%d", dollars)
}
