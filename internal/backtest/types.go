package backtest

import (
	"time"

	"ma-breach-backtester/internal/models"
)

// Action is the label logged with every trade record.
type Action string

const (
	ActionSellAllMA60      Action = "SELL ALL (Break MA60)"
	ActionSellHalfMA20     Action = "SELL 50% (Break MA20)"
	ActionBuy10MA10        Action = "BUY 10% (Break MA10)"
	ActionBuy5MA5          Action = "BUY 5% (Break MA5)"
	ActionFinalLiquidation Action = "Final Liquidation"
)

// PortfolioState is the running cash and share position of a single backtest.
type PortfolioState struct {
	Cash   float64 `json:"cash"`
	Shares int64   `json:"shares"`
}

// Value returns the mark-to-market value of the state at the given price.
func (s PortfolioState) Value(price float64) float64 {
	return s.Cash + float64(s.Shares)*price
}

func (s PortfolioState) record(row models.PriceRow) DailyRecord {
	return DailyRecord{
		Date:           row.Date,
		Close:          row.Close,
		PortfolioValue: s.Value(row.Close),
		SharesHeld:     s.Shares,
		Cash:           s.Cash,
	}
}

// TradeRecord is an immutable entry of the trade log.
type TradeRecord struct {
	Date        time.Time `json:"date"`
	Action      Action    `json:"action"`
	Price       float64   `json:"price"`
	SharesDelta int64     `json:"shares_delta"` // negative when sold
	Value       float64   `json:"value"`
	CashAfter   float64   `json:"cash_after"`
}

// DailyRecord is the portfolio as of one day's close.
type DailyRecord struct {
	Date           time.Time `json:"date"`
	Close          float64   `json:"close"`
	PortfolioValue float64   `json:"portfolio_value"`
	SharesHeld     int64     `json:"shares_held"`
	Cash           float64   `json:"cash"`
}

// AnnotatedRow is an input row extended with the portfolio columns of that day.
type AnnotatedRow struct {
	models.PriceRow
	PortfolioValue float64 `json:"portfolio_value"`
	SharesHeld     int64   `json:"shares_held"`
	Cash           float64 `json:"cash"`
}

// Result is the output of a single backtest run.
type Result struct {
	InitialCapital float64       `json:"initial_capital"`
	FinalCapital   float64       `json:"final_capital"`
	Trades         []TradeRecord `json:"trades"`
	Daily          []DailyRecord `json:"daily"`
	// FinalState is the position after the final liquidation, so Shares is always 0.
	FinalState       PortfolioState    `json:"final_state"`
	InsufficientData bool              `json:"insufficient_data"`
	Rows             []models.PriceRow `json:"-"`
}

// Annotated joins the input table with the daily records.
func (r *Result) Annotated() []AnnotatedRow {
	out := make([]AnnotatedRow, 0, len(r.Rows))
	for i, row := range r.Rows {
		if i >= len(r.Daily) {
			break
		}
		d := r.Daily[i]
		out = append(out, AnnotatedRow{
			PriceRow:       row,
			PortfolioValue: d.PortfolioValue,
			SharesHeld:     d.SharesHeld,
			Cash:           d.Cash,
		})
	}
	return out
}
