package models

import (
	"time"

	"gorm.io/gorm"
)

// Run is a completed backtest kept for the presentation layer.
// Rows are written once and never updated.
type Run struct {
	gorm.Model
	UUID             string    `gorm:"uniqueIndex;not null" json:"uuid"`
	Ticker           string    `gorm:"index" json:"ticker"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	InitialCapital   float64   `json:"initial_capital"`
	FinalCapital     float64   `json:"final_capital"`
	ROI              float64   `json:"roi"`
	MaxDrawdown      float64   `json:"max_drawdown"`
	TradeCount       int       `json:"trade_count"`
	InsufficientData bool      `json:"insufficient_data"`
}

// EquityPoint is one daily record of a stored run.
type EquityPoint struct {
	ID             uint      `gorm:"primarykey" json:"-"`
	RunUUID        string    `gorm:"index;not null" json:"run_uuid"`
	Date           time.Time `json:"date"`
	Close          float64   `json:"close"`
	PortfolioValue float64   `json:"portfolio_value"`
	SharesHeld     int64     `json:"shares_held"`
	Cash           float64   `json:"cash"`
}
