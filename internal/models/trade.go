package models

import (
	"time"

	"gorm.io/gorm"
)

// Trade is a trade record of a stored backtest run.
type Trade struct {
	gorm.Model
	RunUUID   string    `gorm:"index;not null" json:"run_uuid"`
	Date      time.Time `json:"date"`
	Action    string    `json:"action"`
	Price     float64   `json:"price"`
	Shares    int64     `json:"shares"` // negative when sold
	Value     float64   `json:"value"`
	CashAfter float64   `json:"cash_after"`
}
