package database

import (
	"errors"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"ma-breach-backtester/internal/config"
	"ma-breach-backtester/internal/models"
)

// ErrRunNotFound is returned when no stored run has the requested UUID.
var ErrRunNotFound = errors.New("run not found")

// NewDatabase creates a new database connection and performs auto-migration.
func NewDatabase(cfg config.Database) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// AutoMigrate creates or updates the run tables. Stored runs are kept.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Run{}, &models.Trade{}, &models.EquityPoint{}); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}

// SaveRun stores a run with its trades and daily records in one transaction.
func SaveRun(db *gorm.DB, run *models.Run, trades []models.Trade, points []models.EquityPoint) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("failed to save run %s: %w", run.UUID, err)
		}
		if len(trades) > 0 {
			if err := tx.CreateInBatches(trades, 500).Error; err != nil {
				return fmt.Errorf("failed to save trades of run %s: %w", run.UUID, err)
			}
		}
		if len(points) > 0 {
			if err := tx.CreateInBatches(points, 500).Error; err != nil {
				return fmt.Errorf("failed to save equity of run %s: %w", run.UUID, err)
			}
		}
		return nil
	})
}

// ListRuns returns stored runs, most recent first. A non-positive limit returns all.
func ListRuns(db *gorm.DB, limit int) ([]models.Run, error) {
	var runs []models.Run
	q := db.Order("created_at desc").Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// GetRun returns the stored run with the given UUID.
func GetRun(db *gorm.DB, uuid string) (*models.Run, error) {
	var run models.Run
	err := db.Where("uuid = ?", uuid).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, uuid)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", uuid, err)
	}
	return &run, nil
}

// RunTrades returns the trade log of a stored run in chronological order.
func RunTrades(db *gorm.DB, uuid string) ([]models.Trade, error) {
	if _, err := GetRun(db, uuid); err != nil {
		return nil, err
	}
	var trades []models.Trade
	if err := db.Where("run_uuid = ?", uuid).Order("date asc").Order("id asc").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to get trades of run %s: %w", uuid, err)
	}
	return trades, nil
}

// RunEquity returns the daily records of a stored run in chronological order.
func RunEquity(db *gorm.DB, uuid string) ([]models.EquityPoint, error) {
	if _, err := GetRun(db, uuid); err != nil {
		return nil, err
	}
	var points []models.EquityPoint
	if err := db.Where("run_uuid = ?", uuid).Order("date asc").Find(&points).Error; err != nil {
		return nil, fmt.Errorf("failed to get equity of run %s: %w", uuid, err)
	}
	return points, nil
}
