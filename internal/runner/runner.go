package runner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ma-breach-backtester/internal/backtest"
	"ma-breach-backtester/internal/database"
	"ma-breach-backtester/internal/indicators"
	"ma-breach-backtester/internal/models"
	"ma-breach-backtester/internal/report"
	"ma-breach-backtester/internal/yahoo"
)

var (
	// ErrInvalidRequest is returned for requests rejected before any data is fetched.
	ErrInvalidRequest = errors.New("invalid backtest request")
	// ErrDataUnavailable is returned when the price provider cannot serve the request.
	ErrDataUnavailable = errors.New("price data unavailable")
)

// Request describes one backtest. End is exclusive.
type Request struct {
	Ticker         string    `json:"ticker"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	InitialCapital float64   `json:"initial_capital"`
}

// Outcome is the result of a completed run.
type Outcome struct {
	RunUUID string           `json:"run_uuid"`
	Request Request          `json:"request"`
	Result  *backtest.Result `json:"result"`
	Summary report.Summary   `json:"summary"`
	Saved   bool             `json:"saved"`
}

// Runner wires the price provider, the indicator table, the engine and the run store.
type Runner struct {
	logger *zap.Logger
	engine *backtest.Engine
	client yahoo.PriceClientInterface
	db     *gorm.DB
}

// NewRunner creates a new runner. A nil db disables persistence.
func NewRunner(logger *zap.Logger, cfg backtest.Config, client yahoo.PriceClientInterface, db *gorm.DB) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	engine, err := backtest.NewEngine(logger, cfg)
	if err != nil {
		return nil, err
	}
	return &Runner{
		logger: logger,
		engine: engine,
		client: client,
		db:     db,
	}, nil
}

// Validate checks a request before any data is fetched.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Ticker) == "" {
		return fmt.Errorf("%w: ticker is required", ErrInvalidRequest)
	}
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("%w: start and end dates are required", ErrInvalidRequest)
	}
	if !r.End.After(r.Start) {
		return fmt.Errorf("%w: end %s is not after start %s", ErrInvalidRequest,
			r.End.Format("2006-01-02"), r.Start.Format("2006-01-02"))
	}
	if math.IsNaN(r.InitialCapital) || math.IsInf(r.InitialCapital, 0) || r.InitialCapital <= 0 {
		return fmt.Errorf("%w: initial capital must be positive", ErrInvalidRequest)
	}
	return nil
}

// Run fetches prices for the request, replays the strategy and stores the outcome.
func (r *Runner) Run(ctx context.Context, req Request) (*Outcome, error) {
	req.Ticker = strings.ToUpper(strings.TrimSpace(req.Ticker))
	if err := req.Validate(); err != nil {
		return nil, err
	}
	log := r.logger.With(zap.String("ticker", req.Ticker))

	bars, err := r.client.FetchDailyBars(ctx, req.Ticker, req.Start, req.End)
	if err != nil {
		log.Error("Failed to fetch prices", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrDataUnavailable, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: no bars for %s", ErrDataUnavailable, req.Ticker)
	}

	var res *backtest.Result
	rows, err := indicators.Build(bars)
	switch {
	case errors.Is(err, indicators.ErrNotEnoughBars):
		log.Warn("Price history shorter than the longest moving average",
			zap.Int("bars", len(bars)),
			zap.Int("window", indicators.Windows[len(indicators.Windows)-1]),
		)
		res, err = r.engine.Idle(rawRows(bars), req.InitialCapital)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrDataUnavailable, err)
	default:
		res, err = r.engine.Run(rows, req.InitialCapital)
	}
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run id: %w", err)
	}
	out := &Outcome{
		RunUUID: id.String(),
		Request: req,
		Result:  res,
		Summary: report.Summarize(res),
	}

	if r.db != nil {
		run, trades, points := toModels(out)
		if err := database.SaveRun(r.db, run, trades, points); err != nil {
			log.Error("Failed to save run", zap.String("run", out.RunUUID), zap.Error(err))
			return nil, err
		}
		out.Saved = true
	}

	log.Info("Backtest completed",
		zap.String("run", out.RunUUID),
		zap.String("final_capital", out.Summary.FinalCapital.StringFixed(2)),
		zap.String("roi_pct", out.Summary.ROI.StringFixed(2)),
		zap.Int("trades", len(res.Trades)),
	)
	return out, nil
}

// rawRows carries closes without moving averages.
func rawRows(bars []models.Bar) []models.PriceRow {
	rows := make([]models.PriceRow, len(bars))
	for i, b := range bars {
		rows[i] = models.PriceRow{Date: b.Date, Close: b.Close, MA5: math.NaN(), MA10: math.NaN(), MA20: math.NaN(), MA60: math.NaN()}
	}
	return rows
}

func toModels(out *Outcome) (*models.Run, []models.Trade, []models.EquityPoint) {
	res := out.Result
	run := &models.Run{
		UUID:             out.RunUUID,
		Ticker:           out.Request.Ticker,
		Start:            out.Request.Start,
		End:              out.Request.End,
		InitialCapital:   res.InitialCapital,
		FinalCapital:     res.FinalCapital,
		ROI:              out.Summary.ROI.InexactFloat64(),
		MaxDrawdown:      out.Summary.MaxDrawdown.InexactFloat64(),
		TradeCount:       len(res.Trades),
		InsufficientData: res.InsufficientData,
	}

	trades := make([]models.Trade, 0, len(res.Trades))
	for _, t := range res.Trades {
		trades = append(trades, models.Trade{
			RunUUID:   out.RunUUID,
			Date:      t.Date,
			Action:    string(t.Action),
			Price:     t.Price,
			Shares:    t.SharesDelta,
			Value:     t.Value,
			CashAfter: t.CashAfter,
		})
	}

	points := make([]models.EquityPoint, 0, len(res.Daily))
	for _, d := range res.Daily {
		points = append(points, models.EquityPoint{
			RunUUID:        out.RunUUID,
			Date:           d.Date,
			Close:          d.Close,
			PortfolioValue: d.PortfolioValue,
			SharesHeld:     d.SharesHeld,
			Cash:           d.Cash,
		})
	}
	return run, trades, points
}
