package backtest

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"ma-breach-backtester/internal/models"
)

var (
	// ErrInvalidInput is wrapped by every input validation failure.
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidCapital    = fmt.Errorf("%w: initial capital must be positive and finite", ErrInvalidInput)
	ErrNoRows            = fmt.Errorf("%w: no price rows", ErrInvalidInput)
	ErrNonMonotonicDates = fmt.Errorf("%w: dates must be strictly increasing", ErrInvalidInput)
	ErrInvalidPrice      = fmt.Errorf("%w: close must be positive and finite", ErrInvalidInput)
	ErrMissingIndicator  = fmt.Errorf("%w: moving average undefined inside the evaluated range", ErrInvalidInput)

	ErrInvalidConfig = errors.New("invalid backtest config")
)

// Engine replays the breach rules over a price table. It holds no per-run state,
// so one Engine may serve concurrent runs.
type Engine struct {
	logger *zap.Logger
	cfg    Config
}

// NewEngine creates a new backtest engine.
func NewEngine(logger *zap.Logger, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Rules = append([]Rule(nil), cfg.Rules...)
	return &Engine{logger: logger, cfg: cfg}, nil
}

// Config returns the policy the engine runs with.
func (e *Engine) Config() Config {
	return e.cfg
}

// Run simulates the strategy over rows starting with initialCapital in cash.
// Any shares still held after the last row are liquidated at its close.
func (e *Engine) Run(rows []models.PriceRow, initialCapital float64) (*Result, error) {
	if err := e.validate(rows, initialCapital, len(rows) > e.cfg.WarmUp); err != nil {
		return nil, err
	}
	if len(rows) <= e.cfg.WarmUp {
		e.logger.Warn("Not enough rows to evaluate rules, skipping trading",
			zap.Int("rows", len(rows)),
			zap.Int("warm_up", e.cfg.WarmUp),
		)
		return idle(rows, initialCapital), nil
	}

	state := PortfolioState{Cash: initialCapital}
	res := &Result{
		InitialCapital: initialCapital,
		Trades:         []TradeRecord{},
		Daily:          make([]DailyRecord, 0, len(rows)),
		Rows:           rows,
	}

	for i := 0; i < e.cfg.WarmUp; i++ {
		res.Daily = append(res.Daily, state.record(rows[i]))
	}

	for i := e.cfg.WarmUp; i < len(rows); i++ {
		var (
			trade *TradeRecord
			day   DailyRecord
		)
		state, trade, day = Step(e.cfg, state, rows[i-1], rows[i])
		if trade != nil {
			e.logger.Debug("Trade executed",
				zap.Time("date", trade.Date),
				zap.String("action", string(trade.Action)),
				zap.Float64("price", trade.Price),
				zap.Int64("shares", trade.SharesDelta),
				zap.Float64("cash_after", trade.CashAfter),
			)
			res.Trades = append(res.Trades, *trade)
		}
		res.Daily = append(res.Daily, day)
	}

	if state.Shares > 0 {
		var trade TradeRecord
		state, trade = liquidate(state, rows[len(rows)-1])
		e.logger.Debug("Liquidated remaining position",
			zap.Int64("shares", -trade.SharesDelta),
			zap.Float64("price", trade.Price),
		)
		res.Trades = append(res.Trades, trade)
	}

	res.FinalState = state
	res.FinalCapital = state.Cash
	e.logger.Info("Backtest finished",
		zap.Int("rows", len(rows)),
		zap.Int("trades", len(res.Trades)),
		zap.Float64("initial_capital", initialCapital),
		zap.Float64("final_capital", res.FinalCapital),
	)
	return res, nil
}

// Idle returns the no-trade outcome over rows, flagged as insufficient data.
// Moving averages are not read, so rows may carry none.
func (e *Engine) Idle(rows []models.PriceRow, initialCapital float64) (*Result, error) {
	if err := e.validate(rows, initialCapital, false); err != nil {
		return nil, err
	}
	return idle(rows, initialCapital), nil
}

func idle(rows []models.PriceRow, initialCapital float64) *Result {
	state := PortfolioState{Cash: initialCapital}
	res := &Result{
		InitialCapital:   initialCapital,
		FinalCapital:     initialCapital,
		Trades:           []TradeRecord{},
		Daily:            make([]DailyRecord, 0, len(rows)),
		FinalState:       state,
		InsufficientData: true,
		Rows:             rows,
	}
	for _, row := range rows {
		res.Daily = append(res.Daily, state.record(row))
	}
	return res
}

func (e *Engine) validate(rows []models.PriceRow, initialCapital float64, checkIndicators bool) error {
	if !finite(initialCapital) || initialCapital <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidCapital, initialCapital)
	}
	if len(rows) == 0 {
		return ErrNoRows
	}
	// Rows before WarmUp-1 are never read by a rule.
	firstRead := e.cfg.WarmUp - 1
	windows := e.cfg.windows()
	for i, row := range rows {
		if !finite(row.Close) || row.Close <= 0 {
			return fmt.Errorf("%w: row %d (%s) close %v", ErrInvalidPrice, i, row.Date.Format("2006-01-02"), row.Close)
		}
		if i > 0 && !row.Date.After(rows[i-1].Date) {
			return fmt.Errorf("%w: row %d (%s) is not after %s", ErrNonMonotonicDates, i,
				row.Date.Format("2006-01-02"), rows[i-1].Date.Format("2006-01-02"))
		}
		if !checkIndicators || i < firstRead {
			continue
		}
		for _, w := range windows {
			if ma, _ := row.MA(w); !finite(ma) {
				return fmt.Errorf("%w: MA%d on row %d (%s)", ErrMissingIndicator, w, i, row.Date.Format("2006-01-02"))
			}
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
