package backtest

import (
	"fmt"
	"math"

	"ma-breach-backtester/internal/models"
)

const (
	// DefaultLotSize is the board lot every trade quantity is truncated to.
	DefaultLotSize int64 = 1000
	// DefaultWarmUp is the first row index on which rules are evaluated.
	DefaultWarmUp = 60
)

// Side is the direction a rule trades in.
type Side int

const (
	SideBuy Side = iota + 1
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return fmt.Sprintf("side(%d)", int(s))
	}
}

// Rule pairs a breach predicate with the trade it triggers.
// A sell rule sells Fraction of the held shares, a buy rule invests Fraction of the cash.
type Rule struct {
	Window           int
	Side             Side
	Fraction         float64
	RequiresPosition bool
	Action           Action
}

// Config holds the trading policy of the engine. Rules are evaluated in order and
// the first rule whose predicate holds handles the day, even when it trades nothing.
type Config struct {
	LotSize int64
	WarmUp  int
	Rules   []Rule
}

// DefaultRules returns the MA60 > MA20 > MA10 > MA5 priority table.
func DefaultRules() []Rule {
	return []Rule{
		{Window: 60, Side: SideSell, Fraction: 1.00, RequiresPosition: true, Action: ActionSellAllMA60},
		{Window: 20, Side: SideSell, Fraction: 0.50, RequiresPosition: true, Action: ActionSellHalfMA20},
		{Window: 10, Side: SideBuy, Fraction: 0.10, Action: ActionBuy10MA10},
		{Window: 5, Side: SideBuy, Fraction: 0.05, Action: ActionBuy5MA5},
	}
}

// DefaultConfig returns the policy with a 1000-share lot and a 60-day warm-up.
func DefaultConfig() Config {
	return Config{
		LotSize: DefaultLotSize,
		WarmUp:  DefaultWarmUp,
		Rules:   DefaultRules(),
	}
}

// Validate checks the policy before any row is processed.
func (c Config) Validate() error {
	if c.LotSize <= 0 {
		return fmt.Errorf("%w: lot size must be positive, got %d", ErrInvalidConfig, c.LotSize)
	}
	if c.WarmUp < 1 {
		return fmt.Errorf("%w: warm-up must be at least 1, got %d", ErrInvalidConfig, c.WarmUp)
	}
	if len(c.Rules) == 0 {
		return fmt.Errorf("%w: no rules configured", ErrInvalidConfig)
	}
	for i, r := range c.Rules {
		if _, ok := (models.PriceRow{}).MA(r.Window); !ok {
			return fmt.Errorf("%w: rule %d uses unsupported window %d", ErrInvalidConfig, i, r.Window)
		}
		if r.Side != SideBuy && r.Side != SideSell {
			return fmt.Errorf("%w: rule %d has unknown %s", ErrInvalidConfig, i, r.Side)
		}
		if !(r.Fraction > 0 && r.Fraction <= 1) {
			return fmt.Errorf("%w: rule %d fraction %v outside (0, 1]", ErrInvalidConfig, i, r.Fraction)
		}
		if r.Action == "" {
			return fmt.Errorf("%w: rule %d has no action label", ErrInvalidConfig, i)
		}
	}
	return nil
}

// windows returns the distinct MA windows the rules read.
func (c Config) windows() []int {
	seen := make(map[int]struct{}, len(c.Rules))
	var out []int
	for _, r := range c.Rules {
		if _, ok := seen[r.Window]; ok {
			continue
		}
		seen[r.Window] = struct{}{}
		out = append(out, r.Window)
	}
	return out
}

// Breached reports a downward crossing of the window's average: yesterday's close was
// above yesterday's average and today's close is below today's. Equality is never a breach.
func Breached(prev, cur models.PriceRow, window int) bool {
	prevMA, ok := prev.MA(window)
	if !ok {
		return false
	}
	ma, _ := cur.MA(window)
	return prev.Close > prevMA && cur.Close < ma
}

func (r Rule) matches(state PortfolioState, prev, cur models.PriceRow) bool {
	if r.RequiresPosition && state.Shares <= 0 {
		return false
	}
	return Breached(prev, cur, r.Window)
}

// apply executes the rule at the day's close. A nil record means the rule fired but
// the lot-truncated quantity was zero or unaffordable.
func (r Rule) apply(lot int64, state PortfolioState, cur models.PriceRow) (PortfolioState, *TradeRecord) {
	price := cur.Close
	switch r.Side {
	case SideSell:
		qty := FloorToLot(float64(state.Shares)*r.Fraction, lot)
		if qty > state.Shares {
			qty = state.Shares
		}
		if qty <= 0 {
			return state, nil
		}
		value := float64(qty) * price
		state.Cash += value
		state.Shares -= qty
		return state, &TradeRecord{
			Date:        cur.Date,
			Action:      r.Action,
			Price:       price,
			SharesDelta: -qty,
			Value:       value,
			CashAfter:   state.Cash,
		}
	case SideBuy:
		qty := FloorToLot(state.Cash*r.Fraction/price, lot)
		cost := float64(qty) * price
		if qty <= 0 || state.Cash < cost {
			return state, nil
		}
		state.Cash -= cost
		state.Shares += qty
		return state, &TradeRecord{
			Date:        cur.Date,
			Action:      r.Action,
			Price:       price,
			SharesDelta: qty,
			Value:       cost,
			CashAfter:   state.Cash,
		}
	}
	return state, nil
}

// FloorToLot truncates a share quantity toward zero to a multiple of lot.
func FloorToLot(quantity float64, lot int64) int64 {
	if lot <= 0 || !(quantity > 0) || math.IsInf(quantity, 1) {
		return 0
	}
	return int64(math.Floor(quantity/float64(lot))) * lot
}

// Step advances the portfolio by one day. prev is the row before cur. It evaluates the
// rules in priority order, stops at the first match and records the day's close.
func Step(cfg Config, state PortfolioState, prev, cur models.PriceRow) (PortfolioState, *TradeRecord, DailyRecord) {
	var trade *TradeRecord
	for _, rule := range cfg.Rules {
		if !rule.matches(state, prev, cur) {
			continue
		}
		state, trade = rule.apply(cfg.LotSize, state, cur)
		break
	}
	return state, trade, state.record(cur)
}

func liquidate(state PortfolioState, last models.PriceRow) (PortfolioState, TradeRecord) {
	value := float64(state.Shares) * last.Close
	trade := TradeRecord{
		Date:        last.Date,
		Action:      ActionFinalLiquidation,
		Price:       last.Close,
		SharesDelta: -state.Shares,
		Value:       value,
	}
	state.Cash += value
	state.Shares = 0
	trade.CashAfter = state.Cash
	return state, trade
}
