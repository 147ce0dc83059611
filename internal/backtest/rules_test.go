package backtest

import (
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"ma-breach-backtester/internal/models"
	"testing"
	"time"
)

var day0 = time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)

// row builds a price row whose moving averages are ma5, ma10, ma20, ma60.
func row(offset int, closePrice, ma5, ma10, ma20, ma60 float64) models.PriceRow {
	return models.PriceRow{
		Date:  day0.AddDate(0, 0, offset),
		Close: closePrice,
		MA5:   ma5,
		MA10:  ma10,
		MA20:  ma20,
		MA60:  ma60,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, int64(1000), cfg.LotSize)
	assert.Equal(t, 60, cfg.WarmUp)
	require.Len(t, cfg.Rules, 4)

	windows := make([]int, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		windows = append(windows, r.Window)
	}
	assert.Equal(t, []int{60, 20, 10, 5}, windows, "rules must be ordered by priority")
	assert.Equal(t, 1.0, cfg.Rules[0].Fraction)
	assert.Equal(t, 0.5, cfg.Rules[1].Fraction)
	assert.Equal(t, 0.10, cfg.Rules[2].Fraction)
	assert.Equal(t, 0.05, cfg.Rules[3].Fraction)
	assert.True(t, cfg.Rules[0].RequiresPosition)
	assert.True(t, cfg.Rules[1].RequiresPosition)
	assert.False(t, cfg.Rules[2].RequiresPosition)
	assert.False(t, cfg.Rules[3].RequiresPosition)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "Zero lot size", mutate: func(c *Config) { c.LotSize = 0 }},
		{name: "Negative lot size", mutate: func(c *Config) { c.LotSize = -1000 }},
		{name: "Zero warm-up", mutate: func(c *Config) { c.WarmUp = 0 }},
		{name: "No rules", mutate: func(c *Config) { c.Rules = nil }},
		{name: "Unsupported window", mutate: func(c *Config) { c.Rules[0].Window = 30 }},
		{name: "Zero fraction", mutate: func(c *Config) { c.Rules[2].Fraction = 0 }},
		{name: "Fraction above one", mutate: func(c *Config) { c.Rules[1].Fraction = 1.5 }},
		{name: "Unknown side", mutate: func(c *Config) { c.Rules[3].Side = Side(9) }},
		{name: "Missing action", mutate: func(c *Config) { c.Rules[3].Action = "" }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			assert.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func TestFloorToLot(t *testing.T) {
	testCases := []struct {
		name     string
		quantity float64
		lot      int64
		expected int64
	}{
		{name: "Exact multiple", quantity: 2000, lot: 1000, expected: 2000},
		{name: "Truncates down", quantity: 2999.99, lot: 1000, expected: 2000},
		{name: "Below one lot", quantity: 750, lot: 1000, expected: 0},
		{name: "Zero", quantity: 0, lot: 1000, expected: 0},
		{name: "Negative", quantity: -1500, lot: 1000, expected: 0},
		{name: "Lot of one", quantity: 12.7, lot: 1, expected: 12},
		{name: "Invalid lot", quantity: 5000, lot: 0, expected: 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, FloorToLot(tc.quantity, tc.lot))
		})
	}
}

func TestBreached(t *testing.T) {
	testCases := []struct {
		name     string
		prev     models.PriceRow
		cur      models.PriceRow
		expected bool
	}{
		{name: "Crosses below", prev: row(0, 105, 100, 100, 100, 100), cur: row(1, 99, 100, 100, 100, 100), expected: true},
		{name: "Stays above", prev: row(0, 105, 100, 100, 100, 100), cur: row(1, 101, 100, 100, 100, 100), expected: false},
		{name: "Was already below", prev: row(0, 95, 100, 100, 100, 100), cur: row(1, 90, 100, 100, 100, 100), expected: false},
		{name: "Yesterday equal to MA", prev: row(0, 100, 100, 100, 100, 100), cur: row(1, 90, 100, 100, 100, 100), expected: false},
		{name: "Today equal to MA", prev: row(0, 105, 100, 100, 100, 100), cur: row(1, 100, 100, 100, 100, 100), expected: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Breached(tc.prev, tc.cur, 20))
		})
	}

	assert.False(t, Breached(row(0, 105, 100, 100, 100, 100), row(1, 90, 100, 100, 100, 100), 30), "unsupported window")
}

func TestStep_SellAllOnMA60Breach(t *testing.T) {
	cfg := DefaultConfig()
	state := PortfolioState{Cash: 0, Shares: 2000}
	prev := row(0, 105, 100, 100, 100, 100)
	cur := row(1, 100, 101, 101, 101, 101)

	next, trade, daily := Step(cfg, state, prev, cur)

	require.NotNil(t, trade)
	assert.Equal(t, ActionSellAllMA60, trade.Action)
	assert.Equal(t, int64(-2000), trade.SharesDelta)
	assert.Equal(t, 200000.0, trade.Value)
	assert.Equal(t, 100.0, trade.Price)
	assert.Equal(t, 200000.0, trade.CashAfter)
	assert.Equal(t, int64(0), next.Shares)
	assert.Equal(t, int64(0), daily.SharesHeld)
	assert.Equal(t, 200000.0, daily.PortfolioValue)
}

func TestStep_BuyTenPercentOnMA10Breach(t *testing.T) {
	cfg := DefaultConfig()
	state := PortfolioState{Cash: 1000000}
	prev := row(0, 52, 50, 50, 50, 50)
	cur := row(1, 50, 51, 51, 49, 49)

	next, trade, daily := Step(cfg, state, prev, cur)

	require.NotNil(t, trade)
	assert.Equal(t, ActionBuy10MA10, trade.Action)
	assert.Equal(t, int64(2000), trade.SharesDelta)
	assert.Equal(t, 100000.0, trade.Value)
	assert.Equal(t, 900000.0, trade.CashAfter)
	assert.Equal(t, PortfolioState{Cash: 900000, Shares: 2000}, next)
	assert.Equal(t, 1000000.0, daily.PortfolioValue)
}

func TestStep_HalfSellBelowOneLotDoesNotFallThrough(t *testing.T) {
	cfg := DefaultConfig()
	state := PortfolioState{Cash: 500000, Shares: 1500}
	// MA20, MA10 and MA5 are all breached; MA60 is not.
	prev := row(0, 105, 100, 100, 100, 90)
	cur := row(1, 95, 99, 99, 99, 90)

	next, trade, daily := Step(cfg, state, prev, cur)

	assert.Nil(t, trade)
	assert.Equal(t, state, next)
	assert.Equal(t, int64(1500), daily.SharesHeld)
	assert.Equal(t, 500000.0, daily.Cash)
}

func TestStep_HalfSellTakesPriorityOverBuys(t *testing.T) {
	cfg := DefaultConfig()
	state := PortfolioState{Cash: 500000, Shares: 4000}
	prev := row(0, 105, 100, 100, 100, 90)
	cur := row(1, 95, 99, 99, 99, 90)

	next, trade, _ := Step(cfg, state, prev, cur)

	require.NotNil(t, trade)
	assert.Equal(t, ActionSellHalfMA20, trade.Action)
	assert.Equal(t, int64(-2000), trade.SharesDelta)
	assert.Equal(t, PortfolioState{Cash: 500000 + 2000*95, Shares: 2000}, next)
}

func TestStep_MA60IgnoredWithoutPosition(t *testing.T) {
	cfg := DefaultConfig()
	state := PortfolioState{Cash: 1000000}
	// Every window breached, nothing held: the MA10 buy handles the day.
	prev := row(0, 110, 100, 100, 100, 100)
	cur := row(1, 50, 60, 60, 60, 60)

	_, trade, _ := Step(cfg, state, prev, cur)

	require.NotNil(t, trade)
	assert.Equal(t, ActionBuy10MA10, trade.Action)
	assert.Equal(t, int64(2000), trade.SharesDelta)
}

func TestStep_BuyBelowOneLotDoesNotFallThrough(t *testing.T) {
	cfg := DefaultConfig()
	state := PortfolioState{Cash: 40000}
	prev := row(0, 52, 50, 50, 40, 40)
	cur := row(1, 50, 51, 51, 40, 40)

	next, trade, _ := Step(cfg, state, prev, cur)

	assert.Nil(t, trade)
	assert.Equal(t, state, next)
}

func TestStep_BuyFivePercentOnMA5Breach(t *testing.T) {
	cfg := DefaultConfig()
	state := PortfolioState{Cash: 1000000}
	prev := row(0, 52, 50, 40, 40, 40)
	cur := row(1, 25, 30, 20, 20, 20)

	next, trade, _ := Step(cfg, state, prev, cur)

	require.NotNil(t, trade)
	assert.Equal(t, ActionBuy5MA5, trade.Action)
	// floor(50000 / 25 / 1000) * 1000
	assert.Equal(t, int64(2000), trade.SharesDelta)
	assert.Equal(t, 950000.0, next.Cash)
}

func TestStep_NoBreachCarriesStateForward(t *testing.T) {
	cfg := DefaultConfig()
	state := PortfolioState{Cash: 123456, Shares: 3000}
	prev := row(0, 100, 90, 90, 90, 90)
	cur := row(1, 101, 91, 91, 91, 91)

	next, trade, daily := Step(cfg, state, prev, cur)

	assert.Nil(t, trade)
	assert.Equal(t, state, next)
	assert.Equal(t, 123456+3000*101.0, daily.PortfolioValue)
}

func TestStep_CustomRuleTable(t *testing.T) {
	cfg := Config{
		LotSize: 100,
		WarmUp:  5,
		Rules: []Rule{
			{Window: 5, Side: SideSell, Fraction: 0.25, RequiresPosition: true, Action: "TRIM"},
		},
	}
	require.NoError(t, cfg.Validate())

	state := PortfolioState{Shares: 1000}
	next, trade, _ := Step(cfg, state, row(0, 105, 100, 0, 0, 0), row(1, 99, 100, 0, 0, 0))

	require.NotNil(t, trade)
	assert.Equal(t, Action("TRIM"), trade.Action)
	assert.Equal(t, int64(-200), trade.SharesDelta)
	assert.Equal(t, int64(800), next.Shares)
}
