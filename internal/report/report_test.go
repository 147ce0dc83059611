package report

import (
	"bytes"
	"encoding/csv"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"ma-breach-backtester/internal/backtest"
	"ma-breach-backtester/internal/models"
	"strings"
	"testing"
	"time"
)

var day0 = time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)

func daily(values ...float64) []backtest.DailyRecord {
	out := make([]backtest.DailyRecord, len(values))
	for i, v := range values {
		out[i] = backtest.DailyRecord{Date: day0.AddDate(0, 0, i), PortfolioValue: v, Cash: v}
	}
	return out
}

func sampleResult() *backtest.Result {
	return &backtest.Result{
		InitialCapital: 1000000,
		FinalCapital:   1012345.678,
		Trades: []backtest.TradeRecord{
			{Date: day0.AddDate(0, 0, 1), Action: backtest.ActionBuy10MA10, Price: 50, SharesDelta: 2000, Value: 100000, CashAfter: 900000},
			{Date: day0.AddDate(0, 0, 2), Action: backtest.ActionSellHalfMA20, Price: 55, SharesDelta: -1000, Value: 55000, CashAfter: 955000},
			{Date: day0.AddDate(0, 0, 3), Action: backtest.ActionFinalLiquidation, Price: 57.345678, SharesDelta: -1000, Value: 57345.678, CashAfter: 1012345.678},
		},
		Daily: daily(1000000, 1000000, 1010000, 1012345.678),
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleResult())

	assert.True(t, s.InitialCapital.Equal(decimal.NewFromInt(1000000)))
	assert.Equal(t, "1012345.68", s.FinalCapital.StringFixed(2))
	assert.Equal(t, "12345.68", s.Profit.StringFixed(2))
	assert.Equal(t, "1.23", s.ROI.StringFixed(2))
	assert.True(t, s.MaxDrawdown.IsZero())
	assert.Equal(t, 1, s.Buys)
	assert.Equal(t, 1, s.Sells)
	assert.Equal(t, 1, s.Liquidations)
	assert.Equal(t, 3, s.TradeCount())
	assert.Equal(t, day0, s.Start)
	assert.Equal(t, day0.AddDate(0, 0, 3), s.End)
}

func TestSummarize_NoTrades(t *testing.T) {
	res := &backtest.Result{InitialCapital: 500000, FinalCapital: 500000, Daily: daily(500000, 500000), InsufficientData: true}

	s := Summarize(res)

	assert.True(t, s.ROI.IsZero())
	assert.True(t, s.Profit.IsZero())
	assert.Zero(t, s.TradeCount())
	assert.True(t, s.InsufficientData)
}

func TestMaxDrawdown(t *testing.T) {
	testCases := []struct {
		name     string
		values   []float64
		expected string
	}{
		{name: "Empty", values: nil, expected: "0"},
		{name: "Only rising", values: []float64{100, 110, 120}, expected: "0"},
		{name: "Simple drawdown", values: []float64{1000, 10000, 7000}, expected: "0.3"},
		{name: "Deepest of two", values: []float64{100, 80, 120, 60, 130}, expected: "0.5"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := MaxDrawdown(daily(tc.values...))
			assert.True(t, got.Equal(decimal.RequireFromString(tc.expected)), "got %s", got)
		})
	}
}

func TestFormatMoney(t *testing.T) {
	testCases := []struct {
		amount   float64
		expected string
	}{
		{amount: 0, expected: "$0"},
		{amount: 999.99, expected: "$999"},
		{amount: 1000, expected: "$1,000"},
		{amount: 1234567.89, expected: "$1,234,567"},
		{amount: 100000, expected: "$100,000"},
		{amount: -25000.5, expected: "-$25,000"},
		{amount: 12345678901.9, expected: "$12,345,678,901"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, FormatMoney(tc.amount))
		})
	}
}

func TestWriteTradesCSV(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, WriteTradesCSV(&buf, sampleResult().Trades))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, []string{"date", "action", "price", "shares", "value", "cash_after"}, records[0])
	assert.Equal(t, []string{"2024-01-03", "BUY 10% (Break MA10)", "50", "2000", "100000", "900000"}, records[1])
	assert.Equal(t, "-1000", records[3][3])
	assert.Equal(t, "Final Liquidation", records[3][1])
}

func TestWriteDailyCSV(t *testing.T) {
	rows := []backtest.AnnotatedRow{
		{
			PriceRow:       models.PriceRow{Date: day0, Close: 52.5, MA5: 51, MA10: 50.25, MA20: 49, MA60: 48},
			PortfolioValue: 1005000,
			SharesHeld:     2000,
			Cash:           900000,
		},
	}
	var buf bytes.Buffer

	require.NoError(t, WriteDailyCSV(&buf, rows))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"2024-01-02", "52.5", "51", "50.25", "49", "48", "1005000", "2000", "900000"}, records[1])
}

func TestRenderTrades(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, RenderTrades(&buf, nil))
		assert.Equal(t, NoTradesMessage+"\n", buf.String())
	})

	t.Run("Table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, RenderTrades(&buf, sampleResult().Trades))

		lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
		require.Len(t, lines, 4)
		assert.Contains(t, lines[0], "Action")
		assert.Contains(t, lines[1], "BUY 10% (Break MA10)")
		assert.Contains(t, lines[3], "57.35")
	})
}

func TestRenderSummary(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, RenderSummary(&buf, "2330.TW", Summarize(sampleResult())))

	out := buf.String()
	assert.Contains(t, out, "2330.TW")
	assert.Contains(t, out, "$1,012,345")
	assert.Contains(t, out, "1.23%")
	assert.Contains(t, out, "2024-01-02 to 2024-01-05")
	assert.NotContains(t, out, "not enough history")
}
