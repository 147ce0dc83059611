package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"ma-breach-backtester/internal/backtest"
)

const dateLayout = "2006-01-02"

// NoTradesMessage is printed in place of an empty trade table.
const NoTradesMessage = "no trades triggered in this period"

// WriteTradesCSV writes the trade log as CSV.
func WriteTradesCSV(w io.Writer, trades []backtest.TradeRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "action", "price", "shares", "value", "cash_after"}); err != nil {
		return err
	}
	for _, t := range trades {
		record := []string{
			t.Date.Format(dateLayout),
			string(t.Action),
			ftoa(t.Price),
			strconv.FormatInt(t.SharesDelta, 10),
			ftoa(t.Value),
			ftoa(t.CashAfter),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteDailyCSV writes the indicator table annotated with the portfolio columns.
func WriteDailyCSV(w io.Writer, rows []backtest.AnnotatedRow) error {
	cw := csv.NewWriter(w)
	header := []string{"date", "close", "ma5", "ma10", "ma20", "ma60", "portfolio_value", "shares_held", "cash"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.Date.Format(dateLayout),
			ftoa(r.Close),
			ftoa(r.MA5),
			ftoa(r.MA10),
			ftoa(r.MA20),
			ftoa(r.MA60),
			ftoa(r.PortfolioValue),
			strconv.FormatInt(r.SharesHeld, 10),
			ftoa(r.Cash),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// RenderSummary prints the headline numbers.
func RenderSummary(w io.Writer, ticker string, s Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Ticker\t%s\n", ticker)
	if !s.Start.IsZero() {
		fmt.Fprintf(tw, "Period\t%s to %s\n", s.Start.Format(dateLayout), s.End.Format(dateLayout))
	}
	fmt.Fprintf(tw, "Initial capital\t%s\n", FormatMoney(s.InitialCapital.InexactFloat64()))
	fmt.Fprintf(tw, "Final capital\t%s\n", FormatMoney(s.FinalCapital.InexactFloat64()))
	fmt.Fprintf(tw, "ROI\t%s%%\n", s.ROI.StringFixed(2))
	fmt.Fprintf(tw, "Max drawdown\t%s%%\n", s.MaxDrawdown.StringFixed(2))
	fmt.Fprintf(tw, "Trades\t%d buys, %d sells, %d liquidations\n", s.Buys, s.Sells, s.Liquidations)
	if s.InsufficientData {
		fmt.Fprintf(tw, "Note\tnot enough history to evaluate any rule\n")
	}
	return tw.Flush()
}

// RenderTrades prints the trade log as an aligned table.
func RenderTrades(w io.Writer, trades []backtest.TradeRecord) error {
	if len(trades) == 0 {
		_, err := fmt.Fprintln(w, NoTradesMessage)
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Date\tAction\tPrice\tShares\tValue\tCash after\t")
	for _, t := range trades {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%d\t%.2f\t%.2f\t\n",
			t.Date.Format(dateLayout), t.Action, t.Price, t.SharesDelta, t.Value, t.CashAfter)
	}
	return tw.Flush()
}

func ftoa(x float64) string { return strconv.FormatFloat(x, 'f', -1, 64) }
