package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ma-breach-backtester/internal/backtest"
	"ma-breach-backtester/internal/config"
	"ma-breach-backtester/internal/database"
	"ma-breach-backtester/internal/logger"
	"ma-breach-backtester/internal/report"
	"ma-breach-backtester/internal/runner"
	"ma-breach-backtester/internal/yahoo"
)

func main() {
	app := &cli.App{
		Name:   "backtest",
		Usage:  "replay the moving-average breach strategy over daily prices",
		Flags:  flags(),
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "backtest: %v\n", err)
		os.Exit(1)
	}
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Value: "./configs", Usage: "directory holding config.yml"},
		&cli.StringFlag{Name: "ticker", Usage: "ticker symbol, e.g. 2330.TW"},
		&cli.StringFlag{Name: "start", Usage: "first date to download (YYYY-MM-DD)"},
		&cli.StringFlag{Name: "end", Usage: "date to stop before (YYYY-MM-DD), defaults to today"},
		&cli.Float64Flag{Name: "capital", Usage: "initial capital"},
		&cli.StringFlag{Name: "trades-csv", Usage: "write the trade log to this CSV file"},
		&cli.StringFlag{Name: "daily-csv", Usage: "write the annotated daily table to this CSV file"},
		&cli.BoolFlag{Name: "no-save", Usage: "do not store the run in the database"},
	}
}

func run(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}
	applyFlags(c, &cfg)

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return fmt.Errorf("could not initialize logger: %w", err)
	}
	defer log.Sync()

	req, err := requestFromConfig(cfg.Backtest, time.Now())
	if err != nil {
		return err
	}

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}

	var db *gorm.DB
	if !c.Bool("no-save") {
		db, err = database.NewDatabase(cfg.Database)
		if err != nil {
			return err
		}
		log.Info("Database connection successful and schema migrated.")
	}

	r, err := runner.NewRunner(log, engineCfg, yahoo.NewRestClient(&cfg.Market, log), db)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := r.Run(ctx, req)
	switch {
	case errors.Is(err, runner.ErrInvalidRequest), errors.Is(err, backtest.ErrInvalidInput):
		return cli.Exit(err.Error(), 2)
	case errors.Is(err, runner.ErrDataUnavailable):
		log.Error("No price data", zap.String("ticker", req.Ticker), zap.Error(err))
		return cli.Exit(err.Error(), 3)
	case err != nil:
		return err
	}

	w := c.App.Writer
	if err := report.RenderSummary(w, req.Ticker, out.Summary); err != nil {
		return err
	}
	fmt.Fprintln(w)
	if err := report.RenderTrades(w, out.Result.Trades); err != nil {
		return err
	}
	if out.Saved {
		fmt.Fprintf(w, "\nrun %s saved\n", out.RunUUID)
	}

	if path := c.String("trades-csv"); path != "" {
		if err := writeFile(path, func(f *os.File) error { return report.WriteTradesCSV(f, out.Result.Trades) }); err != nil {
			return err
		}
	}
	if path := c.String("daily-csv"); path != "" {
		if err := writeFile(path, func(f *os.File) error { return report.WriteDailyCSV(f, out.Result.Annotated()) }); err != nil {
			return err
		}
	}
	return nil
}

// applyFlags overrides the backtest section with the flags that were set.
func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("ticker") {
		cfg.Backtest.Ticker = c.String("ticker")
	}
	if c.IsSet("start") {
		cfg.Backtest.Start = c.String("start")
	}
	if c.IsSet("end") {
		cfg.Backtest.End = c.String("end")
	}
	if c.IsSet("capital") {
		cfg.Backtest.InitialCapital = c.Float64("capital")
	}
}

func requestFromConfig(b config.Backtest, now time.Time) (runner.Request, error) {
	start, err := b.StartDate()
	if err != nil {
		return runner.Request{}, cli.Exit(fmt.Sprintf("invalid start date %q", b.Start), 2)
	}
	end, err := b.EndDate(now)
	if err != nil {
		return runner.Request{}, cli.Exit(fmt.Sprintf("invalid end date %q", b.End), 2)
	}
	return runner.Request{
		Ticker:         b.Ticker,
		Start:          start,
		End:            end,
		InitialCapital: b.InitialCapital,
	}, nil
}

func writeFile(path string, write func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
