package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"bandwagon/internal/config"
	"bandwagon/internal/metrics"
	"bandwagon/internal/store"
	"bandwagon/internal/strategy"
	"bandwagon/internal/tracing"
	"bandwagon/internal/util"
)

const version = "0.1.0"

// options holds flags that act after configuration is resolved.
type options struct {
	saveSeries bool
	noDB       bool
	traceFile  string
}

func main() {
	mode := flag.String("mode", "", "signal filter: "+strings.Join(strategy.Modes(), ", ")+" (default from config)")
	sizing := flag.String("sizing", "", "position sizing: fixed or risk (default from config)")
	start := flag.String("start", "", "first simulated day YYYY-MM-DD")
	end := flag.String("end", "", "last simulated day YYYY-MM-DD")
	symbols := flag.String("symbols", "", "comma-separated symbols (default from config)")
	source := flag.String("source", "", "bar source: csv or parquet (default from config)")
	outDir := flag.String("out", "", "output directory (default storage.output_dir)")
	format := flag.String("format", "", "output format: csv or parquet (default storage.output_format)")
	saveSeries := flag.Bool("save-series", false, "also write indicator-enriched series as CSV")
	noDB := flag.Bool("no-db", false, "do not record the run in SQLite")
	traceFile := flag.String("trace", "", "write OpenTelemetry spans as JSON to this file")
	flag.Parse()

	config.LoadDotEnv()
	cfg, err := config.LoadOrDefault(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	bt := &cfg.Backtest
	if *mode != "" {
		bt.SignalMode = *mode
	}
	if *sizing != "" {
		bt.Sizing.Mode = *sizing
	}
	if *start != "" {
		bt.StartDate = *start
	}
	if *end != "" {
		bt.EndDate = *end
	}
	if *symbols != "" {
		bt.Symbols = strings.Split(*symbols, ",")
	}
	if *source != "" {
		bt.Source = *source
	}
	if *outDir != "" {
		cfg.Storage.OutputDir = *outDir
	}
	if *format != "" {
		cfg.Storage.OutputFormat = *format
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid options: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, options{saveSeries: *saveSeries, noDB: *noDB, traceFile: *traceFile})
	cancel()
	if err != nil {
		log.Fatal(err)
	}
}

// run executes one backtest and saves it. Deferred cleanup, including the
// span flush, has finished by the time it returns.
func run(ctx context.Context, cfg *config.Config, opts options) error {
	bt := &cfg.Backtest

	// Dual logger: stdout + temp log file.
	logFileName := filepath.Join(os.TempDir(), fmt.Sprintf("bandwagon-backtest-%s.log", time.Now().Format("2006-01-02")))
	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}
	defer logFile.Close()

	logger := util.NewLoggerTo(io.MultiWriter(os.Stdout, logFile), cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	if opts.traceFile != "" {
		closeTrace, err := tracing.InitFile(opts.traceFile, "bandwagon-backtest", version)
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		defer closeTrace()
	}

	barDir := cfg.Storage.DataDir
	if strings.EqualFold(bt.Source, "csv") {
		barDir = bt.CSVDir
	}
	src, err := store.NewBarSource(bt.Source, barDir)
	if err != nil {
		return fmt.Errorf("failed to open bar source: %w", err)
	}

	backtester := strategy.NewBacktester(src, *bt, logger)
	backtester.SetRiskFreeRate(cfg.Evaluation.RiskFreeRate)

	logger.Info("starting backtest",
		"symbols", bt.Symbols,
		"start", bt.StartDate,
		"end", bt.EndDate,
		"mode", bt.SignalMode,
		"sizing", bt.Sizing.Mode,
		"source", bt.Source,
		"logFile", logFileName,
	)
	res, err := backtester.Run(ctx, nil)
	if err != nil {
		return fmt.Errorf("backtest failed: %w", err)
	}

	fmt.Println("Portfolio Summary:")
	if err := metrics.WriteSummary(os.Stdout, res.Evaluation); err != nil {
		return fmt.Errorf("printing summary: %w", err)
	}
	fmt.Println("\nFinal Portfolio Value:")
	if err := metrics.WriteRow(os.Stdout, res.Timeline.Symbols, res.Final()); err != nil {
		return fmt.Errorf("printing final row: %w", err)
	}

	record := res.StoreRun(uuid.NewString(), time.Now().UTC())

	saver, err := store.NewRunSaver(cfg.Storage.OutputFormat, cfg.Storage.OutputDir)
	if err != nil {
		return fmt.Errorf("invalid output: %w", err)
	}
	if err := saver.SaveRun(ctx, record); err != nil {
		return fmt.Errorf("saving run: %w", err)
	}

	if opts.saveSeries {
		seriesStore := store.NewCSVStore(filepath.Join(cfg.Storage.OutputDir, record.ID))
		if err := seriesStore.SaveSeries(ctx, res.Series); err != nil {
			return fmt.Errorf("saving series: %w", err)
		}
	}

	if !opts.noDB && cfg.Storage.SQLitePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
			return fmt.Errorf("creating sqlite dir: %w", err)
		}
		db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("opening sqlite: %w", err)
		}
		defer db.Close()
		if err := db.SaveRun(ctx, record); err != nil {
			return fmt.Errorf("recording run: %w", err)
		}
	}

	logger.Info("run saved",
		"id", record.ID,
		"dir", cfg.Storage.OutputDir,
		"format", cfg.Storage.OutputFormat,
		"trades", len(record.Trades),
	)
	return nil
}
