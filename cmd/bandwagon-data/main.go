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

	"bandwagon/internal/config"
	"bandwagon/internal/gather"
	"bandwagon/internal/store"
	"bandwagon/internal/tracing"
	"bandwagon/internal/util"
)

const version = "0.1.0"

func main() {
	importDir := flag.String("import-csv", "", "import Yahoo-layout CSV files from this directory instead of calling Alpaca")
	symbols := flag.String("symbols", "", "comma-separated symbols (default gather.symbols, then backtest.symbols)")
	start := flag.String("start", "", "first day YYYY-MM-DD (default gather.start_date)")
	end := flag.String("end", "", "last day YYYY-MM-DD or \"latest\" (default gather.end_date)")
	schedule := flag.String("schedule", "", "cron spec with seconds, New York time; keeps running (default gather.schedule)")
	traceFile := flag.String("trace", "", "write OpenTelemetry spans as JSON to this file")
	flag.Parse()

	config.LoadDotEnv()
	cfg, err := config.LoadOrDefault(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *symbols != "" {
		cfg.Gather.Symbols = strings.Split(*symbols, ",")
	}
	if *start != "" {
		cfg.Gather.StartDate = *start
	}
	if *end != "" {
		cfg.Gather.EndDate = *end
	}
	if *schedule != "" {
		cfg.Gather.Schedule = *schedule
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid options: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, *importDir, *traceFile)
	cancel()
	if err != nil {
		log.Fatal(err)
	}
}

// run gathers once, or on cfg.Gather.Schedule until ctx is cancelled.
// Spans are flushed before it returns.
func run(ctx context.Context, cfg *config.Config, importDir, traceFile string) error {
	// Dual logger: stdout + temp log file.
	logFileName := filepath.Join(os.TempDir(), fmt.Sprintf("bandwagon-data-%s.log", time.Now().Format("2006-01-02")))
	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}
	defer logFile.Close()

	logger := util.NewLoggerTo(io.MultiWriter(os.Stdout, logFile), cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	if traceFile != "" {
		closeTrace, err := tracing.InitFile(traceFile, "bandwagon-data", version)
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		defer closeTrace()
	}

	pstore := store.NewParquetStore(cfg.Storage.DataDir)
	pass := func(ctx context.Context) error {
		g, startDate, endDate, err := newGatherer(cfg, importDir, pstore, time.Now())
		if err != nil {
			return err
		}
		logger.With("gatherer", g.Name()).Info("starting",
			"start", startDate.Format("2006-01-02"),
			"end", endDate.Format("2006-01-02"),
			"dataDir", cfg.Storage.DataDir,
			"logFile", logFileName,
		)
		return g.Run(ctx)
	}

	if cfg.Gather.Schedule == "" {
		if err := pass(ctx); err != nil {
			return fmt.Errorf("gather error: %w", err)
		}
		return nil
	}

	if _, latest := cfg.GatherEnd(); !latest {
		logger.Warn("scheduled gathering with a fixed end date; later passes are no-ops", "end_date", cfg.Gather.EndDate)
	}
	sched, err := gather.NewScheduler(ctx, cfg.Gather.Schedule, pass, logger)
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	sched.RunNow()
	sched.Start()
	<-ctx.Done()
	sched.Stop()
	return nil
}

// newGatherer builds the gatherer for one pass. An end date of "latest"
// resolves to the last finished session as of now.
func newGatherer(cfg *config.Config, importDir string, pstore *store.ParquetStore, now time.Time) (gather.Gatherer, time.Time, time.Time, error) {
	startDate := cfg.GatherStart()
	endDate, latest := cfg.GatherEnd()

	if importDir != "" {
		if latest {
			endDate = now.UTC()
		}
		g := gather.NewImporter(store.NewCSVStore(importDir), pstore, cfg.Gather.Symbols,
			gather.DateRange{Start: startDate, End: endDate})
		return g, startDate, endDate, nil
	}

	if latest {
		cal := gather.NewCalendar(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
		var err error
		endDate, err = gather.LatestFinishedTradingDay(cal, now)
		if err != nil {
			return nil, startDate, endDate, fmt.Errorf("determining end date: %w", err)
		}
	}
	g := gather.NewDailyBarGatherer(gather.DailyBarConfig{
		APIKey:          cfg.Alpaca.APIKey,
		APISecret:       cfg.Alpaca.APISecret,
		DataURL:         cfg.Alpaca.DataURL,
		Feed:            cfg.Alpaca.Feed,
		Adjustment:      cfg.Gather.Adjustment,
		Symbols:         cfg.GatherSymbols(),
		Start:           startDate,
		End:             endDate,
		BatchSize:       cfg.Gather.BatchSize,
		MaxWorkers:      cfg.Gather.MaxWorkers,
		RateLimitPerMin: cfg.Gather.RateLimitPerMin,
		MaxAttempts:     cfg.Gather.MaxAttempts,
		ProgressDir:     filepath.Join(cfg.Storage.DataDir, store.DefaultMarket, "daily"),
	}, pstore)
	return g, startDate, endDate, nil
}
