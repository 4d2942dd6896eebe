package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"bandwagon/internal/config"
	"bandwagon/internal/domain"
	"bandwagon/internal/httpapi"
	"bandwagon/internal/metrics"
	"bandwagon/internal/store"
	"bandwagon/internal/strategy"
	"bandwagon/internal/util"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: bandwagon-cli <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version        Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  runs [-n N]    List recorded backtest runs, newest first\n")
		fmt.Fprintf(os.Stderr, "  show <id>      Show metrics and the final row of a run\n")
		fmt.Fprintf(os.Stderr, "  trades <id>    List the trades of a run\n")
		fmt.Fprintf(os.Stderr, "  symbols        List symbols available to the backtest\n")
		fmt.Fprintf(os.Stderr, "  modes          List signal modes\n")
		fmt.Fprintf(os.Stderr, "  serve [-addr]  Serve recorded runs over an HTTP JSON API\n")
		fmt.Fprintf(os.Stderr, "\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("bandwagon-cli %s\n", version)

	case "modes":
		for _, m := range strategy.Modes() {
			fmt.Println(m)
		}

	case "runs":
		fs := flag.NewFlagSet("runs", flag.ExitOnError)
		n := fs.Int("n", 20, "number of runs to list (0 = all)")
		fs.Parse(os.Args[2:])
		err = withDB(func(ctx context.Context, db *store.SQLiteStore) error {
			return listRuns(ctx, db, *n)
		})

	case "show":
		id := argID()
		err = withDB(func(ctx context.Context, db *store.SQLiteStore) error {
			return showRun(ctx, db, id)
		})

	case "trades":
		id := argID()
		err = withDB(func(ctx context.Context, db *store.SQLiteStore) error {
			return listTrades(ctx, db, id)
		})

	case "symbols":
		err = listSymbols()

	case "serve":
		fs := flag.NewFlagSet("serve", flag.ExitOnError)
		addr := fs.String("addr", "", "listen address (default server.host:server.port)")
		fs.Parse(os.Args[2:])
		err = serve(*addr)

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func argID() string {
	if len(os.Args) < 3 {
		flag.Usage()
		os.Exit(1)
	}
	return os.Args[2]
}

func loadConfig() (*config.Config, error) {
	config.LoadDotEnv()
	return config.LoadOrDefault(config.Path())
}

func withDB(fn func(context.Context, *store.SQLiteStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if _, err := os.Stat(cfg.Storage.SQLitePath); err != nil {
		return fmt.Errorf("no run database at %s: %w", cfg.Storage.SQLitePath, err)
	}
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(context.Background(), db)
}

func listRuns(ctx context.Context, db *store.SQLiteStore, n int) error {
	runs, err := db.ListRuns(ctx, n)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tMODE\tSIZING\tRANGE\tFINAL\tRETURN %")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s..%s\t%d\t%.2f\n",
			r.ID,
			r.CreatedAt.Format("2006-01-02 15:04"),
			r.SignalMode,
			r.Sizing,
			domain.DateKey(r.Start), domain.DateKey(r.End),
			r.FinalTotal,
			r.Evaluation.TotalReturn,
		)
	}
	return tw.Flush()
}

func showRun(ctx context.Context, db *store.SQLiteStore, id string) error {
	run, err := db.GetRun(ctx, id)
	if err != nil {
		return err
	}
	rows, err := db.Rows(ctx, id)
	if err != nil {
		return err
	}

	fmt.Printf("Run %s (%s, mode %s, sizing %s)\n", run.ID, strings.Join(run.Symbols, ","), run.SignalMode, run.Sizing)
	fmt.Printf("Range %s..%s, beginning value %.2f\n\n", domain.DateKey(run.Start), domain.DateKey(run.End), run.BeginningValue)
	fmt.Println("Portfolio Summary:")
	if err := metrics.WriteSummary(os.Stdout, run.Evaluation); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	fmt.Println("\nFinal Portfolio Value:")
	return metrics.WriteRow(os.Stdout, run.Symbols, rows[len(rows)-1])
}

func listTrades(ctx context.Context, db *store.SQLiteStore, id string) error {
	if _, err := db.GetRun(ctx, id); err != nil {
		return err
	}
	trades, err := db.Trades(ctx, id)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tSYMBOL\tSIDE\tQTY\tPRICE\tCASH AFTER")
	for _, t := range trades {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.2f\t%.2f\n",
			domain.DateKey(t.Date), t.Symbol, t.Side, t.Qty, t.Price, t.CashAfter)
	}
	return tw.Flush()
}

func listSymbols() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	dir := cfg.Storage.DataDir
	if strings.EqualFold(cfg.Backtest.Source, "csv") {
		dir = cfg.Backtest.CSVDir
	}
	src, err := store.NewBarSource(cfg.Backtest.Source, dir)
	if err != nil {
		return err
	}
	symbols, err := src.ListSymbols(context.Background())
	if err != nil {
		return err
	}
	for _, s := range symbols {
		fmt.Println(s)
	}
	return nil
}

func serve(addr string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if addr == "" {
		addr = cfg.Server.Addr()
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           httpapi.NewRunServer(db, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		logger.Info("run report API listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutting down run report API")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}
