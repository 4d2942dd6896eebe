package gather

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"bandwagon/internal/domain"
	"bandwagon/internal/store"
	"bandwagon/internal/tracing"
	"bandwagon/internal/util"
)

var _ Gatherer = (*DailyBarGatherer)(nil)

// barClient is the part of the Alpaca market data client the gatherer uses.
type barClient interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// DailyBarConfig configures a DailyBarGatherer.
type DailyBarConfig struct {
	APIKey    string
	APISecret string
	DataURL   string
	Feed      string // iex | sip
	// Adjustment is the corporate action adjustment (raw, split, dividend,
	// all).
	Adjustment string

	Symbols         []string
	Start           time.Time
	End             time.Time
	BatchSize       int // symbols per API call
	MaxWorkers      int
	RateLimitPerMin int
	MaxAttempts     int

	// ProgressDir holds resume state; empty disables it.
	ProgressDir string
}

// DailyBarGatherer gathers daily bars for a fixed symbol universe via the
// Alpaca market data API and writes them to a bar store.
type DailyBarGatherer struct {
	client     barClient
	store      store.BarStore
	cfg        DailyBarConfig
	limiter    *util.RateLimiter
	retryDelay time.Duration
	log        *slog.Logger
}

// NewDailyBarGatherer creates a DailyBarGatherer writing into s.
func NewDailyBarGatherer(cfg DailyBarConfig, s store.BarStore) *DailyBarGatherer {
	opts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.DataURL != "" {
		opts.BaseURL = cfg.DataURL
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	cfg.Symbols = normalizeSymbols(cfg.Symbols)

	return &DailyBarGatherer{
		client:     marketdata.NewClient(opts),
		store:      s,
		cfg:        cfg,
		limiter:    util.NewRateLimiter(cfg.RateLimitPerMin),
		retryDelay: time.Second,
		log:        slog.Default().With("gatherer", "alpaca-daily"),
	}
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "alpaca-daily" }

// Run fetches bars for every configured symbol over [Start, End]. A pass
// interrupted part-way resumes with the symbols not yet fetched; a pass that
// already completed for End is a no-op.
func (g *DailyBarGatherer) Run(ctx context.Context) (err error) {
	ctx, span := tracing.Start(ctx, "gather.alpaca_daily")
	defer func() { tracing.End(span, err) }()

	if g.cfg.End.Before(g.cfg.Start) {
		return fmt.Errorf("end %s before start %s", domain.DateKey(g.cfg.End), domain.DateKey(g.cfg.Start))
	}
	target := domain.DateKey(g.cfg.Start) + ".." + domain.DateKey(g.cfg.End)

	var tracker *progressTracker
	if g.cfg.ProgressDir != "" {
		var err error
		tracker, err = newProgressTracker(g.cfg.ProgressDir, target)
		if err != nil {
			return fmt.Errorf("creating progress tracker: %w", err)
		}
		defer tracker.Close()

		if tracker.IsCompleted(target) {
			g.log.Info("already completed", "range", target)
			return nil
		}
	}

	var remaining []string
	for _, sym := range g.cfg.Symbols {
		if tracker != nil && tracker.IsFetched(sym) {
			continue
		}
		remaining = append(remaining, sym)
	}
	batches := splitBatches(remaining, g.cfg.BatchSize)

	g.log.Info("starting alpaca-daily",
		"range", target,
		"total", len(g.cfg.Symbols),
		"remaining", len(remaining),
		"batches", len(batches),
	)

	var (
		totalBars atomic.Int64
		failed    atomic.Int64
		runStart  = time.Now()
	)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.MaxWorkers)
	for i, batch := range batches {
		eg.Go(func() error {
			if err := g.limiter.Wait(ctx); err != nil {
				return err
			}

			bctx, bspan := tracing.Start(ctx, "gather.batch",
				attribute.Int("batch", i+1),
				attribute.Int("symbols", len(batch)),
			)
			var bars []domain.Bar
			err := util.RetryLog(bctx, g.log, g.cfg.MaxAttempts, g.retryDelay, func() error {
				var err error
				bars, err = g.fetchMultiBars(batch)
				return err
			})
			tracing.End(bspan, err)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				g.log.Error("batch fetch failed",
					"batch", fmt.Sprintf("%d/%d", i+1, len(batches)),
					"err", err,
				)
				failed.Add(1)
				return nil
			}

			if len(bars) > 0 {
				if err := g.store.WriteBars(ctx, bars); err != nil {
					return fmt.Errorf("writing bars: %w", err)
				}
			}
			if tracker != nil {
				if err := tracker.MarkFetched(batch); err != nil {
					g.log.Error("marking fetched failed", "err", err)
				}
			}
			totalBars.Add(int64(len(bars)))

			g.log.Info("batch done",
				"batch", fmt.Sprintf("%d/%d", i+1, len(batches)),
				"bars", len(bars),
				"elapsed", time.Since(runStart).Round(time.Second),
			)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d batches failed", n, len(batches))
	}
	if tracker != nil {
		if err := tracker.MarkCompleted(target); err != nil {
			return fmt.Errorf("marking completed: %w", err)
		}
	}

	g.log.Info("complete",
		"bars", totalBars.Load(),
		"elapsed", time.Since(runStart).Round(time.Second),
	)
	return nil
}

// fetchMultiBars fetches daily bars for multiple symbols in a single API call.
func (g *DailyBarGatherer) fetchMultiBars(symbols []string) ([]domain.Bar, error) {
	multiBars, err := g.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Adjustment: marketdata.Adjustment(g.cfg.Adjustment),
		Start:      g.cfg.Start,
		// Daily bars are stamped at midnight New York time, after UTC
		// midnight of the same date.
		End:  g.cfg.End.AddDate(0, 0, 1),
		Feed: marketdata.Feed(g.cfg.Feed),
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	var bars []domain.Bar
	for symbol, alpacaBars := range multiBars {
		for _, ab := range alpacaBars {
			bars = append(bars, domain.Bar{
				Symbol:     strings.ToUpper(symbol),
				Timestamp:  domain.Day(ab.Timestamp),
				Open:       ab.Open,
				High:       ab.High,
				Low:        ab.Low,
				Close:      ab.Close,
				Volume:     int64(ab.Volume),
				TradeCount: int64(ab.TradeCount),
				VWAP:       ab.VWAP,
			})
		}
	}
	return bars, nil
}
