package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"bandwagon/internal/config"
	"bandwagon/internal/domain"
	"bandwagon/internal/engine"
	"bandwagon/internal/indicator"
	"bandwagon/internal/metrics"
	"bandwagon/internal/store"
	"bandwagon/internal/tracing"
)

// ErrNoData is returned when none of the requested symbols has bars.
var ErrNoData = errors.New("no bar data for any symbol")

// DefaultRiskFreeRate is the daily risk-free rate used when none is set.
const DefaultRiskFreeRate = 0.02

// Result holds everything a backtest run produced.
type Result struct {
	Mode           Mode
	Sizer          string
	Start          time.Time
	End            time.Time
	BeginningValue float64

	Series     []*domain.Series
	Timeline   *domain.Timeline
	Rows       []domain.Row
	Trades     []domain.Trade
	Evaluation domain.Evaluation

	// Skipped lists requested symbols that had no bars.
	Skipped []string
}

// Final returns the last finalized row.
func (r *Result) Final() domain.Row {
	return r.Rows[len(r.Rows)-1]
}

// StoreRun converts the result into the record persisted by store.RunSaver
// implementations.
func (r *Result) StoreRun(id string, createdAt time.Time) *store.Run {
	return &store.Run{
		ID:             id,
		CreatedAt:      createdAt,
		SignalMode:     r.Mode.String(),
		Sizing:         r.Sizer,
		Start:          r.Start,
		End:            r.End,
		BeginningValue: r.BeginningValue,
		Symbols:        r.Timeline.Symbols,
		Rows:           r.Rows,
		Trades:         r.Trades,
		Evaluation:     r.Evaluation,
	}
}

// Backtester loads bars, computes indicators, generates signals, simulates
// the portfolio and evaluates the timeline.
type Backtester struct {
	source   store.BarSource
	cfg      config.Backtest
	riskFree float64
	log      *slog.Logger
}

// NewBacktester creates a Backtester that reads bars from source.
func NewBacktester(source store.BarSource, cfg config.Backtest, log *slog.Logger) *Backtester {
	if log == nil {
		log = slog.Default()
	}
	return &Backtester{
		source:   source,
		cfg:      cfg,
		riskFree: DefaultRiskFreeRate,
		log:      log.With("component", "backtest"),
	}
}

// SetRiskFreeRate sets the constant daily risk-free rate used by Sharpe and
// Sortino.
func (bt *Backtester) SetRiskFreeRate(rate float64) {
	bt.riskFree = rate
}

// Run executes the backtest over symbols, or over the configured universe
// when symbols is empty.
func (bt *Backtester) Run(ctx context.Context, symbols []string) (res *Result, err error) {
	ctx, span := tracing.Start(ctx, "backtest.run",
		attribute.String("signal_mode", bt.cfg.SignalMode),
		attribute.String("sizing", bt.cfg.Sizing.Mode),
	)
	defer func() { tracing.End(span, err) }()

	if err := bt.cfg.Validate(); err != nil {
		return nil, err
	}
	mode, err := ParseMode(bt.cfg.SignalMode)
	if err != nil {
		return nil, err
	}
	sizer, err := engine.NewSizer(engine.SizingConfig{
		Mode:       bt.cfg.Sizing.Mode,
		RiskFactor: bt.cfg.Sizing.RiskFactor,
		FixedBuy:   bt.cfg.Sizing.FixedBuy,
		FixedSell:  bt.cfg.Sizing.FixedSell,
	})
	if err != nil {
		return nil, err
	}
	params := bt.indicatorParams(mode)
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		symbols = bt.cfg.Symbols
	}

	start, end := bt.cfg.Start(), bt.cfg.End()
	from := start.AddDate(0, 0, -bt.cfg.WarmupDays)

	lctx, lspan := tracing.Start(ctx, "backtest.load", attribute.Int("symbols", len(symbols)))
	series, skipped, err := bt.load(lctx, symbols, from, end)
	tracing.End(lspan, err)
	if err != nil {
		return nil, err
	}
	for _, sym := range skipped {
		bt.log.Warn("no bars for symbol, skipping", "symbol", sym)
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrNoData, symbols)
	}

	ictx, ispan := tracing.Start(ctx, "backtest.indicators")
	err = indicator.ComputeAll(ictx, series, params)
	tracing.End(ispan, err)
	if err != nil {
		return nil, err
	}
	gen := Generator{
		Mode: mode,
		Thresholds: Thresholds{
			RSIBuy:  bt.cfg.Thresholds.RSIBuy,
			RSISell: bt.cfg.Thresholds.RSISell,
		},
	}
	for _, s := range series {
		if err := gen.Generate(s); err != nil {
			return nil, err
		}
	}

	sctx, sspan := tracing.Start(ctx, "backtest.simulate")
	tl, err := engine.NewEngine(sizer, bt.log).Run(sctx, series, start, end, bt.cfg.BeginningValue)
	tracing.End(sspan, err)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("trades", len(tl.Trades)))
	rows := tl.Finalize()
	ev := metrics.Evaluate(rows, metrics.ConstantRate(bt.riskFree, len(rows)-1))

	bt.log.Info("backtest complete",
		"mode", mode.String(),
		"sizing", sizer.Name(),
		"symbols", len(series),
		"trades", len(tl.Trades),
		"final_total", rows[len(rows)-1].Total,
		"total_return_pct", ev.TotalReturn,
	)

	return &Result{
		Mode:           mode,
		Sizer:          sizer.Name(),
		Start:          start,
		End:            end,
		BeginningValue: bt.cfg.BeginningValue,
		Series:         series,
		Timeline:       tl,
		Rows:           rows,
		Trades:         tl.Trades,
		Evaluation:     ev,
		Skipped:        skipped,
	}, nil
}

func (bt *Backtester) indicatorParams(mode Mode) indicator.Params {
	ind := bt.cfg.Indicators
	return indicator.Params{
		BollingerWindow: ind.Bollinger.Window,
		BollingerK:      ind.Bollinger.K,
		RSIWindow:       ind.RSIWindow,
		ATRWindow:       ind.ATRWindow,
		MACDShort:       ind.MACD.Short,
		MACDLong:        ind.MACD.Long,
		MACDSignal:      ind.MACD.Signal,
		WithMACD:        mode.NeedsMACD(),
		Workers:         bt.cfg.Workers,
	}
}

// load reads every symbol's bars concurrently. Symbols without bars are
// returned in skipped, in request order.
func (bt *Backtester) load(ctx context.Context, symbols []string, from, to time.Time) ([]*domain.Series, []string, error) {
	loaded := make([]*domain.Series, len(symbols))

	g, ctx := errgroup.WithContext(ctx)
	if bt.cfg.Workers > 0 {
		g.SetLimit(bt.cfg.Workers)
	}
	seen := make(map[string]bool, len(symbols))
	for i, sym := range symbols {
		if seen[sym] {
			continue
		}
		seen[sym] = true
		g.Go(func() error {
			bars, err := bt.source.ReadBars(ctx, sym, from, to)
			if err != nil {
				return fmt.Errorf("loading bars for %s: %w", sym, err)
			}
			if len(bars) == 0 {
				return nil
			}
			pbs := make([]domain.PriceBar, len(bars))
			for j, b := range bars {
				pbs[j] = b.PriceBar()
			}
			loaded[i] = domain.NewSeries(sym, pbs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var (
		series  []*domain.Series
		skipped []string
	)
	for i, sym := range symbols {
		if !seen[sym] {
			continue
		}
		delete(seen, sym)
		if loaded[i] == nil {
			skipped = append(skipped, sym)
			continue
		}
		series = append(series, loaded[i])
	}
	return series, skipped, nil
}
