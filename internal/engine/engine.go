// Package engine runs the day-by-day portfolio simulation: it walks the
// calendar, consults each instrument's signals, sizes trades through a Sizer
// and carries cash and holdings forward under solvency rules.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"bandwagon/internal/domain"
	"bandwagon/internal/util"
)

// ErrInvalidRun is returned when a run is misconfigured before the first
// simulated day.
var ErrInvalidRun = errors.New("invalid simulation run")

// Engine is the portfolio simulator. It is stateless between runs; every
// call to Run builds a fresh timeline.
type Engine struct {
	sizer Sizer
	log   *slog.Logger
}

// NewEngine creates an Engine that sizes trades with sizer. A nil logger
// falls back to slog.Default().
func NewEngine(sizer Sizer, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		sizer: sizer,
		log:   log.With("component", "engine"),
	}
}

// Run simulates every calendar day in [start, end]. Series must already carry
// indicator and signal columns. The first day is seeded with beginningValue
// in cash and no holdings; trading starts on the second day.
func (e *Engine) Run(ctx context.Context, series []*domain.Series, start, end time.Time, beginningValue float64) (*domain.Timeline, error) {
	if e.sizer == nil {
		return nil, fmt.Errorf("%w: no position sizer", ErrInvalidRun)
	}
	if beginningValue <= 0 || math.IsNaN(beginningValue) || math.IsInf(beginningValue, 0) {
		return nil, fmt.Errorf("%w: beginning value must be positive, got %v", ErrInvalidRun, beginningValue)
	}
	days := util.Days(start, end)
	if len(days) == 0 {
		return nil, fmt.Errorf("%w: end %s before start %s", ErrInvalidRun, domain.DateKey(end), domain.DateKey(start))
	}

	ordered, err := orderSeries(series)
	if err != nil {
		return nil, err
	}

	tl := &domain.Timeline{
		Symbols: make([]string, len(ordered)),
		States:  make([]domain.PortfolioState, 0, len(days)),
	}
	seed := domain.PortfolioState{
		Date:     days[0],
		Cash:     beginningValue,
		Total:    beginningValue,
		Holdings: make(map[string]int64, len(ordered)),
		Marks:    make(map[string]float64, len(ordered)),
	}
	for i, s := range ordered {
		tl.Symbols[i] = s.Symbol
		seed.Holdings[s.Symbol] = 0
	}
	tl.States = append(tl.States, seed)

	for _, d := range days[1:] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		state := tl.States[len(tl.States)-1].Clone()
		state.Date = d
		e.step(&state, ordered, tl)
		tl.States = append(tl.States, state)
	}

	last := tl.Last()
	e.log.Info("simulation complete",
		"days", len(tl.States),
		"trades", len(tl.Trades),
		"cash", last.Cash,
		"total", last.Total,
	)
	return tl, nil
}

// step applies day state.Date's signals to state, which arrives as a copy of
// the previous day.
func (e *Engine) step(state *domain.PortfolioState, series []*domain.Series, tl *domain.Timeline) {
	d := state.Date
	for _, s := range series {
		i, ok := s.IndexOf(d)
		if !ok {
			continue
		}
		if i+1 >= s.Len() {
			// No later bar to execute against; value at today's close.
			mark(state, s.Symbol, s.Bars[i].Close)
			continue
		}

		// Execute at the instrument's own next bar, which may be several
		// calendar days away.
		openNext := s.Bars[i+1].Open
		if trade, ok := e.trade(state, s, i, openNext); ok {
			tl.Trades = append(tl.Trades, trade)
			e.log.Debug("trade",
				"date", domain.DateKey(d),
				"symbol", s.Symbol,
				"side", trade.Side,
				"qty", trade.Qty,
				"price", trade.Price,
				"cash", trade.CashAfter,
			)
		}
		mark(state, s.Symbol, openNext)
	}

	state.HoldingValue = 0
	for _, s := range series {
		if h := state.Holdings[s.Symbol]; h > 0 {
			state.HoldingValue += float64(h) * state.Marks[s.Symbol]
		}
	}
	state.Total = state.Cash + state.HoldingValue
}

// mark records price as the symbol's valuation price. An unusable price
// leaves the previous mark in place.
func mark(state *domain.PortfolioState, symbol string, price float64) {
	if validPrice(price) {
		state.Marks[symbol] = price
	}
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}

// trade evaluates bar i of s and applies at most one fill to state.
func (e *Engine) trade(state *domain.PortfolioState, s *domain.Series, i int, price float64) (domain.Trade, bool) {
	if !validPrice(price) {
		return domain.Trade{}, false
	}
	sc := SizingContext{Cash: state.Cash, ATR: at(s.ATR, i)}
	held := state.Holdings[s.Symbol]

	switch {
	case flag(s.Buy, i) && state.Cash >= price:
		qty := e.sizer.BuyQuantity(state.Cash, price, sc)
		// Never spend more cash than is available.
		qty = min(qty, floorQty(state.Cash/price))
		if qty <= 0 {
			return domain.Trade{}, false
		}
		state.Holdings[s.Symbol] = held + qty
		state.Cash -= float64(qty) * price
		return domain.Trade{Date: state.Date, Symbol: s.Symbol, Side: domain.SideBuy, Qty: qty, Price: price, CashAfter: state.Cash}, true

	case flag(s.Sell, i) && held > 0:
		qty := min(e.sizer.SellQuantity(held, price, sc), held)
		if qty <= 0 {
			return domain.Trade{}, false
		}
		state.Holdings[s.Symbol] = held - qty
		state.Cash += float64(qty) * price
		return domain.Trade{Date: state.Date, Symbol: s.Symbol, Side: domain.SideSell, Qty: qty, Price: price, CashAfter: state.Cash}, true
	}
	return domain.Trade{}, false
}

// orderSeries returns series sorted by symbol so cash is consumed in a
// reproducible order.
func orderSeries(series []*domain.Series) ([]*domain.Series, error) {
	ordered := make([]*domain.Series, 0, len(series))
	seen := make(map[string]struct{}, len(series))
	for _, s := range series {
		if s == nil {
			continue
		}
		if _, dup := seen[s.Symbol]; dup {
			return nil, fmt.Errorf("%w: duplicate symbol %s", ErrInvalidRun, s.Symbol)
		}
		seen[s.Symbol] = struct{}{}
		ordered = append(ordered, s)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Symbol < ordered[j].Symbol
	})
	return ordered, nil
}

func at(col []float64, i int) float64 {
	if i < 0 || i >= len(col) {
		return math.NaN()
	}
	return col[i]
}

func flag(col []bool, i int) bool {
	return i >= 0 && i < len(col) && col[i]
}
