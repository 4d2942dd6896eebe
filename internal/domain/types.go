// Package domain defines the core data types shared across bandwagon: raw
// bars, indicator-enriched instrument series, portfolio state and the
// finalized timeline handed to persistence and evaluation.
package domain

import (
	"sort"
	"time"
)

// DateLayout is the calendar-date layout used for keys, file names and CSV.
const DateLayout = "2006-01-02"

// Day truncates t to its calendar date at UTC midnight.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateKey returns the YYYY-MM-DD key for t.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// Bar is a raw daily OHLCV bar as stored and retrieved from data providers.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// PriceBar drops everything the simulation does not use.
func (b Bar) PriceBar() PriceBar {
	return PriceBar{
		Date:  Day(b.Timestamp),
		Open:  b.Open,
		High:  b.High,
		Low:   b.Low,
		Close: b.Close,
	}
}

// PriceBar is a single trading day for one instrument.
type PriceBar struct {
	Date  time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// Side is the direction of an executed trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Series is the per-instrument table the indicator engine and the signal
// generator append to. Every column is aligned with Bars; undefined values
// are NaN. Columns that were never computed are nil.
type Series struct {
	Symbol string
	Bars   []PriceBar

	SMA    []float64
	STD    []float64
	Upper  []float64
	Lower  []float64
	Upper2 []float64
	Lower2 []float64

	RSI []float64

	TR  []float64
	ATR []float64

	ShortEMA   []float64
	LongEMA    []float64
	MACD       []float64
	SignalLine []float64

	Buy  []bool
	Sell []bool

	index map[string]int
}

// NewSeries builds a Series from bars, sorting them by date. When two bars
// share a date the later one in the input wins.
func NewSeries(symbol string, bars []PriceBar) *Series {
	byDay := make(map[string]PriceBar, len(bars))
	for _, b := range bars {
		b.Date = Day(b.Date)
		byDay[DateKey(b.Date)] = b
	}

	sorted := make([]PriceBar, 0, len(byDay))
	for _, b := range byDay {
		sorted = append(sorted, b)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	index := make(map[string]int, len(sorted))
	for i, b := range sorted {
		index[DateKey(b.Date)] = i
	}

	return &Series{
		Symbol: symbol,
		Bars:   sorted,
		index:  index,
	}
}

// Len returns the number of trading days in the series.
func (s *Series) Len() int { return len(s.Bars) }

// IndexOf returns the position of the bar dated d.
func (s *Series) IndexOf(d time.Time) (int, bool) {
	i, ok := s.index[DateKey(d)]
	return i, ok
}

// Closes returns the close column.
func (s *Series) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}

// Trade records a single executed fill during simulation.
type Trade struct {
	Date      time.Time
	Symbol    string
	Side      Side
	Qty       int64
	Price     float64
	CashAfter float64
}

// PortfolioState is one calendar day of the simulation at full precision.
// Marks holds the price each instrument's holding was valued at.
type PortfolioState struct {
	Date         time.Time
	Cash         float64
	HoldingValue float64
	Total        float64
	Holdings     map[string]int64
	Marks        map[string]float64
}

// Clone returns a deep copy used as the next day's baseline.
func (p PortfolioState) Clone() PortfolioState {
	c := p
	c.Holdings = make(map[string]int64, len(p.Holdings))
	for k, v := range p.Holdings {
		c.Holdings[k] = v
	}
	c.Marks = make(map[string]float64, len(p.Marks))
	for k, v := range p.Marks {
		c.Marks[k] = v
	}
	return c
}

// Evaluation holds the post-hoc performance metrics of a finalized timeline.
type Evaluation struct {
	TotalReturn      float64 // percent
	AnnualReturn     float64
	AnnualVolatility float64
	SharpeRatio      float64
	SortinoRatio     float64
	MaxDrawdown      float64
}
