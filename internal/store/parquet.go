package store

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"bandwagon/internal/domain"
)

// Compile-time interface checks.
var _ BarStore = (*ParquetStore)(nil)
var _ RunSaver = (*ParquetStore)(nil)

// DefaultMarket is the market directory bars are stored under.
const DefaultMarket = "us"

// ParquetStore implements BarStore and RunSaver using Parquet files on disk.
type ParquetStore struct {
	DataDir string
	Market  string
}

// NewParquetStore creates a new ParquetStore rooted at the given data
// directory for the default market.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir, Market: DefaultMarket}
}

// ---------------------------------------------------------------------------
// On-disk schemas
// ---------------------------------------------------------------------------

// BarRecord is one daily bar row.
type BarRecord struct {
	Symbol     string  `parquet:"symbol"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     int64   `parquet:"volume"`
	TradeCount int64   `parquet:"trade_count"`
	VWAP       float64 `parquet:"vwap"`
}

// TimelineRecord is one finalized portfolio row.
type TimelineRecord struct {
	Date         string `parquet:"date"`
	Cash         int64  `parquet:"cash_value"`
	HoldingValue int64  `parquet:"holding_value"`
	Total        int64  `parquet:"total"`
}

// PositionRecord is one instrument's holding on one day.
type PositionRecord struct {
	Date   string  `parquet:"date"`
	Symbol string  `parquet:"symbol"`
	Shares int64   `parquet:"shares"`
	Mark   float64 `parquet:"mark"`
}

// TradeRecord is one executed fill.
type TradeRecord struct {
	Date      string  `parquet:"date"`
	Symbol    string  `parquet:"symbol"`
	Side      string  `parquet:"side"`
	Qty       int64   `parquet:"qty"`
	Price     float64 `parquet:"price"`
	CashAfter float64 `parquet:"cash_after"`
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars merges bars into their yearly files, one per symbol and calendar
// year:
//
//	<DataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
//
// A bar already on disk for the same instant is replaced.
func (s *ParquetStore) WriteBars(ctx context.Context, bars []domain.Bar) error {
	byFile := make(map[string][]BarRecord)
	for _, b := range bars {
		path := s.barPath(b.Symbol, b.Timestamp.UTC().Year())
		byFile[path] = append(byFile[path], barRecord(b))
	}

	paths := make([]string, 0, len(byFile))
	for path := range byFile {
		paths = append(paths, path)
	}
	slices.Sort(paths)

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		existing, err := readParquetFile[BarRecord](path)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("reading %s for merge: %w", path, err)
		}
		if err := writeParquetFile(path, mergeBarRecords(existing, byFile[path])); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return nil
}

// ReadBars returns symbol's bars dated within [start, end], oldest first.
// Years without a file contribute nothing.
func (s *ParquetStore) ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for year := start.Year(); year <= end.Year(); year++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := s.barPath(symbol, year)
		records, err := readParquetFile[BarRecord](path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		for _, r := range records {
			if b := r.bar(); inRange(b.Timestamp, start, end) {
				bars = append(bars, b)
			}
		}
	}
	slices.SortFunc(bars, func(a, b domain.Bar) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return bars, nil
}

// ListSymbols returns the symbols with at least one yearly bar file.
func (s *ParquetStore) ListSymbols(_ context.Context) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(s.DataDir, s.market(), "daily", "*", "*.parquet"))
	if err != nil {
		return nil, err
	}
	var symbols []string
	for _, f := range files {
		sym := filepath.Base(filepath.Dir(f))
		if len(symbols) == 0 || symbols[len(symbols)-1] != sym {
			symbols = append(symbols, sym)
		}
	}
	return symbols, nil
}

func barRecord(b domain.Bar) BarRecord {
	return BarRecord{
		Symbol:     strings.ToUpper(b.Symbol),
		Timestamp:  b.Timestamp.UnixMilli(),
		Open:       b.Open,
		High:       b.High,
		Low:        b.Low,
		Close:      b.Close,
		Volume:     b.Volume,
		TradeCount: b.TradeCount,
		VWAP:       b.VWAP,
	}
}

func (r BarRecord) bar() domain.Bar {
	return domain.Bar{
		Symbol:     r.Symbol,
		Timestamp:  time.UnixMilli(r.Timestamp).UTC(),
		Open:       r.Open,
		High:       r.High,
		Low:        r.Low,
		Close:      r.Close,
		Volume:     r.Volume,
		TradeCount: r.TradeCount,
		VWAP:       r.VWAP,
	}
}

// ---------------------------------------------------------------------------
// RunSaver implementation
// ---------------------------------------------------------------------------

// SaveRun writes the run's timeline, per-instrument positions and trades as
// three Parquet files under <DataDir>/runs/<run id>/.
func (s *ParquetStore) SaveRun(_ context.Context, run *Run) error {
	dir := s.runDir(run.ID)

	timeline := make([]TimelineRecord, len(run.Rows))
	positions := make([]PositionRecord, 0, len(run.Rows)*len(run.Symbols))
	for i, r := range run.Rows {
		date := domain.DateKey(r.Date)
		timeline[i] = TimelineRecord{
			Date:         date,
			Cash:         r.Cash,
			HoldingValue: r.HoldingValue,
			Total:        r.Total,
		}
		for _, sym := range run.Symbols {
			positions = append(positions, PositionRecord{
				Date:   date,
				Symbol: sym,
				Shares: r.Holdings[sym],
				Mark:   r.Marks[sym],
			})
		}
	}

	trades := make([]TradeRecord, len(run.Trades))
	for i, t := range run.Trades {
		trades[i] = TradeRecord{
			Date:      domain.DateKey(t.Date),
			Symbol:    t.Symbol,
			Side:      string(t.Side),
			Qty:       t.Qty,
			Price:     t.Price,
			CashAfter: t.CashAfter,
		}
	}

	if err := writeParquetFile(filepath.Join(dir, "timeline.parquet"), timeline); err != nil {
		return fmt.Errorf("writing timeline: %w", err)
	}
	if err := writeParquetFile(filepath.Join(dir, "positions.parquet"), positions); err != nil {
		return fmt.Errorf("writing positions: %w", err)
	}
	if err := writeParquetFile(filepath.Join(dir, "trades.parquet"), trades); err != nil {
		return fmt.Errorf("writing trades: %w", err)
	}
	return nil
}

// ReadTimeline reads back the timeline records of a saved run.
func (s *ParquetStore) ReadTimeline(runID string) ([]TimelineRecord, error) {
	return readParquetFile[TimelineRecord](filepath.Join(s.runDir(runID), "timeline.parquet"))
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

func (s *ParquetStore) market() string {
	if s.Market == "" {
		return DefaultMarket
	}
	return s.Market
}

// barPath is <dataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet.
func (s *ParquetStore) barPath(symbol string, year int) string {
	return filepath.Join(s.DataDir, s.market(), "daily", strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

// runDir returns the directory holding a saved run.
// Layout: <dataDir>/runs/<run id>/
func (s *ParquetStore) runDir(runID string) string {
	return filepath.Join(s.DataDir, "runs", runID)
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	return parquet.ReadFile[T](path)
}

// mergeBarRecords combines two sets of one symbol's bars keyed by timestamp,
// letting incoming win, and returns them oldest first.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	byTime := make(map[int64]BarRecord, len(existing)+len(incoming))
	for _, set := range [][]BarRecord{existing, incoming} {
		for _, r := range set {
			byTime[r.Timestamp] = r
		}
	}
	merged := make([]BarRecord, 0, len(byTime))
	for _, r := range byTime {
		merged = append(merged, r)
	}
	slices.SortFunc(merged, func(a, b BarRecord) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})
	return merged
}
