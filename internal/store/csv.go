package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"bandwagon/internal/domain"
)

var _ BarStore = (*CSVStore)(nil)
var _ RunSaver = (*CSVStore)(nil)
var _ SeriesSaver = (*CSVStore)(nil)

// CSVStore reads per-ticker CSV files in the Yahoo Finance download layout
// (<dir>/<TICKER>.csv with Date,Open,High,Low,Close,Adj Close,Volume) and
// writes portfolio timelines, trades and enriched series as CSV.
type CSVStore struct {
	Dir string
	// Log receives dropped-row reports. Nil uses slog.Default().
	Log *slog.Logger
}

// NewCSVStore creates a CSVStore rooted at dir.
func NewCSVStore(dir string) *CSVStore {
	return &CSVStore{Dir: dir}
}

// ReadBars reads <Dir>/<symbol>.csv and returns the bars dated within
// [start, end], sorted by date. Adj Close and Volume are ignored. Rows whose
// date does not parse (for example secondary header rows) are skipped at
// debug level; rows with a valid date but unusable prices are skipped with a
// warning.
func (s *CSVStore) ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	path := filepath.Join(s.Dir, symbol+".csv")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	bars, err := parseBarCSV(ctx, f, symbol, log)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	out := bars[:0]
	for _, b := range bars {
		if inRange(b.Timestamp, start, end) {
			out = append(out, b)
		}
	}
	return out, nil
}

// ListSymbols returns the tickers of every *.csv file in Dir.
func (s *CSVStore) ListSymbols(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var symbols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.EqualFold(filepath.Ext(name), ".csv") {
			continue
		}
		symbols = append(symbols, strings.TrimSuffix(name, filepath.Ext(name)))
	}
	sort.Strings(symbols)
	return symbols, nil
}

// WriteBars writes bars in the same layout ReadBars reads, one file per
// symbol, replacing any existing file.
func (s *CSVStore) WriteBars(_ context.Context, bars []domain.Bar) error {
	bySymbol := make(map[string][]domain.Bar)
	for _, b := range bars {
		bySymbol[b.Symbol] = append(bySymbol[b.Symbol], b)
	}
	for sym, group := range bySymbol {
		sort.Slice(group, func(i, j int) bool {
			return group[i].Timestamp.Before(group[j].Timestamp)
		})
		records := make([][]string, 0, len(group)+1)
		records = append(records, []string{"Date", "Open", "High", "Low", "Close", "Adj Close", "Volume"})
		for _, b := range group {
			records = append(records, []string{
				domain.DateKey(b.Timestamp),
				floatStr(b.Open),
				floatStr(b.High),
				floatStr(b.Low),
				floatStr(b.Close),
				floatStr(b.Close),
				strconv.FormatInt(b.Volume, 10),
			})
		}
		if err := writeCSV(filepath.Join(s.Dir, sym+".csv"), records); err != nil {
			return fmt.Errorf("writing bars for %s: %w", sym, err)
		}
	}
	return nil
}

// SaveRun writes <Dir>/<run id>/portfolio.csv and trades.csv. The portfolio
// columns are Date, one shares column and one mark column per instrument,
// then Cash Value, Holding Value and Total.
func (s *CSVStore) SaveRun(_ context.Context, run *Run) error {
	dir := filepath.Join(s.Dir, run.ID)

	header := []string{"Date"}
	for _, sym := range run.Symbols {
		header = append(header, sym+" Shares", sym+" Price")
	}
	header = append(header, "Cash Value", "Holding Value", "Total")

	records := [][]string{header}
	for _, r := range run.Rows {
		rec := []string{domain.DateKey(r.Date)}
		for _, sym := range run.Symbols {
			rec = append(rec, strconv.FormatInt(r.Holdings[sym], 10), floatStr(r.Marks[sym]))
		}
		rec = append(rec,
			strconv.FormatInt(r.Cash, 10),
			strconv.FormatInt(r.HoldingValue, 10),
			strconv.FormatInt(r.Total, 10),
		)
		records = append(records, rec)
	}
	if err := writeCSV(filepath.Join(dir, "portfolio.csv"), records); err != nil {
		return fmt.Errorf("writing portfolio: %w", err)
	}

	trades := [][]string{{"Date", "Symbol", "Side", "Qty", "Price", "Cash After"}}
	for _, t := range run.Trades {
		trades = append(trades, []string{
			domain.DateKey(t.Date),
			t.Symbol,
			string(t.Side),
			strconv.FormatInt(t.Qty, 10),
			floatStr(t.Price),
			floatStr(t.CashAfter),
		})
	}
	if err := writeCSV(filepath.Join(dir, "trades.csv"), trades); err != nil {
		return fmt.Errorf("writing trades: %w", err)
	}
	return nil
}

// SaveSeries writes one <Dir>/series/<symbol>.csv per instrument holding
// prices, every computed indicator column and the signals. Columns that were
// never computed are omitted.
func (s *CSVStore) SaveSeries(_ context.Context, series []*domain.Series) error {
	for _, sr := range series {
		cols := seriesColumns(sr)

		header := []string{"Date", "Open", "High", "Low", "Close"}
		for _, c := range cols {
			header = append(header, c.name)
		}
		header = append(header, "Buy Signal", "Sell Signal")

		records := [][]string{header}
		for i, b := range sr.Bars {
			rec := []string{
				domain.DateKey(b.Date),
				floatStr(b.Open),
				floatStr(b.High),
				floatStr(b.Low),
				floatStr(b.Close),
			}
			for _, c := range cols {
				rec = append(rec, floatStr(c.values[i]))
			}
			rec = append(rec, boolAt(sr.Buy, i), boolAt(sr.Sell, i))
			records = append(records, rec)
		}
		if err := writeCSV(filepath.Join(s.Dir, "series", sr.Symbol+".csv"), records); err != nil {
			return fmt.Errorf("writing series for %s: %w", sr.Symbol, err)
		}
	}
	return nil
}

type column struct {
	name   string
	values []float64
}

func seriesColumns(s *domain.Series) []column {
	all := []column{
		{"SMA", s.SMA},
		{"STD", s.STD},
		{"Upper Band", s.Upper},
		{"Lower Band", s.Lower},
		{"Upper Band 2", s.Upper2},
		{"Lower Band 2", s.Lower2},
		{"RSI", s.RSI},
		{"TR", s.TR},
		{"ATR", s.ATR},
		{"Short EMA", s.ShortEMA},
		{"Long EMA", s.LongEMA},
		{"MACD", s.MACD},
		{"Signal Line", s.SignalLine},
	}
	cols := all[:0]
	for _, c := range all {
		if len(c.values) == s.Len() {
			cols = append(cols, c)
		}
	}
	return cols
}

// parseBarCSV maps columns by header name, so column order and extra
// columns do not matter.
func parseBarCSV(ctx context.Context, r io.Reader, symbol string, log *slog.Logger) ([]domain.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range []string{"date", "open", "high", "low", "close"} {
		if _, ok := idx[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	var bars []domain.Bar
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		b, err := parseBarRecord(rec, idx, symbol)
		if err != nil {
			line, _ := cr.FieldPos(0)
			level := slog.LevelWarn
			if errors.Is(err, errBadDate) {
				level = slog.LevelDebug
			}
			log.Log(ctx, level, "skipping csv row",
				"symbol", symbol,
				"line", line,
				"date", rowField(rec, idx, "date"),
				"error", err,
			)
			continue
		}
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	return bars, nil
}

var errBadDate = errors.New("unparseable date")

func rowField(rec []string, idx map[string]int, name string) string {
	i, ok := idx[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func parseBarRecord(rec []string, idx map[string]int, symbol string) (domain.Bar, error) {
	date := rowField(rec, idx, "date")
	if len(date) > len(domain.DateLayout) {
		date = date[:len(domain.DateLayout)]
	}
	ts, err := time.Parse(domain.DateLayout, date)
	if err != nil {
		return domain.Bar{}, errBadDate
	}

	var prices [4]float64
	for i, name := range []string{"open", "high", "low", "close"} {
		v, err := strconv.ParseFloat(rowField(rec, idx, name), 64)
		if err != nil {
			return domain.Bar{}, fmt.Errorf("%s: %w", name, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return domain.Bar{}, fmt.Errorf("%s: non-finite price %v", name, v)
		}
		prices[i] = v
	}
	return domain.Bar{
		Symbol:    symbol,
		Timestamp: ts,
		Open:      prices[0],
		High:      prices[1],
		Low:       prices[2],
		Close:     prices[3],
	}, nil
}

func writeCSV(path string, records [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func floatStr(f float64) string {
	if math.IsNaN(f) {
		return ""
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func boolAt(v []bool, i int) string {
	if i < len(v) && v[i] {
		return "True"
	}
	return "False"
}
