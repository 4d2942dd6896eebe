package store

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bandwagon/internal/domain"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sampleRun() *Run {
	d1, d2 := date(2024, 1, 2), date(2024, 1, 3)
	return &Run{
		ID:             "run-1",
		CreatedAt:      date(2024, 2, 1),
		SignalMode:     "none",
		Sizing:         "risk",
		Start:          d1,
		End:            d2,
		BeginningValue: 10000,
		Symbols:        []string{"AAPL", "MSFT"},
		Rows: []domain.Row{
			{
				Date: d1, Cash: 10000, HoldingValue: 0, Total: 10000,
				Holdings: map[string]int64{"AAPL": 0, "MSFT": 0},
				Marks:    map[string]float64{"AAPL": 0, "MSFT": 0},
			},
			{
				Date: d2, Cash: 9650, HoldingValue: 350, Total: 10000,
				Holdings: map[string]int64{"AAPL": 7, "MSFT": 0},
				Marks:    map[string]float64{"AAPL": 50, "MSFT": 0},
			},
		},
		Trades: []domain.Trade{
			{Date: d2, Symbol: "AAPL", Side: domain.SideBuy, Qty: 7, Price: 50, CashAfter: 9650},
		},
		Evaluation: domain.Evaluation{
			TotalReturn:      0,
			AnnualReturn:     0,
			AnnualVolatility: 0,
			SharpeRatio:      math.NaN(),
			SortinoRatio:     math.NaN(),
			MaxDrawdown:      0,
		},
	}
}

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	bp := ps.barPath("aapl", 2024)
	want := filepath.Join("/data", "us", "daily", "AAPL", "2024.parquet")
	if bp != want {
		t.Errorf("barPath mismatch:\n  got  %s\n  want %s", bp, want)
	}

	rd := ps.runDir("abc")
	if rd != filepath.Join("/data", "runs", "abc") {
		t.Errorf("runDir = %s", rd)
	}
}

func TestParquetStoreWriteReadBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars := []domain.Bar{
		{Symbol: "AAPL", Timestamp: date(2023, 12, 29), Open: 193, High: 194, Low: 191, Close: 192, Volume: 42000000},
		{Symbol: "AAPL", Timestamp: date(2024, 1, 2), Open: 185, High: 186.5, Low: 184, Close: 185.5, Volume: 50000000, VWAP: 185.25},
		{Symbol: "AAPL", Timestamp: date(2024, 1, 3), Open: 185.5, High: 187, Low: 185, Close: 186, Volume: 45000000},
	}
	if err := ps.WriteBars(ctx, bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	got, err := ps.ReadBars(ctx, "AAPL", date(2023, 12, 1), date(2024, 1, 31))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ReadBars returned %d bars, want 3", len(got))
	}
	if !got[0].Timestamp.Equal(date(2023, 12, 29)) {
		t.Errorf("first bar = %v, want 2023-12-29", got[0].Timestamp)
	}
	if got[1].VWAP != 185.25 {
		t.Errorf("VWAP = %v, want 185.25", got[1].VWAP)
	}

	// Range filter.
	got, err = ps.ReadBars(ctx, "AAPL", date(2024, 1, 3), date(2024, 1, 3))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 1 || got[0].Close != 186 {
		t.Errorf("filtered bars = %+v, want the 2024-01-03 bar", got)
	}

	// Merge: rewriting a day replaces it.
	if err := ps.WriteBars(ctx, []domain.Bar{
		{Symbol: "AAPL", Timestamp: date(2024, 1, 3), Open: 1, High: 1, Low: 1, Close: 1},
	}); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}
	got, _ = ps.ReadBars(ctx, "AAPL", date(2024, 1, 1), date(2024, 1, 31))
	if len(got) != 2 || got[1].Close != 1 {
		t.Errorf("after merge = %+v", got)
	}

	// Missing symbol is empty, not an error.
	got, err = ps.ReadBars(ctx, "MSFT", date(2024, 1, 1), date(2024, 1, 31))
	if err != nil || len(got) != 0 {
		t.Errorf("missing symbol = %v, %v", got, err)
	}

	syms, err := ps.ListSymbols(ctx)
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(syms) != 1 || syms[0] != "AAPL" {
		t.Errorf("ListSymbols = %v, want [AAPL]", syms)
	}
}

func TestParquetStoreSaveRun(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	run := sampleRun()
	if err := ps.SaveRun(context.Background(), run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	tl, err := ps.ReadTimeline(run.ID)
	if err != nil {
		t.Fatalf("ReadTimeline: %v", err)
	}
	if len(tl) != 2 {
		t.Fatalf("timeline has %d rows, want 2", len(tl))
	}
	if tl[1].Date != "2024-01-03" || tl[1].Cash != 9650 || tl[1].Total != 10000 {
		t.Errorf("row 1 = %+v", tl[1])
	}
	for _, name := range []string{"positions.parquet", "trades.parquet"} {
		if _, err := os.Stat(filepath.Join(ps.runDir(run.ID), name)); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
}

func TestCSVStoreReadBars(t *testing.T) {
	dir := t.TempDir()
	content := strings.Join([]string{
		"Date,Open,High,Low,Close,Adj Close,Volume",
		"2024-01-03,185.5,187,185,186,185.9,45000000",
		"2024-01-02 00:00:00-05:00,185,186.5,184,185.5,185.4,50000000",
		"Ticker,AAPL,AAPL,AAPL,AAPL,AAPL,AAPL",
		"2024-01-04,186,188,185.5,187,186.9,40000000",
		"",
	}, "\n")
	if err := os.WriteFile(filepath.Join(dir, "AAPL.csv"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cs := NewCSVStore(dir)
	ctx := context.Background()

	bars, err := cs.ReadBars(ctx, "AAPL", date(2024, 1, 1), date(2024, 1, 3))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("ReadBars returned %d bars, want 2", len(bars))
	}
	if !bars[0].Timestamp.Equal(date(2024, 1, 2)) || bars[0].Close != 185.5 {
		t.Errorf("bars[0] = %+v", bars[0])
	}
	if bars[1].Open != 185.5 || bars[1].Symbol != "AAPL" {
		t.Errorf("bars[1] = %+v", bars[1])
	}
	if bars[0].Volume != 0 {
		t.Errorf("Volume = %d, want it ignored", bars[0].Volume)
	}

	syms, err := cs.ListSymbols(ctx)
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(syms) != 1 || syms[0] != "AAPL" {
		t.Errorf("ListSymbols = %v, want [AAPL]", syms)
	}
}

func TestCSVStoreSkipsNonFinitePrices(t *testing.T) {
	dir := t.TempDir()
	content := strings.Join([]string{
		"Date,Open,High,Low,Close",
		"2024-01-02,10,11,9,10.5",
		"2024-01-03,NaN,11,9,10.5",
		"2024-01-04,10,Inf,9,10.5",
		"2024-01-05,10,11,9,10",
		"",
	}, "\n")
	if err := os.WriteFile(filepath.Join(dir, "XYZ.csv"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	cs := &CSVStore{Dir: dir, Log: slog.New(slog.NewTextHandler(&buf, nil))}

	bars, err := cs.ReadBars(context.Background(), "XYZ", date(2024, 1, 1), date(2024, 1, 31))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("ReadBars returned %d bars, want 2", len(bars))
	}
	for _, b := range bars {
		if math.IsNaN(b.Open) || math.IsInf(b.High, 0) {
			t.Errorf("non-finite bar kept: %+v", b)
		}
	}
	out := buf.String()
	for _, want := range []string{"date=2024-01-03", "date=2024-01-04", "symbol=XYZ"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestCSVStoreMissingColumn(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "X.csv"), []byte("Date,Open,High\n2024-01-02,1,2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := NewCSVStore(dir).ReadBars(context.Background(), "X", date(2024, 1, 1), date(2024, 1, 31))
	if err == nil {
		t.Fatal("expected error for missing columns")
	}
}

func TestCSVStoreWriteBarsRoundTrip(t *testing.T) {
	cs := NewCSVStore(t.TempDir())
	ctx := context.Background()
	in := []domain.Bar{
		{Symbol: "MSFT", Timestamp: date(2024, 1, 3), Open: 2, High: 3, Low: 1, Close: 2.5},
		{Symbol: "MSFT", Timestamp: date(2024, 1, 2), Open: 1, High: 2, Low: 0.5, Close: 1.5},
	}
	if err := cs.WriteBars(ctx, in); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}
	out, err := cs.ReadBars(ctx, "MSFT", date(2024, 1, 1), date(2024, 1, 31))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(out) != 2 || out[0].Close != 1.5 || out[1].Close != 2.5 {
		t.Errorf("round trip = %+v", out)
	}
}

func TestCSVStoreSaveRun(t *testing.T) {
	dir := t.TempDir()
	run := sampleRun()
	if err := NewCSVStore(dir).SaveRun(context.Background(), run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, run.ID, "portfolio.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("portfolio.csv has %d lines, want 3", len(lines))
	}
	wantHeader := "Date,AAPL Shares,AAPL Price,MSFT Shares,MSFT Price,Cash Value,Holding Value,Total"
	if lines[0] != wantHeader {
		t.Errorf("header = %q, want %q", lines[0], wantHeader)
	}
	if lines[2] != "2024-01-03,7,50,0,0,9650,350,10000" {
		t.Errorf("row = %q", lines[2])
	}

	trades, err := os.ReadFile(filepath.Join(dir, run.ID, "trades.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(trades), "2024-01-03,AAPL,buy,7,50,9650") {
		t.Errorf("trades.csv = %q", trades)
	}
}

func TestCSVStoreSaveSeries(t *testing.T) {
	dir := t.TempDir()
	s := domain.NewSeries("AAPL", []domain.PriceBar{
		{Date: date(2024, 1, 2), Open: 1, High: 2, Low: 0.5, Close: 1.5},
		{Date: date(2024, 1, 3), Open: 2, High: 3, Low: 1, Close: 2.5},
	})
	s.SMA = []float64{math.NaN(), 2}
	s.Buy = []bool{false, true}
	s.Sell = []bool{false, false}

	if err := NewCSVStore(dir).SaveSeries(context.Background(), []*domain.Series{s}); err != nil {
		t.Fatalf("SaveSeries: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "series", "AAPL.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if lines[0] != "Date,Open,High,Low,Close,SMA,Buy Signal,Sell Signal" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "2024-01-02,1,2,0.5,1.5,,False,False" {
		t.Errorf("row 1 = %q", lines[1])
	}
	if lines[2] != "2024-01-03,2,3,1,2.5,2,True,False" {
		t.Errorf("row 2 = %q", lines[2])
	}
}

func TestSQLiteStoreRuns(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	run := sampleRun()
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	// A second run without an id gets one assigned.
	other := sampleRun()
	other.ID = ""
	other.CreatedAt = date(2024, 3, 1)
	if err := s.SaveRun(ctx, other); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if other.ID == "" {
		t.Fatal("SaveRun did not assign an id")
	}

	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListRuns returned %d runs, want 2", len(runs))
	}
	if runs[0].ID != other.ID {
		t.Errorf("newest run = %s, want %s", runs[0].ID, other.ID)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.FinalTotal != 10000 {
		t.Errorf("FinalTotal = %d, want 10000", got.FinalTotal)
	}
	if len(got.Symbols) != 2 || got.Symbols[1] != "MSFT" {
		t.Errorf("Symbols = %v", got.Symbols)
	}
	if !got.Start.Equal(date(2024, 1, 2)) {
		t.Errorf("Start = %v", got.Start)
	}
	if !math.IsNaN(got.Evaluation.SharpeRatio) {
		t.Errorf("SharpeRatio = %v, want NaN", got.Evaluation.SharpeRatio)
	}

	rows, err := s.Rows(ctx, "run-1")
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if len(rows) != 2 || rows[1].Holdings["AAPL"] != 7 || rows[1].Marks["AAPL"] != 50 {
		t.Errorf("Rows = %+v", rows)
	}

	trades, err := s.Trades(ctx, "run-1")
	if err != nil {
		t.Fatalf("Trades: %v", err)
	}
	if len(trades) != 1 || trades[0].Side != domain.SideBuy || trades[0].Qty != 7 {
		t.Errorf("Trades = %+v", trades)
	}

	if _, err := s.GetRun(ctx, "nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun(nope) err = %v, want ErrRunNotFound", err)
	}
}

func TestFactories(t *testing.T) {
	if _, err := NewRunSaver("xml", "/tmp"); err == nil {
		t.Error("NewRunSaver(xml) should fail")
	}
	rs, err := NewRunSaver("CSV", "/tmp")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := rs.(*CSVStore); !ok {
		t.Errorf("NewRunSaver(CSV) = %T, want *CSVStore", rs)
	}
	bs, err := NewBarSource("", "/tmp")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := bs.(*ParquetStore); !ok {
		t.Errorf("NewBarSource(\"\") = %T, want *ParquetStore", bs)
	}
}
