// Package store defines storage interfaces for raw bars and backtest runs and
// provides Parquet, CSV and SQLite implementations.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bandwagon/internal/domain"
)

// BarSource is what a backtest reads daily bars from.
type BarSource interface {
	// ReadBars returns bars for symbol dated within [start, end].
	ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available.
	ListSymbols(ctx context.Context) ([]string, error)
}

// BarStore is a BarSource that can also be written to.
type BarStore interface {
	BarSource

	// WriteBars persists a batch of bars, merging with what is stored.
	WriteBars(ctx context.Context, bars []domain.Bar) error
}

// Run is a completed backtest as handed to persistence.
type Run struct {
	ID             string
	CreatedAt      time.Time
	SignalMode     string
	Sizing         string
	Start          time.Time
	End            time.Time
	BeginningValue float64
	Symbols        []string
	Rows           []domain.Row
	Trades         []domain.Trade
	Evaluation     domain.Evaluation
}

// RunSaver persists a completed run.
type RunSaver interface {
	SaveRun(ctx context.Context, run *Run) error
}

// SeriesSaver persists indicator-enriched instrument series.
type SeriesSaver interface {
	SaveSeries(ctx context.Context, series []*domain.Series) error
}

// NewRunSaver returns the file-based RunSaver for format ("csv" or
// "parquet") rooted at dir.
func NewRunSaver(format, dir string) (RunSaver, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "csv":
		return NewCSVStore(dir), nil
	case "parquet", "":
		return NewParquetStore(dir), nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

// NewBarSource returns the BarSource for kind ("csv" or "parquet").
func NewBarSource(kind, dir string) (BarSource, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "csv":
		return NewCSVStore(dir), nil
	case "parquet", "":
		return NewParquetStore(dir), nil
	default:
		return nil, fmt.Errorf("unsupported bar source %q", kind)
	}
}

// inRange reports whether t lies within [start, end] by calendar date.
func inRange(t, start, end time.Time) bool {
	d := domain.Day(t)
	return !d.Before(domain.Day(start)) && !d.After(domain.Day(end))
}
