package gather

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"bandwagon/internal/store"
	"bandwagon/internal/tracing"
)

var _ Gatherer = (*Importer)(nil)

// Importer copies bars from one source into a bar store, for example
// downloaded CSV files into the Parquet layout.
type Importer struct {
	from    store.BarSource
	to      store.BarStore
	symbols []string
	rng     DateRange
	log     *slog.Logger
}

// NewImporter creates an Importer. An empty symbols list imports every
// symbol the source lists.
func NewImporter(from store.BarSource, to store.BarStore, symbols []string, rng DateRange) *Importer {
	return &Importer{
		from:    from,
		to:      to,
		symbols: normalizeSymbols(symbols),
		rng:     rng,
		log:     slog.Default().With("gatherer", "import"),
	}
}

// Name returns the gatherer identifier.
func (im *Importer) Name() string { return "import" }

// Run copies each symbol's bars in the range. Symbols without bars are
// logged and skipped.
func (im *Importer) Run(ctx context.Context) (err error) {
	ctx, span := tracing.Start(ctx, "gather.import")
	defer func() { tracing.End(span, err) }()

	symbols := im.symbols
	if len(symbols) == 0 {
		symbols, err = im.from.ListSymbols(ctx)
		if err != nil {
			return fmt.Errorf("listing symbols: %w", err)
		}
	}

	start := time.Now()
	var total int
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		bars, err := im.from.ReadBars(ctx, sym, im.rng.Start, im.rng.End)
		if err != nil {
			return fmt.Errorf("reading %s: %w", sym, err)
		}
		if len(bars) == 0 {
			im.log.Warn("no bars to import", "symbol", sym)
			continue
		}
		if err := im.to.WriteBars(ctx, bars); err != nil {
			return fmt.Errorf("writing %s: %w", sym, err)
		}
		total += len(bars)
		im.log.Info("imported", "symbol", sym, "bars", len(bars))
	}

	span.SetAttributes(attribute.Int("symbols", len(symbols)), attribute.Int("bars", total))
	im.log.Info("import complete",
		"symbols", len(symbols),
		"bars", total,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return nil
}
