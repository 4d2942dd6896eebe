package indicator

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"bandwagon/internal/domain"
)

// Params holds the indicator windows. MACD is only computed when WithMACD
// is set.
type Params struct {
	BollingerWindow int
	BollingerK      float64
	RSIWindow       int
	ATRWindow       int
	MACDShort       int
	MACDLong        int
	MACDSignal      int
	WithMACD        bool

	// Workers bounds ComputeAll's concurrency; <= 0 means one goroutine
	// per series.
	Workers int
}

// DefaultParams returns Bollinger(20, 2), RSI(20), ATR(14), MACD(12, 26, 9).
func DefaultParams() Params {
	return Params{
		BollingerWindow: 20,
		BollingerK:      2,
		RSIWindow:       20,
		ATRWindow:       14,
		MACDShort:       12,
		MACDLong:        26,
		MACDSignal:      9,
	}
}

// Validate reports the first non-positive window or multiplier.
func (p Params) Validate() error {
	if err := positive("bollinger window", p.BollingerWindow); err != nil {
		return err
	}
	if p.BollingerK <= 0 {
		return fmt.Errorf("%w: bollinger k must be positive, got %v", ErrInvalidParams, p.BollingerK)
	}
	if err := positive("rsi window", p.RSIWindow); err != nil {
		return err
	}
	if err := positive("atr window", p.ATRWindow); err != nil {
		return err
	}
	if !p.WithMACD {
		return nil
	}
	if err := positive("macd short span", p.MACDShort); err != nil {
		return err
	}
	if err := positive("macd long span", p.MACDLong); err != nil {
		return err
	}
	return positive("macd signal span", p.MACDSignal)
}

// Compute appends indicator columns to s. It is a pure function of the bars
// and p; existing columns are overwritten.
func Compute(s *domain.Series, p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}

	n := s.Len()
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, b := range s.Bars {
		closes[i], highs[i], lows[i] = b.Close, b.High, b.Low
	}

	bb := Bollinger(closes, p.BollingerWindow, p.BollingerK)
	s.SMA, s.STD = bb.SMA, bb.STD
	s.Upper, s.Lower = bb.Upper, bb.Lower
	s.Upper2, s.Lower2 = bb.Upper2, bb.Lower2

	s.RSI = RSI(closes, p.RSIWindow)

	s.TR = TrueRange(highs, lows, closes)
	s.ATR = ATR(s.TR, p.ATRWindow)

	if p.WithMACD {
		m := MACD(closes, p.MACDShort, p.MACDLong, p.MACDSignal)
		s.ShortEMA, s.LongEMA = m.ShortEMA, m.LongEMA
		s.MACD, s.SignalLine = m.MACD, m.Signal
	}
	return nil
}

// ComputeAll runs Compute for every series concurrently. Each goroutine owns
// exactly one series, so no locking is needed.
func ComputeAll(ctx context.Context, series []*domain.Series, p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if p.Workers > 0 {
		g.SetLimit(p.Workers)
	}
	for _, s := range series {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := Compute(s, p); err != nil {
				return fmt.Errorf("computing indicators for %s: %w", s.Symbol, err)
			}
			return nil
		})
	}
	return g.Wait()
}
