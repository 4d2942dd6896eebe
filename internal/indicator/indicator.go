// Package indicator computes the technical indicators the strategy reads:
// Bollinger Bands, RSI, ATR and MACD. Every function returns a column
// aligned with its input where undefined entries (warm-up) are NaN.
package indicator

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// ErrInvalidParams is returned for non-positive windows, spans or band
// multipliers.
var ErrInvalidParams = errors.New("invalid indicator parameters")

// RollingMean returns the simple moving average of vals over window.
// Windows containing NaN yield NaN.
func RollingMean(vals []float64, window int) []float64 {
	return rolling(vals, window, func(w []float64) float64 {
		return stat.Mean(w, nil)
	})
}

// RollingStd returns the sample standard deviation (n-1 denominator) of vals
// over window.
func RollingStd(vals []float64, window int) []float64 {
	return rolling(vals, window, func(w []float64) float64 {
		if len(w) < 2 {
			return math.NaN()
		}
		return stat.StdDev(w, nil)
	})
}

func rolling(vals []float64, window int, fn func([]float64) float64) []float64 {
	out := nanSlice(len(vals))
	if window <= 0 {
		return out
	}
	for i := window - 1; i < len(vals); i++ {
		w := vals[i-window+1 : i+1]
		if hasNaN(w) {
			continue
		}
		out[i] = fn(w)
	}
	return out
}

// EMA returns the recursive exponential moving average with the given span:
// alpha = 2/(span+1), seeded with the first value, no bias adjustment. NaN
// inputs before the first defined value are skipped.
func EMA(vals []float64, span int) []float64 {
	out := nanSlice(len(vals))
	if span <= 0 {
		return out
	}
	alpha := 2.0 / (float64(span) + 1.0)
	prev := math.NaN()
	for i, v := range vals {
		switch {
		case math.IsNaN(v):
			out[i] = prev
			continue
		case math.IsNaN(prev):
			prev = v
		default:
			prev = alpha*v + (1-alpha)*prev
		}
		out[i] = prev
	}
	return out
}

// Bands holds the Bollinger columns.
type Bands struct {
	SMA, STD       []float64
	Upper, Lower   []float64
	Upper2, Lower2 []float64
}

// Bollinger computes SMA ± k·STD and the outer SMA ± 2k·STD bands.
func Bollinger(closes []float64, window int, k float64) Bands {
	b := Bands{
		SMA:    RollingMean(closes, window),
		STD:    RollingStd(closes, window),
		Upper:  make([]float64, len(closes)),
		Lower:  make([]float64, len(closes)),
		Upper2: make([]float64, len(closes)),
		Lower2: make([]float64, len(closes)),
	}
	for i := range closes {
		sma, sd := b.SMA[i], b.STD[i]
		b.Upper[i] = sma + k*sd
		b.Lower[i] = sma - k*sd
		b.Upper2[i] = sma + 2*k*sd
		b.Lower2[i] = sma - 2*k*sd
	}
	return b
}

// RSI computes the simple-average Relative Strength Index. When the average
// loss is zero the index saturates at 100.
func RSI(closes []float64, window int) []float64 {
	gain := nanSlice(len(closes))
	loss := nanSlice(len(closes))
	for i := 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		gain[i] = math.Max(d, 0)
		loss[i] = math.Max(-d, 0)
	}

	avgGain := RollingMean(gain, window)
	avgLoss := RollingMean(loss, window)

	out := nanSlice(len(closes))
	for i := range closes {
		g, l := avgGain[i], avgLoss[i]
		if math.IsNaN(g) || math.IsNaN(l) {
			continue
		}
		if l == 0 {
			out[i] = 100
			continue
		}
		out[i] = 100 - 100/(1+g/l)
	}
	return out
}

// TrueRange returns max(h-l, |h-prevClose|, |l-prevClose|). The first entry
// has no previous close and is NaN.
func TrueRange(highs, lows, closes []float64) []float64 {
	out := nanSlice(len(closes))
	for i := 1; i < len(closes); i++ {
		pc := closes[i-1]
		out[i] = math.Max(highs[i]-lows[i], math.Max(math.Abs(highs[i]-pc), math.Abs(lows[i]-pc)))
	}
	return out
}

// ATR is the rolling mean of the true range.
func ATR(tr []float64, window int) []float64 {
	return RollingMean(tr, window)
}

// MACDLines holds the MACD columns.
type MACDLines struct {
	ShortEMA, LongEMA []float64
	MACD, Signal      []float64
}

// MACD computes shortEMA - longEMA and its signal-span EMA.
func MACD(closes []float64, short, long, signal int) MACDLines {
	m := MACDLines{
		ShortEMA: EMA(closes, short),
		LongEMA:  EMA(closes, long),
		MACD:     make([]float64, len(closes)),
	}
	for i := range closes {
		m.MACD[i] = m.ShortEMA[i] - m.LongEMA[i]
	}
	m.Signal = EMA(m.MACD, signal)
	return m
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func hasNaN(vals []float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

func positive(name string, v int) error {
	if v <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidParams, name, v)
	}
	return nil
}
