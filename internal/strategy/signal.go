package strategy

import (
	"errors"
	"fmt"
	"math"

	"bandwagon/internal/domain"
)

// ErrUnknownMode is returned for a signal filter name that is not registered.
var ErrUnknownMode = errors.New("unknown signal mode")

// ErrMissingColumns is returned when a series lacks the indicator columns a
// mode needs.
var ErrMissingColumns = errors.New("series is missing indicator columns")

// Mode selects the extra filter applied on top of the Bollinger condition.
// Exactly one mode is active per run.
type Mode int

const (
	ModeNone Mode = iota
	ModeRSI
	ModeMACD
)

// String returns the canonical config name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeRSI:
		return "rsi"
	case ModeMACD:
		return "macd"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// NeedsMACD reports whether the MACD columns must be computed.
func (m Mode) NeedsMACD() bool { return m == ModeMACD }

// ParseMode resolves a config name through the built-in registry.
func ParseMode(name string) (Mode, error) {
	return builtin.Resolve(name)
}

// Thresholds are the RSI levels used in ModeRSI.
type Thresholds struct {
	RSIBuy  float64
	RSISell float64
}

// DefaultThresholds returns buy below 40, sell above 70.
func DefaultThresholds() Thresholds {
	return Thresholds{RSIBuy: 40, RSISell: 70}
}

// Generator turns indicator columns into buy/sell flags.
type Generator struct {
	Mode       Mode
	Thresholds Thresholds
}

// Generate fills s.Buy and s.Sell under mode with default thresholds.
func Generate(s *domain.Series, mode Mode) error {
	return Generator{Mode: mode, Thresholds: DefaultThresholds()}.Generate(s)
}

// Generate fills s.Buy and s.Sell. A day whose inputs are undefined yields
// false on both sides.
//
// Buy requires Lower2 < close < Lower; sell requires Upper < close < Upper2.
// ModeRSI adds RSI < RSIBuy / RSI > RSISell. ModeMACD adds an upward cross
// (MACD above the signal line today, at or below it yesterday) for buys and
// the mirror image for sells.
func (g Generator) Generate(s *domain.Series) error {
	n := s.Len()
	if len(s.Lower) != n || len(s.Lower2) != n || len(s.Upper) != n || len(s.Upper2) != n {
		return fmt.Errorf("%w: %s has no bollinger bands", ErrMissingColumns, s.Symbol)
	}
	switch g.Mode {
	case ModeNone:
	case ModeRSI:
		if len(s.RSI) != n {
			return fmt.Errorf("%w: %s has no RSI", ErrMissingColumns, s.Symbol)
		}
	case ModeMACD:
		if len(s.MACD) != n || len(s.SignalLine) != n {
			return fmt.Errorf("%w: %s has no MACD", ErrMissingColumns, s.Symbol)
		}
	default:
		return fmt.Errorf("%w: %v", ErrUnknownMode, g.Mode)
	}

	s.Buy = make([]bool, n)
	s.Sell = make([]bool, n)
	for i, b := range s.Bars {
		c := b.Close
		buy := between(s.Lower2[i], c, s.Lower[i])
		sell := between(s.Upper[i], c, s.Upper2[i])

		switch g.Mode {
		case ModeRSI:
			buy = buy && s.RSI[i] < g.Thresholds.RSIBuy
			sell = sell && s.RSI[i] > g.Thresholds.RSISell
		case ModeMACD:
			buy = buy && crossUp(s.MACD, s.SignalLine, i)
			sell = sell && crossDown(s.MACD, s.SignalLine, i)
		}
		s.Buy[i], s.Sell[i] = buy, sell
	}
	return nil
}

// between is lo < v < hi; any NaN makes it false.
func between(lo, v, hi float64) bool {
	return lo < v && v < hi
}

func crossUp(line, sig []float64, i int) bool {
	if i == 0 || anyNaN(line[i], sig[i], line[i-1], sig[i-1]) {
		return false
	}
	return line[i] > sig[i] && line[i-1] <= sig[i-1]
}

func crossDown(line, sig []float64, i int) bool {
	if i == 0 || anyNaN(line[i], sig[i], line[i-1], sig[i-1]) {
		return false
	}
	return line[i] < sig[i] && line[i-1] >= sig[i-1]
}

func anyNaN(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
