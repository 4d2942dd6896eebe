package indicator

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"bandwagon/internal/domain"
)

const eps = 1e-9

func almostEqual(a, b float64) bool { return math.Abs(a-b) < eps }

// alternating returns n closes starting at 100 that go +2, -1, +2, -1, ...
func alternating(n int) []float64 {
	closes := make([]float64, n)
	closes[0] = 100
	for i := 1; i < n; i++ {
		if i%2 == 1 {
			closes[i] = closes[i-1] + 2
		} else {
			closes[i] = closes[i-1] - 1
		}
	}
	return closes
}

func TestRSIAlternatingPattern(t *testing.T) {
	closes := alternating(25)
	rsi := RSI(closes, 20)

	for i := 0; i < 20; i++ {
		if !math.IsNaN(rsi[i]) {
			t.Errorf("rsi[%d] = %v, want NaN during warm-up", i, rsi[i])
		}
	}

	// Closed form over deltas 1..20.
	var gain, loss float64
	for i := 1; i <= 20; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	rs := (gain / 20) / (loss / 20)
	want := 100 - 100/(1+rs)

	if !almostEqual(rsi[20], want) {
		t.Errorf("rsi[20] = %v, want %v", rsi[20], want)
	}
	if !almostEqual(rsi[20], 100-100.0/3) {
		t.Errorf("rsi[20] = %v, want 66.67", rsi[20])
	}
}

func TestRSISaturatesWithoutLosses(t *testing.T) {
	closes := make([]float64, 10)
	for i := range closes {
		closes[i] = float64(100 + i)
	}
	rsi := RSI(closes, 5)
	if rsi[5] != 100 || rsi[9] != 100 {
		t.Errorf("rsi = %v, want 100 once defined", rsi)
	}
}

func TestBollinger(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = float64(i + 1)
	}
	bb := Bollinger(closes, 20, 2)

	if !math.IsNaN(bb.SMA[18]) || !math.IsNaN(bb.Lower[18]) {
		t.Errorf("bands defined before window filled: sma=%v lower=%v", bb.SMA[18], bb.Lower[18])
	}
	if !almostEqual(bb.SMA[19], 10.5) {
		t.Errorf("SMA[19] = %v, want 10.5", bb.SMA[19])
	}
	sd := math.Sqrt(35) // sample std of 1..20
	if !almostEqual(bb.STD[19], sd) {
		t.Errorf("STD[19] = %v, want %v", bb.STD[19], sd)
	}
	if !almostEqual(bb.Upper[19], 10.5+2*sd) || !almostEqual(bb.Lower[19], 10.5-2*sd) {
		t.Errorf("inner bands = %v/%v", bb.Upper[19], bb.Lower[19])
	}
	if !almostEqual(bb.Upper2[19], 10.5+4*sd) || !almostEqual(bb.Lower2[19], 10.5-4*sd) {
		t.Errorf("outer bands = %v/%v", bb.Upper2[19], bb.Lower2[19])
	}
}

func TestTrueRangeAndATR(t *testing.T) {
	n := 20
	highs, lows, closes := make([]float64, n), make([]float64, n), make([]float64, n)
	for i := 0; i < n; i++ {
		highs[i], lows[i], closes[i] = 11, 9, 10
	}
	// A gap up: |high - prevClose| dominates.
	highs[5], lows[5], closes[5] = 15, 14, 14.5

	tr := TrueRange(highs, lows, closes)
	if !math.IsNaN(tr[0]) {
		t.Errorf("tr[0] = %v, want NaN", tr[0])
	}
	if tr[1] != 2 {
		t.Errorf("tr[1] = %v, want 2", tr[1])
	}
	if tr[5] != 5 {
		t.Errorf("tr[5] = %v, want 5", tr[5])
	}
	if tr[6] != 5.5 { // |low - prevClose| = |9 - 14.5|
		t.Errorf("tr[6] = %v, want 5.5", tr[6])
	}

	atr := ATR(tr, 14)
	if !math.IsNaN(atr[13]) {
		t.Errorf("atr[13] = %v, want NaN", atr[13])
	}
	want := (12*2.0 + 5 + 5.5) / 14
	if !almostEqual(atr[14], want) {
		t.Errorf("atr[14] = %v, want %v", atr[14], want)
	}
}

func TestEMAAndMACD(t *testing.T) {
	ema := EMA([]float64{1, 2, 3}, 3)
	if ema[0] != 1 || ema[1] != 1.5 || ema[2] != 2.25 {
		t.Errorf("EMA = %v, want [1 1.5 2.25]", ema)
	}

	flat := []float64{10, 10, 10, 10, 10}
	m := MACD(flat, 12, 26, 9)
	for i := range flat {
		if m.MACD[i] != 0 || m.Signal[i] != 0 {
			t.Errorf("flat MACD[%d] = %v signal %v, want 0", i, m.MACD[i], m.Signal[i])
		}
	}
}

func series(symbol string, closes []float64) *domain.Series {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.PriceBar, len(closes))
	for i, c := range closes {
		bars[i] = domain.PriceBar{Date: start.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c}
	}
	return domain.NewSeries(symbol, bars)
}

func TestComputeAll(t *testing.T) {
	a := series("AAPL", alternating(40))
	b := series("MSFT", alternating(30))

	p := DefaultParams()
	p.WithMACD = true
	p.Workers = 1
	if err := ComputeAll(context.Background(), []*domain.Series{a, b}, p); err != nil {
		t.Fatalf("ComputeAll: %v", err)
	}

	for _, s := range []*domain.Series{a, b} {
		if len(s.SMA) != s.Len() || len(s.RSI) != s.Len() || len(s.ATR) != s.Len() || len(s.MACD) != s.Len() {
			t.Errorf("%s: column lengths do not match %d bars", s.Symbol, s.Len())
		}
		if math.IsNaN(s.RSI[25]) {
			t.Errorf("%s: RSI[25] undefined", s.Symbol)
		}
	}
}

func TestComputeWithoutMACD(t *testing.T) {
	s := series("AAPL", alternating(30))
	if err := Compute(s, DefaultParams()); err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if s.MACD != nil || s.SignalLine != nil {
		t.Error("MACD columns computed although WithMACD is false")
	}
}

func TestComputeInvalidParams(t *testing.T) {
	p := DefaultParams()
	p.RSIWindow = 0
	err := ComputeAll(context.Background(), []*domain.Series{series("AAPL", alternating(30))}, p)
	if !errors.Is(err, ErrInvalidParams) {
		t.Errorf("ComputeAll error = %v, want ErrInvalidParams", err)
	}

	p = DefaultParams()
	p.BollingerK = -1
	if err := p.Validate(); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("Validate error = %v, want ErrInvalidParams", err)
	}
}
