package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Timeline is the result of a simulation run: one state per calendar day,
// in ascending date order, plus every trade executed along the way.
type Timeline struct {
	Symbols []string
	States  []PortfolioState
	Trades  []Trade
}

// Last returns the terminal state. It panics on an empty timeline.
func (tl *Timeline) Last() PortfolioState {
	return tl.States[len(tl.States)-1]
}

// Row is a finalized timeline entry for external consumption. Monetary
// totals and share counts are truncated to whole units; marks keep two
// decimals.
type Row struct {
	Date         time.Time
	Cash         int64
	HoldingValue int64
	Total        int64
	Holdings     map[string]int64
	Marks        map[string]float64
}

// Finalize converts the full-precision states into output rows. The
// timeline itself is left untouched.
func (tl *Timeline) Finalize() []Row {
	rows := make([]Row, len(tl.States))
	for i, st := range tl.States {
		r := Row{
			Date:         st.Date,
			Cash:         wholeUnits(st.Cash),
			HoldingValue: wholeUnits(st.HoldingValue),
			Total:        wholeUnits(st.Total),
			Holdings:     make(map[string]int64, len(tl.Symbols)),
			Marks:        make(map[string]float64, len(tl.Symbols)),
		}
		for _, sym := range tl.Symbols {
			r.Holdings[sym] = st.Holdings[sym]
			r.Marks[sym] = round2(st.Marks[sym])
		}
		rows[i] = r
	}
	return rows
}

// Totals extracts the Total column of finalized rows as floats.
func Totals(rows []Row) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = float64(r.Total)
	}
	return out
}

// decimal.NewFromFloat panics on NaN and Inf.
func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func wholeUnits(v float64) int64 {
	if !finite(v) {
		return 0
	}
	return decimal.NewFromFloat(v).Truncate(0).IntPart()
}

func round2(v float64) float64 {
	if !finite(v) {
		return 0
	}
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
