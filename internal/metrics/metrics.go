// Package metrics evaluates a finalized portfolio timeline: total and annual
// return, annualised volatility, Sharpe and Sortino ratios and maximum
// drawdown. All functions read the Total column only.
package metrics

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"bandwagon/internal/domain"
)

// TradingDaysPerYear annualises daily volatility.
const TradingDaysPerYear = 252

// Evaluate computes every metric over rows. riskFree is the daily risk-free
// rate aligned with the daily returns (len(rows)-1 entries); a shorter
// series is padded with its last value and an empty one counts as zero.
// Metrics that cannot be computed are NaN.
func Evaluate(rows []domain.Row, riskFree []float64) domain.Evaluation {
	totals := domain.Totals(rows)
	var first, last time.Time
	if len(rows) > 0 {
		first, last = rows[0].Date, rows[len(rows)-1].Date
	}
	returns := DailyReturns(totals)
	rf := align(riskFree, len(returns))

	return domain.Evaluation{
		TotalReturn:      TotalReturn(totals),
		AnnualReturn:     AnnualReturn(totals, last.Sub(first)),
		AnnualVolatility: AnnualVolatility(returns),
		SharpeRatio:      Sharpe(returns, rf),
		SortinoRatio:     Sortino(returns, rf),
		MaxDrawdown:      MaxDrawdown(totals),
	}
}

// ConstantRate returns n copies of rate, the risk-free series used when no
// per-day series is supplied.
func ConstantRate(rate float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = rate
	}
	return out
}

// DailyReturns returns the percentage change between consecutive totals.
// A change from zero is NaN.
func DailyReturns(totals []float64) []float64 {
	if len(totals) < 2 {
		return nil
	}
	out := make([]float64, len(totals)-1)
	for i := 1; i < len(totals); i++ {
		if totals[i-1] == 0 {
			out[i-1] = math.NaN()
			continue
		}
		out[i-1] = totals[i]/totals[i-1] - 1
	}
	return out
}

// TotalReturn is (last-first)/first in percent.
func TotalReturn(totals []float64) float64 {
	if len(totals) < 2 || totals[0] == 0 {
		return math.NaN()
	}
	return (totals[len(totals)-1] - totals[0]) / totals[0] * 100
}

// AnnualReturn compounds the total return over span measured in 365-day
// years.
func AnnualReturn(totals []float64, span time.Duration) float64 {
	years := span.Hours() / 24 / 365
	if len(totals) < 2 || totals[0] == 0 || years <= 0 {
		return math.NaN()
	}
	tr := (totals[len(totals)-1] - totals[0]) / totals[0]
	return math.Pow(1+tr, 1/years) - 1
}

// AnnualVolatility is the sample standard deviation of daily returns scaled
// by sqrt(252).
func AnnualVolatility(returns []float64) float64 {
	r := finite(returns)
	if len(r) < 2 {
		return math.NaN()
	}
	return stat.StdDev(r, nil) * math.Sqrt(TradingDaysPerYear)
}

// Sharpe is the mean excess daily return over the standard deviation of
// daily returns.
func Sharpe(returns, riskFree []float64) float64 {
	r, rf := finitePairs(returns, riskFree)
	if len(r) < 2 {
		return math.NaN()
	}
	return ratio(stat.Mean(r, nil)-stat.Mean(rf, nil), stat.StdDev(r, nil))
}

// Sortino is the mean excess daily return over the standard deviation of the
// negative daily returns.
func Sortino(returns, riskFree []float64) float64 {
	r, rf := finitePairs(returns, riskFree)
	var downside []float64
	for _, v := range r {
		if v < 0 {
			downside = append(downside, v)
		}
	}
	if len(r) == 0 || len(downside) < 2 {
		return math.NaN()
	}
	return ratio(stat.Mean(r, nil)-stat.Mean(rf, nil), stat.StdDev(downside, nil))
}

// MaxDrawdown is the most negative value of total/running-peak - 1, zero or
// below.
func MaxDrawdown(totals []float64) float64 {
	if len(totals) == 0 {
		return math.NaN()
	}
	peak := math.Inf(-1)
	worst := 0.0
	for _, v := range totals {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			worst = math.Min(worst, v/peak-1)
		}
	}
	return worst
}

func ratio(num, den float64) float64 {
	if den == 0 || math.IsNaN(den) {
		return math.NaN()
	}
	return num / den
}

func align(rf []float64, n int) []float64 {
	out := make([]float64, n)
	last := 0.0
	for i := range out {
		if i < len(rf) {
			last = rf[i]
		}
		out[i] = last
	}
	return out
}

func finite(vals []float64) []float64 {
	out := make([]float64, 0, len(vals))
	for _, v := range vals {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

// finitePairs drops days whose return is undefined, keeping the risk-free
// series aligned.
func finitePairs(returns, rf []float64) ([]float64, []float64) {
	r := make([]float64, 0, len(returns))
	f := make([]float64, 0, len(returns))
	for i, v := range returns {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		r = append(r, v)
		if i < len(rf) {
			f = append(f, rf[i])
		} else {
			f = append(f, 0)
		}
	}
	return r, f
}
