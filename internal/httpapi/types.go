// Package httpapi provides a read-only HTTP JSON API over recorded backtest
// runs: summaries, metrics, timelines and trades.
package httpapi

import (
	"math"

	"bandwagon/internal/domain"
	"bandwagon/internal/store"
)

// MetricsJSON is the JSON representation of run metrics. Undefined metrics
// are null.
type MetricsJSON struct {
	TotalReturn      *float64 `json:"totalReturn"`
	AnnualReturn     *float64 `json:"annualReturn"`
	AnnualVolatility *float64 `json:"annualVolatility"`
	SharpeRatio      *float64 `json:"sharpeRatio"`
	SortinoRatio     *float64 `json:"sortinoRatio"`
	MaxDrawdown      *float64 `json:"maxDrawdown"`
}

// RunJSON is one recorded run.
type RunJSON struct {
	ID             string      `json:"id"`
	CreatedAt      string      `json:"createdAt"`
	SignalMode     string      `json:"signalMode"`
	Sizing         string      `json:"sizing"`
	Start          string      `json:"start"`
	End            string      `json:"end"`
	BeginningValue float64     `json:"beginningValue"`
	FinalTotal     int64       `json:"finalTotal"`
	Symbols        []string    `json:"symbols"`
	Metrics        MetricsJSON `json:"metrics"`
}

// RunsResponse is the response for GET /api/runs.
type RunsResponse struct {
	Runs []RunJSON `json:"runs"`
}

// PositionJSON is one instrument's holding on a timeline row.
type PositionJSON struct {
	Shares int64   `json:"shares"`
	Price  float64 `json:"price"`
}

// RowJSON is one finalized timeline row.
type RowJSON struct {
	Date         string                  `json:"date"`
	Cash         int64                   `json:"cash"`
	HoldingValue int64                   `json:"holdingValue"`
	Total        int64                   `json:"total"`
	Positions    map[string]PositionJSON `json:"positions,omitempty"`
}

// TimelineResponse is the response for GET /api/runs/{id}/timeline.
type TimelineResponse struct {
	ID   string    `json:"id"`
	Rows []RowJSON `json:"rows"`
}

// TradeJSON is one executed fill.
type TradeJSON struct {
	Date      string  `json:"date"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Qty       int64   `json:"qty"`
	Price     float64 `json:"price"`
	CashAfter float64 `json:"cashAfter"`
}

// TradesResponse is the response for GET /api/runs/{id}/trades.
type TradesResponse struct {
	ID     string      `json:"id"`
	Trades []TradeJSON `json:"trades"`
}

// ModesResponse is the response for GET /api/modes.
type ModesResponse struct {
	Modes []string `json:"modes"`
}

func runToJSON(r store.RunSummary) RunJSON {
	symbols := r.Symbols
	if symbols == nil {
		symbols = []string{}
	}
	return RunJSON{
		ID:             r.ID,
		CreatedAt:      r.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		SignalMode:     r.SignalMode,
		Sizing:         r.Sizing,
		Start:          domain.DateKey(r.Start),
		End:            domain.DateKey(r.End),
		BeginningValue: r.BeginningValue,
		FinalTotal:     r.FinalTotal,
		Symbols:        symbols,
		Metrics: MetricsJSON{
			TotalReturn:      num(r.Evaluation.TotalReturn),
			AnnualReturn:     num(r.Evaluation.AnnualReturn),
			AnnualVolatility: num(r.Evaluation.AnnualVolatility),
			SharpeRatio:      num(r.Evaluation.SharpeRatio),
			SortinoRatio:     num(r.Evaluation.SortinoRatio),
			MaxDrawdown:      num(r.Evaluation.MaxDrawdown),
		},
	}
}

func rowToJSON(r domain.Row) RowJSON {
	out := RowJSON{
		Date:         domain.DateKey(r.Date),
		Cash:         r.Cash,
		HoldingValue: r.HoldingValue,
		Total:        r.Total,
	}
	if len(r.Holdings) > 0 {
		out.Positions = make(map[string]PositionJSON, len(r.Holdings))
		for sym, shares := range r.Holdings {
			price := r.Marks[sym]
			if math.IsNaN(price) {
				price = 0
			}
			out.Positions[sym] = PositionJSON{Shares: shares, Price: price}
		}
	}
	return out
}

func tradeToJSON(t domain.Trade) TradeJSON {
	return TradeJSON{
		Date:      domain.DateKey(t.Date),
		Symbol:    t.Symbol,
		Side:      string(t.Side),
		Qty:       t.Qty,
		Price:     t.Price,
		CashAfter: t.CashAfter,
	}
}

// num maps NaN and ±Inf to null.
func num(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
