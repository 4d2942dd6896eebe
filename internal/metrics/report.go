package metrics

import (
	"fmt"
	"io"
	"text/tabwriter"

	"bandwagon/internal/domain"
)

// WriteSummary prints the evaluation metrics, one per line, with four
// decimals.
func WriteSummary(w io.Writer, ev domain.Evaluation) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	for _, m := range []struct {
		name  string
		value float64
	}{
		{"Total Return", ev.TotalReturn},
		{"Annual Return", ev.AnnualReturn},
		{"Annual Volatility", ev.AnnualVolatility},
		{"Sharpe Ratio", ev.SharpeRatio},
		{"Sortino Ratio", ev.SortinoRatio},
		{"Max Drawdown", ev.MaxDrawdown},
	} {
		if _, err := fmt.Fprintf(tw, "%s:\t%.4f\n", m.name, m.value); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// WriteRow prints one finalized timeline row: shares and mark per symbol,
// then cash, holding value and total.
func WriteRow(w io.Writer, symbols []string, r domain.Row) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	fmt.Fprintf(tw, "Date:\t%s\n", domain.DateKey(r.Date))
	for _, sym := range symbols {
		fmt.Fprintf(tw, "%s Shares:\t%d\n", sym, r.Holdings[sym])
		fmt.Fprintf(tw, "%s Price:\t%.2f\n", sym, r.Marks[sym])
	}
	fmt.Fprintf(tw, "Cash Value:\t%d\n", r.Cash)
	fmt.Fprintf(tw, "Holding Value:\t%d\n", r.HoldingValue)
	fmt.Fprintf(tw, "Total:\t%d\n", r.Total)
	return tw.Flush()
}
