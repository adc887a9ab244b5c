package formatters

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/TruWeaveTrader/plat-ibkr/internal/models"
)

const bannerWidth = 50

// RenderText writes the human-readable report: account summary, positions
// and market data sections, each with a placeholder line when empty.
func RenderText(out io.Writer, report *models.Report, opts Options) error {
	w := bufio.NewWriter(out)

	banner(w, "ACCOUNT SUMMARY")
	if len(report.AccountSummary) == 0 {
		fmt.Fprintln(w, "  (no data)")
	}
	for _, row := range report.AccountSummary {
		if row.Currency == "" {
			fmt.Fprintf(w, "  %s: %s = %s\n", row.Account, row.Tag, row.Value)
		} else {
			fmt.Fprintf(w, "  %s: %s = %s %s\n", row.Account, row.Tag, row.Value, row.Currency)
		}
	}
	fmt.Fprintln(w)

	banner(w, "POSITIONS")
	if len(report.Positions) == 0 {
		fmt.Fprintln(w, "  (no data)")
	} else {
		indent(w, positionsTable(report.Positions))
	}
	fmt.Fprintln(w)

	banner(w, "MARKET DATA: "+opts.Symbol)
	switch {
	case len(report.MarketData) > 0:
		indent(w, marketDataTable(report.MarketData))
	case !opts.MarketDataRequested:
		fmt.Fprintln(w, "  (no data - market data not requested)")
	default:
		fmt.Fprintln(w, "  (no data - may need market data subscription)")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Done!")

	return w.Flush()
}

func banner(w io.Writer, title string) {
	rule := text.RepeatAndTrim("=", bannerWidth)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, rule)
}

// positionsTable creates the positions table
func positionsTable(rows []models.PositionRow) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)

	t.AppendHeader(table.Row{"Account", "Symbol", "Position", "Avg Cost", "Value"})
	for _, row := range rows {
		t.AppendRow(table.Row{
			row.Account,
			row.Symbol,
			fmt.Sprintf("%.2f", row.Position),
			fmt.Sprintf("$%.2f", row.AverageCost),
			fmt.Sprintf("$%.2f", row.MarketValue),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})

	return t.Render()
}

// marketDataTable creates the snapshot table, one row per tick
func marketDataTable(rows []models.MarketDataRow) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)

	t.AppendHeader(table.Row{"Tick", "Value"})
	for _, row := range rows {
		t.AppendRow(table.Row{row.TickType, fmt.Sprintf("%.2f", row.Value)})
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})

	return t.Render()
}

// indent writes a rendered table under a section banner
func indent(w io.Writer, rendered string) {
	for _, line := range strings.Split(rendered, "\n") {
		fmt.Fprintf(w, "  %s\n", line)
	}
}
