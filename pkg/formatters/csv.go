package formatters

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"

	"github.com/TruWeaveTrader/plat-ibkr/internal/models"
)

type csvTable struct {
	label string
	rows  interface{}
	empty bool
}

// RenderCSV writes each non-empty collection as its own CSV table on out,
// with the section label on side. Empty collections are skipped entirely
// and tables are separated by a single blank line.
func RenderCSV(out, side io.Writer, report *models.Report) error {
	tables := []csvTable{
		{label: "# Account Summary", rows: &report.AccountSummary, empty: len(report.AccountSummary) == 0},
		{label: "# Positions", rows: &report.Positions, empty: len(report.Positions) == 0},
		{label: "# Market Data", rows: &report.MarketData, empty: len(report.MarketData) == 0},
	}

	written := 0
	for _, table := range tables {
		if table.empty {
			continue
		}

		if written > 0 {
			if _, err := fmt.Fprintln(out); err != nil {
				return fmt.Errorf("write separator: %w", err)
			}
		}
		if _, err := fmt.Fprintln(side, table.label); err != nil {
			return fmt.Errorf("write label: %w", err)
		}
		if err := gocsv.Marshal(table.rows, out); err != nil {
			return fmt.Errorf("write %s: %w", table.label[2:], err)
		}
		written++
	}

	return nil
}
