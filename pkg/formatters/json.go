package formatters

import (
	"encoding/json"
	"io"

	"github.com/TruWeaveTrader/plat-ibkr/internal/models"
)

// RenderJSON writes the whole report as one indented JSON object
func RenderJSON(out io.Writer, report *models.Report) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
