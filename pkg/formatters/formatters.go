package formatters

import (
	"fmt"
	"io"
	"strings"

	"github.com/TruWeaveTrader/plat-ibkr/internal/models"
)

// Format selects the report serialization
type Format string

const (
	Text Format = "text"
	JSON Format = "json"
	CSV  Format = "csv"
)

// Formats lists the supported formats in flag help order
var Formats = []Format{Text, JSON, CSV}

// ParseFormat converts a user-supplied name into a Format
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown format %q (expected one of %s)", s, formatList())
}

// String implements pflag.Value
func (f *Format) String() string { return string(*f) }

// Set implements pflag.Value
func (f *Format) Set(s string) error {
	parsed, err := ParseFormat(s)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Type implements pflag.Value
func (f *Format) Type() string { return "format" }

func formatList() string {
	names := make([]string, len(Formats))
	for i, f := range Formats {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

// Options carries the run details the text layout shows
type Options struct {
	Symbol              string
	MarketDataRequested bool
}

// Render writes report to out in the given format. side receives text that
// must stay out of the data stream (CSV section labels). The caller's
// report is left as it was.
func Render(format Format, report *models.Report, out, side io.Writer, opts Options) error {
	normalized := *report
	normalized.Normalize()
	report = &normalized

	switch format {
	case Text:
		return RenderText(out, report, opts)
	case JSON:
		return RenderJSON(out, report)
	case CSV:
		return RenderCSV(out, side, report)
	}
	return fmt.Errorf("unknown format %q", format)
}
