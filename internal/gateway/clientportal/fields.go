package clientportal

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"unicode"

	"github.com/TruWeaveTrader/plat-ibkr/internal/gateway"
)

type fieldKind int

const (
	priceField fieldKind = iota
	sizeField
)

// marketField maps a streaming field id onto a gateway tick
type marketField struct {
	ID   string
	Tick gateway.TickType
	Kind fieldKind

	// Pair is the size field reported together with a price field
	Pair     string
	PairTick gateway.TickType
}

// snapshotFields are requested on every snapshot; prices come before the
// sizes they pair with.
var snapshotFields = []marketField{
	{ID: "84", Tick: gateway.TickBid, Kind: priceField, Pair: "88", PairTick: gateway.TickBidSize},
	{ID: "86", Tick: gateway.TickAsk, Kind: priceField, Pair: "85", PairTick: gateway.TickAskSize},
	{ID: "31", Tick: gateway.TickLast, Kind: priceField, Pair: "7059", PairTick: gateway.TickLastSize},
	{ID: "88", Tick: gateway.TickBidSize, Kind: sizeField},
	{ID: "85", Tick: gateway.TickAskSize, Kind: sizeField},
	{ID: "7059", Tick: gateway.TickLastSize, Kind: sizeField},
	{ID: "70", Tick: gateway.TickHigh, Kind: priceField},
	{ID: "71", Tick: gateway.TickLow, Kind: priceField},
	{ID: "7295", Tick: gateway.TickOpen, Kind: priceField},
	{ID: "7296", Tick: gateway.TickClose, Kind: priceField},
	{ID: "7762", Tick: gateway.TickVolume, Kind: sizeField},
}

// availabilityField reports real-time vs delayed vs unsubscribed data
const availabilityField = "6509"

var errEmptyValue = errors.New("empty field value")

func fieldIDs() []string {
	ids := make([]string, 0, len(snapshotFields)+1)
	for _, f := range snapshotFields {
		ids = append(ids, f.ID)
	}
	return append(ids, availabilityField)
}

// parseValue reads a numeric field. The gateway prefixes some values with
// a marker letter ("C" for prior close, "H" for halted) and groups
// thousands with commas.
func parseValue(s string) (float64, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	s = strings.TrimLeftFunc(s, unicode.IsLetter)
	if s == "" {
		return 0, errEmptyValue
	}
	return strconv.ParseFloat(s, 64)
}

// rawText returns a field value as text whether it was sent as a JSON
// string or number
func rawText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// tickMessages converts one streaming update into ticks. Each field is
// reported at most once per snapshot; seen tracks what was already sent.
// Only a numeric value marks a field seen: the gateway fills fields in
// over several updates and may send placeholders first. Empty placeholders
// are dropped, other text is passed on as a TickString.
func tickMessages(update map[string]json.RawMessage, seen map[string]bool) []gateway.TickMessage {
	values := make(map[string]string, len(update))
	for id, raw := range update {
		values[id] = rawText(raw)
	}

	var ticks []gateway.TickMessage
	for _, f := range snapshotFields {
		text, ok := values[f.ID]
		if !ok || seen[f.ID] {
			continue
		}

		value, err := parseValue(text)
		if errors.Is(err, errEmptyValue) {
			continue
		}
		if err != nil {
			ticks = append(ticks, gateway.TickString{TickType: f.Tick, Value: text})
			continue
		}
		seen[f.ID] = true

		switch f.Kind {
		case priceField:
			if f.Pair != "" && !seen[f.Pair] {
				if sizeText, ok := values[f.Pair]; ok {
					if size, err := parseValue(sizeText); err == nil {
						ticks = append(ticks, gateway.TickPriceSize{
							PriceTickType: f.Tick,
							Price:         value,
							SizeTickType:  f.PairTick,
							Size:          size,
						})
						continue
					}
				}
			}
			ticks = append(ticks, gateway.TickPrice{TickType: f.Tick, Price: value})
		case sizeField:
			ticks = append(ticks, gateway.TickSize{TickType: f.Tick, Size: value})
		}
	}

	if text, ok := values[availabilityField]; ok && !seen[availabilityField] {
		seen[availabilityField] = true
		ticks = append(ticks, gateway.TickNotice{Code: availabilityField, Message: text})
	}

	return ticks
}

// snapshotComplete reports whether every requested field has been seen
func snapshotComplete(seen map[string]bool) bool {
	for _, f := range snapshotFields {
		if !seen[f.ID] {
			return false
		}
	}
	return true
}
