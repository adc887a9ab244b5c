package models

// AccountSummaryRow is one account metric as reported by the gateway.
// Value stays a string: the gateway mixes amounts, percentages and enums
// under the same field.
type AccountSummaryRow struct {
	Account  string `json:"account" csv:"account"`
	Tag      string `json:"tag" csv:"tag"`
	Value    string `json:"value" csv:"value"`
	Currency string `json:"currency" csv:"currency"`
}

// PositionRow represents a held position
type PositionRow struct {
	Account     string  `json:"account" csv:"account"`
	Symbol      string  `json:"symbol" csv:"symbol"`
	Position    float64 `json:"position" csv:"position"`
	AverageCost float64 `json:"average_cost" csv:"average_cost"`
	// MarketValue is position * average cost, a notional estimate rather
	// than a live mark-to-market.
	MarketValue float64 `json:"market_value" csv:"market_value"`
}

// NewPositionRow builds a position row, deriving its market value
func NewPositionRow(account, symbol string, position, averageCost float64) PositionRow {
	return PositionRow{
		Account:     account,
		Symbol:      symbol,
		Position:    position,
		AverageCost: averageCost,
		MarketValue: position * averageCost,
	}
}

// MarketDataRow is a single tick from a market data snapshot
type MarketDataRow struct {
	Symbol   string  `json:"symbol" csv:"symbol"`
	TickType string  `json:"tick_type" csv:"tick_type"`
	Value    float64 `json:"value" csv:"value"`
}

// Report is the combined result of one run
type Report struct {
	AccountSummary []AccountSummaryRow `json:"account_summary"`
	Positions      []PositionRow       `json:"positions"`
	MarketData     []MarketDataRow     `json:"market_data"`
}

// NewReport creates a report with empty (non-nil) collections
func NewReport() *Report {
	return &Report{
		AccountSummary: []AccountSummaryRow{},
		Positions:      []PositionRow{},
		MarketData:     []MarketDataRow{},
	}
}

// Normalize replaces nil collections with empty ones so every
// serialization carries all three collections.
func (r *Report) Normalize() {
	if r.AccountSummary == nil {
		r.AccountSummary = []AccountSummaryRow{}
	}
	if r.Positions == nil {
		r.Positions = []PositionRow{}
	}
	if r.MarketData == nil {
		r.MarketData = []MarketDataRow{}
	}
}

// IsEmpty reports whether no category produced any rows
func (r *Report) IsEmpty() bool {
	return len(r.AccountSummary) == 0 && len(r.Positions) == 0 && len(r.MarketData) == 0
}
