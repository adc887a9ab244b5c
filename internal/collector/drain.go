package collector

import (
	"context"

	"github.com/TruWeaveTrader/plat-ibkr/internal/gateway"
	"github.com/TruWeaveTrader/plat-ibkr/internal/models"
)

// Action tells Drain what to do with a translated message
type Action int

const (
	// Skip ignores the message
	Skip Action = iota
	// Keep appends the row
	Keep
	// Done ends the subscription
	Done
)

// Drain reads stream until translate reports Done, collecting kept rows in
// arrival order. The stream is cancelled exactly once before Drain returns,
// whether it stopped on the end marker, a closed stream or ctx.
func Drain[M, R any](ctx context.Context, stream gateway.Stream[M], translate func(M) (R, Action)) ([]R, error) {
	defer stream.Cancel()

	rows := make([]R, 0)
	for {
		msg, err := stream.Next(ctx)
		if err != nil {
			return rows, err
		}

		row, action := translate(msg)
		switch action {
		case Keep:
			rows = append(rows, row)
		case Done:
			return rows, nil
		}
	}
}

func accountSummaryRow(msg gateway.AccountSummaryMessage) (models.AccountSummaryRow, Action) {
	switch m := msg.(type) {
	case gateway.AccountSummary:
		return models.AccountSummaryRow{
			Account:  m.Account,
			Tag:      m.Tag,
			Value:    m.Value,
			Currency: m.Currency,
		}, Keep
	case gateway.AccountSummaryEnd:
		return models.AccountSummaryRow{}, Done
	}
	return models.AccountSummaryRow{}, Skip
}

func positionRow(msg gateway.PositionMessage) (models.PositionRow, Action) {
	switch m := msg.(type) {
	case gateway.Position:
		return models.NewPositionRow(m.Account, m.Contract.Symbol, m.Position, m.AverageCost), Keep
	case gateway.PositionEnd:
		return models.PositionRow{}, Done
	}
	return models.PositionRow{}, Skip
}

// marketDataRow returns a translator bound to the requested symbol
func marketDataRow(symbol string) func(gateway.TickMessage) (models.MarketDataRow, Action) {
	return func(msg gateway.TickMessage) (models.MarketDataRow, Action) {
		switch m := msg.(type) {
		case gateway.TickPrice:
			return models.MarketDataRow{Symbol: symbol, TickType: m.TickType.String(), Value: m.Price}, Keep
		case gateway.TickSize:
			return models.MarketDataRow{Symbol: symbol, TickType: m.TickType.String(), Value: m.Size}, Keep
		case gateway.TickPriceSize:
			return models.MarketDataRow{Symbol: symbol, TickType: m.PriceTickType.String(), Value: m.Price}, Keep
		case gateway.TickSnapshotEnd:
			return models.MarketDataRow{}, Done
		}
		return models.MarketDataRow{}, Skip
	}
}
