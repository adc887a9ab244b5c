// Package collector drains the gateway subscriptions for one report run and
// assembles their rows.
package collector

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TruWeaveTrader/plat-ibkr/internal/gateway"
	"github.com/TruWeaveTrader/plat-ibkr/internal/models"
)

// Options controls what a Collector requests
type Options struct {
	Symbol         string
	SkipMarketData bool
	AccountGroup   string
	SummaryTags    []string
	// DrainTimeout bounds each category; zero means no bound.
	DrainTimeout time.Duration
}

// Collector pulls the three report categories from a session
type Collector struct {
	session gateway.Session
	logger  *zap.Logger
	opts    Options
}

// New creates a collector. Empty group and tags fall back to all accounts
// and the default tag set.
func New(session gateway.Session, logger *zap.Logger, opts Options) *Collector {
	if opts.AccountGroup == "" {
		opts.AccountGroup = gateway.AllAccounts
	}
	if len(opts.SummaryTags) == 0 {
		opts.SummaryTags = gateway.DefaultSummaryTags
	}
	return &Collector{
		session: session,
		logger:  logger.With(zap.String("component", "collector")),
		opts:    opts,
	}
}

// Collect runs all categories concurrently and returns the assembled report.
// A category that fails to open or times out leaves its collection empty or
// partial; only cancellation of ctx itself is returned as an error.
func (c *Collector) Collect(ctx context.Context) (*models.Report, error) {
	report := models.NewReport()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rows, err := c.AccountSummary(gctx)
		report.AccountSummary = rows
		return err
	})

	g.Go(func() error {
		rows, err := c.Positions(gctx)
		report.Positions = rows
		return err
	})

	g.Go(func() error {
		rows, err := c.MarketData(gctx)
		report.MarketData = rows
		return err
	})

	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, nil
}

// AccountSummary drains the account summary subscription
func (c *Collector) AccountSummary(ctx context.Context) ([]models.AccountSummaryRow, error) {
	const category = "account_summary"

	bctx, cancel := c.bounded(ctx)
	defer cancel()

	sub, err := c.session.AccountSummary(bctx, c.opts.AccountGroup, c.opts.SummaryTags)
	if err != nil {
		return []models.AccountSummaryRow{}, c.openFailed(ctx, category, err)
	}

	rows, err := Drain(bctx, sub, accountSummaryRow)
	return rows, c.settle(ctx, category, len(rows), err)
}

// Positions drains the positions subscription
func (c *Collector) Positions(ctx context.Context) ([]models.PositionRow, error) {
	const category = "positions"

	bctx, cancel := c.bounded(ctx)
	defer cancel()

	sub, err := c.session.Positions(bctx)
	if err != nil {
		return []models.PositionRow{}, c.openFailed(ctx, category, err)
	}

	rows, err := Drain(bctx, sub, positionRow)
	return rows, c.settle(ctx, category, len(rows), err)
}

// MarketData drains a snapshot for the configured symbol, or returns an
// empty collection without opening anything when market data is skipped.
func (c *Collector) MarketData(ctx context.Context) ([]models.MarketDataRow, error) {
	const category = "market_data"

	if c.opts.SkipMarketData {
		c.logger.Debug("market data not requested")
		return []models.MarketDataRow{}, nil
	}

	bctx, cancel := c.bounded(ctx)
	defer cancel()

	sub, err := c.session.MarketDataSnapshot(bctx, gateway.Stock(c.opts.Symbol))
	if err != nil {
		return []models.MarketDataRow{}, c.openFailed(ctx, category, err)
	}

	rows, err := Drain(bctx, sub, marketDataRow(c.opts.Symbol))
	return rows, c.settle(ctx, category, len(rows), err)
}

func (c *Collector) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.DrainTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.opts.DrainTimeout)
}

// openFailed degrades a failed request to an empty collection
func (c *Collector) openFailed(ctx context.Context, category string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.logger.Warn("subscription request failed",
		zap.String("category", category),
		zap.Error(err))
	return nil
}

// settle keeps whatever a drain produced. Only the caller's own
// cancellation is an error.
func (c *Collector) settle(ctx context.Context, category string, rows int, err error) error {
	if err == nil {
		c.logger.Debug("subscription drained",
			zap.String("category", category),
			zap.Int("rows", rows))
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	msg := "subscription ended early"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "subscription timed out"
	}
	c.logger.Warn(msg,
		zap.String("category", category),
		zap.Int("rows", rows),
		zap.Error(err))
	return nil
}
