package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TruWeaveTrader/plat-ibkr/internal/cache"
	"github.com/TruWeaveTrader/plat-ibkr/internal/collector"
	"github.com/TruWeaveTrader/plat-ibkr/internal/config"
	"github.com/TruWeaveTrader/plat-ibkr/internal/gateway"
	"github.com/TruWeaveTrader/plat-ibkr/internal/gateway/clientportal"
	"github.com/TruWeaveTrader/plat-ibkr/internal/gateway/tws"
	"github.com/TruWeaveTrader/plat-ibkr/pkg/formatters"
)

// connect opens the gateway session for the configured API; replaced in tests
var connect = func(ctx context.Context, cfg *config.Config, contracts *cache.Cache, logger *zap.Logger) (gateway.Conn, error) {
	if cfg.API == config.APIClientPortal {
		return clientportal.Connect(ctx, cfg, contracts, logger)
	}
	return tws.Connect(ctx, cfg, logger)
}

// connectionHelp is printed after a failed connection, per API
var connectionHelp = map[string][]string{
	config.APITWS: {
		"",
		"Make sure TWS or IB Gateway is running with API enabled:",
		"  - TWS: Configure > API > Settings > Enable ActiveX and Socket Clients",
		"  - Gateway: Port 4001 (live) or 4002 (paper)",
		"  - Each connection needs its own client id (IBKR_CLIENT_ID)",
	},
	config.APIClientPortal: {
		"",
		"Make sure the Client Portal gateway is running and logged in:",
		"  - Start it with bin/run.sh root/conf.yaml (listens on port 5000)",
		"  - Log in through its web page before running a report",
		"  - Set IBKR_API=tws to use TWS or IB Gateway instead",
	},
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	format, err := formatters.ParseFormat(cfg.Format)
	if err != nil {
		return err
	}

	stdout := cmd.OutOrStdout()
	stderr := cmd.ErrOrStderr()
	narrate := format == formatters.Text

	if narrate {
		fmt.Fprintf(stderr, "Connecting to %s at %s...\n", gatewayName(cfg.API), cfg.Address())
	}

	contracts := cache.NewCache(cfg.ContractCacheTTL)
	conn, err := connect(ctx, cfg, contracts, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Connection failed: %v\n", err)
		for _, line := range connectionHelp[cfg.API] {
			fmt.Fprintln(stderr, line)
		}
		return silentError{err}
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Warn("closing gateway session", zap.Error(err))
		}
	}()

	if narrate {
		fmt.Fprintln(stderr, "Connected successfully!")
		fmt.Fprintln(stderr)
	}

	report, err := collector.New(conn, logger, collector.Options{
		Symbol:         cfg.Symbol,
		SkipMarketData: cfg.SkipMarketData,
		AccountGroup:   cfg.AccountGroup,
		SummaryTags:    cfg.SummaryTags,
		DrainTimeout:   cfg.DrainTimeout,
	}).Collect(ctx)
	if err != nil {
		return fmt.Errorf("report interrupted: %w", err)
	}
	if report.IsEmpty() {
		logger.Warn("gateway returned no data")
	}

	stats := contracts.GetStats()
	logger.Debug("report collected",
		zap.Int("account_summary", len(report.AccountSummary)),
		zap.Int("positions", len(report.Positions)),
		zap.Int("market_data", len(report.MarketData)),
		zap.Int64("contract_cache_hits", stats.Hits),
		zap.Int64("contract_cache_misses", stats.Misses))

	if err := formatters.Render(format, report, stdout, stderr, formatters.Options{
		Symbol:              cfg.Symbol,
		MarketDataRequested: !cfg.SkipMarketData,
	}); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func gatewayName(api string) string {
	if api == config.APIClientPortal {
		return "Client Portal gateway"
	}
	return "TWS/Gateway"
}
