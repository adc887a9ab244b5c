package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/TruWeaveTrader/plat-ibkr/internal/config"
	"github.com/TruWeaveTrader/plat-ibkr/pkg/formatters"
)

var (
	// Global instances
	cfg    *config.Config
	logger *zap.Logger
)

// silentError has already been reported to the user
type silentError struct{ err error }

func (e silentError) Error() string { return e.err.Error() }
func (e silentError) Unwrap() error { return e.err }

// newRootCmd builds the plat-ibkr command
func newRootCmd() *cobra.Command {
	format := formatters.Text

	rootCmd := &cobra.Command{
		Use:   "plat-ibkr",
		Short: "Account, position and market data report from an IBKR gateway",
		Long: `plat-ibkr connects to a locally running Interactive Brokers gateway and
prints a one-shot report: the account summary, all open positions and a
market data snapshot for one symbol, as text, JSON or CSV.`,
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initializeApp,
		RunE:              runReport,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default is $HOME/.plat-ibkr.yaml)")
	flags.Bool("verbose", false, "verbose output")
	flags.VarP(&format, "format", "f", "output format: text, json or csv")
	flags.StringP("symbol", "s", "AAPL", "symbol for the market data snapshot")
	flags.Bool("no-market-data", false, "skip the market data snapshot")

	return rootCmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		var silent silentError
		if !errors.As(err, &silent) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// newLogger writes JSON logs to stderr: WARN by default, DEBUG if verbose
func newLogger(verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.EncoderConfig.TimeKey = "time"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		zcfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	return zcfg.Build()
}

func debugEnv() bool {
	v := os.Getenv("DEBUG")
	return v == "true" || v == "1" || v == "yes"
}

// initializeApp loads configuration and sets up the logger
func initializeApp(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")

	var err error
	cfg, err = config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err = newLogger(cfg.Verbose || debugEnv())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Debug("configuration loaded",
		zap.String("address", cfg.Address()),
		zap.String("config_file", cfg.ConfigFile),
		zap.String("format", cfg.Format),
		zap.String("symbol", cfg.Symbol))
	return nil
}
