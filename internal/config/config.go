package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "IBKR"
	configFileName = ".plat-ibkr"
)

// Gateway APIs a report can be collected through
const (
	APITWS          = "tws"
	APIClientPortal = "clientportal"
)

// default ports per API: IB Gateway paper trading and the Client Portal gateway
var defaultPorts = map[string]int{
	APITWS:          4002,
	APIClientPortal: 5000,
}

// Config holds all application configuration
type Config struct {
	// Gateway
	API          string
	Host         string
	Port         int
	ClientID     int
	Scheme       string
	InsecureTLS  bool
	AccountGroup string
	SummaryTags  []string

	// MarketDataType is sent before snapshots on the socket API:
	// 1 live, 2 frozen, 3 delayed, 4 delayed frozen
	MarketDataType int

	// Timing
	ConnectTimeout    time.Duration
	HTTPTimeout       time.Duration
	SnapshotWait      time.Duration
	DrainTimeout      time.Duration
	ContractCacheTTL  time.Duration
	RequestsPerSecond float64

	// Report
	Symbol         string
	Format         string
	SkipMarketData bool
	Verbose        bool

	// ConfigFile is the file settings were read from, if any
	ConfigFile string
}

var defaults = map[string]interface{}{
	"api":                   APITWS,
	"host":                  "127.0.0.1",
	"client_id":             100,
	"scheme":                "https",
	"insecure_tls":          true,
	"account_group":         "All",
	"summary_tags":          []string{"AccountType", "NetLiquidation", "TotalCashValue", "BuyingPower", "GrossPositionValue", "AvailableFunds"},
	"market_data_type":      1,
	"connect_timeout_ms":    5000,
	"http_timeout_ms":       5000,
	"snapshot_wait_ms":      3000,
	"drain_timeout_ms":      30000,
	"contract_cache_ttl_ms": 300000,
	"requests_per_second":   10.0,
	"symbol":                "AAPL",
	"format":                "text",
	"no-market-data":        false,
	"verbose":               false,
}

// flags that may be bound from the command line
var flagKeys = []string{"symbol", "format", "no-market-data", "verbose"}

// Load reads configuration from flags, environment, an optional YAML file
// and defaults, in that order of precedence.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, configFile); err != nil {
		return nil, err
	}

	if flags != nil {
		for _, key := range flagKeys {
			if f := flags.Lookup(key); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", key, err)
				}
			}
		}
	}

	api := strings.ToLower(strings.TrimSpace(v.GetString("api")))

	// the port default follows the API, so it is not a viper default
	port := defaultPorts[api]
	if raw := v.GetString("port"); raw != "" {
		var err error
		if port, err = strconv.Atoi(raw); err != nil {
			return nil, fmt.Errorf("invalid port %q: %w", raw, err)
		}
	}

	cfg := &Config{
		API:          api,
		Host:         v.GetString("host"),
		Port:         port,
		ClientID:     v.GetInt("client_id"),
		Scheme:       strings.ToLower(v.GetString("scheme")),
		InsecureTLS:  v.GetBool("insecure_tls"),
		AccountGroup: v.GetString("account_group"),
		SummaryTags:  splitTags(v.GetStringSlice("summary_tags")),

		MarketDataType: v.GetInt("market_data_type"),

		ConnectTimeout:    millis(v, "connect_timeout_ms"),
		HTTPTimeout:       millis(v, "http_timeout_ms"),
		SnapshotWait:      millis(v, "snapshot_wait_ms"),
		DrainTimeout:      millis(v, "drain_timeout_ms"),
		ContractCacheTTL:  millis(v, "contract_cache_ttl_ms"),
		RequestsPerSecond: v.GetFloat64("requests_per_second"),

		Symbol:         strings.ToUpper(strings.TrimSpace(v.GetString("symbol"))),
		Format:         strings.ToLower(v.GetString("format")),
		SkipMarketData: v.GetBool("no-market-data"),
		Verbose:        v.GetBool("verbose"),

		ConfigFile: v.ConfigFileUsed(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration can be used to run a report
func (c *Config) Validate() error {
	if _, ok := defaultPorts[c.API]; !ok {
		return fmt.Errorf("unsupported api %q (expected %s or %s)", c.API, APITWS, APIClientPortal)
	}
	if c.Host == "" {
		return errors.New("gateway host must be set")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("gateway port %d out of range", c.Port)
	}
	if c.ClientID < 0 {
		return fmt.Errorf("client id %d must not be negative", c.ClientID)
	}
	if c.API == APIClientPortal && c.Scheme != "http" && c.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", c.Scheme)
	}
	if c.MarketDataType < 1 || c.MarketDataType > 4 {
		return fmt.Errorf("market data type %d out of range 1-4", c.MarketDataType)
	}
	if c.Symbol == "" {
		return errors.New("symbol must not be empty")
	}
	if len(c.SummaryTags) == 0 {
		return errors.New("at least one account summary tag is required")
	}
	if c.ConnectTimeout <= 0 || c.HTTPTimeout <= 0 || c.SnapshotWait <= 0 || c.DrainTimeout <= 0 || c.ContractCacheTTL <= 0 {
		return errors.New("timeouts must be positive")
	}
	if c.RequestsPerSecond <= 0 {
		return errors.New("requests_per_second must be positive")
	}
	return nil
}

// Address returns the gateway host:port
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// BaseURL returns the gateway REST root
func (c *Config) BaseURL() string {
	return fmt.Sprintf("%s://%s/v1/api", c.Scheme, c.Address())
}

// WebsocketURL returns the gateway streaming endpoint
func (c *Config) WebsocketURL() string {
	scheme := "wss"
	if c.Scheme == "http" {
		scheme = "ws"
	}
	return fmt.Sprintf("%s://%s/v1/api/ws", scheme, c.Address())
}

// readConfigFile loads an explicit config file, or the optional one in $HOME
func readConfigFile(v *viper.Viper, configFile string) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", configFile, err)
		}
		return nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	path := filepath.Join(home, configFileName+".yaml")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

func millis(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt64(key)) * time.Millisecond
}

// splitTags accepts both YAML lists and a comma-separated env value
func splitTags(raw []string) []string {
	tags := make([]string, 0, len(raw))
	for _, item := range raw {
		for _, tag := range strings.Split(item, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
	}
	return tags
}
