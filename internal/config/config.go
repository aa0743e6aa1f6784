// Package config defines all configuration for the surveillance engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// overrides via SURVEIL_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"polywatch/internal/clob"
	"polywatch/internal/feed"
	"polywatch/internal/markets"
	"polywatch/internal/signal"
	"polywatch/internal/wallet"
	"polywatch/internal/whale"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure. Interval fields are plain milliseconds so the file stays free
// of duration-string parsing rules.
type Config struct {
	Realtime       RealtimeConfig   `mapstructure:"realtime"`
	Polymarket     PolymarketConfig `mapstructure:"polymarket"`
	ClobRateLimits RateLimitsConfig `mapstructure:"clobRateLimits"`
	Signals        SignalsConfig    `mapstructure:"signals"`
	Wallet         WalletConfig     `mapstructure:"wallet"`
	Whale          WhaleConfig      `mapstructure:"whale"`
	Markets        MarketsConfig    `mapstructure:"markets"`
	Store          StoreConfig      `mapstructure:"store"`
	API            APIConfig        `mapstructure:"api"`
	Logging        LoggingConfig    `mapstructure:"logging"`
}

// APIConfig controls the read-only HTTP API.
type APIConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// RealtimeConfig controls the feed connection and the stream worker pool.
type RealtimeConfig struct {
	Enabled             bool `mapstructure:"enabled"`
	ReconnectAttempts   int  `mapstructure:"reconnectAttempts"`
	ReconnectDelayMs    int  `mapstructure:"reconnectDelayMs"`
	HeartbeatIntervalMs int  `mapstructure:"heartbeatIntervalMs"`
	Workers             int  `mapstructure:"workers"`
}

// PolymarketConfig holds the upstream endpoints.
type PolymarketConfig struct {
	WSURL   string `mapstructure:"wsUrl"`
	ClobURL string `mapstructure:"clobUrl"`
	BaseURL string `mapstructure:"baseUrl"`
}

// RateLimitsConfig sets token-bucket capacities per shared refill window.
type RateLimitsConfig struct {
	General  int `mapstructure:"general"`
	Book     int `mapstructure:"book"`
	Trades   int `mapstructure:"trades"`
	WindowMs int `mapstructure:"windowMs"`
}

// SignalsConfig groups the per-processor thresholds.
type SignalsConfig struct {
	FreshWallet        signal.FreshWalletConfig     `mapstructure:"freshWallet"`
	LiquidityImpact    signal.LiquidityImpactConfig `mapstructure:"liquidityImpact"`
	WalletAccuracy     signal.WalletAccuracyConfig  `mapstructure:"walletAccuracy"`
	TimingPattern      signal.TimingPatternConfig   `mapstructure:"timingPattern"`
	SniperCluster      signal.SniperClusterConfig   `mapstructure:"sniperCluster"`
	VolumeSpike        BatchProcessorConfig         `mapstructure:"volumeSpike"`
	ProbabilityExtreme BatchProcessorConfig         `mapstructure:"probabilityExtreme"`
	HighLiquidity      BatchProcessorConfig         `mapstructure:"highLiquidity"`
}

// BatchProcessorConfig is the weight/threshold pair shared by the batch
// market-scan processors.
type BatchProcessorConfig struct {
	Weight    float64 `mapstructure:"weight"`
	Threshold float64 `mapstructure:"threshold"`
}

// WalletConfig tunes profile tracking capacity and refresh cadence.
type WalletConfig struct {
	ProfileRefreshIntervalMs int `mapstructure:"profileRefreshIntervalMs"`
	HistoryLookbackDays      int `mapstructure:"historyLookbackDays"`
	MaxTrackedWallets        int `mapstructure:"maxTrackedWallets"`
}

// WhaleConfig tunes whale detection and the probability adjuster.
type WhaleConfig struct {
	MinNotionalUSD        float64 `mapstructure:"minNotionalUsd"`
	DepthThresholdPercent float64 `mapstructure:"depthThresholdPercent"`
	WhaleWeight           float64 `mapstructure:"whaleWeight"`
	DecayHalfLifeMs       int     `mapstructure:"decayHalfLifeMs"`
	MaxSignalAgeMs        int     `mapstructure:"maxSignalAgeMs"`
}

// MarketsConfig controls the Gamma discovery loop.
type MarketsConfig struct {
	PollIntervalMs int     `mapstructure:"pollIntervalMs"`
	MinLiquidity   float64 `mapstructure:"minLiquidity"`
	MaxMarkets     int     `mapstructure:"maxMarkets"`
}

// StoreConfig sets where detected patterns and whale trades are persisted.
type StoreConfig struct {
	DataDir string `mapstructure:"dataDir"`
}

// LoggingConfig selects log level and output format.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with SURVEIL_* env overrides. A missing
// file is not an error; defaults cover every key.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SURVEIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, missing := err.(*os.PathError); !missing {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("realtime.enabled", true)
	v.SetDefault("realtime.reconnectAttempts", 10)
	v.SetDefault("realtime.reconnectDelayMs", 5000)
	v.SetDefault("realtime.heartbeatIntervalMs", 30000)
	v.SetDefault("realtime.workers", 8)

	v.SetDefault("polymarket.wsUrl", "wss://ws-subscriptions-clob.polymarket.com/ws/market")
	v.SetDefault("polymarket.clobUrl", "https://clob.polymarket.com")
	v.SetDefault("polymarket.baseUrl", "https://gamma-api.polymarket.com")

	v.SetDefault("clobRateLimits.general", 9000)
	v.SetDefault("clobRateLimits.book", 1500)
	v.SetDefault("clobRateLimits.trades", 200)
	v.SetDefault("clobRateLimits.windowMs", 10000)

	v.SetDefault("signals.freshWallet.weight", 0.15)
	v.SetDefault("signals.freshWallet.maxAgeDays", 7)
	v.SetDefault("signals.freshWallet.maxTrades", 10)
	v.SetDefault("signals.freshWallet.minTradeSize", 0.02)
	v.SetDefault("signals.liquidityImpact.weight", 0.12)
	v.SetDefault("signals.liquidityImpact.threshold", 0.02)
	v.SetDefault("signals.walletAccuracy.weight", 0.18)
	v.SetDefault("signals.walletAccuracy.minWinRate", 0.7)
	v.SetDefault("signals.walletAccuracy.minResolvedPositions", 20)
	v.SetDefault("signals.timingPattern.weight", 0.14)
	v.SetDefault("signals.timingPattern.windowHours", 48)
	v.SetDefault("signals.timingPattern.concentrationThreshold", 2)
	v.SetDefault("signals.sniperCluster.weight", 0.16)
	v.SetDefault("signals.sniperCluster.windowMinutes", 5)
	v.SetDefault("signals.sniperCluster.minWallets", 3)
	v.SetDefault("signals.volumeSpike.weight", 0.1)
	v.SetDefault("signals.volumeSpike.threshold", 3)
	v.SetDefault("signals.probabilityExtreme.weight", 0.1)
	v.SetDefault("signals.probabilityExtreme.threshold", 0.05)
	v.SetDefault("signals.highLiquidity.weight", 0.05)
	v.SetDefault("signals.highLiquidity.threshold", 50000)

	v.SetDefault("wallet.profileRefreshIntervalMs", 3600000)
	v.SetDefault("wallet.historyLookbackDays", 90)
	v.SetDefault("wallet.maxTrackedWallets", 10000)

	v.SetDefault("whale.minNotionalUsd", 1000)
	v.SetDefault("whale.depthThresholdPercent", 5)
	v.SetDefault("whale.whaleWeight", 0.15)
	v.SetDefault("whale.decayHalfLifeMs", 300000)
	v.SetDefault("whale.maxSignalAgeMs", 1800000)

	v.SetDefault("markets.pollIntervalMs", 300000)
	v.SetDefault("markets.minLiquidity", 1000)
	v.SetDefault("markets.maxMarkets", 50)

	v.SetDefault("store.dataDir", "data")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.port", 8090)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Polymarket.WSURL == "" {
		return fmt.Errorf("polymarket.wsUrl is required")
	}
	if c.Polymarket.ClobURL == "" {
		return fmt.Errorf("polymarket.clobUrl is required")
	}
	if c.Polymarket.BaseURL == "" {
		return fmt.Errorf("polymarket.baseUrl is required")
	}
	if c.ClobRateLimits.General <= 0 || c.ClobRateLimits.Book <= 0 || c.ClobRateLimits.Trades <= 0 {
		return fmt.Errorf("clobRateLimits capacities must be > 0")
	}
	if c.ClobRateLimits.WindowMs <= 0 {
		return fmt.Errorf("clobRateLimits.windowMs must be > 0")
	}
	if c.Realtime.ReconnectAttempts <= 0 {
		return fmt.Errorf("realtime.reconnectAttempts must be > 0")
	}
	if c.Realtime.Workers <= 0 || c.Realtime.Workers > 64 {
		return fmt.Errorf("realtime.workers must be in [1, 64]")
	}
	for name, w := range map[string]float64{
		"signals.freshWallet.weight":     c.Signals.FreshWallet.Weight,
		"signals.liquidityImpact.weight": c.Signals.LiquidityImpact.Weight,
		"signals.walletAccuracy.weight":  c.Signals.WalletAccuracy.Weight,
		"signals.timingPattern.weight":   c.Signals.TimingPattern.Weight,
		"signals.sniperCluster.weight":   c.Signals.SniperCluster.Weight,
	} {
		if w <= 0 || w > 1 {
			return fmt.Errorf("%s must be in (0, 1]", name)
		}
	}
	if c.Whale.MinNotionalUSD <= 0 {
		return fmt.Errorf("whale.minNotionalUsd must be > 0")
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.dataDir is required")
	}
	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		return fmt.Errorf("api.port must be a valid port")
	}
	return nil
}

// FeedOptions maps the realtime section onto subscription-client options.
func (c *Config) FeedOptions() feed.Options {
	return feed.Options{
		ReconnectAttempts: c.Realtime.ReconnectAttempts,
		ReconnectDelay:    time.Duration(c.Realtime.ReconnectDelayMs) * time.Millisecond,
		HeartbeatInterval: time.Duration(c.Realtime.HeartbeatIntervalMs) * time.Millisecond,
	}
}

// RateLimits maps the clobRateLimits section onto bucket capacities.
func (c *Config) RateLimits() clob.RateLimits {
	return clob.RateLimits{
		General:  c.ClobRateLimits.General,
		Book:     c.ClobRateLimits.Book,
		Trades:   c.ClobRateLimits.Trades,
		WindowMs: c.ClobRateLimits.WindowMs,
	}
}

// WalletTrackerConfig combines the freshness, accuracy and capacity
// thresholds the wallet tracker needs.
func (c *Config) WalletTrackerConfig() wallet.Config {
	return wallet.Config{
		MaxAgeDays:           c.Signals.FreshWallet.MaxAgeDays,
		MaxTrades:            c.Signals.FreshWallet.MaxTrades,
		MinTradeSize:         c.Signals.FreshWallet.MinTradeSize,
		MinWinRate:           c.Signals.WalletAccuracy.MinWinRate,
		MinResolvedPositions: c.Signals.WalletAccuracy.MinResolvedPositions,
		MaxTrackedWallets:    c.Wallet.MaxTrackedWallets,
	}
}

// WhaleDetectorConfig maps the whale section onto detector thresholds.
func (c *Config) WhaleDetectorConfig() whale.DetectorConfig {
	return whale.DetectorConfig{
		MinNotionalUSD:        c.Whale.MinNotionalUSD,
		DepthThresholdPercent: c.Whale.DepthThresholdPercent,
	}
}

// WhaleAdjusterConfig maps the whale section onto adjuster decay parameters.
func (c *Config) WhaleAdjusterConfig() whale.AdjusterConfig {
	return whale.AdjusterConfig{
		WhaleWeight:   c.Whale.WhaleWeight,
		DecayHalfLife: time.Duration(c.Whale.DecayHalfLifeMs) * time.Millisecond,
		MaxSignalAge:  time.Duration(c.Whale.MaxSignalAgeMs) * time.Millisecond,
	}
}

// MarketsFetcherConfig maps the markets section onto the discovery fetcher.
func (c *Config) MarketsFetcherConfig() markets.Config {
	return markets.Config{
		BaseURL:      c.Polymarket.BaseURL,
		PollInterval: time.Duration(c.Markets.PollIntervalMs) * time.Millisecond,
		MinLiquidity: c.Markets.MinLiquidity,
		MaxMarkets:   c.Markets.MaxMarkets,
	}
}

// ProfileRefreshInterval returns the wallet risk-score refresh cadence.
func (c *Config) ProfileRefreshInterval() time.Duration {
	return time.Duration(c.Wallet.ProfileRefreshIntervalMs) * time.Millisecond
}
