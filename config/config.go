package config

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Simulator   SimulatorConfig   `mapstructure:"simulator"`
	Engine      EngineConfig      `mapstructure:"engine"`
	PriceSource PriceSourceConfig `mapstructure:"price_source"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Seed        SeedConfig        `mapstructure:"seed"`
	Log         LogConfig         `mapstructure:"log"`
	Postgres    PostgresConfig    `mapstructure:"postgres"`
}

type SeedConfig struct {
	Enabled   bool    `mapstructure:"enabled"` // write demo fixtures on startup
	AccountID string  `mapstructure:"account_id"`
	Name      string  `mapstructure:"name"`
	Email     string  `mapstructure:"email"`
	Balance   float64 `mapstructure:"balance"`
}

type SimulatorConfig struct {
	Symbols         []string           `mapstructure:"symbols"`          // e.g. ["BTC", "ETH", "BNB", "ADA", "USDT"]
	BasePrices      map[string]float64 `mapstructure:"base_prices"`      // fallback prices used until the first baseline fetch
	PeggedSymbol    string             `mapstructure:"pegged_symbol"`    // stable symbol held at exactly 1.0
	Volatility      float64            `mapstructure:"volatility"`       // per-tick noise factor, e.g. 0.02
	TickInterval    time.Duration      `mapstructure:"tick_interval"`    // cadence of simulated price updates
	RefreshInterval time.Duration      `mapstructure:"refresh_interval"` // cadence of baseline fetches from the price source
	HistorySize     int                `mapstructure:"history_size"`     // bounded per-symbol price history
}

type EngineConfig struct {
	DefaultBalance   float64       `mapstructure:"default_balance"` // virtual balance granted on first run and on reset
	MarkInterval     time.Duration `mapstructure:"mark_interval"`   // cadence of mark-to-market sweeps
	PersistInterval  time.Duration `mapstructure:"persist_interval"`
	ForfeitOnReset   bool          `mapstructure:"forfeit_on_reset"` // reset clears open trades and forfeits escrow
	AllowedDurations []int         `mapstructure:"allowed_durations"`
}

type PriceSourceConfig struct {
	Kind    string            `mapstructure:"kind"` // "rest", "ws" or "static"
	BaseURL string            `mapstructure:"base_url"`
	WSURL   string            `mapstructure:"ws_url"`
	Timeout time.Duration     `mapstructure:"timeout"`
	RateRPS float64           `mapstructure:"rate_rps"` // client-side request rate cap
	CoinIDs map[string]string `mapstructure:"coin_ids"` // symbol -> provider coin id, e.g. BTC -> bitcoin
}

type NotifyConfig struct {
	Kind    string   `mapstructure:"kind"` // "log", "kafka" or "noop"
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// LogConfig defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

// Load loads application configuration using Viper.
// It reads from config.yaml and overrides with environment variables.
func Load() *Config {
	v := viper.New()

	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")

	ex, _ := os.Executable()
	if strings.Contains(ex, "go-build") {
		pwd, _ := os.Getwd()
		v.AddConfigPath(filepath.Join(pwd, "../../config"))
	} else {
		v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
	}

	// Support environment variables with dot notation (e.g., SIMULATOR_VOLATILITY)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("failed to read config: %v", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Fatalf("failed to unmarshal config: %v", err)
	}

	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("simulator.symbols", []string{"BTC", "ETH", "BNB", "ADA", "USDT"})
	v.SetDefault("simulator.pegged_symbol", "USDT")
	v.SetDefault("simulator.volatility", 0.02)
	v.SetDefault("simulator.tick_interval", "2s")
	v.SetDefault("simulator.refresh_interval", "5s")
	v.SetDefault("simulator.history_size", 100)

	v.SetDefault("engine.default_balance", 10000.0)
	v.SetDefault("engine.mark_interval", "1s")
	v.SetDefault("engine.persist_interval", "10s")
	v.SetDefault("engine.forfeit_on_reset", true)
	v.SetDefault("engine.allowed_durations", []int{60, 300, 900})

	v.SetDefault("price_source.kind", "rest")
	v.SetDefault("price_source.base_url", "https://api.coingecko.com")
	v.SetDefault("price_source.timeout", "10s")
	v.SetDefault("price_source.rate_rps", 0.5)

	v.SetDefault("notify.kind", "log")

	v.SetDefault("seed.enabled", false)
	v.SetDefault("seed.account_id", "demo")
	v.SetDefault("seed.name", "Demo User")
	v.SetDefault("seed.email", "demo@tradesim.local")
	v.SetDefault("seed.balance", 10000.0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.environment", "dev")
}
