package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for marketdash.
type Config struct {
	Storage   Storage   `yaml:"storage"`
	Server    Server    `yaml:"server"`
	Remote    Remote    `yaml:"remote"`
	Feed      Feed      `yaml:"feed"`
	Alpaca    Alpaca    `yaml:"alpaca"`
	Logging   Logging   `yaml:"logging"`
	Dashboard Dashboard `yaml:"dashboard"`
}

// Storage holds paths for the local archive. Empty paths disable the
// corresponding archive.
type Storage struct {
	DataDir    string `yaml:"data_dir" envconfig:"DATA_DIR"`
	SQLitePath string `yaml:"sqlite_path" envconfig:"SQLITE_PATH"`
}

// Server holds the dashboard gateway listener configuration.
type Server struct {
	Host     string `yaml:"host" envconfig:"SERVER_HOST"`
	Port     int    `yaml:"port" envconfig:"SERVER_PORT"`
	GRPCPort int    `yaml:"grpc_port" envconfig:"GRPC_PORT"`

	// AllowedOrigins limits CORS and WebSocket upgrades. Empty allows any.
	AllowedOrigins []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
}

// Remote describes the market-data service the stores read from.
type Remote struct {
	BaseURL         string        `yaml:"base_url" envconfig:"REMOTE_BASE_URL"`
	Timeout         time.Duration `yaml:"timeout" envconfig:"REMOTE_TIMEOUT"`
	MaxAttempts     int           `yaml:"max_attempts" envconfig:"REMOTE_MAX_ATTEMPTS"`
	RetryDelay      time.Duration `yaml:"retry_delay" envconfig:"REMOTE_RETRY_DELAY"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min" envconfig:"REMOTE_RATE_LIMIT_PER_MIN"`
	RateBurst       int           `yaml:"rate_burst" envconfig:"REMOTE_RATE_BURST"`
	UseML           bool          `yaml:"use_ml" envconfig:"REMOTE_USE_ML"`
}

// Feed configures the optional live sentiment WebSocket feed.
type Feed struct {
	URL          string        `yaml:"url" envconfig:"FEED_URL"`
	ReconnectMin time.Duration `yaml:"reconnect_min" envconfig:"FEED_RECONNECT_MIN"`
	ReconnectMax time.Duration `yaml:"reconnect_max" envconfig:"FEED_RECONNECT_MAX"`
}

// Alpaca holds credentials for the optional watchlist integration.
type Alpaca struct {
	APIKey    string `yaml:"api_key" envconfig:"APCA_API_KEY_ID"`
	APISecret string `yaml:"api_secret" envconfig:"APCA_API_SECRET_KEY"`
	BaseURL   string `yaml:"base_url" envconfig:"ALPACA_BASE_URL"`
	Watchlist string `yaml:"watchlist" envconfig:"ALPACA_WATCHLIST"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format string `yaml:"format" envconfig:"LOG_FORMAT"`
}

// Dashboard holds UI-facing defaults.
type Dashboard struct {
	Market         string        `yaml:"market" envconfig:"DASHBOARD_MARKET"`
	PageSize       int           `yaml:"page_size" envconfig:"DASHBOARD_PAGE_SIZE"`
	PredictionDays int           `yaml:"prediction_days" envconfig:"DASHBOARD_PREDICTION_DAYS"`
	Refresh        time.Duration `yaml:"refresh" envconfig:"DASHBOARD_REFRESH"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// DefaultPath is used when MARKETDASH_CONFIG is unset.
const DefaultPath = "config/marketdash.yaml"

// Path returns the config file path, honouring MARKETDASH_CONFIG.
func Path() string {
	if p := os.Getenv("MARKETDASH_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, loads a .env file if present, and then applies environment
// variable overrides and defaults. A missing file is not an error: the
// environment and defaults still produce a usable Config.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	case !os.IsNotExist(err):
		return nil, err
	}

	// .env is optional.
	_ = godotenv.Load()

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	return cfg, nil
}

// applyEnvOverrides overrides fields whose environment variable is set.
// Fields carry no `default` tags so unset variables leave YAML values alone.
func applyEnvOverrides(cfg *Config) error {
	return envconfig.Process("", cfg)
}

// applyDefaults fills zero values.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Remote.BaseURL == "" {
		cfg.Remote.BaseURL = "http://localhost:5001"
	}
	if cfg.Remote.Timeout == 0 {
		cfg.Remote.Timeout = 10 * time.Second
	}
	if cfg.Remote.MaxAttempts == 0 {
		cfg.Remote.MaxAttempts = 2
	}
	if cfg.Remote.RetryDelay == 0 {
		cfg.Remote.RetryDelay = 300 * time.Millisecond
	}
	if cfg.Remote.RateBurst == 0 {
		cfg.Remote.RateBurst = 1
	}
	if cfg.Feed.ReconnectMin == 0 {
		cfg.Feed.ReconnectMin = time.Second
	}
	if cfg.Feed.ReconnectMax == 0 {
		cfg.Feed.ReconnectMax = 30 * time.Second
	}
	if cfg.Alpaca.Watchlist == "" {
		cfg.Alpaca.Watchlist = "marketdash"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Dashboard.Market == "" {
		cfg.Dashboard.Market = "TW"
	}
	if cfg.Dashboard.PageSize == 0 {
		cfg.Dashboard.PageSize = 10
	}
	if cfg.Dashboard.PredictionDays == 0 {
		cfg.Dashboard.PredictionDays = 7
	}
	if cfg.Dashboard.Refresh == 0 {
		cfg.Dashboard.Refresh = 5 * time.Second
	}
}
