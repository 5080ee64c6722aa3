package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"grid-trading-bot/internal/analysis"
	"grid-trading-bot/internal/grid"
	"grid-trading-bot/internal/scanner"
)

// Config is the persisted engine configuration. It is read from
// config.json at start and mutated only through Update, which merges
// partial documents instead of replacing the whole file.
type Config struct {
	Pair           PairConfig           `json:"pair"`
	Grid           GridConfig           `json:"grid"`
	Exchange       ExchangeConfig       `json:"exchange"`
	RiskManagement RiskManagementConfig `json:"risk_management"`
	MTF            analysis.Config      `json:"mtf"`
	Scanner        scanner.Config       `json:"scanner"`
	Portfolio      PortfolioConfig      `json:"portfolio"`
	Backtest       BacktestConfig       `json:"backtest"`
	Server         ServerConfig         `json:"server"`
	Database       DatabaseConfig       `json:"database"`
	Redis          RedisConfig          `json:"redis"`
	Notification   NotificationConfig   `json:"notification"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
	Logging        LoggingConfig        `json:"logging"`
}

// PairConfig selects the single-pair live trading target
type PairConfig struct {
	Symbol      string `json:"symbol"`
	Interval    string `json:"interval"`
	TickSeconds int    `json:"tick_seconds"`
	CandleLimit int    `json:"candle_limit"`
	TradingMode string `json:"trading_mode"` // live or paper
	QuoteAsset  string `json:"quote_asset"`
}

// GridConfig holds the ladder geometry
type GridConfig struct {
	SpacingMode  string  `json:"spacing_mode"`
	SpacingValue float64 `json:"spacing_value"`
	NumLevels    int     `json:"num_levels"`
	FeePercent   float64 `json:"fee_percent"`
	MaxRetries   int     `json:"max_retries"`
}

type ExchangeConfig struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	BaseURL   string `json:"base_url"`
	MockMode  bool   `json:"mock_mode"` // trade against the simulated exchange
	MockSeed  int64  `json:"mock_seed"`
}

type RiskManagementConfig struct {
	TotalCapital    float64 `json:"total_capital"`
	ReserveFraction float64 `json:"reserve_fraction"`
	MaxPairs        int     `json:"max_pairs"`
	MaxDailyLoss    float64 `json:"max_daily_loss"` // percent, feeds the circuit breaker
}

type PortfolioConfig struct {
	TickSeconds int `json:"tick_seconds"`
}

type BacktestConfig struct {
	Interval   string  `json:"interval"`
	FeePercent float64 `json:"fee_percent"`
	UseMTF     bool    `json:"use_mtf"`
	MTFEvery   int     `json:"mtf_every"`
}

type ServerConfig struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	AllowedOrigins  string `json:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout"`
	WriteTimeout    int    `json:"write_timeout"`
	ShutdownTimeout int    `json:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type NotificationConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

type DiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

type CircuitBreakerConfig struct {
	Enabled              bool    `json:"enabled"`
	MaxLossPerHour       float64 `json:"max_loss_per_hour"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	CooldownMinutes      int     `json:"cooldown_minutes"`
}

type LoggingConfig struct {
	Level      string `json:"level"`
	Output     string `json:"output"`
	JSONFormat bool   `json:"json_format"`
}

// mu guards the config file against concurrent Update calls
var mu sync.Mutex

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Pair: PairConfig{
			Symbol:      "BTCUSDT",
			Interval:    "1h",
			TickSeconds: 5,
			CandleLimit: 150,
			TradingMode: "paper",
			QuoteAsset:  "USDT",
		},
		Grid: GridConfig{
			SpacingMode:  "geometric",
			SpacingValue: 0.02,
			NumLevels:    10,
			FeePercent:   0.1,
			MaxRetries:   5,
		},
		Exchange: ExchangeConfig{
			BaseURL:  "https://api.binance.com",
			MockMode: true,
			MockSeed: 42,
		},
		RiskManagement: RiskManagementConfig{
			TotalCapital:    10000,
			ReserveFraction: 0.2,
			MaxPairs:        5,
			MaxDailyLoss:    5.0,
		},
		MTF:       analysis.DefaultConfig(),
		Scanner:   scanner.DefaultConfig(),
		Portfolio: PortfolioConfig{TickSeconds: 5},
		Backtest: BacktestConfig{
			Interval:   "1h",
			FeePercent: 0.1,
			MTFEvery:   10,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			AllowedOrigins:  "*",
			ReadTimeout:     30,
			WriteTimeout:    30,
			ShutdownTimeout: 10,
		},
		Redis: RedisConfig{
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:              true,
			MaxLossPerHour:       3.0,
			MaxConsecutiveLosses: 5,
			CooldownMinutes:      30,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     "stdout",
			JSONFormat: true,
		},
	}
}

// Load reads config.json (or the path in CONFIG_FILE), fills gaps with
// defaults and applies environment overrides.
func Load() (*Config, error) {
	return LoadFrom(configPath())
}

// LoadFrom reads a specific config file.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func configPath() string {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		return path
	}
	return "config.json"
}

func applyEnvOverrides(cfg *Config) {
	cfg.Exchange.APIKey = getEnvOrDefault("BINANCE_API_KEY", cfg.Exchange.APIKey)
	cfg.Exchange.SecretKey = getEnvOrDefault("BINANCE_SECRET_KEY", cfg.Exchange.SecretKey)
	cfg.Exchange.BaseURL = getEnvOrDefault("BINANCE_BASE_URL", cfg.Exchange.BaseURL)
	if v := os.Getenv("MOCK_MODE"); v != "" {
		cfg.Exchange.MockMode = v == "true"
	}

	cfg.Server.Port = getEnvIntOrDefault("WEB_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnvOrDefault("WEB_HOST", cfg.Server.Host)
	cfg.Server.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)

	cfg.Database.URL = getEnvOrDefault("DATABASE_URL", cfg.Database.URL)
	if cfg.Database.URL != "" {
		cfg.Database.Enabled = true
	}
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDR", cfg.Redis.Address)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)
	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = v == "true"
	}

	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Output = getEnvOrDefault("LOG_OUTPUT", cfg.Logging.Output)
	if v := os.Getenv("LOG_JSON"); v != "" {
		cfg.Logging.JSONFormat = v == "true"
	}

	cfg.Notification.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.Notification.Telegram.BotToken)
	cfg.Notification.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.Notification.Telegram.ChatID)
	cfg.Notification.Discord.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.Notification.Discord.WebhookURL)
}

// Validate applies the synchronous configuration checks: bad grid or
// allocation parameters never reach a running component.
func (c *Config) Validate() error {
	probe := c.GridConfigFor(c.Pair.Symbol, 1, 1)
	if err := probe.Validate(); err != nil {
		return err
	}
	if c.RiskManagement.ReserveFraction < 0 || c.RiskManagement.ReserveFraction >= 1 {
		return fmt.Errorf("invalid config: reserve_fraction must be in [0,1), got %f", c.RiskManagement.ReserveFraction)
	}
	if c.RiskManagement.TotalCapital <= 0 {
		return fmt.Errorf("invalid config: total_capital must be positive, got %f", c.RiskManagement.TotalCapital)
	}
	if c.RiskManagement.MaxPairs <= 0 {
		return fmt.Errorf("invalid config: max_pairs must be positive, got %d", c.RiskManagement.MaxPairs)
	}
	if c.Pair.Symbol == "" {
		return fmt.Errorf("invalid config: pair.symbol is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port out of range: %d", c.Server.Port)
	}
	return nil
}

// GridConfigFor instantiates the ladder template for one pair.
func (c *Config) GridConfigFor(pair string, centralPrice, capital float64) grid.GridConfig {
	return grid.GridConfig{
		Pair:         pair,
		CentralPrice: centralPrice,
		SpacingMode:  grid.SpacingMode(c.Grid.SpacingMode),
		SpacingValue: c.Grid.SpacingValue,
		NumLevels:    c.Grid.NumLevels,
		Capital:      capital,
		FeePercent:   c.Grid.FeePercent,
		MaxRetries:   c.Grid.MaxRetries,
	}
}

// TickInterval returns the live loop cadence.
func (c *Config) TickInterval() time.Duration {
	secs := c.Pair.TickSeconds
	if secs <= 0 {
		secs = 5
	}
	return time.Duration(secs) * time.Second
}

// Update merges a partial JSON document into the current configuration,
// re-validates, and persists the result. A partial like
// {"grid":{"num_levels":12}} touches only that field; everything else
// survives. An invalid merge leaves both the receiver and the file
// untouched.
func (c *Config) Update(partial map[string]interface{}) error {
	mu.Lock()
	defer mu.Unlock()

	current, err := json.Marshal(c)
	if err != nil {
		return err
	}
	var base map[string]interface{}
	if err := json.Unmarshal(current, &base); err != nil {
		return err
	}

	merged := mergeMaps(base, partial)

	data, err := json.Marshal(merged)
	if err != nil {
		return err
	}

	candidate := &Config{}
	if err := json.Unmarshal(data, candidate); err != nil {
		return fmt.Errorf("invalid config update: %w", err)
	}
	if err := candidate.Validate(); err != nil {
		return err
	}

	*c = *candidate
	return c.saveLocked()
}

// Save persists the configuration to its file.
func (c *Config) Save() error {
	mu.Lock()
	defer mu.Unlock()
	return c.saveLocked()
}

func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(configPath(), data, 0644)
}

// mergeMaps deep-merges src into dst: nested objects merge key by key,
// scalars and arrays replace.
func mergeMaps(dst, src map[string]interface{}) map[string]interface{} {
	for key, value := range src {
		if srcMap, ok := value.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				dst[key] = mergeMaps(dstMap, srcMap)
				continue
			}
		}
		dst[key] = value
	}
	return dst
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
