package config

import (
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"PositionSentinel/internal/logger"
	"PositionSentinel/internal/model"
)

// DefaultPath is used when CONFIG_PATH is unset.
const DefaultPath = "configs/config.yaml"

// Config holds all application configuration.
type Config struct {
	DataSource struct {
		Provider string `yaml:"provider"`
		BaseURL  string `yaml:"base_url"`
		Symbol   string `yaml:"symbol"`
		CoinID   string `yaml:"coin_id"`
		Interval string `yaml:"interval"`
		Limit    int    `yaml:"limit"`
	} `yaml:"data_source"`
	Strategy struct {
		MAPeriod          int     `yaml:"ma_period"`
		RSIPeriod         int     `yaml:"rsi_period"`
		StochPeriod       int     `yaml:"stoch_period"`
		KSmoothing        int     `yaml:"k_smoothing"`
		DSmoothing        int     `yaml:"d_smoothing"`
		RetracementWindow int     `yaml:"retracement_window"`
		Oversold          float64 `yaml:"oversold"`
		Overbought        float64 `yaml:"overbought"`
		Level             string  `yaml:"level"`
		StopLoss          float64 `yaml:"stop_loss"`
		TakeProfit        float64 `yaml:"take_profit"`
		Leverage          int     `yaml:"leverage"`
	} `yaml:"strategy"`
	Schedule struct {
		Interval   time.Duration `yaml:"interval"`
		RunOnStart bool          `yaml:"run_on_start"`
	} `yaml:"schedule"`
	Ledger struct {
		Mode         string  `yaml:"mode"`
		RelayURL     string  `yaml:"relay_url"`
		APIKey       string  `yaml:"api_key"`
		OwnerAddress string  `yaml:"owner_address"`
		PaperBalance float64 `yaml:"paper_balance"`
		TradeAmount  float64 `yaml:"trade_amount"`
		MinDeposit   float64 `yaml:"min_deposit"`
		RatePerSec   float64 `yaml:"rate_per_sec"`
	} `yaml:"ledger"`
	Store struct {
		Backend       string `yaml:"backend"`
		Path          string `yaml:"path"`
		RedisAddr     string `yaml:"redis_addr"`
		RedisPassword string `yaml:"redis_password"`
		RedisDB       int    `yaml:"redis_db"`
		Key           string `yaml:"key"`
	} `yaml:"store"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Server struct {
		Addr       string `yaml:"addr"`
		TOTPSecret string `yaml:"totp_secret"`
	} `yaml:"server"`
	Log   logger.Config `yaml:"log"`
	Proxy string        `yaml:"proxy"`
}

// Path returns CONFIG_PATH or the default location.
func Path() string {
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads config from a YAML file, then applies .env and environment
// variable overrides, then fills defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "read config")
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "parse config")
		}
	}

	// .env is optional; existing environment variables win.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "load .env")
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"DATA_PROVIDER":      &c.DataSource.Provider,
		"DATA_BASE_URL":      &c.DataSource.BaseURL,
		"SYMBOL":             &c.DataSource.Symbol,
		"COIN_ID":            &c.DataSource.CoinID,
		"CANDLE_INTERVAL":    &c.DataSource.Interval,
		"LEDGER_MODE":        &c.Ledger.Mode,
		"RELAY_URL":          &c.Ledger.RelayURL,
		"RELAY_API_KEY":      &c.Ledger.APIKey,
		"OWNER_ADDRESS":      &c.Ledger.OwnerAddress,
		"STORE_BACKEND":      &c.Store.Backend,
		"STORE_PATH":         &c.Store.Path,
		"REDIS_ADDR":         &c.Store.RedisAddr,
		"REDIS_PASSWORD":     &c.Store.RedisPassword,
		"SQLITE_PATH":        &c.Database.SQLitePath,
		"TELEGRAM_BOT_TOKEN": &c.Telegram.BotToken,
		"TELEGRAM_CHAT_ID":   &c.Telegram.ChatID,
		"SERVER_ADDR":        &c.Server.Addr,
		"TOTP_SECRET":        &c.Server.TOTPSecret,
		"LOG_LEVEL":          &c.Log.Level,
		"LOG_FILE":           &c.Log.File,
		"HTTPS_PROXY":        &c.Proxy,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("BOT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "parse BOT_INTERVAL %q", v)
		}
		c.Schedule.Interval = d
	}
	if v := os.Getenv("LEVERAGE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "parse LEVERAGE %q", v)
		}
		c.Strategy.Leverage = n
	}
	if v := os.Getenv("TRADE_AMOUNT_ETH"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.Wrapf(err, "parse TRADE_AMOUNT_ETH %q", v)
		}
		c.Ledger.TradeAmount = f
	}
	if v := os.Getenv("RUN_ON_START"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "parse RUN_ON_START %q", v)
		}
		c.Schedule.RunOnStart = b
	}
	return nil
}

func (c *Config) applyDefaults() {
	setString(&c.DataSource.Provider, "binance")
	setString(&c.DataSource.Symbol, "ETHUSDT")
	setString(&c.DataSource.CoinID, "ethereum")
	setString(&c.DataSource.Interval, "4h")
	setInt(&c.DataSource.Limit, 100)

	setInt(&c.Strategy.MAPeriod, 21)
	setInt(&c.Strategy.RSIPeriod, 14)
	setInt(&c.Strategy.StochPeriod, 14)
	setInt(&c.Strategy.KSmoothing, 3)
	setInt(&c.Strategy.DSmoothing, 3)
	setInt(&c.Strategy.RetracementWindow, 10)
	setFloat(&c.Strategy.Oversold, 20)
	setFloat(&c.Strategy.Overbought, 80)
	setString(&c.Strategy.Level, "0.5")
	setFloat(&c.Strategy.StopLoss, 0.03)
	setFloat(&c.Strategy.TakeProfit, 0.03)
	setInt(&c.Strategy.Leverage, 3)

	if c.Schedule.Interval == 0 {
		c.Schedule.Interval = 4 * time.Hour
	}

	setString(&c.Ledger.Mode, "paper")
	setFloat(&c.Ledger.PaperBalance, 1)
	setFloat(&c.Ledger.TradeAmount, 0.01)
	setFloat(&c.Ledger.MinDeposit, 0.004)
	setFloat(&c.Ledger.RatePerSec, 2)

	setString(&c.Store.Backend, "file")
	setString(&c.Store.Path, "data/position.json")
	setString(&c.Store.RedisAddr, "localhost:6379")
	setString(&c.Store.Key, "sentinel:position")

	setString(&c.Database.SQLitePath, "data/position_sentinel.db")
	setString(&c.Server.Addr, ":8080")
	setString(&c.Log.Level, "info")
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.DataSource.Provider {
	case "binance", "coingecko", "mock":
	default:
		return errors.Errorf("data_source.provider %q is not one of binance, coingecko, mock", c.DataSource.Provider)
	}
	switch c.Ledger.Mode {
	case "paper":
	case "relay":
		if c.Ledger.RelayURL == "" {
			return errors.New("ledger.relay_url is required in relay mode")
		}
		if !strings.HasPrefix(c.Ledger.OwnerAddress, "0x") {
			return errors.New("ledger.owner_address must be a 0x address in relay mode")
		}
	default:
		return errors.Errorf("ledger.mode %q is not one of paper, relay", c.Ledger.Mode)
	}
	switch c.Store.Backend {
	case "file", "bolt", "redis":
	default:
		return errors.Errorf("store.backend %q is not one of file, bolt, redis", c.Store.Backend)
	}
	if c.Schedule.Interval < time.Second {
		return errors.Errorf("schedule.interval %s is too short", c.Schedule.Interval)
	}
	periods := []struct {
		name  string
		value int
	}{
		{"ma_period", c.Strategy.MAPeriod},
		{"rsi_period", c.Strategy.RSIPeriod},
		{"stoch_period", c.Strategy.StochPeriod},
		{"k_smoothing", c.Strategy.KSmoothing},
		{"d_smoothing", c.Strategy.DSmoothing},
		{"retracement_window", c.Strategy.RetracementWindow},
	}
	for _, p := range periods {
		if p.value <= 0 {
			return errors.Errorf("strategy.%s must be positive, got %d", p.name, p.value)
		}
	}
	if !slices.Contains(model.RetracementRatios, c.Strategy.Level) {
		return errors.Errorf("strategy.level %q is not one of %s", c.Strategy.Level, strings.Join(model.RetracementRatios, ", "))
	}
	if c.Strategy.Leverage <= 0 {
		return errors.New("strategy.leverage must be positive")
	}
	if c.Strategy.StopLoss <= 0 || c.Strategy.TakeProfit <= 0 {
		return errors.New("strategy.stop_loss and strategy.take_profit must be positive")
	}
	if c.Strategy.Oversold >= c.Strategy.Overbought {
		return errors.New("strategy.oversold must be below strategy.overbought")
	}
	if c.Ledger.TradeAmount <= 0 {
		return errors.New("ledger.trade_amount must be positive")
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return errors.New("telegram.bot_token and telegram.chat_id must be set together")
	}
	return nil
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}

func setFloat(dst *float64, def float64) {
	if *dst == 0 {
		*dst = def
	}
}
