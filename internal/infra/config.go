package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"ladder_go/internal/domain"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	DefaultGoodTillSec     = 31536000
	DefaultPingIntervalSec = 30
	DefaultReadTimeoutSec  = 90
	DefaultTimeoutSec      = 10

	GatewayModeLive  = "live"
	GatewayModePaper = "paper"
)

// DefaultLimitFee is the maximum fee rate attached to every order.
var DefaultLimitFee = decimal.RequireFromString("0.1")

// Config holds every setting of the ladder bot.
// Secrets are overridden from the environment after the file is parsed.
type Config struct {
	App struct {
		Name      string `yaml:"name"`
		StateFile string `yaml:"state_file"`
		DataDir   string `yaml:"data_dir"`
	} `yaml:"app"`

	DYDX struct {
		Host            string          `yaml:"host"`
		WSURL           string          `yaml:"ws_url"`
		NetworkID       int             `yaml:"network_id"`
		APIKey          string          `yaml:"api_key"`
		APISecret       string          `yaml:"api_secret"`
		APIPassphrase   string          `yaml:"api_passphrase"`
		EthereumAddress string          `yaml:"ethereum_address"`
		Market          string          `yaml:"market"`
		LimitFee        decimal.Decimal `yaml:"limit_fee"`
		GoodTillSec     int             `yaml:"good_till_sec"`
		SignerURL       string          `yaml:"signer_url"`
	} `yaml:"dydx"`

	Gateway struct {
		Mode       string `yaml:"mode"`
		TimeoutSec int    `yaml:"timeout_sec"`
	} `yaml:"gateway"`

	Feed struct {
		PingIntervalSec int `yaml:"ping_interval_sec"`
		ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	} `yaml:"feed"`

	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`

	Ladder domain.Ladder `yaml:"ladder"`
}

// LoadConfig reads the YAML file, applies .env and environment overrides,
// fills defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &domain.ConfigError{Field: path, Err: err}
	}

	// .env is optional; real environment variables win over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	overrideWithEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "ladder"
	}
	if c.App.DataDir == "" {
		c.App.DataDir = "data"
	}
	if c.App.StateFile == "" {
		c.App.StateFile = "state.json"
	}
	if c.DYDX.LimitFee.IsZero() {
		c.DYDX.LimitFee = DefaultLimitFee
	}
	if c.DYDX.GoodTillSec == 0 {
		c.DYDX.GoodTillSec = DefaultGoodTillSec
	}
	if c.Gateway.Mode == "" {
		c.Gateway.Mode = GatewayModeLive
	}
	if c.Gateway.TimeoutSec == 0 {
		c.Gateway.TimeoutSec = DefaultTimeoutSec
	}
	if c.Feed.PingIntervalSec == 0 {
		c.Feed.PingIntervalSec = DefaultPingIntervalSec
	}
	if c.Feed.ReadTimeoutSec == 0 {
		c.Feed.ReadTimeoutSec = DefaultReadTimeoutSec
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	switch c.Gateway.Mode {
	case GatewayModeLive, GatewayModePaper:
	default:
		return &domain.ConfigError{Field: "gateway.mode", Err: fmt.Errorf("unknown mode %q", c.Gateway.Mode)}
	}

	if c.DYDX.Market == "" {
		return &domain.ConfigError{Field: "dydx.market", Err: errors.New("market is required")}
	}

	if c.Gateway.Mode == GatewayModeLive {
		if !hasPrefix(c.DYDX.Host, "http://") && !hasPrefix(c.DYDX.Host, "https://") {
			return &domain.ConfigError{Field: "dydx.host", Err: fmt.Errorf("invalid REST URL: %s", c.DYDX.Host)}
		}
		if !hasPrefix(c.DYDX.WSURL, "ws://") && !hasPrefix(c.DYDX.WSURL, "wss://") {
			return &domain.ConfigError{Field: "dydx.ws_url", Err: fmt.Errorf("invalid WS URL: %s", c.DYDX.WSURL)}
		}
		if c.DYDX.APIKey == "" || c.DYDX.APISecret == "" || c.DYDX.APIPassphrase == "" {
			return &domain.ConfigError{Field: "dydx.api_key", Err: errors.New("api credentials are required in live mode")}
		}
		if c.DYDX.EthereumAddress == "" {
			return &domain.ConfigError{Field: "dydx.ethereum_address", Err: errors.New("ethereum address is required in live mode")}
		}
		if !hasPrefix(c.DYDX.SignerURL, "http://") && !hasPrefix(c.DYDX.SignerURL, "https://") {
			return &domain.ConfigError{Field: "dydx.signer_url", Err: fmt.Errorf("invalid signer URL: %s", c.DYDX.SignerURL)}
		}
	}

	if !c.DYDX.LimitFee.IsPositive() {
		return &domain.ConfigError{Field: "dydx.limit_fee", Err: errors.New("limit fee must be positive")}
	}
	if c.DYDX.GoodTillSec <= 0 || c.Gateway.TimeoutSec <= 0 {
		return &domain.ConfigError{Field: "dydx.good_till_sec", Err: errors.New("durations must be positive")}
	}
	if c.Feed.PingIntervalSec <= 0 || c.Feed.ReadTimeoutSec <= c.Feed.PingIntervalSec {
		return &domain.ConfigError{Field: "feed", Err: errors.New("read timeout must exceed a positive ping interval")}
	}

	return c.Ladder.Validate()
}

func hasPrefix(s, prefix string) bool {
	return strings.HasPrefix(s, prefix)
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("LADDER_DYDX_API_KEY"); key != "" {
		cfg.DYDX.APIKey = key
	}
	if secret := os.Getenv("LADDER_DYDX_API_SECRET"); secret != "" {
		cfg.DYDX.APISecret = secret
	}
	if pass := os.Getenv("LADDER_DYDX_PASSPHRASE"); pass != "" {
		cfg.DYDX.APIPassphrase = pass
	}
	if addr := os.Getenv("LADDER_DYDX_ETHEREUM_ADDRESS"); addr != "" {
		cfg.DYDX.EthereumAddress = addr
	}
	if token := os.Getenv("LADDER_TELEGRAM_TOKEN"); token != "" {
		cfg.Telegram.BotToken = token
	}
	if chat := os.Getenv("LADDER_TELEGRAM_CHAT_ID"); chat != "" {
		cfg.Telegram.ChatID = chat
	}
}

// StatePath is the snapshot file location.
func (c *Config) StatePath() string {
	return joinData(c.App.DataDir, c.App.StateFile)
}

// JournalPath is the sqlite journal location.
func (c *Config) JournalPath() string {
	return joinData(c.App.DataDir, "journal.db")
}
