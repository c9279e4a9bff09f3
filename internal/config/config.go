package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v8"
	"github.com/shopspring/decimal"
)

type Config struct {
	Address        string `env:"RUN_ADDRESS" envDefault:"localhost:8080"`
	DatabaseURI    string `env:"DATABASE_URI"`
	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"postgres"`
	LedgerAddress  string `env:"LEDGER_ADDRESS"`
	JWTSecret      string `env:"JWT_SECRET"`
	Debug          bool   `env:"DEBUG"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	AppID               string   `env:"WECHAT_APP_ID"`
	MchID               string   `env:"WECHAT_MCH_ID"`
	MchCertSerial       string   `env:"WECHAT_MCH_CERT_SERIAL"`
	MchPrivateKeyPath   string   `env:"WECHAT_MCH_PRIVATE_KEY_PATH"`
	APIV3Key            string   `env:"WECHAT_API_V3_KEY"`
	PlatformCertPaths   []string `env:"WECHAT_PLATFORM_CERT_PATHS" envSeparator:","`
	PlatformKeyPath     string   `env:"WECHAT_PLATFORM_PUBLIC_KEY_PATH"`
	PlatformPublicKeyID string   `env:"WECHAT_PLATFORM_PUBLIC_KEY_ID"`

	GatewayBaseURL    string        `env:"GATEWAY_BASE_URL" envDefault:"https://api.mch.weixin.qq.com"`
	NotifyURL         string        `env:"NOTIFY_URL"`
	TransferNotifyURL string        `env:"TRANSFER_NOTIFY_URL"`
	TransferSceneID   string        `env:"TRANSFER_SCENE_ID" envDefault:"1000"`
	GatewayTimeout    time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"15s"`
	CallbackMaxAge    time.Duration `env:"CALLBACK_MAX_AGE" envDefault:"5m"`

	WithdrawSingleLimit       int64         `env:"WITHDRAW_SINGLE_LIMIT" envDefault:"20000"`
	WithdrawDailyLimit        int64         `env:"WITHDRAW_DAILY_LIMIT" envDefault:"50000"`
	DefaultCommissionRate     string        `env:"DEFAULT_COMMISSION_RATE" envDefault:"0.1000"`
	TransferReconcileAfter    time.Duration `env:"TRANSFER_RECONCILE_AFTER" envDefault:"10m"`
	TransferReconcileInterval time.Duration `env:"TRANSFER_RECONCILE_INTERVAL" envDefault:"5m"`

	NotifyAttempts      int           `env:"NOTIFY_ATTEMPTS" envDefault:"3"`
	NotifyBackoff       time.Duration `env:"NOTIFY_BACKOFF" envDefault:"1s"`
	NotifyWorkers       int           `env:"NOTIFY_WORKERS" envDefault:"4"`
	NotifySweepInterval time.Duration `env:"NOTIFY_SWEEP_INTERVAL" envDefault:"3m"`
	NotifyTimeout       time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"10s"`
}

func NewConfig() (Config, error) {
	config := Config{}

	if err := env.Parse(&config); err != nil {
		return Config{}, err
	}

	config.parseFlags()

	if err := config.validateConfig(); err != nil {
		return Config{}, err
	}

	return config, nil
}

func (c *Config) parseFlags() {
	flag.StringVar(&c.Address, "a", c.Address, "Service address")
	flag.StringVar(&c.DatabaseURI, "d", c.DatabaseURI, "Database URI")
	flag.StringVar(&c.DatabaseDriver, "driver", c.DatabaseDriver, "Database driver, postgres or sqlite")
	flag.StringVar(&c.LedgerAddress, "r", c.LedgerAddress, "Legacy ledger address")
	flag.BoolVar(&c.Debug, "debug", c.Debug, "Development mode")

	flag.Parse()
}

func (c *Config) validateConfig() error {
	if c.DatabaseURI == "" {
		return errors.New("database URI is required")
	}

	if c.DatabaseDriver != "postgres" && c.DatabaseDriver != "sqlite" {
		return fmt.Errorf("unsupported database driver %q", c.DatabaseDriver)
	}

	if c.JWTSecret == "" {
		return errors.New("JWT secret is required")
	}

	for _, URI := range []string{c.LedgerAddress, c.GatewayBaseURL} {
		if URI == "" {
			continue
		}

		if _, err := url.ParseRequestURI(URI); err != nil {
			return err
		}
	}

	if _, err := c.CommissionRate(); err != nil {
		return err
	}

	if c.APIV3Key != "" && len(c.APIV3Key) != 32 {
		return errors.New("WECHAT_API_V3_KEY must be 32 bytes")
	}

	return nil
}

func (c *Config) CommissionRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.DefaultCommissionRate)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid commission rate: %w", err)
	}

	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Decimal{}, fmt.Errorf("commission rate %s is outside [0, 1]", rate)
	}

	return rate.Round(4), nil
}

// MerchantConfigured reports whether real gateway credentials are provisioned.
// Without them payments are simulated.
func (c *Config) MerchantConfigured() bool {
	return c.MchPrivateKeyPath != "" && c.MchCertSerial != "" && c.MchID != ""
}
