package config

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/hoepeyemi/solick-sub001/internal/models"
)

type Config struct {
	Database struct {
		Driver   string `mapstructure:"driver"` // "postgres" or "mysql"
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		DBName   string `mapstructure:"dbname"`
		SSLMode  string `mapstructure:"sslmode"`
		// Migrations is the golang-migrate source directory used for postgres.
		Migrations string `mapstructure:"migrations"`
	} `mapstructure:"database"`
	Solana struct {
		RPCURL       string `mapstructure:"rpc_url"`
		Network      string `mapstructure:"network"` // mainnet-beta, devnet, testnet
		Commitment   string `mapstructure:"commitment"`
		PayerSecret  string `mapstructure:"payer_secret"`
		Recipient    string `mapstructure:"recipient"`
		TokenMint    string `mapstructure:"token_mint"`
		TokenProgram string `mapstructure:"token_program"`
		Decimals     uint8  `mapstructure:"decimals"`
	} `mapstructure:"solana"`
	Pricing struct {
		Price string `mapstructure:"price"` // major units, e.g. "0.0003"
	} `mapstructure:"pricing"`
	Verifier struct {
		InitialDelay    time.Duration `mapstructure:"initial_delay"`
		MaxRetries      int           `mapstructure:"max_retries"`
		RetryInterval   time.Duration `mapstructure:"retry_interval"`
		AllowPermissive bool          `mapstructure:"allow_permissive"`
		PendingTTL      time.Duration `mapstructure:"pending_ttl"`
	} `mapstructure:"verifier"`
	Sponsorship struct {
		RefundPolicy string `mapstructure:"refund_policy"`
		MaxRetries   int    `mapstructure:"max_retries"`
	} `mapstructure:"sponsorship"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	App struct {
		Port          int    `mapstructure:"port"`
		LogLevel      string `mapstructure:"log_level"`
		ReconcileSpec string `mapstructure:"reconcile_spec"` // cron spec for the pending payment reconciler
		Workers       int    `mapstructure:"workers"`
	} `mapstructure:"app"`
}

func setDefaults(v *viper.Viper) {
	// Keys without a default are invisible to AutomaticEnv during Unmarshal.
	for _, key := range []string{
		"database.host", "database.user", "database.password", "database.dbname",
		"solana.rpc_url", "solana.payer_secret", "solana.recipient",
		"solana.token_mint", "solana.token_program", "pricing.price",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.migrations", "file://migrations/postgres")
	v.SetDefault("solana.network", "mainnet-beta")
	v.SetDefault("solana.commitment", "confirmed")
	v.SetDefault("solana.decimals", 6)
	v.SetDefault("verifier.initial_delay", 2*time.Second)
	v.SetDefault("verifier.max_retries", 5)
	v.SetDefault("verifier.retry_interval", 2*time.Second)
	v.SetDefault("verifier.allow_permissive", false)
	v.SetDefault("verifier.pending_ttl", 30*time.Minute)
	v.SetDefault("sponsorship.refund_policy", "keep")
	v.SetDefault("sponsorship.max_retries", 3)
	v.SetDefault("kafka.topic", "sponsorship-events")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.reconcile_spec", "@every 1m")
	v.SetDefault("app.workers", 4)
}

// Load reads config.yaml from the given paths (or ".") and overlays
// SPONSOR_* environment variables, e.g. SPONSOR_SOLANA_RPC_URL.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix("SPONSOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports missing settings the core cannot run without.
func (c *Config) Validate() error {
	if c.Solana.RPCURL == "" {
		return models.Configurationf("solana.rpc_url is empty")
	}
	if c.Solana.Recipient == "" {
		return models.Configurationf("solana.recipient is empty")
	}
	if c.Solana.TokenMint == "" {
		return models.Configurationf("solana.token_mint is empty")
	}
	if _, err := c.Price(); err != nil {
		return err
	}
	return nil
}

func (c *Config) Price() (decimal.Decimal, error) {
	if c.Pricing.Price == "" {
		return decimal.Zero, models.Configurationf("pricing.price is empty")
	}
	p, err := decimal.NewFromString(c.Pricing.Price)
	if err != nil {
		return decimal.Zero, models.Configurationf("pricing.price %q: %v", c.Pricing.Price, err)
	}
	return p, nil
}
