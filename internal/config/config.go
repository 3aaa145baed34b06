package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Redis       RedisConfig       `yaml:"redis"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	RateLimit   RateLimitConfig   `yaml:"ratelimit"`
	Auth        AuthConfig        `yaml:"auth"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Poller      PollerConfig      `yaml:"poller"`
	Webhooks    WebhookConfig     `yaml:"webhooks"`
	Withdrawals WithdrawalsConfig `yaml:"withdrawals"`
	Merchants   MerchantsConfig   `yaml:"merchants"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// GatewayConfig describes the PIX provider. Secrets are expected from the environment.
type GatewayConfig struct {
	BaseURL      string        `yaml:"base_url"`
	TokenURL     string        `yaml:"token_url"`
	PixKey       string        `yaml:"pix_key"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	CertPath     string        `yaml:"cert_path"`
	CertPassword string        `yaml:"cert_password"`
	Timeout      time.Duration `yaml:"timeout"`
	ChargeTTL    time.Duration `yaml:"charge_ttl"`
	RenewBefore  time.Duration `yaml:"renew_before"`
}

type PollerConfig struct {
	Interval       time.Duration `yaml:"interval"`
	OutboxInterval time.Duration `yaml:"outbox_interval"`
	PageSize       int           `yaml:"page_size"`
	ExpiryGrace    time.Duration `yaml:"expiry_grace"`
	LockTTL        time.Duration `yaml:"lock_ttl"`
}

type WebhookConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	MaxFailures int           `yaml:"max_failures"`
}

type WithdrawalsConfig struct {
	FlatFee string `yaml:"flat_fee"`
}

// MerchantsConfig holds onboarding defaults. New merchants start on a percentage fee.
type MerchantsConfig struct {
	DefaultFeePercentage string `yaml:"default_fee_percentage"`
}

// Load reads yaml file, then overlays values from the environment (and a .env file if present).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// .env is optional
	_ = godotenv.Load()
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		c.Postgres.DSN = c.Postgres.DSN + " password=" + pw
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("GATEWAY_CLIENT_SECRET"); v != "" {
		c.Gateway.ClientSecret = v
	}
	if v := os.Getenv("GATEWAY_CERT_PASSWORD"); v != "" {
		c.Gateway.CertPassword = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = 20
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 40
	}
	if c.Gateway.TokenURL == "" && c.Gateway.BaseURL != "" {
		c.Gateway.TokenURL = strings.TrimRight(c.Gateway.BaseURL, "/") + "/oauth/token"
	}
	if c.Gateway.Timeout == 0 {
		c.Gateway.Timeout = 10 * time.Second
	}
	if c.Gateway.ChargeTTL == 0 {
		c.Gateway.ChargeTTL = time.Hour
	}
	if c.Gateway.RenewBefore == 0 {
		c.Gateway.RenewBefore = 5 * time.Minute
	}
	if c.Poller.Interval == 0 {
		c.Poller.Interval = 2 * time.Minute
	}
	if c.Poller.OutboxInterval == 0 {
		c.Poller.OutboxInterval = time.Second
	}
	if c.Poller.PageSize == 0 {
		c.Poller.PageSize = 100
	}
	if c.Poller.ExpiryGrace == 0 {
		c.Poller.ExpiryGrace = 5 * time.Minute
	}
	if c.Poller.LockTTL == 0 {
		c.Poller.LockTTL = c.Poller.Interval
	}
	if c.Webhooks.Timeout == 0 {
		c.Webhooks.Timeout = 5 * time.Second
	}
	if c.Withdrawals.FlatFee == "" {
		c.Withdrawals.FlatFee = "6.99"
	}
	if c.Merchants.DefaultFeePercentage == "" {
		c.Merchants.DefaultFeePercentage = "2.99"
	}
}
