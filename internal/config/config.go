package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App          AppConfig          `yaml:"app"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Backup       BackupConfig       `yaml:"backup"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
	Logging      LoggingConfig      `yaml:"logging"`
	API          APIConfig          `yaml:"api"`
	Payment      PaymentConfig      `yaml:"payment"`
	Booking      BookingConfig      `yaml:"booking"`
	Pass         PassConfig         `yaml:"pass"`
	Notification NotificationConfig `yaml:"notification"`
	Worker       WorkerConfig       `yaml:"worker"`
	Exports      ExportConfig       `yaml:"exports"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	HeaderActor  string         `yaml:"header_actor"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// PaymentConfig describes the payment gateway account used for order intents
// and signature verification.
type PaymentConfig struct {
	Provider   string        `yaml:"provider"`
	BaseURL    string        `yaml:"base_url"`
	KeyID      string        `yaml:"key_id"`
	KeySecret  string        `yaml:"key_secret"`
	Currency   string        `yaml:"currency"`
	Timeout    time.Duration `yaml:"timeout"`
	IntentTTL  time.Duration `yaml:"intent_ttl"`
	OrderLimit int           `yaml:"order_limit"`
	// OrderWindow bounds OrderLimit per actor.
	OrderWindow time.Duration `yaml:"order_window"`
}

type BookingConfig struct {
	// PlatformFeeBps is the platform share in basis points (1000 = 10%).
	PlatformFeeBps  int64  `yaml:"platform_fee_bps"`
	CodePrefix      string `yaml:"code_prefix"`
	CodeLength      int    `yaml:"code_length"`
	CodeMaxAttempts int    `yaml:"code_max_attempts"`
	CatalogPath     string `yaml:"catalog_path"`
}

type PassConfig struct {
	// TokenKey is a hex encoded 32 byte AES key.
	TokenKey string `yaml:"token_key"`
	QRWidth  int    `yaml:"qr_width"`
}

type NotificationConfig struct {
	Email    EmailConfig    `yaml:"email"`
	Telegram TelegramConfig `yaml:"telegram"`
}

type EmailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	FromName string `yaml:"from_name"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
	Debug    bool   `yaml:"debug"`
}

type WorkerConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxRetries     int           `yaml:"max_retries"`
	ExpiryInterval time.Duration `yaml:"expiry_interval"`
}

func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if strings.TrimSpace(c.Payment.KeySecret) == "" {
		return errors.New("payment key secret is required")
	}

	if c.Booking.PlatformFeeBps < 0 || c.Booking.PlatformFeeBps > 10000 {
		return fmt.Errorf("platform fee must be within 0..10000 bps, got %d", c.Booking.PlatformFeeBps)
	}

	if c.Pass.TokenKey == "" {
		return errors.New("pass token key is required")
	}

	if c.Notification.Telegram.Enabled && c.Notification.Telegram.BotToken == "" {
		return errors.New("telegram bot token is required when telegram notifications are enabled")
	}

	if c.Notification.Email.Enabled && c.Notification.Email.Host == "" {
		return errors.New("smtp host is required when email notifications are enabled")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.API.Auth.HeaderActor == "" {
		c.API.Auth.HeaderActor = "x-actor-id"
	}

	if c.Payment.Provider == "" {
		c.Payment.Provider = "razorpay"
	}
	if c.Payment.BaseURL == "" {
		c.Payment.BaseURL = "https://api.razorpay.com"
	}
	if c.Payment.Currency == "" {
		c.Payment.Currency = "INR"
	}
	if c.Payment.Timeout == 0 {
		c.Payment.Timeout = 10 * time.Second
	}
	if c.Payment.IntentTTL == 0 {
		c.Payment.IntentTTL = 30 * time.Minute
	}
	if c.Payment.OrderLimit == 0 {
		c.Payment.OrderLimit = 10
	}
	if c.Payment.OrderWindow == 0 {
		c.Payment.OrderWindow = time.Minute
	}

	if c.Booking.PlatformFeeBps == 0 {
		c.Booking.PlatformFeeBps = 1000
	}
	if c.Booking.CodePrefix == "" {
		c.Booking.CodePrefix = "FIT"
	}
	if c.Booking.CodeLength == 0 {
		c.Booking.CodeLength = 6
	}
	if c.Booking.CodeMaxAttempts == 0 {
		c.Booking.CodeMaxAttempts = 5
	}

	if c.Pass.QRWidth == 0 {
		c.Pass.QRWidth = 20
	}

	if c.Notification.Email.Port == 0 {
		c.Notification.Email.Port = 587
	}

	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = 2 * time.Second
	}
	if c.Worker.MaxRetries == 0 {
		c.Worker.MaxRetries = 5
	}
	if c.Worker.ExpiryInterval == 0 {
		c.Worker.ExpiryInterval = time.Hour
	}

	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
