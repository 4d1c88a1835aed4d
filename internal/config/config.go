package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"stayledger/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	GatewayModeLive    = "live"
	GatewayModeSandbox = "sandbox"

	EnvProduction = "production"
)

type Config struct {
	App           AppConfig          `yaml:"app"`
	Database      DatabaseConfig     `yaml:"database"`
	Redis         RedisConfig        `yaml:"redis"`
	API           APIConfig          `yaml:"api"`
	Gateway       GatewayConfig      `yaml:"gateway"`
	Booking       BookingConfig      `yaml:"booking"`
	Credits       CreditsConfig      `yaml:"credits"`
	Notifications NotificationConfig `yaml:"notifications"`
	Kafka         KafkaConfig        `yaml:"kafka"`
	Jobs          JobsConfig         `yaml:"jobs"`
	Backup        BackupConfig       `yaml:"backup"`
	Monitoring    MonitoringConfig   `yaml:"monitoring"`
	Logging       LoggingConfig      `yaml:"logging"`
	Exports       ExportConfig       `yaml:"exports"`
	Admins        []int64            `yaml:"admins"`
	Properties    []models.Property  `yaml:"properties"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	HeaderUserID string         `yaml:"header_user_id"`
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

// GatewayConfig describes the external payment processor.
// Mode "sandbox" swaps in the local simulator and is refused in production.
type GatewayConfig struct {
	Mode      string        `yaml:"mode"`
	BaseURL   string        `yaml:"base_url"`
	SecretKey string        `yaml:"secret_key"`
	Timeout   time.Duration `yaml:"timeout"`
}

type BookingConfig struct {
	ConfirmLockTTL     time.Duration `yaml:"confirm_lock_ttl"`
	CheckoutSessionTTL time.Duration `yaml:"checkout_session_ttl"`
	CreateRateLimit    int           `yaml:"create_rate_limit"`
	CreateRateWindow   time.Duration `yaml:"create_rate_window"`
}

type CreditsConfig struct {
	ReviewSNSAward int64 `yaml:"review_sns_award"`
}

type NotificationConfig struct {
	Enabled       bool          `yaml:"enabled"`
	TelegramToken string        `yaml:"telegram_token"`
	QueueSize     int           `yaml:"queue_size"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay"`
}

type KafkaConfig struct {
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	ClientID string   `yaml:"client_id"`
}

// Enabled reports whether domain events should be forwarded to Kafka.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type JobsConfig struct {
	Enabled               bool   `yaml:"enabled"`
	CompleteStaysSpec     string `yaml:"complete_stays"`
	ReconcileSpec         string `yaml:"reconcile"`
	NotificationRetrySpec string `yaml:"notification_retry"`
	ExpireCheckoutsSpec   string `yaml:"expire_checkouts"`
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

func Load(configPath string) (*Config, error) {
	// .env необязателен: в контейнере переменные приходят из окружения
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
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

	switch c.Gateway.Mode {
	case GatewayModeLive:
		if c.Gateway.SecretKey == "" {
			return errors.New("gateway secret key is required in live mode")
		}
		if c.Gateway.BaseURL == "" {
			return errors.New("gateway base url is required in live mode")
		}
	case GatewayModeSandbox:
		if strings.EqualFold(c.App.Environment, EnvProduction) {
			return errors.New("sandbox gateway is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown gateway mode %q", c.Gateway.Mode)
	}

	if c.Notifications.Enabled && c.Notifications.TelegramToken == "" {
		return errors.New("notifications require a telegram token")
	}

	return ValidateProperties(c.Properties)
}

// ValidateProperties checks the seed listing catalogue.
func ValidateProperties(properties []models.Property) error {
	ids := make(map[int64]bool)
	for i := range properties {
		p := &properties[i]
		if p.ID == 0 {
			return fmt.Errorf("property '%s' has invalid ID 0", p.Title)
		}
		if ids[p.ID] {
			return fmt.Errorf("duplicate property ID found: %d", p.ID)
		}
		if p.PricePerNight < 0 {
			return fmt.Errorf("property %d has negative price", p.ID)
		}
		if p.MaxNights > 0 && p.MaxNights < p.MinNights {
			return fmt.Errorf("property %d has max_nights below min_nights", p.ID)
		}
		ids[p.ID] = true
	}
	return nil
}

// IsAdmin reports whether userID may use the admin endpoints.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Admins {
		if id == userID {
			return true
		}
	}
	return false
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "stayledger"
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	// auth enabled by default when API is enabled
	if !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
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
	if c.API.Auth.HeaderUserID == "" {
		c.API.Auth.HeaderUserID = "X-User-ID"
	}

	// Платёжный шлюз
	if c.Gateway.Mode == "" {
		c.Gateway.Mode = GatewayModeLive
	}
	if c.Gateway.Timeout == 0 {
		c.Gateway.Timeout = models.DefaultGatewayTimeout * time.Second
	}

	// Бронирования
	if c.Booking.ConfirmLockTTL == 0 {
		c.Booking.ConfirmLockTTL = models.DefaultConfirmLockTTL * time.Second
	}
	if c.Booking.CheckoutSessionTTL == 0 {
		c.Booking.CheckoutSessionTTL = models.DefaultCheckoutSessionTTL * time.Second
	}
	if c.Booking.CreateRateLimit == 0 {
		c.Booking.CreateRateLimit = models.BookingRateLimit
	}
	if c.Booking.CreateRateWindow == 0 {
		c.Booking.CreateRateWindow = models.BookingRateLimitWindow * time.Second
	}
	if c.Credits.ReviewSNSAward == 0 {
		c.Credits.ReviewSNSAward = models.ReviewSNSCreditAward
	}

	// Уведомления
	if c.Notifications.QueueSize == 0 {
		c.Notifications.QueueSize = models.WorkerQueueSize
	}
	if c.Notifications.MaxRetries == 0 {
		c.Notifications.MaxRetries = 5
	}
	if c.Notifications.RetryDelay == 0 {
		c.Notifications.RetryDelay = 2 * time.Second
	}
	if c.Notifications.MaxRetryDelay == 0 {
		c.Notifications.MaxRetryDelay = time.Minute
	}

	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "stayledger.events"
	}
	if c.Kafka.ClientID == "" {
		c.Kafka.ClientID = c.App.Name
	}

	// Расписания фоновых задач
	if c.Jobs.CompleteStaysSpec == "" {
		c.Jobs.CompleteStaysSpec = "@every 1h"
	}
	if c.Jobs.ReconcileSpec == "" {
		c.Jobs.ReconcileSpec = "@every 5m"
	}
	if c.Jobs.NotificationRetrySpec == "" {
		c.Jobs.NotificationRetrySpec = "@every 1m"
	}
	if c.Jobs.ExpireCheckoutsSpec == "" {
		c.Jobs.ExpireCheckoutsSpec = "@every 5m"
	}
	if c.Backup.Schedule == "" {
		c.Backup.Schedule = "0 3 * * *"
	}
	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = 7
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
