package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Store     string          `yaml:"store"` // "postgres" or "memory"
	JWT       JWTConfig       `yaml:"jwt"`
	Log       LogConfig       `yaml:"log"`
	Booking   BookingConfig   `yaml:"booking"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Outbox    OutboxConfig    `yaml:"outbox"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Seed      SeedConfig      `yaml:"seed"`
}

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type ServerConfig struct {
	Host     string `yaml:"host"`
	HTTPPort int    `yaml:"http_port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// DatabaseConfig contains PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

type JWTConfig struct {
	Secret            string `yaml:"secret"`
	AccessTokenExpiry int    `yaml:"access_token_expiry_minutes"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// BookingConfig holds the lifecycle deadlines. PaymentRequired=false lets a
// signed contract confirm the booking without a payment order.
type BookingConfig struct {
	ProviderResponseMinutes int    `yaml:"provider_response_minutes"`
	PaymentWindowMinutes    int    `yaml:"payment_window_minutes"`
	PaymentRequired         *bool  `yaml:"payment_required"`
	Currency                string `yaml:"currency"`
	SweepBatchSize          int    `yaml:"sweep_batch_size"`
}

type GatewayConfig struct {
	BaseURL        string `yaml:"base_url"`
	KeyID          string `yaml:"key_id"`
	KeySecret      string `yaml:"key_secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// RedisConfig: an empty Addr disables the availability cache.
type RedisConfig struct {
	Addr                   string `yaml:"addr"`
	Password               string `yaml:"password"`
	DB                     int    `yaml:"db"`
	AvailabilityTTLSeconds int    `yaml:"availability_ttl_seconds"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type OutboxConfig struct {
	BatchSize int `yaml:"batch_size"`
}

// SchedulerConfig contains cron schedule settings (seconds field included)
type SchedulerConfig struct {
	ExpireBookings string `yaml:"expire_bookings"`
	RelayOutbox    string `yaml:"relay_outbox"`
}

// SeedConfig lists vehicles loaded into the memory store at startup. The
// postgres store keeps vehicles in its own table and ignores it.
type SeedConfig struct {
	Vehicles []VehicleSeed `yaml:"vehicles"`
}

type VehicleSeed struct {
	ID                 string `yaml:"id"`
	ProviderID         string `yaml:"provider_id"`
	Title              string `yaml:"title"`
	RegistrationNumber string `yaml:"registration_number"`
	DailyRate          int64  `yaml:"daily_rate"`
	Currency           string `yaml:"currency"`
	Status             string `yaml:"status"`
}

// Load reads configuration from a YAML file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies environment overrides and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.overrideWithEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() {
	// Database
	if val := os.Getenv("DB_HOST"); val != "" {
		c.Database.Host = val
	}
	if val := os.Getenv("DB_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Database.Port)
	}
	if val := os.Getenv("DB_USER"); val != "" {
		c.Database.User = val
	}
	if val := os.Getenv("DB_PASSWORD"); val != "" {
		c.Database.Password = val
	}
	if val := os.Getenv("DB_NAME"); val != "" {
		c.Database.Database = val
	}
	if val := os.Getenv("DB_SSL_MODE"); val != "" {
		c.Database.SSLMode = val
	}
	if val := os.Getenv("STORE"); val != "" {
		c.Store = val
	}

	if val := os.Getenv("JWT_SECRET"); val != "" {
		c.JWT.Secret = val
	}

	// Gateway
	if val := os.Getenv("GATEWAY_KEY_ID"); val != "" {
		c.Gateway.KeyID = val
	}
	if val := os.Getenv("GATEWAY_KEY_SECRET"); val != "" {
		c.Gateway.KeySecret = val
	}

	if val := os.Getenv("REDIS_ADDR"); val != "" {
		c.Redis.Addr = val
	}
	if val := os.Getenv("KAFKA_BROKERS"); val != "" {
		c.Kafka.Brokers = strings.Split(val, ",")
	}

	// Log
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}

	if val := os.Getenv("PAYMENT_REQUIRED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Booking.PaymentRequired = &b
		}
	}
}

// Validate fills defaults and checks the configuration
func (c *Config) Validate() error {
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8080
	}
	if c.Server.GRPCPort == 0 {
		c.Server.GRPCPort = 9090
	}
	if c.Server.HTTPPort < 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port: %d", c.Server.HTTPPort)
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("invalid grpc port: %d", c.Server.GRPCPort)
	}

	if c.Store == "" {
		c.Store = StorePostgres
	}
	switch c.Store {
	case StorePostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if c.Database.Port == 0 {
			c.Database.Port = 5432
		}
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = "disable"
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}

	// JWT validation
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters")
	}
	if c.JWT.AccessTokenExpiry == 0 {
		c.JWT.AccessTokenExpiry = 60
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	// Booking defaults
	if c.Booking.ProviderResponseMinutes == 0 {
		c.Booking.ProviderResponseMinutes = 24 * 60
	}
	if c.Booking.PaymentWindowMinutes == 0 {
		c.Booking.PaymentWindowMinutes = 30
	}
	if c.Booking.ProviderResponseMinutes < 0 || c.Booking.PaymentWindowMinutes < 0 {
		return fmt.Errorf("booking deadlines must be positive")
	}
	if c.Booking.PaymentRequired == nil {
		required := true
		c.Booking.PaymentRequired = &required
	}
	if c.Booking.Currency == "" {
		c.Booking.Currency = "INR"
	}
	if c.Booking.SweepBatchSize <= 0 {
		c.Booking.SweepBatchSize = 100
	}

	if *c.Booking.PaymentRequired {
		if c.Gateway.BaseURL == "" {
			return fmt.Errorf("gateway base_url is required when payment is required")
		}
		if c.Gateway.KeySecret == "" {
			return fmt.Errorf("gateway key_secret is required when payment is required")
		}
	}
	if c.Gateway.TimeoutSeconds == 0 {
		c.Gateway.TimeoutSeconds = 10
	}

	for i := range c.Seed.Vehicles {
		v := &c.Seed.Vehicles[i]
		if v.ID == "" || v.ProviderID == "" {
			return fmt.Errorf("seed vehicle %d: id and provider_id are required", i)
		}
		if v.DailyRate < 0 {
			return fmt.Errorf("seed vehicle %s: daily_rate must not be negative", v.ID)
		}
		if v.Currency == "" {
			v.Currency = c.Booking.Currency
		}
		if v.Status == "" {
			v.Status = "AVAILABLE"
		}
	}

	if c.Redis.AvailabilityTTLSeconds == 0 {
		c.Redis.AvailabilityTTLSeconds = 300
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "booking-events"
	}
	if c.Outbox.BatchSize <= 0 {
		c.Outbox.BatchSize = 100
	}

	// Scheduler defaults
	if c.Scheduler.ExpireBookings == "" {
		c.Scheduler.ExpireBookings = "0 * * * * *" // every minute
	}
	if c.Scheduler.RelayOutbox == "" {
		c.Scheduler.RelayOutbox = "*/10 * * * * *" // every 10 seconds
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, spec := range map[string]string{"expire_bookings": c.Scheduler.ExpireBookings, "relay_outbox": c.Scheduler.RelayOutbox} {
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("invalid scheduler.%s %q: %w", name, spec, err)
		}
	}

	return nil
}

func (c *Config) PaymentRequired() bool {
	return c.Booking.PaymentRequired == nil || *c.Booking.PaymentRequired
}

func (c *Config) ProviderResponseTTL() time.Duration {
	return time.Duration(c.Booking.ProviderResponseMinutes) * time.Minute
}

func (c *Config) PaymentWindow() time.Duration {
	return time.Duration(c.Booking.PaymentWindowMinutes) * time.Minute
}

// GetDatabaseConnectionString returns a PostgreSQL connection string
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

func (c *Config) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.HTTPPort)
}

func (c *Config) GRPCAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.GRPCPort)
}
