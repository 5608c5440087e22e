package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// Broker names accepted by realtime.broker
const (
	BrokerLocal = "local"
	BrokerRedis = "redis"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Devices   DevicesConfig   `mapstructure:"devices"`
	Retention RetentionConfig `mapstructure:"retention"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SecurityConfig contains parent authentication settings
type SecurityConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// LoggingConfig contains logger settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// EngineConfig contains the time-budget engine settings
type EngineConfig struct {
	Timezone                string `mapstructure:"timezone"`
	DefaultDailyMinutes     int    `mapstructure:"default_daily_minutes"`
	WarningThresholds       []int  `mapstructure:"warning_thresholds"`
	ExtensionDefaultMinutes int    `mapstructure:"extension_default_minutes"`
}

// Location resolves the configured timezone
func (e EngineConfig) Location() (*time.Location, error) {
	if e.Timezone == "" || e.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(e.Timezone)
}

// RealtimeConfig selects the family channel broker
type RealtimeConfig struct {
	Broker        string      `mapstructure:"broker"`
	ChannelPrefix string      `mapstructure:"channel_prefix"`
	Redis         RedisConfig `mapstructure:"redis"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DevicesConfig contains device resolver cache settings
type DevicesConfig struct {
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// RetentionConfig contains the retention sweeper settings
type RetentionConfig struct {
	UsageLogDays  int           `mapstructure:"usage_log_days"`
	WarningDays   int           `mapstructure:"warning_days"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// MetricsConfig contains Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// TelegramConfig contains the parent Telegram bot settings
type TelegramConfig struct {
	Enabled       bool             `mapstructure:"enabled"`
	Token         string           `mapstructure:"token"`
	WebhookURL    string           `mapstructure:"webhook_url"` // long polling when empty
	WebhookSecret string           `mapstructure:"webhook_secret"`
	Families      []TelegramFamily `mapstructure:"families"`
}

// TelegramFamily links a Telegram chat to a parent account
type TelegramFamily struct {
	AccountID string `mapstructure:"account_id"`
	ChatID    int64  `mapstructure:"chat_id"`
}

// FamilyForChat returns the account a chat is linked to
func (t TelegramConfig) FamilyForChat(chatID int64) (string, bool) {
	for _, family := range t.Families {
		if family.ChatID == chatID {
			return family.AccountID, true
		}
	}
	return "", false
}

// ChatsForFamily returns every chat linked to an account
func (t TelegramConfig) ChatsForFamily(accountID string) []int64 {
	var chats []int64
	for _, family := range t.Families {
		if family.AccountID == accountID {
			chats = append(chats, family.ChatID)
		}
	}
	return chats
}

// Load loads configuration from an optional file and KIDFUN_* environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("KIDFUN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, ErrConfigFileNotFound
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")

	// Database defaults
	v.SetDefault("database.path", "./kidfun.db")

	// Security defaults
	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("security.token_ttl", "24h")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Engine defaults
	v.SetDefault("engine.timezone", "Local")
	v.SetDefault("engine.default_daily_minutes", 120)
	v.SetDefault("engine.warning_thresholds", []int{30, 15, 5})
	v.SetDefault("engine.extension_default_minutes", 30)

	// Realtime defaults
	v.SetDefault("realtime.broker", BrokerLocal)
	v.SetDefault("realtime.channel_prefix", "kidfun:family:")
	v.SetDefault("realtime.redis.host", "localhost")
	v.SetDefault("realtime.redis.port", 6379)
	v.SetDefault("realtime.redis.password", "")
	v.SetDefault("realtime.redis.db", 0)
	v.SetDefault("realtime.redis.pool_size", 10)
	v.SetDefault("realtime.redis.dial_timeout", "5s")
	v.SetDefault("realtime.redis.read_timeout", "3s")
	v.SetDefault("realtime.redis.write_timeout", "3s")

	// Device resolver defaults
	v.SetDefault("devices.cache_size", 1024)
	v.SetDefault("devices.cache_ttl", "1m")

	// Retention defaults
	v.SetDefault("retention.usage_log_days", 90)
	v.SetDefault("retention.warning_days", 90)
	v.SetDefault("retention.sweep_interval", "1h")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.webhook_url", "")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: invalid server port", ErrInvalidConfig)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("%w: database path is required", ErrInvalidConfig)
	}

	if c.Engine.DefaultDailyMinutes < 0 {
		return fmt.Errorf("%w: default daily minutes cannot be negative", ErrInvalidConfig)
	}

	for _, threshold := range c.Engine.WarningThresholds {
		if threshold <= 0 {
			return fmt.Errorf("%w: warning thresholds must be positive", ErrInvalidConfig)
		}
	}

	if c.Engine.ExtensionDefaultMinutes <= 0 {
		return fmt.Errorf("%w: extension default minutes must be positive", ErrInvalidConfig)
	}

	if _, err := c.Engine.Location(); err != nil {
		return fmt.Errorf("%w: unknown timezone %q", ErrInvalidConfig, c.Engine.Timezone)
	}

	switch c.Realtime.Broker {
	case BrokerLocal:
	case BrokerRedis:
		if c.Realtime.Redis.Host == "" {
			return fmt.Errorf("%w: redis host is required for the redis broker", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown realtime broker %q", ErrInvalidConfig, c.Realtime.Broker)
	}

	if c.Telegram.Enabled {
		if c.Telegram.Token == "" {
			return fmt.Errorf("%w: telegram.token is required", ErrInvalidConfig)
		}
		if len(c.Telegram.Families) == 0 {
			return fmt.Errorf("%w: telegram.families cannot be empty", ErrInvalidConfig)
		}
		for _, family := range c.Telegram.Families {
			if family.AccountID == "" || family.ChatID == 0 {
				return fmt.Errorf("%w: telegram families need account_id and chat_id", ErrInvalidConfig)
			}
		}
	}

	if c.Retention.SweepInterval <= 0 {
		return fmt.Errorf("%w: retention sweep interval must be positive", ErrInvalidConfig)
	}

	if c.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(c.Database.Path), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return nil
}

// ValidateServer checks the settings only the HTTP server needs
func (c *Config) ValidateServer() error {
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("%w: security.jwt_secret is required", ErrInvalidConfig)
	}
	if c.Security.TokenTTL <= 0 {
		return fmt.Errorf("%w: security.token_ttl must be positive", ErrInvalidConfig)
	}
	return nil
}
