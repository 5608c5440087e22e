package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) Config {
	return Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{Path: filepath.Join(t.TempDir(), "kidfun.db")},
		Security: SecurityConfig{JWTSecret: "secret", TokenTTL: time.Hour},
		Engine: EngineConfig{
			Timezone:                "UTC",
			DefaultDailyMinutes:     120,
			WarningThresholds:       []int{30, 15, 5},
			ExtensionDefaultMinutes: 30,
		},
		Realtime:  RealtimeConfig{Broker: BrokerLocal},
		Retention: RetentionConfig{SweepInterval: time.Hour},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid port - zero",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port - too large",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "negative default minutes",
			mutate:  func(c *Config) { c.Engine.DefaultDailyMinutes = -1 },
			wantErr: true,
		},
		{
			name:    "non-positive threshold",
			mutate:  func(c *Config) { c.Engine.WarningThresholds = []int{30, 0} },
			wantErr: true,
		},
		{
			name:    "unknown timezone",
			mutate:  func(c *Config) { c.Engine.Timezone = "Mars/Olympus" },
			wantErr: true,
		},
		{
			name:    "unknown broker",
			mutate:  func(c *Config) { c.Realtime.Broker = "kafka" },
			wantErr: true,
		},
		{
			name: "redis broker without host",
			mutate: func(c *Config) {
				c.Realtime.Broker = BrokerRedis
				c.Realtime.Redis.Host = ""
			},
			wantErr: true,
		},
		{
			name: "telegram without token",
			mutate: func(c *Config) {
				c.Telegram = TelegramConfig{Enabled: true, Families: []TelegramFamily{{AccountID: "acc_1", ChatID: 42}}}
			},
			wantErr: true,
		},
		{
			name: "telegram without families",
			mutate: func(c *Config) {
				c.Telegram = TelegramConfig{Enabled: true, Token: "123:abc"}
			},
			wantErr: true,
		},
		{
			name: "telegram family without chat",
			mutate: func(c *Config) {
				c.Telegram = TelegramConfig{Enabled: true, Token: "123:abc", Families: []TelegramFamily{{AccountID: "acc_1"}}}
			},
			wantErr: true,
		},
		{
			name: "disabled telegram is not checked",
			mutate: func(c *Config) {
				c.Telegram = TelegramConfig{Token: ""}
			},
			wantErr: false,
		},
		{
			name:    "zero sweep interval",
			mutate:  func(c *Config) { c.Retention.SweepInterval = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig(t)
			tt.mutate(&config)

			err := config.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateServer(t *testing.T) {
	config := validConfig(t)
	assert.NoError(t, config.ValidateServer())

	config.Security.JWTSecret = ""
	assert.ErrorIs(t, config.ValidateServer(), ErrInvalidConfig)
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	dbPath := filepath.Join(tmpDir, "data", "kidfun.db")

	content := `
server:
  host: 127.0.0.1
  port: 9000
database:
  path: ` + dbPath + `
security:
  jwt_secret: test-secret
  token_ttl: 2h
engine:
  timezone: UTC
  warning_thresholds: [20, 10]
realtime:
  broker: redis
  redis:
    host: redis.local
telegram:
  enabled: true
  token: "123:abc"
  families:
    - account_id: acc_1
      chat_id: 1001
    - account_id: acc_1
      chat_id: 1002
`
	err := os.WriteFile(configPath, []byte(content), 0644)
	require.NoError(t, err)

	config, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", config.Server.Addr())
	assert.Equal(t, dbPath, config.Database.Path)
	assert.Equal(t, "test-secret", config.Security.JWTSecret)
	assert.Equal(t, 2*time.Hour, config.Security.TokenTTL)
	assert.Equal(t, []int{20, 10}, config.Engine.WarningThresholds)
	assert.Equal(t, BrokerRedis, config.Realtime.Broker)
	assert.Equal(t, "redis.local", config.Realtime.Redis.Host)
	assert.True(t, config.Telegram.Enabled)
	assert.Equal(t, []int64{1001, 1002}, config.Telegram.ChatsForFamily("acc_1"))

	// Defaults fill whatever the file leaves out
	assert.Equal(t, 120, config.Engine.DefaultDailyMinutes)
	assert.Equal(t, 30, config.Engine.ExtensionDefaultMinutes)
	assert.Equal(t, 6379, config.Realtime.Redis.Port)
	assert.Equal(t, 90, config.Retention.UsageLogDays)
	assert.Equal(t, time.Hour, config.Retention.SweepInterval)
	assert.Equal(t, time.Minute, config.Devices.CacheTTL)

	// Database directory is created on validation
	_, err = os.Stat(filepath.Dir(dbPath))
	assert.NoError(t, err)

	_, err = Load(filepath.Join(tmpDir, "missing.yaml"))
	assert.ErrorIs(t, err, ErrConfigFileNotFound)

	invalidPath := filepath.Join(tmpDir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalidPath, []byte("server: [unclosed"), 0644))
	_, err = Load(invalidPath)
	assert.Error(t, err)
}

func TestLoad_Environment(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "env.db")

	t.Setenv("KIDFUN_SERVER_PORT", "9090")
	t.Setenv("KIDFUN_DATABASE_PATH", dbPath)
	t.Setenv("KIDFUN_SECURITY_JWT_SECRET", "env-secret")
	t.Setenv("KIDFUN_ENGINE_TIMEZONE", "UTC")
	t.Setenv("KIDFUN_ENGINE_DEFAULT_DAILY_MINUTES", "90")

	config, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", config.Server.Host)
	assert.Equal(t, 9090, config.Server.Port)
	assert.Equal(t, dbPath, config.Database.Path)
	assert.Equal(t, "env-secret", config.Security.JWTSecret)
	assert.Equal(t, 90, config.Engine.DefaultDailyMinutes)
	assert.Equal(t, BrokerLocal, config.Realtime.Broker)

	location, err := config.Engine.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, location)
}

func TestTelegramConfig_FamilyForChat(t *testing.T) {
	cfg := TelegramConfig{Families: []TelegramFamily{
		{AccountID: "acc_1", ChatID: 1001},
		{AccountID: "acc_2", ChatID: 2001},
	}}

	family, ok := cfg.FamilyForChat(2001)
	assert.True(t, ok)
	assert.Equal(t, "acc_2", family)

	_, ok = cfg.FamilyForChat(3001)
	assert.False(t, ok)

	assert.Equal(t, []int64{1001}, cfg.ChatsForFamily("acc_1"))
	assert.Empty(t, cfg.ChatsForFamily("acc_3"))
}
