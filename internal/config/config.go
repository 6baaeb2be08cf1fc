package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Redis     RedisConfig
	NATS      NATSConfig
	Anthropic AnthropicConfig
	Memory    MemoryConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
	// MigrationsPath is where the SQL migration files live on disk.
	MigrationsPath string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	URL     string
	Enabled bool
}

type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
}

// MemoryConfig holds the knobs of the memory orchestration loop.
type MemoryConfig struct {
	// MaxDispatches caps the conversation/update cycle within one turn.
	MaxDispatches int
	// LockTTL is how long a namespace lease is held before it expires.
	LockTTL time.Duration
	// LockRetry is the poll interval while waiting for a namespace lease.
	LockRetry time.Duration
	// SessionTTL is how long an idle conversation survives in Redis.
	SessionTTL time.Duration
	// MaxSessionMessages trims the persisted conversation to the newest N messages.
	MaxSessionMessages int
}

type RateLimitConfig struct {
	MaxReqs   int
	WindowSec int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		DB: DBConfig{
			Host:     k.String("db.host"),
			Port:     k.Int("db.port"),
			User:     k.String("db.user"),
			Password: k.String("db.password"),
			Name:     k.String("db.name"),
			SSLMode:  k.String("db.sslmode"),
			MaxConns: int32(k.Int("db.max.conns")),
			MigrationsPath: k.String("db.migrations.path"),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL:     k.String("nats.url"),
			Enabled: k.Bool("nats.enabled"),
		},
		Anthropic: AnthropicConfig{
			APIKey:    k.String("anthropic.api.key"),
			Model:     k.String("anthropic.model"),
			MaxTokens: k.Int("anthropic.max.tokens"),
		},
		Memory: MemoryConfig{
			MaxDispatches:      k.Int("memory.max.dispatches"),
			MaxSessionMessages: k.Int("memory.max.session.messages"),
		},
		RateLimit: RateLimitConfig{
			MaxReqs:   k.Int("ratelimit.max.reqs"),
			WindowSec: k.Int("ratelimit.window.sec"),
		},
		CORS: CORSConfig{
			AllowedOrigins: k.Strings("cors.allowed.origins"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "maistro"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "maistro"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.DB.MigrationsPath == "" {
		cfg.DB.MigrationsPath = "migrations"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.Anthropic.Model == "" {
		cfg.Anthropic.Model = "claude-sonnet-4-20250514"
	}
	if cfg.Anthropic.MaxTokens == 0 {
		cfg.Anthropic.MaxTokens = 2048
	}
	if cfg.Memory.MaxDispatches == 0 {
		cfg.Memory.MaxDispatches = 8
	}
	if cfg.Memory.MaxSessionMessages == 0 {
		cfg.Memory.MaxSessionMessages = 60
	}
	if cfg.RateLimit.MaxReqs == 0 {
		cfg.RateLimit.MaxReqs = 30
	}
	if cfg.RateLimit.WindowSec == 0 {
		cfg.RateLimit.WindowSec = 60
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Parse durations
	cfg.Memory.LockTTL, err = parseDuration(k.String("memory.lock.ttl"), "30s")
	if err != nil {
		return nil, fmt.Errorf("parsing memory lock ttl: %w", err)
	}
	cfg.Memory.LockRetry, err = parseDuration(k.String("memory.lock.retry"), "50ms")
	if err != nil {
		return nil, fmt.Errorf("parsing memory lock retry: %w", err)
	}
	cfg.Memory.SessionTTL, err = parseDuration(k.String("memory.session.ttl"), "72h")
	if err != nil {
		return nil, fmt.Errorf("parsing memory session ttl: %w", err)
	}

	return cfg, nil
}

func parseDuration(s, fallback string) (time.Duration, error) {
	if s == "" {
		s = fallback
	}
	return time.ParseDuration(s)
}
