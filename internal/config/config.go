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
	GRPC      GRPCConfig
	DB        DBConfig
	Redis     RedisConfig
	NATS      NATSConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Breaker   BreakerConfig
	CORS      CORSConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host string
	Port int
	// TrustedProxies lists proxy addresses or CIDRs whose forwarding headers
	// are believed. Empty means the socket address is always the client.
	TrustedProxies []string
}

type GRPCConfig struct {
	Host   string
	Port   int
	APIKey string
}

type DBConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxConns       int32
	// MigrationsPath overrides the embedded schema when set.
	MigrationsPath string
	AutoMigrate    bool
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

// NATSConfig controls the event bus. An empty URL disables publishing.
type NATSConfig struct {
	URL string
}

type JWTConfig struct {
	Secret string
	Issuer string
}

// RateLimitConfig selects the counter store and what happens when it is down.
type RateLimitConfig struct {
	Store         string // "redis" or "memory"
	FailurePolicy string // "fail_open" or "fail_closed"
	Window        time.Duration
	// TierLimits overrides per-tier request budgets, keyed by tier name.
	TierLimits map[string]int
}

// BreakerConfig holds the defaults applied to every catalogued service.
type BreakerConfig struct {
	Store             string // "redis" or "memory"
	UnavailablePolicy string // "assume_open" or "assume_closed"
	FailureThreshold  int
	SuccessThreshold  int
	OpenDuration      time.Duration
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
			Host:           k.String("server.host"),
			Port:           k.Int("server.port"),
			TrustedProxies: splitList(k.String("server.trusted.proxies")),
		},
		GRPC: GRPCConfig{
			Host:   k.String("grpc.host"),
			Port:   k.Int("grpc.port"),
			APIKey: k.String("grpc.api.key"),
		},
		DB: DBConfig{
			Host:           k.String("db.host"),
			Port:           k.Int("db.port"),
			User:           k.String("db.user"),
			Password:       k.String("db.password"),
			Name:           k.String("db.name"),
			SSLMode:        k.String("db.sslmode"),
			MaxConns:       int32(k.Int("db.max.conns")),
			MigrationsPath: k.String("db.migrations.path"),
			AutoMigrate:    k.Bool("db.auto.migrate"),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		JWT: JWTConfig{
			Secret: k.String("jwt.secret"),
			Issuer: k.String("jwt.issuer"),
		},
		RateLimit: RateLimitConfig{
			Store:         k.String("ratelimit.store"),
			FailurePolicy: k.String("ratelimit.failure.policy"),
			TierLimits:    parseTierLimits(k),
		},
		Breaker: BreakerConfig{
			Store:             k.String("breaker.store"),
			UnavailablePolicy: k.String("breaker.unavailable.policy"),
			FailureThreshold:  k.Int("breaker.failure.threshold"),
			SuccessThreshold:  k.Int("breaker.success.threshold"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(k.String("cors.allowed.origins")),
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
	if cfg.GRPC.Host == "" {
		cfg.GRPC.Host = "0.0.0.0"
	}
	if cfg.GRPC.Port == 0 {
		cfg.GRPC.Port = 50051
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "vendorportal"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "vendorportal"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "vendorportal"
	}
	if cfg.RateLimit.Store == "" {
		cfg.RateLimit.Store = "redis"
	}
	if cfg.RateLimit.FailurePolicy == "" {
		cfg.RateLimit.FailurePolicy = "fail_open"
	}
	if cfg.Breaker.Store == "" {
		cfg.Breaker.Store = "redis"
	}
	if cfg.Breaker.UnavailablePolicy == "" {
		cfg.Breaker.UnavailablePolicy = "assume_open"
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.SuccessThreshold == 0 {
		cfg.Breaker.SuccessThreshold = 2
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "debug"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Parse durations
	windowStr := k.String("ratelimit.window")
	if windowStr == "" {
		windowStr = "60s"
	}
	cfg.RateLimit.Window, err = time.ParseDuration(windowStr)
	if err != nil {
		return nil, fmt.Errorf("parsing rate limit window: %w", err)
	}

	openStr := k.String("breaker.open.duration")
	if openStr == "" {
		openStr = "30s"
	}
	cfg.Breaker.OpenDuration, err = time.ParseDuration(openStr)
	if err != nil {
		return nil, fmt.Errorf("parsing breaker open duration: %w", err)
	}

	return cfg, nil
}

// parseTierLimits reads RATELIMIT_TIER_<NAME>=<n> overrides. The env provider
// lowercases keys and turns underscores into dots, so PRIVACY_SAFE arrives as
// "privacy.safe".
func parseTierLimits(k *koanf.Koanf) map[string]int {
	sub := k.Cut("ratelimit.tier")
	if len(sub.Keys()) == 0 {
		return nil
	}
	limits := make(map[string]int, len(sub.Keys()))
	for _, key := range sub.Keys() {
		name := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		limits[name] = sub.Int(key)
	}
	return limits
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
