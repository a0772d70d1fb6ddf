package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/chessarcade/leaderboard/internal/domain"
	"github.com/chessarcade/leaderboard/internal/ratelimit"
	"github.com/chessarcade/leaderboard/internal/registry"
	"github.com/chessarcade/leaderboard/internal/validate"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "LEADERBOARD_"

// Storage drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Rate limit backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig        `yaml:"server" envPrefix:"SERVER_"`
	Storage     StorageConfig       `yaml:"storage" envPrefix:"STORAGE_"`
	Postgres    PostgresConfig      `yaml:"postgres" envPrefix:"POSTGRES_"`
	Redis       RedisConfig         `yaml:"redis" envPrefix:"REDIS_"`
	RateLimit   RateLimitConfig     `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Kafka       KafkaConfig         `yaml:"kafka" envPrefix:"KAFKA_"`
	Broadcast   BroadcastConfig     `yaml:"broadcast" envPrefix:"BROADCAST_"`
	Leaderboard LeaderboardConfig   `yaml:"leaderboard" envPrefix:"LEADERBOARD_"`
	Log         LogConfig           `yaml:"log" envPrefix:"LOG_"`
	Games       []domain.GameLimits `yaml:"games" envPrefix:"GAMES_"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" env:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
}

// StorageConfig selects and bounds the score store
type StorageConfig struct {
	Driver     string        `yaml:"driver" env:"DRIVER"`
	SQLitePath string        `yaml:"sqlite_path" env:"SQLITE_PATH"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr" env:"ADDR"`
	Password     string        `yaml:"password" env:"PASSWORD"`
	DB           int           `yaml:"db" env:"DB"`
	PoolSize     int           `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int           `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	KeyPrefix    string        `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Database        string        `yaml:"database" env:"DATABASE"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxConnections  int           `yaml:"max_connections" env:"MAX_CONNECTIONS"`
	MinConnections  int           `yaml:"min_connections" env:"MIN_CONNECTIONS"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" env:"MAX_CONN_LIFETIME"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"MAX_CONN_IDLE_TIME"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// RateLimitConfig holds the read and write request policies
type RateLimitConfig struct {
	Backend string           `yaml:"backend" env:"BACKEND"`
	Read    ratelimit.Policy `yaml:"read" envPrefix:"READ_"`
	Write   ratelimit.Policy `yaml:"write" envPrefix:"WRITE_"`
}

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers" env:"BROKERS"`
	Topic         string        `yaml:"topic" env:"TOPIC"`
	GroupID       string        `yaml:"group_id" env:"GROUP_ID"`
	Enabled       bool          `yaml:"enabled" env:"ENABLED"`
	BatchSize     int           `yaml:"batch_size" env:"BATCH_SIZE"`
	BatchTimeout  time.Duration `yaml:"batch_timeout" env:"BATCH_TIMEOUT"`
	RetryAttempts int           `yaml:"retry_attempts" env:"RETRY_ATTEMPTS"`
	RetryDelay    time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
}

// BroadcastConfig holds the live leaderboard push configuration
type BroadcastConfig struct {
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
	TopN     int           `yaml:"top_n" env:"TOP_N"`
	Enabled  bool          `yaml:"enabled" env:"ENABLED"`
}

// LeaderboardConfig holds leaderboard-specific configuration
type LeaderboardConfig struct {
	DefaultLimit       int `yaml:"default_limit" env:"DEFAULT_LIMIT"`
	MaxLimit           int `yaml:"max_limit" env:"MAX_LIMIT"`
	SearchDefaultLimit int `yaml:"search_default_limit" env:"SEARCH_DEFAULT_LIMIT"`
	SearchMaxLimit     int `yaml:"search_max_limit" env:"SEARCH_MAX_LIMIT"`
}

// Limits converts the leaderboard configuration into validator bounds
func (c LeaderboardConfig) Limits() validate.Limits {
	return validate.Limits{
		DefaultLimit:       c.DefaultLimit,
		MaxLimit:           c.MaxLimit,
		SearchDefaultLimit: c.SearchDefaultLimit,
		SearchMaxLimit:     c.SearchMaxLimit,
	}
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	// Apply defaults
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyEnv overrides fields from LEADERBOARD_* environment variables
func (c *Config) ApplyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}
	return nil
}

// Validate checks settings that have no safe default
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.RateLimit.Backend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unknown rate limit backend %q", c.RateLimit.Backend)
	}
	l := c.Leaderboard
	if l.DefaultLimit < 1 || l.DefaultLimit > l.MaxLimit {
		return fmt.Errorf("leaderboard default_limit must be between 1 and max_limit")
	}
	if l.SearchDefaultLimit < 1 || l.SearchDefaultLimit > l.SearchMaxLimit {
		return fmt.Errorf("leaderboard search_default_limit must be between 1 and search_max_limit")
	}
	if _, err := c.Registry(); err != nil {
		return fmt.Errorf("games: %w", err)
	}
	return nil
}

// Registry builds the game registry from the configured games,
// falling back to the built-in table
func (c *Config) Registry() (*registry.Registry, error) {
	if len(c.Games) == 0 {
		return registry.Default(), nil
	}
	return registry.New(c.Games...)
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 8 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 64 << 10
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}

	// Storage defaults
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverSQLite
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/leaderboard.db"
	}
	if c.Storage.Timeout == 0 {
		c.Storage.Timeout = 3 * time.Second
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 100
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 10
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "chess-arcade"
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 50
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 5
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Rate limit defaults
	if c.RateLimit.Backend == "" {
		c.RateLimit.Backend = BackendMemory
	}
	if c.RateLimit.Read.Requests == 0 {
		c.RateLimit.Read.Requests = 60
	}
	if c.RateLimit.Read.Window == 0 {
		c.RateLimit.Read.Window = time.Minute
	}
	if c.RateLimit.Write.Requests == 0 {
		c.RateLimit.Write.Requests = 10
	}
	if c.RateLimit.Write.Window == 0 {
		c.RateLimit.Write.Window = time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "chess-arcade-scores"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "chess-arcade-leaderboard"
	}
	if c.Kafka.BatchSize == 0 {
		c.Kafka.BatchSize = 100
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = 1 * time.Second
	}
	if c.Kafka.RetryAttempts == 0 {
		c.Kafka.RetryAttempts = 3
	}
	if c.Kafka.RetryDelay == 0 {
		c.Kafka.RetryDelay = 1 * time.Second
	}

	// Broadcast defaults
	if c.Broadcast.Interval == 0 {
		c.Broadcast.Interval = 5 * time.Second
	}
	if c.Broadcast.TopN == 0 {
		c.Broadcast.TopN = 10
	}

	// Leaderboard defaults
	defaults := validate.DefaultLimits()
	if c.Leaderboard.DefaultLimit == 0 {
		c.Leaderboard.DefaultLimit = defaults.DefaultLimit
	}
	if c.Leaderboard.MaxLimit == 0 {
		c.Leaderboard.MaxLimit = defaults.MaxLimit
	}
	if c.Leaderboard.SearchDefaultLimit == 0 {
		c.Leaderboard.SearchDefaultLimit = defaults.SearchDefaultLimit
	}
	if c.Leaderboard.SearchMaxLimit == 0 {
		c.Leaderboard.SearchMaxLimit = defaults.SearchMaxLimit
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Broadcast.Enabled = true
	return cfg
}
