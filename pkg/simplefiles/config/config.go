package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/tendant/simple-files/pkg/simplefiles/storage/chunk"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// defaults returns the configuration used when nothing overrides a field
func defaults() ServerConfig {
	return ServerConfig{
		Port:               "3000",
		Environment:        "development",
		DatabaseURL:        "memory",
		StorageURL:         "memory://",
		ChunkSizeBytes:     chunk.DefaultSize,
		MaxUploadBytes:     64 << 20,
		LockTTL:            5 * time.Minute,
		CORSAllowedOrigins: []string{"*"},
		EnableMetrics:      true,
		EnableEventLogging: true,
		MigrateOnStart:     true,
	}
}

// ServerConfig represents server configuration for the simple-files service.
// defaults() is the only source of default values; unset variables keep them.
type ServerConfig struct {
	Port        string `env:"PORT"`
	Environment string `env:"ENVIRONMENT"` // development, production, testing

	// Record store: "memory", "postgres://...", "postgresql://..." or "sqlite://path"
	DatabaseURL    string `env:"DATABASE_URL"`
	DBSchema       string `env:"DB_SCHEMA"` // Postgres schema to use
	MigrateOnStart bool   `env:"DB_MIGRATE"`

	// Blob store: "memory://", "file:///path" or "s3://bucket?region=...&endpoint=...&path_style=true"
	StorageURL         string `env:"STORAGE_URL"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	AWSRegion          string `env:"AWS_REGION"`
	ChunkSizeBytes     int    `env:"CHUNK_SIZE_BYTES"`
	MaxUploadBytes     int64  `env:"MAX_UPLOAD_BYTES"`

	// Distributed title lock; in-process lock when empty
	RedisURL string        `env:"REDIS_URL"`
	LockTTL  time.Duration `env:"LOCK_TTL"`

	// Server options
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" env-separator:","`
	EnableMetrics      bool     `env:"ENABLE_METRICS"`
	EnableEventLogging bool     `env:"ENABLE_EVENT_LOGGING"`
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if c.ChunkSizeBytes <= 0 {
		return errors.New("chunk_size_bytes must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("max_upload_bytes must be positive")
	}
	if c.RedisURL != "" && c.LockTTL <= 0 {
		return errors.New("lock_ttl must be positive when redis_url is set")
	}
	if _, err := c.Database(); err != nil {
		return err
	}
	if _, err := c.Storage(); err != nil {
		return err
	}
	return nil
}

// FromEnv overrides fields whose environment variable is set, using the struct tags.
// Apply it before other options so explicit options win.
func FromEnv() Option {
	return func(c *ServerConfig) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		return nil
	}
}

// EnvUsage describes the environment variables for --help output
func EnvUsage() string {
	var cfg ServerConfig
	usage, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return ""
	}
	return usage
}

func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		c.Port = port
		return nil
	}
}

func WithDatabaseURL(dsn string) Option {
	return func(c *ServerConfig) error {
		c.DatabaseURL = dsn
		return nil
	}
}

func WithStorageURL(storageURL string) Option {
	return func(c *ServerConfig) error {
		c.StorageURL = storageURL
		return nil
	}
}

func WithRedisURL(redisURL string) Option {
	return func(c *ServerConfig) error {
		c.RedisURL = redisURL
		return nil
	}
}

func WithChunkSize(n int) Option {
	return func(c *ServerConfig) error {
		c.ChunkSizeBytes = n
		return nil
	}
}

func WithMaxUploadBytes(n int64) Option {
	return func(c *ServerConfig) error {
		c.MaxUploadBytes = n
		return nil
	}
}

func WithMetrics(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.EnableMetrics = enabled
		return nil
	}
}

// Database kinds
const (
	DatabaseMemory   = "memory"
	DatabasePostgres = "postgres"
	DatabaseSQLite   = "sqlite"
)

// DatabaseTarget is the parsed form of DatabaseURL
type DatabaseTarget struct {
	Kind string
	DSN  string // postgres connection string or sqlite file path
}

// Database parses DatabaseURL
func (c *ServerConfig) Database() (DatabaseTarget, error) {
	dsn := c.DatabaseURL
	switch {
	case dsn == "" || dsn == "memory" || dsn == "memory://":
		return DatabaseTarget{Kind: DatabaseMemory}, nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return DatabaseTarget{Kind: DatabasePostgres, DSN: dsn}, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		path := strings.TrimPrefix(dsn, "sqlite://")
		if path == "" {
			return DatabaseTarget{}, errors.New("sqlite path cannot be empty in DATABASE_URL")
		}
		return DatabaseTarget{Kind: DatabaseSQLite, DSN: path}, nil
	default:
		return DatabaseTarget{}, fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory', 'postgres://...' or 'sqlite://path')", dsn)
	}
}

// Storage kinds
const (
	StorageMemory = "memory"
	StorageFS     = "fs"
	StorageS3     = "s3"
)

// StorageTarget is the parsed form of StorageURL
type StorageTarget struct {
	Kind string

	// fs
	BaseDir string

	// s3
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	UsePathStyle bool
	CreateBucket bool
}

// Storage parses StorageURL
func (c *ServerConfig) Storage() (StorageTarget, error) {
	raw := c.StorageURL
	if raw == "" || raw == "memory" || raw == "memory://" {
		return StorageTarget{Kind: StorageMemory}, nil
	}

	switch {
	case strings.HasPrefix(raw, "file://"):
		// Format: file:///path/to/data
		path := strings.TrimPrefix(raw, "file://")
		if path == "" {
			return StorageTarget{}, errors.New("filesystem path cannot be empty in STORAGE_URL")
		}
		return StorageTarget{Kind: StorageFS, BaseDir: path}, nil

	case strings.HasPrefix(raw, "s3://"):
		// Format: s3://bucket?region=us-east-1&endpoint=http://localhost:9000&path_style=true
		u, err := url.Parse(raw)
		if err != nil {
			return StorageTarget{}, fmt.Errorf("invalid STORAGE_URL: %w", err)
		}
		if u.Host == "" {
			return StorageTarget{}, errors.New("S3 bucket name cannot be empty in STORAGE_URL")
		}

		q := u.Query()
		target := StorageTarget{
			Kind:     StorageS3,
			Bucket:   u.Host,
			Prefix:   strings.TrimPrefix(u.Path, "/"),
			Region:   q.Get("region"),
			Endpoint: q.Get("endpoint"),
		}
		if target.Region == "" {
			target.Region = c.AWSRegion
		}
		if target.UsePathStyle, err = parseBoolParam(q, "path_style"); err != nil {
			return StorageTarget{}, err
		}
		if target.CreateBucket, err = parseBoolParam(q, "create_bucket"); err != nil {
			return StorageTarget{}, err
		}
		return target, nil
	}

	return StorageTarget{}, fmt.Errorf("unsupported STORAGE_URL format: %s (use 'memory://', 'file://...', or 's3://...')", raw)
}

func parseBoolParam(q url.Values, key string) (bool, error) {
	raw := q.Get(key)
	if raw == "" {
		return false, nil
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid boolean for %s in STORAGE_URL: %w", key, err)
	}
	return parsed, nil
}
