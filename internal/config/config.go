package config

import (
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"

	DriverPostgres = "postgres"
	DriverPgx      = "pgx"

	HasherBcrypt   = "bcrypt"
	HasherArgon2id = "argon2id"

	UploadDisk = "disk"
	UploadS3   = "s3"

	defaultTokenTTL      = 24 * time.Hour
	defaultAuthRateLimit = 20
)

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	DatabaseDriver string
	SigningKey     []byte
	TokenTTL       time.Duration
	AllowedOrigins []string
	Env            string
	LogLevel       string
	PasswordHasher string
	// AuthRateLimit is the number of signup/login attempts allowed per
	// client IP per minute. Zero disables limiting.
	AuthRateLimit int
	Upload        UploadConfig
	Redis         RedisConfig
}

type UploadConfig struct {
	Backend string
	Dir     string
	BaseURL string
	S3      S3Config
}

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

type RedisConfig struct {
	Addr     string
	Password string
}

// Development reports whether verbose error details may be exposed to clients.
func (c *Config) Development() bool {
	return c.Env == EnvDevelopment
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, fmt.Errorf("empty secret")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

// NewConfig validates the required settings and returns a Config populated
// with defaults for everything else.
func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:     serverAddr,
		DatabaseDSN:    databaseDSN,
		DatabaseDriver: DriverPostgres,
		SigningKey:     signingKey,
		TokenTTL:       defaultTokenTTL,
		AllowedOrigins: allowedOrigins,
		Env:            EnvProduction,
		LogLevel:       "info",
		PasswordHasher: HasherBcrypt,
		AuthRateLimit:  defaultAuthRateLimit,
		Upload: UploadConfig{
			Backend: UploadDisk,
			Dir:     "uploads",
			BaseURL: "/uploads",
		},
	}, nil
}

// Validate checks the optional settings after they have been applied.
func (c *Config) Validate() error {
	if !slices.Contains([]string{EnvDevelopment, EnvProduction, EnvTest}, c.Env) {
		return fmt.Errorf("unknown environment %q", c.Env)
	}
	if !slices.Contains([]string{DriverPostgres, DriverPgx}, c.DatabaseDriver) {
		return fmt.Errorf("unknown database driver %q", c.DatabaseDriver)
	}
	if !slices.Contains([]string{HasherBcrypt, HasherArgon2id}, c.PasswordHasher) {
		return fmt.Errorf("unknown password hasher %q", c.PasswordHasher)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token ttl must be positive")
	}
	if c.AuthRateLimit < 0 {
		return fmt.Errorf("auth rate limit cannot be negative")
	}

	switch c.Upload.Backend {
	case UploadDisk:
		if c.Upload.Dir == "" {
			return fmt.Errorf("upload directory cannot be empty")
		}
	case UploadS3:
		if c.Upload.S3.Bucket == "" {
			return fmt.Errorf("s3 bucket cannot be empty")
		}
		if c.Upload.S3.Region == "" {
			return fmt.Errorf("s3 region cannot be empty")
		}
	default:
		return fmt.Errorf("unknown upload backend %q", c.Upload.Backend)
	}

	return nil
}

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = nil
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			*s = append(*s, v)
		}
	}
	return nil
}

// Load builds a Config from command-line arguments. Every flag falls back to
// an environment variable, so a .env file loaded beforehand behaves the same
// as exported variables.
func Load(args []string, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	var (
		addr, dsn, signingKey string
		origins               stringSliceFlag
		tmp                   Config
	)

	origins.Set(envOr(getenv, "ALLOWED_ORIGINS", "http://localhost:3000"))

	fs := flag.NewFlagSet("roomchat", flag.ContinueOnError)
	fs.StringVar(&addr, "addr", envOr(getenv, "ADDR", "localhost:8000"), "server address")
	fs.StringVar(&dsn, "dsn", envOr(getenv, "DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), "database connection string")
	fs.StringVar(&tmp.DatabaseDriver, "db-driver", envOr(getenv, "DATABASE_DRIVER", DriverPostgres), "database/sql driver: postgres or pgx")
	fs.StringVar(&signingKey, "signing-key", getenv("SIGNING_KEY"), "base64 encoded signing key")
	fs.DurationVar(&tmp.TokenTTL, "token-ttl", envDurationOr(getenv, "TOKEN_TTL", defaultTokenTTL), "lifetime of issued tokens")
	fs.Var(&origins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	fs.StringVar(&tmp.Env, "env", envOr(getenv, "ENV", EnvProduction), "runtime environment: development, production or test")
	fs.StringVar(&tmp.LogLevel, "log-level", envOr(getenv, "LOG_LEVEL", "info"), "log level")
	fs.StringVar(&tmp.PasswordHasher, "password-hasher", envOr(getenv, "PASSWORD_HASHER", HasherBcrypt), "password hashing scheme: bcrypt or argon2id")
	fs.IntVar(&tmp.AuthRateLimit, "auth-rate-limit", envIntOr(getenv, "AUTH_RATE_LIMIT", defaultAuthRateLimit), "signup/login requests per minute per IP, 0 disables")
	fs.StringVar(&tmp.Upload.Backend, "upload-backend", envOr(getenv, "UPLOAD_BACKEND", UploadDisk), "profile photo storage: disk or s3")
	fs.StringVar(&tmp.Upload.Dir, "upload-dir", envOr(getenv, "UPLOAD_DIR", "uploads"), "directory for the disk upload backend")
	fs.StringVar(&tmp.Upload.BaseURL, "upload-base-url", envOr(getenv, "UPLOAD_BASE_URL", "/uploads"), "public base URL of stored photos")
	fs.StringVar(&tmp.Upload.S3.Bucket, "s3-bucket", getenv("S3_BUCKET"), "s3 bucket name")
	fs.StringVar(&tmp.Upload.S3.Region, "s3-region", envOr(getenv, "S3_REGION", "us-east-1"), "s3 region")
	fs.StringVar(&tmp.Upload.S3.Endpoint, "s3-endpoint", getenv("S3_ENDPOINT"), "custom s3 endpoint, e.g. minio")
	fs.StringVar(&tmp.Upload.S3.AccessKey, "s3-access-key", getenv("S3_ACCESS_KEY"), "s3 access key")
	fs.StringVar(&tmp.Upload.S3.SecretKey, "s3-secret-key", getenv("S3_SECRET_KEY"), "s3 secret key")
	fs.StringVar(&tmp.Redis.Addr, "redis-addr", getenv("REDIS_ADDR"), "redis address for cross-instance broadcasts")
	fs.StringVar(&tmp.Redis.Password, "redis-password", getenv("REDIS_PASSWORD"), "redis password")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := NewConfig(addr, dsn, signingKey, origins)
	if err != nil {
		return nil, err
	}

	cfg.DatabaseDriver = tmp.DatabaseDriver
	cfg.TokenTTL = tmp.TokenTTL
	cfg.Env = tmp.Env
	cfg.LogLevel = tmp.LogLevel
	cfg.PasswordHasher = tmp.PasswordHasher
	cfg.AuthRateLimit = tmp.AuthRateLimit
	cfg.Upload = tmp.Upload
	cfg.Redis = tmp.Redis

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envOr(getenv func(string) string, key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(getenv func(string) string, key string, def int) int {
	if v := getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envDurationOr(getenv func(string) string, key string, def time.Duration) time.Duration {
	if v := getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
