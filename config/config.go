package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. CONTRACTFORGE_SERVER_PORT.
const EnvPrefix = "CONTRACTFORGE_"

type Config struct {
	Server  ServerConfig  `yaml:"server" envPrefix:"SERVER_"`
	Log     LogConfig     `yaml:"log" envPrefix:"LOG_"`
	Auth    AuthConfig    `yaml:"auth" envPrefix:"AUTH_"`
	Users   []User        `yaml:"users"`
	Store   StoreConfig   `yaml:"store" envPrefix:"STORE_"`
	Minio   MinioConfig   `yaml:"minio" envPrefix:"MINIO_"`
	Signing SigningConfig `yaml:"signing" envPrefix:"SIGNING_"`
	Notify  NotifyConfig  `yaml:"notify" envPrefix:"NOTIFY_"`
	CORS    CORSConfig    `yaml:"cors" envPrefix:"CORS_"`
}

type ServerConfig struct {
	Port int `yaml:"port" env:"PORT"`
	// RateLimit is requests per minute per client for the whole API.
	RateLimit int `yaml:"rate_limit" env:"RATE_LIMIT"`
	// SignRateLimit is requests per minute per client for public signing links.
	SignRateLimit int `yaml:"sign_rate_limit" env:"SIGN_RATE_LIMIT"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret" env:"JWT_SECRET"`
	TokenExpireHours int    `yaml:"token_expire_hours" env:"TOKEN_EXPIRE_HOURS"`
}

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type StoreConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	// Path is the SQLite database file.
	Path string `yaml:"path" env:"PATH"`
	// DSN is the Postgres connection string.
	DSN string `yaml:"dsn" env:"DSN"`
	// MaxDocuments caps how many documents each owner may keep in the memory
	// store, 0 = unlimited.
	MaxDocuments int `yaml:"max_documents" env:"MAX_DOCUMENTS"`
}

type MinioConfig struct {
	Endpoint   string `yaml:"endpoint" env:"ENDPOINT"`
	AccessKey  string `yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey  string `yaml:"secret_key" env:"SECRET_KEY"`
	Bucket     string `yaml:"bucket" env:"BUCKET"`
	Region     string `yaml:"region" env:"REGION"`
	UseSSL     bool   `yaml:"use_ssl" env:"USE_SSL"`
	ExpireDays int    `yaml:"expire_days" env:"EXPIRE_DAYS"`
}

// Enabled reports whether executed contracts are archived.
func (c MinioConfig) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

type SigningConfig struct {
	// LinkSecret signs shareable signing links. Falls back to the auth secret.
	LinkSecret string `yaml:"link_secret" env:"LINK_SECRET"`
	// LinkTTLHours bounds link lifetime; 0 means links never expire.
	LinkTTLHours int `yaml:"link_ttl_hours" env:"LINK_TTL_HOURS"`
	// DefaultState is the governing-law fallback.
	DefaultState string `yaml:"default_state" env:"DEFAULT_STATE"`
	// PublicBaseURL prefixes the links handed to counterparties.
	PublicBaseURL string `yaml:"public_base_url" env:"PUBLIC_BASE_URL"`
}

type NotifyConfig struct {
	WebhookURL     string `yaml:"webhook_url" env:"WEBHOOK_URL"`
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"TIMEOUT_SECONDS"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
}

// User is a configured account. Documents are scoped to Owner.
type User struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	Owner        string `yaml:"owner"`
}

// CheckPassword compares password against the stored bcrypt hash.
func (u *User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// HashPassword returns a bcrypt hash suitable for User.PasswordHash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Load reads the YAML file at path, applies CONTRACTFORGE_* environment
// overrides and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 100
	}
	if c.Server.SignRateLimit == 0 {
		c.Server.SignRateLimit = 20
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Auth.TokenExpireHours == 0 {
		c.Auth.TokenExpireHours = 24
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
	}
	if c.Store.Driver == DriverSQLite && c.Store.Path == "" {
		c.Store.Path = "contractforge.db"
	}
	if c.Minio.Region == "" {
		c.Minio.Region = "us-east-1"
	}
	if c.Minio.ExpireDays == 0 {
		c.Minio.ExpireDays = 7
	}
	if c.Signing.LinkSecret == "" {
		c.Signing.LinkSecret = c.Auth.JWTSecret
	}
	if c.Signing.DefaultState == "" {
		c.Signing.DefaultState = "Delaware"
	}
	if c.Notify.TimeoutSeconds == 0 {
		c.Notify.TimeoutSeconds = 10
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store: postgres driver requires dsn")
		}
	default:
		return fmt.Errorf("store: unknown driver %q", c.Store.Driver)
	}
	if c.Store.MaxDocuments < 0 {
		return fmt.Errorf("store: max_documents must not be negative")
	}
	if c.Signing.LinkTTLHours < 0 {
		return fmt.Errorf("signing: link_ttl_hours must not be negative")
	}
	return nil
}

// FindUser finds a user by username
func (c *Config) FindUser(username string) *User {
	for i := range c.Users {
		if c.Users[i].Username == username {
			return &c.Users[i]
		}
	}
	return nil
}
