package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	AWS      AWSConfig      `yaml:"aws"`
	Cache    CacheConfig    `yaml:"cache"`
	Session  SessionConfig  `yaml:"session"`
	OAuth    OAuthConfig    `yaml:"oauth"`
	APNs     APNsConfig     `yaml:"apns"`
	Upload   UploadConfig   `yaml:"upload"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port      int    `yaml:"port"`
	Host      string `yaml:"host"`
	PublicURL string `yaml:"public_url"`
}

// DatabaseConfig holds database configuration.
// Driver is "postgres" or "bolt"; Path is only used by bolt.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int32  `yaml:"max_conns"`
	Path     string `yaml:"path"`
}

// StorageConfig selects the blob backend: "s3" or "local"
type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// AWSConfig holds S3 configuration
type AWSConfig struct {
	Region    string `yaml:"region"`
	S3Bucket  string `yaml:"s3_bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Endpoint  string `yaml:"endpoint"`
}

// CacheConfig holds read cache tuning. Zero durations fall back to defaults.
type CacheConfig struct {
	Enabled         bool          `yaml:"enabled"`
	PhotosStale     time.Duration `yaml:"photos_stale"`
	AuthorStale     time.Duration `yaml:"author_stale"`
	FavoritedStale  time.Duration `yaml:"favorited_stale"`
	UserStale       time.Duration `yaml:"user_stale"`
	EvictAfter      time.Duration `yaml:"evict_after"`
	ReadRetries     int           `yaml:"read_retries"`
	JanitorInterval time.Duration `yaml:"janitor_interval"`
}

// SessionConfig holds session token configuration
type SessionConfig struct {
	JWTSecret    string        `yaml:"jwt_secret"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
	CookieSecure bool          `yaml:"cookie_secure"`
}

// OAuthConfig holds identity provider configuration
type OAuthConfig struct {
	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	RedirectURL        string `yaml:"redirect_url"`
}

// APNsConfig holds push notification configuration. Empty KeyPath disables push.
type APNsConfig struct {
	KeyPath    string `yaml:"key_path"`
	KeyID      string `yaml:"key_id"`
	TeamID     string `yaml:"team_id"`
	Topic      string `yaml:"topic"`
	Production bool   `yaml:"production"`
}

// UploadConfig holds upload limits
type UploadConfig struct {
	MaxBytes int64 `yaml:"max_bytes"`
	MaxFiles int   `yaml:"max_files"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a configuration usable for local development
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080, Host: "0.0.0.0", PublicURL: "http://localhost:8080"},
		Database: DatabaseConfig{
			Driver:   "bolt",
			Host:     "localhost",
			Port:     5432,
			SSLMode:  "disable",
			MaxConns: 10,
			Path:     "data/gallery.db",
		},
		Storage: StorageConfig{Driver: "local", Path: "data/blobs.db"},
		AWS:     AWSConfig{Region: "us-east-1"},
		Cache: CacheConfig{
			Enabled:         true,
			PhotosStale:     2 * time.Minute,
			AuthorStale:     5 * time.Minute,
			FavoritedStale:  5 * time.Minute,
			UserStale:       15 * time.Minute,
			EvictAfter:      30 * time.Minute,
			ReadRetries:     2,
			JanitorInterval: time.Minute,
		},
		Session: SessionConfig{TokenTTL: 30 * 24 * time.Hour},
		Upload:  UploadConfig{MaxBytes: 15 << 20, MaxFiles: 10},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads configuration from a YAML file on top of Default.
// A missing file is not an error. Secrets may be supplied via the environment or a .env file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"DATABASE_PASSWORD":    &c.Database.Password,
		"JWT_SECRET":           &c.Session.JWTSecret,
		"AWS_ACCESS_KEY":       &c.AWS.AccessKey,
		"AWS_SECRET_KEY":       &c.AWS.SecretKey,
		"GOOGLE_CLIENT_ID":     &c.OAuth.GoogleClientID,
		"GOOGLE_CLIENT_SECRET": &c.OAuth.GoogleClientSecret,
	}
	for name, dst := range overrides {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
}

// Validate checks that the selected drivers have what they need
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "bolt":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	switch c.Storage.Driver {
	case "local":
	case "s3":
		if c.AWS.S3Bucket == "" {
			return fmt.Errorf("aws.s3_bucket is required for the s3 storage driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Session.JWTSecret == "" {
		return fmt.Errorf("session.jwt_secret (or JWT_SECRET) is required")
	}
	return nil
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
