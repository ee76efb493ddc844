// Package config loads server configuration from an optional YAML file and
// environment variables. Environment values win over the file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // diary.time_zone must resolve on hosts without zoneinfo

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	GitHub   GitHubConfig   `yaml:"github"`
	Storage  StorageConfig  `yaml:"storage"`
	S3       S3Config       `yaml:"s3"`
	Diary    DiaryConfig    `yaml:"diary"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// SecureCookies sets the Secure flag on session cookies (HTTPS only).
	SecureCookies bool `yaml:"secure_cookies"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// GitHubConfig enables GitHub login when ClientID and ClientSecret are set.
type GitHubConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	CallbackURL  string `yaml:"callback_url"`
}

const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

type StorageConfig struct {
	Backend  string `yaml:"backend"`   // "local" or "s3"
	LocalDir string `yaml:"local_dir"` // root directory for the local backend
}

// S3Config describes an S3 (or S3-compatible) bucket.
type S3Config struct {
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	Endpoint     string `yaml:"endpoint"`   // custom endpoint, e.g. MinIO
	PublicURL    string `yaml:"public_url"` // base URL objects are served from
	UsePathStyle bool   `yaml:"use_path_style"`
}

type DiaryConfig struct {
	// TimeZone is the IANA zone used to group profile entries by day.
	TimeZone string `yaml:"time_zone"`
	PageSize int    `yaml:"page_size"`
	// ProfileEntryLimit caps how many entries a profile page loads.
	ProfileEntryLimit int `yaml:"profile_entry_limit"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{Path: "data/diary.db"},
		Auth:     AuthConfig{SessionTTL: 14 * 24 * time.Hour},
		Storage:  StorageConfig{Backend: BackendLocal, LocalDir: "data/media"},
		S3:       S3Config{Region: "us-east-1"},
		Diary:    DiaryConfig{TimeZone: "UTC", PageSize: 10, ProfileEntryLimit: 500},
		Log:      LogConfig{Level: "info"},
	}
}

// Load starts from Default, applies the YAML file at path (a missing file
// is not an error) and then environment overrides. The result is not
// validated; call Validate.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := getenv("SECURE_COOKIES"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: invalid SECURE_COOKIES %q: %w", v, err)
		}
		c.Server.SecureCookies = b
	}
	if v := getenv("SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: invalid SESSION_TTL %q: %w", v, err)
		}
		c.Auth.SessionTTL = d
	}

	str("DB_PATH", &c.Database.Path)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	str("GITHUB_CLIENT_ID", &c.GitHub.ClientID)
	str("GITHUB_CLIENT_SECRET", &c.GitHub.ClientSecret)
	str("GITHUB_CALLBACK_URL", &c.GitHub.CallbackURL)
	str("STORAGE_BACKEND", &c.Storage.Backend)
	str("MEDIA_DIR", &c.Storage.LocalDir)
	str("S3_REGION", &c.S3.Region)
	str("S3_BUCKET", &c.S3.Bucket)
	str("S3_ACCESS_KEY", &c.S3.AccessKey)
	str("S3_SECRET_KEY", &c.S3.SecretKey)
	str("S3_ENDPOINT", &c.S3.Endpoint)
	str("S3_PUBLIC_URL", &c.S3.PublicURL)
	str("TIME_ZONE", &c.Diary.TimeZone)
	str("LOG_LEVEL", &c.Log.Level)

	if c.GitHub.CallbackURL == "" {
		c.GitHub.CallbackURL = fmt.Sprintf("http://localhost:%d/auth/github/callback", c.Server.Port)
	}
	return nil
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 16 characters"))
	}

	switch c.Storage.Backend {
	case BackendLocal:
		if c.Storage.LocalDir == "" {
			errs = append(errs, errors.New("storage.local_dir is required for the local backend"))
		}
	case BackendS3:
		if c.S3.Bucket == "" {
			errs = append(errs, errors.New("s3.bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}

	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Diary.PageSize < 0 || c.Diary.ProfileEntryLimit < 0 {
		errs = append(errs, errors.New("diary limits must not be negative"))
	}

	return errors.Join(errs...)
}

// GitHubEnabled reports whether GitHub login should be offered.
func (c *Config) GitHubEnabled() bool {
	return c.GitHub.ClientID != "" && c.GitHub.ClientSecret != ""
}

// Location resolves Diary.TimeZone. An empty name is UTC.
func (c *Config) Location() (*time.Location, error) {
	if c.Diary.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Diary.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("unknown diary.time_zone %q: %w", c.Diary.TimeZone, err)
	}
	return loc, nil
}

// SlogLevel returns the configured log level, Info if it does not parse.
func (c *Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("unknown log.level %q", s)
	}
	return level, nil
}
