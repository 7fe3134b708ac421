// Package config loads the relay's process configuration from an optional YAML
// file overlaid with environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Tyrowin/wicara/internal/server"
	"github.com/Tyrowin/wicara/internal/store"
)

// ConfigPath is the default config file location. A missing default file is not an error.
const ConfigPath = "config.yaml"

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	URL    string `yaml:"url"`
}

// RedisConfig configures the optional login rate limiter.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	LoginLimit  int           `yaml:"loginLimit"`
	LoginWindow time.Duration `yaml:"loginWindow"`
}

// AssistConfig configures the text-generation collaborator.
type AssistConfig struct {
	GeminiAPIKey string        `yaml:"geminiAPIKey"`
	Model        string        `yaml:"model"`
	Timeout      time.Duration `yaml:"timeout"`
}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Server    server.Config  `yaml:"server"`
	Database  DatabaseConfig `yaml:"database"`
	Redis     RedisConfig    `yaml:"redis"`
	Assist    AssistConfig   `yaml:"assist"`
	LogLevel  string         `yaml:"logLevel"`
	LogFormat string         `yaml:"logFormat"`
}

func defaults() FileConfig {
	return FileConfig{
		Server:   server.DefaultConfig(),
		Database: DatabaseConfig{Driver: store.DriverSQLite, URL: "wicara.db"},
		Redis:    RedisConfig{LoginLimit: 10, LoginWindow: time.Minute},
		Assist:   AssistConfig{Model: "gemini-2.0-flash", Timeout: 15 * time.Second},
		LogLevel: "info",
	}
}

// Load reads config from path (defaults to config.yaml), applies environment
// overrides and validates the result.
func Load(path string) (FileConfig, error) {
	cfg := defaults()
	explicit := path != ""
	if !explicit {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)
	cfg.Server = cfg.Server.Sanitize()
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	server.ApplyEnv(&cfg.Server)

	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("LOGIN_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.LoginLimit = n
		}
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Assist.GeminiAPIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		cfg.Assist.Model = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
}

func validateConfig(cfg FileConfig) error {
	switch cfg.Database.Driver {
	case store.DriverSQLite, store.DriverPostgres:
	default:
		return fmt.Errorf("config: unsupported database driver %q (sqlite or postgres)", cfg.Database.Driver)
	}
	if cfg.Database.Driver == store.DriverPostgres && cfg.Database.URL == "" {
		return errors.New("config: database url is required for postgres (set database.url or DATABASE_URL)")
	}
	if cfg.Redis.Addr != "" && (cfg.Redis.LoginLimit <= 0 || cfg.Redis.LoginWindow <= 0) {
		return errors.New("config: redis login limit and window must be positive")
	}
	if cfg.Assist.Timeout <= 0 {
		return errors.New("config: assist timeout must be positive")
	}
	return nil
}
