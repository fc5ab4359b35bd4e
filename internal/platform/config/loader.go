package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPath is read when no explicit path is configured. A missing
	// default file is not an error.
	DefaultPath = "config.yaml"
	envPrefix   = "CHATVOICE_"
)

// Loader reads configuration from .env, a yaml file and CHATVOICE_* variables,
// in that order of increasing precedence.
type Loader struct {
	useDotEnv bool
	path      string
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a loader that reads config.yaml from the working directory.
func NewLoader() *Loader {
	return &Loader{
		useDotEnv: true,
		lookupEnv: os.LookupEnv,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPath overrides the configuration file path. The file must exist.
func (l *Loader) WithPath(path string) *Loader {
	l.path = path
	return l
}

// WithEnv overrides the environment lookup (useful for tests).
func (l *Loader) WithEnv(lookup func(string) (string, bool)) *Loader {
	if lookup != nil {
		l.lookupEnv = lookup
	}
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	Path   string
}

func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		// .env is optional
		_ = godotenv.Load()
	}

	path, explicit := l.resolvePath()
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		path = ""
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := l.validate(cfg); err != nil {
		return nil, err
	}

	return &Result{Config: cfg, Path: path}, nil
}

func (l *Loader) resolvePath() (string, bool) {
	if l.path != "" {
		return l.path, true
	}
	if p, ok := l.lookupEnv(envPrefix + "CONFIG"); ok && p != "" {
		return p, true
	}
	return DefaultPath, false
}

func (l *Loader) applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := l.lookupEnv(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_DIR", &cfg.Log.Dir)
	str("CACHE_DRIVER", &cfg.Cache.Driver)
	str("SQLITE_DSN", &cfg.Cache.SQLite.DSN)
	str("REDIS_ADDR", &cfg.Cache.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Cache.Redis.Password)
	str("CHANNEL_URL", &cfg.Channel.URL)
	str("CHANNEL_TOKEN", &cfg.Channel.Token)
	str("CHANNEL_TOKEN_SECRET", &cfg.Channel.TokenSecret)
	str("MEDIA_OUTPUT", &cfg.Media.Output)

	if v, ok := l.lookupEnv(envPrefix + "HTTP_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sHTTP_PORT: %w", envPrefix, err)
		}
		cfg.HTTP.Port = port
	}
	if v, ok := l.lookupEnv(envPrefix + "SYNTHESIS_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sSYNTHESIS_TIMEOUT: %w", envPrefix, err)
		}
		cfg.Synthesis.Timeout = d
	}
	return nil
}

func (l *Loader) validate(cfg *Config) error {
	switch strings.ToLower(cfg.Cache.Driver) {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("cache.driver %q is not supported", cfg.Cache.Driver)
	}
	if cfg.Cache.MaxAge <= 0 {
		return fmt.Errorf("cache.max_age must be positive")
	}
	if cfg.Synthesis.Timeout <= 0 {
		return fmt.Errorf("synthesis.timeout must be positive")
	}
	if cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535) {
		return fmt.Errorf("http.port %d is out of range", cfg.HTTP.Port)
	}
	switch cfg.Media.Output {
	case "speaker", "silent":
	default:
		return fmt.Errorf("media.output %q is not supported", cfg.Media.Output)
	}
	if cfg.Media.UpdateInterval <= 0 {
		return fmt.Errorf("media.update_interval must be positive")
	}
	if cfg.Channel.URL == "" {
		return fmt.Errorf("channel.url is required")
	}
	return nil
}
