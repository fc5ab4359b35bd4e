package config

import (
	"time"
)

type Config struct {
	Log           LogConfig           `yaml:"log"`
	Cache         CacheConfig         `yaml:"cache"`
	Synthesis     SynthesisConfig     `yaml:"synthesis"`
	Channel       ChannelConfig       `yaml:"channel"`
	HTTP          HTTPConfig          `yaml:"http"`
	Media         MediaConfig         `yaml:"media"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type LogConfig struct {
	Level string `yaml:"log_level"`
	Dir   string `yaml:"log_dir"`
	File  string `yaml:"log_file"`
}

// CacheConfig selects and tunes the persistent audio store.
type CacheConfig struct {
	Driver        string        `yaml:"driver"`
	MaxAge        time.Duration `yaml:"max_age"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Namespace     string        `yaml:"namespace"`
	Memory        MemoryStore   `yaml:"memory"`
	SQLite        SQLiteStore   `yaml:"sqlite"`
	Redis         RedisStore    `yaml:"redis"`
}

type MemoryStore struct {
	MaxBytes int64 `yaml:"max_bytes"`
}

type SQLiteStore struct {
	DSN string `yaml:"dsn"`
}

type RedisStore struct {
	Addr     string        `yaml:"addr"`
	Username string        `yaml:"username,omitempty"`
	Password string        `yaml:"password,omitempty"`
	DB       int           `yaml:"db,omitempty"`
	Prefix   string        `yaml:"prefix,omitempty"`
	KeyTTL   time.Duration `yaml:"key_ttl,omitempty"`
}

type SynthesisConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// ChannelConfig points the client at the synthesis server's event channel.
type ChannelConfig struct {
	URL              string        `yaml:"url"`
	Token            string        `yaml:"token"`
	// TokenSecret, when set, verifies the token's HMAC signature before the
	// user id is trusted.
	TokenSecret      string        `yaml:"token_secret,omitempty"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
}

type HTTPConfig struct {
	Enabled      bool     `yaml:"enabled"`
	IP           string   `yaml:"ip"`
	Port         int      `yaml:"port"`
	AllowOrigins []string `yaml:"allow_origins"`
}

type MediaConfig struct {
	// Output is "speaker" for the sound card or "silent" for a clock-driven
	// handle that decodes but produces no sound.
	Output         string        `yaml:"output"`
	UpdateInterval time.Duration `yaml:"update_interval"`
}

type ObservabilityConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MetricsPath string `yaml:"metrics_path"`
}
