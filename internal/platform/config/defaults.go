package config

import "time"

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level: "INFO",
			Dir:   "data/logs",
			File:  "chatvoice.log",
		},
		Cache: CacheConfig{
			Driver:        "sqlite",
			MaxAge:        24 * time.Hour,
			SweepInterval: time.Hour,
			Namespace:     "chatvoice",
			SQLite: SQLiteStore{
				DSN: "data/chatvoice.db",
			},
			Redis: RedisStore{
				Addr:   "127.0.0.1:6379",
				Prefix: "chatvoice:audio",
			},
		},
		Synthesis: SynthesisConfig{
			Timeout: 60 * time.Second,
		},
		Channel: ChannelConfig{
			URL:              "ws://127.0.0.1:5000/ws",
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     5 * time.Second,
			PingInterval:     30 * time.Second,
		},
		HTTP: HTTPConfig{
			Enabled:      true,
			IP:           "127.0.0.1",
			Port:         8090,
			AllowOrigins: []string{"*"},
		},
		Media: MediaConfig{
			Output:         "speaker",
			UpdateInterval: 100 * time.Millisecond,
		},
		Observability: ObservabilityConfig{
			Enabled:     true,
			MetricsPath: "/metrics",
		},
	}
}
