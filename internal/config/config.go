// Package config loads relaysockd's configuration from an optional YAML
// file via knadh/koanf, then overlays environment variables using the
// teacher's os.Getenv-in-main idiom (cmd/wsserver/main.go), so a deployment
// can ship a base config.yaml and override individual knobs per environment
// without editing the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/relaywire/sockets/internal/frame"
	"github.com/relaywire/sockets/internal/pool"
	"github.com/relaywire/sockets/internal/quality"
	"github.com/relaywire/sockets/internal/security"
	"github.com/relaywire/sockets/internal/session"
)

// Config aggregates every sub-config the relay needs (spec §12 "config
// surfaces max_buffered_messages/max_buffered_bytes etc.").
type Config struct {
	ListenAddr     string
	WorkerPoolSize int
	MaxConnections int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxFrameBytes  int

	RedisAddr    string
	NATSURL      string
	DatabaseDSN  string
	MigrationsDir string

	Session  session.Config
	Quality  quality.Config
	Pool     pool.Config
	RateConn security.Rule
	RateMsg  security.Rule
}

// Default returns the relay's baked-in defaults, matching spec §5.
func Default() Config {
	return Config{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxFrameBytes:  frame.MaxFrameBytes,

		RedisAddr:     "localhost:6379",
		NATSURL:       "nats://localhost:4222",
		DatabaseDSN:   "",
		MigrationsDir: "file://migrations",

		Session:  session.DefaultConfig(),
		Quality:  quality.DefaultConfig(),
		Pool:     pool.DefaultConfig(),
		RateConn: security.RuleConnect,
		RateMsg:  security.RuleMessage,
	}
}

// Load builds a Config starting from Default(), applying path (if
// non-empty and present on disk) via koanf's YAML parser, then applying
// environment variable overrides. path may be "" to skip the file layer
// entirely (env-only deployments).
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			k := koanf.New(".")
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return cfg, fmt.Errorf("config: load %s: %w", path, err)
			}
			applyKoanf(&cfg, k)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyKoanf(cfg *Config, k *koanf.Koanf) {
	if v := k.String("listen_addr"); v != "" {
		cfg.ListenAddr = v
	}
	if v := k.Int("worker_pool_size"); v != 0 {
		cfg.WorkerPoolSize = v
	}
	if v := k.Int("max_connections"); v != 0 {
		cfg.MaxConnections = v
	}
	if v := k.Duration("read_timeout"); v != 0 {
		cfg.ReadTimeout = v
	}
	if v := k.Duration("write_timeout"); v != 0 {
		cfg.WriteTimeout = v
	}
	if v := k.Int("max_frame_bytes"); v != 0 {
		cfg.MaxFrameBytes = v
	}
	if v := k.String("redis_addr"); v != "" {
		cfg.RedisAddr = v
	}
	if v := k.String("nats_url"); v != "" {
		cfg.NATSURL = v
	}
	if v := k.String("database_dsn"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := k.String("migrations_dir"); v != "" {
		cfg.MigrationsDir = v
	}
	if v := k.Duration("session_timeout"); v != 0 {
		cfg.Session.SessionTimeout = v
	}
	if v := k.Int("max_buffered_messages"); v != 0 {
		cfg.Session.Buffer.MaxMessages = v
	}
	if v := k.Int("max_buffered_bytes"); v != 0 {
		cfg.Session.Buffer.MaxBytes = v
	}
	if v := k.Int("max_connections_pool"); v != 0 {
		cfg.Pool.MaxConnections = v
	}
}

// applyEnv overlays environment variables, matching the teacher's
// cmd/wsserver/main.go pattern of "if v := os.Getenv(X); v != \"\" { ... }".
func applyEnv(cfg *Config) {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WriteTimeout = d
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATSURL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := os.Getenv("MIGRATIONS_DIR"); v != "" {
		cfg.MigrationsDir = v
	}
	if v := os.Getenv("SESSION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Session.SessionTimeout = d
		}
	}
}
