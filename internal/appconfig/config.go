// Package appconfig implements the server's ops-level configuration: the
// layer that controls how the process itself runs (listen address, TLS,
// logging, metrics, audit/lock backends, worker-pool sizing) as distinct
// from the per-repository JSON documents internal/config loads at
// request time. Grounded wholesale on the teacher's
// internal/config/config.go (struct-with-methods shape, setDefaults(),
// Validate()) with every alert-history-domain field (Postgres, LLM,
// webhook ingestion) replaced by artifact-proxy ops fields.
package appconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the process-wide operational configuration, loaded once at
// startup (and re-validated, but never hot-reloaded — only the C1 repo
// config layer reloads on SIGHUP).
type Config struct {
	Server  ServerConfig  `mapstructure:"server" validate:"required"`
	Repo    RepoConfig    `mapstructure:"repo" validate:"required"`
	Log     LogConfig     `mapstructure:"log" validate:"required"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Admin   AdminConfig   `mapstructure:"admin"`
	Lock    LockConfig    `mapstructure:"lock"`
	Audit   AuditConfig   `mapstructure:"audit"`
	Worker  WorkerConfig  `mapstructure:"worker"`
}

// ServerConfig holds the HTTP listener's own settings.
type ServerConfig struct {
	Host                    string        `mapstructure:"host"`
	Port                    int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	IdleTimeout             time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
	TLSCertFile             string        `mapstructure:"tls_cert_file"`
	TLSKeyFile              string        `mapstructure:"tls_key_file"`
}

// UsesTLS reports whether the listener should be wrapped in TLS.
func (s ServerConfig) UsesTLS() bool { return s.TLSCertFile != "" && s.TLSKeyFile != "" }

// RepoConfig controls where the repository tree and its JSON config
// documents live, and the bound on how many distinct repo configs the
// process keeps resident.
type RepoConfig struct {
	BaseDir     string `mapstructure:"base_dir" validate:"required"`
	MaxCachedConfigs int `mapstructure:"max_cached_configs" validate:"min=1"`
}

// LogConfig mirrors pkg/logger.Config's shape so the ops layer's
// mapstructure tags line up with what NewLogger already expects.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig controls the Prometheus /metrics exposition.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

// AdminConfig gates the operator-facing admin endpoints (POST
// /admin/reload, event websocket) behind a single bearer token.
type AdminConfig struct {
	Token string `mapstructure:"token"`
}

// LockConfig configures the optional Redis-backed distributed mutex
// (internal/lock) that serializes RefreshAll across replicas sharing
// one repo tree. Addr == "" disables distributed locking entirely —
// RefreshAll then runs unlocked, correct for a single-replica
// deployment.
type LockConfig struct {
	Addr           string        `mapstructure:"addr"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	TTL            time.Duration `mapstructure:"ttl"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
}

// Enabled reports whether a Redis address was configured.
func (l LockConfig) Enabled() bool { return l.Addr != "" }

// AuditConfig configures the append-only sqlite log of publish/reload
// events (internal/audit).
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// WorkerConfig holds the worker-pool settings. They are loaded and
// validated, but nothing in the server reads them: C2/C7 fan out one
// goroutine per location or upstream, and C3/C4/C10 work runs on those
// goroutines without a separate pool.
type WorkerConfig struct {
	BlockingPoolSize int `mapstructure:"blocking_pool_size" validate:"min=1"`
	FanoutLimit      int `mapstructure:"fanout_limit" validate:"min=1"`
}

// Load reads configPath (if non-empty) as YAML, layers in environment
// variable overrides (ARTIFACTPROXY_SERVER_PORT etc.), and validates the
// result. A missing configPath is not an error — defaults plus env vars
// are a legitimate configuration by themselves, same as the teacher's
// LoadConfig.
func Load(configPath string) (*Config, error) {
	setDefaults()

	viper.SetEnvPrefix("ARTIFACTPROXY")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("appconfig: reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("appconfig: unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("appconfig: validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "5m")
	viper.SetDefault("server.idle_timeout", "2m")
	viper.SetDefault("server.graceful_shutdown_timeout", "30s")

	viper.SetDefault("repo.base_dir", ".")
	viper.SetDefault("repo.max_cached_configs", 1024)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.addr", ":9090")
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("lock.db", 0)
	viper.SetDefault("lock.ttl", "30s")
	viper.SetDefault("lock.acquire_timeout", "5s")

	viper.SetDefault("audit.enabled", false)
	viper.SetDefault("audit.dsn", "file:artifactproxy-audit.db")

	viper.SetDefault("worker.blocking_pool_size", 32)
	viper.SetDefault("worker.fanout_limit", 64)
}

// Validate checks cross-field invariants that struct tags alone can't
// express, then runs the tag-based validator over the whole tree.
func (c *Config) Validate() error {
	if c.Server.TLSCertFile != "" && c.Server.TLSKeyFile == "" {
		return fmt.Errorf("server.tls_key_file is required when server.tls_cert_file is set")
	}
	if c.Server.TLSKeyFile != "" && c.Server.TLSCertFile == "" {
		return fmt.Errorf("server.tls_cert_file is required when server.tls_key_file is set")
	}
	if c.Audit.Enabled && c.Audit.DSN == "" {
		return fmt.Errorf("audit.dsn is required when audit.enabled is true")
	}

	v := validator.New()
	if err := v.Struct(c); err != nil {
		return err
	}
	return nil
}

// Addr returns the listener's host:port.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }
