package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Engine    EngineConfig    `mapstructure:"engine" yaml:"engine"`
	Optimizer OptimizerConfig `mapstructure:"optimizer" yaml:"optimizer"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Corpus    CorpusConfig    `mapstructure:"corpus" yaml:"corpus"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Audit     AuditConfig     `mapstructure:"audit" yaml:"audit"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// EngineConfig configures the job queue and its worker pool.
type EngineConfig struct {
	QueueSize          int           `mapstructure:"queue_size" yaml:"queue_size"`
	WorkerConcurrency  int           `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	DefaultTaskTimeout time.Duration `mapstructure:"default_task_timeout" yaml:"default_task_timeout"`
	MaxRetries         int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBackoffBase   time.Duration `mapstructure:"retry_backoff_base" yaml:"retry_backoff_base"`
	RetryBackoffMax    time.Duration `mapstructure:"retry_backoff_max" yaml:"retry_backoff_max"`
}

// OptimizerConfig tunes the strategy search loops.
type OptimizerConfig struct {
	MaxIterations  int `mapstructure:"max_iterations" yaml:"max_iterations"`
	InitialSamples int `mapstructure:"initial_samples" yaml:"initial_samples"`
	NumCandidates  int `mapstructure:"num_candidates" yaml:"num_candidates"`
	// ConvergenceWindow is how many consecutive non-improving iterations
	// count as converged.
	ConvergenceWindow int `mapstructure:"convergence_window" yaml:"convergence_window"`
	// SemiAutoTrust weighs the external recommendation vector in
	// semi-automatic mode. 0 ignores the recommendation, 1 takes it verbatim.
	SemiAutoTrust float64 `mapstructure:"semiauto_trust" yaml:"semiauto_trust"`
	// TransferSimilarRuns caps how many corpus runs seed the transfer search.
	TransferSimilarRuns int   `mapstructure:"transfer_similar_runs" yaml:"transfer_similar_runs"`
	RandomSeed          int64 `mapstructure:"random_seed" yaml:"random_seed"`
}

// CacheConfig selects and tunes the result cache backend.
type CacheConfig struct {
	// Backend is "memory" or "postgres".
	Backend string        `mapstructure:"backend" yaml:"backend"`
	TTL     time.Duration `mapstructure:"ttl" yaml:"ttl"`
	// MaxEntries bounds the in-memory backend; oldest entries are evicted.
	MaxEntries  int    `mapstructure:"max_entries" yaml:"max_entries"`
	PostgresURL string `mapstructure:"postgres_url" yaml:"-"`
}

// CorpusConfig selects the transfer-learning corpus backend.
type CorpusConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend"`
	PostgresURL string `mapstructure:"postgres_url" yaml:"-"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// RateLimit is requests per second admitted per server instance.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst" yaml:"rate_burst"`
}

// AuditConfig controls the security/audit event log.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	LogFile string `mapstructure:"log_file" yaml:"log_file"`
}

// Addr renders the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SetDefaults initializes default values for every configuration parameter.
// All tunables the orchestration depends on (worker pool size, cache TTL,
// retry caps) are plain config inputs; nothing is hardcoded downstream.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "cadopt")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Engine --
	v.SetDefault("engine.queue_size", 256)
	v.SetDefault("engine.worker_concurrency", 4)
	v.SetDefault("engine.default_task_timeout", "10m")
	v.SetDefault("engine.max_retries", 3)
	v.SetDefault("engine.retry_backoff_base", "200ms")
	v.SetDefault("engine.retry_backoff_max", "30s")

	// -- Optimizer --
	v.SetDefault("optimizer.max_iterations", 200)
	v.SetDefault("optimizer.initial_samples", 10)
	v.SetDefault("optimizer.num_candidates", 50)
	v.SetDefault("optimizer.convergence_window", 25)
	v.SetDefault("optimizer.semiauto_trust", 0.5)
	v.SetDefault("optimizer.transfer_similar_runs", 5)
	v.SetDefault("optimizer.random_seed", 0)

	// -- Cache --
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", "1h")
	v.SetDefault("cache.max_entries", 4096)

	// -- Corpus --
	v.SetDefault("corpus.backend", "memory")

	// -- Server --
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8085)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.rate_limit", 50.0)
	v.SetDefault("server.rate_burst", 100)

	// -- Audit --
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.log_file", "")
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with the defaults above.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// Load reads the config file (explicit path, cwd, or ~/.cadopt), applies
// CADOPT_* environment overrides, and validates the result.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".cadopt"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("CADOPT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Sensitive values come from the environment, never the file.
	v.BindEnv("cache.postgres_url", "CADOPT_CACHE_POSTGRES_URL")
	v.BindEnv("corpus.postgres_url", "CADOPT_CORPUS_POSTGRES_URL")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Engine.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be a positive integer")
	}
	if c.Engine.QueueSize <= 0 {
		return fmt.Errorf("engine.queue_size must be a positive integer")
	}
	if c.Engine.MaxRetries < 0 {
		return fmt.Errorf("engine.max_retries must not be negative")
	}
	if c.Engine.RetryBackoffBase <= 0 || c.Engine.RetryBackoffMax < c.Engine.RetryBackoffBase {
		return fmt.Errorf("engine retry backoff window is inverted or non-positive")
	}
	if c.Optimizer.MaxIterations <= 0 {
		return fmt.Errorf("optimizer.max_iterations must be a positive integer")
	}
	if c.Optimizer.InitialSamples <= 0 || c.Optimizer.NumCandidates <= 0 {
		return fmt.Errorf("optimizer sampling parameters must be positive integers")
	}
	if c.Optimizer.SemiAutoTrust < 0.0 || c.Optimizer.SemiAutoTrust > 1.0 {
		return fmt.Errorf("optimizer.semiauto_trust must be between 0.0 and 1.0")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be a positive duration")
	}
	switch c.Cache.Backend {
	case "memory":
		if c.Cache.MaxEntries <= 0 {
			return fmt.Errorf("cache.max_entries must be positive for the memory backend")
		}
	case "postgres":
		if c.Cache.PostgresURL == "" {
			return fmt.Errorf("cache.postgres_url is required for the postgres backend (set CADOPT_CACHE_POSTGRES_URL)")
		}
	default:
		return fmt.Errorf("cache.backend must be \"memory\" or \"postgres\", got %q", c.Cache.Backend)
	}
	switch c.Corpus.Backend {
	case "memory":
	case "postgres":
		if c.Corpus.PostgresURL == "" {
			return fmt.Errorf("corpus.postgres_url is required for the postgres backend (set CADOPT_CORPUS_POSTGRES_URL)")
		}
	default:
		return fmt.Errorf("corpus.backend must be \"memory\" or \"postgres\", got %q", c.Corpus.Backend)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port")
	}
	if c.Server.RateLimit <= 0 || c.Server.RateBurst <= 0 {
		return fmt.Errorf("server rate limit and burst must be positive")
	}
	return nil
}
