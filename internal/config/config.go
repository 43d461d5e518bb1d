// Package config loads service configuration from a YAML file with
// environment overrides for credentials.
package config

import (
	"fmt"
	"regexp"
	"time"

	"github.com/spf13/viper"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Archive backends
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds all service configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Reports  ReportsConfig  `mapstructure:"reports"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// EngineConfig holds execution loop configuration
type EngineConfig struct {
	MaxIterations     int  `mapstructure:"max_iterations"`
	FaultOnStagnation bool `mapstructure:"fault_on_stagnation"`
}

// OracleConfig holds decision oracle configuration. An empty APIKey disables
// the oracle; table scenarios still run.
type OracleConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	Temperature  float32       `mapstructure:"temperature"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PromptsPath  string        `mapstructure:"prompts_path"`
}

// ArchiveConfig selects the run archive backend and its retention policy
type ArchiveConfig struct {
	Backend       string        `mapstructure:"backend"`
	Retention     time.Duration `mapstructure:"retention"`
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

// DatabaseConfig holds SQLite backend configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// RedisConfig holds Redis backend configuration
type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// ReportsConfig holds report export configuration
type ReportsConfig struct {
	Dir string `mapstructure:"dir"`
}

// NotifyConfig holds run-completion notification configuration
type NotifyConfig struct {
	Lark LarkConfig `mapstructure:"lark"`
}

// LarkConfig holds Lark notification configuration
type LarkConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
	ChatID    string `mapstructure:"chat_id"`
	Email     string `mapstructure:"email"`
}

// WorkerConfig holds run queue configuration
type WorkerConfig struct {
	QueueSize   int `mapstructure:"queue_size"`
	Concurrency int `mapstructure:"concurrency"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from the given file and environment variables.
// An empty path skips the file and boots from defaults plus environment,
// which is enough for one-shot CLI runs.
func Load(configPath string) (*Config, error) {
	viper.AutomaticEnv()

	setDefaults()

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	// Engine defaults
	viper.SetDefault("engine.max_iterations", 100)
	viper.SetDefault("engine.fault_on_stagnation", false)

	// Oracle defaults
	viper.SetDefault("oracle.model", "gpt-4o-mini")
	viper.SetDefault("oracle.temperature", 0.2)
	viper.SetDefault("oracle.max_tokens", 64)
	viper.SetDefault("oracle.max_retries", 3)
	viper.SetDefault("oracle.retry_backoff", 500*time.Millisecond)

	// Archive defaults
	viper.SetDefault("archive.backend", BackendSQLite)
	viper.SetDefault("archive.retention", 30*24*time.Hour)
	viper.SetDefault("archive.prune_interval", time.Hour)

	// Database defaults
	viper.SetDefault("database.path", "data/agentmst.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	// Empty means the schema embedded in the binary
	viper.SetDefault("database.migrations_dir", "")

	// Redis defaults
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.key_prefix", "agentmst")

	// Reports defaults
	viper.SetDefault("reports.dir", "reports")

	// Worker defaults
	viper.SetDefault("worker.queue_size", 64)
	viper.SetDefault("worker.concurrency", 2)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.output_path", "stdout")
	viper.SetDefault("logging.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars() {
	// Sensitive credentials from environment
	viper.BindEnv("oracle.api_key", "OPENAI_API_KEY")
	viper.BindEnv("oracle.base_url", "OPENAI_BASE_URL")
	viper.BindEnv("redis.addr", "REDIS_ADDR")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("notify.lark.app_id", "LARK_APP_ID")
	viper.BindEnv("notify.lark.app_secret", "LARK_APP_SECRET")
	viper.BindEnv("notify.lark.chat_id", "LARK_CHAT_ID")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}

	if c.Engine.MaxIterations <= 0 {
		return fmt.Errorf("engine.max_iterations must be positive")
	}

	switch c.Archive.Backend {
	case BackendSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite backend")
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown archive.backend %q", c.Archive.Backend)
	}

	if c.Archive.Retention <= 0 {
		return fmt.Errorf("archive.retention must be positive")
	}
	if c.Archive.PruneInterval <= 0 {
		return fmt.Errorf("archive.prune_interval must be positive")
	}

	if c.Worker.QueueSize <= 0 {
		return fmt.Errorf("worker.queue_size must be positive")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be positive")
	}

	if c.Notify.Lark.Enabled {
		if c.Notify.Lark.AppID == "" || c.Notify.Lark.AppSecret == "" {
			return fmt.Errorf("notify.lark.app_id and app_secret are required when lark is enabled")
		}
		if c.Notify.Lark.ChatID == "" && c.Notify.Lark.Email == "" {
			return fmt.Errorf("notify.lark needs a chat_id or an email recipient")
		}
		if c.Notify.Lark.Email != "" && !emailPattern.MatchString(c.Notify.Lark.Email) {
			return fmt.Errorf("notify.lark.email %q is not a valid address", c.Notify.Lark.Email)
		}
	}

	return nil
}

// OracleEnabled reports whether an oracle adapter should be constructed
func (c *Config) OracleEnabled() bool {
	return c.Oracle.APIKey != ""
}
