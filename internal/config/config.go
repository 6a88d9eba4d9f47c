package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	TMDB      TMDBConfig      `mapstructure:"tmdb"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Lists     ListsConfig     `mapstructure:"lists"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// TMDBConfig holds the catalog client configuration.
type TMDBConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Timeout int    `mapstructure:"timeout"` // seconds
	// MaxRetries bounds the extra attempts after a server or transport failure.
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	// AcquireTimeout bounds the wait for a rate limit token per attempt.
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	// BreakerFailures consecutive failures open the circuit breaker for BreakerTimeout.
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

// RateLimitConfig sizes the token bucket shared by every catalog call.
type RateLimitConfig struct {
	Capacity int           `mapstructure:"capacity"`
	Window   time.Duration `mapstructure:"window"`
}

// ListsConfig controls list evaluation and background refresh.
type ListsConfig struct {
	Workers              int    `mapstructure:"workers"`
	QueueSize            int    `mapstructure:"queue_size"`
	RefreshCron          string `mapstructure:"refresh_cron"`
	DefaultIntervalHours int    `mapstructure:"default_interval_hours"`
	// PageCapMultiplier scales the page budget of evaluations that join the rating index.
	PageCapMultiplier int `mapstructure:"page_cap_multiplier"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Path: "./data/mediacore.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		TMDB: TMDBConfig{
			BaseURL:         "https://api.themoviedb.org/3",
			Timeout:         30,
			MaxRetries:      3,
			RetryBackoff:    500 * time.Millisecond,
			AcquireTimeout:  30 * time.Second,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Capacity: 40,
			Window:   10 * time.Second,
		},
		Lists: ListsConfig{
			Workers:              2,
			QueueSize:            64,
			RefreshCron:          "* * * * *",
			DefaultIntervalHours: 6,
			PageCapMultiplier:    10,
		},
	}
}

// Load reads configuration from file and environment variables.
// Priority: environment variables (including .env) > config file > defaults
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.mediacore")
	}

	v.SetEnvPrefix("MEDIACORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.TMDB.APIKey == "" {
		cfg.TMDB.APIKey = EmbeddedTMDBKey
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadDotEnv exports variables from an env file without overriding the process
// environment. A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)

	v.SetDefault("database.path", d.Database.Path)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)

	// API key has no default so AutomaticEnv can see MEDIACORE_TMDB_API_KEY
	v.SetDefault("tmdb.api_key", "")
	v.SetDefault("tmdb.base_url", d.TMDB.BaseURL)
	v.SetDefault("tmdb.timeout", d.TMDB.Timeout)
	v.SetDefault("tmdb.max_retries", d.TMDB.MaxRetries)
	v.SetDefault("tmdb.retry_backoff", d.TMDB.RetryBackoff)
	v.SetDefault("tmdb.acquire_timeout", d.TMDB.AcquireTimeout)
	v.SetDefault("tmdb.breaker_failures", d.TMDB.BreakerFailures)
	v.SetDefault("tmdb.breaker_timeout", d.TMDB.BreakerTimeout)

	v.SetDefault("ratelimit.capacity", d.RateLimit.Capacity)
	v.SetDefault("ratelimit.window", d.RateLimit.Window)

	v.SetDefault("lists.workers", d.Lists.Workers)
	v.SetDefault("lists.queue_size", d.Lists.QueueSize)
	v.SetDefault("lists.refresh_cron", d.Lists.RefreshCron)
	v.SetDefault("lists.default_interval_hours", d.Lists.DefaultIntervalHours)
	v.SetDefault("lists.page_cap_multiplier", d.Lists.PageCapMultiplier)
}

// Validate rejects settings the services cannot start with.
func (c *Config) Validate() error {
	if c.RateLimit.Capacity < 1 {
		return fmt.Errorf("ratelimit.capacity must be positive, got %d", c.RateLimit.Capacity)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("ratelimit.window must be positive, got %s", c.RateLimit.Window)
	}
	if c.Lists.Workers < 1 {
		return fmt.Errorf("lists.workers must be positive, got %d", c.Lists.Workers)
	}
	if c.Lists.DefaultIntervalHours < 1 || c.Lists.DefaultIntervalHours > 168 {
		return fmt.Errorf("lists.default_interval_hours must be between 1 and 168, got %d", c.Lists.DefaultIntervalHours)
	}
	if c.Lists.PageCapMultiplier < 1 {
		return fmt.Errorf("lists.page_cap_multiplier must be positive, got %d", c.Lists.PageCapMultiplier)
	}
	return nil
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
