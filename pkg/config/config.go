package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Backend   BackendConfig
	Server    ServerConfig
	Session   SessionConfig
	Content   ContentConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	Query     QueryConfig
	Analytics AnalyticsConfig
	Logging   LoggingConfig
}

type BackendConfig struct {
	BaseURL    string
	TimeoutSec int
	Retry      RetryConfig
	Breaker    BreakerConfig
}

type RetryConfig struct {
	MaxAttempts    int
	InitialDelayMs int
	MaxDelayMs     int
}

type BreakerConfig struct {
	FailureThreshold uint32
	SuccessThreshold uint32
	OpenTimeoutSec   int
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int

	// AllowedOrigins is the CORS allow list, comma separated.
	AllowedOrigins     string
	RateLimitPerMinute int
	Development        bool
}

type SessionConfig struct {
	Store          string
	FilePath       string
	KeyringService string
}

type ContentConfig struct {
	Driver string
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLSec   int
}

type QueryConfig struct {
	MaxQuestionLength int
}

type AnalyticsConfig struct {
	TopQuestions int
	TrendDays    int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Timeout is the per-request deadline applied by the HTTP transport.
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSec) * time.Second
}

func (r RedisConfig) TTL() time.Duration {
	return time.Duration(r.TTLSec) * time.Second
}

// Load reads configuration from defaults, an optional config.yaml and
// FAQBOT_-prefixed environment variables. A .env file in the working
// directory is applied first when present.
func Load() (*Config, error) {
	return LoadFrom(viper.New(), ".env")
}

func LoadFrom(v *viper.Viper, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/faqbot")

	v.SetEnvPrefix("FAQBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend.baseURL must be an absolute http(s) URL, got %q", c.Backend.BaseURL)
	}
	if c.Backend.TimeoutSec <= 0 {
		return fmt.Errorf("backend.timeoutSec must be positive")
	}
	if c.Backend.Retry.MaxAttempts < 1 {
		return fmt.Errorf("backend.retry.maxAttempts must be at least 1")
	}
	switch c.Session.Store {
	case "keyring", "file", "memory":
	default:
		return fmt.Errorf("session.store must be one of keyring, file, memory")
	}
	if c.Session.Store == "file" && c.Session.FilePath == "" {
		return fmt.Errorf("session.filePath is required for the file store")
	}
	switch c.Content.Driver {
	case "memory":
	case "sqlite":
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path is required for the sqlite content driver")
		}
	default:
		return fmt.Errorf("content.driver must be one of memory, sqlite")
	}
	if c.Server.RateLimitPerMinute <= 0 {
		return fmt.Errorf("server.rateLimitPerMinute must be positive")
	}
	if c.Query.MaxQuestionLength <= 0 {
		return fmt.Errorf("query.maxQuestionLength must be positive")
	}
	if c.Analytics.TopQuestions <= 0 || c.Analytics.TrendDays <= 0 {
		return fmt.Errorf("analytics.topQuestions and analytics.trendDays must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.baseURL", "http://localhost:8000/api/v1")
	v.SetDefault("backend.timeoutSec", 30)
	v.SetDefault("backend.retry.maxAttempts", 3)
	v.SetDefault("backend.retry.initialDelayMs", 200)
	v.SetDefault("backend.retry.maxDelayMs", 2000)
	v.SetDefault("backend.breaker.failureThreshold", 5)
	v.SetDefault("backend.breaker.successThreshold", 2)
	v.SetDefault("backend.breaker.openTimeoutSec", 30)

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.allowedOrigins", "http://localhost:3000")
	v.SetDefault("server.rateLimitPerMinute", 30)
	v.SetDefault("server.development", true)

	v.SetDefault("session.store", "keyring")
	v.SetDefault("session.filePath", "./data/session.token")
	v.SetDefault("session.keyringService", "faqbot.console")

	v.SetDefault("content.driver", "sqlite")
	v.SetDefault("sqlite.path", "./data/content.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttlSec", 86400)

	v.SetDefault("query.maxQuestionLength", 2000)

	v.SetDefault("analytics.topQuestions", 10)
	v.SetDefault("analytics.trendDays", 30)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stderr")
}
