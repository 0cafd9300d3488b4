package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Close policies for the keywords modal.
const (
	ClosePolicyRetain = "retain"
	ClosePolicyClear  = "clear"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	OpenAI    OpenAIConfig
	Extract   ExtractConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// RedisConfig is optional. An empty Addr keeps rate limiting in memory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type OpenAIConfig struct {
	APIURL         string
	APIKey         string
	Model          string
	RequestTimeout time.Duration
}

type ExtractConfig struct {
	MaxRetries        int
	DefaultRetryDelay time.Duration
	MaxRetryDelay     time.Duration
	ClosePolicy       string
}

type SessionConfig struct {
	IdleTTL time.Duration
}

type RateLimitConfig struct {
	RequestsPerMinute int
	BurstSize         int
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  getEnvAsDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvAsDuration("WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvAsDuration("IDLE_TIMEOUT", 60*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		OpenAI: OpenAIConfig{
			APIURL:         getEnv("OPENAI_API_URL", "https://api.openai.com/v1/chat/completions"),
			APIKey:         getEnv("OPENAI_API_KEY", ""),
			Model:          getEnv("LLM_MODEL", "gpt-3.5-turbo"),
			RequestTimeout: getEnvAsDuration("LLM_REQUEST_TIMEOUT", 0),
		},
		Extract: ExtractConfig{
			MaxRetries:        getEnvAsInt("EXTRACT_MAX_RETRIES", 5),
			DefaultRetryDelay: getEnvAsDuration("EXTRACT_DEFAULT_RETRY_DELAY", time.Second),
			MaxRetryDelay:     getEnvAsDuration("EXTRACT_MAX_RETRY_DELAY", 60*time.Second),
			ClosePolicy:       getEnv("MODAL_CLOSE_POLICY", ClosePolicyRetain),
		},
		Session: SessionConfig{
			IdleTTL: getEnvAsDuration("SESSION_IDLE_TTL", 30*time.Minute),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_RPM", 60),
			BurstSize:         getEnvAsInt("RATE_LIMIT_BURST", 10),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}

	u, err := url.Parse(c.OpenAI.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("OPENAI_API_URL must be an absolute URL, got %q", c.OpenAI.APIURL)
	}

	if c.Extract.MaxRetries < 0 {
		return fmt.Errorf("EXTRACT_MAX_RETRIES must not be negative")
	}

	switch c.Extract.ClosePolicy {
	case ClosePolicyRetain, ClosePolicyClear:
	default:
		return fmt.Errorf("MODAL_CLOSE_POLICY must be %q or %q, got %q",
			ClosePolicyRetain, ClosePolicyClear, c.Extract.ClosePolicy)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
