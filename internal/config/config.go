// Package config loads the ghsearch command configuration from the
// environment, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/webapi-kit/pkg/logging"
	"github.com/joho/godotenv"
)

// Config holds the command configuration.
type Config struct {
	// GitHubToken authenticates API requests. Optional; anonymous search
	// has a much lower rate limit.
	GitHubToken string

	// APIBase is the REST API root.
	APIBase string

	UserAgent string

	LogLevel  string
	LogPretty bool

	// PageSize is sent as per_page (GitHub caps it at 100).
	PageSize int

	// MaxItems stops the walk after this many items; 0 means no limit.
	MaxItems int

	// Timeout bounds a single HTTP request.
	Timeout time.Duration

	// MetricsAddr serves /metrics when non-empty, e.g. ":9090".
	MetricsAddr string
}

// Default returns the configuration used when no variables are set.
func Default() Config {
	return Config{
		APIBase:   "https://api.github.com",
		UserAgent: "webapi-kit-ghsearch/0.1.0",
		LogLevel:  "info",
		PageSize:  30,
		MaxItems:  100,
		Timeout:   30 * time.Second,
	}
}

// Load reads the configuration from the environment. Variables in envFile
// are applied first without overriding the environment; a missing file is
// not an error. An empty envFile skips file loading.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	def := Default()
	cfg := Config{
		GitHubToken: getEnv("GITHUB_TOKEN", ""),
		APIBase:     strings.TrimRight(getEnv("API_BASE_URL", def.APIBase), "/"),
		UserAgent:   getEnv("USER_AGENT", def.UserAgent),
		LogLevel:    getEnv("LOG_LEVEL", def.LogLevel),
		MetricsAddr: getEnv("METRICS_ADDR", ""),
	}

	var err error
	if cfg.LogPretty, err = getEnvBool("LOG_PRETTY", false); err != nil {
		return Config{}, err
	}
	if cfg.PageSize, err = getEnvInt("PAGE_SIZE", def.PageSize); err != nil {
		return Config{}, err
	}
	if cfg.MaxItems, err = getEnvInt("MAX_ITEMS", def.MaxItems); err != nil {
		return Config{}, err
	}
	if cfg.Timeout, err = getEnvDuration("HTTP_TIMEOUT", def.Timeout); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.APIBase == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	if !strings.HasPrefix(c.APIBase, "http://") && !strings.HasPrefix(c.APIBase, "https://") {
		return fmt.Errorf("API_BASE_URL must be an http(s) URL (got %q)", c.APIBase)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("USER_AGENT is required")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if c.PageSize < 1 || c.PageSize > 100 {
		return fmt.Errorf("PAGE_SIZE must be between 1 and 100 (got %d)", c.PageSize)
	}
	if c.MaxItems < 0 {
		return fmt.Errorf("MAX_ITEMS must be >= 0 (got %d)", c.MaxItems)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be > 0 (got %s)", c.Timeout)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
