package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"scraperd/internal/entity"
)

// Config carries every tunable the daemon reads at startup. Values come
// from the environment, with .env files layered underneath so local runs
// work without exporting anything.
type Config struct {
	AppEnv string
	Port   int

	PoolSlots      int
	AcquireTimeout time.Duration

	QueueCapacity int

	DefaultAttemptTimeout time.Duration
	DefaultMaxAttempts    int
	BackoffBase           time.Duration
	BackoffMultiplier     float64
	BackoffCap            time.Duration

	Headless  bool
	NoSandbox bool

	ShutdownGrace time.Duration
}

// Load reads .env (if present), then overlays .env.<APP_ENV>, then
// resolves every setting from the environment with built-in defaults.
func Load() *Config {
	appEnv := os.Getenv("APP_ENV")
	if appEnv == "" {
		appEnv = "dev"
	}

	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Info: no .env file found (this is OK for CI/CD)")
	}

	envFile := fmt.Sprintf(".env.%s", appEnv)
	if err := godotenv.Overload(envFile); err != nil {
		log.Printf("Info: no %s overlay", envFile)
	}

	return &Config{
		AppEnv:                appEnv,
		Port:                  getInt("PORT", 8080),
		PoolSlots:             getInt("POOL_SIZE", 2),
		AcquireTimeout:        getDurationMs("ACQUIRE_TIMEOUT_MS", 15*time.Second),
		QueueCapacity:         getInt("QUEUE_CAPACITY", 64),
		DefaultAttemptTimeout: getDurationMs("DEFAULT_TIMEOUT_MS", time.Minute),
		DefaultMaxAttempts:    getInt("DEFAULT_MAX_ATTEMPTS", 3),
		BackoffBase:           getDurationMs("BACKOFF_BASE_MS", 500*time.Millisecond),
		BackoffMultiplier:     getFloat("BACKOFF_MULTIPLIER", 2.0),
		BackoffCap:            getDurationMs("BACKOFF_CAP_MS", 30*time.Second),
		Headless:              getBool("HEADLESS", true),
		NoSandbox:             getBool("NO_SANDBOX", false),
		ShutdownGrace:         getDurationMs("SHUTDOWN_GRACE_MS", 20*time.Second),
	}
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT %d out of range", c.Port)
	}
	if c.PoolSlots < 1 {
		return fmt.Errorf("POOL_SIZE must be at least 1, got %d", c.PoolSlots)
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("QUEUE_CAPACITY must be at least 1, got %d", c.QueueCapacity)
	}
	if c.DefaultMaxAttempts < 1 {
		return fmt.Errorf("DEFAULT_MAX_ATTEMPTS must be at least 1, got %d", c.DefaultMaxAttempts)
	}
	if c.DefaultAttemptTimeout <= 0 {
		return fmt.Errorf("DEFAULT_TIMEOUT_MS must be positive")
	}
	if c.BackoffBase <= 0 {
		return fmt.Errorf("BACKOFF_BASE_MS must be positive")
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("BACKOFF_MULTIPLIER must be at least 1, got %g", c.BackoffMultiplier)
	}
	if c.BackoffCap < c.BackoffBase {
		return fmt.Errorf("BACKOFF_CAP_MS must not be below BACKOFF_BASE_MS")
	}
	return nil
}

// RetryPolicy maps the backoff settings onto the policy the retry
// coordinator runs with.
func (c *Config) RetryPolicy() entity.RetryPolicy {
	p := entity.DefaultRetryPolicy()
	p.MaxAttempts = c.DefaultMaxAttempts
	p.BackoffBase = c.BackoffBase
	p.BackoffMultiplier = c.BackoffMultiplier
	p.BackoffCap = c.BackoffCap
	return p
}

func getInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getFloat(key string, defaultValue float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getDurationMs(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed < 0 {
		return defaultValue
	}
	return time.Duration(parsed) * time.Millisecond
}
