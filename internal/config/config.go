// Package config loads process settings from the environment, after an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	HTTPAddr    string `env:"HTTP_ADDR,default=:8080"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	StoreDriver string `env:"STORE_DRIVER,default=postgres"`
	DatabaseDSN string `env:"DB_DSN"`
	RedisAddr   string `env:"REDIS_ADDR,default=localhost:6379"`
	JWTSecret   string `env:"JWT_SECRET,required=true"`
	CORSOrigin  string `env:"CORS_ORIGIN,default=http://localhost:8000"`
	SeedDemo    bool   `env:"SEED_DEMO,default=false"`

	TokenTTL        time.Duration `env:"TOKEN_TTL,default=168h"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`

	Workers        int           `env:"WORKERS,default=4"`
	TaskQueueSize  int           `env:"TASK_QUEUE_SIZE,default=1024"`
	TaskMaxRetries int           `env:"TASK_MAX_RETRIES,default=3"`
	TaskTimeout    time.Duration `env:"TASK_TIMEOUT,default=5s"`

	SendRate  float64 `env:"SEND_RATE,default=5"`
	SendBurst int     `env:"SEND_BURST,default=20"`
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromMap is Load without the process environment.
func FromMap(vars map[string]string) (*Config, error) {
	var cfg Config
	if err := env.Unmarshal(env.EnvSet(vars), &cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("JWT_SECRET is not set")
	}
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseDSN == "" {
			return errors.New("DB_DSN is not set")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.Workers <= 0 || c.TaskQueueSize <= 0 {
		return errors.New("WORKERS and TASK_QUEUE_SIZE must be positive")
	}
	return nil
}

// AllowedOrigins splits CORS_ORIGIN on commas.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigin, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
