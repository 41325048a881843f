package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

// Backend selects which session store implementation the server wires in.
const (
	BackendMemory    = "memory"
	BackendEncrypted = "encrypted"
	BackendRedis     = "redis"
	BackendPostgres  = "postgres"
)

type Config struct {
	Port                   int    `env:"PORT" envDefault:"8080"`
	Backend                string `env:"SESSION_BACKEND" envDefault:"memory"`
	SessionTimeoutMinutes  int    `env:"SESSION_TIMEOUT_MINUTES" envDefault:"30"`
	CleanupIntervalSeconds int    `env:"CLEANUP_INTERVAL_SECONDS" envDefault:"300"`
	EncryptionSecret       string `env:"ENCRYPTION_SECRET"`
	StorageDir             string `env:"STORAGE_DIR" envDefault:"data/sessions"`
	RedisURL               string `env:"REDIS_URL"`
	DatabaseURL            string `env:"DATABASE_URL"`
	MaxAudioBlobBytes      int64  `env:"MAX_AUDIO_BLOB_BYTES" envDefault:"10485760"`
	LogLevel               string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutMinutes) * time.Minute
}

func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	switch c.Backend {
	case BackendMemory, BackendEncrypted, BackendRedis, BackendPostgres:
	default:
		return fmt.Errorf("SESSION_BACKEND must be one of memory, encrypted, redis, postgres (got %q)", c.Backend)
	}

	if c.SessionTimeoutMinutes < 0 {
		return fmt.Errorf("SESSION_TIMEOUT_MINUTES must not be negative")
	}
	if c.CleanupIntervalSeconds <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL_SECONDS must be positive")
	}

	if c.Backend == BackendEncrypted {
		if c.EncryptionSecret == "" {
			return fmt.Errorf("ENCRYPTION_SECRET is required for the encrypted backend")
		}
		if c.StorageDir == "" {
			return fmt.Errorf("STORAGE_DIR is required for the encrypted backend")
		}
		if isProduction {
			if err := validateSecret("ENCRYPTION_SECRET", c.EncryptionSecret); err != nil {
				return err
			}
		}
	}

	if c.Backend == BackendRedis && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required for the redis backend")
	}
	if c.Backend == BackendPostgres && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for the postgres backend")
	}

	if isProduction {
		if c.Backend == BackendMemory {
			log.Warn().Msg("memory backend in production: sessions are lost on restart")
		}
		if c.RedisURL != "" && len(c.RedisURL) >= 8 && c.RedisURL[:8] == "redis://" {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
