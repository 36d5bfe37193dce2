package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/SmitUplenchwar2687/bottlegate/internal/identity"
)

// Environment variables read by ApplyEnv.
const (
	EnvCaptchaSecret   = "BOTTLEGATE_CAPTCHA_SECRET"
	EnvRedisPassword   = "BOTTLEGATE_REDIS_PASSWORD"
	EnvAdminKey        = "BOTTLEGATE_ADMIN_KEY"
	EnvRateLimitMax    = "BOTTLEGATE_RATE_LIMIT_MAX"
	EnvRateLimitWindow = "BOTTLEGATE_RATE_LIMIT_WINDOW"
)

// LoadEnvFiles loads .env.local and .env when present. Variables already
// set in the process environment win.
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env.local", ".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// ApplyEnv overlays secrets and the burst limiter override from the
// environment. getenv is os.Getenv outside tests.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}

	if v := getenv(EnvCaptchaSecret); v != "" {
		cfg.Captcha.Secret = v
	}
	if v := getenv(EnvRedisPassword); v != "" {
		cfg.Storage.Redis.Password = v
	}
	if v := getenv(EnvAdminKey); v != "" {
		cfg.Server.AdminKey = v
	}

	max, window := getenv(EnvRateLimitMax), getenv(EnvRateLimitWindow)
	if max == "" && window == "" {
		return nil
	}

	idx := burstLimiter(cfg)
	if idx < 0 {
		return fmt.Errorf("%s/%s set but no source_address limiter is configured", EnvRateLimitMax, EnvRateLimitWindow)
	}
	if max != "" {
		n, err := strconv.ParseUint(max, 10, 64)
		if err != nil || n == 0 {
			return fmt.Errorf("invalid %s %q: must be a positive integer", EnvRateLimitMax, max)
		}
		cfg.Limiters[idx].Threshold = n
	}
	if window != "" {
		n, err := strconv.ParseInt(window, 10, 64)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid %s %q: must be a positive number of seconds", EnvRateLimitWindow, window)
		}
		cfg.Limiters[idx].Window = time.Duration(n) * time.Second
	}
	return nil
}

// burstLimiter returns the index of the shortest source_address limiter.
func burstLimiter(cfg *Config) int {
	idx := -1
	for i, l := range cfg.Limiters {
		if l.Scope != identity.KindSourceAddress {
			continue
		}
		if idx < 0 || l.Window < cfg.Limiters[idx].Window {
			idx = i
		}
	}
	return idx
}
