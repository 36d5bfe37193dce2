package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/SmitUplenchwar2687/bottlegate/internal/admission"
	"github.com/SmitUplenchwar2687/bottlegate/internal/botgate"
	"github.com/SmitUplenchwar2687/bottlegate/internal/counter"
	"github.com/SmitUplenchwar2687/bottlegate/internal/denylist"
	"github.com/SmitUplenchwar2687/bottlegate/internal/identity"
	"github.com/SmitUplenchwar2687/bottlegate/internal/quota"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the top-level configuration for a bottlegate instance.
type Config struct {
	Server        ServerConfig             `json:"server"`
	Log           LogConfig                `json:"log"`
	HoneypotField string                   `json:"honeypotField"`
	Captcha       CaptchaConfig            `json:"captcha"`
	Limiters      []quota.Definition       `json:"limiters"`
	Denylist      denylist.Policy          `json:"denylist"`
	FailureMode   FailureModeConfig        `json:"failureMode"`
	Identity      identity.ExtractorConfig `json:"identity"`
	Storage       StorageConfig            `json:"storage"`
	Recorder      RecorderConfig           `json:"recorder"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `json:"addr"`
	// AdminKey guards the admin endpoints; empty disables them.
	AdminKey     string `json:"-"`
	MaxFormBytes int64  `json:"maxFormBytes"`
}

// LogConfig configures the root logger.
type LogConfig struct {
	Level string `json:"level"`
	JSON  bool   `json:"json"`
}

// CaptchaConfig configures the CAPTCHA check of the bot gate.
type CaptchaConfig struct {
	Required   bool          `json:"required"`
	Secret     string        `json:"-"`
	VerifyURL  string        `json:"verifyURL"`
	Timeout    time.Duration `json:"timeout"`
	MinScore   float64       `json:"minScore"`
	TokenField string        `json:"tokenField"`
}

// FailureModeConfig selects fail-open or fail-closed per dependency. An
// empty captcha mode is derived from captcha.required.
type FailureModeConfig struct {
	Store   admission.FailureMode `json:"store"`
	Captcha admission.FailureMode `json:"captcha"`
}

// StorageConfig selects the counter and denylist backend. Grace is added
// past every window end on whichever backend holds the counters.
type StorageConfig struct {
	Backend string              `json:"backend"`
	Grace   time.Duration       `json:"grace"`
	Memory  StorageMemoryConfig `json:"memory"`
	Redis   counter.RedisConfig `json:"redis"`
}

// StorageMemoryConfig configures the in-process backend.
type StorageMemoryConfig struct {
	CleanupInterval time.Duration `json:"cleanupInterval"`
	Shards          int           `json:"shards"`
}

// RecorderConfig names the optional output files. Empty paths disable them.
type RecorderConfig struct {
	AuditLog    string `json:"auditLog"`
	AcceptedLog string `json:"acceptedLog"`
	RecordFile  string `json:"recordFile"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:         ":8080",
			MaxFormBytes: 10 << 20,
		},
		Log: LogConfig{
			Level: "info",
		},
		HoneypotField: botgate.DefaultHoneypotField,
		Captcha: CaptchaConfig{
			VerifyURL:  botgate.DefaultVerifyURL,
			Timeout:    botgate.DefaultVerifyTimeout,
			TokenField: botgate.DefaultTokenField,
		},
		Limiters: quota.DefaultDefinitions(),
		Denylist: denylist.DefaultPolicy(),
		FailureMode: FailureModeConfig{
			Store: admission.FailClosed,
		},
		Identity: identity.ExtractorConfig{
			ForwardedHeader: "X-Forwarded-For",
		},
		Storage: StorageConfig{
			Backend: counter.BackendMemory,
			Grace:   counter.DefaultGrace,
			Memory: StorageMemoryConfig{
				CleanupInterval: time.Minute,
				Shards:          64,
			},
			Redis: counter.RedisConfig{
				Host:        "localhost",
				Port:        6379,
				PoolSize:    20,
				MaxRetries:  3,
				DialTimeout: 5 * time.Second,
			},
		},
	}
}

// CaptchaFailureMode resolves the effective CAPTCHA failure mode.
func (c Config) CaptchaFailureMode() admission.FailureMode {
	if c.FailureMode.Captcha != "" {
		return c.FailureMode.Captcha
	}
	if c.Captcha.Required {
		return admission.FailClosed
	}
	return admission.FailOpen
}

// Validate checks that the config is valid.
func (c Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func (c Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.MaxFormBytes <= 0 {
		return fmt.Errorf("server.maxFormBytes must be positive, got %d", c.Server.MaxFormBytes)
	}
	if hclog.LevelFromString(c.Log.Level) == hclog.NoLevel {
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	if c.HoneypotField == "" {
		return fmt.Errorf("honeypotField is required")
	}
	if c.HoneypotField == c.Captcha.TokenField {
		return fmt.Errorf("honeypotField and captcha.tokenField must differ")
	}

	if c.Captcha.Required && c.Captcha.Secret == "" {
		return fmt.Errorf("captcha.required needs a secret (BOTTLEGATE_CAPTCHA_SECRET)")
	}
	if c.Captcha.Timeout <= 0 {
		return fmt.Errorf("captcha.timeout must be positive, got %s", c.Captcha.Timeout)
	}
	if c.Captcha.MinScore < 0 || c.Captcha.MinScore > 1 {
		return fmt.Errorf("captcha.minScore must be within [0, 1], got %v", c.Captcha.MinScore)
	}

	if len(c.Limiters) == 0 {
		return fmt.Errorf("at least one limiter is required")
	}
	seen := make(map[string]bool, len(c.Limiters))
	for _, l := range c.Limiters {
		if err := l.Validate(); err != nil {
			return err
		}
		if seen[l.Name] {
			return fmt.Errorf("duplicate limiter name %q", l.Name)
		}
		seen[l.Name] = true
	}

	if err := c.Denylist.Validate(); err != nil {
		return fmt.Errorf("denylist: %w", err)
	}

	for name, m := range map[string]admission.FailureMode{
		"failureMode.store":   c.FailureMode.Store,
		"failureMode.captcha": c.FailureMode.Captcha,
	} {
		if m == "" && name == "failureMode.captcha" {
			continue
		}
		if _, err := admission.ParseFailureMode(string(m)); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if c.Identity.IPv6PrefixLength < 0 || c.Identity.IPv6PrefixLength > 128 {
		return fmt.Errorf("identity.ipv6PrefixLength must be within [0, 128], got %d", c.Identity.IPv6PrefixLength)
	}

	if c.Storage.Grace < 0 {
		return fmt.Errorf("storage.grace must not be negative, got %s", c.Storage.Grace)
	}
	switch c.Storage.Backend {
	case counter.BackendMemory:
		if c.Storage.Memory.CleanupInterval <= 0 {
			return fmt.Errorf("storage.memory.cleanupInterval must be positive")
		}
		if c.Storage.Memory.Shards <= 0 {
			return fmt.Errorf("storage.memory.shards must be positive")
		}
	case counter.BackendRedis:
		if c.Storage.Redis.Cluster {
			if len(c.Storage.Redis.ClusterNodes) == 0 {
				return fmt.Errorf("storage.redis.clusterNodes is required in cluster mode")
			}
		} else if c.Storage.Redis.Host == "" || c.Storage.Redis.Port <= 0 {
			return fmt.Errorf("storage.redis needs host and a positive port")
		}
	default:
		return fmt.Errorf("unknown storage backend %q, must be one of: memory, redis", c.Storage.Backend)
	}
	return nil
}

// RedactedSecrets reports which secrets are set, for startup logging.
func (c Config) RedactedSecrets() map[string]bool {
	return map[string]bool{
		"captcha_secret": c.Captcha.Secret != "",
		"redis_password": c.Storage.Redis.Password != "",
		"admin_key":      c.Server.AdminKey != "",
	}
}
