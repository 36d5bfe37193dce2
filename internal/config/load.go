package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/SmitUplenchwar2687/bottlegate/internal/admission"
	"github.com/SmitUplenchwar2687/bottlegate/internal/identity"
	"github.com/SmitUplenchwar2687/bottlegate/internal/quota"
)

// LoadFile reads a JSON or YAML config file (chosen by extension) and
// merges it with defaults. Fields not specified in the file retain their
// default values; a limiters list replaces the default set.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	var raw rawConfig
	if isYAML(path) {
		err = yaml.Unmarshal(data, &raw)
	} else {
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	if err := raw.merge(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// rawConfig is the file representation: durations are strings such as
// "90s", limiter and denylist spans are whole seconds.
type rawConfig struct {
	Server struct {
		Addr         string `json:"addr" yaml:"addr"`
		AdminKey     string `json:"adminKey" yaml:"adminKey"`
		MaxFormBytes int64  `json:"maxFormBytes" yaml:"maxFormBytes"`
	} `json:"server" yaml:"server"`
	Log struct {
		Level string `json:"level" yaml:"level"`
		JSON  *bool  `json:"json" yaml:"json"`
	} `json:"log" yaml:"log"`
	HoneypotField string `json:"honeypotField" yaml:"honeypotField"`
	Captcha       struct {
		Required   *bool    `json:"required" yaml:"required"`
		Secret     string   `json:"secret" yaml:"secret"`
		VerifyURL  string   `json:"verifyURL" yaml:"verifyURL"`
		Timeout    string   `json:"timeout" yaml:"timeout"`
		MinScore   *float64 `json:"minScore" yaml:"minScore"`
		TokenField string   `json:"tokenField" yaml:"tokenField"`
	} `json:"captcha" yaml:"captcha"`
	Limiters []struct {
		Name          string `json:"name" yaml:"name"`
		Scope         string `json:"scope" yaml:"scope"`
		WindowSeconds int64  `json:"windowSeconds" yaml:"windowSeconds"`
		Threshold     uint64 `json:"threshold" yaml:"threshold"`
	} `json:"limiters" yaml:"limiters"`
	Denylist struct {
		BaseSeconds        int64 `json:"baseSeconds" yaml:"baseSeconds"`
		CapSeconds         int64 `json:"capSeconds" yaml:"capSeconds"`
		ViolationThreshold int   `json:"violationThreshold" yaml:"violationThreshold"`
		ObservationSeconds int64 `json:"observationSeconds" yaml:"observationSeconds"`
	} `json:"denylist" yaml:"denylist"`
	FailureMode struct {
		Store   string `json:"store" yaml:"store"`
		Captcha string `json:"captcha" yaml:"captcha"`
	} `json:"failureMode" yaml:"failureMode"`
	Identity struct {
		TrustedProxies   []string `json:"trustedProxies" yaml:"trustedProxies"`
		ForwardedHeader  string   `json:"forwardedHeader" yaml:"forwardedHeader"`
		IPv6PrefixLength *int     `json:"ipv6PrefixLength" yaml:"ipv6PrefixLength"`
	} `json:"identity" yaml:"identity"`
	Storage struct {
		Backend string `json:"backend" yaml:"backend"`
		Grace   string `json:"grace" yaml:"grace"`
		Memory  struct {
			CleanupInterval string `json:"cleanupInterval" yaml:"cleanupInterval"`
			Shards          int    `json:"shards" yaml:"shards"`
		} `json:"memory" yaml:"memory"`
		Redis struct {
			Host         string   `json:"host" yaml:"host"`
			Port         int      `json:"port" yaml:"port"`
			Password     string   `json:"password" yaml:"password"`
			DB           int      `json:"db" yaml:"db"`
			Cluster      *bool    `json:"cluster" yaml:"cluster"`
			ClusterNodes []string `json:"clusterNodes" yaml:"clusterNodes"`
			PoolSize     int      `json:"poolSize" yaml:"poolSize"`
			MaxRetries   int      `json:"maxRetries" yaml:"maxRetries"`
			DialTimeout  string   `json:"dialTimeout" yaml:"dialTimeout"`
		} `json:"redis" yaml:"redis"`
	} `json:"storage" yaml:"storage"`
	Recorder struct {
		AuditLog    string `json:"auditLog" yaml:"auditLog"`
		AcceptedLog string `json:"acceptedLog" yaml:"acceptedLog"`
		RecordFile  string `json:"recordFile" yaml:"recordFile"`
	} `json:"recorder" yaml:"recorder"`
}

func (raw *rawConfig) merge(cfg *Config) error {
	if raw.Server.Addr != "" {
		cfg.Server.Addr = raw.Server.Addr
	}
	if raw.Server.AdminKey != "" {
		cfg.Server.AdminKey = raw.Server.AdminKey
	}
	if raw.Server.MaxFormBytes > 0 {
		cfg.Server.MaxFormBytes = raw.Server.MaxFormBytes
	}

	if raw.Log.Level != "" {
		cfg.Log.Level = raw.Log.Level
	}
	if raw.Log.JSON != nil {
		cfg.Log.JSON = *raw.Log.JSON
	}

	if raw.HoneypotField != "" {
		cfg.HoneypotField = raw.HoneypotField
	}

	if raw.Captcha.Required != nil {
		cfg.Captcha.Required = *raw.Captcha.Required
	}
	if raw.Captcha.Secret != "" {
		cfg.Captcha.Secret = raw.Captcha.Secret
	}
	if raw.Captcha.VerifyURL != "" {
		cfg.Captcha.VerifyURL = raw.Captcha.VerifyURL
	}
	if err := setDuration(&cfg.Captcha.Timeout, raw.Captcha.Timeout, "captcha.timeout"); err != nil {
		return err
	}
	if raw.Captcha.MinScore != nil {
		cfg.Captcha.MinScore = *raw.Captcha.MinScore
	}
	if raw.Captcha.TokenField != "" {
		cfg.Captcha.TokenField = raw.Captcha.TokenField
	}

	if len(raw.Limiters) > 0 {
		cfg.Limiters = make([]quota.Definition, 0, len(raw.Limiters))
		for _, l := range raw.Limiters {
			cfg.Limiters = append(cfg.Limiters, quota.Definition{
				Name:      l.Name,
				Scope:     identity.Kind(l.Scope),
				Window:    time.Duration(l.WindowSeconds) * time.Second,
				Threshold: l.Threshold,
			})
		}
	}

	if raw.Denylist.BaseSeconds > 0 {
		cfg.Denylist.Base = time.Duration(raw.Denylist.BaseSeconds) * time.Second
	}
	if raw.Denylist.CapSeconds > 0 {
		cfg.Denylist.Cap = time.Duration(raw.Denylist.CapSeconds) * time.Second
	}
	if raw.Denylist.ViolationThreshold > 0 {
		cfg.Denylist.Threshold = raw.Denylist.ViolationThreshold
	}
	if raw.Denylist.ObservationSeconds > 0 {
		cfg.Denylist.Observation = time.Duration(raw.Denylist.ObservationSeconds) * time.Second
	}

	if raw.FailureMode.Store != "" {
		cfg.FailureMode.Store = admission.FailureMode(raw.FailureMode.Store)
	}
	if raw.FailureMode.Captcha != "" {
		cfg.FailureMode.Captcha = admission.FailureMode(raw.FailureMode.Captcha)
	}

	if len(raw.Identity.TrustedProxies) > 0 {
		cfg.Identity.TrustedProxies = append([]string(nil), raw.Identity.TrustedProxies...)
	}
	if raw.Identity.ForwardedHeader != "" {
		cfg.Identity.ForwardedHeader = raw.Identity.ForwardedHeader
	}
	if raw.Identity.IPv6PrefixLength != nil {
		cfg.Identity.IPv6PrefixLength = *raw.Identity.IPv6PrefixLength
	}

	if raw.Storage.Backend != "" {
		cfg.Storage.Backend = raw.Storage.Backend
	}
	if err := setDuration(&cfg.Storage.Memory.CleanupInterval, raw.Storage.Memory.CleanupInterval, "storage.memory.cleanupInterval"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Storage.Grace, raw.Storage.Grace, "storage.grace"); err != nil {
		return err
	}
	if raw.Storage.Memory.Shards > 0 {
		cfg.Storage.Memory.Shards = raw.Storage.Memory.Shards
	}

	r := raw.Storage.Redis
	if r.Host != "" {
		cfg.Storage.Redis.Host = r.Host
	}
	if r.Port > 0 {
		cfg.Storage.Redis.Port = r.Port
	}
	if r.Password != "" {
		cfg.Storage.Redis.Password = r.Password
	}
	if r.DB > 0 {
		cfg.Storage.Redis.DB = r.DB
	}
	if r.Cluster != nil {
		cfg.Storage.Redis.Cluster = *r.Cluster
	}
	if len(r.ClusterNodes) > 0 {
		cfg.Storage.Redis.ClusterNodes = append([]string(nil), r.ClusterNodes...)
	}
	if r.PoolSize > 0 {
		cfg.Storage.Redis.PoolSize = r.PoolSize
	}
	if r.MaxRetries > 0 {
		cfg.Storage.Redis.MaxRetries = r.MaxRetries
	}
	if err := setDuration(&cfg.Storage.Redis.DialTimeout, r.DialTimeout, "storage.redis.dialTimeout"); err != nil {
		return err
	}

	if raw.Recorder.AuditLog != "" {
		cfg.Recorder.AuditLog = raw.Recorder.AuditLog
	}
	if raw.Recorder.AcceptedLog != "" {
		cfg.Recorder.AcceptedLog = raw.Recorder.AcceptedLog
	}
	if raw.Recorder.RecordFile != "" {
		cfg.Recorder.RecordFile = raw.Recorder.RecordFile
	}
	return nil
}

func setDuration(dst *time.Duration, s, field string) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", field, err)
	}
	*dst = d
	return nil
}

const exampleJSON = `{
  "server": {
    "addr": ":8080"
  },
  "log": {
    "level": "info",
    "json": false
  },
  "honeypotField": "hp",
  "captcha": {
    "required": false,
    "verifyURL": "https://www.google.com/recaptcha/api/siteverify",
    "timeout": "5s",
    "minScore": 0,
    "tokenField": "captcha_token"
  },
  "limiters": [
    {"name": "ip_burst", "scope": "source_address", "windowSeconds": 60, "threshold": 6},
    {"name": "ip_hourly", "scope": "source_address", "windowSeconds": 3600, "threshold": 30},
    {"name": "ip_daily", "scope": "source_address", "windowSeconds": 86400, "threshold": 100},
    {"name": "wallet_hourly", "scope": "wallet", "windowSeconds": 3600, "threshold": 10},
    {"name": "wallet_daily", "scope": "wallet", "windowSeconds": 86400, "threshold": 20}
  ],
  "denylist": {
    "baseSeconds": 900,
    "capSeconds": 86400,
    "violationThreshold": 3,
    "observationSeconds": 3600
  },
  "failureMode": {
    "store": "closed"
  },
  "identity": {
    "trustedProxies": [],
    "forwardedHeader": "X-Forwarded-For",
    "ipv6PrefixLength": 64
  },
  "storage": {
    "backend": "memory",
    "grace": "5s",
    "memory": {
      "cleanupInterval": "1m"
    },
    "redis": {
      "host": "localhost",
      "port": 6379,
      "poolSize": 20,
      "maxRetries": 3,
      "dialTimeout": "5s"
    }
  },
  "recorder": {
    "auditLog": "",
    "acceptedLog": "accepted.jsonl"
  }
}
`

const exampleYAML = `server:
  addr: ":8080"
log:
  level: info
  json: false
honeypotField: hp
captcha:
  required: false
  verifyURL: https://www.google.com/recaptcha/api/siteverify
  timeout: 5s
  tokenField: captcha_token
limiters:
  - {name: ip_burst, scope: source_address, windowSeconds: 60, threshold: 6}
  - {name: ip_hourly, scope: source_address, windowSeconds: 3600, threshold: 30}
  - {name: ip_daily, scope: source_address, windowSeconds: 86400, threshold: 100}
  - {name: wallet_hourly, scope: wallet, windowSeconds: 3600, threshold: 10}
  - {name: wallet_daily, scope: wallet, windowSeconds: 86400, threshold: 20}
denylist:
  baseSeconds: 900
  capSeconds: 86400
  violationThreshold: 3
  observationSeconds: 3600
failureMode:
  store: closed
identity:
  forwardedHeader: X-Forwarded-For
  ipv6PrefixLength: 64
storage:
  backend: memory
  grace: 5s
  memory:
    cleanupInterval: 1m
  redis:
    host: localhost
    port: 6379
    poolSize: 20
    maxRetries: 3
    dialTimeout: 5s
recorder:
  acceptedLog: accepted.jsonl
`

// WriteExample writes an example config file to the given path, as YAML
// when the extension asks for it and JSON otherwise.
func WriteExample(path string) error {
	example := exampleJSON
	if isYAML(path) {
		example = exampleYAML
	}
	return os.WriteFile(path, []byte(example), 0o644)
}
