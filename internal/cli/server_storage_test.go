package cli

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/bottlegate/internal/admission"
	"github.com/SmitUplenchwar2687/bottlegate/internal/clock"
	"github.com/SmitUplenchwar2687/bottlegate/internal/config"
	"github.com/SmitUplenchwar2687/bottlegate/internal/identity"
)

func TestNormalizeRedisHostPort(t *testing.T) {
	host, port, err := normalizeRedisHostPort("localhost:6380", 6379)
	if err != nil {
		t.Fatalf("normalizeRedisHostPort() error = %v", err)
	}
	if host != "localhost" || port != 6380 {
		t.Fatalf("normalizeRedisHostPort() = %s:%d, want localhost:6380", host, port)
	}

	host, port, err = normalizeRedisHostPort("redis.internal", 6379)
	if err != nil {
		t.Fatalf("normalizeRedisHostPort() error = %v", err)
	}
	if host != "redis.internal" || port != 6379 {
		t.Fatalf("normalizeRedisHostPort() = %s:%d, want redis.internal:6379", host, port)
	}
}

func TestNormalizeRedisHostPort_Invalid(t *testing.T) {
	if _, _, err := normalizeRedisHostPort("", 6379); err == nil {
		t.Fatal("expected error for empty host")
	}
	if _, _, err := normalizeRedisHostPort("localhost", 0); err == nil {
		t.Fatal("expected error for non-positive port")
	}
}

func parseStorageFlags(t *testing.T, args ...string) (*cobra.Command, *storageOptions) {
	t.Helper()
	var opts storageOptions
	cmd := &cobra.Command{Use: "test"}
	opts.addFlags(cmd)
	if err := cmd.Flags().Parse(args); err != nil {
		t.Fatal(err)
	}
	return cmd, &opts
}

func TestStorageOptions_ConfigFillsUnsetFlags(t *testing.T) {
	cmd, opts := parseStorageFlags(t, "--redis-port", "6390")

	cfg := config.Default()
	cfg.Storage.Backend = "redis"
	cfg.Storage.Redis.Host = "redis.internal"
	cfg.Storage.Redis.Port = 7000
	cfg.Storage.Redis.Password = "from-env"
	if err := opts.resolve(cmd, &cfg); err != nil {
		t.Fatal(err)
	}

	if cfg.Storage.Backend != "redis" {
		t.Errorf("backend = %q, want redis from config", cfg.Storage.Backend)
	}
	if cfg.Storage.Redis.Host != "redis.internal" {
		t.Errorf("host = %q, want redis.internal from config", cfg.Storage.Redis.Host)
	}
	if cfg.Storage.Redis.Port != 6390 {
		t.Errorf("port = %d, want 6390 from the flag", cfg.Storage.Redis.Port)
	}
	if cfg.Storage.Redis.Password != "from-env" {
		t.Error("redis password should survive flag resolution")
	}
}

func TestStorageOptions_HostPortFlag(t *testing.T) {
	cmd, opts := parseStorageFlags(t, "--storage", "redis", "--redis-host", "cache:6381")

	cfg := config.Default()
	if err := opts.resolve(cmd, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Redis.Host != "cache" || cfg.Storage.Redis.Port != 6381 {
		t.Errorf("redis = %s:%d, want cache:6381", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port)
	}
}

func TestStorageOptions_MemoryFlags(t *testing.T) {
	cmd, opts := parseStorageFlags(t, "--storage-memory-shards", "8", "--storage-grace", "2s")

	cfg := config.Default()
	if err := opts.resolve(cmd, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Memory.Shards != 8 || cfg.Storage.Grace != 2*time.Second {
		t.Errorf("storage = %+v, want 8 shards and 2s grace", cfg.Storage)
	}
	if cfg.Storage.Memory.CleanupInterval != time.Minute {
		t.Errorf("cleanup interval = %s, want the 1m default", cfg.Storage.Memory.CleanupInterval)
	}
}

func TestStorageOptions_GraceAppliesToRedis(t *testing.T) {
	cmd, opts := parseStorageFlags(t, "--storage", "redis")

	cfg := config.Default()
	cfg.Storage.Grace = 9 * time.Second
	if err := opts.resolve(cmd, &cfg); err != nil {
		t.Fatal(err)
	}
	if got := redisStoreOptions(cfg.Storage, clock.NewVirtualClock(epoch)).Grace; got != 9*time.Second {
		t.Errorf("redis grace = %s, want 9s from storage.grace", got)
	}

	cmd, opts = parseStorageFlags(t, "--storage", "redis", "--storage-grace", "1s")
	cfg = config.Default()
	if err := opts.resolve(cmd, &cfg); err != nil {
		t.Fatal(err)
	}
	if got := redisStoreOptions(cfg.Storage, nil).Grace; got != time.Second {
		t.Errorf("redis grace = %s, want 1s from --storage-grace", got)
	}
}

func TestBuildStack_Memory(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	var events []admission.Event
	st, err := buildStack(context.Background(), config.Default(), vc, hclog.NewNullLogger(),
		admission.ObserverFunc(func(e admission.Event) { events = append(events, e) }))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	v := st.pipeline.Submit(context.Background(), admission.Submission{RemoteAddr: "192.0.2.1:1", Fields: map[string]string{}})
	if !v.Accepted() {
		t.Fatalf("first submission = %s, want accept", v)
	}
	if len(events) != 1 {
		t.Errorf("observer saw %d events, want 1", len(events))
	}

	if _, active, err := st.denylist.IsActive(context.Background(), identity.SourceAddress("192.0.2.1")); err != nil || active {
		t.Errorf("IsActive = %v, %v; want inactive", active, err)
	}
}

func TestBuildStack_CaptchaVerifierFromSecret(t *testing.T) {
	cfg := config.Default()
	cfg.Captcha.Required = true
	cfg.Captcha.Secret = "secret"
	cfg.Captcha.VerifyURL = "http://127.0.0.1:1/siteverify"
	cfg.Captcha.Timeout = 200 * time.Millisecond

	st, err := buildStack(context.Background(), cfg, clock.NewVirtualClock(epoch), hclog.NewNullLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	v := st.pipeline.Submit(context.Background(), admission.Submission{RemoteAddr: "192.0.2.1:1", Fields: map[string]string{}})
	if v.Reason != admission.ReasonCaptchaFailed {
		t.Errorf("missing token verdict = %s, want captcha_failed", v)
	}
	v = st.pipeline.Submit(context.Background(), admission.Submission{
		RemoteAddr: "192.0.2.1:1",
		Fields:     map[string]string{"captcha_token": "tok"},
	})
	if v.Reason != admission.ReasonCaptchaUnavailable {
		t.Errorf("unreachable verifier verdict = %s, want captcha_unavailable", v)
	}
}

func TestServeCmd_RejectsInvalidConfig(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"serve", "--storage", "bogus"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for unknown storage backend")
	}
}

func TestInitCmd_WritesLoadableConfig(t *testing.T) {
	path := t.TempDir() + "/bottlegate.yaml"
	cmd := NewRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{"init", "--output", path})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("generated config should be valid: %v", err)
	}
}
