package denylist

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	testcontainers "github.com/testcontainers/testcontainers-go"
	rediscontainer "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/SmitUplenchwar2687/bottlegate/internal/counter"
)

func newRedisClientForTest(t *testing.T) redis.UniversalClient {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := rediscontainer.Run(ctx, "redis:7.2-alpine")
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("container mapped port: %v", err)
	}
	p, err := strconv.Atoi(port.Port())
	if err != nil {
		t.Fatalf("parse mapped port: %v", err)
	}

	client, err := counter.DialRedis(ctx, &counter.RedisConfig{
		Host:        host,
		Port:        p,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("DialRedis() error: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}
