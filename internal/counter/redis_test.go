package counter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/SmitUplenchwar2687/bottlegate/internal/clock"
)

func newRedisStoreForTest(t *testing.T, c clock.Clock) *RedisStore {
	t.Helper()
	client := newRedisClientForTest(t)
	s, err := NewRedisStore(client, RedisStoreOptions{Clock: c})
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	return s
}

func TestRedisStore_SequentialCounts(t *testing.T) {
	s := newRedisStoreForTest(t, clock.NewVirtualClock(epoch.Add(10*time.Second)))

	for i := uint64(1); i <= 10; i++ {
		c, err := s.IncrementAndGet(context.Background(), "seq", time.Minute)
		if err != nil {
			t.Fatalf("IncrementAndGet() error = %v", err)
		}
		if c.Value != i {
			t.Fatalf("count = %d, want %d", c.Value, i)
		}
		if c.TTL != 50*time.Second {
			t.Fatalf("TTL = %s, want 50s", c.TTL)
		}
	}
}

func TestRedisStore_ConcurrentIncrementsNoLostUpdates(t *testing.T) {
	vc := clock.NewVirtualClock(time.Now().Truncate(time.Hour).Add(time.Minute))
	s := newRedisStoreForTest(t, vc)

	const n = 300
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.IncrementAndGet(context.Background(), "conc", time.Hour); err != nil {
				t.Errorf("IncrementAndGet() error = %v", err)
			}
		}()
	}
	wg.Wait()

	c, err := s.IncrementAndGet(context.Background(), "conc", time.Hour)
	if err != nil {
		t.Fatalf("IncrementAndGet() error = %v", err)
	}
	if c.Value != n+1 {
		t.Fatalf("final count = %d, want %d", c.Value, n+1)
	}
}

func TestRedisStore_SetsExpiryWithGrace(t *testing.T) {
	client := newRedisClientForTest(t)
	vc := clock.NewVirtualClock(epoch)
	s, err := NewRedisStore(client, RedisStoreOptions{Clock: vc, Prefix: "t:"})
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}

	c, err := s.IncrementAndGet(context.Background(), "exp", time.Minute)
	if err != nil {
		t.Fatalf("IncrementAndGet() error = %v", err)
	}

	ttl, err := client.PTTL(context.Background(), "t:"+windowKey("exp", c.Window)).Result()
	if err != nil {
		t.Fatalf("PTTL error = %v", err)
	}
	if ttl <= time.Minute || ttl > time.Minute+DefaultGrace {
		t.Fatalf("redis ttl = %s, want within (1m, 1m5s]", ttl)
	}
}

func TestRedisStore_DialFailsOnBadEndpoint(t *testing.T) {
	_, err := DialRedis(context.Background(), &RedisConfig{
		Host:        "127.0.0.1",
		Port:        1,
		PoolSize:    1,
		MaxRetries:  1,
		DialTimeout: 100 * time.Millisecond,
	})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("error = %v, want ErrStoreUnavailable", err)
	}
}

func TestRedisStore_ClusterRequiresNodes(t *testing.T) {
	if _, err := DialRedis(context.Background(), &RedisConfig{Cluster: true}); err == nil {
		t.Fatal("expected error when cluster=true and cluster_nodes is empty")
	}
}

func TestRedisStore_UnreachableIsUnavailable(t *testing.T) {
	client := newRedisClient(&RedisConfig{
		Host:        "127.0.0.1",
		Port:        1,
		PoolSize:    1,
		MaxRetries:  1,
		DialTimeout: 100 * time.Millisecond,
	})
	defer client.Close()

	s, err := NewRedisStore(client, RedisStoreOptions{})
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	_, err = s.IncrementAndGet(context.Background(), "k", time.Minute)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("error = %v, want ErrStoreUnavailable", err)
	}
}
