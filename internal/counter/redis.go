package counter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SmitUplenchwar2687/bottlegate/internal/clock"
)

const (
	defaultRedisPoolSize    = 20
	defaultRedisMaxRetries  = 3
	defaultRedisDialTimeout = 5 * time.Second

	redisCounterPrefix = "bottlegate:ctr:"
)

// The expiry is only set when the key has none, so a retried INCR can never
// extend a window's lifetime.
var redisIncrScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RedisConfig configures the connection to a Redis server or cluster.
type RedisConfig struct {
	Host         string        `json:"host" yaml:"host"`
	Port         int           `json:"port" yaml:"port"`
	Password     string        `json:"password" yaml:"password"`
	DB           int           `json:"db" yaml:"db"`
	Cluster      bool          `json:"cluster" yaml:"cluster"`
	ClusterNodes []string      `json:"cluster_nodes" yaml:"cluster_nodes"`
	PoolSize     int           `json:"pool_size" yaml:"pool_size"`
	MaxRetries   int           `json:"max_retries" yaml:"max_retries"`
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
}

// DialRedis connects to Redis and verifies the connection with a ping,
// retrying with exponential backoff. The caller owns the returned client.
func DialRedis(ctx context.Context, cfg *RedisConfig) (redis.UniversalClient, error) {
	conf, err := normalizeRedisConfig(cfg)
	if err != nil {
		return nil, err
	}

	client := newRedisClient(conf)
	if err := pingWithRetry(ctx, client, conf.MaxRetries); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis ping failed: %v", ErrStoreUnavailable, err)
	}
	return client, nil
}

// RedisStore is a Store shared by every instance pointing at the same Redis.
// The window id is computed from the local clock; Grace absorbs skew.
type RedisStore struct {
	client redis.UniversalClient
	script *redis.Script
	clock  clock.Clock
	grace  time.Duration
	prefix string

	closeOnce sync.Once
	closeErr  error
	ownClient bool
}

// RedisStoreOptions tunes a RedisStore.
type RedisStoreOptions struct {
	Grace  time.Duration
	Prefix string
	Clock  clock.Clock
	// OwnClient makes Close also close the client.
	OwnClient bool
}

// NewRedisStore wraps an established client.
func NewRedisStore(client redis.UniversalClient, opts RedisStoreOptions) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if opts.Grace < 0 {
		return nil, fmt.Errorf("grace must not be negative, got %s", opts.Grace)
	}
	s := &RedisStore{
		client:    client,
		script:    redisIncrScript,
		clock:     opts.Clock,
		grace:     opts.Grace,
		prefix:    opts.Prefix,
		ownClient: opts.OwnClient,
	}
	if s.clock == nil {
		s.clock = clock.NewRealClock()
	}
	if s.grace == 0 {
		s.grace = DefaultGrace
	}
	if s.prefix == "" {
		s.prefix = redisCounterPrefix
	}
	return s, nil
}

// IncrementAndGet implements Store with one atomic script call.
func (s *RedisStore) IncrementAndGet(ctx context.Context, key string, window time.Duration) (Count, error) {
	if err := validate(key, window); err != nil {
		return Count{}, err
	}
	ttl := (window + s.grace).Milliseconds()
	if ttl <= 0 {
		return Count{}, fmt.Errorf("window must be at least 1ms, got %s", window)
	}

	now := s.clock.Now()
	w := clock.WindowAt(now, window)
	redisKey := s.prefix + windowKey(key, w)

	res, err := s.script.Run(ctx, s.client, []string{redisKey}, ttl).Result()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Count{}, err
		}
		return Count{}, fmt.Errorf("%w: running increment script: %v", ErrStoreUnavailable, err)
	}

	n, err := asInt64(res)
	if err != nil {
		return Count{}, fmt.Errorf("%w: parsing increment result: %v", ErrStoreUnavailable, err)
	}
	if n < 1 {
		return Count{}, fmt.Errorf("%w: unexpected count %d", ErrStoreUnavailable, n)
	}

	return Count{Value: uint64(n), TTL: w.Remaining(now), Window: w}, nil
}

// Close releases the client when the store owns it. It is idempotent.
func (s *RedisStore) Close() error {
	s.closeOnce.Do(func() {
		if s.ownClient {
			s.closeErr = s.client.Close()
		}
	})
	return s.closeErr
}

func pingWithRetry(ctx context.Context, client redis.UniversalClient, maxRetries int) error {
	attempts := maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	backoff := 100 * time.Millisecond
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := client.Ping(ctx).Err(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
	}

	if lastErr == nil {
		lastErr = errors.New("ping failed with unknown error")
	}
	return lastErr
}

func normalizeRedisConfig(cfg *RedisConfig) (*RedisConfig, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	conf := *cfg
	if conf.PoolSize <= 0 {
		conf.PoolSize = defaultRedisPoolSize
	}
	if conf.MaxRetries <= 0 {
		conf.MaxRetries = defaultRedisMaxRetries
	}
	if conf.DialTimeout <= 0 {
		conf.DialTimeout = defaultRedisDialTimeout
	}

	if conf.Cluster {
		if len(conf.ClusterNodes) == 0 {
			return nil, fmt.Errorf("cluster_nodes is required when cluster=true")
		}
	} else {
		if conf.Host == "" {
			return nil, fmt.Errorf("host is required when cluster=false")
		}
		if conf.Port <= 0 {
			return nil, fmt.Errorf("port must be positive when cluster=false, got %d", conf.Port)
		}
	}

	return &conf, nil
}

func newRedisClient(cfg *RedisConfig) redis.UniversalClient {
	if cfg.Cluster {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:       cfg.ClusterNodes,
			Password:    cfg.Password,
			PoolSize:    cfg.PoolSize,
			MaxRetries:  cfg.MaxRetries,
			DialTimeout: cfg.DialTimeout,
		})
	}

	addr := cfg.Host + ":" + strconv.Itoa(cfg.Port)
	return redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: cfg.DialTimeout,
	})
}

// AsInt64 converts a Lua script reply element to int64.
func AsInt64(v interface{}) (int64, error) {
	return asInt64(v)
}

func asInt64(v interface{}) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse int64 from %q: %w", x, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}
