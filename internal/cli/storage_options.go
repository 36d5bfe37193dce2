package cli

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/bottlegate/internal/config"
	"github.com/SmitUplenchwar2687/bottlegate/internal/counter"
)

type storageOptions struct {
	backend               string
	memoryCleanupInterval time.Duration
	memoryShards          int
	grace                 time.Duration
	redisHost             string
	redisPort             int
	redisDB               int
	redisCluster          bool
	redisClusterNodes     []string
	redisPoolSize         int
	redisMaxRetries       int
	redisDialTimeout      time.Duration
}

func (o *storageOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.backend, "storage", counter.BackendMemory, "storage backend for counters and the denylist (memory, redis)")
	cmd.Flags().DurationVar(&o.memoryCleanupInterval, "storage-memory-cleanup-interval", time.Minute, "cleanup interval for memory storage backend")
	cmd.Flags().IntVar(&o.memoryShards, "storage-memory-shards", 64, "number of memory counter shards")
	cmd.Flags().DurationVar(&o.grace, "storage-grace", counter.DefaultGrace, "extra counter lifetime past the window end")
	cmd.Flags().StringVar(&o.redisHost, "redis-host", "localhost", "redis host (or host:port)")
	cmd.Flags().IntVar(&o.redisPort, "redis-port", 6379, "redis port")
	cmd.Flags().IntVar(&o.redisDB, "redis-db", 0, "redis database index")
	cmd.Flags().BoolVar(&o.redisCluster, "redis-cluster", false, "enable redis cluster mode")
	cmd.Flags().StringSliceVar(&o.redisClusterNodes, "redis-cluster-nodes", nil, "redis cluster nodes host:port list")
	cmd.Flags().IntVar(&o.redisPoolSize, "redis-pool-size", 20, "redis connection pool size")
	cmd.Flags().IntVar(&o.redisMaxRetries, "redis-max-retries", 3, "redis max retries")
	cmd.Flags().DurationVar(&o.redisDialTimeout, "redis-dial-timeout", 5*time.Second, "redis dial timeout")
}

// applyConfigIfUnset copies every storage setting from cfg whose flag was
// not given on the command line.
func (o *storageOptions) applyConfigIfUnset(cmd *cobra.Command, cfg *config.StorageConfig) {
	if cfg == nil {
		return
	}
	fromConfig := map[string]func(){
		"storage":                         func() { o.backend = cfg.Backend },
		"storage-memory-cleanup-interval": func() { o.memoryCleanupInterval = cfg.Memory.CleanupInterval },
		"storage-memory-shards":           func() { o.memoryShards = cfg.Memory.Shards },
		"storage-grace":                   func() { o.grace = cfg.Grace },
		"redis-host":                      func() { o.redisHost = cfg.Redis.Host },
		"redis-port":                      func() { o.redisPort = cfg.Redis.Port },
		"redis-db":                        func() { o.redisDB = cfg.Redis.DB },
		"redis-cluster":                   func() { o.redisCluster = cfg.Redis.Cluster },
		"redis-cluster-nodes":             func() { o.redisClusterNodes = cfg.Redis.ClusterNodes },
		"redis-pool-size":                 func() { o.redisPoolSize = cfg.Redis.PoolSize },
		"redis-max-retries":               func() { o.redisMaxRetries = cfg.Redis.MaxRetries },
		"redis-dial-timeout":              func() { o.redisDialTimeout = cfg.Redis.DialTimeout },
	}
	for flag, apply := range fromConfig {
		if !cmd.Flags().Changed(flag) {
			apply()
		}
	}
}

func (o *storageOptions) normalize() error {
	if o.backend != counter.BackendRedis || o.redisCluster {
		return nil
	}

	host, port, err := normalizeRedisHostPort(o.redisHost, o.redisPort)
	if err != nil {
		return err
	}
	o.redisHost = host
	o.redisPort = port
	return nil
}

// toConfig writes the options back over base. The redis password only
// comes from config or BOTTLEGATE_REDIS_PASSWORD, never a flag.
func (o *storageOptions) toConfig(base config.StorageConfig) config.StorageConfig {
	out := base
	out.Backend = o.backend
	out.Grace = o.grace
	out.Memory = config.StorageMemoryConfig{
		CleanupInterval: o.memoryCleanupInterval,
		Shards:          o.memoryShards,
	}
	out.Redis = counter.RedisConfig{
		Host:         o.redisHost,
		Port:         o.redisPort,
		Password:     base.Redis.Password,
		DB:           o.redisDB,
		Cluster:      o.redisCluster,
		ClusterNodes: append([]string(nil), o.redisClusterNodes...),
		PoolSize:     o.redisPoolSize,
		MaxRetries:   o.redisMaxRetries,
		DialTimeout:  o.redisDialTimeout,
	}
	return out
}

// resolve applies flags over cfg.Storage in one step.
func (o *storageOptions) resolve(cmd *cobra.Command, cfg *config.Config) error {
	o.applyConfigIfUnset(cmd, &cfg.Storage)
	if err := o.normalize(); err != nil {
		return err
	}
	cfg.Storage = o.toConfig(cfg.Storage)
	return nil
}

// normalizeRedisHostPort accepts --redis-host as either a bare host or
// host:port, the latter overriding --redis-port.
func normalizeRedisHostPort(host string, port int) (string, int, error) {
	if strings.Contains(host, ":") {
		h, p, err := net.SplitHostPort(host)
		if err != nil {
			return "", 0, fmt.Errorf("redis host %q: %w", host, err)
		}
		if port, err = strconv.Atoi(p); err != nil {
			return "", 0, fmt.Errorf("redis host %q: bad port: %w", host, err)
		}
		host = h
	}
	switch {
	case host == "":
		return "", 0, fmt.Errorf("redis host is empty")
	case port <= 0:
		return "", 0, fmt.Errorf("redis port must be positive, got %d", port)
	}
	return host, port, nil
}
