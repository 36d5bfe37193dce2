package counter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dchest/siphash"

	"github.com/SmitUplenchwar2687/bottlegate/internal/clock"
)

const (
	defaultCleanupInterval = time.Minute
	defaultShards          = 64

	// Fixed siphash keys; shard placement only needs to be stable within a process.
	shardKey0 = 0x626f74746c656761
	shardKey1 = 0x7465636f756e7472
)

// MemoryConfig configures the in-process backend.
type MemoryConfig struct {
	CleanupInterval time.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
	Grace           time.Duration `json:"grace" yaml:"grace"`
	Shards          int           `json:"shards" yaml:"shards"`
	Clock           clock.Clock   `json:"-" yaml:"-"`
}

// MemoryStore is an in-process Store. Keys are spread across shards, each
// guarded by its own mutex, so increments on different keys rarely contend
// and increments on the same key are a single locked mutation.
type MemoryStore struct {
	clock           clock.Clock
	grace           time.Duration
	cleanupInterval time.Duration
	shards          []*shard

	mu        sync.RWMutex
	closed    bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

type shard struct {
	mu    sync.Mutex
	items map[string]entry
}

type entry struct {
	count     uint64
	expiresAt time.Time
}

// NewMemoryStore constructs a memory-backed Store and starts its cleanup loop.
func NewMemoryStore(cfg *MemoryConfig) (*MemoryStore, error) {
	settings := MemoryConfig{
		CleanupInterval: defaultCleanupInterval,
		Grace:           DefaultGrace,
		Shards:          defaultShards,
		Clock:           clock.NewRealClock(),
	}
	if cfg != nil {
		if cfg.CleanupInterval != 0 {
			settings.CleanupInterval = cfg.CleanupInterval
		}
		if cfg.Grace != 0 {
			settings.Grace = cfg.Grace
		}
		if cfg.Shards != 0 {
			settings.Shards = cfg.Shards
		}
		if cfg.Clock != nil {
			settings.Clock = cfg.Clock
		}
	}

	if settings.CleanupInterval <= 0 {
		return nil, fmt.Errorf("cleanup_interval must be positive, got %s", settings.CleanupInterval)
	}
	if settings.Grace < 0 {
		return nil, fmt.Errorf("grace must not be negative, got %s", settings.Grace)
	}
	if settings.Shards <= 0 {
		return nil, fmt.Errorf("shards must be positive, got %d", settings.Shards)
	}

	s := &MemoryStore{
		clock:           settings.Clock,
		grace:           settings.Grace,
		cleanupInterval: settings.CleanupInterval,
		shards:          make([]*shard, settings.Shards),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &shard{items: make(map[string]entry)}
	}
	go s.cleanupLoop()

	return s, nil
}

// IncrementAndGet implements Store.
func (s *MemoryStore) IncrementAndGet(ctx context.Context, key string, window time.Duration) (Count, error) {
	select {
	case <-ctx.Done():
		return Count{}, ctx.Err()
	default:
	}
	if err := validate(key, window); err != nil {
		return Count{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Count{}, fmt.Errorf("%w: memory store closed", ErrStoreUnavailable)
	}

	now := s.clock.Now()
	w := clock.WindowAt(now, window)
	k := windowKey(key, w)
	sh := s.shardFor(k)

	sh.mu.Lock()
	e, ok := sh.items[k]
	if !ok || !now.Before(e.expiresAt) {
		e = entry{expiresAt: now.Add(window + s.grace)}
	}
	e.count++
	sh.items[k] = e
	sh.mu.Unlock()

	return Count{Value: e.count, TTL: w.Remaining(now), Window: w}, nil
}

func (s *MemoryStore) shardFor(key string) *shard {
	h := siphash.Hash(shardKey0, shardKey1, []byte(key))
	return s.shards[h%uint64(len(s.shards))]
}

// Len returns the number of entries, including expired ones not yet swept.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.items)
		sh.mu.Unlock()
	}
	return n
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer func() {
		ticker.Stop()
		close(s.doneCh)
	}()

	for {
		select {
		case <-ticker.C:
			s.Cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// Cleanup removes expired entries. Expired entries are already invisible to
// IncrementAndGet; this only reclaims memory.
func (s *MemoryStore) Cleanup() {
	now := s.clock.Now()
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, e := range sh.items {
			if !now.Before(e.expiresAt) {
				delete(sh.items, k)
			}
		}
		sh.mu.Unlock()
	}
}

// Close stops background cleanup. Later increments fail with ErrStoreUnavailable.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.stopCh)
		<-s.doneCh
	})
	return nil
}
