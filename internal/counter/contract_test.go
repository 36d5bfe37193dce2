package counter

import (
	"context"
	"testing"
	"time"

	"github.com/SmitUplenchwar2687/bottlegate/internal/clock"
)

type storeFactory struct {
	name string
	new  func(t *testing.T, vc *clock.VirtualClock) Store
}

func TestStoreContract(t *testing.T) {
	factories := []storeFactory{
		{
			name: "memory",
			new: func(t *testing.T, vc *clock.VirtualClock) Store {
				return newMemoryStoreForTest(t, vc)
			},
		},
		{
			name: "redis",
			new: func(t *testing.T, vc *clock.VirtualClock) Store {
				return newRedisStoreForTest(t, vc)
			},
		},
	}

	for _, f := range factories {
		t.Run(f.name, func(t *testing.T) {
			// A fresh start time per run keeps redis keys from colliding across runs.
			vc := clock.NewVirtualClock(time.Now().Truncate(time.Minute))
			s := f.new(t, vc)

			contractGapFree(t, s)
			contractWindowReset(t, s, vc)
			contractKeyIsolation(t, s)
		})
	}
}

func contractGapFree(t *testing.T, s Store) {
	t.Helper()
	for i := uint64(1); i <= 5; i++ {
		c, err := s.IncrementAndGet(context.Background(), "contract-seq", time.Minute)
		if err != nil {
			t.Fatalf("IncrementAndGet() error = %v", err)
		}
		if c.Value != i {
			t.Fatalf("count = %d, want %d", c.Value, i)
		}
	}
}

func contractWindowReset(t *testing.T, s Store, vc *clock.VirtualClock) {
	t.Helper()
	for i := 0; i < 3; i++ {
		if _, err := s.IncrementAndGet(context.Background(), "contract-reset", time.Second); err != nil {
			t.Fatalf("IncrementAndGet() error = %v", err)
		}
	}
	vc.Advance(time.Second)
	c, err := s.IncrementAndGet(context.Background(), "contract-reset", time.Second)
	if err != nil {
		t.Fatalf("IncrementAndGet() error = %v", err)
	}
	if c.Value != 1 {
		t.Fatalf("count after window reset = %d, want 1", c.Value)
	}
}

func contractKeyIsolation(t *testing.T, s Store) {
	t.Helper()
	if _, err := s.IncrementAndGet(context.Background(), "contract-key-a", time.Minute); err != nil {
		t.Fatalf("IncrementAndGet() error = %v", err)
	}
	c, err := s.IncrementAndGet(context.Background(), "contract-key-b", time.Minute)
	if err != nil {
		t.Fatalf("IncrementAndGet() error = %v", err)
	}
	if c.Value != 1 {
		t.Fatalf("key-b count = %d, want 1", c.Value)
	}
}
