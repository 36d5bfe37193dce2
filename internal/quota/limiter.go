package quota

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/SmitUplenchwar2687/bottlegate/internal/counter"
	"github.com/SmitUplenchwar2687/bottlegate/internal/identity"
)

// Definition describes one fixed-window limiter applied to one identity kind.
type Definition struct {
	Name      string        `json:"name" yaml:"name"`
	Scope     identity.Kind `json:"scope" yaml:"scope"`
	Window    time.Duration `json:"window" yaml:"window"`
	Threshold uint64        `json:"threshold" yaml:"threshold"`
}

// Validate checks a single definition.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("limiter name is required")
	}
	switch d.Scope {
	case identity.KindSourceAddress, identity.KindWallet:
	default:
		return fmt.Errorf("limiter %q: unknown scope %q", d.Name, d.Scope)
	}
	if d.Window < time.Millisecond {
		return fmt.Errorf("limiter %q: window must be at least 1ms, got %s", d.Name, d.Window)
	}
	if d.Threshold == 0 {
		return fmt.Errorf("limiter %q: threshold must be positive", d.Name)
	}
	return nil
}

// DefaultDefinitions returns the stock limiter set: a per-address burst
// limiter plus hourly and daily quotas for addresses and wallets.
func DefaultDefinitions() []Definition {
	return []Definition{
		{Name: "ip_burst", Scope: identity.KindSourceAddress, Window: time.Minute, Threshold: 6},
		{Name: "ip_hourly", Scope: identity.KindSourceAddress, Window: time.Hour, Threshold: 30},
		{Name: "ip_daily", Scope: identity.KindSourceAddress, Window: 24 * time.Hour, Threshold: 100},
		{Name: "wallet_hourly", Scope: identity.KindWallet, Window: time.Hour, Threshold: 10},
		{Name: "wallet_daily", Scope: identity.KindWallet, Window: 24 * time.Hour, Threshold: 20},
	}
}

// Decision captures the result of one limiter check.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Count      uint64        `json:"count"`
	Limit      uint64        `json:"limit"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"retry_after"`
}

// Limiter applies one Definition on top of a counter.Store.
type Limiter struct {
	def   Definition
	store counter.Store
	// tightest marks the shortest window of its scope; violations on it
	// count as bursts.
	tightest bool
}

// NewLimiter creates a Limiter backed by store.
func NewLimiter(store counter.Store, def Definition) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("counter store is required")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &Limiter{def: def, store: store}, nil
}

// Definition returns the limiter's definition.
func (l *Limiter) Definition() Definition {
	return l.def
}

// Allow increments the counter of id in the current window and compares it
// against the threshold.
func (l *Limiter) Allow(ctx context.Context, id identity.Identity) (Decision, error) {
	if id.Kind() != l.def.Scope {
		return Decision{}, fmt.Errorf("limiter %q applies to %s, got %s", l.def.Name, l.def.Scope, id.Kind())
	}

	c, err := l.store.IncrementAndGet(ctx, l.key(id), l.def.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("limiter %q: %w", l.def.Name, err)
	}

	d := Decision{
		Allowed: c.Value <= l.def.Threshold,
		Count:   c.Value,
		Limit:   l.def.Threshold,
		ResetAt: c.Window.End(),
	}
	if !d.Allowed {
		d.RetryAfter = c.TTL
	}
	return d, nil
}

func (l *Limiter) key(id identity.Identity) string {
	return "q:" + l.def.Name + ":" + id.Key()
}

// group builds per-scope limiter lists ordered by window ascending.
func group(store counter.Store, defs []Definition) (map[identity.Kind][]*Limiter, error) {
	seen := make(map[string]bool, len(defs))
	byScope := make(map[identity.Kind][]*Limiter)
	for _, def := range defs {
		if seen[def.Name] {
			return nil, fmt.Errorf("duplicate limiter name %q", def.Name)
		}
		seen[def.Name] = true

		l, err := NewLimiter(store, def)
		if err != nil {
			return nil, err
		}
		byScope[def.Scope] = append(byScope[def.Scope], l)
	}

	for _, ls := range byScope {
		sort.SliceStable(ls, func(i, j int) bool {
			return ls[i].def.Window < ls[j].def.Window
		})
		ls[0].tightest = true
	}
	return byScope, nil
}
