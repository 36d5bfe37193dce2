package denylist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/SmitUplenchwar2687/bottlegate/internal/clock"
	"github.com/SmitUplenchwar2687/bottlegate/internal/counter"
	"github.com/SmitUplenchwar2687/bottlegate/internal/identity"
)

const defaultCleanupInterval = time.Minute

// MemoryStore is an in-process Escalator for single-instance deployments.
type MemoryStore struct {
	clock  clock.Clock
	policy Policy

	mu     sync.Mutex
	states map[identity.Identity]*memState
	closed bool

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

type memState struct {
	violations      int
	violationsUntil time.Time
	escalation      Escalation
	entry           Entry
}

// NewMemoryStore builds a MemoryStore. A zero cleanup interval uses one minute.
func NewMemoryStore(p Policy, c clock.Clock, cleanupInterval time.Duration) (*MemoryStore, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if c == nil {
		c = clock.NewRealClock()
	}
	if cleanupInterval == 0 {
		cleanupInterval = defaultCleanupInterval
	}
	if cleanupInterval < 0 {
		return nil, fmt.Errorf("cleanup_interval must be positive, got %s", cleanupInterval)
	}

	s := &MemoryStore{
		clock:  c,
		policy: p,
		states: make(map[identity.Identity]*memState),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go s.cleanupLoop(cleanupInterval)
	return s, nil
}

// ReportViolation implements Escalator.
func (s *MemoryStore) ReportViolation(_ context.Context, id identity.Identity, reason Reason) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Entry{}, false, fmt.Errorf("%w: denylist store closed", counter.ErrStoreUnavailable)
	}

	now := s.clock.Now()
	st, ok := s.states[id]
	if !ok {
		st = &memState{}
		s.states[id] = st
	}

	if !now.Before(st.violationsUntil) {
		st.violations = 0
		st.violationsUntil = now.Add(s.policy.Observation)
	}
	st.violations++
	st.escalation = st.escalation.Settle(now, s.policy).Violated(now)

	if !s.policy.immediate(reason) && st.violations < s.policy.Threshold {
		return Entry{}, false, nil
	}

	var d time.Duration
	st.escalation, d = st.escalation.Escalate(now, s.policy)
	st.violations = 0
	st.violationsUntil = time.Time{}
	st.entry = Entry{
		Identity: id,
		Until:    now.Add(d),
		Reason:   reason,
		Level:    st.escalation.Level,
	}
	return st.entry, true, nil
}

// IsActive implements Escalator.
func (s *MemoryStore) IsActive(_ context.Context, id identity.Identity) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Entry{}, false, fmt.Errorf("%w: denylist store closed", counter.ErrStoreUnavailable)
	}

	st, ok := s.states[id]
	if !ok || st.entry.Until.IsZero() || !s.clock.Now().Before(st.entry.Until) {
		return Entry{}, false, nil
	}
	return st.entry, true, nil
}

// Len returns the number of tracked identities.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

// Cleanup forgets identities with no active block, no open observation
// window and a settled escalation level.
func (s *MemoryStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for id, st := range s.states {
		if now.Before(st.entry.Until) || now.Before(st.violationsUntil) {
			continue
		}
		if st.escalation.Settle(now, s.policy).Level != 0 {
			continue
		}
		delete(s.states, id)
	}
}

func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
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

// Close stops background cleanup. It is idempotent.
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
