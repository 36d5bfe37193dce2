// Package denylist escalates repeat offenders to temporary hard blocks.
//
// Violations are counted per identity over an observation window. When the
// count reaches the policy threshold, or on the first honeypot hit, the
// identity is blocked for a duration that doubles with each escalation up
// to a cap. The escalation level is an explicit counter that returns to
// baseline once the identity stays clean long enough.
package denylist

import (
	"context"
	"fmt"
	"time"

	"github.com/SmitUplenchwar2687/bottlegate/internal/identity"
)

// Reason records why an identity was denylisted.
type Reason string

const (
	ReasonBurstExceeded     Reason = "burst_exceeded"
	ReasonQuotaExceeded     Reason = "quota_exceeded"
	ReasonHoneypotTriggered Reason = "honeypot_triggered"
)

// Entry is an active block.
type Entry struct {
	Identity identity.Identity `json:"identity"`
	Until    time.Time         `json:"until"`
	Reason   Reason            `json:"reason"`
	Level    int               `json:"level"`
}

// Remaining returns the time left on the block at now, never negative.
func (e Entry) Remaining(now time.Time) time.Duration {
	left := e.Until.Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// Escalator tracks violations and active blocks.
type Escalator interface {
	// ReportViolation records one violation and reports whether it
	// escalated the identity to an active block.
	ReportViolation(ctx context.Context, id identity.Identity, reason Reason) (Entry, bool, error)

	// IsActive returns the identity's block if it is still in force.
	// It has no side effects.
	IsActive(ctx context.Context, id identity.Identity) (Entry, bool, error)

	Close() error
}

// Policy configures escalation.
type Policy struct {
	Base        time.Duration `json:"base" yaml:"base"`
	Cap         time.Duration `json:"cap" yaml:"cap"`
	Threshold   int           `json:"threshold" yaml:"threshold"`
	Observation time.Duration `json:"observation" yaml:"observation"`
}

// DefaultPolicy blocks for 15 minutes after 3 violations within an hour,
// doubling per repeat escalation up to a day.
func DefaultPolicy() Policy {
	return Policy{
		Base:        15 * time.Minute,
		Cap:         24 * time.Hour,
		Threshold:   3,
		Observation: time.Hour,
	}
}

// Validate checks the policy.
func (p Policy) Validate() error {
	if p.Base <= 0 {
		return fmt.Errorf("denylist base duration must be positive, got %s", p.Base)
	}
	if p.Cap < p.Base {
		return fmt.Errorf("denylist cap %s must be at least base %s", p.Cap, p.Base)
	}
	if p.Threshold <= 0 {
		return fmt.Errorf("denylist violation threshold must be positive, got %d", p.Threshold)
	}
	if p.Observation <= 0 {
		return fmt.Errorf("denylist observation window must be positive, got %s", p.Observation)
	}
	return nil
}

// Duration returns the block length for an escalation level (1-based):
// Base doubled level-1 times, capped at Cap. Level 0 means not escalated.
func (p Policy) Duration(level int) time.Duration {
	if level < 1 {
		return 0
	}
	d := p.Base
	for i := 1; i < level; i++ {
		d *= 2
		if d >= p.Cap {
			return p.Cap
		}
	}
	if d > p.Cap {
		return p.Cap
	}
	return d
}

func (p Policy) immediate(reason Reason) bool {
	return reason == ReasonHoneypotTriggered
}

// levelHold is how long escalation state must be retained. Beyond it Settle
// would reset the level anyway.
func (p Policy) levelHold() time.Duration {
	hold := p.Observation
	if p.Cap > hold {
		hold = p.Cap
	}
	return 2 * hold
}

// Escalation is the per-identity growth counter. CleanSince is the instant
// the identity last misbehaved: its latest violation, or the end of its
// latest block when that is later, since time spent blocked is not clean.
type Escalation struct {
	Level      int
	CleanSince time.Time
}

// Settle resets e to baseline when the identity has been clean for longer
// than both the observation window and its current block duration.
func (e Escalation) Settle(now time.Time, p Policy) Escalation {
	if e.Level == 0 {
		return e
	}
	limit := p.Observation
	if d := p.Duration(e.Level); d > limit {
		limit = d
	}
	if now.Sub(e.CleanSince) > limit {
		return Escalation{CleanSince: e.CleanSince}
	}
	return e
}

// Violated restarts the clean span at now unless a block still runs past it.
func (e Escalation) Violated(now time.Time) Escalation {
	if now.After(e.CleanSince) {
		e.CleanSince = now
	}
	return e
}

// Escalate raises the level and returns the block duration for it. The
// clean span restarts when that block ends.
func (e Escalation) Escalate(now time.Time, p Policy) (Escalation, time.Duration) {
	e.Level++
	d := p.Duration(e.Level)
	e.CleanSince = now.Add(d)
	return e, d
}
