package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/SmitUplenchwar2687/bottlegate/internal/clock"
	"github.com/SmitUplenchwar2687/bottlegate/internal/counter"
	"github.com/SmitUplenchwar2687/bottlegate/internal/denylist"
	"github.com/SmitUplenchwar2687/bottlegate/internal/identity"
)

// Outcome is the enforcer's decision for one submission.
type Outcome string

const (
	Allowed          Outcome = "allowed"
	RateLimited      Outcome = "rate_limited"
	DenylistActive   Outcome = "denylist_active"
	StoreUnavailable Outcome = "store_unavailable"
)

// Result is returned by Check.
type Result struct {
	Outcome Outcome
	// Identity is the identity that caused a rejection.
	Identity identity.Identity
	// Limiter names the limiter that rejected a RateLimited result.
	Limiter    string
	RetryAfter time.Duration
	// Escalation is set when this check pushed Identity onto the denylist.
	Escalation *denylist.Entry
	// Degraded is set when a store failure was skipped under fail-open.
	Degraded bool
	Err      error
}

// Options configures an Enforcer.
type Options struct {
	Clock clock.Clock
	// FailOpen skips limiters and denylist lookups whose store fails instead
	// of rejecting the submission.
	FailOpen bool
	Logger   hclog.Logger
}

// Enforcer checks the denylist and then every applicable limiter.
type Enforcer struct {
	limiters map[identity.Kind][]*Limiter
	denylist denylist.Escalator
	clock    clock.Clock
	failOpen bool
	logger   hclog.Logger
}

// NewEnforcer builds an Enforcer over store and escalator.
func NewEnforcer(store counter.Store, escalator denylist.Escalator, defs []Definition, opts Options) (*Enforcer, error) {
	if escalator == nil {
		return nil, fmt.Errorf("denylist escalator is required")
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("at least one limiter is required")
	}
	limiters, err := group(store, defs)
	if err != nil {
		return nil, err
	}

	e := &Enforcer{
		limiters: limiters,
		denylist: escalator,
		clock:    opts.Clock,
		failOpen: opts.FailOpen,
		logger:   opts.Logger,
	}
	if e.clock == nil {
		e.clock = clock.NewRealClock()
	}
	if e.logger == nil {
		e.logger = hclog.NewNullLogger()
	}
	return e, nil
}

// Limiters returns the limiters applied to kind, tightest first.
func (e *Enforcer) Limiters(kind identity.Kind) []Definition {
	ls := e.limiters[kind]
	defs := make([]Definition, len(ls))
	for i, l := range ls {
		defs[i] = l.def
	}
	return defs
}

// Check consults the denylist for every identity before touching any
// counter, then increments limiters in order and stops at the first one
// over its threshold.
func (e *Enforcer) Check(ctx context.Context, ids []identity.Identity) Result {
	ordered := make([]identity.Identity, len(ids))
	copy(ordered, ids)
	identity.Sort(ordered)

	var degraded bool

	if r, blocked := e.checkDenylist(ctx, ordered, &degraded); blocked {
		return r
	}

	for _, id := range ordered {
		for _, l := range e.limiters[id.Kind()] {
			d, err := l.Allow(ctx, id)
			if err != nil {
				if r, stop := e.storeFailure(ctx, "limiter", id, err, &degraded); stop {
					r.Limiter = l.def.Name
					return r
				}
				continue
			}
			if d.Allowed {
				continue
			}

			r := Result{
				Outcome:    RateLimited,
				Identity:   id,
				Limiter:    l.def.Name,
				RetryAfter: d.RetryAfter,
				Degraded:   degraded,
			}
			r.Escalation = e.report(ctx, id, l)
			return r
		}
	}

	return Result{Outcome: Allowed, Degraded: degraded}
}

func (e *Enforcer) checkDenylist(ctx context.Context, ids []identity.Identity, degraded *bool) (Result, bool) {
	var (
		blocked bool
		latest  denylist.Entry
	)
	for _, id := range ids {
		entry, active, err := e.denylist.IsActive(ctx, id)
		if err != nil {
			if r, stop := e.storeFailure(ctx, "denylist", id, err, degraded); stop {
				return r, true
			}
			continue
		}
		if active && (!blocked || entry.Until.After(latest.Until)) {
			blocked = true
			latest = entry
		}
	}
	if !blocked {
		return Result{}, false
	}
	return Result{
		Outcome:    DenylistActive,
		Identity:   latest.Identity,
		RetryAfter: latest.Remaining(e.clock.Now()),
		Degraded:   *degraded,
	}, true
}

// storeFailure applies the store failure mode. Cancelled requests always
// stop.
func (e *Enforcer) storeFailure(ctx context.Context, stage string, id identity.Identity, err error, degraded *bool) (Result, bool) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Result{Outcome: StoreUnavailable, Identity: id, Degraded: *degraded, Err: err}, true
	}
	if !e.failOpen {
		e.logger.Error("store unavailable, rejecting", "stage", stage, "identity", id.String(), "error", err)
		return Result{Outcome: StoreUnavailable, Identity: id, Degraded: *degraded, Err: err}, true
	}
	*degraded = true
	e.logger.Warn("store unavailable, failing open", "stage", stage, "identity", id.String(), "error", err)
	return Result{}, false
}

func (e *Enforcer) report(ctx context.Context, id identity.Identity, l *Limiter) *denylist.Entry {
	reason := denylist.ReasonQuotaExceeded
	if l.tightest {
		reason = denylist.ReasonBurstExceeded
	}

	entry, escalated, err := e.denylist.ReportViolation(ctx, id, reason)
	if err != nil {
		e.logger.Warn("violation report failed", "identity", id.String(), "limiter", l.def.Name, "error", err)
		return nil
	}
	if !escalated {
		return nil
	}
	e.logger.Info("identity denylisted", "identity", id.String(), "reason", entry.Reason, "level", entry.Level, "until", entry.Until)
	return &entry
}
