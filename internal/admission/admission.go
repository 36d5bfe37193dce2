// Package admission decides whether a public submission is accepted,
// throttled or rejected. A submission moves through
// Received -> BotChecked -> QuotaChecked -> Decided exactly once.
package admission

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/SmitUplenchwar2687/bottlegate/internal/botgate"
	"github.com/SmitUplenchwar2687/bottlegate/internal/denylist"
	"github.com/SmitUplenchwar2687/bottlegate/internal/identity"
)

// Decision is the top-level outcome.
type Decision string

const (
	Accept Decision = "accept"
	Reject Decision = "reject"
)

// Reason is the machine-readable rejection reason.
type Reason string

const (
	ReasonStoreUnavailable   Reason = "store_unavailable"
	ReasonCaptchaUnavailable Reason = "captcha_unavailable"
	ReasonCaptchaFailed      Reason = "captcha_failed"
	ReasonHoneypotTriggered  Reason = "honeypot_triggered"
	ReasonRateLimited        Reason = "rate_limited"
	ReasonDenylistActive     Reason = "denylist_active"
)

// Stage is a pipeline state.
type Stage string

const (
	Received     Stage = "received"
	BotChecked   Stage = "bot_checked"
	QuotaChecked Stage = "quota_checked"
	// Decided is terminal; every Event is emitted on entering it.
	Decided Stage = "decided"
)

// FailureMode selects what happens when a dependency is unavailable.
type FailureMode string

const (
	FailOpen   FailureMode = "open"
	FailClosed FailureMode = "closed"
)

// ParseFailureMode accepts "open" or "closed".
func ParseFailureMode(s string) (FailureMode, error) {
	switch FailureMode(strings.ToLower(strings.TrimSpace(s))) {
	case FailOpen:
		return FailOpen, nil
	case FailClosed:
		return FailClosed, nil
	default:
		return "", fmt.Errorf("unknown failure mode %q (want open or closed)", s)
	}
}

// Verdict is the pipeline's answer. RetryAfter is only set for
// ReasonRateLimited and ReasonDenylistActive.
type Verdict struct {
	Decision   Decision      `json:"decision"`
	Reason     Reason        `json:"reason,omitempty"`
	Limiter    string        `json:"limiter,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	// Degraded marks an accept that skipped a failed dependency.
	Degraded bool `json:"degraded,omitempty"`
}

// Accepted reports whether the submission was admitted.
func (v Verdict) Accepted() bool {
	return v.Decision == Accept
}

// String renders the verdict for logs and CLI output.
func (v Verdict) String() string {
	if v.Accepted() {
		if v.Degraded {
			return "accept (degraded)"
		}
		return "accept"
	}
	s := "reject: " + string(v.Reason)
	if v.Limiter != "" {
		s += " (" + v.Limiter + ")"
	}
	if v.RetryAfter > 0 {
		s += ", retry after " + v.RetryAfter.String()
	}
	return s
}

func accept(degraded bool) Verdict {
	return Verdict{Decision: Accept, Degraded: degraded}
}

func reject(reason Reason) Verdict {
	return Verdict{Decision: Reject, Reason: reason}
}

// Submission is one public form post as seen by the pipeline.
type Submission struct {
	// ID correlates the decision event with the caller's request; a fresh
	// one is generated when empty.
	ID         string
	RemoteAddr string
	Header     http.Header
	Wallet     string
	// Fields holds every form value, including the honeypot and CAPTCHA token.
	Fields map[string]string
}

// Event describes one decision. Exactly one is emitted per Submit.
type Event struct {
	ID         string              `json:"id"`
	Time       time.Time           `json:"time"`
	Identities []identity.Identity `json:"identities"`
	// Stage is the last stage completed before the decision.
	Stage      Stage           `json:"stage"`
	Bot        botgate.Verdict `json:"bot,omitempty"`
	Verdict    Verdict         `json:"verdict"`
	Escalation *denylist.Entry `json:"escalation,omitempty"`
	Latency    time.Duration   `json:"latency"`
}

// Observer receives decision events. Implementations must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe implements Observer.
func (f ObserverFunc) Observe(e Event) { f(e) }
