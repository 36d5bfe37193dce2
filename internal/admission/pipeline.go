package admission

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/SmitUplenchwar2687/bottlegate/internal/botgate"
	"github.com/SmitUplenchwar2687/bottlegate/internal/clock"
	"github.com/SmitUplenchwar2687/bottlegate/internal/identity"
	"github.com/SmitUplenchwar2687/bottlegate/internal/quota"
)

const tracerName = "github.com/SmitUplenchwar2687/bottlegate/internal/admission"

// Pipeline wires identity extraction, the bot gate and the quota enforcer.
type Pipeline struct {
	extractor *identity.Extractor
	gate      *botgate.Gate
	enforcer  *quota.Enforcer

	clock       clock.Clock
	captchaMode FailureMode
	observers   []Observer
	logger      hclog.Logger
	tracer      trace.Tracer
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithClock sets the clock used for event timestamps.
func WithClock(c clock.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithCaptchaFailureMode overrides the CAPTCHA failure mode. By default it
// fails closed when a token is required and open otherwise.
func WithCaptchaFailureMode(m FailureMode) Option {
	return func(p *Pipeline) { p.captchaMode = m }
}

// WithObserver adds a decision observer.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observers = append(p.observers, o) }
}

// WithLogger sets the pipeline logger.
func WithLogger(l hclog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithTracer sets the tracer. The global provider is used otherwise.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// New assembles a Pipeline.
func New(extractor *identity.Extractor, gate *botgate.Gate, enforcer *quota.Enforcer, opts ...Option) (*Pipeline, error) {
	if extractor == nil || gate == nil || enforcer == nil {
		return nil, fmt.Errorf("extractor, bot gate and quota enforcer are required")
	}

	p := &Pipeline{
		extractor: extractor,
		gate:      gate,
		enforcer:  enforcer,
		clock:     clock.NewRealClock(),
		logger:    hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.captchaMode == "" {
		p.captchaMode = FailOpen
		if gate.Required() {
			p.captchaMode = FailClosed
		}
	}
	if p.captchaMode != FailOpen && p.captchaMode != FailClosed {
		return nil, fmt.Errorf("unknown captcha failure mode %q", p.captchaMode)
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(tracerName)
	}
	return p, nil
}

// Submit evaluates one submission and returns its verdict. Bot rejections
// never reach the quota counters. Persisting accepted submissions is the
// caller's job.
func (p *Pipeline) Submit(ctx context.Context, s Submission) Verdict {
	ctx, span := p.tracer.Start(ctx, "admission.Submit")
	defer span.End()

	start := p.clock.Now()
	ev := Event{
		ID:    s.ID,
		Time:  start,
		Stage: Received,
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	ids := p.Identify(s)
	ev.Identities = ids
	source, _ := identity.Find(ids, identity.KindSourceAddress)

	verdict, done := p.botCheck(ctx, s, source, &ev)
	if !done {
		verdict = p.quotaCheck(ctx, ids, verdict.Degraded, &ev)
	}

	ev.Verdict = verdict
	ev.Latency = p.clock.Since(start)
	p.finish(span, ev)
	return verdict
}

// Identify returns the identities Submit would check for s.
func (p *Pipeline) Identify(s Submission) []identity.Identity {
	return p.extractor.Extract(identity.Request{
		RemoteAddr: s.RemoteAddr,
		Wallet:     s.Wallet,
		Header:     s.Header,
	})
}

// botCheck returns done=true when the bot gate decided the submission.
func (p *Pipeline) botCheck(ctx context.Context, s Submission, source identity.Identity, ev *Event) (Verdict, bool) {
	bot, err := p.gate.Evaluate(ctx, botgate.Submission{
		Fields: s.Fields,
		Source: source,
		RemoteIP: p.extractor.ClientIP(identity.Request{
			RemoteAddr: s.RemoteAddr,
			Header:     s.Header,
		}),
	})
	ev.Bot = bot
	ev.Stage = BotChecked

	switch bot {
	case botgate.Pass:
		return Verdict{}, false
	case botgate.HoneypotTriggered:
		return reject(ReasonHoneypotTriggered), true
	case botgate.CaptchaFailed:
		return reject(ReasonCaptchaFailed), true
	case botgate.CaptchaUnavailable:
		if p.captchaMode == FailOpen {
			p.logger.Warn("captcha unavailable, failing open", "identity", source.String(), "error", err)
			return Verdict{Degraded: true}, false
		}
		p.logger.Error("captcha unavailable, rejecting", "identity", source.String(), "error", err)
		return reject(ReasonCaptchaUnavailable), true
	default:
		p.logger.Error("unexpected bot gate verdict", "verdict", bot)
		return reject(ReasonCaptchaUnavailable), true
	}
}

func (p *Pipeline) quotaCheck(ctx context.Context, ids []identity.Identity, degraded bool, ev *Event) Verdict {
	r := p.enforcer.Check(ctx, ids)
	ev.Stage = QuotaChecked
	ev.Escalation = r.Escalation

	switch r.Outcome {
	case quota.Allowed:
		return accept(degraded || r.Degraded)
	case quota.RateLimited:
		v := reject(ReasonRateLimited)
		v.Limiter = r.Limiter
		v.RetryAfter = r.RetryAfter
		return v
	case quota.DenylistActive:
		v := reject(ReasonDenylistActive)
		v.RetryAfter = r.RetryAfter
		return v
	default:
		return reject(ReasonStoreUnavailable)
	}
}

func (p *Pipeline) finish(span trace.Span, ev Event) {
	attrs := []attribute.KeyValue{
		attribute.String("admission.id", ev.ID),
		attribute.String("admission.decision", string(ev.Verdict.Decision)),
		attribute.Bool("admission.degraded", ev.Verdict.Degraded),
	}
	if ev.Verdict.Reason != "" {
		attrs = append(attrs, attribute.String("admission.reason", string(ev.Verdict.Reason)))
	}
	if ev.Verdict.Limiter != "" {
		attrs = append(attrs, attribute.String("admission.limiter", ev.Verdict.Limiter))
	}
	span.SetAttributes(attrs...)
	if !ev.Verdict.Accepted() {
		span.SetStatus(codes.Error, string(ev.Verdict.Reason))
	}

	logArgs := []interface{}{
		"id", ev.ID,
		"identities", identityStrings(ev.Identities),
		"verdict", ev.Verdict.String(),
		"latency", ev.Latency,
	}
	switch {
	case ev.Verdict.Accepted() && !ev.Verdict.Degraded:
		p.logger.Info("submission accepted", logArgs...)
	case ev.Verdict.Accepted():
		p.logger.Warn("submission accepted degraded", logArgs...)
	default:
		p.logger.Warn("submission rejected", logArgs...)
	}

	for _, o := range p.observers {
		o.Observe(ev)
	}
}

func identityStrings(ids []identity.Identity) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
