package botgate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/SmitUplenchwar2687/bottlegate/internal/denylist"
	"github.com/SmitUplenchwar2687/bottlegate/internal/identity"
)

const (
	DefaultHoneypotField = "hp"
	DefaultTokenField    = "captcha_token"
)

// ErrCaptchaUnavailable marks a verification that could not be completed:
// timeout, transport failure or a non-2xx answer from the provider.
var ErrCaptchaUnavailable = errors.New("captcha verification unavailable")

// Verdict is the closed set of bot gate outcomes.
type Verdict string

const (
	Pass               Verdict = "pass"
	HoneypotTriggered  Verdict = "honeypot_triggered"
	CaptchaFailed      Verdict = "captcha_failed"
	CaptchaUnavailable Verdict = "captcha_unavailable"
)

// Submission is what the gate inspects. Fields holds the raw form values.
type Submission struct {
	Fields   map[string]string
	Source   identity.Identity
	RemoteIP string
}

// Reporter receives honeypot hits. denylist.Escalator satisfies it.
type Reporter interface {
	ReportViolation(ctx context.Context, id identity.Identity, reason denylist.Reason) (denylist.Entry, bool, error)
}

// Config controls which checks run.
type Config struct {
	HoneypotField string
	TokenField    string
	// Required turns CAPTCHA verification on. Without it tokens are
	// ignored and no verify call is made.
	Required bool
}

// Gate runs the honeypot check and, when configured, CAPTCHA verification.
type Gate struct {
	cfg      Config
	verifier Verifier
	reporter Reporter
	logger   hclog.Logger
}

// Option customizes a Gate.
type Option func(*Gate)

// WithVerifier sets the CAPTCHA verifier.
func WithVerifier(v Verifier) Option {
	return func(g *Gate) { g.verifier = v }
}

// WithReporter sets where honeypot hits are reported.
func WithReporter(r Reporter) Option {
	return func(g *Gate) { g.reporter = r }
}

// WithLogger sets the gate logger.
func WithLogger(l hclog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// New builds a Gate. A required CAPTCHA without a verifier is a
// configuration error.
func New(cfg Config, opts ...Option) (*Gate, error) {
	if cfg.HoneypotField == "" {
		cfg.HoneypotField = DefaultHoneypotField
	}
	if cfg.TokenField == "" {
		cfg.TokenField = DefaultTokenField
	}
	if cfg.HoneypotField == cfg.TokenField {
		return nil, fmt.Errorf("honeypot field and captcha token field must differ, both are %q", cfg.TokenField)
	}

	g := &Gate{cfg: cfg, logger: hclog.NewNullLogger()}
	for _, opt := range opts {
		opt(g)
	}
	if cfg.Required && g.verifier == nil {
		return nil, fmt.Errorf("captcha is required but no verifier is configured")
	}
	return g, nil
}

// Required reports whether a CAPTCHA token is mandatory.
func (g *Gate) Required() bool {
	return g.cfg.Required
}

// Evaluate returns the gate verdict. The honeypot is checked first and a
// hit never reaches the network. The CAPTCHA is only consulted when it is
// required; otherwise any token is ignored. A non-nil error accompanies
// CaptchaUnavailable and wraps ErrCaptchaUnavailable.
func (g *Gate) Evaluate(ctx context.Context, s Submission) (Verdict, error) {
	if strings.TrimSpace(s.Fields[g.cfg.HoneypotField]) != "" {
		g.reportHoneypot(ctx, s.Source)
		return HoneypotTriggered, nil
	}

	if !g.cfg.Required {
		return Pass, nil
	}
	token := strings.TrimSpace(s.Fields[g.cfg.TokenField])
	if token == "" {
		return CaptchaFailed, nil
	}

	answer, err := g.verifier.Verify(ctx, token, s.RemoteIP)
	if err != nil {
		if !errors.Is(err, ErrCaptchaUnavailable) {
			err = fmt.Errorf("%w: %v", ErrCaptchaUnavailable, err)
		}
		return CaptchaUnavailable, err
	}
	if !answer.Success {
		g.logger.Debug("captcha rejected", "source", s.Source.Value(), "error_codes", answer.ErrorCodes)
		return CaptchaFailed, nil
	}
	return Pass, nil
}

func (g *Gate) reportHoneypot(ctx context.Context, source identity.Identity) {
	if g.reporter == nil || source.IsZero() {
		return
	}
	entry, escalated, err := g.reporter.ReportViolation(ctx, source, denylist.ReasonHoneypotTriggered)
	if err != nil {
		g.logger.Warn("honeypot report failed", "identity", source.String(), "error", err)
		return
	}
	if escalated {
		g.logger.Info("identity denylisted", "identity", source.String(), "reason", entry.Reason, "until", entry.Until, "level", entry.Level)
	}
}
