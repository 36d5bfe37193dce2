package botgate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultVerifyURL     = "https://www.google.com/recaptcha/api/siteverify"
	DefaultVerifyTimeout = 5 * time.Second
)

// Answer is a provider's decision about one token.
type Answer struct {
	Success    bool
	Score      float64
	HasScore   bool
	ErrorCodes []string
}

// Verifier checks a CAPTCHA token with its provider.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) (Answer, error)
}

// SiteVerifierConfig configures a SiteVerifier.
type SiteVerifierConfig struct {
	URL     string
	Secret  string
	Timeout time.Duration
	// MinScore rejects scored answers below it. Zero disables the check.
	MinScore float64
}

// SiteVerifier speaks the siteverify form protocol shared by reCAPTCHA,
// hCaptcha and Turnstile.
type SiteVerifier struct {
	client   *resty.Client
	url      string
	secret   string
	timeout  time.Duration
	minScore float64
}

type siteVerifyResponse struct {
	Success    bool     `json:"success"`
	Score      *float64 `json:"score,omitempty"`
	ErrorCodes []string `json:"error-codes,omitempty"`
}

// NewSiteVerifier builds a SiteVerifier with no retries; every call is
// bounded by the configured timeout.
func NewSiteVerifier(cfg SiteVerifierConfig) (*SiteVerifier, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("captcha secret is required")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultVerifyURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultVerifyTimeout
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("captcha timeout must be positive, got %s", cfg.Timeout)
	}
	if cfg.MinScore < 0 || cfg.MinScore > 1 {
		return nil, fmt.Errorf("captcha min score must be within [0, 1], got %v", cfg.MinScore)
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")

	return &SiteVerifier{
		client:   client,
		url:      cfg.URL,
		secret:   cfg.Secret,
		timeout:  cfg.Timeout,
		minScore: cfg.MinScore,
	}, nil
}

// Verify implements Verifier.
func (v *SiteVerifier) Verify(ctx context.Context, token, remoteIP string) (Answer, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	form := map[string]string{
		"secret":   v.secret,
		"response": token,
	}
	if remoteIP != "" {
		form["remoteip"] = remoteIP
	}

	resp, err := v.client.R().
		SetContext(ctx).
		SetFormData(form).
		Post(v.url)
	if err != nil {
		return Answer{}, fmt.Errorf("%w: %v", ErrCaptchaUnavailable, err)
	}
	if !resp.IsSuccess() {
		return Answer{}, fmt.Errorf("%w: provider answered %d", ErrCaptchaUnavailable, resp.StatusCode())
	}

	var body siteVerifyResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return Answer{}, fmt.Errorf("%w: decoding provider answer: %v", ErrCaptchaUnavailable, err)
	}

	answer := Answer{Success: body.Success, ErrorCodes: body.ErrorCodes}
	if body.Score != nil {
		answer.Score = *body.Score
		answer.HasScore = true
		if v.minScore > 0 && answer.Score < v.minScore {
			answer.Success = false
		}
	}
	return answer, nil
}
