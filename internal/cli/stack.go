package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/go-hclog"

	"github.com/SmitUplenchwar2687/bottlegate/internal/admission"
	"github.com/SmitUplenchwar2687/bottlegate/internal/botgate"
	"github.com/SmitUplenchwar2687/bottlegate/internal/clock"
	"github.com/SmitUplenchwar2687/bottlegate/internal/config"
	"github.com/SmitUplenchwar2687/bottlegate/internal/counter"
	"github.com/SmitUplenchwar2687/bottlegate/internal/denylist"
	"github.com/SmitUplenchwar2687/bottlegate/internal/identity"
	"github.com/SmitUplenchwar2687/bottlegate/internal/quota"
)

// stack is an assembled pipeline together with the stores it owns.
type stack struct {
	pipeline *admission.Pipeline
	denylist denylist.Escalator
	closers  []io.Closer
}

// Close releases the stores in reverse order of creation.
func (s *stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func redisStoreOptions(cfg config.StorageConfig, clk clock.Clock) counter.RedisStoreOptions {
	return counter.RedisStoreOptions{Grace: cfg.Grace, Clock: clk}
}

// buildStack wires the configured backend, bot gate, quota enforcer and
// pipeline. cfg must already be valid.
func buildStack(ctx context.Context, cfg config.Config, clk clock.Clock, logger hclog.Logger, observers ...admission.Observer) (_ *stack, err error) {
	st := &stack{}
	defer func() {
		if err != nil {
			st.Close()
		}
	}()

	var store counter.Store
	switch cfg.Storage.Backend {
	case counter.BackendRedis:
		client, err := counter.DialRedis(ctx, &cfg.Storage.Redis)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, client)

		rs, err := counter.NewRedisStore(client, redisStoreOptions(cfg.Storage, clk))
		if err != nil {
			return nil, err
		}
		dl, err := denylist.NewRedisStore(client, cfg.Denylist, clk)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, rs, dl)
		store, st.denylist = rs, dl

	case counter.BackendMemory:
		ms, err := counter.NewMemoryStore(&counter.MemoryConfig{
			CleanupInterval: cfg.Storage.Memory.CleanupInterval,
			Grace:           cfg.Storage.Grace,
			Shards:          cfg.Storage.Memory.Shards,
			Clock:           clk,
		})
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, ms)

		dl, err := denylist.NewMemoryStore(cfg.Denylist, clk, cfg.Storage.Memory.CleanupInterval)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, dl)
		store, st.denylist = ms, dl

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	enforcer, err := quota.NewEnforcer(store, st.denylist, cfg.Limiters, quota.Options{
		Clock:    clk,
		FailOpen: cfg.FailureMode.Store == admission.FailOpen,
		Logger:   logger.Named("quota"),
	})
	if err != nil {
		return nil, err
	}

	gateOpts := []botgate.Option{
		botgate.WithReporter(st.denylist),
		botgate.WithLogger(logger.Named("botgate")),
	}
	if cfg.Captcha.Secret != "" {
		verifier, err := botgate.NewSiteVerifier(botgate.SiteVerifierConfig{
			URL:      cfg.Captcha.VerifyURL,
			Secret:   cfg.Captcha.Secret,
			Timeout:  cfg.Captcha.Timeout,
			MinScore: cfg.Captcha.MinScore,
		})
		if err != nil {
			return nil, err
		}
		gateOpts = append(gateOpts, botgate.WithVerifier(verifier))
	}
	gate, err := botgate.New(botgate.Config{
		HoneypotField: cfg.HoneypotField,
		TokenField:    cfg.Captcha.TokenField,
		Required:      cfg.Captcha.Required,
	}, gateOpts...)
	if err != nil {
		return nil, err
	}

	extractor, err := identity.NewExtractor(cfg.Identity)
	if err != nil {
		return nil, err
	}

	opts := []admission.Option{
		admission.WithClock(clk),
		admission.WithCaptchaFailureMode(cfg.CaptchaFailureMode()),
		admission.WithLogger(logger.Named("admission")),
	}
	for _, o := range observers {
		opts = append(opts, admission.WithObserver(o))
	}
	st.pipeline, err = admission.New(extractor, gate, enforcer, opts...)
	if err != nil {
		return nil, err
	}
	return st, nil
}
