package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/relaycrm/enrich-core/internal/ai"
	"github.com/relaycrm/enrich-core/internal/enrich"
	"github.com/relaycrm/enrich-core/internal/probe"
	"github.com/relaycrm/enrich-core/internal/quota"
	"github.com/relaycrm/enrich-core/internal/resilience"
	"github.com/relaycrm/enrich-core/internal/secret"
	"github.com/relaycrm/enrich-core/internal/store"
	"github.com/relaycrm/enrich-core/pkg/builtwith"
	"github.com/relaycrm/enrich-core/pkg/pagespeed"
	"github.com/relaycrm/enrich-core/pkg/screenshotone"
	"github.com/relaycrm/enrich-core/pkg/serpapi"
	"github.com/relaycrm/enrich-core/pkg/whoisxml"
)

// appEnv holds the wired application graph shared by all commands.
type appEnv struct {
	store    store.Store
	quota    *quota.Manager
	breakers *resilience.ServiceBreakers
	keys     *ai.KeyResolver
	orch     *enrich.Orchestrator
}

func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}

	qm := quota.NewManager(st, cfg.Quota.Limits())
	breakers := resilience.NewServiceBreakers(resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     time.Duration(cfg.Breaker.CooldownSecs) * time.Second,
		SuccessThreshold: cfg.Breaker.HalfOpenProbes,
	})
	retryCfg := resilience.RetryConfig{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond,
	}

	var enc *secret.Encryptor
	if cfg.Secret.Key != "" {
		enc, err = secret.NewEncryptor([]byte(cfg.Secret.Key))
		if err != nil {
			st.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "init encryptor")
		}
	} else {
		zap.L().Warn("no secret key configured, API keys stored as plaintext")
	}

	keys := ai.NewKeyResolver(st, enc)
	aiSvc := ai.NewService(keys, cfg.AI.BaseURLs)

	// Unconfigured keys leave the corresponding probe disabled.
	runnerCfg := probe.RunnerConfig{Quota: qm, Breakers: breakers, Retry: &retryCfg}
	if cfg.Probe.PageSpeedKey != "" {
		runnerCfg.PageSpeed = pagespeed.NewClient(cfg.Probe.PageSpeedKey)
	}
	if cfg.Probe.ScreenshotsKey != "" {
		runnerCfg.Screenshots = screenshotone.NewClient(cfg.Probe.ScreenshotsKey)
	}
	if cfg.Probe.BuiltWithKey != "" {
		runnerCfg.BuiltWith = builtwith.NewClient(cfg.Probe.BuiltWithKey)
	}
	if cfg.Probe.WhoisKey != "" {
		runnerCfg.Whois = whoisxml.NewClient(cfg.Probe.WhoisKey)
	}
	runner := probe.NewRunner(runnerCfg)

	var serp serpapi.Client
	if cfg.Probe.SerpKey != "" {
		serp = serpapi.NewClient(cfg.Probe.SerpKey)
	}

	orch := enrich.New(enrich.Config{
		Store:     st,
		Probes:    runner,
		AI:        aiSvc,
		Serp:      serp,
		Providers: cfg.AI.Providers,
	})

	return &appEnv{
		store:    st,
		quota:    qm,
		breakers: breakers,
		keys:     keys,
		orch:     orch,
	}, nil
}

func (e *appEnv) Close() {
	if err := e.store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		st, err := store.NewSQLite(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
