// Package probe runs the individual website checks that feed a
// WebsiteAnalysisRecord. External API probes are quota-governed and wrapped
// in per-service circuit breakers with retry; direct fetch probes hit the
// customer's site with plain retry.
package probe

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/relaycrm/enrich-core/internal/model"
	"github.com/relaycrm/enrich-core/internal/quota"
	"github.com/relaycrm/enrich-core/internal/resilience"
	"github.com/relaycrm/enrich-core/internal/urlcheck"
	"github.com/relaycrm/enrich-core/pkg/builtwith"
	"github.com/relaycrm/enrich-core/pkg/pagespeed"
	"github.com/relaycrm/enrich-core/pkg/screenshotone"
	"github.com/relaycrm/enrich-core/pkg/whoisxml"
)

// Service names used for quota accounting and circuit breakers.
const (
	ServicePageSpeed   = "pagespeed"
	ServiceScreenshots = "screenshots"
	ServiceBuiltWith   = "builtwith"
	ServiceWhois       = "whois"
	ServiceSite        = "site"   // direct fetches of the customer's site
	ServiceSocial      = "social" // liveness checks of linked social profiles
)

// probeConcurrency bounds how many probes run against one site at once.
const probeConcurrency = 4

// Result reports one probe's outcome. Exactly one of the three terminal
// states holds: success, quota exhaustion, or an error message. A failed
// probe never aborts its siblings.
type Result struct {
	Service      string `json:"service"`
	Success      bool   `json:"success"`
	QuotaReached bool   `json:"quota_reached,omitempty"`
	Err          string `json:"error,omitempty"`
}

// Runner executes probes. All outbound URLs pass through urlcheck.Validate
// before any probe sees them.
type Runner struct {
	quota    *quota.Manager
	breakers *resilience.ServiceBreakers
	limiters map[string]*rate.Limiter

	fetcher     *Fetcher
	pagespeed   pagespeed.Client
	screenshots screenshotone.Client
	builtwith   builtwith.Client
	whois       whoisxml.Client

	retryCfg resilience.RetryConfig
}

// RunnerConfig wires a Runner's dependencies. Nil clients disable the
// corresponding probes, which then report a configuration error.
type RunnerConfig struct {
	Quota       *quota.Manager
	Breakers    *resilience.ServiceBreakers
	Retry       *resilience.RetryConfig
	PageSpeed   pagespeed.Client
	Screenshots screenshotone.Client
	BuiltWith   builtwith.Client
	Whois       whoisxml.Client
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	breakers := cfg.Breakers
	if breakers == nil {
		breakers = resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig())
	}
	retryCfg := resilience.DefaultRetryConfig()
	if cfg.Retry != nil {
		retryCfg = *cfg.Retry
	}
	return &Runner{
		quota:    cfg.Quota,
		breakers: breakers,
		limiters: map[string]*rate.Limiter{
			ServicePageSpeed:   rate.NewLimiter(rate.Every(2*time.Second), 1),
			ServiceScreenshots: rate.NewLimiter(rate.Every(2*time.Second), 1),
			ServiceBuiltWith:   rate.NewLimiter(rate.Every(time.Second), 1),
			ServiceWhois:       rate.NewLimiter(rate.Every(time.Second), 1),
			ServiceSocial:      rate.NewLimiter(rate.Every(time.Second), 1),
		},
		fetcher:     NewFetcher(),
		pagespeed:   cfg.PageSpeed,
		screenshots: cfg.Screenshots,
		builtwith:   cfg.BuiltWith,
		whois:       cfg.Whois,
		retryCfg:    retryCfg,
	}
}

// Analyze validates the URL once, fans all probes out, and assembles the
// analysis record plus a per-probe outcome map. Probes that fail leave their
// group nil; the record is persisted regardless.
func (r *Runner) Analyze(ctx context.Context, customerID, rawURL string, services []string) (*model.WebsiteAnalysisRecord, map[string]Result, error) {
	target, err := urlcheck.Validate(rawURL)
	if err != nil {
		return nil, nil, err
	}

	rec := &model.WebsiteAnalysisRecord{CustomerID: customerID, URL: target}
	results := make(map[string]Result, len(services))

	if len(services) == 0 {
		services = []string{ServiceSite, "seo", "responsive", "crawl", "tech_stack", "domain", "performance", "screenshots", ServiceSocial}
	}

	// The site fetch feeds several groups; run it first when any dependent
	// probe is requested.
	var page *Page
	if needsPage(services) {
		page, err = r.fetchSite(ctx, target)
		if err != nil {
			results[ServiceSite] = Result{Service: ServiceSite, Err: err.Error()}
		} else {
			results[ServiceSite] = Result{Service: ServiceSite, Success: true}
			rec.SSL = sslGroup(page)
			rec.Security = securityGroup(page)
		}
	}

	type probeFn struct {
		name string
		run  func(ctx context.Context) Result
	}

	var probes []probeFn
	for _, svc := range services {
		switch svc {
		case "seo":
			probes = append(probes, probeFn{svc, func(ctx context.Context) Result {
				return fromPage(svc, page, func() { rec.SEO = ScanSEO(page.Body) })
			}})
		case "responsive":
			probes = append(probes, probeFn{svc, func(ctx context.Context) Result {
				return fromPage(svc, page, func() { rec.Responsive = ScanResponsive(page.Body) })
			}})
		case "crawl":
			probes = append(probes, probeFn{svc, func(ctx context.Context) Result {
				group, err := r.CheckCrawlability(ctx, target)
				if err != nil {
					return Result{Service: svc, Err: err.Error()}
				}
				rec.Crawl = group
				return Result{Service: svc, Success: true}
			}})
		case "tech_stack":
			probes = append(probes, probeFn{svc, func(ctx context.Context) Result {
				res := r.TechStack(ctx, target)
				if res.group != nil {
					rec.TechStack = res.group.(*model.TechStackGroup)
				}
				return res.Result
			}})
		case "domain":
			probes = append(probes, probeFn{svc, func(ctx context.Context) Result {
				res := r.Domain(ctx, target)
				if res.group != nil {
					rec.Domain = res.group.(*model.DomainGroup)
				}
				return res.Result
			}})
		case "performance":
			probes = append(probes, probeFn{svc, func(ctx context.Context) Result {
				res := r.Performance(ctx, target)
				if res.group != nil {
					rec.Performance = res.group.(*model.PerformanceGroup)
				}
				return res.Result
			}})
		case "screenshots":
			probes = append(probes, probeFn{svc, func(ctx context.Context) Result {
				res := r.Screenshots(ctx, target)
				if res.group != nil {
					rec.Screenshots = res.group.(*model.ScreenshotGroup)
				}
				return res.Result
			}})
		case ServiceSocial:
			probes = append(probes, probeFn{svc, func(ctx context.Context) Result {
				res := r.Social(ctx, page)
				if res.group != nil {
					rec.Social = res.group.(*model.SocialGroup)
				}
				return res.Result
			}})
		case ServiceSite:
			// handled above
		default:
			results[svc] = Result{Service: svc, Err: "unknown probe"}
		}
	}

	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(probeConcurrency)
	for _, p := range probes {
		g.Go(func() error {
			res := p.run(gctx)
			mu.Lock()
			results[p.name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // probe failures are carried in results, not errors

	for name, res := range results {
		if !res.Success {
			zap.L().Warn("probe failed",
				zap.String("probe", name),
				zap.String("url", target),
				zap.Bool("quota_reached", res.QuotaReached),
				zap.String("error", res.Err))
		}
	}

	if r.quota != nil {
		if _, err := r.quota.CheckAlerts(ctx); err != nil {
			zap.L().Warn("quota alert check failed", zap.Error(err))
		}
	}
	return rec, results, nil
}

func needsPage(services []string) bool {
	for _, s := range services {
		switch s {
		case ServiceSite, "seo", "responsive", ServiceSocial:
			return true
		}
	}
	return false
}

// fromPage converts a page-dependent probe into a Result, handling the case
// where the site fetch itself failed.
func fromPage(service string, page *Page, apply func()) Result {
	if page == nil {
		return Result{Service: service, Err: "site fetch failed"}
	}
	apply()
	return Result{Service: service, Success: true}
}

// groupResult pairs a Result with the analysis group it produced.
type groupResult struct {
	Result
	group any
}

// guarded runs an external API call with quota accounting, a circuit
// breaker, and retry. Quota is consumed per attempt, after the breaker
// state check: an open circuit rejects without spending budget.
func (r *Runner) Guard(ctx context.Context, service string, metered bool, op func(ctx context.Context) error) Result {
	br := r.breakers.Get(service)

	cfg := r.retryCfg
	cfg.ShouldRetry = func(err error) bool {
		if eris.Is(err, quota.ErrQuotaExceeded) || eris.Is(err, resilience.ErrCircuitOpen) {
			return false
		}
		return resilience.IsRetryable(err)
	}

	err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		if br.State() == resilience.CircuitOpen {
			return resilience.ErrCircuitOpen
		}
		if metered {
			if qerr := r.quota.Consume(ctx, service); qerr != nil {
				return qerr
			}
		}
		if lim := r.limiters[service]; lim != nil {
			if lerr := lim.Wait(ctx); lerr != nil {
				return lerr
			}
		}

		cerr := br.Execute(ctx, op)
		if metered {
			if cerr != nil && !eris.Is(cerr, resilience.ErrCircuitOpen) {
				r.quota.RecordError(ctx, service, cerr)
			} else if cerr == nil {
				r.quota.RecordSuccess(ctx, service)
			}
		}
		return cerr
	})

	switch {
	case err == nil:
		return Result{Service: service, Success: true}
	case eris.Is(err, quota.ErrQuotaExceeded):
		return Result{Service: service, QuotaReached: true}
	default:
		return Result{Service: service, Err: err.Error()}
	}
}
