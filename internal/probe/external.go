package probe

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/relaycrm/enrich-core/internal/model"
	"github.com/relaycrm/enrich-core/pkg/pagespeed"
	"github.com/relaycrm/enrich-core/pkg/screenshotone"
	"github.com/relaycrm/enrich-core/pkg/whoisxml"
)

// Performance runs a PageSpeed Insights audit. Metered.
func (r *Runner) Performance(ctx context.Context, target string) groupResult {
	if r.pagespeed == nil {
		return groupResult{Result: Result{Service: ServicePageSpeed, Err: "pagespeed client not configured"}}
	}

	var group *model.PerformanceGroup
	res := r.Guard(ctx, ServicePageSpeed, true, func(ctx context.Context) error {
		resp, err := r.pagespeed.Analyze(ctx, target, "mobile")
		if err != nil {
			return err
		}
		group = performanceGroup(resp)
		return nil
	})
	return groupResult{Result: res, group: nilable(group, res.Success)}
}

func performanceGroup(resp *pagespeed.AnalyzeResponse) *model.PerformanceGroup {
	lr := resp.LighthouseResult
	score := func(c pagespeed.Category) int { return int(c.Score*100 + 0.5) }
	return &model.PerformanceGroup{
		PerformanceScore:   score(lr.Categories.Performance),
		AccessibilityScore: score(lr.Categories.Accessibility),
		BestPracticesScore: score(lr.Categories.BestPractices),
		SEOScore:           score(lr.Categories.SEO),
		FirstContentfulMs:  lr.Audits[pagespeed.AuditFirstContentfulPaint].NumericValue,
		LargestContentMs:   lr.Audits[pagespeed.AuditLargestContentfulPaint].NumericValue,
		CumulativeShift:    lr.Audits[pagespeed.AuditCumulativeLayoutShift].NumericValue,
		TotalBlockingMs:    lr.Audits[pagespeed.AuditTotalBlockingTime].NumericValue,
	}
}

const screenshotBase = "https://api.screenshotone.com"

// Screenshots captures desktop and mobile screenshots. Metered; each
// viewport is one quota unit, and a quota hit after the desktop capture
// still reports the desktop result.
func (r *Runner) Screenshots(ctx context.Context, target string) groupResult {
	if r.screenshots == nil {
		return groupResult{Result: Result{Service: ServiceScreenshots, Err: "screenshot client not configured"}}
	}

	group := &model.ScreenshotGroup{}

	capture := func(ctx context.Context, preset screenshotone.TakeRequest, dst *string) Result {
		return r.Guard(ctx, ServiceScreenshots, true, func(ctx context.Context) error {
			req := preset
			req.URL = target
			if _, err := r.screenshots.Take(ctx, req); err != nil {
				return err
			}
			*dst = captureURL(screenshotBase, target, preset)
			return nil
		})
	}

	desktop := capture(ctx, screenshotone.DesktopViewport, &group.DesktopURL)
	if !desktop.Success {
		return groupResult{Result: desktop}
	}
	mobile := capture(ctx, screenshotone.MobileViewport, &group.MobileURL)
	group.CapturedAt = time.Now().UTC()

	// Desktop succeeded; a mobile failure degrades to a partial group.
	res := Result{Service: ServiceScreenshots, Success: true}
	if !mobile.Success {
		res.QuotaReached = mobile.QuotaReached
	}
	return groupResult{Result: res, group: group}
}

// captureURL is the stable render URL stored on the record. ScreenshotOne
// serves cached captures keyed by url and viewport, so the same query
// re-renders for free.
func captureURL(accessKeyLessBase, target string, preset screenshotone.TakeRequest) string {
	q := url.Values{}
	q.Set("url", target)
	q.Set("viewport_width", strconv.Itoa(preset.ViewportWidth))
	q.Set("viewport_height", strconv.Itoa(preset.ViewportHeight))
	return accessKeyLessBase + "/take?" + q.Encode()
}

// TechStack looks the domain up on BuiltWith. Metered.
func (r *Runner) TechStack(ctx context.Context, target string) groupResult {
	if r.builtwith == nil {
		return groupResult{Result: Result{Service: ServiceBuiltWith, Err: "builtwith client not configured"}}
	}

	domain, err := hostOf(target)
	if err != nil {
		return groupResult{Result: Result{Service: ServiceBuiltWith, Err: err.Error()}}
	}

	var group *model.TechStackGroup
	res := r.Guard(ctx, ServiceBuiltWith, true, func(ctx context.Context) error {
		resp, err := r.builtwith.Lookup(ctx, domain)
		if err != nil {
			return err
		}
		techs := make(map[string][]string, len(resp.Groups))
		for _, g := range resp.Groups {
			for _, cat := range g.Categories {
				techs[g.Name] = append(techs[g.Name], cat.Name)
			}
		}
		group = &model.TechStackGroup{Technologies: techs}
		return nil
	})
	return groupResult{Result: res, group: nilable(group, res.Success)}
}

// Domain fetches WHOIS registration facts and derives age and expiry
// windows. Not metered; WhoisXML is billed monthly, not daily.
func (r *Runner) Domain(ctx context.Context, target string) groupResult {
	if r.whois == nil {
		return groupResult{Result: Result{Service: ServiceWhois, Err: "whois client not configured"}}
	}

	domain, err := hostOf(target)
	if err != nil {
		return groupResult{Result: Result{Service: ServiceWhois, Err: err.Error()}}
	}

	var group *model.DomainGroup
	res := r.Guard(ctx, ServiceWhois, false, func(ctx context.Context) error {
		resp, err := r.whois.Whois(ctx, domain)
		if err != nil {
			return err
		}
		group = domainGroup(resp.WhoisRecord, time.Now().UTC())
		return nil
	})
	return groupResult{Result: res, group: nilable(group, res.Success)}
}

func domainGroup(rec whoisxml.WhoisRecord, now time.Time) *model.DomainGroup {
	group := &model.DomainGroup{
		Registrar: rec.RegistrarName,
		Country:   rec.Registrant.Country,
	}
	if created, ok := rec.CreatedAt(); ok {
		t := created
		group.CreatedAt = &t
		group.AgeYears = now.Sub(created).Hours() / (24 * 365.25)
	}
	if expires, ok := rec.ExpiresAt(); ok {
		t := expires
		group.ExpiresAt = &t
		group.DaysUntilExpiry = int(expires.Sub(now).Hours() / 24)
	}
	return group
}

func hostOf(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	return u.Hostname(), nil
}

// nilable returns group only on success so a failed probe cannot leave a
// partially filled group on the record.
func nilable[T any](group *T, success bool) any {
	if !success || group == nil {
		return nil
	}
	return group
}
