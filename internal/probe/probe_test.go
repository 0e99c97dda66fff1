package probe

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/relaycrm/enrich-core/internal/quota"
	"github.com/relaycrm/enrich-core/internal/resilience"
	"github.com/relaycrm/enrich-core/internal/store"
	"github.com/relaycrm/enrich-core/internal/urlcheck"
	"github.com/relaycrm/enrich-core/pkg/builtwith"
	"github.com/relaycrm/enrich-core/pkg/pagespeed"
	"github.com/relaycrm/enrich-core/pkg/whoisxml"
)

type fakePageSpeed struct {
	calls int
	errs  []error // consumed per call; nil entries succeed
}

func (f *fakePageSpeed) Analyze(context.Context, string, string) (*pagespeed.AnalyzeResponse, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &pagespeed.AnalyzeResponse{
		LighthouseResult: pagespeed.LighthouseResult{
			Categories: pagespeed.Categories{Performance: pagespeed.Category{Score: 0.9}},
		},
	}, nil
}

func newProbeTestRunner(t *testing.T, limits map[string]int, ps pagespeed.Client) (*Runner, *quota.Manager) {
	return newProbeTestRunnerCfg(t, limits, RunnerConfig{PageSpeed: ps})
}

func newProbeTestRunnerCfg(t *testing.T, limits map[string]int, cfg RunnerConfig) (*Runner, *quota.Manager) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "probe.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}

	qm := quota.NewManager(st, limits)
	cfg.Quota = qm
	r := NewRunner(cfg)
	// Tests should not wait on production pacing.
	r.limiters = map[string]*rate.Limiter{}
	r.retryCfg.BaseDelay = time.Millisecond
	return r, qm
}

func TestPerformance_Success(t *testing.T) {
	fake := &fakePageSpeed{}
	r, qm := newProbeTestRunner(t, map[string]int{"pagespeed": 10}, fake)

	res := r.Performance(context.Background(), "https://acme.example")
	if !res.Success {
		t.Fatalf("expected success, got %+v", res.Result)
	}
	if res.group == nil {
		t.Fatal("expected performance group")
	}
	if fake.calls != 1 {
		t.Errorf("calls: %d", fake.calls)
	}

	st, err := qm.Status(context.Background(), "pagespeed")
	if err != nil {
		t.Fatal(err)
	}
	if st.Used != 1 {
		t.Errorf("quota used: %d", st.Used)
	}
}

func TestPerformance_QuotaExhausted(t *testing.T) {
	fake := &fakePageSpeed{}
	r, _ := newProbeTestRunner(t, map[string]int{"pagespeed": 1}, fake)
	ctx := context.Background()

	if res := r.Performance(ctx, "https://acme.example"); !res.Success {
		t.Fatalf("first call should succeed: %+v", res.Result)
	}

	res := r.Performance(ctx, "https://acme.example")
	if !res.QuotaReached {
		t.Errorf("expected quota reached, got %+v", res.Result)
	}
	if res.group != nil {
		t.Error("no group on quota exhaustion")
	}
	if fake.calls != 1 {
		t.Errorf("provider must not be called past the limit, calls=%d", fake.calls)
	}
}

func TestPerformance_RetriesConsumeQuotaPerAttempt(t *testing.T) {
	fake := &fakePageSpeed{errs: []error{
		resilience.NewTransientError(errors.New("upstream 503"), 503),
		resilience.NewTransientError(errors.New("upstream 503"), 503),
		nil,
	}}
	r, qm := newProbeTestRunner(t, map[string]int{"pagespeed": 10}, fake)

	res := r.Performance(context.Background(), "https://acme.example")
	if !res.Success {
		t.Fatalf("expected eventual success, got %+v", res.Result)
	}
	if fake.calls != 3 {
		t.Errorf("calls: %d", fake.calls)
	}

	st, _ := qm.Status(context.Background(), "pagespeed")
	// Every network attempt spends budget, including the failed ones.
	if st.Used != 3 {
		t.Errorf("quota used: %d", st.Used)
	}
}

func TestPerformance_PermanentErrorNotRetried(t *testing.T) {
	fake := &fakePageSpeed{errs: []error{errors.New("pagespeed: unexpected status 400: bad url")}}
	r, _ := newProbeTestRunner(t, map[string]int{"pagespeed": 10}, fake)

	res := r.Performance(context.Background(), "https://acme.example")
	if res.Success {
		t.Fatal("expected failure")
	}
	if fake.calls != 1 {
		t.Errorf("calls: %d", fake.calls)
	}
}

func TestPerformance_OpenCircuitSpendsNoQuota(t *testing.T) {
	fake := &fakePageSpeed{}
	r, qm := newProbeTestRunner(t, map[string]int{"pagespeed": 10}, fake)
	ctx := context.Background()

	// Trip the breaker directly.
	br := r.breakers.Get(ServicePageSpeed)
	failing := func(context.Context) error { return errors.New("boom") }
	for i := 0; i < 5; i++ {
		_ = br.Execute(ctx, failing)
	}
	if br.State() != resilience.CircuitOpen {
		t.Fatal("breaker should be open")
	}

	res := r.Performance(ctx, "https://acme.example")
	if res.Success || res.QuotaReached {
		t.Fatalf("expected circuit rejection, got %+v", res.Result)
	}
	if fake.calls != 0 {
		t.Errorf("provider must not be called, calls=%d", fake.calls)
	}

	st, _ := qm.Status(ctx, "pagespeed")
	if st.Used != 0 {
		t.Errorf("open circuit must not spend quota, used=%d", st.Used)
	}
}

type fakeBuiltWith struct{ err error }

func (f *fakeBuiltWith) Lookup(context.Context, string) (*builtwith.LookupResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &builtwith.LookupResponse{Groups: []builtwith.Group{
		{Name: "cms", Categories: []builtwith.Category{{Name: "WordPress"}}},
	}}, nil
}

type fakeWhois struct{ err error }

func (f *fakeWhois) Whois(context.Context, string) (*whoisxml.WhoisResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &whoisxml.WhoisResponse{WhoisRecord: whoisxml.WhoisRecord{
		RegistrarName: "Example Registrar",
	}}, nil
}

func TestAnalyze_MixedOutcomesKeepSuccessfulGroup(t *testing.T) {
	// One probe fails outright, one times out, one succeeds. The run must
	// report all three outcomes and persist only the successful group.
	ps := &fakePageSpeed{errs: []error{errors.New("pagespeed: unexpected status 400: bad url")}}
	bw := &fakeBuiltWith{err: context.DeadlineExceeded}
	wh := &fakeWhois{}
	r, _ := newProbeTestRunnerCfg(t, quota.DefaultLimits(), RunnerConfig{
		PageSpeed: ps, BuiltWith: bw, Whois: wh,
	})

	rec, results, err := r.Analyze(context.Background(), "cust-1", "https://acme.example",
		[]string{"performance", "tech_stack", "domain"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("results: %+v", results)
	}
	if results["performance"].Success || results["performance"].Err == "" {
		t.Errorf("performance should fail: %+v", results["performance"])
	}
	if results["tech_stack"].Success || results["tech_stack"].Err == "" {
		t.Errorf("tech_stack should fail: %+v", results["tech_stack"])
	}
	if !results["domain"].Success {
		t.Errorf("domain should succeed: %+v", results["domain"])
	}

	if rec.Domain == nil || rec.Domain.Registrar != "Example Registrar" {
		t.Errorf("domain group: %+v", rec.Domain)
	}
	if rec.Performance != nil || rec.TechStack != nil {
		t.Error("failed probes must leave their groups nil")
	}
	if rec.SSL != nil || rec.SEO != nil || rec.Responsive != nil ||
		rec.Crawl != nil || rec.Screenshots != nil || rec.Social != nil {
		t.Error("unrequested probes must leave their groups nil")
	}
}

func TestAnalyze_RejectsInvalidURL(t *testing.T) {
	r, _ := newProbeTestRunner(t, quota.DefaultLimits(), nil)

	_, _, err := r.Analyze(context.Background(), "cust-1", "http://169.254.169.254/", nil)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errorIsAny(err, urlcheck.ErrBlockedHost, urlcheck.ErrInvalidURL) {
		t.Errorf("unexpected error: %v", err)
	}
}

func errorIsAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
