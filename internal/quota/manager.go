// Package quota enforces daily request budgets for external services.
// Every quota decision reads through the store so concurrent processes
// sharing a database cannot overshoot a limit.
package quota

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/relaycrm/enrich-core/internal/model"
	"github.com/relaycrm/enrich-core/internal/store"
)

// ErrQuotaExceeded is returned when a service's daily budget is exhausted.
var ErrQuotaExceeded = eris.New("quota: daily limit reached")

// ErrUnknownService is returned for a service with no configured limit.
var ErrUnknownService = eris.New("quota: unknown service")

// maxErrorLen caps stored error messages so one verbose upstream failure
// does not bloat the quota row.
const maxErrorLen = 500

// statusCacheTTL bounds how stale a read-only status snapshot may be.
const statusCacheTTL = 60 * time.Second

// DefaultLimits maps each governed service to its daily budget.
func DefaultLimits() map[string]int {
	return map[string]int{
		"screenshots": model.DefaultScreenshotLimit,
		"pagespeed":   model.DefaultPageSpeedLimit,
		"serpapi":     model.DefaultSerpLimit,
		"builtwith":   model.DefaultBuiltWithLimit,
	}
}

type cachedStatus struct {
	status  model.QuotaStatus
	fetched time.Time
}

// Manager answers "can I call this service" and tracks consumption. All
// store failures are treated as quota exhaustion: when persistence is
// unreachable the manager denies rather than risking an overage.
type Manager struct {
	store  store.Store
	limits map[string]int

	mu    sync.Mutex
	cache map[string]cachedStatus

	nowFunc func() time.Time
}

// NewManager creates a Manager with the given per-service daily limits.
// Nil limits falls back to DefaultLimits.
func NewManager(st store.Store, limits map[string]int) *Manager {
	if limits == nil {
		limits = DefaultLimits()
	}
	return &Manager{
		store:   st,
		limits:  limits,
		cache:   make(map[string]cachedStatus),
		nowFunc: time.Now,
	}
}

// Status returns the current quota state for a service, serving from a
// short-lived cache. The cache only serves reads; Consume always goes to
// the store.
func (m *Manager) Status(ctx context.Context, service string) (*model.QuotaStatus, error) {
	m.mu.Lock()
	if c, ok := m.cache[service]; ok && m.nowFunc().Sub(c.fetched) < statusCacheTTL {
		st := c.status
		m.mu.Unlock()
		return &st, nil
	}
	m.mu.Unlock()

	q, err := m.currentQuota(ctx, service)
	if err != nil {
		return nil, err
	}

	st := model.QuotaStatus{
		Service: service,
		Allowed: q.Used < q.Limit,
		Used:    q.Used,
		Limit:   q.Limit,
		ResetIn: untilNextMidnightUTC(m.nowFunc()),
	}

	m.mu.Lock()
	m.cache[service] = cachedStatus{status: st, fetched: m.nowFunc()}
	m.mu.Unlock()

	out := st
	return &out, nil
}

// Consume reserves one unit of the service's daily budget. It returns
// ErrQuotaExceeded when the budget is exhausted and wraps store failures,
// which callers must treat as a denial.
func (m *Manager) Consume(ctx context.Context, service string) error {
	if _, err := m.currentQuota(ctx, service); err != nil {
		return err
	}

	ok, err := m.store.IncrementQuotaUsage(ctx, service, 1)
	if err != nil {
		return eris.Wrapf(err, "quota: consume %s", service)
	}
	m.invalidate(service)
	if !ok {
		zap.L().Warn("quota exhausted", zap.String("service", service))
		return ErrQuotaExceeded
	}
	return nil
}

// RecordSuccess increments the service's success counter.
func (m *Manager) RecordSuccess(ctx context.Context, service string) {
	if err := m.store.RecordQuotaOutcome(ctx, service, true, "", m.nowFunc()); err != nil {
		zap.L().Warn("quota: record success failed", zap.String("service", service), zap.Error(err))
	}
	m.invalidate(service)
}

// RecordError increments the error counter and stores a truncated message.
func (m *Manager) RecordError(ctx context.Context, service string, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	if err := m.store.RecordQuotaOutcome(ctx, service, false, msg, m.nowFunc()); err != nil {
		zap.L().Warn("quota: record error failed", zap.String("service", service), zap.Error(err))
	}
	m.invalidate(service)
}

// CheckAlerts scans all quotas and marks any that crossed their alert
// threshold, returning the services alerted this pass. Each quota alerts at
// most once per day; rollover clears the flag.
func (m *Manager) CheckAlerts(ctx context.Context) ([]string, error) {
	quotas, err := m.store.ListQuotas(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "quota: list for alerts")
	}

	var alerted []string
	for _, q := range quotas {
		if q.AlertSent || q.UsagePercent() < float64(q.AlertThreshold) {
			continue
		}
		zap.L().Warn("quota usage above alert threshold",
			zap.String("service", q.Service),
			zap.Int("used", q.Used),
			zap.Int("limit", q.Limit),
			zap.Float64("percent", q.UsagePercent()))
		if err := m.store.MarkQuotaAlerted(ctx, q.Service); err != nil {
			return alerted, eris.Wrapf(err, "quota: mark alerted %s", q.Service)
		}
		alerted = append(alerted, q.Service)
	}
	return alerted, nil
}

// List returns all quota records, rolling over any stale ones first.
func (m *Manager) List(ctx context.Context) ([]model.QuotaRecord, error) {
	for service := range m.limits {
		if _, err := m.currentQuota(ctx, service); err != nil {
			return nil, err
		}
	}
	return m.store.ListQuotas(ctx)
}

// History returns archived daily counters for a service, newest first.
func (m *Manager) History(ctx context.Context, service string, limit int) ([]model.QuotaHistoryEntry, error) {
	return m.store.QuotaHistory(ctx, service, limit)
}

// Reset forcibly rolls a service's quota over right now.
func (m *Manager) Reset(ctx context.Context, service string) error {
	if err := m.store.ResetQuota(ctx, service, m.nowFunc().UTC()); err != nil {
		return eris.Wrapf(err, "quota: reset %s", service)
	}
	m.invalidate(service)
	return nil
}

// currentQuota loads the record, lazily creating it and performing the
// daily rollover when the stored period is older than today (UTC).
func (m *Manager) currentQuota(ctx context.Context, service string) (*model.QuotaRecord, error) {
	limit, ok := m.limits[service]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownService, "%s", service)
	}

	q, err := m.store.GetQuota(ctx, service, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "quota: load %s", service)
	}

	now := m.nowFunc().UTC()
	if sameUTCDay(q.LastReset, now) {
		return q, nil
	}

	zap.L().Info("quota rollover",
		zap.String("service", service),
		zap.Time("last_reset", q.LastReset),
		zap.Int("used", q.Used))
	if err := m.store.ResetQuota(ctx, service, now); err != nil {
		return nil, eris.Wrapf(err, "quota: rollover %s", service)
	}
	m.invalidate(service)

	q, err = m.store.GetQuota(ctx, service, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "quota: reload %s", service)
	}
	return q, nil
}

func (m *Manager) invalidate(service string) {
	m.mu.Lock()
	delete(m.cache, service)
	m.mu.Unlock()
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func untilNextMidnightUTC(now time.Time) time.Duration {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return next.Sub(now)
}
