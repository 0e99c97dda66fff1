package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycrm/enrich-core/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// --- Quotas ---

func TestSQLite_GetQuota_LazyCreate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	q, err := st.GetQuota(ctx, "pagespeed", model.DefaultPageSpeedLimit)
	require.NoError(t, err)
	assert.Equal(t, "pagespeed", q.Service)
	assert.Equal(t, 0, q.Used)
	assert.Equal(t, model.DefaultPageSpeedLimit, q.Limit)
	assert.Equal(t, model.DefaultAlertThreshold, q.AlertThreshold)
	assert.NotEmpty(t, q.ID)

	// Second read returns the same record, not a new one.
	q2, err := st.GetQuota(ctx, "pagespeed", 1)
	require.NoError(t, err)
	assert.Equal(t, q.ID, q2.ID)
	assert.Equal(t, model.DefaultPageSpeedLimit, q2.Limit)
}

func TestSQLite_IncrementQuotaUsage_Allowed(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetQuota(ctx, "serpapi", 3)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ok, err := st.IncrementQuotaUsage(ctx, "serpapi", 1)
		require.NoError(t, err)
		assert.True(t, ok, "increment %d should succeed", i+1)
	}

	q, err := st.GetQuota(ctx, "serpapi", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, q.Used)
}

func TestSQLite_IncrementQuotaUsage_RefusedAtLimit(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetQuota(ctx, "screenshots", 2)
	require.NoError(t, err)

	ok, err := st.IncrementQuotaUsage(ctx, "screenshots", 2)
	require.NoError(t, err)
	assert.True(t, ok)

	// At the limit: the conditional update must refuse without mutating.
	ok, err = st.IncrementQuotaUsage(ctx, "screenshots", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	q, err := st.GetQuota(ctx, "screenshots", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, q.Used)
}

func TestSQLite_IncrementQuotaUsage_UnknownService(t *testing.T) {
	st := newTestSQLiteStore(t)

	ok, err := st.IncrementQuotaUsage(context.Background(), "never-created", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLite_ResetQuota_ArchivesAndZeroes(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetQuota(ctx, "builtwith", 166)
	require.NoError(t, err)
	_, err = st.IncrementQuotaUsage(ctx, "builtwith", 5)
	require.NoError(t, err)
	require.NoError(t, st.RecordQuotaOutcome(ctx, "builtwith", true, "", time.Now()))
	require.NoError(t, st.RecordQuotaOutcome(ctx, "builtwith", false, "boom", time.Now()))
	require.NoError(t, st.MarkQuotaAlerted(ctx, "builtwith"))

	resetAt := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.ResetQuota(ctx, "builtwith", resetAt))

	q, err := st.GetQuota(ctx, "builtwith", 166)
	require.NoError(t, err)
	assert.Equal(t, 0, q.Used)
	assert.Equal(t, 0, q.SuccessCount)
	assert.Equal(t, 0, q.ErrorCount)
	assert.Empty(t, q.LastError)
	assert.False(t, q.AlertSent)
	assert.Equal(t, resetAt, q.LastReset.UTC())

	hist, err := st.QuotaHistory(ctx, "builtwith", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, 5, hist[0].Used)
	assert.Equal(t, 1, hist[0].SuccessCount)
	assert.Equal(t, 1, hist[0].ErrorCount)
}

func TestSQLite_ResetQuota_SameDayUpserts(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetQuota(ctx, "whois", 100)
	require.NoError(t, err)
	_, err = st.IncrementQuotaUsage(ctx, "whois", 2)
	require.NoError(t, err)
	require.NoError(t, st.ResetQuota(ctx, "whois", time.Now().UTC()))

	_, err = st.IncrementQuotaUsage(ctx, "whois", 7)
	require.NoError(t, err)
	require.NoError(t, st.ResetQuota(ctx, "whois", time.Now().UTC()))

	hist, err := st.QuotaHistory(ctx, "whois", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, 7, hist[0].Used)
}

func TestSQLite_ResetQuota_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.ResetQuota(context.Background(), "ghost", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_ListQuotas(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetQuota(ctx, "serpapi", 3)
	require.NoError(t, err)
	_, err = st.GetQuota(ctx, "pagespeed", 800)
	require.NoError(t, err)

	quotas, err := st.ListQuotas(ctx)
	require.NoError(t, err)
	require.Len(t, quotas, 2)
	assert.Equal(t, "pagespeed", quotas[0].Service)
	assert.Equal(t, "serpapi", quotas[1].Service)
}

// --- API keys ---

func TestSQLite_APIKey_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetAPIKey(ctx, "openai")
	assert.ErrorIs(t, err, ErrNotFound)

	rec := &model.APIKeyRecord{Provider: "openai", Secret: "sk-test-12345", Model: "gpt-4o", Enabled: true}
	require.NoError(t, st.UpsertAPIKey(ctx, rec))

	got, err := st.GetAPIKey(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-test-12345", got.Secret)
	assert.Equal(t, "gpt-4o", got.Model)
	assert.True(t, got.Enabled)
	assert.Nil(t, got.LastUsedAt)

	used := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	require.NoError(t, st.TouchAPIKey(ctx, "openai", used))

	got, err = st.GetAPIKey(ctx, "openai")
	require.NoError(t, err)
	require.NotNil(t, got.LastUsedAt)
	assert.Equal(t, used, got.LastUsedAt.UTC())
}

func TestSQLite_APIKey_UpsertReplaces(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertAPIKey(ctx, &model.APIKeyRecord{Provider: "gemini", Secret: "old", Enabled: true}))
	require.NoError(t, st.UpsertAPIKey(ctx, &model.APIKeyRecord{Provider: "gemini", Secret: "new", Enabled: false}))

	got, err := st.GetAPIKey(ctx, "gemini")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Secret)
	assert.False(t, got.Enabled)
}

// --- Enrichments ---

func TestSQLite_Enrichment_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := &model.EnrichmentRecord{
		CustomerID: "cust-1",
		Fields: map[string]model.FieldCandidate{
			"website":  {Value: "https://acme.example", Confidence: 0.9, Source: "serpapi"},
			"industry": {Value: "manufacturing", Confidence: 0.7, Source: "ai"},
		},
		FieldStatuses: map[string]model.FieldStatus{
			"website":  model.FieldPending,
			"industry": model.FieldPending,
		},
		Status: model.EnrichmentPending,
	}
	require.NoError(t, st.CreateEnrichment(ctx, rec))
	require.NotEmpty(t, rec.ID)

	got, err := st.GetEnrichment(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "cust-1", got.CustomerID)
	assert.Equal(t, rec.Fields, got.Fields)
	assert.Equal(t, model.FieldPending, got.FieldStatuses["website"])
	assert.Equal(t, model.EnrichmentPending, got.Status)
	assert.Nil(t, got.ReviewedAt)
}

func TestSQLite_Enrichment_ReviewUpdate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := &model.EnrichmentRecord{
		CustomerID:    "cust-2",
		Fields:        map[string]model.FieldCandidate{"website": {Value: "https://x.example", Source: "ai"}},
		FieldStatuses: map[string]model.FieldStatus{"website": model.FieldPending},
		Status:        model.EnrichmentPending,
	}
	require.NoError(t, st.CreateEnrichment(ctx, rec))

	now := time.Now().UTC()
	rec.FieldStatuses["website"] = model.FieldConfirmed
	rec.EditedValues = map[string]any{"website": "https://edited.example"}
	rec.Status = model.EnrichmentConfirmed
	rec.ReviewedAt = &now
	rec.ReviewedBy = "reviewer@acme"
	require.NoError(t, st.UpdateEnrichmentReview(ctx, rec))

	got, err := st.GetEnrichment(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FieldConfirmed, got.FieldStatuses["website"])
	assert.Equal(t, "https://edited.example", got.EditedValues["website"])
	assert.Equal(t, model.EnrichmentConfirmed, got.Status)
	assert.Equal(t, "reviewer@acme", got.ReviewedBy)
	require.NotNil(t, got.ReviewedAt)
}

func TestSQLite_Enrichment_ReviewMissing(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.UpdateEnrichmentReview(context.Background(), &model.EnrichmentRecord{
		ID:            "no-such-id",
		FieldStatuses: map[string]model.FieldStatus{},
		Status:        model.EnrichmentPending,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_LatestEnrichment_OrdersByCreation(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	old := &model.EnrichmentRecord{
		CustomerID:    "cust-3",
		Fields:        map[string]model.FieldCandidate{"a": {Value: "1"}},
		FieldStatuses: map[string]model.FieldStatus{"a": model.FieldPending},
		Status:        model.EnrichmentPending,
		CreatedAt:     time.Now().Add(-time.Hour),
	}
	newer := &model.EnrichmentRecord{
		CustomerID:    "cust-3",
		Fields:        map[string]model.FieldCandidate{"b": {Value: "2"}},
		FieldStatuses: map[string]model.FieldStatus{"b": model.FieldPending},
		Status:        model.EnrichmentPending,
	}
	require.NoError(t, st.CreateEnrichment(ctx, old))
	require.NoError(t, st.CreateEnrichment(ctx, newer))

	got, err := st.LatestEnrichment(ctx, "cust-3")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID)

	all, err := st.ListEnrichments(ctx, "cust-3", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// --- Website analyses ---

func TestSQLite_WebsiteAnalysis_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := &model.WebsiteAnalysisRecord{
		CustomerID: "cust-4",
		URL:        "https://acme.example",
		Responsive: &model.ResponsiveGroup{Responsive: true, Confidence: "high", SignalsDetected: 4},
		SEO:        &model.SEOGroup{Title: "Acme", Canonical: "https://acme.example/"},
	}
	require.NoError(t, st.SaveWebsiteAnalysis(ctx, rec))

	got, err := st.LatestWebsiteAnalysis(ctx, "cust-4")
	require.NoError(t, err)
	assert.Equal(t, "https://acme.example", got.URL)
	require.NotNil(t, got.Responsive)
	assert.True(t, got.Responsive.Responsive)
	assert.Equal(t, "high", got.Responsive.Confidence)
	require.NotNil(t, got.SEO)
	assert.Equal(t, "Acme", got.SEO.Title)
	assert.Nil(t, got.SSL)
}

func TestSQLite_WebsiteAnalysis_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.LatestWebsiteAnalysis(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- Customers ---

func TestSQLite_Customer_ApplyFields(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertCustomer(ctx, &model.Customer{ID: "cust-5", Name: "Acme Widgets"}))

	err := st.ApplyCustomerFields(ctx, "cust-5", map[string]any{
		"website":  "https://acme.example",
		"industry": "manufacturing",
	})
	require.NoError(t, err)

	got, err := st.GetCustomer(ctx, "cust-5")
	require.NoError(t, err)
	assert.Equal(t, "https://acme.example", got.Website)

	// A second apply merges rather than replaces.
	require.NoError(t, st.ApplyCustomerFields(ctx, "cust-5", map[string]any{"employees": "50"}))
	got, err = st.GetCustomer(ctx, "cust-5")
	require.NoError(t, err)
	assert.Equal(t, "https://acme.example", got.Website)
}

func TestSQLite_Customer_ApplyFieldsMissing(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.ApplyCustomerFields(context.Background(), "ghost", map[string]any{"a": "b"})
	assert.ErrorIs(t, err, ErrNotFound)
}
