package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycrm/enrich-core/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

func TestPostgresStore_IncrementQuotaUsage_Allowed(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE quotas SET used = used \+ \$1 WHERE service = \$2 AND used \+ \$1 <= daily_limit`).
		WithArgs(1, "pagespeed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := s.IncrementQuotaUsage(context.Background(), "pagespeed", 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementQuotaUsage_Refused(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// Zero rows affected means the limit check failed inside the UPDATE.
	mock.ExpectExec(`UPDATE quotas SET used = used \+ \$1`).
		WithArgs(1, "serpapi").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.IncrementQuotaUsage(context.Background(), "serpapi", 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetQuota_Existing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	reset := time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{
		"id", "service", "used", "daily_limit", "last_reset", "success_count",
		"error_count", "last_error", "last_error_at", "alert_threshold", "alert_sent",
	}).AddRow("q-1", "screenshots", 10, 33, reset, 8, 2, nil, nil, 80, false)

	mock.ExpectQuery(`SELECT .+ FROM quotas WHERE service = \$1`).
		WithArgs("screenshots").
		WillReturnRows(rows)

	q, err := s.GetQuota(context.Background(), "screenshots", 33)
	require.NoError(t, err)
	assert.Equal(t, 10, q.Used)
	assert.Equal(t, 33, q.Limit)
	assert.Empty(t, q.LastError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetQuota_LazyCreate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM quotas WHERE service = \$1`).
		WithArgs("builtwith").
		WillReturnError(pgx.ErrNoRows)

	mock.ExpectExec(`INSERT INTO quotas .+ ON CONFLICT \(service\) DO NOTHING`).
		WithArgs(pgxmock.AnyArg(), "builtwith", 166, pgxmock.AnyArg(), 80).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	reset := time.Now().UTC()
	rows := pgxmock.NewRows([]string{
		"id", "service", "used", "daily_limit", "last_reset", "success_count",
		"error_count", "last_error", "last_error_at", "alert_threshold", "alert_sent",
	}).AddRow("q-2", "builtwith", 0, 166, reset, 0, 0, nil, nil, 80, false)

	mock.ExpectQuery(`SELECT .+ FROM quotas WHERE service = \$1`).
		WithArgs("builtwith").
		WillReturnRows(rows)

	q, err := s.GetQuota(context.Background(), "builtwith", 166)
	require.NoError(t, err)
	assert.Equal(t, 166, q.Limit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResetQuota_Transaction(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	lastReset := time.Date(2026, 8, 22, 0, 0, 0, 0, time.UTC)
	resetAt := time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, used, success_count, error_count, last_reset FROM quotas WHERE service = \$1 FOR UPDATE`).
		WithArgs("pagespeed").
		WillReturnRows(pgxmock.NewRows([]string{"id", "used", "success_count", "error_count", "last_reset"}).
			AddRow("q-1", 42, 40, 2, lastReset))
	mock.ExpectExec(`INSERT INTO quota_history .+ ON CONFLICT \(quota_id, date\) DO UPDATE`).
		WithArgs(pgxmock.AnyArg(), "q-1", "pagespeed", pgxmock.AnyArg(), 42, 40, 2).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE quotas SET used = 0`).
		WithArgs(resetAt, "q-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	err := s.ResetQuota(context.Background(), "pagespeed", resetAt)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResetQuota_Missing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, used, success_count, error_count, last_reset FROM quotas`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := s.ResetQuota(context.Background(), "ghost", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAPIKey_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT provider, secret, model, enabled, last_used_at, updated_at FROM api_keys`).
		WithArgs("anthropic").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetAPIKey(context.Background(), "anthropic")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertAPIKey(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO api_keys .+ ON CONFLICT \(provider\) DO UPDATE`).
		WithArgs("openai", "sk-test", "gpt-4o", true, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertAPIKey(context.Background(), &model.APIKeyRecord{
		Provider: "openai", Secret: "sk-test", Model: "gpt-4o", Enabled: true,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateEnrichmentReview_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE enrichments SET field_statuses`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "pending", pgxmock.AnyArg(), pgxmock.AnyArg(), "no-such-id").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateEnrichmentReview(context.Background(), &model.EnrichmentRecord{
		ID:            "no-such-id",
		FieldStatuses: map[string]model.FieldStatus{},
		Status:        model.EnrichmentPending,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyCustomerFields_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE customers SET`).
		WithArgs(pgxmock.AnyArg(), "", "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.ApplyCustomerFields(context.Background(), "ghost", map[string]any{"industry": 1})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
