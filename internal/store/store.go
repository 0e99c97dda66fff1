// Package store persists quota, API key, enrichment, and website analysis
// records behind a single interface with SQLite and Postgres backends.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/relaycrm/enrich-core/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = eris.New("store: record not found")

// Pool is the subset of pgxpool.Pool the Postgres store uses. pgxmock
// satisfies it for tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store defines the persistence contract for the enrichment core.
type Store interface {
	// Quotas. GetQuota lazily creates the record with the given limit on
	// first access. IncrementQuotaUsage is a single atomic operation that
	// refuses (returns false) when the increment would exceed the limit.
	// ResetQuota archives the current counters into history under the
	// previous period's date and zeroes them in one transaction.
	GetQuota(ctx context.Context, service string, defaultLimit int) (*model.QuotaRecord, error)
	IncrementQuotaUsage(ctx context.Context, service string, amount int) (bool, error)
	ResetQuota(ctx context.Context, service string, resetAt time.Time) error
	RecordQuotaOutcome(ctx context.Context, service string, success bool, message string, at time.Time) error
	MarkQuotaAlerted(ctx context.Context, service string) error
	ListQuotas(ctx context.Context) ([]model.QuotaRecord, error)
	QuotaHistory(ctx context.Context, service string, limit int) ([]model.QuotaHistoryEntry, error)

	// API keys. GetAPIKey returns ErrNotFound when no record exists for the
	// provider; callers fall back to environment-sourced keys.
	GetAPIKey(ctx context.Context, provider string) (*model.APIKeyRecord, error)
	UpsertAPIKey(ctx context.Context, rec *model.APIKeyRecord) error
	TouchAPIKey(ctx context.Context, provider string, at time.Time) error

	// Enrichment records are append-only; UpdateEnrichmentReview mutates
	// review state only.
	CreateEnrichment(ctx context.Context, rec *model.EnrichmentRecord) error
	GetEnrichment(ctx context.Context, id string) (*model.EnrichmentRecord, error)
	LatestEnrichment(ctx context.Context, customerID string) (*model.EnrichmentRecord, error)
	ListEnrichments(ctx context.Context, customerID string, limit int) ([]model.EnrichmentRecord, error)
	UpdateEnrichmentReview(ctx context.Context, rec *model.EnrichmentRecord) error

	// Website analyses
	SaveWebsiteAnalysis(ctx context.Context, rec *model.WebsiteAnalysisRecord) error
	LatestWebsiteAnalysis(ctx context.Context, customerID string) (*model.WebsiteAnalysisRecord, error)

	// Customers
	GetCustomer(ctx context.Context, id string) (*model.Customer, error)
	UpsertCustomer(ctx context.Context, c *model.Customer) error
	ApplyCustomerFields(ctx context.Context, id string, fields map[string]any) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
