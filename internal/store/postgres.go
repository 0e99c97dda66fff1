package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/relaycrm/enrich-core/internal/model"
)

// PostgresStore implements Store using pgxpool, for deployments where the
// quota counter must be shared between the CRM web app and this engine.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS quotas (
	id              TEXT PRIMARY KEY,
	service         TEXT NOT NULL UNIQUE,
	used            INTEGER NOT NULL DEFAULT 0,
	daily_limit     INTEGER NOT NULL,
	last_reset      TIMESTAMPTZ NOT NULL,
	success_count   INTEGER NOT NULL DEFAULT 0,
	error_count     INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT,
	last_error_at   TIMESTAMPTZ,
	alert_threshold INTEGER NOT NULL DEFAULT 80,
	alert_sent      BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS quota_history (
	id            TEXT PRIMARY KEY,
	quota_id      TEXT NOT NULL REFERENCES quotas(id),
	service       TEXT NOT NULL,
	date          DATE NOT NULL,
	used          INTEGER NOT NULL,
	success_count INTEGER NOT NULL,
	error_count   INTEGER NOT NULL,
	UNIQUE (quota_id, date)
);

CREATE TABLE IF NOT EXISTS api_keys (
	provider     TEXT PRIMARY KEY,
	secret       TEXT NOT NULL,
	model        TEXT,
	enabled      BOOLEAN NOT NULL DEFAULT TRUE,
	last_used_at TIMESTAMPTZ,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS enrichments (
	id             TEXT PRIMARY KEY,
	customer_id    TEXT NOT NULL,
	fields         JSONB NOT NULL,
	field_statuses JSONB NOT NULL,
	edited_values  JSONB,
	status         TEXT NOT NULL DEFAULT 'pending',
	reviewed_at    TIMESTAMPTZ,
	reviewed_by    TEXT,
	created_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS website_analyses (
	id          TEXT PRIMARY KEY,
	customer_id TEXT NOT NULL,
	url         TEXT NOT NULL,
	payload     JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS customers (
	id       TEXT PRIMARY KEY,
	name     TEXT NOT NULL,
	website  TEXT,
	city     TEXT,
	region   TEXT,
	country  TEXT,
	enriched JSONB
);

CREATE INDEX IF NOT EXISTS idx_quota_history_service ON quota_history(service, date);
CREATE INDEX IF NOT EXISTS idx_enrichments_customer ON enrichments(customer_id, created_at);
CREATE INDEX IF NOT EXISTS idx_analyses_customer ON website_analyses(customer_id, created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// quotas

const pgQuotaCols = `id, service, used, daily_limit, last_reset, success_count, error_count,
	last_error, last_error_at, alert_threshold, alert_sent`

func (s *PostgresStore) GetQuota(ctx context.Context, service string, defaultLimit int) (*model.QuotaRecord, error) {
	q, err := s.scanQuota(ctx, service)
	if err == nil {
		return q, nil
	}
	if !eris.Is(err, ErrNotFound) {
		return nil, err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO quotas (id, service, used, daily_limit, last_reset, alert_threshold)
		 VALUES ($1, $2, 0, $3, $4, $5)
		 ON CONFLICT (service) DO NOTHING`,
		uuid.New().String(), service, defaultLimit, time.Now().UTC(), model.DefaultAlertThreshold)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: create quota %s", service)
	}
	return s.scanQuota(ctx, service)
}

func (s *PostgresStore) scanQuota(ctx context.Context, service string) (*model.QuotaRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgQuotaCols+` FROM quotas WHERE service = $1`, service)

	var q model.QuotaRecord
	var lastErr *string
	var lastErrAt *time.Time
	err := row.Scan(&q.ID, &q.Service, &q.Used, &q.Limit, &q.LastReset,
		&q.SuccessCount, &q.ErrorCount, &lastErr, &lastErrAt, &q.AlertThreshold, &q.AlertSent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: scan quota %s", service)
	}
	if lastErr != nil {
		q.LastError = *lastErr
	}
	q.LastErrorAt = lastErrAt
	return &q, nil
}

func (s *PostgresStore) IncrementQuotaUsage(ctx context.Context, service string, amount int) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE quotas SET used = used + $1 WHERE service = $2 AND used + $1 <= daily_limit`,
		amount, service)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: increment quota %s", service)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ResetQuota(ctx context.Context, service string, resetAt time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin reset")
	}
	defer tx.Rollback(ctx)

	var id string
	var used, successes, failures int
	var lastReset time.Time
	err = tx.QueryRow(ctx,
		`SELECT id, used, success_count, error_count, last_reset FROM quotas WHERE service = $1 FOR UPDATE`,
		service,
	).Scan(&id, &used, &successes, &failures, &lastReset)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: read quota for reset %s", service)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO quota_history (id, quota_id, service, date, used, success_count, error_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (quota_id, date) DO UPDATE SET
		   used = EXCLUDED.used, success_count = EXCLUDED.success_count, error_count = EXCLUDED.error_count`,
		uuid.New().String(), id, service, lastReset.UTC().Truncate(24*time.Hour), used, successes, failures)
	if err != nil {
		return eris.Wrapf(err, "postgres: archive quota %s", service)
	}

	_, err = tx.Exec(ctx,
		`UPDATE quotas SET used = 0, success_count = 0, error_count = 0,
		   last_error = NULL, last_error_at = NULL, alert_sent = FALSE, last_reset = $1
		 WHERE id = $2`,
		resetAt.UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: zero quota %s", service)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit reset")
}

func (s *PostgresStore) RecordQuotaOutcome(ctx context.Context, service string, success bool, message string, at time.Time) error {
	var err error
	if success {
		_, err = s.pool.Exec(ctx,
			`UPDATE quotas SET success_count = success_count + 1 WHERE service = $1`, service)
	} else {
		_, err = s.pool.Exec(ctx,
			`UPDATE quotas SET error_count = error_count + 1, last_error = $1, last_error_at = $2 WHERE service = $3`,
			message, at.UTC(), service)
	}
	return eris.Wrapf(err, "postgres: record outcome %s", service)
}

func (s *PostgresStore) MarkQuotaAlerted(ctx context.Context, service string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE quotas SET alert_sent = TRUE WHERE service = $1`, service)
	return eris.Wrapf(err, "postgres: mark alerted %s", service)
}

func (s *PostgresStore) ListQuotas(ctx context.Context) ([]model.QuotaRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgQuotaCols+` FROM quotas ORDER BY service`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list quotas")
	}
	defer rows.Close()

	var out []model.QuotaRecord
	for rows.Next() {
		var q model.QuotaRecord
		var lastErr *string
		var lastErrAt *time.Time
		if err := rows.Scan(&q.ID, &q.Service, &q.Used, &q.Limit, &q.LastReset,
			&q.SuccessCount, &q.ErrorCount, &lastErr, &lastErrAt, &q.AlertThreshold, &q.AlertSent); err != nil {
			return nil, eris.Wrap(err, "postgres: scan quota row")
		}
		if lastErr != nil {
			q.LastError = *lastErr
		}
		q.LastErrorAt = lastErrAt
		out = append(out, q)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list quotas iterate")
}

func (s *PostgresStore) QuotaHistory(ctx context.Context, service string, limit int) ([]model.QuotaHistoryEntry, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, quota_id, service, date, used, success_count, error_count
		 FROM quota_history WHERE service = $1 ORDER BY date DESC LIMIT $2`,
		service, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: quota history %s", service)
	}
	defer rows.Close()

	var out []model.QuotaHistoryEntry
	for rows.Next() {
		var e model.QuotaHistoryEntry
		if err := rows.Scan(&e.ID, &e.QuotaID, &e.Service, &e.Date, &e.Used, &e.SuccessCount, &e.ErrorCount); err != nil {
			return nil, eris.Wrap(err, "postgres: scan history row")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: quota history iterate")
}

// api keys

func (s *PostgresStore) GetAPIKey(ctx context.Context, provider string) (*model.APIKeyRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT provider, secret, model, enabled, last_used_at, updated_at FROM api_keys WHERE provider = $1`,
		provider)

	var rec model.APIKeyRecord
	var mdl *string
	err := row.Scan(&rec.Provider, &rec.Secret, &mdl, &rec.Enabled, &rec.LastUsedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get api key %s", provider)
	}
	if mdl != nil {
		rec.Model = *mdl
	}
	return &rec, nil
}

func (s *PostgresStore) UpsertAPIKey(ctx context.Context, rec *model.APIKeyRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (provider, secret, model, enabled, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (provider) DO UPDATE SET
		   secret = EXCLUDED.secret, model = EXCLUDED.model,
		   enabled = EXCLUDED.enabled, updated_at = EXCLUDED.updated_at`,
		rec.Provider, rec.Secret, rec.Model, rec.Enabled, time.Now().UTC())
	return eris.Wrapf(err, "postgres: upsert api key %s", rec.Provider)
}

func (s *PostgresStore) TouchAPIKey(ctx context.Context, provider string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = $1 WHERE provider = $2`, at.UTC(), provider)
	return eris.Wrapf(err, "postgres: touch api key %s", provider)
}

// enrichments

func (s *PostgresStore) CreateEnrichment(ctx context.Context, rec *model.EnrichmentRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal fields")
	}
	statusesJSON, err := json.Marshal(rec.FieldStatuses)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal field statuses")
	}
	editedJSON, err := json.Marshal(rec.EditedValues)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal edited values")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO enrichments (id, customer_id, fields, field_statuses, edited_values, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.CustomerID, fieldsJSON, statusesJSON, editedJSON, string(rec.Status), rec.CreatedAt)
	return eris.Wrap(err, "postgres: insert enrichment")
}

const pgEnrichmentCols = `id, customer_id, fields, field_statuses, edited_values, status, reviewed_at, reviewed_by, created_at`

func (s *PostgresStore) GetEnrichment(ctx context.Context, id string) (*model.EnrichmentRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgEnrichmentCols+` FROM enrichments WHERE id = $1`, id)
	return scanPgEnrichment(row)
}

func (s *PostgresStore) LatestEnrichment(ctx context.Context, customerID string) (*model.EnrichmentRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgEnrichmentCols+` FROM enrichments
		 WHERE customer_id = $1 ORDER BY created_at DESC LIMIT 1`, customerID)
	return scanPgEnrichment(row)
}

func (s *PostgresStore) ListEnrichments(ctx context.Context, customerID string, limit int) ([]model.EnrichmentRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgEnrichmentCols+` FROM enrichments
		 WHERE customer_id = $1 ORDER BY created_at DESC LIMIT $2`, customerID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list enrichments")
	}
	defer rows.Close()

	var out []model.EnrichmentRecord
	for rows.Next() {
		r, err := scanPgEnrichment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list enrichments iterate")
}

func (s *PostgresStore) UpdateEnrichmentReview(ctx context.Context, rec *model.EnrichmentRecord) error {
	statusesJSON, err := json.Marshal(rec.FieldStatuses)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal field statuses")
	}
	editedJSON, err := json.Marshal(rec.EditedValues)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal edited values")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE enrichments SET field_statuses = $1, edited_values = $2, status = $3, reviewed_at = $4, reviewed_by = $5
		 WHERE id = $6`,
		statusesJSON, editedJSON, string(rec.Status), rec.ReviewedAt, rec.ReviewedBy, rec.ID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update enrichment review %s", rec.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("enrichment not found: %s", rec.ID)
	}
	return nil
}

// website analyses

func (s *PostgresStore) SaveWebsiteAnalysis(ctx context.Context, rec *model.WebsiteAnalysisRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal analysis")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO website_analyses (id, customer_id, url, payload, created_at) VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.CustomerID, rec.URL, payload, rec.CreatedAt)
	return eris.Wrap(err, "postgres: insert analysis")
}

func (s *PostgresStore) LatestWebsiteAnalysis(ctx context.Context, customerID string) (*model.WebsiteAnalysisRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT payload FROM website_analyses WHERE customer_id = $1 ORDER BY created_at DESC LIMIT 1`,
		customerID)

	var payload []byte
	err := row.Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get analysis")
	}
	var rec model.WebsiteAnalysisRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal analysis")
	}
	return &rec, nil
}

// customers

func (s *PostgresStore) GetCustomer(ctx context.Context, id string) (*model.Customer, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, website, city, region, country FROM customers WHERE id = $1`, id)

	var c model.Customer
	var website, city, region, country *string
	err := row.Scan(&c.ID, &c.Name, &website, &city, &region, &country)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get customer %s", id)
	}
	if website != nil {
		c.Website = *website
	}
	if city != nil {
		c.City = *city
	}
	if region != nil {
		c.Region = *region
	}
	if country != nil {
		c.Country = *country
	}
	return &c, nil
}

func (s *PostgresStore) UpsertCustomer(ctx context.Context, c *model.Customer) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO customers (id, name, website, city, region, country)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name, website = EXCLUDED.website,
		   city = EXCLUDED.city, region = EXCLUDED.region, country = EXCLUDED.country`,
		c.ID, c.Name, c.Website, c.City, c.Region, c.Country)
	return eris.Wrapf(err, "postgres: upsert customer %s", c.ID)
}

func (s *PostgresStore) ApplyCustomerFields(ctx context.Context, id string, fields map[string]any) error {
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal customer fields")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE customers SET
		   enriched = COALESCE(enriched, '{}'::jsonb) || $1::jsonb,
		   website = COALESCE(NULLIF($2, ''), website)
		 WHERE id = $3`,
		fieldsJSON, stringField(fields, "website"), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: apply customer fields %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func stringField(fields map[string]any, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

func scanPgEnrichment(row pgx.Row) (*model.EnrichmentRecord, error) {
	var r model.EnrichmentRecord
	var fieldsJSON, statusesJSON, editedJSON []byte
	var reviewedBy *string

	err := row.Scan(&r.ID, &r.CustomerID, &fieldsJSON, &statusesJSON, &editedJSON,
		&r.Status, &r.ReviewedAt, &reviewedBy, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan enrichment")
	}

	if err := json.Unmarshal(fieldsJSON, &r.Fields); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal fields")
	}
	if err := json.Unmarshal(statusesJSON, &r.FieldStatuses); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal field statuses")
	}
	if len(editedJSON) > 0 && string(editedJSON) != "null" {
		if err := json.Unmarshal(editedJSON, &r.EditedValues); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal edited values")
		}
	}
	if reviewedBy != nil {
		r.ReviewedBy = *reviewedBy
	}
	return &r, nil
}
