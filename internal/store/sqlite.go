package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/relaycrm/enrich-core/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the default
// backend for single-process deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS quotas (
	id              TEXT PRIMARY KEY,
	service         TEXT NOT NULL UNIQUE,
	used            INTEGER NOT NULL DEFAULT 0,
	daily_limit     INTEGER NOT NULL,
	last_reset      DATETIME NOT NULL,
	success_count   INTEGER NOT NULL DEFAULT 0,
	error_count     INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT,
	last_error_at   DATETIME,
	alert_threshold INTEGER NOT NULL DEFAULT 80,
	alert_sent      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS quota_history (
	id            TEXT PRIMARY KEY,
	quota_id      TEXT NOT NULL REFERENCES quotas(id),
	service       TEXT NOT NULL,
	date          TEXT NOT NULL,
	used          INTEGER NOT NULL,
	success_count INTEGER NOT NULL,
	error_count   INTEGER NOT NULL,
	UNIQUE (quota_id, date)
);

CREATE TABLE IF NOT EXISTS api_keys (
	provider     TEXT PRIMARY KEY,
	secret       TEXT NOT NULL,
	model        TEXT,
	enabled      INTEGER NOT NULL DEFAULT 1,
	last_used_at DATETIME,
	updated_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS enrichments (
	id             TEXT PRIMARY KEY,
	customer_id    TEXT NOT NULL,
	fields         TEXT NOT NULL,
	field_statuses TEXT NOT NULL,
	edited_values  TEXT,
	status         TEXT NOT NULL DEFAULT 'pending',
	reviewed_at    DATETIME,
	reviewed_by    TEXT,
	created_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS website_analyses (
	id          TEXT PRIMARY KEY,
	customer_id TEXT NOT NULL,
	url         TEXT NOT NULL,
	payload     TEXT NOT NULL,
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS customers (
	id       TEXT PRIMARY KEY,
	name     TEXT NOT NULL,
	website  TEXT,
	city     TEXT,
	region   TEXT,
	country  TEXT,
	enriched TEXT
);

CREATE INDEX IF NOT EXISTS idx_quota_history_service ON quota_history(service, date);
CREATE INDEX IF NOT EXISTS idx_enrichments_customer ON enrichments(customer_id, created_at);
CREATE INDEX IF NOT EXISTS idx_analyses_customer ON website_analyses(customer_id, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// quotas

func (s *SQLiteStore) GetQuota(ctx context.Context, service string, defaultLimit int) (*model.QuotaRecord, error) {
	q, err := s.scanQuota(ctx, service)
	if err == nil {
		return q, nil
	}
	if !eris.Is(err, ErrNotFound) {
		return nil, err
	}

	// Lazy create on first access. A concurrent insert loses the race
	// harmlessly: ON CONFLICT leaves the winner's row in place.
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO quotas (id, service, used, daily_limit, last_reset, alert_threshold)
		 VALUES (?, ?, 0, ?, ?, ?)
		 ON CONFLICT (service) DO NOTHING`,
		uuid.New().String(), service, defaultLimit, now, model.DefaultAlertThreshold,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: create quota %s", service)
	}
	return s.scanQuota(ctx, service)
}

func (s *SQLiteStore) scanQuota(ctx context.Context, service string) (*model.QuotaRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, service, used, daily_limit, last_reset, success_count, error_count,
		        last_error, last_error_at, alert_threshold, alert_sent
		 FROM quotas WHERE service = ?`, service)

	var q model.QuotaRecord
	var lastErr sql.NullString
	var lastErrAt sql.NullTime
	err := row.Scan(&q.ID, &q.Service, &q.Used, &q.Limit, &q.LastReset,
		&q.SuccessCount, &q.ErrorCount, &lastErr, &lastErrAt, &q.AlertThreshold, &q.AlertSent)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: scan quota %s", service)
	}
	if lastErr.Valid {
		q.LastError = lastErr.String
	}
	if lastErrAt.Valid {
		t := lastErrAt.Time
		q.LastErrorAt = &t
	}
	return &q, nil
}

func (s *SQLiteStore) IncrementQuotaUsage(ctx context.Context, service string, amount int) (bool, error) {
	// Single conditional UPDATE: the check and increment are one statement,
	// so concurrent increments cannot overshoot the limit.
	res, err := s.db.ExecContext(ctx,
		`UPDATE quotas SET used = used + ? WHERE service = ? AND used + ? <= daily_limit`,
		amount, service, amount,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: increment quota %s", service)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) ResetQuota(ctx context.Context, service string, resetAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin reset")
	}
	defer tx.Rollback()

	var id string
	var used, successes, failures int
	var lastReset time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT id, used, success_count, error_count, last_reset FROM quotas WHERE service = ?`,
		service,
	).Scan(&id, &used, &successes, &failures, &lastReset)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: read quota for reset %s", service)
	}

	// Archive the pre-reset snapshot under the day being closed out.
	_, err = tx.ExecContext(ctx,
		`INSERT INTO quota_history (id, quota_id, service, date, used, success_count, error_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (quota_id, date) DO UPDATE SET
		   used = excluded.used, success_count = excluded.success_count, error_count = excluded.error_count`,
		uuid.New().String(), id, service, lastReset.UTC().Format("2006-01-02"), used, successes, failures,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: archive quota %s", service)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE quotas SET used = 0, success_count = 0, error_count = 0,
		   last_error = NULL, last_error_at = NULL, alert_sent = 0, last_reset = ?
		 WHERE id = ?`,
		resetAt.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: zero quota %s", service)
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit reset")
}

func (s *SQLiteStore) RecordQuotaOutcome(ctx context.Context, service string, success bool, message string, at time.Time) error {
	var err error
	if success {
		_, err = s.db.ExecContext(ctx,
			`UPDATE quotas SET success_count = success_count + 1 WHERE service = ?`, service)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE quotas SET error_count = error_count + 1, last_error = ?, last_error_at = ? WHERE service = ?`,
			message, at.UTC(), service)
	}
	return eris.Wrapf(err, "sqlite: record outcome %s", service)
}

func (s *SQLiteStore) MarkQuotaAlerted(ctx context.Context, service string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE quotas SET alert_sent = 1 WHERE service = ?`, service)
	return eris.Wrapf(err, "sqlite: mark alerted %s", service)
}

func (s *SQLiteStore) ListQuotas(ctx context.Context) ([]model.QuotaRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, service, used, daily_limit, last_reset, success_count, error_count,
		        last_error, last_error_at, alert_threshold, alert_sent
		 FROM quotas ORDER BY service`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list quotas")
	}
	defer rows.Close()

	var out []model.QuotaRecord
	for rows.Next() {
		var q model.QuotaRecord
		var lastErr sql.NullString
		var lastErrAt sql.NullTime
		if err := rows.Scan(&q.ID, &q.Service, &q.Used, &q.Limit, &q.LastReset,
			&q.SuccessCount, &q.ErrorCount, &lastErr, &lastErrAt, &q.AlertThreshold, &q.AlertSent); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan quota row")
		}
		if lastErr.Valid {
			q.LastError = lastErr.String
		}
		if lastErrAt.Valid {
			t := lastErrAt.Time
			q.LastErrorAt = &t
		}
		out = append(out, q)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list quotas iterate")
}

func (s *SQLiteStore) QuotaHistory(ctx context.Context, service string, limit int) ([]model.QuotaHistoryEntry, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, quota_id, service, date, used, success_count, error_count
		 FROM quota_history WHERE service = ? ORDER BY date DESC LIMIT ?`,
		service, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: quota history %s", service)
	}
	defer rows.Close()

	var out []model.QuotaHistoryEntry
	for rows.Next() {
		var e model.QuotaHistoryEntry
		var date string
		if err := rows.Scan(&e.ID, &e.QuotaID, &e.Service, &date, &e.Used, &e.SuccessCount, &e.ErrorCount); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan history row")
		}
		if t, perr := time.Parse("2006-01-02", date); perr == nil {
			e.Date = t
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: quota history iterate")
}

// api keys

func (s *SQLiteStore) GetAPIKey(ctx context.Context, provider string) (*model.APIKeyRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT provider, secret, model, enabled, last_used_at, updated_at FROM api_keys WHERE provider = ?`,
		provider)

	var rec model.APIKeyRecord
	var mdl sql.NullString
	var lastUsed sql.NullTime
	err := row.Scan(&rec.Provider, &rec.Secret, &mdl, &rec.Enabled, &lastUsed, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get api key %s", provider)
	}
	if mdl.Valid {
		rec.Model = mdl.String
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		rec.LastUsedAt = &t
	}
	return &rec, nil
}

func (s *SQLiteStore) UpsertAPIKey(ctx context.Context, rec *model.APIKeyRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (provider, secret, model, enabled, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (provider) DO UPDATE SET
		   secret = excluded.secret, model = excluded.model,
		   enabled = excluded.enabled, updated_at = excluded.updated_at`,
		rec.Provider, rec.Secret, rec.Model, rec.Enabled, time.Now().UTC())
	return eris.Wrapf(err, "sqlite: upsert api key %s", rec.Provider)
}

func (s *SQLiteStore) TouchAPIKey(ctx context.Context, provider string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE provider = ?`, at.UTC(), provider)
	return eris.Wrapf(err, "sqlite: touch api key %s", provider)
}

// enrichments

func (s *SQLiteStore) CreateEnrichment(ctx context.Context, rec *model.EnrichmentRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal fields")
	}
	statusesJSON, err := json.Marshal(rec.FieldStatuses)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal field statuses")
	}
	editedJSON, err := json.Marshal(rec.EditedValues)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal edited values")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO enrichments (id, customer_id, fields, field_statuses, edited_values, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CustomerID, string(fieldsJSON), string(statusesJSON), string(editedJSON),
		string(rec.Status), rec.CreatedAt)
	return eris.Wrap(err, "sqlite: insert enrichment")
}

const sqliteEnrichmentCols = `id, customer_id, fields, field_statuses, edited_values, status, reviewed_at, reviewed_by, created_at`

func (s *SQLiteStore) GetEnrichment(ctx context.Context, id string) (*model.EnrichmentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteEnrichmentCols+` FROM enrichments WHERE id = ?`, id)
	return scanEnrichment(row)
}

func (s *SQLiteStore) LatestEnrichment(ctx context.Context, customerID string) (*model.EnrichmentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteEnrichmentCols+` FROM enrichments
		 WHERE customer_id = ? ORDER BY created_at DESC LIMIT 1`, customerID)
	return scanEnrichment(row)
}

func (s *SQLiteStore) ListEnrichments(ctx context.Context, customerID string, limit int) ([]model.EnrichmentRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteEnrichmentCols+` FROM enrichments
		 WHERE customer_id = ? ORDER BY created_at DESC LIMIT ?`, customerID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list enrichments")
	}
	defer rows.Close()

	var out []model.EnrichmentRecord
	for rows.Next() {
		r, err := scanEnrichment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list enrichments iterate")
}

func (s *SQLiteStore) UpdateEnrichmentReview(ctx context.Context, rec *model.EnrichmentRecord) error {
	statusesJSON, err := json.Marshal(rec.FieldStatuses)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal field statuses")
	}
	editedJSON, err := json.Marshal(rec.EditedValues)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal edited values")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE enrichments SET field_statuses = ?, edited_values = ?, status = ?, reviewed_at = ?, reviewed_by = ?
		 WHERE id = ?`,
		string(statusesJSON), string(editedJSON), string(rec.Status), rec.ReviewedAt, rec.ReviewedBy, rec.ID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update enrichment review %s", rec.ID)
	}
	return checkRowsAffected(res, "enrichment", rec.ID)
}

// website analyses

func (s *SQLiteStore) SaveWebsiteAnalysis(ctx context.Context, rec *model.WebsiteAnalysisRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal analysis")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO website_analyses (id, customer_id, url, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.CustomerID, rec.URL, string(payload), rec.CreatedAt)
	return eris.Wrap(err, "sqlite: insert analysis")
}

func (s *SQLiteStore) LatestWebsiteAnalysis(ctx context.Context, customerID string) (*model.WebsiteAnalysisRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload FROM website_analyses WHERE customer_id = ? ORDER BY created_at DESC LIMIT 1`,
		customerID)

	var payload string
	err := row.Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get analysis")
	}
	var rec model.WebsiteAnalysisRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal analysis")
	}
	return &rec, nil
}

// customers

func (s *SQLiteStore) GetCustomer(ctx context.Context, id string) (*model.Customer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, website, city, region, country FROM customers WHERE id = ?`, id)

	var c model.Customer
	var website, city, region, country sql.NullString
	err := row.Scan(&c.ID, &c.Name, &website, &city, &region, &country)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get customer %s", id)
	}
	c.Website = website.String
	c.City = city.String
	c.Region = region.String
	c.Country = country.String
	return &c, nil
}

func (s *SQLiteStore) UpsertCustomer(ctx context.Context, c *model.Customer) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO customers (id, name, website, city, region, country)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   name = excluded.name, website = excluded.website,
		   city = excluded.city, region = excluded.region, country = excluded.country`,
		c.ID, c.Name, c.Website, c.City, c.Region, c.Country)
	return eris.Wrapf(err, "sqlite: upsert customer %s", c.ID)
}

func (s *SQLiteStore) ApplyCustomerFields(ctx context.Context, id string, fields map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin apply fields")
	}
	defer tx.Rollback()

	var enriched sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT enriched FROM customers WHERE id = ?`, id).Scan(&enriched)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: read customer %s", id)
	}

	merged := map[string]any{}
	if enriched.Valid && enriched.String != "" {
		if err := json.Unmarshal([]byte(enriched.String), &merged); err != nil {
			return eris.Wrap(err, "sqlite: unmarshal enriched fields")
		}
	}
	for k, v := range fields {
		merged[k] = v
	}
	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal enriched fields")
	}

	if website, ok := fields["website"].(string); ok && website != "" {
		if _, err := tx.ExecContext(ctx, `UPDATE customers SET website = ? WHERE id = ?`, website, id); err != nil {
			return eris.Wrapf(err, "sqlite: update customer website %s", id)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE customers SET enriched = ? WHERE id = ?`, string(mergedJSON), id); err != nil {
		return eris.Wrapf(err, "sqlite: update customer fields %s", id)
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit apply fields")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEnrichment(row scannable) (*model.EnrichmentRecord, error) {
	var r model.EnrichmentRecord
	var fieldsJSON, statusesJSON string
	var editedJSON sql.NullString
	var reviewedAt sql.NullTime
	var reviewedBy sql.NullString

	err := row.Scan(&r.ID, &r.CustomerID, &fieldsJSON, &statusesJSON, &editedJSON,
		&r.Status, &reviewedAt, &reviewedBy, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan enrichment")
	}

	if err := json.Unmarshal([]byte(fieldsJSON), &r.Fields); err != nil {
		return nil, eris.Wrap(err, "unmarshal fields")
	}
	if err := json.Unmarshal([]byte(statusesJSON), &r.FieldStatuses); err != nil {
		return nil, eris.Wrap(err, "unmarshal field statuses")
	}
	if editedJSON.Valid && editedJSON.String != "" && editedJSON.String != "null" {
		if err := json.Unmarshal([]byte(editedJSON.String), &r.EditedValues); err != nil {
			return nil, eris.Wrap(err, "unmarshal edited values")
		}
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		r.ReviewedAt = &t
	}
	if reviewedBy.Valid {
		r.ReviewedBy = reviewedBy.String
	}
	return &r, nil
}
