// Package model defines the core data types for the enrichment engine.
package model

import "time"

// Default daily request budgets for the free tiers of each external service.
// Overridable via config (quota.limits.<service>).
const (
	DefaultScreenshotLimit = 33
	DefaultPageSpeedLimit  = 800
	DefaultSerpLimit       = 3
	DefaultBuiltWithLimit  = 166

	// DefaultAlertThreshold is the usage percentage at which a quota alert fires.
	DefaultAlertThreshold = 80
)

// QuotaRecord tracks daily API usage for a single external service.
// Used only ever increases within a day; a rollover zeroes it and archives
// the previous day's counters into QuotaHistoryEntry.
type QuotaRecord struct {
	ID             string     `json:"id"`
	Service        string     `json:"service"`
	Used           int        `json:"used"`
	Limit          int        `json:"limit"`
	LastReset      time.Time  `json:"last_reset"`
	SuccessCount   int        `json:"success_count"`
	ErrorCount     int        `json:"error_count"`
	LastError      string     `json:"last_error,omitempty"`
	LastErrorAt    *time.Time `json:"last_error_at,omitempty"`
	AlertThreshold int        `json:"alert_threshold"`
	AlertSent      bool       `json:"alert_sent"`
}

// UsagePercent returns used/limit as a percentage, 0 when the limit is unset.
func (q QuotaRecord) UsagePercent() float64 {
	if q.Limit <= 0 {
		return 0
	}
	return float64(q.Used) / float64(q.Limit) * 100
}

// QuotaHistoryEntry is the archived snapshot of one service's counters for
// one calendar day, written at rollover time.
type QuotaHistoryEntry struct {
	ID           string    `json:"id"`
	QuotaID      string    `json:"quota_id"`
	Service      string    `json:"service"`
	Date         time.Time `json:"date"` // day granularity, the day being archived
	Used         int       `json:"used"`
	SuccessCount int       `json:"success_count"`
	ErrorCount   int       `json:"error_count"`
}

// QuotaStatus is the answer to "can I make a request right now".
type QuotaStatus struct {
	Service string        `json:"service"`
	Allowed bool          `json:"allowed"`
	Used    int           `json:"used"`
	Limit   int           `json:"limit"`
	ResetIn time.Duration `json:"reset_in"`
}
