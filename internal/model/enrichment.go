package model

import "time"

// FieldStatus tracks the review state of one discovered field.
type FieldStatus string

const (
	FieldPending   FieldStatus = "pending"
	FieldConfirmed FieldStatus = "confirmed"
	FieldRejected  FieldStatus = "rejected"
)

// EnrichmentStatus is the overall review state of an EnrichmentRecord.
type EnrichmentStatus string

const (
	EnrichmentPending   EnrichmentStatus = "pending"
	EnrichmentConfirmed EnrichmentStatus = "confirmed"
)

// ReviewAction is a reviewer's decision on one or more fields.
type ReviewAction string

const (
	ReviewConfirm ReviewAction = "confirm"
	ReviewReject  ReviewAction = "reject"
	ReviewEdit    ReviewAction = "edit"
)

// FieldCandidate is a single discovered value with provenance.
type FieldCandidate struct {
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source,omitempty"`
}

// EnrichmentRecord holds one enrichment run's discovered candidate values for
// a customer. Records are append-only: re-running enrichment creates a new
// record and moves the "latest" pointer; nothing is ever deleted.
type EnrichmentRecord struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`

	// Discovered candidates keyed by field name (website, industry,
	// description, company_size, address, emails, phones, social_profiles).
	Fields map[string]FieldCandidate `json:"fields"`

	// FieldStatuses tracks per-field review state. Every key in Fields has
	// an entry here, initially FieldPending.
	FieldStatuses map[string]FieldStatus `json:"field_statuses"`

	// EditedValues holds reviewer-supplied replacements for edited fields.
	EditedValues map[string]any `json:"edited_values,omitempty"`

	Status     EnrichmentStatus `json:"status"`
	ReviewedAt *time.Time       `json:"reviewed_at,omitempty"`
	ReviewedBy string           `json:"reviewed_by,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// AllFieldsResolved reports whether no field remains pending. The record's
// Status may only become confirmed once this is true.
func (r *EnrichmentRecord) AllFieldsResolved() bool {
	for _, st := range r.FieldStatuses {
		if st == FieldPending {
			return false
		}
	}
	return true
}

// ConfirmedFields returns the subset of fields a reviewer accepted, with
// edited values substituted where present. Rejected fields are excluded.
func (r *EnrichmentRecord) ConfirmedFields() map[string]any {
	out := make(map[string]any)
	for name, st := range r.FieldStatuses {
		if st != FieldConfirmed {
			continue
		}
		if edited, ok := r.EditedValues[name]; ok {
			out[name] = edited
			continue
		}
		if fc, ok := r.Fields[name]; ok {
			out[name] = fc.Value
		}
	}
	return out
}
