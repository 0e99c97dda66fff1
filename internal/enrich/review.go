package enrich

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/relaycrm/enrich-core/internal/model"
)

// FieldDecision is one reviewer action on one field. Edit requires Value and
// implicitly confirms.
type FieldDecision struct {
	Field  string             `json:"field"`
	Action model.ReviewAction `json:"action"`
	Value  any                `json:"value,omitempty"`
}

// ReviewRequest is a batch of decisions applied to one enrichment record.
type ReviewRequest struct {
	Decisions  []FieldDecision `json:"decisions"`
	ReviewedBy string          `json:"reviewed_by,omitempty"`
}

// Review applies field decisions to an enrichment record. The record's
// overall status moves to confirmed only when no field remains pending, and
// only then are the confirmed values written to the customer record.
// Rejected fields stay on the record for audit.
func (o *Orchestrator) Review(ctx context.Context, enrichmentID string, req ReviewRequest) (*model.EnrichmentRecord, error) {
	if len(req.Decisions) == 0 {
		return nil, eris.New("enrich: review needs at least one decision")
	}

	rec, err := o.store.GetEnrichment(ctx, enrichmentID)
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: load enrichment %s", enrichmentID)
	}

	for _, d := range req.Decisions {
		if _, ok := rec.FieldStatuses[d.Field]; !ok {
			return nil, eris.Errorf("enrich: unknown field %q", d.Field)
		}
		switch d.Action {
		case model.ReviewConfirm:
			rec.FieldStatuses[d.Field] = model.FieldConfirmed
		case model.ReviewReject:
			rec.FieldStatuses[d.Field] = model.FieldRejected
		case model.ReviewEdit:
			if d.Value == nil {
				return nil, eris.Errorf("enrich: edit of %q needs a value", d.Field)
			}
			if rec.EditedValues == nil {
				rec.EditedValues = make(map[string]any)
			}
			rec.EditedValues[d.Field] = d.Value
			rec.FieldStatuses[d.Field] = model.FieldConfirmed
		default:
			return nil, eris.Errorf("enrich: unknown action %q", d.Action)
		}
	}

	now := time.Now().UTC()
	rec.ReviewedAt = &now
	rec.ReviewedBy = req.ReviewedBy

	completed := rec.AllFieldsResolved()
	if completed {
		rec.Status = model.EnrichmentConfirmed
	}

	if err := o.store.UpdateEnrichmentReview(ctx, rec); err != nil {
		return nil, eris.Wrap(err, "enrich: save review")
	}

	if completed {
		confirmed := rec.ConfirmedFields()
		if len(confirmed) > 0 {
			if err := o.store.ApplyCustomerFields(ctx, rec.CustomerID, confirmed); err != nil {
				return nil, eris.Wrapf(err, "enrich: apply fields to customer %s", rec.CustomerID)
			}
		}
		zap.L().Info("enrichment confirmed",
			zap.String("enrichment_id", rec.ID),
			zap.String("customer_id", rec.CustomerID),
			zap.Int("applied_fields", len(confirmed)))
	}
	return rec, nil
}
