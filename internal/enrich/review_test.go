package enrich

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycrm/enrich-core/internal/model"
)

func seedEnrichment(t *testing.T, env *testEnv, customerID string) *model.EnrichmentRecord {
	t.Helper()
	rec := newEnrichmentRecord(customerID, map[string]model.FieldCandidate{
		"industry":    {Value: "plumbing", Confidence: 0.9, Source: "openai"},
		"description": {Value: "Local plumbing company", Confidence: 0.7, Source: "openai"},
		"website":     {Value: "https://acme.example", Confidence: 0.8, Source: "serpapi"},
	})
	require.NoError(t, env.store.CreateEnrichment(context.Background(), rec))
	return rec
}

func TestReview_PartialLeavesPending(t *testing.T) {
	o, env := newTestOrchestrator(t, nil, nil)
	ctx := context.Background()
	seedCustomer(t, env.store, model.Customer{ID: "cust-1", Name: "Acme"})
	rec := seedEnrichment(t, env, "cust-1")

	got, err := o.Review(ctx, rec.ID, ReviewRequest{
		ReviewedBy: "ana",
		Decisions:  []FieldDecision{{Field: "industry", Action: model.ReviewConfirm}},
	})
	require.NoError(t, err)

	assert.Equal(t, model.EnrichmentPending, got.Status)
	assert.Equal(t, model.FieldConfirmed, got.FieldStatuses["industry"])
	assert.Equal(t, model.FieldPending, got.FieldStatuses["description"])
	assert.Equal(t, "ana", got.ReviewedBy)
	require.NotNil(t, got.ReviewedAt)

	// Nothing applies to the customer until the record is fully resolved.
	cust, err := env.store.GetCustomer(ctx, "cust-1")
	require.NoError(t, err)
	assert.Empty(t, cust.Website)
}

func TestReview_FullResolutionConfirmsAndApplies(t *testing.T) {
	o, env := newTestOrchestrator(t, nil, nil)
	ctx := context.Background()
	seedCustomer(t, env.store, model.Customer{ID: "cust-1", Name: "Acme"})
	rec := seedEnrichment(t, env, "cust-1")

	got, err := o.Review(ctx, rec.ID, ReviewRequest{
		ReviewedBy: "ana",
		Decisions: []FieldDecision{
			{Field: "industry", Action: model.ReviewConfirm},
			{Field: "description", Action: model.ReviewEdit, Value: "Plumbing and heating, Lyon"},
			{Field: "website", Action: model.ReviewConfirm},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, model.EnrichmentConfirmed, got.Status)
	assert.Equal(t, model.FieldConfirmed, got.FieldStatuses["description"])
	assert.Equal(t, "Plumbing and heating, Lyon", got.EditedValues["description"])

	cust, err := env.store.GetCustomer(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, "https://acme.example", cust.Website)

	// The review state survives a reload.
	stored, err := env.store.GetEnrichment(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EnrichmentConfirmed, stored.Status)
	assert.Equal(t, "ana", stored.ReviewedBy)
}

func TestReview_RejectedFieldsRetainedButNotApplied(t *testing.T) {
	o, env := newTestOrchestrator(t, nil, nil)
	ctx := context.Background()
	seedCustomer(t, env.store, model.Customer{ID: "cust-1", Name: "Acme"})
	rec := seedEnrichment(t, env, "cust-1")

	got, err := o.Review(ctx, rec.ID, ReviewRequest{
		Decisions: []FieldDecision{
			{Field: "industry", Action: model.ReviewConfirm},
			{Field: "description", Action: model.ReviewReject},
			{Field: "website", Action: model.ReviewReject},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, model.EnrichmentConfirmed, got.Status)
	assert.Equal(t, model.FieldRejected, got.FieldStatuses["website"])
	// Audit trail: the rejected candidate stays on the record.
	assert.Equal(t, "https://acme.example", got.Fields["website"].Value)

	cust, err := env.store.GetCustomer(ctx, "cust-1")
	require.NoError(t, err)
	assert.Empty(t, cust.Website)
}

func TestReview_EditWithoutValue(t *testing.T) {
	o, env := newTestOrchestrator(t, nil, nil)
	seedCustomer(t, env.store, model.Customer{ID: "cust-1", Name: "Acme"})
	rec := seedEnrichment(t, env, "cust-1")

	_, err := o.Review(context.Background(), rec.ID, ReviewRequest{
		Decisions: []FieldDecision{{Field: "industry", Action: model.ReviewEdit}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs a value")
}

func TestReview_UnknownField(t *testing.T) {
	o, env := newTestOrchestrator(t, nil, nil)
	seedCustomer(t, env.store, model.Customer{ID: "cust-1", Name: "Acme"})
	rec := seedEnrichment(t, env, "cust-1")

	_, err := o.Review(context.Background(), rec.ID, ReviewRequest{
		Decisions: []FieldDecision{{Field: "favorite_color", Action: model.ReviewConfirm}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field")
}

func TestReview_EmptyRequest(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, nil)

	_, err := o.Review(context.Background(), "any", ReviewRequest{})
	require.Error(t, err)
}
