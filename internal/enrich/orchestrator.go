// Package enrich drives a full enrichment run for one customer: website
// discovery, concurrent probes, AI field discovery, persistence, and the
// field-level review protocol.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/relaycrm/enrich-core/internal/ai"
	"github.com/relaycrm/enrich-core/internal/model"
	"github.com/relaycrm/enrich-core/internal/probe"
	"github.com/relaycrm/enrich-core/internal/store"
	"github.com/relaycrm/enrich-core/internal/urlcheck"
	"github.com/relaycrm/enrich-core/pkg/serpapi"
)

// ServiceSerp is the quota service name for website discovery searches.
const ServiceSerp = "serpapi"

// ServiceAIDiscovery requests the AI field-discovery pass.
const ServiceAIDiscovery = "ai_discovery"

// ErrNoWebsite is returned when website-dependent services are requested for
// a customer with no website on record and discovery found none.
var ErrNoWebsite = eris.New("enrich: customer has no website on record")

// candidateFields is the fixed set of fields AI discovery may propose.
var candidateFields = []string{
	"website", "industry", "description", "company_size",
	"address", "emails", "phones", "social_profiles",
}

// Completer is the slice of the AI service the orchestrator uses.
type Completer interface {
	CompleteMultiple(ctx context.Context, providers []string, req ai.Request) []ai.ProviderResult
}

// Orchestrator runs enrichment end to end. All collaborators are optional
// except the store; a nil collaborator skips its part of the run and records
// the reason in the per-service results.
type Orchestrator struct {
	store  store.Store
	probes *probe.Runner
	ai     Completer
	serp   serpapi.Client

	// providers fanned out for AI discovery, in result order.
	providers []string
}

// Config wires an Orchestrator.
type Config struct {
	Store     store.Store
	Probes    *probe.Runner
	AI        Completer
	Serp      serpapi.Client
	Providers []string
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		store:     cfg.Store,
		probes:    cfg.Probes,
		ai:        cfg.AI,
		serp:      cfg.Serp,
		providers: cfg.Providers,
	}
}

// RunResult is the aggregated outcome of one enrichment run, keyed by
// service. It is returned synchronously and also reflected in the persisted
// records.
type RunResult struct {
	CustomerID string                  `json:"customer_id"`
	Website    string                  `json:"website,omitempty"`
	Services   map[string]probe.Result `json:"services"`
	AI         []ai.ProviderResult     `json:"ai,omitempty"`

	Enrichment *model.EnrichmentRecord      `json:"enrichment,omitempty"`
	Analysis   *model.WebsiteAnalysisRecord `json:"analysis,omitempty"`

	// AllSucceeded is informational; partial results persist regardless.
	AllSucceeded bool `json:"all_succeeded"`
}

// Run enriches one customer. Empty services requests everything, including
// AI discovery. Probe failures and provider failures are data in the result;
// only request-level validation returns an error.
func (o *Orchestrator) Run(ctx context.Context, customerID string, services []string) (*RunResult, error) {
	customer, err := o.store.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: load customer %s", customerID)
	}

	wantAI := len(services) == 0
	var probeServices []string
	for _, svc := range services {
		if svc == ServiceAIDiscovery {
			wantAI = true
			continue
		}
		probeServices = append(probeServices, svc)
	}
	wantProbes := len(services) == 0 || len(probeServices) > 0

	out := &RunResult{
		CustomerID: customerID,
		Services:   map[string]probe.Result{},
	}

	website := customer.Website
	var discovered *model.FieldCandidate
	if website == "" {
		website, discovered = o.discoverWebsite(ctx, customer, out)
	}
	out.Website = website

	if wantProbes {
		if website == "" {
			return nil, ErrNoWebsite
		}
		rec, results, err := o.probes.Analyze(ctx, customerID, website, probeServices)
		if err != nil {
			return nil, err
		}
		for name, res := range results {
			out.Services[name] = res
		}
		if err := o.store.SaveWebsiteAnalysis(ctx, rec); err != nil {
			return nil, eris.Wrap(err, "enrich: save analysis")
		}
		out.Analysis = rec
	}

	if wantAI && o.ai != nil && len(o.providers) > 0 {
		fields, aiResults := o.discoverFields(ctx, customer, website)
		out.AI = aiResults
		if discovered != nil {
			// The search hit outranks model guesses for the website field.
			fields["website"] = *discovered
		}
		if len(fields) > 0 {
			rec := newEnrichmentRecord(customerID, fields)
			if err := o.store.CreateEnrichment(ctx, rec); err != nil {
				return nil, eris.Wrap(err, "enrich: create enrichment")
			}
			out.Enrichment = rec
		}
	}

	out.AllSucceeded = allSucceeded(out)
	zap.L().Info("enrichment run finished",
		zap.String("customer_id", customerID),
		zap.Bool("all_succeeded", out.AllSucceeded),
		zap.Int("services", len(out.Services)),
		zap.Int("ai_providers", len(out.AI)))
	return out, nil
}

// Latest bundles the most recent enrichment and analysis for a customer with
// a bounded history list.
type Latest struct {
	Enrichment *model.EnrichmentRecord      `json:"enrichment,omitempty"`
	Analysis   *model.WebsiteAnalysisRecord `json:"analysis,omitempty"`
	History    []model.EnrichmentRecord     `json:"history,omitempty"`
}

// historyLimit bounds the history list returned alongside the latest record.
const historyLimit = 20

// GetLatest returns the newest enrichment and analysis for a customer.
// Either may be absent; both absent is still not an error.
func (o *Orchestrator) GetLatest(ctx context.Context, customerID string) (*Latest, error) {
	out := &Latest{}

	rec, err := o.store.LatestEnrichment(ctx, customerID)
	switch {
	case err == nil:
		out.Enrichment = rec
	case !eris.Is(err, store.ErrNotFound):
		return nil, eris.Wrap(err, "enrich: load latest enrichment")
	}

	analysis, err := o.store.LatestWebsiteAnalysis(ctx, customerID)
	switch {
	case err == nil:
		out.Analysis = analysis
	case !eris.Is(err, store.ErrNotFound):
		return nil, eris.Wrap(err, "enrich: load latest analysis")
	}

	hist, err := o.store.ListEnrichments(ctx, customerID, historyLimit)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: load history")
	}
	out.History = hist
	return out, nil
}

// discoverWebsite searches for the customer's official site when none is on
// record. The search is quota-metered; any failure degrades to "no website"
// and is reported under the serpapi service key.
func (o *Orchestrator) discoverWebsite(ctx context.Context, customer *model.Customer, out *RunResult) (string, *model.FieldCandidate) {
	if o.serp == nil || o.probes == nil {
		return "", nil
	}

	var found string
	res := o.probes.Guard(ctx, ServiceSerp, true, func(ctx context.Context) error {
		resp, err := o.serp.Search(ctx, searchQuery(customer))
		if err != nil {
			return err
		}
		found = pickWebsite(resp)
		return nil
	})
	out.Services[ServiceSerp] = res
	if !res.Success || found == "" {
		return "", nil
	}

	normalized, err := urlcheck.Validate(found)
	if err != nil {
		zap.L().Warn("discovered website rejected",
			zap.String("customer_id", customer.ID),
			zap.String("url", found),
			zap.Error(err))
		return "", nil
	}

	zap.L().Info("website discovered",
		zap.String("customer_id", customer.ID),
		zap.String("url", normalized))
	return normalized, &model.FieldCandidate{
		Value:      normalized,
		Confidence: 0.8,
		Source:     ServiceSerp,
	}
}

func searchQuery(c *model.Customer) string {
	parts := []string{c.Name}
	for _, loc := range []string{c.City, c.Region, c.Country} {
		if loc != "" {
			parts = append(parts, loc)
		}
	}
	parts = append(parts, "official website")
	return strings.Join(parts, " ")
}

// pickWebsite prefers the knowledge-graph entity link over organic results;
// directory and social hosts never count as the official site.
func pickWebsite(resp *serpapi.SearchResponse) string {
	if resp.KnowledgeGraph != nil && resp.KnowledgeGraph.Website != "" {
		return resp.KnowledgeGraph.Website
	}
	for _, r := range resp.OrganicResults {
		if r.Link == "" || isDirectoryLink(r.Link) {
			continue
		}
		return r.Link
	}
	return ""
}

var directoryHosts = []string{
	"facebook.com", "instagram.com", "linkedin.com", "x.com", "twitter.com",
	"yelp.com", "yellowpages.com", "tripadvisor.com", "wikipedia.org",
	"maps.google.com", "google.com",
}

func isDirectoryLink(link string) bool {
	lower := strings.ToLower(link)
	for _, host := range directoryHosts {
		if strings.Contains(lower, host) {
			return true
		}
	}
	return false
}

// discoverFields fans the discovery prompt out to every configured AI
// provider and merges the parsed candidates, keeping the highest-confidence
// value per field.
func (o *Orchestrator) discoverFields(ctx context.Context, customer *model.Customer, website string) (map[string]model.FieldCandidate, []ai.ProviderResult) {
	req := ai.Request{
		Messages: []ai.Message{
			{Role: "system", Content: discoverySystemPrompt},
			{Role: "user", Content: discoveryPrompt(customer, website)},
		},
	}

	results := o.ai.CompleteMultiple(ctx, o.providers, req)

	fields := make(map[string]model.FieldCandidate)
	for _, res := range results {
		if res.Completion == nil {
			continue
		}
		obj := ai.ParseJSONObject(res.Completion.Content)
		if obj == nil {
			zap.L().Warn("unparseable discovery response",
				zap.String("provider", res.Provider))
			continue
		}
		mergeCandidates(fields, obj, res.Provider)
	}
	return fields, results
}

const discoverySystemPrompt = `You are a business-data researcher. Respond with a single JSON object and nothing else. Keys are field names; values are objects of the form {"value": ..., "confidence": 0.0-1.0}. Omit fields you cannot determine. Never invent contact details.`

func discoveryPrompt(c *model.Customer, website string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Find public business information about %q", c.Name)
	if loc := strings.TrimSpace(strings.Join([]string{c.City, c.Region, c.Country}, " ")); loc != "" {
		fmt.Fprintf(&b, " located in %s", loc)
	}
	if website != "" {
		fmt.Fprintf(&b, " (website: %s)", website)
	}
	fmt.Fprintf(&b, ".\nFields: %s.", strings.Join(candidateFields, ", "))
	return b.String()
}

// mergeCandidates folds one provider's parsed object into the field map.
// Unknown field names are dropped; a known field wins only when its
// confidence beats the current holder's.
func mergeCandidates(fields map[string]model.FieldCandidate, obj map[string]any, provider string) {
	for _, name := range candidateFields {
		raw, ok := obj[name]
		if !ok || raw == nil {
			continue
		}
		cand := toCandidate(raw, provider)
		if cand == nil {
			continue
		}
		if cur, ok := fields[name]; !ok || cand.Confidence > cur.Confidence {
			fields[name] = *cand
		}
	}
}

// defaultConfidence applies when a provider returns a bare value instead of
// the {value, confidence} envelope the prompt asks for.
const defaultConfidence = 0.5

func toCandidate(raw any, provider string) *model.FieldCandidate {
	if env, ok := raw.(map[string]any); ok {
		value, hasValue := env["value"]
		if !hasValue || value == nil {
			return nil
		}
		conf := defaultConfidence
		if c, ok := env["confidence"].(float64); ok && c >= 0 && c <= 1 {
			conf = c
		}
		return &model.FieldCandidate{Value: value, Confidence: conf, Source: provider}
	}
	return &model.FieldCandidate{Value: raw, Confidence: defaultConfidence, Source: provider}
}

func newEnrichmentRecord(customerID string, fields map[string]model.FieldCandidate) *model.EnrichmentRecord {
	statuses := make(map[string]model.FieldStatus, len(fields))
	for name := range fields {
		statuses[name] = model.FieldPending
	}
	return &model.EnrichmentRecord{
		CustomerID:    customerID,
		Fields:        fields,
		FieldStatuses: statuses,
		Status:        model.EnrichmentPending,
		CreatedAt:     time.Now().UTC(),
	}
}

func allSucceeded(out *RunResult) bool {
	for _, res := range out.Services {
		if !res.Success {
			return false
		}
	}
	for _, res := range out.AI {
		if res.Err != "" {
			return false
		}
	}
	return true
}

// MarshalFields renders the candidate map for logs and CLI output.
func MarshalFields(fields map[string]model.FieldCandidate) string {
	b, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", fields)
	}
	return string(b)
}
