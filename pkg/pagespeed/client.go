// Package pagespeed calls the Google PageSpeed Insights v5 API.
package pagespeed

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://www.googleapis.com/pagespeedonline/v5"

// Client runs Lighthouse audits through the PageSpeed Insights API.
type Client interface {
	Analyze(ctx context.Context, targetURL, strategy string) (*AnalyzeResponse, error)
}

// AnalyzeResponse is the subset of the runPagespeed response we consume.
type AnalyzeResponse struct {
	LighthouseResult LighthouseResult `json:"lighthouseResult"`
}

// LighthouseResult holds category scores and audit metrics.
type LighthouseResult struct {
	Categories Categories       `json:"categories"`
	Audits     map[string]Audit `json:"audits"`
}

// Categories holds the 0..1 scores per Lighthouse category.
type Categories struct {
	Performance   Category `json:"performance"`
	Accessibility Category `json:"accessibility"`
	BestPractices Category `json:"best-practices"`
	SEO           Category `json:"seo"`
}

// Category is a single Lighthouse category score.
type Category struct {
	Score float64 `json:"score"`
}

// Audit holds one audit's numeric value in milliseconds (or unitless for CLS).
type Audit struct {
	NumericValue float64 `json:"numericValue"`
}

// Core Web Vitals audit keys.
const (
	AuditFirstContentfulPaint   = "first-contentful-paint"
	AuditLargestContentfulPaint = "largest-contentful-paint"
	AuditCumulativeLayoutShift  = "cumulative-layout-shift"
	AuditTotalBlockingTime      = "total-blocking-time"
)

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a PageSpeed Insights client. Lighthouse runs are slow;
// the default timeout allows for a full mobile audit.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 120 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Analyze(ctx context.Context, targetURL, strategy string) (*AnalyzeResponse, error) {
	if strategy == "" {
		strategy = "mobile"
	}

	q := url.Values{}
	q.Set("url", targetURL)
	q.Set("key", c.apiKey)
	q.Set("strategy", strategy)
	for _, cat := range []string{"PERFORMANCE", "ACCESSIBILITY", "BEST_PRACTICES", "SEO"} {
		q.Add("category", cat)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/runPagespeed?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "pagespeed: create request")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "pagespeed: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "pagespeed: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("pagespeed: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result AnalyzeResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "pagespeed: unmarshal response")
	}
	return &result, nil
}
