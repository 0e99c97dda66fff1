// Package serpapi queries Google search results through SerpAPI, used to
// discover a customer's website from their name and location.
package serpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://serpapi.com"

// Client performs web searches.
type Client interface {
	Search(ctx context.Context, query string) (*SearchResponse, error)
}

// SearchResponse is the subset of SerpAPI's google engine response we use.
type SearchResponse struct {
	OrganicResults []OrganicResult `json:"organic_results"`
	KnowledgeGraph *KnowledgeGraph `json:"knowledge_graph,omitempty"`
}

// OrganicResult is one ranked search hit.
type OrganicResult struct {
	Position int    `json:"position"`
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
}

// KnowledgeGraph holds Google's entity panel when present; its Website field
// is the strongest signal for official-site discovery.
type KnowledgeGraph struct {
	Title   string `json:"title"`
	Website string `json:"website"`
}

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

// NewClient creates a SerpAPI client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
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

func (c *httpClient) Search(ctx context.Context, query string) (*SearchResponse, error) {
	q := url.Values{}
	q.Set("engine", "google")
	q.Set("q", query)
	q.Set("api_key", c.apiKey)
	q.Set("num", "10")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search.json?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "serpapi: create request")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "serpapi: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "serpapi: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("serpapi: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result SearchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "serpapi: unmarshal response")
	}
	return &result, nil
}
