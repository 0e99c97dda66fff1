// Package builtwith looks up website technology stacks via the BuiltWith
// free API.
package builtwith

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.builtwith.com"

// Client performs technology lookups.
type Client interface {
	Lookup(ctx context.Context, domain string) (*LookupResponse, error)
}

// LookupResponse is the free-tier lookup result.
type LookupResponse struct {
	Domain string  `json:"domain"`
	Groups []Group `json:"groups"`
}

// Group is a technology category group (analytics, cms, frameworks...).
type Group struct {
	Name       string     `json:"name"`
	Live       int        `json:"live"`
	Categories []Category `json:"categories"`
}

// Category is a single detected technology category.
type Category struct {
	Name string `json:"name"`
	Live int    `json:"live"`
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

// NewClient creates a BuiltWith client.
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

func (c *httpClient) Lookup(ctx context.Context, domain string) (*LookupResponse, error) {
	q := url.Values{}
	q.Set("KEY", c.apiKey)
	q.Set("LOOKUP", domain)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/free1/api.json?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "builtwith: create request")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "builtwith: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "builtwith: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("builtwith: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result LookupResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "builtwith: unmarshal response")
	}
	return &result, nil
}
