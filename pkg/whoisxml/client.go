// Package whoisxml fetches domain registration records from the WhoisXML API.
package whoisxml

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://www.whoisxmlapi.com"

// Client performs WHOIS lookups.
type Client interface {
	Whois(ctx context.Context, domain string) (*WhoisResponse, error)
}

// WhoisResponse wraps the WhoisRecord envelope.
type WhoisResponse struct {
	WhoisRecord WhoisRecord `json:"WhoisRecord"`
}

// WhoisRecord holds registration facts for a domain. Dates are RFC 3339
// strings in the registry's timezone.
type WhoisRecord struct {
	DomainName    string       `json:"domainName"`
	RegistrarName string       `json:"registrarName"`
	CreatedDate   string       `json:"createdDate"`
	ExpiresDate   string       `json:"expiresDate"`
	Registrant    Contact      `json:"registrant"`
	RegistryData  RegistryData `json:"registryData"`
}

// RegistryData duplicates key fields from the registry-level record; some
// TLDs only populate dates here.
type RegistryData struct {
	CreatedDate string `json:"createdDate"`
	ExpiresDate string `json:"expiresDate"`
}

// Contact is a WHOIS contact block.
type Contact struct {
	Organization string `json:"organization"`
	Country      string `json:"country"`
}

// CreatedAt returns the best available creation timestamp.
func (r WhoisRecord) CreatedAt() (time.Time, bool) {
	return parseWhoisDate(r.CreatedDate, r.RegistryData.CreatedDate)
}

// ExpiresAt returns the best available expiry timestamp.
func (r WhoisRecord) ExpiresAt() (time.Time, bool) {
	return parseWhoisDate(r.ExpiresDate, r.RegistryData.ExpiresDate)
}

func parseWhoisDate(candidates ...string) (time.Time, bool) {
	layouts := []string{time.RFC3339, "2006-01-02T15:04:05-0700", "2006-01-02 15:04:05 MST", "2006-01-02"}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		for _, layout := range layouts {
			if t, err := time.Parse(layout, c); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
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

// NewClient creates a WhoisXML client.
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

func (c *httpClient) Whois(ctx context.Context, domain string) (*WhoisResponse, error) {
	q := url.Values{}
	q.Set("apiKey", c.apiKey)
	q.Set("domainName", domain)
	q.Set("outputFormat", "JSON")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/whoisserver/WhoisService?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "whoisxml: create request")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "whoisxml: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "whoisxml: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("whoisxml: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result WhoisResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "whoisxml: unmarshal response")
	}
	return &result, nil
}
