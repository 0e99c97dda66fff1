// Package screenshotone captures website screenshots via the ScreenshotOne API.
package screenshotone

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.screenshotone.com"

// Client takes website screenshots.
type Client interface {
	Take(ctx context.Context, req TakeRequest) ([]byte, error)
}

// TakeRequest describes one capture.
type TakeRequest struct {
	URL            string
	ViewportWidth  int
	ViewportHeight int
	FullPage       bool
	Format         string // png or jpeg, defaults to png
}

// Desktop and mobile viewport presets.
var (
	DesktopViewport = TakeRequest{ViewportWidth: 1920, ViewportHeight: 1080}
	MobileViewport  = TakeRequest{ViewportWidth: 390, ViewportHeight: 844}
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
	accessKey string
	baseURL   string
	http      *http.Client
}

// NewClient creates a ScreenshotOne client.
func NewClient(accessKey string, opts ...Option) Client {
	c := &httpClient{
		accessKey: accessKey,
		baseURL:   defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
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

func (c *httpClient) Take(ctx context.Context, req TakeRequest) ([]byte, error) {
	format := req.Format
	if format == "" {
		format = "png"
	}

	q := url.Values{}
	q.Set("access_key", c.accessKey)
	q.Set("url", req.URL)
	q.Set("format", format)
	if req.ViewportWidth > 0 {
		q.Set("viewport_width", strconv.Itoa(req.ViewportWidth))
	}
	if req.ViewportHeight > 0 {
		q.Set("viewport_height", strconv.Itoa(req.ViewportHeight))
	}
	if req.FullPage {
		q.Set("full_page", "true")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/take?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "screenshotone: create request")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "screenshotone: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "screenshotone: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("screenshotone: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
