package probe

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/relaycrm/enrich-core/internal/model"
	"github.com/relaycrm/enrich-core/internal/resilience"
)

// maxPageBytes caps how much of a homepage we read. Enough for any realistic
// <head> plus the markup the responsive and SEO scans need.
const maxPageBytes = 2 * 1024 * 1024

// Page is one fetched homepage: body, response headers, and the TLS
// connection state when the fetch went over https.
type Page struct {
	URL        string
	StatusCode int
	Body       []byte
	Header     http.Header
	TLS        *tls.ConnectionState
}

// Fetcher retrieves customer homepages.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a Fetcher with conservative timeouts.
func NewFetcher() *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: 20 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 4,
			},
		},
	}
}

// Fetch downloads the page at target. Callers must pass a URL that already
// went through urlcheck.Validate.
func (f *Fetcher) Fetch(ctx context.Context, target string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, eris.Wrap(err, "probe: create request")
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; RelayBot/1.0)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "probe: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, eris.Wrap(err, "probe: read body")
	}
	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("probe: unexpected status %d: %s", resp.StatusCode, resp.Status)
	}

	return &Page{
		URL:        target,
		StatusCode: resp.StatusCode,
		Body:       body,
		Header:     resp.Header,
		TLS:        resp.TLS,
	}, nil
}

// Probe issues a lightweight request and reports only the status code; the
// body is discarded. Callers must pass a URL that already went through
// urlcheck.Validate.
func (f *Fetcher) Probe(ctx context.Context, method, target string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, eris.Wrap(err, "probe: create request")
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; RelayBot/1.0)")

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, eris.Wrap(err, "probe: fetch")
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

// fetchSite retrieves the homepage with retry. Site fetches are not metered;
// they hit the customer's own server, not a quota-limited API.
func (r *Runner) fetchSite(ctx context.Context, target string) (*Page, error) {
	return resilience.DoVal(ctx, r.retryCfg, func(ctx context.Context) (*Page, error) {
		return r.fetcher.Fetch(ctx, target)
	})
}

// sslGroup derives certificate facts from the fetch's TLS state. A plain
// http fetch yields a group with Valid false.
func sslGroup(p *Page) *model.SSLGroup {
	if p.TLS == nil || len(p.TLS.PeerCertificates) == 0 {
		return &model.SSLGroup{Valid: false}
	}
	cert := p.TLS.PeerCertificates[0]
	return &model.SSLGroup{
		Valid:     time.Now().Before(cert.NotAfter),
		Issuer:    cert.Issuer.CommonName,
		ExpiresAt: cert.NotAfter,
	}
}

// securityGroup reads the standard security response headers.
func securityGroup(p *Page) *model.SecurityGroup {
	has := func(name string) bool { return p.Header.Get(name) != "" }
	return &model.SecurityGroup{
		HSTS:               has("Strict-Transport-Security"),
		ContentSecurity:    has("Content-Security-Policy"),
		XFrameOptions:      has("X-Frame-Options"),
		XContentTypeNoSnif: has("X-Content-Type-Options"),
		ReferrerPolicy:     has("Referrer-Policy"),
	}
}
