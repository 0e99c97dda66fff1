package probe

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/relaycrm/enrich-core/internal/model"
	"github.com/relaycrm/enrich-core/internal/urlcheck"
)

// socialNetworks maps profile hosts to network names. One profile per
// network is kept, the first one linked from the homepage.
var socialNetworks = []struct {
	name string
	host string
}{
	{"facebook", "facebook.com"},
	{"instagram", "instagram.com"},
	{"linkedin", "linkedin.com"},
	{"x", "x.com"},
	{"x", "twitter.com"},
	{"youtube", "youtube.com"},
	{"tiktok", "tiktok.com"},
}

var hrefRe = regexp.MustCompile(`(?i)\bhref\s*=\s*["']([^"']+)["']`)

// extractSocialLinks pulls profile links out of homepage markup. Matching is
// by hostname, not substring: netflix.com must not register as x.com.
func extractSocialLinks(body []byte) []model.SocialProfile {
	seen := make(map[string]bool, len(socialNetworks))
	var profiles []model.SocialProfile

	for _, m := range hrefRe.FindAllStringSubmatch(string(body), -1) {
		link := strings.TrimSpace(m[1])
		u, err := url.Parse(link)
		if err != nil || u.Hostname() == "" {
			continue
		}
		host := strings.ToLower(u.Hostname())
		for _, n := range socialNetworks {
			if host != n.host && !strings.HasSuffix(host, "."+n.host) {
				continue
			}
			if seen[n.name] {
				break
			}
			seen[n.name] = true
			profiles = append(profiles, model.SocialProfile{Network: n.name, URL: link})
			break
		}
	}
	return profiles
}

// Social finds the social profile links on the fetched homepage and checks
// that each still resolves. A dead or invalid profile is data, not a probe
// failure; the liveness sweep itself runs under the service guard.
func (r *Runner) Social(ctx context.Context, page *Page) groupResult {
	if page == nil {
		return groupResult{Result: Result{Service: ServiceSocial, Err: "site fetch failed"}}
	}

	group := &model.SocialGroup{Profiles: extractSocialLinks(page.Body)}
	if len(group.Profiles) == 0 {
		return groupResult{Result: Result{Service: ServiceSocial, Success: true}, group: group}
	}

	res := r.Guard(ctx, ServiceSocial, false, func(ctx context.Context) error {
		for i := range group.Profiles {
			p := &group.Profiles[i]
			target, err := urlcheck.Validate(p.URL)
			if err != nil {
				p.Err = err.Error()
				continue
			}
			p.URL = target
			if err := r.profileAlive(ctx, target); err != nil {
				p.Err = err.Error()
				continue
			}
			p.Live = true
			group.LiveCount++
		}
		return nil
	})
	return groupResult{Result: res, group: nilable(group, res.Success)}
}

// profileAlive checks that a profile URL answers with a non-error status.
// HEAD first; social sites that refuse HEAD get a GET.
func (r *Runner) profileAlive(ctx context.Context, target string) error {
	status, err := r.fetcher.Probe(ctx, http.MethodHead, target)
	if err != nil {
		return err
	}
	if status == http.StatusMethodNotAllowed {
		status, err = r.fetcher.Probe(ctx, http.MethodGet, target)
		if err != nil {
			return err
		}
	}
	if status >= 400 {
		return eris.Errorf("probe: unexpected status %d", status)
	}
	return nil
}
