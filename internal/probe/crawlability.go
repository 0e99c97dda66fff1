package probe

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/relaycrm/enrich-core/internal/model"
)

var sitemapLocRe = regexp.MustCompile(`(?is)<loc>\s*(.*?)\s*</loc>`)

// CheckCrawlability fetches robots.txt and the sitemap to judge whether the
// site can be indexed. A missing robots.txt means everything is allowed.
func (r *Runner) CheckCrawlability(ctx context.Context, target string) (*model.CrawlGroup, error) {
	base, err := url.Parse(target)
	if err != nil {
		return nil, eris.Wrap(err, "probe: parse target")
	}
	origin := base.Scheme + "://" + base.Host

	group := &model.CrawlGroup{Indexable: true}

	robots, err := r.fetcher.Fetch(ctx, origin+"/robots.txt")
	if err == nil {
		group.RobotsFound = true
		rules := parseRobots(string(robots.Body))
		group.DisallowCount = len(rules.disallows)
		group.Indexable = !rules.blocksAll
		if rules.sitemap != "" {
			group.SitemapURL = rules.sitemap
		}
	}

	sitemapURL := group.SitemapURL
	if sitemapURL == "" {
		sitemapURL = origin + "/sitemap.xml"
	}
	sitemap, err := r.fetcher.Fetch(ctx, sitemapURL)
	if err != nil {
		return group, nil
	}
	group.SitemapURL = sitemapURL

	body := string(sitemap.Body)
	locs := sitemapLocRe.FindAllStringSubmatch(body, -1)
	group.SitemapCount = len(locs)
	// A sitemap index nests <sitemap> entries instead of <url> entries; its
	// count is sitemaps, not pages.
	group.SitemapIsIdx = strings.Contains(body, "<sitemapindex")
	return group, nil
}

type robotsRules struct {
	disallows []string
	blocksAll bool
	sitemap   string
}

// parseRobots honors Disallow rules from every user-agent block — the `*`
// block and named crawlers alike. A `Disallow: /` under any agent means some
// crawler is shut out entirely, so the site counts as non-indexable. Disallow
// lines outside a user-agent block are ignored.
func parseRobots(body string) robotsRules {
	var rules robotsRules
	inBlock := false

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" {
			continue
		}

		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "user-agent":
			inBlock = value != ""
		case "disallow":
			if inBlock && value != "" {
				rules.disallows = append(rules.disallows, value)
				if value == "/" {
					rules.blocksAll = true
				}
			}
		case "sitemap":
			if rules.sitemap == "" {
				rules.sitemap = value
			}
		}
	}
	return rules
}
