package probe

import (
	"regexp"
	"strings"

	"github.com/relaycrm/enrich-core/internal/model"
)

// Meta tags appear with name= and content= in either order, so each scan
// matches the tag by one attribute and pulls content separately.
var (
	titleRe     = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	metaTagRe   = regexp.MustCompile(`(?is)<meta\b[^>]*>`)
	linkTagRe   = regexp.MustCompile(`(?is)<link\b[^>]*>`)
	h1Re        = regexp.MustCompile(`(?is)<h1[\s>]`)
	h2Re        = regexp.MustCompile(`(?is)<h2[\s>]`)
	jsonLDRe    = regexp.MustCompile(`(?is)<script\b[^>]*type\s*=\s*["']application/ld\+json["']`)
	attrNameRe  = regexp.MustCompile(`(?i)\bname\s*=\s*["']([^"']+)["']`)
	attrPropRe  = regexp.MustCompile(`(?i)\bproperty\s*=\s*["']([^"']+)["']`)
	attrRelRe   = regexp.MustCompile(`(?i)\brel\s*=\s*["']([^"']+)["']`)
	attrHrefRe  = regexp.MustCompile(`(?i)\bhref\s*=\s*["']([^"']+)["']`)
	attrContRe  = regexp.MustCompile(`(?i)\bcontent\s*=\s*["']([^"']*)["']`)
)

// ScanSEO extracts on-page SEO facts from homepage markup.
func ScanSEO(body []byte) *model.SEOGroup {
	html := string(body)
	group := &model.SEOGroup{
		H1Count: len(h1Re.FindAllString(html, -1)),
		H2Count: len(h2Re.FindAllString(html, -1)),
	}

	if m := titleRe.FindStringSubmatch(html); len(m) > 1 {
		group.Title = strings.TrimSpace(m[1])
	}

	for _, tag := range metaTagRe.FindAllString(html, -1) {
		name := firstMatch(attrNameRe, tag)
		prop := firstMatch(attrPropRe, tag)
		content := firstMatch(attrContRe, tag)

		switch strings.ToLower(name) {
		case "description":
			if group.MetaDescription == "" {
				group.MetaDescription = strings.TrimSpace(content)
			}
		case "robots":
			group.RobotsMeta = strings.TrimSpace(content)
		}
		if strings.HasPrefix(strings.ToLower(name), "twitter:") {
			group.HasTwitterCard = true
		}
		if strings.HasPrefix(strings.ToLower(prop), "og:") {
			group.HasOpenGraph = true
		}
	}

	for _, tag := range linkTagRe.FindAllString(html, -1) {
		if strings.EqualFold(firstMatch(attrRelRe, tag), "canonical") {
			group.Canonical = strings.TrimSpace(firstMatch(attrHrefRe, tag))
			break
		}
	}

	group.HasJSONLD = jsonLDRe.MatchString(html)
	return group
}

func firstMatch(re *regexp.Regexp, s string) string {
	if m := re.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return ""
}
