package probe

import (
	"regexp"

	"github.com/relaycrm/enrich-core/internal/model"
)

var (
	viewportTagRe    = regexp.MustCompile(`(?is)<meta\b[^>]*\bname\s*=\s*["']viewport["'][^>]*>`)
	viewportMobileRe = regexp.MustCompile(`(?i)width\s*=\s*device-width|initial-scale`)

	mediaQueryRe   = regexp.MustCompile(`(?is)@media[^{]*\(\s*(?:max|min)-width`)
	flexLayoutRe   = regexp.MustCompile(`(?is)display\s*:\s*(?:flex|grid)`)
	srcsetRe       = regexp.MustCompile(`(?is)\bsrcset\s*=|\bsizes\s*=|<picture[\s>]`)
	relativeUnitRe = regexp.MustCompile(`(?is)(?:width|font-size|padding|margin)\s*:\s*[\d.]+(?:%|vw|vh|rem|em)`)
)

// hasMobileViewport requires a viewport meta tag whose content is actually
// mobile-optimized (width=device-width or an initial-scale). A fixed-width
// viewport like content="width=1024" does not count.
func hasMobileViewport(html string) bool {
	tag := viewportTagRe.FindString(html)
	return tag != "" && viewportMobileRe.MatchString(tag)
}

// Responsiveness is judged from independent markup signals rather than
// rendering. Four or more signals give high confidence; a viewport tag
// alone is only a weak hint.
var responsiveSignals = []struct {
	name  string
	match func(string) bool
}{
	{"viewport_meta", hasMobileViewport},
	{"media_queries", mediaQueryRe.MatchString},
	{"flexible_layout", flexLayoutRe.MatchString},
	{"responsive_images", srcsetRe.MatchString},
	{"relative_units", relativeUnitRe.MatchString},
}

// ScanResponsive applies the signal heuristics to homepage markup.
func ScanResponsive(body []byte) *model.ResponsiveGroup {
	html := string(body)

	var detected []string
	for _, sig := range responsiveSignals {
		if sig.match(html) {
			detected = append(detected, sig.name)
		}
	}

	group := &model.ResponsiveGroup{
		SignalsDetected: len(detected),
		Signals:         detected,
	}

	switch {
	case len(detected) >= 4:
		group.Responsive = true
		group.Confidence = "high"
	case len(detected) >= 2:
		group.Responsive = true
		group.Confidence = "medium"
	case len(detected) == 1:
		group.Responsive = detected[0] == "viewport_meta"
		group.Confidence = "low"
	default:
		group.Responsive = false
		group.Confidence = "high"
	}
	return group
}
