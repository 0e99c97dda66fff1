package model

import "time"

// WebsiteAnalysisRecord collects probe results for one customer+URL pair.
// Each pointer group is populated atomically: a probe either fully succeeds
// and sets its group, or fails and leaves it nil. Partial field-level writes
// within a group must not occur.
type WebsiteAnalysisRecord struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	URL        string    `json:"url"`
	CreatedAt  time.Time `json:"created_at"`

	SSL         *SSLGroup         `json:"ssl,omitempty"`
	Performance *PerformanceGroup `json:"performance,omitempty"`
	Responsive  *ResponsiveGroup  `json:"responsive,omitempty"`
	TechStack   *TechStackGroup   `json:"tech_stack,omitempty"`
	SEO         *SEOGroup         `json:"seo,omitempty"`
	Crawl       *CrawlGroup       `json:"crawl,omitempty"`
	Domain      *DomainGroup      `json:"domain,omitempty"`
	Security    *SecurityGroup    `json:"security,omitempty"`
	Screenshots *ScreenshotGroup  `json:"screenshots,omitempty"`
	Social      *SocialGroup      `json:"social,omitempty"`
}

// SSLGroup holds certificate facts for the site.
type SSLGroup struct {
	Valid     bool      `json:"valid"`
	Issuer    string    `json:"issuer,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// PerformanceGroup holds Core Web Vitals and category scores.
type PerformanceGroup struct {
	PerformanceScore   int     `json:"performance_score"`
	AccessibilityScore int     `json:"accessibility_score"`
	BestPracticesScore int     `json:"best_practices_score"`
	SEOScore           int     `json:"seo_score"`
	FirstContentfulMs  float64 `json:"first_contentful_ms"`
	LargestContentMs   float64 `json:"largest_content_ms"`
	CumulativeShift    float64 `json:"cumulative_shift"`
	TotalBlockingMs    float64 `json:"total_blocking_ms"`
}

// ResponsiveGroup holds the mobile-friendliness heuristic outcome.
type ResponsiveGroup struct {
	Responsive      bool     `json:"responsive"`
	Confidence      string   `json:"confidence"` // high, medium, low
	SignalsDetected int      `json:"signals_detected"`
	Signals         []string `json:"signals,omitempty"`
}

// TechStackGroup lists detected technologies grouped by category.
type TechStackGroup struct {
	Technologies map[string][]string `json:"technologies"`
}

// SEOGroup holds on-page SEO facts extracted from the homepage markup.
type SEOGroup struct {
	Title           string `json:"title,omitempty"`
	MetaDescription string `json:"meta_description,omitempty"`
	Canonical       string `json:"canonical,omitempty"`
	RobotsMeta      string `json:"robots_meta,omitempty"`
	H1Count         int    `json:"h1_count"`
	H2Count         int    `json:"h2_count"`
	HasOpenGraph    bool   `json:"has_open_graph"`
	HasTwitterCard  bool   `json:"has_twitter_card"`
	HasJSONLD       bool   `json:"has_json_ld"`
}

// CrawlGroup holds robots.txt and sitemap findings.
type CrawlGroup struct {
	Indexable     bool   `json:"indexable"`
	RobotsFound   bool   `json:"robots_found"`
	SitemapURL    string `json:"sitemap_url,omitempty"`
	SitemapIsIdx  bool   `json:"sitemap_is_index"`
	SitemapCount  int    `json:"sitemap_count"`
	DisallowCount int    `json:"disallow_count"`
}

// DomainGroup holds WHOIS registration facts plus derived fields.
type DomainGroup struct {
	Registrar       string     `json:"registrar,omitempty"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	AgeYears        float64    `json:"age_years"`
	DaysUntilExpiry int        `json:"days_until_expiry"`
	Country         string     `json:"country,omitempty"`
}

// SecurityGroup holds response-header security posture.
type SecurityGroup struct {
	HSTS               bool `json:"hsts"`
	ContentSecurity    bool `json:"content_security_policy"`
	XFrameOptions      bool `json:"x_frame_options"`
	XContentTypeNoSnif bool `json:"x_content_type_nosniff"`
	ReferrerPolicy     bool `json:"referrer_policy"`
}

// SocialGroup holds the social profile links found on the homepage and
// whether each still resolves.
type SocialGroup struct {
	Profiles  []SocialProfile `json:"profiles"`
	LiveCount int             `json:"live_count"`
}

// SocialProfile is one discovered profile link. Live means the URL answered
// with a non-error status.
type SocialProfile struct {
	Network string `json:"network"`
	URL     string `json:"url"`
	Live    bool   `json:"live"`
	Err     string `json:"error,omitempty"`
}

// ScreenshotGroup holds captured screenshot locations.
type ScreenshotGroup struct {
	DesktopURL string    `json:"desktop_url,omitempty"`
	MobileURL  string    `json:"mobile_url,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}
