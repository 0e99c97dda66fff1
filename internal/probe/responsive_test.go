package probe

import "testing"

func TestScanResponsive_ModernSite(t *testing.T) {
	html := `<head>
<meta name="viewport" content="width=device-width, initial-scale=1">
<style>
.grid { display: grid; }
@media (max-width: 768px) { .grid { display: block; } }
.hero { width: 100%; font-size: 1.2rem; }
</style>
</head>
<body><img srcset="a.jpg 1x, a@2x.jpg 2x" sizes="100vw"></body>`

	group := ScanResponsive([]byte(html))
	if !group.Responsive {
		t.Error("expected responsive")
	}
	if group.Confidence != "high" {
		t.Errorf("confidence: %q", group.Confidence)
	}
	if group.SignalsDetected != 5 {
		t.Errorf("signals: %d (%v)", group.SignalsDetected, group.Signals)
	}
}

func TestScanResponsive_TwoSignalsMedium(t *testing.T) {
	html := `<meta name="viewport" content="width=device-width">
<style>@media (min-width: 600px) { body { color: red; } }</style>`

	group := ScanResponsive([]byte(html))
	if !group.Responsive || group.Confidence != "medium" {
		t.Errorf("expected responsive/medium, got %v/%q", group.Responsive, group.Confidence)
	}
}

func TestScanResponsive_ViewportOnlyIsLowConfidence(t *testing.T) {
	html := `<meta name="viewport" content="width=device-width">`
	group := ScanResponsive([]byte(html))
	if !group.Responsive || group.Confidence != "low" {
		t.Errorf("viewport-only should be responsive/low, got %v/%q", group.Responsive, group.Confidence)
	}
}

func TestScanResponsive_FixedWidthViewportDoesNotCount(t *testing.T) {
	html := `<meta name="viewport" content="width=1024">`
	group := ScanResponsive([]byte(html))
	if group.Responsive {
		t.Error("fixed-width viewport should not be responsive")
	}
	if group.SignalsDetected != 0 {
		t.Errorf("signals: %v", group.Signals)
	}
}

func TestScanResponsive_InitialScaleCounts(t *testing.T) {
	html := `<meta content="initial-scale=1.0" name="viewport">`
	group := ScanResponsive([]byte(html))
	if !group.Responsive || group.Confidence != "low" {
		t.Errorf("initial-scale viewport should be responsive/low, got %v/%q", group.Responsive, group.Confidence)
	}
}

func TestScanResponsive_LegacySite(t *testing.T) {
	html := `<table width="960"><tr><td>Welcome to our site</td></tr></table>`
	group := ScanResponsive([]byte(html))
	if group.Responsive {
		t.Error("fixed-width table site should not be responsive")
	}
	if group.SignalsDetected != 0 {
		t.Errorf("signals: %v", group.Signals)
	}
}
