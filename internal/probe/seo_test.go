package probe

import "testing"

const sampleHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<title> Acme Widgets | Industrial Supply </title>
<meta content="Acme sells industrial widgets." name="description">
<meta name="robots" content="index, follow">
<meta property="og:title" content="Acme Widgets">
<meta content="summary_large_image" name="twitter:card">
<link href="https://acme.example/" rel="canonical">
<script type="application/ld+json">{"@type":"Organization"}</script>
</head>
<body>
<h1>Acme Widgets</h1>
<h2>Products</h2>
<h2>About Us</h2>
</body>
</html>`

func TestScanSEO_FullPage(t *testing.T) {
	group := ScanSEO([]byte(sampleHTML))

	if group.Title != "Acme Widgets | Industrial Supply" {
		t.Errorf("title: %q", group.Title)
	}
	if group.MetaDescription != "Acme sells industrial widgets." {
		t.Errorf("description: %q", group.MetaDescription)
	}
	if group.RobotsMeta != "index, follow" {
		t.Errorf("robots: %q", group.RobotsMeta)
	}
	if group.Canonical != "https://acme.example/" {
		t.Errorf("canonical: %q", group.Canonical)
	}
	if group.H1Count != 1 || group.H2Count != 2 {
		t.Errorf("headings: h1=%d h2=%d", group.H1Count, group.H2Count)
	}
	if !group.HasOpenGraph || !group.HasTwitterCard || !group.HasJSONLD {
		t.Errorf("structured markup flags: og=%v twitter=%v jsonld=%v",
			group.HasOpenGraph, group.HasTwitterCard, group.HasJSONLD)
	}
}

// Attribute order varies wildly in the wild; content-before-name must parse
// the same as name-before-content.
func TestScanSEO_AttributeOrder(t *testing.T) {
	variants := []string{
		`<meta name="description" content="Order A">`,
		`<meta content="Order A" name="description">`,
		`<META NAME="Description" CONTENT="Order A">`,
		`<meta name='description' content='Order A'>`,
	}
	for _, html := range variants {
		group := ScanSEO([]byte(html))
		if group.MetaDescription != "Order A" {
			t.Errorf("variant %q: description %q", html, group.MetaDescription)
		}
	}
}

func TestScanSEO_EmptyPage(t *testing.T) {
	group := ScanSEO([]byte("<html><body>hello</body></html>"))
	if group.Title != "" || group.H1Count != 0 || group.HasOpenGraph {
		t.Errorf("expected zero-valued group, got %+v", group)
	}
}

func TestScanSEO_FirstDescriptionWins(t *testing.T) {
	html := `<meta name="description" content="first"><meta name="description" content="second">`
	group := ScanSEO([]byte(html))
	if group.MetaDescription != "first" {
		t.Errorf("expected first description, got %q", group.MetaDescription)
	}
}
