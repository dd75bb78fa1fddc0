package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
	<title> Widgets, Inc. </title>
	<meta name="description" content="All about widgets.">
</head>
<body>
	<h1>Widgets</h1>
	<p>We sell widgets and other things.</p>
	<script>var tracking = "ignore me";</script>
	<a href="/catalog">Catalog</a>
	<a href="about.html">About</a>
	<a href="https://other.test/page?utm_source=feed">Partner</a>
	<a href="#section">Jump</a>
	<a href="mailto:sales@widgets.test">Mail</a>
	<a href="/catalog">Catalog again</a>
</body>
</html>`

func TestParseExtractsFields(t *testing.T) {
	p := NewContentParser()

	parsed := p.Parse([]byte(samplePage), "text/html; charset=utf-8", "http://widgets.test/shop/index.html")

	assert.Equal(t, "Widgets, Inc.", parsed.Title)
	assert.Equal(t, "All about widgets.", parsed.MetaDescription)
	assert.Contains(t, parsed.TextContent, "We sell widgets")
	assert.NotContains(t, parsed.TextContent, "ignore me", "script bodies are not text")

	// Fragment-only and mailto links dropped, duplicates collapsed,
	// relatives resolved, tracking params stripped.
	require.Len(t, parsed.Links, 3)
	assert.Contains(t, parsed.Links, "http://widgets.test/catalog")
	assert.Contains(t, parsed.Links, "http://widgets.test/shop/about.html")
	assert.Contains(t, parsed.Links, "https://other.test/page")
}

func TestParseNonHTMLShortCircuits(t *testing.T) {
	p := NewContentParser()

	parsed := p.Parse([]byte(`{"title": "nope"}`), "application/json", "http://widgets.test/")
	assert.Empty(t, parsed.Title)
	assert.Empty(t, parsed.Links)
	assert.Empty(t, parsed.TextContent)
}

func TestExtractLinksCheapPath(t *testing.T) {
	p := NewContentParser()

	links := p.ExtractLinks([]byte(samplePage), "http://widgets.test/shop/index.html")
	assert.Len(t, links, 3)
}

func TestParseEmptyBody(t *testing.T) {
	p := NewContentParser()

	parsed := p.Parse(nil, "text/html", "http://widgets.test/")
	assert.Empty(t, parsed.Title)
	assert.Empty(t, parsed.Links)
}
