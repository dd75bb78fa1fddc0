package crawler

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/MunishMummadi/web-scrapper/model"
	"github.com/MunishMummadi/web-scrapper/urlutil"
)

// ContentParser extracts title, meta description, text content and
// absolute links from HTML. Non-HTML content types short-circuit to an
// empty parse; decoding bytes is this component's job, not the fetcher's.
type ContentParser struct{}

// NewContentParser creates a new parser.
func NewContentParser() *ContentParser {
	return &ContentParser{}
}

// isHTMLContentType reports whether the declared content type is worth
// parsing. An empty content type is given the benefit of the doubt.
func isHTMLContentType(contentType string) bool {
	if contentType == "" {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

// Parse extracts the page title, meta description, visible text and
// absolute canonical links from content, resolving relative links against
// baseURL.
func (p *ContentParser) Parse(content []byte, contentType, baseURL string) model.ParsedContent {
	if !isHTMLContentType(contentType) {
		return model.ParsedContent{}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return model.ParsedContent{}
	}

	parsed := model.ParsedContent{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		Links: extractLinksFromDoc(doc, baseURL),
	}

	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		parsed.MetaDescription = strings.TrimSpace(desc)
	}

	body := doc.Find("body").Clone()
	body.Find("script, style, noscript").Remove()
	parsed.TextContent = collapseWhitespace(body.Text())

	return parsed
}

// ExtractLinks is the cheap path used when a full parse is not needed.
func (p *ContentParser) ExtractLinks(content []byte, baseURL string) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil
	}
	return extractLinksFromDoc(doc, baseURL)
}

// extractLinksFromDoc resolves every anchor against base and returns the
// absolute canonical URLs, deduplicated in document order. Fragment-only
// links and non-http(s) schemes are dropped.
func extractLinksFromDoc(doc *goquery.Document, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var links []string

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}

		canonical, err := urlutil.Canonicalize(abs.String())
		if err != nil {
			return
		}
		if _, dup := seen[canonical]; dup {
			return
		}
		seen[canonical] = struct{}{}
		links = append(links, canonical)
	})

	return links
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
