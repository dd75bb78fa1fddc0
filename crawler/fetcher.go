package crawler

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/MunishMummadi/web-scrapper/config"
	"github.com/MunishMummadi/web-scrapper/model"
)

const maxResponseBytes = 10 * 1024 * 1024 // Limit response bodies to 10MB

// spaTextThreshold is the visible-text length below which a page is a
// rendering candidate (provided it also carries hydration hooks).
const spaTextThreshold = 200

// fetchStrategy is the one-request contract both fetch paths implement:
// direct HTTP and the headless-browser gateway.
type fetchStrategy interface {
	fetch(ctx context.Context, urlStr string) model.FetchResult
}

// ProxyReporter receives per-target fetch outcomes so the proxy rotation
// can track proxy health. Implemented by proxy.Manager; nil when no
// proxies are configured.
type ProxyReporter interface {
	RecordSuccess(targetURL string)
	RecordFailure(targetURL string)
}

// PageFetcher performs HTTP GETs for the crawler, either directly or via
// a headless-browser gateway once SPA rendering is switched on. The mode
// switch is one-way for the fetcher's lifetime.
type PageFetcher struct {
	mu        sync.RWMutex
	strategy  fetchStrategy
	transport http.RoundTripper
	reporter  ProxyReporter
	spaMode   bool
}

// NewPageFetcher creates a fetcher in direct-HTTP mode. The transport is
// shared with the robots cache and, when proxies are configured, carries
// the proxy rotation; reporter feeds fetch outcomes back to it.
func NewPageFetcher(cfg *config.CrawlConfig, transport http.RoundTripper, reporter ProxyReporter) *PageFetcher {
	f := &PageFetcher{transport: transport, reporter: reporter}
	f.strategy = newDirectStrategy(cfg, transport, reporter)
	return f
}

// Fetch performs a GET for urlStr under the current strategy.
func (f *PageFetcher) Fetch(ctx context.Context, urlStr string) model.FetchResult {
	f.mu.RLock()
	strategy := f.strategy
	f.mu.RUnlock()
	return strategy.fetch(ctx, urlStr)
}

// SpaMode reports whether the fetcher has switched to gateway rendering.
func (f *PageFetcher) SpaMode() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.spaMode
}

// SetSpaRendering switches the fetcher to the headless-browser gateway
// path. The direct path is not re-used afterwards; passing enabled=false
// after the switch is a no-op.
func (f *PageFetcher) SetSpaRendering(enabled bool, gatewayURL string, cfg *config.CrawlConfig) {
	if !enabled || gatewayURL == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spaMode {
		return
	}
	f.spaMode = true
	f.strategy = newGatewayStrategy(cfg, gatewayURL, f.transport)
}

// Rebuild replaces the active strategy with one built from the new config
// snapshot. In-flight requests complete under the prior policy. The SPA
// mode survives a rebuild.
func (f *PageFetcher) Rebuild(cfg *config.CrawlConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spaMode {
		if gw, ok := f.strategy.(*gatewayStrategy); ok {
			f.strategy = newGatewayStrategy(cfg, gw.gatewayURL, f.transport)
			return
		}
	}
	f.strategy = newDirectStrategy(cfg, f.transport, f.reporter)
}

// IsSpaPage applies a conservative heuristic for client-rendered pages:
// negligible text outside script tags plus a hydration-style hook (a
// root/app/__next mount node, data-reactroot, ng-version, or an embedded
// __NEXT_DATA__ payload). The predicate is deterministic for a given
// input.
func (f *PageFetcher) IsSpaPage(content []byte, urlStr string) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return false
	}

	body := doc.Find("body").Clone()
	body.Find("script, style, noscript").Remove()
	visible := strings.Join(strings.Fields(body.Text()), " ")
	if len(visible) >= spaTextThreshold {
		return false
	}

	if doc.Find("#root, #app, #__next, [data-reactroot], [ng-version]").Length() > 0 {
		return true
	}
	return bytes.Contains(content, []byte("__NEXT_DATA__"))
}

// directStrategy fetches pages over plain HTTP.
type directStrategy struct {
	client    *http.Client
	userAgent string
	reporter  ProxyReporter
}

func newDirectStrategy(cfg *config.CrawlConfig, transport http.RoundTripper, reporter ProxyReporter) *directStrategy {
	if cfg.InsecureSkipTLSVerify {
		if t, ok := transport.(*http.Transport); ok {
			t = t.Clone()
			if t.TLSClientConfig == nil {
				t.TLSClientConfig = &tls.Config{}
			}
			t.TLSClientConfig.InsecureSkipVerify = true
			transport = t
		}
	}
	client := &http.Client{
		Timeout:   cfg.RequestTimeout,
		Transport: transport,
	}
	if !cfg.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else {
		maxRedirects := cfg.MaxRedirects
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				// Surface the last 3xx instead of erroring so the
				// classifier sees the status.
				return http.ErrUseLastResponse
			}
			return nil
		}
	}
	return &directStrategy{client: client, userAgent: cfg.UserAgent, reporter: reporter}
}

func (d *directStrategy) fetch(ctx context.Context, urlStr string) model.FetchResult {
	req, err := http.NewRequestWithContext(ctx, "GET", urlStr, nil)
	if err != nil {
		return model.FetchResult{
			FinalURL:           urlStr,
			ErrorMessage:       fmt.Sprintf("invalid request: %v", err),
			TransportErrorCode: transportNetwork,
		}
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		if d.reporter != nil {
			d.reporter.RecordFailure(urlStr)
		}
		return model.FetchResult{
			FinalURL:           urlStr,
			ErrorMessage:       err.Error(),
			TransportErrorCode: classifyTransportError(err),
		}
	}
	defer resp.Body.Close()

	// A response means the proxy path worked, whatever the status says
	// about the target.
	if d.reporter != nil {
		d.reporter.RecordSuccess(urlStr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return model.FetchResult{
			StatusCode:         resp.StatusCode,
			FinalURL:           resp.Request.URL.String(),
			ErrorMessage:       fmt.Sprintf("failed to read response body: %v", err),
			TransportErrorCode: classifyTransportError(err),
		}
	}

	result := model.FetchResult{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Content:     body,
		FinalURL:    resp.Request.URL.String(),
		Success:     resp.StatusCode >= 200 && resp.StatusCode < 300,
		RetryAfter:  parseRetryAfter(resp.Header.Get("Retry-After")),
	}
	if !result.Success {
		result.ErrorMessage = fmt.Sprintf("received status code %d", resp.StatusCode)
	}
	return result
}

// gatewayStrategy renders pages through a headless-browser gateway: the
// target URL is POSTed to the gateway, which returns the rendered HTML as
// if it were the direct response.
type gatewayStrategy struct {
	client     *http.Client
	gatewayURL string
	userAgent  string
	timeout    time.Duration
}

type gatewayRequest struct {
	URL       string `json:"url"`
	UserAgent string `json:"userAgent"`
	TimeoutMs int64  `json:"timeoutMs"`
}

type gatewayResponse struct {
	StatusCode  int    `json:"statusCode"`
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
	FinalURL    string `json:"finalUrl"`
}

func newGatewayStrategy(cfg *config.CrawlConfig, gatewayURL string, transport http.RoundTripper) *gatewayStrategy {
	// The gateway needs headroom beyond the page timeout to boot a
	// browser tab.
	return &gatewayStrategy{
		client: &http.Client{
			Timeout:   cfg.RequestTimeout + 30*time.Second,
			Transport: transport,
		},
		gatewayURL: gatewayURL,
		userAgent:  cfg.UserAgent,
		timeout:    cfg.RequestTimeout,
	}
}

func (g *gatewayStrategy) fetch(ctx context.Context, urlStr string) model.FetchResult {
	payload, err := json.Marshal(gatewayRequest{
		URL:       urlStr,
		UserAgent: g.userAgent,
		TimeoutMs: g.timeout.Milliseconds(),
	})
	if err != nil {
		return model.FetchResult{
			FinalURL:           urlStr,
			ErrorMessage:       fmt.Sprintf("failed to encode gateway request: %v", err),
			TransportErrorCode: transportNetwork,
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", g.gatewayURL, bytes.NewReader(payload))
	if err != nil {
		return model.FetchResult{
			FinalURL:           urlStr,
			ErrorMessage:       fmt.Sprintf("invalid gateway request: %v", err),
			TransportErrorCode: transportNetwork,
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return model.FetchResult{
			FinalURL:           urlStr,
			ErrorMessage:       fmt.Sprintf("gateway request failed: %v", err),
			TransportErrorCode: classifyTransportError(err),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.FetchResult{
			StatusCode:   resp.StatusCode,
			FinalURL:     urlStr,
			ErrorMessage: fmt.Sprintf("gateway returned status %d", resp.StatusCode),
		}
	}

	var rendered gatewayResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&rendered); err != nil {
		return model.FetchResult{
			FinalURL:           urlStr,
			ErrorMessage:       fmt.Sprintf("failed to decode gateway response: %v", err),
			TransportErrorCode: transportNetwork,
		}
	}

	finalURL := rendered.FinalURL
	if finalURL == "" {
		finalURL = urlStr
	}
	contentType := rendered.ContentType
	if contentType == "" {
		contentType = "text/html"
	}

	result := model.FetchResult{
		StatusCode:  rendered.StatusCode,
		ContentType: contentType,
		Content:     []byte(rendered.Content),
		FinalURL:    finalURL,
		Success:     rendered.StatusCode >= 200 && rendered.StatusCode < 300,
	}
	if !result.Success {
		result.ErrorMessage = fmt.Sprintf("received status code %d", rendered.StatusCode)
	}
	return result
}

// classifyTransportError maps a transport-level error to the code the
// FailureClassifier keys off.
func classifyTransportError(err error) string {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return transportDNS
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return transportConnRefused
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return transportTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return transportTimeout
	}
	if strings.Contains(err.Error(), "tls:") || strings.Contains(err.Error(), "x509:") {
		return transportTLS
	}
	return transportNetwork
}

// parseRetryAfter parses a Retry-After header value, accepting both
// delta-seconds and HTTP-date forms.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
