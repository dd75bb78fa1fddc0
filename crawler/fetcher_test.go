package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MunishMummadi/web-scrapper/config"
)

func fetcherConfig() *config.CrawlConfig {
	return &config.CrawlConfig{
		RequestTimeout:  5 * time.Second,
		FollowRedirects: true,
		MaxRedirects:    5,
		UserAgent:       "TestCrawler/1.0",
	}
}

func TestDirectFetchSuccess(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>hello</body></html>")
	}))
	defer srv.Close()

	f := NewPageFetcher(fetcherConfig(), http.DefaultTransport, nil)
	res := f.Fetch(context.Background(), srv.URL)

	assert.True(t, res.Success)
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, "text/html", res.ContentType)
	assert.Contains(t, string(res.Content), "hello")
	assert.Equal(t, "TestCrawler/1.0", gotUA)
}

func TestDirectFetchFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/end", http.StatusFound)
	})
	mux.HandleFunc("/end", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "arrived")
	})

	f := NewPageFetcher(fetcherConfig(), http.DefaultTransport, nil)
	res := f.Fetch(context.Background(), srv.URL+"/start")

	assert.True(t, res.Success)
	assert.Equal(t, srv.URL+"/end", res.FinalURL)
}

func TestDirectFetchRedirectCapSurfacesStatus(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path+"x", http.StatusFound)
	})

	cfg := fetcherConfig()
	cfg.MaxRedirects = 2
	f := NewPageFetcher(cfg, http.DefaultTransport, nil)
	res := f.Fetch(context.Background(), srv.URL+"/")

	assert.False(t, res.Success)
	assert.Equal(t, http.StatusFound, res.StatusCode)
}

func TestDirectFetchRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := NewPageFetcher(fetcherConfig(), http.DefaultTransport, nil)
	res := f.Fetch(context.Background(), srv.URL)

	assert.False(t, res.Success)
	assert.Equal(t, 429, res.StatusCode)
	assert.Equal(t, 2*time.Second, res.RetryAfter)
}

func TestDirectFetchConnectionRefused(t *testing.T) {
	// Reserve a port, then close it so nothing is listening.
	srv := httptest.NewServer(http.NotFoundHandler())
	dead := srv.URL
	srv.Close()

	f := NewPageFetcher(fetcherConfig(), http.DefaultTransport, nil)
	res := f.Fetch(context.Background(), dead)

	assert.False(t, res.Success)
	assert.Equal(t, transportConnRefused, res.TransportErrorCode)
}

func TestIsSpaPage(t *testing.T) {
	f := NewPageFetcher(fetcherConfig(), http.DefaultTransport, nil)

	spa := `<html><body><div id="root"></div><script src="/bundle.js"></script></body></html>`
	assert.True(t, f.IsSpaPage([]byte(spa), "http://a.test/"))

	static := `<html><body><p>` + longText(300) + `</p></body></html>`
	assert.False(t, f.IsSpaPage([]byte(static), "http://a.test/"))

	emptyNoHooks := `<html><body><p>almost nothing</p></body></html>`
	assert.False(t, f.IsSpaPage([]byte(emptyNoHooks), "http://a.test/"))

	nextData := `<html><body><script id="__NEXT_DATA__" type="application/json">{}</script></body></html>`
	assert.True(t, f.IsSpaPage([]byte(nextData), "http://a.test/"))
}

func longText(n int) string {
	s := ""
	for len(s) < n {
		s += "lots of visible words here "
	}
	return s
}

func TestGatewayModeRendersThroughGateway(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var req gatewayRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "http://spa.test/", req.URL)
		assert.Equal(t, "TestCrawler/1.0", req.UserAgent)

		json.NewEncoder(w).Encode(gatewayResponse{
			StatusCode:  200,
			ContentType: "text/html",
			Content:     "<html><body>rendered</body></html>",
			FinalURL:    "http://spa.test/",
		})
	}))
	defer gateway.Close()

	cfg := fetcherConfig()
	f := NewPageFetcher(cfg, http.DefaultTransport, nil)
	f.SetSpaRendering(true, gateway.URL, cfg)
	require.True(t, f.SpaMode())

	res := f.Fetch(context.Background(), "http://spa.test/")
	assert.True(t, res.Success)
	assert.Contains(t, string(res.Content), "rendered")
	assert.Equal(t, "http://spa.test/", res.FinalURL)
}

func TestSpaModeSwitchIsOneWay(t *testing.T) {
	cfg := fetcherConfig()
	f := NewPageFetcher(cfg, http.DefaultTransport, nil)

	f.SetSpaRendering(true, "http://gateway.test/render", cfg)
	require.True(t, f.SpaMode())

	f.SetSpaRendering(false, "", cfg)
	assert.True(t, f.SpaMode())

	// A config rebuild keeps the gateway strategy.
	f.Rebuild(cfg)
	assert.True(t, f.SpaMode())
}

// fakeReporter records per-target outcome reports.
type fakeReporter struct {
	successes []string
	failures  []string
}

func (r *fakeReporter) RecordSuccess(targetURL string) {
	r.successes = append(r.successes, targetURL)
}

func (r *fakeReporter) RecordFailure(targetURL string) {
	r.failures = append(r.failures, targetURL)
}

func TestDirectFetchReportsOutcomes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	reporter := &fakeReporter{}
	f := NewPageFetcher(fetcherConfig(), http.DefaultTransport, reporter)

	// A response, even a 404, means the outbound path worked.
	f.Fetch(context.Background(), srv.URL)
	require.Len(t, reporter.successes, 1)
	assert.Equal(t, srv.URL, reporter.successes[0])

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	f.Fetch(context.Background(), deadURL)
	require.Len(t, reporter.failures, 1)
	assert.Equal(t, deadURL, reporter.failures[0])
}

func TestInsecureSkipTLSVerify(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>self-signed</body></html>")
	}))
	defer srv.Close()

	// The default fetcher rejects the self-signed certificate.
	strict := NewPageFetcher(fetcherConfig(), &http.Transport{}, nil)
	res := strict.Fetch(context.Background(), srv.URL)
	assert.False(t, res.Success)

	cfg := fetcherConfig()
	cfg.InsecureSkipTLSVerify = true
	lax := NewPageFetcher(cfg, &http.Transport{}, nil)
	res = lax.Fetch(context.Background(), srv.URL)
	assert.True(t, res.Success)
	assert.Contains(t, string(res.Content), "self-signed")
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 7*time.Second, parseRetryAfter("7"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-3"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("garbage"))

	future := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	d := parseRetryAfter(future)
	assert.Greater(t, d, 80*time.Second)
}
