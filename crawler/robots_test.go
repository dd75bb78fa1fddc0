package crawler

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRobots = `User-agent: *
Disallow: /private/
Crawl-delay: 2

User-agent: TestCrawler
Disallow: /secret/
Crawl-delay: 1
`

func robotsServer(t *testing.T, body string, status int) (*httptest.Server, string) {
	t.Helper()
	var fetches int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			atomic.AddInt32(&fetches, 1)
			w.WriteHeader(status)
			fmt.Fprint(w, body)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return srv, u.Host
}

func TestIsAllowedHonorsDisallow(t *testing.T) {
	srv, _ := robotsServer(t, sampleRobots, http.StatusOK)
	rc := NewRobotsCache(http.DefaultTransport, false)

	assert.True(t, rc.IsAllowed(srv.URL+"/public/page", "TestCrawler"))
	assert.False(t, rc.IsAllowed(srv.URL+"/secret/page", "TestCrawler"))
	// The wildcard group applies to an agent without its own group.
	assert.False(t, rc.IsAllowed(srv.URL+"/private/page", "OtherBot"))
	assert.True(t, rc.IsAllowed(srv.URL+"/secret/page", "OtherBot"))
}

func TestCrawlDelayPerAgent(t *testing.T) {
	srv, host := robotsServer(t, sampleRobots, http.StatusOK)
	rc := NewRobotsCache(http.DefaultTransport, false)
	_ = srv

	assert.Equal(t, 1*time.Second, rc.CrawlDelay("http", host, "TestCrawler"))
	assert.Equal(t, 2*time.Second, rc.CrawlDelay("http", host, "OtherBot"))
}

func TestTestModeClampsCrawlDelay(t *testing.T) {
	srv, host := robotsServer(t, sampleRobots, http.StatusOK)
	rc := NewRobotsCache(http.DefaultTransport, true)
	_ = srv

	assert.Equal(t, testModeCrawlDelay, rc.CrawlDelay("http", host, "TestCrawler"))
}

func TestUnreachableRobotsAllowsAll(t *testing.T) {
	srv, _ := robotsServer(t, "nope", http.StatusNotFound)
	rc := NewRobotsCache(http.DefaultTransport, false)

	assert.True(t, rc.IsAllowed(srv.URL+"/anything", "TestCrawler"))

	// A host that refuses the connection also allows everything.
	rc2 := NewRobotsCache(http.DefaultTransport, false)
	assert.True(t, rc2.IsAllowed("http://127.0.0.1:1/page", "TestCrawler"))
}

func TestRobotsCachePerHost(t *testing.T) {
	var fetches int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
		fmt.Fprint(w, "User-agent: *\nDisallow:\n")
	}))
	defer srv.Close()

	rc := NewRobotsCache(http.DefaultTransport, false)
	for i := 0; i < 5; i++ {
		rc.IsAllowed(fmt.Sprintf("%s/page/%d", srv.URL, i), "TestCrawler")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&fetches))
}

func TestIsAllowedMalformedURL(t *testing.T) {
	rc := NewRobotsCache(http.DefaultTransport, false)
	assert.False(t, rc.IsAllowed("://bad", "TestCrawler"))
}
