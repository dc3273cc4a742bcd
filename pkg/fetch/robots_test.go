package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
)

// robotsServer serves the given robots.txt body and counts requests to it.
func robotsServer(t *testing.T, robotsBody string, robotsStatus int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	robotsRequests := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			robotsRequests.Add(1)
			w.WriteHeader(robotsStatus)
			if robotsStatus == http.StatusOK {
				w.Write([]byte(robotsBody))
			}
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server, robotsRequests
}

func newRobotsFixture(t *testing.T) *RobotsHandler {
	t.Helper()
	cfg := testConfig(0)
	cfg.RateLimit = 0
	fetcher := newTestFetcher(cfg, nil)
	rl := NewRateLimiter(0, logrus.NewEntry(testLogger()))
	return NewRobotsHandler(fetcher, rl, cfg, logrus.NewEntry(testLogger()))
}

func serverURL(t *testing.T, server *httptest.Server, path string) *url.URL {
	t.Helper()
	u, err := url.Parse(server.URL + path)
	if err != nil {
		t.Fatalf("url.Parse() error: %v", err)
	}
	return u
}

func TestAllowed_DisallowedPath(t *testing.T) {
	server, _ := robotsServer(t, "User-agent: *\nDisallow: /private/\n", http.StatusOK)
	rh := newRobotsFixture(t)

	if rh.Allowed(context.Background(), serverURL(t, server, "/private/page.html")) {
		t.Error("Allowed() = true for disallowed path, want false")
	}
	if !rh.Allowed(context.Background(), serverURL(t, server, "/public/page.html")) {
		t.Error("Allowed() = false for allowed path, want true")
	}
}

func TestAllowed_DefaultAllowOnFetchFailure(t *testing.T) {
	server, _ := robotsServer(t, "", http.StatusNotFound)
	rh := newRobotsFixture(t)

	if !rh.Allowed(context.Background(), serverURL(t, server, "/anything")) {
		t.Error("Allowed() = false when robots.txt is missing, want true (default allow)")
	}
}

func TestAllowed_CachesPerHost(t *testing.T) {
	server, robotsRequests := robotsServer(t, "User-agent: *\nDisallow:\n", http.StatusOK)
	rh := newRobotsFixture(t)

	for j := 0; j < 5; j++ {
		rh.Allowed(context.Background(), serverURL(t, server, "/page"))
	}

	if got := robotsRequests.Load(); got != 1 {
		t.Errorf("robots.txt fetched %d times, want 1 (cached per host)", got)
	}
}

func TestAllowed_RespectDisabled(t *testing.T) {
	server, robotsRequests := robotsServer(t, "User-agent: *\nDisallow: /\n", http.StatusOK)
	rh := newRobotsFixture(t)
	rh.cfg.RespectRobots = false

	if !rh.Allowed(context.Background(), serverURL(t, server, "/blocked")) {
		t.Error("Allowed() = false with robots checking disabled, want true")
	}
	if got := robotsRequests.Load(); got != 0 {
		t.Errorf("robots.txt fetched %d times with checking disabled, want 0", got)
	}
}

func TestAllowed_FailureIsCached(t *testing.T) {
	server, robotsRequests := robotsServer(t, "", http.StatusInternalServerError)
	rh := newRobotsFixture(t)

	rh.Allowed(context.Background(), serverURL(t, server, "/a"))
	rh.Allowed(context.Background(), serverURL(t, server, "/b"))

	// First call fetches (and fails), second call hits the cached nil
	if got := robotsRequests.Load(); got != 1 {
		t.Errorf("robots.txt fetched %d times after failure, want 1 (failure cached)", got)
	}
}
