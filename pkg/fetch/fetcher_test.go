package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"sitemirror/pkg/cache"
	"sitemirror/pkg/config"
	"sitemirror/pkg/utils"
)

// testConfig returns a Config with fast retry settings for testing
func testConfig(retries int) *config.Config {
	cfg := config.Default()
	cfg.Retries = retries
	cfg.UserAgent = "test-agent"
	return &cfg
}

// testLogger returns a logger that discards output
func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// testClient returns an http.Client suitable for testing
func testClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// newTestFetcher builds a Fetcher with short backoff delays.
func newTestFetcher(cfg *config.Config, responseCache *cache.BadgerCache) *Fetcher {
	f := NewFetcher(testClient(), cfg, responseCache, testLogger())
	f.initialRetryDelay = 10 * time.Millisecond
	f.maxRetryDelay = 50 * time.Millisecond
	return f
}

func newTestCache(t *testing.T) *cache.BadgerCache {
	t.Helper()
	c, err := cache.Open(t.TempDir(), logrus.NewEntry(testLogger()))
	if err != nil {
		t.Fatalf("cache.Open() error: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// mockServer creates an httptest.Server that returns status codes in sequence.
// Returns the server and an atomic counter tracking request attempts.
func mockServer(t *testing.T, statusCodes []int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	attemptCount := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idx := int(attemptCount.Add(1)) - 1
		if idx >= len(statusCodes) {
			idx = len(statusCodes) - 1 // repeat last status
		}
		w.WriteHeader(statusCodes[idx])
		if statusCodes[idx] == http.StatusOK {
			io.WriteString(w, "body content")
		}
	}))
	t.Cleanup(server.Close)
	return server, attemptCount
}

func TestFetch_Success(t *testing.T) {
	server, attempts := mockServer(t, []int{http.StatusOK})

	fetcher := newTestFetcher(testConfig(3), nil)
	result, err := fetcher.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if string(result.Body) != "body content" {
		t.Errorf("Fetch() body = %q, want %q", result.Body, "body content")
	}
	if result.FromCache {
		t.Error("Fetch() FromCache = true, want false")
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("Request count = %d, want 1", got)
	}
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	server, attempts := mockServer(t, []int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusOK})

	fetcher := newTestFetcher(testConfig(3), nil)
	result, err := fetcher.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if result.StatusCode != http.StatusOK {
		t.Errorf("Fetch() status = %d, want 200", result.StatusCode)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("Request count = %d, want 3", got)
	}
}

func TestFetch_Retries429(t *testing.T) {
	server, attempts := mockServer(t, []int{http.StatusTooManyRequests, http.StatusOK})

	fetcher := newTestFetcher(testConfig(3), nil)
	_, err := fetcher.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("Request count = %d, want 2", got)
	}
}

func TestFetch_NoRetryOn404(t *testing.T) {
	server, attempts := mockServer(t, []int{http.StatusNotFound})

	fetcher := newTestFetcher(testConfig(3), nil)
	_, err := fetcher.Fetch(context.Background(), server.URL)
	if !errors.Is(err, utils.ErrClientHTTPError) {
		t.Fatalf("Fetch() error = %v, want ErrClientHTTPError", err)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("Request count = %d, want 1 (no retries for 4xx)", got)
	}
}

func TestFetch_AllRetriesFail(t *testing.T) {
	server, attempts := mockServer(t, []int{http.StatusInternalServerError})

	fetcher := newTestFetcher(testConfig(2), nil)
	_, err := fetcher.Fetch(context.Background(), server.URL)
	if !errors.Is(err, utils.ErrRetryFailed) {
		t.Fatalf("Fetch() error = %v, want ErrRetryFailed", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("Request count = %d, want 3 (initial + 2 retries)", got)
	}
}

func TestFetch_ContextCancellation(t *testing.T) {
	server, _ := mockServer(t, []int{http.StatusInternalServerError})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := newTestFetcher(testConfig(3), nil)
	_, err := fetcher.Fetch(ctx, server.URL)
	if err == nil {
		t.Fatal("Fetch() with cancelled context returned nil error")
	}
}

func TestFetch_SendsConfiguredHeaders(t *testing.T) {
	var gotUA, gotCustom, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotCustom = r.Header.Get("X-Custom")
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	cfg := testConfig(0)
	cfg.Headers = map[string]string{"X-Custom": "custom-value"}
	cfg.BearerToken = "secret-token"

	fetcher := newTestFetcher(cfg, nil)
	if _, err := fetcher.Fetch(context.Background(), server.URL); err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}

	if gotUA != "test-agent" {
		t.Errorf("User-Agent = %q, want %q", gotUA, "test-agent")
	}
	if gotCustom != "custom-value" {
		t.Errorf("X-Custom = %q, want %q", gotCustom, "custom-value")
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
}

func TestFetch_BasicAuth(t *testing.T) {
	var user, pass string
	var ok bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok = r.BasicAuth()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	cfg := testConfig(0)
	cfg.BasicAuthUser = "alice"
	cfg.BasicAuthPass = "hunter2"

	fetcher := newTestFetcher(cfg, nil)
	if _, err := fetcher.Fetch(context.Background(), server.URL); err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if !ok || user != "alice" || pass != "hunter2" {
		t.Errorf("BasicAuth = (%q, %q, %v), want (alice, hunter2, true)", user, pass, ok)
	}
}

func TestFetch_ConditionalRequestServes304FromCache(t *testing.T) {
	var sawIfNoneMatch string
	requestCount := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		sawIfNoneMatch = r.Header.Get("If-None-Match")
		if sawIfNoneMatch == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "<html>cached</html>")
	}))
	t.Cleanup(server.Close)

	fetcher := newTestFetcher(testConfig(0), newTestCache(t))

	// First fetch populates the cache
	first, err := fetcher.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("First Fetch() error: %v", err)
	}
	if first.FromCache {
		t.Error("First Fetch() FromCache = true, want false")
	}

	// Second fetch sends the validator and serves the 304 body from cache
	second, err := fetcher.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Second Fetch() error: %v", err)
	}
	if !second.FromCache {
		t.Error("Second Fetch() FromCache = false, want true")
	}
	if string(second.Body) != "<html>cached</html>" {
		t.Errorf("Second Fetch() body = %q, want cached body", second.Body)
	}
	if second.ContentType != "text/html" {
		t.Errorf("Second Fetch() content type = %q, want text/html", second.ContentType)
	}
	if sawIfNoneMatch != `"v1"` {
		t.Errorf("If-None-Match = %q, want %q", sawIfNoneMatch, `"v1"`)
	}
}

func TestFetch_TooLargeByContentLength(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		w.WriteHeader(http.StatusOK)
		w.Write(make([]byte, 1000))
	}))
	t.Cleanup(server.Close)

	cfg := testConfig(0)
	cfg.MaxFileSize = 100

	fetcher := newTestFetcher(cfg, nil)
	_, err := fetcher.Fetch(context.Background(), server.URL)
	if !errors.Is(err, utils.ErrTooLarge) {
		t.Fatalf("Fetch() error = %v, want ErrTooLarge", err)
	}
}

func TestFetch_TooLargeWithoutContentLength(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		// Write in chunks so no Content-Length is set
		for j := 0; j < 10; j++ {
			w.Write(make([]byte, 100))
			flusher.Flush()
		}
	}))
	t.Cleanup(server.Close)

	cfg := testConfig(0)
	cfg.MaxFileSize = 500

	fetcher := newTestFetcher(cfg, nil)
	_, err := fetcher.Fetch(context.Background(), server.URL)
	if !errors.Is(err, utils.ErrTooLarge) {
		t.Fatalf("Fetch() error = %v, want ErrTooLarge", err)
	}
}

func TestFetch_IgnoredMIMEType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip; charset=binary")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	cfg := testConfig(0)
	cfg.IgnoreMIMETypes = []string{"application/zip"}

	fetcher := newTestFetcher(cfg, nil)
	_, err := fetcher.Fetch(context.Background(), server.URL)
	if !errors.Is(err, utils.ErrIgnoredMIME) {
		t.Fatalf("Fetch() error = %v, want ErrIgnoredMIME", err)
	}
}
