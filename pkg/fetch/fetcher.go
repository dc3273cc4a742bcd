package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"sitemirror/pkg/cache"
	"sitemirror/pkg/config"
	"sitemirror/pkg/utils"
)

const (
	defaultInitialRetryDelay = 1 * time.Second
	defaultMaxRetryDelay     = 30 * time.Second
)

// Result is the outcome of a successful fetch.
type Result struct {
	Body        []byte
	ContentType string
	StatusCode  int
	FromCache   bool // True when the origin replied 304 and the body came from cache
}

// Fetcher performs HTTP requests with conditional caching and a retry
// mechanism with exponential backoff and jitter for transient network
// errors and specific HTTP status codes (5xx, 429).
type Fetcher struct {
	client *http.Client
	cfg    *config.Config
	cache  *cache.BadgerCache // May be nil when caching is disabled
	log    *logrus.Logger

	initialRetryDelay time.Duration
	maxRetryDelay     time.Duration
}

// NewFetcher creates a new Fetcher instance
func NewFetcher(client *http.Client, cfg *config.Config, responseCache *cache.BadgerCache, log *logrus.Logger) *Fetcher {
	return &Fetcher{
		client:            client,
		cfg:               cfg,
		cache:             responseCache,
		log:               log,
		initialRetryDelay: defaultInitialRetryDelay,
		maxRetryDelay:     defaultMaxRetryDelay,
	}
}

// Fetch downloads a URL, issuing a conditional request when validators
// are cached. A 304 reply is served from the cache; fresh 2xx bodies are
// stored back with their ETag and Last-Modified validators.
func (f *Fetcher) Fetch(ctx context.Context, urlStr string) (*Result, error) {
	req, err := http.NewRequest(http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrRequestCreation, err)
	}
	f.applyHeaders(req)

	var cached cache.Entry
	var haveCached bool
	if f.cache != nil {
		cached, haveCached = f.cache.Validators(urlStr)
		if haveCached {
			if cached.ETag != "" {
				req.Header.Set("If-None-Match", cached.ETag)
			}
			if cached.LastModified != "" {
				req.Header.Set("If-Modified-Since", cached.LastModified)
			}
		}
	}

	resp, err := f.fetchWithRetry(ctx, req)
	if err != nil {
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		return nil, err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotModified {
		if f.cache == nil || !haveCached {
			return nil, fmt.Errorf("%w: %s", utils.ErrNotCached, urlStr)
		}
		body, entry, loadErr := f.cache.Load(urlStr)
		if loadErr != nil {
			return nil, loadErr
		}
		f.log.WithField("url", urlStr).Debug("Origin replied 304, serving cached body")
		return &Result{
			Body:        body,
			ContentType: entry.ContentType,
			StatusCode:  resp.StatusCode,
			FromCache:   true,
		}, nil
	}

	// Size check before reading the body, when the origin declares a length
	if f.cfg.MaxFileSize > 0 && resp.ContentLength > f.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes (limit %d) for %s",
			utils.ErrTooLarge, resp.ContentLength, f.cfg.MaxFileSize, urlStr)
	}

	contentType := resp.Header.Get("Content-Type")
	if f.mimeIgnored(contentType) {
		return nil, fmt.Errorf("%w: %q for %s", utils.ErrIgnoredMIME, contentType, urlStr)
	}

	// Read the body, enforcing the size cap for responses without Content-Length
	reader := io.Reader(resp.Body)
	if f.cfg.MaxFileSize > 0 {
		reader = io.LimitReader(resp.Body, f.cfg.MaxFileSize+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrResponseBodyRead, err)
	}
	if f.cfg.MaxFileSize > 0 && int64(len(body)) > f.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: body exceeds %d bytes for %s",
			utils.ErrTooLarge, f.cfg.MaxFileSize, urlStr)
	}

	if f.cache != nil {
		entry := cache.Entry{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			ContentType:  contentType,
		}
		if storeErr := f.cache.Store(urlStr, body, entry); storeErr != nil {
			// Cache failures are not fatal to the fetch
			f.log.WithField("url", urlStr).Warnf("Failed to store response in cache: %v", storeErr)
		}
	}

	return &Result{
		Body:        body,
		ContentType: contentType,
		StatusCode:  resp.StatusCode,
	}, nil
}

// StoreRendered saves a rendered page body to the cache without
// validators. Rendered output never matches origin validators, so later
// conditional requests start fresh.
func (f *Fetcher) StoreRendered(urlStr string, body []byte, contentType string) {
	if f.cache == nil {
		return
	}
	if err := f.cache.Store(urlStr, body, cache.Entry{ContentType: contentType}); err != nil {
		f.log.WithField("url", urlStr).Warnf("Failed to store rendered page in cache: %v", err)
	}
}

// applyHeaders sets the user agent, configured custom headers, and
// authentication on an outgoing request.
func (f *Fetcher) applyHeaders(req *http.Request) {
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	for name, value := range f.cfg.Headers {
		req.Header.Set(name, value)
	}
	switch {
	case f.cfg.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+f.cfg.BearerToken)
	case f.cfg.BasicAuthUser != "":
		req.SetBasicAuth(f.cfg.BasicAuthUser, f.cfg.BasicAuthPass)
	}
}

// mimeIgnored reports whether the response media type matches one of the
// configured ignore patterns. Patterns compare against the bare media
// type, ignoring parameters like charset.
func (f *Fetcher) mimeIgnored(contentType string) bool {
	if len(f.cfg.IgnoreMIMETypes) == 0 || contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	for _, ignored := range f.cfg.IgnoreMIMETypes {
		if strings.EqualFold(mediaType, ignored) {
			return true
		}
	}
	return false
}

// fetchWithRetry executes the request, retrying transient failures with
// exponential backoff and +/- 10% jitter. On success (2xx or 304) the
// caller owns the response body; for terminal 4xx errors the response is
// returned alongside the error so headers remain inspectable.
func (f *Fetcher) fetchWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	var currentResp *http.Response

	reqLog := f.log.WithField("url", req.URL.String())
	maxRetries := f.cfg.Retries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		// Check if the context has been cancelled before making the attempt
		select {
		case <-ctx.Done():
			reqLog.Warnf("Context cancelled before attempt %d: %v", attempt, ctx.Err())
			if lastErr != nil {
				return nil, fmt.Errorf("context cancelled (%v) during retry backoff after error: %w", ctx.Err(), lastErr)
			}
			return nil, fmt.Errorf("context cancelled before first attempt: %w", ctx.Err())
		default:
		}

		// Apply delay only before retry attempts, not before the first attempt
		if attempt > 0 {
			backoff := float64(f.initialRetryDelay) * math.Pow(2, float64(attempt-1))
			delay := time.Duration(backoff)
			if delay <= 0 || delay > f.maxRetryDelay {
				delay = f.maxRetryDelay
			}

			// Add jitter: +/- 10% of the calculated delay
			var jitter time.Duration
			if delay > 0 {
				jitter = time.Duration(rand.Int63n(int64(delay)/5)) - (delay / 10)
			}
			finalDelay := delay + jitter
			if finalDelay < 0 {
				finalDelay = 0
			}

			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": maxRetries, "delay": finalDelay}).Warn("Retrying request...")

			select {
			case <-time.After(finalDelay):
			case <-ctx.Done():
				reqLog.Warnf("Context cancelled during retry sleep: %v", ctx.Err())
				if lastErr != nil {
					return nil, fmt.Errorf("context cancelled (%v) during retry delay after error: %w", ctx.Err(), lastErr)
				}
				return nil, fmt.Errorf("context cancelled during retry delay: %w", ctx.Err())
			}
		}

		reqWithCtx := req.WithContext(ctx)
		currentResp, lastErr = f.client.Do(reqWithCtx)

		// Network-level errors occur before getting an HTTP response
		if lastErr != nil {
			if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
				reqLog.Warnf("Context cancelled/timed out during HTTP request execution: %v", lastErr)
				if currentResp != nil {
					io.Copy(io.Discard, currentResp.Body)
					currentResp.Body.Close()
				}
				return nil, lastErr
			}

			reqLog.WithField("attempt", attempt).Errorf("Network error: %v", lastErr)
			if currentResp != nil {
				io.Copy(io.Discard, currentResp.Body)
				currentResp.Body.Close()
			}
			continue
		}

		statusCode := currentResp.StatusCode
		resLog := reqLog.WithFields(logrus.Fields{"status_code": statusCode, "attempt": attempt})

		switch {
		case statusCode >= 200 && statusCode < 300:
			resLog.Debug("Successfully fetched")
			return currentResp, nil

		case statusCode == http.StatusNotModified:
			// Conditional hit; caller serves the body from cache
			resLog.Debug("Not modified")
			return currentResp, nil

		case statusCode >= 500:
			// Server errors are potentially transient, so retry
			resLog.Warn("Server error, retrying...")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, statusCode, currentResp.Status)
			io.Copy(io.Discard, currentResp.Body)
			currentResp.Body.Close()
			continue

		case statusCode == http.StatusTooManyRequests:
			resLog.Warn("Received 429 Too Many Requests, retrying...")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, currentResp.Status)
			io.Copy(io.Discard, currentResp.Body)
			currentResp.Body.Close()
			continue

		case statusCode >= 400 && statusCode < 500:
			// Other client errors are not retryable (404, 403, ...)
			resLog.Warn("Client error (4xx), not retrying")
			return currentResp, fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, currentResp.Status)

		default:
			resLog.Warnf("Non-retryable/unexpected status: %d", statusCode)
			return currentResp, fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, statusCode, currentResp.Status)
		}
	}

	// All attempts (initial + retries) have failed
	reqLog.Errorf("All %d fetch attempts failed. Last error: %v", maxRetries+1, lastErr)
	if currentResp != nil {
		io.Copy(io.Discard, currentResp.Body)
		currentResp.Body.Close()
	}

	if lastErr != nil {
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return nil, lastErr
		}
		return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
	}
	return nil, utils.ErrRetryFailed
}
