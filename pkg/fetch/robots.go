package fetch

import (
	"context"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"

	"sitemirror/pkg/config"
	"sitemirror/pkg/utils"
)

// RobotsHandler manages fetching, parsing, caching, and checking robots.txt data
type RobotsHandler struct {
	fetcher       *Fetcher
	rateLimiter   *RateLimiter
	robotsCache   map[string]*robotstxt.RobotsData // hostname -> parsed data (or nil)
	robotsCacheMu sync.Mutex
	cfg           *config.Config
	log           *logrus.Entry
}

// NewRobotsHandler creates a RobotsHandler
func NewRobotsHandler(fetcher *Fetcher, rateLimiter *RateLimiter, cfg *config.Config, log *logrus.Entry) *RobotsHandler {
	return &RobotsHandler{
		fetcher:     fetcher,
		rateLimiter: rateLimiter,
		robotsCache: make(map[string]*robotstxt.RobotsData),
		cfg:         cfg,
		log:         log,
	}
}

// getRobotsData retrieves robots.txt data for the targetURL's host, using cache or fetching
// Returns parsed data or nil on any error/4xx/missing file
func (rh *RobotsHandler) getRobotsData(ctx context.Context, targetURL *url.URL) *robotstxt.RobotsData {
	host := targetURL.Hostname()
	hostLog := rh.log.WithField("host", host)

	rh.robotsCacheMu.Lock()
	robotsData, found := rh.robotsCache[host]
	rh.robotsCacheMu.Unlock()
	if found {
		return robotsData // Cached result, possibly nil
	}

	robotsURL := &url.URL{Scheme: targetURL.Scheme, Host: targetURL.Host, Path: "/robots.txt"}
	if targetURL.Scheme != "http" && targetURL.Scheme != "https" {
		hostLog.Warnf("Invalid scheme '%s', defaulting to https for robots.txt", targetURL.Scheme)
		robotsURL.Scheme = "https"
	}
	robotsURLStr := robotsURL.String()
	robotsLog := hostLog.WithField("robots_url", robotsURLStr)
	robotsLog.Info("Fetching robots.txt...") // Log only on cache miss

	rh.rateLimiter.ApplyDelay(ctx, host, rh.cfg.RateLimit)
	result, fetchErr := rh.fetcher.Fetch(ctx, robotsURLStr)
	rh.rateLimiter.UpdateLastRequestTime(host)

	cacheResult := func(data *robotstxt.RobotsData) *robotstxt.RobotsData {
		rh.robotsCacheMu.Lock()
		rh.robotsCache[host] = data
		rh.robotsCacheMu.Unlock()
		return data
	}

	if fetchErr != nil {
		robotsLog.Warnf("Fetching robots.txt failed (%s): %v", utils.CategorizeError(fetchErr), fetchErr)
		return cacheResult(nil)
	}

	data, err := robotstxt.FromBytes(result.Body)
	if err != nil {
		robotsLog.Errorf("Error parsing robots.txt content: %v", err)
		return cacheResult(nil)
	}

	robotsLog.Info("Successfully fetched and parsed robots.txt")
	return cacheResult(data)
}

// Allowed checks if the configured user agent may access the URL.
// Returns true when robots checking is disabled or the robots.txt could
// not be fetched or parsed.
func (rh *RobotsHandler) Allowed(ctx context.Context, targetURL *url.URL) bool {
	if !rh.cfg.RespectRobots {
		return true
	}

	robotsData := rh.getRobotsData(ctx, targetURL)

	// Assume allowed if robots data could not be obtained
	if robotsData == nil {
		return true
	}

	return robotsData.TestAgent(targetURL.RequestURI(), rh.cfg.UserAgent)
}
