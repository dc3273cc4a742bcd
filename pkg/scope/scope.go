package scope

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"sitemirror/pkg/config"
	"sitemirror/pkg/utils"
)

// Filter decides which URLs belong to the crawl. Pages must stay on the
// seed hosts (or their subdomains when configured); resources may live
// anywhere unless exclusion patterns match.
type Filter struct {
	seedHosts  map[string]bool
	exclusions []string
	cfg        *config.Config
	log        *logrus.Entry
}

// NewFilter builds a Filter from the configured base URLs.
func NewFilter(cfg *config.Config, log *logrus.Entry) (*Filter, error) {
	seedHosts := make(map[string]bool, len(cfg.BaseURLs))
	for _, raw := range cfg.BaseURLs {
		u, err := url.ParseRequestURI(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid base URL %q: %v", utils.ErrConfigValidation, raw, err)
		}
		seedHosts[strings.ToLower(u.Hostname())] = true
	}
	return &Filter{
		seedHosts:  seedHosts,
		exclusions: cfg.Exclusions,
		cfg:        cfg,
		log:        log,
	}, nil
}

// onSeedHost reports whether the host matches a seed host exactly, or is
// a subdomain of one when include_subdomains is set.
func (f *Filter) onSeedHost(host string) bool {
	host = strings.ToLower(host)
	if f.seedHosts[host] {
		return true
	}
	if f.cfg.IncludeSubdomains {
		for seed := range f.seedHosts {
			if strings.HasSuffix(host, "."+seed) {
				return true
			}
		}
	}
	return false
}

// excluded reports whether the URL string contains any exclusion pattern.
func (f *Filter) excluded(urlStr string) bool {
	for _, pattern := range f.exclusions {
		if pattern != "" && strings.Contains(urlStr, pattern) {
			return true
		}
	}
	return false
}

// AllowPage checks whether a page URL may be crawled. Returns a wrapped
// ErrScopeViolation describing the reason when it may not.
func (f *Filter) AllowPage(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", utils.ErrScopeViolation, u.Scheme)
	}
	if !f.cfg.FollowExternalLinks && !f.onSeedHost(u.Hostname()) {
		return fmt.Errorf("%w: host %q is off-site", utils.ErrScopeViolation, u.Hostname())
	}
	if f.excluded(u.String()) {
		return fmt.Errorf("%w: URL matches exclusion pattern", utils.ErrScopeViolation)
	}
	return nil
}

// AllowResource checks whether a resource URL may be downloaded.
// Resources on third-party hosts (CDNs) are allowed; only scheme and
// exclusion patterns apply.
func (f *Filter) AllowResource(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", utils.ErrScopeViolation, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", utils.ErrScopeViolation)
	}
	if f.excluded(u.String()) {
		return fmt.Errorf("%w: URL matches exclusion pattern", utils.ErrScopeViolation)
	}
	return nil
}
