package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"sitemirror/pkg/utils"
)

// Validate checks the configuration for fatal problems and logs warnings
// for questionable but workable values. It returns a wrapped
// ErrConfigValidation listing every fatal problem found.
func (c *Config) Validate(log *logrus.Logger) error {
	var problems []string

	if len(c.BaseURLs) == 0 {
		problems = append(problems, "at least one base URL is required")
	}
	for _, raw := range c.BaseURLs {
		u, err := url.ParseRequestURI(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("base URL %q is not a valid absolute URL", raw))
			continue
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			problems = append(problems, fmt.Sprintf("base URL %q must use http or https", raw))
		}
		if u.Host == "" {
			problems = append(problems, fmt.Sprintf("base URL %q has no host", raw))
		}
	}

	if c.OutputDir == "" {
		problems = append(problems, "output_dir must not be empty")
	}
	if c.Concurrency < 1 {
		problems = append(problems, fmt.Sprintf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if c.Timeout <= 0 {
		problems = append(problems, "timeout must be positive")
	}
	if c.Retries < 0 {
		problems = append(problems, fmt.Sprintf("retries must not be negative, got %d", c.Retries))
	}
	if c.MaxDepth < 0 {
		problems = append(problems, fmt.Sprintf("max_depth must not be negative, got %d", c.MaxDepth))
	}
	if c.RateLimit < 0 {
		problems = append(problems, "rate_limit must not be negative")
	}
	if c.MaxFileSize < 0 {
		problems = append(problems, "max_file_size must not be negative")
	}
	if c.MaxPages < 0 || c.MaxResources < 0 || c.MaxImages < 0 {
		problems = append(problems, "max_pages, max_resources, and max_images must not be negative")
	}

	switch c.Layout {
	case LayoutKeep, LayoutFlatten:
	default:
		problems = append(problems, fmt.Sprintf("layout must be %q or %q, got %q", LayoutKeep, LayoutFlatten, c.Layout))
	}

	if c.Proxy != "" {
		if _, err := url.Parse(c.Proxy); err != nil {
			problems = append(problems, fmt.Sprintf("proxy %q is not a valid URL", c.Proxy))
		}
	}

	if c.Render.Enabled {
		if c.Render.WaitAfterLoad < 0 {
			problems = append(problems, "render.wait_after_load must not be negative")
		}
		if c.Render.ScrollPasses < 0 {
			problems = append(problems, "render.scroll_passes must not be negative")
		}
	}

	if c.BearerToken != "" && c.BasicAuthUser != "" {
		problems = append(problems, "bearer_token and basic_auth_user are mutually exclusive")
	}

	// Warnings: workable but likely unintended
	if log != nil {
		if c.Concurrency > 64 {
			log.Warnf("Concurrency %d is very high and may overwhelm the target server", c.Concurrency)
		}
		if c.MaxDepth > 10 {
			log.Warnf("Max depth %d is very deep; crawls may take a long time", c.MaxDepth)
		}
		if !c.RespectRobots {
			log.Warn("robots.txt checking is disabled")
		}
		if c.IgnoreHTTPSErrors {
			log.Warn("TLS certificate verification is disabled")
		}
		if c.BasicAuthPass != "" && c.BasicAuthUser == "" {
			log.Warn("basic_auth_pass is set without basic_auth_user and will be ignored")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", utils.ErrConfigValidation, strings.Join(problems, "; "))
	}
	return nil
}

// ResourceWorkerSplit returns the number of page workers and resource
// workers for the configured concurrency. Pages get half (at least one)
// and resources the remainder.
func (c *Config) ResourceWorkerSplit() (pageWorkers, resourceWorkers int) {
	pageWorkers = c.Concurrency / 2
	if pageWorkers < 1 {
		pageWorkers = 1
	}
	resourceWorkers = c.Concurrency - pageWorkers
	if resourceWorkers < 1 {
		resourceWorkers = 1
	}
	return pageWorkers, resourceWorkers
}
