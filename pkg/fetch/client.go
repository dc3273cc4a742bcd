package fetch

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"sitemirror/pkg/config"
)

// NewClient creates a new HTTP client based on the provided configuration.
func NewClient(cfg *config.Config, log *logrus.Logger) (*http.Client, error) {
	log.Info("Initializing HTTP client...")

	// Create custom dialer with configured timeouts
	dialer := &net.Dialer{
		Timeout:   cfg.HTTPClient.DialTimeout,
		KeepAlive: 30 * time.Second,
	}

	// Create custom transport using configured settings
	transport := &http.Transport{
		Proxy:                  http.ProxyFromEnvironment, // Use system proxy settings unless overridden
		DialContext:            dialer.DialContext,
		ForceAttemptHTTP2:      true,
		MaxIdleConns:           cfg.HTTPClient.MaxIdleConns,
		MaxIdleConnsPerHost:    cfg.HTTPClient.MaxIdleConnsPerHost,
		IdleConnTimeout:        cfg.HTTPClient.IdleConnTimeout,
		TLSHandshakeTimeout:    cfg.HTTPClient.TLSHandshakeTimeout,
		MaxResponseHeaderBytes: 1 << 20, // 1MB max header size
	}

	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Proxy, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
		log.Infof("Using proxy: %s", proxyURL.Redacted())
	}

	if cfg.IgnoreHTTPSErrors {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		log.Warn("TLS certificate verification disabled for HTTP client")
	}

	client := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			log.Debugf("Redirecting: %s -> %s (hop %d)", via[len(via)-1].URL, req.URL, len(via))
			return nil // Allow redirect
		},
	}
	log.Info("HTTP client initialized.")
	return client, nil
}
