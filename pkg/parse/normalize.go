package parse

import (
	"net"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL for comparison, dedup sets, and cache keys
// It lowercases the scheme and host, removes default ports (80 for http, 443 for https), ensures an empty path becomes "/", and removes the fragment
// When stripQuery is true the query string is removed as well
// Does not modify the input *url.URL
func NormalizeURL(u *url.URL, stripQuery bool) string {
	if u == nil {
		return ""
	}
	// Work on a copy
	normalized := *u

	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = strings.ToLower(normalized.Host)

	// Remove default ports
	host, port, err := net.SplitHostPort(normalized.Host)
	if err == nil { // Host included a port
		if (normalized.Scheme == "http" && port == "80") ||
			(normalized.Scheme == "https" && port == "443") {
			normalized.Host = host
		}
	}

	if normalized.Path == "" {
		normalized.Path = "/"
	}

	normalized.Fragment = "" // Remove fragment
	if stripQuery {
		normalized.RawQuery = ""
	}

	return normalized.String()
}

// Resolve resolves ref against base and returns the normalized string plus
// the resolved URL object. Returns an error for unparseable references.
func Resolve(base *url.URL, ref string, stripQuery bool) (string, *url.URL, error) {
	resolved, err := base.Parse(ref)
	if err != nil {
		return "", nil, err
	}
	// Re-parse the normalized form so callers get a URL matching the string
	normalizedStr := NormalizeURL(resolved, stripQuery)
	normalized, err := url.Parse(normalizedStr)
	if err != nil {
		return "", nil, err
	}
	return normalizedStr, normalized, nil
}

// ParseAndNormalize parses a URL string using the stricter url.ParseRequestURI (requiring a scheme) and then normalizes it
// Returns the normalized string, the parsed URL object, and any parse error
func ParseAndNormalize(urlStr string, stripQuery bool) (string, *url.URL, error) {
	parsed, err := url.ParseRequestURI(urlStr) // Stricter parsing
	if err != nil {
		return "", nil, err
	}
	normalizedStr := NormalizeURL(parsed, stripQuery)
	return normalizedStr, parsed, nil
}
