package parse

import (
	"net/url"
	"path"
	"strings"
)

// resourceExtensions lists the file extensions treated as downloadable
// assets rather than crawlable pages.
var resourceExtensions = map[string]bool{
	".css":   true,
	".js":    true,
	".png":   true,
	".jpg":   true,
	".jpeg":  true,
	".gif":   true,
	".svg":   true,
	".woff":  true,
	".woff2": true,
	".ttf":   true,
	".eot":   true,
	".pdf":   true,
	".docx":  true,
	".xlsx":  true,
	".pptx":  true,
	".mp4":   true,
	".webm":  true,
	".ogg":   true,
}

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".svg":  true,
	".webp": true,
	".ico":  true,
	".bmp":  true,
}

// Ext returns the lowercased extension of the URL path, including the dot.
func Ext(u *url.URL) string {
	return strings.ToLower(path.Ext(u.Path))
}

// IsResourceURL reports whether the URL points at a downloadable asset.
// The URL must be absolute http/https with a host and carry a known
// resource extension.
func IsResourceURL(u *url.URL) bool {
	if u == nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if u.Host == "" {
		return false
	}
	return resourceExtensions[Ext(u)]
}

// IsImageURL reports whether the URL path carries an image extension.
func IsImageURL(u *url.URL) bool {
	if u == nil {
		return false
	}
	return imageExtensions[Ext(u)]
}

// IsHTTP reports whether the URL is an absolute http or https URL with a host.
func IsHTTP(u *url.URL) bool {
	return u != nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
