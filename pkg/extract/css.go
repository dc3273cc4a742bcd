package extract

import (
	"net/url"
	"regexp"
	"strings"
	"sync"

	"sitemirror/pkg/parse"
)

var (
	cssImportRe = regexp.MustCompile(`@import\s+(?:url\()?["']?(.*?)["']?\)?;`)
	cssURLRe    = regexp.MustCompile(`url\(["']?(.*?)["']?\)`)
)

// CSSExtractor finds url() and @import references inside stylesheets.
// Results are memoized per stylesheet URL since the same sheet is
// referenced from many pages.
type CSSExtractor struct {
	mu   sync.Mutex
	memo map[string][]string // stylesheet URL -> extracted refs
}

// NewCSSExtractor creates a CSSExtractor
func NewCSSExtractor() *CSSExtractor {
	return &CSSExtractor{memo: make(map[string][]string)}
}

// Extract returns the normalized absolute URLs referenced by a
// stylesheet, resolved against the stylesheet's own URL. data: URIs and
// fragment-only references are skipped.
func (ce *CSSExtractor) Extract(sheetURL *url.URL, body []byte, stripQuery bool) []string {
	key := sheetURL.String()

	ce.mu.Lock()
	if cached, ok := ce.memo[key]; ok {
		ce.mu.Unlock()
		return cached
	}
	ce.mu.Unlock()

	content := string(body)
	seen := make(map[string]bool)
	var refs []string

	collect := func(matches [][]string) {
		for _, m := range matches {
			raw := strings.TrimSpace(m[1])
			if raw == "" || strings.HasPrefix(raw, "data:") || strings.HasPrefix(raw, "#") {
				continue
			}
			normalized, resolved, err := parse.Resolve(sheetURL, raw, stripQuery)
			if err != nil || !parse.IsHTTP(resolved) {
				continue
			}
			if !seen[normalized] {
				seen[normalized] = true
				refs = append(refs, normalized)
			}
		}
	}

	collect(cssImportRe.FindAllStringSubmatch(content, -1))
	collect(cssURLRe.FindAllStringSubmatch(content, -1))

	ce.mu.Lock()
	ce.memo[key] = refs
	ce.mu.Unlock()
	return refs
}
