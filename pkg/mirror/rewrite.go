package mirror

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"sitemirror/pkg/config"
	"sitemirror/pkg/parse"
	"sitemirror/pkg/utils"
)

// rewriteRules lists the element/attribute pairs whose values point at
// mirrored pages or resources.
var rewriteRules = []struct {
	selector string
	attr     string
}{
	{"a[href]", "href"},
	{"link[href]", "href"},
	{"script[src]", "src"},
	{"img[src]", "src"},
	{"video[src]", "src"},
	{"audio[src]", "src"},
	{"source[src]", "src"},
	{"iframe[src]", "src"},
}

var cssRefRe = regexp.MustCompile(`url\(["']?([^"')]+)["']?\)`)

// Rewriter is the post-crawl pass that edits saved HTML (and CSS) so
// references to mirrored files become paths relative to the referencing
// file, making the mirror browsable offline.
type Rewriter struct {
	cfg      *config.Config
	mirrored map[string]string // normalized URL -> absolute local path
	log      *logrus.Entry
}

// NewRewriter creates a Rewriter over the writer's URL-to-path mapping.
func NewRewriter(cfg *config.Config, mirrored map[string]string, log *logrus.Entry) *Rewriter {
	return &Rewriter{cfg: cfg, mirrored: mirrored, log: log}
}

// relTarget resolves a raw reference against baseURL and, when the
// target is mirrored, returns the path relative to fromDir in URL form.
func (rw *Rewriter) relTarget(baseURL *url.URL, raw, fromDir string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, "data:") {
		return "", false
	}

	normalized, resolved, err := parse.Resolve(baseURL, raw, rw.cfg.RemoveQueryStrings)
	if err != nil || !parse.IsHTTP(resolved) {
		return "", false
	}

	localPath, ok := rw.mirrored[normalized]
	if !ok {
		return "", false
	}

	rel, err := filepath.Rel(fromDir, localPath)
	if err != nil {
		return "", false
	}
	relURL := filepath.ToSlash(rel)

	// Preserve the fragment so in-page anchors still work
	if frag := fragmentOf(raw); frag != "" {
		relURL += "#" + frag
	}
	return relURL, true
}

func fragmentOf(raw string) string {
	if idx := strings.Index(raw, "#"); idx >= 0 {
		return raw[idx+1:]
	}
	return ""
}

// RewriteHTML rewrites one saved HTML file in place. pageURL is the URL
// the file was fetched from.
func (rw *Rewriter) RewriteHTML(pageURL *url.URL, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("%w: cannot read %q: %v", utils.ErrFilesystem, localPath, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: HTML parse failed for %q: %v", utils.ErrParsing, localPath, err)
	}

	fromDir := filepath.Dir(localPath)
	changed := false

	for _, rule := range rewriteRules {
		doc.Find(rule.selector).Each(func(_ int, s *goquery.Selection) {
			raw, _ := s.Attr(rule.attr)
			if rel, ok := rw.relTarget(pageURL, raw, fromDir); ok {
				s.SetAttr(rule.attr, rel)
				changed = true
			}
		})
	}

	// srcset needs per-candidate rewriting
	doc.Find("img[srcset], source[srcset]").Each(func(_ int, s *goquery.Selection) {
		raw, _ := s.Attr("srcset")
		rewritten, any := rw.rewriteSrcset(pageURL, raw, fromDir)
		if any {
			s.SetAttr("srcset", rewritten)
			changed = true
		}
	})

	if !changed {
		return nil
	}

	html, err := doc.Html()
	if err != nil {
		return fmt.Errorf("%w: HTML render failed for %q: %v", utils.ErrParsing, localPath, err)
	}
	return writeFileAtomic(localPath, []byte(html))
}

// rewriteSrcset rewrites each candidate URL in a srcset value, keeping
// the width/density descriptors.
func (rw *Rewriter) rewriteSrcset(pageURL *url.URL, srcset, fromDir string) (string, bool) {
	candidates := strings.Split(srcset, ",")
	changed := false
	for i, candidate := range candidates {
		fields := strings.Fields(strings.TrimSpace(candidate))
		if len(fields) == 0 {
			continue
		}
		if rel, ok := rw.relTarget(pageURL, fields[0], fromDir); ok {
			fields[0] = rel
			candidates[i] = strings.Join(fields, " ")
			changed = true
		}
	}
	return strings.Join(candidates, ", "), changed
}

// RewriteCSS rewrites url() references in one saved stylesheet so
// mirrored targets resolve relative to the sheet's location. Needed for
// flatten mode, where the remote directory structure is not preserved.
func (rw *Rewriter) RewriteCSS(sheetURL *url.URL, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("%w: cannot read %q: %v", utils.ErrFilesystem, localPath, err)
	}

	fromDir := filepath.Dir(localPath)
	changed := false

	rewritten := cssRefRe.ReplaceAllStringFunc(string(data), func(match string) string {
		sub := cssRefRe.FindStringSubmatch(match)
		if rel, ok := rw.relTarget(sheetURL, sub[1], fromDir); ok {
			changed = true
			return fmt.Sprintf("url(%s)", rel)
		}
		return match
	})

	if !changed {
		return nil
	}
	return writeFileAtomic(localPath, []byte(rewritten))
}

// RewriteAll runs the rewrite pass over every saved page and stylesheet.
// Individual failures are logged and counted but do not stop the pass.
func (rw *Rewriter) RewriteAll(pages map[string]string, stylesheets map[string]string) (failures int) {
	for pageURLStr, localPath := range pages {
		pageURL, err := url.Parse(pageURLStr)
		if err != nil {
			rw.log.Warnf("Skipping rewrite of unparseable page URL %q: %v", pageURLStr, err)
			failures++
			continue
		}
		if err := rw.RewriteHTML(pageURL, localPath); err != nil {
			rw.log.WithField("url", pageURLStr).Warnf("Rewrite failed (%s): %v", utils.CategorizeError(err), err)
			failures++
		}
	}

	for sheetURLStr, localPath := range stylesheets {
		sheetURL, err := url.Parse(sheetURLStr)
		if err != nil {
			rw.log.Warnf("Skipping rewrite of unparseable stylesheet URL %q: %v", sheetURLStr, err)
			failures++
			continue
		}
		if err := rw.RewriteCSS(sheetURL, localPath); err != nil {
			rw.log.WithField("url", sheetURLStr).Warnf("Stylesheet rewrite failed (%s): %v", utils.CategorizeError(err), err)
			failures++
		}
	}
	return failures
}
