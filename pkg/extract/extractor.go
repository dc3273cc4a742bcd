package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"sitemirror/pkg/config"
	"sitemirror/pkg/parse"
	"sitemirror/pkg/utils"
)

// Kind labels the asset category a resource reference belongs to.
type Kind string

const (
	KindCSS      Kind = "css"
	KindJS       Kind = "js"
	KindImage    Kind = "image"
	KindFont     Kind = "font"
	KindVideo    Kind = "video"
	KindSVG      Kind = "svg"
	KindDocument Kind = "document"
)

// ResourceRef is one discovered asset reference on a page.
type ResourceRef struct {
	URL  string // Normalized absolute URL
	Kind Kind
}

// lazyAttrs are the common attribute names used by lazy-loading libraries
// to hold the real image URL.
var lazyAttrs = []string{"data-src", "data-lazy", "data-original", "data-image", "data-lazy-src"}

var documentExtensions = map[string]bool{
	".pdf":  true,
	".docx": true,
	".xlsx": true,
	".pptx": true,
}

// Extractor pulls page links and asset references out of HTML documents.
type Extractor struct {
	cfg *config.Config
	log *logrus.Entry
}

// NewExtractor creates an Extractor
func NewExtractor(cfg *config.Config, log *logrus.Entry) *Extractor {
	return &Extractor{cfg: cfg, log: log}
}

// ExtractPage parses an HTML body and returns the page links (anchor
// hrefs resolved against pageURL, fragments dropped) and the asset
// references for every enabled resource category.
func (e *Extractor) ExtractPage(body []byte, pageURL *url.URL) (links []string, resources []ResourceRef, err error) {
	doc, parseErr := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if parseErr != nil {
		return nil, nil, fmt.Errorf("%w: HTML parse failed for %s: %v", utils.ErrParsing, pageURL, parseErr)
	}

	seenLinks := make(map[string]bool)
	seenResources := make(map[string]bool)

	addResource := func(raw string, kind Kind) {
		normalized, resolved, resolveErr := parse.Resolve(pageURL, strings.TrimSpace(raw), e.cfg.RemoveQueryStrings)
		if resolveErr != nil || !parse.IsHTTP(resolved) {
			return
		}
		if seenResources[normalized] {
			return
		}
		seenResources[normalized] = true
		resources = append(resources, ResourceRef{URL: normalized, Kind: kind})
	}

	// Page links from anchors
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		normalized, resolved, resolveErr := parse.Resolve(pageURL, href, e.cfg.RemoveQueryStrings)
		if resolveErr != nil || !parse.IsHTTP(resolved) {
			return
		}
		// Anchors pointing at known assets are resources, not pages
		if parse.IsResourceURL(resolved) {
			if documentExtensions[parse.Ext(resolved)] {
				if e.cfg.ResourceTypes.Documents {
					addResource(href, KindDocument)
				}
			} else {
				e.addByExtension(addResource, href, resolved)
			}
			return
		}
		if !seenLinks[normalized] {
			seenLinks[normalized] = true
			links = append(links, normalized)
		}
	})

	if e.cfg.ResourceTypes.CSS {
		doc.Find("link[rel='stylesheet']").Each(func(_ int, s *goquery.Selection) {
			if href, ok := s.Attr("href"); ok {
				addResource(href, KindCSS)
			}
		})
	}

	if e.cfg.ResourceTypes.JS {
		doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
			if src, ok := s.Attr("src"); ok {
				addResource(src, KindJS)
			}
		})
	}

	if e.cfg.ResourceTypes.Images || e.cfg.ResourceTypes.SVG {
		doc.Find("img").Each(func(_ int, s *goquery.Selection) {
			var candidates []string
			if src, ok := s.Attr("src"); ok {
				candidates = append(candidates, src)
			}
			for _, attr := range lazyAttrs {
				if val, ok := s.Attr(attr); ok {
					candidates = append(candidates, val)
				}
			}
			for _, attr := range []string{"srcset", "data-srcset"} {
				if val, ok := s.Attr(attr); ok {
					candidates = append(candidates, parseSrcset(val)...)
				}
			}
			for _, raw := range candidates {
				raw = strings.TrimSpace(raw)
				if raw == "" || strings.HasPrefix(raw, "data:") {
					continue
				}
				kind := KindImage
				if strings.HasSuffix(strings.ToLower(raw), ".svg") {
					kind = KindSVG
				}
				if kind == KindSVG && !e.cfg.ResourceTypes.SVG {
					continue
				}
				if kind == KindImage && !e.cfg.ResourceTypes.Images {
					continue
				}
				addResource(raw, kind)
			}
		})
	}

	if e.cfg.ResourceTypes.Fonts {
		doc.Find("link[rel~='font'], link[rel='preload'][as='font']").Each(func(_ int, s *goquery.Selection) {
			if href, ok := s.Attr("href"); ok {
				addResource(href, KindFont)
			}
		})
	}

	if e.cfg.ResourceTypes.Videos {
		doc.Find("video[src], video source[src], audio source[src]").Each(func(_ int, s *goquery.Selection) {
			if src, ok := s.Attr("src"); ok {
				addResource(src, KindVideo)
			}
		})
	}

	// Favicon and other icon links travel with images
	if e.cfg.ResourceTypes.Images {
		doc.Find("link[rel~='icon']").Each(func(_ int, s *goquery.Selection) {
			if href, ok := s.Attr("href"); ok {
				addResource(href, KindImage)
			}
		})
	}

	return links, resources, nil
}

// addByExtension maps an already-resolved asset URL to its category and
// adds it when that category is enabled.
func (e *Extractor) addByExtension(add func(string, Kind), raw string, resolved *url.URL) {
	switch parse.Ext(resolved) {
	case ".css":
		if e.cfg.ResourceTypes.CSS {
			add(raw, KindCSS)
		}
	case ".js":
		if e.cfg.ResourceTypes.JS {
			add(raw, KindJS)
		}
	case ".svg":
		if e.cfg.ResourceTypes.SVG {
			add(raw, KindSVG)
		}
	case ".png", ".jpg", ".jpeg", ".gif":
		if e.cfg.ResourceTypes.Images {
			add(raw, KindImage)
		}
	case ".woff", ".woff2", ".ttf", ".eot":
		if e.cfg.ResourceTypes.Fonts {
			add(raw, KindFont)
		}
	case ".mp4", ".webm", ".ogg":
		if e.cfg.ResourceTypes.Videos {
			add(raw, KindVideo)
		}
	}
}

// parseSrcset splits a srcset attribute into its candidate URLs,
// dropping the width/density descriptors.
func parseSrcset(srcset string) []string {
	var urls []string
	for _, candidate := range strings.Split(srcset, ",") {
		fields := strings.Fields(strings.TrimSpace(candidate))
		if len(fields) > 0 {
			urls = append(urls, fields[0])
		}
	}
	return urls
}

// KindForURL guesses the asset category from a URL's extension. Used for
// resources discovered outside HTML, like CSS url() references.
func KindForURL(u *url.URL) Kind {
	switch parse.Ext(u) {
	case ".css":
		return KindCSS
	case ".js":
		return KindJS
	case ".svg":
		return KindSVG
	case ".woff", ".woff2", ".ttf", ".eot":
		return KindFont
	case ".mp4", ".webm", ".ogg":
		return KindVideo
	case ".pdf", ".docx", ".xlsx", ".pptx":
		return KindDocument
	default:
		return KindImage
	}
}
