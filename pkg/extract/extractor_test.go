package extract

import (
	"io"
	"net/url"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitemirror/pkg/config"
)

func newTestExtractor(t *testing.T, mutate func(*config.Config)) *Extractor {
	t.Helper()
	cfg := config.Default()
	cfg.BaseURLs = []string{"https://example.com/"}
	cfg.ResourceTypes.Videos = true
	cfg.ResourceTypes.Documents = true
	if mutate != nil {
		mutate(&cfg)
	}
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewExtractor(&cfg, logrus.NewEntry(log))
}

func pageURL(t *testing.T) *url.URL {
	t.Helper()
	u, err := url.Parse("https://example.com/docs/index.html")
	require.NoError(t, err)
	return u
}

func resourceURLs(resources []ResourceRef) []string {
	urls := make([]string, len(resources))
	for i, r := range resources {
		urls[i] = r.URL
	}
	return urls
}

func TestExtractPage_Links(t *testing.T) {
	e := newTestExtractor(t, nil)
	html := `<html><body>
		<a href="/about">About</a>
		<a href="page2.html">Next</a>
		<a href="#section">Skip fragment</a>
		<a href="mailto:x@example.com">Skip mailto</a>
		<a href="https://other.org/page">External</a>
	</body></html>`

	links, _, err := e.ExtractPage([]byte(html), pageURL(t))
	require.NoError(t, err)

	assert.Contains(t, links, "https://example.com/about")
	assert.Contains(t, links, "https://example.com/docs/page2.html")
	// Off-site filtering is the scope filter's job, not the extractor's
	assert.Contains(t, links, "https://other.org/page")
	assert.Len(t, links, 3)
}

func TestExtractPage_StylesheetsAndScripts(t *testing.T) {
	e := newTestExtractor(t, nil)
	html := `<html><head>
		<link rel="stylesheet" href="/assets/main.css">
		<script src="app.js"></script>
		<script>inline();</script>
	</head></html>`

	_, resources, err := e.ExtractPage([]byte(html), pageURL(t))
	require.NoError(t, err)

	urls := resourceURLs(resources)
	assert.Contains(t, urls, "https://example.com/assets/main.css")
	assert.Contains(t, urls, "https://example.com/docs/app.js")
	assert.Len(t, resources, 2)
}

func TestExtractPage_LazyImagesAndSrcset(t *testing.T) {
	e := newTestExtractor(t, nil)
	html := `<html><body>
		<img src="hero.png">
		<img data-src="lazy.jpg">
		<img data-lazy-src="lazier.gif">
		<img srcset="small.png 480w, large.png 1024w">
		<img src="data:image/png;base64,AAAA">
	</body></html>`

	_, resources, err := e.ExtractPage([]byte(html), pageURL(t))
	require.NoError(t, err)

	urls := resourceURLs(resources)
	assert.Contains(t, urls, "https://example.com/docs/hero.png")
	assert.Contains(t, urls, "https://example.com/docs/lazy.jpg")
	assert.Contains(t, urls, "https://example.com/docs/lazier.gif")
	assert.Contains(t, urls, "https://example.com/docs/small.png")
	assert.Contains(t, urls, "https://example.com/docs/large.png")
	assert.Len(t, resources, 5)
}

func TestExtractPage_SVGKind(t *testing.T) {
	e := newTestExtractor(t, nil)
	html := `<img src="logo.svg"><img src="photo.jpg">`

	_, resources, err := e.ExtractPage([]byte(html), pageURL(t))
	require.NoError(t, err)

	kinds := make(map[string]Kind)
	for _, r := range resources {
		kinds[r.URL] = r.Kind
	}
	assert.Equal(t, KindSVG, kinds["https://example.com/docs/logo.svg"])
	assert.Equal(t, KindImage, kinds["https://example.com/docs/photo.jpg"])
}

func TestExtractPage_DisabledCategoriesSkipped(t *testing.T) {
	e := newTestExtractor(t, func(c *config.Config) {
		c.ResourceTypes = config.ResourceTypes{} // everything off
	})
	html := `<link rel="stylesheet" href="a.css"><script src="b.js"></script><img src="c.png">`

	_, resources, err := e.ExtractPage([]byte(html), pageURL(t))
	require.NoError(t, err)
	assert.Empty(t, resources)
}

func TestExtractPage_DocumentAnchors(t *testing.T) {
	e := newTestExtractor(t, nil)
	html := `<a href="report.pdf">Report</a><a href="sheet.xlsx">Sheet</a><a href="page.html">Page</a>`

	links, resources, err := e.ExtractPage([]byte(html), pageURL(t))
	require.NoError(t, err)

	urls := resourceURLs(resources)
	assert.Contains(t, urls, "https://example.com/docs/report.pdf")
	assert.Contains(t, urls, "https://example.com/docs/sheet.xlsx")
	assert.Equal(t, []string{"https://example.com/docs/page.html"}, links)
}

func TestExtractPage_VideosAndFonts(t *testing.T) {
	e := newTestExtractor(t, nil)
	html := `<html><head>
		<link rel="preload" as="font" href="fonts/main.woff2">
	</head><body>
		<video src="intro.mp4"></video>
		<video><source src="clip.webm"></video>
	</body></html>`

	_, resources, err := e.ExtractPage([]byte(html), pageURL(t))
	require.NoError(t, err)

	urls := resourceURLs(resources)
	assert.Contains(t, urls, "https://example.com/docs/fonts/main.woff2")
	assert.Contains(t, urls, "https://example.com/docs/intro.mp4")
	assert.Contains(t, urls, "https://example.com/docs/clip.webm")
}

func TestExtractPage_DedupesRepeatedRefs(t *testing.T) {
	e := newTestExtractor(t, nil)
	html := `<img src="a.png"><img src="a.png"><a href="/x">1</a><a href="/x">2</a>`

	links, resources, err := e.ExtractPage([]byte(html), pageURL(t))
	require.NoError(t, err)
	assert.Len(t, resources, 1)
	assert.Len(t, links, 1)
}

func TestExtractPage_QueryStringsRemoved(t *testing.T) {
	e := newTestExtractor(t, func(c *config.Config) { c.RemoveQueryStrings = true })
	html := `<link rel="stylesheet" href="style.css?v=123">`

	_, resources, err := e.ExtractPage([]byte(html), pageURL(t))
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "https://example.com/docs/style.css", resources[0].URL)
}
