package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"

	"sitemirror/pkg/config"
	"sitemirror/pkg/utils"
)

// Renderer fetches pages through a headless browser so that content
// injected by JavaScript appears in the returned HTML. It implements
// PageSource. Rendered bodies are stored in the cache without validators
// because they never match origin ETags.
type Renderer struct {
	cfg     *config.Config
	fetcher *Fetcher // Used only to store rendered bodies in the cache
	log     *logrus.Entry

	mu      sync.Mutex
	browser *rod.Browser
}

// NewRenderer creates a Renderer. The browser is launched lazily on the
// first FetchPage call.
func NewRenderer(cfg *config.Config, fetcher *Fetcher, log *logrus.Entry) *Renderer {
	return &Renderer{
		cfg:     cfg,
		fetcher: fetcher,
		log:     log,
	}
}

// ensureBrowser launches and connects the headless browser once.
func (r *Renderer) ensureBrowser() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		return r.browser, nil
	}

	l := launcher.New().Headless(true)
	if r.cfg.IgnoreHTTPSErrors {
		l = l.Set("ignore-certificate-errors")
	}
	if r.cfg.Proxy != "" {
		l = l.Proxy(r.cfg.Proxy)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to launch browser: %v", utils.ErrRenderFailed, err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("%w: failed to connect to browser: %v", utils.ErrRenderFailed, err)
	}

	r.log.Debugf("Headless browser started: %s", controlURL)
	r.browser = browser
	return browser, nil
}

// FetchPage navigates a browser tab to the URL, waits for the load event
// plus the configured settle time, performs scroll passes to trigger
// lazy-loaded content, and returns the resulting DOM as HTML.
func (r *Renderer) FetchPage(ctx context.Context, urlStr string) ([]byte, string, bool, error) {
	browser, err := r.ensureBrowser()
	if err != nil {
		return nil, "", false, err
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: urlStr})
	if err != nil {
		return nil, "", false, fmt.Errorf("%w: failed to open page for %s: %v", utils.ErrRenderFailed, urlStr, err)
	}
	defer func() {
		if closeErr := page.Close(); closeErr != nil {
			r.log.Debugf("Failed to close page for %s: %v", urlStr, closeErr)
		}
	}()

	page = page.Context(ctx)

	if err := page.WaitLoad(); err != nil {
		return nil, "", false, fmt.Errorf("%w: page load failed for %s: %v", utils.ErrRenderFailed, urlStr, err)
	}

	if r.cfg.Render.WaitAfterLoad > 0 {
		select {
		case <-time.After(r.cfg.Render.WaitAfterLoad):
		case <-ctx.Done():
			return nil, "", false, ctx.Err()
		}
	}

	// Scroll to the bottom repeatedly so lazy-loaded images and infinite
	// lists materialize in the DOM
	for pass := 0; pass < r.cfg.Render.ScrollPasses; pass++ {
		if _, err := page.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`); err != nil {
			r.log.Debugf("Scroll pass %d failed for %s: %v", pass, urlStr, err)
			break
		}
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return nil, "", false, ctx.Err()
		}
	}

	html, err := page.HTML()
	if err != nil {
		return nil, "", false, fmt.Errorf("%w: failed to read DOM for %s: %v", utils.ErrRenderFailed, urlStr, err)
	}

	body := []byte(html)
	contentType := "text/html; charset=utf-8"
	if r.fetcher != nil {
		r.fetcher.StoreRendered(urlStr, body, contentType)
	}

	return body, contentType, false, nil
}

// Close shuts the browser down if it was launched.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser != nil {
		if err := r.browser.Close(); err != nil {
			r.log.Debugf("Failed to close browser: %v", err)
		}
		r.browser = nil
	}
}
