package engine

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"sitemirror/pkg/extract"
	"sitemirror/pkg/models"
	"sitemirror/pkg/utils"
)

// pageWorker pops page tasks until the queue closes. After Stop, queued
// tasks are discarded without fetching so the task count drains quickly.
func (r *Run) pageWorker(id int) {
	defer r.workersWG.Done()
	wLog := r.log.WithFields(logrus.Fields{"worker": id, "pool": "pages"})
	wLog.Debug("Page worker started")

	for {
		task, ok := r.pageQueue.Pop()
		if !ok {
			wLog.Debug("Page worker exiting")
			return
		}
		if r.ctx.Err() != nil {
			r.taskWG.Done() // discard without processing
			continue
		}
		r.processPage(task, wLog)
	}
}

// resourceWorker mirrors pageWorker for the resource queue.
func (r *Run) resourceWorker(id int) {
	defer r.workersWG.Done()
	wLog := r.log.WithFields(logrus.Fields{"worker": id, "pool": "resources"})
	wLog.Debug("Resource worker started")

	for {
		task, ok := r.resourceQueue.Pop()
		if !ok {
			wLog.Debug("Resource worker exiting")
			return
		}
		if r.ctx.Err() != nil {
			r.taskWG.Done()
			continue
		}
		r.processResource(task, wLog)
	}
}

// pageOutcome records a terminal page outcome and notifies the observer.
func (r *Run) pageOutcome(urlStr string, status models.OutcomeStatus, localPath string) {
	r.rs.mu.Lock()
	if status.Saved() {
		r.rs.pagesSaved++
		r.rs.pageLocal[urlStr] = localPath
	} else if status == models.StatusFailed {
		r.rs.failureCount++
		r.rs.failed[urlStr] = true
	}
	r.rs.mu.Unlock()
	r.obs.OnPageResult(models.DownloadOutcome{URL: urlStr, Status: status, LocalPath: localPath})
}

// resourceOutcome records a terminal resource outcome, advances the
// progress counter, and republishes progress.
func (r *Run) resourceOutcome(urlStr string, kind extract.Kind, status models.OutcomeStatus, localPath string) {
	r.rs.mu.Lock()
	r.rs.processedResources++
	if status.Saved() {
		r.rs.resourcesSaved++
		if kind == extract.KindImage || kind == extract.KindSVG {
			r.rs.imagesDownloaded++
		}
		if kind == extract.KindCSS {
			r.rs.sheetLocal[urlStr] = localPath
		}
	} else if status == models.StatusFailed {
		r.rs.failureCount++
		r.rs.failed[urlStr] = true
	}
	r.rs.mu.Unlock()

	r.obs.OnResourceResult(models.DownloadOutcome{URL: urlStr, Status: status, LocalPath: localPath})
	r.obs.OnProgress(r.rs.progress())
}

// statusForFetchError maps fetch errors onto outcome statuses.
func statusForFetchError(err error) models.OutcomeStatus {
	switch {
	case errors.Is(err, utils.ErrTooLarge):
		return models.StatusTooLarge
	case errors.Is(err, utils.ErrIgnoredMIME):
		return models.StatusIgnoredMIME
	default:
		return models.StatusFailed
	}
}

// isHTMLContent reports whether a content type (or its absence) should
// be treated as an HTML page.
func isHTMLContent(contentType string) bool {
	return contentType == "" ||
		strings.Contains(contentType, "text/html") ||
		strings.Contains(contentType, "application/xhtml")
}

func (r *Run) processPage(task *models.PageTask, wLog *logrus.Entry) {
	defer r.taskWG.Done()
	defer func() {
		if rec := recover(); rec != nil {
			wLog.Errorf("Panic while processing page %s: %v", task.URL, rec)
			r.pageOutcome(task.URL, models.StatusFailed, "")
		}
	}()

	taskLog := wLog.WithFields(logrus.Fields{"url": task.URL, "depth": task.Depth})

	// Depth is checked at enqueue; this guards the seed path too
	if task.Depth > r.cfg.MaxDepth {
		taskLog.Debug("Discarding page beyond max depth")
		r.pageOutcome(task.URL, models.StatusSkipped, "")
		return
	}

	pageURL, err := url.Parse(task.URL)
	if err != nil {
		taskLog.Warnf("Unparseable page URL: %v", err)
		r.pageOutcome(task.URL, models.StatusFailed, "")
		return
	}

	if err := r.gate.wait(r.ctx); err != nil {
		r.pageOutcome(task.URL, models.StatusSkipped, "")
		return
	}

	if !r.robots.Allowed(r.ctx, pageURL) {
		taskLog.Info("Page disallowed by robots.txt")
		r.pageOutcome(task.URL, models.StatusSkipped, "")
		return
	}

	if err := r.fetchSem.Acquire(r.ctx, 1); err != nil {
		r.pageOutcome(task.URL, models.StatusSkipped, "")
		return
	}
	body, contentType, fromCache, fetchErr := r.pageSource.FetchPage(r.ctx, task.URL)
	r.fetchSem.Release(1)
	r.rateLimiter.UpdateLastRequestTime(pageURL.Host)

	if fetchErr != nil {
		status := statusForFetchError(fetchErr)
		taskLog.Warnf("Page fetch failed (%s): %v", utils.CategorizeError(fetchErr), fetchErr)
		r.pageOutcome(task.URL, status, "")
		return
	}

	if !isHTMLContent(contentType) {
		taskLog.WithField("content_type", contentType).Debug("Non-HTML page content, saving without extraction")
	}

	localPath, saveErr := r.writer.Save(pageURL, true, "", body)
	if saveErr != nil {
		taskLog.Errorf("Page save failed: %v", saveErr)
		r.pageOutcome(task.URL, models.StatusFailed, "")
		return
	}

	status := models.StatusDownloaded
	if fromCache {
		status = models.StatusCached
	}
	r.pageOutcome(task.URL, status, localPath)
	taskLog.WithField("path", localPath).Debug("Page saved")

	if isHTMLContent(contentType) {
		links, resources, extractErr := r.extractor.ExtractPage(body, pageURL)
		if extractErr != nil {
			taskLog.Warnf("Extraction failed: %v", extractErr)
			r.rs.mu.Lock()
			r.rs.failureCount++
			r.rs.mu.Unlock()
		} else {
			r.enqueueLinks(links, task.Depth+1, taskLog)
			r.enqueueResources(resources, task.URL, taskLog)
		}
	}

	// Politeness delay after successful processing
	r.rateLimiter.UpdateLastRequestTime(pageURL.Host)
	r.rateLimiter.ApplyDelay(r.ctx, pageURL.Host, r.cfg.RateLimit)
}

func (r *Run) processResource(task *models.ResourceTask, wLog *logrus.Entry) {
	kind := extract.Kind(task.Kind)

	defer r.taskWG.Done()
	defer func() {
		if rec := recover(); rec != nil {
			wLog.Errorf("Panic while processing resource %s: %v", task.URL, rec)
			r.resourceOutcome(task.URL, kind, models.StatusFailed, "")
		}
	}()

	taskLog := wLog.WithFields(logrus.Fields{"url": task.URL, "kind": task.Kind})

	resourceURL, err := url.Parse(task.URL)
	if err != nil {
		taskLog.Warnf("Unparseable resource URL: %v", err)
		r.resourceOutcome(task.URL, kind, models.StatusFailed, "")
		return
	}

	// Image budget counts successful downloads; discard once reached
	if r.cfg.MaxImages > 0 && (kind == extract.KindImage || kind == extract.KindSVG) {
		r.rs.mu.Lock()
		exhausted := r.rs.imagesDownloaded >= r.cfg.MaxImages
		r.rs.mu.Unlock()
		if exhausted {
			r.resourceOutcome(task.URL, kind, models.StatusSkipped, "")
			return
		}
	}

	if err := r.gate.wait(r.ctx); err != nil {
		r.resourceOutcome(task.URL, kind, models.StatusSkipped, "")
		return
	}

	if !r.robots.Allowed(r.ctx, resourceURL) {
		taskLog.Info("Resource disallowed by robots.txt")
		r.resourceOutcome(task.URL, kind, models.StatusSkipped, "")
		return
	}

	if err := r.fetchSem.Acquire(r.ctx, 1); err != nil {
		r.resourceOutcome(task.URL, kind, models.StatusSkipped, "")
		return
	}
	result, fetchErr := r.fetcher.Fetch(r.ctx, task.URL)
	r.fetchSem.Release(1)
	r.rateLimiter.UpdateLastRequestTime(resourceURL.Host)

	if fetchErr != nil {
		status := statusForFetchError(fetchErr)
		if status == models.StatusFailed {
			taskLog.Warnf("Resource fetch failed (%s): %v", utils.CategorizeError(fetchErr), fetchErr)
		} else {
			taskLog.WithField("status", status).Debug("Resource skipped")
		}
		r.resourceOutcome(task.URL, kind, status, "")
		return
	}

	localPath, saveErr := r.writer.Save(resourceURL, false, kind, result.Body)
	if saveErr != nil {
		taskLog.Errorf("Resource save failed: %v", saveErr)
		r.resourceOutcome(task.URL, kind, models.StatusFailed, "")
		return
	}

	status := models.StatusDownloaded
	if result.FromCache {
		status = models.StatusCached
	}
	r.resourceOutcome(task.URL, kind, status, localPath)
	taskLog.WithField("path", localPath).Debug("Resource saved")

	// Stylesheets reference further assets (images, fonts, imports)
	if kind == extract.KindCSS {
		refs := r.cssExtractor.Extract(resourceURL, result.Body, r.cfg.RemoveQueryStrings)
		nested := make([]extract.ResourceRef, 0, len(refs))
		for _, ref := range refs {
			refURL, parseErr := url.Parse(ref)
			if parseErr != nil {
				continue
			}
			nested = append(nested, extract.ResourceRef{URL: ref, Kind: extract.KindForURL(refURL)})
		}
		r.enqueueResources(nested, task.URL, taskLog)
	}

	r.rateLimiter.UpdateLastRequestTime(resourceURL.Host)
	r.rateLimiter.ApplyDelay(r.ctx, resourceURL.Host, r.cfg.RateLimit)
}

// enqueueLinks filters discovered page links through scope, depth, and
// dedup checks and adds survivors to the page queue.
func (r *Run) enqueueLinks(links []string, depth int, taskLog *logrus.Entry) {
	if depth > r.cfg.MaxDepth {
		return
	}
	for _, link := range links {
		if r.ctx.Err() != nil {
			return
		}
		linkURL, err := url.Parse(link)
		if err != nil {
			continue
		}
		if scopeErr := r.filter.AllowPage(linkURL); scopeErr != nil {
			taskLog.WithField("link", link).Debugf("Page out of scope: %v", scopeErr)
			continue
		}
		if !r.rs.markPage(link, r.cfg.MaxPages) {
			continue
		}
		r.taskWG.Add(1)
		r.pageQueue.Add(&models.PageTask{URL: link, Depth: depth})
	}
}

// enqueueResources filters discovered resource refs and adds survivors
// to the resource queue, growing the progress total.
func (r *Run) enqueueResources(resources []extract.ResourceRef, referrer string, taskLog *logrus.Entry) {
	for _, ref := range resources {
		if r.ctx.Err() != nil {
			return
		}
		refURL, err := url.Parse(ref.URL)
		if err != nil {
			continue
		}
		if scopeErr := r.filter.AllowResource(refURL); scopeErr != nil {
			taskLog.WithField("resource", ref.URL).Debugf("Resource out of scope: %v", scopeErr)
			continue
		}
		if !r.rs.markResource(ref.URL, r.cfg.MaxResources) {
			continue
		}
		r.taskWG.Add(1)
		r.resourceQueue.Add(&models.ResourceTask{URL: ref.URL, Referrer: referrer, Kind: string(ref.Kind)})
	}
}

// Elapsed returns the time since the run started.
func (r *Run) Elapsed() time.Duration {
	return time.Since(r.startedAt)
}
