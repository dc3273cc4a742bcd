package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"sitemirror/pkg/cache"
	"sitemirror/pkg/config"
	"sitemirror/pkg/extract"
	"sitemirror/pkg/fetch"
	"sitemirror/pkg/mirror"
	"sitemirror/pkg/models"
	"sitemirror/pkg/parse"
	"sitemirror/pkg/queue"
	"sitemirror/pkg/scope"
)

// Run is the handle for one mirror run. Created by Start; controlled via
// Pause, Resume, and Stop; Wait blocks until the run finishes.
type Run struct {
	cfg   config.Config
	obs   Observer
	log   *logrus.Logger
	runID string

	ctx    context.Context
	cancel context.CancelFunc

	state   atomic.Int32
	stopped atomic.Bool
	rs      *runState
	gate    *pauseGate

	pageQueue     *queue.PageQueue
	resourceQueue *queue.ResourceQueue

	responseCache *cache.BadgerCache
	fetcher       *fetch.Fetcher
	pageSource    fetch.PageSource
	renderer      *fetch.Renderer
	rateLimiter   *fetch.RateLimiter
	robots        *fetch.RobotsHandler
	filter        *scope.Filter
	extractor     *extract.Extractor
	cssExtractor  *extract.CSSExtractor
	writer        *mirror.Writer

	fetchSem *semaphore.Weighted

	taskWG    sync.WaitGroup // one count per queued page/resource task
	workersWG sync.WaitGroup

	startedAt time.Time
	stopOnce  sync.Once
	done      chan struct{}
}

// Start validates the configuration, builds the pipeline, seeds the
// frontier, and launches the worker pools. It returns immediately; use
// the returned Run to control and await the crawl.
func Start(cfg config.Config, obs Observer) (*Run, error) {
	if obs == nil {
		obs = NopObserver{}
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	log.AddHook(&observerHook{obs: obs})

	if err := cfg.Validate(log); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	runLog := log.WithField("run_id", runID)

	responseCache, err := cache.Open(cfg.CacheDir, runLog.WithField("component", "cache"))
	if err != nil {
		return nil, err
	}

	writer, err := mirror.NewWriter(&cfg, runLog.WithField("component", "writer"))
	if err != nil {
		responseCache.Close()
		return nil, err
	}

	filter, err := scope.NewFilter(&cfg, runLog.WithField("component", "scope"))
	if err != nil {
		responseCache.Close()
		return nil, err
	}

	client, err := fetch.NewClient(&cfg, log)
	if err != nil {
		responseCache.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	fetcher := fetch.NewFetcher(client, &cfg, responseCache, log)
	rateLimiter := fetch.NewRateLimiter(cfg.RateLimit, runLog.WithField("component", "ratelimit"))
	robots := fetch.NewRobotsHandler(fetcher, rateLimiter, &cfg, runLog.WithField("component", "robots"))

	r := &Run{
		cfg:           cfg,
		obs:           obs,
		log:           log,
		runID:         runID,
		ctx:           ctx,
		cancel:        cancel,
		rs:            newRunState(),
		gate:          newPauseGate(),
		pageQueue:     queue.NewPageQueue(log),
		resourceQueue: queue.NewResourceQueue(log),
		responseCache: responseCache,
		fetcher:       fetcher,
		rateLimiter:   rateLimiter,
		robots:        robots,
		filter:        filter,
		extractor:     extract.NewExtractor(&cfg, runLog.WithField("component", "extract")),
		cssExtractor:  extract.NewCSSExtractor(),
		writer:        writer,
		fetchSem:      semaphore.NewWeighted(int64(cfg.Concurrency)),
		startedAt:     time.Now(),
		done:          make(chan struct{}),
	}

	if cfg.Render.Enabled {
		r.renderer = fetch.NewRenderer(&cfg, fetcher, runLog.WithField("component", "render"))
		r.pageSource = r.renderer
	} else {
		r.pageSource = &fetch.HTTPSource{Fetcher: fetcher}
	}

	// Seed the frontier at depth 0
	seeded := 0
	for _, raw := range cfg.BaseURLs {
		normalized, _, parseErr := parse.ParseAndNormalize(raw, cfg.RemoveQueryStrings)
		if parseErr != nil {
			runLog.Warnf("Skipping invalid seed URL %q: %v", raw, parseErr)
			continue
		}
		if !r.rs.markPage(normalized, cfg.MaxPages) {
			continue
		}
		r.taskWG.Add(1)
		r.pageQueue.Add(&models.PageTask{URL: normalized, Depth: 0})
		seeded++
	}
	if seeded == 0 {
		cancel()
		responseCache.Close()
		return nil, fmt.Errorf("no usable seed URLs")
	}

	r.state.Store(int32(StateRunning))
	obs.OnStatus(fmt.Sprintf("Mirroring %d seed URL(s)", seeded))
	runLog.WithFields(logrus.Fields{"seeds": seeded, "output": writer.OutputDir()}).Info("Run starting")

	pageWorkers, resourceWorkers := cfg.ResourceWorkerSplit()
	for i := 0; i < pageWorkers; i++ {
		r.workersWG.Add(1)
		go r.pageWorker(i)
	}
	for i := 0; i < resourceWorkers; i++ {
		r.workersWG.Add(1)
		go r.resourceWorker(i)
	}

	// Waiter: once every queued task has reached a terminal state, close
	// the queues so workers exit, then run the finishing sequence.
	go func() {
		r.taskWG.Wait()
		r.pageQueue.Close()
		r.resourceQueue.Close()
		r.workersWG.Wait()
		r.finish()
	}()

	return r, nil
}

// State returns the current lifecycle state.
func (r *Run) State() State {
	return State(r.state.Load())
}

// Pause blocks workers before their next fetch. In-flight fetches finish
// naturally.
func (r *Run) Pause() {
	if r.State() != StateRunning {
		return
	}
	r.gate.pause()
	r.obs.OnStatus("Paused")
	r.log.Info("Run paused")
}

// Resume releases paused workers.
func (r *Run) Resume() {
	r.gate.resume()
	if r.State() == StateRunning {
		r.obs.OnStatus("Resumed")
		r.log.Info("Run resumed")
	}
}

// Stop cancels the run. Idempotent and terminal: no new fetches start,
// queued tasks are discarded, and Wait returns once in-flight work winds
// down.
func (r *Run) Stop() {
	r.stopOnce.Do(func() {
		r.stopped.Store(true)
		r.cancel()
		r.gate.resume() // release any workers parked at the pause gate
		r.obs.OnStatus("Stopping")
		r.log.Info("Stop requested")
	})
}

// Wait blocks until the run reaches a terminal state.
func (r *Run) Wait() {
	<-r.done
}

// Summary returns the run totals. Stable only after Wait returns.
func (r *Run) Summary() models.RunSummary {
	r.rs.mu.Lock()
	defer r.rs.mu.Unlock()
	return models.RunSummary{
		RunID:          r.runID,
		PagesSaved:     r.rs.pagesSaved,
		ResourcesSaved: r.rs.resourcesSaved,
		Failures:       r.rs.failureCount,
		Duration:       time.Since(r.startedAt),
	}
}

// finish runs after all workers have exited: the rewrite pass (unless
// stopped), final progress, terminal state, and cleanup.
func (r *Run) finish() {
	defer close(r.done)
	defer func() {
		if r.renderer != nil {
			r.renderer.Close()
		}
		if err := r.responseCache.Close(); err != nil {
			r.log.Warnf("Failed to close response cache: %v", err)
		}
	}()

	summary := r.Summary()

	if r.stopped.Load() {
		r.state.Store(int32(StateStopped))
		msg := fmt.Sprintf("Stopped: %d pages, %d resources saved, %d failures in %s",
			summary.PagesSaved, summary.ResourcesSaved, summary.Failures, summary.Duration.Round(time.Millisecond))
		r.log.Info(msg)
		r.obs.OnFinished(false, msg)
		return
	}

	r.state.Store(int32(StateDraining))
	r.obs.OnStatus("Rewriting saved pages for offline browsing")

	r.rs.mu.Lock()
	pages := make(map[string]string, len(r.rs.pageLocal))
	for u, p := range r.rs.pageLocal {
		pages[u] = p
	}
	sheets := make(map[string]string, len(r.rs.sheetLocal))
	for u, p := range r.rs.sheetLocal {
		sheets[u] = p
	}
	r.rs.mu.Unlock()

	rewriter := mirror.NewRewriter(&r.cfg, r.writer.Mirrored(), r.log.WithField("component", "rewrite"))
	rewriteFailures := rewriter.RewriteAll(pages, sheets)

	r.rs.mu.Lock()
	r.rs.failureCount += rewriteFailures
	r.rs.mu.Unlock()

	summary = r.Summary()
	r.obs.OnProgress(100)
	r.state.Store(int32(StateCompleted))

	msg := fmt.Sprintf("Completed: %d pages, %d resources saved, %d failures in %s",
		summary.PagesSaved, summary.ResourcesSaved, summary.Failures, summary.Duration.Round(time.Millisecond))
	r.log.Info(msg)
	r.obs.OnStatus("Completed")
	r.obs.OnFinished(true, msg)
}
