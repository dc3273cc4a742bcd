package engine

import (
	"context"
	"sync"
)

// State is the run lifecycle phase.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateCompleted
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateCompleted:
		return "completed"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// runState holds the shared mutable crawl state. All fields are guarded
// by mu; workers update it through the helper methods.
type runState struct {
	mu sync.Mutex

	visitedPages     map[string]bool
	visitedResources map[string]bool
	failed           map[string]bool

	totalResources     int
	processedResources int // terminal outcomes, success or not
	pagesEnqueued      int
	pagesSaved         int
	resourcesSaved     int
	imagesDownloaded   int
	failureCount       int

	pageLocal  map[string]string // saved page URL -> local path
	sheetLocal map[string]string // saved stylesheet URL -> local path
}

func newRunState() *runState {
	return &runState{
		visitedPages:     make(map[string]bool),
		visitedResources: make(map[string]bool),
		failed:           make(map[string]bool),
		pageLocal:        make(map[string]string),
		sheetLocal:       make(map[string]string),
	}
}

// markPage records a page URL as visited. Returns false when it was
// already visited or the page budget is exhausted.
func (rs *runState) markPage(url string, maxPages int) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.visitedPages[url] {
		return false
	}
	if maxPages > 0 && rs.pagesEnqueued >= maxPages {
		return false
	}
	rs.visitedPages[url] = true
	rs.pagesEnqueued++
	return true
}

// markResource records a resource URL as visited and grows the progress
// total. Returns false when already visited, previously failed, or the
// resource budget is exhausted.
func (rs *runState) markResource(url string, maxResources int) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.visitedResources[url] || rs.failed[url] {
		return false
	}
	if maxResources > 0 && rs.totalResources >= maxResources {
		return false
	}
	rs.visitedResources[url] = true
	rs.totalResources++
	return true
}

// progress computes the clamped percentage of processed resources.
// An empty total reports 100 so a resource-less run still completes.
func (rs *runState) progress() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.totalResources == 0 {
		return 100
	}
	pct := rs.processedResources * 100 / rs.totalResources
	if pct > 100 {
		pct = 100
	}
	return pct
}

// pauseGate blocks workers while the run is paused. Stop releases the
// gate so cancelled workers are never stranded.
type pauseGate struct {
	mu     sync.Mutex
	cond   *sync.Cond
	paused bool
}

func newPauseGate() *pauseGate {
	g := &pauseGate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

func (g *pauseGate) pause() {
	g.mu.Lock()
	g.paused = true
	g.mu.Unlock()
}

func (g *pauseGate) resume() {
	g.mu.Lock()
	g.paused = false
	g.mu.Unlock()
	g.cond.Broadcast()
}

// wait blocks while the gate is paused. Returns the context error if the
// run was cancelled while waiting.
func (g *pauseGate) wait(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.paused {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		g.cond.Wait()
	}
	return ctx.Err()
}
