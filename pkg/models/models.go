package models

import "time"

// PageTask represents a page URL and its crawl depth waiting for a page worker
type PageTask struct {
	URL   string
	Depth int
}

// ResourceTask represents an embedded resource waiting for a resource worker.
// Referrer is the page (or stylesheet) the resource was discovered on.
type ResourceTask struct {
	URL      string
	Referrer string
	Kind     string // Asset category label assigned at discovery
}

// DownloadOutcome is emitted once per page/resource fetch attempt sequence
type DownloadOutcome struct {
	URL       string
	Status    OutcomeStatus
	LocalPath string
}

// RunSummary aggregates the final counts of a mirror run
type RunSummary struct {
	RunID          string
	PagesSaved     int
	ResourcesSaved int
	Failures       int
	Duration       time.Duration
}
