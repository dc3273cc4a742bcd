package models

// OutcomeStatus classifies the result of a single page/resource fetch sequence
type OutcomeStatus string

const (
	StatusUnset       OutcomeStatus = ""                   // Zero value = unset/unknown
	StatusDownloaded  OutcomeStatus = "downloaded"         // Body fetched from the origin and saved
	StatusCached      OutcomeStatus = "already-downloaded" // Origin replied 304, body served from cache
	StatusTooLarge    OutcomeStatus = "skipped-too-large"  // Advertised length exceeded the configured cap
	StatusIgnoredMIME OutcomeStatus = "skipped-mime"       // Content type matched the ignore list
	StatusSkipped     OutcomeStatus = "skipped"            // Filtered before fetch (scope, limits, dedup)
	StatusFailed      OutcomeStatus = "failed"             // Terminal failure after retries
)

// String implements fmt.Stringer for logging
func (s OutcomeStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// Saved reports whether the outcome produced a local file
func (s OutcomeStatus) Saved() bool {
	return s == StatusDownloaded || s == StatusCached
}
