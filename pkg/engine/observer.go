package engine

import (
	"github.com/sirupsen/logrus"

	"sitemirror/pkg/models"
)

// Observer receives run events. Callbacks fire synchronously from worker
// goroutines and must be cheap and non-blocking.
type Observer interface {
	OnLog(message string)
	OnStatus(message string)
	OnProgress(percent int)
	OnPageResult(outcome models.DownloadOutcome)
	OnResourceResult(outcome models.DownloadOutcome)
	OnFinished(success bool, summary string)
}

// NopObserver ignores every event. Embed it to implement only the
// callbacks you care about.
type NopObserver struct{}

func (NopObserver) OnLog(string)                            {}
func (NopObserver) OnStatus(string)                         {}
func (NopObserver) OnProgress(int)                          {}
func (NopObserver) OnPageResult(models.DownloadOutcome)     {}
func (NopObserver) OnResourceResult(models.DownloadOutcome) {}
func (NopObserver) OnFinished(bool, string)                 {}

// observerHook forwards rendered log lines to the observer's OnLog.
type observerHook struct {
	obs Observer
}

func (h *observerHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.ErrorLevel, logrus.WarnLevel, logrus.InfoLevel}
}

func (h *observerHook) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	h.obs.OnLog(line)
	return nil
}
