// Package metrics is the backend-agnostic metrics seam used by the pipeline.
//
// Core code calls the package-level helpers; cmd/calibprep selects a backend
// with SetBackend. Without one, every call is a no-op.
package metrics

import (
	"sync"
	"time"
)

// Metric names emitted by calibprep.
const (
	StepTotal           = "calibprep_step_total"
	StepDurationSeconds = "calibprep_step_duration_seconds"
	RowsTotal           = "calibprep_rows_total"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric observations. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. Nil restores the no-op
// backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush asks the current backend to submit buffered data.
func Flush() error { return current().Flush() }

// RecordStep counts one pipeline step and records its duration.
// status is "ok" when err is nil and "error" otherwise.
func RecordStep(step string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{"step": step, "status": status}
	IncCounter(StepTotal, 1, l)
	ObserveHistogram(StepDurationSeconds, time.Since(start).Seconds(), l)
}

// RecordRows counts rows of a given kind for a table, e.g.
// RecordRows("joins", "loaded", 1200).
func RecordRows(tableName, kind string, n int) {
	if n <= 0 {
		return
	}
	IncCounter(RowsTotal, float64(n), Labels{"table": tableName, "kind": kind})
}
