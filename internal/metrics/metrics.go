// Package metrics decouples ingestion code from any metrics vendor.
//
// Pipeline code calls the package-level helpers with plain metric names and
// labels. The process wires a concrete Backend at startup; without one the
// helpers are no-ops, so library code never checks for configuration.
package metrics

import "sync/atomic"

// Labels are metric dimensions, e.g. {"kind": "inserted"}.
type Labels map[string]string

// Backend receives metric observations. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer observations.
type Flusher interface {
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

// holder keeps the stored concrete type stable for atomic.Value.
type holder struct{ b Backend }

var current atomic.Value

func init() {
	current.Store(holder{b: nopBackend{}})
}

// SetBackend installs b as the process-wide backend. A nil b restores the
// no-op backend.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	current.Store(holder{b: b})
}

func backend() Backend {
	return current.Load().(holder).b
}

// IncCounter adds delta to the named counter.
func IncCounter(name string, delta float64, labels Labels) {
	backend().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample of the named distribution.
func ObserveHistogram(name string, value float64, labels Labels) {
	backend().ObserveHistogram(name, value, labels)
}

// Flush submits buffered observations if the backend supports it.
func Flush() error {
	if f, ok := backend().(Flusher); ok {
		return f.Flush()
	}
	return nil
}
