package metrics

import "testing"

type captureBackend struct {
	counters   map[string]float64
	histograms map[string][]float64
	flushed    int
}

func newCaptureBackend() *captureBackend {
	return &captureBackend{
		counters:   map[string]float64{},
		histograms: map[string][]float64{},
	}
}

func (c *captureBackend) IncCounter(name string, delta float64, _ Labels) {
	c.counters[name] += delta
}

func (c *captureBackend) ObserveHistogram(name string, value float64, _ Labels) {
	c.histograms[name] = append(c.histograms[name], value)
}

func (c *captureBackend) Flush() error {
	c.flushed++
	return nil
}

// TestSetBackendRoutesObservations verifies the package-level helpers hit
// the installed backend and that nil restores the no-op.
func TestSetBackendRoutesObservations(t *testing.T) {
	b := newCaptureBackend()
	SetBackend(b)
	t.Cleanup(func() { SetBackend(nil) })

	IncCounter("ingest_batches_total", 2, nil)
	ObserveHistogram("ingest_upload_duration_seconds", 0.25, Labels{"status": "ok"})
	if err := Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if b.counters["ingest_batches_total"] != 2 {
		t.Fatalf("counter = %v", b.counters)
	}
	if len(b.histograms["ingest_upload_duration_seconds"]) != 1 {
		t.Fatalf("histograms = %v", b.histograms)
	}
	if b.flushed != 1 {
		t.Fatalf("flushed = %d, want 1", b.flushed)
	}

	// Restore the nop backend; helpers must not panic and Flush is a no-op.
	SetBackend(nil)
	IncCounter("ingest_batches_total", 1, nil)
	if err := Flush(); err != nil {
		t.Fatalf("Flush after reset: %v", err)
	}
	if b.counters["ingest_batches_total"] != 2 {
		t.Fatal("observation reached a removed backend")
	}
}
