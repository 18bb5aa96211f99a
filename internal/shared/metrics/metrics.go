package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	ingestStartedTotal       atomic.Uint64
	ingestCompletedTotal     atomic.Uint64
	compensationsRunTotal    atomic.Uint64
	compensationsFailedTotal atomic.Uint64
	deletesTotal             atomic.Uint64
	deleteFailedTotal        atomic.Uint64

	ingestFailed  = newLabeledCounter()
	strayArtifact = newLabeledCounter()
	rateLimited   = newLabeledCounter()

	ingestDuration = newHistogram([]float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000})
)

// IncIngestStarted increments the started counter.
func IncIngestStarted() {
	ingestStartedTotal.Add(1)
}

// IncIngestCompleted increments the completed counter.
func IncIngestCompleted() {
	ingestCompletedTotal.Add(1)
}

// IncIngestFailed counts a failed ingest by error kind.
func IncIngestFailed(kind string) {
	ingestFailed.Inc(kind)
}

// IncCompensation counts one compensation attempt and whether it failed.
func IncCompensation(failed bool) {
	compensationsRunTotal.Add(1)
	if failed {
		compensationsFailedTotal.Add(1)
	}
}

// IncDelete counts a delete call that reached the authoritative step.
func IncDelete(failed bool) {
	if failed {
		deleteFailedTotal.Add(1)
		return
	}
	deletesTotal.Add(1)
}

// IncStrayArtifact counts an index entry or blob left behind, by backend.
func IncStrayArtifact(backend string) {
	strayArtifact.Inc(backend)
}

// IncRateLimited counts a request rejected by the limiter, by rule group.
func IncRateLimited(group string) {
	rateLimited.Inc(group)
}

// ObserveIngestDurationMs records an ingest duration in milliseconds.
func ObserveIngestDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	ingestDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "document_ingest_started_total", "Total ingest attempts started", ingestStartedTotal.Load())
	writeCounter(&buf, "document_ingest_completed_total", "Total ingest attempts fully committed", ingestCompletedTotal.Load())
	writeLabeledCounter(&buf, "document_ingest_failed_total", "Total ingest attempts failed", "kind", ingestFailed.Snapshot())
	writeCounter(&buf, "document_compensations_total", "Compensation actions attempted", compensationsRunTotal.Load())
	writeCounter(&buf, "document_compensations_failed_total", "Compensation actions that failed", compensationsFailedTotal.Load())
	writeCounter(&buf, "document_deletes_total", "Documents deleted", deletesTotal.Load())
	writeCounter(&buf, "document_delete_failed_total", "Deletes that failed at the metadata step", deleteFailedTotal.Load())
	writeLabeledCounter(&buf, "document_stray_artifacts_total", "Artifacts left behind by lenient deletes", "backend", strayArtifact.Snapshot())
	writeLabeledCounter(&buf, "http_rate_limited_total", "Requests rejected by the rate limiter", "group", rateLimited.Snapshot())
	writeHistogram(&buf, "document_ingest_duration_ms", "Ingest duration in milliseconds", ingestDuration.Snapshot())
	return buf.String()
}

type labeledCounter struct {
	mu     sync.Mutex
	values map[string]uint64
}

func newLabeledCounter() *labeledCounter {
	return &labeledCounter{values: make(map[string]uint64)}
}

func (l *labeledCounter) Inc(label string) {
	l.mu.Lock()
	l.values[label]++
	l.mu.Unlock()
}

func (l *labeledCounter) Snapshot() map[string]uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]uint64, len(l.values))
	for k, v := range l.values {
		out[k] = v
	}
	return out
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// Observe records into the first bucket that fits; Render accumulates.
func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			return
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeLabeledCounter(buf *bytes.Buffer, name, help, label string, values map[string]uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(buf, "%s{%s=%q} %d\n", name, label, k, values[k])
	}
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// SinceMillis returns the elapsed time since start in milliseconds.
func SinceMillis(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
