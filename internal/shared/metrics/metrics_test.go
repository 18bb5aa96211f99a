package metrics

import (
	"bytes"
	"strings"
	"testing"
)

func TestHistogramRendersCumulativeBuckets(t *testing.T) {
	h := newHistogram([]float64{10, 100})
	h.Observe(5)
	h.Observe(50)
	h.Observe(500)

	var buf bytes.Buffer
	writeHistogram(&buf, "x", "test", h.Snapshot())
	out := buf.String()
	for _, want := range []string{
		`x_bucket{le="10"} 1`,
		`x_bucket{le="100"} 2`,
		`x_bucket{le="+Inf"} 3`,
		`x_sum 555`,
		`x_count 3`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestRenderIncludesLabeledCounters(t *testing.T) {
	IncIngestFailed("index")
	IncStrayArtifact("object_store")

	out := Render()
	if !strings.Contains(out, `document_ingest_failed_total{kind="index"}`) {
		t.Fatalf("missing ingest failed series:\n%s", out)
	}
	if !strings.Contains(out, `document_stray_artifacts_total{backend="object_store"}`) {
		t.Fatalf("missing stray artifact series:\n%s", out)
	}
}
