package prometheus

import (
	"net/http/httptest"
	"strings"
	"testing"

	authkit "github.com/halcyonlabs/authkit"
)

type fakeSource struct {
	snapshot authkit.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() authkit.MetricsSnapshot { return f.snapshot }
func (f *fakeSource) AuditDropped() uint64                     { return f.dropped }

func TestRenderCounters(t *testing.T) {
	src := &fakeSource{
		snapshot: authkit.MetricsSnapshot{
			Counters: map[authkit.MetricID]uint64{
				authkit.MetricLoginSuccess:       7,
				authkit.MetricTokenReuseDetected: 2,
			},
		},
		dropped: 3,
	}

	out := NewExporterFromSource(src).Render()

	for _, want := range []string{
		"# TYPE authkit_login_success_total counter",
		"authkit_login_success_total 7",
		"authkit_token_reuse_detected_total 2",
		"authkit_audit_dropped_total 3",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}

	// Counters that never fired still render as zero.
	if !strings.Contains(out, "authkit_logout_total 0") {
		t.Error("zero-valued counter missing")
	}
}

func TestRenderEmptySource(t *testing.T) {
	if out := NewExporterFromSource(&fakeSource{snapshot: authkit.MetricsSnapshot{Counters: map[authkit.MetricID]uint64{}}}).Render(); out != "" {
		t.Fatalf("empty source rendered %q", out)
	}

	var nilExporter *Exporter
	if out := nilExporter.Render(); out != "" {
		t.Fatalf("nil exporter rendered %q", out)
	}
}

func TestHandlerServesText(t *testing.T) {
	src := &fakeSource{
		snapshot: authkit.MetricsSnapshot{
			Counters: map[authkit.MetricID]uint64{authkit.MetricRefreshSuccess: 1},
		},
	}

	rec := httptest.NewRecorder()
	NewExporterFromSource(src).Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "authkit_refresh_success_total 1") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}
