package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_nil_receiver_is_noop(t *testing.T) {
	var m *Metrics
	m.IncUploads("ok")
	m.IncUploadAttempts("http")
	m.SetUploadsInFlight(2)
	m.IncLedgerEntries("UPLOADED")
}

func TestMetrics_counters(t *testing.T) {
	m := New()
	m.IncUploads("ok")
	m.IncUploads("ok")
	m.IncUploads("failed")
	m.AddSegmentsDiscovered(3)

	if got := testutil.ToFloat64(m.uploadsTotal.WithLabelValues("ok")); got != 2 {
		t.Errorf("uploads ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.segmentsDiscovered); got != 3 {
		t.Errorf("segments discovered = %v, want 3", got)
	}
}

func TestHandler_serves_registry(t *testing.T) {
	m := New()
	m.IncFallbackSwitches()

	called := false
	srv := httptest.NewServer(m.Handler(func() { called = true }))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !called {
		t.Error("updateGauges not called before scrape")
	}
	if !strings.Contains(string(body), "hlsrelay_upload_fallbacks_total 1") {
		t.Errorf("metrics output missing fallback counter:\n%s", body)
	}
}

func TestRequestMiddleware_counts_by_route(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(RequestMiddleware(m))
	r.Get("/segments/{name}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "name") == "missing.ts" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("{}"))
	})

	for _, p := range []string{"/segments/a.ts", "/segments/b.ts", "/segments/missing.ts", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("/segments/{name}", "200")); got != 2 {
		t.Errorf("segment 200s = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("/segments/{name}", "404")); got != 1 {
		t.Errorf("segment 404s = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues(unmatchedRoute, "404")); got != 1 {
		t.Errorf("unmatched 404s = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.errorsTotal); got != 2 {
		t.Errorf("errors = %v, want 2", got)
	}
}

func TestSetLedgerSegments(t *testing.T) {
	m := New()
	m.SetLedgerSegments(4, 7)
	if got := testutil.ToFloat64(m.ledgerUploaded); got != 4 {
		t.Errorf("uploaded gauge = %v", got)
	}
	if got := testutil.ToFloat64(m.ledgerDownloaded); got != 7 {
		t.Errorf("downloaded gauge = %v", got)
	}
	var nilMetrics *Metrics
	nilMetrics.SetLedgerSegments(1, 1)
}
