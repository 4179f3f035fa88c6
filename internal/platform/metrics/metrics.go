package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for a relay run.
// A nil *Metrics is valid and records nothing, so components can take it
// as an optional dependency.
type Metrics struct {
	registry *prometheus.Registry

	playlistFetchFailures prometheus.Counter
	segmentsDiscovered    prometheus.Counter
	segmentsDownloaded    prometheus.Counter
	downloadFailures      prometheus.Counter
	uploadAttempts        *prometheus.CounterVec
	uploadsTotal          *prometheus.CounterVec
	fallbackSwitches      prometheus.Counter
	uploadsInFlight       prometheus.Gauge
	ledgerEntries         *prometheus.CounterVec
	ledgerUploaded        prometheus.Gauge
	ledgerDownloaded      prometheus.Gauge
	requestsTotal         *prometheus.CounterVec
	errorsTotal           prometheus.Counter
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		playlistFetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hlsrelay_playlist_fetch_failures_total",
			Help: "Playlist fetches that failed and were retried on the next cycle",
		}),
		segmentsDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hlsrelay_segments_discovered_total",
			Help: "Segment references seen across all poll cycles",
		}),
		segmentsDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hlsrelay_segments_downloaded_total",
			Help: "Segments downloaded and written to local storage",
		}),
		downloadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hlsrelay_download_failures_total",
			Help: "Segment downloads that failed",
		}),
		uploadAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hlsrelay_upload_attempts_total",
			Help: "Individual upload attempts by transport",
		}, []string{"transport"}),
		uploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hlsrelay_uploads_total",
			Help: "Completed upload calls by outcome",
		}, []string{"outcome"}),
		fallbackSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hlsrelay_upload_fallbacks_total",
			Help: "Upload calls that switched to the fallback transport",
		}),
		uploadsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hlsrelay_uploads_in_flight",
			Help: "Uploads currently running",
		}),
		ledgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hlsrelay_ledger_entries_total",
			Help: "Ledger entries appended by status",
		}, []string{"status"}),
		ledgerUploaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hlsrelay_ledger_uploaded_segments",
			Help: "Distinct segment names recorded as uploaded",
		}),
		ledgerDownloaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hlsrelay_ledger_downloaded_segments",
			Help: "Distinct segment names recorded as downloaded",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hlsrelay_status_requests_total",
			Help: "Status server requests by route pattern and status code",
		}, []string{"route", "code"}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hlsrelay_status_errors_total",
			Help: "Status server responses with 4xx or 5xx status",
		}),
	}

	registry.MustRegister(
		m.playlistFetchFailures,
		m.segmentsDiscovered,
		m.segmentsDownloaded,
		m.downloadFailures,
		m.uploadAttempts,
		m.uploadsTotal,
		m.fallbackSwitches,
		m.uploadsInFlight,
		m.ledgerEntries,
		m.ledgerUploaded,
		m.ledgerDownloaded,
		m.requestsTotal,
		m.errorsTotal,
	)

	return m
}

// IncPlaylistFetchFailures counts a failed playlist fetch.
func (m *Metrics) IncPlaylistFetchFailures() {
	if m != nil {
		m.playlistFetchFailures.Inc()
	}
}

// AddSegmentsDiscovered counts references found in one cycle.
func (m *Metrics) AddSegmentsDiscovered(n int) {
	if m != nil {
		m.segmentsDiscovered.Add(float64(n))
	}
}

// IncSegmentsDownloaded counts a stored segment.
func (m *Metrics) IncSegmentsDownloaded() {
	if m != nil {
		m.segmentsDownloaded.Inc()
	}
}

// IncDownloadFailures counts a failed segment download.
func (m *Metrics) IncDownloadFailures() {
	if m != nil {
		m.downloadFailures.Inc()
	}
}

// IncUploadAttempts counts one attempt on the named transport.
func (m *Metrics) IncUploadAttempts(transport string) {
	if m != nil {
		m.uploadAttempts.WithLabelValues(transport).Inc()
	}
}

// IncUploads counts a finished upload call; outcome is "ok" or "failed".
func (m *Metrics) IncUploads(outcome string) {
	if m != nil {
		m.uploadsTotal.WithLabelValues(outcome).Inc()
	}
}

// IncFallbackSwitches counts a switch to the fallback transport.
func (m *Metrics) IncFallbackSwitches() {
	if m != nil {
		m.fallbackSwitches.Inc()
	}
}

// SetUploadsInFlight sets the in-flight uploads gauge.
func (m *Metrics) SetUploadsInFlight(n int) {
	if m != nil {
		m.uploadsInFlight.Set(float64(n))
	}
}

// IncLedgerEntries counts an appended ledger entry.
func (m *Metrics) IncLedgerEntries(status string) {
	if m != nil {
		m.ledgerEntries.WithLabelValues(status).Inc()
	}
}

// SetLedgerSegments sets the uploaded and downloaded segment gauges.
func (m *Metrics) SetLedgerSegments(uploaded, downloaded int) {
	if m != nil {
		m.ledgerUploaded.Set(float64(uploaded))
		m.ledgerDownloaded.Set(float64(downloaded))
	}
}

// IncRequests counts one status server request. route should be a route
// pattern, not the raw path, to keep label cardinality bounded.
func (m *Metrics) IncRequests(route string, code int) {
	if m != nil {
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	}
}

// IncErrors increments the status server error counter.
func (m *Metrics) IncErrors() {
	if m != nil {
		m.errorsTotal.Inc()
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
