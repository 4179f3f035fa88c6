package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"hls-relay/internal/platform/metrics"
)

// SegmentStatus is the per-segment view served by the status endpoint.
type SegmentStatus struct {
	Name       string `json:"name"`
	Downloaded bool   `json:"downloaded"`
	Uploaded   bool   `json:"uploaded"`
}

// Handler exposes read-only relay status over HTTP using go-chi.
type Handler struct {
	ledger  *Ledger
	mode    string
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler reading from ledger. mode names the running
// variant and is echoed in /status. Metrics may be nil.
func NewHandler(ledger *Ledger, mode string, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{ledger: ledger, mode: mode, log: log, metrics: m}
}

// Routes mounts the handler's endpoints on r. /metrics is only mounted
// when the handler has metrics.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/status", h.Status)
	r.Get("/segments/{name}", h.Segment)
	if h.metrics != nil {
		r.Get("/metrics", h.metrics.Handler(h.refreshGauges).ServeHTTP)
	}
}

// refreshGauges copies the ledger counts into the metrics before a scrape.
func (h *Handler) refreshGauges() {
	snap := h.ledger.Snapshot()
	h.metrics.SetLedgerSegments(snap.Uploaded, snap.Downloaded)
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// Status handles GET /status with a summary of the ledger.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, struct {
		Mode string `json:"mode"`
		LedgerSnapshot
	}{Mode: h.mode, LedgerSnapshot: h.ledger.Snapshot()})
}

// Segment handles GET /segments/{name}. Names the ledger has never seen
// get a 404.
func (h *Handler) Segment(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	st := SegmentStatus{
		Name:       name,
		Downloaded: h.ledger.IsDownloaded(name),
		Uploaded:   h.ledger.IsUploaded(name),
	}
	if !st.Downloaded && !st.Uploaded {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Debug("write response failed", slog.String("error", err.Error()))
	}
}
