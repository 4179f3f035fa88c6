package metrics

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// unmatchedRoute labels requests no route matched, so probing random paths
// cannot grow the label set.
const unmatchedRoute = "unmatched"

// codeRecorder remembers the first status code written. A handler that
// writes a body without calling WriteHeader answered 200.
type codeRecorder struct {
	http.ResponseWriter
	code int
}

func (w *codeRecorder) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *codeRecorder) Write(b []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// RequestMiddleware counts status server requests by chi route pattern and
// status code, and counts 4xx/5xx answers separately.
func RequestMiddleware(m *Metrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &codeRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			if rec.code == 0 {
				rec.code = http.StatusOK
			}

			route := unmatchedRoute
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			m.IncRequests(route, rec.code)
			if rec.code >= 400 {
				m.IncErrors()
			}
		})
	}
}
