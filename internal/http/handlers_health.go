package httpx

import (
	"context"
	"io"
	"net/http"
	"time"
)

const (
	healthPath         = "/healthz"
	healthResponse     = `{"status":"ok"}` + "\n"
	unhealthyResponse  = `{"status":"unavailable"}` + "\n"
	healthCheckTimeout = 2 * time.Second
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// healthHandler returns 200 when the job store answers and 503 otherwise.
// A nil checker always reports healthy.
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, code := healthResponse, http.StatusOK
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := checker.Health(ctx); err != nil {
				body, code = unhealthyResponse, http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if r.Method == http.MethodHead {
			return
		}
		if _, err := io.WriteString(w, body); err != nil {
			// Nothing more to do if the client connection is gone.
			return
		}
	}
}
