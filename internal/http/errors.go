package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/target/meeting-processor/internal/service"
)

var errInternal = errors.New("internal server error")

// writeServiceError maps processor errors to HTTP status codes. Store failures
// are reported without their cause; the cause is logged instead.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrJobNotFound):
		WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "job_not_found", Err: service.ErrJobNotFound})
	case errors.Is(err, service.ErrResultNotFound):
		WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "result_not_found", Err: service.ErrResultNotFound})
	case errors.Is(err, service.ErrInvalidAudioRef):
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_audio_ref", Err: err})
	case errors.Is(err, service.ErrQueueFull):
		WriteError(w, ErrorParams{Code: http.StatusServiceUnavailable, ErrCode: "queue_full", Err: service.ErrQueueFull})
	case errors.Is(err, service.ErrPoolClosed), errors.Is(err, service.ErrShuttingDown):
		WriteError(w, ErrorParams{Code: http.StatusServiceUnavailable, ErrCode: "shutting_down", Err: service.ErrShuttingDown})
	case errors.Is(err, service.ErrStoreUnavailable):
		logger.ErrorContext(r.Context(), "job store unavailable", "path", r.URL.Path, "error", err)
		WriteError(w, ErrorParams{Code: http.StatusServiceUnavailable, ErrCode: "store_unavailable", Err: service.ErrStoreUnavailable})
	default:
		logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "internal_error", Err: errInternal})
	}
}
