package httpx

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/target/meeting-processor/internal/service"
)

// AdminHandlers exposes maintenance operations.
type AdminHandlers struct {
	Cleaner       service.JobCleaner
	RetentionDays int
	Logger        *slog.Logger
}

// Cleanup runs one retention sweep. ?days= overrides the configured retention.
func (h *AdminHandlers) Cleanup(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	days := h.RetentionDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			WriteError(w, ErrorParams{
				Code:    http.StatusBadRequest,
				ErrCode: "invalid_days",
				Err:     errors.New("days must be a non-negative integer"),
			})
			return
		}
		days = v
	}

	report, err := h.Cleaner.CleanupOldJobs(r.Context(), days)
	if err != nil {
		writeServiceError(w, r, logger, err)
		return
	}
	logger.InfoContext(r.Context(), "manual cleanup finished", "retention_days", days, "deleted", report.Deleted)
	WriteJSON(w, http.StatusOK, report)
}
