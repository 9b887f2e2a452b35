package httpx

import (
	"log/slog"
	"net/http"

	"github.com/target/meeting-processor/internal/core"
	"github.com/target/meeting-processor/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Processor     *service.Processor
	Audio         core.AudioStore // Optional: nil disables multipart uploads
	Hub           StatusStream
	Health        HealthChecker
	Upload        UploadLimits
	RetentionDays int
	Logger        *slog.Logger // Optional
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	meetings := &MeetingHandlers{
		Svc:    services.Processor,
		Audio:  services.Audio,
		Upload: services.Upload,
		Logger: logger,
	}
	events := &EventHandlers{Svc: services.Processor, Hub: services.Hub, Logger: logger}
	admin := &AdminHandlers{Cleaner: services.Processor, RetentionDays: services.RetentionDays, Logger: logger}

	registerMeetingRoutes(mux, meetings)
	if services.Hub != nil {
		mux.HandleFunc("GET /api/meetings/{id}/events", events.Stream)
	}
	mux.HandleFunc("POST /api/admin/cleanup", admin.Cleanup)
	mux.Handle("GET "+healthPath, healthHandler(services.Health))
	mux.Handle("HEAD "+healthPath, healthHandler(services.Health))

	return mux
}

func registerMeetingRoutes(mux *http.ServeMux, h *MeetingHandlers) {
	mux.HandleFunc("POST /api/meetings", h.Create)
	mux.HandleFunc("GET /api/meetings", h.List)
	mux.HandleFunc("GET /api/meetings/{id}", h.Status)
	mux.HandleFunc("GET /api/meetings/{id}/result", h.Result)
	mux.HandleFunc("POST /api/meetings/{id}/cancel", h.Cancel)
}
