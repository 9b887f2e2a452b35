// Package httpx provides the HTTP API of the meeting processor.
package httpx

import (
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"slices"
	"strings"

	"github.com/target/meeting-processor/internal/core"
	"github.com/target/meeting-processor/internal/domain/model"
	"github.com/target/meeting-processor/internal/service"
)

const (
	// multipartMemory is how much of an upload is buffered in memory before spilling to disk.
	multipartMemory = 8 << 20
	// multipartOverhead allows for form fields and part headers on top of the file itself.
	multipartOverhead = 1 << 20
)

// UploadLimits constrains multipart audio uploads.
type UploadLimits struct {
	MaxBytes          int64
	AllowedExtensions []string
}

func (l UploadLimits) allows(filename string) bool {
	if len(l.AllowedExtensions) == 0 {
		return true
	}
	return slices.Contains(l.AllowedExtensions, strings.ToLower(filepath.Ext(filename)))
}

// MeetingHandlers provides HTTP handlers for meeting processing jobs.
type MeetingHandlers struct {
	Svc    *service.Processor
	Audio  core.AudioStore // Optional: nil disables multipart uploads
	Upload UploadLimits
	Logger *slog.Logger
}

func (h *MeetingHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// createMeetingRequest submits audio that is already in storage.
type createMeetingRequest struct {
	AudioPath    string `json:"audio_path"`
	MeetingTitle string `json:"meeting_title"`
}

type createMeetingResponse struct {
	JobID     string      `json:"job_id"`
	Stage     model.Stage `json:"stage"`
	Message   string      `json:"message"`
	StatusURL string      `json:"status_url"`
	EventsURL string      `json:"events_url"`
}

// Create accepts either a multipart upload (field "file" or "audio", optional
// "title") or a JSON body referencing stored audio, and starts processing.
func (h *MeetingHandlers) Create(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		h.createFromUpload(w, r)
		return
	}

	var req createMeetingRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	h.start(w, r, req.AudioPath, req.MeetingTitle)
}

func (h *MeetingHandlers) createFromUpload(w http.ResponseWriter, r *http.Request) {
	if h.Audio == nil {
		WriteError(w, ErrorParams{
			Code:    http.StatusNotImplemented,
			ErrCode: "uploads_disabled",
			Err:     errors.New("audio uploads are not enabled"),
		})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.Upload.MaxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.writeUploadError(w, err)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := formFile(r)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_upload", Err: err})
		return
	}
	defer file.Close()

	if h.Upload.MaxBytes > 0 && header.Size > h.Upload.MaxBytes {
		h.writeUploadError(w, &http.MaxBytesError{Limit: h.Upload.MaxBytes})
		return
	}
	if !h.Upload.allows(header.Filename) {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "unsupported_file_type",
			Err: fmt.Errorf("file type %q is not supported (allowed: %s)",
				filepath.Ext(header.Filename), strings.Join(h.Upload.AllowedExtensions, ", ")),
		})
		return
	}

	ref, err := h.Audio.Save(r.Context(), header.Filename, file)
	if err != nil {
		h.logger().ErrorContext(r.Context(), "failed to store uploaded audio", "filename", header.Filename, "error", err)
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "upload_failed",
			Err:     errors.New("failed to store uploaded audio"),
		})
		return
	}

	h.start(w, r, ref, r.FormValue("title"))
}

func formFile(r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	for _, field := range []string{"file", "audio"} {
		file, header, err := r.FormFile(field)
		if err == nil {
			return file, header, nil
		}
		if !errors.Is(err, http.ErrMissingFile) {
			return nil, nil, err
		}
	}
	return nil, nil, errors.New(`multipart field "file" is required`)
}

func (h *MeetingHandlers) writeUploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		WriteError(w, ErrorParams{
			Code:    http.StatusRequestEntityTooLarge,
			ErrCode: "file_too_large",
			Err:     fmt.Errorf("upload exceeds the %d MB limit", h.Upload.MaxBytes>>20),
		})
		return
	}
	WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_upload", Err: err})
}

func (h *MeetingHandlers) start(w http.ResponseWriter, r *http.Request, audioRef, title string) {
	id, err := h.Svc.StartProcessing(r.Context(), audioRef, title)
	if err != nil {
		if id != "" {
			h.logger().WarnContext(r.Context(), "job could not be scheduled", "job_id", id, "error", err)
		}
		writeServiceError(w, r, h.logger(), err)
		return
	}

	WriteJSON(w, http.StatusAccepted, createMeetingResponse{
		JobID:     id,
		Stage:     model.StageUploaded,
		Message:   "Meeting processing started",
		StatusURL: "/api/meetings/" + id,
		EventsURL: "/api/meetings/" + id + "/events",
	})
}

type listMeetingsResponse struct {
	Jobs  []*model.Job `json:"jobs"`
	Count int          `json:"count"`
	Total int          `json:"total"`
}

// List returns the live jobs, newest first. An optional ?limit= caps the page.
func (h *MeetingHandlers) List(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.Svc.ListJobs(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}

	total := len(jobs)
	if limit := parseIntQuery(r, "limit", 0); limit > 0 && limit < total {
		jobs = jobs[:limit]
	}
	WriteJSON(w, http.StatusOK, listMeetingsResponse{Jobs: jobs, Count: len(jobs), Total: total})
}

// Status returns the current record of one job.
func (h *MeetingHandlers) Status(w http.ResponseWriter, r *http.Request) {
	job, err := h.Svc.GetJobStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// Result returns the transcript and analysis of a completed job.
func (h *MeetingHandlers) Result(w http.ResponseWriter, r *http.Request) {
	result, err := h.Svc.GetResult(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

type cancelMeetingResponse struct {
	JobID     string `json:"job_id"`
	Cancelled bool   `json:"cancelled"`
}

// Cancel stops a queued or running job.
func (h *MeetingHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cancelled, err := h.Svc.CancelJob(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}
	if !cancelled {
		WriteError(w, ErrorParams{
			Code:    http.StatusConflict,
			ErrCode: "not_cancellable",
			Err:     errors.New("job does not exist or has already finished"),
		})
		return
	}
	WriteJSON(w, http.StatusOK, cancelMeetingResponse{JobID: id, Cancelled: true})
}
