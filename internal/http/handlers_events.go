package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/target/meeting-processor/internal/domain/model"
	"github.com/target/meeting-processor/internal/service"
)

const (
	defaultKeepAlive = 15 * time.Second
	subscribeWait    = 5 * time.Second
	statusEventName  = "status"
)

// StatusStream delivers status updates for one job at a time. Subscribe
// returns once updates published afterwards are guaranteed to arrive.
type StatusStream interface {
	Subscribe(ctx context.Context, jobID string) (func(), <-chan model.StatusUpdate, error)
}

// EventHandlers streams job progress to browsers as Server-Sent Events.
type EventHandlers struct {
	Svc       *service.Processor
	Hub       StatusStream
	KeepAlive time.Duration // Optional: comment heartbeat interval (default 15s)
	Logger    *slog.Logger
}

func (h *EventHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Stream writes the stored snapshot of a job followed by every update until
// the job reaches a terminal stage or the client goes away. Each keep-alive
// tick also re-reads the stored job, which covers updates missed while the
// status subscription was down.
func (h *EventHandlers) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	// Subscribe before reading the snapshot so no update falls in between.
	unsub, updates := h.subscribe(ctx, id)
	defer unsub()
	if ctx.Err() != nil {
		return
	}

	job, err := h.Svc.GetJobStatus(ctx, id)
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}

	rc := http.NewResponseController(w)
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	last := job.Clone()
	if err := writeStatusEvent(w, model.NewStatusUpdate(job, time.Now())); err != nil {
		return
	}
	_ = rc.Flush()
	if job.Stage.Terminal() {
		return
	}

	keepAlive := h.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if behind(last, &update.Status) {
				continue
			}
			if err := writeStatusEvent(w, update); err != nil {
				h.logger().DebugContext(ctx, "status stream closed", "job_id", id, "error", err)
				return
			}
			_ = rc.Flush()
			if update.Status.Stage.Terminal() {
				return
			}
			last = update.Status.Clone()
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			stored, err := h.Svc.GetJobStatus(ctx, id)
			if err != nil {
				h.logger().DebugContext(ctx, "status resync failed", "job_id", id, "error", err)
				_ = rc.Flush()
				continue
			}
			if stored.Stage != last.Stage || stored.Progress != last.Progress {
				if err := writeStatusEvent(w, model.NewStatusUpdate(stored, time.Now())); err != nil {
					return
				}
				last = stored
			}
			_ = rc.Flush()
			if stored.Stage.Terminal() {
				return
			}
		}
	}
}

// subscribe opens the live update feed for id. When the hub cannot confirm a
// subscription the stream falls back to polling on the keep-alive tick.
func (h *EventHandlers) subscribe(ctx context.Context, id string) (func(), <-chan model.StatusUpdate) {
	waitCtx, cancel := context.WithTimeout(ctx, subscribeWait)
	defer cancel()

	unsub, updates, err := h.Hub.Subscribe(waitCtx, id)
	if err != nil {
		if ctx.Err() == nil {
			h.logger().WarnContext(ctx, "live status updates unavailable, polling", "job_id", id, "error", err)
		}
		return func() {}, nil
	}
	return unsub, updates
}

// behind reports whether next is older than the snapshot already sent, which
// happens when a resync overtook updates still queued on the feed.
func behind(last, next *model.Job) bool {
	if !last.Stage.CanTransition(next.Stage) {
		return true
	}
	return next.Stage == last.Stage && next.Progress < last.Progress
}

func writeStatusEvent(w io.Writer, update model.StatusUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("encode status update: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", statusEventName, payload)
	return err
}
