package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/target/meeting-processor/internal/core"
	"github.com/target/meeting-processor/internal/data"
	"github.com/target/meeting-processor/internal/domain/model"
)

// DefaultUpdatesTopic is the topic status updates are published on.
const DefaultUpdatesTopic = "meeting_updates"

// StatusBroadcasterOptions groups dependencies for StatusBroadcaster.
type StatusBroadcasterOptions struct {
	Publisher    core.StatusPublisher // Optional: nil disables publishing
	Topic        string               // Optional: defaults to DefaultUpdatesTopic
	Logger       *slog.Logger         // Optional: structured logger
	TimeProvider data.TimeProvider    // Optional: envelope timestamps
}

// StatusBroadcaster publishes job snapshots to observers. Publishing is
// best-effort: failures are logged and never reach the caller.
type StatusBroadcaster struct {
	publisher core.StatusPublisher
	topic     string
	logger    *slog.Logger
	clock     data.TimeProvider
}

// NewStatusBroadcaster constructs a StatusBroadcaster.
func NewStatusBroadcaster(opts StatusBroadcasterOptions) *StatusBroadcaster {
	topic := opts.Topic
	if topic == "" {
		topic = DefaultUpdatesTopic
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.TimeProvider
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}
	return &StatusBroadcaster{
		publisher: opts.Publisher,
		topic:     topic,
		logger:    logger.With("component", "status_broadcaster"),
		clock:     clock,
	}
}

// Topic returns the topic updates are published on.
func (b *StatusBroadcaster) Topic() string {
	return b.topic
}

// Publish sends a status_update envelope for job.
func (b *StatusBroadcaster) Publish(ctx context.Context, job *model.Job) {
	if b == nil || b.publisher == nil || job == nil {
		return
	}

	payload, err := json.Marshal(model.NewStatusUpdate(job, b.clock.Now()))
	if err != nil {
		b.logger.WarnContext(ctx, "failed to encode status update", "job_id", job.ID, "error", err)
		return
	}
	if err := b.publisher.Publish(ctx, b.topic, payload); err != nil {
		b.logger.WarnContext(ctx, "failed to broadcast status update",
			"job_id", job.ID,
			"stage", job.Stage,
			"error", err,
		)
	}
}
