package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/target/meeting-processor/internal/core"
	"github.com/target/meeting-processor/internal/data"
	"github.com/target/meeting-processor/internal/domain/model"
	"github.com/target/meeting-processor/internal/observability/metrics"
	"github.com/target/meeting-processor/internal/observability/statsd"
)

const (
	defaultEstimatedDuration = 300
	secondsPerMegabyte       = 120
	estimateBaseSeconds      = 60
)

// ProcessorOptions groups dependencies for Processor.
type ProcessorOptions struct {
	Store        core.JobStore      // Required: job status and result store
	Pipeline     *Pipeline          // Required: stage pipeline run for each job
	Pool         *WorkerPool        // Required: bounded executor for pipeline runs
	Broadcaster  *StatusBroadcaster // Optional: status fan-out
	Audio        core.AudioStore    // Optional: used to estimate duration from file size
	Logger       *slog.Logger       // Optional: structured logger
	Metrics      statsd.Sink        // Optional: metrics sink
	TimeProvider data.TimeProvider  // Optional: clock for timestamps
	NewID        func() string      // Optional: job id generator (default uuid v4)
	WatchBackoff time.Duration      // Optional: resubscribe delay for WatchCancellations (default 1s)
}

// Processor is the entry point for meeting processing. It creates job records,
// hands them to the worker pool, answers status queries, and cancels and
// cleans up jobs.
type Processor struct {
	store        core.JobStore
	pipeline     *Pipeline
	pool         *WorkerPool
	broadcaster  *StatusBroadcaster
	audio        core.AudioStore
	logger       *slog.Logger
	metrics      statsd.Sink
	clock        data.TimeProvider
	newID        func() string
	watchBackoff time.Duration

	mu      sync.Mutex
	running map[string]runningJob
}

// runningJob is the cancellation handle of a pipeline run owned by this process.
type runningJob struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// CleanupReport summarizes one CleanupOldJobs sweep.
type CleanupReport struct {
	Scanned int   `json:"scanned"`
	Deleted int   `json:"deleted"`
	Failed  int   `json:"failed"`
	Purged  int64 `json:"purged"`
}

// NewProcessor constructs a Processor.
func NewProcessor(opts ProcessorOptions) (*Processor, error) {
	if opts.Store == nil {
		return nil, errors.New("JobStore is required")
	}
	if opts.Pipeline == nil {
		return nil, errors.New("Pipeline is required")
	}
	if opts.Pool == nil {
		return nil, errors.New("WorkerPool is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.TimeProvider
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	watchBackoff := opts.WatchBackoff
	if watchBackoff <= 0 {
		watchBackoff = defaultWatchBackoff
	}

	return &Processor{
		store:        opts.Store,
		pipeline:     opts.Pipeline,
		pool:         opts.Pool,
		broadcaster:  opts.Broadcaster,
		audio:        opts.Audio,
		logger:       logger.With("component", "processor"),
		metrics:      opts.Metrics,
		clock:        clock,
		newID:        newID,
		watchBackoff: watchBackoff,
		running:      make(map[string]runningJob),
	}, nil
}

// MustNewProcessor constructs a Processor and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewProcessor(opts ProcessorOptions) *Processor {
	p, err := NewProcessor(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create Processor: %v", err))
	}
	return p
}

// StartProcessing records a new job for audioRef and schedules it.
// It returns as soon as the job is queued; processing continues in the background.
//
// When the queue is full the job is recorded as failed and its id is returned
// together with ErrQueueFull.
func (p *Processor) StartProcessing(ctx context.Context, audioRef, title string) (string, error) {
	audioRef = strings.TrimSpace(audioRef)
	if audioRef == "" {
		return "", ErrInvalidAudioRef
	}

	id := p.newID()
	if strings.TrimSpace(title) == "" {
		title = model.DefaultMeetingTitle(id)
	}
	now := p.clock.Now()
	job := &model.Job{
		ID:                id,
		Stage:             model.StageUploaded,
		Progress:          0,
		StatusMessage:     "Queued for processing",
		MeetingTitle:      title,
		AudioPath:         audioRef,
		EstimatedDuration: p.estimateDuration(ctx, audioRef),
		StartedAt:         &now,
		UpdatedAt:         &now,
	}
	if err := p.pipeline.locks.create(ctx, p.store, p.broadcaster, job); err != nil {
		return "", fmt.Errorf("%w: create job: %w", ErrStoreUnavailable, err)
	}
	metrics.EmitStageTransition(p.metrics, metrics.StageMetric{Stage: string(model.StageUploaded), Result: metrics.ResultSuccess})

	jobCtx, cancel := context.WithCancelCause(p.pool.Context())
	p.register(jobCtx, id, cancel)
	snapshot := job.Clone()
	err := p.pool.Submit(func(context.Context) {
		defer p.unregister(id)
		defer cancel(context.Canceled)
		_ = p.pipeline.Run(jobCtx, snapshot)
	})
	if err != nil {
		p.unregister(id)
		cancel(err)
		p.rejectJob(ctx, id, err)
		return id, err
	}

	p.logger.InfoContext(ctx, "job queued",
		"job_id", id,
		"meeting_title", title,
		"estimated_duration", job.EstimatedDuration,
		"queue_depth", p.pool.Depth(),
	)
	return id, nil
}

// rejectJob marks a job the pool refused as failed.
func (p *Processor) rejectJob(ctx context.Context, id string, cause error) {
	message := queueFullMessage
	if !errors.Is(cause, ErrQueueFull) {
		message = failureMessage(cause)
	}
	now := p.clock.Now()
	_, err := p.pipeline.locks.commit(ctx, p.store, p.broadcaster, id, func(j *model.Job) error {
		j.Stage = model.StageFailed
		j.Progress = 0
		j.StatusMessage = "Processing failed"
		j.Error = message
		j.FailedAt = &now
		j.UpdatedAt = &now
		return nil
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to record rejected job", "job_id", id, "error", err)
		return
	}
	p.logger.WarnContext(ctx, "job rejected by worker pool", "job_id", id, "reason", cause)
}

// estimateDuration guesses processing seconds from the audio file size.
func (p *Processor) estimateDuration(ctx context.Context, audioRef string) int {
	if p.audio == nil {
		return defaultEstimatedDuration
	}
	size, err := p.audio.Size(ctx, audioRef)
	if err != nil || size < 0 {
		p.logger.DebugContext(ctx, "using default duration estimate", "audio_path", audioRef, "error", err)
		return defaultEstimatedDuration
	}
	megabytes := float64(size) / (1024 * 1024)
	return int(megabytes*secondsPerMegabyte) + estimateBaseSeconds
}

// GetJobStatus returns the current record for id.
func (p *Processor) GetJobStatus(ctx context.Context, id string) (*model.Job, error) {
	job, err := p.store.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, data.ErrJobNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("%w: get job: %w", ErrStoreUnavailable, err)
	}
	return job, nil
}

// ListJobs returns every live job, most recently started first.
// Jobs without a start time are listed last. Records that cannot be read are skipped.
func (p *Processor) ListJobs(ctx context.Context) ([]*model.Job, error) {
	ids, err := p.store.ListJobIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list jobs: %w", ErrStoreUnavailable, err)
	}

	jobs := make([]*model.Job, 0, len(ids))
	for _, id := range ids {
		job, err := p.store.GetJob(ctx, id)
		if err != nil {
			if !errors.Is(err, data.ErrJobNotFound) {
				p.logger.WarnContext(ctx, "skipping unreadable job", "job_id", id, "error", err)
			}
			continue
		}
		jobs = append(jobs, job)
	}

	slices.SortStableFunc(jobs, compareNewestFirst)
	return jobs, nil
}

func compareNewestFirst(a, b *model.Job) int {
	switch {
	case a.StartedAt == nil && b.StartedAt == nil:
		return cmp.Compare(a.ID, b.ID)
	case a.StartedAt == nil:
		return 1
	case b.StartedAt == nil:
		return -1
	default:
		return b.StartedAt.Compare(*a.StartedAt)
	}
}

// GetResult returns the stored result of a completed job.
func (p *Processor) GetResult(ctx context.Context, id string) (*model.Result, error) {
	result, err := p.store.GetResult(ctx, id)
	if err != nil {
		if errors.Is(err, data.ErrResultNotFound) {
			return nil, ErrResultNotFound
		}
		return nil, fmt.Errorf("%w: get result: %w", ErrStoreUnavailable, err)
	}
	return result, nil
}

// CancelJob forces a running job into the failed stage and stops its pipeline.
// It returns false when the job does not exist or already finished.
func (p *Processor) CancelJob(ctx context.Context, id string) (bool, error) {
	now := p.clock.Now()
	_, err := p.pipeline.locks.commit(ctx, p.store, p.broadcaster, id, func(j *model.Job) error {
		j.Stage = model.StageFailed
		j.Progress = 0
		j.StatusMessage = "Processing cancelled"
		j.Error = cancelledMessage
		j.FailedAt = &now
		j.UpdatedAt = &now
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, data.ErrJobNotFound), errors.Is(err, data.ErrJobTerminal):
			return false, nil
		default:
			return false, fmt.Errorf("%w: cancel job: %w", ErrStoreUnavailable, err)
		}
	}

	metrics.EmitStageTransition(p.metrics, metrics.StageMetric{Stage: string(model.StageFailed), Result: metrics.ResultCanceled})
	p.cancelRunning(id, ErrJobCancelled)
	p.logger.InfoContext(ctx, "job cancelled", "job_id", id)
	return true, nil
}

// CleanupOldJobs deletes the record and result of every job started more than
// retentionDays ago. Per-job failures are counted and do not stop the sweep.
func (p *Processor) CleanupOldJobs(ctx context.Context, retentionDays int) (CleanupReport, error) {
	var report CleanupReport
	if retentionDays < 0 {
		return report, fmt.Errorf("retention days must not be negative: %d", retentionDays)
	}

	began := time.Now()
	cutoff := p.clock.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour)

	ids, err := p.store.ListJobIDs(ctx)
	if err != nil {
		err = fmt.Errorf("%w: list jobs: %w", ErrStoreUnavailable, err)
		metrics.EmitCleanup(p.metrics, metrics.CleanupMetric{Duration: time.Since(began), Err: err})
		return report, err
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		report.Scanned++

		job, err := p.store.GetJob(ctx, id)
		if err != nil {
			if !errors.Is(err, data.ErrJobNotFound) {
				report.Failed++
				p.logger.WarnContext(ctx, "cleanup could not read job", "job_id", id, "error", err)
			}
			continue
		}
		if job.StartedAt == nil || !job.StartedAt.Before(cutoff) {
			continue
		}

		if err := p.deleteJob(ctx, id); err != nil {
			report.Failed++
			p.logger.WarnContext(ctx, "cleanup could not delete job", "job_id", id, "error", err)
			continue
		}
		report.Deleted++
	}

	if purger, ok := p.store.(core.ExpiredRecordPurger); ok && ctx.Err() == nil {
		purged, err := purger.PurgeExpired(ctx)
		if err != nil {
			report.Failed++
			p.logger.WarnContext(ctx, "cleanup could not purge expired records", "error", err)
		}
		report.Purged = purged
	}

	metrics.EmitCleanup(p.metrics, metrics.CleanupMetric{
		Scanned:  report.Scanned,
		Deleted:  report.Deleted,
		Failed:   report.Failed,
		Purged:   report.Purged,
		Duration: time.Since(began),
		Err:      ctx.Err(),
	})
	p.logger.InfoContext(ctx, "cleanup finished",
		"retention_days", retentionDays,
		"scanned", report.Scanned,
		"deleted", report.Deleted,
		"failed", report.Failed,
		"purged", report.Purged,
	)
	return report, ctx.Err()
}

func (p *Processor) deleteJob(ctx context.Context, id string) error {
	p.cancelRunning(id, ErrJobCancelled)
	return errors.Join(
		p.store.DeleteJob(ctx, id),
		p.store.DeleteResult(ctx, id),
	)
}

// Wait blocks until every scheduled job has finished.
func (p *Processor) Wait() {
	p.pool.Wait()
}

// Shutdown stops accepting jobs and waits for running ones. Jobs still running
// when ctx expires are interrupted and recorded as failed.
func (p *Processor) Shutdown(ctx context.Context) error {
	p.logger.InfoContext(ctx, "processor shutting down", "queued", p.pool.Depth())
	return p.pool.Shutdown(ctx)
}

func (p *Processor) register(ctx context.Context, id string, cancel context.CancelCauseFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running[id] = runningJob{ctx: ctx, cancel: cancel}
}

func (p *Processor) unregister(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, id)
}

// cancelRunning stops the local pipeline run of id. It reports whether a run
// was stopped that had not been cancelled before.
func (p *Processor) cancelRunning(id string, cause error) bool {
	p.mu.Lock()
	run, ok := p.running[id]
	p.mu.Unlock()
	if !ok || run.ctx.Err() != nil {
		return false
	}
	run.cancel(cause)
	return true
}
