package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/meeting-processor/internal/core"
	"github.com/target/meeting-processor/internal/data"
	"github.com/target/meeting-processor/internal/domain/model"
	"github.com/target/meeting-processor/internal/observability/metrics"
	"github.com/target/meeting-processor/internal/observability/statsd"
)

const (
	// DefaultTranscriptionTimeout bounds a single transcription call.
	DefaultTranscriptionTimeout = 300 * time.Second
	// DefaultAnalysisTimeout bounds a single analysis call.
	DefaultAnalysisTimeout = 120 * time.Second

	failureWriteTimeout = 10 * time.Second
)

// PipelineOptions groups dependencies for Pipeline.
type PipelineOptions struct {
	Store                core.JobStore      // Required: job status and result store
	Transcriber          core.Transcriber   // Required: speech-to-text collaborator
	Analyzer             core.Analyzer      // Required: transcript analysis collaborator
	Broadcaster          *StatusBroadcaster // Optional: status fan-out
	TranscriptionTimeout time.Duration      // Optional: per-call timeout (default 300s)
	AnalysisTimeout      time.Duration      // Optional: per-call timeout (default 120s)
	Logger               *slog.Logger       // Optional: structured logger
	Metrics              statsd.Sink        // Optional: metrics sink
	TimeProvider         data.TimeProvider  // Optional: clock for timestamps
}

// Pipeline drives one job through transcription and analysis.
//
// Every persisted change is written through JobStore.UpdateJob and then
// broadcast under the job's lock, shared with the Processor. A write refused because the job already reached a terminal
// stage ends the run without further writes.
type Pipeline struct {
	store                core.JobStore
	transcriber          core.Transcriber
	analyzer             core.Analyzer
	broadcaster          *StatusBroadcaster
	transcriptionTimeout time.Duration
	analysisTimeout      time.Duration
	logger               *slog.Logger
	metrics              statsd.Sink
	clock                data.TimeProvider
	locks                *jobLocks
}

// NewPipeline constructs a Pipeline.
func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	if opts.Store == nil {
		return nil, errors.New("JobStore is required")
	}
	if opts.Transcriber == nil {
		return nil, errors.New("Transcriber is required")
	}
	if opts.Analyzer == nil {
		return nil, errors.New("Analyzer is required")
	}

	transcriptionTimeout := opts.TranscriptionTimeout
	if transcriptionTimeout <= 0 {
		transcriptionTimeout = DefaultTranscriptionTimeout
	}
	analysisTimeout := opts.AnalysisTimeout
	if analysisTimeout <= 0 {
		analysisTimeout = DefaultAnalysisTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.TimeProvider
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}

	return &Pipeline{
		store:                opts.Store,
		transcriber:          opts.Transcriber,
		analyzer:             opts.Analyzer,
		broadcaster:          opts.Broadcaster,
		transcriptionTimeout: transcriptionTimeout,
		analysisTimeout:      analysisTimeout,
		logger:               logger.With("component", "pipeline"),
		metrics:              opts.Metrics,
		clock:                clock,
		locks:                newJobLocks(),
	}, nil
}

// Run processes job until it completes, fails, or ctx is cancelled.
//
// ctx is the job's cancellation token. When it is cancelled with ErrJobCancelled
// nothing more is written; the canceller owns the terminal record. When it is
// cancelled with ErrShuttingDown the job is marked failed as interrupted.
// Run returns nil only when the job reached the completed stage.
func (p *Pipeline) Run(ctx context.Context, job *model.Job) error {
	if job == nil || job.ID == "" {
		return data.ErrJobIDRequired
	}
	start := p.clock.Now()
	p.logger.InfoContext(ctx, "processing started", "job_id", job.ID, "audio_path", job.AudioPath)

	// Total processing time includes the wait in the queue.
	submitted := start
	if job.StartedAt != nil {
		submitted = *job.StartedAt
	}
	err := p.process(ctx, job.ID, job.AudioPath, submitted)
	p.finish(ctx, job.ID, start, err)
	return err
}

func (p *Pipeline) process(ctx context.Context, id, audioRef string, submitted time.Time) error {
	if err := p.advance(ctx, id, model.StageTranscribing, 10, "Transcribing audio"); err != nil {
		return err
	}
	if err := p.advance(ctx, id, model.StageTranscribing, 20, "Starting transcription..."); err != nil {
		return err
	}
	transcription, err := p.transcribe(ctx, audioRef)
	if err != nil {
		return err
	}
	if err := p.advance(ctx, id, model.StageTranscribing, 50, "Transcription completed"); err != nil {
		return err
	}

	if err := p.advance(ctx, id, model.StageAnalyzing, 60, "Analyzing transcript"); err != nil {
		return err
	}
	if err := p.advance(ctx, id, model.StageAnalyzing, 70, "Starting analysis..."); err != nil {
		return err
	}
	analysis, err := p.analyze(ctx, transcription.Text)
	if err != nil {
		return err
	}
	if err := p.advance(ctx, id, model.StageAnalyzing, 90, "Analysis completed"); err != nil {
		return err
	}

	return p.complete(ctx, id, transcription, analysis, submitted)
}

// advance persists a stage/progress change and broadcasts the written snapshot.
func (p *Pipeline) advance(ctx context.Context, id string, stage model.Stage, progress int, message string) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}

	now := p.clock.Now()
	_, err := p.locks.commit(ctx, p.store, p.broadcaster, id, func(j *model.Job) error {
		j.Stage = stage
		j.Progress = progress
		j.StatusMessage = message
		j.UpdatedAt = &now
		return nil
	})
	if err != nil {
		return fmt.Errorf("advance job to %s: %w", stage, err)
	}

	metrics.EmitStageTransition(p.metrics, metrics.StageMetric{Stage: string(stage), Result: metrics.ResultSuccess})
	return nil
}

func (p *Pipeline) transcribe(ctx context.Context, audioRef string) (*model.Transcription, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.transcriptionTimeout)
	defer cancel()

	began := time.Now()
	transcription, err := p.transcriber.Transcribe(callCtx, audioRef)
	if err == nil && transcription == nil {
		err = errors.New("transcriber returned no transcription")
	}
	metrics.EmitCall(p.metrics, metrics.CallMetric{
		Service:  metrics.ServiceTranscription,
		Duration: time.Since(began),
		Err:      err,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return nil, &TranscriptionError{Err: err}
	}
	return transcription, nil
}

func (p *Pipeline) analyze(ctx context.Context, transcript string) (*model.Analysis, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.analysisTimeout)
	defer cancel()

	began := time.Now()
	analysis, err := p.analyzer.Analyze(callCtx, transcript)
	if err == nil && analysis == nil {
		err = errors.New("analyzer returned no analysis")
	}
	metrics.EmitCall(p.metrics, metrics.CallMetric{
		Service:  metrics.ServiceAnalysis,
		Duration: time.Since(began),
		Err:      err,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return nil, &AnalysisError{Err: err}
	}
	analysis.Normalize()
	return analysis, nil
}

// complete stores the result and then moves the job to completed in one update.
// A result whose job could not be completed is removed again.
func (p *Pipeline) complete(
	ctx context.Context,
	id string,
	transcription *model.Transcription,
	analysis *model.Analysis,
	submitted time.Time,
) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}

	now := p.clock.Now()
	segments := transcription.Segments
	if segments == nil {
		segments = []model.Segment{}
	}
	result := &model.Result{
		Transcript:     transcription.Text,
		Segments:       segments,
		Analysis:       *analysis,
		ProcessedAt:    now,
		ProcessingTime: now.Sub(submitted).Seconds(),
	}
	if err := p.store.PutResult(ctx, id, result); err != nil {
		return fmt.Errorf("store result: %w", err)
	}

	_, err := p.locks.commit(ctx, p.store, p.broadcaster, id, func(j *model.Job) error {
		j.Stage = model.StageCompleted
		j.Progress = 100
		j.StatusMessage = "Processing completed"
		j.CompletedAt = &now
		j.UpdatedAt = &now
		j.ResultRef = model.ResultRef(id)
		j.Error = ""
		return nil
	})
	if err != nil {
		p.discardResult(ctx, id)
		return fmt.Errorf("complete job: %w", err)
	}

	metrics.EmitStageTransition(p.metrics, metrics.StageMetric{Stage: string(model.StageCompleted), Result: metrics.ResultSuccess})
	return nil
}

func (p *Pipeline) discardResult(ctx context.Context, id string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()
	if err := p.store.DeleteResult(cleanupCtx, id); err != nil {
		p.logger.WarnContext(cleanupCtx, "failed to remove orphaned result", "job_id", id, "error", err)
	}
}

func (p *Pipeline) finish(ctx context.Context, id string, start time.Time, err error) {
	elapsed := p.clock.Now().Sub(start)

	switch {
	case err == nil:
		p.logger.InfoContext(ctx, "processing completed", "job_id", id, "duration", elapsed)
		metrics.EmitJobOutcome(p.metrics, metrics.OutcomeMetric{Result: metrics.ResultSuccess, Duration: elapsed})

	case ctx.Err() != nil:
		cause := context.Cause(ctx)
		metrics.EmitJobOutcome(p.metrics, metrics.OutcomeMetric{Result: metrics.ResultCanceled, Duration: elapsed})
		if errors.Is(cause, ErrShuttingDown) {
			p.logger.WarnContext(ctx, "processing interrupted by shutdown", "job_id", id)
			p.fail(ctx, id, interruptedMessage, model.StageFailed)
			return
		}
		p.logger.InfoContext(ctx, "processing cancelled", "job_id", id, "cause", cause)

	case errors.Is(err, data.ErrJobTerminal), errors.Is(err, data.ErrJobNotFound):
		// The record was finalized or removed elsewhere; it is not ours to write anymore.
		p.logger.InfoContext(ctx, "processing stopped, job no longer active", "job_id", id, "reason", err)
		metrics.EmitJobOutcome(p.metrics, metrics.OutcomeMetric{Result: metrics.ResultNoop, Duration: elapsed})

	default:
		p.logger.ErrorContext(ctx, "processing failed", "job_id", id, "error", err)
		metrics.EmitJobOutcome(p.metrics, metrics.OutcomeMetric{Result: metrics.ResultError, Duration: elapsed, Err: err})
		p.fail(ctx, id, failureMessage(err), failedStage(err, model.StageFailed))
	}
}

// fail forces the job into the failed stage. It runs on a context detached from
// the job's cancellation so the record is written even while shutting down.
func (p *Pipeline) fail(ctx context.Context, id, message string, stage model.Stage) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	now := p.clock.Now()
	_, err := p.locks.commit(writeCtx, p.store, p.broadcaster, id, func(j *model.Job) error {
		j.Stage = model.StageFailed
		j.Progress = 0
		j.StatusMessage = "Processing failed"
		j.Error = message
		j.FailedAt = &now
		j.UpdatedAt = &now
		return nil
	})
	if err != nil {
		if errors.Is(err, data.ErrJobTerminal) || errors.Is(err, data.ErrJobNotFound) {
			p.logger.DebugContext(writeCtx, "failure not recorded, job no longer active", "job_id", id)
			return
		}
		p.logger.ErrorContext(writeCtx, "failed to record job failure", "job_id", id, "error", err)
		metrics.EmitStageTransition(p.metrics, metrics.StageMetric{
			Stage:  string(model.StageFailed),
			Result: metrics.ResultError,
			Err:    err,
		})
		return
	}

	metrics.EmitStageTransition(p.metrics, metrics.StageMetric{
		Stage:  string(model.StageFailed),
		Result: metrics.ResultSuccess,
	})
	p.logger.DebugContext(writeCtx, "job marked failed", "job_id", id, "failed_in", stage, "error", message)
}
