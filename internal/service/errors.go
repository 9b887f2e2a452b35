package service

import (
	"errors"
	"fmt"

	"github.com/target/meeting-processor/internal/domain/model"
)

var (
	// ErrJobNotFound is returned when no live job record exists for the id.
	ErrJobNotFound = errors.New("job not found")
	// ErrResultNotFound is returned when a job has no stored result.
	ErrResultNotFound = errors.New("result not found")
	// ErrStoreUnavailable wraps failures of the backing job store.
	ErrStoreUnavailable = errors.New("job store unavailable")
	// ErrQueueFull is returned when the worker pool cannot accept more jobs.
	ErrQueueFull = errors.New("processing queue is full")
	// ErrInvalidAudioRef is returned when StartProcessing receives an empty audio reference.
	ErrInvalidAudioRef = errors.New("audio reference is required")
	// ErrPoolClosed is returned by Submit after the pool stopped accepting work.
	ErrPoolClosed = errors.New("worker pool is closed")

	// ErrJobCancelled is the cancellation cause of a job cancelled by a caller.
	ErrJobCancelled = errors.New("job cancelled by user")
	// ErrShuttingDown is the cancellation cause of jobs interrupted by a forced shutdown.
	ErrShuttingDown = errors.New("service shutting down")
)

const (
	cancelledMessage   = "Job cancelled by user"
	interruptedMessage = "Processing interrupted: service shutting down"
	queueFullMessage   = "Processing failed: processing queue is full"
)

// TranscriptionError reports a failed call to the transcription service.
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("Transcription failed: %v", e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// AnalysisError reports a failed call to the analysis service.
type AnalysisError struct {
	Err error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("Analysis failed: %v", e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// failureMessage renders the error text stored on a failed job.
func failureMessage(err error) string {
	var te *TranscriptionError
	var ae *AnalysisError
	switch {
	case errors.As(err, &te):
		return te.Error()
	case errors.As(err, &ae):
		return ae.Error()
	default:
		return fmt.Sprintf("Processing failed: %v", err)
	}
}

// failedStage reports the stage a pipeline error belongs to, for metric tags.
func failedStage(err error, fallback model.Stage) model.Stage {
	var te *TranscriptionError
	var ae *AnalysisError
	switch {
	case errors.As(err, &te):
		return model.StageTranscribing
	case errors.As(err, &ae):
		return model.StageAnalyzing
	default:
		return fallback
	}
}
