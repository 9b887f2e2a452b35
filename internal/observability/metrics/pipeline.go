// Package metrics defines the metric names and tag sets emitted by the processing pipeline.
package metrics

import (
	"time"

	obserrors "github.com/target/meeting-processor/internal/observability/errors"
	"github.com/target/meeting-processor/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess  = "success"
	ResultError    = "error"
	ResultNoop     = "noop"
	ResultCanceled = "canceled"
)

// External services timed by EmitCall.
const (
	ServiceTranscription = "transcription"
	ServiceAnalysis      = "analysis"
)

// StageMetric captures one persisted stage or progress change.
type StageMetric struct {
	Stage  string
	Result string
	Err    error
}

// EmitStageTransition counts pipeline writes by stage and outcome.
func EmitStageTransition(sink statsd.Sink, in StageMetric) {
	if sink == nil {
		return
	}
	tags := map[string]string{"stage": in.Stage, "result": in.Result}
	addErrorClass(tags, in.Result, in.Err)
	sink.Count("pipeline.transition", 1, tags)
}

// CallMetric captures one call to an external collaborator.
type CallMetric struct {
	Service  string
	Duration time.Duration
	Err      error
}

// EmitCall records latency and outcome for a transcription or analysis call.
func EmitCall(sink statsd.Sink, in CallMetric) {
	if sink == nil {
		return
	}
	result := ResultSuccess
	if in.Err != nil {
		result = ResultError
	}
	tags := map[string]string{"service": in.Service, "result": result}
	addErrorClass(tags, result, in.Err)

	sink.Count("external.call", 1, tags)
	if in.Duration > 0 {
		sink.Timing("external.latency", in.Duration, CloneTags(tags))
	}
}

// OutcomeMetric captures how a job ended.
type OutcomeMetric struct {
	Result   string
	Duration time.Duration
	Err      error
}

// EmitJobOutcome counts finished jobs and records end-to-end processing time.
func EmitJobOutcome(sink statsd.Sink, in OutcomeMetric) {
	if sink == nil {
		return
	}
	tags := map[string]string{"result": in.Result}
	addErrorClass(tags, in.Result, in.Err)

	sink.Count("job.outcome", 1, tags)
	if in.Duration > 0 {
		sink.Timing("job.processing_time", in.Duration, CloneTags(tags))
	}
}

// EmitQueueDepth reports how many accepted jobs are waiting for a worker.
func EmitQueueDepth(sink statsd.Sink, depth int) {
	if sink == nil {
		return
	}
	sink.Gauge("pool.queue_depth", float64(depth), nil)
}

// CleanupMetric summarizes one retention sweep.
type CleanupMetric struct {
	Scanned  int
	Deleted  int
	Failed   int
	Purged   int64
	Duration time.Duration
	Err      error
}

// EmitCleanup records the counters of a retention sweep.
func EmitCleanup(sink statsd.Sink, in CleanupMetric) {
	if sink == nil {
		return
	}
	result := ResultSuccess
	switch {
	case in.Err != nil:
		result = ResultError
	case in.Deleted == 0 && in.Purged == 0:
		result = ResultNoop
	}
	tags := map[string]string{"result": result}
	addErrorClass(tags, result, in.Err)

	sink.Count("cleanup.run", 1, tags)
	sink.Count("cleanup.scanned", int64(in.Scanned), nil)
	sink.Count("cleanup.deleted", int64(in.Deleted), nil)
	sink.Count("cleanup.failed", int64(in.Failed), nil)
	if in.Purged > 0 {
		sink.Count("cleanup.purged", in.Purged, nil)
	}
	if in.Duration > 0 {
		sink.Timing("cleanup.duration", in.Duration, CloneTags(tags))
	}
}

func addErrorClass(tags map[string]string, result string, err error) {
	if err == nil || result != ResultError {
		return
	}
	if class := obserrors.Classify(err); class != "" {
		tags["error_class"] = class
	}
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
