package service

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/target/meeting-processor/internal/core"
	"github.com/target/meeting-processor/internal/data"
	"github.com/target/meeting-processor/internal/domain/model"
	"github.com/target/meeting-processor/internal/mocks/memory"
)

func sampleTranscription() *model.Transcription {
	return &model.Transcription{
		Text: "Speaker 1: hello\nSpeaker 2: hi",
		Segments: []model.Segment{
			{Speaker: "Speaker 1", Text: "hello", Timestamp: "0:00"},
			{Speaker: "Speaker 2", Text: "hi", Timestamp: "0:04"},
		},
	}
}

func sampleAnalysis() *model.Analysis {
	return &model.Analysis{
		Summary:      "Short sync.",
		ActionItems:  []model.ActionItem{{Task: "Send notes", Owner: "Speaker 1", Deadline: "Friday"}},
		KeyDecisions: []string{"Ship it"},
		Topics:       []string{"release"},
		NextSteps:    []string{"Follow up"},
	}
}

func okTranscriber() memory.Transcriber {
	return func(context.Context, string) (*model.Transcription, error) {
		return sampleTranscription(), nil
	}
}

func okAnalyzer() memory.Analyzer {
	return func(context.Context, string) (*model.Analysis, error) {
		return sampleAnalysis(), nil
	}
}

// blockingTranscriber signals started and then waits for release or ctx.
func blockingTranscriber(started chan<- string, release <-chan struct{}) memory.Transcriber {
	return func(ctx context.Context, audioRef string) (*model.Transcription, error) {
		select {
		case started <- audioRef:
		default:
		}
		select {
		case <-release:
			return sampleTranscription(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func seedJob(t *testing.T, store core.JobStore, id string, stage model.Stage) *model.Job {
	t.Helper()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	job := &model.Job{
		ID:            id,
		Stage:         stage,
		StatusMessage: "Queued for processing",
		MeetingTitle:  "Weekly sync",
		AudioPath:     "uploads/" + id + ".wav",
		StartedAt:     &now,
		UpdatedAt:     &now,
	}
	require.NoError(t, store.PutJob(context.Background(), job))
	return job
}

type progressPoint struct {
	Stage    model.Stage
	Progress int
}

func decodeUpdates(t *testing.T, msgs []memory.Message) []model.StatusUpdate {
	t.Helper()
	out := make([]model.StatusUpdate, 0, len(msgs))
	for _, msg := range msgs {
		var update model.StatusUpdate
		require.NoError(t, json.Unmarshal(msg.Payload, &update))
		out = append(out, update)
	}
	return out
}

func progressOf(updates []model.StatusUpdate) []progressPoint {
	out := make([]progressPoint, 0, len(updates))
	for _, u := range updates {
		out = append(out, progressPoint{Stage: u.Status.Stage, Progress: u.Status.Progress})
	}
	return out
}

type pipelineFixture struct {
	store     *memory.JobStore
	publisher *memory.Publisher
	clock     *data.FixedTimeProvider
	pipeline  *Pipeline
}

func newPipelineFixture(t *testing.T, store core.JobStore, tr core.Transcriber, an core.Analyzer) pipelineFixture {
	t.Helper()
	mem, _ := store.(*memory.JobStore)
	publisher := &memory.Publisher{}
	clock := data.NewFixedTimeProvider(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	pipeline, err := NewPipeline(PipelineOptions{
		Store:       store,
		Transcriber: tr,
		Analyzer:    an,
		Broadcaster: NewStatusBroadcaster(StatusBroadcasterOptions{
			Publisher:    publisher,
			TimeProvider: clock,
		}),
		TimeProvider: clock,
	})
	require.NoError(t, err)
	return pipelineFixture{store: mem, publisher: publisher, clock: clock, pipeline: pipeline}
}

// audioSizer is an AudioStore that only answers Size.
type audioSizer struct {
	size int64
	err  error
}

func (a audioSizer) Save(context.Context, string, io.Reader) (string, error) {
	return "", io.ErrUnexpectedEOF
}

func (a audioSizer) Open(context.Context, string) (*core.AudioObject, error) {
	return &core.AudioObject{Name: "a.wav", Body: io.NopCloser(strings.NewReader(""))}, nil
}

func (a audioSizer) Size(context.Context, string) (int64, error) {
	return a.size, a.err
}

func waitFor(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for signal")
		return ""
	}
}
