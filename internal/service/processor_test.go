package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/meeting-processor/internal/core"
	"github.com/target/meeting-processor/internal/data"
	"github.com/target/meeting-processor/internal/domain/model"
	"github.com/target/meeting-processor/internal/mocks"
	"github.com/target/meeting-processor/internal/mocks/memory"
)

type processorFixture struct {
	store     core.JobStore
	publisher *memory.Publisher
	clock     *data.FixedTimeProvider
	pool      *WorkerPool
	processor *Processor
}

type processorSetup struct {
	store       core.JobStore
	transcriber core.Transcriber
	analyzer    core.Analyzer
	audio       core.AudioStore
	workers     int
	queueSize   int
	newID       func() string
	publisher   core.StatusPublisher
}

func newProcessorFixture(t *testing.T, setup processorSetup) processorFixture {
	t.Helper()
	if setup.store == nil {
		setup.store = memory.NewJobStore()
	}
	if setup.transcriber == nil {
		setup.transcriber = okTranscriber()
	}
	if setup.analyzer == nil {
		setup.analyzer = okAnalyzer()
	}

	publisher := &memory.Publisher{}
	var sink core.StatusPublisher = publisher
	if setup.publisher != nil {
		sink = setup.publisher
	}
	clock := data.NewFixedTimeProvider(time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC))
	broadcaster := NewStatusBroadcaster(StatusBroadcasterOptions{Publisher: sink, TimeProvider: clock})

	pipeline, err := NewPipeline(PipelineOptions{
		Store:        setup.store,
		Transcriber:  setup.transcriber,
		Analyzer:     setup.analyzer,
		Broadcaster:  broadcaster,
		TimeProvider: clock,
	})
	require.NoError(t, err)

	pool, err := NewWorkerPool(WorkerPoolOptions{Workers: setup.workers, QueueSize: setup.queueSize})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})

	processor, err := NewProcessor(ProcessorOptions{
		Store:        setup.store,
		Pipeline:     pipeline,
		Pool:         pool,
		Broadcaster:  broadcaster,
		Audio:        setup.audio,
		TimeProvider: clock,
		NewID:        setup.newID,
	})
	require.NoError(t, err)

	return processorFixture{
		store:     setup.store,
		publisher: publisher,
		clock:     clock,
		pool:      pool,
		processor: processor,
	}
}

func TestNewProcessor(t *testing.T) {
	_, err := NewProcessor(ProcessorOptions{})
	require.Error(t, err)
}

func TestProcessor_StartProcessing(t *testing.T) {
	t.Run("returns before processing finishes", func(t *testing.T) {
		started := make(chan string, 1)
		release := make(chan struct{})
		fx := newProcessorFixture(t, processorSetup{transcriber: blockingTranscriber(started, release)})

		id, err := fx.processor.StartProcessing(context.Background(), "uploads/a.wav", "Planning")
		require.NoError(t, err)
		require.NotEmpty(t, id)
		assert.Equal(t, "uploads/a.wav", waitFor(t, started))

		job, err := fx.processor.GetJobStatus(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, job.Stage.Terminal())
		assert.Equal(t, "Planning", job.MeetingTitle)

		close(release)
		fx.processor.Wait()

		job, err = fx.processor.GetJobStatus(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, model.StageCompleted, job.Stage)
		assert.Equal(t, 100, job.Progress)

		result, err := fx.processor.GetResult(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, "Short sync.", result.Analysis.Summary)
	})

	t.Run("writes the initial record", func(t *testing.T) {
		release := make(chan struct{})
		fx := newProcessorFixture(t, processorSetup{
			transcriber: blockingTranscriber(make(chan string, 1), release),
			newID:       func() string { return "0123456789abcdef" },
		})
		defer close(release)

		id, err := fx.processor.StartProcessing(context.Background(), "uploads/a.wav", "  ")
		require.NoError(t, err)
		assert.Equal(t, "0123456789abcdef", id)

		updates := decodeUpdates(t, fx.publisher.Messages())
		require.NotEmpty(t, updates)
		first := updates[0]
		assert.Equal(t, model.StageUploaded, first.Status.Stage)
		assert.Equal(t, 0, first.Status.Progress)
		assert.Equal(t, "Queued for processing", first.Status.StatusMessage)
		assert.Equal(t, "Meeting 01234567", first.Status.MeetingTitle)
		assert.Equal(t, 300, first.Status.EstimatedDuration)
		require.NotNil(t, first.Status.StartedAt)
		assert.True(t, first.Status.StartedAt.Equal(fx.clock.Now()))
	})

	t.Run("rejects empty audio reference", func(t *testing.T) {
		fx := newProcessorFixture(t, processorSetup{})

		_, err := fx.processor.StartProcessing(context.Background(), "", "x")
		require.ErrorIs(t, err, ErrInvalidAudioRef)
		_, err = fx.processor.StartProcessing(context.Background(), "   ", "x")
		require.ErrorIs(t, err, ErrInvalidAudioRef)

		ids, err := fx.store.ListJobIDs(context.Background())
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("store failure is reported as unavailable", func(t *testing.T) {
		store := memory.NewJobStore()
		store.SetErr(errors.New("redis down"))
		fx := newProcessorFixture(t, processorSetup{store: store})

		_, err := fx.processor.StartProcessing(context.Background(), "uploads/a.wav", "")
		require.ErrorIs(t, err, ErrStoreUnavailable)
	})

	t.Run("rejects work when the queue is full", func(t *testing.T) {
		started := make(chan string, 1)
		release := make(chan struct{})
		fx := newProcessorFixture(t, processorSetup{
			transcriber: blockingTranscriber(started, release),
			workers:     1,
			queueSize:   1,
		})

		_, err := fx.processor.StartProcessing(context.Background(), "uploads/1.wav", "")
		require.NoError(t, err)
		waitFor(t, started)

		_, err = fx.processor.StartProcessing(context.Background(), "uploads/2.wav", "")
		require.NoError(t, err)

		id, err := fx.processor.StartProcessing(context.Background(), "uploads/3.wav", "")
		require.ErrorIs(t, err, ErrQueueFull)
		require.NotEmpty(t, id)

		job, err := fx.processor.GetJobStatus(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, model.StageFailed, job.Stage)
		assert.Equal(t, queueFullMessage, job.Error)

		close(release)
		fx.processor.Wait()
	})
}

func TestProcessor_EstimateDuration(t *testing.T) {
	tests := []struct {
		name  string
		audio core.AudioStore
		want  int
	}{
		{name: "no audio store", audio: nil, want: 300},
		{name: "two megabytes", audio: audioSizer{size: 2 * 1024 * 1024}, want: 300},
		{name: "five megabytes", audio: audioSizer{size: 5 * 1024 * 1024}, want: 660},
		{name: "empty file", audio: audioSizer{size: 0}, want: 60},
		{name: "size lookup fails", audio: audioSizer{err: errors.New("no such file")}, want: 300},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newProcessorFixture(t, processorSetup{audio: tt.audio})
			assert.Equal(t, tt.want, fx.processor.estimateDuration(context.Background(), "uploads/a.wav"))
		})
	}
}

func TestProcessor_GetJobStatus(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		fx := newProcessorFixture(t, processorSetup{})
		_, err := fx.processor.GetJobStatus(context.Background(), "missing")
		require.ErrorIs(t, err, ErrJobNotFound)
	})

	t.Run("store failure is distinct from absence", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockJobStore(ctrl)
		store.EXPECT().GetJob(gomock.Any(), "job-1").Return(nil, errors.New("i/o timeout"))

		fx := newProcessorFixture(t, processorSetup{store: store})
		_, err := fx.processor.GetJobStatus(context.Background(), "job-1")
		require.ErrorIs(t, err, ErrStoreUnavailable)
		require.NotErrorIs(t, err, ErrJobNotFound)
	})
}

func TestProcessor_GetResult(t *testing.T) {
	fx := newProcessorFixture(t, processorSetup{})
	_, err := fx.processor.GetResult(context.Background(), "job-1")
	require.ErrorIs(t, err, ErrResultNotFound)

	ctrl := gomock.NewController(t)
	store := mocks.NewMockJobStore(ctrl)
	store.EXPECT().GetResult(gomock.Any(), "job-1").Return(nil, errors.New("i/o timeout"))
	fx = newProcessorFixture(t, processorSetup{store: store})
	_, err = fx.processor.GetResult(context.Background(), "job-1")
	require.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestProcessor_ListJobs(t *testing.T) {
	t.Run("newest first with unknown start times last", func(t *testing.T) {
		store := memory.NewJobStore()
		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		for i, id := range []string{"old", "newest", "middle"} {
			started := base.Add(time.Duration([]int{1, 30, 10}[i]) * time.Hour)
			require.NoError(t, store.PutJob(context.Background(), &model.Job{ID: id, Stage: model.StageUploaded, StartedAt: &started}))
		}
		require.NoError(t, store.PutJob(context.Background(), &model.Job{ID: "undated", Stage: model.StageUploaded}))

		fx := newProcessorFixture(t, processorSetup{store: store})
		jobs, err := fx.processor.ListJobs(context.Background())
		require.NoError(t, err)

		ids := make([]string, 0, len(jobs))
		for _, j := range jobs {
			ids = append(ids, j.ID)
		}
		assert.Equal(t, []string{"newest", "middle", "old", "undated"}, ids)
	})

	t.Run("skips unreadable jobs", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockJobStore(ctrl)
		now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		store.EXPECT().ListJobIDs(gomock.Any()).Return([]string{"a", "b", "c"}, nil)
		store.EXPECT().GetJob(gomock.Any(), "a").Return(&model.Job{ID: "a", StartedAt: &now}, nil)
		store.EXPECT().GetJob(gomock.Any(), "b").Return(nil, errors.New("decode job: bad json"))
		store.EXPECT().GetJob(gomock.Any(), "c").Return(nil, data.ErrJobNotFound)

		fx := newProcessorFixture(t, processorSetup{store: store})
		jobs, err := fx.processor.ListJobs(context.Background())
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, "a", jobs[0].ID)
	})

	t.Run("listing failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockJobStore(ctrl)
		store.EXPECT().ListJobIDs(gomock.Any()).Return(nil, errors.New("connection refused"))

		fx := newProcessorFixture(t, processorSetup{store: store})
		_, err := fx.processor.ListJobs(context.Background())
		require.ErrorIs(t, err, ErrStoreUnavailable)
	})
}

func TestProcessor_CancelJob(t *testing.T) {
	t.Run("cancels a running job and stops its pipeline", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		analyzer := mocks.NewMockAnalyzer(ctrl) // must not be called
		started := make(chan string, 1)
		fx := newProcessorFixture(t, processorSetup{
			transcriber: blockingTranscriber(started, nil),
			analyzer:    analyzer,
		})

		id, err := fx.processor.StartProcessing(context.Background(), "uploads/a.wav", "")
		require.NoError(t, err)
		waitFor(t, started)

		ok, err := fx.processor.CancelJob(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, ok)

		fx.processor.Wait()

		job, err := fx.processor.GetJobStatus(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, model.StageFailed, job.Stage)
		assert.Equal(t, 0, job.Progress)
		assert.Equal(t, "Job cancelled by user", job.Error)
		assert.NotNil(t, job.FailedAt)

		_, err = fx.processor.GetResult(context.Background(), id)
		require.ErrorIs(t, err, ErrResultNotFound)

		updates := decodeUpdates(t, fx.publisher.Messages())
		last := updates[len(updates)-1]
		assert.Equal(t, model.StageFailed, last.Status.Stage)
		assert.Equal(t, "Job cancelled by user", last.Status.Error)
	})

	t.Run("terminal job is left untouched", func(t *testing.T) {
		store := memory.NewJobStore()
		done := seedJob(t, store, "done", model.StageCompleted)
		fx := newProcessorFixture(t, processorSetup{store: store})

		ok, err := fx.processor.CancelJob(context.Background(), "done")
		require.NoError(t, err)
		assert.False(t, ok)

		job, err := store.GetJob(context.Background(), "done")
		require.NoError(t, err)
		assert.Equal(t, done, job)
		assert.Empty(t, fx.publisher.Messages())
	})

	t.Run("missing job", func(t *testing.T) {
		fx := newProcessorFixture(t, processorSetup{})
		ok, err := fx.processor.CancelJob(context.Background(), "nope")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("store failure", func(t *testing.T) {
		store := memory.NewJobStore()
		seedJob(t, store, "job-1", model.StageTranscribing)
		store.SetErr(errors.New("redis down"))
		fx := newProcessorFixture(t, processorSetup{store: store})

		ok, err := fx.processor.CancelJob(context.Background(), "job-1")
		require.ErrorIs(t, err, ErrStoreUnavailable)
		assert.False(t, ok)
	})
}

func TestProcessor_CleanupOldJobs(t *testing.T) {
	t.Run("deletes jobs and results past retention", func(t *testing.T) {
		store := memory.NewJobStore()
		fx := newProcessorFixture(t, processorSetup{store: store})
		now := fx.clock.Now()

		put := func(id string, age time.Duration) {
			started := now.Add(-age)
			require.NoError(t, store.PutJob(context.Background(), &model.Job{ID: id, Stage: model.StageCompleted, StartedAt: &started}))
			require.NoError(t, store.PutResult(context.Background(), id, &model.Result{Transcript: id}))
		}
		put("ancient", 30*24*time.Hour)
		put("old", 8*24*time.Hour)
		put("recent", 24*time.Hour)
		require.NoError(t, store.PutJob(context.Background(), &model.Job{ID: "undated", Stage: model.StageUploaded}))

		report, err := fx.processor.CleanupOldJobs(context.Background(), 7)
		require.NoError(t, err)
		assert.Equal(t, CleanupReport{Scanned: 4, Deleted: 2}, report)

		for _, id := range []string{"ancient", "old"} {
			_, err := store.GetJob(context.Background(), id)
			require.ErrorIs(t, err, data.ErrJobNotFound)
			assert.False(t, store.HasResult(id))
		}
		for _, id := range []string{"recent", "undated"} {
			_, err := store.GetJob(context.Background(), id)
			require.NoError(t, err)
		}
		assert.True(t, store.HasResult("recent"))
	})

	t.Run("continues past per-job failures", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockJobStore(ctrl)
		old := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

		store.EXPECT().ListJobIDs(gomock.Any()).Return([]string{"a", "b", "c"}, nil)
		store.EXPECT().GetJob(gomock.Any(), "a").Return(&model.Job{ID: "a", StartedAt: &old}, nil)
		store.EXPECT().DeleteJob(gomock.Any(), "a").Return(errors.New("READONLY"))
		store.EXPECT().DeleteResult(gomock.Any(), "a").Return(nil)
		store.EXPECT().GetJob(gomock.Any(), "b").Return(nil, errors.New("decode job: bad json"))
		store.EXPECT().GetJob(gomock.Any(), "c").Return(&model.Job{ID: "c", StartedAt: &old}, nil)
		store.EXPECT().DeleteJob(gomock.Any(), "c").Return(nil)
		store.EXPECT().DeleteResult(gomock.Any(), "c").Return(nil)

		fx := newProcessorFixture(t, processorSetup{store: store})
		report, err := fx.processor.CleanupOldJobs(context.Background(), 7)
		require.NoError(t, err)
		assert.Equal(t, CleanupReport{Scanned: 3, Deleted: 1, Failed: 2}, report)
	})

	t.Run("rejects negative retention", func(t *testing.T) {
		fx := newProcessorFixture(t, processorSetup{})
		_, err := fx.processor.CleanupOldJobs(context.Background(), -1)
		require.Error(t, err)
	})
}

func TestProcessor_ShutdownInterruptsRunningJobs(t *testing.T) {
	started := make(chan string, 1)
	fx := newProcessorFixture(t, processorSetup{transcriber: blockingTranscriber(started, nil)})

	id, err := fx.processor.StartProcessing(context.Background(), "uploads/a.wav", "")
	require.NoError(t, err)
	waitFor(t, started)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, fx.processor.Shutdown(ctx), context.DeadlineExceeded)

	job, err := fx.processor.GetJobStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StageFailed, job.Stage)
	assert.Equal(t, interruptedMessage, job.Error)

	_, err = fx.processor.StartProcessing(context.Background(), "uploads/b.wav", "")
	require.ErrorIs(t, err, ErrPoolClosed)
}

// interleavingPublisher runs before once, ahead of recording the first payload
// that matches.
type interleavingPublisher struct {
	memory.Publisher
	match  func(model.StatusUpdate) bool
	before func()
	once   sync.Once
}

func (p *interleavingPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	var update model.StatusUpdate
	if err := json.Unmarshal(payload, &update); err == nil && p.match(update) {
		p.once.Do(p.before)
	}
	return p.Publisher.Publish(ctx, topic, payload)
}

func TestProcessor_CancelDuringBroadcastIsPublishedLast(t *testing.T) {
	var (
		fx        processorFixture
		cancelled = make(chan struct{})
		cancelOK  bool
		cancelErr error
	)
	publisher := &interleavingPublisher{
		match: func(u model.StatusUpdate) bool {
			return u.Status.Stage == model.StageTranscribing && u.Status.Progress == 50
		},
	}
	publisher.before = func() {
		go func() {
			defer close(cancelled)
			cancelOK, cancelErr = fx.processor.CancelJob(context.Background(), "job-1")
		}()
		// Leave the cancel time to overtake this broadcast if nothing holds it back.
		select {
		case <-cancelled:
		case <-time.After(50 * time.Millisecond):
		}
	}
	fx = newProcessorFixture(t, processorSetup{
		publisher: publisher,
		newID:     func() string { return "job-1" },
	})

	id, err := fx.processor.StartProcessing(context.Background(), "uploads/a.wav", "Sync")
	require.NoError(t, err)

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("cancel never finished")
	}
	require.NoError(t, cancelErr)
	require.True(t, cancelOK)
	fx.processor.Wait()

	stored, err := fx.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, model.StageFailed, stored.Stage)

	updates := decodeUpdates(t, publisher.Messages())
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1].Status
	assert.Equal(t, stored.Stage, last.Stage)
	assert.Equal(t, stored.Progress, last.Progress)
	assert.Equal(t, "Job cancelled by user", last.Error)
}

func TestJobLocks_SerializesPerJob(t *testing.T) {
	locks := newJobLocks()

	unlockA := locks.lock("a")
	acquired := make(chan struct{})
	go func() {
		unlock := locks.lock("a")
		close(acquired)
		unlock()
	}()

	// Another job is never held up.
	locks.lock("b")()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held lock")
	case <-time.After(20 * time.Millisecond):
	}
	unlockA()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock was not released")
	}
	require.Eventually(t, func() bool {
		locks.mu.Lock()
		defer locks.mu.Unlock()
		return len(locks.locks) == 0
	}, time.Second, 5*time.Millisecond)
}

// feedSubscriber hands every subscription the same payload feed.
type feedSubscriber struct {
	payloads chan []byte
	opened   chan struct{}
}

func newFeedSubscriber() *feedSubscriber {
	return &feedSubscriber{payloads: make(chan []byte, 16), opened: make(chan struct{}, 1)}
}

func (f *feedSubscriber) Subscribe(context.Context, string) (core.StatusSubscription, error) {
	select {
	case f.opened <- struct{}{}:
	default:
	}
	return f, nil
}

func (f *feedSubscriber) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case p := <-f.payloads:
		return p, nil
	}
}

func (f *feedSubscriber) Close() error { return nil }

func TestProcessor_WatchCancellationsStopsJobCancelledElsewhere(t *testing.T) {
	store := memory.NewJobStore()
	started := make(chan string, 1)
	release := make(chan struct{})
	defer close(release)

	local := newProcessorFixture(t, processorSetup{
		store:       store,
		transcriber: blockingTranscriber(started, release),
		newID:       func() string { return "job-1" },
	})
	// remote stands in for the admin CLI: same store, separate process state.
	remote := newProcessorFixture(t, processorSetup{store: store})
	feed := newFeedSubscriber()
	remote.publisher.OnPublish = func(_ string, payload []byte) { feed.payloads <- payload }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchDone := make(chan error, 1)
	go func() { watchDone <- local.processor.WatchCancellations(ctx, feed) }()
	select {
	case <-feed.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never subscribed")
	}

	_, err := local.processor.StartProcessing(context.Background(), "uploads/a.wav", "")
	require.NoError(t, err)
	waitFor(t, started)

	ok, err := remote.processor.CancelJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.True(t, ok)

	finished := make(chan struct{})
	go func() {
		local.processor.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline kept running after the job was cancelled elsewhere")
	}

	stored, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.StageFailed, stored.Stage)
	assert.Equal(t, "Job cancelled by user", stored.Error)
	assert.False(t, store.HasResult("job-1"))

	cancel()
	select {
	case err := <-watchDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop with its context")
	}
}

func TestProcessor_WatchCancellationsIgnoresOtherFailures(t *testing.T) {
	started := make(chan string, 1)
	release := make(chan struct{})
	fx := newProcessorFixture(t, processorSetup{
		transcriber: blockingTranscriber(started, release),
		newID:       func() string { return "job-1" },
	})
	feed := newFeedSubscriber()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = fx.processor.WatchCancellations(ctx, feed) }()

	_, err := fx.processor.StartProcessing(context.Background(), "uploads/a.wav", "")
	require.NoError(t, err)
	waitFor(t, started)

	payload, err := json.Marshal(model.NewStatusUpdate(&model.Job{
		ID:    "job-1",
		Stage: model.StageFailed,
		Error: "Transcription failed: boom",
	}, time.Now()))
	require.NoError(t, err)
	feed.payloads <- payload
	feed.payloads <- []byte("not json")

	require.Eventually(t, func() bool { return len(feed.payloads) == 0 }, time.Second, 5*time.Millisecond)
	close(release)
	fx.processor.Wait()

	stored, err := fx.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.StageCompleted, stored.Stage)
}
