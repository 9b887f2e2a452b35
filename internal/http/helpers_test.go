package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/target/meeting-processor/internal/adapters/audio"
	"github.com/target/meeting-processor/internal/domain/model"
	"github.com/target/meeting-processor/internal/mocks/memory"
	"github.com/target/meeting-processor/internal/service"
)

// apiFixture wires a real Processor over in-memory doubles. Transcription
// blocks until release is closed so jobs stay in flight while a test inspects them.
type apiFixture struct {
	store   *memory.JobStore
	proc    *service.Processor
	audio   *audio.LocalStore
	hub     *fakeHub
	handler http.Handler
	release chan struct{}
	once    sync.Once
}

// finishTranscriptions lets every blocked transcription return.
func (f *apiFixture) finishTranscriptions() {
	f.once.Do(func() { close(f.release) })
}

type fixtureOptions struct {
	workers   int
	queueSize int
	upload    UploadLimits
}

func newAPIFixture(t *testing.T, opts fixtureOptions) *apiFixture {
	t.Helper()
	if opts.workers == 0 {
		opts.workers = 2
	}
	if opts.queueSize == 0 {
		opts.queueSize = 4
	}
	if opts.upload.MaxBytes == 0 {
		opts.upload.MaxBytes = 1 << 20
	}

	store := memory.NewJobStore()
	release := make(chan struct{})
	transcriber := memory.Transcriber(func(ctx context.Context, _ string) (*model.Transcription, error) {
		select {
		case <-release:
			return &model.Transcription{
				Text:     "Speaker 1: ship it",
				Segments: []model.Segment{{Speaker: "Speaker 1", Text: "ship it", Timestamp: "0:00"}},
			}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	analyzer := memory.Analyzer(func(context.Context, string) (*model.Analysis, error) {
		a := &model.Analysis{Summary: "Shipped."}
		a.Normalize()
		return a, nil
	})

	broadcaster := service.NewStatusBroadcaster(service.StatusBroadcasterOptions{Publisher: &memory.Publisher{}})
	pipeline, err := service.NewPipeline(service.PipelineOptions{
		Store:       store,
		Transcriber: transcriber,
		Analyzer:    analyzer,
		Broadcaster: broadcaster,
	})
	require.NoError(t, err)
	pool, err := service.NewWorkerPool(service.WorkerPoolOptions{Workers: opts.workers, QueueSize: opts.queueSize})
	require.NoError(t, err)

	local, err := audio.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	proc, err := service.NewProcessor(service.ProcessorOptions{
		Store:       store,
		Pipeline:    pipeline,
		Pool:        pool,
		Broadcaster: broadcaster,
		Audio:       local,
	})
	require.NoError(t, err)

	f := &apiFixture{store: store, proc: proc, audio: local, hub: newFakeHub(), release: release}
	f.handler = NewRouter(RouterServices{
		Processor:     proc,
		Audio:         local,
		Hub:           f.hub,
		Health:        store,
		Upload:        opts.upload,
		RetentionDays: 7,
	})

	t.Cleanup(func() {
		f.finishTranscriptions()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = proc.Shutdown(ctx)
	})
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, path, body)
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	return w
}

func (f *apiFixture) postJSON(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, http.MethodPost, path, bytes.NewBufferString(body), "application/json")
}

func (f *apiFixture) seed(t *testing.T, id string, stage model.Stage, startedAt time.Time) {
	t.Helper()
	job := &model.Job{
		ID:            id,
		Stage:         stage,
		StatusMessage: "seeded",
		MeetingTitle:  "Seeded " + id,
		AudioPath:     id + ".wav",
		StartedAt:     &startedAt,
		UpdatedAt:     &startedAt,
	}
	if stage == model.StageFailed {
		job.Error = "Transcription failed: boom"
	}
	require.NoError(t, f.store.PutJob(context.Background(), job))
}

func multipartBody(t *testing.T, field, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// fakeHub hands out one channel per subscription and lets tests publish into them.
type fakeHub struct {
	mu   sync.Mutex
	subs map[string][]chan model.StatusUpdate
	// subscribed receives the job id of every new subscription.
	subscribed chan string
	// err, when set, fails every subscription.
	err error
}

func newFakeHub() *fakeHub {
	return &fakeHub{
		subs:       make(map[string][]chan model.StatusUpdate),
		subscribed: make(chan string, 8),
	}
}

func (h *fakeHub) Subscribe(_ context.Context, jobID string) (func(), <-chan model.StatusUpdate, error) {
	if h.err != nil {
		return nil, nil, h.err
	}
	ch := make(chan model.StatusUpdate, 8)
	h.mu.Lock()
	h.subs[jobID] = append(h.subs[jobID], ch)
	h.mu.Unlock()
	h.subscribed <- jobID

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			list := h.subs[jobID]
			for i, c := range list {
				if c == ch {
					h.subs[jobID] = append(list[:i], list[i+1:]...)
					break
				}
			}
			if len(h.subs[jobID]) == 0 {
				delete(h.subs, jobID)
			}
		})
	}, ch, nil
}

func (h *fakeHub) publish(job *model.Job) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[job.ID] {
		ch <- model.NewStatusUpdate(job, time.Now())
	}
}

func (h *fakeHub) subscribers(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}
