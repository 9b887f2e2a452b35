package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/meeting-processor/internal/domain/model"
)

// readEvents returns the decoded data lines of the SSE stream until it ends.
func readEvents(t *testing.T, resp *http.Response) []model.StatusUpdate {
	t.Helper()
	var out []model.StatusUpdate
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var update model.StatusUpdate
		require.NoError(t, json.Unmarshal([]byte(payload), &update))
		out = append(out, update)
	}
	return out
}

func TestStream_SnapshotThenUpdatesUntilTerminal(t *testing.T) {
	f := newAPIFixture(t, fixtureOptions{})
	started := time.Now().Add(-time.Minute)
	f.seed(t, "job-1", model.StageTranscribing, started)

	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/meetings/job-1/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	select {
	case id := <-f.hub.subscribed:
		require.Equal(t, "job-1", id)
	case <-ctx.Done():
		t.Fatal("stream never subscribed")
	}

	go func() {
		f.hub.publish(&model.Job{ID: "job-1", Stage: model.StageAnalyzing, Progress: 60})
		f.hub.publish(&model.Job{ID: "job-1", Stage: model.StageCompleted, Progress: 100})
		// Anything after the terminal update is never written.
		f.hub.publish(&model.Job{ID: "job-1", Stage: model.StageFailed})
	}()

	updates := readEvents(t, resp)
	require.Len(t, updates, 3)
	assert.Equal(t, model.StageTranscribing, updates[0].Status.Stage)
	assert.Equal(t, "seeded", updates[0].Status.StatusMessage)
	assert.Equal(t, model.StageAnalyzing, updates[1].Status.Stage)
	assert.Equal(t, 100, updates[2].Status.Progress)
	for _, u := range updates {
		assert.Equal(t, model.StatusUpdateType, u.Type)
		assert.Equal(t, "job-1", u.JobID)
	}

	require.Eventually(t, func() bool { return f.hub.subscribers("job-1") == 0 }, time.Second, 5*time.Millisecond)
}

func TestStream_TerminalSnapshotClosesImmediately(t *testing.T) {
	f := newAPIFixture(t, fixtureOptions{})
	f.seed(t, "done", model.StageCompleted, time.Now())

	r := httptest.NewRequest(http.MethodGet, "/api/meetings/done/events", nil)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Equal(t, 1, strings.Count(body, "event: status\n"))
	assert.Contains(t, body, `"stage":"completed"`)
	assert.Equal(t, 0, f.hub.subscribers("done"))
}

func TestStream_UnknownJob(t *testing.T) {
	f := newAPIFixture(t, fixtureOptions{})

	r := httptest.NewRequest(http.MethodGet, "/api/meetings/nope/events", nil)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, 0, f.hub.subscribers("nope"))
}

func TestStream_KeepAliveAndClientDisconnect(t *testing.T) {
	f := newAPIFixture(t, fixtureOptions{})
	f.seed(t, "slow", model.StageUploaded, time.Now())
	h := &EventHandlers{Svc: f.proc, Hub: f.hub, KeepAlive: 10 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	r := httptest.NewRequest(http.MethodGet, "/api/meetings/slow/events", nil).WithContext(ctx)
	r.SetPathValue("id", "slow")
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Stream(w, r)
	}()

	<-f.hub.subscribed
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after client disconnect")
	}
	assert.Contains(t, w.Body.String(), ": keep-alive\n\n")
	assert.Equal(t, 0, f.hub.subscribers("slow"))
}

// streamUntilDone runs the handler for id and returns the body once it ends.
func streamUntilDone(t *testing.T, h *EventHandlers, id string, whileRunning func()) string {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/api/meetings/"+id+"/events", nil)
	r.SetPathValue("id", id)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Stream(w, r)
	}()
	whileRunning()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after the job finished")
	}
	return w.Body.String()
}

func completeInStore(t *testing.T, f *apiFixture, id string) {
	t.Helper()
	_, err := f.store.UpdateJob(context.Background(), id, func(j *model.Job) error {
		j.Stage = model.StageCompleted
		j.Progress = 100
		return nil
	})
	require.NoError(t, err)
}

func TestStream_ResyncDeliversMissedTerminalUpdate(t *testing.T) {
	f := newAPIFixture(t, fixtureOptions{})
	f.seed(t, "quiet", model.StageAnalyzing, time.Now())
	h := &EventHandlers{Svc: f.proc, Hub: f.hub, KeepAlive: 10 * time.Millisecond}

	// The store completes the job but no update ever reaches the hub.
	body := streamUntilDone(t, h, "quiet", func() {
		<-f.hub.subscribed
		completeInStore(t, f, "quiet")
	})

	assert.Equal(t, 2, strings.Count(body, "event: status\n"))
	assert.Contains(t, body, `"stage":"completed"`)
	assert.Equal(t, 0, f.hub.subscribers("quiet"))
}

func TestStream_PollsWhenSubscriptionUnavailable(t *testing.T) {
	f := newAPIFixture(t, fixtureOptions{})
	f.hub.err = errors.New("redis down")
	f.seed(t, "polled", model.StageAnalyzing, time.Now())
	h := &EventHandlers{Svc: f.proc, Hub: f.hub, KeepAlive: 10 * time.Millisecond}

	body := streamUntilDone(t, h, "polled", func() {
		time.Sleep(30 * time.Millisecond)
		completeInStore(t, f, "polled")
	})

	assert.Contains(t, body, `"stage":"analyzing"`)
	assert.Contains(t, body, `"stage":"completed"`)
}

func TestStream_SkipsUpdatesOvertakenByResync(t *testing.T) {
	last := &model.Job{Stage: model.StageAnalyzing, Progress: 60}
	assert.True(t, behind(last, &model.Job{Stage: model.StageTranscribing, Progress: 50}))
	assert.True(t, behind(last, &model.Job{Stage: model.StageAnalyzing, Progress: 10}))
	assert.False(t, behind(last, &model.Job{Stage: model.StageAnalyzing, Progress: 80}))
	assert.False(t, behind(last, &model.Job{Stage: model.StageFailed}))
	assert.False(t, behind(last, &model.Job{Stage: model.StageCompleted, Progress: 100}))
}
