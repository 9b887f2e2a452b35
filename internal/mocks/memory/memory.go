// Package memory contains hand-written in-memory doubles for the core ports.
// They follow the same stage rules as the real stores and are suitable for
// unit tests that need realistic state without Redis or Postgres.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/target/meeting-processor/internal/core"
	"github.com/target/meeting-processor/internal/data"
	"github.com/target/meeting-processor/internal/domain/model"
)

// Ensure compile-time conformance to ports.
var (
	_ core.JobStore        = (*JobStore)(nil)
	_ core.StatusPublisher = (*Publisher)(nil)
)

// JobStore keeps jobs and results in maps.
type JobStore struct {
	mu      sync.Mutex
	jobs    map[string]*model.Job
	results map[string]*model.Result

	// Err, when set, is returned by every operation.
	Err error
	// OnUpdate runs inside UpdateJob before the mutation is applied.
	OnUpdate func(id string)
}

// NewJobStore creates an empty JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:    make(map[string]*model.Job),
		results: make(map[string]*model.Result),
	}
}

func (s *JobStore) PutJob(_ context.Context, job *model.Job) error {
	if job == nil || job.ID == "" {
		return data.ErrJobIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *JobStore) UpdateJob(_ context.Context, id string, mutate core.JobMutator) (*model.Job, error) {
	if hook := s.updateHook(); hook != nil {
		hook(id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	current, ok := s.jobs[id]
	if !ok {
		return nil, data.ErrJobNotFound
	}
	next, err := data.ApplyJobMutation(current, mutate)
	if err != nil {
		return nil, err
	}
	s.jobs[id] = next
	return next.Clone(), nil
}

func (s *JobStore) updateHook() func(string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.OnUpdate
}

func (s *JobStore) GetJob(_ context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	job, ok := s.jobs[id]
	if !ok {
		return nil, data.ErrJobNotFound
	}
	return job.Clone(), nil
}

func (s *JobStore) ListJobIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *JobStore) DeleteJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	delete(s.jobs, id)
	return nil
}

func (s *JobStore) PutResult(_ context.Context, id string, result *model.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	cp := *result
	s.results[id] = &cp
	return nil
}

func (s *JobStore) GetResult(_ context.Context, id string) (*model.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	result, ok := s.results[id]
	if !ok {
		return nil, data.ErrResultNotFound
	}
	cp := *result
	return &cp, nil
}

func (s *JobStore) DeleteResult(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	delete(s.results, id)
	return nil
}

func (s *JobStore) Health(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Err
}

// SetErr changes the error returned by every operation.
func (s *JobStore) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Err = err
}

// HasResult reports whether a result is stored for id.
func (s *JobStore) HasResult(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.results[id]
	return ok
}

// Publisher records published payloads in order.
type Publisher struct {
	mu       sync.Mutex
	messages []Message
	Err      error
	// OnPublish runs after a payload is recorded.
	OnPublish func(topic string, payload []byte)
}

// Message is one recorded publication.
type Message struct {
	Topic   string
	Payload []byte
}

func (p *Publisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	if p.Err != nil {
		p.mu.Unlock()
		return p.Err
	}
	p.messages = append(p.messages, Message{Topic: topic, Payload: append([]byte(nil), payload...)})
	hook := p.OnPublish
	p.mu.Unlock()

	if hook != nil {
		hook(topic, payload)
	}
	return nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}

// ErrNotConfigured is returned by doubles whose behaviour was not set.
var ErrNotConfigured = errors.New("memory double not configured")

// Transcriber adapts a function to core.Transcriber.
type Transcriber func(ctx context.Context, audioRef string) (*model.Transcription, error)

func (f Transcriber) Transcribe(ctx context.Context, audioRef string) (*model.Transcription, error) {
	if f == nil {
		return nil, ErrNotConfigured
	}
	return f(ctx, audioRef)
}

// Analyzer adapts a function to core.Analyzer.
type Analyzer func(ctx context.Context, transcript string) (*model.Analysis, error)

func (f Analyzer) Analyze(ctx context.Context, transcript string) (*model.Analysis, error) {
	if f == nil {
		return nil, ErrNotConfigured
	}
	return f(ctx, transcript)
}
