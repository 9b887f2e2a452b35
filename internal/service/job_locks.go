package service

import (
	"context"
	"sync"

	"github.com/target/meeting-processor/internal/core"
	"github.com/target/meeting-processor/internal/domain/model"
)

// jobLocks serializes the write-then-broadcast sequence per job, so broadcasts
// for a job leave in the same order as its snapshots were stored.
type jobLocks struct {
	mu    sync.Mutex
	locks map[string]*jobLock
}

type jobLock struct {
	mu   sync.Mutex
	refs int
}

func newJobLocks() *jobLocks {
	return &jobLocks{locks: make(map[string]*jobLock)}
}

// lock blocks until the caller holds id's lock and returns the release func.
func (l *jobLocks) lock(id string) func() {
	l.mu.Lock()
	jl, ok := l.locks[id]
	if !ok {
		jl = &jobLock{}
		l.locks[id] = jl
	}
	jl.refs++
	l.mu.Unlock()

	jl.mu.Lock()
	return func() {
		jl.mu.Unlock()
		l.mu.Lock()
		jl.refs--
		if jl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// commit applies mutate to the stored job and publishes the written snapshot
// while holding id's lock.
func (l *jobLocks) commit(
	ctx context.Context,
	store core.JobStore,
	broadcaster *StatusBroadcaster,
	id string,
	mutate core.JobMutator,
) (*model.Job, error) {
	unlock := l.lock(id)
	defer unlock()

	job, err := store.UpdateJob(ctx, id, mutate)
	if err != nil {
		return nil, err
	}
	broadcaster.Publish(ctx, job)
	return job, nil
}

// create stores a new job and publishes it while holding its lock.
func (l *jobLocks) create(ctx context.Context, store core.JobStore, broadcaster *StatusBroadcaster, job *model.Job) error {
	unlock := l.lock(job.ID)
	defer unlock()

	if err := store.PutJob(ctx, job); err != nil {
		return err
	}
	broadcaster.Publish(ctx, job)
	return nil
}
