// Package core defines the ports between the meeting processing services and their
// storage, messaging, and external-service adapters.
package core

import (
	"context"
	"io"

	"github.com/target/meeting-processor/internal/domain/model"
)

// This file contains port definitions (hexagonal architecture).
// Service implementations depend on these interfaces, not on concrete adapters.

// JobMutator changes a job in place during an atomic update.
// Returning an error aborts the update without writing.
type JobMutator func(job *model.Job) error

// JobStore persists job status records and results.
//
// Implementations distinguish true absence (data.ErrJobNotFound, data.ErrResultNotFound)
// from store failures (any other error).
type JobStore interface {
	// PutJob writes the whole record and refreshes its expiry.
	PutJob(ctx context.Context, job *model.Job) error

	// UpdateJob atomically applies mutate to the stored record and returns the written snapshot.
	// A record already in a terminal stage is not written; data.ErrJobTerminal is returned.
	UpdateJob(ctx context.Context, id string, mutate JobMutator) (*model.Job, error)

	GetJob(ctx context.Context, id string) (*model.Job, error)

	// ListJobIDs returns the ids of every live job in no particular order.
	ListJobIDs(ctx context.Context) ([]string, error)

	DeleteJob(ctx context.Context, id string) error

	PutResult(ctx context.Context, id string, result *model.Result) error
	GetResult(ctx context.Context, id string) (*model.Result, error)
	DeleteResult(ctx context.Context, id string) error

	// Health checks the connection to the backing store.
	Health(ctx context.Context) error
}

// ExpiredRecordPurger is implemented by stores whose expiry is not enforced by the backend itself.
type ExpiredRecordPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// StatusPublisher publishes an encoded status update on a topic.
type StatusPublisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// StatusSubscription delivers payloads published on a topic.
type StatusSubscription interface {
	// Receive blocks until a payload arrives, the subscription fails, or ctx is done.
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// StatusSubscriber opens subscriptions on a topic.
type StatusSubscriber interface {
	Subscribe(ctx context.Context, topic string) (StatusSubscription, error)
}

// Transcriber converts recorded audio into speaker-attributed text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioRef string) (*model.Transcription, error)
}

// Analyzer turns a transcript into a structured meeting analysis.
type Analyzer interface {
	Analyze(ctx context.Context, transcript string) (*model.Analysis, error)
}

// AudioObject is an opened audio file.
type AudioObject struct {
	Name string
	Body io.ReadCloser
}

// AudioStore keeps uploaded audio and resolves references produced by Save.
type AudioStore interface {
	Save(ctx context.Context, name string, r io.Reader) (string, error)
	Open(ctx context.Context, ref string) (*AudioObject, error)
	Size(ctx context.Context, ref string) (int64, error)
}
