package audio

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/target/meeting-processor/internal/core"
)

// Resolver writes new audio to a primary store and reads references from the
// store that produced them: s3:// references go to S3, everything else to local disk.
type Resolver struct {
	local *LocalStore
	s3    *S3Store
}

var _ core.AudioStore = (*Resolver)(nil)

// NewResolver builds a Resolver. s3 may be nil when object storage is disabled.
func NewResolver(local *LocalStore, s3 *S3Store) (*Resolver, error) {
	if local == nil {
		return nil, errors.New("local audio store is required")
	}
	return &Resolver{local: local, s3: s3}, nil
}

func (r *Resolver) Save(ctx context.Context, name string, body io.Reader) (string, error) {
	if r.s3 != nil {
		return r.s3.Save(ctx, name, body)
	}
	return r.local.Save(ctx, name, body)
}

func (r *Resolver) Open(ctx context.Context, ref string) (*core.AudioObject, error) {
	store, err := r.storeFor(ref)
	if err != nil {
		return nil, err
	}
	return store.Open(ctx, ref)
}

func (r *Resolver) Size(ctx context.Context, ref string) (int64, error) {
	store, err := r.storeFor(ref)
	if err != nil {
		return 0, err
	}
	return store.Size(ctx, ref)
}

func (r *Resolver) storeFor(ref string) (core.AudioStore, error) {
	if strings.HasPrefix(ref, S3Scheme) {
		if r.s3 == nil {
			return nil, errors.New("S3 audio storage is not configured")
		}
		return r.s3, nil
	}
	return r.local, nil
}
