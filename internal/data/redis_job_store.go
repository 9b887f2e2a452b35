package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/meeting-processor/internal/core"
	"github.com/target/meeting-processor/internal/domain/model"
)

const (
	// DefaultJobTTL is how long a job record lives after its last write.
	DefaultJobTTL = 7 * 24 * time.Hour
	// DefaultResultTTL is how long a result is retained.
	DefaultResultTTL = 30 * 24 * time.Hour

	redisScanCount        = 200
	redisMaxUpdateRetries = 16
)

// RedisJobStoreOptions configures a RedisJobStore.
type RedisJobStoreOptions struct {
	Client    redis.UniversalClient
	JobTTL    time.Duration
	ResultTTL time.Duration
}

// RedisJobStore implements core.JobStore with one JSON document per key:
// job:<id> for status records and result:<id> for results.
type RedisJobStore struct {
	client    redis.UniversalClient
	jobTTL    time.Duration
	resultTTL time.Duration
}

var _ core.JobStore = (*RedisJobStore)(nil)

// NewRedisJobStore creates a RedisJobStore.
func NewRedisJobStore(opts RedisJobStoreOptions) (*RedisJobStore, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.JobTTL <= 0 {
		opts.JobTTL = DefaultJobTTL
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = DefaultResultTTL
	}
	return &RedisJobStore{
		client:    opts.Client,
		jobTTL:    opts.JobTTL,
		resultTTL: opts.ResultTTL,
	}, nil
}

// PutJob writes the whole job record and refreshes its TTL.
func (s *RedisJobStore) PutJob(ctx context.Context, job *model.Job) error {
	if job == nil || job.ID == "" {
		return ErrJobIDRequired
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := s.client.Set(ctx, jobKey(job.ID), payload, s.jobTTL).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", jobKey(job.ID), err)
	}
	return nil
}

// UpdateJob applies mutate under WATCH so a concurrent terminal write (for example a
// cancellation) is never overwritten by a stale pipeline update.
func (s *RedisJobStore) UpdateJob(ctx context.Context, id string, mutate core.JobMutator) (*model.Job, error) {
	if id == "" {
		return nil, ErrJobIDRequired
	}

	key := jobKey(id)
	var updated *model.Job

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("redis get %s: %w", key, err)
		}

		current, err := decodeJob(raw)
		if err != nil {
			return err
		}

		next, err := ApplyJobMutation(current, mutate)
		if err != nil {
			return err
		}

		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.jobTTL)
			return nil
		})
		if err != nil {
			return err
		}
		updated = next
		return nil
	}

	for range redisMaxUpdateRetries {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUpdateConflict, id)
}

// GetJob returns ErrJobNotFound when the record is absent or expired.
func (s *RedisJobStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	if id == "" {
		return nil, ErrJobIDRequired
	}

	raw, err := s.client.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", jobKey(id), err)
	}
	return decodeJob(raw)
}

// ListJobIDs enumerates job keys with SCAN.
func (s *RedisJobStore) ListJobIDs(ctx context.Context) ([]string, error) {
	return scanJobIDs(ctx, s.client)
}

func scanJobIDs(ctx context.Context, client redis.Cmdable) ([]string, error) {
	var (
		ids    []string
		cursor uint64
	)
	for {
		keys, next, err := client.Scan(ctx, cursor, jobKeyPrefix+"*", redisScanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		for _, key := range keys {
			ids = append(ids, strings.TrimPrefix(key, jobKeyPrefix))
		}
		if next == 0 {
			return ids, nil
		}
		cursor = next
	}
}

// DeleteJob removes the job record. Deleting an absent job is not an error.
func (s *RedisJobStore) DeleteJob(ctx context.Context, id string) error {
	if id == "" {
		return ErrJobIDRequired
	}
	if err := s.client.Del(ctx, jobKey(id)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", jobKey(id), err)
	}
	return nil
}

// PutResult stores a result under its own, longer TTL.
func (s *RedisJobStore) PutResult(ctx context.Context, id string, result *model.Result) error {
	if id == "" {
		return ErrJobIDRequired
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := s.client.Set(ctx, resultKey(id), payload, s.resultTTL).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", resultKey(id), err)
	}
	return nil
}

// GetResult returns ErrResultNotFound when no result exists for the job.
func (s *RedisJobStore) GetResult(ctx context.Context, id string) (*model.Result, error) {
	if id == "" {
		return nil, ErrJobIDRequired
	}

	raw, err := s.client.Get(ctx, resultKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", resultKey(id), err)
	}
	return decodeResult(raw)
}

// DeleteResult removes the result. Deleting an absent result is not an error.
func (s *RedisJobStore) DeleteResult(ctx context.Context, id string) error {
	if id == "" {
		return ErrJobIDRequired
	}
	if err := s.client.Del(ctx, resultKey(id)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", resultKey(id), err)
	}
	return nil
}

// Health checks the health of the Redis connection.
func (s *RedisJobStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
