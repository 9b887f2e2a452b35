package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/target/meeting-processor/internal/core"
	"github.com/target/meeting-processor/internal/data/pgxutil"
	"github.com/target/meeting-processor/internal/domain/model"
	apperrors "github.com/target/meeting-processor/internal/errors"
)

// PostgresJobStoreOptions configures a PostgresJobStore.
type PostgresJobStoreOptions struct {
	DB           *sql.DB
	JobTTL       time.Duration
	ResultTTL    time.Duration
	TimeProvider TimeProvider
}

// PostgresJobStore implements core.JobStore on the meeting_jobs and meeting_results tables.
// Expiry is enforced on read via expires_at; PurgeExpired removes the rows.
type PostgresJobStore struct {
	db        *sql.DB
	jobTTL    time.Duration
	resultTTL time.Duration
	clock     TimeProvider
}

var (
	_ core.JobStore            = (*PostgresJobStore)(nil)
	_ core.ExpiredRecordPurger = (*PostgresJobStore)(nil)
)

// NewPostgresJobStore creates a PostgresJobStore.
func NewPostgresJobStore(opts PostgresJobStoreOptions) (*PostgresJobStore, error) {
	if opts.DB == nil {
		return nil, errors.New("database handle is required")
	}
	if opts.JobTTL <= 0 {
		opts.JobTTL = DefaultJobTTL
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = DefaultResultTTL
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &RealTimeProvider{}
	}
	return &PostgresJobStore{
		db:        opts.DB,
		jobTTL:    opts.JobTTL,
		resultTTL: opts.ResultTTL,
		clock:     opts.TimeProvider,
	}, nil
}

const upsertJobSQL = `
	INSERT INTO meeting_jobs (id, stage, doc, started_at, updated_at, expires_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET
		stage = EXCLUDED.stage,
		doc = EXCLUDED.doc,
		started_at = EXCLUDED.started_at,
		updated_at = EXCLUDED.updated_at,
		expires_at = EXCLUDED.expires_at`

// PutJob writes the whole job record and refreshes its expiry.
func (s *PostgresJobStore) PutJob(ctx context.Context, job *model.Job) error {
	if job == nil || job.ID == "" {
		return ErrJobIDRequired
	}

	doc, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	now := s.clock.Now()
	if _, err := s.db.ExecContext(ctx, upsertJobSQL,
		job.ID, string(job.Stage), doc, job.StartedAt, now, now.Add(s.jobTTL),
	); err != nil {
		return fmt.Errorf("put job: %w", apperrors.MapDBError(err))
	}
	return nil
}

// UpdateJob locks the row, applies mutate, and writes it back only while the stored
// stage is not terminal.
func (s *PostgresJobStore) UpdateJob(ctx context.Context, id string, mutate core.JobMutator) (*model.Job, error) {
	if id == "" {
		return nil, ErrJobIDRequired
	}

	var updated *model.Job
	err := pgxutil.WithSQLTx(ctx, s.db, pgxutil.SQLTxConfig{Fn: func(tx *sql.Tx) error {
		now := s.clock.Now()

		var raw []byte
		err := tx.QueryRowContext(ctx,
			`SELECT doc FROM meeting_jobs WHERE id = $1 AND expires_at > $2 FOR UPDATE`, id, now,
		).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("lock job: %w", apperrors.MapDBError(err))
		}

		current, err := decodeJob(raw)
		if err != nil {
			return err
		}
		next, err := ApplyJobMutation(current, mutate)
		if err != nil {
			return err
		}

		doc, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode job: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE meeting_jobs
			SET stage = $2, doc = $3, updated_at = $4, expires_at = $5
			WHERE id = $1 AND stage NOT IN ('completed', 'failed')`,
			id, string(next.Stage), doc, now, now.Add(s.jobTTL),
		)
		if err != nil {
			return fmt.Errorf("update job: %w", apperrors.MapDBError(err))
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrJobTerminal
		}
		updated = next
		return nil
	}})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// GetJob returns ErrJobNotFound when the row is absent or expired.
func (s *PostgresJobStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	if id == "" {
		return nil, ErrJobIDRequired
	}

	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM meeting_jobs WHERE id = $1 AND expires_at > $2`, id, s.clock.Now(),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", apperrors.MapDBError(err))
	}
	return decodeJob(raw)
}

// ListJobIDs returns the ids of all unexpired jobs.
func (s *PostgresJobStore) ListJobIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM meeting_jobs WHERE expires_at > $1`, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", apperrors.MapDBError(err))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", apperrors.MapDBError(err))
	}
	return ids, nil
}

// DeleteJob removes the job row. Deleting an absent job is not an error.
func (s *PostgresJobStore) DeleteJob(ctx context.Context, id string) error {
	if id == "" {
		return ErrJobIDRequired
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM meeting_jobs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete job: %w", apperrors.MapDBError(err))
	}
	return nil
}

// PutResult upserts the result with its own expiry.
func (s *PostgresJobStore) PutResult(ctx context.Context, id string, result *model.Result) error {
	if id == "" {
		return ErrJobIDRequired
	}

	doc, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	now := s.clock.Now()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO meeting_results (job_id, doc, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id) DO UPDATE SET doc = EXCLUDED.doc, expires_at = EXCLUDED.expires_at`,
		id, doc, now, now.Add(s.resultTTL),
	); err != nil {
		return fmt.Errorf("put result: %w", apperrors.MapDBError(err))
	}
	return nil
}

// GetResult returns ErrResultNotFound when no unexpired result exists.
func (s *PostgresJobStore) GetResult(ctx context.Context, id string) (*model.Result, error) {
	if id == "" {
		return nil, ErrJobIDRequired
	}

	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM meeting_results WHERE job_id = $1 AND expires_at > $2`, id, s.clock.Now(),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", apperrors.MapDBError(err))
	}
	return decodeResult(raw)
}

// DeleteResult removes the result row. Deleting an absent result is not an error.
func (s *PostgresJobStore) DeleteResult(ctx context.Context, id string) error {
	if id == "" {
		return ErrJobIDRequired
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM meeting_results WHERE job_id = $1`, id); err != nil {
		return fmt.Errorf("delete result: %w", apperrors.MapDBError(err))
	}
	return nil
}

// PurgeExpired deletes job and result rows whose expiry has passed.
func (s *PostgresJobStore) PurgeExpired(ctx context.Context) (int64, error) {
	now := s.clock.Now()

	var total int64
	for _, table := range []string{"meeting_jobs", "meeting_results"} {
		res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE expires_at <= $1`, now)
		if err != nil {
			return total, fmt.Errorf("purge %s: %w", table, apperrors.MapDBError(err))
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// Health checks the database connection.
func (s *PostgresJobStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
