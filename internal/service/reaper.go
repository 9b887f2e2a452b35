package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/meeting-processor/config"
)

// JobCleaner removes jobs that outlived the retention window.
type JobCleaner interface {
	CleanupOldJobs(ctx context.Context, retentionDays int) (CleanupReport, error)
}

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Cleaner JobCleaner          // Required: retention sweep implementation
	Config  config.ReaperConfig // Required: reaper configuration
	Logger  *slog.Logger        // Optional: structured logger
}

// ReaperService runs the retention sweep on a fixed interval.
type ReaperService struct {
	cleaner JobCleaner
	config  config.ReaperConfig
	logger  *slog.Logger
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Cleaner == nil {
		return nil, errors.New("JobCleaner is required")
	}
	if opts.Config.Interval <= 0 {
		return nil, errors.New("reaper interval must be positive")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"retention_days", opts.Config.RetentionDays,
		)
	}

	return &ReaperService{
		cleaner: opts.Cleaner,
		config:  opts.Config,
		logger:  logger,
	}, nil
}

// MustNewReaperService constructs a new ReaperService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewReaperService(opts ReaperServiceOptions) *ReaperService {
	svc, err := NewReaperService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create ReaperService: %v", err))
	}
	return svc
}

// Run starts the reaper loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service",
			"interval", s.config.Interval,
			"retention_days", s.config.RetentionDays,
		)
	}

	// Spread instances that start together.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.runCleanup(ctx); err != nil {
		s.logCleanupError(err, "initial cleanup")
	}

	return s.runLoop(ctx, ticker)
}

// waitWithJitter adds a random delay up to 10% of the interval.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	timer := time.NewTimer(jitter)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (s *ReaperService) runLoop(ctx context.Context, ticker *time.Ticker) error {
	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.runCleanup(ctx); err != nil {
				s.logCleanupError(err, "cleanup")
			}
		}
	}
}

// runCleanup performs one retention sweep.
func (s *ReaperService) runCleanup(ctx context.Context) error {
	start := time.Now()
	report, err := s.cleaner.CleanupOldJobs(ctx, s.config.RetentionDays)
	if err != nil {
		if isContextCancellation(err) {
			return context.Canceled
		}
		return fmt.Errorf("retention sweep: %w", err)
	}

	if s.logger != nil && (report.Deleted > 0 || report.Failed > 0 || report.Purged > 0) {
		s.logger.InfoContext(ctx, "retention sweep finished",
			"scanned", report.Scanned,
			"deleted", report.Deleted,
			"failed", report.Failed,
			"purged", report.Purged,
			"elapsed", time.Since(start),
		)
	}
	if report.Failed > 0 {
		return fmt.Errorf("retention sweep: %d job(s) could not be removed", report.Failed)
	}
	return nil
}

func (s *ReaperService) logCleanupError(err error, label string) {
	if s.logger == nil || err == nil {
		return
	}
	if isContextCancellation(err) {
		s.logger.Debug("reaper "+label+" interrupted", "error", err)
		return
	}
	s.logger.Error("reaper "+label+" failed", "error", err)
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
