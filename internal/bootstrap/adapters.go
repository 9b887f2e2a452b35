package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/target/meeting-processor/config"
	"github.com/target/meeting-processor/internal/adapters/reaper"
	"github.com/target/meeting-processor/internal/service"
)

// ReaperConfig holds the dependencies for running the retention reaper.
type ReaperConfig struct {
	Cleaner service.JobCleaner
	Config  config.ReaperConfig
	Logger  *slog.Logger
}

// RunReaper starts the reaper service.
func RunReaper(ctx context.Context, cfg ReaperConfig) error {
	runner, err := reaper.NewRunner(reaper.RunnerOptions{
		Cleaner: cfg.Cleaner,
		Config:  cfg.Config,
		Logger:  cfg.Logger,
	})
	if err != nil {
		return fmt.Errorf("create reaper runner: %w", err)
	}

	return runner.Run(ctx)
}
