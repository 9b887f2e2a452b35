// Command meetingproc runs the meeting processing HTTP API, its worker pool,
// and the retention reaper.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/target/meeting-processor/config"
	"github.com/target/meeting-processor/internal/bootstrap"
)

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		slog.Default().ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context) (err error) {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}

	logger, closeLog := bootstrap.InitLogger(cfg.Observability.Logging)
	defer func() {
		if cerr := closeLog(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	logStartupInfo(ctx, logger, &cfg)

	if err = bootstrap.ValidateServiceConfig(&cfg); err != nil {
		return err
	}

	backends, err := bootstrap.ConnectBackends(ctx, &cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := backends.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close backends failed", "error", cerr)
		}
	}()

	services, err := bootstrap.NewServices(ctx, &bootstrap.ServiceDeps{
		Config:   &cfg,
		Backends: backends,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := services.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close services failed", "error", cerr)
		}
	}()

	return bootstrap.RunServicesWithShutdown(&bootstrap.ServiceOrchestrationConfig{
		Config:   &cfg,
		Services: services,
		Logger:   logger,
	})
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	logger.InfoContext(ctx, "starting meeting processor",
		"store_backend", cfg.Store.Backend,
		"workers", cfg.Processor.Workers,
		"queue_size", cfg.Processor.QueueSize,
		"s3_audio", cfg.Audio.S3.Enabled,
		"enabled_services", bootstrap.GetEnabledServices(cfg))
}
