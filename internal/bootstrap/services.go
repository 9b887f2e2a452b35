package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/target/meeting-processor/config"
	"github.com/target/meeting-processor/internal/adapters/analysis"
	"github.com/target/meeting-processor/internal/adapters/audio"
	"github.com/target/meeting-processor/internal/adapters/transcription"
	"github.com/target/meeting-processor/internal/core"
	"github.com/target/meeting-processor/internal/data"
	"github.com/target/meeting-processor/internal/domain/job"
	"github.com/target/meeting-processor/internal/observability/statsd"
	"github.com/target/meeting-processor/internal/service"
)

// ServiceContainer holds the wired processing services.
type ServiceContainer struct {
	Store     core.JobStore
	Audio     *audio.Resolver
	Processor *service.Processor
	Hub       *job.StatusHub
	// Updates is the status topic subscriber the processor watches for
	// cancellations issued by other processes.
	Updates core.StatusSubscriber
	Metrics *statsd.Client
}

// Close releases resources owned by the container. The processor must already be shut down.
func (c ServiceContainer) Close() error {
	if c.Hub != nil {
		c.Hub.StopAll()
	}
	return c.Metrics.Close()
}

// ServiceDeps contains dependencies for building services.
type ServiceDeps struct {
	Config   *config.AppConfig
	Backends Backends
	Logger   *slog.Logger
}

// statusChannel is implemented by the Redis and Postgres pub/sub adapters.
type statusChannel interface {
	core.StatusPublisher
	core.StatusSubscriber
}

// NewServices wires the job store, status channel, audio storage, external
// clients, and the processor for the configured backend.
func NewServices(ctx context.Context, deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps missing AppConfig")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := buildMetrics(logger, cfg.Observability.Metrics)
	if err != nil {
		return ServiceContainer{}, err
	}

	store, channel, err := buildStore(deps.Backends, cfg.Processor)
	if err != nil {
		return ServiceContainer{}, errors.Join(err, metrics.Close())
	}

	audioStore, err := buildAudioStore(ctx, cfg.Audio, logger)
	if err != nil {
		return ServiceContainer{}, errors.Join(err, metrics.Close())
	}

	proc, err := buildProcessor(processorDeps{
		cfg:     cfg,
		store:   store,
		channel: channel,
		audio:   audioStore,
		metrics: metrics,
		logger:  logger,
	})
	if err != nil {
		return ServiceContainer{}, errors.Join(err, metrics.Close())
	}

	hub, err := job.NewStatusHub(job.StatusHubOptions{
		Subscriber: channel,
		Topic:      cfg.Processor.UpdatesTopic,
		Logger:     logger,
	})
	if err != nil {
		return ServiceContainer{}, errors.Join(fmt.Errorf("create status hub: %w", err), metrics.Close())
	}

	return ServiceContainer{
		Store:     store,
		Audio:     audioStore,
		Processor: proc,
		Hub:       hub,
		Updates:   channel,
		Metrics:   metrics,
	}, nil
}

func buildMetrics(logger *slog.Logger, cfg config.ObservabilityMetricsConfig) (*statsd.Client, error) {
	client, err := statsd.NewClient(statsd.Config{
		Enabled: cfg.IsEnabled(),
		Address: cfg.StatsdAddress,
		Prefix:  cfg.Prefix,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create statsd client: %w", err)
	}
	if client.Enabled() {
		logger.Info("statsd metrics enabled", "address", cfg.StatsdAddress, "prefix", cfg.Prefix)
	}
	return client, nil
}

//nolint:ireturn // the store backend is chosen at runtime.
func buildStore(b Backends, cfg config.ProcessorConfig) (core.JobStore, statusChannel, error) {
	switch {
	case b.Redis != nil:
		store, err := data.NewRedisJobStore(data.RedisJobStoreOptions{
			Client:    b.Redis,
			JobTTL:    cfg.JobTTL,
			ResultTTL: cfg.ResultTTL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create redis job store: %w", err)
		}
		return store, data.NewRedisStatusChannel(b.Redis), nil
	case b.DB != nil:
		store, err := data.NewPostgresJobStore(data.PostgresJobStoreOptions{
			DB:        b.DB,
			JobTTL:    cfg.JobTTL,
			ResultTTL: cfg.ResultTTL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create postgres job store: %w", err)
		}
		return store, data.NewPostgresStatusChannel(b.DB), nil
	default:
		return nil, nil, errors.New("no job store backend connected")
	}
}

func buildAudioStore(ctx context.Context, cfg config.AudioStorageConfig, logger *slog.Logger) (*audio.Resolver, error) {
	local, err := audio.NewLocalStore(cfg.LocalDir)
	if err != nil {
		return nil, fmt.Errorf("create local audio store: %w", err)
	}

	var remote *audio.S3Store
	if cfg.S3.Enabled {
		client, err := audio.NewS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("create s3 client: %w", err)
		}
		remote, err = audio.NewS3Store(client, cfg.S3.Bucket, cfg.S3.Prefix)
		if err != nil {
			return nil, fmt.Errorf("create s3 audio store: %w", err)
		}
		logger.Info("audio uploads stored in s3", "bucket", cfg.S3.Bucket, "prefix", cfg.S3.Prefix)
	} else {
		logger.Info("audio uploads stored on local disk", "dir", local.Root())
	}

	resolver, err := audio.NewResolver(local, remote)
	if err != nil {
		return nil, fmt.Errorf("create audio resolver: %w", err)
	}
	return resolver, nil
}

type processorDeps struct {
	cfg     *config.AppConfig
	store   core.JobStore
	channel statusChannel
	audio   core.AudioStore
	metrics statsd.Sink
	logger  *slog.Logger
}

func buildProcessor(d processorDeps) (*service.Processor, error) {
	transcriber, err := transcription.NewClient(transcription.ClientOptions{
		BaseURL:      d.cfg.Transcription.BaseURL,
		APIKey:       d.cfg.Transcription.APIKey,
		Model:        d.cfg.Transcription.Model,
		SpeakerCount: d.cfg.Transcription.SpeakerCount,
		Timeout:      d.cfg.Transcription.Timeout,
		Audio:        d.audio,
		Logger:       d.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create transcription client: %w", err)
	}

	analyzer, err := analysis.NewClient(analysis.ClientOptions{
		BaseURL:           d.cfg.Analysis.BaseURL,
		APIKey:            d.cfg.Analysis.APIKey,
		Model:             d.cfg.Analysis.Model,
		MaxTokens:         d.cfg.Analysis.MaxTokens,
		Temperature:       d.cfg.Analysis.Temperature,
		Timeout:           d.cfg.Analysis.Timeout,
		ResponsePath:      d.cfg.Analysis.ResponsePath,
		RequestsPerSecond: d.cfg.Analysis.RequestsPerSecond,
		Logger:            d.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create analysis client: %w", err)
	}

	broadcaster := service.NewStatusBroadcaster(service.StatusBroadcasterOptions{
		Publisher: d.channel,
		Topic:     d.cfg.Processor.UpdatesTopic,
		Logger:    d.logger,
	})

	pipeline, err := service.NewPipeline(service.PipelineOptions{
		Store:                d.store,
		Transcriber:          transcriber,
		Analyzer:             analyzer,
		Broadcaster:          broadcaster,
		TranscriptionTimeout: d.cfg.Transcription.Timeout,
		AnalysisTimeout:      d.cfg.Analysis.Timeout,
		Logger:               d.logger,
		Metrics:              d.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	pool, err := service.NewWorkerPool(service.WorkerPoolOptions{
		Workers:   d.cfg.Processor.Workers,
		QueueSize: d.cfg.Processor.QueueSize,
		Logger:    d.logger,
		Metrics:   d.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	proc, err := service.NewProcessor(service.ProcessorOptions{
		Store:       d.store,
		Pipeline:    pipeline,
		Pool:        pool,
		Broadcaster: broadcaster,
		Audio:       d.audio,
		Logger:      d.logger,
		Metrics:     d.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("create processor: %w", err)
	}
	return proc, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

// startHTTPServerIfEnabled starts the HTTP server if enabled.
func startHTTPServerIfEnabled(deps *serviceStartupDeps) *http.Server {
	if deps == nil || deps.cfg == nil || !deps.enabledServices[config.ServiceModeHTTP] {
		return nil
	}
	return StartHTTPServer(&HTTPServerConfig{
		Config:   deps.cfg.Config,
		Services: deps.cfg.Services,
		Logger:   deps.logger,
		ErrCh:    deps.errCh,
	})
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				deps.logger.WarnContext(ctx, "dropping background service error", "service", descriptor.name, "error", errMsg)
			}
		}
	}()

	deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func newReaperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeReaper,
		name: "reaper",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil || deps.cfg.Config == nil {
				return nil
			}
			return RunReaper(ctx, ReaperConfig{
				Cleaner: deps.cfg.Services.Processor,
				Config:  deps.cfg.Config.Reaper,
				Logger:  deps.logger,
			})
		},
	}
}

// newCancelWatcherBackgroundService runs alongside the HTTP server, whose
// worker pool owns the pipeline runs.
func newCancelWatcherBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeHTTP,
		name: "cancel_watcher",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil || deps.cfg.Services.Updates == nil {
				return nil
			}
			return deps.cfg.Services.Processor.WatchCancellations(ctx, deps.cfg.Services.Updates)
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newReaperBackgroundService(deps),
		newCancelWatcherBackgroundService(deps),
	}
}

// ServiceStartupResult holds the results of starting all services.
type ServiceStartupResult struct {
	HTTPServer *http.Server
	Background []backgroundServiceHandle
}

// startServices starts all enabled services and returns their completion channels.
func startServices(deps *serviceStartupDeps) ServiceStartupResult {
	return ServiceStartupResult{
		HTTPServer: startHTTPServerIfEnabled(deps),
		Background: startBackgroundServices(deps, buildBackgroundServices(deps)),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}
	if cfg.Services.Processor == nil {
		return errors.New("service orchestration config missing processor")
	}

	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Determine which services are enabled
	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	// Start all enabled services
	result := startServices(&serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	// Wait for shutdown signal or error
	return waitForShutdown(shutdownConfig{
		quit:            quit,
		cancel:          cancel,
		errCh:           errCh,
		httpServer:      result.HTTPServer,
		hub:             cfg.Services.Hub,
		processor:       cfg.Services.Processor,
		processorBudget: cfg.Config.Processor.ShutdownTimeout,
		logger:          logger,
		backgrounds:     result.Background,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			count++
		}
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	size := errorChannelCapacity(enabled) + 1
	if size < 1 {
		return 1
	}
	return size
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	quit            <-chan os.Signal
	cancel          context.CancelFunc
	errCh           <-chan error
	httpServer      *http.Server
	hub             *job.StatusHub
	processor       *service.Processor
	processorBudget time.Duration
	logger          *slog.Logger
	backgrounds     []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	select {
	case <-cfg.quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel()
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel()
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop stops intake first, then lets in-flight pipelines finish within
// the processor budget before cancelling them.
func gracefulStop(cfg shutdownConfig) error {
	var errs []error

	if cfg.httpServer != nil {
		if err := ShutdownHTTPServer(ShutdownConfig{
			Context: context.Background(),
			Server:  cfg.httpServer,
			Hub:     cfg.hub,
			Logger:  cfg.logger,
		}); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
		}
	}

	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	if cfg.processor != nil {
		budget := cfg.processorBudget
		if budget <= 0 {
			budget = shutdownWaitTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), budget)
		defer cancel()
		if err := cfg.processor.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown processor: %w", err))
		} else {
			cfg.logger.Info("processor stopped")
		}
	}

	return errors.Join(errs...)
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
