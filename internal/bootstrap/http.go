package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/target/meeting-processor/config"
	"github.com/target/meeting-processor/internal/domain/job"
	httpx "github.com/target/meeting-processor/internal/http"
)

// HTTPServerConfig contains configuration for HTTP server.
type HTTPServerConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
	// ErrCh receives a listener failure. Optional.
	ErrCh chan<- error
}

// StartHTTPServer creates and starts the HTTP server.
// Returns the server instance for graceful shutdown.
func StartHTTPServer(cfg *HTTPServerConfig) *http.Server {
	if cfg == nil {
		return nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	handler := buildHTTPHandler(logger, routerServices(appCfg, cfg.Services, logger))
	return startServer(serverParams{
		logger:  logger,
		handler: handler,
		addr:    appCfg.HTTP.Addr,
		errCh:   cfg.ErrCh,
	})
}

func routerServices(cfg *config.AppConfig, svcs ServiceContainer, logger *slog.Logger) httpx.RouterServices {
	services := httpx.RouterServices{
		Processor: svcs.Processor,
		Health:    svcs.Store,
		Upload: httpx.UploadLimits{
			MaxBytes:          cfg.HTTP.MaxUploadBytes(),
			AllowedExtensions: cfg.HTTP.AllowedAudioExtensions,
		},
		RetentionDays: cfg.Reaper.RetentionDays,
		Logger:        logger,
	}
	// Assigned conditionally so a missing dependency stays a nil interface.
	if svcs.Audio != nil {
		services.Audio = svcs.Audio
	}
	if svcs.Hub != nil {
		services.Hub = svcs.Hub
	}
	return services
}

// buildHTTPHandler applies middleware in the order Recover -> Logging -> Router.
func buildHTTPHandler(logger *slog.Logger, services httpx.RouterServices) http.Handler {
	h := httpx.NewRouter(services)
	h = httpx.Logging(logger)(h)
	h = httpx.Recover(logger)(h)
	return h
}

type serverParams struct {
	logger  *slog.Logger
	handler http.Handler
	addr    string
	errCh   chan<- error
}

func startServer(p serverParams) *http.Server {
	// Guard against empty addr to avoid listening on Go default
	addr := p.addr
	if addr == "" {
		addr = ":8080"
	}

	// No WriteTimeout: event streams and large uploads outlive any fixed bound.
	server := &http.Server{
		Addr:              addr,
		Handler:           p.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		p.logger.Info("starting HTTP server", "addr", server.Addr)
		err := server.ListenAndServe()
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return
		}
		p.logger.Error("HTTP server failed", "error", err)
		if p.errCh != nil {
			select {
			case p.errCh <- fmt.Errorf("http server: %w", err):
			default:
			}
		}
	}()

	return server
}

// ShutdownConfig contains dependencies for HTTP server shutdown.
type ShutdownConfig struct {
	Context context.Context
	Server  *http.Server
	Hub     *job.StatusHub
	Logger  *slog.Logger
}

// ShutdownHTTPServer gracefully shuts down the HTTP server.
func ShutdownHTTPServer(cfg ShutdownConfig) error {
	if cfg.Server == nil {
		return nil
	}
	parent := cfg.Context
	if parent == nil {
		parent = context.Background()
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("shutting down HTTP server")
	}

	// Closing the observer channels ends open event streams so Shutdown does not wait on them.
	if cfg.Hub != nil {
		cfg.Hub.StopAll()
	}

	shutdownCtx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()

	if err := cfg.Server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("HTTP server stopped")
	}

	return nil
}
