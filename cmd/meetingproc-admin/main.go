// Command meetingproc-admin inspects and manages meeting processing jobs.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/target/meeting-processor/config"
	"github.com/target/meeting-processor/internal/bootstrap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cliApp{connect: connectJobAdmin}
	if err := newRootCmd(app).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

// cliApp carries state shared by every subcommand.
type cliApp struct {
	cfg    config.AppConfig
	loaded bool
	logger *slog.Logger

	// connect opens the job store and returns the job operations plus a close func.
	connect func(ctx context.Context, app *cliApp) (jobAdmin, func() error, error)
}

func newRootCmd(app *cliApp) *cobra.Command {
	root := &cobra.Command{
		Use:           "meetingproc-admin",
		Short:         "Inspect and manage meeting processing jobs",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.init(cmd)
		},
	}

	root.AddCommand(
		newMigrateCmd(app),
		newSubmitCmd(app),
		newStatusCmd(app),
		newListCmd(app),
		newResultCmd(app),
		newCancelCmd(app),
		newCleanupCmd(app),
	)
	return root
}

// init loads configuration once per invocation. Logs go to stderr so command
// output on stdout stays machine-readable.
func (a *cliApp) init(cmd *cobra.Command) error {
	if a.logger == nil {
		a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
	}
	if a.loaded {
		return nil
	}
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg
	a.loaded = true
	return nil
}

// withJobs opens the store for the duration of fn.
func (a *cliApp) withJobs(ctx context.Context, fn func(jobAdmin) error) (err error) {
	if a.connect == nil {
		return errors.New("no job store connector configured")
	}
	jobs, closeFn, err := a.connect(ctx, a)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeFn(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return fn(jobs)
}
