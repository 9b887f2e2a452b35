package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/target/meeting-processor/internal/bootstrap"
	"github.com/target/meeting-processor/internal/domain/model"
	"github.com/target/meeting-processor/internal/migrate"
	"github.com/target/meeting-processor/internal/service"
)

const defaultMigrationTimeout = 5 * time.Minute

// jobAdmin is the subset of the processor the store-backed commands use.
type jobAdmin interface {
	GetJobStatus(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context) ([]*model.Job, error)
	GetResult(ctx context.Context, id string) (*model.Result, error)
	CancelJob(ctx context.Context, id string) (bool, error)
	CleanupOldJobs(ctx context.Context, retentionDays int) (service.CleanupReport, error)
}

// connectJobAdmin wires a processor over the configured job store. The
// processor never accepts work here; it only serves reads, cancellation,
// and cleanup so cancellations are broadcast to running servers.
func connectJobAdmin(ctx context.Context, app *cliApp) (jobAdmin, func() error, error) {
	backends, err := bootstrap.ConnectBackends(ctx, &app.cfg, app.logger)
	if err != nil {
		return nil, nil, err
	}
	svcs, err := bootstrap.NewServices(ctx, &bootstrap.ServiceDeps{
		Config:   &app.cfg,
		Backends: backends,
		Logger:   app.logger,
	})
	if err != nil {
		return nil, nil, errors.Join(err, backends.Close())
	}

	closeFn := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.cfg.Processor.ShutdownTimeout)
		defer cancel()
		return errors.Join(svcs.Processor.Shutdown(shutdownCtx), svcs.Close(), backends.Close())
	}
	return svcs.Processor, closeFn, nil
}

func newMigrateCmd(app *cliApp) *cobra.Command {
	var showStatus bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply Postgres job store migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultMigrationTimeout)
			defer cancel()

			db, err := bootstrap.ConnectDB(ctx, app.cfg.Postgres, app.logger)
			if err != nil {
				return fmt.Errorf("connect db: %w", err)
			}
			defer func() { _ = db.Close() }()

			if !showStatus {
				if err := bootstrap.RunMigrations(ctx, db, app.logger); err != nil {
					return err
				}
			}

			migrations, err := migrate.Status(ctx, db)
			if err != nil {
				return fmt.Errorf("migration status: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tAPPLIED")
			for _, m := range migrations {
				fmt.Fprintf(tw, "%s\t%t\n", m.Version, m.Applied)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&showStatus, "status", false, "only report which migrations are applied")
	return cmd
}
