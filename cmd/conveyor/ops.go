package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/job"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply store migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if err := a.store.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			a.logger.Info("migrations complete", "backend", a.settings.StoreBackend)
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one stuck-job reaper pass and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			eng, err := a.build()
			if err != nil {
				return err
			}
			n, err := eng.Sweep(ctx)
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "reaped %d jobs\n", n)
			return err
		},
	}
}

func archiveCmd() *cobra.Command {
	var days, maxFailures int
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Archive stale dead letters and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if days == 0 {
				days = a.config.DLQArchiveAfterDays
			}
			if maxFailures == 0 {
				maxFailures = a.config.DLQMaxFailures
			}
			eng, err := a.build()
			if err != nil {
				return err
			}
			n, err := eng.DLQ().Archive(ctx, days, maxFailures)
			if err != nil {
				return fmt.Errorf("archive: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "archived %d dead letters\n", n)
			return err
		},
	}
	cmd.Flags().IntVar(&days, "older-than-days", 0, "archive pending entries older than this (default from CONVEYOR_DLQ_ARCHIVE_AFTER_DAYS)")
	cmd.Flags().IntVar(&maxFailures, "max-failures", 0, "archive pending entries with at least this many failures (default from CONVEYOR_DLQ_MAX_FAILURES)")
	return cmd
}

// statsOutput is printed by the stats command.
type statsOutput struct {
	TenantID    string              `json:"tenant_id,omitempty"`
	Jobs        map[job.State]int64 `json:"jobs"`
	DeadLetters *dlq.Stats          `json:"dead_letters"`
}

func statsCmd() *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print job and dead letter counts as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			eng, err := a.build()
			if err != nil {
				return err
			}

			out := statsOutput{TenantID: tenantID, Jobs: make(map[job.State]int64)}
			for _, state := range []job.State{
				job.StatePending, job.StateProcessing, job.StateCompleted, job.StateDead, job.StateCancelled,
			} {
				n, err := eng.Count(ctx, job.CountOpts{TenantID: tenantID, State: state})
				if err != nil {
					return fmt.Errorf("count %s jobs: %w", state, err)
				}
				out.Jobs[state] = n
			}
			if out.DeadLetters, err = eng.DLQ().Stats(ctx, tenantID); err != nil {
				return fmt.Errorf("dead letter stats: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "restrict counts to one tenant")
	return cmd
}
