// Command conveyor runs the job queue as a standalone service.
//
// Subcommands:
//
//	serve    HTTP API, remote claim protocol and background loops
//	migrate  apply store migrations and exit
//	sweep    run one stuck-job reaper pass and exit
//	archive  archive stale dead letters and exit
//	stats    print job and dead letter counts as JSON
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "conveyor",
		Short:         "Conveyor multi-tenant job queue",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(
		serveCmd(),
		migrateCmd(),
		sweepCmd(),
		archiveCmd(),
		statsCmd(),
	)

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
