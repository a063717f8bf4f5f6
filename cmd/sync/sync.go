package sync

import (
	"github.com/spf13/cobra"

	"github.com/nestwatch/nestwatch-go/internal/analysis"
	"github.com/nestwatch/nestwatch-go/internal/conf"
)

// Command creates the sync command that runs a single sync cycle.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run a single sync cycle and exit",
		Long:  "Poll the event source once, ingest and process any new clips and advance the sync cursor.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return analysis.SyncOnce(settings)
		},
	}
}
