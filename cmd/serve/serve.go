package serve

import (
	"github.com/spf13/cobra"

	"github.com/nestwatch/nestwatch-go/internal/analysis"
	"github.com/nestwatch/nestwatch-go/internal/conf"
)

// Command creates the serve command that runs the sync scheduler and HTTP API.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync scheduler and HTTP API",
		Long:  "Poll the event source on an interval, process new clips into visits and serve the review API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return analysis.Serve(settings)
		},
	}
}
