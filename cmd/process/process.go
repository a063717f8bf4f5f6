package process

import (
	"github.com/spf13/cobra"

	"github.com/nestwatch/nestwatch-go/internal/analysis"
	"github.com/nestwatch/nestwatch-go/internal/conf"
)

// Command creates the process command that drains the pending file queue once.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Process pending files once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return analysis.ProcessOnce(settings)
		},
	}
}
