package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nestwatch/nestwatch-go/cmd/process"
	"github.com/nestwatch/nestwatch-go/cmd/serve"
	"github.com/nestwatch/nestwatch-go/cmd/sync"
	"github.com/nestwatch/nestwatch-go/internal/conf"
	"github.com/nestwatch/nestwatch-go/internal/logging"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nestwatch",
		Short: "NestWatch nest box video pipeline",
	}

	// Set up the global flags for the root command.
	setupFlags(rootCmd, settings)

	subcommands := []*cobra.Command{
		serve.Command(settings),
		process.Command(settings),
		sync.Command(settings),
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if settings.Debug {
			logging.SetLevel(slog.LevelDebug)
		}
		return settings.Validate()
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.WebServer.Port, "port", viper.GetString("webserver.port"), "Port for the HTTP API")
	rootCmd.PersistentFlags().IntVar(&settings.Processing.Workers, "workers", viper.GetInt("processing.workers"), "Concurrent file processing workers")
	rootCmd.PersistentFlags().StringVar(&settings.NVR.DownloadDir, "clipdir", viper.GetString("nvr.downloaddir"), "Directory watched for new video clips")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}
