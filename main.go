package main

import (
	"os"

	"github.com/nestwatch/nestwatch-go/cmd"
	"github.com/nestwatch/nestwatch-go/internal/conf"
	"github.com/nestwatch/nestwatch-go/internal/logging"
)

func main() {
	logging.Init()

	settings := conf.Setting()
	if settings == nil {
		logging.Fatal("unable to load settings")
	}

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
