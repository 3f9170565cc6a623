package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/profile-letterbox/internal/config"
	"github.com/MimeLyc/profile-letterbox/pkg/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "letterbox",
		Short:         "Letterbox a profile's recent media to 9:16 and package it as a zip",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional .env file with configuration")

	serve := newServeCmd()
	root.AddCommand(serve, newSweepCmd())
	// Running without a subcommand serves.
	root.RunE = serve.RunE
	return root
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.NewFromEnv()
	if err != nil {
		return nil, err
	}
	log.Configure(log.Config{
		Level:  cfg.System.LogLevel,
		Format: cfg.System.LogFormat,
	})
	return cfg, nil
}
