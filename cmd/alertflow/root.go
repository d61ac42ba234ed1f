package main

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/akmatori/alertflow/internal/config"
	"github.com/akmatori/alertflow/internal/handlers"
)

func newRootCmd() *cobra.Command {
	var (
		configFile string
		cfg        *config.Config
	)

	rootCmd := &cobra.Command{
		Use:           "alertflow",
		Short:         "Alert lifecycle, grouping and escalation engine",
		Version:       handlers.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if it exists
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				log.WithError(err).Warn("Failed to load .env file")
			}

			loaded, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if err := config.SetupLogging(loaded.LogLevel, loaded.LogFormat); err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML/JSON/TOML config file")

	getConfig := func() *config.Config { return cfg }
	rootCmd.AddCommand(
		newServeCmd(getConfig),
		newMigrateCmd(getConfig),
		newSeedCmd(getConfig),
		newOnCallCmd(getConfig),
		newSLAReportCmd(getConfig),
		newEscalateOnceCmd(getConfig),
	)
	return rootCmd
}
