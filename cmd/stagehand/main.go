package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/syntrixbase/stagehand/internal/config"
	"github.com/syntrixbase/stagehand/internal/logging"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configDir string

	rootCmd := &cobra.Command{
		Use:   "stagehand",
		Short: "Document pipeline work distribution",
		Long: `Stagehand keeps a central store of documents and hands them to
independently running stage workers over HTTP or a message queue.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configDir, "config-dir", "c", "config", "Directory holding config.yml and config.local.yml")

	load := func() (*config.Config, error) {
		cfg, err := config.LoadConfig(configDir)
		if err != nil {
			return nil, err
		}
		if err := logging.Initialize(cfg.Logging); err != nil {
			return nil, fmt.Errorf("failed to initialize logging: %w", err)
		}
		return cfg, nil
	}

	rootCmd.AddCommand(
		newServeCmd(load),
		newPipelineCmd(load),
		&cobra.Command{
			Use:   "version",
			Short: "Print version info",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "stagehand %s (%s, %s)\n", version, commit, buildDate)
			},
		},
	)
	return rootCmd
}

type loader func() (*config.Config, error)
