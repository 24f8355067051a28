package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/logger"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "archive",
	Short: "Archive and serve shared AI conversation transcripts",
	Long: `Stores submitted conversation transcripts, indexes them for listing,
and serves them back by id. Configuration comes from a YAML file with CA_*
environment overrides.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
		logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (defaults apply when empty)")
}
