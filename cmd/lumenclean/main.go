package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lumenclean/internal/config"
	"lumenclean/pkg/logger"
)

var version = "0.1.0-dev"

func main() {
	err := newRootCmd().Execute()
	// stderr sync fails on some terminals
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lumenclean",
		Short: "Context-aware cleaning of conversation transcripts",
		Long: `lumenclean cleans speech-to-text turns of a live conversation.

Turns are stored, cleaned in submission order with the conversation's recent
turns as context, and pushed to subscribers as soon as they finish.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "Config file (default ./lumenclean.yaml or $HOME/.lumenclean/lumenclean.yaml)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(),
		newReplayCmd(),
		newServiceCmd(),
		newTokenCmd(),
		newHashKeyCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lumenclean version %s\n", version)
		},
	}
}

// loadConfig reads --config and initialises the global logger from it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.JSON); err != nil {
		return nil, err
	}
	return cfg, nil
}
