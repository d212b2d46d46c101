package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"lumenclean/internal/replay"
	"lumenclean/internal/service"
	"lumenclean/internal/transcription/adapters"
)

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <transcript.yaml>",
		Short: "Clean a recorded transcript and print the result as YAML",
		Long: `Replay feeds every turn of a YAML transcript through the cleaning pipeline
on a throwaway in-memory store and prints the cleaned turns.

Example transcript:
  conversation_id: demo
  settings:
    window_size: 2
  turns:
    - speaker: User
      text: um hi
    - speaker: Lumen
      text: Hello!`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if b, _ := cmd.Flags().GetString("backend"); b != "" {
				cfg.Cleaning.Backend = b
			}
			workers, _ := cmd.Flags().GetInt("workers")
			if workers < 1 {
				workers = cfg.Queue.Workers
			}

			tr, err := replay.LoadFile(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			backend, err := adapters.New(ctx, cfg)
			if err != nil {
				return err
			}
			opts, err := service.OptionsFromConfig(cfg)
			if err != nil {
				return err
			}

			res, err := replay.Run(ctx, tr, backend, opts, workers)
			if err != nil {
				return err
			}

			var out io.Writer = cmd.OutOrStdout()
			if path, _ := cmd.Flags().GetString("output"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				out = f
			}
			return replay.WriteYAML(out, res)
		},
	}
	cmd.Flags().StringP("output", "o", "", "Write the result to a file instead of stdout")
	cmd.Flags().String("backend", "", "Override cleaning.backend (openai, gemini, local)")
	cmd.Flags().Int("workers", 0, "Worker count (default queue.workers)")
	return cmd
}
