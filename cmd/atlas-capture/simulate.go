package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/amidstdebug/atlas-capture/internal/metrics"
	"github.com/amidstdebug/atlas-capture/internal/source"
)

func simulateCommand() *cobra.Command {
	var realtime bool
	var loop bool

	cmd := &cobra.Command{
		Use:   "simulate <file.wav>",
		Short: "Replay a WAV file through the pipeline as a simulated session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			logger := initLogger(cfg.Logging)

			file, err := source.NewFile(args[0], source.FileOptions{
				Paced: realtime,
				Loop:  loop,
			})
			if err != nil {
				return err
			}

			// The file dictates the rate; the rest of the pipeline follows.
			cfg.Audio.SampleRate = file.SampleRate()

			logger.Info("Simulation starting",
				slog.String("file", args[0]),
				slog.Int("sample_rate", file.SampleRate()),
				slog.Duration("length", file.Duration()),
				slog.Bool("realtime", realtime),
			)

			m := metrics.NewMetrics()
			sess, store, err := buildSession(cfg, logger, m, file)
			if err != nil {
				return err
			}
			defer store.Close()

			return runSession(cfg, logger, m, sess)
		},
	}

	cmd.Flags().BoolVar(&realtime, "realtime", true, "pace playback at the file's native rate")
	cmd.Flags().BoolVar(&loop, "loop", false, "restart the file when it ends")

	return cmd
}
