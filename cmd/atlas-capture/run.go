package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/amidstdebug/atlas-capture/internal/metrics"
	"github.com/amidstdebug/atlas-capture/internal/source"
)

func runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Record from the microphone and stream to the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			logger := initLogger(cfg.Logging)
			logger.Info("Agent starting",
				slog.String("service", serviceName),
				slog.String("version", serviceVersion),
				slog.String("environment", cfg.Environment),
				slog.String("mode", cfg.API.Mode),
				slog.String("api_url", cfg.APIBaseURL()),
			)

			mic, err := source.NewMic(cfg.Audio.SampleRate, cfg.Audio.FrameSize)
			if err != nil {
				return err
			}

			m := metrics.NewMetrics()
			sess, store, err := buildSession(cfg, logger, m, mic)
			if err != nil {
				return err
			}
			defer store.Close()

			return runSession(cfg, logger, m, sess)
		},
	}
}
