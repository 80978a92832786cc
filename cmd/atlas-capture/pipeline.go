package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amidstdebug/atlas-capture/internal/audio"
	"github.com/amidstdebug/atlas-capture/internal/config"
	"github.com/amidstdebug/atlas-capture/internal/dispatch"
	"github.com/amidstdebug/atlas-capture/internal/metrics"
	"github.com/amidstdebug/atlas-capture/internal/queue"
	"github.com/amidstdebug/atlas-capture/internal/server"
	"github.com/amidstdebug/atlas-capture/internal/session"
	"github.com/amidstdebug/atlas-capture/internal/source"
	"github.com/amidstdebug/atlas-capture/internal/vad"
)

// buildSession wires the capture pipeline from configuration around the
// given source and returns the session plus the overflow store, which the
// caller must close after the session stops.
func buildSession(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, src source.Source) (*session.Session, *queue.Store, error) {
	detector, err := vad.NewDetector(vad.Config{
		ActivationThreshold: cfg.Activation.Threshold,
		SilenceThreshold:    cfg.Activation.SilenceThreshold,
		Smoothing:           cfg.Activation.Smoothing,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create detector: %w", err)
	}

	prebuf := audio.NewPreBuffer(cfg.Audio.SampleRate, cfg.Audio.PreBufferMs)
	segmenter := audio.NewSegmenter(audio.SegmenterConfig{
		SampleRate:       cfg.Audio.SampleRate,
		ActivationFrames: cfg.Activation.ActivationFrames,
		SilenceFrames:    cfg.Activation.SilenceFrames,
		MaxChunkDuration: cfg.Activation.GetMaxChunkDuration(),
		MaxReactivations: cfg.Activation.MaxReactivations,
		Overlap:          cfg.Audio.GetOverlap(),
	}, prebuf)

	client, err := dispatch.NewClient(dispatch.ClientConfig{
		BaseURL: cfg.APIBaseURL(),
		Token:   cfg.API.Token,
		Timeout: cfg.API.GetTimeout(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create transcription client: %w", err)
	}

	store, err := queue.Open(cfg.Queue.Path, cfg.Queue.MaxChunks)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open overflow queue: %w", err)
	}

	sess, err := session.New(session.Config{
		Mode:       cfg.API.Mode,
		SampleRate: cfg.Audio.SampleRate,
		FrameSize:  cfg.Audio.FrameSize,
		LockPath:   cfg.LockFile,
	}, session.Deps{
		Source:    src,
		Detector:  detector,
		PreBuffer: prebuf,
		Segmenter: segmenter,
		Client:    client,
		Queue:     store,
		Live: dispatch.LiveConfig{
			WSBaseURL: cfg.WSBaseURL(),
			Token:     cfg.API.Token,
			Timeout:   cfg.API.GetTimeout(),
		},
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	// Reachability probe before touching the capture device.
	probeCtx, cancel := context.WithTimeout(context.Background(), cfg.API.GetTimeout())
	defer cancel()
	if err := client.Health(probeCtx); err != nil {
		logger.Warn("Backend health check failed, continuing anyway",
			slog.String("error", err.Error()),
		)
	}

	return sess, store, nil
}

// runSession starts the session and blocks until a signal arrives or the
// session stops on its own (source exhausted, fatal error).
func runSession(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, sess *session.Session) error {
	var statusServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		statusServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, sess, m)
		statusServer.Start()
	}

	if err := sess.Start(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

waitLoop:
	for {
		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			break waitLoop
		case <-ticker.C:
			if !sess.IsRecording() {
				logger.Info("Session ended")
				break waitLoop
			}
		}
	}

	if err := sess.Stop(); err != nil && err != session.ErrNotRecording {
		logger.Error("Error stopping session", slog.String("error", err.Error()))
	}

	if statusServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := statusServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping status server", slog.String("error", err.Error()))
		}
	}

	for i, seg := range sess.Transcript().Segments() {
		logger.Info("Transcript segment",
			slog.Int("index", i),
			slog.Float64("start", seg.Start),
			slog.Float64("end", seg.End),
			slog.String("text", seg.Text),
		)
	}

	return nil
}
