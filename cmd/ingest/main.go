package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/user/ytstats-ingest/internal/apikeys"
	"github.com/user/ytstats-ingest/internal/audio"
	"github.com/user/ytstats-ingest/internal/config"
	"github.com/user/ytstats-ingest/internal/pipeline"
	"github.com/user/ytstats-ingest/internal/server"
	"github.com/user/ytstats-ingest/internal/store"
	"github.com/user/ytstats-ingest/internal/transcript"
	"github.com/user/ytstats-ingest/internal/watchdog"
	"github.com/user/ytstats-ingest/internal/youtube"
)

const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout = 30 * time.Second
)

func main() {
	// Initialize structured JSON logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	log.Info().Msg("Configuration loaded successfully")

	// Root context cancelled by SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize MySQL store
	mysqlStore, err := store.NewMySQLStore(&cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	log.Info().Msg("Database connection established")

	// Initialize the shared API key pool
	rotator, err := apikeys.NewRotator(cfg.API.Keys, cfg.API.KeyIndexFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create API key rotator")
	}
	log.Info().Int("keys", rotator.Len()).Msg("API key pool initialized")

	// Initialize transcript fetcher
	transcripts, err := transcript.NewFetcher(&cfg.Transcript)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create transcript fetcher")
	}

	// Audio downloads are opt-in
	var audioDownloader pipeline.AudioDownloader
	if cfg.Audio.Enabled {
		audioDownloader = audio.NewDownloader(&cfg.Audio)
		log.Info().Str("outputDir", cfg.Audio.OutputDir).Msg("Audio downloads enabled")
	}

	// Optional publication-date window
	after, before, err := cfg.API.Window()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid publication window")
	}
	var window *youtube.Window
	if after != nil || before != nil {
		window = &youtube.Window{}
		if after != nil {
			window.After = *after
		}
		if before != nil {
			window.Before = *before
		}
	}

	// Start health/metrics HTTP server
	httpServer := server.NewServer(mysqlStore)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.Start(cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	// Supervised ingestion: a stalled run is aborted by the watchdog and
	// restarted after a backoff. Already-persisted videos are skipped on the
	// next attempt, so restarts converge.
	runErr := supervise(ctx, cfg, mysqlStore, rotator, transcripts, audioDownloader, window)
	if runErr != nil && ctx.Err() == nil {
		log.Error().Err(runErr).Msg("Ingestion terminated")
	}

	// Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shutdownCancel()
	log.Info().Msg("Starting graceful shutdown...")

	if err := httpServer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping HTTP server")
	} else {
		log.Info().Msg("HTTP server stopped")
	}

	if err := mysqlStore.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing database connection")
	} else {
		log.Info().Msg("Database connection closed")
	}

	log.Info().Msg("Graceful shutdown completed")
}

// supervise runs ingestion passes until one completes, restarting stalled or
// failed runs after the configured backoff. Returns nil on a complete pass
// or the last error when the root context ends first.
func supervise(
	ctx context.Context,
	cfg *config.Config,
	st store.Store,
	rotator *apikeys.Rotator,
	transcripts pipeline.Transcripts,
	audioDownloader pipeline.AudioDownloader,
	window *youtube.Window,
) error {
	for attempt := 1; ; attempt++ {
		wd := watchdog.New(cfg.Watchdog.Threshold, cfg.Watchdog.CheckInterval)
		runCtx, cancelRun := wd.Watch(ctx)

		newSource := func(c context.Context) (pipeline.Source, error) {
			return youtube.NewClient(c, rotator,
				youtube.WithPageRate(cfg.Fetcher.PageRate),
				youtube.WithProgress(wd.Touch))
		}
		newChannelSource := func(c context.Context) (pipeline.ChannelSource, error) {
			return youtube.NewClient(c, rotator,
				youtube.WithPageRate(cfg.Fetcher.PageRate),
				youtube.WithWindowMode(cfg.API.WindowMode),
				youtube.WithProgress(wd.Touch))
		}

		coord := pipeline.NewCoordinator(cfg.Fetcher, st, newSource, transcripts, audioDownloader, wd.Touch)
		runner := pipeline.NewRunner(cfg.API.ChannelIDs, window, st, coord, newChannelSource)

		log.Info().Int("attempt", attempt).Msg("Starting ingestion pass")
		err := runner.Run(runCtx)
		cancelRun()

		if err == nil {
			log.Info().Int("attempt", attempt).Msg("Ingestion pass completed")
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if errors.Is(err, watchdog.ErrStalled) {
			server.Stalls.Inc()
		}

		log.Warn().Err(err).Int("attempt", attempt).
			Dur("backoff", cfg.Watchdog.RestartBackoff).
			Msg("Ingestion pass aborted, restarting after backoff")
		select {
		case <-ctx.Done():
			return err
		case <-time.After(cfg.Watchdog.RestartBackoff):
		}
	}
}
