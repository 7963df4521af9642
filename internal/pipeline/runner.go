package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/user/ytstats-ingest/internal/dedup"
	"github.com/user/ytstats-ingest/internal/model"
	"github.com/user/ytstats-ingest/internal/server"
	"github.com/user/ytstats-ingest/internal/store"
	"github.com/user/ytstats-ingest/internal/youtube"
)

// ChannelSource is the per-channel API surface: details for the snapshot row
// plus enumeration of the channel's video ids.
type ChannelSource interface {
	ChannelDetails(ctx context.Context, channelID string) (*model.ChannelDetails, error)
	ListChannelVideos(ctx context.Context, channelID string, window *youtube.Window) ([]string, error)
}

// Runner executes one complete ingestion pass: for every configured channel
// it snapshots the channel, enumerates its videos, filters out the ones
// already stored, and hands the rest to the coordinator. A failing channel
// is skipped; its siblings still run.
type Runner struct {
	channels         []string
	window           *youtube.Window
	store            store.Store
	coord            *Coordinator
	newChannelSource func(ctx context.Context) (ChannelSource, error)
}

func NewRunner(
	channels []string,
	window *youtube.Window,
	st store.Store,
	coord *Coordinator,
	newChannelSource func(ctx context.Context) (ChannelSource, error),
) *Runner {
	return &Runner{
		channels:         channels,
		window:           window,
		store:            st,
		coord:            coord,
		newChannelSource: newChannelSource,
	}
}

// Run processes every configured channel once. Returns nil on a complete
// pass; on cancellation it returns the cancellation cause, which is
// watchdog.ErrStalled for a stall abort.
func (r *Runner) Run(ctx context.Context) error {
	start := time.Now()

	known, err := r.store.LoadVideoIDs(ctx)
	if err != nil {
		return fmt.Errorf("load known video ids: %w", err)
	}
	idx := dedup.NewIndex(known)

	log.Info().Int("channels", len(r.channels)).Int("knownVideos", idx.Len()).
		Msg("Starting ingestion run")

	for _, channelID := range r.channels {
		if ctx.Err() != nil {
			return cancellation(ctx)
		}
		if err := r.processChannel(ctx, idx, channelID); err != nil {
			if ctx.Err() != nil {
				return cancellation(ctx)
			}
			log.Warn().Err(err).Str("channelId", channelID).
				Msg("Channel failed, continuing with next")
		}
	}

	server.RunDuration.Observe(time.Since(start).Seconds())
	log.Info().Dur("took", time.Since(start).Round(time.Second)).
		Int("totalVideos", idx.Len()).Msg("Ingestion run complete")
	return nil
}

func (r *Runner) processChannel(ctx context.Context, idx *dedup.Index, channelID string) error {
	src, err := r.newChannelSource(ctx)
	if err != nil {
		return fmt.Errorf("build channel client: %w", err)
	}

	details, err := src.ChannelDetails(ctx, channelID)
	if err != nil {
		return fmt.Errorf("fetch channel details: %w", err)
	}

	snap := &model.ChannelSnapshot{
		ChannelID:   details.ChannelID,
		ChannelName: details.ChannelName,
		Subscribers: details.Subscribers,
		VideoCount:  details.VideoCount,
		CollectedOn: dateOf(time.Now()),
	}
	if err := r.store.SaveChannelSnapshot(ctx, snap); err != nil {
		// The snapshot is a summary row; losing one never blocks ingestion.
		log.Warn().Err(err).Str("channelId", channelID).Msg("Failed to save channel snapshot")
	}

	ids, err := src.ListChannelVideos(ctx, channelID, r.window)
	if err != nil {
		return fmt.Errorf("enumerate channel videos: %w", err)
	}

	pending := idx.FilterPending(ids)
	log.Info().Str("channel", details.ChannelName).
		Int("enumerated", len(ids)).Int("pending", len(pending)).
		Msg("Channel enumerated")

	saved, err := r.coord.ProcessPending(ctx, idx, pending)
	if err != nil {
		return fmt.Errorf("process pending videos (saved %d): %w", saved, err)
	}

	log.Info().Str("channel", details.ChannelName).Int("saved", saved).
		Msg("Channel complete")
	return nil
}

// cancellation reports why the run context ended, preferring an explicit
// cause such as a stall abort over the generic context error.
func cancellation(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return ctx.Err()
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
