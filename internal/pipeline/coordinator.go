package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/user/ytstats-ingest/internal/config"
	"github.com/user/ytstats-ingest/internal/dedup"
	"github.com/user/ytstats-ingest/internal/model"
	"github.com/user/ytstats-ingest/internal/server"
	"github.com/user/ytstats-ingest/internal/store"
	"github.com/user/ytstats-ingest/internal/transcript"
)

// Source is the per-task API surface for video metadata and comments. Every
// fetch task builds its own Source so tasks never share connection state.
type Source interface {
	VideoDetails(ctx context.Context, videoIDs []string) ([]*model.Video, error)
	VideoComments(ctx context.Context, videoID string) ([]*model.Comment, error)
}

// Transcripts resolves video transcripts.
type Transcripts interface {
	Fetch(ctx context.Context, videoID string) (transcript.Result, error)
}

// AudioDownloader fetches the supplementary audio artifact for a video.
type AudioDownloader interface {
	Download(ctx context.Context, videoID string) (string, error)
}

// Coordinator drains the pending-video queue in fixed-size batches with a
// bounded worker pool. Each completed video is persisted immediately, so a
// failure partway through a batch never discards finished sibling work.
type Coordinator struct {
	cfg         config.FetcherConfig
	store       store.Store
	newSource   func(ctx context.Context) (Source, error)
	transcripts Transcripts
	audio       AudioDownloader
	onProgress  func()
}

// NewCoordinator assembles a coordinator. audio may be nil when artifact
// downloads are disabled; onProgress may be nil.
func NewCoordinator(
	cfg config.FetcherConfig,
	st store.Store,
	newSource func(ctx context.Context) (Source, error),
	transcripts Transcripts,
	audio AudioDownloader,
	onProgress func(),
) *Coordinator {
	return &Coordinator{
		cfg:         cfg,
		store:       st,
		newSource:   newSource,
		transcripts: transcripts,
		audio:       audio,
		onProgress:  onProgress,
	}
}

func (c *Coordinator) progress() {
	if c.onProgress != nil {
		c.onProgress()
	}
}

// ProcessPending fetches and persists every pending video, marking each one
// in the dedup index as it lands. Returns the number persisted; the error is
// non-nil only for cancellation, individual task failures are absorbed.
func (c *Coordinator) ProcessPending(ctx context.Context, idx *dedup.Index, videoIDs []string) (int, error) {
	if len(videoIDs) == 0 {
		return 0, nil
	}

	start := time.Now()
	total := len(videoIDs)
	saved, failed := 0, 0

	for offset := 0; offset < total; offset += c.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return saved, err
		}

		end := min(offset+c.cfg.BatchSize, total)
		batch := videoIDs[offset:end]

		for res := range c.runBatch(ctx, batch) {
			if res.Err != nil {
				failed++
				log.Warn().Err(res.Err).Str("videoId", res.VideoID).
					Msg("Video fetch failed, batch continues")
				continue
			}
			if err := c.store.UpsertVideoWithComments(ctx, res.Video, res.Comments); err != nil {
				failed++
				server.FetchFailures.WithLabelValues("persist").Inc()
				log.Error().Err(err).Str("videoId", res.VideoID).Msg("Failed to persist video")
				continue
			}
			idx.Add(res.VideoID)
			saved++
			server.VideosSaved.Inc()
			server.CommentsSaved.Add(float64(len(res.Comments)))
			c.progress()
		}

		c.logProgress(start, end, total, saved, failed)

		if end < total && c.cfg.BatchPause > 0 {
			select {
			case <-ctx.Done():
				return saved, ctx.Err()
			case <-time.After(c.cfg.BatchPause):
			}
		}
	}
	return saved, nil
}

// runBatch fans the batch out over the worker pool and returns a channel
// closed once every task has reported.
func (c *Coordinator) runBatch(ctx context.Context, batch []string) <-chan Result {
	jobs := make(chan string)
	results := make(chan Result, len(batch))

	workers := min(c.cfg.Concurrency, len(batch))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				results <- c.fetchOne(ctx, id)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, id := range batch {
			select {
			case jobs <- id:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// fetchOne resolves everything belonging to a single video: metadata,
// comments when enabled, transcript with one retry, and the optional audio
// artifact. Transcript and audio failures degrade the video rather than
// failing it. A panic is converted to a failed Result so one bad task can
// never take down the pool.
func (c *Coordinator) fetchOne(ctx context.Context, videoID string) (res Result) {
	res.VideoID = videoID
	defer func() {
		if r := recover(); r != nil {
			server.FetchFailures.WithLabelValues("panic").Inc()
			res = Result{VideoID: videoID, Err: fmt.Errorf("fetch task panicked: %v", r)}
		}
	}()

	src, err := c.newSource(ctx)
	if err != nil {
		server.FetchFailures.WithLabelValues("client").Inc()
		res.Err = fmt.Errorf("build task client: %w", err)
		return res
	}

	videos, err := src.VideoDetails(ctx, []string{videoID})
	if err != nil {
		server.FetchFailures.WithLabelValues("metadata").Inc()
		res.Err = fmt.Errorf("fetch metadata: %w", err)
		return res
	}
	if len(videos) == 0 {
		server.FetchFailures.WithLabelValues("metadata").Inc()
		res.Err = fmt.Errorf("video %s not returned by the API", videoID)
		return res
	}
	video := videos[0]

	if video.CommentsEnabled {
		comments, cerr := src.VideoComments(ctx, videoID)
		if cerr != nil {
			server.FetchFailures.WithLabelValues("comments").Inc()
			res.Err = fmt.Errorf("fetch comments: %w", cerr)
			return res
		}
		res.Comments = comments
	}

	tr, terr := c.transcripts.Fetch(ctx, videoID)
	if terr != nil {
		select {
		case <-ctx.Done():
			res.Err = ctx.Err()
			return res
		case <-time.After(c.cfg.RetryDelay):
		}
		tr, terr = c.transcripts.Fetch(ctx, videoID)
	}
	if terr != nil {
		server.FetchFailures.WithLabelValues("transcript").Inc()
		log.Warn().Err(terr).Str("videoId", videoID).
			Msg("Transcript fetch failed after retry, saving video without it")
	} else if tr.Available {
		video.Transcript = &tr.Text
		video.TranscriptLanguage = &tr.Language
	}

	if c.audio != nil {
		path, aerr := c.audio.Download(ctx, videoID)
		if aerr != nil {
			server.FetchFailures.WithLabelValues("audio").Inc()
			log.Warn().Err(aerr).Str("videoId", videoID).
				Msg("Audio download failed, saving video without it")
		} else {
			video.AudioPath = &path
		}
	}

	res.Video = video
	return res
}

func (c *Coordinator) logProgress(start time.Time, done, total, saved, failed int) {
	elapsed := time.Since(start)
	var eta time.Duration
	if done > 0 && done < total {
		eta = time.Duration(float64(elapsed) / float64(done) * float64(total-done))
	}
	log.Info().
		Int("done", done).
		Int("total", total).
		Int("saved", saved).
		Int("failed", failed).
		Dur("elapsed", elapsed.Round(time.Second)).
		Dur("eta", eta.Round(time.Second)).
		Msg("Batch complete")
}
