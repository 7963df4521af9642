package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/user/ytstats-ingest/internal/config"
)

// Downloader shells out to yt-dlp for the lowest-quality audio stream of a
// video. Audio is supplementary: failures are reported but never fail the
// video they belong to.
type Downloader struct {
	binPath   string
	outputDir string
}

func NewDownloader(cfg *config.AudioConfig) *Downloader {
	return &Downloader{binPath: cfg.BinPath, outputDir: cfg.OutputDir}
}

// Download fetches the audio track for the video and returns the artifact
// path on disk. An existing artifact is reused without re-downloading.
func (d *Downloader) Download(ctx context.Context, videoID string) (string, error) {
	if err := os.MkdirAll(d.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create audio output dir: %w", err)
	}

	if existing := d.findArtifact(videoID); existing != "" {
		log.Debug().Str("videoId", videoID).Str("path", existing).
			Msg("Audio artifact already present")
		return existing, nil
	}

	template := filepath.Join(d.outputDir, "%(id)s.%(ext)s")
	cmd := exec.CommandContext(ctx, d.binPath,
		"-f", "worstaudio",
		"-o", template,
		"--no-progress",
		"--no-playlist",
		"https://www.youtube.com/watch?v="+videoID,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("yt-dlp failed for %s: %w: %s",
			videoID, err, strings.TrimSpace(stderr.String()))
	}

	path := d.findArtifact(videoID)
	if path == "" {
		return "", fmt.Errorf("yt-dlp produced no artifact for %s", videoID)
	}
	log.Info().Str("videoId", videoID).Str("path", path).Msg("Downloaded audio artifact")
	return path, nil
}

// findArtifact locates a previously downloaded file for the video. The
// extension depends on what the stream offered, so match on the id stem.
func (d *Downloader) findArtifact(videoID string) string {
	matches, err := filepath.Glob(filepath.Join(d.outputDir, videoID+".*"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	return matches[0]
}
