package store

import (
	"context"

	"github.com/user/ytstats-ingest/internal/model"
)

// Store defines the interface for data persistence operations
type Store interface {
	// LoadVideoIDs returns every persisted video id, used to seed the
	// in-memory dedup index at run start.
	LoadVideoIDs(ctx context.Context) ([]string, error)

	// SaveChannelSnapshot upserts the per-run channel summary row.
	SaveChannelSnapshot(ctx context.Context, snap *model.ChannelSnapshot) error

	// UpsertVideoWithComments writes a video and all of its comments in one
	// transaction. Transcript, transcript language, and audio path follow
	// the coalesce rule: an incoming nil never clobbers a stored value.
	UpsertVideoWithComments(ctx context.Context, video *model.Video, comments []*model.Comment) error

	// CountVideos returns the total count of persisted videos.
	CountVideos(ctx context.Context) (int64, error)

	// Ping checks database connectivity.
	Ping(ctx context.Context) error
	Close() error
}
