package youtube

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	ytapi "google.golang.org/api/youtube/v3"

	"github.com/user/ytstats-ingest/internal/model"
)

const (
	pageSize        = 50
	commentPageSize = 100
)

// Client exposes the typed operations the pipeline needs against the
// YouTube Data API. Each concurrent fetch task builds its own Client.
type Client struct {
	gw         *Gateway
	pager      *rate.Limiter
	windowMode string
	onProgress func()
}

// Option configures a Client.
type Option func(*Client)

// WithProgress registers a hook invoked after every fetched page, used to
// feed the stall watchdog.
func WithProgress(fn func()) Option {
	return func(c *Client) { c.onProgress = fn }
}

// WithPageRate bounds paginated requests to perSec pages per second.
func WithPageRate(perSec float64) Option {
	return func(c *Client) { c.pager = rate.NewLimiter(rate.Limit(perSec), 1) }
}

// WithWindowMode selects the windowed enumeration strategy
// (WindowModePlaylist or WindowModeSearch).
func WithWindowMode(mode string) Option {
	return func(c *Client) { c.windowMode = mode }
}

// NewClient creates a client bound to the key pool's current credential.
func NewClient(ctx context.Context, keys KeySource, opts ...Option) (*Client, error) {
	gw, err := NewGateway(ctx, keys)
	if err != nil {
		return nil, err
	}

	c := &Client{
		gw:         gw,
		pager:      rate.NewLimiter(rate.Limit(2), 1),
		windowMode: WindowModePlaylist,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) pageFetched() {
	if c.onProgress != nil {
		c.onProgress()
	}
}

// ChannelDetails fetches the channel's display name and statistics.
func (c *Client) ChannelDetails(ctx context.Context, channelID string) (*model.ChannelDetails, error) {
	var resp *ytapi.ChannelListResponse
	err := c.gw.execute(ctx, func(svc *ytapi.Service) error {
		var callErr error
		resp, callErr = svc.Channels.List([]string{"snippet", "statistics"}).
			Id(channelID).Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch channel %s: %w", channelID, err)
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("no channel found with id %s", channelID)
	}

	item := resp.Items[0]
	details := &model.ChannelDetails{
		ChannelID:   channelID,
		ChannelName: item.Snippet.Title,
	}
	if item.Statistics != nil {
		details.Subscribers = int64(item.Statistics.SubscriberCount)
		details.VideoCount = int64(item.Statistics.VideoCount)
	}
	return details, nil
}

// uploadsPlaylistID resolves the channel's canonical uploads playlist.
func (c *Client) uploadsPlaylistID(ctx context.Context, channelID string) (string, error) {
	var resp *ytapi.ChannelListResponse
	err := c.gw.execute(ctx, func(svc *ytapi.Service) error {
		var callErr error
		resp, callErr = svc.Channels.List([]string{"contentDetails"}).
			Id(channelID).Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("failed to resolve uploads playlist for %s: %w", channelID, err)
	}
	if len(resp.Items) == 0 || resp.Items[0].ContentDetails == nil ||
		resp.Items[0].ContentDetails.RelatedPlaylists == nil {
		return "", fmt.Errorf("no uploads playlist for channel %s", channelID)
	}
	return resp.Items[0].ContentDetails.RelatedPlaylists.Uploads, nil
}

// VideoDetails fetches metadata for a batch of up to 50 video ids.
// CommentsEnabled is derived from the statistics payload: a video whose
// comment count is absent or zero has nothing to fetch.
func (c *Client) VideoDetails(ctx context.Context, videoIDs []string) ([]*model.Video, error) {
	if len(videoIDs) == 0 {
		return nil, nil
	}

	var resp *ytapi.VideoListResponse
	err := c.gw.execute(ctx, func(svc *ytapi.Service) error {
		var callErr error
		resp, callErr = svc.Videos.List([]string{"snippet", "statistics"}).
			Id(videoIDs...).Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch video details: %w", err)
	}

	now := time.Now()
	videos := make([]*model.Video, 0, len(resp.Items))
	for _, item := range resp.Items {
		video := &model.Video{
			VideoID:     item.Id,
			CollectedAt: now,
		}
		if item.Snippet != nil {
			video.ChannelID = item.Snippet.ChannelId
			video.Title = item.Snippet.Title
			video.PublishedAt = parseTimestamp(item.Snippet.PublishedAt, now)
		}
		if item.Statistics != nil {
			video.ViewCount = int64(item.Statistics.ViewCount)
			video.LikeCount = int64(item.Statistics.LikeCount)
			video.CommentCount = int64(item.Statistics.CommentCount)
			video.CommentsEnabled = item.Statistics.CommentCount > 0
		}
		videos = append(videos, video)
	}
	return videos, nil
}

// VideoComments fetches every comment thread for a video, flattening
// top-level comments and their single level of replies. Disabled comments
// are a valid terminal state and yield an empty slice. A page error mid
// pagination terminates with the comments collected so far.
func (c *Client) VideoComments(ctx context.Context, videoID string) ([]*model.Comment, error) {
	var comments []*model.Comment
	now := time.Now()
	token := ""

	for {
		if err := c.pager.Wait(ctx); err != nil {
			return comments, err
		}

		var resp *ytapi.CommentThreadListResponse
		err := c.gw.execute(ctx, func(svc *ytapi.Service) error {
			call := svc.CommentThreads.List([]string{"snippet", "replies"}).
				VideoId(videoID).MaxResults(commentPageSize).Context(ctx)
			if token != "" {
				call = call.PageToken(token)
			}
			var callErr error
			resp, callErr = call.Do()
			return callErr
		})
		if err != nil {
			if IsCommentsDisabled(err) {
				log.Info().Str("videoId", videoID).Msg("Comments are disabled, skipping")
				return nil, nil
			}
			log.Warn().Err(err).Str("videoId", videoID).
				Int("collected", len(comments)).
				Msg("Comment pagination terminated early, keeping partial result")
			return comments, nil
		}
		c.pageFetched()

		for _, thread := range resp.Items {
			comments = append(comments, flattenThread(videoID, thread, now)...)
		}

		token = resp.NextPageToken
		if token == "" {
			replies := 0
			for _, comment := range comments {
				if comment.IsReply() {
					replies++
				}
			}
			log.Debug().Str("videoId", videoID).
				Int("comments", len(comments)).Int("replies", replies).
				Msg("Fetched all comment threads")
			return comments, nil
		}
	}
}

// flattenThread maps one comment thread to the stored shape: the top-level
// comment followed by its replies, each reply linked to the top-level id.
func flattenThread(videoID string, thread *ytapi.CommentThread, collectedAt time.Time) []*model.Comment {
	if thread.Snippet == nil || thread.Snippet.TopLevelComment == nil {
		return nil
	}

	top := thread.Snippet.TopLevelComment
	out := []*model.Comment{commentFromAPI(videoID, top, nil, collectedAt)}

	if thread.Replies != nil {
		for _, reply := range thread.Replies.Comments {
			parentID := top.Id
			out = append(out, commentFromAPI(videoID, reply, &parentID, collectedAt))
		}
	}
	return out
}

func commentFromAPI(videoID string, src *ytapi.Comment, parentID *string, collectedAt time.Time) *model.Comment {
	comment := &model.Comment{
		CommentID:       src.Id,
		VideoID:         videoID,
		ParentCommentID: parentID,
		CollectedAt:     collectedAt,
	}
	if src.Snippet != nil {
		comment.AuthorName = src.Snippet.AuthorDisplayName
		comment.Content = src.Snippet.TextDisplay
		comment.LikeCount = src.Snippet.LikeCount
		comment.PublishedAt = parseTimestamp(src.Snippet.PublishedAt, collectedAt)
		if src.Snippet.AuthorChannelId != nil {
			comment.AuthorID = src.Snippet.AuthorChannelId.Value
		}
	}
	return comment
}

// parseTimestamp parses an RFC 3339 publication time. A malformed payload
// yields the fallback so persisted rows never carry a zero date, which
// strict-mode MySQL rejects.
func parseTimestamp(value string, fallback time.Time) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		if value != "" {
			log.Warn().Str("publishedAt", value).Msg("Unparsable publication timestamp")
		}
		return fallback
	}
	return t
}
