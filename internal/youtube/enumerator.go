package youtube

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	ytapi "google.golang.org/api/youtube/v3"
)

// Window is an optional publication-date filter for channel enumeration.
// A zero bound is open.
type Window struct {
	After  time.Time
	Before time.Time
}

// Window enumeration modes. The playlist walk filters the uploads playlist
// by publication date and is precise; the search walk relies on the API's
// server-side date filter, which is approximate.
const (
	WindowModePlaylist = "playlist"
	WindowModeSearch   = "search"
)

// errStopWindow signals that a descending, date-ordered page sequence has
// crossed the lower bound of the window: enumeration for the channel is
// complete, not failed.
var errStopWindow = errors.New("reached lower bound of publication window")

// page holds one page of enumeration results.
type page struct {
	ids  []string
	next string
}

// walkPages drives a continuation-token loop. A fetch error terminates
// enumeration early with whatever was already collected: every collected id
// is independently fetchable afterwards, so a truncated sequence is
// acceptable degradation rather than corruption.
func walkPages(fetch func(token string) (page, error)) []string {
	var ids []string
	token := ""
	for {
		p, err := fetch(token)
		ids = append(ids, p.ids...)
		if err != nil {
			if !errors.Is(err, errStopWindow) {
				log.Warn().Err(err).Int("collected", len(ids)).
					Msg("Enumeration terminated early, keeping partial result")
			}
			return ids
		}
		if p.next == "" {
			return ids
		}
		token = p.next
	}
}

// ListChannelVideos produces the ordered set of video ids belonging to the
// channel. Without a window it walks the whole uploads playlist; with one it
// either date-filters that same walk (the default, precise) or pages through
// a date-ordered search scoped to the channel, per the configured mode.
func (c *Client) ListChannelVideos(ctx context.Context, channelID string, window *Window) ([]string, error) {
	if window != nil && c.windowMode == WindowModeSearch {
		return c.searchVideos(ctx, channelID, window), nil
	}
	return c.listUploads(ctx, channelID, window)
}

// filterPlaylistItems applies the publication window to one page of playlist
// items. The playlist is reverse-chronological, so items newer than the
// upper bound are skipped and the first item older than the lower bound ends
// enumeration for the channel. A nil window keeps everything.
func filterPlaylistItems(items []*ytapi.PlaylistItem, window *Window) (ids []string, stop bool) {
	for _, item := range items {
		if item.ContentDetails == nil || item.ContentDetails.VideoId == "" {
			continue
		}
		if window != nil && item.Snippet != nil {
			published := parseTimestamp(item.Snippet.PublishedAt, time.Time{})
			if !published.IsZero() {
				if !window.Before.IsZero() && published.After(window.Before) {
					continue
				}
				if !window.After.IsZero() && published.Before(window.After) {
					return ids, true
				}
			}
		}
		ids = append(ids, item.ContentDetails.VideoId)
	}
	return ids, false
}

// listUploads pages through the channel's uploads playlist collecting video
// ids in the API's reverse-chronological order, date-filtered when a window
// is supplied.
func (c *Client) listUploads(ctx context.Context, channelID string, window *Window) ([]string, error) {
	playlistID, err := c.uploadsPlaylistID(ctx, channelID)
	if err != nil {
		return nil, err
	}

	ids := walkPages(func(token string) (page, error) {
		if werr := c.pager.Wait(ctx); werr != nil {
			return page{}, werr
		}

		var resp *ytapi.PlaylistItemListResponse
		err := c.gw.execute(ctx, func(svc *ytapi.Service) error {
			call := svc.PlaylistItems.List([]string{"snippet", "contentDetails"}).
				PlaylistId(playlistID).MaxResults(pageSize).Context(ctx)
			if token != "" {
				call = call.PageToken(token)
			}
			var callErr error
			resp, callErr = call.Do()
			return callErr
		})
		if err != nil {
			return page{}, err
		}
		c.pageFetched()

		pageIDs, stop := filterPlaylistItems(resp.Items, window)
		p := page{ids: pageIDs, next: resp.NextPageToken}
		if stop {
			log.Info().Str("channelId", channelID).
				Msg("Reached lower bound of publication window, stopping channel")
			return p, errStopWindow
		}
		return p, nil
	})

	log.Info().Str("channelId", channelID).Int("videos", len(ids)).
		Msg("Enumerated uploads playlist")
	return ids, nil
}

// searchVideos pages through a date-ordered search scoped to the channel
// and window, keeping only items of video kind. The API does not guarantee
// a sharp server-side bound, so an item older than the lower bound stops
// enumeration for the channel.
func (c *Client) searchVideos(ctx context.Context, channelID string, window *Window) []string {
	ids := walkPages(func(token string) (page, error) {
		if werr := c.pager.Wait(ctx); werr != nil {
			return page{}, werr
		}

		var resp *ytapi.SearchListResponse
		err := c.gw.execute(ctx, func(svc *ytapi.Service) error {
			call := svc.Search.List([]string{"snippet"}).
				ChannelId(channelID).MaxResults(pageSize).
				Order("date").Type("video").Context(ctx)
			if !window.After.IsZero() {
				call = call.PublishedAfter(window.After.Format(time.RFC3339))
			}
			if !window.Before.IsZero() {
				call = call.PublishedBefore(window.Before.Format(time.RFC3339))
			}
			if token != "" {
				call = call.PageToken(token)
			}
			var callErr error
			resp, callErr = call.Do()
			return callErr
		})
		if err != nil {
			return page{}, err
		}
		c.pageFetched()

		p := page{next: resp.NextPageToken}
		for _, item := range resp.Items {
			if item.Id == nil || item.Id.Kind != "youtube#video" {
				continue
			}
			if item.Snippet != nil && !window.After.IsZero() {
				published := parseTimestamp(item.Snippet.PublishedAt, time.Time{})
				if !published.IsZero() && published.Before(window.After) {
					return p, errStopWindow
				}
			}
			if item.Snippet != nil && !window.Before.IsZero() {
				published := parseTimestamp(item.Snippet.PublishedAt, time.Time{})
				if !published.IsZero() && published.After(window.Before) {
					continue
				}
			}
			p.ids = append(p.ids, item.Id.VideoId)
		}
		return p, nil
	})

	log.Info().Str("channelId", channelID).Int("videos", len(ids)).
		Time("after", window.After).Time("before", window.Before).
		Msg("Enumerated channel search window")
	return ids
}
