package transcript

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/user/ytstats-ingest/internal/config"
)

const defaultBaseURL = "https://video.google.com/timedtext"

// Snippet is the single normalized shape for one transcript line. Both wire
// formats the caption endpoint serves are adapted into it at the boundary.
type Snippet struct {
	Start float64
	Text  string
}

// Result is the terminal outcome of a transcript fetch. Available=false with
// a nil error means the video verifiably has no transcript.
type Result struct {
	Available bool
	Text      string
	Language  string
}

// Fetcher retrieves video transcripts from the caption endpoint, preferring
// languages in the configured priority order and falling back to a proxied
// network path when the direct one looks blocked.
type Fetcher struct {
	client    *http.Client
	proxied   *http.Client
	languages []string
	baseURL   string
}

// NewFetcher builds a fetcher from configuration. ProxyURL is optional; when
// absent, blocked responses are treated like any other transient failure.
func NewFetcher(cfg *config.TranscriptConfig) (*Fetcher, error) {
	f := &Fetcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		languages: cfg.Languages,
		baseURL:   defaultBaseURL,
	}

	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid transcript proxy URL: %w", err)
		}
		f.proxied = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	}
	return f, nil
}

// Fetch resolves the transcript for a video. "No transcript" is a valid
// terminal state reported as (Available=false, nil). A non-nil error means
// a transient failure the caller may retry.
func (f *Fetcher) Fetch(ctx context.Context, videoID string) (Result, error) {
	tracks, err := f.listTracks(ctx, videoID)
	if err == nil && len(tracks) == 0 {
		log.Debug().Str("videoId", videoID).Msg("No transcript available")
		return Result{}, nil
	}
	if err != nil {
		// The probe is uncertain (IP block, network hiccup): treat the
		// transcript as maybe-available and fetch blind in priority order.
		log.Debug().Err(err).Str("videoId", videoID).
			Msg("Transcript probe inconclusive, fetching blind")
		tracks = f.blindTracks()
	}

	candidates := f.orderByPreference(tracks)
	if len(candidates) == 0 {
		// Tracks exist but none in an accepted language.
		return Result{}, nil
	}

	var lastErr error
	for _, tr := range candidates {
		snippets, ferr := f.fetchTrack(ctx, f.client, videoID, tr)
		if ferr != nil && isBlocked(ferr) && f.proxied != nil {
			log.Info().Str("videoId", videoID).Msg("Direct transcript path blocked, retrying via proxy")
			snippets, ferr = f.fetchTrack(ctx, f.proxied, videoID, tr)
		}
		if ferr != nil {
			lastErr = ferr
			continue
		}
		if len(snippets) == 0 {
			continue
		}
		return Result{Available: true, Text: Format(snippets), Language: tr.LangCode}, nil
	}

	if lastErr != nil {
		return Result{}, fmt.Errorf("transcript fetch for %s: %w", videoID, lastErr)
	}
	return Result{}, nil
}

type track struct {
	LangCode string `xml:"lang_code,attr"`
	Name     string `xml:"name,attr"`
}

type trackList struct {
	XMLName xml.Name `xml:"transcript_list"`
	Tracks  []track  `xml:"track"`
}

// listTracks is the lightweight existence probe: it lists available caption
// tracks without downloading any of them.
func (f *Fetcher) listTracks(ctx context.Context, videoID string) ([]track, error) {
	body, err := f.getWith(ctx, f.client, map[string]string{"type": "list", "v": videoID})
	if err != nil {
		return nil, err
	}

	var list trackList
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, nil
	}
	if err := xml.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decode track list: %w", err)
	}
	return list.Tracks, nil
}

// blindTracks synthesizes candidate tracks from the configured language
// priority when the probe could not enumerate real ones.
func (f *Fetcher) blindTracks() []track {
	tracks := make([]track, 0, len(f.languages))
	for _, lang := range f.languages {
		tracks = append(tracks, track{LangCode: lang})
	}
	return tracks
}

// orderByPreference keeps tracks whose language matches the priority list,
// best match first. A regional variant matches its base language (pt-BR
// satisfies pt) in either direction.
func (f *Fetcher) orderByPreference(tracks []track) []track {
	var ordered []track
	seen := make(map[string]bool)
	for _, lang := range f.languages {
		for _, tr := range tracks {
			if seen[tr.LangCode+"\x00"+tr.Name] {
				continue
			}
			if langMatches(tr.LangCode, lang) {
				ordered = append(ordered, tr)
				seen[tr.LangCode+"\x00"+tr.Name] = true
			}
		}
	}
	return ordered
}

func langMatches(code, want string) bool {
	if strings.EqualFold(code, want) {
		return true
	}
	base := func(s string) string {
		if i := strings.IndexByte(s, '-'); i > 0 {
			return s[:i]
		}
		return s
	}
	return strings.EqualFold(base(code), base(want))
}

func (f *Fetcher) fetchTrack(ctx context.Context, client *http.Client, videoID string, tr track) ([]Snippet, error) {
	params := map[string]string{"v": videoID, "lang": tr.LangCode}
	if tr.Name != "" {
		params["name"] = tr.Name
	}
	body, err := f.getWith(ctx, client, params)
	if err != nil {
		return nil, err
	}
	return parseSnippets(body)
}

func (f *Fetcher) getWith(ctx context.Context, client *http.Client, params map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{status: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("HTTP status %d", e.status)
}

// isBlocked reports whether the failure looks like an IP-level block worth
// routing through the proxy.
func isBlocked(err error) bool {
	var herr *httpStatusError
	if !errors.As(err, &herr) {
		return false
	}
	return herr.status == http.StatusForbidden || herr.status == http.StatusTooManyRequests
}

// --- wire-format adapters ---

type xmlTranscript struct {
	XMLName xml.Name  `xml:"transcript"`
	Texts   []xmlText `xml:"text"`
}

type xmlText struct {
	Start float64 `xml:"start,attr"`
	Text  string  `xml:",chardata"`
}

type json3Transcript struct {
	Events []struct {
		StartMs int64 `json:"tStartMs"`
		Segs    []struct {
			UTF8 string `json:"utf8"`
		} `json:"segs"`
	} `json:"events"`
}

// parseSnippets adapts either wire shape the caption endpoint serves (XML
// timedtext or json3 events) into the normalized snippet list.
func parseSnippets(body []byte) ([]Snippet, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "{") {
		var doc json3Transcript
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("decode json3 transcript: %w", err)
		}
		var snippets []Snippet
		for _, ev := range doc.Events {
			var sb strings.Builder
			for _, seg := range ev.Segs {
				sb.WriteString(seg.UTF8)
			}
			text := cleanText(sb.String())
			if text == "" {
				continue
			}
			snippets = append(snippets, Snippet{Start: float64(ev.StartMs) / 1000, Text: text})
		}
		return snippets, nil
	}

	var doc xmlTranscript
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode xml transcript: %w", err)
	}
	var snippets []Snippet
	for _, item := range doc.Texts {
		text := cleanText(item.Text)
		if text == "" {
			continue
		}
		snippets = append(snippets, Snippet{Start: item.Start, Text: text})
	}
	return snippets, nil
}

// cleanText collapses newlines and undoes the endpoint's double escaping.
func cleanText(s string) string {
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}
