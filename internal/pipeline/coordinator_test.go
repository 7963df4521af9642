package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/user/ytstats-ingest/internal/config"
	"github.com/user/ytstats-ingest/internal/dedup"
	"github.com/user/ytstats-ingest/internal/model"
	"github.com/user/ytstats-ingest/internal/transcript"
)

type mockStore struct {
	mu        sync.Mutex
	knownIDs  []string
	loadErr   error
	videos    map[string]*model.Video
	comments  map[string][]*model.Comment
	snapshots []*model.ChannelSnapshot
}

func newMockStore(knownIDs ...string) *mockStore {
	return &mockStore{
		knownIDs: knownIDs,
		videos:   make(map[string]*model.Video),
		comments: make(map[string][]*model.Comment),
	}
}

func (m *mockStore) LoadVideoIDs(context.Context) ([]string, error) {
	return m.knownIDs, m.loadErr
}

func (m *mockStore) SaveChannelSnapshot(_ context.Context, snap *model.ChannelSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, snap)
	return nil
}

func (m *mockStore) UpsertVideoWithComments(_ context.Context, video *model.Video, comments []*model.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videos[video.VideoID] = video
	m.comments[video.VideoID] = comments
	return nil
}

func (m *mockStore) CountVideos(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.videos)), nil
}

func (m *mockStore) Ping(context.Context) error { return nil }
func (m *mockStore) Close() error               { return nil }

type mockSource struct {
	mu              sync.Mutex
	failIDs         map[string]bool
	panicIDs        map[string]bool
	commentsEnabled bool
	commentCalls    map[string]int
}

func newMockSource(commentsEnabled bool) *mockSource {
	return &mockSource{
		failIDs:         make(map[string]bool),
		panicIDs:        make(map[string]bool),
		commentsEnabled: commentsEnabled,
		commentCalls:    make(map[string]int),
	}
}

func (m *mockSource) VideoDetails(_ context.Context, ids []string) ([]*model.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	videos := make([]*model.Video, 0, len(ids))
	for _, id := range ids {
		if m.panicIDs[id] {
			panic("corrupt payload for " + id)
		}
		if m.failIDs[id] {
			return nil, fmt.Errorf("metadata fetch failed for %s", id)
		}
		videos = append(videos, &model.Video{
			VideoID:         id,
			Title:           "title " + id,
			CommentsEnabled: m.commentsEnabled,
			CollectedAt:     time.Now(),
		})
	}
	return videos, nil
}

func (m *mockSource) VideoComments(_ context.Context, videoID string) ([]*model.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commentCalls[videoID]++
	return []*model.Comment{
		{CommentID: videoID + "-c1", VideoID: videoID},
		{CommentID: videoID + "-c2", VideoID: videoID},
	}, nil
}

type mockTranscripts struct {
	mu         sync.Mutex
	calls      map[string]int
	failFirst  bool
	failAlways bool
}

func newMockTranscripts() *mockTranscripts {
	return &mockTranscripts{calls: make(map[string]int)}
}

func (m *mockTranscripts) Fetch(_ context.Context, videoID string) (transcript.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[videoID]++
	if m.failAlways || (m.failFirst && m.calls[videoID] == 1) {
		return transcript.Result{}, errors.New("transcript endpoint unreachable")
	}
	return transcript.Result{Available: true, Text: "[00:00] oi", Language: "pt"}, nil
}

func testCoordinator(st *mockStore, src Source, tr Transcripts) *Coordinator {
	cfg := config.FetcherConfig{
		Concurrency: 3,
		BatchSize:   4,
		BatchPause:  0,
		RetryDelay:  time.Millisecond,
	}
	return NewCoordinator(cfg, st, func(context.Context) (Source, error) {
		return src, nil
	}, tr, nil, nil)
}

func makeIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("v%d", i+1)
	}
	return ids
}

func TestProcessPending_FailedTaskDoesNotAffectSiblings(t *testing.T) {
	st := newMockStore()
	src := newMockSource(false)
	src.failIDs["v4"] = true
	c := testCoordinator(st, src, newMockTranscripts())

	idx := dedup.NewIndex(nil)
	saved, err := c.ProcessPending(context.Background(), idx, makeIDs(10))
	if err != nil {
		t.Fatalf("ProcessPending() error = %v", err)
	}
	if saved != 9 {
		t.Errorf("saved = %d, want 9", saved)
	}
	if _, ok := st.videos["v4"]; ok {
		t.Error("v4 persisted despite fetch failure")
	}
	if idx.Contains("v4") {
		t.Error("v4 indexed despite fetch failure")
	}
	for _, id := range []string{"v1", "v2", "v3", "v5", "v6", "v7", "v8", "v9", "v10"} {
		if _, ok := st.videos[id]; !ok {
			t.Errorf("%s missing from store", id)
		}
		if !idx.Contains(id) {
			t.Errorf("%s missing from dedup index", id)
		}
	}
}

func TestProcessPending_PanicConvertedToFailedResult(t *testing.T) {
	st := newMockStore()
	src := newMockSource(false)
	src.panicIDs["v2"] = true
	c := testCoordinator(st, src, newMockTranscripts())

	saved, err := c.ProcessPending(context.Background(), dedup.NewIndex(nil), makeIDs(3))
	if err != nil {
		t.Fatalf("ProcessPending() error = %v", err)
	}
	if saved != 2 {
		t.Errorf("saved = %d, want 2", saved)
	}
	if _, ok := st.videos["v2"]; ok {
		t.Error("v2 persisted despite panic")
	}
}

func TestProcessPending_TranscriptRetriesOnceThenSucceeds(t *testing.T) {
	st := newMockStore()
	tr := newMockTranscripts()
	tr.failFirst = true
	c := testCoordinator(st, newMockSource(false), tr)

	saved, err := c.ProcessPending(context.Background(), dedup.NewIndex(nil), []string{"v1"})
	if err != nil || saved != 1 {
		t.Fatalf("ProcessPending() = (%d, %v), want (1, nil)", saved, err)
	}
	if tr.calls["v1"] != 2 {
		t.Errorf("transcript calls = %d, want 2", tr.calls["v1"])
	}
	video := st.videos["v1"]
	if video.Transcript == nil || *video.Transcript != "[00:00] oi" {
		t.Errorf("Transcript = %v, want retry result stored", video.Transcript)
	}
	if video.TranscriptLanguage == nil || *video.TranscriptLanguage != "pt" {
		t.Errorf("TranscriptLanguage = %v, want pt", video.TranscriptLanguage)
	}
}

func TestProcessPending_TranscriptFailureDegradesVideo(t *testing.T) {
	st := newMockStore()
	tr := newMockTranscripts()
	tr.failAlways = true
	c := testCoordinator(st, newMockSource(false), tr)

	saved, err := c.ProcessPending(context.Background(), dedup.NewIndex(nil), []string{"v1"})
	if err != nil || saved != 1 {
		t.Fatalf("ProcessPending() = (%d, %v), want video saved without transcript", saved, err)
	}
	// Exactly one retry.
	if tr.calls["v1"] != 2 {
		t.Errorf("transcript calls = %d, want 2", tr.calls["v1"])
	}
	if st.videos["v1"].Transcript != nil {
		t.Error("Transcript set despite fetch failure")
	}
}

func TestProcessPending_SkipsCommentsWhenDisabled(t *testing.T) {
	st := newMockStore()
	src := newMockSource(false)
	c := testCoordinator(st, src, newMockTranscripts())

	if _, err := c.ProcessPending(context.Background(), dedup.NewIndex(nil), []string{"v1"}); err != nil {
		t.Fatalf("ProcessPending() error = %v", err)
	}
	if src.commentCalls["v1"] != 0 {
		t.Errorf("comment calls = %d, want 0 for disabled comments", src.commentCalls["v1"])
	}
	if len(st.comments["v1"]) != 0 {
		t.Errorf("comments stored = %d, want 0", len(st.comments["v1"]))
	}
}

func TestProcessPending_FetchesCommentsWhenEnabled(t *testing.T) {
	st := newMockStore()
	src := newMockSource(true)
	c := testCoordinator(st, src, newMockTranscripts())

	if _, err := c.ProcessPending(context.Background(), dedup.NewIndex(nil), []string{"v1"}); err != nil {
		t.Fatalf("ProcessPending() error = %v", err)
	}
	if src.commentCalls["v1"] != 1 {
		t.Errorf("comment calls = %d, want 1", src.commentCalls["v1"])
	}
	if len(st.comments["v1"]) != 2 {
		t.Errorf("comments stored = %d, want 2", len(st.comments["v1"]))
	}
}

func TestProcessPending_Empty(t *testing.T) {
	c := testCoordinator(newMockStore(), newMockSource(false), newMockTranscripts())
	saved, err := c.ProcessPending(context.Background(), dedup.NewIndex(nil), nil)
	if saved != 0 || err != nil {
		t.Errorf("ProcessPending() = (%d, %v), want (0, nil)", saved, err)
	}
}

func TestProcessPending_CancelledBeforeStart(t *testing.T) {
	c := testCoordinator(newMockStore(), newMockSource(false), newMockTranscripts())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ProcessPending(ctx, dedup.NewIndex(nil), makeIDs(5))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("ProcessPending() error = %v, want context.Canceled", err)
	}
}
