package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/user/ytstats-ingest/internal/config"
	"github.com/user/ytstats-ingest/internal/model"
)

// setupTestStore connects to a local MySQL test database, skipping the test
// when no server is reachable.
func setupTestStore(t *testing.T) *MySQLStore {
	t.Helper()

	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		host = "localhost"
	}
	user := os.Getenv("TEST_DB_USER")
	if user == "" {
		user = "root"
	}
	password := os.Getenv("TEST_DB_PASSWORD")
	if password == "" {
		password = "root"
	}
	database := os.Getenv("TEST_DB_NAME")
	if database == "" {
		database = "youtube_stats_test"
	}

	cfg := &config.DBConfig{
		Host:     host,
		Port:     3306,
		User:     user,
		Password: password,
		Database: database,
		MaxConns: 5,
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.User, cfg.Password, cfg.Host, cfg.Port)
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Skipf("Skipping test: cannot connect to MySQL: %v", err)
	}
	if err := db.Exec("CREATE DATABASE IF NOT EXISTS " + database).Error; err != nil {
		t.Skipf("Skipping test: cannot create test database: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}

	s, err := NewMySQLStore(cfg)
	if err != nil {
		t.Skipf("Skipping test: cannot open test store: %v", err)
	}
	t.Cleanup(func() {
		s.DB().Exec("DELETE FROM comments")
		s.DB().Exec("DELETE FROM videos")
		s.DB().Exec("DELETE FROM channels")
		s.Close()
	})
	return s
}

func strPtr(s string) *string { return &s }

func testVideo(id string, transcript *string) *model.Video {
	v := &model.Video{
		VideoID:     id,
		ChannelID:   "UCtest",
		Title:       "title of " + id,
		ViewCount:   100,
		LikeCount:   10,
		PublishedAt: time.Date(2023, 3, 1, 12, 0, 0, 0, time.UTC),
		CollectedAt: time.Now(),
	}
	if transcript != nil {
		v.Transcript = transcript
		v.TranscriptLanguage = strPtr("pt")
	}
	return v
}

func TestUpsertVideo_CoalesceKeepsTranscript(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first := testVideo("vid-coalesce", strPtr("[00:01] ola"))
	require.NoError(t, s.UpsertVideoWithComments(ctx, first, nil))

	// Re-fetch without a transcript must not clobber the stored one.
	second := testVideo("vid-coalesce", nil)
	second.Title = "updated title"
	second.ViewCount = 250
	require.NoError(t, s.UpsertVideoWithComments(ctx, second, nil))

	var stored model.Video
	require.NoError(t, s.DB().First(&stored, "video_id = ?", "vid-coalesce").Error)

	require.NotNil(t, stored.Transcript)
	assert.Equal(t, "[00:01] ola", *stored.Transcript, "transcript must survive a nil re-upsert")
	require.NotNil(t, stored.TranscriptLanguage)
	assert.Equal(t, "pt", *stored.TranscriptLanguage)
	assert.Equal(t, "updated title", stored.Title, "volatile fields take the incoming value")
	assert.Equal(t, int64(250), stored.ViewCount)
}

func TestUpsertVideo_NewTranscriptOverwrites(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertVideoWithComments(ctx, testVideo("vid-overwrite", nil), nil))
	require.NoError(t, s.UpsertVideoWithComments(ctx, testVideo("vid-overwrite", strPtr("[00:05] agora sim")), nil))

	var stored model.Video
	require.NoError(t, s.DB().First(&stored, "video_id = ?", "vid-overwrite").Error)
	require.NotNil(t, stored.Transcript)
	assert.Equal(t, "[00:05] agora sim", *stored.Transcript)
}

func TestUpsertVideoWithComments_Atomic(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	parent := "cmt-top"
	comments := []*model.Comment{
		{
			CommentID:   "cmt-top",
			VideoID:     "vid-comments",
			AuthorID:    "user-1",
			AuthorName:  "Alice",
			Content:     "first!",
			LikeCount:   3,
			PublishedAt: time.Date(2023, 3, 2, 8, 0, 0, 0, time.UTC),
			CollectedAt: time.Now(),
		},
		{
			CommentID:       "cmt-reply",
			VideoID:         "vid-comments",
			ParentCommentID: &parent,
			AuthorID:        "user-2",
			AuthorName:      "Bob",
			Content:         "replying",
			LikeCount:       1,
			PublishedAt:     time.Date(2023, 3, 2, 9, 0, 0, 0, time.UTC),
			CollectedAt:     time.Now(),
		},
	}

	require.NoError(t, s.UpsertVideoWithComments(ctx, testVideo("vid-comments", nil), comments))

	var count int64
	s.DB().Model(&model.Comment{}).Where("video_id = ?", "vid-comments").Count(&count)
	assert.Equal(t, int64(2), count)

	// Upserting again with updated likes keeps authorship and parent link.
	comments[1].LikeCount = 42
	comments[1].AuthorName = "Mallory"
	require.NoError(t, s.UpsertVideoWithComments(ctx, testVideo("vid-comments", nil), comments))

	var reply model.Comment
	require.NoError(t, s.DB().First(&reply, "comment_id = ?", "cmt-reply").Error)
	assert.Equal(t, int64(42), reply.LikeCount)
	assert.Equal(t, "Bob", reply.AuthorName, "authorship is immutable across upserts")
	require.NotNil(t, reply.ParentCommentID)
	assert.Equal(t, "cmt-top", *reply.ParentCommentID)
}

func TestSchemaShim_AddsMissingColumn(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// Simulate schema drift: an older videos table without the optional
	// transcript language column.
	require.NoError(t, s.DB().Migrator().DropColumn(&model.Video{}, "TranscriptLanguage"))

	require.NoError(t, s.UpsertVideoWithComments(ctx, testVideo("vid-shim", strPtr("[00:00] text")), nil))

	var stored model.Video
	require.NoError(t, s.DB().First(&stored, "video_id = ?", "vid-shim").Error)
	require.NotNil(t, stored.TranscriptLanguage)
	assert.Equal(t, "pt", *stored.TranscriptLanguage, "column repaired and value written on retry")
}

func TestLoadVideoIDs(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"v1", "v2", "v3"} {
		require.NoError(t, s.UpsertVideoWithComments(ctx, testVideo(id, nil), nil))
	}

	ids, err := s.LoadVideoIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"v1", "v2", "v3"}, ids)
}

func TestSaveChannelSnapshot_UpsertsPerDay(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	day := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveChannelSnapshot(ctx, &model.ChannelSnapshot{
		ChannelID:   "UCtest",
		ChannelName: "Test Channel",
		Subscribers: 1000,
		VideoCount:  50,
		CollectedOn: day,
	}))
	require.NoError(t, s.SaveChannelSnapshot(ctx, &model.ChannelSnapshot{
		ChannelID:   "UCtest",
		ChannelName: "Test Channel",
		Subscribers: 1200,
		VideoCount:  51,
		CollectedOn: day,
	}))

	var count int64
	s.DB().Model(&model.ChannelSnapshot{}).Where("channel_id = ?", "UCtest").Count(&count)
	assert.Equal(t, int64(1), count, "one snapshot row per channel per day")
}
