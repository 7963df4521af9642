package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/user/ytstats-ingest/internal/config"
	"github.com/user/ytstats-ingest/internal/model"
)

// MySQLStore implements Store interface using MySQL database
type MySQLStore struct {
	db *gorm.DB
}

// NewMySQLStore creates a new MySQL store instance
func NewMySQLStore(cfg *config.DBConfig) (*MySQLStore, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(mysql.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxConns)
	sqlDB.SetMaxIdleConns(cfg.MaxConns / 2)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&model.Video{}, &model.Comment{}, &model.ChannelSnapshot{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &MySQLStore{db: db}, nil
}

// LoadVideoIDs returns every persisted video id.
func (s *MySQLStore) LoadVideoIDs(ctx context.Context) ([]string, error) {
	var ids []string
	result := s.db.WithContext(ctx).Model(&model.Video{}).Pluck("video_id", &ids)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load video ids: %w", result.Error)
	}
	return ids, nil
}

// SaveChannelSnapshot upserts the channel summary keyed by channel id and
// collection date, refreshing name and counters on conflict.
func (s *MySQLStore) SaveChannelSnapshot(ctx context.Context, snap *model.ChannelSnapshot) error {
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "channel_id"}, {Name: "collected_on"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"channel_name": gorm.Expr("VALUES(channel_name)"),
			"subscribers":  gorm.Expr("VALUES(subscribers)"),
			"video_count":  gorm.Expr("VALUES(video_count)"),
		}),
	}).Create(snap)
	if result.Error != nil {
		return fmt.Errorf("failed to save channel snapshot: %w", result.Error)
	}
	return nil
}

// UpsertVideoWithComments writes the video and its comments atomically.
// On a missing optional column the schema is repaired once and the same
// statement retried before giving up.
func (s *MySQLStore) UpsertVideoWithComments(ctx context.Context, video *model.Video, comments []*model.Comment) error {
	err := s.upsertTx(ctx, video, comments)
	if err == nil || !isMissingColumn(err) {
		return err
	}

	log.Warn().Err(err).Msg("Missing column detected, updating schema")
	if aerr := s.ensureOptionalColumns(); aerr != nil {
		return fmt.Errorf("failed to update schema: %w", aerr)
	}
	return s.upsertTx(ctx, video, comments)
}

func (s *MySQLStore) upsertTx(ctx context.Context, video *model.Video, comments []*model.Comment) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "video_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"title":         gorm.Expr("VALUES(title)"),
				"view_count":    gorm.Expr("VALUES(view_count)"),
				"like_count":    gorm.Expr("VALUES(like_count)"),
				"comment_count": gorm.Expr("VALUES(comment_count)"),
				"collected_at":  gorm.Expr("VALUES(collected_at)"),
				// Coalesce rule: keep the stored artifact when the new
				// fetch did not produce one.
				"transcript":          gorm.Expr("COALESCE(VALUES(transcript), transcript)"),
				"transcript_language": gorm.Expr("COALESCE(VALUES(transcript_language), transcript_language)"),
				"audio_path":          gorm.Expr("COALESCE(VALUES(audio_path), audio_path)"),
			}),
		}).Create(video)
		if result.Error != nil {
			return fmt.Errorf("failed to upsert video %s: %w", video.VideoID, result.Error)
		}

		if len(comments) == 0 {
			return nil
		}

		// Authorship and parent linkage are immutable once set; only the
		// mutable fields are refreshed on conflict.
		result = tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "comment_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"content":      gorm.Expr("VALUES(content)"),
				"like_count":   gorm.Expr("VALUES(like_count)"),
				"collected_at": gorm.Expr("VALUES(collected_at)"),
			}),
		}).CreateInBatches(comments, 100)
		if result.Error != nil {
			return fmt.Errorf("failed to upsert comments for video %s: %w", video.VideoID, result.Error)
		}
		return nil
	})
}

// ensureOptionalColumns idempotently adds the optional Videos columns that
// may be missing when the table predates them.
func (s *MySQLStore) ensureOptionalColumns() error {
	migrator := s.db.Migrator()
	for _, column := range []string{"Transcript", "TranscriptLanguage", "AudioPath"} {
		if migrator.HasColumn(&model.Video{}, column) {
			continue
		}
		log.Info().Str("column", column).Msg("Adding missing column to videos table")
		if err := migrator.AddColumn(&model.Video{}, column); err != nil {
			return err
		}
	}
	return nil
}

// isMissingColumn matches the MySQL "Unknown column" error (code 1054).
func isMissingColumn(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Error 1054") || strings.Contains(msg, "Unknown column")
}

// CountVideos returns the total count of videos
func (s *MySQLStore) CountVideos(ctx context.Context) (int64, error) {
	var count int64
	result := s.db.WithContext(ctx).Model(&model.Video{}).Count(&count)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to count videos: %w", result.Error)
	}
	return count, nil
}

// Ping checks database connectivity
func (s *MySQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying db: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (s *MySQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying db: %w", err)
	}
	return sqlDB.Close()
}

// DB returns the underlying gorm.DB instance (for testing purposes)
func (s *MySQLStore) DB() *gorm.DB {
	return s.db
}
