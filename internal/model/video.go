package model

import (
	"time"
)

// Video represents one collected video with its metadata and optional
// transcript/audio artifacts.
type Video struct {
	VideoID            string `gorm:"primaryKey;size:32"`
	ChannelID          string `gorm:"index;size:64;not null"`
	Title              string `gorm:"size:500"`
	ViewCount          int64  `gorm:"default:0"`
	LikeCount          int64  `gorm:"default:0"`
	CommentCount       int64  `gorm:"default:0"`
	PublishedAt        time.Time
	Transcript         *string `gorm:"type:longtext"`
	TranscriptLanguage *string `gorm:"size:16"`
	AudioPath          *string `gorm:"size:500"`
	CollectedAt        time.Time

	// CommentsEnabled mirrors whether the statistics payload carried a
	// comment count; it is not persisted.
	CommentsEnabled bool `gorm:"-"`
}

// TableName returns the table name for Video
func (Video) TableName() string {
	return "videos"
}
