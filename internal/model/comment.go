package model

import (
	"time"
)

// Comment represents a top-level comment or a single-level reply on a video.
// ParentCommentID is nil for top-level comments; replies carry the id of
// their top-level parent (the source API does not nest deeper).
type Comment struct {
	CommentID       string  `gorm:"primaryKey;size:128"`
	VideoID         string  `gorm:"index;size:32;not null"`
	ParentCommentID *string `gorm:"index;size:128"`
	AuthorID        string  `gorm:"size:64"`
	AuthorName      string  `gorm:"size:200"`
	Content         string  `gorm:"type:text"`
	LikeCount       int64   `gorm:"default:0"`
	PublishedAt     time.Time
	CollectedAt     time.Time
}

// TableName returns the table name for Comment
func (Comment) TableName() string {
	return "comments"
}

// IsReply reports whether the comment is a reply to another comment.
func (c *Comment) IsReply() bool {
	return c.ParentCommentID != nil
}
