package model

import (
	"time"
)

// ChannelDetails holds the read-mostly channel attributes refreshed once
// per run from the remote API.
type ChannelDetails struct {
	ChannelID   string
	ChannelName string
	Subscribers int64
	VideoCount  int64
}

// ChannelSnapshot is one persisted per-run summary row for a channel.
type ChannelSnapshot struct {
	ID          uint      `gorm:"primaryKey"`
	ChannelID   string    `gorm:"size:64;not null;uniqueIndex:idx_channel_collected"`
	ChannelName string    `gorm:"size:200"`
	Subscribers int64     `gorm:"default:0"`
	VideoCount  int64     `gorm:"default:0"`
	CollectedOn time.Time `gorm:"type:date;uniqueIndex:idx_channel_collected"`
	CreatedAt   time.Time
}

// TableName returns the table name for ChannelSnapshot
func (ChannelSnapshot) TableName() string {
	return "channels"
}
