package models

import "time"

// FollowUpRecord is one arbitration request: this bot asked the conductor
// for permission to speak again in a conversation it already responded to.
type FollowUpRecord struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	EventID       string `gorm:"size:64;index"`
	TargetBotID   string `gorm:"size:64"`
	Reason        string `gorm:"type:text"`
	Approved      bool   `gorm:"default:false;index"`
	DenyReason    string `gorm:"size:32"`
	TurnID        string `gorm:"size:64"`
	QueuePosition int
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}
