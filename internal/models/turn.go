package models

import "time"

// Turn status values.
const (
	TurnCompleted = "completed"
	TurnFailed    = "failed"
)

// TurnRecord is one granted speaking turn: the conductor asked this bot to
// respond and the bot produced (or failed to produce) a message.
type TurnRecord struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	TurnID      string `gorm:"size:64;index"`
	EventID     string `gorm:"size:64;index"`
	GuildID     string `gorm:"size:32;index"`
	ChannelID   string `gorm:"size:32"`
	MessageID   string `gorm:"size:32"`
	Response    string `gorm:"type:text"`
	Status      string `gorm:"size:16;default:completed;index"`
	Error       string `gorm:"type:text"`
	LatencyMS   int64
	CreatedAt   time.Time
	CompletedAt *time.Time
}
