package dashboard

import (
	"github.com/banterlabs/troupe/internal/models"
	"gorm.io/gorm"
)

// Activity holds aggregate turn and follow-up counts.
type Activity struct {
	TurnsCompleted    int64 `json:"turnsCompleted"`
	TurnsFailed       int64 `json:"turnsFailed"`
	FollowUpsApproved int64 `json:"followUpsApproved"`
	FollowUpsDenied   int64 `json:"followUpsDenied"`
}

// ActivityCounts returns all-time aggregate counts.
func ActivityCounts(db *gorm.DB) (Activity, error) {
	var a Activity
	if err := db.Model(&models.TurnRecord{}).
		Where("status = ?", models.TurnCompleted).Count(&a.TurnsCompleted).Error; err != nil {
		return a, err
	}
	if err := db.Model(&models.TurnRecord{}).
		Where("status = ?", models.TurnFailed).Count(&a.TurnsFailed).Error; err != nil {
		return a, err
	}
	if err := db.Model(&models.FollowUpRecord{}).
		Where("approved = ?", true).Count(&a.FollowUpsApproved).Error; err != nil {
		return a, err
	}
	if err := db.Model(&models.FollowUpRecord{}).
		Where("approved = ?", false).Count(&a.FollowUpsDenied).Error; err != nil {
		return a, err
	}
	return a, nil
}

// RecentTurns returns the newest turn records, up to limit.
func RecentTurns(db *gorm.DB, limit int) ([]models.TurnRecord, error) {
	var turns []models.TurnRecord
	if err := db.Order("id DESC").Limit(limit).Find(&turns).Error; err != nil {
		return nil, err
	}
	return turns, nil
}

// RecentFollowUps returns the newest follow-up records, up to limit.
func RecentFollowUps(db *gorm.DB, limit int) ([]models.FollowUpRecord, error) {
	var followUps []models.FollowUpRecord
	if err := db.Order("id DESC").Limit(limit).Find(&followUps).Error; err != nil {
		return nil, err
	}
	return followUps, nil
}
