package billing

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Claim records eventID inside tx and reports whether this call recorded it.
// false means another delivery of the same event already committed (or is
// committing) its effects. Events without an id are always claimable.
func Claim(tx *gorm.DB, eventID, eventType string, at time.Time) (bool, error) {
	if eventID == "" {
		return true, nil
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&ProcessedEvent{
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: at,
	})
	if res.Error != nil {
		return false, fmt.Errorf("claim event %s: %w", eventID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func IsProcessed(db *gorm.DB, eventID string) (bool, error) {
	var ev ProcessedEvent
	err := db.Where("event_id = ?", eventID).First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup event %s: %w", eventID, err)
	}
	return true, nil
}
