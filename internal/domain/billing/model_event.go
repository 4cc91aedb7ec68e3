package billing

import "time"

// ProcessedEvent records a provider webhook event whose state change has
// been committed. EventID is the provider's event id.
type ProcessedEvent struct {
	ID          uint   `gorm:"primaryKey"`
	EventID     string `gorm:"column:event_id;not null;uniqueIndex:idx_processed_events_event_id"`
	EventType   string `gorm:"column:event_type;not null"`
	ProcessedAt time.Time
}
