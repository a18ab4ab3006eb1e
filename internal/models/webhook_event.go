package models

import "time"

// WebhookEvent stores every verified gateway delivery with deduplication
// metadata so replays can be acknowledged without reprocessing.
type WebhookEvent struct {
	ID              uint       `json:"id" gorm:"primaryKey"`
	EventKey        string     `json:"event_key" gorm:"type:varchar(191);uniqueIndex;not null"`
	EventType       string     `json:"event_type" gorm:"type:varchar(64);not null;index"`
	Payload         string     `json:"payload" gorm:"type:text;not null"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	ProcessingError string     `json:"processing_error" gorm:"type:text"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Done reports whether an earlier delivery of the event was processed cleanly.
func (e *WebhookEvent) Done() bool {
	return e.ProcessedAt != nil && e.ProcessingError == ""
}
