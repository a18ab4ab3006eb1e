package models

import "time"

// UserEntitlement is the quota record checked by the rest of the system.
// Only the credit allocator writes it.
type UserEntitlement struct {
	ID                      uint       `json:"-" gorm:"primaryKey"`
	UserID                  uint       `json:"user_id" gorm:"uniqueIndex;not null"`
	PostGenerationCredits   int        `json:"post_generation_credits" gorm:"not null;default:0"`
	ImageEnhancementCredits int        `json:"image_enhancement_credits" gorm:"not null;default:0"`
	MediaStorageLimit       int64      `json:"media_storage_limit" gorm:"not null;default:0"`
	AllowVideos             bool       `json:"allow_videos" gorm:"not null;default:false"`
	SubscriptionPlan        string     `json:"subscription_plan" gorm:"type:varchar(32);not null;default:'free'"`
	SubscriptionStatus      string     `json:"subscription_status" gorm:"type:varchar(16)"`
	SubscriptionEndDate     *time.Time `json:"subscription_end_date,omitempty"`
	CreatedAt               time.Time  `json:"-"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// TopupGrant records that the credits of one top-up payment were applied.
type TopupGrant struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	PaymentID string    `json:"payment_id" gorm:"type:varchar(64);uniqueIndex;not null"`
	UserID    uint      `json:"user_id" gorm:"not null;index"`
	SKU       string    `json:"sku" gorm:"type:varchar(32);not null"`
	Credits   int       `json:"credits" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
}
