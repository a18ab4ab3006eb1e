package models

import "time"

type SubscriptionStatus string

const (
	SubscriptionPending   SubscriptionStatus = "pending"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPaused    SubscriptionStatus = "paused"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionCompleted SubscriptionStatus = "completed"
)

// Terminal reports whether no further lifecycle transition is allowed.
func (s SubscriptionStatus) Terminal() bool {
	return s == SubscriptionCancelled || s == SubscriptionCompleted
}

// Subscription holds one row per user; the latest subscription wins.
type Subscription struct {
	ID                     uint               `json:"id" gorm:"primaryKey"`
	UserID                 uint               `json:"user_id" gorm:"uniqueIndex;not null"`
	PlanID                 string             `json:"plan_id" gorm:"type:varchar(32);not null"`
	Status                 SubscriptionStatus `json:"status" gorm:"type:varchar(16);not null;default:'pending'"`
	RazorpaySubscriptionID string             `json:"razorpay_subscription_id" gorm:"type:varchar(64);index"`
	BillingCycle           string             `json:"billing_cycle" gorm:"type:varchar(16)"`
	CurrentStart           *time.Time         `json:"current_start,omitempty"`
	CurrentEnd             *time.Time         `json:"current_end,omitempty"`
	LastPaymentID          string             `json:"last_payment_id" gorm:"type:varchar(64);not null;default:''"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}
