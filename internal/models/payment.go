package models

import "time"

const (
	PaymentStatusAuthorized = "authorized"
	PaymentStatusCaptured   = "captured"
	PaymentStatusFailed     = "failed"
)

const (
	PaymentTypeSubscription = "subscription"
	PaymentTypeTopup        = "topup"
	PaymentTypeFree         = "free"
)

// Payment is a ledger row. It is written once per PaymentID.
type Payment struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	PaymentID      string    `json:"payment_id" gorm:"type:varchar(64);uniqueIndex;not null"`
	OrderID        string    `json:"order_id" gorm:"type:varchar(64);index"`
	UserID         uint      `json:"user_id" gorm:"not null;index"`
	PlanID         string    `json:"plan_id" gorm:"type:varchar(32)"`
	Amount         int64     `json:"amount" gorm:"not null"`
	TaxAmount      int64     `json:"tax_amount" gorm:"not null;default:0"`
	TotalAmount    int64     `json:"total_amount" gorm:"not null"`
	Currency       string    `json:"currency" gorm:"type:varchar(8);not null"`
	Status         string    `json:"status" gorm:"type:varchar(16);not null"`
	PaymentType    string    `json:"payment_type" gorm:"type:varchar(16);not null"`
	SubscriptionID string    `json:"subscription_id,omitempty" gorm:"type:varchar(64);index"`
	CreatedAt      time.Time `json:"created_at"`
}

type CreateOrderRequest struct {
	PlanID       string `json:"plan_id" validate:"required"`
	BillingCycle string `json:"billing_cycle" validate:"omitempty,oneof=monthly yearly"`
}

type VerifyPaymentRequest struct {
	OrderID   string `json:"order_id" validate:"required"`
	PaymentID string `json:"payment_id" validate:"required"`
	Signature string `json:"signature" validate:"required,gateway_signature"`
}

type VerifyPaymentResponse struct {
	Success   bool   `json:"success"`
	PaymentID string `json:"paymentId"`
	OrderID   string `json:"orderId"`
	PlanID    string `json:"planId"`
	Amount    int64  `json:"amount"`
}

type CheckoutOrder struct {
	OrderID        string `json:"order_id"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	PlanID         string `json:"plan_id"`
	BillingCycle   string `json:"billing_cycle,omitempty"`
	Currency       string `json:"currency"`
	BaseAmount     int64  `json:"base_amount"`
	TaxAmount      int64  `json:"tax_amount"`
	TotalAmount    int64  `json:"total_amount"`
	KeyID          string `json:"key_id"`
}
