package models

import "time"

const (
	OrderStatusCreated = "created"
	OrderStatusPaid    = "paid"
)

const (
	BillingCycleMonthly = "monthly"
	BillingCycleYearly  = "yearly"
)

// Order is created before payment. Only Status, PaymentID and PaidAt change afterwards.
type Order struct {
	ID             uint       `json:"id" gorm:"primaryKey"`
	OrderID        string     `json:"order_id" gorm:"type:varchar(64);uniqueIndex;not null"`
	UserID         uint       `json:"user_id" gorm:"not null;index"`
	PlanID         string     `json:"plan_id" gorm:"type:varchar(32);not null"`
	BillingCycle   string     `json:"billing_cycle" gorm:"type:varchar(16)"`
	Currency       string     `json:"currency" gorm:"type:varchar(8);not null;default:'INR'"`
	BaseAmount     int64      `json:"base_amount" gorm:"not null"`
	TaxAmount      int64      `json:"tax_amount" gorm:"not null;default:0"`
	Status         string     `json:"status" gorm:"type:varchar(16);not null;default:'created';index"`
	PaymentID      string     `json:"payment_id,omitempty" gorm:"type:varchar(64)"`
	SubscriptionID string     `json:"subscription_id,omitempty" gorm:"type:varchar(64);index"`
	Receipt        string     `json:"receipt" gorm:"type:varchar(64)"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TotalAmount is the amount the gateway must report for this order, in minor units.
func (o *Order) TotalAmount() int64 {
	return o.BaseAmount + o.TaxAmount
}

// SubscriptionRef identifies the subscription an order pays for. Orders created
// against a gateway subscription carry its id; one-off plan orders use their own id.
func (o *Order) SubscriptionRef() string {
	if o.SubscriptionID != "" {
		return o.SubscriptionID
	}
	return o.OrderID
}
