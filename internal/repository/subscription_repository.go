package repository

import (
	"context"
	"time"

	"github.com/sefazor/postpilot-backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{
		db: db,
	}
}

func (r *SubscriptionRepository) GetByUserID(ctx context.Context, userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *SubscriptionRepository) GetByGatewayID(ctx context.Context, gatewayID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).Where("razorpay_subscription_id = ?", gatewayID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Begin opens a pending subscription for the user. An existing row is reset
// only when it tracks a different gateway subscription, so repeating Begin
// for the same reference changes nothing.
func (r *SubscriptionRepository) Begin(ctx context.Context, sub *models.Subscription) (bool, error) {
	sub.Status = models.SubscriptionPending
	sub.LastPaymentID = ""

	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(sub)
	if tx.Error != nil {
		return false, tx.Error
	}
	if tx.RowsAffected > 0 {
		return true, nil
	}

	res := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("user_id = ? AND razorpay_subscription_id <> ?", sub.UserID, sub.RazorpaySubscriptionID).
		Updates(map[string]interface{}{
			"plan_id":                  sub.PlanID,
			"billing_cycle":            sub.BillingCycle,
			"razorpay_subscription_id": sub.RazorpaySubscriptionID,
			"status":                   models.SubscriptionPending,
			"last_payment_id":          "",
			"current_start":            nil,
			"current_end":              nil,
			"updated_at":               time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SubscriptionUpdate is the new state written by a lifecycle transition.
type SubscriptionUpdate struct {
	Status        models.SubscriptionStatus
	LastPaymentID string
	CurrentStart  *time.Time
	CurrentEnd    *time.Time
}

// CompareAndSwap writes update only if the row still has the status and last
// payment id the caller read. false means a concurrent writer got there first.
func (r *SubscriptionRepository) CompareAndSwap(ctx context.Context, current *models.Subscription, update SubscriptionUpdate) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND status = ? AND last_payment_id = ?", current.ID, current.Status, current.LastPaymentID).
		Updates(map[string]interface{}{
			"status":          update.Status,
			"last_payment_id": update.LastPaymentID,
			"current_start":   update.CurrentStart,
			"current_end":     update.CurrentEnd,
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
