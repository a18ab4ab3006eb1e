package repository

import (
	"context"

	"github.com/sefazor/postpilot-backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PaymentRepository is the payment ledger. Rows are keyed by the gateway
// payment id and are never overwritten.
type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{
		db: db,
	}
}

// Record inserts the payment unless a row with the same payment id exists.
// created is true only for the call that wrote the row.
func (r *PaymentRepository) Record(ctx context.Context, payment *models.Payment) (bool, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "payment_id"}},
		DoNothing: true,
	}).Create(payment)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// MarkCaptured upgrades an authorized payment to captured.
func (r *PaymentRepository) MarkCaptured(ctx context.Context, paymentID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("payment_id = ? AND status = ?", paymentID, models.PaymentStatusAuthorized).
		Update("status", models.PaymentStatusCaptured)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *PaymentRepository) GetByPaymentID(ctx context.Context, paymentID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *PaymentRepository) GetUserPaymentHistory(ctx context.Context, userID uint) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&payments).Error
	return payments, err
}
