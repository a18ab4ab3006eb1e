package repository

import (
	"context"
	"time"

	"github.com/sefazor/postpilot-backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EntitlementRepository stores exactly one entitlement row per user.
type EntitlementRepository struct {
	db *gorm.DB
}

func NewEntitlementRepository(db *gorm.DB) *EntitlementRepository {
	return &EntitlementRepository{
		db: db,
	}
}

func (r *EntitlementRepository) GetByUserID(ctx context.Context, userID uint) (*models.UserEntitlement, error) {
	return getEntitlement(r.db.WithContext(ctx), userID)
}

// Replace overwrites the user's credits, limits and subscription fields.
func (r *EntitlementRepository) Replace(ctx context.Context, ent *models.UserEntitlement) (*models.UserEntitlement, error) {
	ent.UpdatedAt = time.Now()
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"post_generation_credits",
			"image_enhancement_credits",
			"media_storage_limit",
			"allow_videos",
			"subscription_plan",
			"subscription_status",
			"subscription_end_date",
			"updated_at",
		}),
	}).Create(ent).Error
	if err != nil {
		return nil, err
	}
	return r.GetByUserID(ctx, ent.UserID)
}

// SetStatus changes only the subscription status (and end date when given).
// seed is inserted first when the user has no entitlement row yet.
func (r *EntitlementRepository) SetStatus(ctx context.Context, seed *models.UserEntitlement, status string, endDate *time.Time) (*models.UserEntitlement, error) {
	db := r.db.WithContext(ctx)
	if err := insertSeed(db, seed); err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"subscription_status": status,
		"updated_at":          time.Now(),
	}
	if endDate != nil {
		updates["subscription_end_date"] = endDate
	}
	if err := db.Model(&models.UserEntitlement{}).Where("user_id = ?", seed.UserID).Updates(updates).Error; err != nil {
		return nil, err
	}
	return getEntitlement(db, seed.UserID)
}

// ApplyTopup adds grant.Credits to the user's enhancement credits at most once
// per payment id. The grant row and the increment commit together.
func (r *EntitlementRepository) ApplyTopup(ctx context.Context, grant *models.TopupGrant, seed *models.UserEntitlement) (bool, *models.UserEntitlement, error) {
	applied := false
	var ent *models.UserEntitlement

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "payment_id"}},
			DoNothing: true,
		}).Create(grant)
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected > 0 {
			applied = true
			if err := insertSeed(tx, seed); err != nil {
				return err
			}
			err := tx.Model(&models.UserEntitlement{}).
				Where("user_id = ?", grant.UserID).
				Updates(map[string]interface{}{
					"image_enhancement_credits": gorm.Expr("image_enhancement_credits + ?", grant.Credits),
					"updated_at":                time.Now(),
				}).Error
			if err != nil {
				return err
			}
		}

		var err error
		ent, err = getEntitlement(tx, grant.UserID)
		return err
	})
	if err != nil {
		return false, nil, err
	}
	return applied, ent, nil
}

func insertSeed(db *gorm.DB, seed *models.UserEntitlement) error {
	row := *seed
	row.ID = 0
	row.UpdatedAt = time.Now()
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&row).Error
}

func getEntitlement(db *gorm.DB, userID uint) (*models.UserEntitlement, error) {
	var ent models.UserEntitlement
	if err := db.Where("user_id = ?", userID).First(&ent).Error; err != nil {
		return nil, err
	}
	return &ent, nil
}
