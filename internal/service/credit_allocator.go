package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sefazor/postpilot-backend/internal/models"
	"github.com/sefazor/postpilot-backend/internal/plans"
	"github.com/sefazor/postpilot-backend/internal/repository"
	"go.uber.org/zap"
)

type AllocationMode string

const (
	// AllocationReplace sets the entitlement to the plan's fixed allotment.
	AllocationReplace AllocationMode = "replace"
	// AllocationAdditive adds a top-up pack on top of the current credits.
	AllocationAdditive AllocationMode = "additive"
)

type Allocation struct {
	UserID uint
	PlanID string
	Mode   AllocationMode
	// PaymentID is the idempotency key for additive allocations.
	PaymentID string
	Status    models.SubscriptionStatus
	EndDate   *time.Time
}

// CreditAllocator is the only writer of user entitlements.
type CreditAllocator struct {
	entitlements *repository.EntitlementRepository
	logger       *zap.Logger
}

func NewCreditAllocator(entitlements *repository.EntitlementRepository, logger *zap.Logger) *CreditAllocator {
	return &CreditAllocator{
		entitlements: entitlements,
		logger:       logger.Named("credits"),
	}
}

func (a *CreditAllocator) Allocate(ctx context.Context, alloc Allocation) (*models.UserEntitlement, error) {
	switch alloc.Mode {
	case AllocationReplace:
		return a.Replace(ctx, alloc.UserID, alloc.PlanID, alloc.Status, alloc.EndDate)
	case AllocationAdditive:
		ent, _, err := a.TopUp(ctx, alloc.UserID, alloc.PaymentID, alloc.PlanID)
		return ent, err
	default:
		return nil, fmt.Errorf("unknown allocation mode %q", alloc.Mode)
	}
}

// Replace writes the catalog allotment of planID verbatim.
func (a *CreditAllocator) Replace(ctx context.Context, userID uint, planID string, status models.SubscriptionStatus, endDate *time.Time) (*models.UserEntitlement, error) {
	if status == models.SubscriptionPending {
		return nil, fmt.Errorf("entitlement status cannot be %s", status)
	}

	ent, err := a.entitlements.Replace(ctx, entitlementFor(userID, planID, status, endDate))
	if err != nil {
		return nil, fmt.Errorf("replace entitlement: %w", err)
	}

	a.logger.Info("entitlement replaced",
		zap.Uint("user_id", userID),
		zap.String("plan_id", planID),
		zap.String("status", string(status)),
	)
	return ent, nil
}

// TopUp adds the credits of sku at most once per paymentID. applied is false
// when the payment was already credited.
func (a *CreditAllocator) TopUp(ctx context.Context, userID uint, paymentID, sku string) (*models.UserEntitlement, bool, error) {
	pack, ok := plans.TopupFor(sku)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrInvalidPlan, sku)
	}
	if paymentID == "" {
		return nil, false, fmt.Errorf("top-up for user %d has no payment id", userID)
	}

	grant := &models.TopupGrant{
		PaymentID: paymentID,
		UserID:    userID,
		SKU:       sku,
		Credits:   pack.Credits,
	}
	applied, ent, err := a.entitlements.ApplyTopup(ctx, grant, entitlementFor(userID, string(plans.Free), "", nil))
	if err != nil {
		return nil, false, fmt.Errorf("apply top-up: %w", err)
	}

	if applied {
		a.logger.Info("top-up applied",
			zap.Uint("user_id", userID),
			zap.String("payment_id", paymentID),
			zap.Int("credits", pack.Credits),
		)
	} else {
		a.logger.Info("top-up already applied", zap.String("payment_id", paymentID))
	}
	return ent, applied, nil
}

// SetStatus records a subscription status without touching credits. A non-nil
// endDate replaces the stored one.
func (a *CreditAllocator) SetStatus(ctx context.Context, userID uint, status models.SubscriptionStatus, endDate *time.Time) (*models.UserEntitlement, error) {
	if status == models.SubscriptionPending {
		return nil, fmt.Errorf("entitlement status cannot be %s", status)
	}
	ent, err := a.entitlements.SetStatus(ctx, entitlementFor(userID, string(plans.Free), "", nil), string(status), endDate)
	if err != nil {
		return nil, fmt.Errorf("set entitlement status: %w", err)
	}
	return ent, nil
}

// Current returns the stored entitlement, or the free allotment when the user
// has none yet.
func (a *CreditAllocator) Current(ctx context.Context, userID uint) (*models.UserEntitlement, error) {
	ent, err := a.entitlements.GetByUserID(ctx, userID)
	if err == nil {
		return ent, nil
	}
	if isNotFound(err) {
		return entitlementFor(userID, string(plans.Free), "", nil), nil
	}
	return nil, err
}

func entitlementFor(userID uint, planID string, status models.SubscriptionStatus, endDate *time.Time) *models.UserEntitlement {
	allot := plans.AllotmentFor(planID)
	return &models.UserEntitlement{
		UserID:                  userID,
		PostGenerationCredits:   allot.Posts,
		ImageEnhancementCredits: allot.Enhancements,
		MediaStorageLimit:       allot.StorageMB,
		AllowVideos:             allot.AllowVideos,
		SubscriptionPlan:        planID,
		SubscriptionStatus:      string(status),
		SubscriptionEndDate:     endDate,
	}
}
