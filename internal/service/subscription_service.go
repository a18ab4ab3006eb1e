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

const maxTransitionAttempts = 5

// Transition is one lifecycle input for a subscription.
type Transition struct {
	Trigger Trigger
	// PaymentID identifies the charge behind an activate or charge trigger.
	PaymentID string
	// WindowStart and WindowEnd carry the billing period reported by the
	// gateway, when it reported one.
	WindowStart *time.Time
	WindowEnd   *time.Time
}

type SubscriptionService struct {
	subscriptions *repository.SubscriptionRepository
	allocator     *CreditAllocator
	logger        *zap.Logger
	now           func() time.Time
}

func NewSubscriptionService(subscriptions *repository.SubscriptionRepository, allocator *CreditAllocator, logger *zap.Logger) *SubscriptionService {
	return &SubscriptionService{
		subscriptions: subscriptions,
		allocator:     allocator,
		logger:        logger.Named("subscriptions"),
		now:           time.Now,
	}
}

func (s *SubscriptionService) GetByUserID(ctx context.Context, userID uint) (*models.Subscription, error) {
	sub, err := s.subscriptions.GetByUserID(ctx, userID)
	if isNotFound(err) {
		return nil, ErrSubscriptionNotFound
	}
	return sub, err
}

func (s *SubscriptionService) GetByGatewayID(ctx context.Context, gatewayID string) (*models.Subscription, error) {
	sub, err := s.subscriptions.GetByGatewayID(ctx, gatewayID)
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, gatewayID)
	}
	return sub, err
}

// Begin records a pending subscription for ref. A user's row is only reset
// when it tracks a different reference; entitlements are never touched.
func (s *SubscriptionService) Begin(ctx context.Context, userID uint, planID, cycle, ref string) (*models.Subscription, error) {
	plan, ok := plans.ParsePlan(planID)
	if !ok || plan == plans.Free {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPlan, planID)
	}
	if cycle == "" {
		cycle = models.BillingCycleMonthly
	}

	opened, err := s.subscriptions.Begin(ctx, &models.Subscription{
		UserID:                 userID,
		PlanID:                 string(plan),
		BillingCycle:           cycle,
		RazorpaySubscriptionID: ref,
	})
	if err != nil {
		return nil, fmt.Errorf("begin subscription: %w", err)
	}
	if opened {
		s.logger.Info("subscription opened",
			zap.Uint("user_id", userID),
			zap.String("plan_id", string(plan)),
			zap.String("subscription_id", ref),
		)
	}
	return s.GetByUserID(ctx, userID)
}

// Charge applies a settled plan payment: it opens the subscription for ref if
// needed and runs the charge transition keyed by paymentID.
func (s *SubscriptionService) Charge(ctx context.Context, userID uint, planID, cycle, ref, paymentID string) (*models.Subscription, error) {
	if _, err := s.Begin(ctx, userID, planID, cycle, ref); err != nil {
		return nil, err
	}
	return s.Apply(ctx, ref, Transition{Trigger: TriggerCharge, PaymentID: paymentID})
}

// Apply runs t against the subscription with the given gateway id and syncs
// the user's entitlement. Writes are compare-and-swap; a lost race re-reads
// and re-plans the transition.
func (s *SubscriptionService) Apply(ctx context.Context, gatewayID string, t Transition) (*models.Subscription, error) {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		cur, err := s.GetByGatewayID(ctx, gatewayID)
		if err != nil {
			return nil, err
		}

		update, write, err := s.planTransition(cur, t)
		if err != nil {
			return cur, err
		}

		if write {
			swapped, err := s.subscriptions.CompareAndSwap(ctx, cur, update)
			if err != nil {
				return nil, fmt.Errorf("update subscription: %w", err)
			}
			if !swapped {
				s.logger.Debug("subscription changed underneath, retrying",
					zap.String("subscription_id", gatewayID),
					zap.Int("attempt", attempt+1),
				)
				continue
			}

			s.logger.Info("subscription transitioned",
				zap.String("subscription_id", gatewayID),
				zap.String("trigger", string(t.Trigger)),
				zap.String("from", string(cur.Status)),
				zap.String("to", string(update.Status)),
				zap.String("payment_id", update.LastPaymentID),
			)
			cur.Status = update.Status
			cur.LastPaymentID = update.LastPaymentID
			cur.CurrentStart = update.CurrentStart
			cur.CurrentEnd = update.CurrentEnd
		}

		if err := s.syncEntitlement(ctx, cur, t.Trigger, write); err != nil {
			return cur, err
		}
		return cur, nil
	}
	return nil, ErrConcurrentUpdate
}

func (s *SubscriptionService) planTransition(cur *models.Subscription, t Transition) (repository.SubscriptionUpdate, bool, error) {
	update := repository.SubscriptionUpdate{
		Status:        cur.Status,
		LastPaymentID: cur.LastPaymentID,
		CurrentStart:  cur.CurrentStart,
		CurrentEnd:    cur.CurrentEnd,
	}

	next, changed, err := NextStatus(cur.Status, t.Trigger)
	if err != nil {
		return update, false, err
	}
	update.Status = next

	switch t.Trigger {
	case TriggerActivate:
		if changed {
			update.LastPaymentID = t.PaymentID
			update.CurrentStart, update.CurrentEnd = s.billingWindow(cur, t, false)
			return update, true, nil
		}
		if t.PaymentID != "" && cur.LastPaymentID == "" {
			update.LastPaymentID = t.PaymentID
			return update, true, nil
		}
		return update, false, nil

	case TriggerCharge:
		if t.PaymentID != "" && t.PaymentID == cur.LastPaymentID {
			return update, false, nil
		}
		if changed {
			update.LastPaymentID = t.PaymentID
			update.CurrentStart, update.CurrentEnd = s.billingWindow(cur, t, cur.Status == models.SubscriptionPaused)
			return update, true, nil
		}
		// Charges without a payment id cannot be deduplicated on an active row.
		if t.PaymentID == "" {
			return update, false, nil
		}
		update.LastPaymentID = t.PaymentID
		if cur.LastPaymentID == "" {
			// First charge of the window the activation opened.
			if t.WindowEnd != nil {
				update.CurrentStart, update.CurrentEnd = t.WindowStart, t.WindowEnd
			}
			return update, true, nil
		}
		update.CurrentStart, update.CurrentEnd = s.billingWindow(cur, t, true)
		return update, true, nil

	default:
		return update, changed, nil
	}
}

func (s *SubscriptionService) billingWindow(cur *models.Subscription, t Transition, renewal bool) (*time.Time, *time.Time) {
	if t.WindowEnd != nil {
		start := s.now()
		if t.WindowStart != nil {
			start = *t.WindowStart
		}
		end := *t.WindowEnd
		return &start, &end
	}

	start := s.now()
	if renewal && cur.CurrentEnd != nil && cur.CurrentEnd.After(start) {
		start = *cur.CurrentEnd
	}
	end := addCycle(start, cur.BillingCycle)
	return &start, &end
}

func addCycle(t time.Time, cycle string) time.Time {
	if cycle == models.BillingCycleYearly {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}

// syncEntitlement makes the entitlement reflect sub. Replays that did not
// write only repair an entitlement that is out of step with the row. A resume
// restores the status of the plan already held and keeps its balances; only
// activations and charges refill credits.
func (s *SubscriptionService) syncEntitlement(ctx context.Context, sub *models.Subscription, trigger Trigger, wrote bool) error {
	switch sub.Status {
	case models.SubscriptionActive:
		if !wrote && s.entitlementMatches(ctx, sub.UserID, sub.PlanID, sub.Status) {
			return nil
		}
		if trigger == TriggerResume && s.entitlementHoldsPlan(ctx, sub.UserID, sub.PlanID) {
			_, err := s.allocator.SetStatus(ctx, sub.UserID, models.SubscriptionActive, sub.CurrentEnd)
			return err
		}
		_, err := s.allocator.Replace(ctx, sub.UserID, sub.PlanID, models.SubscriptionActive, sub.CurrentEnd)
		return err

	case models.SubscriptionCancelled:
		if !wrote && s.entitlementMatches(ctx, sub.UserID, string(plans.Free), sub.Status) {
			return nil
		}
		_, err := s.allocator.Replace(ctx, sub.UserID, string(plans.Free), models.SubscriptionCancelled, nil)
		return err

	case models.SubscriptionPaused, models.SubscriptionCompleted:
		_, err := s.allocator.SetStatus(ctx, sub.UserID, sub.Status, nil)
		return err
	}
	return nil
}

func (s *SubscriptionService) entitlementMatches(ctx context.Context, userID uint, planID string, status models.SubscriptionStatus) bool {
	ent, err := s.allocator.Current(ctx, userID)
	if err != nil {
		return false
	}
	return ent.SubscriptionPlan == planID && ent.SubscriptionStatus == string(status)
}

func (s *SubscriptionService) entitlementHoldsPlan(ctx context.Context, userID uint, planID string) bool {
	ent, err := s.allocator.Current(ctx, userID)
	if err != nil {
		return false
	}
	return ent.SubscriptionPlan == planID
}
