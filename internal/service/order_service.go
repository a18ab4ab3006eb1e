package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sefazor/postpilot-backend/internal/models"
	"github.com/sefazor/postpilot-backend/internal/plans"
	"github.com/sefazor/postpilot-backend/internal/repository"
	"github.com/sefazor/postpilot-backend/pkg/gateway"
	"go.uber.org/zap"
)

// OrderService opens checkout orders and exposes what a user has paid for.
type OrderService struct {
	orders        *repository.OrderRepository
	payments      *repository.PaymentRepository
	subscriptions *SubscriptionService
	allocator     *CreditAllocator
	reconciler    *ReconciliationService
	gateway       PaymentGateway
	keyID         string
	logger        *zap.Logger
}

func NewOrderService(
	orders *repository.OrderRepository,
	payments *repository.PaymentRepository,
	subscriptions *SubscriptionService,
	allocator *CreditAllocator,
	reconciler *ReconciliationService,
	gateway PaymentGateway,
	keyID string,
	logger *zap.Logger,
) *OrderService {
	return &OrderService{
		orders:        orders,
		payments:      payments,
		subscriptions: subscriptions,
		allocator:     allocator,
		reconciler:    reconciler,
		gateway:       gateway,
		keyID:         keyID,
		logger:        logger.Named("orders"),
	}
}

// CreateOrder prices the plan or top-up with GST and opens a gateway order for
// it. The free plan has nothing to pay and is settled immediately.
func (s *OrderService) CreateOrder(ctx context.Context, userID uint, req models.CreateOrderRequest) (*models.CheckoutOrder, error) {
	planID := strings.ToLower(strings.TrimSpace(req.PlanID))
	cycle := strings.ToLower(req.BillingCycle)

	switch {
	case plans.IsTopup(planID):
		cycle = ""
	case plans.IsFree(planID):
		return s.activateFree(ctx, userID)
	default:
		if cycle == "" {
			cycle = models.BillingCycleMonthly
		}
	}

	base, ok := plans.BasePrice(planID, cycle)
	if !ok || base <= 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrInvalidPlan, req.PlanID, req.BillingCycle)
	}
	tax := plans.GST(base)

	gwOrder, err := s.gateway.CreateOrder(ctx, gateway.OrderRequest{
		Amount:   base + tax,
		Currency: plans.Currency,
		Receipt:  newReceipt(),
		Notes: map[string]string{
			"user_id":       strconv.FormatUint(uint64(userID), 10),
			"plan_id":       planID,
			"billing_cycle": cycle,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create gateway order: %w", err)
	}

	order := &models.Order{
		OrderID:      gwOrder.ID,
		UserID:       userID,
		PlanID:       planID,
		BillingCycle: cycle,
		Currency:     plans.Currency,
		BaseAmount:   base,
		TaxAmount:    tax,
		Status:       models.OrderStatusCreated,
		Receipt:      gwOrder.Receipt,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("store order: %w", err)
	}

	if !plans.IsTopup(planID) {
		if err := s.openPending(ctx, order); err != nil {
			return nil, err
		}
	}

	s.logger.Info("order created",
		zap.Uint("user_id", userID),
		zap.String("order_id", order.OrderID),
		zap.String("plan_id", planID),
		zap.Int64("total", order.TotalAmount()),
	)

	return &models.CheckoutOrder{
		OrderID:      order.OrderID,
		PlanID:       order.PlanID,
		BillingCycle: order.BillingCycle,
		Currency:     order.Currency,
		BaseAmount:   order.BaseAmount,
		TaxAmount:    order.TaxAmount,
		TotalAmount:  order.TotalAmount(),
		KeyID:        s.keyID,
	}, nil
}

// openPending records the subscription as pending unless the user already has
// a live one, which keeps running until the new order is paid.
func (s *OrderService) openPending(ctx context.Context, order *models.Order) error {
	current, err := s.subscriptions.GetByUserID(ctx, order.UserID)
	if err == nil && (current.Status == models.SubscriptionActive || current.Status == models.SubscriptionPaused) {
		return nil
	}
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return err
	}
	_, err = s.subscriptions.Begin(ctx, order.UserID, order.PlanID, order.BillingCycle, order.SubscriptionRef())
	return err
}

func (s *OrderService) activateFree(ctx context.Context, userID uint) (*models.CheckoutOrder, error) {
	current, err := s.subscriptions.GetByUserID(ctx, userID)
	if err == nil && (current.Status == models.SubscriptionActive || current.Status == models.SubscriptionPaused) {
		return nil, ErrSubscriptionActive
	}
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, err
	}

	ref := "free_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	order := &models.Order{
		OrderID:  ref,
		UserID:   userID,
		PlanID:   string(plans.Free),
		Currency: plans.Currency,
		Status:   models.OrderStatusCreated,
		Receipt:  ref,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("store order: %w", err)
	}

	err = s.reconciler.settle(ctx, order, &gateway.Payment{
		ID:       ref,
		OrderID:  ref,
		Amount:   0,
		Currency: plans.Currency,
		Status:   models.PaymentStatusCaptured,
	})
	if err != nil {
		return nil, err
	}

	return &models.CheckoutOrder{
		OrderID:  order.OrderID,
		PlanID:   order.PlanID,
		Currency: order.Currency,
		KeyID:    s.keyID,
	}, nil
}

func (s *OrderService) Entitlement(ctx context.Context, userID uint) (*models.UserEntitlement, error) {
	return s.allocator.Current(ctx, userID)
}

func (s *OrderService) Orders(ctx context.Context, userID uint) ([]models.Order, error) {
	return s.orders.GetUserOrders(ctx, userID)
}

func (s *OrderService) History(ctx context.Context, userID uint) ([]models.Payment, error) {
	return s.payments.GetUserPaymentHistory(ctx, userID)
}

func newReceipt() string {
	return "rcpt_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
