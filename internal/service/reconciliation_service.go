package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sefazor/postpilot-backend/internal/models"
	"github.com/sefazor/postpilot-backend/internal/plans"
	"github.com/sefazor/postpilot-backend/internal/repository"
	"github.com/sefazor/postpilot-backend/pkg/email"
	"github.com/sefazor/postpilot-backend/pkg/gateway"
	"github.com/sefazor/postpilot-backend/pkg/invoice"
	"github.com/sefazor/postpilot-backend/pkg/logger"
	"go.uber.org/zap"
)

const sideEffectTimeout = 30 * time.Second

// ReconciliationService turns a verified gateway payment into order, ledger,
// subscription and entitlement state. Verify and the webhook router share
// settle, so every step here is idempotent.
type ReconciliationService struct {
	orders        *repository.OrderRepository
	payments      *repository.PaymentRepository
	users         *repository.UserRepository
	subscriptions *SubscriptionService
	allocator     *CreditAllocator
	gateway       PaymentGateway
	invoices      InvoiceIssuer
	notifier      Notifier
	keySecret     string
	logger        *zap.Logger

	now   func() time.Time
	async func(func())
}

func NewReconciliationService(
	orders *repository.OrderRepository,
	payments *repository.PaymentRepository,
	users *repository.UserRepository,
	subscriptions *SubscriptionService,
	allocator *CreditAllocator,
	gateway PaymentGateway,
	invoices InvoiceIssuer,
	notifier Notifier,
	keySecret string,
	logger *zap.Logger,
) *ReconciliationService {
	return &ReconciliationService{
		orders:        orders,
		payments:      payments,
		users:         users,
		subscriptions: subscriptions,
		allocator:     allocator,
		gateway:       gateway,
		invoices:      invoices,
		notifier:      notifier,
		keySecret:     keySecret,
		logger:        logger.Named("reconciliation"),
		now:           time.Now,
		async:         func(f func()) { go f() },
	}
}

// Verify checks a client-reported payment for one of the user's orders and
// settles it. Calling it again for a settled payment returns the same result.
func (s *ReconciliationService) Verify(ctx context.Context, userID uint, req models.VerifyPaymentRequest) (*models.VerifyPaymentResponse, error) {
	if s.keySecret == "" {
		s.logger.Error("verify called without RAZORPAY_KEY_SECRET")
		return nil, ErrNotConfigured
	}
	if req.OrderID == "" || req.PaymentID == "" || req.Signature == "" {
		return nil, ErrMissingParams
	}

	payload := paymentSignaturePayload(req.OrderID, req.PaymentID)
	if err := checkSignature(payload, req.Signature, []byte(s.keySecret)); err != nil {
		s.logger.Warn("payment signature rejected",
			zap.String("order_id", req.OrderID),
			zap.String("payment_id", req.PaymentID),
			zap.String("signature", logger.Redact(req.Signature)),
			zap.Error(err),
		)
		return nil, err
	}

	gp, err := s.gateway.FetchPayment(ctx, req.PaymentID)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, fmt.Errorf("%w: gateway has no payment %s", ErrPaymentMismatch, req.PaymentID)
		}
		return nil, err
	}
	if !settleable(gp.Status) {
		s.logger.Warn("payment not captured", zap.String("payment_id", gp.ID), zap.String("status", gp.Status))
		return nil, fmt.Errorf("%w: status %s", ErrPaymentNotCaptured, gp.Status)
	}

	order, err := s.orders.GetByOrderID(ctx, req.OrderID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("load order: %w", err)
	}
	if order.UserID != userID {
		s.logger.Warn("order belongs to another user", zap.String("order_id", order.OrderID), zap.Uint("user_id", userID))
		return nil, ErrOrderNotFound
	}

	if err := s.checkPayment(order, gp); err != nil {
		return nil, err
	}

	if err := s.settle(ctx, order, gp); err != nil {
		return nil, err
	}

	return &models.VerifyPaymentResponse{
		Success:   true,
		PaymentID: gp.ID,
		OrderID:   order.OrderID,
		PlanID:    order.PlanID,
		Amount:    order.TotalAmount(),
	}, nil
}

// checkPayment cross-checks the gateway payment against the stored order.
func (s *ReconciliationService) checkPayment(order *models.Order, gp *gateway.Payment) error {
	if order.SubscriptionID == "" && gp.OrderID != order.OrderID {
		s.logger.Warn("payment order mismatch",
			zap.String("order_id", order.OrderID),
			zap.String("gateway_order_id", gp.OrderID),
		)
		return ErrPaymentMismatch
	}
	if !strings.EqualFold(gp.Currency, order.Currency) {
		return fmt.Errorf("%w: currency %s", ErrPaymentMismatch, gp.Currency)
	}
	if gp.Amount != order.TotalAmount() {
		s.logger.Warn("payment amount mismatch",
			zap.String("order_id", order.OrderID),
			zap.Int64("expected", order.TotalAmount()),
			zap.Int64("actual", gp.Amount),
		)
		return fmt.Errorf("%w: expected %d, got %d", ErrAmountMismatch, order.TotalAmount(), gp.Amount)
	}
	return nil
}

// settle commits a checked payment: order paid, ledger row, then exactly one
// allocation path. Side effects run only for the call that wrote the ledger row.
func (s *ReconciliationService) settle(ctx context.Context, order *models.Order, gp *gateway.Payment) error {
	now := s.now()

	transitioned, err := s.orders.MarkPaid(ctx, order.OrderID, gp.ID, now)
	if err != nil {
		return fmt.Errorf("mark order paid: %w", err)
	}
	paidBy := gp.ID
	if !transitioned {
		current, err := s.orders.GetByOrderID(ctx, order.OrderID)
		if err != nil {
			return fmt.Errorf("reload order: %w", err)
		}
		paidBy = current.PaymentID
	}

	payment := &models.Payment{
		PaymentID:      gp.ID,
		OrderID:        order.OrderID,
		UserID:         order.UserID,
		PlanID:         order.PlanID,
		Amount:         order.BaseAmount,
		TaxAmount:      order.TaxAmount,
		TotalAmount:    gp.Amount,
		Currency:       strings.ToUpper(gp.Currency),
		Status:         ledgerStatus(gp.Status),
		PaymentType:    paymentTypeFor(order.PlanID),
		SubscriptionID: order.SubscriptionID,
	}
	created, err := s.payments.Record(ctx, payment)
	if err != nil {
		return fmt.Errorf("record payment: %w", err)
	}
	if !created && gp.Status == models.PaymentStatusCaptured {
		if _, err := s.payments.MarkCaptured(ctx, gp.ID); err != nil {
			return fmt.Errorf("mark payment captured: %w", err)
		}
	}

	if paidBy != gp.ID {
		// The order was settled by another payment; keep this one in the
		// ledger for refund and grant nothing.
		s.logger.Warn("second payment for settled order",
			zap.String("order_id", order.OrderID),
			zap.String("payment_id", gp.ID),
			zap.String("settled_by", paidBy),
		)
		return nil
	}

	if err := s.allocate(ctx, order, gp.ID, !transitioned && !created); err != nil {
		return err
	}

	s.logger.Info("payment settled",
		zap.String("order_id", order.OrderID),
		zap.String("payment_id", gp.ID),
		zap.String("plan_id", order.PlanID),
		zap.Bool("order_transitioned", transitioned),
		zap.Bool("ledger_created", created),
	)

	if created {
		s.dispatchSideEffects(*payment, order.BillingCycle)
	}
	return nil
}

// allocate grants what order bought. A replay is a settlement whose order and
// ledger rows already existed; it may only repair the grant it made, never
// reopen a subscription that a later purchase has replaced.
func (s *ReconciliationService) allocate(ctx context.Context, order *models.Order, paymentID string, replay bool) error {
	switch {
	case plans.IsTopup(order.PlanID):
		_, _, err := s.allocator.TopUp(ctx, order.UserID, paymentID, order.PlanID)
		return err

	case plans.IsFree(order.PlanID):
		if replay {
			return nil
		}
		_, err := s.allocator.Replace(ctx, order.UserID, string(plans.Free), models.SubscriptionActive, nil)
		return err

	case replay:
		return s.repairCharge(ctx, order, paymentID)

	default:
		_, err := s.subscriptions.Charge(ctx, order.UserID, order.PlanID, order.BillingCycle, order.SubscriptionRef(), paymentID)
		if errors.Is(err, ErrTerminalState) {
			s.logger.Warn("payment for a closed subscription, entitlement unchanged",
				zap.String("order_id", order.OrderID),
				zap.String("payment_id", paymentID),
			)
			return nil
		}
		return err
	}
}

// repairCharge re-runs the charge for a replayed settlement only while the
// user's subscription still tracks this order, or when no subscription row
// was ever opened for it.
func (s *ReconciliationService) repairCharge(ctx context.Context, order *models.Order, paymentID string) error {
	ref := order.SubscriptionRef()
	sub, err := s.subscriptions.GetByUserID(ctx, order.UserID)
	switch {
	case errors.Is(err, ErrSubscriptionNotFound):
		_, err = s.subscriptions.Charge(ctx, order.UserID, order.PlanID, order.BillingCycle, ref, paymentID)
	case err != nil:
		return err
	case sub.RazorpaySubscriptionID != ref:
		s.logger.Info("replayed payment for a superseded subscription, entitlement unchanged",
			zap.String("order_id", order.OrderID),
			zap.String("payment_id", paymentID),
			zap.String("current_subscription", sub.RazorpaySubscriptionID),
		)
		return nil
	default:
		_, err = s.subscriptions.Apply(ctx, ref, Transition{Trigger: TriggerCharge, PaymentID: paymentID})
	}
	if errors.Is(err, ErrTerminalState) {
		return nil
	}
	return err
}

// dispatchSideEffects issues the invoice and sends the receipt without
// blocking the caller. Failures are logged and never surface.
func (s *ReconciliationService) dispatchSideEffects(payment models.Payment, cycle string) {
	if payment.TotalAmount == 0 || (s.invoices == nil && s.notifier == nil) {
		return
	}

	s.async(func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("payment side effects panicked", zap.String("payment_id", payment.PaymentID), zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()

		user, err := s.users.GetByID(ctx, payment.UserID)
		if err != nil {
			s.logger.Error("load user for receipt", zap.Uint("user_id", payment.UserID), zap.Error(err))
			return
		}

		var invoiceURL string
		if s.invoices != nil && payment.PaymentType == models.PaymentTypeSubscription {
			inv, err := s.invoices.IssuePaidInvoice(ctx, invoice.Request{
				PaymentID: payment.PaymentID,
				OrderID:   payment.OrderID,
				Email:     user.Email,
				Name:      user.FullName,
				PlanID:    payment.PlanID,
				Cycle:     cycle,
				Currency:  payment.Currency,
				Amount:    payment.Amount,
				TaxAmount: payment.TaxAmount,
			})
			if err != nil {
				s.logger.Error("issue invoice", zap.String("payment_id", payment.PaymentID), zap.Error(err))
			} else {
				invoiceURL = inv.HostedURL
			}
		}

		if s.notifier != nil {
			receipt := email.Receipt{
				Email:       user.Email,
				FullName:    user.FullName,
				PlanID:      payment.PlanID,
				PaymentID:   payment.PaymentID,
				OrderID:     payment.OrderID,
				Currency:    payment.Currency,
				Amount:      payment.Amount,
				TaxAmount:   payment.TaxAmount,
				TotalAmount: payment.TotalAmount,
				InvoiceURL:  invoiceURL,
			}
			if pack, ok := plans.TopupFor(payment.PlanID); ok {
				receipt.Credits = pack.Credits
			}
			if err := s.notifier.SendPaymentReceipt(ctx, receipt); err != nil {
				s.logger.Error("send receipt", zap.String("payment_id", payment.PaymentID), zap.Error(err))
			}
		}
	})
}

func settleable(status string) bool {
	return status == models.PaymentStatusCaptured || status == models.PaymentStatusAuthorized
}

func ledgerStatus(status string) string {
	switch status {
	case models.PaymentStatusCaptured, models.PaymentStatusAuthorized:
		return status
	default:
		return models.PaymentStatusFailed
	}
}

func paymentTypeFor(planID string) string {
	switch {
	case plans.IsTopup(planID):
		return models.PaymentTypeTopup
	case plans.IsFree(planID):
		return models.PaymentTypeFree
	default:
		return models.PaymentTypeSubscription
	}
}
