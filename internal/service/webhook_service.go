package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sefazor/postpilot-backend/internal/models"
	"github.com/sefazor/postpilot-backend/internal/plans"
	"github.com/sefazor/postpilot-backend/internal/repository"
	"github.com/sefazor/postpilot-backend/pkg/gateway"
	"github.com/sefazor/postpilot-backend/pkg/logger"
	"github.com/sefazor/postpilot-backend/pkg/ratelimit"
	"go.uber.org/zap"
)

type eventHandler func(ctx context.Context, event *WebhookEvent) error

// WebhookService authenticates gateway deliveries and routes them to the
// shared settlement and subscription operations.
type WebhookService struct {
	events        *repository.WebhookEventRepository
	orders        *repository.OrderRepository
	payments      *repository.PaymentRepository
	subscriptions *SubscriptionService
	reconciler    *ReconciliationService
	gateway       PaymentGateway
	limiter       ratelimit.Limiter
	archive       WebhookArchiver
	secret        string
	logger        *zap.Logger
	handlers      map[EventKind]eventHandler
}

func NewWebhookService(
	events *repository.WebhookEventRepository,
	orders *repository.OrderRepository,
	payments *repository.PaymentRepository,
	subscriptions *SubscriptionService,
	reconciler *ReconciliationService,
	gateway PaymentGateway,
	limiter ratelimit.Limiter,
	archive WebhookArchiver,
	secret string,
	logger *zap.Logger,
) *WebhookService {
	s := &WebhookService{
		events:        events,
		orders:        orders,
		payments:      payments,
		subscriptions: subscriptions,
		reconciler:    reconciler,
		gateway:       gateway,
		limiter:       limiter,
		archive:       archive,
		secret:        secret,
		logger:        logger.Named("webhooks"),
	}
	s.handlers = map[EventKind]eventHandler{
		EventPaymentCaptured:       s.handlePaymentSettled,
		EventPaymentAuthorized:     s.handlePaymentSettled,
		EventOrderPaid:             s.handlePaymentSettled,
		EventPaymentFailed:         s.handlePaymentFailed,
		EventSubscriptionActivated: s.subscriptionHandler(TriggerActivate),
		EventSubscriptionCharged:   s.subscriptionHandler(TriggerCharge),
		EventSubscriptionHalted:    s.subscriptionHandler(TriggerPause),
		EventSubscriptionPaused:    s.subscriptionHandler(TriggerPause),
		EventSubscriptionResumed:   s.subscriptionHandler(TriggerResume),
		EventSubscriptionCancelled: s.subscriptionHandler(TriggerCancel),
		EventSubscriptionCompleted: s.subscriptionHandler(TriggerComplete),
	}
	return s
}

// Handle processes one delivery. Once the signature is accepted, processing
// failures are recorded on the stored event and Handle returns nil so the
// delivery is acknowledged.
func (s *WebhookService) Handle(ctx context.Context, source, signature, eventID string, body []byte) error {
	if s.secret == "" {
		s.logger.Error("webhook received without RAZORPAY_WEBHOOK_SECRET")
		return ErrNotConfigured
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, source)
		if err != nil {
			s.logger.Warn("rate limiter unavailable", zap.Error(err))
		} else if !allowed {
			s.logger.Warn("webhook rate limited", zap.String("source", source))
			return ErrRateLimited
		}
	}

	if signature == "" {
		return ErrMissingSignature
	}
	if err := checkSignature(body, signature, []byte(s.secret)); err != nil {
		s.logger.Warn("webhook signature rejected",
			zap.String("source", source),
			zap.String("signature", logger.Redact(signature)),
			zap.Error(err),
		)
		return err
	}

	event, err := parseWebhookEvent(body)
	if err != nil {
		return err
	}

	key := eventID
	if key == "" {
		key = event.Key()
	}

	created, stored, err := s.events.CreateIfNotExists(ctx, &models.WebhookEvent{
		EventKey:  key,
		EventType: string(event.Event),
		Payload:   string(body),
	})
	if err != nil {
		return fmt.Errorf("store webhook event: %w", err)
	}
	if stored.Done() {
		s.logger.Info("duplicate webhook acknowledged", zap.String("event_key", key), zap.String("event", string(event.Event)))
		return nil
	}
	if created {
		s.archiveBody(ctx, key, body)
	}

	var procErr error
	handler, ok := s.handlers[event.Event]
	if !ok {
		s.logger.Info("unhandled webhook event acknowledged", zap.String("event", string(event.Event)))
	} else {
		procErr = handler(ctx, event)
	}

	var procMsg string
	if procErr != nil {
		procMsg = procErr.Error()
		s.logger.Error("webhook processing failed",
			zap.String("event_key", key),
			zap.String("event", string(event.Event)),
			zap.Error(procErr),
		)
	}
	if err := s.events.MarkProcessed(ctx, stored.ID, procMsg); err != nil {
		s.logger.Error("mark webhook processed", zap.String("event_key", key), zap.Error(err))
	}
	return nil
}

func (s *WebhookService) archiveBody(ctx context.Context, key string, body []byte) {
	if s.archive == nil {
		return
	}
	if err := s.archive.Archive(ctx, key, body); err != nil {
		s.logger.Warn("archive webhook body", zap.String("event_key", key), zap.Error(err))
	}
}

// handlePaymentSettled settles through the order when it is known. Otherwise
// it activates a still pending subscription the payment refers to, covering
// clients that never called verify.
func (s *WebhookService) handlePaymentSettled(ctx context.Context, event *WebhookEvent) error {
	p := event.payment()
	if p == nil {
		return fmt.Errorf("%w: %s without payment entity", ErrInvalidPayload, event.Event)
	}
	if !settleable(p.Status) {
		s.logger.Info("ignoring unsettled payment", zap.String("payment_id", p.ID), zap.String("status", p.Status))
		return nil
	}

	if p.OrderID != "" {
		order, err := s.orders.GetByOrderID(ctx, p.OrderID)
		switch {
		case err == nil:
			if err := s.reconciler.checkPayment(order, p); err != nil {
				return err
			}
			return s.reconciler.settle(ctx, order, p)
		case !isNotFound(err):
			return fmt.Errorf("load order: %w", err)
		}
	}

	ref := p.SubscriptionRef()
	if se := event.subscription(); se != nil {
		ref = se.ID
	}
	if ref == "" {
		s.logger.Info("payment not linked to a known order or subscription", zap.String("payment_id", p.ID))
		return nil
	}

	sub, err := s.subscriptions.GetByGatewayID(ctx, ref)
	if err != nil {
		return err
	}
	if sub.Status != models.SubscriptionPending {
		s.logger.Debug("subscription already past pending", zap.String("subscription_id", ref), zap.String("status", string(sub.Status)))
		return nil
	}

	payment, created, err := s.recordSubscriptionPayment(ctx, sub, p)
	if err != nil {
		return err
	}
	if _, err := s.subscriptions.Apply(ctx, ref, Transition{Trigger: TriggerCharge, PaymentID: p.ID}); err != nil {
		return err
	}
	if created {
		s.reconciler.dispatchSideEffects(*payment, sub.BillingCycle)
	}
	return nil
}

func (s *WebhookService) handlePaymentFailed(ctx context.Context, event *WebhookEvent) error {
	p := event.payment()
	if p == nil {
		return fmt.Errorf("%w: %s without payment entity", ErrInvalidPayload, event.Event)
	}

	payment := &models.Payment{
		PaymentID:   p.ID,
		OrderID:     p.OrderID,
		TotalAmount: p.Amount,
		Currency:    strings.ToUpper(p.Currency),
		Status:      models.PaymentStatusFailed,
	}
	payment.Amount, payment.TaxAmount = plans.SplitGross(p.Amount)

	if order, err := s.orders.GetByOrderID(ctx, p.OrderID); err == nil {
		payment.UserID = order.UserID
		payment.PlanID = order.PlanID
		payment.Amount, payment.TaxAmount = order.BaseAmount, order.TaxAmount
		payment.SubscriptionID = order.SubscriptionID
	} else if !isNotFound(err) {
		return fmt.Errorf("load order: %w", err)
	} else if ref := p.SubscriptionRef(); ref != "" {
		sub, err := s.subscriptions.GetByGatewayID(ctx, ref)
		if err != nil {
			return err
		}
		payment.UserID = sub.UserID
		payment.PlanID = sub.PlanID
		payment.SubscriptionID = ref
	} else {
		s.logger.Info("failed payment not linked to a known order", zap.String("payment_id", p.ID))
		return nil
	}
	payment.PaymentType = paymentTypeFor(payment.PlanID)

	created, err := s.payments.Record(ctx, payment)
	if err != nil {
		return fmt.Errorf("record failed payment: %w", err)
	}
	s.logger.Info("payment failed",
		zap.String("payment_id", p.ID),
		zap.String("order_id", p.OrderID),
		zap.String("reason", p.ErrorReason),
		zap.Bool("recorded", created),
	)
	return nil
}

func (s *WebhookService) subscriptionHandler(trigger Trigger) eventHandler {
	return func(ctx context.Context, event *WebhookEvent) error {
		se := event.subscription()
		if se == nil {
			return fmt.Errorf("%w: %s without subscription entity", ErrInvalidPayload, event.Event)
		}

		sub, err := s.resolveSubscription(ctx, se, trigger)
		if err != nil {
			return err
		}

		t := Transition{Trigger: trigger}
		if trigger == TriggerActivate || trigger == TriggerCharge {
			s.attachWindow(ctx, se, &t)
		}

		var payment *models.Payment
		var created bool
		if p := event.payment(); p != nil && (trigger == TriggerActivate || trigger == TriggerCharge) {
			if !settleable(p.Status) {
				s.logger.Info("ignoring unsettled subscription payment", zap.String("payment_id", p.ID), zap.String("status", p.Status))
				return nil
			}
			t.PaymentID = p.ID
			payment, created, err = s.recordSubscriptionPayment(ctx, sub, p)
			if err != nil {
				return err
			}
		}

		if _, err := s.subscriptions.Apply(ctx, se.ID, t); err != nil {
			return err
		}
		if created {
			s.reconciler.dispatchSideEffects(*payment, sub.BillingCycle)
		}
		return nil
	}
}

// resolveSubscription finds the local row for a gateway subscription. A
// subscription created outside checkout is adopted from its notes, but only
// by triggers that can start one.
func (s *WebhookService) resolveSubscription(ctx context.Context, se *gateway.Subscription, trigger Trigger) (*models.Subscription, error) {
	sub, err := s.subscriptions.GetByGatewayID(ctx, se.ID)
	if err == nil || !errors.Is(err, ErrSubscriptionNotFound) {
		return sub, err
	}
	if trigger != TriggerActivate && trigger != TriggerCharge {
		return nil, err
	}

	userID, convErr := strconv.ParseUint(se.Notes["user_id"], 10, 64)
	planID := se.Notes["plan_id"]
	if convErr != nil || planID == "" {
		return nil, err
	}
	return s.subscriptions.Begin(ctx, uint(userID), planID, se.Notes["billing_cycle"], se.ID)
}

// attachWindow copies the gateway billing window onto t, fetching the
// subscription when the payload does not carry one.
func (s *WebhookService) attachWindow(ctx context.Context, se *gateway.Subscription, t *Transition) {
	start, end, ok := se.Window()
	if !ok && s.gateway != nil {
		fetched, err := s.gateway.FetchSubscription(ctx, se.ID)
		if err != nil {
			s.logger.Warn("fetch subscription window", zap.String("subscription_id", se.ID), zap.Error(err))
			return
		}
		start, end, ok = fetched.Window()
	}
	if ok {
		t.WindowStart, t.WindowEnd = &start, &end
	}
}

func (s *WebhookService) recordSubscriptionPayment(ctx context.Context, sub *models.Subscription, p *gateway.Payment) (*models.Payment, bool, error) {
	base, tax := plans.SplitGross(p.Amount)
	payment := &models.Payment{
		PaymentID:      p.ID,
		OrderID:        p.OrderID,
		UserID:         sub.UserID,
		PlanID:         sub.PlanID,
		Amount:         base,
		TaxAmount:      tax,
		TotalAmount:    p.Amount,
		Currency:       strings.ToUpper(p.Currency),
		Status:         ledgerStatus(p.Status),
		PaymentType:    models.PaymentTypeSubscription,
		SubscriptionID: sub.RazorpaySubscriptionID,
	}

	created, err := s.payments.Record(ctx, payment)
	if err != nil {
		return nil, false, fmt.Errorf("record subscription payment: %w", err)
	}
	if !created && p.Status == models.PaymentStatusCaptured {
		if _, err := s.payments.MarkCaptured(ctx, p.ID); err != nil {
			return nil, false, fmt.Errorf("mark payment captured: %w", err)
		}
	}
	return payment, created, nil
}
