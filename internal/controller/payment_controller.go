package controller

import (
	"context"

	"github.com/sefazor/postpilot-backend/internal/models"
	"github.com/sefazor/postpilot-backend/internal/service"
)

type PaymentController struct {
	reconciliationService *service.ReconciliationService
	webhookService        *service.WebhookService
	orderService          *service.OrderService
}

func NewPaymentController(
	reconciliationService *service.ReconciliationService,
	webhookService *service.WebhookService,
	orderService *service.OrderService,
) *PaymentController {
	return &PaymentController{
		reconciliationService: reconciliationService,
		webhookService:        webhookService,
		orderService:          orderService,
	}
}

func (c *PaymentController) CreateOrder(ctx context.Context, userID uint, req models.CreateOrderRequest) (*models.CheckoutOrder, error) {
	return c.orderService.CreateOrder(ctx, userID, req)
}

func (c *PaymentController) VerifyPayment(ctx context.Context, userID uint, req models.VerifyPaymentRequest) (*models.VerifyPaymentResponse, error) {
	return c.reconciliationService.Verify(ctx, userID, req)
}

func (c *PaymentController) HandleWebhook(ctx context.Context, source, signature, eventID string, body []byte) error {
	return c.webhookService.Handle(ctx, source, signature, eventID, body)
}

func (c *PaymentController) GetEntitlement(ctx context.Context, userID uint) (*models.UserEntitlement, error) {
	return c.orderService.Entitlement(ctx, userID)
}

func (c *PaymentController) GetOrders(ctx context.Context, userID uint) ([]models.Order, error) {
	return c.orderService.Orders(ctx, userID)
}

func (c *PaymentController) GetPaymentHistory(ctx context.Context, userID uint) ([]models.Payment, error) {
	return c.orderService.History(ctx, userID)
}
