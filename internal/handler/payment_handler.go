package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sefazor/postpilot-backend/internal/controller"
	"github.com/sefazor/postpilot-backend/internal/models"
	"github.com/sefazor/postpilot-backend/internal/plans"
	"github.com/sefazor/postpilot-backend/internal/service"
	"github.com/sefazor/postpilot-backend/pkg/utils"
	"go.uber.org/zap"
)

const (
	headerSignature = "X-Razorpay-Signature"
	headerEventID   = "X-Razorpay-Event-Id"
)

type PaymentHandler struct {
	paymentController *controller.PaymentController
	validator         *utils.Validator
	logger            *zap.Logger
}

func NewPaymentHandler(paymentController *controller.PaymentController, validator *utils.Validator, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		paymentController: paymentController,
		validator:         validator,
		logger:            logger.Named("http"),
	}
}

func (h *PaymentHandler) GetPlans(c *fiber.Ctx) error {
	return c.JSON(models.SuccessResponse(plans.Listing(), ""))
}

func (h *PaymentHandler) CreateOrder(c *fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	var req models.CreateOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse("Invalid request body"))
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse(utils.Message(err)))
	}

	order, err := h.paymentController.CreateOrder(c.UserContext(), userID, req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(models.SuccessResponse(order, "Order created"))
}

func (h *PaymentHandler) VerifyPayment(c *fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	var req models.VerifyPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse("Invalid request body"))
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse(utils.Message(err)))
	}

	resp, err := h.paymentController.VerifyPayment(c.UserContext(), userID, req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(resp)
}

// HandleWebhook passes the raw body through untouched; the signature covers
// the exact bytes the gateway sent.
func (h *PaymentHandler) HandleWebhook(c *fiber.Ctx) error {
	body := append([]byte(nil), c.Body()...)

	err := h.paymentController.HandleWebhook(c.UserContext(), c.IP(), c.Get(headerSignature), c.Get(headerEventID), body)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"status":  "received",
	})
}

func (h *PaymentHandler) GetEntitlement(c *fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	ent, err := h.paymentController.GetEntitlement(c.UserContext(), userID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(models.SuccessResponse(ent, ""))
}

func (h *PaymentHandler) GetOrders(c *fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	orders, err := h.paymentController.GetOrders(c.UserContext(), userID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(models.SuccessResponse(orders, ""))
}

func (h *PaymentHandler) GetPaymentHistory(c *fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	payments, err := h.paymentController.GetPaymentHistory(c.UserContext(), userID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(models.SuccessResponse(payments, ""))
}

func (h *PaymentHandler) fail(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status == fiber.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		msg := "Internal server error"
		if errors.Is(err, service.ErrNotConfigured) {
			msg = "Payment verification is not configured"
		}
		return c.Status(status).JSON(models.ErrorResponse(msg))
	}
	return c.Status(status).JSON(models.ErrorResponse(err.Error()))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrOrderNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, service.ErrRateLimited):
		return fiber.StatusTooManyRequests
	case errors.Is(err, service.ErrSubscriptionActive):
		return fiber.StatusConflict
	case errors.Is(err, service.ErrMissingParams),
		errors.Is(err, service.ErrMissingSignature),
		errors.Is(err, service.ErrInvalidSignatureFormat),
		errors.Is(err, service.ErrInvalidPayload),
		errors.Is(err, service.ErrInvalidPlan),
		errors.Is(err, service.ErrSignatureMismatch),
		errors.Is(err, service.ErrPaymentNotCaptured),
		errors.Is(err, service.ErrPaymentMismatch),
		errors.Is(err, service.ErrAmountMismatch):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

func currentUser(c *fiber.Ctx) (uint, bool) {
	userID, ok := c.Locals("userID").(uint)
	return userID, ok && userID != 0
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(models.ErrorResponse("User not authenticated"))
}
