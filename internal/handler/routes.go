package handler

import "github.com/gofiber/fiber/v2"

// RegisterPaymentRoutes mounts the payment API under router. The webhook and
// plan catalog are public; everything else runs behind auth.
func RegisterPaymentRoutes(router fiber.Router, h *PaymentHandler, auth fiber.Handler) {
	payments := router.Group("/payments")

	payments.Get("/plans", h.GetPlans)
	payments.Post("/webhook", h.HandleWebhook)

	payments.Post("/orders", auth, h.CreateOrder)
	payments.Get("/orders", auth, h.GetOrders)
	payments.Post("/verify", auth, h.VerifyPayment)
	payments.Get("/entitlement", auth, h.GetEntitlement)
	payments.Get("/history", auth, h.GetPaymentHistory)
}
