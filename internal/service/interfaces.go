package service

import (
	"context"

	"github.com/sefazor/postpilot-backend/pkg/email"
	"github.com/sefazor/postpilot-backend/pkg/gateway"
	"github.com/sefazor/postpilot-backend/pkg/invoice"
)

// PaymentGateway is the subset of the gateway API used to corroborate
// inbound claims and to open orders.
type PaymentGateway interface {
	FetchPayment(ctx context.Context, paymentID string) (*gateway.Payment, error)
	FetchSubscription(ctx context.Context, subscriptionID string) (*gateway.Subscription, error)
	CreateOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.Order, error)
}

type InvoiceIssuer interface {
	IssuePaidInvoice(ctx context.Context, req invoice.Request) (*invoice.Invoice, error)
}

type Notifier interface {
	SendPaymentReceipt(ctx context.Context, r email.Receipt) error
}

type WebhookArchiver interface {
	Archive(ctx context.Context, eventKey string, body []byte) error
}
