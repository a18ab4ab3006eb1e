package invoice

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/customer"
	"github.com/stripe/stripe-go/v74/invoice"
	"github.com/stripe/stripe-go/v74/invoiceitem"
)

// Request describes a payment that has already been settled through the
// payment gateway and needs a tax invoice.
type Request struct {
	PaymentID string
	OrderID   string
	Email     string
	Name      string
	PlanID    string
	Cycle     string
	Currency  string
	Amount    int64
	TaxAmount int64
}

type Invoice struct {
	ID        string
	Number    string
	HostedURL string
	PDFURL    string
}

type StripeService struct {
	secretKey string
}

func NewStripeService(secretKey string) *StripeService {
	stripe.Key = secretKey
	return &StripeService{
		secretKey: secretKey,
	}
}

// IssuePaidInvoice creates, finalizes and marks as paid out of band an
// invoice for req. Every Stripe call is keyed by the payment id, so retrying
// for the same payment does not create duplicates.
func (s *StripeService) IssuePaidInvoice(ctx context.Context, req Request) (*Invoice, error) {
	cust, err := s.findOrCreateCustomer(ctx, req)
	if err != nil {
		return nil, err
	}

	currency := strings.ToLower(req.Currency)

	invParams := &stripe.InvoiceParams{
		Customer:    stripe.String(cust.ID),
		AutoAdvance: stripe.Bool(false),
		Description: stripe.String(fmt.Sprintf("Payment %s for order %s", req.PaymentID, req.OrderID)),
	}
	invParams.Context = ctx
	invParams.SetIdempotencyKey("invoice-" + req.PaymentID)
	invParams.AddMetadata("payment_id", req.PaymentID)
	invParams.AddMetadata("order_id", req.OrderID)
	inv, err := invoice.New(invParams)
	if err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	lines := []struct {
		key         string
		amount      int64
		description string
	}{
		{"base", req.Amount, describePlan(req.PlanID, req.Cycle)},
		{"tax", req.TaxAmount, "GST 18%"},
	}
	for _, line := range lines {
		if line.amount <= 0 {
			continue
		}
		itemParams := &stripe.InvoiceItemParams{
			Customer:    stripe.String(cust.ID),
			Invoice:     stripe.String(inv.ID),
			Amount:      stripe.Int64(line.amount),
			Currency:    stripe.String(currency),
			Description: stripe.String(line.description),
		}
		itemParams.Context = ctx
		itemParams.SetIdempotencyKey("invoice-item-" + line.key + "-" + req.PaymentID)
		if _, err := invoiceitem.New(itemParams); err != nil {
			return nil, fmt.Errorf("add invoice item: %w", err)
		}
	}

	finParams := &stripe.InvoiceFinalizeInvoiceParams{}
	finParams.Context = ctx
	finParams.SetIdempotencyKey("invoice-finalize-" + req.PaymentID)
	if _, err := invoice.FinalizeInvoice(inv.ID, finParams); err != nil {
		return nil, fmt.Errorf("finalize invoice: %w", err)
	}

	payParams := &stripe.InvoicePayParams{
		PaidOutOfBand: stripe.Bool(true),
	}
	payParams.Context = ctx
	payParams.SetIdempotencyKey("invoice-pay-" + req.PaymentID)
	paid, err := invoice.Pay(inv.ID, payParams)
	if err != nil {
		return nil, fmt.Errorf("mark invoice paid: %w", err)
	}

	return &Invoice{
		ID:        paid.ID,
		Number:    paid.Number,
		HostedURL: paid.HostedInvoiceURL,
		PDFURL:    paid.InvoicePDF,
	}, nil
}

func (s *StripeService) findOrCreateCustomer(ctx context.Context, req Request) (*stripe.Customer, error) {
	listParams := &stripe.CustomerListParams{
		Email: stripe.String(req.Email),
	}
	listParams.Context = ctx
	listParams.Limit = stripe.Int64(1)
	iter := customer.List(listParams)
	if iter.Next() {
		return iter.Customer(), nil
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("lookup customer: %w", err)
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(req.Email),
		Name:  stripe.String(req.Name),
	}
	params.Context = ctx
	params.SetIdempotencyKey("customer-" + req.PaymentID)
	cust, err := customer.New(params)
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	return cust, nil
}

func describePlan(planID, cycle string) string {
	if cycle == "" {
		return fmt.Sprintf("PostPilot %s plan", planID)
	}
	return fmt.Sprintf("PostPilot %s plan (%s)", planID, cycle)
}
