package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sefazor/postpilot-backend/internal/models"
	"github.com/sefazor/postpilot-backend/internal/plans"
	"github.com/sefazor/postpilot-backend/internal/repository"
	"github.com/sefazor/postpilot-backend/internal/testutil"
	"github.com/sefazor/postpilot-backend/pkg/email"
	"github.com/sefazor/postpilot-backend/pkg/gateway"
	"github.com/sefazor/postpilot-backend/pkg/invoice"
	"github.com/sefazor/postpilot-backend/pkg/ratelimit"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

const (
	testUserID        uint = 7
	testKeySecret          = "key_secret"
	testWebhookSecret      = "webhook_secret"
	testSource             = "203.0.113.10"
)

type fakeGateway struct {
	mu            sync.Mutex
	payments      map[string]gateway.Payment
	subscriptions map[string]gateway.Subscription
	orders        []gateway.OrderRequest
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		payments:      map[string]gateway.Payment{},
		subscriptions: map[string]gateway.Subscription{},
	}
}

func (g *fakeGateway) addPayment(p gateway.Payment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[p.ID] = p
}

func (g *fakeGateway) FetchPayment(_ context.Context, id string) (*gateway.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.payments[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return &p, nil
}

func (g *fakeGateway) FetchSubscription(_ context.Context, id string) (*gateway.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.subscriptions[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return &s, nil
}

func (g *fakeGateway) CreateOrder(_ context.Context, req gateway.OrderRequest) (*gateway.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders = append(g.orders, req)
	return &gateway.Order{
		ID:       fmt.Sprintf("order_gw%d", len(g.orders)),
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Status:   "created",
	}, nil
}

type fakeInvoices struct {
	mu       sync.Mutex
	requests []invoice.Request
	err      error
}

func (f *fakeInvoices) IssuePaidInvoice(_ context.Context, req invoice.Request) (*invoice.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &invoice.Invoice{ID: "in_" + req.PaymentID, HostedURL: "https://invoice.test/" + req.PaymentID}, nil
}

func (f *fakeInvoices) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeNotifier struct {
	mu       sync.Mutex
	receipts []email.Receipt
	panics   bool
}

func (f *fakeNotifier) SendPaymentReceipt(_ context.Context, r email.Receipt) error {
	if f.panics {
		panic("smtp exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts = append(f.receipts, r)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.receipts)
}

type fakeArchive struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeArchive) Archive(_ context.Context, key string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return nil
}

type fixture struct {
	db  *gorm.DB
	now time.Time

	gateway  *fakeGateway
	invoices *fakeInvoices
	notifier *fakeNotifier
	archive  *fakeArchive
	limiter  *ratelimit.MemoryLimiter

	orders           *repository.OrderRepository
	payments         *repository.PaymentRepository
	subscriptionRepo *repository.SubscriptionRepository
	entitlements     *repository.EntitlementRepository
	webhookEvents    *repository.WebhookEventRepository

	allocator     *CreditAllocator
	subscriptions *SubscriptionService
	reconciler    *ReconciliationService
	webhooks      *WebhookService
	orderService  *OrderService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, testutil.NewDB(t))
}

// newConcurrentFixture runs on a multi-connection database for race tests.
func newConcurrentFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, testutil.NewConcurrentDB(t))
}

func newFixtureOn(t *testing.T, db *gorm.DB) *fixture {
	t.Helper()

	log := zaptest.NewLogger(t)

	f := &fixture{
		db:       db,
		now:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		gateway:  newFakeGateway(),
		invoices: &fakeInvoices{},
		notifier: &fakeNotifier{},
		archive:  &fakeArchive{},
		limiter:  ratelimit.NewMemoryLimiter(1000, time.Minute, 100),

		orders:           repository.NewOrderRepository(db),
		payments:         repository.NewPaymentRepository(db),
		subscriptionRepo: repository.NewSubscriptionRepository(db),
		entitlements:     repository.NewEntitlementRepository(db),
		webhookEvents:    repository.NewWebhookEventRepository(db),
	}

	f.allocator = NewCreditAllocator(f.entitlements, log)
	f.subscriptions = NewSubscriptionService(f.subscriptionRepo, f.allocator, log)
	f.subscriptions.now = func() time.Time { return f.now }
	f.reconciler = NewReconciliationService(
		f.orders, f.payments, repository.NewUserRepository(db),
		f.subscriptions, f.allocator, f.gateway, f.invoices, f.notifier,
		testKeySecret, log,
	)
	f.reconciler.now = func() time.Time { return f.now }
	f.reconciler.async = func(fn func()) { fn() }
	f.webhooks = NewWebhookService(
		f.webhookEvents, f.orders, f.payments, f.subscriptions, f.reconciler,
		f.gateway, f.limiter, f.archive, testWebhookSecret, log,
	)
	f.orderService = NewOrderService(f.orders, f.payments, f.subscriptions, f.allocator, f.reconciler, f.gateway, "rzp_test_key", log)

	require.NoError(t, db.Create(&models.User{ID: testUserID, FullName: "Asha Rao", Email: "asha@example.com"}).Error)
	return f
}

// createOrder stores an order priced from the catalog.
func (f *fixture) createOrder(t *testing.T, orderID, planID, cycle string) *models.Order {
	t.Helper()
	base, ok := plans.BasePrice(planID, cycle)
	require.True(t, ok)
	return f.createOrderWithAmounts(t, orderID, planID, cycle, base, plans.GST(base))
}

func (f *fixture) createOrderWithAmounts(t *testing.T, orderID, planID, cycle string, base, tax int64) *models.Order {
	t.Helper()
	order := &models.Order{
		OrderID:      orderID,
		UserID:       testUserID,
		PlanID:       planID,
		BillingCycle: cycle,
		Currency:     plans.Currency,
		BaseAmount:   base,
		TaxAmount:    tax,
		Status:       models.OrderStatusCreated,
	}
	require.NoError(t, f.orders.Create(context.Background(), order))
	return order
}

// payOrder registers a captured gateway payment for the full order total.
func (f *fixture) payOrder(order *models.Order, paymentID string) gateway.Payment {
	p := gateway.Payment{
		ID:       paymentID,
		Entity:   "payment",
		Amount:   order.TotalAmount(),
		Currency: order.Currency,
		Status:   models.PaymentStatusCaptured,
		OrderID:  order.OrderID,
		Captured: true,
	}
	f.gateway.addPayment(p)
	return p
}

func verifyRequest(orderID, paymentID string) models.VerifyPaymentRequest {
	return models.VerifyPaymentRequest{
		OrderID:   orderID,
		PaymentID: paymentID,
		Signature: ComputeSignature(paymentSignaturePayload(orderID, paymentID), []byte(testKeySecret)),
	}
}

// eventCreatedAt is the created_at stamped on bodies built by eventBody.
const eventCreatedAt int64 = 1714564800

func eventBody(t *testing.T, kind EventKind, payment *gateway.Payment, sub *gateway.Subscription) []byte {
	t.Helper()
	return eventBodyAt(t, kind, payment, sub, eventCreatedAt)
}

func eventBodyAt(t *testing.T, kind EventKind, payment *gateway.Payment, sub *gateway.Subscription, createdAt int64) []byte {
	t.Helper()
	payload := map[string]interface{}{}
	if payment != nil {
		payload["payment"] = map[string]interface{}{"entity": payment}
	}
	if sub != nil {
		payload["subscription"] = map[string]interface{}{"entity": sub}
	}
	body, err := json.Marshal(map[string]interface{}{
		"entity":     "event",
		"account_id": "acc_test",
		"event":      kind,
		"contains":   []string{},
		"payload":    payload,
		"created_at": createdAt,
	})
	require.NoError(t, err)
	return body
}

func (f *fixture) deliver(body []byte, eventID string) error {
	sig := ComputeSignature(body, []byte(testWebhookSecret))
	return f.webhooks.Handle(context.Background(), testSource, sig, eventID, body)
}

func (f *fixture) entitlement(t *testing.T) *models.UserEntitlement {
	t.Helper()
	ent, err := f.entitlements.GetByUserID(context.Background(), testUserID)
	require.NoError(t, err)
	return ent
}

func (f *fixture) count(t *testing.T, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Count(&n).Error)
	return n
}

func (f *fixture) subscription(t *testing.T) *models.Subscription {
	t.Helper()
	sub, err := f.subscriptionRepo.GetByUserID(context.Background(), testUserID)
	require.NoError(t, err)
	return sub
}

func unix(t time.Time) *int64 {
	v := t.Unix()
	return &v
}
