package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sefazor/postpilot-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestVerify_TopupIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, "order_topup", "topup_25", "")
	f.payOrder(order, "pay_topup")

	first, err := f.reconciler.Verify(ctx, testUserID, verifyRequest("order_topup", "pay_topup"))
	require.NoError(t, err)
	second, err := f.reconciler.Verify(ctx, testUserID, verifyRequest("order_topup", "pay_topup"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, &models.VerifyPaymentResponse{
		Success:   true,
		PaymentID: "pay_topup",
		OrderID:   "order_topup",
		PlanID:    "topup_25",
		Amount:    order.TotalAmount(),
	}, first)

	assert.Equal(t, int64(1), f.count(t, &models.Payment{}))
	assert.Equal(t, int64(1), f.count(t, &models.TopupGrant{}))
	assert.Equal(t, 28, f.entitlement(t).ImageEnhancementCredits)

	stored, err := f.orders.GetByOrderID(ctx, "order_topup")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, stored.Status)
	assert.Equal(t, "pay_topup", stored.PaymentID)

	assert.Equal(t, 1, f.notifier.count(), "receipt sent once")
	assert.Equal(t, 25, f.notifier.receipts[0].Credits)
	assert.Zero(t, f.invoices.count(), "top-ups are not invoiced")
}

func TestVerify_ActivatesSubscription(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t, "order_starter", "starter", models.BillingCycleMonthly)
	f.payOrder(order, "pay_starter")

	_, err := f.reconciler.Verify(context.Background(), testUserID, verifyRequest("order_starter", "pay_starter"))
	require.NoError(t, err)

	sub := f.subscription(t)
	assert.Equal(t, models.SubscriptionActive, sub.Status)
	assert.Equal(t, "pay_starter", sub.LastPaymentID)
	assert.Equal(t, "order_starter", sub.RazorpaySubscriptionID)
	require.NotNil(t, sub.CurrentEnd)
	assert.WithinDuration(t, f.now.AddDate(0, 1, 0), *sub.CurrentEnd, time.Second)

	ent := f.entitlement(t)
	assert.Equal(t, 50, ent.PostGenerationCredits)
	assert.Equal(t, 25, ent.ImageEnhancementCredits)
	assert.Equal(t, int64(5120), ent.MediaStorageLimit)
	assert.Equal(t, "starter", ent.SubscriptionPlan)
	assert.Equal(t, "active", ent.SubscriptionStatus)

	require.Equal(t, 1, f.invoices.count())
	assert.Equal(t, int64(99900), f.invoices.requests[0].Amount)
	assert.Equal(t, int64(17982), f.invoices.requests[0].TaxAmount)
	require.Equal(t, 1, f.notifier.count())
	assert.Equal(t, "https://invoice.test/pay_starter", f.notifier.receipts[0].InvoiceURL)
	assert.Equal(t, "asha@example.com", f.notifier.receipts[0].Email)
}

func TestVerify_AmountMismatchLeavesOrderCreated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrderWithAmounts(t, "order_short", "starter", models.BillingCycleMonthly, 999, 180)
	p := f.payOrder(order, "pay_short")
	p.Amount = 999
	f.gateway.addPayment(p)

	_, err := f.reconciler.Verify(ctx, testUserID, verifyRequest("order_short", "pay_short"))
	assert.ErrorIs(t, err, ErrAmountMismatch)

	stored, err := f.orders.GetByOrderID(ctx, "order_short")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCreated, stored.Status)
	assert.Zero(t, f.count(t, &models.Payment{}))
	assert.Zero(t, f.count(t, &models.UserEntitlement{}))
}

func TestVerify_RejectedSignatureChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, "order_sig", "growth", models.BillingCycleYearly)
	f.payOrder(order, "pay_sig")

	before := snapshot(t, f)

	tampered := verifyRequest("order_sig", "pay_other")
	tampered.PaymentID = "pay_sig"
	_, err := f.reconciler.Verify(ctx, testUserID, tampered)
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	malformed := verifyRequest("order_sig", "pay_sig")
	malformed.Signature = "deadbeef"
	_, err = f.reconciler.Verify(ctx, testUserID, malformed)
	assert.ErrorIs(t, err, ErrInvalidSignatureFormat)

	webhookSigned := verifyRequest("order_sig", "pay_sig")
	webhookSigned.Signature = ComputeSignature(paymentSignaturePayload("order_sig", "pay_sig"), []byte(testWebhookSecret))
	_, err = f.reconciler.Verify(ctx, testUserID, webhookSigned)
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	assert.Equal(t, before, snapshot(t, f))
}

func TestVerify_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, "order_pre", "starter", "")
	f.payOrder(order, "pay_pre")

	_, err := f.reconciler.Verify(ctx, testUserID, models.VerifyPaymentRequest{OrderID: "order_pre"})
	assert.ErrorIs(t, err, ErrMissingParams)

	unconfigured := NewReconciliationService(f.orders, f.payments, nil, f.subscriptions, f.allocator, f.gateway, nil, nil, "", zaptest.NewLogger(t))
	_, err = unconfigured.Verify(ctx, testUserID, verifyRequest("order_pre", "pay_pre"))
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = f.reconciler.Verify(ctx, testUserID+1, verifyRequest("order_pre", "pay_pre"))
	assert.ErrorIs(t, err, ErrOrderNotFound, "orders of other users are invisible")

	f.payOrder(&models.Order{OrderID: "order_missing", Currency: "INR"}, "pay_orphan")
	_, err = f.reconciler.Verify(ctx, testUserID, verifyRequest("order_missing", "pay_orphan"))
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = f.reconciler.Verify(ctx, testUserID, verifyRequest("order_pre", "pay_unknown"))
	assert.ErrorIs(t, err, ErrPaymentMismatch)
}

func TestVerify_GatewayCrossCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, "order_x", "starter", "")

	for _, status := range []string{"created", "failed", "refunded"} {
		p := f.payOrder(order, "pay_"+status)
		p.Status = status
		f.gateway.addPayment(p)

		_, err := f.reconciler.Verify(ctx, testUserID, verifyRequest("order_x", "pay_"+status))
		assert.ErrorIs(t, err, ErrPaymentNotCaptured, status)
	}

	p := f.payOrder(order, "pay_elsewhere")
	p.OrderID = "order_other"
	f.gateway.addPayment(p)
	_, err := f.reconciler.Verify(ctx, testUserID, verifyRequest("order_x", "pay_elsewhere"))
	assert.ErrorIs(t, err, ErrPaymentMismatch)

	p = f.payOrder(order, "pay_usd")
	p.Currency = "USD"
	f.gateway.addPayment(p)
	_, err = f.reconciler.Verify(ctx, testUserID, verifyRequest("order_x", "pay_usd"))
	assert.ErrorIs(t, err, ErrPaymentMismatch)

	assert.Zero(t, f.count(t, &models.Payment{}))
}

func TestVerify_AuthorizedPaymentUpgradesToCaptured(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, "order_auth", "topup_100", "")
	p := f.payOrder(order, "pay_auth")
	p.Status = models.PaymentStatusAuthorized
	f.gateway.addPayment(p)

	_, err := f.reconciler.Verify(ctx, testUserID, verifyRequest("order_auth", "pay_auth"))
	require.NoError(t, err)
	stored, err := f.payments.GetByPaymentID(ctx, "pay_auth")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusAuthorized, stored.Status)

	p.Status = models.PaymentStatusCaptured
	f.gateway.addPayment(p)
	_, err = f.reconciler.Verify(ctx, testUserID, verifyRequest("order_auth", "pay_auth"))
	require.NoError(t, err)

	stored, err = f.payments.GetByPaymentID(ctx, "pay_auth")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCaptured, stored.Status)
	assert.Equal(t, 103, f.entitlement(t).ImageEnhancementCredits)
}

func TestVerify_ReplaceAfterTopup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	topup := f.createOrder(t, "order_t", "topup_25", "")
	f.payOrder(topup, "pay_t")
	_, err := f.reconciler.Verify(ctx, testUserID, verifyRequest("order_t", "pay_t"))
	require.NoError(t, err)
	assert.Equal(t, 28, f.entitlement(t).ImageEnhancementCredits)

	growth := f.createOrder(t, "order_g", "growth", models.BillingCycleMonthly)
	f.payOrder(growth, "pay_g")
	_, err = f.reconciler.Verify(ctx, testUserID, verifyRequest("order_g", "pay_g"))
	require.NoError(t, err)

	ent := f.entitlement(t)
	assert.Equal(t, 100, ent.ImageEnhancementCredits)
	assert.Equal(t, 150, ent.PostGenerationCredits)
	assert.True(t, ent.AllowVideos)
}

func TestVerify_SideEffectFailuresAreSwallowed(t *testing.T) {
	f := newFixture(t)
	f.invoices.err = errors.New("stripe is down")
	f.notifier.panics = true

	order := f.createOrder(t, "order_se", "scale", models.BillingCycleYearly)
	f.payOrder(order, "pay_se")

	resp, err := f.reconciler.Verify(context.Background(), testUserID, verifyRequest("order_se", "pay_se"))
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, f.invoices.count())
	assert.Equal(t, "scale", f.entitlement(t).SubscriptionPlan)
}

func TestVerify_SecondPaymentForSettledOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, "order_dup", "topup_25", "")
	f.payOrder(order, "pay_a")
	f.payOrder(order, "pay_b")

	_, err := f.reconciler.Verify(ctx, testUserID, verifyRequest("order_dup", "pay_a"))
	require.NoError(t, err)
	_, err = f.reconciler.Verify(ctx, testUserID, verifyRequest("order_dup", "pay_b"))
	require.NoError(t, err)

	assert.Equal(t, int64(2), f.count(t, &models.Payment{}), "both payments are in the ledger")
	assert.Equal(t, int64(1), f.count(t, &models.TopupGrant{}))
	assert.Equal(t, 28, f.entitlement(t).ImageEnhancementCredits)

	stored, err := f.orders.GetByOrderID(ctx, "order_dup")
	require.NoError(t, err)
	assert.Equal(t, "pay_a", stored.PaymentID)
}

type tableSnapshot struct {
	Orders       []models.Order
	Payments     []models.Payment
	Entitlements []models.UserEntitlement
	Subs         []models.Subscription
}

// snapshot renders the mutable tables as JSON so two reads can be compared
// byte for byte.
func snapshot(t *testing.T, f *fixture) string {
	t.Helper()
	var s tableSnapshot
	require.NoError(t, f.db.Order("id").Find(&s.Orders).Error)
	require.NoError(t, f.db.Order("id").Find(&s.Payments).Error)
	require.NoError(t, f.db.Order("id").Find(&s.Entitlements).Error)
	require.NoError(t, f.db.Order("id").Find(&s.Subs).Error)
	out, err := json.Marshal(s)
	require.NoError(t, err)
	return string(out)
}

func TestLedgerStatus(t *testing.T) {
	assert.Equal(t, "captured", ledgerStatus("captured"))
	assert.Equal(t, "authorized", ledgerStatus("authorized"))
	assert.Equal(t, "failed", ledgerStatus("refunded"))
}

func TestVerify_ReplayOfSupersededPlanKeepsCurrentSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	starter := f.createOrder(t, "order_a", "starter", models.BillingCycleMonthly)
	paidStarter := f.payOrder(starter, "pay_a")
	growth := f.createOrder(t, "order_b", "growth", models.BillingCycleMonthly)
	f.payOrder(growth, "pay_b")

	_, err := f.reconciler.Verify(ctx, testUserID, verifyRequest("order_a", "pay_a"))
	require.NoError(t, err)
	_, err = f.reconciler.Verify(ctx, testUserID, verifyRequest("order_b", "pay_b"))
	require.NoError(t, err)
	require.Equal(t, "order_b", f.subscription(t).RazorpaySubscriptionID)

	// A retried verify and a redelivered capture for the older order.
	_, err = f.reconciler.Verify(ctx, testUserID, verifyRequest("order_a", "pay_a"))
	require.NoError(t, err)
	require.NoError(t, f.deliver(eventBody(t, EventPaymentCaptured, &paidStarter, nil), ""))

	sub := f.subscription(t)
	assert.Equal(t, "order_b", sub.RazorpaySubscriptionID)
	assert.Equal(t, "growth", sub.PlanID)
	assert.Equal(t, models.SubscriptionActive, sub.Status)
	assert.Equal(t, "pay_b", sub.LastPaymentID)

	ent := f.entitlement(t)
	assert.Equal(t, "growth", ent.SubscriptionPlan)
	assert.Equal(t, "active", ent.SubscriptionStatus)
	assert.Equal(t, 150, ent.PostGenerationCredits)
	assert.Equal(t, 2, f.notifier.count())
}

func TestVerify_ReplayAfterInterruptedSettlementActivates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, "order_r", "starter", models.BillingCycleMonthly)
	f.payOrder(order, "pay_r")

	// Order and ledger rows were written, then the process stopped.
	marked, err := f.orders.MarkPaid(ctx, "order_r", "pay_r", f.now)
	require.NoError(t, err)
	require.True(t, marked)
	_, err = f.payments.Record(ctx, &models.Payment{
		PaymentID:   "pay_r",
		OrderID:     "order_r",
		UserID:      testUserID,
		PlanID:      "starter",
		Amount:      order.BaseAmount,
		TaxAmount:   order.TaxAmount,
		TotalAmount: order.TotalAmount(),
		Currency:    order.Currency,
		Status:      models.PaymentStatusCaptured,
		PaymentType: paymentTypeFor("starter"),
	})
	require.NoError(t, err)

	_, err = f.reconciler.Verify(ctx, testUserID, verifyRequest("order_r", "pay_r"))
	require.NoError(t, err)

	sub := f.subscription(t)
	assert.Equal(t, "order_r", sub.RazorpaySubscriptionID)
	assert.Equal(t, models.SubscriptionActive, sub.Status)
	assert.Equal(t, "pay_r", sub.LastPaymentID)
	assert.Equal(t, "starter", f.entitlement(t).SubscriptionPlan)
}

func TestVerify_AcceptsUppercaseSignature(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t, "order_case", "topup_25", "")
	f.payOrder(order, "pay_case")

	req := verifyRequest("order_case", "pay_case")
	req.Signature = strings.ToUpper(req.Signature)
	_, err := f.reconciler.Verify(context.Background(), testUserID, req)
	require.NoError(t, err)
	assert.Equal(t, 28, f.entitlement(t).ImageEnhancementCredits)
}
