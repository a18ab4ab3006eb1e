package service

import (
	"encoding/json"
	"fmt"

	"github.com/sefazor/postpilot-backend/pkg/gateway"
)

// EventKind is the closed set of gateway events the router understands.
type EventKind string

const (
	EventPaymentCaptured       EventKind = "payment.captured"
	EventPaymentAuthorized     EventKind = "payment.authorized"
	EventPaymentFailed         EventKind = "payment.failed"
	EventOrderPaid             EventKind = "order.paid"
	EventSubscriptionActivated EventKind = "subscription.activated"
	EventSubscriptionCharged   EventKind = "subscription.charged"
	EventSubscriptionHalted    EventKind = "subscription.halted"
	EventSubscriptionPaused    EventKind = "subscription.paused"
	EventSubscriptionResumed   EventKind = "subscription.resumed"
	EventSubscriptionCancelled EventKind = "subscription.cancelled"
	EventSubscriptionCompleted EventKind = "subscription.completed"
)

// WebhookEvent is the gateway webhook envelope.
type WebhookEvent struct {
	Entity    string         `json:"entity"`
	AccountID string         `json:"account_id"`
	Event     EventKind      `json:"event"`
	Contains  []string       `json:"contains"`
	Payload   webhookPayload `json:"payload"`
	CreatedAt int64          `json:"created_at"`
}

type webhookPayload struct {
	Payment *struct {
		Entity gateway.Payment `json:"entity"`
	} `json:"payment,omitempty"`
	Subscription *struct {
		Entity gateway.Subscription `json:"entity"`
	} `json:"subscription,omitempty"`
	Order *struct {
		Entity gateway.Order `json:"entity"`
	} `json:"order,omitempty"`
}

func (e *WebhookEvent) payment() *gateway.Payment {
	if e.Payload.Payment == nil || e.Payload.Payment.Entity.ID == "" {
		return nil
	}
	return &e.Payload.Payment.Entity
}

func (e *WebhookEvent) subscription() *gateway.Subscription {
	if e.Payload.Subscription == nil || e.Payload.Subscription.Entity.ID == "" {
		return nil
	}
	return &e.Payload.Subscription.Entity
}

func (e *WebhookEvent) order() *gateway.Order {
	if e.Payload.Order == nil || e.Payload.Order.Entity.ID == "" {
		return nil
	}
	return &e.Payload.Order.Entity
}

// Key is the deduplication key used when the gateway sends no event id. The
// event's created_at is part of it: a redelivery repeats it, while a second
// occurrence of the same event for the same entity (pause, resume, pause)
// does not.
func (e *WebhookEvent) Key() string {
	var id string
	switch {
	case e.payment() != nil:
		id = e.payment().ID
	case e.subscription() != nil:
		id = e.subscription().ID
	case e.order() != nil:
		id = e.order().ID
	}
	if id == "" {
		return fmt.Sprintf("%s:%d", e.Event, e.CreatedAt)
	}
	return fmt.Sprintf("%s:%s:%d", id, e.Event, e.CreatedAt)
}

func parseWebhookEvent(body []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if event.Event == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrInvalidPayload)
	}
	return &event, nil
}
