package service

import (
	"fmt"

	"github.com/sefazor/postpilot-backend/internal/models"
)

// Trigger is a lifecycle input, from the verify path or a gateway webhook.
type Trigger string

const (
	TriggerActivate Trigger = "activate"
	TriggerCharge   Trigger = "charge"
	TriggerPause    Trigger = "pause"
	TriggerResume   Trigger = "resume"
	TriggerCancel   Trigger = "cancel"
	TriggerComplete Trigger = "complete"
)

type transitionRule struct {
	to   models.SubscriptionStatus
	from []models.SubscriptionStatus
}

var transitions = map[Trigger]transitionRule{
	TriggerActivate: {to: models.SubscriptionActive, from: []models.SubscriptionStatus{models.SubscriptionPending}},
	TriggerCharge:   {to: models.SubscriptionActive, from: []models.SubscriptionStatus{models.SubscriptionPending, models.SubscriptionPaused}},
	TriggerPause:    {to: models.SubscriptionPaused, from: []models.SubscriptionStatus{models.SubscriptionActive}},
	TriggerResume:   {to: models.SubscriptionActive, from: []models.SubscriptionStatus{models.SubscriptionPaused}},
	TriggerCancel:   {to: models.SubscriptionCancelled, from: []models.SubscriptionStatus{models.SubscriptionPending, models.SubscriptionActive, models.SubscriptionPaused}},
	TriggerComplete: {to: models.SubscriptionCompleted, from: []models.SubscriptionStatus{models.SubscriptionActive, models.SubscriptionPaused}},
}

// NextStatus applies trigger to current. changed is false when current is
// already the target status; for a charge on an active subscription that is
// a renewal, not a no-op, and the caller decides by payment id.
func NextStatus(current models.SubscriptionStatus, trigger Trigger) (models.SubscriptionStatus, bool, error) {
	rule, ok := transitions[trigger]
	if !ok {
		return current, false, fmt.Errorf("%w: unknown trigger %q", ErrInvalidTransition, trigger)
	}

	if current == rule.to {
		return current, false, nil
	}
	for _, from := range rule.from {
		if current == from {
			return rule.to, true, nil
		}
	}

	if current.Terminal() {
		return current, false, fmt.Errorf("%w: %s on %s subscription", ErrTerminalState, trigger, current)
	}
	return current, false, fmt.Errorf("%w: %s on %s subscription", ErrInvalidTransition, trigger, current)
}
