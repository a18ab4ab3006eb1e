package storage

import (
	"context"
	"fmt"
	"time"
)

// WebhookArchive keeps the raw body of every verified webhook delivery.
type WebhookArchive struct {
	store  StorageService
	prefix string
	now    func() time.Time
}

func NewWebhookArchive(store StorageService, prefix string) *WebhookArchive {
	return &WebhookArchive{store: store, prefix: prefix, now: time.Now}
}

// Archive writes body under <prefix>/<yyyy>/<mm>/<dd>/<eventKey>.json.
func (a *WebhookArchive) Archive(ctx context.Context, eventKey string, body []byte) error {
	return a.store.Upload(ctx, a.Key(eventKey), body, "application/json")
}

func (a *WebhookArchive) Key(eventKey string) string {
	return fmt.Sprintf("%s/%s/%s.json", a.prefix, a.now().UTC().Format("2006/01/02"), sanitizeKey(eventKey))
}

func sanitizeKey(key string) string {
	out := make([]rune, 0, len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
