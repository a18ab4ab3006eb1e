package storage

import "context"

// StorageService stores opaque objects under a key.
type StorageService interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) error
}
