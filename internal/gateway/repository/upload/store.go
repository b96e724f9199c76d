// Package upload relays large archives that callers cannot send inline with an
// analyze request. Bytes are stored under a short-lived key and fetched back at
// acquisition time.
package upload

import (
	"context"
	"errors"
	"time"
)

// Store persists upload bytes under a key until they expire.
type Store interface {
	Put(ctx context.Context, key string, data []byte, ttl time.Duration) (time.Time, error)
	Get(ctx context.Context, key string) ([]byte, error)
	PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error)
}

var (
	ErrNotFound           = errors.New("upload not found")
	ErrPresignUnsupported = errors.New("upload store does not support presigned uploads")
	ErrInvalidKey         = errors.New("invalid upload key")
)

// DefaultTTL applies when a caller passes ttl <= 0.
const DefaultTTL = 30 * time.Minute

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
