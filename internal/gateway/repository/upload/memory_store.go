package upload

import (
	"context"
	"fmt"
	"time"

	memcache "repoanalyzer/internal/cache/memory"
)

type MemoryConfig struct {
	MaxEntries int
	MaxBytes   int
}

func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{MaxEntries: 64, MaxBytes: 512 << 20}
}

// MemoryStore keeps uploads in process memory. Presigned uploads are not
// available.
type MemoryStore struct {
	cache *memcache.LRUTTL[string, []byte]
}

func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	def := DefaultMemoryConfig()
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = def.MaxBytes
	}
	return &MemoryStore{
		cache: memcache.NewLRUTTL[string, []byte](cfg.MaxEntries, cfg.MaxBytes, DefaultTTL),
	}
}

func (s *MemoryStore) Put(_ context.Context, key string, data []byte, ttl time.Duration) (time.Time, error) {
	if s == nil {
		return time.Time{}, fmt.Errorf("store is nil")
	}
	if err := ValidateKey(key); err != nil {
		return time.Time{}, err
	}
	buf := append([]byte(nil), data...)
	expiresAt, ok := s.cache.Set(key, buf, len(buf), normalizeTTL(ttl))
	if !ok {
		return time.Time{}, fmt.Errorf("upload of %d bytes exceeds memory store capacity", len(buf))
	}
	return expiresAt, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	raw, _, ok := s.cache.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), raw...), nil
}

func (s *MemoryStore) PresignPut(context.Context, string, time.Duration) (string, error) {
	return "", ErrPresignUnsupported
}
