package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache defines a generic cache interface
type Cache[T any] interface {
	// Get retrieves a value from the cache
	Get(key string) (T, bool)

	// Set stores a value in the cache
	Set(key string, data T)

	// Delete removes a key from the cache
	Delete(key string)

	// Close releases background goroutines
	Close()
}

// Ristretto is a size-bounded TTL cache. Each entry costs 1, so maxItems
// bounds the entry count.
type Ristretto[T any] struct {
	cache *ristretto.Cache[string, T]
	ttl   time.Duration
}

func NewRistretto[T any](maxItems int64, ttl time.Duration) (*Ristretto[T], error) {
	if maxItems < 1 {
		return nil, fmt.Errorf("cache size must be positive, got %d", maxItems)
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, T]{
		NumCounters: maxItems * 10, // number of keys to track frequency of
		MaxCost:     maxItems,
		BufferItems: 64, // number of keys per Get buffer
	})
	if err != nil {
		return nil, fmt.Errorf("initialize cache: %w", err)
	}
	return &Ristretto[T]{cache: c, ttl: ttl}, nil
}

func (r *Ristretto[T]) Get(key string) (T, bool) {
	return r.cache.Get(key)
}

// Set stores data and waits for the write buffer to drain, so a following
// Get observes it.
func (r *Ristretto[T]) Set(key string, data T) {
	if r.ttl > 0 {
		r.cache.SetWithTTL(key, data, 1, r.ttl)
	} else {
		r.cache.Set(key, data, 1)
	}
	r.cache.Wait()
}

func (r *Ristretto[T]) Delete(key string) {
	r.cache.Del(key)
}

func (r *Ristretto[T]) Close() {
	r.cache.Close()
}
