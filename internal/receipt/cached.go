package receipt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"ledger/internal/cache"
	"ledger/internal/core"
	"ledger/internal/ports"
)

// CachedExtractor memoises extraction results by image content, so
// re-uploading the same receipt does not call the model again.
type CachedExtractor struct {
	next  ports.ReceiptExtractor
	cache cache.Cache[core.ReceiptFields]
}

func NewCachedExtractor(next ports.ReceiptExtractor, c cache.Cache[core.ReceiptFields]) *CachedExtractor {
	return &CachedExtractor{next: next, cache: c}
}

func (c *CachedExtractor) Extract(ctx context.Context, image []byte, mimeType string) (core.ReceiptFields, error) {
	key := cacheKey(image, mimeType)
	if fields, ok := c.cache.Get(key); ok {
		return fields, nil
	}

	fields, err := c.next.Extract(ctx, image, mimeType)
	if err != nil {
		return core.ReceiptFields{}, err
	}
	c.cache.Set(key, fields)
	return fields, nil
}

func cacheKey(image []byte, mimeType string) string {
	h := sha256.New()
	h.Write([]byte(mimeType))
	h.Write([]byte{0})
	h.Write(image)
	return hex.EncodeToString(h.Sum(nil))
}
