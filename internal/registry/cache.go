package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// NormCache memoizes normalizer results. Normalizers are deterministic per
// input, so identical raw values across turns and sessions resolve to the
// same canonical form without re-running the handler.
type NormCache struct {
	lru *expirable.LRU[uint64, any]
}

// NewNormCache creates a cache holding up to size entries for at most ttl.
func NewNormCache(size int, ttl time.Duration) *NormCache {
	return &NormCache{lru: expirable.NewLRU[uint64, any](size, nil, ttl)}
}

// key hashes the normalizer name and the raw value's printed form.
func (c *NormCache) key(name string, value any) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(name)
	_, _ = h.Write([]byte{0x1f})
	_, _ = h.WriteString(fmt.Sprintf("%T:%v", value, value))
	return h.Sum64()
}

// Normalize runs fn on value, serving repeated inputs from the cache. Errors
// are never cached.
func (c *NormCache) Normalize(ctx context.Context, name string, fn Normalizer, value any, env Env) (any, error) {
	if c == nil {
		return fn(ctx, value, env)
	}
	k := c.key(name, value)
	if cached, ok := c.lru.Get(k); ok {
		return cached, nil
	}
	out, err := fn(ctx, value, env)
	if err != nil {
		return nil, err
	}
	c.lru.Add(k, out)
	return out, nil
}

// Len reports the number of live entries, for tests and diagnostics.
func (c *NormCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
