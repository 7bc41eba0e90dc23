// Package ratecache decorates a charge.RateStore with an in-process
// read-through cache. Settled rates are immutable once written for a
// (kind, year, header) key, so cached entries never expire; Put writes
// through and refreshes the entry.
package ratecache

import (
	"context"
	"fmt"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/warp/charge-engine/charge"
)

// CachedRates wraps a RateStore with a go-cache front.
type CachedRates struct {
	next  charge.RateStore
	cache *gocache.Cache
}

func New(next charge.RateStore) *CachedRates {
	return &CachedRates{
		next:  next,
		cache: gocache.New(gocache.NoExpiration, 0),
	}
}

func cacheKey(kind charge.PeriodKind, year int, header string) string {
	return fmt.Sprintf("%s:%d:%s", kind, year, header)
}

func (c *CachedRates) Get(ctx context.Context, kind charge.PeriodKind, year int, header string) (decimal.Decimal, error) {
	key := cacheKey(kind, year, header)
	if v, ok := c.cache.Get(key); ok {
		return v.(decimal.Decimal), nil
	}

	amount, err := c.next.Get(ctx, kind, year, header)
	if err != nil {
		return decimal.Zero, err
	}
	c.cache.Set(key, amount, gocache.NoExpiration)
	return amount, nil
}

func (c *CachedRates) Put(ctx context.Context, kind charge.PeriodKind, year int, header string, amount decimal.Decimal) error {
	if err := c.next.Put(ctx, kind, year, header, amount); err != nil {
		return err
	}
	c.cache.Set(cacheKey(kind, year, header), amount, gocache.NoExpiration)
	return nil
}
