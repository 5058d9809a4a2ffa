package location

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// CachedGeocoder memoizes lookups by coordinates rounded to four decimals
// (about 11 m). Failed lookups are not cached.
type CachedGeocoder struct {
	next  Geocoder
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// lookupTimeout bounds a shared lookup that outlives its first caller.
const lookupTimeout = 15 * time.Second

type cacheEntry struct {
	addr    Address
	expires time.Time
}

// NewCachedGeocoder wraps next. A non-positive ttl disables expiry.
func NewCachedGeocoder(next Geocoder, ttl time.Duration) *CachedGeocoder {
	return &CachedGeocoder{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Reverse serves from cache or forwards to the wrapped geocoder.
func (c *CachedGeocoder) Reverse(ctx context.Context, lat, lon float64) (Address, error) {
	key := fmt.Sprintf("%.4f,%.4f", lat, lon)

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && (c.ttl <= 0 || c.now().Before(e.expires)) {
		c.mu.Unlock()
		return e.addr, nil
	}
	c.mu.Unlock()

	ch := c.group.DoChan(key, func() (interface{}, error) {
		// Shared by every waiter, so one caller's cancellation must not end it.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		addr, err := c.next.Reverse(lctx, lat, lon)
		if err != nil {
			return Address{}, err
		}
		c.mu.Lock()
		c.entries[key] = cacheEntry{addr: addr, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return addr, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Address{}, res.Err
		}
		return res.Val.(Address), nil
	case <-ctx.Done():
		return Address{}, ctx.Err()
	}
}
