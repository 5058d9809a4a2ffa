package attendance

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// TodayCache remembers existing records. Only hits are cached; a record
// that changes later (face score) must be forgotten.
type TodayCache interface {
	Get(ctx context.Context, employeeID, date string) (*Record, bool)
	Set(ctx context.Context, rec Record)
	Forget(ctx context.Context, employeeID, date string)
}

type noCache struct{}

func (noCache) Get(context.Context, string, string) (*Record, bool) { return nil, false }
func (noCache) Set(context.Context, Record)                         {}
func (noCache) Forget(context.Context, string, string)              {}

// RedisTodayCache stores records as JSON under attendance:today:<employee>:<date>.
// Redis failures are logged and treated as misses.
type RedisTodayCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTodayCache creates a cache with the given entry lifetime.
func NewRedisTodayCache(client *redis.Client, ttl time.Duration) *RedisTodayCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisTodayCache{client: client, ttl: ttl}
}

func todayKey(employeeID, date string) string {
	return "attendance:today:" + employeeID + ":" + date
}

// Get returns a cached record.
func (c *RedisTodayCache) Get(ctx context.Context, employeeID, date string) (*Record, bool) {
	raw, err := c.client.Get(ctx, todayKey(employeeID, date)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("today cache get: %v", err)
		}
		return nil, false
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		log.Printf("today cache decode: %v", err)
		return nil, false
	}
	return &rec, true
}

// Set caches rec.
func (c *RedisTodayCache) Set(ctx context.Context, rec Record) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, todayKey(rec.EmployeeID, rec.AttendanceDate), raw, c.ttl).Err(); err != nil {
		log.Printf("today cache set: %v", err)
	}
}

// Forget drops the cached record.
func (c *RedisTodayCache) Forget(ctx context.Context, employeeID, date string) {
	if err := c.client.Del(ctx, todayKey(employeeID, date)).Err(); err != nil {
		log.Printf("today cache forget: %v", err)
	}
}
