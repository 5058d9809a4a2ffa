package store

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis backs the today cache, the check-in queue and notification pub/sub.
type Redis struct {
	Client *redis.Client
}

// NewRedis builds a client for addr, which is either host:port or a
// redis:// / rediss:// URL. An empty addr yields nil so callers can run
// without Redis.
func NewRedis(addr string) *Redis {
	if addr == "" {
		return nil
	}
	opts := &redis.Options{Addr: addr}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			log.Printf("warning: bad redis url, using it as an address: %v", err)
		} else {
			opts = parsed
		}
	}
	opts.DialTimeout = 2 * time.Second
	// BRPOP on the queue blocks for up to 5s; reads must outlast it.
	opts.ReadTimeout = 6 * time.Second
	opts.WriteTimeout = 1 * time.Second
	return &Redis{Client: redis.NewClient(opts)}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// Close releases the client.
func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
