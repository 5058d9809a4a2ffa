package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Kinds of notification.
const (
	KindSuccess = "SUCCESS"
	KindError   = "ERROR"
	KindAlert   = "ALERT"
)

// Notification is a user-facing message such as a completion toast or an
// admin alert.
type Notification struct {
	Kind    string    `json:"type"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	UserID  string    `json:"user_id,omitempty"`
	Role    string    `json:"role,omitempty"`
	At      time.Time `json:"at"`
}

// Notifier delivers notifications. Implementations are provided by the
// composition root.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n Notification) error

func (f Func) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// Log writes notifications to the standard logger.
type Log struct{}

func (Log) Notify(_ context.Context, n Notification) error {
	log.Printf("[%s] %s: %s", n.Kind, n.Title, n.Message)
	return nil
}

// Redis publishes notifications as JSON on a pub/sub channel.
type Redis struct {
	client  *redis.Client
	channel string
}

// NewRedis creates a publisher on channel.
func NewRedis(client *redis.Client, channel string) *Redis {
	if channel == "" {
		channel = "attendance:notifications"
	}
	return &Redis{client: client, channel: channel}
}

func (r *Redis) Notify(ctx context.Context, n Notification) error {
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}
	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, raw).Err()
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
