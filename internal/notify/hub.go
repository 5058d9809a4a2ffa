package notify

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 16
)

type subscriber struct {
	userID string
	role   string
	send   chan Notification
}

// wants reports whether n is addressed to s. A notification with neither a
// user nor a role goes to everyone.
func (s *subscriber) wants(n Notification) bool {
	if n.UserID == "" && n.Role == "" {
		return true
	}
	return (n.UserID != "" && n.UserID == s.userID) || (n.Role != "" && n.Role == s.role)
}

// Hub pushes notifications to connected websocket clients.
type Hub struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Len is the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Notify queues n for every matching client. Slow clients drop messages.
func (h *Hub) Notify(_ context.Context, n Notification) error {
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if !s.wants(n) {
			continue
		}
		select {
		case s.send <- n:
		default:
			log.Printf("notify hub: dropping %s for slow client %s", n.Kind, s.userID)
		}
	}
	return nil
}

// Serve owns conn until the client goes away.
func (h *Hub) Serve(conn *websocket.Conn, userID, role string) {
	s := &subscriber{userID: userID, role: role, send: make(chan Notification, sendBuffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	log.Printf("client connected: %s (%s)", userID, role)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.mu.Lock()
		delete(h.subs, s)
		h.mu.Unlock()
		conn.Close()
		log.Printf("client disconnected: %s", userID)
	}()
	for {
		select {
		case n := <-s.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(n); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// Relay forwards notifications published on a Redis channel to next until
// ctx ends.
func Relay(ctx context.Context, client *redis.Client, channel string, next Notifier) error {
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var n Notification
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				log.Printf("notify relay: bad payload: %v", err)
				continue
			}
			if err := next.Notify(ctx, n); err != nil {
				log.Printf("notify relay: %v", err)
			}
		}
	}
}
