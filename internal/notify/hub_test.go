package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialHub(t *testing.T, h *Hub, userID, role string) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		h.Serve(conn, userID, role)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(time.Second)
	for h.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestHubDeliversByRole(t *testing.T) {
	h := NewHub()
	conn := dialHub(t, h, "boss", "admin")

	_ = h.Notify(context.Background(), Notification{Kind: KindAlert, Title: "Late Attendance: emp-7", Role: "admin"})

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var got Notification
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Title != "Late Attendance: emp-7" || got.At.IsZero() {
		t.Fatalf("unexpected notification %+v", got)
	}
}

func TestSubscriberAddressing(t *testing.T) {
	emp := &subscriber{userID: "emp-7", role: "salesman"}
	cases := []struct {
		n    Notification
		want bool
	}{
		{Notification{}, true},
		{Notification{UserID: "emp-7"}, true},
		{Notification{UserID: "emp-8"}, false},
		{Notification{Role: "admin"}, false},
		{Notification{Role: "salesman"}, true},
	}
	for _, tc := range cases {
		if got := emp.wants(tc.n); got != tc.want {
			t.Fatalf("%+v: want %v, got %v", tc.n, tc.want, got)
		}
	}
}

func TestHubDropsForSlowClient(t *testing.T) {
	h := NewHub()
	s := &subscriber{send: make(chan Notification, 1)}
	h.subs[s] = struct{}{}
	for i := 0; i < 3; i++ {
		if err := h.Notify(context.Background(), Notification{Title: "x"}); err != nil {
			t.Fatalf("notify: %v", err)
		}
	}
	if len(s.send) != 1 {
		t.Fatalf("expected buffered message only, got %d", len(s.send))
	}
}
