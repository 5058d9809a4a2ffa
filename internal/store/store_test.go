package store

import (
	"context"
	"testing"
	"time"
)

func TestNewRedisEmptyAddr(t *testing.T) {
	r := NewRedis("")
	if r != nil {
		t.Fatalf("expected nil client for empty addr")
	}
	if r.Healthy(context.Background()) {
		t.Fatalf("nil client cannot be healthy")
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close nil: %v", err)
	}
}

func TestNewRedisURL(t *testing.T) {
	r := NewRedis("redis://:secret@cache.internal:6380/2")
	defer r.Close()
	opts := r.Client.Options()
	if opts.Addr != "cache.internal:6380" || opts.DB != 2 || opts.Password != "secret" {
		t.Fatalf("unexpected options addr=%s db=%d", opts.Addr, opts.DB)
	}
	if opts.ReadTimeout <= 5*time.Second {
		t.Fatalf("read timeout must outlast the queue's blocking pop")
	}
}

func TestNewRedisPlainAddr(t *testing.T) {
	r := NewRedis("localhost:6379")
	defer r.Close()
	if r.Client.Options().Addr != "localhost:6379" {
		t.Fatalf("unexpected addr %s", r.Client.Options().Addr)
	}
}

func TestNilDBIsUnhealthy(t *testing.T) {
	var db *DB
	if db.Healthy(context.Background()) {
		t.Fatalf("nil db cannot be healthy")
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close nil: %v", err)
	}
}
