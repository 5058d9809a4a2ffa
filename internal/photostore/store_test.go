package photostore

import (
	"context"
	"crypto/sha1"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDiskPut(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "attendance")
	d, err := NewDisk(dir)
	if err != nil {
		t.Fatalf("new disk: %v", err)
	}
	ref, err := d.Put(context.Background(), "emp 1/../x.jpg", "image/jpeg", []byte("jpeg"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if filepath.Dir(ref) != dir {
		t.Fatalf("photo escaped upload dir: %s", ref)
	}
	got, err := os.ReadFile(ref)
	if err != nil || string(got) != "jpeg" {
		t.Fatalf("unexpected contents %q (%v)", got, err)
	}
}

func TestCloudinarySignsAndUploads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1_1/demo/image/upload" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		payload := "folder=attendance&public_id=emp1_20251225_091500&timestamp=1700000000secret"
		want := fmt.Sprintf("%x", sha1.Sum([]byte(payload)))
		if got := r.FormValue("signature"); got != want {
			t.Errorf("signature %s, want %s", got, want)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file part: %v", err)
		}
		_, _ = w.Write([]byte(`{"public_id":"attendance/emp1_20251225_091500","secure_url":"https://res.cloudinary.com/demo/image/upload/emp1.jpg"}`))
	}))
	defer srv.Close()

	c := NewCloudinary("demo", "key", "secret", "attendance")
	c.BaseURL = srv.URL
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	ref, err := c.Put(context.Background(), "emp1_20251225_091500.jpg", "image/jpeg", []byte("jpeg"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if ref != "https://res.cloudinary.com/demo/image/upload/emp1.jpg" {
		t.Fatalf("unexpected ref %s", ref)
	}
}

func TestCloudinaryUploadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"Invalid Signature"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()
	c := NewCloudinary("demo", "key", "secret", "")
	c.BaseURL = srv.URL
	if _, err := c.Put(context.Background(), "a.jpg", "image/jpeg", []byte("x")); err == nil {
		t.Fatalf("expected upload error")
	}
}
