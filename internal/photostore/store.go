package photostore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// Store keeps attendance photos and returns a reference to the stored object.
type Store interface {
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9.\-_]+`)

// SafeName strips characters that do not belong in object names.
func SafeName(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}

// Disk writes photos under a local directory.
type Disk struct {
	Dir string
}

// NewDisk creates the directory if needed.
func NewDisk(dir string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("photostore: create dir: %w", err)
	}
	return &Disk{Dir: dir}, nil
}

// Put writes data atomically and returns the file path.
func (d *Disk) Put(ctx context.Context, name, _ string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(d.Dir, SafeName(name))
	tmp, err := os.CreateTemp(d.Dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("photostore: create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("photostore: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("photostore: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("photostore: rename: %w", err)
	}
	return path, nil
}
