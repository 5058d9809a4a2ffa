package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/disintegration/imaging"
)

// StillProvider serves frames from an image file that a capture daemon
// (fswebcam, a uvc snapshot service) keeps refreshing.
type StillProvider struct {
	Path string
}

// NewStillProvider returns a provider reading frames from path.
func NewStillProvider(path string) *StillProvider {
	return &StillProvider{Path: path}
}

// Open checks the device file and returns a stream over it.
func (p *StillProvider) Open(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Path == "" {
		return nil, errors.New("no camera device configured")
	}
	if _, err := os.Stat(p.Path); err != nil {
		return nil, fmt.Errorf("camera device: %w", err)
	}
	s := &stillStream{path: p.Path, constraints: c, ready: make(chan struct{})}
	s.track = &stillTrack{}
	if _, err := s.Frame(); err != nil {
		return nil, err
	}
	close(s.ready)
	return s, nil
}

type stillTrack struct {
	mu      sync.Mutex
	stopped bool
}

func (t *stillTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *stillTrack) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type stillStream struct {
	path        string
	constraints Constraints
	track       *stillTrack
	ready       chan struct{}
}

func (s *stillStream) Tracks() []Track { return []Track{s.track} }

func (s *stillStream) Ready() <-chan struct{} { return s.ready }

func (s *stillStream) Frame() (image.Image, error) {
	if s.track.isStopped() {
		return nil, errors.New("track stopped")
	}
	img, err := imaging.Open(s.path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if s.constraints.Width > 0 && s.constraints.Height > 0 {
		b := img.Bounds()
		if b.Dx() > s.constraints.Width || b.Dy() > s.constraints.Height {
			img = imaging.Fit(img, s.constraints.Width, s.constraints.Height, imaging.Lanczos)
		}
	}
	return img, nil
}

// FileSink writes the current frame to a JPEG at Path so the operator can
// check framing before capturing.
type FileSink struct {
	Path string
}

// Attach renders one frame, or reports ErrSinkNotReady before metadata arrives.
func (f FileSink) Attach(s Stream) error {
	select {
	case <-s.Ready():
	default:
		return ErrSinkNotReady
	}
	frame, err := s.Frame()
	if err != nil {
		return err
	}
	return imaging.Save(frame, f.Path, imaging.JPEGQuality(70))
}
