package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"sync"

	"fieldattend/internal/photo"
)

var (
	ErrCameraUnavailable = errors.New("camera unavailable")
	ErrCameraBusy        = errors.New("camera already active")
	ErrNotStreaming      = errors.New("camera not streaming")
	ErrSessionStopped    = errors.New("camera session stopped")
	ErrSinkNotReady      = errors.New("sink not ready")
)

// State is the lifecycle position of a Session.
type State int

const (
	Idle State = iota
	Requesting
	Streaming
	Captured
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Requesting:
		return "requesting"
	case Streaming:
		return "streaming"
	case Captured:
		return "captured"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Constraints describe the requested video stream. Audio is never requested.
type Constraints struct {
	FacingMode string
	Width      int
	Height     int
}

// DefaultConstraints asks for the front camera at 1280x720.
func DefaultConstraints() Constraints {
	return Constraints{FacingMode: "user", Width: 1280, Height: 720}
}

// Track is one hardware track of a stream.
type Track interface {
	Stop()
}

// Stream is an open video stream.
type Stream interface {
	Tracks() []Track
	Frame() (image.Image, error)
	// Ready is closed once stream metadata (dimensions) is known.
	Ready() <-chan struct{}
}

// Provider grants access to camera hardware.
type Provider interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Sink renders a stream. Attach returns ErrSinkNotReady when it cannot take
// the stream yet.
type Sink interface {
	Attach(s Stream) error
}

// Session owns one camera stream from Start until Stop.
type Session struct {
	provider    Provider
	constraints Constraints

	mu     sync.Mutex
	state  State
	stream Stream
}

// NewSession returns an idle session.
func NewSession(p Provider, c Constraints) *Session {
	return &Session{provider: p, constraints: c}
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether the session holds or is acquiring hardware.
func (s *Session) Active() bool {
	st := s.State()
	return st == Requesting || st == Streaming
}

// Start requests the video stream.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Requesting || s.state == Streaming {
		s.mu.Unlock()
		return ErrCameraBusy
	}
	// A Captured session still holds the stream it captured from.
	if s.stream != nil {
		stopTracks(s.stream)
		s.stream = nil
	}
	s.state = Requesting
	s.mu.Unlock()

	stream, err := s.provider.Open(ctx, s.constraints)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if stream != nil {
			stopTracks(stream)
		}
		s.state = Failed
		log.Printf("camera start failed: %v", err)
		return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}
	if s.state != Requesting {
		// Stop ran while the request was pending.
		stopTracks(stream)
		return ErrSessionStopped
	}
	s.stream = stream
	s.state = Streaming
	return nil
}

// BindSink attaches the stream to sink, retrying once after metadata arrives
// if the sink was not ready.
func (s *Session) BindSink(ctx context.Context, sink Sink) error {
	stream, err := s.current()
	if err != nil {
		return err
	}
	err = sink.Attach(stream)
	if !errors.Is(err, ErrSinkNotReady) {
		return err
	}
	select {
	case <-stream.Ready():
	case <-ctx.Done():
		return ctx.Err()
	}
	if stream, err = s.current(); err != nil {
		return err
	}
	return sink.Attach(stream)
}

// CaptureStill encodes the current frame. The stream keeps running.
func (s *Session) CaptureStill() (*photo.Photo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Streaming || s.stream == nil {
		return nil, ErrNotStreaming
	}
	frame, err := s.stream.Frame()
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	p, err := photo.FromImage(frame, "capture.jpg")
	if err != nil {
		return nil, err
	}
	s.state = Captured
	return p, nil
}

// Stop releases every track. It is safe to call in any state, any number of times.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		stopTracks(s.stream)
		s.stream = nil
	}
	if s.state == Requesting || s.state == Streaming {
		s.state = Stopped
	}
}

func (s *Session) current() (Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Streaming || s.stream == nil {
		return nil, ErrNotStreaming
	}
	return s.stream, nil
}

func stopTracks(stream Stream) {
	for _, t := range stream.Tracks() {
		t.Stop()
	}
}
