package gate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"fieldattend/internal/attendance"
	"fieldattend/internal/camera"
	"fieldattend/internal/location"
	"fieldattend/internal/notify"
	"fieldattend/internal/photo"
	"fieldattend/internal/submit"
)

var (
	ErrDisposed     = errors.New("attendance form closed")
	ErrInvalidState = errors.New("action not allowed in current state")

	errStatusCheck = errors.New("status check failed")
)

// State is the screen the employee is on.
type State int

const (
	NotChecked State = iota
	Checking
	AlreadyMarked
	FormReady
	PhotoPending
	PhotoReady
	Submitting
)

func (s State) String() string {
	switch s {
	case NotChecked:
		return "not_checked"
	case Checking:
		return "checking"
	case AlreadyMarked:
		return "already_marked"
	case FormReady:
		return "form_ready"
	case PhotoPending:
		return "photo_pending"
	case PhotoReady:
		return "photo_ready"
	case Submitting:
		return "submitting"
	}
	return "unknown"
}

// StatusChecker looks up today's record. nil means not yet marked.
type StatusChecker interface {
	Today(ctx context.Context) (*attendance.Record, error)
}

type Locator interface {
	Resolve(ctx context.Context) location.Result
}

type Submitter interface {
	Submit(ctx context.Context, sub submit.Submission) (*attendance.Record, error)
}

// Camera is a live capture session. *camera.Session satisfies it.
type Camera interface {
	Start(ctx context.Context) error
	Active() bool
	CaptureStill() (*photo.Photo, error)
	Stop()
}

// View is a snapshot of the gate for rendering.
type View struct {
	State  State
	Record *attendance.Record
	Photo  *photo.Photo
	// Location is nil while it is still resolving.
	Location *location.Result
	Err      error
	// Message is the banner text for Err.
	Message string
}

// Terminal reports whether the read-only confirmation is shown.
func (v View) Terminal() bool { return v.State == AlreadyMarked }

type Options struct {
	Status    StatusChecker
	Locator   Locator
	Submitter Submitter
	Camera    Camera
	Notifier  notify.Notifier
	// EmployeeID addresses success notifications.
	EmployeeID string
	// OnChange, if set, receives every new view.
	OnChange func(View)
}

// Gate drives today's attendance flow for one mounted form.
type Gate struct {
	opts Options

	mu       sync.Mutex
	state    State
	record   *attendance.Record
	photo    *photo.Photo
	loc      *location.Result
	locDone  chan struct{}
	err      error
	mounted  bool
	disposed bool
	gen      uint64
	ctx      context.Context
	cancel   context.CancelFunc
}

func New(opts Options) *Gate {
	if opts.Notifier == nil {
		opts.Notifier = notify.Log{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Gate{opts: opts, ctx: ctx, cancel: cancel}
}

// View returns the current snapshot.
func (g *Gate) View() View {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.viewLocked()
}

func (g *Gate) viewLocked() View {
	v := View{State: g.state, Record: g.record, Photo: g.photo, Err: g.err}
	if g.loc != nil {
		loc := *g.loc
		v.Location = &loc
	}
	if g.err != nil {
		v.Message = message(g.err)
	}
	return v
}

func message(err error) string {
	switch {
	case errors.Is(err, errStatusCheck):
		return "Could not load today's attendance"
	case errors.Is(err, camera.ErrCameraUnavailable):
		return "Unable to access camera. Please upload a photo instead."
	case errors.Is(err, photo.ErrInvalidPhotoType):
		return "Please select an image file"
	case errors.Is(err, photo.ErrPhotoTooLarge):
		return "Image size should be less than 5MB"
	}
	return submit.UserMessage(err)
}

// emit must be called without g.mu held.
func (g *Gate) emit() {
	if g.opts.OnChange == nil {
		return
	}
	g.mu.Lock()
	if g.disposed {
		g.mu.Unlock()
		return
	}
	v := g.viewLocked()
	g.mu.Unlock()
	g.opts.OnChange(v)
}

// Mount checks today's status. Only the first call does anything.
func (g *Gate) Mount(ctx context.Context) error {
	g.mu.Lock()
	if g.disposed {
		g.mu.Unlock()
		return ErrDisposed
	}
	if g.mounted {
		g.mu.Unlock()
		return nil
	}
	g.mounted = true
	g.state = Checking
	gen := g.gen
	g.mu.Unlock()
	g.emit()

	rec, err := g.check(ctx)

	g.mu.Lock()
	if g.disposed || gen != g.gen {
		g.mu.Unlock()
		return ErrDisposed
	}
	switch {
	case err != nil:
		log.Printf("attendance status check failed: %v", err)
		g.state = FormReady
		g.err = fmt.Errorf("%w: %w", errStatusCheck, err)
		g.startLocationLocked()
	case rec != nil:
		g.state = AlreadyMarked
		g.record = rec
	default:
		g.state = FormReady
		g.startLocationLocked()
	}
	g.mu.Unlock()
	g.emit()
	return err
}

func (g *Gate) check(ctx context.Context) (*attendance.Record, error) {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(g.ctx, cancel)
	defer stop()
	return g.opts.Status.Today(cctx)
}

// startLocationLocked resolves the location in the background. The photo flow
// never waits on it.
func (g *Gate) startLocationLocked() {
	if g.locDone != nil || g.opts.Locator == nil {
		return
	}
	done := make(chan struct{})
	g.locDone = done
	gen := g.gen
	go func() {
		defer close(done)
		res := g.opts.Locator.Resolve(g.ctx)
		g.mu.Lock()
		if g.disposed || gen != g.gen {
			g.mu.Unlock()
			return
		}
		g.loc = &res
		g.mu.Unlock()
		g.emit()
	}()
}

// formState is where the form returns to when no action is pending.
func (g *Gate) formStateLocked() State {
	if g.photo != nil {
		return PhotoReady
	}
	return FormReady
}

func (g *Gate) formReadyLocked() error {
	if g.disposed {
		return ErrDisposed
	}
	if g.state != FormReady && g.state != PhotoReady {
		return ErrInvalidState
	}
	return nil
}

// StartCamera opens the live camera. On failure the caller should offer
// UsePhotoFile instead.
func (g *Gate) StartCamera(ctx context.Context) error {
	g.mu.Lock()
	if err := g.formReadyLocked(); err != nil {
		g.mu.Unlock()
		return err
	}
	if g.opts.Camera == nil {
		g.err = camera.ErrCameraUnavailable
		g.mu.Unlock()
		g.emit()
		return camera.ErrCameraUnavailable
	}
	if g.opts.Camera.Active() {
		g.mu.Unlock()
		return camera.ErrCameraBusy
	}
	g.state = PhotoPending
	g.err = nil
	gen := g.gen
	g.mu.Unlock()
	g.emit()

	err := g.opts.Camera.Start(ctx)

	g.mu.Lock()
	if g.disposed || gen != g.gen {
		g.mu.Unlock()
		g.opts.Camera.Stop()
		return ErrDisposed
	}
	if errors.Is(err, camera.ErrSessionStopped) {
		// CancelCamera ran while the stream was being requested.
		err = nil
		g.state = g.formStateLocked()
	} else if err != nil {
		g.state = g.formStateLocked()
		g.err = err
	}
	g.mu.Unlock()
	g.emit()
	return err
}

// CapturePhoto takes a still and releases the camera.
func (g *Gate) CapturePhoto() error {
	g.mu.Lock()
	defer g.emit()
	defer g.mu.Unlock()
	if g.disposed {
		return ErrDisposed
	}
	if g.state != PhotoPending {
		return ErrInvalidState
	}
	p, err := photo.FromCamera(g.opts.Camera)
	if err != nil {
		g.state = g.formStateLocked()
		g.err = err
		return err
	}
	g.photo = p
	g.err = nil
	g.state = PhotoReady
	return nil
}

// CancelCamera releases the camera without taking a photo.
func (g *Gate) CancelCamera() {
	if g.opts.Camera != nil {
		g.opts.Camera.Stop()
	}
	g.mu.Lock()
	if !g.disposed && g.state == PhotoPending {
		g.state = g.formStateLocked()
	}
	g.mu.Unlock()
	g.emit()
}

// UsePhotoFile validates and adopts a picked file, replacing any photo.
func (g *Gate) UsePhotoFile(name string, size int64, r io.Reader) error {
	g.mu.Lock()
	if g.disposed {
		g.mu.Unlock()
		return ErrDisposed
	}
	if g.state != FormReady && g.state != PhotoReady && g.state != PhotoPending {
		g.mu.Unlock()
		return ErrInvalidState
	}
	g.mu.Unlock()

	p, err := photo.FromFile(name, size, r)

	g.mu.Lock()
	if g.disposed {
		g.mu.Unlock()
		return ErrDisposed
	}
	if err != nil {
		g.err = err
		g.mu.Unlock()
		g.emit()
		return err
	}
	if g.state == PhotoPending && g.opts.Camera != nil {
		g.opts.Camera.Stop()
	}
	g.photo = p
	g.err = nil
	g.state = PhotoReady
	g.mu.Unlock()
	g.emit()
	return nil
}

// RemovePhoto discards the current photo.
func (g *Gate) RemovePhoto() error {
	g.mu.Lock()
	if g.disposed {
		g.mu.Unlock()
		return ErrDisposed
	}
	if g.state != PhotoReady {
		g.mu.Unlock()
		return ErrInvalidState
	}
	g.photo = nil
	g.state = FormReady
	g.mu.Unlock()
	g.emit()
	return nil
}

// Submit sends today's check-in. It waits for the background location, then
// re-checks status on success so the view becomes terminal.
func (g *Gate) Submit(ctx context.Context) (*attendance.Record, error) {
	g.mu.Lock()
	if g.disposed {
		g.mu.Unlock()
		return nil, ErrDisposed
	}
	if g.state == Submitting {
		g.mu.Unlock()
		return nil, submit.ErrSubmissionInFlight
	}
	if g.state != FormReady && g.state != PhotoReady {
		g.mu.Unlock()
		return nil, ErrInvalidState
	}
	if g.photo == nil {
		g.err = submit.ErrMissingPhoto
		g.mu.Unlock()
		g.emit()
		return nil, submit.ErrMissingPhoto
	}
	g.state = Submitting
	g.err = nil
	g.startLocationLocked()
	gen, done, p := g.gen, g.locDone, g.photo
	g.mu.Unlock()
	g.emit()

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(g.ctx, cancel)
	defer stop()

	var loc location.Result
	if done != nil {
		select {
		case <-done:
		case <-sctx.Done():
		}
	}
	g.mu.Lock()
	if g.loc != nil {
		loc = *g.loc
	} else {
		loc = location.Result{Label: location.UnavailableLabel}
	}
	g.mu.Unlock()

	rec, err := g.opts.Submitter.Submit(sctx, submit.Submission{Photo: p, Location: loc})

	g.mu.Lock()
	if g.disposed || gen != g.gen {
		g.mu.Unlock()
		return nil, ErrDisposed
	}
	if err != nil {
		g.state = PhotoReady
		g.err = err
		g.mu.Unlock()
		g.emit()
		g.notify(ctx, notify.KindError, "Attendance Failed", submit.UserMessage(err))
		return nil, err
	}
	g.photo = nil
	g.state = Checking
	g.mu.Unlock()
	g.emit()
	g.notify(ctx, notify.KindSuccess, "Attendance Marked", "Attendance marked successfully!")

	fresh, cerr := g.check(ctx)
	g.mu.Lock()
	if g.disposed || gen != g.gen {
		g.mu.Unlock()
		return rec, nil
	}
	if cerr != nil || fresh == nil {
		if cerr != nil {
			log.Printf("attendance re-check failed: %v", cerr)
		}
		fresh = rec
	}
	g.record = fresh
	g.state = AlreadyMarked
	g.mu.Unlock()
	g.emit()
	return fresh, nil
}

func (g *Gate) notify(ctx context.Context, kind, title, msg string) {
	n := notify.Notification{Kind: kind, Title: title, Message: msg, UserID: g.opts.EmployeeID}
	if err := g.opts.Notifier.Notify(ctx, n); err != nil {
		log.Printf("notify failed: %v", err)
	}
}

// Teardown closes the form. In-flight results are dropped and the camera
// is released. Safe to call more than once.
func (g *Gate) Teardown() {
	g.mu.Lock()
	if g.disposed {
		g.mu.Unlock()
		return
	}
	g.disposed = true
	g.gen++
	g.cancel()
	g.mu.Unlock()
	if g.opts.Camera != nil {
		g.opts.Camera.Stop()
	}
}
