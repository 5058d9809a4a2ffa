package submit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strconv"
	"sync/atomic"
	"time"

	"fieldattend/internal/attendance"
	"fieldattend/internal/attendanceclient"
	"fieldattend/internal/location"
	"fieldattend/internal/photo"
)

// GenericRetryMessage is shown when the server gave no usable message.
const GenericRetryMessage = "Failed to mark attendance. Please try again."

var (
	ErrMissingPhoto       = errors.New("please capture or upload a photo")
	ErrSubmissionInFlight = errors.New("submission already in progress")
	ErrSubmissionRejected = errors.New("submission rejected")
	ErrSubmissionNetwork  = errors.New("submission network error")
)

// RejectedError is a server refusal. Message is shown to the user as is.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("submission rejected (%d): %s", e.StatusCode, e.Message)
}

func (e *RejectedError) Is(target error) bool { return target == ErrSubmissionRejected }

// UserMessage is the banner text for a failed submission.
func UserMessage(err error) string {
	var rej *RejectedError
	if errors.As(err, &rej) && rej.Message != "" {
		return rej.Message
	}
	if errors.Is(err, ErrMissingPhoto) {
		return "Please capture or upload a photo"
	}
	return GenericRetryMessage
}

// API is the create-attendance endpoint.
type API interface {
	CheckIn(ctx context.Context, contentType string, body io.Reader) (*attendance.Record, error)
}

// Submission combines the captured photo and the resolved location.
type Submission struct {
	Photo    *photo.Photo
	Location location.Result
}

// Submitter sends at most one check-in at a time.
type Submitter struct {
	api      API
	inFlight atomic.Bool
	now      func() time.Time
}

func New(api API) *Submitter {
	return &Submitter{api: api, now: time.Now}
}

// InFlight reports whether a submission is being sent.
func (s *Submitter) InFlight() bool { return s.inFlight.Load() }

// Submit sends the check-in once. Nothing is retried.
func (s *Submitter) Submit(ctx context.Context, sub Submission) (*attendance.Record, error) {
	if sub.Photo == nil || len(sub.Photo.Data) == 0 {
		return nil, ErrMissingPhoto
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrSubmissionInFlight
	}
	defer s.inFlight.Store(false)

	contentType, body, err := Encode(sub, s.now())
	if err != nil {
		return nil, err
	}
	rec, err := s.api.CheckIn(ctx, contentType, body)
	if err == nil {
		return rec, nil
	}

	var se *attendanceclient.StatusError
	switch {
	case errors.As(err, &se):
		return nil, &RejectedError{StatusCode: se.StatusCode, Message: se.Message}
	case errors.Is(err, context.Canceled):
		return nil, err
	default:
		return nil, fmt.Errorf("%w: %w", ErrSubmissionNetwork, err)
	}
}

// Encode builds the multipart body for a check-in taken at t.
func Encode(sub Submission, t time.Time) (string, *bytes.Buffer, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="photo"; filename=%q`, sub.Photo.Filename()))
	mt := sub.Photo.MIMEType
	if mt == "" {
		mt = "image/jpeg"
	}
	h.Set("Content-Type", mt)
	part, err := w.CreatePart(h)
	if err != nil {
		return "", nil, err
	}
	if _, err := part.Write(sub.Photo.Data); err != nil {
		return "", nil, err
	}

	label := sub.Location.Label
	if label == "" {
		label = location.UnavailableLabel
	}
	fields := []struct{ name, value string }{
		{"latitude", strconv.FormatFloat(sub.Location.Fix.Latitude, 'f', -1, 64)},
		{"longitude", strconv.FormatFloat(sub.Location.Fix.Longitude, 'f', -1, 64)},
		{"location", label},
		{"time", t.Format("15:04:05")},
		{"attendance_status", attendance.StatusPresent},
	}
	for _, f := range fields {
		if err := w.WriteField(f.name, f.value); err != nil {
			return "", nil, err
		}
	}
	if err := w.Close(); err != nil {
		return "", nil, err
	}
	return w.FormDataContentType(), &buf, nil
}
