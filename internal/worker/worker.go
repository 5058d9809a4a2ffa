package worker

import (
	"context"
	"errors"
	"fmt"
	"log"

	"fieldattend/internal/attendance"
	"fieldattend/internal/faceclient"
	"fieldattend/internal/metrics"
	"fieldattend/internal/notify"
	"fieldattend/internal/queue"
)

// FaceDetector scores face presence in a stored photo.
type FaceDetector interface {
	Detect(ctx context.Context, ref string) (faceclient.Detection, error)
}

// Records is what the processor reads and updates. *attendance.Service
// keeps the today cache in step; a bare Store works where there is no cache.
type Records interface {
	Get(ctx context.Context, id string) (attendance.Record, error)
	UpdateFaceScore(ctx context.Context, id string, score float64) error
}

// Processor handles check-in events after the API has accepted them.
type Processor struct {
	store    Records
	faces    FaceDetector
	notifier notify.Notifier
}

// New creates a processor. faces may be nil to skip scoring.
func New(store Records, faces FaceDetector, notifier notify.Notifier) *Processor {
	if notifier == nil {
		notifier = notify.Log{}
	}
	return &Processor{store: store, faces: faces, notifier: notifier}
}

// Run consumes q until ctx ends or the queue closes.
func (p *Processor) Run(ctx context.Context, q queue.Queue) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume init failed: %w", err)
	}
	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != queue.TypeCheckIn {
			continue
		}
		evt, err := msg.CheckIn()
		if err != nil {
			log.Printf("bad checkin message: %v", err)
			continue
		}
		if err := p.Handle(ctx, evt); err != nil {
			log.Printf("event %s: %v", evt.RecordID, err)
		}
	}
	log.Println("worker stopped")
	return nil
}

// Handle scores the photo and raises a late alert when needed.
func (p *Processor) Handle(ctx context.Context, evt queue.CheckInEvent) error {
	rec, err := p.store.Get(ctx, evt.RecordID)
	if err != nil {
		return fmt.Errorf("fetch record: %w", err)
	}

	var errs []error
	if p.faces != nil {
		det, err := p.faces.Detect(ctx, rec.PhotoRef)
		switch {
		case errors.Is(err, faceclient.ErrNoFace):
			metrics.FaceScores.WithLabelValues("no_face").Inc()
			if uerr := p.store.UpdateFaceScore(ctx, rec.ID, 0); uerr != nil {
				errs = append(errs, uerr)
			}
		case err != nil:
			metrics.FaceScores.WithLabelValues("error").Inc()
			errs = append(errs, fmt.Errorf("face detect: %w", err))
		default:
			metrics.FaceScores.WithLabelValues("scored").Inc()
			log.Printf("record %s: %d face(s), score %.2f", rec.ID, det.FacesDetected, det.Score)
			if uerr := p.store.UpdateFaceScore(ctx, rec.ID, det.Score); uerr != nil {
				errs = append(errs, uerr)
			}
		}
	}

	if rec.Status == attendance.StatusLate {
		err := p.notifier.Notify(ctx, notify.Notification{
			Kind:    notify.KindAlert,
			Title:   "Late Attendance: " + rec.EmployeeID,
			Message: fmt.Sprintf("Checked in at %s at %s", rec.Time, rec.Location),
			Role:    "admin",
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("late alert: %w", err))
		}
	}
	return errors.Join(errs...)
}
