package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"fieldattend/internal/photostore"
)

// CheckIn is a validated check-in submission.
type CheckIn struct {
	EmployeeID  string
	Photo       []byte
	PhotoName   string
	ContentType string
	Latitude    float64
	Longitude   float64
	Location    string
	// ClientTime is the device wall clock; the record uses server time.
	ClientTime string
	Status     string
}

// Service enforces one check-in per employee per business date.
type Service struct {
	store  Store
	photos photostore.Store
	cache  TodayCache
	loc    *time.Location
	cutoff time.Duration
	now    func() time.Time
}

// Options configure business rules. A zero Cutoff disables late marking.
type Options struct {
	Location *time.Location
	Cutoff   time.Duration
	Cache    TodayCache
}

// ParseCutoff turns "HH:MM" into an offset from midnight.
func ParseCutoff(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("late cutoff %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// NewService creates a service backed by a store and a photo store.
func NewService(store Store, photos photostore.Store, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Cache == nil {
		opts.Cache = noCache{}
	}
	return &Service{
		store:  store,
		photos: photos,
		cache:  opts.Cache,
		loc:    opts.Location,
		cutoff: opts.Cutoff,
		now:    time.Now,
	}
}

// BusinessDate is today's date in the business timezone.
func (s *Service) BusinessDate() string {
	return s.now().In(s.loc).Format("2006-01-02")
}

// Today returns the employee's record for the current business date, or nil.
func (s *Service) Today(ctx context.Context, employeeID string) (*Record, error) {
	date := s.BusinessDate()
	if rec, ok := s.cache.Get(ctx, employeeID, date); ok {
		return rec, nil
	}
	rec, err := s.store.Today(ctx, employeeID, date)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		s.cache.Set(ctx, *rec)
	}
	return rec, nil
}

// CheckIn stores the photo and records attendance for today.
func (s *Service) CheckIn(ctx context.Context, in CheckIn) (Record, error) {
	if in.EmployeeID == "" {
		return Record{}, errors.New("employee required")
	}
	if len(in.Photo) == 0 {
		return Record{}, ErrPhotoRequired
	}
	now := s.now()
	local := now.In(s.loc)
	date := local.Format("2006-01-02")

	existing, err := s.Today(ctx, in.EmployeeID)
	if err != nil {
		return Record{}, err
	}
	if existing != nil {
		return Record{}, ErrAlreadyCheckedIn
	}

	name := fmt.Sprintf("%s_%s%s", in.EmployeeID, local.Format("20060102_150405"), photoExt(in.PhotoName, in.ContentType))
	ref, err := s.photos.Put(ctx, name, in.ContentType, in.Photo)
	if err != nil {
		return Record{}, fmt.Errorf("store photo: %w", err)
	}

	rec := Record{
		EmployeeID:     in.EmployeeID,
		AttendanceDate: date,
		CheckInTime:    now.UTC(),
		Time:           local.Format("15:04:05"),
		Status:         s.status(local, in.Status),
		Location:       in.Location,
		Latitude:       in.Latitude,
		Longitude:      in.Longitude,
		PhotoRef:       ref,
	}
	if in.ClientTime != "" && in.ClientTime != rec.Time {
		log.Printf("check-in %s: client time %s, server time %s", in.EmployeeID, in.ClientTime, rec.Time)
	}
	rec, err = s.store.Insert(ctx, rec)
	if err != nil {
		return Record{}, err
	}
	s.cache.Set(ctx, rec)
	return rec, nil
}

func (s *Service) status(local time.Time, submitted string) string {
	if s.cutoff > 0 {
		midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
		if local.After(midnight.Add(s.cutoff)) {
			return StatusLate
		}
	}
	if submitted == "" {
		return StatusPresent
	}
	return submitted
}

func photoExt(name, contentType string) string {
	if ext := strings.ToLower(filepath.Ext(name)); ext != "" {
		return ext
	}
	switch contentType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	}
	return ".jpg"
}

// Get returns a record by id.
func (s *Service) Get(ctx context.Context, id string) (Record, error) {
	return s.store.Get(ctx, id)
}

// UpdateFaceScore stores the score and drops the cached today entry so
// readers see it.
func (s *Service) UpdateFaceScore(ctx context.Context, id string, score float64) error {
	if err := s.store.UpdateFaceScore(ctx, id, score); err != nil {
		return err
	}
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	s.cache.Forget(ctx, rec.EmployeeID, rec.AttendanceDate)
	return nil
}
