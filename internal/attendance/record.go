package attendance

import (
	"context"
	"errors"
	"time"
)

// Status values stored on a record.
const (
	StatusPresent = "Present"
	StatusLate    = "Late"
)

var (
	ErrAlreadyCheckedIn = errors.New("already checked in today")
	ErrNotFound         = errors.New("attendance record not found")
	ErrPhotoRequired    = errors.New("photo required for attendance")
)

// Record is one employee's attendance for one business date.
type Record struct {
	ID         string `json:"id"`
	EmployeeID string `json:"employee_id"`
	// AttendanceDate is the business-local calendar date, YYYY-MM-DD.
	AttendanceDate string    `json:"attendance_date"`
	CheckInTime    time.Time `json:"check_in_time"`
	// Time is the business-local wall clock at check-in, HH:MM:SS.
	Time      string    `json:"time"`
	Status    string    `json:"status"`
	Location  string    `json:"location"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	PhotoRef  string    `json:"photo_path"`
	FaceScore *float64  `json:"face_score,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter narrows List results.
type Filter struct {
	EmployeeID string
	From, To   string
	Limit      int
	Offset     int
}

// Store persists attendance records. At most one record exists per
// (employee, attendance date); Insert reports ErrAlreadyCheckedIn otherwise.
type Store interface {
	Today(ctx context.Context, employeeID, date string) (*Record, error)
	Insert(ctx context.Context, rec Record) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
	UpdateFaceScore(ctx context.Context, id string, score float64) error
	List(ctx context.Context, f Filter) ([]Record, error)
}
