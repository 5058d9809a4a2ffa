package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS attendance_records (
	id              UUID PRIMARY KEY,
	employee_id     TEXT NOT NULL,
	attendance_date DATE NOT NULL,
	check_in_time   TIMESTAMPTZ NOT NULL,
	time            TEXT NOT NULL,
	status          TEXT NOT NULL,
	location        TEXT NOT NULL DEFAULT '',
	latitude        DOUBLE PRECISION NOT NULL DEFAULT 0,
	longitude       DOUBLE PRECISION NOT NULL DEFAULT 0,
	photo_ref       TEXT NOT NULL,
	face_score      DOUBLE PRECISION,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (employee_id, attendance_date)
)`

const selectColumns = `id, employee_id, attendance_date::text, check_in_time, time, status, location, latitude, longitude, photo_ref, face_score, created_at`

// Repository persists attendance records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates the schema if it is missing.
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var rec Record
	var score sql.NullFloat64
	err := s.Scan(&rec.ID, &rec.EmployeeID, &rec.AttendanceDate, &rec.CheckInTime, &rec.Time, &rec.Status,
		&rec.Location, &rec.Latitude, &rec.Longitude, &rec.PhotoRef, &score, &rec.CreatedAt)
	if err != nil {
		return Record{}, err
	}
	if score.Valid {
		v := score.Float64
		rec.FaceScore = &v
	}
	return rec, nil
}

// Today returns the employee's record for date, or nil when none exists.
func (r *Repository) Today(ctx context.Context, employeeID, date string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+`
		FROM attendance_records
		WHERE employee_id = $1 AND attendance_date = $2::date`, employeeID, date)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Insert writes a new record.
func (r *Repository) Insert(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CheckInTime.IsZero() {
		rec.CheckInTime = time.Now().UTC()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, employee_id, attendance_date, check_in_time, time, status, location, latitude, longitude, photo_ref)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, rec.ID, rec.EmployeeID, rec.AttendanceDate, rec.CheckInTime, rec.Time, rec.Status, rec.Location, rec.Latitude, rec.Longitude, rec.PhotoRef)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Record{}, ErrAlreadyCheckedIn
		}
		return Record{}, err
	}
	return rec, nil
}

// Get returns a single record by id.
func (r *Repository) Get(ctx context.Context, id string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM attendance_records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// UpdateFaceScore stores the face presence score computed after check-in.
func (r *Repository) UpdateFaceScore(ctx context.Context, id string, score float64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE attendance_records SET face_score = $2 WHERE id = $1`, id, score)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns records newest first.
func (r *Repository) List(ctx context.Context, f Filter) ([]Record, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	var clauses []string
	var args []any
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.EmployeeID != "" {
		add("employee_id = $%d", f.EmployeeID)
	}
	if f.From != "" {
		add("attendance_date >= $%d::date", f.From)
	}
	if f.To != "" {
		add("attendance_date <= $%d::date", f.To)
	}
	query := `SELECT ` + selectColumns + ` FROM attendance_records`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY attendance_date DESC, check_in_time DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
